package kit

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// HTTPError carries a status code out of an endpoint.
type HTTPError struct {
	Code int
	Err  error
}

func (e *HTTPError) Error() string { return e.Err.Error() }
func (e *HTTPError) Unwrap() error { return e.Err }

// HTTPHandler serves endpoint over HTTP. decode builds the request from
// the incoming call; a nil decode passes a nil request. The response is
// written as JSON.
func HTTPHandler(endpoint Endpoint, decode func(*http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req any
		if decode != nil {
			var err error
			if req, err = decode(r); err != nil {
				WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
				return
			}
		}
		ctx := WithTransport(r.Context(), "http")
		if id := r.Header.Get("X-Request-ID"); id != "" {
			ctx = WithRequestID(ctx, id)
		}
		resp, err := endpoint(ctx, req)
		if err != nil {
			code := http.StatusInternalServerError
			var he *HTTPError
			if errors.As(err, &he) {
				code = he.Code
			}
			WriteJSON(w, code, map[string]string{"error": err.Error()})
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("kit: write response", "error", err)
	}
}
