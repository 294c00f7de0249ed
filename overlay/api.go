package overlay

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/mailsentry/kit"
)

// Handler serves the local status API:
//
//	GET  /health
//	GET  /state
//	GET  /actions
//	GET  /events?component=&operation=&limit=
//	POST /retrain
//	POST /automate
//	GET  /metrics
//	     /mcp      (MCP streamable HTTP)
func (o *Overlay) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		kit.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/state", kit.HTTPHandler(o.stateEndpoint(), nil))
	r.Get("/actions", kit.HTTPHandler(o.actionsEndpoint(), nil))
	r.Get("/events", kit.HTTPHandler(withStatus(o.eventsEndpoint()), decodeEvents))
	r.Post("/retrain", kit.HTTPHandler(withStatus(o.retrainEndpoint()), nil))
	r.Post("/automate", kit.HTTPHandler(withStatus(o.smartSortEndpoint()), nil))
	r.Method(http.MethodGet, "/metrics", o.metrics.Handler())

	srv := o.MCPServer()
	r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil))
	return r
}

func decodeEvents(r *http.Request) (any, error) {
	q := r.URL.Query()
	req := &eventsRequest{Component: q.Get("component"), Operation: q.Get("operation")}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return nil, errors.New("limit must be a non-negative integer")
		}
		req.Limit = n
	}
	return req, nil
}

// withStatus maps overlay errors to HTTP status codes.
func withStatus(ep kit.Endpoint) kit.Endpoint {
	return func(ctx context.Context, req any) (any, error) {
		resp, err := ep(ctx, req)
		switch {
		case err == nil:
			return resp, nil
		case errors.Is(err, ErrNoJournal):
			return nil, &kit.HTTPError{Code: http.StatusNotFound, Err: err}
		default:
			return nil, &kit.HTTPError{Code: http.StatusBadGateway, Err: err}
		}
	}
}
