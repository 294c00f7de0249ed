// Package backend is the HTTP client for the local analysis service: risk
// scoring, account lookup, settings, persona retraining, smart sort and the
// persisted action history.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/mailsentry/horosafe"
)

// Item is the scoring request body.
type Item struct {
	Subject string `json:"subject"`
	Sender  string `json:"sender"`
	Date    string `json:"date"`
	Content string `json:"content"`
}

// Settings is the per-account settings bag.
type Settings struct {
	HeadlessSelenium bool    `json:"headless_selenium"`
	AutoSend         bool    `json:"auto_send"`
	AutoSpamRecovery bool    `json:"auto_spam_recovery"`
	PhoneNumber      *string `json:"phone_number"`
	Email            string  `json:"email,omitempty"`
}

// Action is one persisted action history entry.
type Action struct {
	Action    string    `json:"action"`
	CreatedAt time.Time `json:"created_at"`
}

// timestamp layouts the backend is known to emit; naive times are UTC.
var actionLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05",
}

// UnmarshalJSON accepts RFC 3339 and naive ISO 8601 timestamps.
func (a *Action) UnmarshalJSON(b []byte) error {
	var raw struct {
		Action    string `json:"action"`
		CreatedAt string `json:"created_at"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	a.Action = raw.Action
	a.CreatedAt = time.Time{}
	if raw.CreatedAt == "" {
		return nil
	}
	for _, layout := range actionLayouts {
		if t, err := time.Parse(layout, raw.CreatedAt); err == nil {
			a.CreatedAt = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("backend: action created_at %q: unrecognised layout", raw.CreatedAt)
}

// AutomateResult is the smart sort outcome.
type AutomateResult struct {
	Status  string `json:"status"`
	Refresh bool   `json:"refresh"`
	Detail  string `json:"detail"`
}

// OK reports whether the run succeeded.
func (r AutomateResult) OK() bool { return r.Status == "success" }

// Client talks to the backend.
type Client struct {
	base    *url.URL
	http    *http.Client
	maxBody int64
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client. Per-call deadlines come
// from the caller's context.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithMaxBody caps response reads. Default: horosafe.MaxResponseBody.
func WithMaxBody(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client for baseURL. Unless allowRemote is set, baseURL
// must be on the loopback interface: scoring requests carry email content.
func New(baseURL string, allowRemote bool, opts ...Option) (*Client, error) {
	if err := horosafe.ValidateEndpoint(baseURL, allowRemote, "http", "https"); err != nil {
		return nil, fmt.Errorf("backend: %w", err)
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("backend: parse base URL: %w", err)
	}
	c := &Client{
		base:    u,
		http:    &http.Client{},
		maxBody: horosafe.MaxResponseBody,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// AnalyzePhishing requests a risk score for item. The score is rounded and
// clamped to [0,100]. Errors are *ErrScoringTransport or
// *ErrScoringRejected; a cancelled ctx surfaces as a transport error
// wrapping ctx.Err().
func (c *Client) AnalyzePhishing(ctx context.Context, item Item) (int, error) {
	body, err := json.Marshal(item)
	if err != nil {
		return 0, &ErrScoringTransport{Cause: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/analyze-phishing", nil), bytes.NewReader(body))
	if err != nil {
		return 0, &ErrScoringTransport{Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, &ErrScoringTransport{Cause: err}
	}
	defer resp.Body.Close()

	data, err := horosafe.LimitedReadAll(resp.Body, c.maxBody)
	if err != nil {
		return 0, &ErrScoringTransport{Status: resp.StatusCode, Cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &ErrScoringTransport{Status: resp.StatusCode, Cause: errors.New(detailOf(data))}
	}

	var out struct {
		Status string   `json:"status"`
		Score  *float64 `json:"score"`
		Detail string   `json:"detail"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return 0, &ErrScoringTransport{Status: resp.StatusCode, Cause: fmt.Errorf("decode: %w", err)}
	}
	if out.Status != "success" {
		return 0, &ErrScoringRejected{Status: out.Status, Detail: out.Detail}
	}
	if out.Score == nil || math.IsNaN(*out.Score) {
		return 0, &ErrScoringRejected{Status: out.Status, Detail: "missing score"}
	}
	return clampScore(*out.Score), nil
}

func clampScore(f float64) int {
	v := math.Round(f)
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int(v)
}

// Email returns the signed-in account address.
func (c *Client) Email(ctx context.Context) (string, error) {
	var out struct {
		Email string `json:"email"`
	}
	if err := c.getJSON(ctx, "/email", nil, &out); err != nil {
		return "", err
	}
	if out.Email == "" {
		return "", fmt.Errorf("backend: /email: could not retrieve email address")
	}
	return out.Email, nil
}

// Settings fetches the settings of account email.
func (c *Client) Settings(ctx context.Context, email string) (Settings, error) {
	var out struct {
		Settings Settings `json:"settings"`
	}
	err := c.getJSON(ctx, "/settings", url.Values{"email": {email}}, &out)
	return out.Settings, err
}

// SaveSettings stores s. s.Email must be set.
func (c *Client) SaveSettings(ctx context.Context, s Settings) error {
	if s.Email == "" {
		return fmt.Errorf("backend: /settings: email is required")
	}
	return c.sendJSON(ctx, http.MethodPut, "/settings", s, nil)
}

// Automate runs the smart sort automation. A non-success status is
// returned in the result, not as an error.
func (c *Client) Automate(ctx context.Context) (AutomateResult, error) {
	var out AutomateResult
	err := c.getJSON(ctx, "/gmail/automate", nil, &out)
	return out, err
}

// Retrain rebuilds the writing persona and returns its summary.
func (c *Client) Retrain(ctx context.Context) (string, error) {
	var out struct {
		PersonaSummary string `json:"PersonaSummary"`
	}
	err := c.getJSON(ctx, "/index", nil, &out)
	return out.PersonaSummary, err
}

// Actions returns the persisted action history, newest first.
func (c *Client) Actions(ctx context.Context) ([]Action, error) {
	var out struct {
		Actions []Action `json:"actions"`
	}
	err := c.getJSON(ctx, "/get-actions", nil, &out)
	return out.Actions, err
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path, q), nil)
	if err != nil {
		return fmt.Errorf("backend: %s: %w", path, err)
	}
	return c.do(req, path, out)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("backend: %s: marshal: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, nil), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("backend: %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

func (c *Client) do(req *http.Request, path string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s: %w", path, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("backend: response", "method", req.Method, "path", path, "status", resp.StatusCode)

	data, err := horosafe.LimitedReadAll(resp.Body, c.maxBody)
	if err != nil {
		return fmt.Errorf("backend: %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ErrStatus{Endpoint: path, Code: resp.StatusCode, Detail: detailOf(data)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("backend: %s: decode: %w", path, err)
	}
	return nil
}

// detailOf extracts the "detail" field of an error body, else a bounded
// prefix of the raw body.
func detailOf(data []byte) string {
	var e struct {
		Detail any `json:"detail"`
	}
	if json.Unmarshal(data, &e) == nil && e.Detail != nil {
		if s, ok := e.Detail.(string); ok {
			return s
		}
		if b, err := json.Marshal(e.Detail); err == nil {
			return string(b)
		}
	}
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		s = s[:200]
	}
	if s == "" {
		return "empty response"
	}
	return s
}
