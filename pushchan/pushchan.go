// Package pushchan keeps a websocket to the backend's status endpoint open
// and delivers its typed messages in arrival order.
//
// A dropped or refused connection is retried after a fixed delay, forever,
// until the caller's context ends. The channel is one-way: the overlay
// never writes to it.
package pushchan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// ErrDisconnected wraps the cause of every transition to StateClosed.
var ErrDisconnected = errors.New("pushchan: disconnected")

// State of the channel.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Message types. Anything else is delivered as TypeInfo.
const (
	TypeInfo    = "info"
	TypeSuccess = "success"
	TypeError   = "error"
	TypeWarning = "warning"
)

// Event is one pushed message.
type Event struct {
	Type     string    `json:"type"`
	Message  string    `json:"message"`
	Received time.Time `json:"received"`
}

// Channel is a reconnecting push subscription.
type Channel struct {
	url         string
	delay       time.Duration
	dialTimeout time.Duration
	client      *http.Client
	logger      *slog.Logger
	now         func() time.Time

	mu        sync.Mutex
	state     State
	attempts  int
	delivered int64
	nextID    int
	subs      map[int]func(Event)
	stateSubs map[int]func(State, error)
}

// Option configures a Channel.
type Option func(*Channel)

// WithReconnectDelay sets the fixed delay between attempts. Default: 5s.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.delay = d
		}
	}
}

// WithDialTimeout bounds the websocket handshake. Default: 10s.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// WithHTTPClient sets the client used for the handshake.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Channel) { c.client = hc }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) { c.logger = l }
}

// New creates a Channel for url. Call Run to connect.
func New(url string, opts ...Option) *Channel {
	c := &Channel{
		url:         url,
		delay:       5 * time.Second,
		dialTimeout: 10 * time.Second,
		logger:      slog.Default(),
		now:         time.Now,
		state:       StateClosed,
		subs:        make(map[int]func(Event)),
		stateSubs:   make(map[int]func(State, error)),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Subscribe registers fn for every event. fn runs on the Run goroutine and
// must not block for long. The returned function unsubscribes.
func (c *Channel) Subscribe(fn func(Event)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// OnState registers fn for every state transition. err is non-nil (and
// wraps ErrDisconnected) on transitions to StateClosed caused by a failure.
func (c *Channel) OnState(fn func(s State, err error)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.stateSubs[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.stateSubs, id)
		c.mu.Unlock()
	}
}

// State returns the current state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the number of connection attempts made so far.
func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Delivered returns the number of events delivered so far.
func (c *Channel) Delivered() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delivered
}

// Run connects and keeps reconnecting until ctx is done. It returns
// ctx.Err().
func (c *Channel) Run(ctx context.Context) error {
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			c.setState(StateClosed, nil)
			return ctx.Err()
		}
		c.setState(StateClosed, fmt.Errorf("%w: %v", ErrDisconnected, err))
		c.logger.Warn("pushchan: disconnected, will retry", "url", c.url, "delay", c.delay, "error", err)

		t := time.NewTimer(c.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// session runs one connection from dial to failure.
func (c *Channel) session(ctx context.Context) error {
	c.mu.Lock()
	c.attempts++
	attempt := c.attempts
	c.mu.Unlock()
	c.setState(StateConnecting, nil)

	dctx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	conn, _, err := websocket.Dial(dctx, c.url, &websocket.DialOptions{HTTPClient: c.client})
	cancel()
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()

	c.setState(StateOpen, nil)
	c.logger.Info("pushchan: connected", "url", c.url, "attempt", attempt)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				conn.Close(websocket.StatusNormalClosure, "shutting down")
			}
			return fmt.Errorf("read: %w", err)
		}
		if typ != websocket.MessageText {
			continue
		}
		ev, ok := decode(data)
		if !ok {
			c.logger.Debug("pushchan: malformed message skipped", "size", len(data))
			continue
		}
		ev.Received = c.now()
		c.deliver(ev)
	}
}

func decode(data []byte) (Event, bool) {
	var raw struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{}, false
	}
	switch raw.Type {
	case TypeSuccess, TypeError, TypeWarning, TypeInfo:
	default:
		raw.Type = TypeInfo
	}
	return Event{Type: raw.Type, Message: raw.Message}, true
}

func (c *Channel) deliver(ev Event) {
	c.mu.Lock()
	c.delivered++
	subs := make([]func(Event), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (c *Channel) setState(s State, err error) {
	c.mu.Lock()
	if c.state == s && err == nil {
		c.mu.Unlock()
		return
	}
	c.state = s
	subs := make([]func(State, error), 0, len(c.stateSubs))
	for _, fn := range c.stateSubs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()
	for _, fn := range subs {
		fn(s, err)
	}
}
