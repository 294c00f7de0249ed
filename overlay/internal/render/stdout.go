package render

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/hazyhaar/mailsentry/overlay/internal/animate"
)

// Stdout writes one JSON line per update to w (default os.Stdout).
type Stdout struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewStdout creates a Stdout sink.
func NewStdout(w io.Writer) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	return &Stdout{enc: json.NewEncoder(w)}
}

func (s *Stdout) Score(_ context.Context, f animate.Frame) error { return s.write("score", f) }
func (s *Stdout) Advise(_ context.Context, a Advisory) error     { return s.write("advisory", a) }
func (s *Stdout) Message(_ context.Context, m Message) error     { return s.write("message", m) }
func (s *Stdout) Panel(_ context.Context, p Panel) error         { return s.write("panel", p) }
func (s *Stdout) Clear(_ context.Context) error                  { return s.write("clear", nil) }
func (s *Stdout) Close() error                                   { return nil }

func (s *Stdout) write(typ string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(envelope{Type: typ, Data: data})
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}
