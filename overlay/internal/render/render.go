// Package render defines where the overlay's visible state goes: the badge
// and advisory next to the email, the chat feed, and the action panel.
// Implementations include a JSON-lines writer, an HTTP webhook, a fan-out
// router and the host page itself.
package render

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/mailsentry/overlay/internal/actionlog"
	"github.com/hazyhaar/mailsentry/overlay/internal/animate"
)

// ErrPlacement is returned by a sink when the element an overlay artifact
// attaches to is missing. The artifact is skipped; the pipeline goes on.
var ErrPlacement = errors.New("render: placement target not found")

// Message kinds in the chat feed. Push events keep their backend type;
// unknown backend types are rendered as KindInfo.
const (
	KindAssistant = "assistant"
	KindInfo      = "info"
	KindSuccess   = "success"
	KindError     = "error"
	KindWarning   = "warning"
)

// Message is one chat feed entry.
type Message struct {
	Kind    string `json:"kind"`
	Text    string `json:"text"`
	Tooltip string `json:"tooltip,omitempty"`
}

// Advisory is the cautionary notice shown for high-risk scores.
type Advisory struct {
	Score int    `json:"score"`
	Text  string `json:"text"`
}

// NewAdvisory builds the notice for score.
func NewAdvisory(score int) Advisory {
	return Advisory{
		Score: score,
		Text: fmt.Sprintf("⚠️ Warning: This email has a high phishing risk score of %d%%. "+
			"Please be cautious and verify the sender's identity before taking any action.", score),
	}
}

// Panel is the action panel state.
type Panel struct {
	Visible bool              `json:"visible"`
	Entries []actionlog.Entry `json:"entries"`
}

// Sink receives rendering updates. Calls for one overlay are serialised.
type Sink interface {
	Score(ctx context.Context, f animate.Frame) error
	Advise(ctx context.Context, a Advisory) error
	Message(ctx context.Context, m Message) error
	Panel(ctx context.Context, p Panel) error
	// Clear hides every item-specific artifact (badge and advisory).
	Clear(ctx context.Context) error
	Close() error
}
