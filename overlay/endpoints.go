package overlay

import (
	"context"

	"github.com/hazyhaar/mailsentry/journal"
	"github.com/hazyhaar/mailsentry/kit"
	"github.com/hazyhaar/mailsentry/overlay/internal/actionlog"
)

type eventsRequest struct {
	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

type actionsResponse struct {
	Actions []actionlog.Entry `json:"actions"`
}

type eventsResponse struct {
	Events []journal.Entry `json:"events"`
}

type retrainResponse struct {
	PersonaSummary string `json:"persona_summary"`
}

// endpoint wraps an operation with request logging.
func (o *Overlay) endpoint(name string, ep kit.Endpoint) kit.Endpoint {
	return kit.Logging(o.logger, name)(ep)
}

func (o *Overlay) stateEndpoint() kit.Endpoint {
	return o.endpoint("state", func(ctx context.Context, _ any) (any, error) {
		return o.State(ctx)
	})
}

func (o *Overlay) actionsEndpoint() kit.Endpoint {
	return o.endpoint("actions", func(context.Context, any) (any, error) {
		return actionsResponse{Actions: o.Actions()}, nil
	})
}

func (o *Overlay) eventsEndpoint() kit.Endpoint {
	return o.endpoint("events", func(ctx context.Context, req any) (any, error) {
		r, _ := req.(*eventsRequest)
		if r == nil {
			r = &eventsRequest{}
		}
		events, err := o.Events(ctx, journal.Filter{Component: r.Component, Operation: r.Operation, Limit: r.Limit})
		if err != nil {
			return nil, err
		}
		if events == nil {
			events = []journal.Entry{}
		}
		return eventsResponse{Events: events}, nil
	})
}

func (o *Overlay) retrainEndpoint() kit.Endpoint {
	return o.endpoint("retrain", func(ctx context.Context, _ any) (any, error) {
		summary, err := o.Retrain(ctx)
		if err != nil {
			return nil, err
		}
		return retrainResponse{PersonaSummary: summary}, nil
	})
}

func (o *Overlay) smartSortEndpoint() kit.Endpoint {
	return o.endpoint("smart_sort", func(ctx context.Context, _ any) (any, error) {
		return o.SmartSort(ctx)
	})
}
