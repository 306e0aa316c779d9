package reporters

import (
	"context"
	"errors"

	"github.com/armorclaw/stderr/pkg/configtree"
	"github.com/armorclaw/stderr/pkg/eventbus"
	"github.com/armorclaw/stderr/pkg/mvc"
	"github.com/armorclaw/stderr/pkg/route"
)

// StreamReporter publishes handled errors to an event bus for live viewers.
//
// Attributes: messages ("false" omits error messages from events).
type StreamReporter struct {
	bus      *eventbus.Bus
	messages bool
}

// NewStreamReporter builds a StreamReporter publishing to bus.
func NewStreamReporter(bus *eventbus.Bus, attrs configtree.Attributes) (*StreamReporter, error) {
	if bus == nil {
		return nil, errors.New("no event bus configured")
	}
	return &StreamReporter{bus: bus, messages: attrs.Get("messages") != "false"}, nil
}

func (r *StreamReporter) Report(_ context.Context, req *mvc.Request, errorType route.ErrorType) error {
	ev := &eventbus.Event{
		RequestID:  req.ID,
		Class:      req.ClassName,
		ErrorType:  errorType,
		HTTPStatus: req.Route.HTTPStatus,
		Controller: req.Route.Controller,
		Time:       req.Time,
	}
	if r.messages {
		ev.Message = req.Message()
	}
	r.bus.Publish(ev)
	return nil
}
