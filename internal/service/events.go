package service

import (
	"context"

	"github.com/ayo6706/custody-ledger/internal/events"
	"go.uber.org/zap"
)

// outbox collects events raised inside a database transaction so they are
// published only after it commits.
type outbox struct {
	pending []pendingEvent
}

type pendingEvent struct {
	stream string
	event  events.Event
}

func (o *outbox) add(stream, eventType string, payload map[string]any) {
	o.pending = append(o.pending, pendingEvent{stream: stream, event: events.New(eventType, payload)})
}

func (o *outbox) reset() {
	o.pending = o.pending[:0]
}

// flush publishes every collected event. Failures are logged; the ledger
// state they describe is already committed.
func (o *outbox) flush(ctx context.Context, pub events.Publisher) {
	if pub == nil {
		o.reset()
		return
	}
	for _, p := range o.pending {
		if err := pub.Publish(ctx, p.stream, p.event); err != nil {
			zap.L().Warn("event publish failed",
				zap.String("stream", p.stream),
				zap.String("event_type", p.event.Type),
				zap.Error(err))
		}
	}
	o.reset()
}
