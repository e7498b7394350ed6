package events

import (
	"context"
	"log/slog"
	"time"
)

const defaultBuffer = 256

// Publisher queues events for the worker. Emit never blocks the caller: when
// the buffer is full the event is dropped and logged.
type Publisher struct {
	inbox  chan Event
	logger *slog.Logger
	now    func() time.Time
}

// NewPublisher returns a publisher with the given buffer size.
func NewPublisher(buffer int, logger *slog.Logger) *Publisher {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		inbox:  make(chan Event, buffer),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Emit queues ev, stamping OccurredAt when unset.
func (p *Publisher) Emit(ctx context.Context, ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = p.now()
	}
	select {
	case p.inbox <- ev:
	default:
		p.logger.WarnContext(ctx, "event buffer full, dropping event",
			"type", string(ev.Type),
			"split_payment_id", ev.SplitPaymentID,
		)
	}
}

// Inbox is the channel the worker drains.
func (p *Publisher) Inbox() <-chan Event {
	return p.inbox
}
