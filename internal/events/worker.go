package events

import (
	"context"
	"log/slog"
)

// Sink delivers one event somewhere durable.
type Sink interface {
	Write(ctx context.Context, ev Event) error
}

// Worker drains a publisher's inbox into a sink. Sink failures are logged and
// the event is dropped; the worker keeps running.
type Worker struct {
	sink   Sink
	inbox  <-chan Event
	logger *slog.Logger
}

func NewWorker(sink Sink, inbox <-chan Event, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{sink: sink, inbox: inbox, logger: logger}
}

// Run blocks until ctx is cancelled, then delivers whatever is still queued.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return ctx.Err()
		case ev := <-w.inbox:
			w.write(ctx, ev)
		}
	}
}

func (w *Worker) drain() {
	// ctx is already done; use a fresh one so the last events still go out.
	ctx := context.Background()
	for {
		select {
		case ev := <-w.inbox:
			w.write(ctx, ev)
		default:
			return
		}
	}
}

func (w *Worker) write(ctx context.Context, ev Event) {
	if err := w.sink.Write(ctx, ev); err != nil {
		w.logger.ErrorContext(ctx, "failed to deliver event",
			"type", string(ev.Type),
			"split_payment_id", ev.SplitPaymentID,
			"error", err,
		)
	}
}
