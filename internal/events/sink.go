package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Producer writes keyed records; *kafka.Producer satisfies it.
type Producer interface {
	Produce(ctx context.Context, key string, value []byte, headers map[string]string) error
}

// KafkaSink writes events as JSON records keyed by split payment id so every
// event of one payment lands on the same partition.
type KafkaSink struct {
	producer Producer
}

func NewKafkaSink(p Producer) *KafkaSink {
	return &KafkaSink{producer: p}
}

func (s *KafkaSink) Write(ctx context.Context, ev Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return s.producer.Produce(ctx, ev.SplitPaymentID, value, map[string]string{
		"event-type": string(ev.Type),
	})
}

// LogSink logs events. Used when no broker is configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Write(ctx context.Context, ev Event) error {
	s.logger.InfoContext(ctx, "lifecycle event",
		"type", string(ev.Type),
		"split_payment_id", ev.SplitPaymentID,
		"status", ev.Status,
	)
	return nil
}
