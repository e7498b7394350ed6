// Package events publishes split-payment lifecycle events. Domain code emits
// into a buffered publisher; a background worker drains it into a sink.
package events

import "time"

// Type names a lifecycle transition.
type Type string

const (
	TypeInitiated        Type = "split_payment.initiated"
	TypeInitiationFailed Type = "split_payment.initiation_failed"
	TypeCompleted        Type = "split_payment.completed"
	TypePartial          Type = "split_payment.partial"
	TypeFailed           Type = "split_payment.failed"
	TypeGroupCheckout    Type = "group_checkout.created"
)

// Event is transport-agnostic so sinks can fan out.
type Event struct {
	Type           Type           `json:"type"`
	SplitPaymentID string         `json:"splitPaymentId,omitempty"`
	Status         string         `json:"status,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Data           map[string]any `json:"data,omitempty"`
}
