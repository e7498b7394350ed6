package models

import (
	"encoding/json"
	"fmt"
	"time"

	id "splitpay/pkg/domain"
)

const (
	kindSucceeded = "succeeded"
	kindFailed    = "failed"
	kindCreated   = "created"
	kindErrored   = "errored"
)

// document is the persisted form of a SplitPayment. Outcome variants carry a
// kind tag so they decode back into the right type.
type document struct {
	ID               id.SplitPaymentID `json:"id"`
	SenderWallet     string            `json:"senderWallet"`
	Recipients       []Recipient       `json:"recipients"`
	TotalAmount      TotalAmount       `json:"totalAmount"`
	Status           Status            `json:"status"`
	Reservations     []taggedOutcome   `json:"reservations,omitempty"`
	Quotes           []QuoteRecord     `json:"quotes,omitempty"`
	Executions       []taggedOutcome   `json:"executions,omitempty"`
	Continuation     *Continuation     `json:"continuation,omitempty"`
	RedirectURL      string            `json:"redirectUrl,omitempty"`
	TotalDebitAmount *Money            `json:"totalDebitAmount,omitempty"`
	InteractRef      string            `json:"interactRef,omitempty"`
	FailureReason    string            `json:"failureReason,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
	CompletedAt      *time.Time        `json:"completedAt,omitempty"`
	FailedAt         *time.Time        `json:"failedAt,omitempty"`
}

type taggedOutcome struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func tag(kind string, v any) (taggedOutcome, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return taggedOutcome{}, err
	}
	return taggedOutcome{Kind: kind, Data: raw}, nil
}

// MarshalJSON encodes the full aggregate, including the continuation.
// It is meant for storage, not for API responses.
func (sp *SplitPayment) MarshalJSON() ([]byte, error) {
	doc := document{
		ID:               sp.ID,
		SenderWallet:     sp.SenderWallet,
		Recipients:       sp.Recipients,
		TotalAmount:      sp.TotalAmount,
		Status:           sp.Status,
		Quotes:           sp.Quotes,
		Continuation:     sp.Continuation,
		RedirectURL:      sp.RedirectURL,
		TotalDebitAmount: sp.TotalDebitAmount,
		InteractRef:      sp.InteractRef,
		FailureReason:    sp.FailureReason,
		CreatedAt:        sp.CreatedAt,
		UpdatedAt:        sp.UpdatedAt,
		CompletedAt:      sp.CompletedAt,
		FailedAt:         sp.FailedAt,
	}
	for _, r := range sp.Reservations {
		var (
			t   taggedOutcome
			err error
		)
		switch v := r.(type) {
		case ReservationSucceeded:
			t, err = tag(kindSucceeded, v)
		case ReservationFailed:
			t, err = tag(kindFailed, v)
		default:
			return nil, fmt.Errorf("unknown reservation outcome %T", r)
		}
		if err != nil {
			return nil, err
		}
		doc.Reservations = append(doc.Reservations, t)
	}
	for _, e := range sp.Executions {
		var (
			t   taggedOutcome
			err error
		)
		switch v := e.(type) {
		case ExecutionCreated:
			t, err = tag(kindCreated, v)
		case ExecutionErrored:
			t, err = tag(kindErrored, v)
		default:
			return nil, fmt.Errorf("unknown execution outcome %T", e)
		}
		if err != nil {
			return nil, err
		}
		doc.Executions = append(doc.Executions, t)
	}
	return json.Marshal(doc)
}

// UnmarshalJSON decodes what MarshalJSON produced.
func (sp *SplitPayment) UnmarshalJSON(data []byte) error {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	out := SplitPayment{
		ID:               doc.ID,
		SenderWallet:     doc.SenderWallet,
		Recipients:       doc.Recipients,
		TotalAmount:      doc.TotalAmount,
		Status:           doc.Status,
		Quotes:           doc.Quotes,
		Continuation:     doc.Continuation,
		RedirectURL:      doc.RedirectURL,
		TotalDebitAmount: doc.TotalDebitAmount,
		InteractRef:      doc.InteractRef,
		FailureReason:    doc.FailureReason,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
		CompletedAt:      doc.CompletedAt,
		FailedAt:         doc.FailedAt,
	}
	for _, t := range doc.Reservations {
		switch t.Kind {
		case kindSucceeded:
			var v ReservationSucceeded
			if err := json.Unmarshal(t.Data, &v); err != nil {
				return err
			}
			out.Reservations = append(out.Reservations, v)
		case kindFailed:
			var v ReservationFailed
			if err := json.Unmarshal(t.Data, &v); err != nil {
				return err
			}
			out.Reservations = append(out.Reservations, v)
		default:
			return fmt.Errorf("unknown reservation kind %q", t.Kind)
		}
	}
	for _, t := range doc.Executions {
		switch t.Kind {
		case kindCreated:
			var v ExecutionCreated
			if err := json.Unmarshal(t.Data, &v); err != nil {
				return err
			}
			out.Executions = append(out.Executions, v)
		case kindErrored:
			var v ExecutionErrored
			if err := json.Unmarshal(t.Data, &v); err != nil {
				return err
			}
			out.Executions = append(out.Executions, v)
		default:
			return fmt.Errorf("unknown execution kind %q", t.Kind)
		}
	}
	*sp = out
	return nil
}
