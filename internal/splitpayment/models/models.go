// Package models holds the split-payment aggregate and its outcome types.
package models

import (
	"time"

	"github.com/shopspring/decimal"

	id "splitpay/pkg/domain"
)

// Status is the lifecycle state of a split payment.
type Status string

const (
	StatusPendingAuthorization Status = "PENDING_AUTHORIZATION"
	StatusCompleted            Status = "COMPLETED"
	StatusPartial              Status = "PARTIAL"
	StatusFailed               Status = "FAILED"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusPartial, StatusFailed:
		return true
	}
	return false
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	return s == StatusPendingAuthorization || s.IsTerminal()
}

// Recipient is one payee and its share of the total, in percent.
type Recipient struct {
	WalletRef  string          `json:"walletUrl"`
	Percentage decimal.Decimal `json:"percentage"`
}

// TotalAmount is the nominal amount to split, in minor units.
type TotalAmount struct {
	Value     int64  `json:"value"`
	AssetCode string `json:"assetCode"`
}

// Money is an amount in minor units of a concrete asset and scale.
type Money struct {
	Value      int64  `json:"value"`
	AssetCode  string `json:"assetCode"`
	AssetScale uint8  `json:"assetScale"`
}

// QuoteRecord is a committed quote for one successfully reserved recipient.
type QuoteRecord struct {
	WalletRef     string          `json:"recipient"`
	Percentage    decimal.Decimal `json:"percentage"`
	QuoteID       string          `json:"quoteId"`
	DebitAmount   Money           `json:"debitAmount"`
	ReceiveAmount Money           `json:"receiveAmount"`
	ReservationID string          `json:"reservationId"`
}

// Continuation is how to resume the aggregated grant after the payer
// authorizes it, plus what is needed to verify the finish redirect.
type Continuation struct {
	URI           string `json:"uri"`
	Token         string `json:"token"`
	GrantEndpoint string `json:"grantEndpoint,omitempty"`
	ClientNonce   string `json:"clientNonce,omitempty"`
	ServerNonce   string `json:"serverNonce,omitempty"`
}

// SplitPayment is the aggregate root of one orchestration run. Only the
// orchestration engine mutates it, through the transition methods below.
type SplitPayment struct {
	ID               id.SplitPaymentID
	SenderWallet     string
	Recipients       []Recipient
	TotalAmount      TotalAmount
	Status           Status
	Reservations     []ReservationOutcome
	Quotes           []QuoteRecord
	Executions       []ExecutionOutcome
	Continuation     *Continuation
	RedirectURL      string
	TotalDebitAmount *Money
	InteractRef      string
	FailureReason    string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
	FailedAt         *time.Time
}

// New builds a split payment for the given request. Status is empty until
// authorization is requested or the run fails.
func New(sender string, recipients []Recipient, total TotalAmount, now time.Time) *SplitPayment {
	return &SplitPayment{
		ID:           id.NewSplitPaymentID(),
		SenderWallet: sender,
		Recipients:   append([]Recipient(nil), recipients...),
		TotalAmount:  total,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// SuccessfulReservations returns the reservations that succeeded, in
// recipient order.
func (sp *SplitPayment) SuccessfulReservations() []ReservationSucceeded {
	var out []ReservationSucceeded
	for _, r := range sp.Reservations {
		if ok, isOK := r.(ReservationSucceeded); isOK {
			out = append(out, ok)
		}
	}
	return out
}

// FailedReservations returns the reservations that failed, in recipient order.
func (sp *SplitPayment) FailedReservations() []ReservationFailed {
	var out []ReservationFailed
	for _, r := range sp.Reservations {
		if f, isFailed := r.(ReservationFailed); isFailed {
			out = append(out, f)
		}
	}
	return out
}

// CreatedExecutions returns executions the protocol accepted.
func (sp *SplitPayment) CreatedExecutions() []ExecutionCreated {
	var out []ExecutionCreated
	for _, e := range sp.Executions {
		if c, ok := e.(ExecutionCreated); ok {
			out = append(out, c)
		}
	}
	return out
}

// ExecutionErrors returns executions that errored.
func (sp *SplitPayment) ExecutionErrors() []ExecutionErrored {
	var out []ExecutionErrored
	for _, e := range sp.Executions {
		if x, ok := e.(ExecutionErrored); ok {
			out = append(out, x)
		}
	}
	return out
}

// Omitted is the number of recipients that never reached execution.
func (sp *SplitPayment) Omitted() int {
	return len(sp.Recipients) - len(sp.Quotes)
}

// AwaitAuthorization records the aggregated grant and moves the payment to
// PENDING_AUTHORIZATION.
func (sp *SplitPayment) AwaitAuthorization(redirectURL string, cont Continuation, totalDebit Money, now time.Time) error {
	if sp.Status != "" {
		return transitionError(sp.Status, StatusPendingAuthorization)
	}
	sp.RedirectURL = redirectURL
	sp.Continuation = &cont
	sp.TotalDebitAmount = &totalDebit
	sp.Status = StatusPendingAuthorization
	sp.UpdatedAt = now
	return nil
}

// Finish records the execution outcomes and the derived terminal status.
// The continuation is dropped since it can no longer be used.
func (sp *SplitPayment) Finish(status Status, executions []ExecutionOutcome, now time.Time) error {
	if sp.Status != StatusPendingAuthorization {
		return transitionError(sp.Status, status)
	}
	if !status.IsTerminal() {
		return transitionError(sp.Status, status)
	}
	sp.Executions = executions
	sp.Status = status
	sp.Continuation = nil
	sp.UpdatedAt = now
	if status == StatusFailed {
		sp.FailedAt = &now
	} else {
		sp.CompletedAt = &now
	}
	return nil
}

// Fail marks the payment FAILED with reason. Terminal payments are left
// untouched.
func (sp *SplitPayment) Fail(reason string, now time.Time) error {
	if sp.Status.IsTerminal() {
		return transitionError(sp.Status, StatusFailed)
	}
	sp.Status = StatusFailed
	sp.FailureReason = reason
	sp.Continuation = nil
	sp.UpdatedAt = now
	sp.FailedAt = &now
	return nil
}

// Clone returns a copy that shares no mutable state with sp.
func (sp *SplitPayment) Clone() *SplitPayment {
	if sp == nil {
		return nil
	}
	cp := *sp
	cp.Recipients = append([]Recipient(nil), sp.Recipients...)
	cp.Reservations = append([]ReservationOutcome(nil), sp.Reservations...)
	cp.Quotes = append([]QuoteRecord(nil), sp.Quotes...)
	cp.Executions = append([]ExecutionOutcome(nil), sp.Executions...)
	if sp.Continuation != nil {
		c := *sp.Continuation
		cp.Continuation = &c
	}
	if sp.TotalDebitAmount != nil {
		m := *sp.TotalDebitAmount
		cp.TotalDebitAmount = &m
	}
	if sp.CompletedAt != nil {
		t := *sp.CompletedAt
		cp.CompletedAt = &t
	}
	if sp.FailedAt != nil {
		t := *sp.FailedAt
		cp.FailedAt = &t
	}
	return &cp
}

// RecipientWallets lists every recipient wallet reference.
func (sp *SplitPayment) RecipientWallets() []string {
	out := make([]string, len(sp.Recipients))
	for i, r := range sp.Recipients {
		out[i] = r.WalletRef
	}
	return out
}
