package models

import (
	"fmt"

	"github.com/shopspring/decimal"

	dErrors "splitpay/pkg/domain-errors"
)

// Allocation is a recipient's computed share in minor units of the total.
type Allocation struct {
	WalletRef  string          `json:"recipient"`
	Percentage decimal.Decimal `json:"percentage"`
	Amount     int64           `json:"allocatedAmount"`
}

// ReservationOutcome is the result of reserving one recipient's share:
// either ReservationSucceeded or ReservationFailed.
type ReservationOutcome interface {
	reservationAllocation() Allocation
}

// ReservationSucceeded is a reservation created on the recipient's wallet in
// the recipient's own asset.
type ReservationSucceeded struct {
	Allocation
	AssetCode     string `json:"assetCode"`
	AssetScale    uint8  `json:"assetScale"`
	ReservationID string `json:"reservationId"`
}

// ReservationFailed records why a recipient could not be reserved.
// AssetCode is empty when the wallet could not be resolved.
type ReservationFailed struct {
	Allocation
	AssetCode string `json:"assetCode,omitempty"`
	Error     string `json:"error"`
}

func (r ReservationSucceeded) reservationAllocation() Allocation { return r.Allocation }
func (r ReservationFailed) reservationAllocation() Allocation    { return r.Allocation }

// AllocationOf returns the allocation carried by any reservation outcome.
func AllocationOf(o ReservationOutcome) Allocation {
	return o.reservationAllocation()
}

// ExecutionTarget identifies what an execution attempted to pay.
type ExecutionTarget struct {
	WalletRef  string          `json:"recipient"`
	Percentage decimal.Decimal `json:"percentage"`
	QuoteID    string          `json:"quoteId"`
}

// ExecutionOutcome is the result of executing one quote: either
// ExecutionCreated or ExecutionErrored.
type ExecutionOutcome interface {
	executionTarget() ExecutionTarget
}

// ExecutionCreated is an outgoing payment the protocol accepted. Failed is
// the protocol's own failure flag on the created payment.
type ExecutionCreated struct {
	ExecutionTarget
	ExecutionID string `json:"executionId"`
	Failed      bool   `json:"failed"`
}

// ExecutionErrored is an execution the protocol rejected.
type ExecutionErrored struct {
	ExecutionTarget
	Error string `json:"error"`
}

func (e ExecutionCreated) executionTarget() ExecutionTarget { return e.ExecutionTarget }
func (e ExecutionErrored) executionTarget() ExecutionTarget { return e.ExecutionTarget }

// TargetOf returns the target carried by any execution outcome.
func TargetOf(o ExecutionOutcome) ExecutionTarget {
	return o.executionTarget()
}

func transitionError(from, to Status) error {
	fromLabel := string(from)
	if fromLabel == "" {
		fromLabel = "NEW"
	}
	return dErrors.New(dErrors.CodeInvalidState, fmt.Sprintf("cannot transition split payment from %s to %s", fromLabel, to))
}
