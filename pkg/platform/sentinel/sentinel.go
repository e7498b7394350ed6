package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and adapters return these
// (optionally wrapped) so services can translate them into domain errors.
//
//   - ErrNotFound: record or correlation entry does not exist
//   - ErrConflict: conditional write lost against a concurrent writer
//   - ErrExpired: entry existed but its TTL elapsed
//   - ErrAlreadyUsed: single-use entry was already consumed
//   - ErrInvalidState: record is in the wrong state for the operation
//   - ErrUnavailable: dependency temporarily unavailable
//
// Caller input problems belong in pkg/domain-errors, not here.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
