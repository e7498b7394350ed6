package orchestrator

import (
	"errors"
	"fmt"
	"strings"
)

// Stage failures. A StageError unwraps to one of these.
var (
	ErrNoSuccessfulReservations = errors.New("no successful reservations")
	ErrQuoteFanOutFailed        = errors.New("quote fan-out failed")
	ErrAuthorizationFailed      = errors.New("authorization request failed")
	ErrContinuationFailed       = errors.New("grant continuation failed")
	ErrNoSuccessfulExecutions   = errors.New("no successful executions")
)

// Stage names, also used as metric and span labels.
const (
	StageAllocate  = "allocate"
	StageReserve   = "reserve"
	StageQuote     = "quote"
	StageAuthorize = "authorize"
	StageContinue  = "continue"
	StageExecute   = "execute"
)

// StageError reports which stage failed and why. Failures lists
// per-recipient messages as "recipient: message".
type StageError struct {
	Stage    string
	Kind     error
	Failures []string
	Err      error
}

func (e *StageError) Error() string {
	switch {
	case len(e.Failures) > 0:
		return fmt.Sprintf("%v: %s", e.Kind, strings.Join(e.Failures, "; "))
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	default:
		return e.Kind.Error()
	}
}

func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
