package openpayments

import (
	"errors"
	"fmt"
)

// Sentinel errors for protocol outcomes the orchestration branches on.
var (
	// ErrWalletUnresolvable means the wallet reference could not be fetched
	// or did not describe a wallet.
	ErrWalletUnresolvable = errors.New("wallet unresolvable")

	// ErrGrantNotFinalized means a grant continuation returned without an
	// access token because the user has not finished interacting.
	ErrGrantNotFinalized = errors.New("grant not finalized")

	// ErrInvalidInteractHash means the redirect hash did not match.
	ErrInvalidInteractHash = errors.New("invalid interaction hash")
)

// ProtocolError is a non-2xx response from a wallet, auth or resource server.
type ProtocolError struct {
	Op         string
	URL        string
	StatusCode int
	Body       string
	Underlying error
}

func (e *ProtocolError) Error() string {
	switch {
	case e.Underlying != nil:
		return fmt.Sprintf("open payments %s %s: %v", e.Op, e.URL, e.Underlying)
	case e.Body != "":
		return fmt.Sprintf("open payments %s %s: status %d: %s", e.Op, e.URL, e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("open payments %s %s: status %d", e.Op, e.URL, e.StatusCode)
	}
}

func (e *ProtocolError) Unwrap() error { return e.Underlying }

// Retryable reports whether the failure is transient.
func (e *ProtocolError) Retryable() bool {
	return e.Underlying != nil || e.StatusCode == 429 || e.StatusCode >= 500
}

// StatusCode extracts the HTTP status from a protocol error, or 0.
func StatusCode(err error) int {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.StatusCode
	}
	return 0
}
