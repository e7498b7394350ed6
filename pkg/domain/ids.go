// Package domain holds typed identifiers shared across modules.
package domain

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"

	dErrors "splitpay/pkg/domain-errors"
)

// SplitPaymentID identifies one split-payment orchestration run.
type SplitPaymentID uuid.UUID

// NewSplitPaymentID returns a fresh random identifier.
func NewSplitPaymentID() SplitPaymentID {
	return SplitPaymentID(uuid.New())
}

// ParseSplitPaymentID parses s into a SplitPaymentID. Empty, malformed and
// nil UUIDs are rejected.
func ParseSplitPaymentID(s string) (SplitPaymentID, error) {
	u, err := parseUUID(s, "split payment id")
	if err != nil {
		return SplitPaymentID{}, err
	}
	return SplitPaymentID(u), nil
}

func (id SplitPaymentID) String() string { return uuid.UUID(id).String() }

// IsNil reports whether id is the zero value.
func (id SplitPaymentID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// MarshalText implements encoding.TextMarshaler.
func (id SplitPaymentID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *SplitPaymentID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*id = SplitPaymentID(u)
	return nil
}

// Nonce is an opaque single-use correlation token carried through an
// authorization redirect.
type Nonce string

const nonceBytes = 16

// NewNonce returns 16 random bytes, hex encoded.
func NewNonce() (Nonce, error) {
	b := make([]byte, nonceBytes)
	if _, err := rand.Read(b); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "generate nonce")
	}
	return Nonce(hex.EncodeToString(b)), nil
}

// ParseNonce validates an inbound nonce.
func ParseNonce(s string) (Nonce, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "nonce is required")
	}
	if len(s) != nonceBytes*2 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "nonce has invalid length")
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", dErrors.New(dErrors.CodeInvalidInput, "nonce must be hex encoded")
	}
	return Nonce(strings.ToLower(s)), nil
}

func (n Nonce) String() string { return string(n) }

func parseUUID(s, field string) (uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" is required")
	}
	if len(s) > 36 {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+field)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+field)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" must not be nil")
	}
	return u, nil
}
