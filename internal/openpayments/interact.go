package openpayments

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strings"
)

// InteractHash computes the hash an authorization server appends to the
// finish redirect: base64(sha256(clientNonce \n serverNonce \n interactRef \n grantEndpoint)).
func InteractHash(clientNonce, serverNonce, interactRef, grantEndpoint string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{clientNonce, serverNonce, interactRef, grantEndpoint}, "\n")))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// VerifyInteractHash checks a redirect hash in constant time. Both standard
// and URL-safe base64 encodings are accepted.
func VerifyInteractHash(clientNonce, serverNonce, interactRef, grantEndpoint, got string) error {
	want := InteractHash(clientNonce, serverNonce, interactRef, grantEndpoint)
	normalized := strings.NewReplacer("-", "+", "_", "/").Replace(got)
	if pad := len(normalized) % 4; pad != 0 {
		normalized += strings.Repeat("=", 4-pad)
	}
	if subtle.ConstantTimeCompare([]byte(want), []byte(normalized)) != 1 {
		return ErrInvalidInteractHash
	}
	return nil
}
