package openpayments

import (
	"bytes"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/yaronf/httpsign"
)

// Signer adds HTTP message signatures (RFC 9421, ed25519) to outbound
// requests so authorization servers can identify this client.
type Signer struct {
	keyID string
	key   ed25519.PrivateKey
}

const signatureName = "sig1"

// NewSigner builds a signer from an ed25519 private key.
func NewSigner(keyID string, key ed25519.PrivateKey) *Signer {
	return &Signer{keyID: keyID, key: key}
}

// LoadSigner reads a PKCS#8 PEM encoded ed25519 key from path.
func LoadSigner(keyID, path string) (*Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	key, err := ParsePrivateKey(raw)
	if err != nil {
		return nil, err
	}
	return NewSigner(keyID, key), nil
}

// ParsePrivateKey decodes a PKCS#8 PEM ed25519 private key.
func ParsePrivateKey(pemBytes []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("private key: no PEM block found")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key: expected ed25519, got %T", parsed)
	}
	return key, nil
}

// Sign sets Content-Digest (when there is a body), Signature-Input and
// Signature on req. Covered components are @method, @target-uri and, when
// present, authorization, content-digest, content-length and content-type.
func (s *Signer) Sign(req *http.Request) error {
	components := []string{"@method", "@target-uri"}
	if req.Header.Get("Authorization") != "" {
		components = append(components, "authorization")
	}

	if req.Body != nil && req.Body != http.NoBody {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return fmt.Errorf("read body for signing: %w", err)
		}
		_ = req.Body.Close()

		rc := io.NopCloser(bytes.NewReader(body))
		digest, err := httpsign.GenerateContentDigestHeader(&rc, []string{httpsign.DigestSha512})
		if err != nil {
			return fmt.Errorf("content digest: %w", err)
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.ContentLength = int64(len(body))
		req.Header.Set("Content-Digest", digest)
		req.Header.Set("Content-Length", strconv.Itoa(len(body)))
		components = append(components, "content-digest", "content-length")
		if req.Header.Get("Content-Type") != "" {
			components = append(components, "content-type")
		}
	}

	config := httpsign.NewSignConfig().SignAlg(false).SetKeyID(s.keyID)
	signer, err := httpsign.NewEd25519Signer(s.key, config, httpsign.Headers(components...))
	if err != nil {
		return fmt.Errorf("build signer: %w", err)
	}
	sigInput, sig, err := httpsign.SignRequest(signatureName, *signer, req)
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}
	req.Header.Set("Signature-Input", sigInput)
	req.Header.Set("Signature", sig)
	return nil
}
