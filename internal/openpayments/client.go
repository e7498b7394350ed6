// Package openpayments is an HTTP client for the Open Payments protocol:
// wallet address discovery, GNAP grants and the incoming payment, quote and
// outgoing payment resources.
package openpayments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const maxErrorBody = 2048

// Client talks to wallet, authorization and resource servers.
type Client struct {
	http          *http.Client
	signer        *Signer
	clientWallet  string
	walletTimeout time.Duration
	logger        *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithSigner signs grant and resource requests.
func WithSigner(s *Signer) Option {
	return func(c *Client) {
		c.signer = s
	}
}

// WithWalletTimeout bounds each wallet address lookup.
func WithWalletTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.walletTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient builds a client identifying itself with clientWallet in grant
// requests.
func NewClient(clientWallet string, opts ...Option) *Client {
	c := &Client{
		http:          &http.Client{Timeout: 15 * time.Second},
		clientWallet:  clientWallet,
		walletTimeout: 5 * time.Second,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NormalizeWalletRef trims a wallet reference and prefixes http:// when no
// scheme is present.
func NormalizeWalletRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	lower := strings.ToLower(ref)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return ref
	}
	return "http://" + ref
}

// ResolveWallet fetches the wallet address document for ref. The lookup is
// bounded by the wallet timeout and is not retried.
func (c *Client) ResolveWallet(ctx context.Context, ref string) (*WalletAddress, error) {
	url := NormalizeWalletRef(ref)
	if url == "" {
		return nil, fmt.Errorf("%w: empty wallet reference", ErrWalletUnresolvable)
	}

	ctx, cancel := context.WithTimeout(ctx, c.walletTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWalletUnresolvable, err)
	}
	req.Header.Set("Accept", "application/json")

	var wallet WalletAddress
	if err := c.do(req, "resolve wallet", &wallet); err != nil {
		return nil, errors.Join(ErrWalletUnresolvable, err)
	}
	if wallet.ID == "" || wallet.AuthServer == "" || wallet.ResourceServer == "" {
		return nil, fmt.Errorf("%w: %s returned an incomplete wallet address", ErrWalletUnresolvable, url)
	}
	return &wallet, nil
}

// RequestGrant posts a grant request to authServer.
func (c *Client) RequestGrant(ctx context.Context, authServer string, grantReq GrantRequest) (*Grant, error) {
	if grantReq.Client == "" {
		grantReq.Client = c.clientWallet
	}
	var grant Grant
	if err := c.postJSON(ctx, "request grant", authServer, "", grantReq, &grant); err != nil {
		return nil, err
	}
	if !grant.IsFinalized() && grant.Continue == nil {
		return nil, &ProtocolError{Op: "request grant", URL: authServer, StatusCode: http.StatusOK, Body: "grant response carried neither access token nor continuation"}
	}
	return &grant, nil
}

// ContinueGrant resumes a pending grant after user interaction. It fails
// with ErrGrantNotFinalized when no access token is issued yet.
func (c *Client) ContinueGrant(ctx context.Context, cont Continuation, interactRef string) (*Grant, error) {
	var body any = struct{}{}
	if interactRef != "" {
		body = map[string]string{"interact_ref": interactRef}
	}
	var grant Grant
	if err := c.postJSON(ctx, "continue grant", cont.URI, cont.AccessToken.Value, body, &grant); err != nil {
		return nil, err
	}
	if !grant.IsFinalized() {
		return nil, ErrGrantNotFinalized
	}
	return &grant, nil
}

// CreateIncomingPayment creates a reservation on a recipient wallet.
func (c *Client) CreateIncomingPayment(ctx context.Context, resourceServer, accessToken string, in IncomingPaymentRequest) (*IncomingPayment, error) {
	var out IncomingPayment
	if err := c.postJSON(ctx, "create incoming payment", joinURL(resourceServer, "incoming-payments"), accessToken, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateQuote quotes a payment from the payer wallet to a receiver.
func (c *Client) CreateQuote(ctx context.Context, resourceServer, accessToken string, in QuoteRequest) (*Quote, error) {
	if in.Method == "" {
		in.Method = QuoteMethodILP
	}
	var out Quote
	if err := c.postJSON(ctx, "create quote", joinURL(resourceServer, "quotes"), accessToken, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateOutgoingPayment executes a quote.
func (c *Client) CreateOutgoingPayment(ctx context.Context, resourceServer, accessToken string, in OutgoingPaymentRequest) (*OutgoingPayment, error) {
	var out OutgoingPayment
	if err := c.postJSON(ctx, "create outgoing payment", joinURL(resourceServer, "outgoing-payments"), accessToken, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) postJSON(ctx context.Context, op, url, token string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &ProtocolError{Op: op, URL: url, Underlying: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "GNAP "+token)
	}
	if c.signer != nil {
		if err := c.signer.Sign(req); err != nil {
			return &ProtocolError{Op: op, URL: url, Underlying: err}
		}
	}
	return c.do(req, op, out)
}

func (c *Client) do(req *http.Request, op string, out any) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WarnContext(req.Context(), "open payments request failed",
			"op", op,
			"url", req.URL.String(),
			"error", err,
		)
		return &ProtocolError{Op: op, URL: req.URL.String(), Underlying: err}
	}
	defer resp.Body.Close()

	c.logger.DebugContext(req.Context(), "open payments request",
		"op", op,
		"url", req.URL.String(),
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &ProtocolError{
			Op:         op,
			URL:        req.URL.String(),
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ProtocolError{Op: op, URL: req.URL.String(), StatusCode: resp.StatusCode, Underlying: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + path
}
