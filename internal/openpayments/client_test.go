package openpayments

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/yaronf/httpsign"
)

// Justification: the client is the only place wire shapes, GNAP headers and
// timeout behavior are pinned; the orchestration tests run against a fake.
type ClientSuite struct {
	suite.Suite
	server *httptest.Server
	mux    *http.ServeMux
	client *Client
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) SetupTest() {
	s.mux = http.NewServeMux()
	s.server = httptest.NewServer(s.mux)
	s.T().Cleanup(s.server.Close)
	s.client = NewClient("https://platform.test/wallet",
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithWalletTimeout(200*time.Millisecond),
	)
}

func (s *ClientSuite) TestNormalizeWalletRef() {
	s.Equal("http://ilp.test/alice", NormalizeWalletRef("ilp.test/alice"))
	s.Equal("https://ilp.test/alice", NormalizeWalletRef(" https://ilp.test/alice "))
	s.Equal("HTTP://ilp.test/alice", NormalizeWalletRef("HTTP://ilp.test/alice"))
	s.Equal("", NormalizeWalletRef("  "))
}

func (s *ClientSuite) TestResolveWallet() {
	s.mux.HandleFunc("/alice", func(w http.ResponseWriter, r *http.Request) {
		s.Equal(http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"https://ilp.test/alice","assetCode":"USD","assetScale":2,"authServer":"https://auth.test","resourceServer":"https://rs.test"}`))
	})
	s.mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	s.mux.HandleFunc("/partial", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"x"}`))
	})

	s.Run("returns wallet document", func() {
		wallet, err := s.client.ResolveWallet(context.Background(), s.server.URL+"/alice")
		s.Require().NoError(err)
		s.Equal("USD", wallet.AssetCode)
		s.Equal(uint8(2), wallet.AssetScale)
		s.Equal("https://auth.test", wallet.AuthServer)
	})

	s.Run("adds a scheme to bare references", func() {
		bare := strings.TrimPrefix(s.server.URL, "http://") + "/alice"
		wallet, err := s.client.ResolveWallet(context.Background(), bare)
		s.Require().NoError(err)
		s.Equal("https://ilp.test/alice", wallet.ID)
	})

	s.Run("times out without retry", func() {
		start := time.Now()
		_, err := s.client.ResolveWallet(context.Background(), s.server.URL+"/slow")
		s.Require().Error(err)
		s.ErrorIs(err, ErrWalletUnresolvable)
		s.Less(time.Since(start), time.Second)
	})

	s.Run("rejects unknown wallets", func() {
		_, err := s.client.ResolveWallet(context.Background(), s.server.URL+"/missing")
		s.Require().Error(err)
		s.ErrorIs(err, ErrWalletUnresolvable)
		s.Equal(http.StatusNotFound, StatusCode(err))
	})

	s.Run("rejects incomplete documents", func() {
		_, err := s.client.ResolveWallet(context.Background(), s.server.URL+"/partial")
		s.ErrorIs(err, ErrWalletUnresolvable)
	})
}

func (s *ClientSuite) TestRequestGrant() {
	var got GrantRequest
	s.mux.HandleFunc("/auth", func(w http.ResponseWriter, r *http.Request) {
		s.Require().NoError(json.NewDecoder(r.Body).Decode(&got))
		s.Empty(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"interact":{"redirect":"https://auth.test/interact/1","finish":"srv-nonce"},"continue":{"access_token":{"value":"cont-token"},"uri":"https://auth.test/continue/1"}}`))
	})

	req := NewGrantRequest(AccessItem{
		Type:       AccessOutgoingPayment,
		Actions:    []string{ActionCreate, ActionRead, ActionList},
		Identifier: "https://ilp.test/payer",
		Limits:     &AccessLimits{DebitAmount: &Amount{Value: "1000", AssetCode: "USD", AssetScale: 2}},
	})
	req.Interact = &InteractRequest{Start: []string{"redirect"}}

	grant, err := s.client.RequestGrant(context.Background(), s.server.URL+"/auth", req)
	s.Require().NoError(err)
	s.True(grant.IsPending())
	s.Equal("https://auth.test/interact/1", grant.Interact.Redirect)
	s.Equal("cont-token", grant.Continue.AccessToken.Value)
	s.Equal("https://platform.test/wallet", got.Client)
	s.Equal("1000", got.AccessToken.Access[0].Limits.DebitAmount.Value)
}

func (s *ClientSuite) TestContinueGrant() {
	s.mux.HandleFunc("/continue/pending", func(w http.ResponseWriter, r *http.Request) {
		s.Equal("GNAP cont-token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"continue":{"access_token":{"value":"cont-token"},"uri":"/continue/pending"}}`))
	})
	s.mux.HandleFunc("/continue/done", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		s.Require().NoError(json.NewDecoder(r.Body).Decode(&body))
		s.Equal("ref-1", body["interact_ref"])
		_, _ = w.Write([]byte(`{"access_token":{"value":"op-token"}}`))
	})

	s.Run("pending grant reports not finalized", func() {
		_, err := s.client.ContinueGrant(context.Background(), NewContinuation(s.server.URL+"/continue/pending", "cont-token"), "")
		s.ErrorIs(err, ErrGrantNotFinalized)
	})

	s.Run("finalized grant returns token", func() {
		grant, err := s.client.ContinueGrant(context.Background(), NewContinuation(s.server.URL+"/continue/done", "cont-token"), "ref-1")
		s.Require().NoError(err)
		s.Equal("op-token", grant.AccessToken.Value)
	})
}

func (s *ClientSuite) TestResourceCalls() {
	s.mux.HandleFunc("/rs/incoming-payments", func(w http.ResponseWriter, r *http.Request) {
		s.Equal("GNAP ip-token", r.Header.Get("Authorization"))
		var in IncomingPaymentRequest
		s.Require().NoError(json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(IncomingPayment{ID: "https://rs.test/incoming-payments/1", WalletAddress: in.WalletAddress, IncomingAmount: in.IncomingAmount})
	})
	s.mux.HandleFunc("/rs/quotes", func(w http.ResponseWriter, r *http.Request) {
		var in QuoteRequest
		s.Require().NoError(json.NewDecoder(r.Body).Decode(&in))
		s.Equal(QuoteMethodILP, in.Method)
		_ = json.NewEncoder(w).Encode(Quote{ID: "q-1", Receiver: in.Receiver, DebitAmount: NewAmount(610, "USD", 2), ReceiveAmount: NewAmount(600, "USD", 2)})
	})
	s.mux.HandleFunc("/rs/outgoing-payments", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"insufficient_grant"}`))
	})

	ctx := context.Background()
	amount := NewAmount(600, "USD", 2)
	ip, err := s.client.CreateIncomingPayment(ctx, s.server.URL+"/rs", "ip-token", IncomingPaymentRequest{WalletAddress: "https://ilp.test/w1", IncomingAmount: &amount})
	s.Require().NoError(err)
	s.Equal("https://rs.test/incoming-payments/1", ip.ID)

	q, err := s.client.CreateQuote(ctx, s.server.URL+"/rs/", "q-token", QuoteRequest{WalletAddress: "https://ilp.test/payer", Receiver: ip.ID})
	s.Require().NoError(err)
	debit, err := q.DebitAmount.Minor()
	s.Require().NoError(err)
	s.Equal(int64(610), debit)

	_, err = s.client.CreateOutgoingPayment(ctx, s.server.URL+"/rs", "op-token", OutgoingPaymentRequest{WalletAddress: "https://ilp.test/payer", QuoteID: q.ID})
	s.Require().Error(err)
	var pe *ProtocolError
	s.Require().True(errors.As(err, &pe))
	s.Equal(http.StatusForbidden, pe.StatusCode)
	s.Contains(pe.Body, "insufficient_grant")
	s.False(pe.Retryable())
}

func TestSignerProducesVerifiableSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	parsed, err := ParsePrivateKey(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, "https://auth.test/", strings.NewReader(`{"a":1}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "GNAP tok")
	require.NoError(t, NewSigner("key-1", parsed).Sign(req))

	input := req.Header.Get("Signature-Input")
	assert.True(t, strings.HasPrefix(input, `sig1=("@method" "@target-uri" "authorization" "content-digest" "content-length" "content-type")`), input)
	assert.Contains(t, input, `keyid="key-1"`)
	assert.Contains(t, input, "created=")
	assert.True(t, strings.HasPrefix(req.Header.Get("Content-Digest"), "sha-512=:"))
	assert.Equal(t, "7", req.Header.Get("Content-Length"))

	fields := httpsign.Headers("@method", "@target-uri", "authorization", "content-digest", "content-length", "content-type")
	verifier, err := httpsign.NewEd25519Verifier(pub, httpsign.NewVerifyConfig().SetKeyID("key-1"), fields)
	require.NoError(t, err)
	assert.NoError(t, httpsign.VerifyRequest("sig1", *verifier, req))

	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(body), "body must remain readable after signing")

	t.Run("bodiless request covers method and target only", func(t *testing.T) {
		get, err := http.NewRequest(http.MethodGet, "https://wallet.test/alice", nil)
		require.NoError(t, err)
		require.NoError(t, NewSigner("key-1", parsed).Sign(get))
		assert.True(t, strings.HasPrefix(get.Header.Get("Signature-Input"), `sig1=("@method" "@target-uri");`))
		assert.Empty(t, get.Header.Get("Content-Digest"))
	})
}

func TestVerifyInteractHash(t *testing.T) {
	hash := InteractHash("client-nonce", "server-nonce", "ref-1", "https://auth.test/")

	assert.NoError(t, VerifyInteractHash("client-nonce", "server-nonce", "ref-1", "https://auth.test/", hash))

	urlSafe := strings.TrimRight(strings.NewReplacer("+", "-", "/", "_").Replace(hash), "=")
	assert.NoError(t, VerifyInteractHash("client-nonce", "server-nonce", "ref-1", "https://auth.test/", urlSafe))

	assert.ErrorIs(t, VerifyInteractHash("client-nonce", "server-nonce", "ref-2", "https://auth.test/", hash), ErrInvalidInteractHash)
}
