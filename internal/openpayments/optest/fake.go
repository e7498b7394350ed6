// Package optest provides an in-memory Open Payments network for tests.
package optest

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"splitpay/internal/openpayments"
)

// Fake implements the protocol operations against in-memory wallets. Each
// operation can be made to fail per wallet or per recipient.
type Fake struct {
	mu sync.Mutex

	wallets  map[string]*openpayments.WalletAddress
	grants   map[string]*grantState // keyed by continuation URI
	tokens   map[string]openpayments.AccessItem
	incoming map[string]*openpayments.IncomingPayment
	quotes   map[string]*openpayments.Quote
	rates    map[string]float64

	failResolve     map[string]error
	failIncoming    map[string]error
	failQuote       map[string]error
	failOutgoing    map[string]error
	markFailed      map[string]bool
	pendingContinue bool

	grantRequests []openpayments.GrantRequest
	outgoing      []openpayments.OutgoingPaymentRequest

	seq   atomic.Int64
	calls atomic.Int64
}

type grantState struct {
	access      []openpayments.AccessItem
	authServer  string
	finishNonce string
	serverNonce string
	interactRef string
	approved    bool
	redirect    string
}

// New returns an empty network.
func New() *Fake {
	return &Fake{
		wallets:      make(map[string]*openpayments.WalletAddress),
		grants:       make(map[string]*grantState),
		tokens:       make(map[string]openpayments.AccessItem),
		incoming:     make(map[string]*openpayments.IncomingPayment),
		quotes:       make(map[string]*openpayments.Quote),
		rates:        make(map[string]float64),
		failResolve:  make(map[string]error),
		failIncoming: make(map[string]error),
		failQuote:    make(map[string]error),
		failOutgoing: make(map[string]error),
		markFailed:   make(map[string]bool),
	}
}

// AddWallet registers a wallet and returns its normalized id.
func (f *Fake) AddWallet(ref, assetCode string, assetScale uint8) string {
	id := openpayments.NormalizeWalletRef(ref)
	u, _ := url.Parse(id)
	host := strings.TrimPrefix(u.Host+u.Path, "/")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wallets[id] = &openpayments.WalletAddress{
		ID:             id,
		PublicName:     host,
		AssetCode:      assetCode,
		AssetScale:     assetScale,
		AuthServer:     "https://auth.test/" + host,
		ResourceServer: "https://rs.test/" + host,
	}
	return id
}

// SetRate sets how many payer units are debited per receiver unit.
func (f *Fake) SetRate(payerAsset, receiverAsset string, rate float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rates[payerAsset+"/"+receiverAsset] = rate
}

// FailResolve makes wallet resolution fail for ref.
func (f *Fake) FailResolve(ref string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failResolve[openpayments.NormalizeWalletRef(ref)] = err
}

// FailIncoming makes incoming payment creation fail on wallet ref.
func (f *Fake) FailIncoming(ref string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failIncoming[openpayments.NormalizeWalletRef(ref)] = err
}

// FailQuote makes quotes towards recipient ref fail.
func (f *Fake) FailQuote(ref string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failQuote[openpayments.NormalizeWalletRef(ref)] = err
}

// FailOutgoing makes outgoing payments towards recipient ref fail.
func (f *Fake) FailOutgoing(ref string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOutgoing[openpayments.NormalizeWalletRef(ref)] = err
}

// MarkOutgoingFailed makes outgoing payments towards ref succeed at the
// protocol level but report failed=true.
func (f *Fake) MarkOutgoingFailed(ref string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markFailed[openpayments.NormalizeWalletRef(ref)] = true
}

// HoldContinuations makes every continuation report a pending grant.
func (f *Fake) HoldContinuations() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pendingContinue = true
}

// ReleaseContinuations undoes HoldContinuations.
func (f *Fake) ReleaseContinuations() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pendingContinue = false
}

// Calls returns the number of protocol operations issued.
func (f *Fake) Calls() int64 { return f.calls.Load() }

// GrantRequests returns every grant request received, in arrival order.
func (f *Fake) GrantRequests() []openpayments.GrantRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]openpayments.GrantRequest(nil), f.grantRequests...)
}

// OutgoingRequests returns every successful outgoing payment request.
func (f *Fake) OutgoingRequests() []openpayments.OutgoingPaymentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]openpayments.OutgoingPaymentRequest(nil), f.outgoing...)
}

// Approve simulates the user approving the interactive grant whose
// redirect URL is given. It returns the interact_ref and the finish hash.
func (f *Fake) Approve(redirect string) (interactRef, hash string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.grants {
		if g.redirect != redirect {
			continue
		}
		g.approved = true
		g.interactRef = fmt.Sprintf("ref-%d", f.seq.Add(1))
		hash = openpayments.InteractHash(g.finishNonce, g.serverNonce, g.interactRef, g.authServer)
		return g.interactRef, hash, nil
	}
	return "", "", fmt.Errorf("no pending grant with redirect %s", redirect)
}

func (f *Fake) next(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, f.seq.Add(1))
}

// ResolveWallet implements the protocol port.
func (f *Fake) ResolveWallet(ctx context.Context, ref string) (*openpayments.WalletAddress, error) {
	f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := openpayments.NormalizeWalletRef(ref)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failResolve[id]; ok {
		return nil, fmt.Errorf("%w: %v", openpayments.ErrWalletUnresolvable, err)
	}
	w, ok := f.wallets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", openpayments.ErrWalletUnresolvable, id)
	}
	cp := *w
	return &cp, nil
}

// RequestGrant implements the protocol port.
func (f *Fake) RequestGrant(ctx context.Context, authServer string, req openpayments.GrantRequest) (*openpayments.Grant, error) {
	f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grantRequests = append(f.grantRequests, req)

	if len(req.AccessToken.Access) == 0 {
		return nil, &openpayments.ProtocolError{Op: "request grant", URL: authServer, StatusCode: 400, Body: "empty access"}
	}

	if req.Interact == nil {
		token := f.next("token")
		f.tokens[token] = req.AccessToken.Access[0]
		return &openpayments.Grant{AccessToken: &openpayments.AccessToken{Value: token, Access: req.AccessToken.Access}}, nil
	}

	id := f.next("grant")
	cont := openpayments.NewContinuation(authServer+"/continue/"+id, f.next("continue-token"))
	state := &grantState{
		access:      req.AccessToken.Access,
		authServer:  authServer,
		serverNonce: f.next("server-nonce"),
		redirect:    authServer + "/interact/" + id,
	}
	if req.Interact.Finish != nil {
		state.finishNonce = req.Interact.Finish.Nonce
	}
	f.grants[cont.URI] = state
	return &openpayments.Grant{
		Continue: &cont,
		Interact: &openpayments.InteractResponse{Redirect: state.redirect, Finish: state.serverNonce},
	}, nil
}

// ContinueGrant implements the protocol port.
func (f *Fake) ContinueGrant(ctx context.Context, cont openpayments.Continuation, interactRef string) (*openpayments.Grant, error) {
	f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.grants[cont.URI]
	if !ok {
		return nil, &openpayments.ProtocolError{Op: "continue grant", URL: cont.URI, StatusCode: 404, Body: "unknown grant"}
	}
	if f.pendingContinue {
		return nil, openpayments.ErrGrantNotFinalized
	}
	if interactRef != "" && g.interactRef != "" && interactRef != g.interactRef {
		return nil, &openpayments.ProtocolError{Op: "continue grant", URL: cont.URI, StatusCode: 401, Body: "interact_ref mismatch"}
	}
	token := f.next("token")
	f.tokens[token] = g.access[0]
	delete(f.grants, cont.URI)
	return &openpayments.Grant{AccessToken: &openpayments.AccessToken{Value: token, Access: g.access}}, nil
}

// CreateIncomingPayment implements the protocol port.
func (f *Fake) CreateIncomingPayment(ctx context.Context, resourceServer, token string, in openpayments.IncomingPaymentRequest) (*openpayments.IncomingPayment, error) {
	f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkToken(token, openpayments.AccessIncomingPayment); err != nil {
		return nil, err
	}
	if err, ok := f.failIncoming[in.WalletAddress]; ok {
		return nil, &openpayments.ProtocolError{Op: "create incoming payment", URL: resourceServer, StatusCode: 500, Body: err.Error()}
	}
	ip := &openpayments.IncomingPayment{
		ID:             resourceServer + "/incoming-payments/" + f.next("ip"),
		WalletAddress:  in.WalletAddress,
		IncomingAmount: in.IncomingAmount,
		Metadata:       in.Metadata,
		CreatedAt:      time.Now().UTC(),
	}
	f.incoming[ip.ID] = ip
	cp := *ip
	return &cp, nil
}

// CreateQuote implements the protocol port.
func (f *Fake) CreateQuote(ctx context.Context, resourceServer, token string, in openpayments.QuoteRequest) (*openpayments.Quote, error) {
	f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkToken(token, openpayments.AccessQuote); err != nil {
		return nil, err
	}
	ip, ok := f.incoming[in.Receiver]
	if !ok {
		return nil, &openpayments.ProtocolError{Op: "create quote", URL: resourceServer, StatusCode: 404, Body: "unknown receiver"}
	}
	if err, ok := f.failQuote[ip.WalletAddress]; ok {
		return nil, &openpayments.ProtocolError{Op: "create quote", URL: resourceServer, StatusCode: 500, Body: err.Error()}
	}
	payer, ok := f.wallets[in.WalletAddress]
	if !ok {
		return nil, &openpayments.ProtocolError{Op: "create quote", URL: resourceServer, StatusCode: 404, Body: "unknown payer"}
	}
	recipient := f.wallets[ip.WalletAddress]

	rate := f.rates[payer.AssetCode+"/"+recipient.AssetCode]
	if rate == 0 {
		rate = 1
	}

	var debit, receive int64
	switch {
	case in.DebitAmount != nil:
		debit, _ = in.DebitAmount.Minor()
		receive = int64(math.Floor(float64(debit) / rate))
	case ip.IncomingAmount != nil:
		receive, _ = ip.IncomingAmount.Minor()
		debit = int64(math.Ceil(float64(receive) * rate))
	default:
		return nil, &openpayments.ProtocolError{Op: "create quote", URL: resourceServer, StatusCode: 400, Body: "receiver has no incoming amount"}
	}

	q := &openpayments.Quote{
		ID:            resourceServer + "/quotes/" + f.next("quote"),
		WalletAddress: in.WalletAddress,
		Receiver:      in.Receiver,
		DebitAmount:   openpayments.NewAmount(debit, payer.AssetCode, payer.AssetScale),
		ReceiveAmount: openpayments.NewAmount(receive, recipient.AssetCode, recipient.AssetScale),
		Method:        in.Method,
	}
	f.quotes[q.ID] = q
	cp := *q
	return &cp, nil
}

// CreateOutgoingPayment implements the protocol port.
func (f *Fake) CreateOutgoingPayment(ctx context.Context, resourceServer, token string, in openpayments.OutgoingPaymentRequest) (*openpayments.OutgoingPayment, error) {
	f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkToken(token, openpayments.AccessOutgoingPayment); err != nil {
		return nil, err
	}
	q, ok := f.quotes[in.QuoteID]
	if !ok {
		return nil, &openpayments.ProtocolError{Op: "create outgoing payment", URL: resourceServer, StatusCode: 404, Body: "unknown quote"}
	}
	recipient := f.incoming[q.Receiver].WalletAddress
	if err, ok := f.failOutgoing[recipient]; ok {
		return nil, &openpayments.ProtocolError{Op: "create outgoing payment", URL: resourceServer, StatusCode: 500, Body: err.Error()}
	}
	f.outgoing = append(f.outgoing, in)
	debit := q.DebitAmount
	return &openpayments.OutgoingPayment{
		ID:            resourceServer + "/outgoing-payments/" + f.next("op"),
		WalletAddress: in.WalletAddress,
		QuoteID:       in.QuoteID,
		Failed:        f.markFailed[recipient],
		DebitAmount:   &debit,
		Metadata:      in.Metadata,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

func (f *Fake) checkToken(token, accessType string) error {
	item, ok := f.tokens[token]
	if !ok {
		return &openpayments.ProtocolError{Op: accessType, StatusCode: 401, Body: "invalid access token"}
	}
	if item.Type != accessType {
		return &openpayments.ProtocolError{Op: accessType, StatusCode: 403, Body: "token not valid for " + accessType}
	}
	return nil
}
