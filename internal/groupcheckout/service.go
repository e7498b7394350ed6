package groupcheckout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"splitpay/internal/events"
	"splitpay/internal/openpayments"
	"splitpay/internal/splitpayment/allocation"
	"splitpay/internal/splitpayment/fanout"
	"splitpay/internal/splitpayment/models"
	id "splitpay/pkg/domain"
	dErrors "splitpay/pkg/domain-errors"
	"splitpay/pkg/platform/sentinel"
)

// CallbackPath is where each payer's authorization redirect lands.
const CallbackPath = "/api/op/callback"

// Protocol is the Open Payments subset used by group checkout.
type Protocol interface {
	ResolveWallet(ctx context.Context, ref string) (*openpayments.WalletAddress, error)
	RequestGrant(ctx context.Context, authServer string, req openpayments.GrantRequest) (*openpayments.Grant, error)
	ContinueGrant(ctx context.Context, cont openpayments.Continuation, interactRef string) (*openpayments.Grant, error)
	CreateIncomingPayment(ctx context.Context, resourceServer, token string, in openpayments.IncomingPaymentRequest) (*openpayments.IncomingPayment, error)
	CreateQuote(ctx context.Context, resourceServer, token string, in openpayments.QuoteRequest) (*openpayments.Quote, error)
	CreateOutgoingPayment(ctx context.Context, resourceServer, token string, in openpayments.OutgoingPaymentRequest) (*openpayments.OutgoingPayment, error)
}

// EventPublisher queues lifecycle events.
type EventPublisher interface {
	Emit(ctx context.Context, ev events.Event)
}

// Service runs group checkouts.
type Service struct {
	protocol        Protocol
	store           CorrelationStore
	callbackBaseURL string
	policy          allocation.Policy
	limit           int
	events          EventPublisher
	logger          *slog.Logger
}

type Option func(*Service)

func WithFanOutLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.limit = n
		}
	}
}

func WithEvents(p EventPublisher) Option {
	return func(s *Service) {
		s.events = p
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// New builds a Service. callbackBaseURL is required for Checkout since each
// payer's grant must finish back here.
func New(protocol Protocol, store CorrelationStore, callbackBaseURL string, opts ...Option) *Service {
	s := &Service{
		protocol:        protocol,
		store:           store,
		callbackBaseURL: strings.TrimRight(callbackBaseURL, "/"),
		policy:          allocation.Even{},
		limit:           8,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Checkout splits the total evenly across payers, reserves each share on the
// merchant's wallet and opens one interactive grant per payer. The whole
// checkout fails if any payer cannot be prepared.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if s.callbackBaseURL == "" {
		return nil, dErrors.New(dErrors.CodeUnavailable, "group checkout requires CALLBACK_BASE_URL")
	}
	if err := validateCheckout(req); err != nil {
		return nil, err
	}

	shares, err := s.policy.Allocate(req.TotalMinor, allocation.Parties(len(req.Payers)))
	if err != nil {
		return nil, err
	}

	merchant, err := s.protocol.ResolveWallet(ctx, req.MerchantWallet)
	if err != nil {
		return nil, upstream(err, "merchant wallet "+req.MerchantWallet)
	}
	payers, err := fanout.All(ctx, s.limit, req.Payers, func(ctx context.Context, _ int, ref string) (*openpayments.WalletAddress, error) {
		return s.protocol.ResolveWallet(ctx, ref)
	})
	if err != nil {
		return nil, upstream(err, "payer wallet")
	}

	incomingGrant, err := s.protocol.RequestGrant(ctx, merchant.AuthServer, openpayments.NewGrantRequest(openpayments.AccessItem{
		Type:    openpayments.AccessIncomingPayment,
		Actions: []string{openpayments.ActionCreate},
	}))
	if err == nil && !incomingGrant.IsFinalized() {
		err = errors.New("incoming payment grant requires interaction")
	}
	if err != nil {
		return nil, upstream(err, "merchant incoming payment grant")
	}

	results, err := fanout.All(ctx, s.limit, payers, func(ctx context.Context, i int, payer *openpayments.WalletAddress) (PayerResult, error) {
		res, err := s.preparePayer(ctx, merchant, incomingGrant.AccessToken.Value, payer, shares[i])
		if err != nil {
			return PayerResult{}, fmt.Errorf("%s: %w", payer.ID, err)
		}
		return res, nil
	})
	if err != nil {
		return nil, upstream(err, "group checkout")
	}

	s.logger.InfoContext(ctx, "group checkout prepared",
		"merchant", merchant.ID,
		"payers", len(results),
		"total", req.TotalMinor,
	)
	if s.events != nil {
		s.events.Emit(ctx, events.Event{
			Type: events.TypeGroupCheckout,
			Data: map[string]any{"merchant": merchant.ID, "payers": len(results), "totalMinor": req.TotalMinor},
		})
	}
	return &CheckoutResult{
		Merchant:   merchant.ID,
		TotalMinor: req.TotalMinor,
		Count:      len(results),
		Results:    results,
	}, nil
}

func (s *Service) preparePayer(ctx context.Context, merchant *openpayments.WalletAddress, merchantToken string, payer *openpayments.WalletAddress, share int64) (PayerResult, error) {
	amount := openpayments.NewAmount(share, merchant.AssetCode, merchant.AssetScale)
	incoming, err := s.protocol.CreateIncomingPayment(ctx, merchant.ResourceServer, merchantToken, openpayments.IncomingPaymentRequest{
		WalletAddress:  merchant.ID,
		IncomingAmount: &amount,
		Metadata:       map[string]string{"description": "Group checkout share", "payer": payer.ID},
	})
	if err != nil {
		return PayerResult{}, err
	}

	quoteGrant, err := s.protocol.RequestGrant(ctx, payer.AuthServer, openpayments.NewGrantRequest(openpayments.AccessItem{
		Type:    openpayments.AccessQuote,
		Actions: []string{openpayments.ActionCreate},
	}))
	if err == nil && !quoteGrant.IsFinalized() {
		err = errors.New("quote grant requires interaction")
	}
	if err != nil {
		return PayerResult{}, err
	}
	quote, err := s.protocol.CreateQuote(ctx, payer.ResourceServer, quoteGrant.AccessToken.Value, openpayments.QuoteRequest{
		WalletAddress: payer.ID,
		Receiver:      incoming.ID,
		Method:        openpayments.QuoteMethodILP,
	})
	if err != nil {
		return PayerResult{}, err
	}
	debit, err := quote.DebitAmount.Minor()
	if err != nil {
		return PayerResult{}, fmt.Errorf("quote %s: invalid debit amount %q", quote.ID, quote.DebitAmount.Value)
	}

	nonce, err := id.NewNonce()
	if err != nil {
		return PayerResult{}, err
	}
	limit := openpayments.NewAmount(debit, payer.AssetCode, payer.AssetScale)
	grantReq := openpayments.NewGrantRequest(openpayments.AccessItem{
		Type:       openpayments.AccessOutgoingPayment,
		Actions:    []string{openpayments.ActionCreate, openpayments.ActionRead},
		Identifier: payer.ID,
		Limits:     &openpayments.AccessLimits{DebitAmount: &limit},
	})
	grantReq.Interact = &openpayments.InteractRequest{
		Start: []string{"redirect"},
		Finish: &openpayments.InteractFinish{
			Method: "redirect",
			URI:    s.callbackBaseURL + CallbackPath + "?nonce=" + nonce.String(),
			Nonce:  nonce.String(),
		},
	}
	grant, err := s.protocol.RequestGrant(ctx, payer.AuthServer, grantReq)
	if err == nil && (!grant.IsPending() || grant.Interact == nil || grant.Interact.Redirect == "") {
		err = errors.New("authorization server did not return an interaction redirect")
	}
	if err != nil {
		return PayerResult{}, err
	}

	entry := Entry{
		PayerWallet:         payer.ID,
		PayerResourceServer: payer.ResourceServer,
		MerchantWallet:      merchant.ID,
		QuoteID:             quote.ID,
		DebitAmount:         models.Money{Value: debit, AssetCode: payer.AssetCode, AssetScale: payer.AssetScale},
		Continuation: models.Continuation{
			URI:           grant.Continue.URI,
			Token:         grant.Continue.AccessToken.Value,
			GrantEndpoint: payer.AuthServer,
			ClientNonce:   nonce.String(),
			ServerNonce:   grant.Interact.Finish,
		},
	}
	if err := s.store.Put(ctx, nonce, entry); err != nil {
		return PayerResult{}, fmt.Errorf("store correlation: %w", err)
	}

	return PayerResult{
		Payer:       payer.ID,
		ShareMinor:  share,
		RedirectURL: grant.Interact.Redirect,
		Nonce:       nonce.String(),
	}, nil
}

// Callback consumes the nonce's pending flow, continues the payer's grant and
// creates the payer's outgoing payment. A nonce works at most once. When the
// hash does not match or the payer has not approved yet, the flow is put back
// under the same nonce so the real redirect can still complete it.
func (s *Service) Callback(ctx context.Context, rawNonce, interactRef, hash string) (*CallbackResult, error) {
	if strings.TrimSpace(interactRef) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "interact_ref is required")
	}
	nonce, err := id.ParseNonce(rawNonce)
	if err != nil {
		return nil, err
	}

	entry, err := s.store.Take(ctx, nonce)
	if errors.Is(err, sentinel.ErrNotFound) || errors.Is(err, sentinel.ErrExpired) {
		return nil, dErrors.New(dErrors.CodeNotFound, "checkout flow not found or already used")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "correlation store failed")
	}

	c := entry.Continuation
	if hash != "" {
		if err := openpayments.VerifyInteractHash(c.ClientNonce, c.ServerNonce, interactRef, c.GrantEndpoint, hash); err != nil {
			s.restore(ctx, nonce, *entry)
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, "interaction hash does not match")
		}
	}

	grant, err := s.protocol.ContinueGrant(ctx, openpayments.NewContinuation(c.URI, c.Token), interactRef)
	if errors.Is(err, openpayments.ErrGrantNotFinalized) {
		s.restore(ctx, nonce, *entry)
		return nil, dErrors.Wrap(err, dErrors.CodeConflict, "payer has not authorized the payment yet")
	}
	if err == nil && !grant.IsFinalized() {
		err = errors.New("continued grant carries no access token")
	}
	if err != nil {
		return nil, upstream(err, "grant continuation")
	}

	op, err := s.protocol.CreateOutgoingPayment(ctx, entry.PayerResourceServer, grant.AccessToken.Value, openpayments.OutgoingPaymentRequest{
		WalletAddress: entry.PayerWallet,
		QuoteID:       entry.QuoteID,
		Metadata:      map[string]string{"description": "Group checkout share", "merchant": entry.MerchantWallet},
	})
	if err != nil {
		return nil, upstream(err, "outgoing payment")
	}

	status := "ok"
	if op.Failed {
		status = "failed"
	}
	s.logger.InfoContext(ctx, "group checkout share paid",
		"payer", entry.PayerWallet,
		"outgoing_payment_id", op.ID,
		"failed", op.Failed,
	)
	return &CallbackResult{
		Status:            status,
		Payer:             entry.PayerWallet,
		OutgoingPaymentID: op.ID,
		Failed:            op.Failed,
	}, nil
}

// restore puts a taken entry back. The entry gets a fresh TTL.
func (s *Service) restore(ctx context.Context, nonce id.Nonce, entry Entry) {
	if err := s.store.Put(ctx, nonce, entry); err != nil {
		s.logger.ErrorContext(ctx, "failed to restore group checkout flow",
			"payer", entry.PayerWallet,
			"error", err,
		)
	}
}

func validateCheckout(req CheckoutRequest) error {
	if strings.TrimSpace(req.MerchantWallet) == "" {
		return dErrors.New(dErrors.CodeValidation, "merchantAddress is required")
	}
	if len(req.Payers) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one payer is required")
	}
	for i, p := range req.Payers {
		if strings.TrimSpace(p) == "" {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("payers[%d] is empty", i))
		}
	}
	if req.TotalMinor <= 0 {
		return dErrors.New(dErrors.CodeValidation, "totalAmountMinor must be a positive integer")
	}
	if req.TotalMinor < int64(len(req.Payers)) {
		return dErrors.New(dErrors.CodeValidation, "totalAmountMinor must cover at least one minor unit per payer")
	}
	return nil
}

func upstream(err error, what string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, what+": payment network did not respond in time")
	}
	return dErrors.Wrap(err, dErrors.CodeUpstream, what+": "+err.Error())
}
