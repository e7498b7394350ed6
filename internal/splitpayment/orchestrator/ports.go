package orchestrator

import (
	"context"

	"splitpay/internal/openpayments"
)

// Protocol is the subset of Open Payments the orchestration needs. It is
// satisfied by *openpayments.Client and by the in-memory test network.
type Protocol interface {
	ResolveWallet(ctx context.Context, ref string) (*openpayments.WalletAddress, error)
	RequestGrant(ctx context.Context, authServer string, req openpayments.GrantRequest) (*openpayments.Grant, error)
	ContinueGrant(ctx context.Context, cont openpayments.Continuation, interactRef string) (*openpayments.Grant, error)
	CreateIncomingPayment(ctx context.Context, resourceServer, token string, in openpayments.IncomingPaymentRequest) (*openpayments.IncomingPayment, error)
	CreateQuote(ctx context.Context, resourceServer, token string, in openpayments.QuoteRequest) (*openpayments.Quote, error)
	CreateOutgoingPayment(ctx context.Context, resourceServer, token string, in openpayments.OutgoingPaymentRequest) (*openpayments.OutgoingPayment, error)
}
