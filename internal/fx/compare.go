package fx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"splitpay/internal/openpayments"
	dErrors "splitpay/pkg/domain-errors"
)

// SendMajor is the amount, in major units of the payer asset, quoted for a
// comparison.
const SendMajor = 100

// Protocol is the Open Payments subset needed to obtain a quote.
type Protocol interface {
	ResolveWallet(ctx context.Context, ref string) (*openpayments.WalletAddress, error)
	RequestGrant(ctx context.Context, authServer string, req openpayments.GrantRequest) (*openpayments.Grant, error)
	CreateIncomingPayment(ctx context.Context, resourceServer, token string, in openpayments.IncomingPaymentRequest) (*openpayments.IncomingPayment, error)
	CreateQuote(ctx context.Context, resourceServer, token string, in openpayments.QuoteRequest) (*openpayments.Quote, error)
}

// MarketRater supplies a reference market rate.
type MarketRater interface {
	MarketRate(ctx context.Context, from, to string) (float64, string, error)
}

type NetworkQuote struct {
	Rate          float64             `json:"rate"`
	DebitAmount   openpayments.Amount `json:"debitAmount"`
	ReceiveAmount openpayments.Amount `json:"receiveAmount"`
	QuoteID       string              `json:"quoteId"`
}

type MarketQuote struct {
	Rate   *float64 `json:"rate"`
	Source string   `json:"source,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// Comparison is the network quote next to the market rate. DeltaPct is
// (network - market) / market * 100 and nil when no market rate was found.
type Comparison struct {
	From      string       `json:"from"`
	To        string       `json:"to"`
	SendMajor int64        `json:"sendMajor"`
	SendMinor string       `json:"sendMinor"`
	ILP       NetworkQuote `json:"ilp"`
	Market    MarketQuote  `json:"market"`
	DeltaPct  *float64     `json:"deltaPct"`
}

// Service runs comparisons between configured demo wallets.
type Service struct {
	protocol Protocol
	market   MarketRater
	wallets  map[string]string
	logger   *slog.Logger
}

// NewService builds a Service. wallets maps an asset code to a wallet that
// holds that asset.
func NewService(protocol Protocol, market MarketRater, wallets map[string]string, logger *slog.Logger) *Service {
	return &Service{protocol: protocol, market: market, wallets: wallets, logger: logger}
}

// Supported lists the asset codes with a demo wallet, sorted.
func (s *Service) Supported() []string {
	out := make([]string, 0, len(s.wallets))
	for code := range s.wallets {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// Compare quotes SendMajor units of from into to and looks up the market
// rate. A missing market rate is reported in the result, not as an error.
func (s *Service) Compare(ctx context.Context, from, to string) (*Comparison, error) {
	from, to = NormalizeCode(from), NormalizeCode(to)
	if from == "" || to == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "from and to are required (e.g. USD, EUR, MXN)")
	}
	payerRef, okFrom := s.wallets[from]
	receiverRef, okTo := s.wallets[to]
	if !okFrom || !okTo {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unsupported currency pair, supported: %v", s.Supported()))
	}

	quote, sendMinor, err := s.networkQuote(ctx, payerRef, receiverRef)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUpstream, "network quote failed: "+err.Error())
	}

	debit, err := majorUnits(quote.DebitAmount)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUpstream, "invalid quote debit amount")
	}
	receive, err := majorUnits(quote.ReceiveAmount)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUpstream, "invalid quote receive amount")
	}
	var networkRate float64
	if debit > 0 {
		networkRate = receive / debit
	}

	out := &Comparison{
		From:      from,
		To:        to,
		SendMajor: SendMajor,
		SendMinor: fmt.Sprint(sendMinor),
		ILP: NetworkQuote{
			Rate:          networkRate,
			DebitAmount:   quote.DebitAmount,
			ReceiveAmount: quote.ReceiveAmount,
			QuoteID:       quote.ID,
		},
	}

	rate, source, err := s.market.MarketRate(ctx, from, to)
	if err != nil {
		s.logger.WarnContext(ctx, "market rate unavailable", "from", from, "to", to, "error", err)
		out.Market = MarketQuote{Error: "market-rate-unavailable"}
		return out, nil
	}
	out.Market = MarketQuote{Rate: &rate, Source: source}
	if networkRate > 0 {
		delta := (networkRate - rate) / rate * 100
		out.DeltaPct = &delta
	}
	return out, nil
}

func (s *Service) networkQuote(ctx context.Context, payerRef, receiverRef string) (*openpayments.Quote, int64, error) {
	payer, err := s.protocol.ResolveWallet(ctx, payerRef)
	if err != nil {
		return nil, 0, err
	}
	receiver, err := s.protocol.ResolveWallet(ctx, receiverRef)
	if err != nil {
		return nil, 0, err
	}

	incomingGrant, err := s.protocol.RequestGrant(ctx, receiver.AuthServer, openpayments.NewGrantRequest(openpayments.AccessItem{
		Type:    openpayments.AccessIncomingPayment,
		Actions: []string{openpayments.ActionCreate},
	}))
	if err == nil && !incomingGrant.IsFinalized() {
		err = errors.New("incoming payment grant requires interaction")
	}
	if err != nil {
		return nil, 0, err
	}
	incoming, err := s.protocol.CreateIncomingPayment(ctx, receiver.ResourceServer, incomingGrant.AccessToken.Value, openpayments.IncomingPaymentRequest{
		WalletAddress: receiver.ID,
	})
	if err != nil {
		return nil, 0, err
	}

	quoteGrant, err := s.protocol.RequestGrant(ctx, payer.AuthServer, openpayments.NewGrantRequest(openpayments.AccessItem{
		Type:    openpayments.AccessQuote,
		Actions: []string{openpayments.ActionCreate},
	}))
	if err == nil && !quoteGrant.IsFinalized() {
		err = errors.New("quote grant requires interaction")
	}
	if err != nil {
		return nil, 0, err
	}

	sendMinor := int64(SendMajor) * int64(math.Pow10(int(payer.AssetScale)))
	debit := openpayments.NewAmount(sendMinor, payer.AssetCode, payer.AssetScale)
	quote, err := s.protocol.CreateQuote(ctx, payer.ResourceServer, quoteGrant.AccessToken.Value, openpayments.QuoteRequest{
		WalletAddress: payer.ID,
		Receiver:      incoming.ID,
		Method:        openpayments.QuoteMethodILP,
		DebitAmount:   &debit,
	})
	if err != nil {
		return nil, 0, err
	}
	return quote, sendMinor, nil
}

func majorUnits(a openpayments.Amount) (float64, error) {
	minor, err := a.Minor()
	if err != nil {
		return 0, err
	}
	return float64(minor) / math.Pow10(int(a.AssetScale)), nil
}
