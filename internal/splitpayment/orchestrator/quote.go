package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"splitpay/internal/openpayments"
	"splitpay/internal/splitpayment/fanout"
	"splitpay/internal/splitpayment/models"
)

// quote prices every successful reservation from the payer's wallet. Any
// single failure aborts the stage and cancels the quotes still in flight.
func (e *Engine) quote(ctx context.Context, sp *models.SplitPayment) (*openpayments.WalletAddress, error) {
	ctx, done := e.startStage(ctx, StageQuote, sp)

	payer, err := e.protocol.ResolveWallet(ctx, sp.SenderWallet)
	if err != nil {
		err = &StageError{Stage: StageQuote, Kind: ErrQuoteFanOutFailed, Err: fmt.Errorf("sender %s: %w", sp.SenderWallet, err)}
		done(err)
		return nil, err
	}

	reserved := sp.SuccessfulReservations()
	quotes, err := fanout.All(ctx, e.limit, reserved, func(ctx context.Context, _ int, r models.ReservationSucceeded) (models.QuoteRecord, error) {
		q, err := e.quoteOne(ctx, payer, r)
		if err != nil {
			e.metrics.IncrementOutcome(StageQuote, "failed")
			return models.QuoteRecord{}, fmt.Errorf("%s: %w", r.WalletRef, err)
		}
		e.metrics.IncrementOutcome(StageQuote, "succeeded")
		return q, nil
	})
	if err != nil {
		err = &StageError{Stage: StageQuote, Kind: ErrQuoteFanOutFailed, Err: err}
		done(err)
		return nil, err
	}
	sp.Quotes = quotes

	e.logger.InfoContext(ctx, "quotes created",
		"split_payment_id", sp.ID.String(),
		"quotes", len(quotes),
	)
	done(nil)
	return payer, nil
}

func (e *Engine) quoteOne(ctx context.Context, payer *openpayments.WalletAddress, r models.ReservationSucceeded) (models.QuoteRecord, error) {
	grant, err := e.protocol.RequestGrant(ctx, payer.AuthServer, openpayments.NewGrantRequest(openpayments.AccessItem{
		Type:    openpayments.AccessQuote,
		Actions: []string{openpayments.ActionCreate, openpayments.ActionRead},
	}))
	if err != nil {
		return models.QuoteRecord{}, err
	}
	if !grant.IsFinalized() {
		return models.QuoteRecord{}, errors.New("quote grant requires interaction")
	}

	q, err := e.protocol.CreateQuote(ctx, payer.ResourceServer, grant.AccessToken.Value, openpayments.QuoteRequest{
		WalletAddress: payer.ID,
		Receiver:      r.ReservationID,
		Method:        openpayments.QuoteMethodILP,
	})
	if err != nil {
		return models.QuoteRecord{}, err
	}

	debit, err := q.DebitAmount.Minor()
	if err != nil {
		return models.QuoteRecord{}, fmt.Errorf("quote %s: invalid debit amount %q", q.ID, q.DebitAmount.Value)
	}
	receive, err := q.ReceiveAmount.Minor()
	if err != nil {
		return models.QuoteRecord{}, fmt.Errorf("quote %s: invalid receive amount %q", q.ID, q.ReceiveAmount.Value)
	}

	return models.QuoteRecord{
		WalletRef:     r.WalletRef,
		Percentage:    r.Percentage,
		QuoteID:       q.ID,
		DebitAmount:   models.Money{Value: debit, AssetCode: q.DebitAmount.AssetCode, AssetScale: q.DebitAmount.AssetScale},
		ReceiveAmount: models.Money{Value: receive, AssetCode: q.ReceiveAmount.AssetCode, AssetScale: q.ReceiveAmount.AssetScale},
		ReservationID: r.ReservationID,
	}, nil
}
