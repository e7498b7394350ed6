package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"splitpay/internal/openpayments"
	"splitpay/internal/splitpayment/fanout"
	"splitpay/internal/splitpayment/models"
)

var errZeroAllocation = errors.New("allocated amount rounds down to zero")

// reserve creates one incoming payment per recipient in the recipient's own
// asset. Individual failures are recorded; the stage fails only when nothing
// was reserved.
func (e *Engine) reserve(ctx context.Context, sp *models.SplitPayment, amounts []int64) error {
	ctx, done := e.startStage(ctx, StageReserve, sp)

	results := fanout.Collect(ctx, e.limit, sp.Recipients, func(ctx context.Context, i int, r models.Recipient) (models.ReservationOutcome, error) {
		return e.reserveOne(ctx, models.Allocation{
			WalletRef:  r.WalletRef,
			Percentage: r.Percentage,
			Amount:     amounts[i],
		}), nil
	})

	sp.Reservations = make([]models.ReservationOutcome, len(results))
	var failures []string
	for i, res := range results {
		sp.Reservations[i] = res.Value
		if f, ok := res.Value.(models.ReservationFailed); ok {
			failures = append(failures, f.WalletRef+": "+f.Error)
			e.metrics.IncrementOutcome(StageReserve, "failed")
			continue
		}
		e.metrics.IncrementOutcome(StageReserve, "succeeded")
	}

	if len(failures) == len(results) {
		err := &StageError{Stage: StageReserve, Kind: ErrNoSuccessfulReservations, Failures: failures}
		done(err)
		return err
	}

	e.logger.InfoContext(ctx, "reservations created",
		"split_payment_id", sp.ID.String(),
		"succeeded", len(results)-len(failures),
		"failed", len(failures),
	)
	done(nil)
	return nil
}

func (e *Engine) reserveOne(ctx context.Context, alloc models.Allocation) models.ReservationOutcome {
	wallet, err := e.protocol.ResolveWallet(ctx, alloc.WalletRef)
	if err != nil {
		return e.reservationFailed(ctx, alloc, nil, err)
	}
	if alloc.Amount <= 0 {
		return e.reservationFailed(ctx, alloc, wallet, errZeroAllocation)
	}

	grant, err := e.protocol.RequestGrant(ctx, wallet.AuthServer, openpayments.NewGrantRequest(openpayments.AccessItem{
		Type:    openpayments.AccessIncomingPayment,
		Actions: []string{openpayments.ActionCreate, openpayments.ActionRead},
	}))
	if err != nil {
		return e.reservationFailed(ctx, alloc, wallet, err)
	}
	if !grant.IsFinalized() {
		return e.reservationFailed(ctx, alloc, wallet, errors.New("incoming payment grant requires interaction"))
	}

	amount := openpayments.NewAmount(alloc.Amount, wallet.AssetCode, wallet.AssetScale)
	ip, err := e.protocol.CreateIncomingPayment(ctx, wallet.ResourceServer, grant.AccessToken.Value, openpayments.IncomingPaymentRequest{
		WalletAddress:  wallet.ID,
		IncomingAmount: &amount,
		Metadata: map[string]string{
			"description": shareDescription(alloc),
		},
	})
	if err != nil {
		return e.reservationFailed(ctx, alloc, wallet, err)
	}

	return models.ReservationSucceeded{
		Allocation:    alloc,
		AssetCode:     wallet.AssetCode,
		AssetScale:    wallet.AssetScale,
		ReservationID: ip.ID,
	}
}

// reservationFailed records err. When the wallet was never resolved it is
// looked up once more so the failure can still report the recipient's asset.
func (e *Engine) reservationFailed(ctx context.Context, alloc models.Allocation, wallet *openpayments.WalletAddress, err error) models.ReservationOutcome {
	e.logger.WarnContext(ctx, "reservation failed",
		"recipient", alloc.WalletRef,
		"amount", alloc.Amount,
		"error", err,
	)
	out := models.ReservationFailed{Allocation: alloc, Error: err.Error()}
	if wallet == nil {
		if w, rerr := e.protocol.ResolveWallet(ctx, alloc.WalletRef); rerr == nil {
			wallet = w
		}
	}
	if wallet != nil {
		out.AssetCode = wallet.AssetCode
	}
	return out
}

func shareDescription(alloc models.Allocation) string {
	return fmt.Sprintf("Split payment - %s%% of total", alloc.Percentage.String())
}
