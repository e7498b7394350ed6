package orchestrator

import (
	"context"
	"fmt"

	"splitpay/internal/openpayments"
	"splitpay/internal/splitpayment/fanout"
	"splitpay/internal/splitpayment/models"
)

// execute creates one outgoing payment per quote with the shared token,
// derives the terminal status and finishes sp. It fails only when nothing
// was created and something errored.
func (e *Engine) execute(ctx context.Context, sp *models.SplitPayment, token string) error {
	ctx, done := e.startStage(ctx, StageExecute, sp)

	var executions []models.ExecutionOutcome
	payer, err := e.protocol.ResolveWallet(ctx, sp.SenderWallet)
	if err != nil {
		// Every execution needs the payer's resource server.
		executions = make([]models.ExecutionOutcome, len(sp.Quotes))
		for i, q := range sp.Quotes {
			executions[i] = models.ExecutionErrored{ExecutionTarget: targetOf(q), Error: fmt.Sprintf("sender %s: %v", sp.SenderWallet, err)}
		}
	} else {
		results := fanout.Collect(ctx, e.limit, sp.Quotes, func(ctx context.Context, _ int, q models.QuoteRecord) (models.ExecutionOutcome, error) {
			return e.executeOne(ctx, payer, token, q), nil
		})
		executions = make([]models.ExecutionOutcome, len(results))
		for i, res := range results {
			executions[i] = res.Value
		}
	}

	var failures []string
	for _, x := range executions {
		switch v := x.(type) {
		case models.ExecutionErrored:
			failures = append(failures, v.WalletRef+": "+v.Error)
			e.metrics.IncrementOutcome(StageExecute, "failed")
		case models.ExecutionCreated:
			e.metrics.IncrementOutcome(StageExecute, "succeeded")
		}
	}

	status := DeriveStatus(executions, sp.Omitted(), e.omission)
	if err := sp.Finish(status, executions, e.now()); err != nil {
		done(err)
		return err
	}
	e.metrics.DecPending()
	e.metrics.IncrementTerminal(string(status))

	e.logger.InfoContext(ctx, "split payment executed",
		"split_payment_id", sp.ID.String(),
		"status", string(status),
		"executions", len(executions),
		"errors", len(failures),
	)

	if status == models.StatusFailed {
		err := &StageError{Stage: StageExecute, Kind: ErrNoSuccessfulExecutions, Failures: failures}
		sp.FailureReason = err.Error()
		done(err)
		return err
	}
	done(nil)
	return nil
}

func (e *Engine) executeOne(ctx context.Context, payer *openpayments.WalletAddress, token string, q models.QuoteRecord) models.ExecutionOutcome {
	target := targetOf(q)
	op, err := e.protocol.CreateOutgoingPayment(ctx, payer.ResourceServer, token, openpayments.OutgoingPaymentRequest{
		WalletAddress: payer.ID,
		QuoteID:       q.QuoteID,
		Metadata: map[string]string{
			"description": shareDescription(models.Allocation{Percentage: q.Percentage}),
			"recipient":   q.WalletRef,
		},
	})
	if err != nil {
		e.logger.WarnContext(ctx, "execution failed",
			"recipient", q.WalletRef,
			"quote_id", q.QuoteID,
			"error", err,
		)
		return models.ExecutionErrored{ExecutionTarget: target, Error: err.Error()}
	}
	return models.ExecutionCreated{ExecutionTarget: target, ExecutionID: op.ID, Failed: op.Failed}
}

func targetOf(q models.QuoteRecord) models.ExecutionTarget {
	return models.ExecutionTarget{WalletRef: q.WalletRef, Percentage: q.Percentage, QuoteID: q.QuoteID}
}
