package orchestrator

import (
	"context"
	"errors"

	"splitpay/internal/openpayments"
	"splitpay/internal/splitpayment/models"
	id "splitpay/pkg/domain"
)

// CallbackPath is where the authorization server sends the payer back.
const CallbackPath = "/api/split-payments/callback"

// authorize requests one interactive outgoing-payment grant whose debit
// limit is the sum of every quote's debit amount.
func (e *Engine) authorize(ctx context.Context, sp *models.SplitPayment, payer *openpayments.WalletAddress) error {
	ctx, done := e.startStage(ctx, StageAuthorize, sp)

	if len(sp.Quotes) == 0 {
		err := &StageError{Stage: StageAuthorize, Kind: ErrAuthorizationFailed, Err: errors.New("no quotes to authorize")}
		done(err)
		return err
	}
	first := sp.Quotes[0].DebitAmount
	total := models.Money{AssetCode: first.AssetCode, AssetScale: first.AssetScale}
	for _, q := range sp.Quotes {
		total.Value += q.DebitAmount.Value
	}

	limit := openpayments.NewAmount(total.Value, total.AssetCode, total.AssetScale)
	req := openpayments.NewGrantRequest(openpayments.AccessItem{
		Type:       openpayments.AccessOutgoingPayment,
		Actions:    []string{openpayments.ActionCreate, openpayments.ActionRead, openpayments.ActionList},
		Identifier: payer.ID,
		Limits:     &openpayments.AccessLimits{DebitAmount: &limit},
	})
	req.Interact = &openpayments.InteractRequest{Start: []string{"redirect"}}

	var clientNonce string
	if e.callbackBaseURL != "" {
		nonce, err := id.NewNonce()
		if err != nil {
			done(err)
			return err
		}
		clientNonce = nonce.String()
		req.Interact.Finish = &openpayments.InteractFinish{
			Method: "redirect",
			URI:    e.callbackBaseURL + CallbackPath + "?splitPaymentId=" + sp.ID.String(),
			Nonce:  clientNonce,
		}
	}

	grant, err := e.protocol.RequestGrant(ctx, payer.AuthServer, req)
	if err == nil && (!grant.IsPending() || grant.Interact == nil || grant.Interact.Redirect == "") {
		err = errors.New("authorization server did not return an interaction redirect")
	}
	if err != nil {
		err = &StageError{Stage: StageAuthorize, Kind: ErrAuthorizationFailed, Err: err}
		done(err)
		return err
	}

	cont := models.Continuation{
		URI:           grant.Continue.URI,
		Token:         grant.Continue.AccessToken.Value,
		GrantEndpoint: payer.AuthServer,
		ClientNonce:   clientNonce,
		ServerNonce:   grant.Interact.Finish,
	}
	if err := sp.AwaitAuthorization(grant.Interact.Redirect, cont, total, e.now()); err != nil {
		done(err)
		return err
	}

	e.metrics.IncPending()
	e.logger.InfoContext(ctx, "authorization requested",
		"split_payment_id", sp.ID.String(),
		"debit_amount", total.Value,
		"asset_code", total.AssetCode,
	)
	done(nil)
	return nil
}
