package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"splitpay/internal/openpayments"
	"splitpay/internal/openpayments/optest"
	"splitpay/internal/splitpayment/models"
	dErrors "splitpay/pkg/domain-errors"
)

const (
	payerRef = "https://ilp.test/payer"
	w1Ref    = "https://ilp.test/w1"
	w2Ref    = "https://ilp.test/w2"
)

// Justification: the engine owns the fan-out and status rules; running it
// against the in-memory network pins every stage end to end without HTTP.
type EngineSuite struct {
	suite.Suite
	net *optest.Fake
	now time.Time
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.net = optest.New()
	s.net.AddWallet(payerRef, "USD", 2)
	s.net.AddWallet(w1Ref, "USD", 2)
	s.net.AddWallet(w2Ref, "USD", 2)
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *EngineSuite) engine(opts ...Option) *Engine {
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return s.now }),
	}
	return New(s.net, append(base, opts...)...)
}

func split(total int64, shares ...any) *models.SplitPayment {
	var recipients []models.Recipient
	for i := 0; i < len(shares); i += 2 {
		recipients = append(recipients, models.Recipient{
			WalletRef:  shares[i].(string),
			Percentage: decimal.RequireFromString(shares[i+1].(string)),
		})
	}
	return models.New(payerRef, recipients, models.TotalAmount{Value: total, AssetCode: "USD"}, time.Now())
}

// approve simulates the payer approving the grant and returns interact_ref.
func (s *EngineSuite) approve(sp *models.SplitPayment) string {
	ref, _, err := s.net.Approve(sp.RedirectURL)
	s.Require().NoError(err)
	return ref
}

func (s *EngineSuite) TestScenarioAllRecipientsReserved() {
	sp := split(1000, w1Ref, "60", w2Ref, "40")

	err := s.engine().Initiate(context.Background(), sp)
	s.Require().NoError(err)

	s.Equal(models.StatusPendingAuthorization, sp.Status)
	s.NotEmpty(sp.RedirectURL)
	s.Require().Len(sp.SuccessfulReservations(), 2)
	s.Equal(int64(600), sp.SuccessfulReservations()[0].Amount)
	s.Equal(int64(400), sp.SuccessfulReservations()[1].Amount)
	s.Require().Len(sp.Quotes, 2)
	s.Equal(w1Ref, sp.Quotes[0].WalletRef)
	s.Equal(w2Ref, sp.Quotes[1].WalletRef)
	s.Require().NotNil(sp.TotalDebitAmount)
	s.Equal(sp.Quotes[0].DebitAmount.Value+sp.Quotes[1].DebitAmount.Value, sp.TotalDebitAmount.Value)
	s.Equal(int64(1000), sp.TotalDebitAmount.Value)

	grants := s.net.GrantRequests()
	aggregated := grants[len(grants)-1]
	s.Require().NotNil(aggregated.Interact)
	s.Equal([]string{"redirect"}, aggregated.Interact.Start)
	s.Nil(aggregated.Interact.Finish, "no finish redirect without a callback base URL")
	item := aggregated.AccessToken.Access[0]
	s.Equal(openpayments.AccessOutgoingPayment, item.Type)
	s.Equal([]string{"create", "read", "list"}, item.Actions)
	s.Equal(payerRef, item.Identifier)
	s.Equal("1000", item.Limits.DebitAmount.Value)
	s.Equal("USD", item.Limits.DebitAmount.AssetCode)

	s.Run("completes after approval", func() {
		err := s.engine().Complete(context.Background(), sp, s.approve(sp))
		s.Require().NoError(err)
		s.Equal(models.StatusCompleted, sp.Status)
		s.Len(sp.CreatedExecutions(), 2)
		s.Empty(sp.ExecutionErrors())
		s.Nil(sp.Continuation)
		s.Require().NotNil(sp.CompletedAt)
		s.Equal(s.now, *sp.CompletedAt)

		out := s.net.OutgoingRequests()
		s.Require().Len(out, 2)
		for _, req := range out {
			s.Equal(payerRef, req.WalletAddress)
			s.Contains([]string{w1Ref, w2Ref}, req.Metadata["recipient"])
			s.Contains([]string{"Split payment - 60% of total", "Split payment - 40% of total"}, req.Metadata["description"])
		}
	})
}

func (s *EngineSuite) TestScenarioOneRecipientUnresolvable() {
	s.net.FailResolve(w2Ref, errors.New("no such host"))
	sp := split(1000, w1Ref, "60", w2Ref, "40")

	err := s.engine().Initiate(context.Background(), sp)
	s.Require().NoError(err)

	s.Equal(models.StatusPendingAuthorization, sp.Status)
	s.Require().Len(sp.SuccessfulReservations(), 1)
	failed := sp.FailedReservations()
	s.Require().Len(failed, 1)
	s.Equal(w2Ref, failed[0].WalletRef)
	s.Equal(int64(400), failed[0].Amount)
	s.Empty(failed[0].AssetCode)
	s.Contains(failed[0].Error, "wallet unresolvable")
	s.Require().Len(sp.Quotes, 1)
	s.Equal(sp.Quotes[0].DebitAmount.Value, sp.TotalDebitAmount.Value)

	s.Run("completes even though a recipient never participated", func() {
		err := s.engine().Complete(context.Background(), sp, s.approve(sp))
		s.Require().NoError(err)
		s.Equal(models.StatusCompleted, sp.Status)
		s.Len(sp.CreatedExecutions(), 1)
	})
}

func (s *EngineSuite) TestOmissionPolicyPartial() {
	s.net.FailResolve(w2Ref, errors.New("no such host"))
	sp := split(1000, w1Ref, "60", w2Ref, "40")
	e := s.engine(WithOmissionPolicy(OmissionPartial))

	s.Require().NoError(e.Initiate(context.Background(), sp))
	s.Require().NoError(e.Complete(context.Background(), sp, s.approve(sp)))
	s.Equal(models.StatusPartial, sp.Status)
}

func (s *EngineSuite) TestScenarioOneExecutionFails() {
	s.net.FailOutgoing(w1Ref, errors.New("insufficient liquidity"))
	sp := split(1000, w1Ref, "50", w2Ref, "50")
	e := s.engine()

	s.Require().NoError(e.Initiate(context.Background(), sp))
	s.Require().NoError(e.Complete(context.Background(), sp, s.approve(sp)))

	s.Equal(models.StatusPartial, sp.Status)
	errs := sp.ExecutionErrors()
	s.Require().Len(errs, 1)
	s.Equal(w1Ref, errs[0].WalletRef)
	s.Contains(errs[0].Error, "insufficient liquidity")
	s.Require().Len(sp.CreatedExecutions(), 1)
	s.Equal(w2Ref, sp.CreatedExecutions()[0].WalletRef)
}

func (s *EngineSuite) TestFlaggedExecutionIsPartial() {
	s.net.MarkOutgoingFailed(w2Ref)
	sp := split(1000, w1Ref, "50", w2Ref, "50")
	e := s.engine()

	s.Require().NoError(e.Initiate(context.Background(), sp))
	s.Require().NoError(e.Complete(context.Background(), sp, s.approve(sp)))

	s.Equal(models.StatusPartial, sp.Status)
	s.Empty(sp.ExecutionErrors())
}

func (s *EngineSuite) TestAllExecutionsFail() {
	s.net.FailOutgoing(w1Ref, errors.New("down"))
	s.net.FailOutgoing(w2Ref, errors.New("down"))
	sp := split(1000, w1Ref, "50", w2Ref, "50")
	e := s.engine()

	s.Require().NoError(e.Initiate(context.Background(), sp))
	err := e.Complete(context.Background(), sp, s.approve(sp))

	s.Require().Error(err)
	s.ErrorIs(err, ErrNoSuccessfulExecutions)
	s.Equal(models.StatusFailed, sp.Status)
	s.Len(sp.ExecutionErrors(), 2)
	s.Contains(sp.FailureReason, w1Ref)
	s.NotNil(sp.FailedAt)
}

func (s *EngineSuite) TestNoSuccessfulReservations() {
	s.net.FailIncoming(w1Ref, errors.New("account closed"))
	s.net.FailResolve(w2Ref, errors.New("no such host"))
	sp := split(1000, w1Ref, "60", w2Ref, "40")

	err := s.engine().Initiate(context.Background(), sp)

	s.Require().Error(err)
	s.ErrorIs(err, ErrNoSuccessfulReservations)
	s.Contains(err.Error(), w1Ref+": ")
	s.Contains(err.Error(), w2Ref+": ")
	s.Len(sp.FailedReservations(), 2)
	s.Equal("USD", sp.FailedReservations()[0].AssetCode)
	s.Empty(sp.Quotes)
	s.Empty(sp.Status)
}

func (s *EngineSuite) TestQuoteFailureAbortsInitiation() {
	s.net.FailQuote(w2Ref, errors.New("no path"))
	sp := split(1000, w1Ref, "60", w2Ref, "40")

	err := s.engine().Initiate(context.Background(), sp)

	s.Require().Error(err)
	s.ErrorIs(err, ErrQuoteFanOutFailed)
	s.Contains(err.Error(), w2Ref)
	s.Empty(sp.Quotes)
	s.Empty(sp.RedirectURL)
}

func (s *EngineSuite) TestUnresolvablePayerAbortsQuoting() {
	s.net.FailResolve(payerRef, errors.New("no such host"))
	sp := split(1000, w1Ref, "100")

	err := s.engine().Initiate(context.Background(), sp)
	s.ErrorIs(err, ErrQuoteFanOutFailed)
	s.ErrorIs(err, openpayments.ErrWalletUnresolvable)
}

func (s *EngineSuite) TestInvalidAllocationMakesNoProtocolCalls() {
	for _, sp := range []*models.SplitPayment{
		split(1000, w1Ref, "60", w2Ref, "30"),
		split(0, w1Ref, "100"),
		split(1000),
	} {
		err := s.engine().Initiate(context.Background(), sp)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	}
	s.Equal(int64(0), s.net.Calls())
}

func (s *EngineSuite) TestRecipientsKeepTheirOwnAsset() {
	s.net.AddWallet("https://ilp.test/eu", "EUR", 2)
	s.net.SetRate("USD", "EUR", 1.5)
	sp := split(1000, w1Ref, "60", "https://ilp.test/eu", "40")

	s.Require().NoError(s.engine().Initiate(context.Background(), sp))

	eu := sp.SuccessfulReservations()[1]
	s.Equal("EUR", eu.AssetCode)
	s.Equal(int64(400), eu.Amount)
	s.Equal(int64(600), sp.Quotes[1].DebitAmount.Value)
	s.Equal("EUR", sp.Quotes[1].ReceiveAmount.AssetCode)
	s.Equal(int64(1200), sp.TotalDebitAmount.Value)
	s.Equal("USD", sp.TotalDebitAmount.AssetCode)
}

func (s *EngineSuite) TestCallbackRedirectIsVerifiable() {
	sp := split(1000, w1Ref, "100")
	e := s.engine(WithCallbackBaseURL("https://app.test"))

	s.Require().NoError(e.Initiate(context.Background(), sp))

	grants := s.net.GrantRequests()
	finish := grants[len(grants)-1].Interact.Finish
	s.Require().NotNil(finish)
	s.Equal("redirect", finish.Method)
	s.Equal("https://app.test/api/split-payments/callback?splitPaymentId="+sp.ID.String(), finish.URI)
	s.Equal(sp.Continuation.ClientNonce, finish.Nonce)

	ref, hash, err := s.net.Approve(sp.RedirectURL)
	s.Require().NoError(err)
	c := sp.Continuation
	s.NoError(openpayments.VerifyInteractHash(c.ClientNonce, c.ServerNonce, ref, c.GrantEndpoint, hash))
}

func (s *EngineSuite) TestCompleteBeforeApprovalLeavesPaymentPending() {
	sp := split(1000, w1Ref, "100")
	e := s.engine()
	s.Require().NoError(e.Initiate(context.Background(), sp))
	s.net.HoldContinuations()

	err := e.Complete(context.Background(), sp, "")

	s.ErrorIs(err, openpayments.ErrGrantNotFinalized)
	s.Equal(models.StatusPendingAuthorization, sp.Status)
	s.NotNil(sp.Continuation)
	s.Empty(sp.Executions)
}

func (s *EngineSuite) TestCompleteRequiresPendingAuthorization() {
	sp := split(1000, w1Ref, "100")
	err := s.engine().Complete(context.Background(), sp, "ref")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	s.Equal(int64(0), s.net.Calls())
}

func (s *EngineSuite) TestZeroShareIsRecordedWithoutReserving() {
	sp := split(1, w1Ref, "50", w2Ref, "50")

	err := s.engine().Initiate(context.Background(), sp)

	s.ErrorIs(err, ErrNoSuccessfulReservations)
	for _, f := range sp.FailedReservations() {
		s.Contains(f.Error, "zero")
		s.Equal("USD", f.AssetCode)
	}
}
