package groupcheckout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"splitpay/internal/openpayments"
	"splitpay/internal/openpayments/optest"
	dErrors "splitpay/pkg/domain-errors"
)

const (
	shopRef  = "https://ilp.test/shop"
	aliceRef = "https://ilp.test/alice"
	bobRef   = "https://ilp.test/bob"
	carolRef = "https://ilp.test/carol"
)

// Justification: group checkout is the only flow that depends on the
// correlation store across a redirect; the suite drives both halves over the
// in-memory network.
type ServiceSuite struct {
	suite.Suite
	net   *optest.Fake
	store *InMemoryStore
	svc   *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.net = optest.New()
	s.net.AddWallet(shopRef, "USD", 2)
	s.net.AddWallet(aliceRef, "USD", 2)
	s.net.AddWallet(bobRef, "USD", 2)
	s.net.AddWallet(carolRef, "USD", 2)
	s.store = NewInMemoryStore(time.Minute)
	s.svc = New(s.net, s.store, "https://splitpay.test/",
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func (s *ServiceSuite) checkout(total int64, payers ...string) *CheckoutResult {
	res, err := s.svc.Checkout(context.Background(), CheckoutRequest{
		MerchantWallet: shopRef,
		TotalMinor:     total,
		Payers:         payers,
	})
	s.Require().NoError(err)
	return res
}

func (s *ServiceSuite) TestCheckoutSplitsEvenly() {
	res := s.checkout(1000, aliceRef, bobRef, carolRef)

	s.Equal(3, res.Count)
	s.Equal([]int64{334, 333, 333}, []int64{res.Results[0].ShareMinor, res.Results[1].ShareMinor, res.Results[2].ShareMinor})
	s.Equal(3, s.store.Len())

	var finishURIs []string
	for _, g := range s.net.GrantRequests() {
		if g.Interact != nil && g.Interact.Finish != nil {
			finishURIs = append(finishURIs, g.Interact.Finish.URI)
			item := g.AccessToken.Access[0]
			s.Equal(openpayments.AccessOutgoingPayment, item.Type)
			s.NotEmpty(item.Limits.DebitAmount.Value)
		}
	}
	s.Require().Len(finishURIs, 3)
	for _, r := range res.Results {
		s.Contains(finishURIs, "https://splitpay.test/api/op/callback?nonce="+r.Nonce)
	}
}

func (s *ServiceSuite) TestCallbackPaysOnceOnly() {
	res := s.checkout(1000, aliceRef, bobRef)
	alice := res.Results[0]
	ref, hash, err := s.net.Approve(alice.RedirectURL)
	s.Require().NoError(err)

	out, err := s.svc.Callback(context.Background(), alice.Nonce, ref, hash)
	s.Require().NoError(err)
	s.Equal("ok", out.Status)
	s.Equal(alice.Payer, out.Payer)
	s.NotEmpty(out.OutgoingPaymentID)
	s.Len(s.net.OutgoingRequests(), 1)

	s.Run("replay is rejected", func() {
		_, err := s.svc.Callback(context.Background(), alice.Nonce, ref, hash)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		s.Len(s.net.OutgoingRequests(), 1)
	})
}

func (s *ServiceSuite) TestCallbackRejectsBadHash() {
	res := s.checkout(500, aliceRef)
	ref, _, err := s.net.Approve(res.Results[0].RedirectURL)
	s.Require().NoError(err)

	_, err = s.svc.Callback(context.Background(), res.Results[0].Nonce, ref, "d3Jvbmc")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Empty(s.net.OutgoingRequests())
	s.Equal(1, s.store.Len(), "a forged callback must not consume the flow")
}

// Justification: a wrong hash or a grant the payer has not approved yet must
// leave the flow in place for the genuine redirect.
func (s *ServiceSuite) TestRecoverableFailuresKeepTheFlow() {
	ctx := context.Background()

	s.Run("forged hash then genuine redirect", func() {
		res := s.checkout(500, aliceRef)
		nonce := res.Results[0].Nonce
		ref, hash, err := s.net.Approve(res.Results[0].RedirectURL)
		s.Require().NoError(err)

		_, err = s.svc.Callback(ctx, nonce, ref, "Zm9yZ2Vk")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		out, err := s.svc.Callback(ctx, nonce, ref, hash)
		s.Require().NoError(err)
		s.Equal("ok", out.Status)
		s.Zero(s.store.Len())
	})

	s.Run("not yet approved then retried", func() {
		res := s.checkout(500, bobRef)
		nonce := res.Results[0].Nonce
		ref, hash, err := s.net.Approve(res.Results[0].RedirectURL)
		s.Require().NoError(err)

		s.net.HoldContinuations()
		_, err = s.svc.Callback(ctx, nonce, ref, hash)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Equal(1, s.store.Len())

		s.net.ReleaseContinuations()
		out, err := s.svc.Callback(ctx, nonce, ref, hash)
		s.Require().NoError(err)
		s.Equal(bobRef, out.Payer)
		s.Zero(s.store.Len())
	})
}

func (s *ServiceSuite) TestCallbackValidatesInput() {
	_, err := s.svc.Callback(context.Background(), "abc", "ref", "")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = s.svc.Callback(context.Background(), "", "", "")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestCheckoutFailsWhenAnyPayerFails() {
	s.net.FailResolve(bobRef, errors.New("dns"))

	_, err := s.svc.Checkout(context.Background(), CheckoutRequest{MerchantWallet: shopRef, TotalMinor: 1000, Payers: []string{aliceRef, bobRef}})
	s.True(dErrors.HasCode(err, dErrors.CodeUpstream))
	s.Zero(s.store.Len())
}

func (s *ServiceSuite) TestCheckoutValidation() {
	cases := map[string]CheckoutRequest{
		"no merchant":       {TotalMinor: 10, Payers: []string{aliceRef}},
		"no payers":         {MerchantWallet: shopRef, TotalMinor: 10},
		"zero total":        {MerchantWallet: shopRef, Payers: []string{aliceRef}},
		"total below count": {MerchantWallet: shopRef, TotalMinor: 1, Payers: []string{aliceRef, bobRef}},
	}
	for name, req := range cases {
		s.Run(name, func() {
			_, err := s.svc.Checkout(context.Background(), req)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation), "got %v", err)
		})
	}
	s.Zero(s.net.Calls())
}

func (s *ServiceSuite) TestCheckoutRequiresCallbackBase() {
	svc := New(s.net, s.store, "")
	_, err := svc.Checkout(context.Background(), CheckoutRequest{MerchantWallet: shopRef, TotalMinor: 10, Payers: []string{aliceRef}})
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}

func (s *ServiceSuite) TestFinishURIIsParseable() {
	res := s.checkout(100, aliceRef)
	for _, g := range s.net.GrantRequests() {
		if g.Interact == nil || g.Interact.Finish == nil {
			continue
		}
		u, err := url.Parse(g.Interact.Finish.URI)
		s.Require().NoError(err)
		s.Equal(CallbackPath, u.Path)
		s.Equal(res.Results[0].Nonce, u.Query().Get("nonce"))
	}
}
