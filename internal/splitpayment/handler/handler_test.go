package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"splitpay/internal/splitpayment/handler/mocks"
	"splitpay/internal/splitpayment/models"
	"splitpay/internal/splitpayment/service"
	id "splitpay/pkg/domain"
	dErrors "splitpay/pkg/domain-errors"
)

// Justification: the handler owns request validation, status mapping and the
// public response shape; the service is mocked so each test pins one of those.
type HandlerSuite struct {
	suite.Suite
	svc    *mocks.MockService
	router chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.svc = mocks.NewMockService(ctrl)
	s.router = chi.NewRouter()
	New(s.svc, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(s.router)
}

func (s *HandlerSuite) do(method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var out map[string]any
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w, out
}

func pending() *models.SplitPayment {
	sp := models.New("https://ilp.test/payer", []models.Recipient{
		{WalletRef: "https://ilp.test/w1", Percentage: decimal.NewFromInt(60)},
		{WalletRef: "https://ilp.test/w2", Percentage: decimal.NewFromInt(40)},
	}, models.TotalAmount{Value: 1000, AssetCode: "USD"}, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	sp.Reservations = []models.ReservationOutcome{
		models.ReservationSucceeded{
			Allocation:    models.Allocation{WalletRef: "https://ilp.test/w1", Percentage: decimal.NewFromInt(60), Amount: 600},
			AssetCode:     "USD",
			AssetScale:    2,
			ReservationID: "https://rs.test/incoming/1",
		},
		models.ReservationFailed{
			Allocation: models.Allocation{WalletRef: "https://ilp.test/w2", Percentage: decimal.NewFromInt(40), Amount: 400},
			Error:      "wallet unreachable",
		},
	}
	_ = sp.AwaitAuthorization("https://auth.test/interact/1",
		models.Continuation{URI: "https://auth.test/continue/1", Token: "secret-continue-token"},
		models.Money{Value: 600, AssetCode: "USD", AssetScale: 2},
		sp.CreatedAt)
	return sp
}

const checkoutBody = `{
	"senderWalletUrl": "https://ilp.test/payer",
	"recipients": [
		{"walletUrl": "https://ilp.test/w1", "percentage": 60},
		{"walletUrl": "https://ilp.test/w2", "percentage": "40"}
	],
	"totalAmount": {"value": 1000, "assetCode": "USD"}
}`

func (s *HandlerSuite) TestCheckout() {
	sp := pending()
	s.svc.EXPECT().Initiate(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ any, req service.InitiateRequest) (*models.SplitPayment, error) {
			s.Equal("https://ilp.test/payer", req.SenderWallet)
			s.Equal(int64(1000), req.TotalAmount.Value)
			s.Require().Len(req.Recipients, 2)
			s.True(req.Recipients[1].Percentage.Equal(decimal.NewFromInt(40)))
			return sp, nil
		})

	w, body := s.do(http.MethodPost, "/api/split-payments/checkout", checkoutBody)

	s.Equal(http.StatusCreated, w.Code)
	s.Equal(true, body["success"])
	data := body["data"].(map[string]any)
	s.Equal(sp.ID.String(), data["splitPaymentId"])
	s.Equal("https://auth.test/interact/1", data["redirectUrl"])
	summary := data["summary"].(map[string]any)
	s.EqualValues(2, summary["totalRecipients"])
	s.EqualValues(1, summary["successfulRecipients"])
	s.EqualValues(1, summary["failedRecipients"])
	errs := data["errors"].([]any)
	s.Require().Len(errs, 1)
	s.Equal("https://ilp.test/w2", errs[0].(map[string]any)["recipient"])
	s.NotContains(w.Body.String(), "secret-continue-token")
}

func (s *HandlerSuite) TestCheckoutRejectsMalformedInput() {
	cases := map[string]string{
		"empty recipients":   `{"senderWalletUrl":"https://ilp.test/payer","recipients":[],"totalAmount":{"value":10,"assetCode":"USD"}}`,
		"non-positive total": `{"senderWalletUrl":"https://ilp.test/payer","recipients":[{"walletUrl":"a","percentage":100}],"totalAmount":{"value":0,"assetCode":"USD"}}`,
		"missing amount":     `{"senderWalletUrl":"https://ilp.test/payer","recipients":[{"walletUrl":"a","percentage":100}]}`,
		"percentage range":   `{"senderWalletUrl":"https://ilp.test/payer","recipients":[{"walletUrl":"a","percentage":120}],"totalAmount":{"value":10,"assetCode":"USD"}}`,
		"sum not 100":        `{"senderWalletUrl":"https://ilp.test/payer","recipients":[{"walletUrl":"a","percentage":60},{"walletUrl":"b","percentage":30}],"totalAmount":{"value":10,"assetCode":"USD"}}`,
		"not json":           `{`,
	}
	for name, body := range cases {
		s.Run(name, func() {
			w, out := s.do(http.MethodPost, "/api/split-payments/checkout", body)
			s.Equal(http.StatusBadRequest, w.Code)
			s.NotEmpty(out["error"])
		})
	}
}

func (s *HandlerSuite) TestCheckoutUpstreamFailure() {
	s.svc.EXPECT().Initiate(gomock.Any(), gomock.Any()).
		Return(nil, dErrors.New(dErrors.CodeUpstream, "no successful reservations: https://ilp.test/w1: timeout"))

	w, body := s.do(http.MethodPost, "/api/split-payments/checkout", checkoutBody)

	s.Equal(http.StatusBadGateway, w.Code)
	s.Contains(body["error_description"], "no successful reservations")
}

func (s *HandlerSuite) TestComplete() {
	sp := pending()
	executions := []models.ExecutionOutcome{
		models.ExecutionCreated{
			ExecutionTarget: models.ExecutionTarget{WalletRef: "https://ilp.test/w1", Percentage: decimal.NewFromInt(60), QuoteID: "q1"},
			ExecutionID:     "https://rs.test/outgoing/1",
		},
	}
	s.Require().NoError(sp.Finish(models.StatusCompleted, executions, sp.CreatedAt))
	s.svc.EXPECT().Complete(gomock.Any(), sp.ID, "ref-1").Return(sp, nil)

	w, body := s.do(http.MethodPost, "/api/split-payments/"+sp.ID.String()+"/complete", `{"interactRef":"ref-1"}`)

	s.Equal(http.StatusOK, w.Code)
	data := body["data"].(map[string]any)
	s.Equal("COMPLETED", data["status"])
	summary := data["summary"].(map[string]any)
	s.EqualValues(1, summary["total"])
	s.EqualValues(1, summary["successful"])
	s.EqualValues(0, summary["errors"])
}

func (s *HandlerSuite) TestCompleteWithoutBody() {
	paymentID := id.NewSplitPaymentID()
	s.svc.EXPECT().Complete(gomock.Any(), paymentID, "").
		Return(nil, dErrors.New(dErrors.CodeConflict, "payer has not authorized the payment yet"))

	w, body := s.do(http.MethodPost, "/api/split-payments/"+paymentID.String()+"/complete", "")

	s.Equal(http.StatusConflict, w.Code)
	s.Equal("conflict", body["error"])
}

func (s *HandlerSuite) TestCallbackPassesHash() {
	sp := pending()
	s.Require().NoError(sp.Finish(models.StatusPartial, []models.ExecutionOutcome{
		models.ExecutionErrored{
			ExecutionTarget: models.ExecutionTarget{WalletRef: "https://ilp.test/w1", QuoteID: "q1"},
			Error:           "insufficient liquidity",
		},
		models.ExecutionCreated{
			ExecutionTarget: models.ExecutionTarget{WalletRef: "https://ilp.test/w2", QuoteID: "q2"},
			ExecutionID:     "out-2",
		},
	}, sp.CreatedAt))
	s.svc.EXPECT().Callback(gomock.Any(), sp.ID, "ref-9", "abc").Return(sp, nil)

	w, body := s.do(http.MethodGet, "/api/split-payments/callback?splitPaymentId="+sp.ID.String()+"&interact_ref=ref-9&hash=abc", "")

	s.Equal(http.StatusOK, w.Code)
	data := body["data"].(map[string]any)
	s.Equal("PARTIAL", data["status"])
	s.Len(data["errors"], 1)
}

func (s *HandlerSuite) TestStatus() {
	s.Run("found", func() {
		sp := pending()
		s.svc.EXPECT().Status(gomock.Any(), sp.ID).Return(sp, nil)

		w, body := s.do(http.MethodGet, "/api/split-payments/"+sp.ID.String(), "")

		s.Equal(http.StatusOK, w.Code)
		data := body["data"].(map[string]any)
		s.Equal("PENDING_AUTHORIZATION", data["status"])
		s.Len(data["reservations"], 2)
		s.NotContains(w.Body.String(), "secret-continue-token")
	})
	s.Run("not found", func() {
		paymentID := id.NewSplitPaymentID()
		s.svc.EXPECT().Status(gomock.Any(), paymentID).Return(nil, dErrors.New(dErrors.CodeNotFound, "split payment not found"))

		w, _ := s.do(http.MethodGet, "/api/split-payments/"+paymentID.String(), "")
		s.Equal(http.StatusNotFound, w.Code)
	})
	s.Run("malformed id", func() {
		w, _ := s.do(http.MethodGet, "/api/split-payments/not-a-uuid", "")
		s.Equal(http.StatusBadRequest, w.Code)
	})
}

func (s *HandlerSuite) TestList() {
	s.svc.EXPECT().List(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ any, f models.ListFilter) (models.Page, error) {
			s.Equal(2, f.Page)
			s.Equal(5, f.Limit)
			s.Equal(models.StatusCompleted, f.Status)
			s.Equal("https://ilp.test/w1", f.WalletRef)
			s.Require().NotNil(f.EndDate)
			s.Equal(23, f.EndDate.Hour())
			return models.Page{Items: []*models.SplitPayment{pending()}, Total: 6, Page: 2, Limit: 5}, nil
		})

	w, body := s.do(http.MethodGet, "/api/split-payments?page=2&limit=5&status=completed&walletUrl=https://ilp.test/w1&endDate=2026-03-01", "")

	s.Equal(http.StatusOK, w.Code)
	data := body["data"].(map[string]any)
	s.EqualValues(2, data["totalPages"])
	s.Len(data["payments"], 1)

	s.Run("limit out of range", func() {
		w, _ := s.do(http.MethodGet, "/api/split-payments?limit=101", "")
		s.Equal(http.StatusBadRequest, w.Code)
	})
}
