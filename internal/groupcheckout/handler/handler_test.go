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

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"splitpay/internal/groupcheckout"
	"splitpay/internal/groupcheckout/handler/mocks"
	dErrors "splitpay/pkg/domain-errors"
)

func newRouter(t *testing.T) (chi.Router, *mocks.MockService) {
	t.Helper()
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockService(ctrl)
	r := chi.NewRouter()
	New(svc, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	return r, svc
}

func serve(r chi.Router, method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, target, reader))
	return w
}

func TestGroupCheckout(t *testing.T) {
	t.Run("accepts a string total", func(t *testing.T) {
		r, svc := newRouter(t)
		svc.EXPECT().Checkout(gomock.Any(), groupcheckout.CheckoutRequest{
			MerchantWallet: "https://ilp.test/shop",
			TotalMinor:     1000,
			Payers:         []string{"https://ilp.test/alice", "https://ilp.test/bob"},
		}).Return(&groupcheckout.CheckoutResult{Merchant: "https://ilp.test/shop", TotalMinor: 1000, Count: 2}, nil)

		w := serve(r, http.MethodPost, "/api/op/split/group-checkout",
			`{"merchantAddress":"https://ilp.test/shop","totalAmountMinor":"1000","payers":[" https://ilp.test/alice","https://ilp.test/bob"]}`)

		require.Equal(t, http.StatusCreated, w.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, true, body["success"])
		assert.EqualValues(t, 2, body["data"].(map[string]any)["count"])
	})

	t.Run("rejects missing payers", func(t *testing.T) {
		r, _ := newRouter(t)
		w := serve(r, http.MethodPost, "/api/op/split/group-checkout", `{"merchantAddress":"https://ilp.test/shop","totalAmountMinor":10}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects fractional total", func(t *testing.T) {
		r, _ := newRouter(t)
		w := serve(r, http.MethodPost, "/api/op/split/group-checkout", `{"merchantAddress":"m","totalAmountMinor":10.5,"payers":["a"]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestGroupCallback(t *testing.T) {
	t.Run("passes query through", func(t *testing.T) {
		r, svc := newRouter(t)
		svc.EXPECT().Callback(gomock.Any(), "abc", "ref-1", "h").
			Return(&groupcheckout.CallbackResult{Status: "ok", Payer: "https://ilp.test/alice", OutgoingPaymentID: "op-1"}, nil)

		w := serve(r, http.MethodGet, "/api/op/callback?nonce=abc&interact_ref=ref-1&hash=h", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "op-1")
	})

	t.Run("replayed nonce is not found", func(t *testing.T) {
		r, svc := newRouter(t)
		svc.EXPECT().Callback(gomock.Any(), "abc", "ref-1", "").
			Return(nil, dErrors.New(dErrors.CodeNotFound, "checkout flow not found or already used"))

		w := serve(r, http.MethodGet, "/api/op/callback?nonce=abc&interact_ref=ref-1", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
