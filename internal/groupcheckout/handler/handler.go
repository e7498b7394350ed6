package handler

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"splitpay/internal/groupcheckout"
	dErrors "splitpay/pkg/domain-errors"
	"splitpay/pkg/platform/httputil"
	"splitpay/pkg/requestcontext"
)

// Service defines the group checkout operations exposed over HTTP.
type Service interface {
	Checkout(ctx context.Context, req groupcheckout.CheckoutRequest) (*groupcheckout.CheckoutResult, error)
	Callback(ctx context.Context, nonce, interactRef, hash string) (*groupcheckout.CallbackResult, error)
}

type Handler struct {
	svc    Service
	logger *slog.Logger
}

func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/api/op/split/group-checkout", h.handleCheckout)
	r.Get("/api/op/callback", h.handleCallback)
}

// minorAmount accepts an integer as a JSON number or a numeric string.
type minorAmount int64

func (m *minorAmount) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return dErrors.New(dErrors.CodeValidation, "totalAmountMinor must be an integer")
	}
	*m = minorAmount(n)
	return nil
}

// GroupCheckoutRequest is the body of POST /api/op/split/group-checkout.
type GroupCheckoutRequest struct {
	MerchantAddress  string      `json:"merchantAddress"`
	TotalAmountMinor minorAmount `json:"totalAmountMinor"`
	Payers           []string    `json:"payers"`
}

func (r *GroupCheckoutRequest) Validate() error {
	if strings.TrimSpace(r.MerchantAddress) == "" || len(r.Payers) == 0 {
		return dErrors.New(dErrors.CodeValidation, "merchantAddress and payers[] are required")
	}
	if r.TotalAmountMinor <= 0 {
		return dErrors.New(dErrors.CodeValidation, "totalAmountMinor must be a positive integer")
	}
	return nil
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[GroupCheckoutRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	payers := make([]string, len(req.Payers))
	for i, p := range req.Payers {
		payers[i] = strings.TrimSpace(p)
	}

	res, err := h.svc.Checkout(ctx, groupcheckout.CheckoutRequest{
		MerchantWallet: strings.TrimSpace(req.MerchantAddress),
		TotalMinor:     int64(req.TotalAmountMinor),
		Payers:         payers,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "group checkout failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusCreated, "group-checkout", res)
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	res, err := h.svc.Callback(ctx, q.Get("nonce"), q.Get("interact_ref"), q.Get("hash"))
	if err != nil {
		h.logger.WarnContext(ctx, "group checkout callback failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "callback", res)
}
