package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"splitpay/internal/splitpayment/models"
	"splitpay/internal/splitpayment/service"
	id "splitpay/pkg/domain"
	dErrors "splitpay/pkg/domain-errors"
	"splitpay/pkg/platform/httputil"
	"splitpay/pkg/requestcontext"
)

// Service defines the split-payment operations exposed over HTTP.
type Service interface {
	Initiate(ctx context.Context, req service.InitiateRequest) (*models.SplitPayment, error)
	Complete(ctx context.Context, paymentID id.SplitPaymentID, interactRef string) (*models.SplitPayment, error)
	Callback(ctx context.Context, paymentID id.SplitPaymentID, interactRef, hash string) (*models.SplitPayment, error)
	Status(ctx context.Context, paymentID id.SplitPaymentID) (*models.SplitPayment, error)
	List(ctx context.Context, filter models.ListFilter) (models.Page, error)
}

// Handler serves /api/split-payments.
type Handler struct {
	svc    Service
	logger *slog.Logger
}

func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the split-payment routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api/split-payments", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/checkout", h.handleCheckout)
		r.Get("/callback", h.handleCallback)
		r.Get("/{id}", h.handleStatus)
		r.Post("/{id}/complete", h.handleComplete)
	})
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CheckoutRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	sp, err := h.svc.Initiate(ctx, req.toInitiate())
	if err != nil {
		h.fail(ctx, w, "split payment initiation failed", err)
		return
	}

	h.logger.InfoContext(ctx, "split payment initiated",
		"request_id", requestID,
		"split_payment_id", sp.ID.String(),
		"reserved", len(sp.SuccessfulReservations()),
	)
	httputil.WriteSuccess(w, http.StatusCreated, "Split payment initiated. Redirect the payer to authorize.", toCheckoutResponse(sp))
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	paymentID, err := id.ParseSplitPaymentID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	interactRef := r.URL.Query().Get("interact_ref")
	var body CompleteRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return
	}
	if body.InteractRef != "" {
		interactRef = strings.TrimSpace(body.InteractRef)
	}

	sp, err := h.svc.Complete(ctx, paymentID, interactRef)
	if err != nil {
		h.fail(ctx, w, "split payment completion failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, completionMessage(sp.Status), toCompleteResponse(sp))
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	paymentID, err := id.ParseSplitPaymentID(q.Get("splitPaymentId"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	sp, err := h.svc.Callback(ctx, paymentID, q.Get("interact_ref"), q.Get("hash"))
	if err != nil {
		h.fail(ctx, w, "split payment callback failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, completionMessage(sp.Status), toCompleteResponse(sp))
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	paymentID, err := id.ParseSplitPaymentID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	sp, err := h.svc.Status(ctx, paymentID)
	if err != nil {
		h.fail(ctx, w, "split payment lookup failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "", toPaymentView(sp))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter, err := parseListFilter(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	page, err := h.svc.List(ctx, filter)
	if err != nil {
		h.fail(ctx, w, "split payment listing failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "", toListResponse(page))
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	code := dErrors.CodeOf(err)
	level := slog.LevelWarn
	if httputil.StatusFor(code) >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"request_id", requestcontext.RequestID(ctx),
		"code", string(code),
		"error", err,
	)
	httputil.WriteError(w, err)
}

func completionMessage(status models.Status) string {
	switch status {
	case models.StatusCompleted:
		return "Split payment completed."
	case models.StatusPartial:
		return "Split payment partially completed."
	default:
		return "Split payment failed."
	}
}
