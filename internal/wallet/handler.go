package wallet

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"splitpay/pkg/platform/httputil"
	"splitpay/pkg/requestcontext"
)

type InfoService interface {
	Info(ctx context.Context, ref string) (*Info, error)
}

type Handler struct {
	svc    InfoService
	logger *slog.Logger
}

func NewHandler(svc InfoService, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/api/payments/wallet", h.handleInfo)
}

func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	info, err := h.svc.Info(ctx, r.URL.Query().Get("walletUrl"))
	if err != nil {
		h.logger.WarnContext(ctx, "wallet lookup failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "Wallet info", info)
}
