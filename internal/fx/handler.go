package fx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	dErrors "splitpay/pkg/domain-errors"
	"splitpay/pkg/platform/httputil"
	"splitpay/pkg/requestcontext"
)

// Comparer is the operation the handler serves.
type Comparer interface {
	Compare(ctx context.Context, from, to string) (*Comparison, error)
}

type Handler struct {
	svc    Comparer
	logger *slog.Logger
}

func NewHandler(svc Comparer, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/api/fx/compare", h.handleCompare)
}

// CompareRequest is the body of POST /api/fx/compare.
type CompareRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (r *CompareRequest) Validate() error {
	if strings.TrimSpace(r.From) == "" || strings.TrimSpace(r.To) == "" {
		return dErrors.New(dErrors.CodeValidation, "from and to are required (e.g. USD, EUR, MXN)")
	}
	return nil
}

func (h *Handler) handleCompare(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CompareRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	res, err := h.svc.Compare(ctx, req.From, req.To)
	if err != nil {
		h.logger.WarnContext(ctx, "fx compare failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "FX compare", res)
}
