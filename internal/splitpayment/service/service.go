// Package service is the split-payment application service: it validates
// requests, runs the orchestration engine, persists every outcome and
// publishes lifecycle events.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"splitpay/internal/events"
	"splitpay/internal/openpayments"
	"splitpay/internal/splitpayment/models"
	"splitpay/internal/splitpayment/orchestrator"
	id "splitpay/pkg/domain"
	dErrors "splitpay/pkg/domain-errors"
	"splitpay/pkg/platform/sentinel"
)

// Store persists split payments.
type Store interface {
	Create(ctx context.Context, sp *models.SplitPayment) error
	FindByID(ctx context.Context, paymentID id.SplitPaymentID) (*models.SplitPayment, error)
	Update(ctx context.Context, sp *models.SplitPayment, expected models.Status) error
	List(ctx context.Context, filter models.ListFilter) ([]*models.SplitPayment, int, error)
}

// Cache holds short-lived snapshots. Get returns sentinel.ErrNotFound on a miss.
type Cache interface {
	Get(ctx context.Context, paymentID id.SplitPaymentID) (*models.SplitPayment, error)
	Set(ctx context.Context, sp *models.SplitPayment) error
	Delete(ctx context.Context, paymentID id.SplitPaymentID) error
}

// Engine runs the orchestration stages.
type Engine interface {
	Allocate(sp *models.SplitPayment) ([]int64, error)
	Initiate(ctx context.Context, sp *models.SplitPayment) error
	Complete(ctx context.Context, sp *models.SplitPayment, interactRef string) error
}

// EventPublisher queues lifecycle events.
type EventPublisher interface {
	Emit(ctx context.Context, ev events.Event)
}

// InitiateRequest is a validated request to start a split payment.
type InitiateRequest struct {
	SenderWallet string
	Recipients   []models.Recipient
	TotalAmount  models.TotalAmount
}

// Service coordinates the engine with persistence.
type Service struct {
	store    Store
	engine   Engine
	cache    Cache
	events   EventPublisher
	logger   *slog.Logger
	now      func() time.Time
	inFlight sync.Map
}

// Option configures a Service.
type Option func(*Service)

// WithCache serves status reads from a snapshot cache.
func WithCache(c Cache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

func WithEvents(p EventPublisher) Option {
	return func(s *Service) {
		s.events = p
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(store Store, engine Engine, opts ...Option) *Service {
	s := &Service{
		store:  store,
		engine: engine,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initiate validates the request, reserves, quotes and requests the
// aggregated grant. Invalid input fails before any protocol call and is not
// persisted; orchestration failures are persisted as FAILED.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (*models.SplitPayment, error) {
	if err := validateInitiate(req); err != nil {
		return nil, err
	}
	sp := models.New(req.SenderWallet, req.Recipients, req.TotalAmount, s.now())
	if _, err := s.engine.Allocate(sp); err != nil {
		return nil, err
	}

	if err := s.engine.Initiate(ctx, sp); err != nil {
		s.logger.ErrorContext(ctx, "split payment initiation failed",
			"split_payment_id", sp.ID.String(),
			"error", err,
		)
		if ferr := sp.Fail(err.Error(), s.now()); ferr == nil {
			if cerr := s.store.Create(ctx, sp); cerr != nil {
				s.logger.ErrorContext(ctx, "failed to persist failed split payment",
					"split_payment_id", sp.ID.String(),
					"error", cerr,
				)
			}
		}
		s.emit(ctx, events.TypeInitiationFailed, sp, map[string]any{"reason": sp.FailureReason})
		return nil, dErrors.WithDetail(toDomainError(err), "splitPaymentId", sp.ID.String())
	}

	if err := s.store.Create(ctx, sp); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save split payment")
	}
	s.cacheSet(ctx, sp)
	s.emit(ctx, events.TypeInitiated, sp, map[string]any{
		"recipients":       len(sp.Recipients),
		"reserved":         len(sp.SuccessfulReservations()),
		"totalDebitAmount": sp.TotalDebitAmount.Value,
		"assetCode":        sp.TotalDebitAmount.AssetCode,
	})
	return sp, nil
}

// Complete continues the aggregated grant and executes the payment.
func (s *Service) Complete(ctx context.Context, paymentID id.SplitPaymentID, interactRef string) (*models.SplitPayment, error) {
	return s.finish(ctx, paymentID, interactRef, nil)
}

// Callback completes a payment from the authorization server's finish
// redirect. When a finish nonce was sent, the redirect hash must match.
func (s *Service) Callback(ctx context.Context, paymentID id.SplitPaymentID, interactRef, hash string) (*models.SplitPayment, error) {
	if strings.TrimSpace(interactRef) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "interact_ref is required")
	}
	return s.finish(ctx, paymentID, interactRef, func(sp *models.SplitPayment) error {
		c := sp.Continuation
		if c == nil || c.ClientNonce == "" {
			return nil
		}
		if hash == "" {
			return dErrors.New(dErrors.CodeValidation, "hash is required")
		}
		if err := openpayments.VerifyInteractHash(c.ClientNonce, c.ServerNonce, interactRef, c.GrantEndpoint, hash); err != nil {
			return dErrors.Wrap(err, dErrors.CodeValidation, "interaction hash does not match")
		}
		return nil
	})
}

func (s *Service) finish(ctx context.Context, paymentID id.SplitPaymentID, interactRef string, verify func(*models.SplitPayment) error) (*models.SplitPayment, error) {
	if _, busy := s.inFlight.LoadOrStore(paymentID, struct{}{}); busy {
		return nil, dErrors.New(dErrors.CodeConflict, "split payment completion already in progress")
	}
	defer s.inFlight.Delete(paymentID)

	sp, err := s.store.FindByID(ctx, paymentID)
	if err != nil {
		return nil, storeError(err)
	}
	if sp.Status != models.StatusPendingAuthorization {
		return nil, dErrors.New(dErrors.CodeConflict, "split payment is already "+string(sp.Status))
	}
	if verify != nil {
		if err := verify(sp); err != nil {
			return nil, err
		}
	}

	runErr := s.engine.Complete(ctx, sp, interactRef)
	if errors.Is(runErr, openpayments.ErrGrantNotFinalized) {
		return nil, dErrors.Wrap(runErr, dErrors.CodeConflict, "payer has not authorized the payment yet")
	}
	if runErr != nil && !sp.Status.IsTerminal() {
		if err := sp.Fail(runErr.Error(), s.now()); err != nil {
			return nil, err
		}
	}

	if err := s.store.Update(ctx, sp, models.StatusPendingAuthorization); err != nil {
		return nil, storeError(err)
	}
	s.cacheDelete(ctx, sp.ID)
	s.emit(ctx, terminalEvent(sp.Status), sp, map[string]any{
		"executions": len(sp.CreatedExecutions()),
		"errors":     len(sp.ExecutionErrors()),
	})

	if runErr != nil {
		return nil, toDomainError(runErr)
	}
	s.logger.InfoContext(ctx, "split payment completed",
		"split_payment_id", sp.ID.String(),
		"status", string(sp.Status),
	)
	return sp, nil
}

// Status returns the current snapshot, preferring the cache.
func (s *Service) Status(ctx context.Context, paymentID id.SplitPaymentID) (*models.SplitPayment, error) {
	if s.cache != nil {
		sp, err := s.cache.Get(ctx, paymentID)
		if err == nil {
			return sp, nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			s.logger.WarnContext(ctx, "snapshot cache read failed",
				"split_payment_id", paymentID.String(),
				"error", err,
			)
		}
	}
	sp, err := s.store.FindByID(ctx, paymentID)
	if err != nil {
		return nil, storeError(err)
	}
	return sp, nil
}

// List returns one page of split payments, newest first.
func (s *Service) List(ctx context.Context, filter models.ListFilter) (models.Page, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = models.DefaultPageLimit
	}
	if filter.Limit > models.MaxPageLimit {
		filter.Limit = models.MaxPageLimit
	}
	items, total, err := s.store.List(ctx, filter)
	if err != nil {
		return models.Page{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list split payments")
	}
	return models.Page{Items: items, Total: total, Page: filter.Page, Limit: filter.Limit}, nil
}

func (s *Service) cacheSet(ctx context.Context, sp *models.SplitPayment) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, sp); err != nil {
		s.logger.WarnContext(ctx, "snapshot cache write failed",
			"split_payment_id", sp.ID.String(),
			"error", err,
		)
	}
}

func (s *Service) cacheDelete(ctx context.Context, paymentID id.SplitPaymentID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, paymentID); err != nil {
		s.logger.WarnContext(ctx, "snapshot cache eviction failed",
			"split_payment_id", paymentID.String(),
			"error", err,
		)
	}
}

func (s *Service) emit(ctx context.Context, typ events.Type, sp *models.SplitPayment, data map[string]any) {
	if s.events == nil {
		return
	}
	s.events.Emit(ctx, events.Event{
		Type:           typ,
		SplitPaymentID: sp.ID.String(),
		Status:         string(sp.Status),
		Data:           data,
	})
}

func terminalEvent(status models.Status) events.Type {
	switch status {
	case models.StatusCompleted:
		return events.TypeCompleted
	case models.StatusPartial:
		return events.TypePartial
	default:
		return events.TypeFailed
	}
}

func validateInitiate(req InitiateRequest) error {
	if strings.TrimSpace(req.SenderWallet) == "" {
		return dErrors.New(dErrors.CodeValidation, "senderWalletUrl is required")
	}
	if strings.TrimSpace(req.TotalAmount.AssetCode) == "" {
		return dErrors.New(dErrors.CodeValidation, "totalAmount.assetCode is required")
	}
	for _, r := range req.Recipients {
		if strings.TrimSpace(r.WalletRef) == "" {
			return dErrors.New(dErrors.CodeValidation, "every recipient needs a walletUrl")
		}
	}
	return nil
}

func storeError(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "split payment not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "split payment was modified concurrently")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "split payment store failed")
	}
}

func toDomainError(err error) error {
	if _, ok := dErrors.As(err); ok {
		return err
	}
	var stage *orchestrator.StageError
	switch {
	case errors.As(err, &stage):
		return dErrors.Wrap(err, dErrors.CodeUpstream, stage.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "payment network did not respond in time")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "split payment failed")
	}
}
