// Package orchestrator drives a split payment through the protocol:
// reservation fan-out, quote fan-out, aggregated authorization and, after the
// payer approves, execution fan-out and status reconciliation.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"splitpay/internal/openpayments"
	"splitpay/internal/splitpayment/allocation"
	"splitpay/internal/splitpayment/metrics"
	"splitpay/internal/splitpayment/models"
	dErrors "splitpay/pkg/domain-errors"
)

const defaultFanOutLimit = 8

// Engine runs the orchestration stages against a Protocol. It mutates the
// SplitPayment it is given and never persists anything itself.
type Engine struct {
	protocol        Protocol
	policy          allocation.Policy
	callbackBaseURL string
	limit           int
	omission        OmissionPolicy
	logger          *slog.Logger
	metrics         *metrics.Metrics
	tracer          trace.Tracer
	now             func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy sets the allocation policy. Percentage is the default.
func WithPolicy(p allocation.Policy) Option {
	return func(e *Engine) {
		if p != nil {
			e.policy = p
		}
	}
}

// WithCallbackBaseURL makes the aggregated grant request a finish redirect to
// <base>/api/split-payments/callback.
func WithCallbackBaseURL(base string) Option {
	return func(e *Engine) {
		e.callbackBaseURL = base
	}
}

// WithFanOutLimit bounds concurrent protocol calls within one stage.
func WithFanOutLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.limit = n
		}
	}
}

// WithOmissionPolicy sets how omitted recipients affect the final status.
func WithOmissionPolicy(p OmissionPolicy) Option {
	return func(e *Engine) {
		e.omission = p
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New builds an Engine.
func New(protocol Protocol, opts ...Option) *Engine {
	e := &Engine{
		protocol: protocol,
		policy:   allocation.Percentage{},
		limit:    defaultFanOutLimit,
		omission: OmissionIgnore,
		logger:   slog.Default(),
		tracer:   otel.Tracer("splitpay/orchestrator"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Allocate computes per-recipient amounts. It performs no protocol calls.
func (e *Engine) Allocate(sp *models.SplitPayment) ([]int64, error) {
	weights := make([]decimal.Decimal, len(sp.Recipients))
	for i, r := range sp.Recipients {
		weights[i] = r.Percentage
	}
	return e.policy.Allocate(sp.TotalAmount.Value, weights)
}

// Initiate runs allocation, reservation, quoting and authorization. On
// success sp is PENDING_AUTHORIZATION and carries the redirect URL. On
// failure sp holds whatever stage results were produced and is left for the
// caller to mark failed.
func (e *Engine) Initiate(ctx context.Context, sp *models.SplitPayment) error {
	amounts, err := e.Allocate(sp)
	if err != nil {
		return err
	}

	if err := e.reserve(ctx, sp, amounts); err != nil {
		return err
	}

	payer, err := e.quote(ctx, sp)
	if err != nil {
		return err
	}

	return e.authorize(ctx, sp, payer)
}

// Complete continues the aggregated grant and executes every quote. It
// returns openpayments.ErrGrantNotFinalized untouched, leaving sp unchanged,
// when the payer has not approved yet.
func (e *Engine) Complete(ctx context.Context, sp *models.SplitPayment, interactRef string) error {
	if sp.Status != models.StatusPendingAuthorization || sp.Continuation == nil {
		return dErrors.New(dErrors.CodeInvalidState, "split payment is not awaiting authorization")
	}

	token, err := e.continueGrant(ctx, sp, interactRef)
	if err != nil {
		return err
	}
	sp.InteractRef = interactRef

	return e.execute(ctx, sp, token)
}

func (e *Engine) continueGrant(ctx context.Context, sp *models.SplitPayment, interactRef string) (string, error) {
	ctx, done := e.startStage(ctx, StageContinue, sp)
	cont := openpayments.NewContinuation(sp.Continuation.URI, sp.Continuation.Token)
	grant, err := e.protocol.ContinueGrant(ctx, cont, interactRef)
	if errors.Is(err, openpayments.ErrGrantNotFinalized) {
		done(nil)
		return "", err
	}
	if err != nil {
		err = &StageError{Stage: StageContinue, Kind: ErrContinuationFailed, Err: err}
		done(err)
		return "", err
	}
	done(nil)
	return grant.AccessToken.Value, nil
}

// startStage opens a span and returns a func that records the stage's
// duration and outcome.
func (e *Engine) startStage(ctx context.Context, stage string, sp *models.SplitPayment) (context.Context, func(error)) {
	ctx, span := e.tracer.Start(ctx, "splitpayment."+stage, trace.WithAttributes(
		attribute.String("split_payment.id", sp.ID.String()),
		attribute.Int("split_payment.recipients", len(sp.Recipients)),
	))
	start := time.Now()
	return ctx, func(err error) {
		e.metrics.ObserveStage(stage, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
