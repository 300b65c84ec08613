package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	dominv "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
	domoutbox "github.com/Zhima-Mochi/minishop-saga/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability/logctx"
	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/apperr"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	inventoryService  = "inventory-service"
	useCaseReserve    = "inventory.reserve"
	useCaseRelease    = "inventory.release"
	spanPrefix        = "UC."
	publishPeer       = "outbox"
	publishTimeout    = 300 * time.Millisecond
	defaultAttempts   = 3
	defaultRetryDelay = 10 * time.Millisecond
)

// RetryPolicy bounds how often a conflicting stock write is retried.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultAttempts
	}
	if p.Backoff < 0 {
		p.Backoff = defaultRetryDelay
	}
	return p
}

type ReserveStockInput struct {
	Lines []dominv.Line
}

type ReserveStockResult struct {
	Lines     []dominv.Line
	Remaining map[string]int
}

// ReserveStockUseCase deducts stock for a whole request or for none of it.
type ReserveStockUseCase struct {
	repo      dominv.Repository
	guard     *CacheGuard
	publisher domoutbox.Publisher
	retry     RetryPolicy

	log          observability.Logger
	tracer       observability.Tracer
	reqCounter   observability.Counter
	durHistogram observability.Histogram
	extCounter   observability.Counter
	extHistogram observability.Histogram
	retryCounter observability.Counter
}

func NewReserveStockUseCase(
	repo dominv.Repository,
	guard *CacheGuard,
	publisher domoutbox.Publisher,
	retry RetryPolicy,
	tel observability.Observability,
) *ReserveStockUseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	m := tel.Metrics()
	return &ReserveStockUseCase{
		repo:         repo,
		guard:        guard,
		publisher:    publisher,
		retry:        retry.normalized(),
		log:          tel.Logger().With(observability.F("service", inventoryService)),
		tracer:       tel.Tracer(),
		reqCounter:   m.Counter(observability.MUsecaseRequests),
		durHistogram: m.Histogram(observability.MUsecaseDuration),
		extCounter:   m.Counter(observability.MExternalRequests),
		extHistogram: m.Histogram(observability.MExternalRequestDuration),
		retryCounter: m.Counter(observability.MStockReservationRetries),
	}
}

// Execute applies a conditional decrement per product. If any product falls
// short, decrements already applied by this call are credited back before
// returning.
func (uc *ReserveStockUseCase) Execute(ctx context.Context, in ReserveStockInput) (_ *ReserveStockResult, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(observability.F("use_case", useCaseReserve))

	ctx, span := uc.tracer.Start(ctx, spanPrefix+"ReserveStock",
		attribute.String("use_case", useCaseReserve),
		attribute.Int("inventory.lines", len(in.Lines)),
	)
	start := time.Now()
	outcome, statusText := observability.OutcomeSuccess, "OK"
	retries := 0
	var rollbackErr error

	defer func() {
		if span != nil {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, statusText)
			} else {
				span.SetStatus(codes.Ok, statusText)
			}
			span.End()
		}

		latency := time.Since(start).Seconds()
		uc.reqCounter.Add(1,
			observability.L("use_case", useCaseReserve),
			observability.L("outcome", outcome),
		)
		uc.durHistogram.Observe(latency,
			observability.L("use_case", useCaseReserve),
		)

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", latency),
			observability.F("lines", len(in.Lines)),
			observability.F("retries", retries),
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		if rollbackErr != nil {
			fields = append(fields, observability.F("rollback_error", rollbackErr.Error()))
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logger.Info("use_case_done", fields...)
	}()

	lines, merr := dominv.MergeLines(in.Lines)
	if merr != nil {
		outcome, statusText = observability.OutcomeError, "INVALID_LINES"
		return nil, apperr.Wrap(apperr.KindValidation, apperr.CodeValidationFailed, "invalid reservation items", merr)
	}

	applied := make([]dominv.Line, 0, len(lines))
	remaining := make(map[string]int, len(lines))
	for _, line := range lines {
		left, derr := uc.deduct(ctx, line, &retries)
		if derr == nil {
			applied = append(applied, line)
			remaining[line.ProductID] = left
			continue
		}

		// Undo what this call already took, even if the caller has gone away.
		rollbackErr = uc.rollback(context.WithoutCancel(ctx), applied)
		if len(applied) > 0 {
			_ = uc.guard.Invalidate(ctx, dominv.LineProductIDs(applied)...)
		}
		if rollbackErr != nil {
			outcome, statusText = observability.OutcomeError, "ROLLBACK_FAILED"
			return nil, apperr.ReconciliationRequired(
				"stock reservation could not be rolled back",
				dominv.LineProductIDs(applied),
				errors.Join(dominv.ErrRollbackFailed, rollbackErr, derr),
			)
		}

		switch {
		case errors.Is(derr, dominv.ErrInsufficientStock), errors.Is(derr, dominv.ErrNotFound):
			outcome, statusText = observability.OutcomeError, "INSUFFICIENT_STOCK"
			e := apperr.InsufficientStock(line.ProductID)
			e.Err = dominv.NewShortage(line.ProductID)
			return nil, e
		case errors.Is(derr, dominv.ErrConflict):
			outcome, statusText = observability.OutcomeError, "CONTENDED"
			return nil, apperr.Upstream(apperr.CodeReservationContended,
				fmt.Sprintf("stock for product %s is busy, retry later", line.ProductID), derr)
		case errors.Is(derr, context.DeadlineExceeded), errors.Is(derr, context.Canceled):
			outcome, statusText = observability.OutcomeError, "OUTCOME_UNKNOWN"
			return nil, apperr.ReconciliationRequired(
				"stock reservation outcome unknown",
				[]string{line.ProductID},
				errors.Join(dominv.ErrOutcomeUnknown, derr),
			)
		default:
			outcome, statusText = observability.OutcomeError, "STORE_FAILED"
			return nil, apperr.Upstream(apperr.CodeUpstreamUnavailable, "inventory store unavailable", derr)
		}
	}

	if err := uc.guard.Invalidate(ctx, dominv.LineProductIDs(lines)...); err != nil {
		statusText = "CACHE_INVALIDATION_DEGRADED"
	}

	if span != nil {
		span.AddEvent("inventory.reserved",
			trace.WithAttributes(attribute.Int("inventory.lines", len(lines))),
		)
	}
	if perr := publish(ctx, uc.publisher, uc.extCounter, uc.extHistogram, dominv.NewStockReservedEvent(lines)); perr != nil {
		logger.Warn("event_publish_failed",
			observability.F("event", dominv.EventStockReserved),
			observability.F("error", perr.Error()),
		)
	}

	return &ReserveStockResult{Lines: lines, Remaining: remaining}, nil
}

func (uc *ReserveStockUseCase) deduct(ctx context.Context, line dominv.Line, retries *int) (int, error) {
	var left int
	err := withRetry(ctx, uc.retry, func() error {
		var err error
		left, err = uc.repo.DeductIfAvailable(ctx, line.ProductID, line.Quantity)
		return err
	}, func() {
		*retries++
		uc.retryCounter.Add(1, observability.L("operation", "deduct"))
	})
	return left, err
}

func (uc *ReserveStockUseCase) rollback(ctx context.Context, applied []dominv.Line) error {
	var errs []error
	for _, line := range applied {
		err := withRetry(ctx, uc.retry, func() error {
			_, err := uc.repo.Restock(ctx, line.ProductID, line.Quantity)
			return err
		}, nil)
		if err != nil {
			errs = append(errs, fmt.Errorf("restock %s: %w", line.ProductID, err))
		}
	}
	return errors.Join(errs...)
}

type ReleaseStockInput struct {
	Lines []dominv.Line
}

type ReleaseStockResult struct {
	Lines []dominv.Line
}

// ReleaseStockUseCase credits previously reserved stock back. It is the
// compensating action of a reservation.
type ReleaseStockUseCase struct {
	repo      dominv.Repository
	guard     *CacheGuard
	publisher domoutbox.Publisher
	retry     RetryPolicy

	log          observability.Logger
	tracer       observability.Tracer
	reqCounter   observability.Counter
	durHistogram observability.Histogram
	extCounter   observability.Counter
	extHistogram observability.Histogram
}

func NewReleaseStockUseCase(
	repo dominv.Repository,
	guard *CacheGuard,
	publisher domoutbox.Publisher,
	retry RetryPolicy,
	tel observability.Observability,
) *ReleaseStockUseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	m := tel.Metrics()
	return &ReleaseStockUseCase{
		repo:         repo,
		guard:        guard,
		publisher:    publisher,
		retry:        retry.normalized(),
		log:          tel.Logger().With(observability.F("service", inventoryService)),
		tracer:       tel.Tracer(),
		reqCounter:   m.Counter(observability.MUsecaseRequests),
		durHistogram: m.Histogram(observability.MUsecaseDuration),
		extCounter:   m.Counter(observability.MExternalRequests),
		extHistogram: m.Histogram(observability.MExternalRequestDuration),
	}
}

// Execute attempts every line even when earlier ones fail, and reports the
// products that could not be credited.
func (uc *ReleaseStockUseCase) Execute(ctx context.Context, in ReleaseStockInput) (_ *ReleaseStockResult, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(observability.F("use_case", useCaseRelease))
	ctx, span := uc.tracer.Start(ctx, spanPrefix+"ReleaseStock",
		attribute.String("use_case", useCaseRelease),
		attribute.Int("inventory.lines", len(in.Lines)),
	)
	start := time.Now()
	outcome, statusText := observability.OutcomeSuccess, "OK"

	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, statusText)
		} else {
			span.SetStatus(codes.Ok, statusText)
		}
		span.End()

		latency := time.Since(start).Seconds()
		uc.reqCounter.Add(1, observability.L("use_case", useCaseRelease), observability.L("outcome", outcome))
		uc.durHistogram.Observe(latency, observability.L("use_case", useCaseRelease))

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", latency),
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logger.Info("use_case_done", fields...)
	}()

	lines, merr := dominv.MergeLines(in.Lines)
	if merr != nil {
		outcome, statusText = observability.OutcomeError, "INVALID_LINES"
		return nil, apperr.Wrap(apperr.KindValidation, apperr.CodeValidationFailed, "invalid release items", merr)
	}

	var failed []string
	var errs []error
	for _, line := range lines {
		rerr := withRetry(ctx, uc.retry, func() error {
			_, err := uc.repo.Restock(ctx, line.ProductID, line.Quantity)
			return err
		}, nil)
		if rerr != nil {
			failed = append(failed, line.ProductID)
			errs = append(errs, fmt.Errorf("restock %s: %w", line.ProductID, rerr))
		}
	}
	_ = uc.guard.Invalidate(ctx, dominv.LineProductIDs(lines)...)

	if len(errs) > 0 {
		outcome, statusText = observability.OutcomeError, "RELEASE_INCOMPLETE"
		return nil, apperr.ReconciliationRequired("stock release incomplete", failed, errors.Join(errs...))
	}

	if perr := publish(ctx, uc.publisher, uc.extCounter, uc.extHistogram, dominv.NewStockReleasedEvent(lines)); perr != nil {
		logger.Warn("event_publish_failed",
			observability.F("event", dominv.EventStockReleased),
			observability.F("error", perr.Error()),
		)
	}
	return &ReleaseStockResult{Lines: lines}, nil
}

// withRetry runs op until it succeeds, fails with something other than
// dominv.ErrConflict, or the policy is exhausted.
func withRetry(ctx context.Context, p RetryPolicy, op func() error, onRetry func()) error {
	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil || !errors.Is(err, dominv.ErrConflict) || attempt >= p.MaxAttempts {
			return err
		}
		if onRetry != nil {
			onRetry()
		}
		timer := time.NewTimer(p.Backoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
}

func publish(
	ctx context.Context,
	publisher domoutbox.Publisher,
	extCounter observability.Counter,
	extHistogram observability.Histogram,
	event domoutbox.Event,
) error {
	if publisher == nil || event == nil {
		return nil
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	start := time.Now()
	err := publisher.Publish(pubCtx, event)
	outcome := observability.OutcomeSuccess
	if err != nil {
		outcome = observability.OutcomeError
	} else if pubCtx.Err() != nil {
		outcome = "canceled"
		err = pubCtx.Err()
	}
	cancel()

	extCounter.Add(1,
		observability.L("peer", publishPeer),
		observability.L("endpoint", event.EventName()),
		observability.L("outcome", outcome),
	)
	extHistogram.Observe(time.Since(start).Seconds(),
		observability.L("peer", publishPeer),
		observability.L("endpoint", event.EventName()),
	)
	return err
}
