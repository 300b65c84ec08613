package order

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-saga/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability/logctx"
	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/apperr"
	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/paging"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Service serves order reads and the post-creation lifecycle: status
// transitions and soft deletion.
type Service struct {
	repo      domain.Repository
	publisher domoutbox.Publisher

	log          observability.Logger
	tracer       observability.Tracer
	reqCounter   observability.Counter
	durHistogram observability.Histogram
	extCounter   observability.Counter
	extHistogram observability.Histogram
}

func NewService(repo domain.Repository, publisher domoutbox.Publisher, tel observability.Observability) *Service {
	if tel == nil {
		tel = observability.Nop()
	}
	m := tel.Metrics()
	return &Service{
		repo:         repo,
		publisher:    publisher,
		log:          tel.Logger().With(observability.F("service", orderService)),
		tracer:       tel.Tracer(),
		reqCounter:   m.Counter(observability.MUsecaseRequests),
		durHistogram: m.Histogram(observability.MUsecaseDuration),
		extCounter:   m.Counter(observability.MExternalRequests),
		extHistogram: m.Histogram(observability.MExternalRequestDuration),
	}
}

func (s *Service) Get(ctx context.Context, id string) (_ *domain.Order, err error) {
	ctx, done := s.begin(ctx, "order.get", attribute.String("order.id", id))
	defer func() { done(err) }()

	if strings.TrimSpace(id) == "" {
		return nil, apperr.Validation("order id is required")
	}
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	return o, nil
}

type ListResult struct {
	Orders     []*domain.Order
	Pagination paging.Meta
}

func (s *Service) ListByBuyer(ctx context.Context, buyerID string, page paging.Page) (_ *ListResult, err error) {
	ctx, done := s.begin(ctx, "order.list_by_buyer", attribute.String("order.buyer_id", buyerID))
	defer func() { done(err) }()

	if strings.TrimSpace(buyerID) == "" {
		return nil, apperr.Validation("user id is required")
	}
	res, err := s.repo.ListByBuyer(ctx, buyerID, page)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	return &ListResult{Orders: res.Orders, Pagination: page.Meta(res.Total)}, nil
}

func (s *Service) ListAll(ctx context.Context, page paging.Page) (_ *ListResult, err error) {
	ctx, done := s.begin(ctx, "order.list_all")
	defer func() { done(err) }()

	res, err := s.repo.ListAll(ctx, page)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	return &ListResult{Orders: res.Orders, Pagination: page.Meta(res.Total)}, nil
}

// Stats summarizes orders created in [start, end).
func (s *Service) Stats(ctx context.Context, start, end time.Time) (_ *domain.Stats, err error) {
	ctx, done := s.begin(ctx, "order.stats")
	defer func() { done(err) }()

	if start.IsZero() || end.IsZero() {
		return nil, apperr.Validation("startDate and endDate are required")
	}
	if !end.After(start) {
		return nil, apperr.Validation("endDate must be after startDate")
	}
	st, err := s.repo.StatsInRange(ctx, start.UTC(), end.UTC())
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	return st, nil
}

// UpdateStatus moves an order to the status named or numbered by status.
// Setting the current status again is accepted and changes nothing.
func (s *Service) UpdateStatus(ctx context.Context, id, status string) (_ *domain.Order, err error) {
	ctx, done := s.begin(ctx, "order.update_status",
		attribute.String("order.id", id),
		attribute.String("order.status", status),
	)
	defer func() { done(err) }()

	to, perr := domain.ParseStatus(status)
	if perr != nil {
		return nil, apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidStatus, "unrecognized order status "+status, perr)
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	updated, err := s.repo.UpdateStatus(ctx, id, to)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	if current.Status != updated.Status {
		s.publish(ctx, domain.NewStatusChangedEvent(id, current.Status, updated.Status))
	}
	return updated, nil
}

// Delete soft-deletes the order and forces it to Cancelled. Reserved stock is
// not re-credited.
func (s *Service) Delete(ctx context.Context, id string) (_ *domain.Order, err error) {
	ctx, done := s.begin(ctx, "order.delete", attribute.String("order.id", id))
	defer func() { done(err) }()

	o, err := s.repo.SoftDelete(ctx, id)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	s.publish(ctx, domain.NewDeletedEvent(id))
	return o, nil
}

func (s *Service) publish(ctx context.Context, event domoutbox.Event) {
	if err := publish(ctx, s.publisher, s.extCounter, s.extHistogram, event); err != nil {
		logctx.FromOr(ctx, s.log).Warn("event_publish_failed",
			observability.F("event", event.EventName()),
			observability.F("error", err.Error()),
		)
	}
}

func (s *Service) begin(ctx context.Context, useCase string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	logger := logctx.FromOr(ctx, s.log).With(observability.F("use_case", useCase))
	ctx, span := s.tracer.Start(ctx, spanPrefix+useCase, append(attrs, attribute.String("use_case", useCase))...)
	start := time.Now()

	return ctx, func(err error) {
		outcome, status := observability.OutcomeSuccess, "OK"
		if err != nil {
			outcome, status = observability.OutcomeError, apperr.CodeOf(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, status)
		} else {
			span.SetStatus(codes.Ok, status)
		}
		span.End()

		lat := time.Since(start).Seconds()
		s.reqCounter.Add(1, observability.L("use_case", useCase), observability.L("outcome", outcome))
		s.durHistogram.Observe(lat, observability.L("use_case", useCase))

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", status),
			observability.F("latency_seconds", lat),
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logger.Info("use_case_done", fields...)
	}
}

func mapRepositoryError(err error) error {
	if e, ok := apperr.From(err); ok {
		return e
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return apperr.Wrap(apperr.KindNotFound, apperr.CodeOrderNotFound, "order not found", err)
	case errors.Is(err, domain.ErrInvalidStatus):
		return apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidStatus, "unrecognized order status", err)
	case errors.Is(err, domain.ErrInvalidTransition):
		return apperr.Wrap(apperr.KindConflict, apperr.CodeInvalidTransition, "order status transition not allowed", err)
	default:
		return apperr.Internal(err)
	}
}
