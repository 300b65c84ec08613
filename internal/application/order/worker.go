package order

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	dominv "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-saga/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	workerService = "order-worker"
	notifyTimeout = 2 * time.Second
)

// Notifier hands a serialized event to an outbound channel. Delivery is
// at-most-once.
type Notifier interface {
	Notify(ctx context.Context, topic, key string, payload []byte) error
}

// Worker forwards order lifecycle events from the in-process bus to a
// Notifier.
type Worker struct {
	subscriber domoutbox.Subscriber
	notifier   Notifier

	log          observability.Logger
	tracer       observability.Tracer
	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
	sentCounter  observability.Counter   // notifications_published_total{topic,outcome}
}

func NewWorker(subscriber domoutbox.Subscriber, notifier Notifier, tel observability.Observability) *Worker {
	if tel == nil {
		tel = observability.Nop()
	}
	m := tel.Metrics()
	return &Worker{
		subscriber:   subscriber,
		notifier:     notifier,
		log:          tel.Logger().With(observability.F("service", workerService)),
		tracer:       tel.Tracer(),
		reqCounter:   m.Counter(observability.MUsecaseRequests),
		durHistogram: m.Histogram(observability.MUsecaseDuration),
		sentCounter:  m.Counter(observability.MNotificationsPublished),
	}
}

// Topics lists the events the worker forwards.
func Topics() []string {
	return []string{
		domorder.EventCreated,
		domorder.EventStatusChanged,
		domorder.EventDeleted,
		domorder.EventReconciliationRequired,
		dominv.EventStockReserved,
		dominv.EventStockReleased,
	}
}

func (w *Worker) Start() {
	if w.subscriber == nil || w.notifier == nil {
		return
	}
	for _, topic := range Topics() {
		w.subscriber.Subscribe(topic, w.handle)
	}
}

func (w *Worker) handle(ctx context.Context, e domoutbox.Event) (err error) {
	const useCase = "order.worker.notify"
	name := e.EventName()

	ctx, span := w.tracer.Start(ctx, spanPrefix+"Notify",
		attribute.String("use_case", useCase),
		attribute.String("event", name),
	)
	start := time.Now()
	outcome, status := observability.OutcomeSuccess, "OK"
	key := domoutbox.Key(e)

	fields := []observability.Field{
		observability.F("use_case", useCase),
		observability.F("event", name),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			observability.F("trace_id", sc.TraceID().String()),
			observability.F("span_id", sc.SpanID().String()),
		)
	}
	ctx, logger := logctx.Enrich(ctx, w.log, fields...)

	defer func() {
		lat := time.Since(start).Seconds()
		w.reqCounter.Add(1,
			observability.L("use_case", useCase),
			observability.L("outcome", outcome),
		)
		w.durHistogram.Observe(lat, observability.L("use_case", useCase))
		w.sentCounter.Add(1,
			observability.L("topic", name),
			observability.L("outcome", outcome),
		)

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", status),
			observability.F("latency_seconds", lat),
		}
		if key != "" {
			fields = append(fields, observability.F("key", key))
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logger.Info("use_case_done", fields...)

		if outcome == observability.OutcomeError {
			span.RecordError(err)
			span.SetStatus(codes.Error, status)
		} else {
			span.SetStatus(codes.Ok, status)
		}
		span.End()
	}()

	payload, merr := json.Marshal(e)
	if merr != nil {
		outcome, status = observability.OutcomeError, "ENCODE_FAILED"
		return fmt.Errorf("worker: encode %s: %w", name, merr)
	}

	nctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	if nerr := w.notifier.Notify(nctx, name, key, payload); nerr != nil {
		outcome, status = observability.OutcomeError, "NOTIFY_FAILED"
		return fmt.Errorf("worker: notify %s: %w", name, nerr)
	}
	return nil
}
