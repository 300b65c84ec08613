package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domid "github.com/Zhima-Mochi/minishop-saga/internal/domain/identity"
	dominv "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-saga/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability/logctx"
	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/apperr"
	"github.com/shopspring/decimal"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	orderService       = "order-service"
	useCaseOrderCreate = "order.create"
	spanPrefix         = "UC."
	publishPeer        = "outbox"
	publishTimeout     = 300 * time.Millisecond
	defaultStepTimeout = 3 * time.Second
)

// SagaConfig bounds every downstream call of the order saga.
type SagaConfig struct {
	StepTimeout time.Duration
}

type ItemInput struct {
	ProductID string
	Quantity  int
}

type CreateOrderInput struct {
	BuyerID  string
	Items    []ItemInput
	Shipping domid.ShippingDestination
	Contact  domain.Contact
	TaxRate  decimal.Decimal
}

type CreateOrderResult struct {
	Order *domain.Order
}

// CreateOrderUseCase runs the order-creation saga: validate the buyer and
// destination, price the cart, reserve stock, persist the order, and re-credit
// stock if the order cannot be written.
type CreateOrderUseCase struct {
	repo        domain.Repository
	inventory   InventoryPort
	directory   domid.Directory
	idGenerator IDGenerator
	publisher   domoutbox.Publisher
	cfg         SagaConfig
	now         Clock

	log    observability.Logger
	tracer observability.Tracer
	// RED metrics (supplied via DI; do not instantiate inside methods).
	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}

	extCounter   observability.Counter   // external_requests_total{peer,endpoint,outcome}
	extHistogram observability.Histogram // external_request_duration_seconds{peer,endpoint}

	compensations observability.Counter // saga_compensations_total{outcome}
}

func NewCreateOrderUseCase(
	repo domain.Repository,
	inventory InventoryPort,
	directory domid.Directory,
	idGen IDGenerator,
	publisher domoutbox.Publisher,
	cfg SagaConfig,
	tel observability.Observability,
) *CreateOrderUseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = defaultStepTimeout
	}
	m := tel.Metrics()
	return &CreateOrderUseCase{
		repo:          repo,
		inventory:     inventory,
		directory:     directory,
		idGenerator:   idGen,
		publisher:     publisher,
		cfg:           cfg,
		now:           time.Now,
		log:           tel.Logger().With(observability.F("service", orderService)),
		tracer:        tel.Tracer(),
		reqCounter:    m.Counter(observability.MUsecaseRequests),
		durHistogram:  m.Histogram(observability.MUsecaseDuration),
		extCounter:    m.Counter(observability.MExternalRequests),
		extHistogram:  m.Histogram(observability.MExternalRequestDuration),
		compensations: m.Counter(observability.MSagaCompensations),
	}
}

// WithClock replaces the clock used for order timestamps.
func (uc *CreateOrderUseCase) WithClock(now Clock) *CreateOrderUseCase {
	if now != nil {
		uc.now = now
	}
	return uc
}

// Execute performs the saga. Exactly one order is durable after a nil error,
// and none after any error; stock deducted for a failed call is credited back
// or reported as requiring reconciliation.
func (uc *CreateOrderUseCase) Execute(ctx context.Context, cmd CreateOrderInput) (_ *CreateOrderResult, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(observability.F("use_case", useCaseOrderCreate))

	var orderID string
	var publishErr error

	ctx, span := uc.tracer.Start(ctx, spanPrefix+"CreateOrder",
		attribute.String("use_case", useCaseOrderCreate),
		attribute.String("order.buyer_id", cmd.BuyerID),
		attribute.Int("order.items", len(cmd.Items)),
	)
	start := time.Now()
	outcome, statusText := observability.OutcomeSuccess, "OK"

	defer func() {
		lat := time.Since(start).Seconds()

		if span != nil {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, statusText)
			} else {
				span.SetStatus(codes.Ok, statusText)
			}
			span.End()
		}

		uc.reqCounter.Add(1,
			observability.L("use_case", useCaseOrderCreate),
			observability.L("outcome", outcome),
		)
		uc.durHistogram.Observe(lat,
			observability.L("use_case", useCaseOrderCreate),
		)

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", lat),
		}
		if orderID != "" {
			fields = append(fields, observability.F("order_id", orderID))
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		if publishErr != nil {
			fields = append(fields, observability.F("event_publish_error", publishErr.Error()))
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}

		logger.Info("use_case_done", fields...)
	}()

	lines, verr := validateCreate(cmd)
	if verr != nil {
		outcome, statusText = observability.OutcomeError, "VALIDATION_FAILED"
		return nil, verr
	}
	if err := ctx.Err(); err != nil {
		outcome, statusText = observability.OutcomeError, "CONTEXT_CANCELED"
		return nil, apperr.Upstream(apperr.CodeUpstreamUnavailable, "request canceled", err)
	}

	// 1. buyer
	buyer, berr := uc.lookupBuyer(ctx, cmd.BuyerID)
	if berr != nil {
		outcome, statusText = observability.OutcomeError, apperr.CodeOf(berr)
		return nil, berr
	}

	// 2. shipping destination
	shipping, aerr := uc.resolveAddress(ctx, cmd.Shipping)
	if aerr != nil {
		outcome, statusText = observability.OutcomeError, apperr.CodeOf(aerr)
		return nil, aerr
	}

	// 3. one batched availability read
	productIDs := dominv.LineProductIDs(lines)
	stepCtx, cancel := uc.step(ctx)
	available, qerr := uc.inventory.Availability(stepCtx, productIDs)
	cancel()
	if qerr != nil {
		outcome, statusText = observability.OutcomeError, "AVAILABILITY_FAILED"
		return nil, asUpstream(qerr, "inventory availability lookup failed")
	}

	// 4. every line must be satisfiable before anything is reserved
	items := make([]domain.Item, 0, len(lines))
	for _, line := range lines {
		a, ok := available[line.ProductID]
		if !ok || a.Stock < line.Quantity {
			outcome, statusText = observability.OutcomeError, apperr.CodeInsufficientStock
			e := apperr.InsufficientStock(line.ProductID)
			e.Err = dominv.NewShortage(line.ProductID)
			return nil, e
		}
		items = append(items, domain.Item{
			ID:        uc.idGenerator.NewID(),
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: a.Price,
		})
	}

	// 5. price with the unit prices read above
	orderID = uc.idGenerator.NewID()
	entity, derr := domain.New(orderID, buyer.ID, items, cmd.TaxRate, shipping, contactFor(cmd.Contact, buyer), uc.now())
	if derr != nil {
		outcome, statusText = observability.OutcomeError, "DOMAIN_CONSTRUCTION_FAILED"
		return nil, apperr.Wrap(apperr.KindValidation, apperr.CodeValidationFailed, "invalid order", derr)
	}
	span.SetAttributes(attribute.String("order.id", orderID))

	// 6. reserve. From here on a departing client must not cut a step short,
	// since every later failure needs an accurate account of stock.
	detached := context.WithoutCancel(ctx)
	stepCtx, cancel = uc.step(detached)
	rerr := uc.inventory.Reserve(stepCtx, lines)
	timedOut := stepCtx.Err() != nil
	cancel()
	if rerr != nil {
		e := reservationError(rerr, timedOut, productIDs)
		outcome, statusText = observability.OutcomeError, e.Code
		if e.Kind == apperr.KindReconciliation {
			publishErr = uc.publish(detached, domain.NewReconciliationRequiredEvent(entity, rerr))
		}
		return nil, e
	}
	span.AddEvent("inventory.reserved", trace.WithAttributes(attribute.Int("inventory.lines", len(lines))))

	// 7. persist order and items in one transaction
	stepCtx, cancel = uc.step(detached)
	perr := uc.repo.CreateWithItems(stepCtx, entity)
	cancel()
	if perr != nil {
		logger.Warn("order_persist_failed",
			observability.F("order_id", orderID),
			observability.F("error", perr.Error()),
		)
		stepCtx, cancel = uc.step(detached)
		cerr := uc.inventory.Release(stepCtx, lines)
		cancel()

		if cerr == nil {
			uc.compensations.Add(1, observability.L("outcome", "released"))
			span.AddEvent("saga.compensated")
			outcome, statusText = observability.OutcomeError, apperr.CodePersistenceFailed
			return nil, apperr.PersistenceFailed(true, perr)
		}

		uc.compensations.Add(1, observability.L("outcome", "failed"))
		outcome, statusText = observability.OutcomeError, apperr.CodeManualReconciliation
		cause := errors.Join(perr, cerr)
		logger.Error("saga_compensation_failed",
			observability.F("order_id", orderID),
			observability.F("product_ids", productIDs),
			observability.F("error", cause.Error()),
		)
		publishErr = uc.publish(detached, domain.NewReconciliationRequiredEvent(entity, cause))
		return nil, apperr.ReconciliationRequired(
			"order could not be persisted and reserved stock could not be released",
			productIDs,
			cause,
		)
	}

	// 8. done
	if publishErr = uc.publish(detached, domain.NewCreatedEvent(entity)); publishErr != nil {
		statusText = "EVENT_PUBLISH_FAILED"
	}
	span.SetAttributes(attribute.String("order.status", entity.Status.String()))
	span.AddEvent("order.created", trace.WithAttributes(attribute.String("order.id", orderID)))

	return &CreateOrderResult{Order: entity}, nil
}

func (uc *CreateOrderUseCase) step(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, uc.cfg.StepTimeout)
}

func (uc *CreateOrderUseCase) lookupBuyer(ctx context.Context, buyerID string) (*domid.Buyer, error) {
	ctx, cancel := uc.step(ctx)
	defer cancel()

	buyer, err := uc.directory.GetBuyer(ctx, buyerID)
	switch {
	case err == nil:
		return buyer, nil
	case errors.Is(err, domid.ErrBuyerNotFound):
		return nil, apperr.Wrap(apperr.KindNotFound, apperr.CodeInvalidBuyer, fmt.Sprintf("buyer %s not found", buyerID), err)
	default:
		return nil, asUpstream(err, "identity service unavailable")
	}
}

func (uc *CreateOrderUseCase) resolveAddress(ctx context.Context, dest domid.ShippingDestination) (domain.Address, error) {
	if dest.IsInline() {
		return toOrderAddress(dest.Address()), nil
	}

	ctx, cancel := uc.step(ctx)
	defer cancel()

	addr, err := uc.directory.GetAddress(ctx, dest.AddressID())
	switch {
	case err == nil:
	case errors.Is(err, domid.ErrAddressNotFound):
		return domain.Address{}, apperr.Wrap(apperr.KindNotFound, apperr.CodeInvalidAddress,
			fmt.Sprintf("address %s not found", dest.AddressID()), err)
	default:
		return domain.Address{}, asUpstream(err, "identity service unavailable")
	}
	if !addr.Complete() {
		return domain.Address{}, apperr.New(apperr.KindValidation, apperr.CodeInvalidAddress,
			fmt.Sprintf("address %s is incomplete", dest.AddressID()))
	}
	return toOrderAddress(*addr), nil
}

func (uc *CreateOrderUseCase) publish(ctx context.Context, event domoutbox.Event) error {
	return publish(ctx, uc.publisher, uc.extCounter, uc.extHistogram, event)
}

func validateCreate(cmd CreateOrderInput) ([]dominv.Line, error) {
	if strings.TrimSpace(cmd.BuyerID) == "" {
		return nil, apperr.Validation("buyerId is required")
	}
	if len(cmd.Items) == 0 {
		return nil, apperr.Validation("at least one item is required")
	}
	raw := make([]dominv.Line, 0, len(cmd.Items))
	for i, it := range cmd.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			return nil, apperr.Validationf("items[%d].productId is required", i)
		}
		if it.Quantity <= 0 {
			return nil, apperr.Validationf("items[%d].quantity must be greater than zero", i)
		}
		raw = append(raw, dominv.Line{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	if cmd.TaxRate.IsNegative() {
		return nil, apperr.Validation("taxRate must not be negative")
	}
	switch {
	case cmd.Shipping.IsZero():
		return nil, apperr.Validation("exactly one of shippingAddressId or shippingAddress is required")
	case cmd.Shipping.IsReference() && strings.TrimSpace(cmd.Shipping.AddressID()) == "":
		return nil, apperr.Validation("shippingAddressId is required")
	case cmd.Shipping.IsInline() && !cmd.Shipping.Address().Complete():
		return nil, apperr.New(apperr.KindValidation, apperr.CodeInvalidAddress,
			"shippingAddress requires street, city, zip and country")
	}

	lines, err := dominv.MergeLines(raw)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, apperr.CodeValidationFailed, "invalid items", err)
	}
	return lines, nil
}

// reservationError maps a failed Reserve call. A timeout leaves the outcome
// unknown, so it is escalated rather than compensated.
func reservationError(err error, timedOut bool, productIDs []string) *apperr.Error {
	if e, ok := apperr.From(err); ok {
		return e
	}
	switch {
	case errors.Is(err, dominv.ErrInsufficientStock):
		var shortage *dominv.ShortageError
		if errors.As(err, &shortage) && len(shortage.ProductIDs) > 0 {
			e := apperr.InsufficientStock(shortage.ProductIDs...)
			e.Err = err
			return e
		}
		e := apperr.InsufficientStock()
		e.Err = err
		return e
	case timedOut, errors.Is(err, context.DeadlineExceeded), errors.Is(err, dominv.ErrOutcomeUnknown):
		return apperr.ReconciliationRequired("stock reservation outcome unknown", productIDs,
			errors.Join(dominv.ErrOutcomeUnknown, err))
	default:
		return apperr.Upstream(apperr.CodeUpstreamUnavailable, "inventory service unavailable", err)
	}
}

func asUpstream(err error, msg string) error {
	if e, ok := apperr.From(err); ok {
		return e
	}
	return apperr.Upstream(apperr.CodeUpstreamUnavailable, msg, err)
}

func toOrderAddress(a domid.Address) domain.Address {
	return domain.Address{
		Street:  a.Street,
		City:    a.City,
		State:   a.State,
		Zip:     a.Zip,
		Country: a.Country,
	}
}

// contactFor falls back to the buyer's own details for fields the request
// left empty.
func contactFor(c domain.Contact, buyer *domid.Buyer) domain.Contact {
	if c.Email == "" {
		c.Email = buyer.Email
	}
	if c.Phone == "" {
		c.Phone = buyer.Phone
	}
	return c
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
	pubStart := time.Now()
	pubOutcome := observability.OutcomeSuccess

	err := publisher.Publish(pubCtx, event)
	if err != nil {
		pubOutcome = observability.OutcomeError
	} else if pubCtx.Err() != nil {
		pubOutcome = "canceled"
		err = pubCtx.Err()
	}
	cancel()

	extCounter.Add(1,
		observability.L("peer", publishPeer),
		observability.L("endpoint", event.EventName()),
		observability.L("outcome", pubOutcome),
	)
	extHistogram.Observe(time.Since(pubStart).Seconds(),
		observability.L("peer", publishPeer),
		observability.L("endpoint", event.EventName()),
	)
	return err
}
