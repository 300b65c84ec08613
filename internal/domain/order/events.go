package order

import "time"

const (
	EventCreated                = "order.created"
	EventStatusChanged          = "order.status_changed"
	EventDeleted                = "order.deleted"
	EventReconciliationRequired = "order.reconciliation_required"
)

type EventItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice,omitempty"`
}

func eventItems(items []Item) []EventItem {
	out := make([]EventItem, 0, len(items))
	for _, it := range items {
		out = append(out, EventItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice.StringFixed(2),
		})
	}
	return out
}

// CreatedEvent is emitted once an order and its items are durable.
type CreatedEvent struct {
	OrderID    string      `json:"orderId"`
	BuyerID    string      `json:"buyerId"`
	Total      string      `json:"totalPrice"`
	Items      []EventItem `json:"items"`
	OccurredAt time.Time   `json:"occurredAt"`
}

func (CreatedEvent) EventName() string  { return EventCreated }
func (e CreatedEvent) EventKey() string { return e.OrderID }

func NewCreatedEvent(o *Order) CreatedEvent {
	return CreatedEvent{
		OrderID:    o.ID,
		BuyerID:    o.BuyerID,
		Total:      o.Total.StringFixed(2),
		Items:      eventItems(o.Items),
		OccurredAt: time.Now().UTC(),
	}
}

type StatusChangedEvent struct {
	OrderID    string    `json:"orderId"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	OccurredAt time.Time `json:"occurredAt"`
}

func (StatusChangedEvent) EventName() string  { return EventStatusChanged }
func (e StatusChangedEvent) EventKey() string { return e.OrderID }

func NewStatusChangedEvent(orderID string, from, to Status) StatusChangedEvent {
	return StatusChangedEvent{
		OrderID:    orderID,
		From:       from.String(),
		To:         to.String(),
		OccurredAt: time.Now().UTC(),
	}
}

type DeletedEvent struct {
	OrderID    string    `json:"orderId"`
	OccurredAt time.Time `json:"occurredAt"`
}

func (DeletedEvent) EventName() string  { return EventDeleted }
func (e DeletedEvent) EventKey() string { return e.OrderID }

func NewDeletedEvent(orderID string) DeletedEvent {
	return DeletedEvent{OrderID: orderID, OccurredAt: time.Now().UTC()}
}

// ReconciliationRequiredEvent is raised when reserved stock could not be
// re-credited after a failed order write. An operator must settle it.
type ReconciliationRequiredEvent struct {
	OrderID    string      `json:"orderId"`
	BuyerID    string      `json:"buyerId"`
	Items      []EventItem `json:"items"`
	Cause      string      `json:"cause"`
	OccurredAt time.Time   `json:"occurredAt"`
}

func (ReconciliationRequiredEvent) EventName() string  { return EventReconciliationRequired }
func (e ReconciliationRequiredEvent) EventKey() string { return e.OrderID }

func NewReconciliationRequiredEvent(o *Order, cause error) ReconciliationRequiredEvent {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return ReconciliationRequiredEvent{
		OrderID:    o.ID,
		BuyerID:    o.BuyerID,
		Items:      eventItems(o.Items),
		Cause:      msg,
		OccurredAt: time.Now().UTC(),
	}
}
