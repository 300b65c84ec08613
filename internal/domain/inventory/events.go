package inventory

import "time"

const (
	EventStockReserved = "inventory.stock_reserved"
	EventStockReleased = "inventory.stock_released"
)

type EventLine struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func eventLines(lines []Line) []EventLine {
	out := make([]EventLine, len(lines))
	for i, l := range lines {
		out[i] = EventLine{ProductID: l.ProductID, Quantity: l.Quantity}
	}
	return out
}

// StockReservedEvent is emitted when every line of a reservation was deducted.
type StockReservedEvent struct {
	Lines      []EventLine `json:"items"`
	OccurredAt time.Time   `json:"occurredAt"`
}

func (StockReservedEvent) EventName() string { return EventStockReserved }

func NewStockReservedEvent(lines []Line) StockReservedEvent {
	return StockReservedEvent{Lines: eventLines(lines), OccurredAt: time.Now().UTC()}
}

// StockReleasedEvent is emitted when reserved stock was credited back.
type StockReleasedEvent struct {
	Lines      []EventLine `json:"items"`
	OccurredAt time.Time   `json:"occurredAt"`
}

func (StockReleasedEvent) EventName() string { return EventStockReleased }

func NewStockReleasedEvent(lines []Line) StockReleasedEvent {
	return StockReleasedEvent{Lines: eventLines(lines), OccurredAt: time.Now().UTC()}
}
