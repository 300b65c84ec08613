package order

import (
	"context"
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/paging"
	"github.com/shopspring/decimal"
)

// Repository is the Order Store. Soft-deleted orders are invisible to every
// read and mutation and surface as ErrNotFound.
type Repository interface {
	// CreateWithItems writes the order and all of its items atomically.
	CreateWithItems(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	ListByBuyer(ctx context.Context, buyerID string, page paging.Page) (*ListResult, error)
	ListAll(ctx context.Context, page paging.Page) (*ListResult, error)
	// UpdateStatus checks the transition against the stored status and
	// applies it in one step.
	UpdateStatus(ctx context.Context, id string, to Status) (*Order, error)
	// SoftDelete hides the order and forces it to Cancelled.
	SoftDelete(ctx context.Context, id string) (*Order, error)
	StatsInRange(ctx context.Context, start, end time.Time) (*Stats, error)
}

type ListResult struct {
	Orders []*Order
	Total  int
}

// StatusBucket aggregates the orders sharing one status.
type StatusBucket struct {
	Count   int
	Revenue decimal.Decimal
}

// Stats summarizes non-deleted orders created in [Start, End).
type Stats struct {
	Start             time.Time
	End               time.Time
	TotalOrders       int
	Revenue           decimal.Decimal
	AverageOrderValue decimal.Decimal
	ByStatus          map[Status]int
}

// NewStats folds per-status buckets into Stats. Cancelled orders count toward
// TotalOrders but not toward revenue.
func NewStats(start, end time.Time, buckets map[Status]StatusBucket) *Stats {
	st := &Stats{
		Start:             start,
		End:               end,
		Revenue:           decimal.Zero,
		AverageOrderValue: decimal.Zero,
		ByStatus:          make(map[Status]int, len(statusNames)),
	}
	for _, s := range Statuses() {
		st.ByStatus[s] = 0
	}
	paid := 0
	for s, b := range buckets {
		st.ByStatus[s] += b.Count
		st.TotalOrders += b.Count
		if s == StatusCancelled {
			continue
		}
		st.Revenue = st.Revenue.Add(b.Revenue)
		paid += b.Count
	}
	if paid > 0 {
		st.AverageOrderValue = st.Revenue.Div(decimal.NewFromInt(int64(paid))).Round(2)
	}
	return st
}
