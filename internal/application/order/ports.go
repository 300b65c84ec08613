package order

import (
	"context"
	"time"

	dominv "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
)

type IDGenerator interface {
	NewID() string
}

// InventoryPort is the orchestrator's view of the inventory collaborator.
// It is served in-process by inventory.Local or remotely by catalogclient.
type InventoryPort interface {
	// Availability returns price and stock for the live products among ids.
	// Missing or deleted products are absent from the map.
	Availability(ctx context.Context, productIDs []string) (map[string]dominv.Availability, error)
	// Reserve deducts every line or none of them.
	Reserve(ctx context.Context, lines []dominv.Line) error
	// Release credits lines back. It is the saga's compensating action.
	Release(ctx context.Context, lines []dominv.Line) error
}

// Clock lets tests pin order timestamps.
type Clock func() time.Time
