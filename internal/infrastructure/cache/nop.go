package cache

import (
	"context"
	"time"

	appinv "github.com/Zhima-Mochi/minishop-saga/internal/application/inventory"
	dominv "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
)

// Nop never stores anything. Wiring it in place of a real cache only changes
// latency.
type Nop struct{}

func (Nop) Get(context.Context, dominv.CacheKey) (appinv.Lookup, error) {
	return appinv.Lookup{}, nil
}

func (Nop) Put(context.Context, dominv.CacheKey, uint64, []byte, time.Duration) error {
	return nil
}

func (Nop) InvalidateByEntity(context.Context, string) error { return nil }

func (Nop) InvalidateListings(context.Context) error { return nil }
