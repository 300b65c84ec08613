package memory

import (
	"context"
	"sync"

	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/identity"
)

// IdentityDirectory is an in-process stand-in for the identity service.
type IdentityDirectory struct {
	mu        sync.RWMutex
	buyers    map[string]domain.Buyer
	addresses map[string]domain.Address
}

func NewIdentityDirectory() *IdentityDirectory {
	return &IdentityDirectory{
		buyers:    make(map[string]domain.Buyer),
		addresses: make(map[string]domain.Address),
	}
}

func (d *IdentityDirectory) AddBuyer(b domain.Buyer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buyers[b.ID] = b
}

func (d *IdentityDirectory) AddAddress(a domain.Address) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addresses[a.ID] = a
}

func (d *IdentityDirectory) GetBuyer(ctx context.Context, id string) (*domain.Buyer, error) {
	_ = ctx

	d.mu.RLock()
	defer d.mu.RUnlock()

	b, ok := d.buyers[id]
	if !ok {
		return nil, domain.ErrBuyerNotFound
	}
	return &b, nil
}

func (d *IdentityDirectory) GetAddress(ctx context.Context, id string) (*domain.Address, error) {
	_ = ctx

	d.mu.RLock()
	defer d.mu.RUnlock()

	a, ok := d.addresses[id]
	if !ok {
		return nil, domain.ErrAddressNotFound
	}
	return &a, nil
}
