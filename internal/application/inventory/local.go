package inventory

import (
	"context"

	dominv "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
)

// Local exposes the in-process catalog and reservation engine through the
// same shape the order saga uses for a remote inventory service.
type Local struct {
	catalog *Catalog
	reserve *ReserveStockUseCase
	release *ReleaseStockUseCase
}

func NewLocal(catalog *Catalog, reserve *ReserveStockUseCase, release *ReleaseStockUseCase) *Local {
	return &Local{catalog: catalog, reserve: reserve, release: release}
}

func (l *Local) Availability(ctx context.Context, productIDs []string) (map[string]dominv.Availability, error) {
	return l.catalog.Availability(ctx, productIDs)
}

func (l *Local) Reserve(ctx context.Context, lines []dominv.Line) error {
	_, err := l.reserve.Execute(ctx, ReserveStockInput{Lines: lines})
	return err
}

func (l *Local) Release(ctx context.Context, lines []dominv.Line) error {
	_, err := l.release.Execute(ctx, ReleaseStockInput{Lines: lines})
	return err
}
