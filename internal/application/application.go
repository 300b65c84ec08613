package application

import "context"

// UseCase is a single command handler. The HTTP layer depends on this shape
// rather than on concrete use case types.
type UseCase[C any, R any] interface {
	Execute(ctx context.Context, cmd C) (R, error)
}
