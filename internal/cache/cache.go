package cache

import (
	"context"
	"time"

	"splmart/backend/internal/domain"
)

// ProductCache is a read-through cache for catalog reads keyed by product
// slug. Stock counts inside cached entries may lag by up to the TTL; the
// checkout path never reads from here.
type ProductCache interface {
	Get(ctx context.Context, slug string) (*domain.Product, bool, error)
	Set(ctx context.Context, slug string, product *domain.Product, ttl time.Duration) error
	Invalidate(ctx context.Context, slug string) error
}

// Noop satisfies ProductCache without caching anything. Used when no Redis
// address is configured.
type Noop struct{}

func (Noop) Get(context.Context, string) (*domain.Product, bool, error) { return nil, false, nil }
func (Noop) Set(context.Context, string, *domain.Product, time.Duration) error {
	return nil
}
func (Noop) Invalidate(context.Context, string) error { return nil }
