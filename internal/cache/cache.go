package cache

import (
	"context"
	"time"

	"mejaku/backend/internal/domain"
)

// MenuCache caches the assembled menu view between writes. Invalidate is
// called after any menu mutation.
type MenuCache interface {
	Get(ctx context.Context, key string) (*domain.MenuView, bool, error)
	Set(ctx context.Context, key string, value *domain.MenuView, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

type NoopMenuCache struct{}

func (NoopMenuCache) Get(_ context.Context, _ string) (*domain.MenuView, bool, error) {
	return nil, false, nil
}

func (NoopMenuCache) Set(_ context.Context, _ string, _ *domain.MenuView, _ time.Duration) error {
	return nil
}

func (NoopMenuCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
