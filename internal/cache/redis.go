package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"splmart/backend/internal/domain"
)

type Redis struct {
	client *redis.Client
}

func NewRedis(ctx context.Context, addr string, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &Redis{client: client}, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func productKey(slug string) string {
	return "product:" + slug
}

func (r *Redis) Get(ctx context.Context, slug string) (*domain.Product, bool, error) {
	raw, err := r.client.Get(ctx, productKey(slug)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var product domain.Product
	if err := json.Unmarshal(raw, &product); err != nil {
		// Treat a corrupt entry as a miss and drop it.
		_ = r.client.Del(ctx, productKey(slug)).Err()
		return nil, false, nil
	}
	return &product, true, nil
}

func (r *Redis) Set(ctx context.Context, slug string, product *domain.Product, ttl time.Duration) error {
	raw, err := json.Marshal(product)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, productKey(slug), raw, ttl).Err()
}

func (r *Redis) Invalidate(ctx context.Context, slug string) error {
	return r.client.Del(ctx, productKey(slug)).Err()
}
