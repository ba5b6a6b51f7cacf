package costing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/jwfreed/inventory-manager-sub012/internal/shared"
)

const valuationVersionKey = "costing:valuation:version"

// ValuationSource computes valuation reports from the layer table. Satisfied
// by Repository.
type ValuationSource interface {
	Valuation(ctx context.Context, key shared.StockKey) (Valuation, error)
	ItemValuation(ctx context.Context, tenantID, itemID int64) (Valuation, error)
}

// ValuationCache is a versioned read-through cache for valuation reports.
// Any layer mutation bumps the version, which orphans every cached entry at
// once; singleflight collapses concurrent loads of the same key.
type ValuationCache struct {
	client *redis.Client
	repo   ValuationSource
	ttl    time.Duration
	group  singleflight.Group
}

// NewValuationCache instantiates the cache helper. A nil client degrades to
// direct repository reads.
func NewValuationCache(client *redis.Client, repo ValuationSource, ttl time.Duration) *ValuationCache {
	return &ValuationCache{client: client, repo: repo, ttl: ttl}
}

// Valuation returns the cached report for one stocking point.
func (c *ValuationCache) Valuation(ctx context.Context, key shared.StockKey) (Valuation, error) {
	return c.fetch(ctx, fmt.Sprintf("costing:valuation:%s", key), func(ctx context.Context) (Valuation, error) {
		return c.repo.Valuation(ctx, key)
	})
}

// ItemValuation returns the cached aggregate across an item's locations.
func (c *ValuationCache) ItemValuation(ctx context.Context, tenantID, itemID int64) (Valuation, error) {
	return c.fetch(ctx, fmt.Sprintf("costing:valuation:item:%d:%d", tenantID, itemID), func(ctx context.Context) (Valuation, error) {
		return c.repo.ItemValuation(ctx, tenantID, itemID)
	})
}

// Bump invalidates every cached valuation by incrementing the version.
// Called after any posting that receives, consumes, or voids layers.
func (c *ValuationCache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, valuationVersionKey).Err()
}

func (c *ValuationCache) fetch(ctx context.Context, base string, loader func(context.Context) (Valuation, error)) (Valuation, error) {
	if c == nil || c.repo == nil {
		return Valuation{}, errors.New("valuation cache not initialised")
	}
	if c.client == nil {
		return loader(ctx)
	}
	ver, err := c.version(ctx)
	if err != nil {
		return Valuation{}, err
	}
	key := fmt.Sprintf("%s:%d", base, ver)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var v Valuation
		if jsonErr := json.Unmarshal(payload, &v); jsonErr == nil {
			return v, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return Valuation{}, err
	}
	result, err, _ := c.group.Do(key, func() (any, error) {
		v, err := loader(ctx)
		if err != nil {
			return Valuation{}, err
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return Valuation{}, err
		}
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			return Valuation{}, err
		}
		return v, nil
	})
	if err != nil {
		return Valuation{}, err
	}
	return result.(Valuation), nil
}

func (c *ValuationCache) version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, valuationVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.Set(ctx, valuationVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}
