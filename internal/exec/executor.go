// Package exec places orders with client-order-id deduplication. Submissions
// are never retried: a failed state-changing call surfaces immediately and
// the caller's error path decides what happens next. Read-only venue calls
// get the Retry helper instead.
package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"hp-hedge-bot/internal/state"
	"hp-hedge-bot/internal/venue"
)

type Executor struct {
	store state.Store
	log   *zap.Logger

	mu    sync.Mutex
	cache map[string]venue.Fill
}

func New(store state.Store, log *zap.Logger) *Executor {
	return &Executor{
		store: store,
		log:   log,
		cache: make(map[string]venue.Fill),
	}
}

// Place submits a market order once. If the same client order id was already
// filled, the recorded fill is returned without touching the venue, so a
// crash between fill and persist cannot double a leg.
func (e *Executor) Place(ctx context.Context, v venue.Venue, req venue.OrderRequest) (*venue.Fill, error) {
	if req.ClientID == "" {
		return v.PlaceMarketOrder(ctx, req)
	}
	cacheKey := "fill:" + v.Name() + ":" + req.ClientID
	e.mu.Lock()
	if fill, ok := e.cache[cacheKey]; ok {
		e.mu.Unlock()
		return &fill, nil
	}
	e.mu.Unlock()
	if e.store != nil {
		raw, ok, err := e.store.Get(ctx, cacheKey)
		if err != nil {
			return nil, err
		}
		if ok {
			var fill venue.Fill
			if err := json.Unmarshal([]byte(raw), &fill); err != nil {
				return nil, fmt.Errorf("corrupt fill record %s: %w", cacheKey, err)
			}
			e.remember(cacheKey, fill)
			if e.log != nil {
				e.log.Info("order already filled, returning recorded fill",
					zap.String("venue", v.Name()), zap.String("client_id", req.ClientID))
			}
			return &fill, nil
		}
	}
	fill, err := v.PlaceMarketOrder(ctx, req)
	if err != nil {
		return nil, err
	}
	if e.store != nil {
		payload, err := json.Marshal(fill)
		if err == nil {
			err = e.store.Set(ctx, cacheKey, string(payload))
		}
		if err != nil && e.log != nil {
			e.log.Warn("failed to persist fill record", zap.String("key", cacheKey), zap.Error(err))
		}
	}
	e.remember(cacheKey, *fill)
	return fill, nil
}

func (e *Executor) remember(key string, fill venue.Fill) {
	e.mu.Lock()
	e.cache[key] = fill
	e.mu.Unlock()
}

// Retry runs a read-only call with exponential backoff. Only queries go
// through here; anything that changes venue state is submitted exactly once.
func Retry(ctx context.Context, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	backoff := 200 * time.Millisecond
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return fmt.Errorf("retry failed: %w", err)
}
