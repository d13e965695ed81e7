// README: TTL cache in front of an Estimator, keyed by rounded coordinates.
package geo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ridebid/internal/types"
)

type cacheEntry struct {
	v  Estimate
	ts time.Time
}

type Cached struct {
	next  Estimator
	ttl   time.Duration
	mu    sync.RWMutex
	store map[string]cacheEntry
	now   func() time.Time
}

func NewCached(next Estimator, ttl time.Duration) *Cached {
	return &Cached{next: next, ttl: ttl, store: make(map[string]cacheEntry), now: time.Now}
}

// Coordinates are rounded to ~100m so nearby queries share entries.
func keyFor(a, b types.Point) string {
	return fmt.Sprintf("%.3f,%.3f->%.3f,%.3f", a.Lat, a.Lng, b.Lat, b.Lng)
}

func (c *Cached) get(k string) (Estimate, bool) {
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok || c.now().Sub(e.ts) > c.ttl {
		return Estimate{}, false
	}
	return e.v, true
}

func (c *Cached) set(k string, v Estimate) {
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: c.now()}
	c.mu.Unlock()
}

func (c *Cached) Estimate(ctx context.Context, from, to types.Point) (Estimate, error) {
	k := keyFor(from, to)
	if v, ok := c.get(k); ok {
		return v, nil
	}
	v, err := c.next.Estimate(ctx, from, to)
	if err != nil {
		return Estimate{}, err
	}
	c.set(k, v)
	return v, nil
}

// EstimateMany only forwards the misses to the wrapped estimator.
func (c *Cached) EstimateMany(ctx context.Context, from types.Point, to []types.Point) ([]Estimate, error) {
	out := make([]Estimate, len(to))
	var missIdx []int
	var missPts []types.Point
	for i, p := range to {
		if v, ok := c.get(keyFor(from, p)); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missPts = append(missPts, p)
	}
	if len(missPts) == 0 {
		return out, nil
	}
	fresh, err := EstimateAll(ctx, c.next, from, missPts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = fresh[j]
		c.set(keyFor(from, to[i]), fresh[j])
	}
	return out, nil
}
