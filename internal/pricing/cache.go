package pricing

import (
	"context"
	"log"
	"sync"
	"time"
)

// PairSource enumerates the DEX pairs a graph build consumes.
type PairSource interface {
	FactoryPairs(ctx context.Context) ([]PairReserves, error)
}

// FocusedPairSource is an optional PairSource extension serving only the
// staking pools' pairs. Far cheaper than the full factory walk; the cache
// falls back to it when the walk fails before any snapshot exists.
type FocusedPairSource interface {
	PoolPairs(ctx context.Context) ([]PairReserves, error)
}

// GraphCache serves immutable price-graph snapshots, rebuilding at most once
// per TTL. Readers always get a complete graph; a rebuild publishes a new
// snapshot instead of mutating the old one.
type GraphCache struct {
	source   PairSource
	anchor   string
	priority [][2]string
	ttl      time.Duration

	mu      sync.Mutex
	graph   *Graph
	builtAt time.Time
}

func NewGraphCache(source PairSource, anchor string, priority [][2]string, ttl time.Duration) *GraphCache {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &GraphCache{source: source, anchor: anchor, priority: priority, ttl: ttl}
}

// Graph returns the current snapshot, rebuilding it when stale. Concurrent
// callers during a rebuild wait for the single in-flight build.
func (c *GraphCache) Graph(ctx context.Context) (*Graph, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.graph != nil && time.Since(c.builtAt) < c.ttl {
		return c.graph, nil
	}

	pairs, err := c.source.FactoryPairs(ctx)
	if err != nil {
		// A stale graph beats no graph when the chain is flaky.
		if c.graph != nil {
			log.Printf("[PriceGraph] Rebuild failed, serving stale snapshot: %v", err)
			return c.graph, nil
		}
		return c.focusedFallback(ctx, err)
	}

	c.graph = BuildGraph(pairs, c.anchor, c.priority)
	c.builtAt = time.Now()
	return c.graph, nil
}

// focusedFallback builds a graph from the staking pools' pairs alone when the
// factory walk fails with no snapshot to serve. builtAt stays zero so the
// next read retries the full build.
func (c *GraphCache) focusedFallback(ctx context.Context, cause error) (*Graph, error) {
	focused, ok := c.source.(FocusedPairSource)
	if !ok {
		return nil, cause
	}
	pairs, err := focused.PoolPairs(ctx)
	if err != nil {
		return nil, cause
	}
	log.Printf("[PriceGraph] Factory walk failed, serving focused graph from %d pool pairs: %v", len(pairs), cause)
	c.graph = BuildGraph(pairs, c.anchor, c.priority)
	return c.graph, nil
}

// PriceAt serves the current graph's price for any day. Callers wanting true
// historical prices consult their own day-keyed cache first and use this as
// the live fallback.
func (c *GraphCache) PriceAt(ctx context.Context, token, day string) (float64, bool) {
	g, err := c.Graph(ctx)
	if err != nil {
		return 0, false
	}
	return g.Price(token)
}

// Warm builds the first snapshot eagerly at startup.
func (c *GraphCache) Warm(ctx context.Context) error {
	g, err := c.Graph(ctx)
	if err != nil {
		return err
	}
	log.Printf("[PriceGraph] Warmed with %d priced tokens (anchor %s)", g.Len(), g.Anchor())
	return nil
}
