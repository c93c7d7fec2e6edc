package pricing

import (
	"context"
	"errors"
	"math"
	"testing"
)

type fakePairSource struct {
	factory      []PairReserves
	factoryErr   error
	factoryCalls int
}

func (f *fakePairSource) FactoryPairs(ctx context.Context) ([]PairReserves, error) {
	f.factoryCalls++
	if f.factoryErr != nil {
		return nil, f.factoryErr
	}
	return f.factory, nil
}

// fakeFocusedSource additionally serves the staking pools' pairs.
type fakeFocusedSource struct {
	fakePairSource
	pools []PairReserves
}

func (f *fakeFocusedSource) PoolPairs(ctx context.Context) ([]PairReserves, error) {
	return f.pools, nil
}

func stablePair(pair, token string, price int64) PairReserves {
	return PairReserves{
		Pair: pair, Token0: usdc, Token1: token,
		Reserve0: units(100*price, 6), Reserve1: units(100, 18),
		Decimals0: 6, Decimals1: 18,
	}
}

func TestGraphCacheServesSnapshotWithinTTL(t *testing.T) {
	src := &fakePairSource{factory: []PairReserves{stablePair("0xp1", jewel, 2)}}
	c := NewGraphCache(src, usdc, nil, 0)

	for i := 0; i < 3; i++ {
		g, err := c.Graph(context.Background())
		if err != nil {
			t.Fatalf("Graph: %v", err)
		}
		if p, ok := g.Price(jewel); !ok || math.Abs(p-2.0) > 1e-9 {
			t.Fatalf("Price(jewel) = %v, %v, want 2.0", p, ok)
		}
	}
	if src.factoryCalls != 1 {
		t.Errorf("factory walks = %d, want 1 within TTL", src.factoryCalls)
	}
}

func TestGraphCacheFocusedFallbackOnBootstrap(t *testing.T) {
	src := &fakeFocusedSource{
		fakePairSource: fakePairSource{factoryErr: errors.New("rpc timeout")},
		pools:          []PairReserves{stablePair("0xp1", jewel, 2)},
	}
	c := NewGraphCache(src, usdc, nil, 0)

	// No snapshot exists and the factory walk fails: the staking pools'
	// pairs alone must still produce a graph.
	g, err := c.Graph(context.Background())
	if err != nil {
		t.Fatalf("Graph: %v", err)
	}
	if p, ok := g.Price(jewel); !ok || math.Abs(p-2.0) > 1e-9 {
		t.Fatalf("Price(jewel) = %v, %v, want 2.0 from focused build", p, ok)
	}

	// Once the factory recovers, the next read upgrades to the full graph.
	src.factoryErr = nil
	src.factory = []PairReserves{
		stablePair("0xp1", jewel, 2),
		stablePair("0xp2", crystal, 3),
	}
	g, err = c.Graph(context.Background())
	if err != nil {
		t.Fatalf("Graph after recovery: %v", err)
	}
	if _, ok := g.Price(crystal); !ok {
		t.Error("full graph not rebuilt after the factory recovered")
	}
}

func TestGraphCacheWithoutFocusedSourceSurfacesError(t *testing.T) {
	src := &fakePairSource{factoryErr: errors.New("rpc timeout")}
	c := NewGraphCache(src, usdc, nil, 0)

	if _, err := c.Graph(context.Background()); err == nil {
		t.Fatal("expected the bootstrap failure to surface")
	}
}
