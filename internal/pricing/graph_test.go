package pricing

import (
	"math"
	"math/big"
	"testing"
)

const (
	usdc    = "0xusdc"
	jewel   = "0xjewel"
	crystal = "0xcrystal"
	orphan  = "0xorphan"
)

func units(n int64, decimals uint8) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return new(big.Int).Mul(big.NewInt(n), scale)
}

func TestBFSPropagation(t *testing.T) {
	pairs := []PairReserves{
		{Pair: "0xp1", Token0: usdc, Token1: jewel,
			Reserve0: units(100, 6), Reserve1: units(50, 18), Decimals0: 6, Decimals1: 18},
		{Pair: "0xp2", Token0: jewel, Token1: crystal,
			Reserve0: units(200, 18), Reserve1: units(800, 18), Decimals0: 18, Decimals1: 18},
	}

	g := BuildGraph(pairs, usdc, nil)

	tests := []struct {
		name  string
		token string
		want  float64
	}{
		{"Anchor Is One Dollar", usdc, 1.0},
		{"One Hop", jewel, 2.0},
		{"Two Hops", crystal, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := g.Price(tt.token)
			if !ok {
				t.Fatalf("Expected %s to be priced", tt.token)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Price(%s) = %v, want %v", tt.token, got, tt.want)
			}
		})
	}
}

func TestUnreachableTokenStaysUnpriced(t *testing.T) {
	pairs := []PairReserves{
		{Pair: "0xp1", Token0: usdc, Token1: jewel,
			Reserve0: units(100, 6), Reserve1: units(50, 18), Decimals0: 6, Decimals1: 18},
		// Orphan pool not connected to the anchor component.
		{Pair: "0xp3", Token0: orphan, Token1: "0xother",
			Reserve0: units(10, 18), Reserve1: units(10, 18), Decimals0: 18, Decimals1: 18},
	}

	g := BuildGraph(pairs, usdc, nil)

	if _, ok := g.Price(orphan); ok {
		t.Errorf("Expected orphan token to remain unpriced")
	}
	if _, ok := g.Price("0xmissing"); ok {
		t.Errorf("Expected unknown token to remain unpriced")
	}
}

func TestEmptyReservePoolContributesNoEdge(t *testing.T) {
	pairs := []PairReserves{
		{Pair: "0xp1", Token0: usdc, Token1: jewel,
			Reserve0: units(100, 6), Reserve1: big.NewInt(0), Decimals0: 6, Decimals1: 18},
	}

	g := BuildGraph(pairs, usdc, nil)

	if _, ok := g.Price(jewel); ok {
		t.Errorf("Empty-reserve pool must not price its tokens")
	}
	if g.Len() != 1 {
		t.Errorf("Expected only the anchor priced, got %d tokens", g.Len())
	}
}

func TestPriorityPairWinsOverInsertionOrder(t *testing.T) {
	// Two paths to JEWEL: an indirect, badly priced route inserted first,
	// and a direct stable pair. The priority list must make BFS take the
	// direct edge.
	mid := "0xmid"
	pairs := []PairReserves{
		// usdc -> mid -> jewel would price jewel at $4.
		{Pair: "0xa", Token0: usdc, Token1: mid,
			Reserve0: units(100, 6), Reserve1: units(50, 18), Decimals0: 6, Decimals1: 18},
		{Pair: "0xb", Token0: mid, Token1: jewel,
			Reserve0: units(100, 18), Reserve1: units(50, 18), Decimals0: 18, Decimals1: 18},
		// Direct pair prices jewel at $2.
		{Pair: "0xc", Token0: usdc, Token1: jewel,
			Reserve0: units(100, 6), Reserve1: units(50, 18), Decimals0: 6, Decimals1: 18},
	}

	g := BuildGraph(pairs, usdc, [][2]string{{usdc, jewel}})

	got, ok := g.Price(jewel)
	if !ok {
		t.Fatal("Expected jewel to be priced")
	}
	if math.Abs(got-2.0) > 1e-9 {
		t.Errorf("Priority pair ignored: Price(jewel) = %v, want 2.0", got)
	}
}

func TestPriorityPairsKeepRelativeOrder(t *testing.T) {
	// Two priority pairs off the anchor, then two routes to CRYSTAL. BFS must
	// visit JEWEL before MID (their pairs' input order), so CRYSTAL prices
	// through the JEWEL leg at $2, not the MID leg at $0.5.
	mid := "0xmid"
	pairs := []PairReserves{
		{Pair: "0xa", Token0: usdc, Token1: jewel,
			Reserve0: units(100, 6), Reserve1: units(50, 18), Decimals0: 6, Decimals1: 18},
		{Pair: "0xb", Token0: usdc, Token1: mid,
			Reserve0: units(100, 6), Reserve1: units(200, 18), Decimals0: 6, Decimals1: 18},
		{Pair: "0xc", Token0: jewel, Token1: crystal,
			Reserve0: units(10, 18), Reserve1: units(10, 18), Decimals0: 18, Decimals1: 18},
		{Pair: "0xd", Token0: mid, Token1: crystal,
			Reserve0: units(10, 18), Reserve1: units(10, 18), Decimals0: 18, Decimals1: 18},
	}

	g := BuildGraph(pairs, usdc, [][2]string{{usdc, jewel}, {usdc, mid}})

	got, ok := g.Price(crystal)
	if !ok {
		t.Fatal("Expected crystal to be priced")
	}
	if math.Abs(got-2.0) > 1e-9 {
		t.Errorf("Priority order not preserved: Price(crystal) = %v, want 2.0 via the first priority pair", got)
	}
}

func TestDeterministicRebuild(t *testing.T) {
	pairs := []PairReserves{
		{Pair: "0xp1", Token0: usdc, Token1: jewel,
			Reserve0: units(100, 6), Reserve1: units(50, 18), Decimals0: 6, Decimals1: 18},
		{Pair: "0xp2", Token0: jewel, Token1: crystal,
			Reserve0: units(200, 18), Reserve1: units(800, 18), Decimals0: 18, Decimals1: 18},
	}

	a := BuildGraph(pairs, usdc, nil).Prices()
	b := BuildGraph(pairs, usdc, nil).Prices()

	if len(a) != len(b) {
		t.Fatalf("Rebuild changed token count: %d vs %d", len(a), len(b))
	}
	for token, price := range a {
		if b[token] != price {
			t.Errorf("Rebuild changed %s: %v vs %v", token, price, b[token])
		}
	}
}
