package pricing

import (
	"log"
	"math/big"
	"strings"
)

// LPFeeRate is the LP share of the swap fee applied to USD volume when
// deriving fee revenue. The protocol takes 0.30% per swap of which 0.20%
// accrues to LPs; the rest goes to the protocol treasury.
const LPFeeRate = 0.002

// PairReserves describes one AMM pool edge candidate: the pair contract,
// its two tokens, raw reserves and token decimals. Reserves are wei-scale
// big integers; decimal normalization happens inside the graph build.
type PairReserves struct {
	Pair      string
	Token0    string
	Token1    string
	Reserve0  *big.Int
	Reserve1  *big.Int
	Decimals0 uint8
	Decimals1 uint8
}

// Graph is an immutable token→USD price snapshot. Writers build a new Graph
// and publish it; readers never observe a partially built one.
type Graph struct {
	anchor string
	prices map[string]float64
}

// Price returns the USD price of token and whether it is priced at all.
// A token with no reserve path to the anchor is absent, never zero.
func (g *Graph) Price(token string) (float64, bool) {
	p, ok := g.prices[strings.ToLower(token)]
	return p, ok
}

// Prices returns a copy of the full price map.
func (g *Graph) Prices() map[string]float64 {
	out := make(map[string]float64, len(g.prices))
	for k, v := range g.prices {
		out[k] = v
	}
	return out
}

// Len reports how many tokens received a price.
func (g *Graph) Len() int { return len(g.prices) }

// Anchor returns the stablecoin the graph is rooted at.
func (g *Graph) Anchor() string { return g.anchor }

type edge struct {
	neighbor string
	rate     float64 // units of current per unit of neighbor, decimal-normalized
}

// BuildGraph runs a breadth-first price propagation from the anchor token
// (price 1.0) across every pool with both reserves non-zero. The first path
// to reach a token wins; priorityPairs go ahead of all other edges, keeping
// their input order, so BFS prefers direct stable pairs for key assets over
// long propagation chains.
func BuildGraph(pairs []PairReserves, anchor string, priorityPairs [][2]string) *Graph {
	anchor = strings.ToLower(anchor)
	prioAdj := make(map[string][]edge)
	restAdj := make(map[string][]edge)

	addEdge := func(a, b string, rate float64, front bool) {
		m := restAdj
		if front {
			m = prioAdj
		}
		m[a] = append(m[a], edge{neighbor: b, rate: rate})
	}

	isPriority := func(a, b string) bool {
		for _, p := range priorityPairs {
			x, y := strings.ToLower(p[0]), strings.ToLower(p[1])
			if (a == x && b == y) || (a == y && b == x) {
				return true
			}
		}
		return false
	}

	for _, p := range pairs {
		if p.Reserve0 == nil || p.Reserve1 == nil ||
			p.Reserve0.Sign() == 0 || p.Reserve1.Sign() == 0 {
			// Empty pools contribute no edges.
			continue
		}
		t0, t1 := strings.ToLower(p.Token0), strings.ToLower(p.Token1)
		r0 := normalize(p.Reserve0, p.Decimals0)
		r1 := normalize(p.Reserve1, p.Decimals1)
		if r0 == 0 || r1 == 0 {
			continue
		}
		front := isPriority(t0, t1)
		// rate(a→b) = reserve(a)/reserve(b): walking the edge multiplies the
		// current price by how many a-units back one b-unit.
		addEdge(t0, t1, r0/r1, front)
		addEdge(t1, t0, r1/r0, front)
	}

	adj := prioAdj
	for a, edges := range restAdj {
		adj[a] = append(adj[a], edges...)
	}

	prices := map[string]float64{anchor: 1.0}
	queue := []string{anchor}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range adj[cur] {
			if _, seen := prices[e.neighbor]; seen {
				continue
			}
			prices[e.neighbor] = prices[cur] * e.rate
			queue = append(queue, e.neighbor)
		}
	}

	return &Graph{anchor: anchor, prices: prices}
}

// LogSummary prints the resolved prices for a set of key tokens, mapping
// address → display symbol. Called once per build.
func (g *Graph) LogSummary(keyTokens map[string]string) {
	for addr, sym := range keyTokens {
		if p, ok := g.Price(addr); ok {
			log.Printf("[PriceGraph] %s = $%.6f", sym, p)
		} else {
			log.Printf("[PriceGraph] %s = unpriced (no path to anchor)", sym)
		}
	}
	log.Printf("[PriceGraph] %d tokens priced from anchor %s", g.Len(), g.anchor)
}

// normalize converts a wei-scale reserve into token units as float64.
// Acceptable here because the result feeds USD presentation math only.
func normalize(v *big.Int, decimals uint8) float64 {
	f := new(big.Float).SetInt(v)
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	out, _ := new(big.Float).Quo(f, scale).Float64()
	return out
}
