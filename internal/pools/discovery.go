package pools

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/hedgelabs/telemetry-engine/internal/evm"
	"github.com/hedgelabs/telemetry-engine/internal/pricing"
	"github.com/hedgelabs/telemetry-engine/pkg/models"
)

// metadataTTL bounds how stale cached pool metadata may get. Token symbols
// and decimals are stable modulo contract upgrades; reserves and alloc
// points are refreshed on every expiry.
const metadataTTL = 5 * time.Minute

// Discovery enumerates the staking contract's pools and resolves pair and
// token metadata, caching results in-process.
type Discovery struct {
	client  *evm.Client
	staking common.Address
	factory common.Address
	cache   *lru.LRU[int, models.Pool]
}

func NewDiscovery(client *evm.Client, staking, factory string) *Discovery {
	return &Discovery{
		client:  client,
		staking: common.HexToAddress(staking),
		factory: common.HexToAddress(factory),
		cache:   lru.NewLRU[int, models.Pool](512, nil, metadataTTL),
	}
}

// PoolCount reads poolLength() from the staking contract.
func (d *Discovery) PoolCount(ctx context.Context) (int, error) {
	out, err := d.client.CallView(ctx, d.staking, evm.StakingABI, "poolLength")
	if err != nil {
		return 0, fmt.Errorf("poolLength: %w", err)
	}
	return int(out[0].(*big.Int).Int64()), nil
}

// Pool resolves full metadata for one pid, serving from cache when fresh.
func (d *Discovery) Pool(ctx context.Context, pid int) (models.Pool, error) {
	if p, ok := d.cache.Get(pid); ok {
		return p, nil
	}

	out, err := d.client.CallView(ctx, d.staking, evm.StakingABI, "poolInfo", big.NewInt(int64(pid)))
	if err != nil {
		return models.Pool{}, fmt.Errorf("poolInfo(%d): %w", pid, err)
	}
	lpToken := out[0].(common.Address)
	allocPoint := out[1].(*big.Int)

	p := models.Pool{
		Pid:        pid,
		LpToken:    strings.ToLower(lpToken.Hex()),
		AllocPoint: allocPoint.Int64(),
	}

	if err := d.fillPairMetadata(ctx, &p, lpToken); err != nil {
		return models.Pool{}, err
	}

	// Staked V2 balance is the staking contract's LP holding.
	if bal, err := d.client.CallView(ctx, lpToken, evm.ERC20ABI, "balanceOf", d.staking); err == nil {
		p.TotalStakedV2 = bal[0].(*big.Int).String()
	}

	d.cache.Add(pid, p)
	return p, nil
}

func (d *Discovery) fillPairMetadata(ctx context.Context, p *models.Pool, pair common.Address) error {
	t0Out, err := d.client.CallView(ctx, pair, evm.PairABI, "token0")
	if err != nil {
		return fmt.Errorf("token0 on %s: %w", p.LpToken, err)
	}
	t1Out, err := d.client.CallView(ctx, pair, evm.PairABI, "token1")
	if err != nil {
		return fmt.Errorf("token1 on %s: %w", p.LpToken, err)
	}
	token0 := t0Out[0].(common.Address)
	token1 := t1Out[0].(common.Address)
	p.Token0 = strings.ToLower(token0.Hex())
	p.Token1 = strings.ToLower(token1.Hex())

	res, err := d.client.CallView(ctx, pair, evm.PairABI, "getReserves")
	if err != nil {
		return fmt.Errorf("getReserves on %s: %w", p.LpToken, err)
	}
	p.Reserve0 = res[0].(*big.Int).String()
	p.Reserve1 = res[1].(*big.Int).String()

	supply, err := d.client.CallView(ctx, pair, evm.PairABI, "totalSupply")
	if err != nil {
		return fmt.Errorf("totalSupply on %s: %w", p.LpToken, err)
	}
	p.TotalSupply = supply[0].(*big.Int).String()

	p.Decimals0, p.Symbol0 = d.tokenMetadata(ctx, token0)
	p.Decimals1, p.Symbol1 = d.tokenMetadata(ctx, token1)
	return nil
}

// tokenMetadata is best-effort: a token with a nonstandard symbol() still
// gets indexed, just with a placeholder symbol.
func (d *Discovery) tokenMetadata(ctx context.Context, token common.Address) (uint8, string) {
	decimals := uint8(18)
	symbol := strings.ToLower(token.Hex())[:10]

	if out, err := d.client.CallView(ctx, token, evm.ERC20ABI, "decimals"); err == nil {
		decimals = out[0].(uint8)
	}
	if out, err := d.client.CallView(ctx, token, evm.ERC20ABI, "symbol"); err == nil {
		symbol = out[0].(string)
	}
	return decimals, symbol
}

// AllPools resolves metadata for every pid with bounded parallelism.
func (d *Discovery) AllPools(ctx context.Context) ([]models.Pool, error) {
	count, err := d.PoolCount(ctx)
	if err != nil {
		return nil, err
	}

	pids := make([]int, count)
	for i := range pids {
		pids[i] = i
	}

	out := make([]models.Pool, count)
	err = evm.BatchCall(ctx, pids, 6, func(ctx context.Context, pid int) error {
		p, err := d.Pool(ctx, pid)
		if err != nil {
			return err
		}
		out[pid] = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[PoolDiscovery] Resolved metadata for %d pools", count)
	return out, nil
}

// PoolPairs resolves the staking pools' pairs only, the focused price-graph
// flavor the graph cache falls back to when the full factory walk fails.
func (d *Discovery) PoolPairs(ctx context.Context) ([]pricing.PairReserves, error) {
	pools, err := d.AllPools(ctx)
	if err != nil {
		return nil, err
	}
	return PairReserves(pools), nil
}

// PairReserves converts pool metadata into price-graph edge inputs.
func PairReserves(pools []models.Pool) []pricing.PairReserves {
	out := make([]pricing.PairReserves, 0, len(pools))
	for _, p := range pools {
		r0, ok0 := new(big.Int).SetString(p.Reserve0, 10)
		r1, ok1 := new(big.Int).SetString(p.Reserve1, 10)
		if !ok0 || !ok1 {
			continue
		}
		out = append(out, pricing.PairReserves{
			Pair:      p.LpToken,
			Token0:    p.Token0,
			Token1:    p.Token1,
			Reserve0:  r0,
			Reserve1:  r1,
			Decimals0: p.Decimals0,
			Decimals1: p.Decimals1,
		})
	}
	return out
}

// FactoryPairs enumerates every pair on the DEX factory for the full price
// graph build. Slow; callers batch it with concurrency 6 and cache hard.
func (d *Discovery) FactoryPairs(ctx context.Context) ([]pricing.PairReserves, error) {
	out, err := d.client.CallView(ctx, d.factory, evm.FactoryABI, "allPairsLength")
	if err != nil {
		return nil, fmt.Errorf("allPairsLength: %w", err)
	}
	n := int(out[0].(*big.Int).Int64())

	idxs := make([]int, n)
	for i := range idxs {
		idxs[i] = i
	}

	pairs := make([]pricing.PairReserves, n)
	err = evm.BatchCall(ctx, idxs, 6, func(ctx context.Context, i int) error {
		addrOut, err := d.client.CallView(ctx, d.factory, evm.FactoryABI, "allPairs", big.NewInt(int64(i)))
		if err != nil {
			return err
		}
		pair := addrOut[0].(common.Address)

		var p models.Pool
		p.LpToken = strings.ToLower(pair.Hex())
		if err := d.fillPairMetadata(ctx, &p, pair); err != nil {
			// A single broken pair must not sink the full build.
			log.Printf("[PoolDiscovery] Skipping pair %s: %v", p.LpToken, err)
			return nil
		}
		r0, _ := new(big.Int).SetString(p.Reserve0, 10)
		r1, _ := new(big.Int).SetString(p.Reserve1, 10)
		pairs[i] = pricing.PairReserves{
			Pair: p.LpToken, Token0: p.Token0, Token1: p.Token1,
			Reserve0: r0, Reserve1: r1,
			Decimals0: p.Decimals0, Decimals1: p.Decimals1,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Compact out skipped entries.
	kept := pairs[:0]
	for _, pr := range pairs {
		if pr.Pair != "" && pr.Reserve0 != nil {
			kept = append(kept, pr)
		}
	}
	log.Printf("[PoolDiscovery] Enumerated %d factory pairs (%d usable)", n, len(kept))
	return kept, nil
}

// ClearCache drops all cached metadata. Exposed for the debug API.
func (d *Discovery) ClearCache() {
	d.cache.Purge()
}
