package analytics

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/hedgelabs/telemetry-engine/internal/db"
	"github.com/hedgelabs/telemetry-engine/internal/evm"
	"github.com/hedgelabs/telemetry-engine/internal/pricing"
	"github.com/hedgelabs/telemetry-engine/pkg/models"
)

// aggregateMaxAge is how old a cached daily rollup may be before a request
// falls back to a live chain scan.
const aggregateMaxAge = 48 * time.Hour

// AggregateReader is the persistence slice the read side consumes.
type AggregateReader interface {
	LatestDailyAggregate(ctx context.Context, pid int) (models.PoolDailyAggregate, error)
	PoolStakers(ctx context.Context, pid, limit int) ([]models.StakerPosition, error)
	WalletPools(ctx context.Context, wallet string) ([]int, error)
	WalletStakerPositions(ctx context.Context, wallet string) ([]models.StakerPosition, error)
}

// ChainScanner is the slice of evm.Client the live fallback path uses.
type ChainScanner interface {
	HeadBlock(ctx context.Context) (uint64, error)
	Logs(ctx context.Context, q ethereum.FilterQuery, from, to uint64) ([]types.Log, error)
	BlockAtOrAfter(ctx context.Context, ts int64) (uint64, error)
	CallView(ctx context.Context, to common.Address, cabi abi.ABI, method string, args ...interface{}) ([]interface{}, error)
}

// PoolSource resolves pool metadata.
type PoolSource interface {
	Pool(ctx context.Context, pid int) (models.Pool, error)
	AllPools(ctx context.Context) ([]models.Pool, error)
}

// PriceSource provides the current price graph.
type PriceSource interface {
	Graph(ctx context.Context) (*pricing.Graph, error)
}

// Service assembles the pool and wallet read models served over HTTP and to
// the bot. Aggregate cache first; live chain scan only when the cache is
// stale or absent.
type Service struct {
	store   AggregateReader
	pools   PoolSource
	prices  PriceSource
	chain   ChainScanner
	staking common.Address
	rewards string
}

func NewService(store AggregateReader, pools PoolSource, prices PriceSource, chain ChainScanner, staking, rewardToken string) *Service {
	return &Service{
		store:   store,
		pools:   pools,
		prices:  prices,
		chain:   chain,
		staking: common.HexToAddress(staking),
		rewards: rewardToken,
	}
}

// PoolAnalytics builds the read model for one pool.
func (s *Service) PoolAnalytics(ctx context.Context, pid int) (models.PoolAnalytics, error) {
	pool, err := s.pools.Pool(ctx, pid)
	if err != nil {
		return models.PoolAnalytics{}, err
	}
	graph, err := s.prices.Graph(ctx)
	if err != nil {
		return models.PoolAnalytics{}, err
	}
	return s.assemble(ctx, pool, graph), nil
}

func (s *Service) assemble(ctx context.Context, pool models.Pool, graph *pricing.Graph) models.PoolAnalytics {
	pa := models.PoolAnalytics{
		Pool:     pool,
		PairName: fmt.Sprintf("%s-%s", pool.Symbol0, pool.Symbol1),
		TvlUsd:   pairTVL(pool, graph),
	}

	agg, err := s.store.LatestDailyAggregate(ctx, pool.Pid)
	if err == nil && aggregateFresh(agg) {
		pa.Source = "aggregate"
		pa.VolumeUsd = agg.VolumeUsd
		pa.FeesUsd = agg.FeesUsd
		pa.RewardsUsd = agg.RewardsUsd
		pa.FeeApr = agg.FeeApr
		pa.HarvestApr = agg.HarvestApr
		pa.TotalApr = agg.TotalApr
		return pa
	}
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		log.Printf("[Analytics] Aggregate read failed for pid %d: %v", pool.Pid, err)
	}

	pa.Source = "live"
	volume, err := s.liveVolume24h(ctx, pool, graph)
	if err != nil {
		log.Printf("[Analytics] Live scan failed for pid %d: %v", pool.Pid, err)
		pa.Partial = true
		return pa
	}
	pa.VolumeUsd = volume
	pa.FeesUsd = volume * pricing.LPFeeRate
	if pa.TvlUsd > 0 {
		pa.FeeApr = pa.FeesUsd / pa.TvlUsd * 365 * 100
	}
	pa.TotalApr = pa.FeeApr + pa.HarvestApr
	return pa
}

// liveVolume24h scans the pair's Swap logs for the trailing 24 hours and
// values the input legs at current prices.
func (s *Service) liveVolume24h(ctx context.Context, pool models.Pool, graph *pricing.Graph) (float64, error) {
	head, err := s.chain.HeadBlock(ctx)
	if err != nil {
		return 0, err
	}
	from, err := s.chain.BlockAtOrAfter(ctx, time.Now().Add(-24*time.Hour).Unix())
	if err != nil {
		return 0, err
	}

	pair := common.HexToAddress(pool.LpToken)
	logs, err := s.chain.Logs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{pair},
		Topics:    [][]common.Hash{{evm.PairABI.Events["Swap"].ID}},
	}, from, head)
	if err != nil {
		return 0, err
	}

	p0, ok0 := graph.Price(pool.Token0)
	p1, ok1 := graph.Price(pool.Token1)
	volume := 0.0
	for _, lg := range logs {
		if len(lg.Data) < 64 {
			continue
		}
		if ok0 {
			volume += weiToUnits(new(big.Int).SetBytes(lg.Data[0:32]), pool.Decimals0) * p0
		}
		if ok1 {
			volume += weiToUnits(new(big.Int).SetBytes(lg.Data[32:64]), pool.Decimals1) * p1
		}
	}
	return volume, nil
}

// AllPoolAnalytics assembles every pool's read model in five stages, sharing
// the discovery and price-graph work across pools.
func (s *Service) AllPoolAnalytics(ctx context.Context) ([]models.PoolAnalytics, error) {
	started := time.Now()

	log.Printf("[Analytics] Stage 1/5: discovering pools")
	pools, err := s.pools.AllPools(ctx)
	if err != nil {
		return nil, err
	}

	log.Printf("[Analytics] Stage 2/5: building price graph")
	graph, err := s.prices.Graph(ctx)
	if err != nil {
		return nil, err
	}

	log.Printf("[Analytics] Stage 3/5: loading aggregates for %d pools", len(pools))
	out := make([]models.PoolAnalytics, 0, len(pools))
	live := 0
	for _, pool := range pools {
		if ctx.Err() != nil {
			// Deadline mid-pipeline: return what resolved, marked partial.
			for i := range out {
				out[i].Partial = true
			}
			log.Printf("[Analytics] Deadline hit after %d/%d pools", len(out), len(pools))
			return out, nil
		}
		pa := s.assemble(ctx, pool, graph)
		if pa.Source == "live" {
			live++
		}
		out = append(out, pa)
	}

	log.Printf("[Analytics] Stage 4/5: %d/%d pools served live", live, len(out))
	log.Printf("[Analytics] Stage 5/5: assembled %d pools in %s", len(out), time.Since(started).Round(time.Millisecond))
	return out, nil
}

// PoolStakers lists a pool's stakers, largest position first.
func (s *Service) PoolStakers(ctx context.Context, pid, limit int) ([]models.StakerPosition, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.PoolStakers(ctx, pid, limit)
}

func aggregateFresh(a models.PoolDailyAggregate) bool {
	day, err := time.Parse("2006-01-02", a.Date)
	if err != nil {
		return false
	}
	return time.Since(day) < aggregateMaxAge+24*time.Hour
}

func pairTVL(p models.Pool, graph *pricing.Graph) float64 {
	tvl := 0.0
	if r0, ok := new(big.Int).SetString(p.Reserve0, 10); ok {
		if price, priced := graph.Price(p.Token0); priced {
			tvl += weiToUnits(r0, p.Decimals0) * price
		}
	}
	if r1, ok := new(big.Int).SetString(p.Reserve1, 10); ok {
		if price, priced := graph.Price(p.Token1); priced {
			tvl += weiToUnits(r1, p.Decimals1) * price
		}
	}
	return tvl
}

func weiToUnits(v *big.Int, decimals uint8) float64 {
	f := new(big.Float).SetInt(v)
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	out, _ := new(big.Float).Quo(f, scale).Float64()
	return out
}
