package aggregator

import (
	"context"
	"log"
	"math/big"
	"time"

	"github.com/hedgelabs/telemetry-engine/internal/pricing"
	"github.com/hedgelabs/telemetry-engine/pkg/models"
)

// APRPolicy carries the reward-rate knobs the rollup math depends on.
// GardenBoostMultiplier is the per-block emission share credited to a pool
// per allocation point, expressed in reward tokens.
type APRPolicy struct {
	GardenBoostMultiplier float64
}

func DefaultAPRPolicy() APRPolicy {
	return APRPolicy{GardenBoostMultiplier: 0.00012}
}

// AggregateStore is the persistence slice the aggregator reads and writes.
type AggregateStore interface {
	SwapEventsForDay(ctx context.Context, pid int, dayStart, dayEnd int64) ([]models.SwapEvent, error)
	RewardEventsForDay(ctx context.Context, pid int, dayStart, dayEnd int64) ([]models.RewardEvent, error)
	UpsertDailyAggregate(ctx context.Context, a models.PoolDailyAggregate) error
}

// PoolSource resolves current pool metadata for the TVL snapshot.
type PoolSource interface {
	AllPools(ctx context.Context) ([]models.Pool, error)
}

// PriceSource provides the current price graph.
type PriceSource interface {
	Graph(ctx context.Context) (*pricing.Graph, error)
}

// Aggregator rolls one UTC day of raw events per pool into the daily
// aggregate cache. The rollup is deterministic for a fully indexed day; the
// TVL and APR columns snapshot state at rollup time.
type Aggregator struct {
	store   AggregateStore
	pools   PoolSource
	prices  PriceSource
	policy  APRPolicy
	rewards string // reward token address, lowercase
	cutoff  time.Duration
}

func New(store AggregateStore, pools PoolSource, prices PriceSource, policy APRPolicy, rewardToken string) *Aggregator {
	return &Aggregator{
		store:   store,
		pools:   pools,
		prices:  prices,
		policy:  policy,
		rewards: rewardToken,
	}
}

// SetCutoff shifts the rollup day boundary away from UTC midnight. With
// offset c the day labelled D covers [D 00:00+c, D+1 00:00+c).
func (a *Aggregator) SetCutoff(offset time.Duration) {
	a.cutoff = offset
}

// DayBounds returns the [start, end) unix range of the UTC day holding t.
func DayBounds(t time.Time) (int64, int64) {
	day := t.UTC().Truncate(24 * time.Hour)
	return day.Unix(), day.Add(24 * time.Hour).Unix()
}

// RunDay aggregates every pool for the UTC day containing t.
func (a *Aggregator) RunDay(ctx context.Context, t time.Time) error {
	shifted := t.Add(-a.cutoff)
	day := shifted.UTC().Format("2006-01-02")
	dayStart, dayEnd := DayBounds(shifted)
	dayStart += int64(a.cutoff / time.Second)
	dayEnd += int64(a.cutoff / time.Second)

	pools, err := a.pools.AllPools(ctx)
	if err != nil {
		return err
	}
	graph, err := a.prices.Graph(ctx)
	if err != nil {
		return err
	}

	log.Printf("[Aggregator] Rolling up %d pools for %s", len(pools), day)
	for _, p := range pools {
		agg, err := a.aggregatePool(ctx, p, graph, day, dayStart, dayEnd)
		if err != nil {
			return err
		}
		if err := a.store.UpsertDailyAggregate(ctx, agg); err != nil {
			return err
		}
	}
	log.Printf("[Aggregator] Completed rollup for %s", day)
	return nil
}

func (a *Aggregator) aggregatePool(ctx context.Context, p models.Pool, graph *pricing.Graph, day string, dayStart, dayEnd int64) (models.PoolDailyAggregate, error) {
	agg := models.PoolDailyAggregate{
		Pid:          p.Pid,
		Date:         day,
		RewardsToken: "0",
	}

	swaps, err := a.store.SwapEventsForDay(ctx, p.Pid, dayStart, dayEnd)
	if err != nil {
		return agg, err
	}
	for _, sw := range swaps {
		agg.VolumeUsd += sw.VolumeUsd
	}
	agg.SwapCount = len(swaps)
	agg.FeesUsd = agg.VolumeUsd * pricing.LPFeeRate

	rewards, err := a.store.RewardEventsForDay(ctx, p.Pid, dayStart, dayEnd)
	if err != nil {
		return agg, err
	}
	rewardWei := new(big.Int)
	for _, r := range rewards {
		if amt, ok := new(big.Int).SetString(r.Amount, 10); ok {
			rewardWei.Add(rewardWei, amt)
		}
	}
	agg.RewardEventCount = len(rewards)
	agg.RewardsToken = rewardWei.String()
	if price, ok := graph.Price(a.rewards); ok {
		agg.RewardsUsd = weiToUnits(rewardWei, 18) * price
	}

	// TVL snapshots the pair's current reserves; a zero-event day still gets
	// a row so history has no gaps.
	agg.TvlUsd = pairTVL(p, graph)
	agg.TvlV2Usd = stakedShareTVL(p, agg.TvlUsd)

	agg.FeeApr = annualizedPct(agg.FeesUsd, agg.TvlUsd)
	agg.HarvestApr = a.harvestApr(p, graph, agg.TvlV2Usd)
	agg.TotalApr = agg.FeeApr + agg.HarvestApr
	return agg, nil
}

// pairTVL values both reserve legs at current prices. A leg without a price
// contributes nothing rather than guessing.
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

// stakedShareTVL scales pair TVL down to the slice of LP supply held by the
// staking contract.
func stakedShareTVL(p models.Pool, pairTvl float64) float64 {
	staked, ok1 := new(big.Int).SetString(p.TotalStakedV2, 10)
	supply, ok2 := new(big.Int).SetString(p.TotalSupply, 10)
	if !ok1 || !ok2 || supply.Sign() == 0 {
		return 0
	}
	share, _ := new(big.Float).Quo(new(big.Float).SetInt(staked), new(big.Float).SetInt(supply)).Float64()
	return pairTvl * share
}

// harvestApr annualizes reward emissions against the staked (V2) TVL only.
// Unstaked LP earns swap fees but no emissions.
func (a *Aggregator) harvestApr(p models.Pool, graph *pricing.Graph, tvlV2 float64) float64 {
	if tvlV2 <= 0 {
		return 0
	}
	price, ok := graph.Price(a.rewards)
	if !ok {
		return 0
	}
	const blocksPerDay = 43200 // 2s block time
	dailyRewardUsd := a.policy.GardenBoostMultiplier * float64(p.AllocPoint) * blocksPerDay * price
	return annualizedPct(dailyRewardUsd, tvlV2)
}

func annualizedPct(dailyUsd, tvlUsd float64) float64 {
	if tvlUsd <= 0 {
		return 0
	}
	return dailyUsd / tvlUsd * 365 * 100
}

func weiToUnits(v *big.Int, decimals uint8) float64 {
	f := new(big.Float).SetInt(v)
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	out, _ := new(big.Float).Quo(f, scale).Float64()
	return out
}

// RunNightly runs the previous day's rollup shortly after each UTC midnight
// until the context is cancelled.
func (a *Aggregator) RunNightly(ctx context.Context) error {
	for {
		next := time.Now().UTC().Truncate(24 * time.Hour).Add(24*time.Hour + a.cutoff + 5*time.Minute)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Until(next)):
		}
		if err := a.RunDay(ctx, time.Now().UTC().Add(-24*time.Hour)); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("[Aggregator] Nightly rollup failed: %v", err)
		}
	}
}
