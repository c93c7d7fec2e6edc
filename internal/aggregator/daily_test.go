package aggregator

import (
	"context"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/hedgelabs/telemetry-engine/internal/pricing"
	"github.com/hedgelabs/telemetry-engine/pkg/models"
)

const (
	usdc  = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	jewel = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

// testGraph prices jewel at $2 against the usdc anchor.
func testGraph() *pricing.Graph {
	return pricing.BuildGraph([]pricing.PairReserves{{
		Pair: "0x1111111111111111111111111111111111111111",
		Token0: usdc, Token1: jewel,
		Reserve0: units(100), Reserve1: units(50),
		Decimals0: 18, Decimals1: 18,
	}}, usdc, nil)
}

type fakeAggStore struct {
	swaps   []models.SwapEvent
	rewards []models.RewardEvent
	written []models.PoolDailyAggregate
}

func (f *fakeAggStore) SwapEventsForDay(ctx context.Context, pid int, dayStart, dayEnd int64) ([]models.SwapEvent, error) {
	return f.swaps, nil
}

func (f *fakeAggStore) RewardEventsForDay(ctx context.Context, pid int, dayStart, dayEnd int64) ([]models.RewardEvent, error) {
	return f.rewards, nil
}

func (f *fakeAggStore) UpsertDailyAggregate(ctx context.Context, a models.PoolDailyAggregate) error {
	f.written = append(f.written, a)
	return nil
}

type fakePools struct{ pools []models.Pool }

func (f *fakePools) AllPools(ctx context.Context) ([]models.Pool, error) { return f.pools, nil }

type fakePrices struct{ g *pricing.Graph }

func (f *fakePrices) Graph(ctx context.Context) (*pricing.Graph, error) { return f.g, nil }

func testPool() models.Pool {
	return models.Pool{
		Pid:           3,
		LpToken:       "0x1111111111111111111111111111111111111111",
		Token0:        usdc,
		Token1:        jewel,
		Decimals0:     18,
		Decimals1:     18,
		Reserve0:      units(100).String(),
		Reserve1:      units(50).String(),
		TotalSupply:   units(100).String(),
		TotalStakedV2: units(50).String(),
		AllocPoint:    10,
	}
}

func near(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-6*math.Max(1, math.Abs(want)) {
		t.Errorf("%s = %v, want %v", name, got, want)
	}
}

func TestDayBounds(t *testing.T) {
	at := time.Date(2026, 3, 14, 17, 42, 9, 0, time.UTC)
	start, end := DayBounds(at)
	if got := time.Unix(start, 0).UTC(); got != time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC) {
		t.Errorf("start = %v", got)
	}
	if end-start != 86400 {
		t.Errorf("day length = %d seconds", end-start)
	}
}

func TestRollupVolumeAndFees(t *testing.T) {
	store := &fakeAggStore{
		swaps: []models.SwapEvent{
			{Pid: 3, VolumeUsd: 100},
			{Pid: 3, VolumeUsd: 200},
		},
		rewards: []models.RewardEvent{
			{Pid: 3, Amount: units(5).String()},
		},
	}
	agg := New(store, &fakePools{pools: []models.Pool{testPool()}},
		&fakePrices{g: testGraph()}, DefaultAPRPolicy(), jewel)

	if err := agg.RunDay(context.Background(), time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("RunDay: %v", err)
	}
	if len(store.written) != 1 {
		t.Fatalf("wrote %d aggregates, want 1", len(store.written))
	}

	a := store.written[0]
	if a.Date != "2026-03-14" {
		t.Errorf("date = %q", a.Date)
	}
	near(t, "volume", a.VolumeUsd, 300)
	near(t, "fees", a.FeesUsd, 300*pricing.LPFeeRate)
	if a.SwapCount != 2 || a.RewardEventCount != 1 {
		t.Errorf("counts = %d/%d, want 2/1", a.SwapCount, a.RewardEventCount)
	}
	if a.RewardsToken != units(5).String() {
		t.Errorf("rewards wei = %s", a.RewardsToken)
	}
	near(t, "rewardsUsd", a.RewardsUsd, 10) // 5 jewel at $2

	// 100 usdc at $1 + 50 jewel at $2; half the LP supply is staked.
	near(t, "tvl", a.TvlUsd, 200)
	near(t, "tvlV2", a.TvlV2Usd, 100)

	near(t, "feeApr", a.FeeApr, a.FeesUsd/a.TvlUsd*365*100)
	wantHarvest := DefaultAPRPolicy().GardenBoostMultiplier * 10 * 43200 * 2 / a.TvlV2Usd * 365 * 100
	near(t, "harvestApr", a.HarvestApr, wantHarvest)
	near(t, "totalApr", a.TotalApr, a.FeeApr+a.HarvestApr)
}

func TestRollupZeroEventDayStillSnapshotsTVL(t *testing.T) {
	store := &fakeAggStore{}
	agg := New(store, &fakePools{pools: []models.Pool{testPool()}},
		&fakePrices{g: testGraph()}, DefaultAPRPolicy(), jewel)

	if err := agg.RunDay(context.Background(), time.Now()); err != nil {
		t.Fatalf("RunDay: %v", err)
	}
	a := store.written[0]
	if a.VolumeUsd != 0 || a.FeesUsd != 0 || a.SwapCount != 0 {
		t.Errorf("zero-event day produced activity: %+v", a)
	}
	if a.RewardsToken != "0" {
		t.Errorf("rewards wei = %q, want 0", a.RewardsToken)
	}
	near(t, "tvl", a.TvlUsd, 200)
	if a.FeeApr != 0 {
		t.Errorf("feeApr = %v, want 0", a.FeeApr)
	}
}

func TestHarvestAprZeroWhenNothingStaked(t *testing.T) {
	pool := testPool()
	pool.TotalStakedV2 = "0"
	store := &fakeAggStore{}
	agg := New(store, &fakePools{pools: []models.Pool{pool}},
		&fakePrices{g: testGraph()}, DefaultAPRPolicy(), jewel)

	if err := agg.RunDay(context.Background(), time.Now()); err != nil {
		t.Fatalf("RunDay: %v", err)
	}
	if got := store.written[0].HarvestApr; got != 0 {
		t.Errorf("harvestApr = %v, want 0 with no staked LP", got)
	}
}
