package db

import (
	"context"
	"fmt"

	"github.com/hedgelabs/telemetry-engine/pkg/models"
)

// Daily aggregate cache: written once per UTC day per pool by the
// aggregator, read-mostly after that.

// UpsertDailyAggregate writes one (pid, day) rollup row.
func (s *Store) UpsertDailyAggregate(ctx context.Context, a models.PoolDailyAggregate) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pool_daily_aggregates
			(pid, day, volume_usd, fees_usd, rewards_token, rewards_usd,
			 tvl_usd, tvl_v2_usd, fee_apr, harvest_apr, total_apr,
			 swap_count, reward_event_count)
		VALUES ($1,$2::date,$3,$4,$5::numeric,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (pid, day) DO UPDATE SET
			volume_usd = EXCLUDED.volume_usd,
			fees_usd = EXCLUDED.fees_usd,
			rewards_token = EXCLUDED.rewards_token,
			rewards_usd = EXCLUDED.rewards_usd,
			tvl_usd = EXCLUDED.tvl_usd,
			tvl_v2_usd = EXCLUDED.tvl_v2_usd,
			fee_apr = EXCLUDED.fee_apr,
			harvest_apr = EXCLUDED.harvest_apr,
			total_apr = EXCLUDED.total_apr,
			swap_count = EXCLUDED.swap_count,
			reward_event_count = EXCLUDED.reward_event_count;
	`, a.Pid, a.Date, a.VolumeUsd, a.FeesUsd, a.RewardsToken, a.RewardsUsd,
		a.TvlUsd, a.TvlV2Usd, a.FeeApr, a.HarvestApr, a.TotalApr,
		a.SwapCount, a.RewardEventCount)
	if err != nil {
		return fmt.Errorf("upsert aggregate pid %d day %s: %w", a.Pid, a.Date, err)
	}
	return nil
}

// LatestDailyAggregate returns the newest aggregate for a pool, or
// ErrNotFound if none exists yet.
func (s *Store) LatestDailyAggregate(ctx context.Context, pid int) (models.PoolDailyAggregate, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT pid, day::text, volume_usd, fees_usd, rewards_token::text, rewards_usd,
		       tvl_usd, tvl_v2_usd, fee_apr, harvest_apr, total_apr,
		       swap_count, reward_event_count
		FROM pool_daily_aggregates
		WHERE pid = $1
		ORDER BY day DESC LIMIT 1;
	`, pid)

	var a models.PoolDailyAggregate
	err := row.Scan(&a.Pid, &a.Date, &a.VolumeUsd, &a.FeesUsd, &a.RewardsToken,
		&a.RewardsUsd, &a.TvlUsd, &a.TvlV2Usd, &a.FeeApr, &a.HarvestApr,
		&a.TotalApr, &a.SwapCount, &a.RewardEventCount)
	if err != nil {
		if noRows(err) {
			return a, ErrNotFound
		}
		return a, fmt.Errorf("latest aggregate pid %d: %w", pid, err)
	}
	return a, nil
}

// DailyAggregateHistory returns up to `days` most recent rows for a pool,
// newest first.
func (s *Store) DailyAggregateHistory(ctx context.Context, pid, days int) ([]models.PoolDailyAggregate, error) {
	if days <= 0 || days > 365 {
		days = 30
	}
	rows, err := s.pool.Query(ctx, `
		SELECT pid, day::text, volume_usd, fees_usd, rewards_token::text, rewards_usd,
		       tvl_usd, tvl_v2_usd, fee_apr, harvest_apr, total_apr,
		       swap_count, reward_event_count
		FROM pool_daily_aggregates
		WHERE pid = $1
		ORDER BY day DESC LIMIT $2;
	`, pid, days)
	if err != nil {
		return nil, fmt.Errorf("aggregate history pid %d: %w", pid, err)
	}
	defer rows.Close()

	out := make([]models.PoolDailyAggregate, 0)
	for rows.Next() {
		var a models.PoolDailyAggregate
		if err := rows.Scan(&a.Pid, &a.Date, &a.VolumeUsd, &a.FeesUsd, &a.RewardsToken,
			&a.RewardsUsd, &a.TvlUsd, &a.TvlV2Usd, &a.FeeApr, &a.HarvestApr,
			&a.TotalApr, &a.SwapCount, &a.RewardEventCount); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
