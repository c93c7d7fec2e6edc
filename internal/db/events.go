package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/hedgelabs/telemetry-engine/pkg/models"
)

// Raw event ingestion. Every insert is idempotent on (tx_hash, log_index):
// reprocessing a block range is a no-op, which is what makes resumable
// indexing safe.

// InsertSwapEvents batch-inserts swap rows, skipping duplicates.
// Returns the number of rows actually inserted.
func (s *Store) InsertSwapEvents(ctx context.Context, events []models.SwapEvent) (int64, error) {
	var inserted int64
	for _, e := range events {
		tag, err := s.pool.Exec(ctx, `
			INSERT INTO pool_swap_events
				(pid, pair, sender, amount0_in, amount1_in, amount0_out, amount1_out,
				 volume_usd, block_number, tx_hash, log_index, ts)
			VALUES ($1,$2,$3,$4::numeric,$5::numeric,$6::numeric,$7::numeric,$8,$9,$10,$11,$12)
			ON CONFLICT (tx_hash, log_index) DO NOTHING;
		`, e.Pid, e.Pair, e.Sender, e.Amount0In, e.Amount1In, e.Amount0Out, e.Amount1Out,
			e.VolumeUsd, e.BlockNumber, e.TxHash, e.LogIndex, ptime(e.Timestamp))
		if err != nil {
			return inserted, fmt.Errorf("insert swap %s/%d: %w", e.TxHash, e.LogIndex, err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// InsertRewardEvents batch-inserts reward rows, skipping duplicates.
func (s *Store) InsertRewardEvents(ctx context.Context, events []models.RewardEvent) (int64, error) {
	var inserted int64
	for _, e := range events {
		tag, err := s.pool.Exec(ctx, `
			INSERT INTO pool_reward_events
				(pid, wallet, amount, block_number, tx_hash, log_index, ts)
			VALUES ($1,$2,$3::numeric,$4,$5,$6,$7)
			ON CONFLICT (tx_hash, log_index) DO NOTHING;
		`, e.Pid, e.Wallet, e.Amount, e.BlockNumber, e.TxHash, e.LogIndex, ptime(e.Timestamp))
		if err != nil {
			return inserted, fmt.Errorf("insert reward %s/%d: %w", e.TxHash, e.LogIndex, err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// InsertStakeEvents batch-inserts deposit/withdraw rows, skipping duplicates.
func (s *Store) InsertStakeEvents(ctx context.Context, events []models.StakeEvent) (int64, error) {
	var inserted int64
	for _, e := range events {
		tag, err := s.pool.Exec(ctx, `
			INSERT INTO pool_stake_events
				(pid, wallet, kind, amount, block_number, tx_hash, log_index, ts)
			VALUES ($1,$2,$3,$4::numeric,$5,$6,$7,$8)
			ON CONFLICT (tx_hash, log_index) DO NOTHING;
		`, e.Pid, e.Wallet, e.Kind, e.Amount, e.BlockNumber, e.TxHash, e.LogIndex, ptime(e.Timestamp))
		if err != nil {
			return inserted, fmt.Errorf("insert stake %s/%d: %w", e.TxHash, e.LogIndex, err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// UpsertStakerPosition applies last-writer-wins by (wallet, pid). The stake
// indexer calls this with the authoritative on-chain balance it just read,
// so no delta arithmetic happens in SQL.
func (s *Store) UpsertStakerPosition(ctx context.Context, p models.StakerPosition) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pool_stakers
			(wallet, pid, staked_lp, last_activity_type, last_activity_block,
			 last_activity_tx, updated_at)
		VALUES ($1,$2,$3::numeric,$4,$5,$6,NOW())
		ON CONFLICT (wallet, pid) DO UPDATE SET
			staked_lp = EXCLUDED.staked_lp,
			last_activity_type = EXCLUDED.last_activity_type,
			last_activity_block = EXCLUDED.last_activity_block,
			last_activity_tx = EXCLUDED.last_activity_tx,
			updated_at = NOW();
	`, p.Wallet, p.Pid, p.StakedLp, p.LastActivityType, p.LastActivityBlock, p.LastActivityTx)
	if err != nil {
		return fmt.Errorf("upsert staker %s pid %d: %w", p.Wallet, p.Pid, err)
	}
	return nil
}

// PoolStakers returns current stakers with non-zero balance, largest first.
// Zero-balance rows are retained for history but filtered here.
func (s *Store) PoolStakers(ctx context.Context, pid int, limit int) ([]models.StakerPosition, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT wallet, pid, staked_lp::text, last_activity_type, last_activity_block,
		       last_activity_tx, EXTRACT(EPOCH FROM updated_at)::bigint
		FROM pool_stakers
		WHERE pid = $1 AND staked_lp > 0
		ORDER BY staked_lp DESC
		LIMIT $2;
	`, pid, limit)
	if err != nil {
		return nil, fmt.Errorf("pool stakers pid %d: %w", pid, err)
	}
	defer rows.Close()

	out := make([]models.StakerPosition, 0)
	for rows.Next() {
		var p models.StakerPosition
		if err := rows.Scan(&p.Wallet, &p.Pid, &p.StakedLp, &p.LastActivityType,
			&p.LastActivityBlock, &p.LastActivityTx, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// WalletStakerPositions returns a wallet's open positions across all pools.
func (s *Store) WalletStakerPositions(ctx context.Context, wallet string) ([]models.StakerPosition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT wallet, pid, staked_lp::text, last_activity_type, last_activity_block,
		       last_activity_tx, EXTRACT(EPOCH FROM updated_at)::bigint
		FROM pool_stakers
		WHERE wallet = $1 AND staked_lp > 0;
	`, strings.ToLower(wallet))
	if err != nil {
		return nil, fmt.Errorf("wallet staker positions %s: %w", wallet, err)
	}
	defer rows.Close()

	out := make([]models.StakerPosition, 0)
	for rows.Next() {
		var p models.StakerPosition
		if err := rows.Scan(&p.Wallet, &p.Pid, &p.StakedLp, &p.LastActivityType,
			&p.LastActivityBlock, &p.LastActivityTx, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// WalletPools lists the pids a wallet currently stakes in, largest first.
func (s *Store) WalletPools(ctx context.Context, wallet string) ([]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pid FROM pool_stakers
		WHERE wallet = $1 AND staked_lp > 0
		ORDER BY staked_lp DESC;
	`, wallet)
	if err != nil {
		return nil, fmt.Errorf("wallet pools %s: %w", wallet, err)
	}
	defer rows.Close()

	var pids []int
	for rows.Next() {
		var pid int
		if err := rows.Scan(&pid); err != nil {
			return nil, err
		}
		pids = append(pids, pid)
	}
	return pids, rows.Err()
}

// SwapEventsForDay returns the swap rows for one pool inside [dayStart, dayEnd).
func (s *Store) SwapEventsForDay(ctx context.Context, pid int, dayStart, dayEnd int64) ([]models.SwapEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pid, pair, sender, amount0_in::text, amount1_in::text,
		       amount0_out::text, amount1_out::text, COALESCE(volume_usd, 0),
		       block_number, tx_hash, log_index, EXTRACT(EPOCH FROM ts)::bigint
		FROM pool_swap_events
		WHERE pid = $1 AND ts >= $2 AND ts < $3
		ORDER BY block_number, log_index;
	`, pid, ptime(dayStart), ptime(dayEnd))
	if err != nil {
		return nil, fmt.Errorf("swap events pid %d: %w", pid, err)
	}
	defer rows.Close()

	out := make([]models.SwapEvent, 0)
	for rows.Next() {
		var e models.SwapEvent
		if err := rows.Scan(&e.Pid, &e.Pair, &e.Sender, &e.Amount0In, &e.Amount1In,
			&e.Amount0Out, &e.Amount1Out, &e.VolumeUsd, &e.BlockNumber, &e.TxHash,
			&e.LogIndex, &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RewardEventsForDay returns the reward rows for one pool inside [dayStart, dayEnd).
func (s *Store) RewardEventsForDay(ctx context.Context, pid int, dayStart, dayEnd int64) ([]models.RewardEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pid, wallet, amount::text, block_number, tx_hash, log_index,
		       EXTRACT(EPOCH FROM ts)::bigint
		FROM pool_reward_events
		WHERE pid = $1 AND ts >= $2 AND ts < $3
		ORDER BY block_number, log_index;
	`, pid, ptime(dayStart), ptime(dayEnd))
	if err != nil {
		return nil, fmt.Errorf("reward events pid %d: %w", pid, err)
	}
	defer rows.Close()

	out := make([]models.RewardEvent, 0)
	for rows.Next() {
		var e models.RewardEvent
		if err := rows.Scan(&e.Pid, &e.Wallet, &e.Amount, &e.BlockNumber,
			&e.TxHash, &e.LogIndex, &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
