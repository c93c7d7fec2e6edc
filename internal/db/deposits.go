package db

import (
	"context"
	"fmt"
	"time"

	"github.com/hedgelabs/telemetry-engine/pkg/models"
)

// Deposit request and garden-optimization persistence. State transitions
// are guarded in SQL by the expected current status so a racing second
// matcher invocation becomes a no-op rather than a double credit.

const depositCols = `id, player_id, wallet, unique_amount::text, status,
	COALESCE(tx_hash, ''), COALESCE(error_message, ''),
	EXTRACT(EPOCH FROM created_at)::bigint,
	EXTRACT(EPOCH FROM expires_at)::bigint,
	EXTRACT(EPOCH FROM updated_at)::bigint`

func scanDeposit(row interface{ Scan(...any) error }) (models.DepositRequest, error) {
	var d models.DepositRequest
	err := row.Scan(&d.ID, &d.PlayerID, &d.Wallet, &d.UniqueAmount, &d.Status,
		&d.TxHash, &d.ErrorMessage, &d.CreatedAt, &d.ExpiresAt, &d.UpdatedAt)
	return d, err
}

// CreateDepositRequest inserts a pending request. The partial unique index
// on (player_id) WHERE pending enforces the one-pending-per-player rule at
// the store level.
func (s *Store) CreateDepositRequest(ctx context.Context, d models.DepositRequest) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO deposit_requests
			(id, player_id, wallet, unique_amount, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4::numeric, 'pending', $5, $6);
	`, d.ID, d.PlayerID, d.Wallet, d.UniqueAmount, ptime(d.CreatedAt), ptime(d.ExpiresAt))
	if err != nil {
		return fmt.Errorf("create deposit request: %w", err)
	}
	return nil
}

// PendingDepositRequests returns every pending request, for the matcher.
func (s *Store) PendingDepositRequests(ctx context.Context) ([]models.DepositRequest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+depositCols+` FROM deposit_requests WHERE status = 'pending';`)
	if err != nil {
		return nil, fmt.Errorf("pending deposits: %w", err)
	}
	defer rows.Close()

	out := make([]models.DepositRequest, 0)
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// MatchedDepositRequests returns requests whose credit is still owed:
// matched rows with a recorded tx hash. The sweeper drains these through
// CompleteDeposit so a credit that errored out eventually lands.
func (s *Store) MatchedDepositRequests(ctx context.Context) ([]models.DepositRequest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+depositCols+` FROM deposit_requests WHERE status = 'matched' AND tx_hash IS NOT NULL;`)
	if err != nil {
		return nil, fmt.Errorf("matched deposits: %w", err)
	}
	defer rows.Close()

	out := make([]models.DepositRequest, 0)
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarkDepositMatched transitions pending→matched, recording the tx hash.
// Returns false when the request was not pending (already matched or expired).
func (s *Store) MarkDepositMatched(ctx context.Context, id, txHash string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE deposit_requests
		SET status = 'matched', tx_hash = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending';
	`, id, txHash)
	if err != nil {
		return false, fmt.Errorf("mark matched %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// CompleteDeposit credits the balance and transitions matched→completed in
// one transaction. Invoking it twice credits exactly once: the guarded
// UPDATE matches zero rows the second time and the credit is skipped.
func (s *Store) CompleteDeposit(ctx context.Context, id string) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var playerID int64
	var amount string
	err = tx.QueryRow(ctx, `
		UPDATE deposit_requests
		SET status = 'completed', updated_at = NOW()
		WHERE id = $1 AND status = 'matched'
		RETURNING player_id, unique_amount::text;
	`, id).Scan(&playerID, &amount)
	if err != nil {
		if noRows(err) {
			return false, nil // already completed or not matched
		}
		return false, fmt.Errorf("complete deposit %s: %w", id, err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE jewel_balances
		SET balance = balance + $2::numeric, updated_at = NOW()
		WHERE player_id = $1;
	`, playerID, amount); err != nil {
		return false, fmt.Errorf("credit balance for %s: %w", id, err)
	}
	return true, tx.Commit(ctx)
}

// MarkDepositErrored flags a request whose crediting failed; the monitor
// retries it with backoff. The state never silently reverts to pending.
func (s *Store) MarkDepositErrored(ctx context.Context, id, msg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE deposit_requests
		SET status = 'errored', error_message = $2, updated_at = NOW()
		WHERE id = $1;
	`, id, msg)
	return err
}

// RetryErroredDeposits moves errored requests back to matched so the
// completion task can retry the credit.
func (s *Store) RetryErroredDeposits(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE deposit_requests
		SET status = 'matched', updated_at = NOW()
		WHERE status = 'errored' AND tx_hash IS NOT NULL;
	`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ExpireStaleDeposits sweeps pending requests past their expiry.
func (s *Store) ExpireStaleDeposits(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE deposit_requests
		SET status = 'expired', updated_at = NOW()
		WHERE status = 'pending' AND expires_at < $1;
	`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("expire deposits: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RecordLateDeposit attaches an explanatory error when a request's transfer
// arrives outside the window, expiring the request if the sweep has not yet.
// The transfer is never credited.
func (s *Store) RecordLateDeposit(ctx context.Context, id, txHash, msg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE deposit_requests
		SET status = 'expired', error_message = $3, tx_hash = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'expired');
	`, id, txHash, msg)
	return err
}

// AnnotateDepositRequest records an informational error message without
// changing the request's state. Used for mismatched transfers that must
// leave the request open.
func (s *Store) AnnotateDepositRequest(ctx context.Context, id, msg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE deposit_requests SET error_message = $2, updated_at = NOW() WHERE id = $1;
	`, id, msg)
	return err
}

// RecentDeposits lists completed deposits, newest first, for the admin SPA.
func (s *Store) RecentDeposits(ctx context.Context, limit int) ([]models.DepositRequest, error) {
	if limit <= 0 || limit > 200 {
		limit = 25
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+depositCols+` FROM deposit_requests
		WHERE status = 'completed'
		ORDER BY updated_at DESC LIMIT $1;
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent deposits: %w", err)
	}
	defer rows.Close()

	out := make([]models.DepositRequest, 0)
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Garden-optimization payments.

const optCols = `id, player_id, wallet, unique_amount::text, status,
	COALESCE(tx_hash, ''), result_data,
	EXTRACT(EPOCH FROM created_at)::bigint,
	EXTRACT(EPOCH FROM expires_at)::bigint,
	EXTRACT(EPOCH FROM updated_at)::bigint`

func scanOptimization(row interface{ Scan(...any) error }) (models.GardenOptimization, error) {
	var o models.GardenOptimization
	err := row.Scan(&o.ID, &o.PlayerID, &o.Wallet, &o.UniqueAmount, &o.Status,
		&o.TxHash, &o.ResultData, &o.CreatedAt, &o.ExpiresAt, &o.UpdatedAt)
	return o, err
}

func (s *Store) CreateOptimization(ctx context.Context, o models.GardenOptimization) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO garden_optimizations
			(id, player_id, wallet, unique_amount, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4::numeric, 'awaiting_payment', $5, $6);
	`, o.ID, o.PlayerID, o.Wallet, o.UniqueAmount, ptime(o.CreatedAt), ptime(o.ExpiresAt))
	if err != nil {
		return fmt.Errorf("create optimization: %w", err)
	}
	return nil
}

func (s *Store) OptimizationsAwaitingPayment(ctx context.Context) ([]models.GardenOptimization, error) {
	return s.OptimizationsInStatus(ctx, models.OptAwaitingPayment)
}

// OptimizationsInStatus lists runs in one lifecycle state, oldest first, for
// the payment matcher and the processing queue.
func (s *Store) OptimizationsInStatus(ctx context.Context, status string) ([]models.GardenOptimization, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+optCols+` FROM garden_optimizations WHERE status = $1 ORDER BY created_at;`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.GardenOptimization, 0)
	for rows.Next() {
		o, err := scanOptimization(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// TransitionOptimization moves an optimization from one expected status to
// the next, optionally recording a tx hash. Returns false on a stale state.
func (s *Store) TransitionOptimization(ctx context.Context, id, from, to, txHash string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE garden_optimizations
		SET status = $3, tx_hash = COALESCE(NULLIF($4, ''), tx_hash), updated_at = NOW()
		WHERE id = $1 AND status = $2;
	`, id, from, to, txHash)
	if err != nil {
		return false, fmt.Errorf("transition optimization %s %s→%s: %w", id, from, to, err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetOptimizationResult stores the computed result blob for a processing run.
func (s *Store) SetOptimizationResult(ctx context.Context, id, resultData string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE garden_optimizations SET result_data = $2, updated_at = NOW() WHERE id = $1;
	`, id, resultData)
	return err
}

// ExpireOptimization marks a run expired while preserving the late tx hash
// for audit.
func (s *Store) ExpireOptimization(ctx context.Context, id, txHash string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE garden_optimizations
		SET status = 'expired', tx_hash = COALESCE(NULLIF($2, ''), tx_hash), updated_at = NOW()
		WHERE id = $1;
	`, id, txHash)
	return err
}

func (s *Store) PlayerOptimizations(ctx context.Context, playerID int64, limit int) ([]models.GardenOptimization, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+optCols+` FROM garden_optimizations
		WHERE player_id = $1 ORDER BY created_at DESC LIMIT $2;
	`, playerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.GardenOptimization, 0)
	for rows.Next() {
		o, err := scanOptimization(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
