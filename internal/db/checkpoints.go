package db

import (
	"context"
	"fmt"
	"time"

	"github.com/hedgelabs/telemetry-engine/pkg/models"
)

// Checkpoint store. Each worker owns exactly one row and is its only
// writer; last_indexed_block only moves forward except through the explicit
// admin reset.

const checkpointCols = `name, kind, pid, shard_start, shard_end, last_indexed_block,
	genesis_block, status, events_indexed, batches_run, last_batch_ms,
	COALESCE(last_error, ''), EXTRACT(EPOCH FROM updated_at)::bigint`

func scanCheckpoint(row interface{ Scan(...any) error }) (models.IndexerCheckpoint, error) {
	var cp models.IndexerCheckpoint
	err := row.Scan(&cp.Name, &cp.Kind, &cp.Pid, &cp.ShardStart, &cp.ShardEnd,
		&cp.LastIndexedBlock, &cp.GenesisBlock, &cp.Status, &cp.EventsIndexed,
		&cp.BatchesRun, &cp.LastBatchMs, &cp.LastError, &cp.UpdatedAt)
	return cp, err
}

// GetCheckpoint returns the checkpoint row for a worker, or ErrNotFound.
func (s *Store) GetCheckpoint(ctx context.Context, name string) (models.IndexerCheckpoint, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+checkpointCols+` FROM indexer_checkpoints WHERE name = $1`, name)
	cp, err := scanCheckpoint(row)
	if err != nil {
		if noRows(err) {
			return cp, ErrNotFound
		}
		return cp, fmt.Errorf("get checkpoint %s: %w", name, err)
	}
	return cp, nil
}

// UpsertCheckpoint writes the full worker row. updated_at is always bumped;
// last_indexed_block is guarded against moving backwards so a stale writer
// can never rewind a checkpoint.
func (s *Store) UpsertCheckpoint(ctx context.Context, cp models.IndexerCheckpoint) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO indexer_checkpoints
			(name, kind, pid, shard_start, shard_end, last_indexed_block,
			 genesis_block, status, events_indexed, batches_run, last_batch_ms,
			 last_error, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NULLIF($12,''),NOW())
		ON CONFLICT (name) DO UPDATE SET
			last_indexed_block = GREATEST(indexer_checkpoints.last_indexed_block, EXCLUDED.last_indexed_block),
			status = EXCLUDED.status,
			events_indexed = EXCLUDED.events_indexed,
			batches_run = EXCLUDED.batches_run,
			last_batch_ms = EXCLUDED.last_batch_ms,
			last_error = EXCLUDED.last_error,
			updated_at = NOW();
	`, cp.Name, cp.Kind, cp.Pid, cp.ShardStart, cp.ShardEnd, cp.LastIndexedBlock,
		cp.GenesisBlock, cp.Status, cp.EventsIndexed, cp.BatchesRun, cp.LastBatchMs,
		cp.LastError)
	if err != nil {
		return fmt.Errorf("upsert checkpoint %s: %w", cp.Name, err)
	}
	return nil
}

// ListCheckpoints returns every checkpoint of one kind, or all kinds when
// kind is empty.
func (s *Store) ListCheckpoints(ctx context.Context, kind string) ([]models.IndexerCheckpoint, error) {
	sql := `SELECT ` + checkpointCols + ` FROM indexer_checkpoints`
	args := []any{}
	if kind != "" {
		sql += ` WHERE kind = $1`
		args = append(args, kind)
	}
	sql += ` ORDER BY name`

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	cps := make([]models.IndexerCheckpoint, 0)
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		cps = append(cps, cp)
	}
	return cps, rows.Err()
}

// ResetCheckpoint is the only way a checkpoint may move backwards. It is
// admin-gated at the API layer. toBlock of 0 rewinds to the genesis block.
func (s *Store) ResetCheckpoint(ctx context.Context, name string, toBlock uint64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE indexer_checkpoints
		SET last_indexed_block = CASE WHEN $2 = 0 THEN genesis_block ELSE $2 END,
		    status = 'idle', last_error = NULL, updated_at = NOW()
		WHERE name = $1;
	`, name, toBlock)
	if err != nil {
		return fmt.Errorf("reset checkpoint %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchCheckpointStatus updates only status and last_error, used by workers
// flagging an error without advancing their cursor.
func (s *Store) TouchCheckpointStatus(ctx context.Context, name, status, lastError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE indexer_checkpoints
		SET status = $2, last_error = NULLIF($3, ''), updated_at = NOW()
		WHERE name = $1;
	`, name, status, lastError)
	return err
}

// ptime converts a unix-seconds timestamp for SQL parameters.
func ptime(unix int64) time.Time {
	return time.Unix(unix, 0).UTC()
}
