package indexer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/hedgelabs/telemetry-engine/internal/db"
	"github.com/hedgelabs/telemetry-engine/internal/metrics"
	"github.com/hedgelabs/telemetry-engine/pkg/models"
)

// ChainReader is the slice of evm.Client every indexer needs. Narrowed to an
// interface so the worker loop is testable against a fake chain.
type ChainReader interface {
	HeadBlock(ctx context.Context) (uint64, error)
	Logs(ctx context.Context, q ethereum.FilterQuery, from, to uint64) ([]types.Log, error)
	BlockTime(ctx context.Context, n uint64) (int64, error)
}

// CheckpointStore is the slice of db.Store the worker persists through.
type CheckpointStore interface {
	GetCheckpoint(ctx context.Context, name string) (models.IndexerCheckpoint, error)
	UpsertCheckpoint(ctx context.Context, cp models.IndexerCheckpoint) error
	TouchCheckpointStatus(ctx context.Context, name, status, lastError string) error
}

// TimestampFn resolves a block number to its unix timestamp. The worker
// memoizes lookups per batch so handlers can call it freely.
type TimestampFn func(ctx context.Context, block uint64) (int64, error)

// Handler decodes and persists one batch of logs. HandleLogs must be
// idempotent: the same logs may be redelivered after a crash and must not
// produce duplicate rows.
type Handler interface {
	Filter() ethereum.FilterQuery
	HandleLogs(ctx context.Context, logs []types.Log, ts TimestampFn) (inserted int64, err error)
}

// BatchFinisher is an optional Handler extension invoked after each batch is
// checkpointed. The stake indexer uses it to re-read authoritative on-chain
// balances for wallets the batch touched.
type BatchFinisher interface {
	FinishBatch(ctx context.Context) error
}

// Config declares one logical worker and its shard.
type Config struct {
	Name          string
	Kind          string
	Pid           int // -1 when not pool-scoped
	GenesisBlock  uint64
	ShardStart    uint64
	ShardEnd      uint64 // 0 = follow head forever
	Confirmations uint64
	ChunkSize     uint64 // max blocks per batch, one checkpoint write each
	PollInterval  time.Duration
	ErrorBackoff  time.Duration
}

// Worker is one resumable, chunked log-scanning loop bound to a checkpoint
// row. It is the exclusive writer of that row.
type Worker struct {
	cfg     Config
	chain   ChainReader
	cps     CheckpointStore
	handler Handler
}

func NewWorker(cfg Config, chain ChainReader, cps CheckpointStore, handler Handler) *Worker {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.ErrorBackoff == 0 {
		cfg.ErrorBackoff = 30 * time.Second
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 2048
	}
	return &Worker{cfg: cfg, chain: chain, cps: cps, handler: handler}
}

// Run drives the worker until the context is cancelled or, for a bounded
// shard, until the shard is complete. It always returns with the checkpoint
// in a quiescent status (idle, complete or error).
func (w *Worker) Run(ctx context.Context) error {
	cp, err := w.loadOrSeedCheckpoint(ctx)
	if err != nil {
		return fmt.Errorf("worker %s: %w", w.cfg.Name, err)
	}
	log.Printf("[%s] Starting at block %d (genesis %d, shard end %d)",
		w.cfg.Name, cp.LastIndexedBlock+1, cp.GenesisBlock, w.cfg.ShardEnd)

	for {
		select {
		case <-ctx.Done():
			_ = w.cps.TouchCheckpointStatus(context.WithoutCancel(ctx), w.cfg.Name, models.CheckpointIdle, "")
			return nil
		default:
		}

		progressed, err := w.runBatch(ctx, &cp)
		switch {
		case err == nil && progressed:
			continue
		case err == nil:
			// Caught up to head (or shard done).
			if w.cfg.ShardEnd > 0 && cp.LastIndexedBlock >= w.cfg.ShardEnd {
				cp.Status = models.CheckpointComplete
				if err := w.cps.UpsertCheckpoint(ctx, cp); err != nil {
					return err
				}
				log.Printf("[%s] Shard complete at block %d", w.cfg.Name, cp.LastIndexedBlock)
				return nil
			}
			if !sleepCtx(ctx, w.cfg.PollInterval) {
				_ = w.cps.TouchCheckpointStatus(context.WithoutCancel(ctx), w.cfg.Name, models.CheckpointIdle, "")
				return nil
			}
		case errors.Is(err, context.Canceled):
			_ = w.cps.TouchCheckpointStatus(context.WithoutCancel(ctx), w.cfg.Name, models.CheckpointIdle, "")
			return nil
		default:
			metrics.IndexerErrors.WithLabelValues(w.cfg.Name).Inc()
			cp.LastError = err.Error()
			_ = w.cps.TouchCheckpointStatus(ctx, w.cfg.Name, models.CheckpointError, err.Error())
			log.Printf("[%s] Batch error at block %d: %v (backing off)", w.cfg.Name, cp.LastIndexedBlock+1, err)
			if !sleepCtx(ctx, w.cfg.ErrorBackoff) {
				return nil
			}
		}
	}
}

// runBatch processes one slice. Returns progressed=false when the cursor has
// caught up with the confirmed head.
func (w *Worker) runBatch(ctx context.Context, cp *models.IndexerCheckpoint) (bool, error) {
	head, err := w.chain.HeadBlock(ctx)
	if err != nil {
		return false, err
	}
	if head < w.cfg.Confirmations {
		return false, nil
	}

	cursor := cp.LastIndexedBlock + 1
	end := head - w.cfg.Confirmations
	if w.cfg.ShardEnd > 0 && end > w.cfg.ShardEnd {
		end = w.cfg.ShardEnd
	}
	if cursor > end {
		return false, nil
	}
	// Bound the batch so a deep backfill checkpoints every ChunkSize blocks
	// instead of once at the head. A crash mid-backfill loses at most one
	// slice of progress.
	if max := cursor + w.cfg.ChunkSize - 1; end > max {
		end = max
	}

	started := time.Now()

	logs, err := w.chain.Logs(ctx, w.handler.Filter(), cursor, end)
	if err != nil {
		// The failed slice's start is inside [cursor,end]; the checkpoint
		// stays put so the next attempt resumes exactly there.
		return false, err
	}

	inserted := int64(0)
	if len(logs) > 0 {
		tsCache := make(map[uint64]int64)
		tsFn := func(ctx context.Context, block uint64) (int64, error) {
			if t, ok := tsCache[block]; ok {
				return t, nil
			}
			t, err := w.chain.BlockTime(ctx, block)
			if err != nil {
				return 0, err
			}
			tsCache[block] = t
			return t, nil
		}
		inserted, err = w.handler.HandleLogs(ctx, logs, tsFn)
		if err != nil {
			return false, err
		}
	}

	// A cancelled batch must not commit a partial slice.
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	cp.LastIndexedBlock = end
	cp.Status = models.CheckpointRunning
	cp.EventsIndexed += inserted
	cp.BatchesRun++
	cp.LastBatchMs = time.Since(started).Milliseconds()
	cp.LastError = ""
	if err := w.cps.UpsertCheckpoint(ctx, *cp); err != nil {
		return false, err
	}

	metrics.BlocksIndexed.WithLabelValues(w.cfg.Name).Add(float64(end - cursor + 1))
	metrics.EventsIngested.WithLabelValues(w.cfg.Name).Add(float64(inserted))
	metrics.CheckpointBlock.WithLabelValues(w.cfg.Name).Set(float64(end))

	if bf, ok := w.handler.(BatchFinisher); ok {
		if err := bf.FinishBatch(ctx); err != nil {
			return false, err
		}
	}

	if cp.BatchesRun%50 == 0 {
		log.Printf("[%s] Progress: block %d | %d events | last batch %dms",
			w.cfg.Name, end, cp.EventsIndexed, cp.LastBatchMs)
	}
	return true, nil
}

// loadOrSeedCheckpoint reads the worker's row, creating it from the
// configured genesis on first start.
func (w *Worker) loadOrSeedCheckpoint(ctx context.Context) (models.IndexerCheckpoint, error) {
	cp, err := w.cps.GetCheckpoint(ctx, w.cfg.Name)
	if err == nil {
		return cp, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return cp, err
	}

	start := w.cfg.GenesisBlock
	if w.cfg.ShardStart > start {
		start = w.cfg.ShardStart
	}
	cp = models.IndexerCheckpoint{
		Name:             w.cfg.Name,
		Kind:             w.cfg.Kind,
		Pid:              w.cfg.Pid,
		ShardStart:       w.cfg.ShardStart,
		ShardEnd:         w.cfg.ShardEnd,
		GenesisBlock:     w.cfg.GenesisBlock,
		LastIndexedBlock: saturatingDec(start),
		Status:           models.CheckpointIdle,
	}
	if err := w.cps.UpsertCheckpoint(ctx, cp); err != nil {
		return cp, err
	}
	return cp, nil
}

func saturatingDec(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	return n - 1
}

// sleepCtx sleeps for d, returning false if the context was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
