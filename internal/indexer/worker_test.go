package indexer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/hedgelabs/telemetry-engine/internal/db"
	"github.com/hedgelabs/telemetry-engine/pkg/models"
)

type fakeChain struct {
	head uint64
	logs []types.Log

	mu       sync.Mutex
	logCalls [][2]uint64
}

func (f *fakeChain) HeadBlock(ctx context.Context) (uint64, error) { return f.head, nil }

func (f *fakeChain) Logs(ctx context.Context, q ethereum.FilterQuery, from, to uint64) ([]types.Log, error) {
	f.mu.Lock()
	f.logCalls = append(f.logCalls, [2]uint64{from, to})
	f.mu.Unlock()
	var out []types.Log
	for _, lg := range f.logs {
		if lg.BlockNumber >= from && lg.BlockNumber <= to {
			out = append(out, lg)
		}
	}
	return out, nil
}

func (f *fakeChain) BlockTime(ctx context.Context, n uint64) (int64, error) {
	return int64(1700000000 + n*2), nil
}

type fakeCheckpoints struct {
	mu  sync.Mutex
	cps map[string]models.IndexerCheckpoint
}

func newFakeCheckpoints() *fakeCheckpoints {
	return &fakeCheckpoints{cps: make(map[string]models.IndexerCheckpoint)}
}

func (f *fakeCheckpoints) GetCheckpoint(ctx context.Context, name string) (models.IndexerCheckpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp, ok := f.cps[name]
	if !ok {
		return cp, db.ErrNotFound
	}
	return cp, nil
}

func (f *fakeCheckpoints) UpsertCheckpoint(ctx context.Context, cp models.IndexerCheckpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Same monotonic guard the real store enforces in SQL.
	if prev, ok := f.cps[cp.Name]; ok && prev.LastIndexedBlock > cp.LastIndexedBlock {
		cp.LastIndexedBlock = prev.LastIndexedBlock
	}
	f.cps[cp.Name] = cp
	return nil
}

func (f *fakeCheckpoints) TouchCheckpointStatus(ctx context.Context, name, status, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := f.cps[name]
	cp.Name = name
	cp.Status = status
	cp.LastError = lastError
	f.cps[name] = cp
	return nil
}

func (f *fakeCheckpoints) get(name string) models.IndexerCheckpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cps[name]
}

// countingHandler records events once per (tx, index) like the unique index
// on the real tables, so redelivered logs do not inflate the count.
type countingHandler struct {
	mu       sync.Mutex
	seen     map[string]struct{}
	batches  int
	cancel   context.CancelFunc // if set, fires after cancelAt batches (default 1)
	cancelAt int
}

func (h *countingHandler) Filter() ethereum.FilterQuery { return ethereum.FilterQuery{} }

func (h *countingHandler) HandleLogs(ctx context.Context, logs []types.Log, ts TimestampFn) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.seen == nil {
		h.seen = make(map[string]struct{})
	}
	var inserted int64
	for _, lg := range logs {
		key := fmt.Sprintf("%s/%d", lg.TxHash.Hex(), lg.Index)
		if _, dup := h.seen[key]; dup {
			continue
		}
		h.seen[key] = struct{}{}
		inserted++
	}
	h.batches++
	at := h.cancelAt
	if at == 0 {
		at = 1
	}
	if h.batches == at && h.cancel != nil {
		h.cancel()
	}
	return inserted, nil
}

func testLogs(blocks ...uint64) []types.Log {
	logs := make([]types.Log, len(blocks))
	for i, b := range blocks {
		logs[i] = types.Log{
			BlockNumber: b,
			TxHash:      common.HexToHash(fmt.Sprintf("0x%064x", b)),
			Index:       uint(i),
		}
	}
	return logs
}

func TestWorkerCompletesBoundedShard(t *testing.T) {
	chain := &fakeChain{head: 10_000, logs: testLogs(150, 900, 4_800)}
	cps := newFakeCheckpoints()
	handler := &countingHandler{}
	w := NewWorker(Config{
		Name:         "test-shard",
		Kind:         "swap",
		GenesisBlock: 100,
		ShardStart:   100,
		ShardEnd:     5_000,
	}, chain, cps, handler)

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	cp := cps.get("test-shard")
	if cp.Status != models.CheckpointComplete {
		t.Errorf("status = %q, want %q", cp.Status, models.CheckpointComplete)
	}
	if cp.LastIndexedBlock != 5_000 {
		t.Errorf("last indexed = %d, want 5000", cp.LastIndexedBlock)
	}
	if cp.EventsIndexed != 3 {
		t.Errorf("events indexed = %d, want 3", cp.EventsIndexed)
	}
}

func TestWorkerRespectsConfirmationDepth(t *testing.T) {
	chain := &fakeChain{head: 1_000}
	cps := newFakeCheckpoints()
	w := NewWorker(Config{
		Name:          "test-confirm",
		Kind:          "swap",
		GenesisBlock:  0,
		ShardEnd:      5_000, // beyond head, so the confirmed head clamps
		Confirmations: 20,
		PollInterval:  time.Millisecond,
	}, chain, cps, &countingHandler{})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := cps.get("test-confirm").LastIndexedBlock; got != 980 {
		t.Errorf("last indexed = %d, want head-confirmations = 980", got)
	}
}

func TestWorkerResumesFromCheckpoint(t *testing.T) {
	chain := &fakeChain{head: 10_000, logs: testLogs(500, 3_500)}
	cps := newFakeCheckpoints()
	cps.cps["test-resume"] = models.IndexerCheckpoint{
		Name:             "test-resume",
		LastIndexedBlock: 3_000,
		GenesisBlock:     0,
	}
	handler := &countingHandler{}
	w := NewWorker(Config{
		Name:     "test-resume",
		Kind:     "swap",
		ShardEnd: 5_000,
	}, chain, cps, handler)

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The block-500 log is behind the checkpoint and must not be re-fetched.
	for _, call := range chain.logCalls {
		if call[0] != 3_001 {
			t.Errorf("first fetched block = %d, want 3001", call[0])
		}
		break
	}
	if len(handler.seen) != 1 {
		t.Errorf("events seen = %d, want only the block-3500 log", len(handler.seen))
	}
}

func TestWorkerReprocessingIsIdempotent(t *testing.T) {
	chain := &fakeChain{head: 10_000, logs: testLogs(200, 300)}
	cps := newFakeCheckpoints()
	handler := &countingHandler{}
	cfg := Config{Name: "test-idem", Kind: "swap", ShardEnd: 1_000}

	if err := NewWorker(cfg, chain, cps, handler).Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Force a replay of the whole shard against the same handler.
	cp := cps.get("test-idem")
	cp.LastIndexedBlock = 0
	cp.Status = models.CheckpointIdle
	cps.cps["test-idem"] = cp
	if err := NewWorker(cfg, chain, cps, handler).Run(context.Background()); err != nil {
		t.Fatalf("replay run: %v", err)
	}

	if len(handler.seen) != 2 {
		t.Errorf("distinct events = %d, want 2 after replay", len(handler.seen))
	}
}

func TestWorkerCheckpointsEverySlice(t *testing.T) {
	chain := &fakeChain{head: 10_000, logs: testLogs(120, 340, 799)}
	cps := newFakeCheckpoints()
	handler := &countingHandler{}
	w := NewWorker(Config{
		Name:         "test-slices",
		Kind:         "swap",
		GenesisBlock: 100,
		ShardStart:   100,
		ShardEnd:     800,
		ChunkSize:    250,
	}, chain, cps, handler)

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := [][2]uint64{{100, 349}, {350, 599}, {600, 800}}
	if len(chain.logCalls) != len(want) {
		t.Fatalf("fetches = %v, want %v", chain.logCalls, want)
	}
	for i, call := range chain.logCalls {
		if call != want[i] {
			t.Errorf("fetch %d = %v, want %v", i, call, want[i])
		}
	}
	if got := cps.get("test-slices").LastIndexedBlock; got != 800 {
		t.Errorf("last indexed = %d, want 800", got)
	}
	if len(handler.seen) != 3 {
		t.Errorf("events seen = %d, want 3", len(handler.seen))
	}
}

func TestWorkerBackfillSurvivesMidRangeCrash(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	chain := &fakeChain{head: 100_000, logs: testLogs(500, 3_000)}
	cps := newFakeCheckpoints()
	// The handler cancels inside the second non-empty slice, simulating a
	// crash deep in the backfill. The cancelled slice is not committed; the
	// slice before it must be.
	handler := &countingHandler{cancel: cancel, cancelAt: 2}
	cfg := Config{
		Name:         "test-crash",
		Kind:         "swap",
		GenesisBlock: 0,
		ChunkSize:    2048,
		PollInterval: time.Millisecond,
	}

	if err := NewWorker(cfg, chain, cps, handler).Run(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if got := cps.get("test-crash").LastIndexedBlock; got != 2_048 {
		t.Fatalf("last indexed after crash = %d, want 2048", got)
	}

	chain.mu.Lock()
	chain.logCalls = nil
	chain.mu.Unlock()
	ctx2, cancel2 := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel2()
	if err := NewWorker(cfg, chain, cps, handler).Run(ctx2); err != nil {
		t.Fatalf("restarted run: %v", err)
	}
	if len(chain.logCalls) == 0 || chain.logCalls[0][0] != 2_049 {
		t.Fatalf("restart first fetch = %v, want to resume at 2049", chain.logCalls)
	}
	if len(handler.seen) != 2 {
		t.Errorf("distinct events = %d, want 2", len(handler.seen))
	}
}

func TestWorkerCancellationLeavesIdleStatus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	chain := &fakeChain{head: 10_000, logs: testLogs(100)}
	cps := newFakeCheckpoints()
	handler := &countingHandler{cancel: cancel}
	w := NewWorker(Config{
		Name:         "test-cancel",
		Kind:         "swap",
		PollInterval: time.Millisecond,
	}, chain, cps, handler)

	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	cp := cps.get("test-cancel")
	if cp.Status != models.CheckpointIdle {
		t.Errorf("status after cancel = %q, want %q", cp.Status, models.CheckpointIdle)
	}
}

func TestWorkerSeedsCheckpointFromShardStart(t *testing.T) {
	chain := &fakeChain{head: 10_000}
	cps := newFakeCheckpoints()
	w := NewWorker(Config{
		Name:         "test-seed",
		Kind:         "swap",
		GenesisBlock: 100,
		ShardStart:   2_000,
		ShardEnd:     2_500,
	}, chain, cps, &countingHandler{})

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(chain.logCalls) == 0 || chain.logCalls[0][0] != 2_000 {
		t.Fatalf("first fetch = %v, want to start at shard start 2000", chain.logCalls)
	}
}
