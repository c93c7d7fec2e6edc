package evm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/hedgelabs/telemetry-engine/pkg/models"
)

type fakeFetcher struct {
	calls    [][2]uint64
	failEvery map[int]int // call index -> times to fail before succeeding
	failAll  bool
	logs     func(from, to uint64) []types.Log
}

func (f *fakeFetcher) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	idx := len(f.calls)
	f.calls = append(f.calls, [2]uint64{from, to})
	if f.failAll {
		return nil, errors.New("connection refused")
	}
	if n, ok := f.failEvery[idx]; ok && n > 0 {
		f.failEvery[idx] = n - 1
		return nil, errors.New("timeout")
	}
	if f.logs != nil {
		return f.logs(from, to), nil
	}
	return nil, nil
}

func testClient(lf logFetcher, chunk uint64) *Client {
	return &Client{
		Endpoint: models.ChainEndpoint{Name: "test", ChunkSize: chunk},
		lf:       lf,
		sem:      make(chan struct{}, 10),
	}
}

func TestLogsChunking(t *testing.T) {
	tests := []struct {
		name      string
		from, to  uint64
		chunk     uint64
		wantCalls [][2]uint64
	}{
		{
			name: "Range Splits Into Three Slices",
			from: 1000, to: 5500, chunk: 2048,
			wantCalls: [][2]uint64{{1000, 3047}, {3048, 5095}, {5096, 5500}},
		},
		{
			name: "Exactly One Chunk",
			from: 0, to: 2047, chunk: 2048,
			wantCalls: [][2]uint64{{0, 2047}},
		},
		{
			name: "One Block Over Chunk",
			from: 0, to: 2048, chunk: 2048,
			wantCalls: [][2]uint64{{0, 2047}, {2048, 2048}},
		},
		{
			name: "Single Block",
			from: 77, to: 77, chunk: 2048,
			wantCalls: [][2]uint64{{77, 77}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeFetcher{}
			c := testClient(f, tt.chunk)

			if _, err := c.Logs(context.Background(), ethereum.FilterQuery{}, tt.from, tt.to); err != nil {
				t.Fatalf("Logs() error: %v", err)
			}
			if len(f.calls) != len(tt.wantCalls) {
				t.Fatalf("Expected %d underlying calls, got %d: %v", len(tt.wantCalls), len(f.calls), f.calls)
			}
			for i, want := range tt.wantCalls {
				if f.calls[i] != want {
					t.Errorf("Call %d: expected range %v, got %v", i, want, f.calls[i])
				}
			}
		})
	}
}

func TestLogsEmptyRange(t *testing.T) {
	f := &fakeFetcher{}
	c := testClient(f, 2048)
	logs, err := c.Logs(context.Background(), ethereum.FilterQuery{}, 500, 400)
	if err != nil {
		t.Fatalf("Logs() error: %v", err)
	}
	if len(logs) != 0 || len(f.calls) != 0 {
		t.Errorf("Inverted range should make no RPC calls, got %d calls", len(f.calls))
	}
}

func TestLogsOrderedAcrossSlices(t *testing.T) {
	f := &fakeFetcher{
		logs: func(from, to uint64) []types.Log {
			// Return two out-of-order logs per slice to exercise the sort.
			return []types.Log{
				{BlockNumber: to, Index: 3},
				{BlockNumber: from, Index: 1},
			}
		},
	}
	c := testClient(f, 100)

	logs, err := c.Logs(context.Background(), ethereum.FilterQuery{}, 0, 299)
	if err != nil {
		t.Fatalf("Logs() error: %v", err)
	}
	if len(logs) != 6 {
		t.Fatalf("Expected 6 logs, got %d", len(logs))
	}
	for i := 1; i < len(logs); i++ {
		prev, cur := logs[i-1], logs[i]
		if cur.BlockNumber < prev.BlockNumber ||
			(cur.BlockNumber == prev.BlockNumber && cur.Index < prev.Index) {
			t.Fatalf("Logs out of order at %d: %+v then %+v", i, prev, cur)
		}
	}
}

func TestLogsRetriesTransientFailure(t *testing.T) {
	origAttempts, origWait := retryAttempts, retryBaseWait
	retryBaseWait = time.Millisecond
	defer func() { retryAttempts, retryBaseWait = origAttempts, origWait }()

	f := &fakeFetcher{failEvery: map[int]int{0: 2}}
	c := testClient(f, 2048)

	if _, err := c.Logs(context.Background(), ethereum.FilterQuery{}, 0, 100); err != nil {
		t.Fatalf("Expected retry to recover, got %v", err)
	}
	if len(f.calls) != 3 {
		t.Errorf("Expected 2 failures + 1 success = 3 calls, got %d", len(f.calls))
	}
}

func TestLogsSurfacesRPCError(t *testing.T) {
	origAttempts, origWait := retryAttempts, retryBaseWait
	retryAttempts, retryBaseWait = 2, time.Millisecond
	defer func() { retryAttempts, retryBaseWait = origAttempts, origWait }()

	f := &fakeFetcher{failAll: true}
	c := testClient(f, 2048)

	_, err := c.Logs(context.Background(), ethereum.FilterQuery{}, 4000, 9000)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("Expected *RPCError, got %v", err)
	}
	// The first slice is the one that failed; the caller resumes there.
	if rpcErr.From != 4000 || rpcErr.To != 6047 {
		t.Errorf("Expected failed range [4000,6047], got [%d,%d]", rpcErr.From, rpcErr.To)
	}
}

func TestEstimateBlock(t *testing.T) {
	c := testClient(&fakeFetcher{}, 2048)

	// Head at block 1000, head time 2000s; target 1000s ago = 500 blocks back.
	if got := c.estimateBlock(1000, 2000, 1000); got != 500 {
		t.Errorf("estimateBlock = %d, want 500", got)
	}
	// Target after head time clamps to head.
	if got := c.estimateBlock(1000, 2000, 3000); got != 1000 {
		t.Errorf("estimateBlock future = %d, want 1000", got)
	}
	// Target before genesis clamps to 0.
	if got := c.estimateBlock(100, 2000, 0); got != 0 {
		t.Errorf("estimateBlock pre-genesis = %d, want 0", got)
	}
}
