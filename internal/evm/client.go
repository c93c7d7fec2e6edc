package evm

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/hedgelabs/telemetry-engine/pkg/models"
)

// Retry policy for transient RPC failures. Vars so tests can shrink the
// backoff without sleeping through real wait intervals.
var (
	retryAttempts = 5
	retryBaseWait = 500 * time.Millisecond
)

// RPCError reports a log slice that failed all retry attempts. The caller
// keeps its checkpoint at From and may resume or narrow the range.
type RPCError struct {
	From  uint64
	To    uint64
	Cause error
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc failed for blocks [%d,%d]: %v", e.From, e.To, e.Cause)
}

func (e *RPCError) Unwrap() error { return e.Cause }

// logFetcher is the slice of ethclient the chunker needs. Narrowed to an
// interface so the slicing logic is testable without a live node.
type logFetcher interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Client wraps an ethclient connection to one chain endpoint, adding the
// hard 2048-block log window, retry with backoff, and a shared in-flight
// cap for batched view calls.
type Client struct {
	Endpoint models.ChainEndpoint

	eth *ethclient.Client
	lf  logFetcher
	sem chan struct{}
}

// Dial connects and verifies the endpoint by reading the head block.
func Dial(ctx context.Context, ep models.ChainEndpoint) (*Client, error) {
	if ep.ChunkSize == 0 {
		ep.ChunkSize = 2048
	}
	log.Printf("[EVM] Connecting to %s (%s)...", ep.Name, ep.RPCURL)
	eth, err := ethclient.DialContext(ctx, ep.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", ep.Name, err)
	}
	head, err := eth.BlockNumber(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("head check %s: %w", ep.Name, err)
	}
	log.Printf("[EVM] Connected to %s. Head block: %d", ep.Name, head)
	return &Client{
		Endpoint: ep,
		eth:      eth,
		lf:       eth,
		sem:      make(chan struct{}, 10),
	}, nil
}

func (c *Client) Close() {
	if c.eth != nil {
		c.eth.Close()
	}
}

// HeadBlock returns the current chain head.
func (c *Client) HeadBlock(ctx context.Context) (uint64, error) {
	var head uint64
	err := c.withRetry(ctx, func() error {
		var err error
		head, err = c.eth.BlockNumber(ctx)
		return err
	})
	return head, err
}

// BlockTime returns the unix timestamp of block n.
func (c *Client) BlockTime(ctx context.Context, n uint64) (int64, error) {
	var ts int64
	err := c.withRetry(ctx, func() error {
		header, err := c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(n))
		if err != nil {
			return err
		}
		ts = int64(header.Time)
		return nil
	})
	return ts, err
}

// Receipt returns the receipt for a transaction hash.
func (c *Client) Receipt(ctx context.Context, tx common.Hash) (*types.Receipt, error) {
	var r *types.Receipt
	err := c.withRetry(ctx, func() error {
		var err error
		r, err = c.eth.TransactionReceipt(ctx, tx)
		return err
	})
	return r, err
}

// Logs fetches every log matching q in [from, to], transparently slicing the
// range into windows of at most ChunkSize blocks. Results are returned in
// block-then-logIndex order. A slice that exhausts its retries aborts the
// whole call with an *RPCError carrying that slice's range.
func (c *Client) Logs(ctx context.Context, q ethereum.FilterQuery, from, to uint64) ([]types.Log, error) {
	if from > to {
		return nil, nil
	}

	var all []types.Log
	for start := from; start <= to; start += c.Endpoint.ChunkSize {
		end := start + c.Endpoint.ChunkSize - 1
		if end > to {
			end = to
		}

		slice := q
		slice.FromBlock = new(big.Int).SetUint64(start)
		slice.ToBlock = new(big.Int).SetUint64(end)

		var logs []types.Log
		err := c.withRetry(ctx, func() error {
			var err error
			logs, err = c.lf.FilterLogs(ctx, slice)
			return err
		})
		if err != nil {
			return nil, &RPCError{From: start, To: end, Cause: err}
		}
		all = append(all, logs...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].BlockNumber != all[j].BlockNumber {
			return all[i].BlockNumber < all[j].BlockNumber
		}
		return all[i].Index < all[j].Index
	})
	return all, nil
}

// withRetry runs fn with exponential backoff on transient failure.
// Context cancellation aborts immediately and is never retried.
func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	wait := retryBaseWait
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			wait *= 2
		}
		if err := fn(); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

// acquire blocks until an in-flight slot is free, respecting cancellation.
func (c *Client) acquire(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case c.sem <- struct{}{}:
		return nil
	}
}

func (c *Client) release() { <-c.sem }
