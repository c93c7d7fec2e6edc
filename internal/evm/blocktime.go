package evm

import (
	"context"
	"log"
	"math/big"
)

// Assumed block time for the wall-clock fallback when the binary search
// cannot complete due to RPC failures.
const fallbackBlockSeconds = 2

// BlockAtOrAfter returns the lowest block whose timestamp is >= ts.
func (c *Client) BlockAtOrAfter(ctx context.Context, ts int64) (uint64, error) {
	n, err := c.searchBlock(ctx, ts)
	if err != nil {
		return 0, err
	}
	// searchBlock returns the highest block with timestamp < ts.
	return n + 1, nil
}

// BlockAtOrBefore returns the highest block whose timestamp is <= ts.
func (c *Client) BlockAtOrBefore(ctx context.Context, ts int64) (uint64, error) {
	lo, err := c.searchBlock(ctx, ts)
	if err != nil {
		return 0, err
	}
	// The block immediately after may land exactly on ts.
	if t, err := c.BlockTime(ctx, lo+1); err == nil && t <= ts {
		return lo + 1, nil
	}
	return lo, nil
}

// searchBlock binary-searches headers for the highest block with
// timestamp < ts. On repeated RPC failure mid-search it falls back to a
// wall-clock estimate assuming 2-second blocks and logs a warning.
func (c *Client) searchBlock(ctx context.Context, ts int64) (uint64, error) {
	head, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	headTime, err := c.BlockTime(ctx, head)
	if err != nil {
		return 0, err
	}
	if headTime < ts {
		return head, nil
	}

	lo, hi := uint64(0), head
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		header, err := c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(mid))
		if err != nil {
			// One more try through the retrying path before giving up.
			t, rerr := c.BlockTime(ctx, mid)
			if rerr != nil {
				est := c.estimateBlock(head, headTime, ts)
				log.Printf("[EVM] Warning: timestamp search failed at block %d (%v), "+
					"falling back to wall-clock estimate %d", mid, rerr, est)
				return est, nil
			}
			if t < ts {
				lo = mid
			} else {
				hi = mid - 1
			}
			continue
		}
		if int64(header.Time) < ts {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo, nil
}

// estimateBlock projects a block height from the head timestamp assuming a
// fixed block interval. Only used as a degraded fallback.
func (c *Client) estimateBlock(head uint64, headTime, ts int64) uint64 {
	behind := (headTime - ts) / fallbackBlockSeconds
	if behind < 0 {
		return head
	}
	if uint64(behind) >= head {
		return 0
	}
	return head - uint64(behind)
}
