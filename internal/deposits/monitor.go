package deposits

import (
	"context"
	"errors"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/hedgelabs/telemetry-engine/internal/evm"
	"github.com/hedgelabs/telemetry-engine/internal/indexer"
	"github.com/hedgelabs/telemetry-engine/pkg/models"
)

// Monitor watches ERC-20 Transfer logs into the deposit address and feeds
// them to the matcher. It plugs into the shared indexer worker loop, so
// scanning is checkpointed and resumes across restarts.
type Monitor struct {
	token       common.Address
	depositAddr common.Address
	decimals    uint8
	matcher     *Matcher
}

func NewMonitor(token, depositAddr string, decimals uint8, matcher *Matcher) *Monitor {
	if decimals == 0 {
		decimals = 18
	}
	return &Monitor{
		token:       common.HexToAddress(token),
		depositAddr: common.HexToAddress(depositAddr),
		decimals:    decimals,
		matcher:     matcher,
	}
}

func (m *Monitor) Filter() ethereum.FilterQuery {
	return ethereum.FilterQuery{
		Addresses: []common.Address{m.token},
		Topics: [][]common.Hash{
			{evm.ERC20ABI.Events["Transfer"].ID},
			nil, // any sender
			{common.BytesToHash(m.depositAddr.Bytes())},
		},
	}
}

func (m *Monitor) HandleLogs(ctx context.Context, logs []types.Log, ts indexer.TimestampFn) (int64, error) {
	var matched int64
	for _, lg := range logs {
		if len(lg.Topics) < 3 || len(lg.Data) < 32 {
			continue
		}
		t, err := ts(ctx, lg.BlockNumber)
		if err != nil {
			return matched, err
		}
		tr := models.TokenTransfer{
			From:        strings.ToLower(common.BytesToAddress(lg.Topics[1].Bytes()[12:]).Hex()),
			To:          strings.ToLower(m.depositAddr.Hex()),
			Amount:      weiToDecimal(new(big.Int).SetBytes(lg.Data[0:32]), m.decimals),
			TxHash:      lg.TxHash.Hex(),
			BlockNumber: lg.BlockNumber,
			Timestamp:   t,
		}
		err = m.matcher.MatchTransfer(ctx, tr)
		switch {
		case err == nil:
			matched++
		case errors.Is(err, ErrNoMatch):
			log.Printf("[DepositMonitor] Unmatched transfer %s: %s from %s", tr.TxHash, tr.Amount, tr.From)
		default:
			return matched, err
		}
	}
	return matched, nil
}

// weiToDecimal renders a wei amount as a token-unit decimal string with no
// float rounding. Trailing zeros in the fraction are trimmed.
func weiToDecimal(v *big.Int, decimals uint8) string {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(v, scale, new(big.Int))
	if frac.Sign() == 0 {
		return whole.String()
	}
	fracStr := frac.String()
	for len(fracStr) < int(decimals) {
		fracStr = "0" + fracStr
	}
	fracStr = strings.TrimRight(fracStr, "0")
	return whole.String() + "." + fracStr
}

// SweepLoop expires stale requests and drains owed credits once per
// interval until cancelled.
func (m *Matcher) SweepLoop(ctx context.Context, interval time.Duration) error {
	if interval == 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				log.Printf("[DepositMatcher] Sweep failed: %v", err)
			}
		}
	}
}
