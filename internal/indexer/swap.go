package indexer

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/hedgelabs/telemetry-engine/internal/evm"
	"github.com/hedgelabs/telemetry-engine/pkg/models"
)

// DayPricer resolves a token's USD price for the UTC day containing an
// event. Unpriced days return ok=false and the row keeps a zero volume
// rather than a fabricated one.
type DayPricer interface {
	PriceAt(ctx context.Context, token, day string) (float64, bool)
}

// SwapStore is the persistence slice the swap indexer writes through.
type SwapStore interface {
	InsertSwapEvents(ctx context.Context, events []models.SwapEvent) (int64, error)
}

// SwapIndexer parses Swap logs for one LP pair, deriving USD volume from
// the input side at the event's block-day prices.
type SwapIndexer struct {
	pair      common.Address
	pid       int
	token0    string
	token1    string
	decimals0 uint8
	decimals1 uint8
	store     SwapStore
	pricer    DayPricer
}

func NewSwapIndexer(pool models.Pool, store SwapStore, pricer DayPricer) *SwapIndexer {
	return &SwapIndexer{
		pair:      common.HexToAddress(pool.LpToken),
		pid:       pool.Pid,
		token0:    pool.Token0,
		token1:    pool.Token1,
		decimals0: pool.Decimals0,
		decimals1: pool.Decimals1,
		store:     store,
		pricer:    pricer,
	}
}

func (s *SwapIndexer) Filter() ethereum.FilterQuery {
	return ethereum.FilterQuery{
		Addresses: []common.Address{s.pair},
		Topics:    [][]common.Hash{{evm.PairABI.Events["Swap"].ID}},
	}
}

func (s *SwapIndexer) HandleLogs(ctx context.Context, logs []types.Log, ts TimestampFn) (int64, error) {
	events := make([]models.SwapEvent, 0, len(logs))
	for _, lg := range logs {
		if len(lg.Topics) < 3 || len(lg.Data) < 128 {
			continue
		}
		amount0In := new(big.Int).SetBytes(lg.Data[0:32])
		amount1In := new(big.Int).SetBytes(lg.Data[32:64])
		amount0Out := new(big.Int).SetBytes(lg.Data[64:96])
		amount1Out := new(big.Int).SetBytes(lg.Data[96:128])

		t, err := ts(ctx, lg.BlockNumber)
		if err != nil {
			return 0, err
		}
		day := time.Unix(t, 0).UTC().Format("2006-01-02")

		// USD volume is the input side priced at the event's day.
		volume := 0.0
		if p0, ok := s.pricer.PriceAt(ctx, s.token0, day); ok {
			volume += weiToFloat(amount0In, s.decimals0) * p0
		}
		if p1, ok := s.pricer.PriceAt(ctx, s.token1, day); ok {
			volume += weiToFloat(amount1In, s.decimals1) * p1
		}

		events = append(events, models.SwapEvent{
			Pid:         s.pid,
			Pair:        strings.ToLower(s.pair.Hex()),
			Sender:      strings.ToLower(common.BytesToAddress(lg.Topics[1].Bytes()[12:]).Hex()),
			Amount0In:   amount0In.String(),
			Amount1In:   amount1In.String(),
			Amount0Out:  amount0Out.String(),
			Amount1Out:  amount1Out.String(),
			VolumeUsd:   volume,
			BlockNumber: lg.BlockNumber,
			TxHash:      lg.TxHash.Hex(),
			LogIndex:    lg.Index,
			Timestamp:   t,
		})
	}
	return s.store.InsertSwapEvents(ctx, events)
}

// weiToFloat converts a wei-scale amount to token units for USD math only.
func weiToFloat(v *big.Int, decimals uint8) float64 {
	f := new(big.Float).SetInt(v)
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	out, _ := new(big.Float).Quo(f, scale).Float64()
	return out
}
