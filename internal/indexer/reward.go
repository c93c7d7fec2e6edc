package indexer

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/hedgelabs/telemetry-engine/internal/evm"
	"github.com/hedgelabs/telemetry-engine/pkg/models"
)

// RewardStore is the persistence slice the reward indexer writes through.
type RewardStore interface {
	InsertRewardEvents(ctx context.Context, events []models.RewardEvent) (int64, error)
}

// RewardIndexer consumes RewardCollected logs for one pool.
type RewardIndexer struct {
	staking common.Address
	pid     int
	store   RewardStore
}

func NewRewardIndexer(staking string, pid int, store RewardStore) *RewardIndexer {
	return &RewardIndexer{
		staking: common.HexToAddress(staking),
		pid:     pid,
		store:   store,
	}
}

func (r *RewardIndexer) Filter() ethereum.FilterQuery {
	return ethereum.FilterQuery{
		Addresses: []common.Address{r.staking},
		Topics: [][]common.Hash{
			{evm.StakingABI.Events["RewardCollected"].ID},
			nil, // any user
			{common.BigToHash(big.NewInt(int64(r.pid)))},
		},
	}
}

func (r *RewardIndexer) HandleLogs(ctx context.Context, logs []types.Log, ts TimestampFn) (int64, error) {
	events := make([]models.RewardEvent, 0, len(logs))
	for _, lg := range logs {
		if len(lg.Topics) < 3 {
			continue
		}
		t, err := ts(ctx, lg.BlockNumber)
		if err != nil {
			return 0, err
		}
		events = append(events, models.RewardEvent{
			Pid:         r.pid,
			Wallet:      strings.ToLower(common.BytesToAddress(lg.Topics[1].Bytes()[12:]).Hex()),
			Amount:      new(big.Int).SetBytes(lg.Data).String(),
			BlockNumber: lg.BlockNumber,
			TxHash:      lg.TxHash.Hex(),
			LogIndex:    lg.Index,
			Timestamp:   t,
		})
	}
	return r.store.InsertRewardEvents(ctx, events)
}
