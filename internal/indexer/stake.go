package indexer

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/hedgelabs/telemetry-engine/internal/evm"
	"github.com/hedgelabs/telemetry-engine/pkg/models"
)

// userInfoParallel bounds the authoritative balance re-reads per batch so a
// busy pool cannot stampede the RPC endpoint.
const userInfoParallel = 10

// StakeStore is the persistence slice the stake indexer writes through.
type StakeStore interface {
	InsertStakeEvents(ctx context.Context, events []models.StakeEvent) (int64, error)
	UpsertStakerPosition(ctx context.Context, p models.StakerPosition) error
}

// ViewCaller reads contract view methods; satisfied by *evm.Client.
type ViewCaller interface {
	CallView(ctx context.Context, to common.Address, cabi abi.ABI, method string, args ...interface{}) ([]interface{}, error)
}

// StakeIndexer consumes Deposit/Withdraw logs for one pool. Positions are
// last-writer-wins by (wallet, pid); after every batch the on-chain
// userInfo balance is re-read for each touched wallet, which corrects for
// events missed at shard edges without requiring global ordering across
// shard workers.
type StakeIndexer struct {
	staking common.Address
	pid     int
	store   StakeStore
	views   ViewCaller

	// touched accumulates wallets seen in the current batch, with their
	// most recent activity for the position row.
	touched map[string]models.StakerPosition
}

func NewStakeIndexer(staking string, pid int, store StakeStore, views ViewCaller) *StakeIndexer {
	return &StakeIndexer{
		staking: common.HexToAddress(staking),
		pid:     pid,
		store:   store,
		views:   views,
		touched: make(map[string]models.StakerPosition),
	}
}

func (s *StakeIndexer) Filter() ethereum.FilterQuery {
	return ethereum.FilterQuery{
		Addresses: []common.Address{s.staking},
		Topics: [][]common.Hash{
			{evm.StakingABI.Events["Deposit"].ID, evm.StakingABI.Events["Withdraw"].ID},
			nil, // any user
			{common.BigToHash(big.NewInt(int64(s.pid)))},
		},
	}
}

func (s *StakeIndexer) HandleLogs(ctx context.Context, logs []types.Log, ts TimestampFn) (int64, error) {
	events := make([]models.StakeEvent, 0, len(logs))
	for _, lg := range logs {
		if len(lg.Topics) < 3 {
			continue
		}
		kind := "deposit"
		if lg.Topics[0] == evm.StakingABI.Events["Withdraw"].ID {
			kind = "withdraw"
		}
		wallet := strings.ToLower(common.BytesToAddress(lg.Topics[1].Bytes()[12:]).Hex())
		amount := new(big.Int).SetBytes(lg.Data)

		t, err := ts(ctx, lg.BlockNumber)
		if err != nil {
			return 0, err
		}
		events = append(events, models.StakeEvent{
			Pid:         s.pid,
			Wallet:      wallet,
			Kind:        kind,
			Amount:      amount.String(),
			BlockNumber: lg.BlockNumber,
			TxHash:      lg.TxHash.Hex(),
			LogIndex:    lg.Index,
			Timestamp:   t,
		})

		// Last-writer-wins: later logs in the ordered batch overwrite.
		s.touched[wallet] = models.StakerPosition{
			Wallet:            wallet,
			Pid:               s.pid,
			LastActivityType:  kind,
			LastActivityBlock: lg.BlockNumber,
			LastActivityTx:    lg.TxHash.Hex(),
		}
	}
	return s.store.InsertStakeEvents(ctx, events)
}

// FinishBatch reads the authoritative staked balance for every wallet the
// batch touched, in bounded parallel, and upserts positions.
func (s *StakeIndexer) FinishBatch(ctx context.Context) error {
	if len(s.touched) == 0 {
		return nil
	}
	wallets := make([]string, 0, len(s.touched))
	for w := range s.touched {
		wallets = append(wallets, w)
	}

	err := evm.BatchCall(ctx, wallets, userInfoParallel, func(ctx context.Context, wallet string) error {
		out, err := s.views.CallView(ctx, s.staking, evm.StakingABI, "userInfo",
			big.NewInt(int64(s.pid)), common.HexToAddress(wallet))
		if err != nil {
			return fmt.Errorf("userInfo(%d, %s): %w", s.pid, wallet, err)
		}
		pos := s.touched[wallet]
		pos.StakedLp = out[0].(*big.Int).String()
		return s.store.UpsertStakerPosition(ctx, pos)
	})
	if err != nil {
		return err
	}
	s.touched = make(map[string]models.StakerPosition)
	return nil
}
