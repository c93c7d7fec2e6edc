package indexer

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/hedgelabs/telemetry-engine/internal/evm"
	"github.com/hedgelabs/telemetry-engine/pkg/models"
)

// HuntStore is the persistence slice the hunt indexer writes through.
type HuntStore interface {
	InsertHuntEvents(ctx context.Context, events []models.HuntEvent) (int64, error)
}

// HuntIndexer consumes EncounterResolved logs from a hunting contract.
// One instance runs per chain that deploys the contract.
type HuntIndexer struct {
	contract common.Address
	chainID  int64
	store    HuntStore
}

func NewHuntIndexer(contract string, chainID int64, store HuntStore) *HuntIndexer {
	return &HuntIndexer{
		contract: common.HexToAddress(contract),
		chainID:  chainID,
		store:    store,
	}
}

func (h *HuntIndexer) Filter() ethereum.FilterQuery {
	return ethereum.FilterQuery{
		Addresses: []common.Address{h.contract},
		Topics:    [][]common.Hash{{evm.HuntABI.Events["EncounterResolved"].ID}},
	}
}

func (h *HuntIndexer) HandleLogs(ctx context.Context, logs []types.Log, ts TimestampFn) (int64, error) {
	events := make([]models.HuntEvent, 0, len(logs))
	for _, lg := range logs {
		if len(lg.Topics) < 2 || len(lg.Data) < 128 {
			continue
		}
		t, err := ts(ctx, lg.BlockNumber)
		if err != nil {
			return 0, err
		}
		huntType := "hunt"
		if lg.Data[31] == 1 {
			huntType = "patrol"
		}
		events = append(events, models.HuntEvent{
			ChainID:     h.chainID,
			Wallet:      topicAddr(lg.Topics[1]),
			HuntType:    huntType,
			DropItem:    new(big.Int).SetBytes(lg.Data[32:64]).String(),
			DropAmount:  new(big.Int).SetBytes(lg.Data[64:96]).String(),
			PartyLuck:   int(new(big.Int).SetBytes(lg.Data[96:128]).Int64()),
			BlockNumber: lg.BlockNumber,
			TxHash:      lg.TxHash.Hex(),
			LogIndex:    lg.Index,
			Timestamp:   t,
		})
	}
	return h.store.InsertHuntEvents(ctx, events)
}
