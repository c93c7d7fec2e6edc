package indexer

import (
	"context"
	"fmt"
	"log"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/hedgelabs/telemetry-engine/internal/evm"
	"github.com/hedgelabs/telemetry-engine/pkg/models"
)

// TournamentStore is the persistence slice the tournament indexer writes
// through.
type TournamentStore interface {
	InsertTournamentPlacements(ctx context.Context, placements []models.TournamentPlacement) (int64, error)
	SaveHeroTournamentSnapshot(ctx context.Context, snap models.HeroTournamentSnapshot) error
}

var heroClasses = []string{
	"warrior", "knight", "thief", "archer", "priest", "wizard", "monk", "pirate",
	"berserker", "seer", "paladin", "darkKnight", "summoner", "ninja", "shapeshifter",
	"dragoon", "sage", "dreadKnight",
}

func heroClassName(id uint8) string {
	if int(id) < len(heroClasses) {
		return heroClasses[id]
	}
	return fmt.Sprintf("class%d", id)
}

// TournamentIndexer consumes TournamentCompleted logs and freezes each
// participating hero's stats at that point. Snapshot reads are best-effort:
// a failed getHeroStats call logs a warning and leaves the placement row
// intact rather than failing the batch.
type TournamentIndexer struct {
	pvp    common.Address
	heroes common.Address
	store  TournamentStore
	views  ViewCaller
}

func NewTournamentIndexer(pvp, heroContract string, store TournamentStore, views ViewCaller) *TournamentIndexer {
	return &TournamentIndexer{
		pvp:    common.HexToAddress(pvp),
		heroes: common.HexToAddress(heroContract),
		store:  store,
		views:  views,
	}
}

func (t *TournamentIndexer) Filter() ethereum.FilterQuery {
	return ethereum.FilterQuery{
		Addresses: []common.Address{t.pvp},
		Topics:    [][]common.Hash{{evm.PvpABI.Events["TournamentCompleted"].ID}},
	}
}

func (t *TournamentIndexer) HandleLogs(ctx context.Context, logs []types.Log, ts TimestampFn) (int64, error) {
	placements := make([]models.TournamentPlacement, 0, len(logs))
	for _, lg := range logs {
		if len(lg.Topics) < 3 || len(lg.Data) < 64 {
			continue
		}
		unix, err := ts(ctx, lg.BlockNumber)
		if err != nil {
			return 0, err
		}
		tournamentID := new(big.Int).SetBytes(lg.Topics[1].Bytes()).Int64()
		heroID := new(big.Int).SetBytes(lg.Data[0:32]).String()

		placements = append(placements, models.TournamentPlacement{
			TournamentID: tournamentID,
			Wallet:       topicAddr(lg.Topics[2]),
			HeroID:       heroID,
			Placement:    int(lg.Data[63]),
			BlockNumber:  lg.BlockNumber,
			TxHash:       lg.TxHash.Hex(),
			LogIndex:     lg.Index,
			Timestamp:    unix,
		})

		if err := t.snapshotHero(ctx, tournamentID, heroID); err != nil {
			log.Printf("[tournament] Hero %s snapshot failed: %v", heroID, err)
		}
	}
	return t.store.InsertTournamentPlacements(ctx, placements)
}

// snapshotHero records the hero's current stats for this tournament. The
// store keeps the first write, so reprocessed batches cannot overwrite the
// snapshot with later, leveled-up stats.
func (t *TournamentIndexer) snapshotHero(ctx context.Context, tournamentID int64, heroID string) error {
	id, ok := new(big.Int).SetString(heroID, 10)
	if !ok {
		return fmt.Errorf("bad hero id %q", heroID)
	}
	out, err := t.views.CallView(ctx, t.heroes, evm.HeroABI, "getHeroStats", id)
	if err != nil {
		return err
	}
	return t.store.SaveHeroTournamentSnapshot(ctx, models.HeroTournamentSnapshot{
		TournamentID: tournamentID,
		HeroID:       heroID,
		Level:        int(out[0].(uint16)),
		MainClass:    heroClassName(out[1].(uint8)),
		SubClass:     heroClassName(out[2].(uint8)),
		Strength:     int(out[3].(uint16)),
		Agility:      int(out[4].(uint16)),
		Endurance:    int(out[5].(uint16)),
		Wisdom:       int(out[6].(uint16)),
		Luck:         int(out[7].(uint16)),
	})
}
