package classify

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/hedgelabs/telemetry-engine/internal/db"
	"github.com/hedgelabs/telemetry-engine/pkg/models"
)

// Store is the persistence slice the reclassifier reads and writes.
type Store interface {
	GetPlayer(ctx context.Context, id int64) (models.Player, error)
	ListPlayers(ctx context.Context, limit, offset int) ([]models.Player, int, error)
	WalletActivity(ctx context.Context, wallet string) (models.WalletActivity, error)
	WalletBridgeMetrics(ctx context.Context, wallet string) (models.WalletBridgeMetrics, error)
	UpdatePlayerClassification(ctx context.Context, id int64, archetype, state string, flags []string) error
}

// StakeValuer prices a wallet's staked LP in USD. Implemented by the
// analytics service, which holds the pool metadata and the price graph.
type StakeValuer interface {
	WalletStakedUsd(ctx context.Context, wallet string) (float64, error)
}

// Service runs classifications against stored signals, on demand and on a
// nightly schedule.
type Service struct {
	store  Store
	stakes StakeValuer
}

func NewService(store Store, stakes StakeValuer) *Service {
	return &Service{store: store, stakes: stakes}
}

// Reclassify recomputes and persists one player's classification.
func (s *Service) Reclassify(ctx context.Context, playerID int64) (Result, error) {
	player, err := s.store.GetPlayer(ctx, playerID)
	if err != nil {
		return Result{}, err
	}

	in := Input{Player: player}
	for _, wallet := range player.Wallets {
		activity, err := s.store.WalletActivity(ctx, wallet)
		if err != nil {
			return Result{}, err
		}
		in.SwapCount += activity.SwapCount
		in.SwapVolumeUsd += activity.SwapVolumeUsd
		in.RewardClaims += activity.RewardClaims
		in.HuntCount += activity.HuntCount
		in.TournamentCount += activity.TournamentCount
		in.TavernTrades += activity.TavernTrades
		in.BridgeCrossings += activity.BridgeCrossings

		// Stake valuation is best-effort: a flaky price graph degrades the
		// staking signals to zero instead of failing the classification.
		staked, err := s.stakes.WalletStakedUsd(ctx, wallet)
		if err != nil {
			log.Printf("[Classifier] Stake valuation failed for %s: %v", wallet, err)
		} else {
			in.StakedUsd += staked
		}

		bridge, err := s.store.WalletBridgeMetrics(ctx, wallet)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				continue
			}
			return Result{}, err
		}
		in.Bridge.BridgedInUsd += bridge.BridgedInUsd
		in.Bridge.BridgedOutUsd += bridge.BridgedOutUsd
		in.Bridge.NetExtractedUsd += bridge.NetExtractedUsd
		in.Bridge.HeroesIn += bridge.HeroesIn
		in.Bridge.HeroesOut += bridge.HeroesOut
	}

	result := Classify(in)
	if err := s.store.UpdatePlayerClassification(ctx, playerID, result.Archetype, result.State, result.Flags); err != nil {
		return Result{}, err
	}
	return result, nil
}

// ReclassifyAll walks every player in pages. Per-player failures are logged
// and skipped so one bad row cannot stall the nightly pass.
func (s *Service) ReclassifyAll(ctx context.Context) error {
	const pageSize = 200
	offset := 0
	done := 0
	for {
		players, total, err := s.store.ListPlayers(ctx, pageSize, offset)
		if err != nil {
			return err
		}
		if len(players) == 0 {
			log.Printf("[Classifier] Reclassified %d/%d players", done, total)
			return nil
		}
		for _, p := range players {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if _, err := s.Reclassify(ctx, p.ID); err != nil {
				log.Printf("[Classifier] Player %d reclassify failed: %v", p.ID, err)
				continue
			}
			done++
		}
		offset += pageSize
	}
}

// RunNightly reclassifies the full player base once per UTC day.
func (s *Service) RunNightly(ctx context.Context) error {
	for {
		next := time.Now().UTC().Truncate(24 * time.Hour).Add(24*time.Hour + 30*time.Minute)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Until(next)):
		}
		if err := s.ReclassifyAll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("[Classifier] Nightly pass failed: %v", err)
		}
	}
}
