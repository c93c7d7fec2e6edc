package indexer

import (
	"context"
	"errors"
	"log"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hedgelabs/telemetry-engine/internal/db"
	"github.com/hedgelabs/telemetry-engine/internal/evm"
	"github.com/hedgelabs/telemetry-engine/pkg/models"
)

const tavernScanParallel = 8

// TavernStore is the persistence slice the tavern poller writes through.
type TavernStore interface {
	CreateTavernSnapshot(ctx context.Context) (int64, error)
	InsertTavernListings(ctx context.Context, listings []models.TavernListing) error
	PreviousTavernListings(ctx context.Context, beforeSnapshot int64) (int64, []models.TavernListing, error)
	InsertTavernOutcomes(ctx context.Context, outcomes []models.TavernOutcome) error
}

// TavernPoller snapshots the hero sale board on an interval and diffs
// consecutive snapshots into listing outcomes. Marketplace state is
// view-only, so this runs as a poller rather than a log worker.
type TavernPoller struct {
	tavern   common.Address
	heroes   common.Address
	store    TavernStore
	views    ViewCaller
	interval time.Duration
}

func NewTavernPoller(tavern, heroContract string, store TavernStore, views ViewCaller, interval time.Duration) *TavernPoller {
	if interval == 0 {
		interval = time.Hour
	}
	return &TavernPoller{
		tavern:   common.HexToAddress(tavern),
		heroes:   common.HexToAddress(heroContract),
		store:    store,
		views:    views,
		interval: interval,
	}
}

// Run takes one snapshot immediately, then one per interval until cancelled.
func (p *TavernPoller) Run(ctx context.Context) error {
	log.Printf("[tavern] Starting poller (interval %s)", p.interval)
	for {
		if err := p.snapshotOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			log.Printf("[tavern] Snapshot failed: %v", err)
		}
		if !sleepCtx(ctx, p.interval) {
			return nil
		}
	}
}

func (p *TavernPoller) snapshotOnce(ctx context.Context) error {
	out, err := p.views.CallView(ctx, p.tavern, evm.TavernABI, "totalHeroesForSale")
	if err != nil {
		return err
	}
	total := int(out[0].(*big.Int).Int64())

	snapshotID, err := p.store.CreateTavernSnapshot(ctx)
	if err != nil {
		return err
	}
	now := time.Now().Unix()

	indices := make([]int, total)
	for i := range indices {
		indices[i] = i
	}
	var mu sync.Mutex
	listings := make([]models.TavernListing, 0, total)
	err = evm.BatchCall(ctx, indices, tavernScanParallel, func(ctx context.Context, i int) error {
		out, err := p.views.CallView(ctx, p.tavern, evm.TavernABI, "getHeroForSale", big.NewInt(int64(i)))
		if err != nil {
			// Listings can close mid-scan; a reverted slot is skipped.
			return nil
		}
		l := models.TavernListing{
			SnapshotID: snapshotID,
			HeroID:     out[0].(*big.Int).String(),
			Seller:     strings.ToLower(out[1].(common.Address).Hex()),
			PriceWei:   out[2].(*big.Int).String(),
			Generation: int(out[3].(uint16)),
			Rarity:     int(out[4].(uint8)),
			Level:      int(out[5].(uint16)),
			TakenAt:    now,
		}
		mu.Lock()
		listings = append(listings, l)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}
	if err := p.store.InsertTavernListings(ctx, listings); err != nil {
		return err
	}

	outcomes, err := p.diffPrevious(ctx, snapshotID, listings, now)
	if err != nil {
		return err
	}
	if len(outcomes) > 0 {
		if err := p.store.InsertTavernOutcomes(ctx, outcomes); err != nil {
			return err
		}
	}
	log.Printf("[tavern] Snapshot %d: %d listings, %d closed since previous",
		snapshotID, len(listings), len(outcomes))
	return nil
}

// diffPrevious classifies every listing from the previous snapshot that is
// gone from the current one. A hero whose owner changed sold; one still held
// by its seller was delisted.
func (p *TavernPoller) diffPrevious(ctx context.Context, snapshotID int64, current []models.TavernListing, now int64) ([]models.TavernOutcome, error) {
	_, previous, err := p.store.PreviousTavernListings(ctx, snapshotID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	listed := make(map[string]struct{}, len(current))
	for _, l := range current {
		listed[l.HeroID] = struct{}{}
	}

	var outcomes []models.TavernOutcome
	for _, prev := range previous {
		if _, still := listed[prev.HeroID]; still {
			continue
		}
		o := models.TavernOutcome{
			HeroID:   prev.HeroID,
			Outcome:  models.ListingDelisted,
			PriceWei: prev.PriceWei,
			ListedAt: prev.TakenAt,
			ClosedAt: now,
		}
		if owner, err := p.heroOwner(ctx, prev.HeroID); err == nil && owner != prev.Seller {
			o.Outcome = models.ListingSold
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}

func (p *TavernPoller) heroOwner(ctx context.Context, heroID string) (string, error) {
	id, _ := new(big.Int).SetString(heroID, 10)
	out, err := p.views.CallView(ctx, p.heroes, evm.HeroABI, "ownerOf", id)
	if err != nil {
		return "", err
	}
	return strings.ToLower(out[0].(common.Address).Hex()), nil
}
