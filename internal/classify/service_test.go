package classify

import (
	"context"
	"errors"
	"testing"

	"github.com/hedgelabs/telemetry-engine/internal/db"
	"github.com/hedgelabs/telemetry-engine/pkg/models"
)

type fakeClassifyStore struct {
	players  map[int64]models.Player
	activity map[string]models.WalletActivity
	bridge   map[string]models.WalletBridgeMetrics

	savedArchetype string
	savedState     string
	savedFlags     []string
}

func (f *fakeClassifyStore) GetPlayer(ctx context.Context, id int64) (models.Player, error) {
	p, ok := f.players[id]
	if !ok {
		return p, db.ErrNotFound
	}
	return p, nil
}

func (f *fakeClassifyStore) ListPlayers(ctx context.Context, limit, offset int) ([]models.Player, int, error) {
	if offset > 0 {
		return nil, len(f.players), nil
	}
	var out []models.Player
	for _, p := range f.players {
		out = append(out, p)
	}
	return out, len(out), nil
}

func (f *fakeClassifyStore) WalletActivity(ctx context.Context, wallet string) (models.WalletActivity, error) {
	return f.activity[wallet], nil
}

func (f *fakeClassifyStore) WalletBridgeMetrics(ctx context.Context, wallet string) (models.WalletBridgeMetrics, error) {
	m, ok := f.bridge[wallet]
	if !ok {
		return m, db.ErrNotFound
	}
	return m, nil
}

func (f *fakeClassifyStore) UpdatePlayerClassification(ctx context.Context, id int64, archetype, state string, flags []string) error {
	f.savedArchetype = archetype
	f.savedState = state
	f.savedFlags = flags
	return nil
}

type fakeStakeValuer struct {
	usd map[string]float64
	err error
}

func (f *fakeStakeValuer) WalletStakedUsd(ctx context.Context, wallet string) (float64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.usd[wallet], nil
}

func TestReclassifyValuesStakedPositions(t *testing.T) {
	store := &fakeClassifyStore{
		players: map[int64]models.Player{
			1: {ID: 1, Wallets: []string{"0xaa", "0xbb"}},
		},
		activity: map[string]models.WalletActivity{
			"0xaa": {SwapCount: 15, RewardClaims: 10},
			"0xbb": {SwapCount: 5},
		},
		bridge: map[string]models.WalletBridgeMetrics{},
	}
	stakes := &fakeStakeValuer{usd: map[string]float64{"0xaa": 90_000, "0xbb": 60_000}}
	svc := NewService(store, stakes)

	r, err := svc.Reclassify(context.Background(), 1)
	if err != nil {
		t.Fatalf("Reclassify: %v", err)
	}

	// $150k staked across the cluster with 30 on-chain actions: the player is
	// committed and flagged a whale.
	if r.State != models.StateCommitted {
		t.Errorf("state = %q, want %q", r.State, models.StateCommitted)
	}
	if !hasFlag(r.Flags, "whale") {
		t.Error("whale flag not set for $150k staked cluster")
	}
	if store.savedState != models.StateCommitted {
		t.Errorf("persisted state = %q, want %q", store.savedState, models.StateCommitted)
	}
	if !hasFlag(store.savedFlags, "whale") {
		t.Error("persisted flags missing whale")
	}
}

func TestReclassifyStakeValuationFailureDegradesToZero(t *testing.T) {
	store := &fakeClassifyStore{
		players: map[int64]models.Player{
			1: {ID: 1, Wallets: []string{"0xaa"}},
		},
		activity: map[string]models.WalletActivity{
			"0xaa": {SwapCount: 3},
		},
		bridge: map[string]models.WalletBridgeMetrics{},
	}
	stakes := &fakeStakeValuer{err: errors.New("price graph unavailable")}
	svc := NewService(store, stakes)

	r, err := svc.Reclassify(context.Background(), 1)
	if err != nil {
		t.Fatalf("Reclassify: %v", err)
	}
	// On-chain activity with no valued stake reads as participant, never a
	// hard failure.
	if r.State != models.StateParticipant {
		t.Errorf("state = %q, want %q", r.State, models.StateParticipant)
	}
	if hasFlag(r.Flags, "whale") {
		t.Error("whale flag set without a stake valuation")
	}
}
