package classify

import (
	"reflect"
	"testing"

	"github.com/hedgelabs/telemetry-engine/pkg/models"
)

func TestExtractorLadder(t *testing.T) {
	cases := []struct {
		name      string
		net       float64
		wantScore int
		wantFlag  bool
	}{
		{"below threshold", 499, 0, false},
		{"first rung", 500, 25, true},
		{"second rung", 2_500, 50, true},
		{"third rung", 10_000, 75, true},
		{"top rung", 50_000, 100, true},
		{"above top", 1_000_000, 100, true},
		{"net importer", -5_000, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			score, flags := ExtractorScore(models.WalletBridgeMetrics{NetExtractedUsd: tc.net})
			if score != tc.wantScore {
				t.Errorf("score = %d, want %d", score, tc.wantScore)
			}
			if hasFlag(flags, "extractor") != tc.wantFlag {
				t.Errorf("extractor flag = %v, want %v", !tc.wantFlag, tc.wantFlag)
			}
		})
	}
}

func TestExtractorScenario(t *testing.T) {
	in := Input{
		Player: models.Player{Wallets: []string{"0xw"}},
		Bridge: models.WalletBridgeMetrics{
			BridgedInUsd:    100,
			BridgedOutUsd:   1_000,
			NetExtractedUsd: 900,
			HeroesIn:        5,
		},
		SwapCount: 3,
	}
	r := Classify(in)
	if !hasFlag(r.Flags, "extractor") {
		t.Error("extractor flag not set")
	}
	if r.Archetype != "extraction" {
		t.Errorf("archetype = %q, want extraction", r.Archetype)
	}
	if r.IntentScores.InvestmentExtraction <= r.IntentScores.InvestmentGrowth {
		t.Error("extraction score should dominate growth")
	}
	if r.ExtractorScore != 25 {
		t.Errorf("extractor score = %d, want 25", r.ExtractorScore)
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	in := Input{
		Player:          models.Player{Wallets: []string{"0xw"}},
		SwapCount:       12,
		StakedUsd:       4_000,
		RewardClaims:    9,
		HuntCount:       14,
		TournamentCount: 6,
		MessageTopics:   map[string]int{"apr": 2, "quests": 4},
	}
	first := Classify(in)
	for i := 0; i < 5; i++ {
		if got := Classify(in); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d diverged: %+v vs %+v", i, got, first)
		}
	}
}

func TestArchetypeTieBreakPrefersProgression(t *testing.T) {
	// All dimensions zero: the preference order decides.
	r := Classify(Input{})
	if r.Archetype != "progression" {
		t.Errorf("archetype = %q, want progression on all-zero tie", r.Archetype)
	}
}

func TestScoresClamped(t *testing.T) {
	in := Input{
		HuntCount:       1_000,
		TournamentCount: 1_000,
		MessageTopics:   map[string]int{"quests": 500},
	}
	r := Classify(in)
	if r.IntentScores.Progression != 100 {
		t.Errorf("progression = %d, want clamped to 100", r.IntentScores.Progression)
	}
}

func TestEngagementStates(t *testing.T) {
	cases := []struct {
		name string
		in   Input
		want string
	}{
		{"no wallet no activity", Input{}, models.StateVisitor},
		{"wallet only", Input{Player: models.Player{Wallets: []string{"0xw"}}}, models.StateExplorer},
		{"activity unstaked", Input{SwapCount: 2}, models.StateParticipant},
		{"light staker", Input{SwapCount: 2, StakedUsd: 50}, models.StatePlayer},
		{"active", Input{SwapCount: 30, StakedUsd: 500}, models.StateActive},
		{"committed", Input{SwapCount: 30, StakedUsd: 20_000}, models.StateCommitted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.in).State; got != tc.want {
				t.Errorf("state = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestWhaleFlag(t *testing.T) {
	r := Classify(Input{SwapCount: 30, StakedUsd: 150_000})
	if !hasFlag(r.Flags, "whale") {
		t.Error("whale flag not set at $150k staked")
	}
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}
