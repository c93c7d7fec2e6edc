package classify

import (
	"sort"

	"github.com/hedgelabs/telemetry-engine/pkg/models"
)

// Pure scoring engine. Classify is a function of its inputs only, so the
// same wallet history always produces the same archetype, tier and flags.

// Extractor ladder over net USD bridged out.
const (
	extractorFlagUsd  = 500
	extractorTier2Usd = 2_500
	extractorTier3Usd = 10_000
	extractorTier4Usd = 50_000

	whaleStakedUsd     = 100_000
	highPotentialScore = 60
)

// Input gathers every signal the engine folds.
type Input struct {
	Player models.Player
	Bridge models.WalletBridgeMetrics

	// Activity rollups over the trailing 30 days.
	SwapCount       int
	SwapVolumeUsd   float64
	StakedUsd       float64
	RewardClaims    int
	HuntCount       int
	TournamentCount int
	TavernTrades    int
	BridgeCrossings int

	// Conversation signals from the bot, by topic.
	MessageTopics map[string]int
}

// Scores are the five intent dimensions, each clamped to [0,100].
type Scores struct {
	Progression          int `json:"progression"`
	InvestmentGrowth     int `json:"investmentGrowth"`
	InvestmentExtraction int `json:"investmentExtraction"`
	Social               int `json:"social"`
	Exploration          int `json:"exploration"`
}

// Result is the full classification output.
type Result struct {
	Archetype      string   `json:"archetype"`
	IntentScores   Scores   `json:"intentScores"`
	Tier           int      `json:"tier"`
	State          string   `json:"state"`
	ExtractorScore int      `json:"extractorScore"`
	Flags          []string `json:"flags"`
	BehaviorTags   []string `json:"behaviorTags"`
}

// dimension order doubles as the argmax tie-break preference.
var dimensionOrder = []string{"progression", "growth", "extraction", "social", "exploration"}

// Classify folds the input signals into a classification. Additive rules,
// clamped per dimension; no randomness, no clock reads.
func Classify(in Input) Result {
	s := Scores{
		Progression:          clamp(progressionScore(in)),
		InvestmentGrowth:     clamp(growthScore(in)),
		InvestmentExtraction: clamp(extractionScore(in)),
		Social:               clamp(socialScore(in)),
		Exploration:          clamp(explorationScore(in)),
	}

	extractorScore, extractorFlags := ExtractorScore(in.Bridge)

	r := Result{
		Archetype:      argmax(s),
		IntentScores:   s,
		State:          engagementState(in),
		ExtractorScore: extractorScore,
		Flags:          extractorFlags,
	}
	r.Tier = tierOf(r.State, s)

	if in.StakedUsd >= whaleStakedUsd {
		r.Flags = append(r.Flags, "whale")
	}
	if best(s) >= highPotentialScore && r.State != models.StateCommitted {
		r.Flags = append(r.Flags, "highPotential")
	}
	r.BehaviorTags = behaviorTags(in)
	return r
}

// ExtractorScore maps rolled-up bridge metrics onto the extraction ladder.
// Exposed separately because the bridge indexer refreshes it on every rollup
// without running a full classification.
func ExtractorScore(m models.WalletBridgeMetrics) (int, []string) {
	net := m.NetExtractedUsd
	var score int
	switch {
	case net >= extractorTier4Usd:
		score = 100
	case net >= extractorTier3Usd:
		score = 75
	case net >= extractorTier2Usd:
		score = 50
	case net >= extractorFlagUsd:
		score = 25
	}
	if score == 0 {
		return 0, nil
	}
	return score, []string{"extractor"}
}

func progressionScore(in Input) int {
	score := in.HuntCount*2 + in.TournamentCount*3
	score += in.MessageTopics["quests"] * 2
	score += in.MessageTopics["heroes"] * 2
	return score
}

func growthScore(in Input) int {
	score := in.RewardClaims * 2
	if in.StakedUsd >= 100 {
		score += 20
	}
	if in.StakedUsd >= 10_000 {
		score += 30
	}
	if in.Bridge.BridgedInUsd > in.Bridge.BridgedOutUsd {
		score += 15
	}
	score += in.MessageTopics["apr"] * 3
	return score
}

func extractionScore(in Input) int {
	score, _ := ExtractorScore(in.Bridge)
	if in.Bridge.HeroesOut > in.Bridge.HeroesIn {
		score += 10
	}
	score += in.MessageTopics["withdraw"] * 3
	return score
}

func socialScore(in Input) int {
	total := 0
	for _, n := range in.MessageTopics {
		total += n
	}
	return total + in.TavernTrades*2
}

func explorationScore(in Input) int {
	active := 0
	for _, n := range []int{in.SwapCount, in.HuntCount, in.TournamentCount, in.TavernTrades, in.BridgeCrossings} {
		if n > 0 {
			active++
		}
	}
	return active*12 + in.MessageTopics["howto"]*4
}

// engagementState walks the commitment ladder from the bottom.
func engagementState(in Input) string {
	onChain := in.SwapCount + in.RewardClaims + in.HuntCount + in.TournamentCount + in.TavernTrades
	switch {
	case len(in.Player.Wallets) == 0 && onChain == 0:
		return models.StateVisitor
	case onChain == 0:
		return models.StateExplorer
	case in.StakedUsd == 0:
		return models.StateParticipant
	case onChain < 20:
		return models.StatePlayer
	case in.StakedUsd < 10_000:
		return models.StateActive
	default:
		return models.StateCommitted
	}
}

func tierOf(state string, s Scores) int {
	base := map[string]int{
		models.StateVisitor:     0,
		models.StateExplorer:    0,
		models.StateParticipant: 1,
		models.StatePlayer:      2,
		models.StateActive:      3,
		models.StateCommitted:   4,
	}[state]
	if best(s) >= 80 && base < 4 {
		base++
	}
	return base
}

func behaviorTags(in Input) []string {
	var tags []string
	if in.HuntCount >= 10 {
		tags = append(tags, "hunter")
	}
	if in.TournamentCount >= 5 {
		tags = append(tags, "duelist")
	}
	if in.TavernTrades >= 5 {
		tags = append(tags, "trader")
	}
	if in.SwapVolumeUsd >= 10_000 {
		tags = append(tags, "highVolume")
	}
	sort.Strings(tags)
	return tags
}

func argmax(s Scores) string {
	values := map[string]int{
		"progression": s.Progression,
		"growth":      s.InvestmentGrowth,
		"extraction":  s.InvestmentExtraction,
		"social":      s.Social,
		"exploration": s.Exploration,
	}
	bestDim := dimensionOrder[0]
	for _, dim := range dimensionOrder[1:] {
		if values[dim] > values[bestDim] {
			bestDim = dim
		}
	}
	return bestDim
}

func best(s Scores) int {
	m := s.Progression
	for _, v := range []int{s.InvestmentGrowth, s.InvestmentExtraction, s.Social, s.Exploration} {
		if v > m {
			m = v
		}
	}
	return m
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
