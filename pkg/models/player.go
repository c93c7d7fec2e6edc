package models

// Player tiers, ordered. Tier gates which analytics fields a route returns.
const (
	TierFree   = "free"
	TierBronze = "bronze"
	TierSilver = "silver"
	TierGold   = "gold"
	TierWhale  = "whale"
)

// ValidTiers is the closed set accepted by the admin tier PATCH route.
var ValidTiers = map[string]bool{
	TierFree: true, TierBronze: true, TierSilver: true, TierGold: true, TierWhale: true,
}

// Engagement states, ordered by commitment.
const (
	StateVisitor     = "visitor"
	StateExplorer    = "explorer"
	StateParticipant = "participant"
	StatePlayer      = "player"
	StateActive      = "active"
	StateCommitted   = "committed"
)

// Player is the Discord-identified account. Wallets hang off the player's
// cluster, not off the player row itself.
type Player struct {
	ID            int64    `json:"id"`
	DiscordID     string   `json:"discordId"`
	Username      string   `json:"username"`
	ClusterKey    string   `json:"clusterKey,omitempty"`
	Wallets       []string `json:"wallets"`
	PrimaryWallet string   `json:"primaryWallet,omitempty"`
	Tier          string   `json:"tier"`
	State         string   `json:"state"`
	Archetype     string   `json:"archetype,omitempty"`
	Flags         []string `json:"flags"`
	ProfileData   string   `json:"profileData,omitempty"` // tagged JSON blob, schema-versioned
	FirstSeenAt   int64    `json:"firstSeenAt"`
	UpdatedAt     int64    `json:"updatedAt"`
}

// WalletLink binds one chain address to a cluster. An address may be active
// in at most one cluster across the whole store.
type WalletLink struct {
	ClusterKey string `json:"clusterKey"`
	Chain      string `json:"chain"`
	Address    string `json:"address"` // lowercase hex
	IsPrimary  bool   `json:"isPrimary"`
	IsActive   bool   `json:"isActive"`
}

// PlayerSettings are the per-user notification toggles.
type PlayerSettings struct {
	NotifyOnAprDrop         bool `json:"notifyOnAprDrop"`
	NotifyOnNewOptimization bool `json:"notifyOnNewOptimization"`
}

// WalletActivity is the trailing-30-day on-chain activity rollup for one
// wallet, consumed by the classification engine.
type WalletActivity struct {
	Wallet          string  `json:"wallet"`
	SwapCount       int     `json:"swapCount"`
	SwapVolumeUsd   float64 `json:"swapVolumeUsd"`
	RewardClaims    int     `json:"rewardClaims"`
	HuntCount       int     `json:"huntCount"`
	TournamentCount int     `json:"tournamentCount"`
	TavernTrades    int     `json:"tavernTrades"`
	BridgeCrossings int     `json:"bridgeCrossings"`
}

// QueryCost is one metered bot query, feeding the query-breakdown endpoint.
type QueryCost struct {
	PlayerID  int64   `json:"playerId"`
	QueryType string  `json:"queryType"`
	CostJewel float64 `json:"costJewel"`
	CreatedAt int64   `json:"createdAt"`
}
