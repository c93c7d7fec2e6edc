package models

// Raw on-chain amounts are carried as decimal strings (wei-scale integers).
// They are parsed into big.Int for arithmetic and only become float64 at the
// USD presentation edge. Never compare or hash amounts as floats.

// SwapEvent is one AMM Swap log, normalized. Unique on (TxHash, LogIndex).
type SwapEvent struct {
	Pid         int     `json:"pid"`
	Pair        string  `json:"pair"` // LP pair contract, lowercase hex
	Sender      string  `json:"sender"`
	Amount0In   string  `json:"amount0In"`
	Amount1In   string  `json:"amount1In"`
	Amount0Out  string  `json:"amount0Out"`
	Amount1Out  string  `json:"amount1Out"`
	VolumeUsd   float64 `json:"volumeUsd"` // derived at ingest from the day's price graph
	BlockNumber uint64  `json:"blockNumber"`
	TxHash      string  `json:"txHash"`
	LogIndex    uint    `json:"logIndex"`
	Timestamp   int64   `json:"timestamp"` // block timestamp, unix seconds UTC
}

// RewardEvent is one RewardCollected log from the staking contract.
type RewardEvent struct {
	Pid         int    `json:"pid"`
	Wallet      string `json:"wallet"`
	Amount      string `json:"amount"` // reward token, wei
	BlockNumber uint64 `json:"blockNumber"`
	TxHash      string `json:"txHash"`
	LogIndex    uint   `json:"logIndex"`
	Timestamp   int64  `json:"timestamp"`
}

// StakeEvent is a Deposit or Withdraw log on the staking contract.
type StakeEvent struct {
	Pid         int    `json:"pid"`
	Wallet      string `json:"wallet"`
	Kind        string `json:"kind"` // deposit|withdraw
	Amount      string `json:"amount"` // LP token, wei
	BlockNumber uint64 `json:"blockNumber"`
	TxHash      string `json:"txHash"`
	LogIndex    uint   `json:"logIndex"`
	Timestamp   int64  `json:"timestamp"`
}

// StakerPosition is the running LP balance per (wallet, pid).
// Last-writer-wins; periodically reconciled against on-chain userInfo.
type StakerPosition struct {
	Wallet            string `json:"wallet"`
	Pid               int    `json:"pid"`
	StakedLp          string `json:"stakedLp"` // wei
	LastActivityType  string `json:"lastActivityType"`
	LastActivityBlock uint64 `json:"lastActivityBlock"`
	LastActivityTx    string `json:"lastActivityTx"`
	UpdatedAt         int64  `json:"updatedAt"`
}

// Bridge event taxonomy.
const (
	BridgeTypeItem      = "item"
	BridgeTypeHero      = "hero"
	BridgeTypeEquipment = "equipment"
	BridgeTypePet       = "pet"

	BridgeDirectionIn  = "in"
	BridgeDirectionOut = "out"
)

// BridgeEvent is one Synapse-style bridge crossing.
// Unique on (TxHash, Wallet, BridgeType).
type BridgeEvent struct {
	Wallet      string  `json:"wallet"`
	BridgeType  string  `json:"bridgeType"`
	Direction   string  `json:"direction"`
	Token       string  `json:"token,omitempty"`
	Amount      string  `json:"amount,omitempty"` // wei, token bridges only
	AssetID     string  `json:"assetId,omitempty"` // hero/equipment/pet id
	UsdValue    float64 `json:"usdValue"`
	Priced      bool    `json:"priced"` // false when no USD price could be resolved
	SrcChainID  int64   `json:"srcChainId"`
	DstChainID  int64   `json:"dstChainId"`
	BlockNumber uint64  `json:"blockNumber"`
	TxHash      string  `json:"txHash"`
	Timestamp   int64   `json:"timestamp"`
}

// WalletBridgeMetrics is the idempotent rollup of a wallet's bridge history.
type WalletBridgeMetrics struct {
	Wallet             string             `json:"wallet"`
	BridgedInUsd       float64            `json:"bridgedInUsd"`
	BridgedOutUsd      float64            `json:"bridgedOutUsd"`
	NetExtractedUsd    float64            `json:"netExtractedUsd"`
	ByTokenIn          map[string]float64 `json:"byTokenIn"`
	ByTokenOut         map[string]float64 `json:"byTokenOut"`
	HeroesIn           int                `json:"heroesIn"`
	HeroesOut          int                `json:"heroesOut"`
	LastProcessedBlock uint64             `json:"lastProcessedBlock"`
	ExtractorScore     int                `json:"extractorScore"`
	ExtractorFlags     []string           `json:"extractorFlags"`
}

// HuntEvent records a hunt or patrol drop, with the party-luck stat at the
// time of the encounter.
type HuntEvent struct {
	ChainID     int64  `json:"chainId"`
	Wallet      string `json:"wallet"`
	HuntType    string `json:"huntType"` // hunt|patrol
	DropItem    string `json:"dropItem"`
	DropAmount  string `json:"dropAmount"`
	PartyLuck   int    `json:"partyLuck"`
	BlockNumber uint64 `json:"blockNumber"`
	TxHash      string `json:"txHash"`
	LogIndex    uint   `json:"logIndex"`
	Timestamp   int64  `json:"timestamp"`
}

// TournamentPlacement records one hero's tournament outcome.
type TournamentPlacement struct {
	TournamentID int64  `json:"tournamentId"`
	Wallet       string `json:"wallet"`
	HeroID       string `json:"heroId"`
	Placement    int    `json:"placement"`
	BlockNumber  uint64 `json:"blockNumber"`
	TxHash       string `json:"txHash"`
	LogIndex     uint   `json:"logIndex"`
	Timestamp    int64  `json:"timestamp"`
}

// HeroTournamentSnapshot freezes a hero's combat-relevant stats at
// participation time so later level-ups do not rewrite history.
type HeroTournamentSnapshot struct {
	TournamentID int64  `json:"tournamentId"`
	HeroID       string `json:"heroId"`
	Level        int    `json:"level"`
	MainClass    string `json:"mainClass"`
	SubClass     string `json:"subClass"`
	Strength     int    `json:"strength"`
	Agility      int    `json:"agility"`
	Endurance    int    `json:"endurance"`
	Wisdom       int    `json:"wisdom"`
	Luck         int    `json:"luck"`
}

// Tavern listing outcome classification, derived by diffing consecutive
// hourly snapshots.
const (
	ListingStillListed = "still-listed"
	ListingSold        = "sold"
	ListingDelisted    = "delisted"
)

// TavernListing is one hero listed for sale at snapshot time.
type TavernListing struct {
	SnapshotID int64  `json:"snapshotId"`
	HeroID     string `json:"heroId"`
	Seller     string `json:"seller"`
	PriceWei   string `json:"priceWei"`
	Generation int    `json:"generation"`
	Rarity     int    `json:"rarity"`
	Level      int    `json:"level"`
	TakenAt    int64  `json:"takenAt"`
}

// TavernOutcome classifies what happened to a previously observed listing.
type TavernOutcome struct {
	HeroID   string `json:"heroId"`
	Outcome  string `json:"outcome"` // still-listed|sold|delisted
	PriceWei string `json:"priceWei"`
	ListedAt int64  `json:"listedAt"`
	ClosedAt int64  `json:"closedAt"`
}

// Pricing status for tokens the bridge indexer could not value.
const (
	PricingPending     = "pending"
	PricingResolved    = "resolved"
	PricingUnpriceable = "unpriceable"
)

// UnpricedToken catalogs tokens seen in bridge flows without a USD price.
type UnpricedToken struct {
	Address   string `json:"address"`
	Symbol    string `json:"symbol"`
	FirstSeen int64  `json:"firstSeen"`
	Status    string `json:"status"`
}
