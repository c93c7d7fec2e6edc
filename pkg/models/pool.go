package models

// Pool is the cached metadata for one staking-contract pool slot.
// Immutable fields are resolved once on discovery; AllocPoint and
// TotalStakedV2 are refreshed per analytics request.
type Pool struct {
	Pid           int    `json:"pid"`
	LpToken       string `json:"lpToken"`
	Token0        string `json:"token0"`
	Token1        string `json:"token1"`
	Decimals0     uint8  `json:"decimals0"`
	Decimals1     uint8  `json:"decimals1"`
	Symbol0       string `json:"symbol0"`
	Symbol1       string `json:"symbol1"`
	Reserve0      string `json:"reserve0"` // wei
	Reserve1      string `json:"reserve1"` // wei
	TotalSupply   string `json:"totalSupply"` // LP token total supply, wei
	AllocPoint    int64  `json:"allocPoint"`
	TotalStakedV2 string `json:"totalStakedV2"` // wei
}

// PoolDailyAggregate is the once-per-UTC-day economic rollup for a pool.
// Unique on (Pid, Date). A fully indexed day's row is a pure function of
// the swap/reward rows it covers and the day-end price snapshot.
type PoolDailyAggregate struct {
	Pid              int     `json:"pid"`
	Date             string  `json:"date"` // YYYY-MM-DD, UTC day
	VolumeUsd        float64 `json:"volumeUsd"`
	FeesUsd          float64 `json:"feesUsd"`
	RewardsToken     string  `json:"rewardsToken"` // wei
	RewardsUsd       float64 `json:"rewardsUsd"`
	TvlUsd           float64 `json:"tvlUsd"`
	TvlV2Usd         float64 `json:"tvlV2Usd"`
	FeeApr           float64 `json:"feeApr"`
	HarvestApr       float64 `json:"harvestApr"`
	TotalApr         float64 `json:"totalApr"`
	SwapCount        int     `json:"swapCount"`
	RewardEventCount int     `json:"rewardEventCount"`
}

// PoolAnalytics is the assembled read-model served to the bot and SPA.
type PoolAnalytics struct {
	Pool       Pool    `json:"pool"`
	PairName   string  `json:"pairName"`
	TvlUsd     float64 `json:"tvlUsd"`
	VolumeUsd  float64 `json:"volumeUsd24h"`
	FeesUsd    float64 `json:"feesUsd24h"`
	RewardsUsd float64 `json:"rewardsUsd24h"`
	FeeApr     float64 `json:"feeApr"`
	HarvestApr float64 `json:"harvestApr"`
	TotalApr   float64 `json:"totalApr"`
	Source     string  `json:"source"`  // aggregate|live
	Partial    bool    `json:"partial"` // deadline hit before every field resolved
}
