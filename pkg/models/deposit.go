package models

// Deposit request lifecycle. Transitions are one-way on the success path;
// errored requests are retried but never silently revert.
const (
	DepositPending   = "pending"
	DepositMatched   = "matched"
	DepositCompleted = "completed"
	DepositExpired   = "expired"
	DepositErrored   = "errored"
)

// DepositRequest is one outstanding top-up a player has initiated.
// At most one pending request per player; UniqueAmount carries a jittered
// sub-unit suffix so (sender, amount) is collision-resistant inside the
// active window.
type DepositRequest struct {
	ID           string  `json:"id"` // uuid
	PlayerID     int64   `json:"playerId"`
	Wallet       string  `json:"wallet"`
	UniqueAmount string  `json:"uniqueAmount"` // decimal string, token units
	Status       string  `json:"status"`
	TxHash       string  `json:"txHash,omitempty"`
	ErrorMessage string  `json:"errorMessage,omitempty"`
	CreatedAt    int64   `json:"createdAt"`
	ExpiresAt    int64   `json:"expiresAt"`
	UpdatedAt    int64   `json:"updatedAt"`
}

// Garden-optimization payment lifecycle. A payment landing after ExpiresAt
// marks the optimization expired; the tx hash is preserved for audit.
const (
	OptAwaitingPayment = "awaiting_payment"
	OptPaymentVerified = "payment_verified"
	OptProcessing      = "processing"
	OptCompleted       = "completed"
	OptFailed          = "failed"
	OptExpired         = "expired"
)

// GardenOptimization is one paid optimization run.
type GardenOptimization struct {
	ID           string `json:"id"` // uuid
	PlayerID     int64  `json:"playerId"`
	Wallet       string `json:"wallet"`
	UniqueAmount string `json:"uniqueAmount"`
	Status       string `json:"status"`
	TxHash       string `json:"txHash,omitempty"`
	ResultData   string `json:"resultData,omitempty"` // tagged JSON blob
	CreatedAt    int64  `json:"createdAt"`
	ExpiresAt    int64  `json:"expiresAt"`
	UpdatedAt    int64  `json:"updatedAt"`
}

// TokenTransfer is a normalized ERC-20 Transfer observed by the deposit
// monitor. Amount is in token units (decimal string), not wei, because the
// matching rule compares against the user-facing unique amount.
type TokenTransfer struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Amount      string `json:"amount"`
	TxHash      string `json:"txHash"`
	BlockNumber uint64 `json:"blockNumber"`
	Timestamp   int64  `json:"timestamp"`
}
