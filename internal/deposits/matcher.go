package deposits

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hedgelabs/telemetry-engine/internal/metrics"
	"github.com/hedgelabs/telemetry-engine/pkg/models"
)

// ErrNoMatch marks a transfer that matched no open request. Callers treat it
// as informational, not a failure.
var ErrNoMatch = errors.New("transfer matches no open deposit request")

// depositWindow is how long a request stays matchable.
const depositWindow = 24 * time.Hour

// MatcherStore is the persistence slice the matcher drives.
type MatcherStore interface {
	CreateDepositRequest(ctx context.Context, d models.DepositRequest) error
	PendingDepositRequests(ctx context.Context) ([]models.DepositRequest, error)
	MarkDepositMatched(ctx context.Context, id, txHash string) (bool, error)
	CompleteDeposit(ctx context.Context, id string) (bool, error)
	MarkDepositErrored(ctx context.Context, id, msg string) error
	RetryErroredDeposits(ctx context.Context) (int64, error)
	MatchedDepositRequests(ctx context.Context) ([]models.DepositRequest, error)
	ExpireStaleDeposits(ctx context.Context, now time.Time) (int64, error)
	RecordLateDeposit(ctx context.Context, id, txHash, msg string) error
	AnnotateDepositRequest(ctx context.Context, id, msg string) error
	GetPlayer(ctx context.Context, id int64) (models.Player, error)

	CreateOptimization(ctx context.Context, o models.GardenOptimization) error
	OptimizationsAwaitingPayment(ctx context.Context) ([]models.GardenOptimization, error)
	TransitionOptimization(ctx context.Context, id, from, to, txHash string) (bool, error)
	ExpireOptimization(ctx context.Context, id, txHash string) error
}

// Matcher reconciles observed transfers against open deposit requests.
type Matcher struct {
	store       MatcherStore
	depositAddr string
}

func NewMatcher(store MatcherStore, depositAddr string) *Matcher {
	return &Matcher{store: store, depositAddr: strings.ToLower(depositAddr)}
}

// OpenRequest creates a pending request with a jittered unique amount.
// The store's one-pending-per-player constraint rejects a second open
// request.
func (m *Matcher) OpenRequest(ctx context.Context, playerID int64, wallet string, baseAmount string) (models.DepositRequest, error) {
	unique, err := jitterAmount(baseAmount)
	if err != nil {
		return models.DepositRequest{}, err
	}
	now := time.Now()
	req := models.DepositRequest{
		ID:           uuid.NewString(),
		PlayerID:     playerID,
		Wallet:       strings.ToLower(wallet),
		UniqueAmount: unique,
		Status:       models.DepositPending,
		CreatedAt:    now.Unix(),
		ExpiresAt:    now.Add(depositWindow).Unix(),
	}
	if err := m.store.CreateDepositRequest(ctx, req); err != nil {
		return models.DepositRequest{}, err
	}
	log.Printf("[DepositMatcher] Opened request %s for player %d, amount %s", req.ID, playerID, unique)
	return req, nil
}

// jitterAmount appends a random sub-unit suffix so concurrent deposits of
// the same base amount stay distinguishable. Four random digits in the
// 5th-8th decimal places.
func jitterAmount(base string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		return "", fmt.Errorf("jitter: %w", err)
	}
	suffix := n.Int64() + 1000

	whole, frac, _ := strings.Cut(base, ".")
	for len(frac) < 4 {
		frac += "0"
	}
	if len(frac) > 4 {
		frac = frac[:4]
	}
	return fmt.Sprintf("%s.%s%04d", whole, frac, suffix), nil
}

// MatchTransfer tests one observed transfer against the open requests and
// drives any match through matched→completed. Mismatches are logged against
// the nearest candidate request and never credit.
func (m *Matcher) MatchTransfer(ctx context.Context, tr models.TokenTransfer) error {
	if strings.ToLower(tr.To) != m.depositAddr {
		return ErrNoMatch
	}

	pending, err := m.store.PendingDepositRequests(ctx)
	if err != nil {
		return err
	}

	for _, req := range pending {
		if !amountsEqual(tr.Amount, req.UniqueAmount) {
			continue
		}
		player, err := m.store.GetPlayer(ctx, req.PlayerID)
		if err != nil {
			return err
		}
		if !walletOf(player, tr.From) {
			// Right amount, wrong sender: tie the tx to the request for the
			// operator, leave it pending for the real transfer.
			msg := fmt.Sprintf("transfer %s from unlinked wallet %s", tr.TxHash, strings.ToLower(tr.From))
			if err := m.store.AnnotateDepositRequest(ctx, req.ID, msg); err != nil {
				return err
			}
			log.Printf("[DepositMatcher] %s (request %s)", msg, req.ID)
			return ErrNoMatch
		}
		if tr.Timestamp < req.CreatedAt || tr.Timestamp > req.ExpiresAt {
			msg := fmt.Sprintf("transfer %s arrived outside the deposit window", tr.TxHash)
			if err := m.store.RecordLateDeposit(ctx, req.ID, tr.TxHash, msg); err != nil {
				return err
			}
			log.Printf("[DepositMatcher] %s (request %s)", msg, req.ID)
			return ErrNoMatch
		}

		return m.settle(ctx, req, tr)
	}
	return m.matchOptimization(ctx, tr)
}

// OpenOptimization creates a garden-optimization run awaiting its payment.
func (m *Matcher) OpenOptimization(ctx context.Context, playerID int64, wallet, baseAmount string) (models.GardenOptimization, error) {
	unique, err := jitterAmount(baseAmount)
	if err != nil {
		return models.GardenOptimization{}, err
	}
	now := time.Now()
	opt := models.GardenOptimization{
		ID:           uuid.NewString(),
		PlayerID:     playerID,
		Wallet:       strings.ToLower(wallet),
		UniqueAmount: unique,
		Status:       models.OptAwaitingPayment,
		CreatedAt:    now.Unix(),
		ExpiresAt:    now.Add(depositWindow).Unix(),
	}
	if err := m.store.CreateOptimization(ctx, opt); err != nil {
		return models.GardenOptimization{}, err
	}
	log.Printf("[DepositMatcher] Opened optimization %s for player %d, amount %s", opt.ID, playerID, unique)
	return opt, nil
}

// matchOptimization tests a transfer against runs awaiting payment. A late
// payment expires the run but keeps the tx hash for audit.
func (m *Matcher) matchOptimization(ctx context.Context, tr models.TokenTransfer) error {
	open, err := m.store.OptimizationsAwaitingPayment(ctx)
	if err != nil {
		return err
	}
	for _, opt := range open {
		if !amountsEqual(tr.Amount, opt.UniqueAmount) {
			continue
		}
		player, err := m.store.GetPlayer(ctx, opt.PlayerID)
		if err != nil {
			return err
		}
		if !walletOf(player, tr.From) {
			log.Printf("[DepositMatcher] Optimization %s: payment %s from unlinked wallet %s",
				opt.ID, tr.TxHash, strings.ToLower(tr.From))
			return ErrNoMatch
		}
		if tr.Timestamp > opt.ExpiresAt {
			if err := m.store.ExpireOptimization(ctx, opt.ID, tr.TxHash); err != nil {
				return err
			}
			log.Printf("[DepositMatcher] Optimization %s: payment %s arrived late, expired", opt.ID, tr.TxHash)
			return ErrNoMatch
		}

		ok, err := m.store.TransitionOptimization(ctx, opt.ID,
			models.OptAwaitingPayment, models.OptPaymentVerified, tr.TxHash)
		if err != nil {
			return err
		}
		if ok {
			log.Printf("[DepositMatcher] Optimization %s payment verified (tx %s)", opt.ID, tr.TxHash)
		}
		return nil
	}
	return ErrNoMatch
}

// settle drives pending→matched→completed. Each step is a guarded state
// transition, so a racing second invocation no-ops instead of double
// crediting.
func (m *Matcher) settle(ctx context.Context, req models.DepositRequest, tr models.TokenTransfer) error {
	matched, err := m.store.MarkDepositMatched(ctx, req.ID, tr.TxHash)
	if err != nil {
		return err
	}
	if !matched {
		log.Printf("[DepositMatcher] Request %s already claimed, skipping", req.ID)
		return nil
	}

	return m.credit(ctx, req, tr.TxHash)
}

// credit drives matched→completed. On a failed credit the request is marked
// errored; the sweep re-queues it and retries through this same path.
func (m *Matcher) credit(ctx context.Context, req models.DepositRequest, txHash string) error {
	credited, err := m.store.CompleteDeposit(ctx, req.ID)
	if err != nil {
		if markErr := m.store.MarkDepositErrored(ctx, req.ID, err.Error()); markErr != nil {
			log.Printf("[DepositMatcher] Failed to mark request %s errored: %v", req.ID, markErr)
		}
		return fmt.Errorf("complete deposit %s: %w", req.ID, err)
	}
	if credited {
		metrics.DepositMatches.Inc()
		log.Printf("[DepositMatcher] Request %s completed, credited %s to player %d (tx %s)",
			req.ID, req.UniqueAmount, req.PlayerID, txHash)
	}
	return nil
}

// Sweep expires stale requests, re-queues errored credits and drains any
// matched request still owing its credit. The transfer log is never
// redelivered once checkpointed, so this is the only path that completes a
// request whose first credit attempt failed.
func (m *Matcher) Sweep(ctx context.Context) error {
	expired, err := m.store.ExpireStaleDeposits(ctx, time.Now())
	if err != nil {
		return err
	}
	if expired > 0 {
		log.Printf("[DepositMatcher] Expired %d stale requests", expired)
	}
	retried, err := m.store.RetryErroredDeposits(ctx)
	if err != nil {
		return err
	}
	if retried > 0 {
		log.Printf("[DepositMatcher] Re-queued %d errored credits", retried)
	}

	matched, err := m.store.MatchedDepositRequests(ctx)
	if err != nil {
		return err
	}
	for _, req := range matched {
		if err := m.credit(ctx, req, req.TxHash); err != nil {
			log.Printf("[DepositMatcher] Credit retry failed for request %s: %v", req.ID, err)
		}
	}
	return nil
}

// amountsEqual compares decimal amount strings numerically so "1.20" and
// "1.2" match. Never float math.
func amountsEqual(a, b string) bool {
	ra, okA := new(big.Rat).SetString(a)
	rb, okB := new(big.Rat).SetString(b)
	if !okA || !okB {
		return false
	}
	return ra.Cmp(rb) == 0
}

func walletOf(p models.Player, addr string) bool {
	addr = strings.ToLower(addr)
	for _, w := range p.Wallets {
		if w == addr {
			return true
		}
	}
	return false
}
