package deposits

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/hedgelabs/telemetry-engine/pkg/models"
)

const hedgeAddr = "0x00000000000000000000000000000000000aaaaa"

type fakeMatcherStore struct {
	requests map[string]*models.DepositRequest
	opts     map[string]*models.GardenOptimization
	players  map[int64]models.Player
	credits  map[int64]int // player -> credit count

	completeErrs int // CompleteDeposit failures left to inject
}

func newFakeMatcherStore() *fakeMatcherStore {
	return &fakeMatcherStore{
		requests: make(map[string]*models.DepositRequest),
		opts:     make(map[string]*models.GardenOptimization),
		players:  make(map[int64]models.Player),
		credits:  make(map[int64]int),
	}
}

func (f *fakeMatcherStore) CreateDepositRequest(ctx context.Context, d models.DepositRequest) error {
	for _, r := range f.requests {
		if r.PlayerID == d.PlayerID && r.Status == models.DepositPending {
			return errors.New("pending request exists")
		}
	}
	f.requests[d.ID] = &d
	return nil
}

func (f *fakeMatcherStore) PendingDepositRequests(ctx context.Context) ([]models.DepositRequest, error) {
	var out []models.DepositRequest
	for _, r := range f.requests {
		if r.Status == models.DepositPending {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeMatcherStore) MarkDepositMatched(ctx context.Context, id, txHash string) (bool, error) {
	r := f.requests[id]
	if r == nil || r.Status != models.DepositPending {
		return false, nil
	}
	r.Status = models.DepositMatched
	r.TxHash = txHash
	return true, nil
}

func (f *fakeMatcherStore) CompleteDeposit(ctx context.Context, id string) (bool, error) {
	r := f.requests[id]
	if r == nil || r.Status != models.DepositMatched {
		return false, nil
	}
	if f.completeErrs > 0 {
		f.completeErrs--
		return false, errors.New("credit write failed")
	}
	r.Status = models.DepositCompleted
	f.credits[r.PlayerID]++
	return true, nil
}

func (f *fakeMatcherStore) MarkDepositErrored(ctx context.Context, id, msg string) error {
	f.requests[id].Status = models.DepositErrored
	f.requests[id].ErrorMessage = msg
	return nil
}

func (f *fakeMatcherStore) RetryErroredDeposits(ctx context.Context) (int64, error) {
	var n int64
	for _, r := range f.requests {
		if r.Status == models.DepositErrored && r.TxHash != "" {
			r.Status = models.DepositMatched
			n++
		}
	}
	return n, nil
}

func (f *fakeMatcherStore) MatchedDepositRequests(ctx context.Context) ([]models.DepositRequest, error) {
	var out []models.DepositRequest
	for _, r := range f.requests {
		if r.Status == models.DepositMatched && r.TxHash != "" {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeMatcherStore) ExpireStaleDeposits(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	for _, r := range f.requests {
		if r.Status == models.DepositPending && r.ExpiresAt < now.Unix() {
			r.Status = models.DepositExpired
			n++
		}
	}
	return n, nil
}

func (f *fakeMatcherStore) RecordLateDeposit(ctx context.Context, id, txHash, msg string) error {
	r := f.requests[id]
	r.Status = models.DepositExpired
	r.TxHash = txHash
	r.ErrorMessage = msg
	return nil
}

func (f *fakeMatcherStore) AnnotateDepositRequest(ctx context.Context, id, msg string) error {
	f.requests[id].ErrorMessage = msg
	return nil
}

func (f *fakeMatcherStore) GetPlayer(ctx context.Context, id int64) (models.Player, error) {
	return f.players[id], nil
}

func (f *fakeMatcherStore) CreateOptimization(ctx context.Context, o models.GardenOptimization) error {
	f.opts[o.ID] = &o
	return nil
}

func (f *fakeMatcherStore) OptimizationsAwaitingPayment(ctx context.Context) ([]models.GardenOptimization, error) {
	var out []models.GardenOptimization
	for _, o := range f.opts {
		if o.Status == models.OptAwaitingPayment {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeMatcherStore) TransitionOptimization(ctx context.Context, id, from, to, txHash string) (bool, error) {
	o := f.opts[id]
	if o == nil || o.Status != from {
		return false, nil
	}
	o.Status = to
	if txHash != "" {
		o.TxHash = txHash
	}
	return true, nil
}

func (f *fakeMatcherStore) ExpireOptimization(ctx context.Context, id, txHash string) error {
	o := f.opts[id]
	o.Status = models.OptExpired
	if txHash != "" {
		o.TxHash = txHash
	}
	return nil
}

func setupMatcher(t *testing.T) (*Matcher, *fakeMatcherStore, models.DepositRequest) {
	t.Helper()
	store := newFakeMatcherStore()
	store.players[7] = models.Player{ID: 7, Wallets: []string{"0xaa11"}}
	m := NewMatcher(store, hedgeAddr)
	req, err := m.OpenRequest(context.Background(), 7, "0xaa11", "1.2345")
	if err != nil {
		t.Fatalf("OpenRequest: %v", err)
	}
	return m, store, req
}

func transferFor(req models.DepositRequest, from string, at int64) models.TokenTransfer {
	return models.TokenTransfer{
		From:      from,
		To:        hedgeAddr,
		Amount:    req.UniqueAmount,
		TxHash:    "0xdeadbeef",
		Timestamp: at,
	}
}

func TestDepositHappyPathCreditsExactlyOnce(t *testing.T) {
	m, store, req := setupMatcher(t)
	tr := transferFor(req, "0xaa11", req.CreatedAt+3600)

	if err := m.MatchTransfer(context.Background(), tr); err != nil {
		t.Fatalf("MatchTransfer: %v", err)
	}
	if got := store.requests[req.ID].Status; got != models.DepositCompleted {
		t.Errorf("status = %q, want completed", got)
	}
	if store.credits[7] != 1 {
		t.Errorf("credits = %d, want 1", store.credits[7])
	}

	// Second invocation with the same transfer is a no-op.
	err := m.MatchTransfer(context.Background(), tr)
	if err != nil && !errors.Is(err, ErrNoMatch) {
		t.Fatalf("second MatchTransfer: %v", err)
	}
	if store.credits[7] != 1 {
		t.Errorf("credits after replay = %d, want 1", store.credits[7])
	}
}

func TestSweepCompletesCreditAfterTransientFailure(t *testing.T) {
	m, store, req := setupMatcher(t)
	store.completeErrs = 1
	tr := transferFor(req, "0xaa11", req.CreatedAt+3600)

	// The credit write fails once; the request must land in errored with its
	// tx hash intact, because the transfer log is never redelivered.
	if err := m.MatchTransfer(context.Background(), tr); err == nil {
		t.Fatal("MatchTransfer should surface the failed credit")
	}
	r := store.requests[req.ID]
	if r.Status != models.DepositErrored {
		t.Fatalf("status = %q, want errored", r.Status)
	}
	if r.TxHash != tr.TxHash {
		t.Error("errored request lost its tx hash")
	}
	if store.credits[7] != 0 {
		t.Errorf("credits = %d, want 0 before sweep", store.credits[7])
	}

	// One sweep re-queues the errored request and drains the owed credit.
	if err := m.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if r.Status != models.DepositCompleted {
		t.Errorf("status after sweep = %q, want completed", r.Status)
	}
	if store.credits[7] != 1 {
		t.Errorf("credits after sweep = %d, want 1", store.credits[7])
	}

	// Replayed transfers and further sweeps stay at one credit.
	if err := m.MatchTransfer(context.Background(), tr); err != nil && !errors.Is(err, ErrNoMatch) {
		t.Fatalf("replayed MatchTransfer: %v", err)
	}
	if err := m.Sweep(context.Background()); err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if store.credits[7] != 1 {
		t.Errorf("credits after replay = %d, want 1", store.credits[7])
	}
}

func TestDepositWrongSenderStaysPending(t *testing.T) {
	m, store, req := setupMatcher(t)
	tr := transferFor(req, "0xbb22", req.CreatedAt+3600)

	err := m.MatchTransfer(context.Background(), tr)
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("err = %v, want ErrNoMatch", err)
	}
	r := store.requests[req.ID]
	if r.Status != models.DepositPending {
		t.Errorf("status = %q, want pending", r.Status)
	}
	if r.ErrorMessage == "" {
		t.Error("mismatch left no error message")
	}
	if store.credits[7] != 0 {
		t.Errorf("credits = %d, want 0", store.credits[7])
	}
}

func TestDepositLateTransferNeverCredits(t *testing.T) {
	m, store, req := setupMatcher(t)
	tr := transferFor(req, "0xaa11", req.ExpiresAt+60)

	err := m.MatchTransfer(context.Background(), tr)
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("err = %v, want ErrNoMatch", err)
	}
	r := store.requests[req.ID]
	if r.Status != models.DepositExpired {
		t.Errorf("status = %q, want expired", r.Status)
	}
	if r.TxHash != tr.TxHash {
		t.Error("late tx hash not preserved")
	}
	if store.credits[7] != 0 {
		t.Errorf("credits = %d, want 0", store.credits[7])
	}
}

func TestDepositWrongAmountIgnored(t *testing.T) {
	m, store, req := setupMatcher(t)
	tr := transferFor(req, "0xaa11", req.CreatedAt+3600)
	tr.Amount = "999.0"

	if err := m.MatchTransfer(context.Background(), tr); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("err = %v, want ErrNoMatch", err)
	}
	if got := store.requests[req.ID].Status; got != models.DepositPending {
		t.Errorf("status = %q, want pending", got)
	}
}

func TestOptimizationPaymentVerified(t *testing.T) {
	m, store, _ := setupMatcher(t)
	opt, err := m.OpenOptimization(context.Background(), 7, "0xaa11", "5.0")
	if err != nil {
		t.Fatalf("OpenOptimization: %v", err)
	}

	tr := models.TokenTransfer{
		From: "0xaa11", To: hedgeAddr,
		Amount: opt.UniqueAmount, TxHash: "0xf00d",
		Timestamp: opt.CreatedAt + 60,
	}
	if err := m.MatchTransfer(context.Background(), tr); err != nil {
		t.Fatalf("MatchTransfer: %v", err)
	}
	o := store.opts[opt.ID]
	if o.Status != models.OptPaymentVerified {
		t.Errorf("status = %q, want payment_verified", o.Status)
	}
	if o.TxHash != "0xf00d" {
		t.Error("tx hash not recorded")
	}
}

func TestOptimizationLatePaymentExpires(t *testing.T) {
	m, store, _ := setupMatcher(t)
	opt, err := m.OpenOptimization(context.Background(), 7, "0xaa11", "5.0")
	if err != nil {
		t.Fatalf("OpenOptimization: %v", err)
	}

	tr := models.TokenTransfer{
		From: "0xaa11", To: hedgeAddr,
		Amount: opt.UniqueAmount, TxHash: "0xf00d",
		Timestamp: opt.ExpiresAt + 60,
	}
	if err := m.MatchTransfer(context.Background(), tr); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("err = %v, want ErrNoMatch", err)
	}
	o := store.opts[opt.ID]
	if o.Status != models.OptExpired {
		t.Errorf("status = %q, want expired", o.Status)
	}
	if o.TxHash != "0xf00d" {
		t.Error("late tx hash not preserved for audit")
	}
}

func TestJitterAmountShape(t *testing.T) {
	got, err := jitterAmount("1.2345")
	if err != nil {
		t.Fatalf("jitterAmount: %v", err)
	}
	if !strings.HasPrefix(got, "1.2345") {
		t.Errorf("jittered %q lost the base amount", got)
	}
	if len(got) != len("1.2345")+4 {
		t.Errorf("jittered %q should add exactly four digits", got)
	}
}

func TestAmountsEqualNumeric(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"1.2345", "1.2345", true},
		{"1.20", "1.2", true},
		{"1.2345", "1.2346", false},
		{"5", "5.0", true},
		{"abc", "1", false},
	}
	for _, tc := range cases {
		if got := amountsEqual(tc.a, tc.b); got != tc.want {
			t.Errorf("amountsEqual(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestWeiToDecimal(t *testing.T) {
	cases := []struct {
		wei      string
		decimals uint8
		want     string
	}{
		{"1234500000000000000", 18, "1.2345"},
		{"1000000000000000000", 18, "1"},
		{"1", 18, "0.000000000000000001"},
		{"1500000", 6, "1.5"},
		{"0", 18, "0"},
	}
	for _, tc := range cases {
		v, _ := new(big.Int).SetString(tc.wei, 10)
		if got := weiToDecimal(v, tc.decimals); got != tc.want {
			t.Errorf("weiToDecimal(%s, %d) = %q, want %q", tc.wei, tc.decimals, got, tc.want)
		}
	}
}
