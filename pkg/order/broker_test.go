package order

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/pslog"

	"github.com/skygate-io/skygate/pkg/budget"
	"github.com/skygate-io/skygate/pkg/clock"
	"github.com/skygate-io/skygate/pkg/models"
	"github.com/skygate-io/skygate/pkg/token"
)

type fakeCatalog struct {
	mu       sync.Mutex
	price    models.Cents
	quoteErr error
	orderErr error
	orders   int
}

func (f *fakeCatalog) QuoteArchive(ctx context.Context, apiKey string, spec models.OrderSpec) (models.Cents, string, error) {
	if f.quoteErr != nil {
		return 0, "", f.quoteErr
	}
	return f.price, "USD", nil
}

func (f *fakeCatalog) OrderArchive(ctx context.Context, apiKey string, spec models.OrderSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.orderErr != nil {
		return "", f.orderErr
	}
	f.orders++
	return "ord-123", nil
}

func (f *fakeCatalog) placed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders
}

type fakeCreds map[string]string

func (f fakeCreds) Credential(sessionID string) (string, bool) {
	key, ok := f[sessionID]
	return key, ok
}

type fakeRecorder struct {
	mu   sync.Mutex
	recs []models.OrderRecord
}

func (f *fakeRecorder) Record(ctx context.Context, rec models.OrderRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
	return nil
}

type fixture struct {
	broker  *Broker
	catalog *fakeCatalog
	guard   *budget.Guard
	store   *token.Store
	clk     *clock.Manual
	rec     *fakeRecorder
}

func newFixture(t *testing.T, limits budget.Limits, enabled bool) *fixture {
	t.Helper()
	clk := clock.NewManual(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	store := token.NewStore(clk, pslog.NoopLogger(), nil)
	guard := budget.NewGuard(limits, clk, pslog.NoopLogger(), nil)
	cat := &fakeCatalog{price: models.CentsFromDollars(12.50)}
	rec := &fakeRecorder{}
	creds := fakeCreds{"sess-1": "sk-live"}
	b := NewBroker(store, guard, cat, creds, rec, clk, pslog.NoopLogger(), nil, 5*time.Minute, enabled)
	return &fixture{broker: b, catalog: cat, guard: guard, store: store, clk: clk, rec: rec}
}

func defaultLimits() budget.Limits {
	return budget.Limits{
		PerOrder: models.CentsFromDollars(20),
		Session:  models.CentsFromDollars(40),
		Daily:    models.CentsFromDollars(40),
	}
}

func spec() models.OrderSpec {
	return models.OrderSpec{ArchiveID: "arch-1", AOI: "POLYGON((0 0,1 0,1 1,0 0))"}
}

func TestPrepareIssuesTokenAndCode(t *testing.T) {
	f := newFixture(t, defaultLimits(), true)

	prep, err := f.broker.Prepare(context.Background(), "sess-1", spec())
	if err != nil {
		t.Fatal(err)
	}
	if prep.TokenID == "" {
		t.Error("expected a token id")
	}
	if !strings.HasPrefix(prep.Code, "CONFIRM-") || len(prep.Code) != len("CONFIRM-")+6 {
		t.Errorf("unexpected code format: %s", prep.Code)
	}
	if prep.Quote.Price != models.CentsFromDollars(12.50) {
		t.Errorf("price = %s", prep.Quote.Price)
	}
	if got := f.guard.DailySpent(); got != 0 {
		t.Errorf("prepare moved the ledger: %s", got)
	}
	if f.catalog.placed() != 0 {
		t.Error("prepare must not place orders")
	}
}

func TestPrepareRequiresOrderingEnabled(t *testing.T) {
	f := newFixture(t, defaultLimits(), false)

	if _, err := f.broker.Prepare(context.Background(), "sess-1", spec()); !errors.Is(err, ErrOrderingDisabled) {
		t.Errorf("expected ErrOrderingDisabled, got %v", err)
	}
}

func TestPrepareRequiresAuthentication(t *testing.T) {
	f := newFixture(t, defaultLimits(), true)

	if _, err := f.broker.Prepare(context.Background(), "sess-anon", spec()); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestConfirmPlacesOrderAndCommitsSpend(t *testing.T) {
	f := newFixture(t, defaultLimits(), true)

	prep, err := f.broker.Prepare(context.Background(), "sess-1", spec())
	if err != nil {
		t.Fatal(err)
	}

	ref, err := f.broker.Confirm(context.Background(), prep.TokenID, prep.Code)
	if err != nil {
		t.Fatal(err)
	}
	if ref != "ord-123" {
		t.Errorf("ref = %s", ref)
	}
	if got := f.guard.DailySpent(); got != models.CentsFromDollars(12.50) {
		t.Errorf("daily spent = %s, want $12.50", got)
	}
	if st, _ := f.store.Peek(prep.TokenID); st != token.StatusRedeemed {
		t.Errorf("token status = %s, want redeemed", st)
	}

	f.rec.mu.Lock()
	defer f.rec.mu.Unlock()
	if len(f.rec.recs) != 1 || f.rec.recs[0].OrderRef != "ord-123" {
		t.Errorf("history = %+v", f.rec.recs)
	}
}

func TestConfirmWrongCodeLeavesTokenPending(t *testing.T) {
	f := newFixture(t, defaultLimits(), true)

	prep, _ := f.broker.Prepare(context.Background(), "sess-1", spec())

	if _, err := f.broker.Confirm(context.Background(), prep.TokenID, "CONFIRM-WRONG0"); !errors.Is(err, ErrCodeMismatch) {
		t.Fatalf("expected ErrCodeMismatch, got %v", err)
	}
	if got := f.guard.DailySpent(); got != 0 {
		t.Errorf("mismatch moved the ledger: %s", got)
	}
	if st, _ := f.store.Peek(prep.TokenID); st != token.StatusPending {
		t.Fatalf("token status = %s, want pending", st)
	}

	// The corrected code still works on the same token.
	if _, err := f.broker.Confirm(context.Background(), prep.TokenID, prep.Code); err != nil {
		t.Errorf("expected corrected confirm to succeed, got %v", err)
	}
}

func TestConfirmReplayFails(t *testing.T) {
	f := newFixture(t, defaultLimits(), true)

	prep, _ := f.broker.Prepare(context.Background(), "sess-1", spec())
	if _, err := f.broker.Confirm(context.Background(), prep.TokenID, prep.Code); err != nil {
		t.Fatal(err)
	}

	if _, err := f.broker.Confirm(context.Background(), prep.TokenID, prep.Code); !errors.Is(err, token.ErrAlreadyUsed) {
		t.Errorf("expected ErrAlreadyUsed, got %v", err)
	}
	if f.catalog.placed() != 1 {
		t.Errorf("orders placed = %d, want 1", f.catalog.placed())
	}
	if got := f.guard.DailySpent(); got != models.CentsFromDollars(12.50) {
		t.Errorf("daily spent = %s, want $12.50", got)
	}
}

func TestConcurrentConfirmPlacesExactlyOneOrder(t *testing.T) {
	f := newFixture(t, defaultLimits(), true)

	prep, _ := f.broker.Prepare(context.Background(), "sess-1", spec())

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		replays int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.broker.Confirm(context.Background(), prep.TokenID, prep.Code)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, token.ErrAlreadyUsed):
				replays++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins != 1 || replays != workers-1 {
		t.Errorf("wins = %d, replays = %d", wins, replays)
	}
	if f.catalog.placed() != 1 {
		t.Errorf("orders placed = %d, want 1", f.catalog.placed())
	}
	if got := f.guard.DailySpent(); got != models.CentsFromDollars(12.50) {
		t.Errorf("daily spent = %s, want $12.50", got)
	}
}

func TestConfirmBudgetRejectionLeavesEverythingUntouched(t *testing.T) {
	f := newFixture(t, defaultLimits(), true)

	// $35 already committed today; a $10 order would cross the $40 ceiling.
	if err := f.guard.Reserve("other-session", models.CentsFromDollars(35)); err != nil {
		t.Fatal(err)
	}
	f.catalog.price = models.CentsFromDollars(10)

	prep, _ := f.broker.Prepare(context.Background(), "sess-1", spec())
	_, err := f.broker.Confirm(context.Background(), prep.TokenID, prep.Code)
	if !errors.Is(err, budget.ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}
	if got := f.guard.DailySpent(); got != models.CentsFromDollars(35) {
		t.Errorf("daily spent = %s, want $35.00", got)
	}
	if st, _ := f.store.Peek(prep.TokenID); st != token.StatusPending {
		t.Errorf("token status = %s, want pending", st)
	}
	if f.catalog.placed() != 0 {
		t.Error("rejected confirm must not reach the upstream")
	}
}

func TestConfirmExpiredQuote(t *testing.T) {
	f := newFixture(t, defaultLimits(), true)

	prep, _ := f.broker.Prepare(context.Background(), "sess-1", spec())
	f.clk.Advance(5*time.Minute + time.Second)

	if _, err := f.broker.Confirm(context.Background(), prep.TokenID, prep.Code); !errors.Is(err, token.ErrExpired) {
		t.Errorf("expected ErrExpired, got %v", err)
	}
	if got := f.guard.DailySpent(); got != 0 {
		t.Errorf("expired confirm moved the ledger: %s", got)
	}
}

func TestConfirmUpstreamFailureReleasesBudget(t *testing.T) {
	f := newFixture(t, defaultLimits(), true)

	prep, _ := f.broker.Prepare(context.Background(), "sess-1", spec())
	f.catalog.orderErr = errors.New("503 service unavailable")

	_, err := f.broker.Confirm(context.Background(), prep.TokenID, prep.Code)
	if !errors.Is(err, ErrOrderFailed) {
		t.Fatalf("expected ErrOrderFailed, got %v", err)
	}
	if got := f.guard.DailySpent(); got != 0 {
		t.Errorf("failed placement left spend committed: %s", got)
	}

	// The token is spent regardless; a blind retry cannot double-purchase.
	if st, _ := f.store.Peek(prep.TokenID); st != token.StatusRedeemed {
		t.Errorf("token status = %s, want redeemed", st)
	}
	if _, err := f.broker.Confirm(context.Background(), prep.TokenID, prep.Code); !errors.Is(err, token.ErrAlreadyUsed) {
		t.Errorf("expected ErrAlreadyUsed on retry, got %v", err)
	}
}

func TestConfirmUnknownToken(t *testing.T) {
	f := newFixture(t, defaultLimits(), true)

	if _, err := f.broker.Confirm(context.Background(), "no-such-token", "CONFIRM-ABC123"); !errors.Is(err, token.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCodesAreWellFormed(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := newCode()
		if err != nil {
			t.Fatal(err)
		}
		rest := strings.TrimPrefix(code, "CONFIRM-")
		if len(rest) != 6 {
			t.Fatalf("code %q has wrong length", code)
		}
		for _, c := range rest {
			if !strings.ContainsRune(codeAlphabet, c) {
				t.Fatalf("code %q has character outside alphabet", code)
			}
		}
		seen[code] = true
	}
	if len(seen) < 45 {
		t.Errorf("codes look non-random: %d distinct of 50", len(seen))
	}
}
