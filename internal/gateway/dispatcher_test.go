package gateway_test

import (
	"SpiritLedger/internal/admission"
	"SpiritLedger/internal/gateway"
	"SpiritLedger/internal/ledger"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type memAccounts struct {
	mu       sync.Mutex
	accounts map[ledger.ActorID]ledger.Account
}

func newMemAccounts() *memAccounts {
	return &memAccounts{accounts: make(map[ledger.ActorID]ledger.Account)}
}

func (m *memAccounts) Get(_ context.Context, actor ledger.ActorID) (ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[actor]
	if !ok {
		return ledger.Account{}, fmt.Errorf("actor %d: %w", actor, ledger.ErrNotFound)
	}
	return a, nil
}

func (m *memAccounts) Create(_ context.Context, a ledger.Account) (ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[a.Actor]; ok {
		return ledger.Account{}, ledger.ErrConflict
	}
	a.Version = 1
	m.accounts[a.Actor] = a
	return a, nil
}

func (m *memAccounts) Update(_ context.Context, a ledger.Account) (ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.accounts[a.Actor]
	if !ok {
		return ledger.Account{}, ledger.ErrNotFound
	}
	if cur.Version != a.Version {
		return ledger.Account{}, ledger.ErrConflict
	}
	a.Version++
	m.accounts[a.Actor] = a
	return a, nil
}

func (m *memAccounts) MarkNegative(context.Context, ledger.ActorID, time.Time) error { return nil }
func (m *memAccounts) ClearNegative(context.Context, ledger.ActorID) error           { return nil }
func (m *memAccounts) ListNegative(context.Context, time.Time) ([]ledger.NegativeMark, error) {
	return nil, nil
}

type capturedEvent struct {
	kind    string
	actor   ledger.ActorID
	payload interface{}
}

type captureEvents struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (c *captureEvents) Publish(kind string, actor ledger.ActorID, payload interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, capturedEvent{kind, actor, payload})
}

func (c *captureEvents) last() (capturedEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return capturedEvent{}, false
	}
	return c.events[len(c.events)-1], true
}

func (c *captureEvents) kinds() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.kind
	}
	return out
}

type dispatchFixture struct {
	disp   *gateway.Dispatcher
	svc    *ledger.Service
	admit  *admission.Controller
	events *captureEvents
}

func newDispatchFixture(t *testing.T, cfg admission.Config) *dispatchFixture {
	t.Helper()
	store := newMemAccounts()
	policy := ledger.RetryPolicy{MaxAttempts: 3, Delay: time.Microsecond}
	svc := ledger.NewService(store, policy, nil, nil)
	admit := admission.NewController(cfg, nil)
	events := &captureEvents{}
	disp := gateway.NewDispatcher(svc, nil, nil, admit, events, nil)
	return &dispatchFixture{disp: disp, svc: svc, admit: admit, events: events}
}

// ============================================================================
// Test: Dispatch routing
// ============================================================================

func TestDispatch_CreateAndAdjust(t *testing.T) {
	f := newDispatchFixture(t, admission.DefaultConfig())
	ctx := context.Background()

	if err := f.disp.Dispatch(ctx, gateway.Command{Kind: gateway.KindCreateAccount, Actor: 1}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.disp.Dispatch(ctx, gateway.Command{Kind: gateway.KindAdjustPoints, Actor: 1, Delta: 250}); err != nil {
		t.Fatalf("adjust: %v", err)
	}

	a, err := f.svc.GetBalance(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if a.Points != 250 {
		t.Errorf("points = %d, want 250", a.Points)
	}

	kinds := f.events.kinds()
	if len(kinds) != 2 || kinds[0] != "account_created" || kinds[1] != "points_adjusted" {
		t.Errorf("events = %v", kinds)
	}
}

func TestDispatch_DomainErrorPropagates(t *testing.T) {
	f := newDispatchFixture(t, admission.DefaultConfig())
	ctx := context.Background()

	err := f.disp.Dispatch(ctx, gateway.Command{Kind: gateway.KindAdjustPoints, Actor: 42, Delta: 1})
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// ============================================================================
// Test: Admission gates
// ============================================================================

func TestDispatch_RateLimited(t *testing.T) {
	f := newDispatchFixture(t, admission.Config{Window: time.Minute, Limit: 1, Slots: 10})
	ctx := context.Background()

	if err := f.disp.Dispatch(ctx, gateway.Command{Kind: gateway.KindCreateAccount, Actor: 1}); err != nil {
		t.Fatal(err)
	}
	err := f.disp.Dispatch(ctx, gateway.Command{Kind: gateway.KindAdjustPoints, Actor: 1, Delta: 1})
	if !errors.Is(err, ledger.ErrAdmissionDenied) {
		t.Errorf("expected ErrAdmissionDenied, got %v", err)
	}

	// The denial is answered with a retry-after hint for the caller.
	last, ok := f.events.last()
	if !ok || last.kind != "admission_denied" || last.actor != 1 {
		t.Fatalf("expected an admission_denied event for actor 1, got %+v", last)
	}
	payload, ok := last.payload.(map[string]interface{})
	if !ok {
		t.Fatalf("payload = %T", last.payload)
	}
	if ms, ok := payload["retry_after_ms"].(int64); !ok || ms <= 0 {
		t.Errorf("retry_after_ms = %v, want a positive hint", payload["retry_after_ms"])
	}
}

func TestDispatch_BulkContributeAppliesAll(t *testing.T) {
	f := newDispatchFixture(t, admission.DefaultConfig())
	ctx := context.Background()

	for _, actor := range []ledger.ActorID{10, 11} {
		if _, err := f.svc.CreateAccount(ctx, actor); err != nil {
			t.Fatal(err)
		}
	}

	err := f.disp.Dispatch(ctx, gateway.Command{
		Kind:  gateway.KindBulkContribute,
		Actor: 99,
		Contributions: []gateway.Contribution{
			{Actor: 10, Delta: 100},
			{Actor: 11, Delta: 200},
			{Actor: 12, Delta: 300}, // unknown, skipped
		},
	})
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}

	a10, _ := f.svc.GetBalance(ctx, 10)
	a11, _ := f.svc.GetBalance(ctx, 11)
	if a10.Points != 100 || a11.Points != 200 {
		t.Errorf("points = %d/%d, want 100/200", a10.Points, a11.Points)
	}
}

func TestDispatch_BulkContributeNeedsSlot(t *testing.T) {
	f := newDispatchFixture(t, admission.Config{Window: time.Minute, Limit: 100, Slots: 1})
	ctx := context.Background()

	if err := f.admit.AcquireSlot(99); err != nil {
		t.Fatal(err)
	}
	defer f.admit.ReleaseSlot(99)

	err := f.disp.Dispatch(ctx, gateway.Command{
		Kind:          gateway.KindBulkContribute,
		Actor:         99,
		Contributions: []gateway.Contribution{{Actor: 1, Delta: 1}},
	})
	if !errors.Is(err, ledger.ErrAdmissionDenied) {
		t.Errorf("expected ErrAdmissionDenied when the actor's slots are busy, got %v", err)
	}
}
