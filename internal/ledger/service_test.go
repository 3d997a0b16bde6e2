package ledger

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"grantledger/internal"
)

func newTestService(t *testing.T, pub Publisher) (*Service, context.Context) {
	t.Helper()
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), pub)
	if _, err := svc.CreateGrant(ctx, "G-1", "NIH R01", 100, nil); err != nil {
		t.Fatal(err)
	}
	return svc, ctx
}

func TestAllocateAccumulatesAndReset(t *testing.T) {
	svc, ctx := newTestService(t, nil)

	if _, err := svc.Allocate(ctx, "NIH R01", 30); err != nil {
		t.Fatal(err)
	}
	g, err := svc.Allocate(ctx, "NIH R01", 20)
	if err != nil {
		t.Fatal(err)
	}
	if g.AllocatedCost != 50 || g.NetAmount != 50 {
		t.Fatalf("after allocations: %+v", g)
	}

	g, err = svc.ResetAllocation(ctx, "NIH R01")
	if err != nil {
		t.Fatal(err)
	}
	if g.AllocatedCost != 0 || g.NetAmount != 100 {
		t.Fatalf("after reset: %+v", g)
	}
}

func TestAllocateSameAmountTwiceDoubles(t *testing.T) {
	svc, ctx := newTestService(t, nil)
	for i := 0; i < 2; i++ {
		if _, err := svc.Allocate(ctx, "NIH R01", 12.5); err != nil {
			t.Fatal(err)
		}
	}
	g, _ := svc.Grant(ctx, "NIH R01")
	if g.AllocatedCost != 25 || g.NetAmount != 75 {
		t.Fatalf("got %+v", g)
	}
}

func TestAllocateUnknownGrant(t *testing.T) {
	svc, ctx := newTestService(t, nil)
	if _, err := svc.CreateGrant(ctx, "G-2", "NSF", 40, nil); err != nil {
		t.Fatal(err)
	}

	_, err := svc.Allocate(ctx, "Missing", 10)
	if !errors.Is(err, ErrGrantNotFound) {
		t.Fatalf("expected ErrGrantNotFound, got %v", err)
	}

	grants, err := svc.Grants(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, g := range grants {
		if g.AllocatedCost != 0 || g.NetAmount != g.TotalBalance {
			t.Fatalf("grant changed: %+v", g)
		}
	}
}

func TestAllocateRejectsInvalidAmounts(t *testing.T) {
	svc, ctx := newTestService(t, nil)
	for _, amount := range []float64{-1, math.NaN(), math.Inf(1), math.Inf(-1)} {
		if _, err := svc.Allocate(ctx, "NIH R01", amount); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("amount %v: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
	g, _ := svc.Grant(ctx, "NIH R01")
	if g.AllocatedCost != 0 || g.NetAmount != 100 {
		t.Fatalf("grant changed: %+v", g)
	}
	history, _ := svc.History(ctx, "NIH R01")
	if len(history) != 0 {
		t.Fatalf("rejected amounts must not be journaled: %+v", history)
	}
}

func TestNetMayGoNegative(t *testing.T) {
	svc, ctx := newTestService(t, nil)
	g, err := svc.Allocate(ctx, "NIH R01", 150)
	if err != nil {
		t.Fatal(err)
	}
	if g.NetAmount != -50 {
		t.Fatalf("net: got %v want -50", g.NetAmount)
	}
}

func TestAllocateKeepsDecimalPrecision(t *testing.T) {
	svc, ctx := newTestService(t, nil)
	_, _ = svc.Allocate(ctx, "NIH R01", 0.1)
	g, err := svc.Allocate(ctx, "NIH R01", 0.2)
	if err != nil {
		t.Fatal(err)
	}
	if g.AllocatedCost != 0.3 || g.NetAmount != 99.7 {
		t.Fatalf("got allocated=%v net=%v", g.AllocatedCost, g.NetAmount)
	}
}

func TestRelease(t *testing.T) {
	svc, ctx := newTestService(t, nil)
	if _, err := svc.Allocate(ctx, "NIH R01", 40); err != nil {
		t.Fatal(err)
	}
	g, err := svc.Release(ctx, "NIH R01", 15)
	if err != nil {
		t.Fatal(err)
	}
	if g.AllocatedCost != 25 || g.NetAmount != 75 {
		t.Fatalf("after release: %+v", g)
	}
	if _, err := svc.Release(ctx, "NIH R01", 30); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("over-release: expected ErrInvalidAmount, got %v", err)
	}
	g, _ = svc.Grant(ctx, "NIH R01")
	if g.AllocatedCost != 25 {
		t.Fatalf("failed release mutated grant: %+v", g)
	}
}

func TestSetTotalBalanceRecomputesNet(t *testing.T) {
	svc, ctx := newTestService(t, nil)
	_, _ = svc.Allocate(ctx, "NIH R01", 30)
	g, err := svc.SetTotalBalance(ctx, "NIH R01", 250)
	if err != nil {
		t.Fatal(err)
	}
	if g.TotalBalance != 250 || g.AllocatedCost != 30 || g.NetAmount != 220 {
		t.Fatalf("got %+v", g)
	}
	if _, err := svc.SetTotalBalance(ctx, "NIH R01", -5); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestCreateGrantValidation(t *testing.T) {
	svc, ctx := newTestService(t, nil)

	if _, err := svc.CreateGrant(ctx, "G-1", "Other", 10, nil); !errors.Is(err, ErrDuplicateGrant) {
		t.Fatalf("duplicate id: got %v", err)
	}
	if _, err := svc.CreateGrant(ctx, "G-9", "nih r01", 10, nil); !errors.Is(err, ErrDuplicateGrant) {
		t.Fatalf("duplicate name: got %v", err)
	}
	if _, err := svc.CreateGrant(ctx, " ", "Blank", 10, nil); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("blank id: got %v", err)
	}
	if _, err := svc.CreateGrant(ctx, "G-3", "NaN", math.NaN(), nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("nan balance: got %v", err)
	}
}

func TestDeleteGrant(t *testing.T) {
	svc, ctx := newTestService(t, nil)
	_, _ = svc.Allocate(ctx, "NIH R01", 5)

	ok, err := svc.DeleteGrant(ctx, "G-1")
	if err != nil || !ok {
		t.Fatalf("first delete: ok=%v err=%v", ok, err)
	}
	ok, err = svc.DeleteGrant(ctx, "G-1")
	if err != nil || ok {
		t.Fatalf("second delete: ok=%v err=%v", ok, err)
	}
	if _, err := svc.Allocate(ctx, "NIH R01", 1); !errors.Is(err, ErrGrantNotFound) {
		t.Fatalf("allocate after delete: got %v", err)
	}
}

func TestAllowedItems(t *testing.T) {
	svc, ctx := newTestService(t, nil)
	if _, err := svc.AllowItem(ctx, "NIH R01", "Antibodies"); err != nil {
		t.Fatal(err)
	}
	g, err := svc.AllowItem(ctx, "NIH R01", "antibodies")
	if err != nil {
		t.Fatal(err)
	}
	if len(g.AllowedItems) != 1 {
		t.Fatalf("duplicate rule kept: %v", g.AllowedItems)
	}
	if !g.Allows("Goat anti-rabbit", internal.CategoryAntibodies) || g.Allows("DMEM", internal.CategoryMedia) {
		t.Fatalf("unexpected rule evaluation for %v", g.AllowedItems)
	}

	g, err = svc.DisallowItem(ctx, "NIH R01", "ANTIBODIES")
	if err != nil {
		t.Fatal(err)
	}
	if len(g.AllowedItems) != 0 || !g.Allows("DMEM", internal.CategoryMedia) {
		t.Fatalf("rule not removed: %v", g.AllowedItems)
	}
	history, _ := svc.History(ctx, "NIH R01")
	if len(history) != 0 {
		t.Fatalf("rule edits are not journaled: %+v", history)
	}
}

func TestHistoryRecordsEveryMutation(t *testing.T) {
	svc, ctx := newTestService(t, nil)
	_, _ = svc.AllocateWithNote(ctx, "NIH R01", 30, "march order")
	_, _ = svc.Release(ctx, "NIH R01", 10)
	_, _ = svc.ResetAllocation(ctx, "NIH R01")
	_, _ = svc.SetTotalBalance(ctx, "NIH R01", 120)

	history, err := svc.History(ctx, "NIH R01")
	if err != nil {
		t.Fatal(err)
	}
	want := []internal.LedgerEntryKind{internal.EntryAllocate, internal.EntryRelease, internal.EntryReset, internal.EntryBalance}
	if len(history) != len(want) {
		t.Fatalf("len=%d", len(history))
	}
	for i, e := range history {
		if e.Kind != want[i] || e.GrantID != "G-1" || e.ID == "" {
			t.Fatalf("entry %d: %+v", i, e)
		}
	}
	if history[0].Note != "march order" || history[1].AllocatedAfter != 20 || history[2].Amount != 20 || history[3].NetAfter != 120 {
		t.Fatalf("unexpected journal: %+v", history)
	}
}

func TestConcurrentAllocationsAreNotLost(t *testing.T) {
	svc, ctx := newTestService(t, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Allocate(ctx, "NIH R01", 1); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	g, _ := svc.Grant(ctx, "NIH R01")
	if g.AllocatedCost != 50 || g.NetAmount != 50 {
		t.Fatalf("got %+v", g)
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func TestPublisherFailureKeepsMutation(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc, ctx := newTestService(t, pub)

	g, err := svc.Allocate(ctx, "NIH R01", 10)
	if err != nil {
		t.Fatalf("publish failure leaked: %v", err)
	}
	if g.AllocatedCost != 10 {
		t.Fatalf("got %+v", g)
	}
	if len(pub.events) != 2 || pub.events[0].Kind != EventCreated || pub.events[1].Kind != EventAllocate {
		t.Fatalf("events: %+v", pub.events)
	}
	if pub.events[1].Entry == nil || pub.events[1].Entry.Amount != 10 {
		t.Fatalf("allocate event without entry: %+v", pub.events[1])
	}
}
