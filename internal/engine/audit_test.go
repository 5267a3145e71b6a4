package engine

import (
	"context"
	"testing"
	"time"

	"github.com/efreitasn/bourse/internal/domain"
	"github.com/efreitasn/bourse/internal/metrics"
	"github.com/efreitasn/bourse/internal/store"
)

// driftingStore reports a pending sum that disagrees with one counter.
type driftingStore struct {
	store.Store
}

func (s driftingStore) Snapshot(ctx context.Context) (*store.Snapshot, error) {
	snap, err := s.Store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	snap.PendingDemand["b"] += 4
	return snap, nil
}

func TestAuditor_NoDriftAfterLedgerActivity(t *testing.T) {
	l, st, _ := newTestLedger(t)
	seedProduct(t, st, "a", "10", 100)
	o := placeAtMarket(t, l, "a", "x", 5)
	placeAtMarket(t, l, "a", "y", 3)
	if _, _, err := l.SetOrderStatus(context.Background(), o.OrderID, domain.OrderStatusMatched, "op"); err != nil {
		t.Fatal(err)
	}

	drifts, err := NewAuditor(time.Second, st, nil, discardLogger()).Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(drifts) != 0 {
		t.Errorf("drifts = %+v, want none", drifts)
	}
}

func TestAuditor_ReportsDrift(t *testing.T) {
	_, st, _ := newTestLedger(t)
	seedProduct(t, st, "a", "10", 100)
	seedProduct(t, st, "b", "10", 100)

	drifts, err := NewAuditor(time.Second, driftingStore{st}, metrics.New(), discardLogger()).Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(drifts) != 1 {
		t.Fatalf("drifts = %+v, want 1", drifts)
	}
	want := Drift{ProductID: "b", Counter: 0, PendingDemand: 4}
	if drifts[0] != want {
		t.Errorf("drift = %+v, want %+v", drifts[0], want)
	}
}

func TestAuditor_RunStopsOnCancel(t *testing.T) {
	_, st, _ := newTestLedger(t)
	a := NewAuditor(5*time.Millisecond, st, nil, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestAuditor_ZeroIntervalDisabled(t *testing.T) {
	_, st, _ := newTestLedger(t)
	if err := NewAuditor(0, st, nil, discardLogger()).Run(context.Background()); err != nil {
		t.Errorf("Run = %v", err)
	}
}
