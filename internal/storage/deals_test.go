package storage

import (
	"os"
	"testing"
	"time"
)

func createTestDealRecord(id string) *DealRecord {
	return &DealRecord{
		ID: id,
		A: DealSideRecord{
			Chain: "ALPHACOIN", Asset: "ALPHA", Amount: "10",
			PaybackAddress: "alpha-payback", RecipientAddress: "alpha-recipient",
			LinkToken: id + "-a-token",
		},
		B: DealSideRecord{
			Chain: "ETH", Asset: "USDC-ETH", Amount: "50",
			PaybackAddress: "0x000000000000000000000000000000000000b1",
			RecipientAddress: "0x000000000000000000000000000000000000b2",
			LinkToken: id + "-b-token",
		},
		Stage:          DealStageCreated,
		TimeoutSeconds: 3600,
	}
}

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "escrow-storage-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	store, err := New(&Config{DataDir: tmpDir})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestDealCreateAndGet(t *testing.T) {
	store := newTestStorage(t)

	deal := createTestDealRecord("deal-001")
	if err := store.CreateDeal(deal); err != nil {
		t.Fatalf("CreateDeal() error = %v", err)
	}

	got, err := store.GetDeal("deal-001")
	if err != nil {
		t.Fatalf("GetDeal() error = %v", err)
	}
	if got.Stage != DealStageCreated {
		t.Errorf("Stage = %v, want CREATED", got.Stage)
	}
	if got.A.Amount != "10" || got.B.Amount != "50" {
		t.Errorf("unexpected amounts: %+v", got)
	}

	events, err := store.GetDealEvents("deal-001")
	if err != nil {
		t.Fatalf("GetDealEvents() error = %v", err)
	}
	if len(events) != 1 || events[0].EventType != "DEAL_CREATED" {
		t.Errorf("expected a single DEAL_CREATED event, got %+v", events)
	}
}

func TestDealGetByLinkToken(t *testing.T) {
	store := newTestStorage(t)
	deal := createTestDealRecord("deal-002")
	if err := store.CreateDeal(deal); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetDealByLinkToken("deal-002-b-token")
	if err != nil {
		t.Fatalf("GetDealByLinkToken() error = %v", err)
	}
	if got.ID != "deal-002" {
		t.Errorf("ID = %q, want deal-002", got.ID)
	}
}

func TestDealStageTransitionIsAppendedAsEvent(t *testing.T) {
	store := newTestStorage(t)
	deal := createTestDealRecord("deal-003")
	if err := store.CreateDeal(deal); err != nil {
		t.Fatal(err)
	}

	expires := time.Now().Add(time.Hour)
	if err := store.UpdateDealStage("deal-003", DealStageCollection, expires, false); err != nil {
		t.Fatalf("UpdateDealStage() error = %v", err)
	}

	got, err := store.GetDeal("deal-003")
	if err != nil {
		t.Fatal(err)
	}
	if got.Stage != DealStageCollection {
		t.Errorf("Stage = %v, want COLLECTION", got.Stage)
	}
	if got.ExpiresAt.Unix() != expires.Unix() {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, expires)
	}

	events, err := store.GetDealEvents("deal-003")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[1].EventType != "STAGE_TRANSITION" {
		t.Errorf("events[1].EventType = %q", events[1].EventType)
	}
}

func TestDealLocksSetAndClear(t *testing.T) {
	store := newTestStorage(t)
	deal := createTestDealRecord("deal-004")
	if err := store.CreateDeal(deal); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	if err := store.SetLock("deal-004", SideA, true, now); err != nil {
		t.Fatalf("SetLock() error = %v", err)
	}
	got, err := store.GetDeal("deal-004")
	if err != nil {
		t.Fatal(err)
	}
	if got.A.TradeLockedAt.IsZero() {
		t.Fatal("expected A.TradeLockedAt to be set")
	}

	if err := store.ClearLocks("deal-004"); err != nil {
		t.Fatalf("ClearLocks() error = %v", err)
	}
	got, err = store.GetDeal("deal-004")
	if err != nil {
		t.Fatal(err)
	}
	if !got.A.TradeLockedAt.IsZero() {
		t.Error("expected A.TradeLockedAt to be cleared")
	}
}

func TestDealNotFound(t *testing.T) {
	store := newTestStorage(t)
	if _, err := store.GetDeal("missing"); err != ErrDealNotFound {
		t.Errorf("GetDeal() error = %v, want ErrDealNotFound", err)
	}
}

func TestGetDealsInStages(t *testing.T) {
	store := newTestStorage(t)
	for i, stage := range []DealStage{DealStageCreated, DealStageCollection, DealStageCollection} {
		deal := createTestDealRecord("deal-stage-" + string(rune('a'+i)))
		deal.Stage = stage
		if err := store.CreateDeal(deal); err != nil {
			t.Fatal(err)
		}
	}

	collecting, err := store.GetDealsInStages(DealStageCollection)
	if err != nil {
		t.Fatalf("GetDealsInStages() error = %v", err)
	}
	if len(collecting) != 2 {
		t.Errorf("expected 2 deals in COLLECTION, got %d", len(collecting))
	}
}
