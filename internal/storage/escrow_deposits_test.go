package storage

import (
	"testing"
	"time"
)

func TestUpsertDepositInsertsThenUpdatesConfirmations(t *testing.T) {
	store := newTestStorage(t)
	deal := createTestDealRecord("deal-dep-1")
	if err := store.CreateDeal(deal); err != nil {
		t.Fatal(err)
	}

	dep := &DepositRecord{
		DealID: "deal-dep-1", Side: SideA, Chain: "ALPHACOIN", EscrowAddress: "alpha-escrow",
		Asset: "ALPHA", Amount: "10", TxID: "txid-1", OutputIndex: 0,
		BlockHeight: 100, BlockTime: time.Now(), Confirmations: 1,
	}
	if err := store.UpsertDeposit(dep); err != nil {
		t.Fatalf("UpsertDeposit() error = %v", err)
	}

	dep.Confirmations = 6
	if err := store.UpsertDeposit(dep); err != nil {
		t.Fatalf("UpsertDeposit() update error = %v", err)
	}

	deposits, err := store.ListDeposits("deal-dep-1", SideA)
	if err != nil {
		t.Fatalf("ListDeposits() error = %v", err)
	}
	if len(deposits) != 1 {
		t.Fatalf("expected exactly one deposit row (upsert, not duplicate), got %d", len(deposits))
	}
	if deposits[0].Confirmations != 6 {
		t.Errorf("Confirmations = %d, want 6", deposits[0].Confirmations)
	}
}

func TestMarkDepositMissedAndDelete(t *testing.T) {
	store := newTestStorage(t)
	deal := createTestDealRecord("deal-dep-2")
	if err := store.CreateDeal(deal); err != nil {
		t.Fatal(err)
	}

	dep := &DepositRecord{
		DealID: "deal-dep-2", Side: SideA, Chain: "ALPHACOIN", EscrowAddress: "alpha-escrow",
		Asset: "ALPHA", Amount: "10", TxID: "txid-2", OutputIndex: 0, Confirmations: 1,
	}
	if err := store.UpsertDeposit(dep); err != nil {
		t.Fatal(err)
	}

	if err := store.MarkDepositMissed("deal-dep-2", SideA, map[string]bool{}); err != nil {
		t.Fatalf("MarkDepositMissed() error = %v", err)
	}

	deposits, err := store.ListDeposits("deal-dep-2", SideA)
	if err != nil {
		t.Fatal(err)
	}
	if len(deposits) != 1 || deposits[0].MissedPolls != 1 {
		t.Fatalf("expected missed_polls = 1, got %+v", deposits)
	}

	if err := store.DeleteDeposit(deposits[0].ID); err != nil {
		t.Fatalf("DeleteDeposit() error = %v", err)
	}
	deposits, err = store.ListDeposits("deal-dep-2", SideA)
	if err != nil {
		t.Fatal(err)
	}
	if len(deposits) != 0 {
		t.Errorf("expected deposit to be removed, got %+v", deposits)
	}
}
