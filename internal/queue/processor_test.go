package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/klingon-exchange/escrow-coordinator/internal/chainadapter"
	"github.com/klingon-exchange/escrow-coordinator/internal/chainadapter/mock"
	"github.com/klingon-exchange/escrow-coordinator/internal/storage"
)

func newTestStorage(t *testing.T) *storage.Storage {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "escrow-queue-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	store, err := storage.New(&storage.Config{DataDir: tmpDir})
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func createDealForQueueTest(t *testing.T, store *storage.Storage, id string) {
	t.Helper()
	deal := &storage.DealRecord{
		ID: id,
		A:  storage.DealSideRecord{Chain: "ALPHACOIN", Asset: "ALPHA", Amount: "10"},
		B:  storage.DealSideRecord{Chain: "ETH", Asset: "ETH", Amount: "0.03"},
		Stage: storage.DealStageSwap, TimeoutSeconds: 3600,
	}
	if err := store.CreateDeal(deal); err != nil {
		t.Fatal(err)
	}
}

func TestTickSubmitsAccountItemsInSeqOrderOneAtATime(t *testing.T) {
	store := newTestStorage(t)
	createDealForQueueTest(t, store, "deal-q1")

	items := []*storage.QueueItemRecord{
		{ID: "item-a", DealID: "deal-q1", Chain: "ETH", SourceAddress: "0xescrow", DestinationAddress: "0xdest-a",
			Asset: "ETH", Amount: "0.02", Purpose: storage.PurposeSwapPayout, Seq: 1, RequiredConfirms: 2},
		{ID: "item-b", DealID: "deal-q1", Chain: "ETH", SourceAddress: "0xescrow", DestinationAddress: "0xdest-b",
			Asset: "ETH", Amount: "0.01", Purpose: storage.PurposeOpCommission, Seq: 2, RequiredConfirms: 2},
	}
	if err := store.EnqueueItems(items); err != nil {
		t.Fatal(err)
	}

	adapter := mock.New("ETH")
	processor := New(store, func(chain string) (chainadapter.Adapter, bool) { return adapter, true }, RecoveryPolicy{})
	ctx := context.Background()

	if err := processor.Tick(ctx, "deal-q1"); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	got, err := store.ListQueueItems("deal-q1")
	if err != nil {
		t.Fatal(err)
	}
	byID := map[string]*storage.QueueItemRecord{}
	for _, it := range got {
		byID[it.ID] = it
	}

	if byID["item-a"].Status != storage.QueueStatusSubmitted {
		t.Fatalf("item-a status = %v, want SUBMITTED", byID["item-a"].Status)
	}
	if byID["item-b"].Status != storage.QueueStatusPending {
		t.Fatalf("item-b status = %v, want PENDING (blocked behind item-a)", byID["item-b"].Status)
	}

	// Advance confirmations past the requirement and tick again: item-a
	// should complete and item-b should then be free to submit.
	adapter.SetConfirmations(byID["item-a"].TxID, 5)
	if err := processor.Tick(ctx, "deal-q1"); err != nil {
		t.Fatalf("second Tick() error = %v", err)
	}

	got, err = store.ListQueueItems("deal-q1")
	if err != nil {
		t.Fatal(err)
	}
	for _, it := range got {
		byID[it.ID] = it
	}
	if byID["item-a"].Status != storage.QueueStatusCompleted {
		t.Errorf("item-a status = %v, want COMPLETED", byID["item-a"].Status)
	}
	if byID["item-b"].Status != storage.QueueStatusSubmitted {
		t.Errorf("item-b status = %v, want SUBMITTED", byID["item-b"].Status)
	}
}

func TestTickEnforcesUTXOPhaseBarrier(t *testing.T) {
	store := newTestStorage(t)
	createDealForQueueTest(t, store, "deal-q2")

	items := []*storage.QueueItemRecord{
		{ID: "item-swap", DealID: "deal-q2", Chain: "ALPHACOIN", SourceAddress: "alpha-escrow", DestinationAddress: "bob-recipient",
			Asset: "ALPHA", Amount: "10", Purpose: storage.PurposeSwapPayout, Phase: storage.PhaseSwap, Seq: 1, RequiredConfirms: 6},
		{ID: "item-comm", DealID: "deal-q2", Chain: "ALPHACOIN", SourceAddress: "alpha-escrow", DestinationAddress: "operator",
			Asset: "ALPHA", Amount: "0.03", Purpose: storage.PurposeOpCommission, Phase: storage.PhaseCommission, Seq: 2, RequiredConfirms: 6},
	}
	if err := store.EnqueueItems(items); err != nil {
		t.Fatal(err)
	}

	adapter := mock.New("ALPHACOIN")
	processor := New(store, func(chain string) (chainadapter.Adapter, bool) { return adapter, true }, RecoveryPolicy{})
	ctx := context.Background()

	if err := processor.Tick(ctx, "deal-q2"); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	got, err := store.ListQueueItems("deal-q2")
	if err != nil {
		t.Fatal(err)
	}
	byID := map[string]*storage.QueueItemRecord{}
	for _, it := range got {
		byID[it.ID] = it
	}
	if byID["item-swap"].Status != storage.QueueStatusSubmitted {
		t.Fatalf("item-swap status = %v, want SUBMITTED", byID["item-swap"].Status)
	}
	if byID["item-comm"].Status != storage.QueueStatusPending {
		t.Fatalf("item-comm status = %v, want PENDING (phase 2 blocked behind phase 1)", byID["item-comm"].Status)
	}

	adapter.SetConfirmations(byID["item-swap"].TxID, 6)
	if err := processor.Tick(ctx, "deal-q2"); err != nil {
		t.Fatal(err)
	}
	got, err = store.ListQueueItems("deal-q2")
	if err != nil {
		t.Fatal(err)
	}
	for _, it := range got {
		byID[it.ID] = it
	}
	if byID["item-swap"].Status != storage.QueueStatusCompleted {
		t.Errorf("item-swap status = %v, want COMPLETED", byID["item-swap"].Status)
	}
	if byID["item-comm"].Status != storage.QueueStatusSubmitted {
		t.Errorf("item-comm status = %v, want SUBMITTED, phase 1 is now all-COMPLETED", byID["item-comm"].Status)
	}
}

func TestTickRevertsToPendingOnUnknownTxid(t *testing.T) {
	store := newTestStorage(t)
	createDealForQueueTest(t, store, "deal-q3")

	items := []*storage.QueueItemRecord{
		{ID: "item-x", DealID: "deal-q3", Chain: "ETH", SourceAddress: "0xescrow3", DestinationAddress: "0xdest",
			Asset: "ETH", Amount: "0.01", Purpose: storage.PurposeSwapPayout, Seq: 1, RequiredConfirms: 2},
	}
	if err := store.EnqueueItems(items); err != nil {
		t.Fatal(err)
	}

	adapter := mock.New("ETH")
	processor := New(store, func(chain string) (chainadapter.Adapter, bool) { return adapter, true }, RecoveryPolicy{})
	ctx := context.Background()

	if err := processor.Tick(ctx, "deal-q3"); err != nil {
		t.Fatal(err)
	}

	got, err := store.ListQueueItems("deal-q3")
	if err != nil {
		t.Fatal(err)
	}
	txid := got[0].TxID

	// The adapter "forgets" the tx (simulating a dropped/reorged tx).
	delete(adapter.Confirmations, txid)

	if err := processor.Tick(ctx, "deal-q3"); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	got, err = store.ListQueueItems("deal-q3")
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Status != storage.QueueStatusPending {
		t.Errorf("status = %v, want PENDING after unknown-txid revert", got[0].Status)
	}
}

func TestTickRecoversStuckTransaction(t *testing.T) {
	store := newTestStorage(t)
	createDealForQueueTest(t, store, "deal-q4")

	items := []*storage.QueueItemRecord{
		{ID: "item-y", DealID: "deal-q4", Chain: "ETH", SourceAddress: "0xescrow4", DestinationAddress: "0xdest",
			Asset: "ETH", Amount: "0.01", Purpose: storage.PurposeSwapPayout, Seq: 1, RequiredConfirms: 2},
	}
	if err := store.EnqueueItems(items); err != nil {
		t.Fatal(err)
	}

	adapter := mock.New("ETH")
	processor := New(store, func(chain string) (chainadapter.Adapter, bool) { return adapter, true }, RecoveryPolicy{
		RecoveryAfter:       func(chain string) time.Duration { return -1 * time.Second },
		MaxRecoveryAttempts: 3,
		BumpedFeeFor:        func(chain string, attempt int) string { return "bumped" },
	})
	ctx := context.Background()

	if err := processor.Tick(ctx, "deal-q4"); err != nil {
		t.Fatal(err)
	}
	got, err := store.ListQueueItems("deal-q4")
	if err != nil {
		t.Fatal(err)
	}
	firstTxID := got[0].TxID

	// Still zero confirmations, and past the (negative) recovery window:
	// the next tick should rebroadcast.
	if err := processor.Tick(ctx, "deal-q4"); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	got, err = store.ListQueueItems("deal-q4")
	if err != nil {
		t.Fatal(err)
	}
	if got[0].TxID == firstTxID {
		t.Errorf("expected a new txid after recovery rebroadcast, still %q", got[0].TxID)
	}
	if got[0].AttemptCount != 1 {
		t.Errorf("AttemptCount = %d, want 1", got[0].AttemptCount)
	}
	if got[0].LastGasPrice != "bumped" {
		t.Errorf("LastGasPrice = %q, want bumped", got[0].LastGasPrice)
	}
}
