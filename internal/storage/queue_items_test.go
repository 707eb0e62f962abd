package storage

import (
	"testing"
)

func TestEnqueueAndListQueueItems(t *testing.T) {
	store := newTestStorage(t)
	deal := createTestDealRecord("deal-q1")
	if err := store.CreateDeal(deal); err != nil {
		t.Fatal(err)
	}

	items := []*QueueItemRecord{
		{
			ID: "item-1", DealID: "deal-q1", Chain: "ETH",
			SourceAddress: "0xescrow", DestinationAddress: "0xrecipient",
			Asset: "USDC-ETH", Amount: "50", Purpose: PurposeSwapPayout, Phase: PhaseNone, Seq: 1,
			RequiredConfirms: 3,
		},
		{
			ID: "item-2", DealID: "deal-q1", Chain: "ETH",
			SourceAddress: "0xescrow", DestinationAddress: "0xoperator",
			Asset: "USDC-ETH", Amount: "0.15", Purpose: PurposeOpCommission, Phase: PhaseNone, Seq: 2,
			RequiredConfirms: 3,
		},
	}
	if err := store.EnqueueItems(items); err != nil {
		t.Fatalf("EnqueueItems() error = %v", err)
	}

	got, err := store.ListQueueItems("deal-q1")
	if err != nil {
		t.Fatalf("ListQueueItems() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 items, got %d", len(got))
	}
	if got[0].Seq != 1 || got[1].Seq != 2 {
		t.Errorf("expected items ordered by seq, got seqs %d, %d", got[0].Seq, got[1].Seq)
	}
}

func TestSubmitAccountItemAssignsSequentialNonces(t *testing.T) {
	store := newTestStorage(t)
	deal := createTestDealRecord("deal-q2")
	if err := store.CreateDeal(deal); err != nil {
		t.Fatal(err)
	}

	items := []*QueueItemRecord{
		{ID: "item-a", DealID: "deal-q2", Chain: "ETH", SourceAddress: "0xescrow2", DestinationAddress: "0xdest",
			Asset: "ETH", Amount: "0.01", Purpose: PurposeSwapPayout, Seq: 1, RequiredConfirms: 3},
		{ID: "item-b", DealID: "deal-q2", Chain: "ETH", SourceAddress: "0xescrow2", DestinationAddress: "0xdest2",
			Asset: "ETH", Amount: "0.02", Purpose: PurposeOpCommission, Seq: 2, RequiredConfirms: 3},
	}
	if err := store.EnqueueItems(items); err != nil {
		t.Fatal(err)
	}

	n1, err := store.SubmitAccountItem("item-a", "ETH", "0xescrow2")
	if err != nil {
		t.Fatalf("SubmitAccountItem(item-a) error = %v", err)
	}
	if n1 != 0 {
		t.Errorf("first nonce = %d, want 0", n1)
	}
	if err := store.MarkSubmitted("item-a", "0xtxhash1", "0"); err != nil {
		t.Fatal(err)
	}

	n2, err := store.SubmitAccountItem("item-b", "ETH", "0xescrow2")
	if err != nil {
		t.Fatalf("SubmitAccountItem(item-b) error = %v", err)
	}
	if n2 != 1 {
		t.Errorf("second nonce = %d, want 1", n2)
	}
}

func TestEnqueueTimeoutRefundRejectsWhenPayoutPending(t *testing.T) {
	store := newTestStorage(t)
	deal := createTestDealRecord("deal-q3")
	if err := store.CreateDeal(deal); err != nil {
		t.Fatal(err)
	}

	payout := &QueueItemRecord{
		ID: "item-payout", DealID: "deal-q3", Chain: "ALPHACOIN", SourceAddress: "alpha-escrow",
		DestinationAddress: "alpha-recipient", Asset: "ALPHA", Amount: "10", Purpose: PurposeSwapPayout, Seq: 1,
		RequiredConfirms: 6,
	}
	if err := store.EnqueueItems([]*QueueItemRecord{payout}); err != nil {
		t.Fatal(err)
	}

	refund := &QueueItemRecord{
		ID: "item-refund", DealID: "deal-q3", Chain: "ALPHACOIN", SourceAddress: "alpha-escrow",
		DestinationAddress: "alpha-payback", Asset: "ALPHA", Amount: "10", Purpose: PurposeTimeoutRefund, Seq: 2,
		RequiredConfirms: 6,
	}
	if err := store.EnqueueTimeoutRefund(refund); err != ErrRefundConflict {
		t.Errorf("EnqueueTimeoutRefund() error = %v, want ErrRefundConflict", err)
	}
}

func TestEnqueueTimeoutRefundAllowedAfterPayoutTerminal(t *testing.T) {
	store := newTestStorage(t)
	deal := createTestDealRecord("deal-q4")
	if err := store.CreateDeal(deal); err != nil {
		t.Fatal(err)
	}

	payout := &QueueItemRecord{
		ID: "item-payout-4", DealID: "deal-q4", Chain: "ALPHACOIN", SourceAddress: "alpha-escrow-4",
		DestinationAddress: "alpha-recipient", Asset: "ALPHA", Amount: "10", Purpose: PurposeSwapPayout, Seq: 1,
		RequiredConfirms: 6, Status: QueueStatusFailed,
	}
	if err := store.EnqueueItems([]*QueueItemRecord{payout}); err != nil {
		t.Fatal(err)
	}

	refund := &QueueItemRecord{
		ID: "item-refund-4", DealID: "deal-q4", Chain: "ALPHACOIN", SourceAddress: "alpha-escrow-4",
		DestinationAddress: "alpha-payback", Asset: "ALPHA", Amount: "10", Purpose: PurposeTimeoutRefund, Seq: 2,
		RequiredConfirms: 6,
	}
	if err := store.EnqueueTimeoutRefund(refund); err != nil {
		t.Errorf("EnqueueTimeoutRefund() error = %v, want nil", err)
	}
}
