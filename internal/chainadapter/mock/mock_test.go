package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/klingon-exchange/escrow-coordinator/internal/chainadapter"
)

func TestGenerateEscrowDistinctPerCall(t *testing.T) {
	a := New("BTC")
	ctx := context.Background()

	e1, err := a.GenerateEscrow(ctx, "BTC", "deal-1", chainadapter.PartyA)
	if err != nil {
		t.Fatal(err)
	}
	e2, err := a.GenerateEscrow(ctx, "BTC", "deal-1", chainadapter.PartyA)
	if err != nil {
		t.Fatal(err)
	}

	if e1.Address == e2.Address {
		t.Error("mock escrow generation increments a sequence; expected distinct addresses across calls (real adapters derive deterministically from inputs alone)")
	}
}

func TestSendRecordsCallsAndAssignsTxID(t *testing.T) {
	a := New("ETH")
	ctx := context.Background()

	res, err := a.Send(ctx, "ETH", "0xescrow", "0xdest", "1.5")
	if err != nil {
		t.Fatal(err)
	}
	if res.TxID == "" {
		t.Error("expected non-empty txid")
	}
	if len(a.Sends) != 1 {
		t.Fatalf("expected 1 recorded send, got %d", len(a.Sends))
	}
	if a.Sends[0].Amount != "1.5" {
		t.Errorf("recorded amount = %s, want 1.5", a.Sends[0].Amount)
	}
}

func TestSendErrPropagates(t *testing.T) {
	a := New("BTC")
	a.SendErr = chainadapter.NewError("BTC", "send", chainadapter.KindInsufficientFunds, nil)

	_, err := a.Send(context.Background(), "BTC", "addr1", "addr2", "1")
	var adapterErr *chainadapter.Error
	if !errors.As(err, &adapterErr) {
		t.Fatal("expected chainadapter.Error")
	}
	if adapterErr.Kind != chainadapter.KindInsufficientFunds {
		t.Errorf("Kind = %s, want insufficient_funds", adapterErr.Kind)
	}
}

func TestGetTxConfirmationsUnknown(t *testing.T) {
	a := New("BTC")
	_, err := a.GetTxConfirmations(context.Background(), "nonexistent")
	var adapterErr *chainadapter.Error
	if !errors.As(err, &adapterErr) || adapterErr.Kind != chainadapter.KindUnknownTxid {
		t.Fatal("expected KindUnknownTxid error")
	}
}

func TestSetConfirmationsAdvances(t *testing.T) {
	a := New("BTC")
	res, _ := a.Send(context.Background(), "BTC", "addr1", "addr2", "1")

	confs, err := a.GetTxConfirmations(context.Background(), res.TxID)
	if err != nil {
		t.Fatal(err)
	}
	if confs != 0 {
		t.Errorf("initial confirmations = %d, want 0", confs)
	}

	a.SetConfirmations(res.TxID, 6)
	confs, err = a.GetTxConfirmations(context.Background(), res.TxID)
	if err != nil {
		t.Fatal(err)
	}
	if confs != 6 {
		t.Errorf("confirmations = %d, want 6", confs)
	}
}

func TestListConfirmedDepositsReturnsSeeded(t *testing.T) {
	a := New("BTC")
	a.Deposits["escrow1"] = []chainadapter.Deposit{
		{TxID: "tx1", Amount: "0.5", Confirmations: 6},
	}

	res, err := a.ListConfirmedDeposits(context.Background(), "BTC", "escrow1", 6, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Deposits) != 1 || res.Deposits[0].TxID != "tx1" {
		t.Errorf("unexpected deposits: %+v", res.Deposits)
	}
}
