package utxo

import (
	"testing"

	"github.com/klingon-exchange/escrow-coordinator/internal/chainadapter"
)

func TestEscrowIndexDeterministic(t *testing.T) {
	i1 := escrowIndex("deal-123", chainadapter.PartyA)
	i2 := escrowIndex("deal-123", chainadapter.PartyA)
	if i1 != i2 {
		t.Error("expected same (dealID, party) to derive the same index")
	}
}

func TestEscrowIndexDistinctPerParty(t *testing.T) {
	a := escrowIndex("deal-123", chainadapter.PartyA)
	b := escrowIndex("deal-123", chainadapter.PartyB)
	if a == b {
		t.Error("expected party A and B to derive distinct indices for the same deal")
	}
}

func TestEscrowIndexDistinctPerDeal(t *testing.T) {
	a := escrowIndex("deal-123", chainadapter.PartyA)
	b := escrowIndex("deal-456", chainadapter.PartyA)
	if a == b {
		t.Error("expected distinct deals to derive distinct indices")
	}
}

func TestEscrowIndexNonHardened(t *testing.T) {
	idx := escrowIndex("deal-999", chainadapter.PartyB)
	if idx&0x80000000 != 0 {
		t.Error("expected non-hardened index (top bit clear)")
	}
}
