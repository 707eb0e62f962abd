// Package deposit polls chain adapters for confirmed deposits at a deal
// side's escrow address and keeps storage's escrow_deposits table in
// sync (§4.2). It owns no lock logic itself — internal/lock consumes
// whatever this package persists.
package deposit

import (
	"context"
	"fmt"

	"github.com/klingon-exchange/escrow-coordinator/internal/chainadapter"
	"github.com/klingon-exchange/escrow-coordinator/internal/storage"
)

// staleAfterMissedPolls is how many consecutive polls a previously-seen,
// not-yet-finalized deposit may go missing from the adapter's listing
// before it's treated as a reorg signal and removed. A deposit that has
// already cleared the chain's collection-confirms margin is never
// dropped this way — only a revert the adapter itself reports would
// explain that, and the adapter contract doesn't expose one.
const staleAfterMissedPolls = 2

// AdapterLookup resolves a chain symbol to the adapter that talks to it.
// A plain function type rather than an interface since the engine's
// adapter registry is just a map in practice (§4.4's family split is
// handled inside each adapter, not by this package).
type AdapterLookup func(chain string) (chainadapter.Adapter, bool)

// Tracker polls adapters and upserts what it finds into storage.
type Tracker struct {
	store    *storage.Storage
	adapters AdapterLookup
}

// New builds a Tracker.
func New(store *storage.Storage, adapters AdapterLookup) *Tracker {
	return &Tracker{store: store, adapters: adapters}
}

// PollSide fetches deposits for both the trade asset and the commission
// currency (when it differs) at one deal side's escrow address, upserts
// them, and ages out any previously-seen deposit that has stopped
// appearing in the adapter's listing (§4.2's reorg-disappearance rule).
func (t *Tracker) PollSide(ctx context.Context, dealID string, side storage.DealSide, sideRec *storage.DealSideRecord, commissionAsset string) error {
	adapter, ok := t.adapters(sideRec.EscrowChain)
	if !ok {
		return fmt.Errorf("deposit: no adapter registered for chain %q", sideRec.EscrowChain)
	}

	present := map[string]bool{}
	for _, assetCode := range distinctAssets(sideRec.Asset, commissionAsset) {
		result, err := adapter.ListConfirmedDeposits(ctx, assetCode, sideRec.EscrowAddress, 0, nil)
		if err != nil {
			return fmt.Errorf("deposit: list %s deposits at %s: %w", assetCode, sideRec.EscrowAddress, err)
		}
		for _, d := range result.Deposits {
			present[d.TxID] = true
			rec := &storage.DepositRecord{
				DealID:        dealID,
				Side:          side,
				Chain:         sideRec.EscrowChain,
				EscrowAddress: sideRec.EscrowAddress,
				Asset:         assetCode,
				Amount:        d.Amount,
				TxID:          d.TxID,
				OutputIndex:   outputIndexOrZero(d.OutputIndex),
				BlockHeight:   d.BlockHeight,
				BlockTime:     d.BlockTime,
				Confirmations: d.Confirmations,
			}
			if err := t.store.UpsertDeposit(rec); err != nil {
				return fmt.Errorf("deposit: upsert %s: %w", d.TxID, err)
			}
		}
	}

	if err := t.store.MarkDepositMissed(dealID, side, present); err != nil {
		return fmt.Errorf("deposit: mark missed: %w", err)
	}

	existing, err := t.store.ListDeposits(dealID, side)
	if err != nil {
		return fmt.Errorf("deposit: list existing: %w", err)
	}
	collectConfirms := adapter.CollectConfirms()
	for _, e := range existing {
		if present[e.TxID] {
			continue
		}
		if e.MissedPolls >= staleAfterMissedPolls && e.Confirmations < collectConfirms {
			if err := t.store.DeleteDeposit(e.ID); err != nil {
				return fmt.Errorf("deposit: delete stale %s: %w", e.TxID, err)
			}
		}
	}

	return nil
}

func distinctAssets(tradeAsset, commissionAsset string) []string {
	if tradeAsset == commissionAsset {
		return []string{tradeAsset}
	}
	return []string{tradeAsset, commissionAsset}
}

func outputIndexOrZero(idx *uint32) uint32 {
	if idx == nil {
		return 0
	}
	return *idx
}
