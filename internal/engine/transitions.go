package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/klingon-exchange/escrow-coordinator/internal/chainadapter"
	"github.com/klingon-exchange/escrow-coordinator/internal/lock"
	"github.com/klingon-exchange/escrow-coordinator/internal/money"
	"github.com/klingon-exchange/escrow-coordinator/internal/planner"
	"github.com/klingon-exchange/escrow-coordinator/internal/storage"
)

// processCollection polls deposits for both sides, reverts on timeout,
// and promotes to WAITING once both sides lock (§4.1 row 1-2, §4.2).
func (e *Engine) processCollection(ctx context.Context, deal *storage.DealRecord) error {
	if err := e.pollBothSides(ctx, deal); err != nil {
		return err
	}

	if !deal.ExpiresAt.IsZero() && time.Now().After(deal.ExpiresAt) {
		return e.revertForTimeout(deal)
	}

	lockedA, err := e.evaluateSide(deal, storage.SideA)
	if err != nil {
		return err
	}
	lockedB, err := e.evaluateSide(deal, storage.SideB)
	if err != nil {
		return err
	}
	if !lockedA.Locked() || !lockedB.Locked() {
		return nil
	}

	now := time.Now()
	if err := e.store.SetLock(deal.ID, storage.SideA, true, now); err != nil {
		return err
	}
	if err := e.store.SetLock(deal.ID, storage.SideA, false, now); err != nil {
		return err
	}
	if err := e.store.SetLock(deal.ID, storage.SideB, true, now); err != nil {
		return err
	}
	if err := e.store.SetLock(deal.ID, storage.SideB, false, now); err != nil {
		return err
	}

	// "Suspend timer (retain value)": expiresAt is passed through
	// unchanged, just no longer checked until a reversion resumes it.
	return e.store.UpdateDealStage(deal.ID, storage.DealStageWaiting, deal.ExpiresAt, false)
}

// processWaiting re-polls and re-checks both sides' locks. If a side has
// fallen out of lock (reorg/disappeared deposit) the deal downgrades back
// to COLLECTION, resuming the timer; the next tick then applies the
// timeout check from processCollection, which is how a downgrade can
// still end in REVERTED (§4.1 row "WAITING -> REVERTED"). If both sides
// are still locked, this is the "one full engine tick stable" signal the
// spec requires (entry into WAITING happened on a prior tick) and the
// deal advances straight to SWAP with its transfer plan built.
func (e *Engine) processWaiting(ctx context.Context, deal *storage.DealRecord) error {
	if err := e.pollBothSides(ctx, deal); err != nil {
		return err
	}

	lockedA, err := e.evaluateSide(deal, storage.SideA)
	if err != nil {
		return err
	}
	lockedB, err := e.evaluateSide(deal, storage.SideB)
	if err != nil {
		return err
	}

	if !lockedA.Locked() || !lockedB.Locked() {
		if err := e.store.ClearLocks(deal.ID); err != nil {
			return err
		}
		return e.store.UpdateDealStage(deal.ID, storage.DealStageCollection, deal.ExpiresAt, false)
	}

	if err := e.buildAndEnqueuePlan(ctx, deal); err != nil {
		return fmt.Errorf("build transfer plan: %w", err)
	}

	// "Clear expiresAt permanently": SWAP cannot time out (§4.1).
	return e.store.UpdateDealStage(deal.ID, storage.DealStageSwap, time.Time{}, false)
}

// processSwap advances the queue and closes the deal once every
// non-refund item has completed. A terminally FAILED item is surfaced
// rather than silently reverting the deal (Open Question 2). Before
// closing, any side that received a gas top-up ahead of its SWAP_PAYOUT
// gets one more item queued: a GAS_REFUND_TO_TANK sweep of the leftover
// native currency, which defers closure to the tick that lands it.
func (e *Engine) processSwap(ctx context.Context, deal *storage.DealRecord) error {
	if err := e.queueProcessor.Tick(ctx, deal.ID); err != nil {
		return err
	}

	items, err := e.store.ListQueueItems(deal.ID)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	allDone := true
	for _, item := range items {
		if item.Status == storage.QueueStatusFailed {
			return e.surfaceFailedItem(deal, item)
		}
		if item.Status != storage.QueueStatusCompleted {
			allDone = false
		}
	}
	if !allDone {
		return nil
	}

	swept, err := e.enqueueGasTankSweeps(deal, items)
	if err != nil {
		return fmt.Errorf("enqueue gas tank sweeps: %w", err)
	}
	if swept {
		return nil
	}

	return e.store.UpdateDealStage(deal.ID, storage.DealStageClosed, time.Time{}, true)
}

// enqueueGasTankSweeps queues a GAS_REFUND_TO_TANK item, to the
// configured gas-tank address, for each side whose escrow was topped up
// with native currency ahead of a SWAP_PAYOUT (§4.3 "Gas funding
// (EVM only)"). It never fires for UTXO escrows (guarded by assetFamily)
// or for a chain with no gas-tank address configured. Returns true if it
// enqueued anything.
func (e *Engine) enqueueGasTankSweeps(deal *storage.DealRecord, items []*storage.QueueItemRecord) (bool, error) {
	swept := false
	for _, side := range []storage.DealSide{storage.SideA, storage.SideB} {
		sideRec := deal.Side(side)
		if assetFamily(sideRec.Asset) != money.FamilyAccount || isNativeAsset(sideRec.Asset) {
			continue
		}
		tankAddress := e.gasTankFor(sideRec.EscrowChain)
		if tankAddress == "" {
			continue
		}

		hadPayout, alreadySwept := false, false
		for _, item := range items {
			if item.SourceAddress != sideRec.EscrowAddress {
				continue
			}
			switch item.Purpose {
			case storage.PurposeSwapPayout:
				hadPayout = true
			case storage.PurposeGasRefundToTank:
				alreadySwept = true
			}
		}
		if !hadPayout || alreadySwept {
			continue
		}

		adapter, ok := e.adapters(sideRec.EscrowChain)
		if !ok || !adapter.ValidateAddress(tankAddress) {
			continue
		}
		nativeAsset := nativeAssetFor(sideRec.Asset)
		if nativeAsset == "" {
			continue
		}

		seq, err := e.store.NextSeq(deal.ID, sideRec.EscrowAddress)
		if err != nil {
			return false, err
		}
		item := &storage.QueueItemRecord{
			ID: uuid.New().String(), DealID: deal.ID, Chain: sideRec.EscrowChain,
			SourceAddress: sideRec.EscrowAddress, DestinationAddress: tankAddress,
			Asset: nativeAsset, Amount: e.gasFundingFloor, Purpose: storage.PurposeGasRefundToTank,
			Phase: storage.PhaseRefund, Seq: seq, Status: storage.QueueStatusPending,
			RequiredConfirms: adapter.RequiredConfirms(),
		}
		if err := e.store.EnqueueItems([]*storage.QueueItemRecord{item}); err != nil {
			return false, err
		}
		swept = true
	}
	return swept, nil
}

// processReverted drives TIMEOUT_REFUND items to completion and closes
// the deal once they all land.
func (e *Engine) processReverted(ctx context.Context, deal *storage.DealRecord) error {
	if err := e.queueProcessor.Tick(ctx, deal.ID); err != nil {
		return err
	}

	items, err := e.store.ListQueueItems(deal.ID)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		// Nothing was confirmed to refund (e.g. cancelled pre-deposit).
		return e.store.UpdateDealStage(deal.ID, storage.DealStageClosed, time.Time{}, true)
	}

	for _, item := range items {
		if item.Status == storage.QueueStatusFailed {
			return e.surfaceFailedItem(deal, item)
		}
		if item.Status != storage.QueueStatusCompleted {
			return nil
		}
	}
	return e.store.UpdateDealStage(deal.ID, storage.DealStageClosed, time.Time{}, true)
}

// processLateDeposits implements the CLOSED -> CLOSED self-transition: a
// deposit confirmed within lateWindow of closing is refunded to the
// depositor's payback address rather than left stranded at the escrow.
func (e *Engine) processLateDeposits(ctx context.Context) error {
	since := time.Now().Add(-e.lateWindow)
	deals, err := e.store.GetDealsClosedSince(since)
	if err != nil {
		return fmt.Errorf("engine: list recently closed deals: %w", err)
	}

	for _, deal := range deals {
		until := time.Now().Add(e.leaseDuration)
		if err := e.store.AcquireLease(deal.ID, e.ownerID, until); err != nil {
			continue
		}

		if err := e.pollBothSides(ctx, deal); err != nil {
			e.log.Error("late-deposit poll failed", "deal", deal.ID, "error", err)
		} else if err := e.enqueueLateRefunds(deal); err != nil {
			e.log.Error("late-deposit refund enqueue failed", "deal", deal.ID, "error", err)
		} else if err := e.queueProcessor.Tick(ctx, deal.ID); err != nil {
			e.log.Error("late-deposit queue tick failed", "deal", deal.ID, "error", err)
		}

		if err := e.store.ReleaseLease(deal.ID, e.ownerID); err != nil {
			e.log.Error("release lease failed", "deal", deal.ID, "error", err)
		}
	}
	return nil
}

// enqueueLateRefunds finds deposits on a CLOSED deal with no queue item
// covering their (asset, source) yet and queues a refund to payback.
func (e *Engine) enqueueLateRefunds(deal *storage.DealRecord) error {
	for _, side := range []storage.DealSide{storage.SideA, storage.SideB} {
		sideRec := deal.Side(side)
		deposits, err := e.store.ListDeposits(deal.ID, side)
		if err != nil {
			return err
		}
		existing, err := e.store.ListQueueItems(deal.ID)
		if err != nil {
			return err
		}
		alreadyQueued := map[string]bool{}
		for _, item := range existing {
			if item.SourceAddress == sideRec.EscrowAddress {
				alreadyQueued[item.Asset] = true
			}
		}

		byAsset := map[string]money.Amount{}
		for _, d := range deposits {
			amt, err := money.NewFromString(d.Amount)
			if err != nil {
				return err
			}
			byAsset[d.Asset] = byAsset[d.Asset].Add(amt)
		}

		seq, err := e.store.NextSeq(deal.ID, sideRec.EscrowAddress)
		if err != nil {
			return err
		}
		var toEnqueue []*storage.QueueItemRecord
		for asset, amt := range byAsset {
			if alreadyQueued[asset] || amt.IsZero() {
				continue
			}
			toEnqueue = append(toEnqueue, &storage.QueueItemRecord{
				ID: uuid.New().String(), DealID: deal.ID, Chain: sideRec.EscrowChain,
				SourceAddress: sideRec.EscrowAddress, DestinationAddress: sideRec.PaybackAddress,
				Asset: asset, Amount: amt.String(), Purpose: storage.PurposeSurplusRefund,
				Seq: seq, Status: storage.QueueStatusPending, RequiredConfirms: 1,
			})
			seq++
		}
		if len(toEnqueue) > 0 {
			if err := e.store.EnqueueItems(toEnqueue); err != nil {
				return err
			}
		}
	}
	return nil
}

// revertForTimeout enqueues one TIMEOUT_REFUND per asset per side, for the
// sum of that side's confirmed deposits of the asset, and transitions the
// deal to REVERTED. I6 is enforced by EnqueueTimeoutRefund itself; a
// refund it rejects with ErrRefundConflict is skipped and is not enqueued
// again later.
func (e *Engine) revertForTimeout(deal *storage.DealRecord) error {
	for _, side := range []storage.DealSide{storage.SideA, storage.SideB} {
		sideRec := deal.Side(side)
		deposits, err := e.store.ListDeposits(deal.ID, side)
		if err != nil {
			return err
		}

		adapter, ok := e.adapters(sideRec.EscrowChain)
		if !ok {
			return fmt.Errorf("no adapter for chain %q", sideRec.EscrowChain)
		}
		collectConfirms := adapter.CollectConfirms()

		byAsset := map[string]money.Amount{}
		for _, d := range deposits {
			if d.Confirmations < collectConfirms {
				continue
			}
			amt, err := money.NewFromString(d.Amount)
			if err != nil {
				return err
			}
			byAsset[d.Asset] = byAsset[d.Asset].Add(amt)
		}

		seq, err := e.store.NextSeq(deal.ID, sideRec.EscrowAddress)
		if err != nil {
			return err
		}
		for asset, amt := range byAsset {
			if amt.IsZero() {
				continue
			}
			item := &storage.QueueItemRecord{
				ID: uuid.New().String(), DealID: deal.ID, Chain: sideRec.EscrowChain,
				SourceAddress: sideRec.EscrowAddress, DestinationAddress: sideRec.PaybackAddress,
				Asset: asset, Amount: amt.String(), Purpose: storage.PurposeTimeoutRefund,
				Seq: seq, Status: storage.QueueStatusPending, RequiredConfirms: adapter.RequiredConfirms(),
			}
			if err := e.store.EnqueueTimeoutRefund(item); err != nil {
				if err == storage.ErrRefundConflict {
					continue // I6: a payout/commission item is already in flight; this refund is skipped
				}
				return err
			}
			seq++
		}
	}

	return e.store.UpdateDealStage(deal.ID, storage.DealStageReverted, deal.ExpiresAt, false)
}

// surfaceFailedItem records an operator-visible error and leaves the
// deal in its current (SWAP or REVERTED) stage, per Open Question 2: the
// state machine never silently reverts past a terminal queue failure.
func (e *Engine) surfaceFailedItem(deal *storage.DealRecord, item *storage.QueueItemRecord) error {
	message := fmt.Sprintf("queue item %s (%s) failed: %s", item.ID, item.Purpose, item.FailureReason)
	if err := e.store.SetSurfacedError(deal.ID, message); err != nil {
		return err
	}
	payload, _ := json.Marshal(map[string]string{"queue_item_id": item.ID, "purpose": string(item.Purpose), "reason": item.FailureReason})
	return e.store.AppendDealEvent(deal.ID, "operator_intervention_required", payload)
}

// pollBothSides refreshes both sides' deposit ledgers from their adapters.
func (e *Engine) pollBothSides(ctx context.Context, deal *storage.DealRecord) error {
	if err := e.tracker.PollSide(ctx, deal.ID, storage.SideA, &deal.A, commissionAsset(deal, storage.SideA)); err != nil {
		return fmt.Errorf("poll side A: %w", err)
	}
	if err := e.tracker.PollSide(ctx, deal.ID, storage.SideB, &deal.B, commissionAsset(deal, storage.SideB)); err != nil {
		return fmt.Errorf("poll side B: %w", err)
	}
	return nil
}

// evaluateSide loads a side's current deposits and commission plan and
// runs the §4.2 lock evaluator against them.
func (e *Engine) evaluateSide(deal *storage.DealRecord, side storage.DealSide) (lock.Result, error) {
	sideRec := deal.Side(side)

	deposits, err := e.store.ListDeposits(deal.ID, side)
	if err != nil {
		return lock.Result{}, err
	}

	plan, err := lock.ParsePlan(sideRec.CommissionPlan)
	if err != nil {
		return lock.Result{}, fmt.Errorf("parse commission plan: %w", err)
	}

	adapter, ok := e.adapters(sideRec.EscrowChain)
	if !ok {
		return lock.Result{}, fmt.Errorf("no adapter for chain %q", sideRec.EscrowChain)
	}

	tradeAmount, err := money.NewFromString(sideRec.Amount)
	if err != nil {
		return lock.Result{}, err
	}

	return lock.Evaluate(deposits, sideRec.Asset, commissionAsset(deal, side), tradeAmount, plan, adapter.CollectConfirms(), deal.ExpiresAt)
}

// commissionAsset is the commission currency for a side: the trade asset
// itself when the plan pays commission in ASSET, or that chain's native
// asset when it pays in NATIVE.
func commissionAsset(deal *storage.DealRecord, side storage.DealSide) string {
	sideRec := deal.Side(side)
	plan, err := lock.ParsePlan(sideRec.CommissionPlan)
	if err != nil || plan.Currency == lock.CurrencyAsset {
		return sideRec.Asset
	}
	asset, ok := money.Lookup(sideRec.Asset)
	if !ok {
		return sideRec.Asset
	}
	for _, a := range money.AssetsForChain(asset.Chain) {
		if a.Native {
			return a.Code
		}
	}
	return sideRec.Asset
}

// buildAndEnqueuePlan builds and persists both sides' transfer plans on
// WAITING -> SWAP (§4.3).
func (e *Engine) buildAndEnqueuePlan(ctx context.Context, deal *storage.DealRecord) error {
	for _, side := range []storage.DealSide{storage.SideA, storage.SideB} {
		other := storage.SideB
		if side == storage.SideB {
			other = storage.SideA
		}
		sideRec := deal.Side(side)
		otherRec := deal.Side(other)

		plan, err := lock.ParsePlan(sideRec.CommissionPlan)
		if err != nil {
			return err
		}
		commAsset := commissionAsset(deal, side)
		commScale := money.MustLookup(commAsset).Decimals

		adapter, ok := e.adapters(sideRec.EscrowChain)
		if !ok {
			return fmt.Errorf("no adapter for chain %q", sideRec.EscrowChain)
		}

		deposits, err := e.store.ListDeposits(deal.ID, side)
		if err != nil {
			return err
		}
		tradeAmount, err := money.NewFromString(sideRec.Amount)
		if err != nil {
			return err
		}

		startSeq, err := e.store.NextSeq(deal.ID, sideRec.EscrowAddress)
		if err != nil {
			return err
		}

		broker := ""
		if assetFamily(sideRec.Asset) == money.FamilyAccount {
			broker = e.brokerFor(sideRec.EscrowChain)
		}

		items, err := planner.BuildSidePlan(planner.SideParams{
			DealID: deal.ID, Side: side,
			SourceChain: sideRec.EscrowChain, SourceEscrowAddress: sideRec.EscrowAddress,
			TradeAsset: sideRec.Asset, CommissionAsset: commAsset, CommissionScale: commScale,
			TradeAmount: tradeAmount, CommissionPlan: plan,
			OtherPartyRecipient: otherRec.RecipientAddress, PaybackAddress: sideRec.PaybackAddress,
			OperatorAddress: adapter.OperatorAddress(), RequiredConfirms: adapter.RequiredConfirms(),
			StartSeq: startSeq, Deposits: deposits, BrokerContract: broker,
		})
		if err != nil {
			return fmt.Errorf("build plan for side %s: %w", side, err)
		}
		if len(items) == 0 {
			continue
		}

		if assetFamily(sideRec.Asset) == money.FamilyAccount && !isNativeAsset(sideRec.Asset) && hasPurpose(items, storage.PurposeSwapPayout) {
			if err := adapter.EnsureFeeBudget(ctx, sideRec.EscrowAddress, sideRec.Asset, chainadapter.FeeIntentERC20Transfer, e.gasFundingFloor); err != nil {
				return fmt.Errorf("ensure fee budget for side %s: %w", side, err)
			}
		}

		if err := e.store.EnqueueItems(items); err != nil {
			return err
		}
	}
	return nil
}

func assetFamily(code string) money.AssetFamily {
	a, ok := money.Lookup(code)
	if !ok {
		return money.FamilyAccount
	}
	return a.Family
}

// isNativeAsset reports whether code is the gas-paying currency of its
// own chain.
func isNativeAsset(code string) bool {
	a, ok := money.Lookup(code)
	return ok && a.Native
}

// nativeAssetFor returns code's chain's native gas currency, or "" if
// code is not registered.
func nativeAssetFor(code string) string {
	a, ok := money.Lookup(code)
	if !ok {
		return ""
	}
	if a.Native {
		return code
	}
	for _, candidate := range money.AssetsForChain(a.Chain) {
		if candidate.Native {
			return candidate.Code
		}
	}
	return ""
}

// hasPurpose reports whether items contains an entry with the given
// purpose.
func hasPurpose(items []*storage.QueueItemRecord, purpose storage.QueuePurpose) bool {
	for _, item := range items {
		if item.Purpose == purpose {
			return true
		}
	}
	return false
}
