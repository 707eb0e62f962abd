// Package queue schedules and submits the transfer-plan items a deal's
// escrows need to pay out, per the §4.3 queue processor algorithm:
// nonce-serialized submission on account chains, a three-phase barrier
// on UTXO chains, confirmation watching, and stuck-transaction recovery.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/klingon-exchange/escrow-coordinator/internal/chainadapter"
	"github.com/klingon-exchange/escrow-coordinator/internal/money"
	"github.com/klingon-exchange/escrow-coordinator/internal/storage"
)

// AdapterLookup resolves a chain symbol to the adapter that talks to it.
type AdapterLookup func(chain string) (chainadapter.Adapter, bool)

// RecoveryPolicy controls stuck-transaction recovery timing, which is
// chain-dependent (§4.3: "e.g., 300s EVM").
type RecoveryPolicy struct {
	RecoveryAfter        func(chain string) time.Duration
	MaxRecoveryAttempts  int
	BumpedFeeFor         func(chain string, attempt int) string // opaque fee/gas-price string recorded, not interpreted here
}

// Processor drives one deal's queue items forward by one engine tick.
type Processor struct {
	store    *storage.Storage
	adapters AdapterLookup
	recovery RecoveryPolicy
}

// New builds a Processor.
func New(store *storage.Storage, adapters AdapterLookup, recovery RecoveryPolicy) *Processor {
	return &Processor{store: store, adapters: adapters, recovery: recovery}
}

// Tick advances every queue item belonging to dealID by one step:
// confirmation-watch SUBMITTED items, recover stuck ones, then submit at
// most one newly-eligible item per source address.
func (p *Processor) Tick(ctx context.Context, dealID string) error {
	items, err := p.store.ListQueueItems(dealID)
	if err != nil {
		return fmt.Errorf("queue: list items for %s: %w", dealID, err)
	}

	bySource := map[string][]*storage.QueueItemRecord{}
	for _, item := range items {
		bySource[item.SourceAddress] = append(bySource[item.SourceAddress], item)
	}

	for source, sourceItems := range bySource {
		sort.Slice(sourceItems, func(i, j int) bool { return sourceItems[i].Seq < sourceItems[j].Seq })

		if err := p.watchSubmitted(ctx, sourceItems); err != nil {
			return fmt.Errorf("queue: watch submitted items for %s: %w", source, err)
		}
		if err := p.submitNext(ctx, sourceItems); err != nil {
			return fmt.Errorf("queue: submit next item for %s: %w", source, err)
		}
	}

	return nil
}

// watchSubmitted polls confirmations for every SUBMITTED item and applies
// the stuck-transaction recovery rule.
func (p *Processor) watchSubmitted(ctx context.Context, items []*storage.QueueItemRecord) error {
	for _, item := range items {
		if item.Status != storage.QueueStatusSubmitted {
			continue
		}
		adapter, ok := p.adapters(item.Chain)
		if !ok {
			return fmt.Errorf("no adapter registered for chain %q", item.Chain)
		}

		confs, err := adapter.GetTxConfirmations(ctx, item.TxID)
		if err != nil {
			var adapterErr *chainadapter.Error
			if errors.As(err, &adapterErr) && adapterErr.Kind == chainadapter.KindUnknownTxid {
				if err := p.store.RevertToPending(item.ID); err != nil {
					return err
				}
				continue
			}
			return err
		}

		if err := p.store.UpdateConfirmations(item.ID, confs); err != nil {
			return err
		}
		// Mirror the stored transition so submitNext sees this tick's
		// completions.
		item.Confirmations = confs
		if confs >= item.RequiredConfirms {
			item.Status = storage.QueueStatusCompleted
			continue
		}

		if confs == 0 && p.recovery.RecoveryAfter != nil {
			stuckSince := time.Since(item.SubmittedAt)
			if stuckSince > p.recovery.RecoveryAfter(item.Chain) {
				if err := p.recoverStuck(ctx, item, adapter); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// recoverStuck rebroadcasts a stalled SUBMITTED transaction through a
// fresh adapter.Send and records the attempt (§4.3). The adapter chooses
// the fee as it does for any Send; the BumpedFeeFor value is only
// recorded as last_gas_price and is not passed to the adapter. Once
// MaxRecoveryAttempts is exceeded the item is marked FAILED and nothing
// is rebroadcast.
func (p *Processor) recoverStuck(ctx context.Context, item *storage.QueueItemRecord, adapter chainadapter.Adapter) error {
	gasPrice := ""
	if p.recovery.BumpedFeeFor != nil {
		gasPrice = p.recovery.BumpedFeeFor(item.Chain, item.AttemptCount+1)
	}
	maxAttempts := p.recovery.MaxRecoveryAttempts
	if item.AttemptCount+1 > maxAttempts {
		// Exhausted: RecordRecoveryAttempt marks the item FAILED.
		return p.store.RecordRecoveryAttempt(item.ID, gasPrice, maxAttempts)
	}

	result, sendErr := adapter.Send(ctx, item.Asset, item.SourceAddress, item.DestinationAddress, item.Amount)
	if err := p.store.RecordRecoveryAttempt(item.ID, gasPrice, maxAttempts); err != nil {
		return err
	}
	if sendErr != nil {
		// A rejected rebroadcast still counted as an attempt above; the
		// item stays SUBMITTED and the next tick tries again or gives up.
		return nil
	}
	return p.store.MarkSubmitted(item.ID, result.TxID, result.NonceOrInputs)
}

// submitNext finds and submits the single next-eligible PENDING item for
// one source address, honoring I4 (account chains: nonce order, at most
// one in flight) and the UTXO phase barrier.
func (p *Processor) submitNext(ctx context.Context, sourceItems []*storage.QueueItemRecord) error {
	if len(sourceItems) == 0 {
		return nil
	}

	for _, item := range sourceItems {
		if item.Status == storage.QueueStatusSubmitting || item.Status == storage.QueueStatusSubmitted {
			// I4: a source with anything already in flight waits.
			return nil
		}
	}

	asset, ok := money.Lookup(sourceItems[0].Asset)
	if !ok {
		return fmt.Errorf("unknown asset %q", sourceItems[0].Asset)
	}

	var next *storage.QueueItemRecord
	switch asset.Family {
	case money.FamilyAccount:
		next = nextAccountItem(sourceItems)
	case money.FamilyUTXO:
		next = nextUTXOItem(sourceItems)
	default:
		return fmt.Errorf("unhandled asset family %q", asset.Family)
	}
	if next == nil {
		return nil
	}

	adapter, ok := p.adapters(next.Chain)
	if !ok {
		return fmt.Errorf("no adapter registered for chain %q", next.Chain)
	}

	switch asset.Family {
	case money.FamilyAccount:
		return p.submitAccountItem(ctx, next, adapter)
	default:
		return p.submitUTXOItem(ctx, next, adapter)
	}
}

// nextAccountItem picks the lowest-seq PENDING item whose predecessors
// on this source are all COMPLETED.
func nextAccountItem(sourceItems []*storage.QueueItemRecord) *storage.QueueItemRecord {
	completed := true
	for _, item := range sourceItems {
		if item.Status == storage.QueueStatusPending {
			if completed {
				return item
			}
			return nil
		}
		if item.Status != storage.QueueStatusCompleted {
			completed = false
		}
	}
	return nil
}

// nextUTXOItem picks the lowest-seq PENDING item whose phase barrier is
// satisfied: every prior phase for this source is either all-COMPLETED
// or entirely empty (§4.3's "zero items" case, which is distinct from
// "all completed" but treated the same for barrier purposes).
func nextUTXOItem(sourceItems []*storage.QueueItemRecord) *storage.QueueItemRecord {
	phaseStatus := map[storage.QueuePhase][]storage.QueueStatus{}
	for _, item := range sourceItems {
		phaseStatus[item.Phase] = append(phaseStatus[item.Phase], item.Status)
	}

	phaseReady := func(phase storage.QueuePhase) bool {
		statuses, ok := phaseStatus[phase]
		if !ok || len(statuses) == 0 {
			return true // empty phase, treated as complete
		}
		for _, s := range statuses {
			if s != storage.QueueStatusCompleted {
				return false
			}
		}
		return true
	}

	for _, item := range sourceItems {
		if item.Status != storage.QueueStatusPending {
			continue
		}
		priorPhasesReady := true
		for phase := storage.PhaseSwap; phase < item.Phase; phase++ {
			if !phaseReady(phase) {
				priorPhasesReady = false
				break
			}
		}
		if priorPhasesReady {
			return item
		}
	}
	return nil
}

func (p *Processor) submitAccountItem(ctx context.Context, item *storage.QueueItemRecord, adapter chainadapter.Adapter) error {
	if _, err := p.store.SubmitAccountItem(item.ID, item.Chain, item.SourceAddress); err != nil {
		return err
	}

	result, err := adapter.Send(ctx, item.Asset, item.SourceAddress, item.DestinationAddress, item.Amount)
	if err != nil {
		return p.store.RevertToPending(item.ID)
	}

	return p.store.MarkSubmitted(item.ID, result.TxID, result.NonceOrInputs)
}

func (p *Processor) submitUTXOItem(ctx context.Context, item *storage.QueueItemRecord, adapter chainadapter.Adapter) error {
	if err := p.store.MarkSubmitting(item.ID); err != nil {
		return err
	}

	result, err := adapter.Send(ctx, item.Asset, item.SourceAddress, item.DestinationAddress, item.Amount)
	if err != nil {
		return p.store.RevertToPending(item.ID)
	}

	return p.store.MarkSubmitted(item.ID, result.TxID, result.NonceOrInputs)
}
