// Package planner builds the fixed-order transfer plan for one deal side
// on WAITING -> SWAP (§4.3): a payout, a commission, and a surplus
// refund, or — when the side's chain has a broker contract configured —
// a single broker item replacing all three.
package planner

import (
	"sort"

	"github.com/google/uuid"

	"github.com/klingon-exchange/escrow-coordinator/internal/lock"
	"github.com/klingon-exchange/escrow-coordinator/internal/money"
	"github.com/klingon-exchange/escrow-coordinator/internal/storage"
)

// SideParams is everything the builder needs to plan one side's escrow
// payout. The caller (the engine) assembles this from the deal record,
// the commission plan frozen at COLLECTION, and the side's confirmed
// deposits.
type SideParams struct {
	DealID              string
	Side                storage.DealSide
	SourceChain         string
	SourceEscrowAddress string
	TradeAsset          string
	CommissionAsset     string
	CommissionScale     int32
	TradeAmount         money.Amount // R_trade
	CommissionPlan      lock.Plan
	OtherPartyRecipient string // this side's SWAP_PAYOUT destination
	PaybackAddress      string // this side's own SURPLUS_REFUND destination
	OperatorAddress     string
	RequiredConfirms    uint32
	StartSeq            int64 // first free seq for (DealID, SourceEscrowAddress)

	// Deposits are the side's confirmed deposits across every asset the
	// escrow holds, used to compute the surplus (§4.3: "computed from
	// confirmed deposits, not raw balance").
	Deposits []*storage.DepositRecord

	// BrokerContract is the broker contract address for SourceChain, or
	// empty if none is configured. Non-empty triggers the single-item
	// broker plan instead of the three-item phased plan (Open Question 1:
	// only ever set for account-family chains — see DESIGN.md).
	BrokerContract string
}

// BuildSidePlan emits the side's queue items in fixed purpose order, each
// with a distinct, monotonically increasing seq starting at StartSeq.
func BuildSidePlan(p SideParams) ([]*storage.QueueItemRecord, error) {
	if p.BrokerContract != "" {
		return buildBrokerPlan(p)
	}
	return buildPhasedPlan(p)
}

func buildBrokerPlan(p SideParams) ([]*storage.QueueItemRecord, error) {
	rComm, err := p.CommissionPlan.RequiredCommission(p.TradeAmount, p.CommissionScale)
	if err != nil {
		return nil, err
	}
	item := newItem(p, storage.PurposeBrokerSwap, storage.PhaseNone, p.StartSeq, p.TradeAsset, p.TradeAmount, p.BrokerContract)
	// The broker contract itself routes payout/commission/refund once
	// called; the engine passes it the trade amount and lets the
	// contract's own accounting split out the commission it was
	// deployed with. The planned amount recorded here is the trade
	// amount the escrow hands to the contract, not R_comm — R_comm is
	// informational only for a broker-mode side.
	_ = rComm
	return []*storage.QueueItemRecord{item}, nil
}

func buildPhasedPlan(p SideParams) ([]*storage.QueueItemRecord, error) {
	var items []*storage.QueueItemRecord
	seq := p.StartSeq

	consumed := map[string]money.Amount{}

	// 1. SWAP_PAYOUT — exact R_trade, to the other party's recipient.
	if !p.TradeAmount.IsZero() {
		items = append(items, newItem(p, storage.PurposeSwapPayout, storage.PhaseSwap, seq, p.TradeAsset, p.TradeAmount, p.OtherPartyRecipient))
		seq++
		consumed[p.TradeAsset] = consumed[p.TradeAsset].Add(p.TradeAmount)
	}

	// 2. OP_COMMISSION — exact R_comm, to the chain's operator address.
	rComm, err := p.CommissionPlan.RequiredCommission(p.TradeAmount, p.CommissionScale)
	if err != nil {
		return nil, err
	}
	if !rComm.IsZero() {
		items = append(items, newItem(p, storage.PurposeOpCommission, storage.PhaseCommission, seq, p.CommissionAsset, rComm, p.OperatorAddress))
		seq++
		consumed[p.CommissionAsset] = consumed[p.CommissionAsset].Add(rComm)
	}

	// 3. SURPLUS_REFUND — one item per asset held in excess of 1-2's
	// spend, to this side's own payback address.
	balances := map[string]money.Amount{}
	for _, d := range p.Deposits {
		amt, err := money.NewFromString(d.Amount)
		if err != nil {
			return nil, err
		}
		balances[d.Asset] = balances[d.Asset].Add(amt)
	}

	assets := make([]string, 0, len(balances))
	for asset := range balances {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	for _, asset := range assets {
		surplus := balances[asset].Sub(consumed[asset])
		if surplus.IsZero() || surplus.IsNegative() {
			continue
		}
		items = append(items, newItem(p, storage.PurposeSurplusRefund, storage.PhaseRefund, seq, asset, surplus, p.PaybackAddress))
		seq++
	}

	return items, nil
}

func newItem(p SideParams, purpose storage.QueuePurpose, phase storage.QueuePhase, seq int64, asset string, amount money.Amount, destination string) *storage.QueueItemRecord {
	return &storage.QueueItemRecord{
		ID:                  uuid.New().String(),
		DealID:              p.DealID,
		Chain:               p.SourceChain,
		SourceAddress:       p.SourceEscrowAddress,
		DestinationAddress:  destination,
		Asset:               asset,
		Amount:              amount.String(),
		Purpose:             purpose,
		Phase:               phase,
		Seq:                 seq,
		Status:              storage.QueueStatusPending,
		RequiredConfirms:    p.RequiredConfirms,
	}
}
