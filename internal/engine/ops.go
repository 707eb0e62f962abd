package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/klingon-exchange/escrow-coordinator/internal/chainadapter"
	"github.com/klingon-exchange/escrow-coordinator/internal/storage"
)

// Errors returned by the engine's external-facing operations (§6).
var (
	ErrAlreadyFilled  = errors.New("engine: party details already submitted")
	ErrNotCancellable = errors.New("engine: deal is not in CREATED and cannot be cancelled")
	ErrBadLinkToken   = errors.New("engine: link token does not match this deal")
)

// StatusResult is the read-only projection a JSON-RPC façade's `status`
// call would return (§6): stage, timer, collection progress, the queue
// items acting as settlement transactions, the event log, and the
// frozen commission plan for each side.
type StatusResult struct {
	DealID        string
	Stage         storage.DealStage
	ExpiresAt     *time.Time
	SurfacedError string
	CollectionA   []*storage.DepositRecord
	CollectionB   []*storage.DepositRecord
	Transactions  []*storage.QueueItemRecord
	Events        []*storage.DealEvent
	CommissionA   storage.DealSideRecord
	CommissionB   storage.DealSideRecord
}

// Status is a pure read of persistence; it does not touch a lease.
func (e *Engine) Status(dealID string) (*StatusResult, error) {
	deal, err := e.store.GetDeal(dealID)
	if err != nil {
		return nil, err
	}

	collectionA, err := e.store.ListDeposits(dealID, storage.SideA)
	if err != nil {
		return nil, err
	}
	collectionB, err := e.store.ListDeposits(dealID, storage.SideB)
	if err != nil {
		return nil, err
	}
	items, err := e.store.ListQueueItems(dealID)
	if err != nil {
		return nil, err
	}
	events, err := e.store.GetDealEvents(dealID)
	if err != nil {
		return nil, err
	}

	result := &StatusResult{
		DealID: deal.ID, Stage: deal.Stage, SurfacedError: deal.SurfacedError,
		CollectionA: collectionA, CollectionB: collectionB,
		Transactions: items, Events: events,
		CommissionA: deal.A, CommissionB: deal.B,
	}
	if !deal.ExpiresAt.IsZero() {
		expiresAt := deal.ExpiresAt
		result.ExpiresAt = &expiresAt
	}
	return result, nil
}

// FillDetails writes one party's details. Once both sides have
// submitted, it acquires the deal's lease and drives CREATED ->
// COLLECTION itself (generating escrows, freezing the commission plan,
// and setting expiresAt), matching §6's "triggers ... under a lease".
func (e *Engine) FillDetails(ctx context.Context, dealID string, side storage.DealSide, payback, recipient, email string) error {
	deal, err := e.store.GetDeal(dealID)
	if err != nil {
		return err
	}
	if deal.Stage != storage.DealStageCreated {
		return ErrAlreadyFilled
	}

	sideRec := deal.Side(side)
	if sideRec.PaybackAddress != "" && sideRec.RecipientAddress != "" {
		return ErrAlreadyFilled
	}

	adapter, ok := e.adapters(sideRec.Chain)
	if !ok {
		return chainadapter.NewError(sideRec.Chain, "fillDetails", chainadapter.KindAddressFormatIncompatible, nil)
	}
	if !adapter.ValidateAddress(payback) || !adapter.ValidateAddress(recipient) {
		return chainadapter.NewError(sideRec.Chain, "fillDetails", chainadapter.KindAddressFormatIncompatible, nil)
	}

	if err := e.store.SetPartyDetails(dealID, side, payback, recipient, email); err != nil {
		return err
	}

	deal, err = e.store.GetDeal(dealID)
	if err != nil {
		return err
	}
	if deal.A.PaybackAddress == "" || deal.A.RecipientAddress == "" ||
		deal.B.PaybackAddress == "" || deal.B.RecipientAddress == "" {
		// Still waiting on the other side.
		return nil
	}

	until := time.Now().Add(e.leaseDuration)
	if err := e.store.AcquireLease(dealID, e.ownerID, until); err != nil {
		return err
	}
	defer e.store.ReleaseLease(dealID, e.ownerID)

	return e.promoteToCollection(ctx, deal)
}

// promoteToCollection generates both escrows, freezes each side's
// commission plan, and transitions CREATED -> COLLECTION (§4.1 row 1).
func (e *Engine) promoteToCollection(ctx context.Context, deal *storage.DealRecord) error {
	for _, side := range []storage.DealSide{storage.SideA, storage.SideB} {
		sideRec := deal.Side(side)
		adapter, ok := e.adapters(sideRec.Chain)
		if !ok {
			return chainadapter.NewError(sideRec.Chain, "generateEscrow", chainadapter.KindAddressFormatIncompatible, nil)
		}

		party := chainadapter.PartyA
		if side == storage.SideB {
			party = chainadapter.PartyB
		}
		escrow, err := adapter.GenerateEscrow(ctx, sideRec.Asset, deal.ID, party)
		if err != nil {
			return err
		}
		if err := e.store.SetEscrow(deal.ID, side, sideRec.Chain, escrow.Address, escrow.HDPath); err != nil {
			return err
		}

		plan, err := e.commission(ctx, deal, side, adapter)
		if err != nil {
			return err
		}
		raw, err := plan.Marshal()
		if err != nil {
			return err
		}
		if err := e.store.FreezeCommissionPlan(deal.ID, side, raw); err != nil {
			return err
		}
	}

	return e.store.UpdateDealStage(deal.ID, storage.DealStageCollection, time.Now().Add(time.Duration(deal.TimeoutSeconds)*time.Second), false)
}

// Cancel is only valid in CREATED, before any deposit can exist, so it
// reverts with no refund plan to build (§6).
func (e *Engine) Cancel(dealID, token string) error {
	deal, err := e.store.GetDeal(dealID)
	if err != nil {
		return err
	}
	if deal.Stage != storage.DealStageCreated {
		return ErrNotCancellable
	}
	if deal.A.LinkToken != token && deal.B.LinkToken != token {
		return ErrBadLinkToken
	}

	return e.store.UpdateDealStage(dealID, storage.DealStageReverted, time.Time{}, true)
}

// NewLinkToken generates a personal-link token for a new deal side,
// matching the teacher's uuid-based id generation convention.
func NewLinkToken() string { return uuid.New().String() }
