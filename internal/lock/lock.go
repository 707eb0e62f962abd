package lock

import (
	"time"

	"github.com/klingon-exchange/escrow-coordinator/internal/money"
	"github.com/klingon-exchange/escrow-coordinator/internal/storage"
)

// Eligible reports whether a deposit counts toward a side's lock
// evaluation (§4.2): it must have cleared the chain's collection-confirms
// margin, and its block must have landed before the deal's timeout —
// deliberately checked against block time, not when the deposit was
// observed, so a deposit that was late to confirm but landed in time
// still counts.
func Eligible(d *storage.DepositRecord, collectConfirms uint32, expiresAt time.Time) bool {
	if d.Confirmations < collectConfirms {
		return false
	}
	return !d.BlockTime.After(expiresAt)
}

// SumEligible totals the eligible deposits of one asset.
func SumEligible(deposits []*storage.DepositRecord, asset string, collectConfirms uint32, expiresAt time.Time) (money.Amount, error) {
	sum := money.Zero
	for _, d := range deposits {
		if d.Asset != asset || !Eligible(d, collectConfirms, expiresAt) {
			continue
		}
		amt, err := money.NewFromString(d.Amount)
		if err != nil {
			return money.Zero, err
		}
		sum = sum.Add(amt)
	}
	return sum, nil
}

// Result is the outcome of evaluating one deal side's deposits against
// its trade amount and commission plan.
type Result struct {
	TradeLocked      bool
	CommissionLocked bool
	ETrade           money.Amount // eligible deposits in the trade asset
	EComm            money.Amount // eligible deposits in the commission currency
	RTrade           money.Amount // required trade amount (deal.amount)
	RComm            money.Amount // required commission
}

// Locked reports whether both halves of I5 hold.
func (r Result) Locked() bool {
	return r.TradeLocked && r.CommissionLocked
}

// Evaluate runs the §4.2 lock predicate for one deal side.
//
//   - tradeAsset/commissionAsset are asset codes; commissionAsset may equal
//     tradeAsset (the common case, CurrencyAsset).
//   - tradeAmount is R_trade, the deal's declared amount for this side.
//   - plan is the side's frozen commission requirement.
//   - collectConfirms is the trade chain's finality margin for deposit
//     eligibility; commission deposits on the same escrow share it since
//     they arrive on the same chain.
//   - expiresAt is the deal's current timeout horizon.
func Evaluate(
	deposits []*storage.DepositRecord,
	tradeAsset, commissionAsset string,
	tradeAmount money.Amount,
	plan Plan,
	collectConfirms uint32,
	expiresAt time.Time,
) (Result, error) {
	eTrade, err := SumEligible(deposits, tradeAsset, collectConfirms, expiresAt)
	if err != nil {
		return Result{}, err
	}

	var eComm money.Amount
	if commissionAsset == tradeAsset {
		eComm = eTrade
	} else {
		eComm, err = SumEligible(deposits, commissionAsset, collectConfirms, expiresAt)
		if err != nil {
			return Result{}, err
		}
	}

	commissionScale := money.MustLookup(commissionAsset).Decimals
	rComm, err := plan.RequiredCommission(tradeAmount, commissionScale)
	if err != nil {
		return Result{}, err
	}

	result := Result{ETrade: eTrade, EComm: eComm, RTrade: tradeAmount, RComm: rComm}

	switch plan.Currency {
	case CurrencyAsset:
		// Both trade and commission are drawn from the same pool of
		// deposits, so one predicate covers both (§4.2: "same deposits
		// cover R_comm surplus over R_trade").
		required := tradeAmount.Add(rComm)
		covered := eTrade.GreaterThanOrEqual(required)
		result.TradeLocked = covered
		result.CommissionLocked = covered
	case CurrencyNative:
		result.TradeLocked = eTrade.GreaterThanOrEqual(tradeAmount)
		result.CommissionLocked = eComm.GreaterThanOrEqual(rComm)
	default:
		// An unrecognized currency can never lock: both flags stay false
		// and no error is returned.
	}

	return result, nil
}
