// Package lock evaluates a deal side's commission plan and decides, from
// its confirmed deposits, whether the side is trade-locked and
// commission-locked (§4.2). It is a pure function of its inputs — no
// storage or chain-adapter calls happen here, so it is exercised entirely
// by table-driven tests.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/klingon-exchange/escrow-coordinator/internal/money"
)

// CommissionMode is how a side's commission requirement is computed.
type CommissionMode string

const (
	ModePercentBps     CommissionMode = "PERCENT_BPS"
	ModeFixedUSDNative CommissionMode = "FIXED_USD_NATIVE"
)

// CommissionCurrency is which token the commission is actually paid in.
type CommissionCurrency string

const (
	CurrencyAsset  CommissionCurrency = "ASSET"
	CurrencyNative CommissionCurrency = "NATIVE"
)

// OracleSnapshot records the price used to freeze a FIXED_USD_NATIVE
// commission into a native amount at countdown start.
type OracleSnapshot struct {
	Pair  string    `json:"pair"`
	Price string    `json:"price"`
	AsOf  time.Time `json:"asOf"`
	Source string   `json:"source"`
}

// Plan is a deal side's frozen commission requirement. It is stored
// verbatim as the JSON blob in storage.DealSideRecord.CommissionPlan —
// frozen at COLLECTION entry and never modified after (I3).
type Plan struct {
	Mode             CommissionMode      `json:"mode"`
	Currency         CommissionCurrency  `json:"currency"`
	PercentBps       int64               `json:"percentBps,omitempty"`
	ERC20FixedFee    string              `json:"erc20FixedFee,omitempty"`
	USDFixed         string              `json:"usdFixed,omitempty"`
	NativeFixed      string              `json:"nativeFixed,omitempty"`
	OracleSnapshot   *OracleSnapshot     `json:"oracleSnapshot,omitempty"`
	CoveredBySurplus bool                `json:"coveredBySurplus"`
}

// Marshal serializes the plan for storage in DealSideRecord.CommissionPlan.
func (p Plan) Marshal() (json.RawMessage, error) {
	return json.Marshal(p)
}

// ParsePlan reverses Marshal.
func ParsePlan(raw json.RawMessage) (Plan, error) {
	var p Plan
	if len(raw) == 0 {
		return p, errors.New("lock: empty commission plan")
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("lock: invalid commission plan: %w", err)
	}
	return p, nil
}

// RequiredCommission computes R_comm for this plan (§4.2):
//
//	floor(R_trade * percentBps / 10_000) + erc20FixedFee   for PERCENT_BPS
//	nativeFixed                                             for FIXED_USD_NATIVE
//
// scale is the decimal scale of the commission currency's asset — the
// floor always happens at the commission currency's scale, never the
// trade asset's.
func (p Plan) RequiredCommission(tradeAmount money.Amount, scale int32) (money.Amount, error) {
	switch p.Mode {
	case ModePercentBps:
		r := tradeAmount.MulBpsFloor(p.PercentBps, scale)
		if p.ERC20FixedFee != "" {
			fee, err := money.NewFromString(p.ERC20FixedFee)
			if err != nil {
				return money.Zero, err
			}
			r = r.Add(fee)
		}
		return r, nil
	case ModeFixedUSDNative:
		if p.NativeFixed == "" {
			return money.Zero, errors.New("lock: FIXED_USD_NATIVE plan missing nativeFixed")
		}
		return money.NewFromString(p.NativeFixed)
	default:
		return money.Zero, fmt.Errorf("lock: unknown commission mode %q", p.Mode)
	}
}
