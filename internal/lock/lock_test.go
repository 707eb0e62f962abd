package lock

import (
	"testing"
	"time"

	"github.com/klingon-exchange/escrow-coordinator/internal/money"
	"github.com/klingon-exchange/escrow-coordinator/internal/storage"
)

func dep(asset, amount string, confirmations uint32, blockTime time.Time) *storage.DepositRecord {
	return &storage.DepositRecord{Asset: asset, Amount: amount, Confirmations: confirmations, BlockTime: blockTime}
}

func TestEvaluateAssetCurrencyLocksOnSingleDeposit(t *testing.T) {
	// Worked example: 10 ALPHA side, 30 bps commission paid in ALPHA
	// itself. A deposit of 10.03 ALPHA covers both trade and commission.
	now := time.Now()
	expires := now.Add(time.Hour)
	plan := Plan{Mode: ModePercentBps, Currency: CurrencyAsset, PercentBps: 30}
	deposits := []*storage.DepositRecord{
		dep("ALPHA", "10.03", 6, now),
	}

	result, err := Evaluate(deposits, "ALPHA", "ALPHA", money.MustFromString("10"), plan, 6, expires)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !result.Locked() {
		t.Fatalf("expected locked, got %+v", result)
	}
	if result.RComm.Cmp(money.MustFromString("0.03")) != 0 {
		t.Errorf("RComm = %s, want 0.03", result.RComm.String())
	}
}

func TestEvaluateAssetCurrencyNotLockedWhenShortOfSurplus(t *testing.T) {
	now := time.Now()
	expires := now.Add(time.Hour)
	plan := Plan{Mode: ModePercentBps, Currency: CurrencyAsset, PercentBps: 30}
	deposits := []*storage.DepositRecord{
		dep("ALPHA", "10.02", 6, now), // short by 0.01 of the 10.03 required
	}

	result, err := Evaluate(deposits, "ALPHA", "ALPHA", money.MustFromString("10"), plan, 6, expires)
	if err != nil {
		t.Fatal(err)
	}
	if result.TradeLocked || result.CommissionLocked {
		t.Errorf("expected neither lock to hold, got %+v", result)
	}
}

func TestEvaluateIgnoresDepositsBelowConfirmThreshold(t *testing.T) {
	now := time.Now()
	expires := now.Add(time.Hour)
	plan := Plan{Mode: ModePercentBps, Currency: CurrencyAsset, PercentBps: 30}
	deposits := []*storage.DepositRecord{
		dep("ALPHA", "20", 2, now), // plenty of amount, not enough confirms
	}

	result, err := Evaluate(deposits, "ALPHA", "ALPHA", money.MustFromString("10"), plan, 6, expires)
	if err != nil {
		t.Fatal(err)
	}
	if result.Locked() {
		t.Errorf("expected unlocked due to insufficient confirmations, got %+v", result)
	}
}

func TestEvaluateIgnoresDepositsAfterExpiry(t *testing.T) {
	expires := time.Now()
	late := expires.Add(time.Minute)
	plan := Plan{Mode: ModePercentBps, Currency: CurrencyAsset, PercentBps: 30}
	deposits := []*storage.DepositRecord{
		dep("ALPHA", "20", 6, late), // block landed after the deadline
	}

	result, err := Evaluate(deposits, "ALPHA", "ALPHA", money.MustFromString("10"), plan, 6, expires)
	if err != nil {
		t.Fatal(err)
	}
	if result.Locked() {
		t.Errorf("expected unlocked, deposit's block time is after expiresAt, got %+v", result)
	}
}

func TestEvaluateNativeCurrencyLocksIndependently(t *testing.T) {
	now := time.Now()
	expires := now.Add(time.Hour)
	plan := Plan{Mode: ModeFixedUSDNative, Currency: CurrencyNative, NativeFixed: "0.002"}
	deposits := []*storage.DepositRecord{
		dep("USDC-ETH", "50", 3, now),
		dep("ETH", "0.002", 3, now),
	}

	result, err := Evaluate(deposits, "USDC-ETH", "ETH", money.MustFromString("50"), plan, 3, expires)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !result.Locked() {
		t.Fatalf("expected locked, got %+v", result)
	}
}

func TestEvaluateNativeCurrencyTradeLockedButNotCommissionLocked(t *testing.T) {
	now := time.Now()
	expires := now.Add(time.Hour)
	plan := Plan{Mode: ModeFixedUSDNative, Currency: CurrencyNative, NativeFixed: "0.002"}
	deposits := []*storage.DepositRecord{
		dep("USDC-ETH", "50", 3, now),
		dep("ETH", "0.001", 3, now), // short of the required 0.002 native fee
	}

	result, err := Evaluate(deposits, "USDC-ETH", "ETH", money.MustFromString("50"), plan, 3, expires)
	if err != nil {
		t.Fatal(err)
	}
	if !result.TradeLocked {
		t.Errorf("expected trade-locked, the trade asset deposit is sufficient on its own")
	}
	if result.CommissionLocked {
		t.Errorf("expected commission not locked, native deposit is short")
	}
}

func TestRequiredCommissionPercentBpsWithERC20FixedFee(t *testing.T) {
	plan := Plan{Mode: ModePercentBps, Currency: CurrencyAsset, PercentBps: 30, ERC20FixedFee: "1.50"}
	r, err := plan.RequiredCommission(money.MustFromString("1000"), 6)
	if err != nil {
		t.Fatal(err)
	}
	// floor(1000 * 30 / 10000) + 1.50 = 3 + 1.50 = 4.50
	if r.Cmp(money.MustFromString("4.5")) != 0 {
		t.Errorf("RequiredCommission() = %s, want 4.5", r.String())
	}
}

func TestRequiredCommissionFixedUSDNative(t *testing.T) {
	plan := Plan{Mode: ModeFixedUSDNative, Currency: CurrencyNative, NativeFixed: "0.0042"}
	r, err := plan.RequiredCommission(money.MustFromString("1000"), 18)
	if err != nil {
		t.Fatal(err)
	}
	if r.Cmp(money.MustFromString("0.0042")) != 0 {
		t.Errorf("RequiredCommission() = %s, want 0.0042", r.String())
	}
}

func TestParsePlanRoundTrip(t *testing.T) {
	original := Plan{Mode: ModePercentBps, Currency: CurrencyAsset, PercentBps: 30, CoveredBySurplus: true}
	raw, err := original.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := ParsePlan(raw)
	if err != nil {
		t.Fatal(err)
	}
	if parsed != original {
		t.Errorf("ParsePlan(Marshal()) = %+v, want %+v", parsed, original)
	}
}
