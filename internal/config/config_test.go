package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/klingon-exchange/escrow-coordinator/internal/lock"
)

func TestDefaultDealDefaults(t *testing.T) {
	d := DefaultDealDefaults()
	if d.TimeoutSeconds != 24*60*60 {
		t.Errorf("TimeoutSeconds = %d, want 86400", d.TimeoutSeconds)
	}
	if d.LateDepositWindow != 7*24*time.Hour {
		t.Errorf("LateDepositWindow = %v, want 168h", d.LateDepositWindow)
	}
}

func TestDefaultEngineDefaults(t *testing.T) {
	e := DefaultEngineDefaults()
	if e.TickInterval != 30*time.Second {
		t.Errorf("TickInterval = %v, want 30s", e.TickInterval)
	}
	if e.LeaseDuration != 90*time.Second {
		t.Errorf("LeaseDuration = %v, want 90s", e.LeaseDuration)
	}
	if e.BatchSize != 50 {
		t.Errorf("BatchSize = %d, want 50", e.BatchSize)
	}
}

func TestCommissionForFallsBackToDefault(t *testing.T) {
	c := CommissionFor("SOMECHAIN")
	if c != DefaultCommission {
		t.Errorf("CommissionFor(unknown) = %+v, want DefaultCommission", c)
	}
}

func TestCommissionForUsesOverride(t *testing.T) {
	override := CommissionDefault{Mode: lock.ModeFixedUSDNative, Currency: lock.CurrencyNative, USDFixed: "2.50"}
	CommissionOverrides["THINCHAIN"] = override
	defer delete(CommissionOverrides, "THINCHAIN")

	c := CommissionFor("THINCHAIN")
	if c != override {
		t.Errorf("CommissionFor(THINCHAIN) = %+v, want %+v", c, override)
	}
}

func TestOperatorAddressUnsetIsEmpty(t *testing.T) {
	if addr := OperatorAddress("ETH"); addr != "" {
		t.Errorf("OperatorAddress(ETH) = %q, want empty before overlay", addr)
	}
	if addr := OperatorAddress("NOSUCHCHAIN"); addr != "" {
		t.Errorf("OperatorAddress(NOSUCHCHAIN) = %q, want empty", addr)
	}
}

func TestLoadOverlayMissingFileReturnsDefaults(t *testing.T) {
	deal, engine, commission, operators, gasTank, err := LoadOverlay(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("LoadOverlay() error = %v", err)
	}
	if deal != DefaultDealDefaults() {
		t.Errorf("deal = %+v, want defaults", deal)
	}
	if engine != DefaultEngineDefaults() {
		t.Errorf("engine = %+v, want defaults", engine)
	}
	if commission != DefaultCommission {
		t.Errorf("commission = %+v, want DefaultCommission", commission)
	}
	if operators["ETH"] != "" {
		t.Errorf("operators[ETH] = %q, want empty", operators["ETH"])
	}
	if gasTank == nil {
		t.Error("gasTank map should be non-nil even when empty")
	}
}

func TestLoadOverlayAppliesPartialOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overlay.yaml")
	contents := `
deal:
  timeoutSeconds: 3600
engine:
  batchSize: 10
operators:
  ETH: "0xoperator"
  ALPHACOIN: "alpha-operator-address"
gasTank:
  ETH: "0xgastank"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	deal, engine, commission, operators, gasTank, err := LoadOverlay(path)
	if err != nil {
		t.Fatalf("LoadOverlay() error = %v", err)
	}
	if deal.TimeoutSeconds != 3600 {
		t.Errorf("TimeoutSeconds = %d, want 3600", deal.TimeoutSeconds)
	}
	if deal.LateDepositWindow != DefaultDealDefaults().LateDepositWindow {
		t.Error("LateDepositWindow should keep its default when overlay omits it")
	}
	if engine.BatchSize != 10 {
		t.Errorf("BatchSize = %d, want 10", engine.BatchSize)
	}
	if engine.TickInterval != DefaultEngineDefaults().TickInterval {
		t.Error("TickInterval should keep its default when overlay omits it")
	}
	if commission != DefaultCommission {
		t.Error("commission should keep its default when overlay omits it")
	}
	if operators["ETH"] != "0xoperator" {
		t.Errorf("operators[ETH] = %q, want 0xoperator", operators["ETH"])
	}
	if operators["ALPHACOIN"] != "alpha-operator-address" {
		t.Errorf("operators[ALPHACOIN] = %q, want alpha-operator-address", operators["ALPHACOIN"])
	}
	if operators["BTC"] != "" {
		t.Errorf("operators[BTC] = %q, want untouched empty default", operators["BTC"])
	}
	if gasTank["ETH"] != "0xgastank" {
		t.Errorf("gasTank[ETH] = %q, want 0xgastank", gasTank["ETH"])
	}
}

func TestGetBrokerContractUnsetIsZeroAddress(t *testing.T) {
	if addr := GetBrokerContract("NOSUCHCHAIN"); addr != (common.Address{}) {
		t.Errorf("GetBrokerContract(NOSUCHCHAIN) = %v, want zero address", addr)
	}
	if IsBrokerDeployed("NOSUCHCHAIN") {
		t.Error("IsBrokerDeployed(NOSUCHCHAIN) = true, want false")
	}
}

func TestRegisterBrokerContractAndLookup(t *testing.T) {
	addr := common.HexToAddress("0x1234567890123456789012345678901234567890")
	RegisterBrokerContract("TESTCHAIN", addr)
	defer delete(brokerContractRegistry, "TESTCHAIN")

	if !IsBrokerDeployed("TESTCHAIN") {
		t.Error("IsBrokerDeployed(TESTCHAIN) = false, want true after registering")
	}
	if got := BrokerContractLookup("TESTCHAIN"); got != addr.Hex() {
		t.Errorf("BrokerContractLookup(TESTCHAIN) = %q, want %q", got, addr.Hex())
	}
	if got := BrokerContractLookup("NOSUCHCHAIN"); got != "" {
		t.Errorf("BrokerContractLookup(NOSUCHCHAIN) = %q, want empty", got)
	}
}
