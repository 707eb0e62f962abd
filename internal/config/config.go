// Package config provides centralized configuration for the escrow
// coordinator. ALL deployment-tunable parameters (commission defaults,
// operator/broker addresses, timeouts, engine timing) MUST be defined
// here. No hardcoded values should exist elsewhere in the codebase.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/klingon-exchange/escrow-coordinator/internal/lock"
)

// =============================================================================
// Deal Defaults
// =============================================================================

// DealDefaults holds the parameters applied to a new deal unless the
// caller overrides them.
type DealDefaults struct {
	// TimeoutSeconds is how long a deal has, from COLLECTION entry, to
	// reach WAITING before it reverts (§4.1 I2).
	TimeoutSeconds int64 `yaml:"timeoutSeconds"`

	// LateDepositWindow is how long after CLOSED a late-confirming
	// deposit is still refunded rather than left stranded at the escrow.
	LateDepositWindow time.Duration `yaml:"lateDepositWindow"`
}

// DefaultDealDefaults returns the stock deal timing: a 24-hour collection
// window and a 7-day late-deposit watch, matching the worked examples.
func DefaultDealDefaults() DealDefaults {
	return DealDefaults{
		TimeoutSeconds:     24 * 60 * 60,
		LateDepositWindow:  7 * 24 * time.Hour,
	}
}

// =============================================================================
// Engine Timing
// =============================================================================

// EngineDefaults holds the tick loop and lease timing the engine runs
// with (§5).
type EngineDefaults struct {
	TickInterval  time.Duration `yaml:"tickInterval"`
	LeaseDuration time.Duration `yaml:"leaseDuration"`
	BatchSize     int           `yaml:"batchSize"`
}

// DefaultEngineDefaults returns the stock 30s tick / 90s lease / 50-deal
// batch, matching §5's worked numbers.
func DefaultEngineDefaults() EngineDefaults {
	return EngineDefaults{
		TickInterval:  30 * time.Second,
		LeaseDuration: 90 * time.Second,
		BatchSize:     50,
	}
}

// =============================================================================
// Commission Defaults
// =============================================================================

// CommissionDefault is the static commission policy applied to a side
// unless a chain-specific override exists (§4.2's commission plan modes).
type CommissionDefault struct {
	Mode       lock.CommissionMode
	Currency   lock.CommissionCurrency
	PercentBps int64
	USDFixed   string // only meaningful for ModeFixedUSDNative
}

// DefaultCommission is the stock commission policy: 30bps, paid in the
// trade asset, covered from any surplus over the trade amount.
var DefaultCommission = CommissionDefault{
	Mode: lock.ModePercentBps, Currency: lock.CurrencyAsset, PercentBps: 30,
}

// CommissionOverrides lets specific chains carry a different default —
// e.g. a chain whose native asset is thin enough that a fixed USD fee
// quoted in NATIVE is preferred over a percentage of the trade.
var CommissionOverrides = map[string]CommissionDefault{}

// CommissionFor returns the commission default for a chain, falling back
// to DefaultCommission.
func CommissionFor(chain string) CommissionDefault {
	if c, ok := CommissionOverrides[chain]; ok {
		return c
	}
	return DefaultCommission
}

// =============================================================================
// Operator & Gas-Tank Addresses
// =============================================================================

// OperatorAddresses maps a chain symbol to the address OP_COMMISSION
// items pay out to (§4.3).
var OperatorAddresses = map[string]string{
	"ALPHACOIN": "", // TODO: set the operator's ALPHA collection address
	"BTC":       "",
	"LTC":       "",
	"DOGE":      "",
	"ETH":       "",
	"BSC":       "",
	"POLYGON":   "",
	"AVAX":      "",
}

// GasTankAddresses maps a chain symbol to the address GAS_REFUND_TO_TANK
// items (an operator-side gas-replenishment transfer, outside the deal's
// own settlement) pay out to.
var GasTankAddresses = map[string]string{}

// OperatorAddress returns the configured operator payout address for a
// chain, or "" if unset.
func OperatorAddress(chain string) string {
	return OperatorAddresses[chain]
}

// =============================================================================
// Oracle
// =============================================================================

// OraclePair names the price feed a FIXED_USD_NATIVE commission plan
// quotes against, per chain's native asset.
var OraclePair = map[string]string{
	"ETH":     "ETH/USD",
	"BSC":     "BNB/USD",
	"POLYGON": "POL/USD",
	"AVAX":    "AVAX/USD",
	"BTC":     "BTC/USD",
	"LTC":     "LTC/USD",
	"DOGE":    "DOGE/USD",
}

// =============================================================================
// File Overlay
// =============================================================================

// Overlay is the subset of configuration a deployment can override from a
// YAML file without rebuilding the binary — everything else (chain
// parameters, asset registry, broker contract addresses) is compiled in,
// matching the teacher's "no external configuration needed" stance for
// the parts that never vary by deployment.
type Overlay struct {
	Deal       DealDefaults                 `yaml:"deal"`
	Engine     EngineDefaults                `yaml:"engine"`
	Commission CommissionDefault             `yaml:"commission"`
	Operators  map[string]string             `yaml:"operators"`
	GasTank    map[string]string             `yaml:"gasTank"`
}

// LoadOverlay reads a YAML overlay file and applies it on top of the
// compiled-in defaults, returning the merged deal/engine/commission
// settings plus the per-chain address maps actually used at runtime. A
// missing path is not an error — deployments with no overrides simply
// pass one that doesn't exist.
func LoadOverlay(path string) (DealDefaults, EngineDefaults, CommissionDefault, map[string]string, map[string]string, error) {
	deal := DefaultDealDefaults()
	engine := DefaultEngineDefaults()
	commission := DefaultCommission
	operators := cloneStringMap(OperatorAddresses)
	gasTank := cloneStringMap(GasTankAddresses)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return deal, engine, commission, operators, gasTank, nil
	}
	if err != nil {
		return deal, engine, commission, operators, gasTank, fmt.Errorf("config: read overlay %s: %w", path, err)
	}

	var overlay Overlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return deal, engine, commission, operators, gasTank, fmt.Errorf("config: parse overlay %s: %w", path, err)
	}

	if overlay.Deal.TimeoutSeconds != 0 {
		deal.TimeoutSeconds = overlay.Deal.TimeoutSeconds
	}
	if overlay.Deal.LateDepositWindow != 0 {
		deal.LateDepositWindow = overlay.Deal.LateDepositWindow
	}
	if overlay.Engine.TickInterval != 0 {
		engine.TickInterval = overlay.Engine.TickInterval
	}
	if overlay.Engine.LeaseDuration != 0 {
		engine.LeaseDuration = overlay.Engine.LeaseDuration
	}
	if overlay.Engine.BatchSize != 0 {
		engine.BatchSize = overlay.Engine.BatchSize
	}
	if overlay.Commission.Mode != "" {
		commission = overlay.Commission
	}
	for chain, addr := range overlay.Operators {
		operators[chain] = addr
	}
	for chain, addr := range overlay.GasTank {
		gasTank[chain] = addr
	}

	return deal, engine, commission, operators, gasTank, nil
}

func cloneStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
