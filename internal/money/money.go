// Package money provides arbitrary-precision decimal arithmetic at a
// per-asset scale, and the static registry mapping asset codes to their
// chain, decimals, and minimum sendable unit.
package money

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Amount is a decimal quantity of some asset, always carrying the asset's
// declared scale. It wraps shopspring/decimal rather than a raw big.Int of
// smallest units so that commission math (§4.2) can floor at an arbitrary
// per-asset scale without the caller tracking smallest-unit conversions by
// hand.
type Amount struct {
	d decimal.Decimal
}

// Zero is the zero amount.
var Zero = Amount{d: decimal.Zero}

// NewFromString parses a decimal string (e.g. "10.03") into an Amount.
func NewFromString(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Amount{d: d}, nil
}

// MustFromString is NewFromString but panics on error; for static
// commission policy tables where the string is a compile-time constant.
func MustFromString(s string) Amount {
	a, err := NewFromString(s)
	if err != nil {
		panic(err)
	}
	return a
}

// NewFromInt builds an Amount from a whole-unit integer (no fractional part).
func NewFromInt(n int64) Amount {
	return Amount{d: decimal.NewFromInt(n)}
}

func (a Amount) String() string { return a.d.String() }

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool { return a.d.IsZero() }

// IsNegative reports whether the amount is less than zero.
func (a Amount) IsNegative() bool { return a.d.IsNegative() }

// Add returns a + b.
func (a Amount) Add(b Amount) Amount { return Amount{d: a.d.Add(b.d)} }

// Sub returns a - b.
func (a Amount) Sub(b Amount) Amount { return Amount{d: a.d.Sub(b.d)} }

// Cmp compares a to b: -1, 0, or 1.
func (a Amount) Cmp(b Amount) int { return a.d.Cmp(b.d) }

// GreaterThanOrEqual reports whether a >= b.
func (a Amount) GreaterThanOrEqual(b Amount) bool { return a.d.Cmp(b.d) >= 0 }

// MulBpsFloor returns floor(a * bps / 10_000), rounded down at scale decimal
// places. bps is basis points (e.g. 30 = 0.30%). This is the one rounding
// rule the spec allows (§4.2): always floor, never round to nearest or up.
func (a Amount) MulBpsFloor(bps int64, scale int32) Amount {
	num := a.d.Mul(decimal.NewFromInt(bps))
	quotient := num.DivRound(decimal.NewFromInt(10_000), scale+8)
	return Amount{d: quotient.Truncate(scale)}
}

// Truncate truncates (floors, for non-negative amounts) to scale decimal
// places.
func (a Amount) Truncate(scale int32) Amount {
	return Amount{d: a.d.Truncate(scale)}
}

// ShiftToInt returns the amount expressed as an integer count of the
// asset's smallest unit (e.g. satoshis for an 8-decimal asset). Callers
// must Truncate to the asset's decimals first so no fractional smallest
// units are silently dropped.
func (a Amount) ShiftToInt(decimals int32) uint64 {
	shifted := a.d.Shift(decimals)
	return uint64(shifted.IntPart())
}

// ShiftToBigInt is ShiftToInt without the uint64 ceiling, for account-model
// chains where a large transfer at 18 decimals (wei) can exceed 2^64.
// Callers must Truncate to the asset's decimals first, same as ShiftToInt.
func (a Amount) ShiftToBigInt(decimals int32) *big.Int {
	shifted := a.d.Shift(decimals)
	return shifted.BigInt()
}

// AssetFamily is the chain's transaction model, the axis the chain adapter
// and the queue processor branch on (§4.3, §4.4).
type AssetFamily string

const (
	FamilyUTXO    AssetFamily = "utxo"
	FamilyAccount AssetFamily = "account" // EVM-style nonce-based chains
)

// Asset describes one asset the coordinator can escrow: which chain it
// lives on, its decimal scale, the smallest sendable unit, and whether it
// is the chain's native gas-paying token.
type Asset struct {
	Code      string      // e.g. "BTC", "USDC-ETH"
	Chain     string      // chain symbol, keys into the chain registry
	Family    AssetFamily
	Decimals  int32
	MinUnit   Amount // smallest sendable amount, e.g. "0.00000001" for BTC
	Native    bool   // true iff this asset is the chain's gas-paying currency
	Contract  string // ERC-20 contract address; empty for native assets
}

var registry = map[string]Asset{}

// RegisterAsset adds an asset to the static registry. Called from package
// init in chainassets.go; also usable by tests that need a synthetic
// asset not present in the production table.
func RegisterAsset(a Asset) {
	registry[a.Code] = a
}

// Lookup returns the asset definition for a code.
func Lookup(code string) (Asset, bool) {
	a, ok := registry[code]
	return a, ok
}

// MustLookup is Lookup but panics if the asset is unknown; for call sites
// that have already validated the asset code against a deal record.
func MustLookup(code string) Asset {
	a, ok := registry[code]
	if !ok {
		panic(fmt.Sprintf("money: unknown asset %q", code))
	}
	return a
}

// AssetsForChain returns every registered asset living on the given
// chain, e.g. to find a chain's native gas currency when a deal's
// commission plan is priced in NATIVE but the trade asset is an ERC-20.
func AssetsForChain(chain string) []Asset {
	var assets []Asset
	for _, a := range registry {
		if a.Chain == chain {
			assets = append(assets, a)
		}
	}
	return assets
}
