package money

// Static asset registry. Mirrors the teacher's config.SupportedCoins table
// (internal/config/config.go) but keyed by asset code rather than chain
// symbol, since a chain can host more than one asset (an EVM chain hosts
// its native token plus any number of ERC-20s).
func init() {
	RegisterAsset(Asset{
		Code: "BTC", Chain: "BTC", Family: FamilyUTXO,
		Decimals: 8, MinUnit: MustFromString("0.00000001"), Native: true,
	})
	RegisterAsset(Asset{
		Code: "LTC", Chain: "LTC", Family: FamilyUTXO,
		Decimals: 8, MinUnit: MustFromString("0.00000001"), Native: true,
	})
	RegisterAsset(Asset{
		Code: "DOGE", Chain: "DOGE", Family: FamilyUTXO,
		Decimals: 8, MinUnit: MustFromString("0.00000001"), Native: true,
	})

	RegisterAsset(Asset{
		Code: "ETH", Chain: "ETH", Family: FamilyAccount,
		Decimals: 18, MinUnit: MustFromString("0.000000000000000001"), Native: true,
	})
	RegisterAsset(Asset{
		Code: "BNB", Chain: "BSC", Family: FamilyAccount,
		Decimals: 18, MinUnit: MustFromString("0.000000000000000001"), Native: true,
	})
	RegisterAsset(Asset{
		Code: "POL", Chain: "POLYGON", Family: FamilyAccount,
		Decimals: 18, MinUnit: MustFromString("0.000000000000000001"), Native: true,
	})
	RegisterAsset(Asset{
		Code: "AVAX", Chain: "AVAX", Family: FamilyAccount,
		Decimals: 18, MinUnit: MustFromString("0.000000000000000001"), Native: true,
	})

	// ERC-20s: non-native, carry the token contract address.
	RegisterAsset(Asset{
		Code: "USDC-ETH", Chain: "ETH", Family: FamilyAccount,
		Decimals: 6, MinUnit: MustFromString("0.000001"), Native: false,
		Contract: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
	})
	RegisterAsset(Asset{
		Code: "USDT-ETH", Chain: "ETH", Family: FamilyAccount,
		Decimals: 6, MinUnit: MustFromString("0.000001"), Native: false,
		Contract: "0xdAC17F958D2ee523a2206206994597C13D831ec7",
	})
	RegisterAsset(Asset{
		Code: "USDC-BSC", Chain: "BSC", Family: FamilyAccount,
		Decimals: 18, MinUnit: MustFromString("0.000000000000000001"), Native: false,
		Contract: "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d",
	})

	// ALPHA is a synthetic UTXO-family test asset used by the worked example
	// in the spec (§8 scenario 1): 10 ALPHA <-> 50 USDC.
	RegisterAsset(Asset{
		Code: "ALPHA", Chain: "ALPHACOIN", Family: FamilyUTXO,
		Decimals: 8, MinUnit: MustFromString("0.00000001"), Native: true,
	})
}
