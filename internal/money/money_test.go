package money

import "testing"

func TestMulBpsFloor(t *testing.T) {
	tests := []struct {
		name  string
		a     string
		bps   int64
		scale int32
		want  string
	}{
		{"spec example A side", "10", 30, 8, "0.03"},
		{"spec example B side", "50", 30, 8, "0.15"},
		{"floors, never rounds up", "10.0333", 37, 2, "0.03"},
		{"zero bps", "100", 0, 8, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := MustFromString(tt.a)
			got := a.MulBpsFloor(tt.bps, tt.scale)
			if got.String() != tt.want {
				t.Errorf("MulBpsFloor(%s, %d bps) = %s, want %s", tt.a, tt.bps, got, tt.want)
			}
		})
	}
}

func TestAmountArithmetic(t *testing.T) {
	a := MustFromString("10.03")
	b := MustFromString("0.03")
	if got := a.Sub(b).String(); got != "10" {
		t.Errorf("Sub = %s, want 10", got)
	}
	if got := a.Add(b).String(); got != "10.06" {
		t.Errorf("Add = %s, want 10.06", got)
	}
	if !a.GreaterThanOrEqual(b) {
		t.Error("expected 10.03 >= 0.03")
	}
	if b.GreaterThanOrEqual(a) {
		t.Error("expected 0.03 < 10.03")
	}
}

func TestAssetRegistry(t *testing.T) {
	asset, ok := Lookup("BTC")
	if !ok {
		t.Fatal("expected BTC to be registered")
	}
	if asset.Family != FamilyUTXO {
		t.Errorf("BTC family = %s, want utxo", asset.Family)
	}
	if asset.Decimals != 8 {
		t.Errorf("BTC decimals = %d, want 8", asset.Decimals)
	}

	usdc, ok := Lookup("USDC-ETH")
	if !ok {
		t.Fatal("expected USDC-ETH to be registered")
	}
	if usdc.Native {
		t.Error("USDC-ETH should not be native")
	}
	if usdc.Contract == "" {
		t.Error("USDC-ETH should carry a contract address")
	}
}

func TestTruncate(t *testing.T) {
	a := MustFromString("0.123456789")
	if got := a.Truncate(8).String(); got != "0.12345678" {
		t.Errorf("Truncate(8) = %s, want 0.12345678", got)
	}
}
