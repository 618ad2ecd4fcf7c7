package oracle

import (
	"math/big"
	"testing"
)

func bigFromString(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("bad big int literal %q", s)
	}
	return v
}

func TestUSDValue(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		price    string
		decimals uint
		want     string
	}{
		{
			// 10 whole units at $2000 is $20,000
			name:     "whole units",
			amount:   "10000000000000000000",
			price:    "200000000000",
			decimals: 18,
			want:     "2000000000000",
		},
		{
			// 1 wei at $2000 floors to zero
			name:     "dust floors to zero",
			amount:   "1",
			price:    "200000000000",
			decimals: 18,
			want:     "0",
		},
		{
			name:     "fractional unit",
			amount:   "500000000000000000",
			price:    "200000000000",
			decimals: 18,
			want:     "100000000000",
		},
		{
			name:     "six decimal asset",
			amount:   "3000000",
			price:    "100000000",
			decimals: 6,
			want:     "300000000",
		},
		{
			name:     "zero amount",
			amount:   "0",
			price:    "200000000000",
			decimals: 18,
			want:     "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := USDValue(bigFromString(t, tt.amount), bigFromString(t, tt.price), tt.decimals)
			if got.String() != tt.want {
				t.Errorf("USDValue(%s, %s, %d) = %s, want %s", tt.amount, tt.price, tt.decimals, got, tt.want)
			}
		})
	}
}

func TestUSDValueDoesNotMutateInputs(t *testing.T) {
	amount := big.NewInt(7000000)
	price := big.NewInt(150000000)
	USDValue(amount, price, 6)
	if amount.Int64() != 7000000 || price.Int64() != 150000000 {
		t.Errorf("inputs mutated: amount=%s price=%s", amount, price)
	}
}
