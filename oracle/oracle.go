package oracle

import (
	"context"
	"math/big"
)

// PriceDecimals is the fixed-point scale of reported native/USD prices.
const PriceDecimals = 8

// PriceSource reports the most recent native-asset/USD price at an 8-decimal
// fixed-point scale. Implementations perform no staleness check beyond what
// the feed itself reports; callers must treat a price <= 0 as invalid and
// abort, never falling back to a stale or default value.
type PriceSource interface {
	LatestPrice(ctx context.Context) (*big.Int, error)
}

// USDValue converts a native-asset amount in atomic units into an 8-decimal
// fixed-point USD magnitude: floor(amount * price / 10^nativeDecimals).
// nativeDecimals is the number of fractional digits of the native asset's
// atomic unit (18 for wei-scaled assets).
func USDValue(amount, price *big.Int, nativeDecimals uint) *big.Int {
	usd := new(big.Int).Mul(amount, price)
	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(nativeDecimals)), nil)
	return usd.Div(usd, divisor)
}
