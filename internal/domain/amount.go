package domain

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

// MaxDecimals is the largest scale the transfer store can hold.
const MaxDecimals = 18

// ErrInvalidAmount is returned when a raw amount cannot be scaled into a
// storable decimal.
var ErrInvalidAmount = errors.New("invalid amount")

// amountLimit is the exclusive upper bound of NUMERIC(38,18).
var amountLimit = decimal.New(1, 38-MaxDecimals)

// ScaleAmount converts base units into a token amount: raw / 10^decimals.
func ScaleAmount(raw *big.Int, decimals int) (decimal.Decimal, error) {
	if raw == nil || raw.Sign() < 0 || decimals < 0 || decimals > MaxDecimals {
		return decimal.Decimal{}, ErrInvalidAmount
	}
	amount := decimal.NewFromBigInt(raw, -int32(decimals))
	if amount.Cmp(amountLimit) >= 0 {
		return decimal.Decimal{}, ErrInvalidAmount
	}
	return amount, nil
}

// ScaleUint64 is ScaleAmount for 64-bit raw amounts.
func ScaleUint64(raw uint64, decimals int) (decimal.Decimal, error) {
	return ScaleAmount(new(big.Int).SetUint64(raw), decimals)
}

// CheckAmount reports whether a scaled amount fits the transfer store:
// non-negative, below 10^20 and with at most MaxDecimals fractional digits.
func CheckAmount(amount decimal.Decimal) error {
	if amount.IsNegative() || amount.Cmp(amountLimit) >= 0 {
		return ErrInvalidAmount
	}
	if !amount.Equal(amount.Truncate(MaxDecimals)) {
		return ErrInvalidAmount
	}
	return nil
}
