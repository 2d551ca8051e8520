package mathutil

import (
	"errors"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

// Precision is the number of decimals of QORT and of the supported foreign
// coins.
const Precision = 8

var (
	//BigOne represents a single unit of a coin with precision 8
	BigOne = uint64(math.Pow10(Precision))
	//BigOneDecimal represents a single unit of a coin with precision 8 as decimal.Decimal
	BigOneDecimal = decimal.NewFromInt(int64(BigOne))

	// ErrInvalidAmount ...
	ErrInvalidAmount = errors.New("amount must be a positive number with at most 8 decimals")
)

func init() {
	decimal.DivisionPrecision = Precision
}

// FormatAmount returns the given amount of base units as a coin value with
// 8 decimals, ie. 150000000 -> "1.50000000".
func FormatAmount(amount uint64) string {
	return toDecimal(amount).Shift(-Precision).StringFixed(Precision)
}

// ParseAmount converts a coin value like "1.5" into base units.
func ParseAmount(value string) (uint64, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	units := d.Shift(Precision)
	if !units.IsPositive() || !units.Equal(units.Truncate(0)) {
		return 0, ErrInvalidAmount
	}
	if units.GreaterThan(toDecimal(math.MaxUint64)) {
		return 0, ErrInvalidAmount
	}
	return units.BigInt().Uint64(), nil
}

// Price returns how many units of y are paid for one unit of x.
func Price(x, y uint64) decimal.Decimal {
	if x == 0 {
		return decimal.Zero
	}
	return DivDecimal(toDecimal(y), toDecimal(x))
}

// Add takes two uint64 numbers and sum them x + y and returns the result as decimal.Decimal
func Add(x, y uint64) decimal.Decimal {
	return toDecimal(x).Add(toDecimal(y))
}

// Mul takes two uint64 numbers and multiply them x * y and returns the result as decimal.Decimal
func Mul(x, y uint64) decimal.Decimal {
	return toDecimal(x).Mul(toDecimal(y))
}

// DivDecimal takes two decimal.Decimal numbers and divides them x / y and returns the result as decimal.Decimal
func DivDecimal(x, y decimal.Decimal) decimal.Decimal {
	return x.Div(y)
}

func toDecimal(x uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(x), 0)
}
