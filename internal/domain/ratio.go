package domain

import (
	"math/big"
	"strconv"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// ratioDisplayPlaces bounds the decimal rendering of a ratio. Settlement math
// never goes through the decimal form.
const ratioDisplayPlaces = 18

// Ratio is the destination-per-source exchange rate as an exact fraction.
type Ratio struct {
	Numerator   uint64 `json:"numerator"`
	Denominator uint64 `json:"denominator"`
}

// NewRatio builds a ratio, rejecting zero terms.
func NewRatio(numerator, denominator uint64) (Ratio, error) {
	r := Ratio{Numerator: numerator, Denominator: denominator}
	if !r.Valid() {
		return Ratio{}, ErrInvalidRatio
	}
	return r, nil
}

// Valid reports whether both terms are positive.
func (r Ratio) Valid() bool {
	return r.Numerator > 0 && r.Denominator > 0
}

// Apply returns floor(amount * Numerator / Denominator).
// The product is formed in 256 bits so it cannot wrap; only a quotient that
// does not fit in uint64 is reported as ErrOverflow.
func (r Ratio) Apply(amount uint64) (uint64, error) {
	if r.Denominator == 0 {
		return 0, ErrInvalidRatio
	}
	out := uint256.NewInt(amount)
	out.Mul(out, uint256.NewInt(r.Numerator))
	out.Div(out, uint256.NewInt(r.Denominator))
	if !out.IsUint64() {
		return 0, ErrOverflow
	}
	return out.Uint64(), nil
}

// Decimal renders the ratio for humans (reports, logs).
func (r Ratio) Decimal() decimal.Decimal {
	if r.Denominator == 0 {
		return decimal.Zero
	}
	num := decimal.NewFromBigInt(new(big.Int).SetUint64(r.Numerator), 0)
	den := decimal.NewFromBigInt(new(big.Int).SetUint64(r.Denominator), 0)
	return num.DivRound(den, ratioDisplayPlaces)
}

func (r Ratio) String() string {
	return strconv.FormatUint(r.Numerator, 10) + ":" + strconv.FormatUint(r.Denominator, 10)
}
