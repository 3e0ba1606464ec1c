package currency

import (
	"math"

	"github.com/holiman/uint256"
)

// InterestCalculator computes the interest a deposit of the amount locked
// for term blocks earns when spent on top of the height.
type InterestCalculator interface {
	Interest(amount uint64, term uint32, height uint32) uint64
}

// InterestFunc adapts a function to the InterestCalculator interface.
type InterestFunc func(amount uint64, term uint32, height uint32) uint64

// Interest implements the InterestCalculator interface.
func (f InterestFunc) Interest(amount uint64, term uint32, height uint32) uint64 {
	return f(amount, term, height)
}

// LegacyFallbackHeight returns the height the balance of a deposit spend is
// retried at when it does not balance at its own height. Old chains created
// deposits before the creation height was known to the validator.
func (c *Currency) LegacyFallbackHeight(height uint32) uint32 {
	if height > c.EndMultiplierBlock {
		return 0
	}
	return math.MaxUint32
}

// =============================================================================

// DepositInterest is the interest schedule of the network. Terms that are a
// multiple of the minimum term earn a weekly rate growing with the number of
// weeks, other terms earn a linear rate of the term.
type DepositInterest struct {
	c *Currency
}

// Interest implements the InterestCalculator interface.
func (di DepositInterest) Interest(amount uint64, term uint32, height uint32) uint64 {
	c := di.c
	if term == 0 || term < c.DepositMinTerm {
		return 0
	}

	// interest = amount * weeks * (0.0696% + weeks * 0.0002%)
	if term%c.DepositMinTerm == 0 {
		weeks := uint64(term / c.DepositMinTerm)
		rate := uint256.NewInt(weeks * (696 + 2*weeks))
		v := new(uint256.Int).Mul(uint256.NewInt(amount), rate)
		v.Div(v, uint256.NewInt(1_000_000))
		return saturate(v)
	}

	// interest = amount * term * maxRate / (100 * maxTerm)
	v := new(uint256.Int).Mul(uint256.NewInt(amount), uint256.NewInt(uint64(term)*c.DepositMaxTotalRate))
	v.Div(v, uint256.NewInt(100*uint64(c.DepositMaxTerm)))
	if height <= c.EndMultiplierBlock {
		v.Mul(v, uint256.NewInt(c.MultiplierFactor))
	}
	return saturate(v)
}

// saturate converts to uint64, capping values that don't fit.
func saturate(v *uint256.Int) uint64 {
	if !v.IsUint64() {
		return math.MaxUint64
	}
	return v.Uint64()
}
