// Package curve implements the linear bonding curve that prices player
// shares against their fundamental price.
//
// The curve provides:
//   - Spot price that rises with net long interest and falls with net short
//   - Trade cost as the definite integral of spot over the traded depth
//   - Path independence: buying 10 then 5 costs the same as buying 15
//
// All monetary values use shopspring/decimal, never float64.
// Integrals are exact; results are rounded to Scale places, with costs
// rounded up and proceeds rounded down so that rounding always favors the
// curve.
package curve

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidImpact is returned when the impact multiplier is negative.
	ErrInvalidImpact = errors.New("curve: impact multiplier must not be negative")

	// Scale is the number of decimal places for prices and cash amounts.
	Scale int32 = 8

	one  = decimal.NewFromInt(1)
	half = decimal.New(5, -1)
)

// Curve evaluates the linear bonding curve
//
//	P(S) = f · (1 + k_eff · S),  k_eff = k · impactMultiplier
//
// It is stateless: f, k and S are passed in, not stored.
type Curve struct {
	impact decimal.Decimal
}

// New creates a curve with the given global impact multiplier, which scales
// every security's steepness k. Zero gives a flat curve priced at f.
func New(impactMultiplier decimal.Decimal) (*Curve, error) {
	if impactMultiplier.IsNegative() {
		return nil, ErrInvalidImpact
	}
	return &Curve{impact: impactMultiplier}, nil
}

// ImpactMultiplier returns the global impact multiplier.
func (c *Curve) ImpactMultiplier() decimal.Decimal {
	return c.impact
}

// KEff returns the effective steepness k · impactMultiplier.
func (c *Curve) KEff(k decimal.Decimal) decimal.Decimal {
	return k.Mul(c.impact)
}

func (c *Curve) spot(f, k, s decimal.Decimal) decimal.Decimal {
	return f.Mul(one.Add(c.KEff(k).Mul(s)))
}

// Spot returns the instantaneous price at outstanding depth s.
func (c *Curve) Spot(f, k, s decimal.Decimal) decimal.Decimal {
	return c.spot(f, k, s).Round(Scale)
}

// integral computes ∫ P(x) dx from s0 to s1:
//
//	f · ((s1 − s0) + k_eff/2 · (s1² − s0²))
func (c *Curve) integral(f, k, s0, s1 decimal.Decimal) decimal.Decimal {
	squares := s1.Mul(s1).Sub(s0.Mul(s0))
	return f.Mul(s1.Sub(s0).Add(c.KEff(k).Mul(half).Mul(squares)))
}

// CostToBuy returns the cash required to move depth from s to s+qty.
// qty <= 0 costs nothing.
func (c *Curve) CostToBuy(f, k, s, qty decimal.Decimal) decimal.Decimal {
	if !qty.IsPositive() {
		return decimal.Zero
	}
	return c.integral(f, k, s, s.Add(qty)).RoundCeil(Scale)
}

// ProceedsToSell returns the cash paid out for moving depth from s down to
// s−qty. qty is clamped to at most s; a clamped qty <= 0 pays nothing.
func (c *Curve) ProceedsToSell(f, k, s, qty decimal.Decimal) decimal.Decimal {
	if qty.GreaterThan(s) {
		qty = s
	}
	if !qty.IsPositive() {
		return decimal.Zero
	}
	return c.integral(f, k, s.Sub(qty), s).RoundFloor(Scale)
}

// Proceeds returns the cash paid out for moving depth from s down to s−qty
// without clamping, so the depth may cross zero and go negative. Shorts are
// always priced this way.
func (c *Curve) Proceeds(f, k, s, qty decimal.Decimal) decimal.Decimal {
	if !qty.IsPositive() {
		return decimal.Zero
	}
	return c.integral(f, k, s.Sub(qty), s).RoundFloor(Scale)
}

// AveragePrice returns total / qty, or zero for an empty trade.
func AveragePrice(total, qty decimal.Decimal) decimal.Decimal {
	if qty.IsZero() {
		return decimal.Zero
	}
	return total.Div(qty).Round(Scale)
}

// FloorAllows reports whether the exact spot at depth s is at or above floor.
// The comparison is made before rounding so a trade cannot slip under the
// floor by less than one unit of Scale.
func (c *Curve) FloorAllows(f, k, s, floor decimal.Decimal) bool {
	return c.spot(f, k, s).GreaterThanOrEqual(floor)
}

// MaxSellForFloor returns the largest quantity that can be sold or shorted
// from depth s while spot stays at or above floor:
//
//	qty <= s − (floor/f − 1) / k_eff
//
// bounded is false when the curve is flat and f >= floor, in which case any
// quantity is allowed. The result is rounded down to Scale places and is
// never negative.
func (c *Curve) MaxSellForFloor(f, k, s, floor decimal.Decimal) (limit decimal.Decimal, bounded bool) {
	kEff := c.KEff(k)
	if !kEff.IsPositive() || !f.IsPositive() {
		if f.GreaterThanOrEqual(floor) {
			return decimal.Zero, false
		}
		return decimal.Zero, true
	}
	minDepth := floor.Div(f).Sub(one).Div(kEff)
	bound := s.Sub(minDepth).RoundFloor(Scale)
	// Division is inexact; step back one unit if it overshot the floor.
	if bound.IsPositive() && !c.FloorAllows(f, k, s.Sub(bound), floor) {
		bound = bound.Sub(decimal.New(1, -Scale))
	}
	if bound.IsNegative() {
		return decimal.Zero, true
	}
	return bound, true
}
