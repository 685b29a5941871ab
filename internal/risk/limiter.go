package risk

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrNotionalCapExceeded is returned when a trade would push a single
// position's absolute notional beyond the per-position cap.
var ErrNotionalCapExceeded = errors.New("risk: position notional cap exceeded")

// PositionLimiter enforces the per-(account, security) notional cap.
//
// Notional is |shares| · spot, evaluated at the pre-trade spot price. Only
// trades that grow the absolute position are checked; reducing a position is
// always allowed even when it is already over the cap (for example after the
// spot price moved up).
type PositionLimiter struct {
	// MaxNotional is the cap on |shares| · spot. Zero or negative disables
	// the check.
	MaxNotional decimal.Decimal
}

// NewPositionLimiter creates a limiter with the given notional cap.
func NewPositionLimiter(maxNotional decimal.Decimal) *PositionLimiter {
	return &PositionLimiter{MaxNotional: maxNotional}
}

// Enabled reports whether a positive cap is configured.
func (l *PositionLimiter) Enabled() bool {
	return l != nil && l.MaxNotional.IsPositive()
}

// MaxShares returns the largest absolute position allowed at spot. ok is
// false when the cap is disabled or spot is not positive.
func (l *PositionLimiter) MaxShares(spot decimal.Decimal) (limit decimal.Decimal, ok bool) {
	if !l.Enabled() || !spot.IsPositive() {
		return decimal.Zero, false
	}
	return l.MaxNotional.Div(spot).RoundFloor(8), true
}

// CheckNotional validates moving a position from current to resulting shares
// at the pre-trade spot.
//
// maxQty is the largest trade size, in the direction of the trade, that the
// cap permits from current. It is only meaningful when err is non-nil.
func (l *PositionLimiter) CheckNotional(spot, current, resulting decimal.Decimal) (maxQty decimal.Decimal, err error) {
	if !resulting.Abs().GreaterThan(current.Abs()) {
		return decimal.Zero, nil
	}
	limit, ok := l.MaxShares(spot)
	if !ok {
		return decimal.Zero, nil
	}
	if resulting.Abs().Mul(spot).LessThanOrEqual(l.MaxNotional) {
		return decimal.Zero, nil
	}

	// Exposure only grows on the side the position already sits on (or from
	// flat), so the headroom is measured from |current|.
	maxQty = limit.Sub(current.Abs())
	if maxQty.IsNegative() {
		maxQty = decimal.Zero
	}
	return maxQty, ErrNotionalCapExceeded
}
