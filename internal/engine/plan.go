package engine

import (
	"github.com/shopspring/decimal"

	"github.com/fsm/market-engine/internal/curve"
	"github.com/fsm/market-engine/internal/model"
)

// planInput is the pre-trade state a quote or trade is priced against.
type planInput struct {
	side    model.Side
	price   pricing
	holding decimal.Decimal
	qty     decimal.Decimal
	forced  bool // liquidation: unlisted securities can still be closed
}

// plan validates a prospective trade and computes its economics. It is pure
// and shared by quotes and execution so both produce identical numbers for
// the same pre-trade state. Cash sufficiency is checked by the executor.
func (e *Engine) plan(in planInput) (model.Quote, error) {
	sec := in.price.sec
	if !in.qty.IsPositive() {
		return model.Quote{}, invalid(Details{}, "shares must be positive, got %s", in.qty)
	}
	if err := checkScale("shares", in.qty); err != nil {
		return model.Quote{}, err
	}
	if !sec.Listed && !in.forced {
		return model.Quote{}, forbidden("security %s is not listed for trading", sec.ID)
	}

	f, k, s := in.price.fair, sec.K, sec.TotalShares
	spotBefore := e.curve.Spot(f, k, s)
	holding, qty := in.holding, in.qty

	var total, newS, resulting decimal.Decimal
	switch in.side {
	case model.SideBuy:
		if holding.IsNegative() {
			return model.Quote{}, invalid(Details{Price: ptr(spotBefore), Short: ptr(holding.Abs())},
				"cover short position of %s shares before buying", holding.Abs())
		}
		resulting = holding.Add(qty)
		if err := e.checkCap(spotBefore, holding, resulting); err != nil {
			return model.Quote{}, err
		}
		newS = s.Add(qty)
		total = e.curve.CostToBuy(f, k, s, qty)

	case model.SideSell:
		if !holding.IsPositive() {
			return model.Quote{}, invalid(Details{Price: ptr(spotBefore), Owned: ptr(decimal.Zero), MaxQuantity: ptr(decimal.Zero)},
				"no long position to sell")
		}
		if qty.GreaterThan(holding) {
			return model.Quote{}, invalid(Details{Price: ptr(spotBefore), Owned: ptr(holding), MaxQuantity: ptr(holding)},
				"insufficient shares: own %s, requested %s", holding, qty)
		}
		resulting = holding.Sub(qty)
		if err := e.checkFloor(in.price, spotBefore, qty, &holding); err != nil {
			return model.Quote{}, err
		}
		if err := e.checkCap(spotBefore, holding, resulting); err != nil {
			return model.Quote{}, err
		}
		newS = s.Sub(qty)
		total = e.curve.ProceedsToSell(f, k, s, qty)

	case model.SideShort:
		if holding.IsPositive() {
			return model.Quote{}, invalid(Details{Price: ptr(spotBefore), Owned: ptr(holding)},
				"sell long position of %s shares before shorting", holding)
		}
		resulting = holding.Sub(qty)
		if err := e.checkFloor(in.price, spotBefore, qty, nil); err != nil {
			return model.Quote{}, err
		}
		if err := e.checkCap(spotBefore, holding, resulting); err != nil {
			return model.Quote{}, err
		}
		newS = s.Sub(qty)
		total = e.curve.Proceeds(f, k, s, qty)

	case model.SideCover:
		short := holding.Neg()
		if !short.IsPositive() {
			return model.Quote{}, invalid(Details{Price: ptr(spotBefore), Short: ptr(decimal.Zero), MaxQuantity: ptr(decimal.Zero)},
				"no short position to cover")
		}
		if qty.GreaterThan(short) {
			return model.Quote{}, invalid(Details{Price: ptr(spotBefore), Short: ptr(short), MaxQuantity: ptr(short)},
				"insufficient short position: short %s, requested %s", short, qty)
		}
		resulting = holding.Add(qty)
		newS = s.Add(qty)
		total = e.curve.CostToBuy(f, k, s, qty)

	default:
		return model.Quote{}, invalid(Details{}, "unknown side %q", in.side)
	}

	return model.Quote{
		SecurityID:      sec.ID,
		Side:            in.side,
		Shares:          qty,
		Fundamental:     f,
		SpotBefore:      spotBefore,
		SpotAfter:       e.curve.Spot(f, k, newS),
		AveragePrice:    curve.AveragePrice(total, qty),
		Total:           total,
		NewTotalShares:  newS,
		ResultingShares: resulting,
	}, nil
}

// checkScale rejects quantities with more decimal places than curve.Scale.
// Stored columns keep a fixed scale and would round each row on its own.
func checkScale(field string, v decimal.Decimal) error {
	if v.Equal(v.Truncate(curve.Scale)) {
		return nil
	}
	scale := curve.Scale
	return invalid(Details{Scale: &scale},
		"%s support at most %d decimal places, got %s", field, curve.Scale, v)
}

// checkFloor rejects a sell-direction trade whose resulting spot would be
// below the floor. ceiling caps the reported maximum (the seller's holding).
func (e *Engine) checkFloor(p pricing, spot, qty decimal.Decimal, ceiling *decimal.Decimal) error {
	f, k, s := p.fair, p.sec.K, p.sec.TotalShares
	floor := e.params.PriceFloor
	if e.curve.FloorAllows(f, k, s.Sub(qty), floor) {
		return nil
	}
	limit, _ := e.curve.MaxSellForFloor(f, k, s, floor)
	if ceiling != nil && ceiling.LessThan(limit) {
		limit = *ceiling
	}
	return invalid(Details{Price: ptr(spot), MaxQuantity: ptr(limit)},
		"trade would push price below floor %s; at most %s shares can be sold", floor, limit)
}

// checkCap enforces the per-position notional cap at the pre-trade spot.
func (e *Engine) checkCap(spot, current, resulting decimal.Decimal) error {
	maxQty, err := e.limiter.CheckNotional(spot, current, resulting)
	if err == nil {
		return nil
	}
	return &Error{
		Code:    CodeInvalidArgument,
		Message: "position notional cap " + e.limiter.MaxNotional.String() + " exceeded; at most " + maxQty.String() + " more shares",
		Details: Details{Price: ptr(spot), MaxQuantity: ptr(maxQty)},
		Err:     err,
	}
}
