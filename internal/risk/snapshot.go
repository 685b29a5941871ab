// Package risk aggregates an account's positions into equity, exposure and
// margin figures, and enforces per-position notional limits.
//
// All figures are marked to the curve's current spot price:
//
//	market_value   = shares · spot            (signed)
//	margin         = |market_value| · rate    (long or short rate)
//	equity         = cash + Σ market_value
//	buying_power   = max(0, equity − Σ margin)
//	margin_call    = Σ margin > 0 ∧ equity < Σ margin
package risk

import (
	"github.com/fsm/market-engine/internal/model"
	"github.com/shopspring/decimal"
)

const scale int32 = 8

// PositionInput is one holding with the spot it is marked at.
type PositionInput struct {
	SecurityID string
	Shares     decimal.Decimal
	Spot       decimal.Decimal
}

// Builder computes risk snapshots for a fixed pair of maintenance rates.
type Builder struct {
	longRate  decimal.Decimal
	shortRate decimal.Decimal
}

// NewBuilder creates a snapshot builder. Rates are fractions of absolute
// market value (0.25 = 25%).
func NewBuilder(longRate, shortRate decimal.Decimal) *Builder {
	return &Builder{longRate: longRate, shortRate: shortRate}
}

// Rate returns the maintenance rate that applies to a position of the given
// sign.
func (b *Builder) Rate(shares decimal.Decimal) decimal.Decimal {
	if shares.IsNegative() {
		return b.shortRate
	}
	return b.longRate
}

// Build aggregates positions into a snapshot. Flat positions are skipped;
// the order of the remaining positions is preserved.
func (b *Builder) Build(accountID string, cash decimal.Decimal, positions []PositionInput) model.RiskSnapshot {
	snap := model.RiskSnapshot{
		AccountID:     accountID,
		Cash:          cash,
		NetExposure:   decimal.Zero,
		GrossExposure: decimal.Zero,
		MarginUsed:    decimal.Zero,
		Positions:     make([]model.PositionRisk, 0, len(positions)),
	}

	for _, p := range positions {
		if p.Shares.IsZero() {
			continue
		}
		mv := p.Shares.Mul(p.Spot).Round(scale)
		margin := mv.Abs().Mul(b.Rate(p.Shares)).Round(scale)

		snap.Positions = append(snap.Positions, model.PositionRisk{
			SecurityID:     p.SecurityID,
			Shares:         p.Shares,
			Spot:           p.Spot,
			MarketValue:    mv,
			MarginRequired: margin,
		})
		snap.NetExposure = snap.NetExposure.Add(mv)
		snap.GrossExposure = snap.GrossExposure.Add(mv.Abs())
		snap.MarginUsed = snap.MarginUsed.Add(margin)
	}

	snap.Equity = cash.Add(snap.NetExposure)
	snap.BuyingPower = decimal.Max(decimal.Zero, snap.Equity.Sub(snap.MarginUsed))
	snap.MarginCall = snap.MarginUsed.IsPositive() && snap.Equity.LessThan(snap.MarginUsed)
	return snap
}
