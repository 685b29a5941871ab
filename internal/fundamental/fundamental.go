// Package fundamental computes the fair-value anchor a security's curve is
// priced around.
//
// The anchor starts at the preseason projection and re-centers on
// pace-adjusted realized performance as the season progresses:
//
//	expected = projected · clamp(week, 0, W) / W
//	fair     = max(1, projected + weight · (pointsToDate − expected))
package fundamental

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrInvalidSeasonWeeks is returned when the season length is not positive.
var ErrInvalidSeasonWeeks = errors.New("fundamental: season weeks must be positive")

var minFair = decimal.NewFromInt(1)

// Model holds the season length and performance weight.
type Model struct {
	seasonWeeks int
	weight      decimal.Decimal
}

// New creates a fundamental price model.
func New(seasonWeeks int, weight decimal.Decimal) (*Model, error) {
	if seasonWeeks <= 0 {
		return nil, ErrInvalidSeasonWeeks
	}
	return &Model{seasonWeeks: seasonWeeks, weight: weight}, nil
}

// SeasonWeeks returns the configured season length.
func (m *Model) SeasonWeeks() int { return m.seasonWeeks }

// Expected returns the points a security projected for the full season should
// have scored by the end of week.
func (m *Model) Expected(projected decimal.Decimal, week int) decimal.Decimal {
	if week < 0 {
		week = 0
	}
	if week > m.seasonWeeks {
		week = m.seasonWeeks
	}
	return projected.
		Mul(decimal.NewFromInt(int64(week))).
		Div(decimal.NewFromInt(int64(m.seasonWeeks)))
}

// FairValue returns the fundamental price, floored at 1.
func (m *Model) FairValue(projected, pointsToDate decimal.Decimal, week int) decimal.Decimal {
	delta := pointsToDate.Sub(m.Expected(projected, week))
	fair := projected.Add(m.weight.Mul(delta))
	if fair.LessThan(minFair) {
		return minFair
	}
	return fair.Round(8)
}
