package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is one of the four trade directions.
type Side string

const (
	SideBuy   Side = "buy"
	SideSell  Side = "sell"
	SideShort Side = "short"
	SideCover Side = "cover"
)

// TransactionType returns the ledger tag for a voluntary trade on this side.
func (s Side) TransactionType() TransactionType {
	switch s {
	case SideBuy:
		return TxBuy
	case SideSell:
		return TxSell
	case SideShort:
		return TxShort
	default:
		return TxCover
	}
}

// Debits reports whether the side pays cash into the curve (buy, cover).
func (s Side) Debits() bool {
	return s == SideBuy || s == SideCover
}

// Quote is the economics of one prospective trade.
type Quote struct {
	SecurityID      string          `json:"security_id"`
	Side            Side            `json:"side"`
	Shares          decimal.Decimal `json:"shares"`
	Fundamental     decimal.Decimal `json:"fundamental_price"`
	SpotBefore      decimal.Decimal `json:"spot_price_before"`
	SpotAfter       decimal.Decimal `json:"spot_price_after"`
	AveragePrice    decimal.Decimal `json:"average_price"`
	Total           decimal.Decimal `json:"total"` // buy cost or sell proceeds
	NewTotalShares  decimal.Decimal `json:"new_total_shares"`
	ResultingShares decimal.Decimal `json:"resulting_shares"`
}

// PositionRisk is one non-zero holding marked to the curve.
type PositionRisk struct {
	SecurityID     string          `json:"security_id"`
	Shares         decimal.Decimal `json:"shares"`
	Spot           decimal.Decimal `json:"spot_price"`
	MarketValue    decimal.Decimal `json:"market_value"` // signed
	MarginRequired decimal.Decimal `json:"maintenance_margin_required"`
}

// IsLong reports whether the position is net long.
func (p PositionRisk) IsLong() bool { return p.Shares.IsPositive() }

// RiskSnapshot aggregates one account's positions into equity, exposure and
// margin figures.
type RiskSnapshot struct {
	AccountID     string          `json:"account_id"`
	Cash          decimal.Decimal `json:"cash_balance"`
	Equity        decimal.Decimal `json:"equity"`
	NetExposure   decimal.Decimal `json:"net_exposure"`
	GrossExposure decimal.Decimal `json:"gross_exposure"`
	MarginUsed    decimal.Decimal `json:"margin_used"`
	BuyingPower   decimal.Decimal `json:"available_buying_power"`
	MarginCall    bool            `json:"margin_call"`
	Positions     []PositionRisk  `json:"holdings"`
}

// MarginOutcome is the terminal state of the margin enforcement loop.
type MarginOutcome string

const (
	MarginCompliant           MarginOutcome = "Compliant"
	MarginStuckNonCompliant   MarginOutcome = "StuckNonCompliant"
	MarginIterationCapReached MarginOutcome = "IterationCapReached"
)

// MarginReport is what the enforcement loop returns to its caller.
type MarginReport struct {
	Outcome      MarginOutcome `json:"outcome"`
	Liquidations []Transaction `json:"liquidations,omitempty"`
	Snapshot     RiskSnapshot  `json:"snapshot"`
}

// TradeResult is returned by a committed trade.
type TradeResult struct {
	Quote
	TransactionID string          `json:"transaction_id"`
	UnitPrice     decimal.Decimal `json:"unit_price_estimate"`
	NewCash       decimal.Decimal `json:"new_cash_balance"`
	NewHolding    decimal.Decimal `json:"new_holding"`
	Margin        MarginReport    `json:"margin"`
}

// SeasonCloseResult summarizes a season close.
type SeasonCloseResult struct {
	Season           int             `json:"season"`
	TotalPayout      decimal.Decimal `json:"total_payout"`
	AccountsCredited int             `json:"users_credited"`
	PositionsClosed  int             `json:"positions_closed"`
	AlreadyClosed    bool            `json:"already_closed"`
}

// SeasonResetResult summarizes a season reset.
type SeasonResetResult struct {
	Season           int  `json:"season"`
	ArchivedStats    int  `json:"archived_stats"`
	ArchivedHoldings int  `json:"archived_holdings"`
	ClearedStats     int  `json:"cleared_stats"`
	ClearedHoldings  int  `json:"cleared_holdings"`
	SecuritiesReset  int  `json:"players_reset"`
	AlreadyReset     bool `json:"already_reset"`
}

// SecurityView is a security with its derived pricing.
type SecurityView struct {
	Security
	Fundamental  decimal.Decimal `json:"fundamental_price"`
	Spot         decimal.Decimal `json:"spot_price"`
	PointsToDate decimal.Decimal `json:"points_to_date"`
	LatestWeek   int             `json:"latest_week"`
	SharesHeld   decimal.Decimal `json:"shares_held"`
	SharesShort  decimal.Decimal `json:"shares_short"`
}

// Mover is a security's spot change over a window.
type Mover struct {
	SecurityID     string          `json:"security_id"`
	Name           string          `json:"name"`
	Spot           decimal.Decimal `json:"spot_price"`
	ReferencePrice decimal.Decimal `json:"reference_price"`
	Change         decimal.Decimal `json:"change"`
	ChangePercent  decimal.Decimal `json:"change_percent"`
	CurrentAt      time.Time       `json:"current_at"`
	ReferenceAt    *time.Time      `json:"reference_at,omitempty"`
}

// Movers groups the gainers and losers over one window.
type Movers struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Window      time.Duration `json:"window"`
	Gainers     []Mover       `json:"gainers"`
	Losers      []Mover       `json:"losers"`
}
