// Package model defines the core domain types shared across the market engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType tags an immutable ledger row.
type TransactionType string

const (
	TxBuy            TransactionType = "BUY"
	TxSell           TransactionType = "SELL"
	TxShort          TransactionType = "SHORT"
	TxCover          TransactionType = "COVER"
	TxLiquidateSell  TransactionType = "LIQUIDATE_SELL"
	TxLiquidateCover TransactionType = "LIQUIDATE_COVER"
	TxSeasonClose    TransactionType = "SEASON_CLOSE"
)

// Price point sources that are not trades.
const (
	SourceStats       = "STATS"
	SourceSeasonClose = "SEASON_CLOSE"
	SourceSeasonReset = "SEASON_RESET"
)

// Live holds the transient live-game fields of a security. Cleared on
// season reset.
type Live struct {
	LiveNow    bool             `json:"live_now" db:"live_now"`
	Week       *int             `json:"week,omitempty" db:"live_week"`
	GameID     string           `json:"game_id,omitempty" db:"live_game_id"`
	GameLabel  string           `json:"game_label,omitempty" db:"live_game_label"`
	GameStatus string           `json:"game_status,omitempty" db:"live_game_status"`
	StatLine   string           `json:"game_stat_line,omitempty" db:"live_game_stat_line"`
	GamePoints *decimal.Decimal `json:"game_fantasy_points,omitempty" db:"live_game_fantasy_points"`
	UpdatedAt  *time.Time       `json:"updated_at,omitempty" db:"live_updated_at"`
}

// Security is one tradable player share. TotalShares is the signed net
// curve depth: long demand increases it, short demand decreases it.
type Security struct {
	ID              string          `json:"id" db:"id"`
	Sport           string          `json:"sport" db:"sport"`
	Name            string          `json:"name" db:"name"`
	Team            string          `json:"team" db:"team"`
	Position        string          `json:"position" db:"position"`
	ProjectedPoints decimal.Decimal `json:"projected_points" db:"projected_points"`
	K               decimal.Decimal `json:"k" db:"k"`
	TotalShares     decimal.Decimal `json:"total_shares" db:"total_shares"`
	Listed          bool            `json:"listed" db:"listed"`
	ListedSeason    *int            `json:"listed_season,omitempty" db:"listed_season"`
	Live            Live            `json:"live"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// Account holds a trader's cash balance.
type Account struct {
	ID        string          `json:"id" db:"id"`
	Username  string          `json:"username" db:"username"`
	Cash      decimal.Decimal `json:"cash" db:"cash"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Holding is one account's signed position in one security.
// Positive = long, negative = short.
type Holding struct {
	AccountID  string          `json:"account_id" db:"account_id"`
	SecurityID string          `json:"security_id" db:"security_id"`
	Shares     decimal.Decimal `json:"shares" db:"shares"`
}

// Transaction is an immutable ledger row. Amount is the signed cash delta
// (+ credit, - debit).
type Transaction struct {
	ID         string          `json:"id" db:"id"`
	AccountID  string          `json:"account_id" db:"account_id"`
	SecurityID string          `json:"security_id" db:"security_id"`
	Type       TransactionType `json:"type" db:"type"`
	Shares     decimal.Decimal `json:"shares" db:"shares"`
	UnitPrice  decimal.Decimal `json:"unit_price" db:"unit_price"`
	Amount     decimal.Decimal `json:"amount" db:"amount"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// PricePoint is one immutable sample of a security's price state.
type PricePoint struct {
	ID           string          `json:"id" db:"id"`
	SecurityID   string          `json:"security_id" db:"security_id"`
	Source       string          `json:"source" db:"source"`
	Fundamental  decimal.Decimal `json:"fundamental_price" db:"fundamental_price"`
	Spot         decimal.Decimal `json:"spot_price" db:"spot_price"`
	TotalShares  decimal.Decimal `json:"total_shares" db:"total_shares"`
	PointsToDate decimal.Decimal `json:"points_to_date" db:"points_to_date"`
	LatestWeek   int             `json:"latest_week" db:"latest_week"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// WeeklyStat is the realized fantasy points of one security in one week.
type WeeklyStat struct {
	SecurityID string          `json:"security_id" db:"security_id"`
	Week       int             `json:"week" db:"week"`
	Points     decimal.Decimal `json:"fantasy_points" db:"fantasy_points"`
}

// StatLine aggregates a security's weekly stats: sum of points and max week.
type StatLine struct {
	PointsToDate decimal.Decimal `json:"points_to_date"`
	LatestWeek   int             `json:"latest_week"`
}

// SeasonClose marks a closed season.
type SeasonClose struct {
	Season   int       `json:"season" db:"season"`
	ClosedAt time.Time `json:"closed_at" db:"closed_at"`
}

// SeasonReset marks a reset season.
type SeasonReset struct {
	Season           int       `json:"season" db:"season"`
	ArchivedStats    int       `json:"archived_stats" db:"archived_stats_count"`
	ArchivedHoldings int       `json:"archived_holdings" db:"archived_holdings_count"`
	ResetAt          time.Time `json:"reset_at" db:"reset_at"`
}

// ArchivedWeeklyStat is a weekly stat preserved by a season reset.
type ArchivedWeeklyStat struct {
	Season     int             `json:"season"`
	SecurityID string          `json:"security_id"`
	Week       int             `json:"week"`
	Points     decimal.Decimal `json:"fantasy_points"`
	ArchivedAt time.Time       `json:"archived_at"`
}

// ArchivedHolding is a holding preserved by a season reset together with the
// account's cash at reset time.
type ArchivedHolding struct {
	Season     int             `json:"season"`
	AccountID  string          `json:"account_id"`
	SecurityID string          `json:"security_id"`
	Shares     decimal.Decimal `json:"shares"`
	Cash       decimal.Decimal `json:"account_cash"`
	ArchivedAt time.Time       `json:"archived_at"`
}
