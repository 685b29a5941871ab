// Package store defines the persistence interface for the market engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for development and testing).
//
// Reads on Store take no locks and may observe slightly stale state. Every
// mutation happens inside WithTx, whose Tx acquires exclusive row locks in a
// fixed order: accounts, then securities (sorted by id), then holdings.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/fsm/market-engine/internal/model"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a create collides with an existing row.
	ErrConflict = errors.New("store: already exists")
)

// Reader is the lock-free read side shared by Store and Tx consumers.
type Reader interface {
	// GetSecurity retrieves a security by its ID.
	GetSecurity(ctx context.Context, id string) (*model.Security, error)

	// ListSecurities returns all securities ordered by name.
	ListSecurities(ctx context.Context) ([]model.Security, error)

	// GetAccount retrieves an account by its ID.
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// GetHolding returns the signed position, zero when no row exists.
	GetHolding(ctx context.Context, accountID, securityID string) (decimal.Decimal, error)

	// ListHoldings returns an account's non-zero holdings.
	ListHoldings(ctx context.Context, accountID string) ([]model.Holding, error)

	// StatLine aggregates one security's weekly stats.
	StatLine(ctx context.Context, securityID string) (model.StatLine, error)

	// StatLines aggregates every security's weekly stats, keyed by id.
	// Securities with no stats are absent.
	StatLines(ctx context.Context) (map[string]model.StatLine, error)

	// ListTransactions returns an account's ledger, newest first.
	ListTransactions(ctx context.Context, accountID string, limit int) ([]model.Transaction, error)

	// PriceHistory returns a security's price points at or after since,
	// oldest first. limit <= 0 means no limit.
	PriceHistory(ctx context.Context, securityID string, since time.Time, limit int) ([]model.PricePoint, error)

	// PricesAsOf returns, per security, the latest price point recorded at
	// or before at.
	PricesAsOf(ctx context.Context, at time.Time) (map[string]model.PricePoint, error)

	// SeasonClosed reports whether a close marker exists for season.
	SeasonClosed(ctx context.Context, season int) (bool, error)
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	Reader

	// CreateSecurity persists a new security.
	CreateSecurity(ctx context.Context, sec *model.Security) error

	// CreateAccount persists a new account. Usernames are unique.
	CreateAccount(ctx context.Context, acct *model.Account) error

	// WithTx runs fn in one atomic transaction. If fn returns an error
	// nothing it wrote is visible. Implementations may retry fn after a
	// lock conflict, so fn must not have side effects outside tx.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the locked read-modify-write scope of one mutating operation.
type Tx interface {
	// --- Locks (acquire in this order) ---

	// LockAccount locks one account.
	LockAccount(ctx context.Context, id string) (*model.Account, error)

	// LockAllAccounts locks every account in id order.
	LockAllAccounts(ctx context.Context) (map[string]*model.Account, error)

	// HeldSecurityIDs returns the securities an account has a non-zero
	// holding in. Stable for the tx once the account is locked.
	HeldSecurityIDs(ctx context.Context, accountID string) ([]string, error)

	// LockSecurities locks the given securities in id order. Unknown ids
	// return ErrNotFound.
	LockSecurities(ctx context.Context, ids []string) (map[string]*model.Security, error)

	// LockAllSecurities locks every security in id order.
	LockAllSecurities(ctx context.Context) ([]model.Security, error)

	// LockHolding locks one holding, creating a zero row if absent.
	LockHolding(ctx context.Context, accountID, securityID string) (decimal.Decimal, error)

	// AccountHoldings locks and returns an account's non-zero holdings.
	AccountHoldings(ctx context.Context, accountID string) ([]model.Holding, error)

	// OpenHoldings locks and returns every non-zero holding.
	OpenHoldings(ctx context.Context) ([]model.Holding, error)

	// AllHoldings returns every holding row, zeroed ones included.
	AllHoldings(ctx context.Context) ([]model.Holding, error)

	// --- Reads inside the locked scope ---

	StatLine(ctx context.Context, securityID string) (model.StatLine, error)
	StatLines(ctx context.Context) (map[string]model.StatLine, error)
	WeeklyStats(ctx context.Context) ([]model.WeeklyStat, error)
	SeasonClosed(ctx context.Context, season int) (bool, error)

	// --- Writes ---

	SetCash(ctx context.Context, accountID string, cash decimal.Decimal) error
	SetTotalShares(ctx context.Context, securityID string, shares decimal.Decimal) error
	SetHolding(ctx context.Context, accountID, securityID string, shares decimal.Decimal) error
	InsertTransaction(ctx context.Context, t *model.Transaction) error
	InsertPricePoint(ctx context.Context, p *model.PricePoint) error
	UpsertWeeklyStat(ctx context.Context, stat model.WeeklyStat) error
	UpdateLive(ctx context.Context, securityID string, live model.Live) error
	SetListing(ctx context.Context, securityID string, listed bool, season *int) error

	// --- Season transitions ---

	// ClaimSeasonClose inserts the close marker. false means another
	// caller already closed the season.
	ClaimSeasonClose(ctx context.Context, season int, at time.Time) (bool, error)

	// ClaimSeasonReset inserts the reset marker with zero counts. false
	// means the season was already reset.
	ClaimSeasonReset(ctx context.Context, season int, at time.Time) (bool, error)

	// FinishSeasonReset records the archived counts on the reset marker.
	FinishSeasonReset(ctx context.Context, season, archivedStats, archivedHoldings int) error

	ArchiveWeeklyStats(ctx context.Context, stats []model.ArchivedWeeklyStat) error
	ArchiveHoldings(ctx context.Context, holdings []model.ArchivedHolding) error

	// DeleteWeeklyStats and DeleteHoldings remove every live row and
	// return how many were removed.
	DeleteWeeklyStats(ctx context.Context) (int, error)
	DeleteHoldings(ctx context.Context) (int, error)

	// ResetSecurities zeroes total_shares and clears the live-game fields
	// of every security, returning how many were reset.
	ResetSecurities(ctx context.Context) (int, error)
}
