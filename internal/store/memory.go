package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fsm/market-engine/internal/model"
	"github.com/shopspring/decimal"
)

type holdingKey struct {
	accountID  string
	securityID string
}

type statKey struct {
	securityID string
	week       int
}

// memState is one immutable-once-published snapshot of the whole store.
type memState struct {
	securities       map[string]model.Security
	accounts         map[string]model.Account
	holdings         map[holdingKey]decimal.Decimal
	stats            map[statKey]decimal.Decimal
	transactions     []model.Transaction
	pricePoints      []model.PricePoint
	closes           map[int]model.SeasonClose
	resets           map[int]model.SeasonReset
	archivedStats    []model.ArchivedWeeklyStat
	archivedHoldings []model.ArchivedHolding
}

func newMemState() *memState {
	return &memState{
		securities: make(map[string]model.Security),
		accounts:   make(map[string]model.Account),
		holdings:   make(map[holdingKey]decimal.Decimal),
		stats:      make(map[statKey]decimal.Decimal),
		closes:     make(map[int]model.SeasonClose),
		resets:     make(map[int]model.SeasonReset),
	}
}

// clone copies the maps; append-only slices are shared with their capacity
// capped so an append in the clone never writes into the published array.
func (st *memState) clone() *memState {
	c := &memState{
		securities:       make(map[string]model.Security, len(st.securities)),
		accounts:         make(map[string]model.Account, len(st.accounts)),
		holdings:         make(map[holdingKey]decimal.Decimal, len(st.holdings)),
		stats:            make(map[statKey]decimal.Decimal, len(st.stats)),
		closes:           make(map[int]model.SeasonClose, len(st.closes)),
		resets:           make(map[int]model.SeasonReset, len(st.resets)),
		transactions:     st.transactions[:len(st.transactions):len(st.transactions)],
		pricePoints:      st.pricePoints[:len(st.pricePoints):len(st.pricePoints)],
		archivedStats:    st.archivedStats[:len(st.archivedStats):len(st.archivedStats)],
		archivedHoldings: st.archivedHoldings[:len(st.archivedHoldings):len(st.archivedHoldings)],
	}
	for k, v := range st.securities {
		c.securities[k] = v
	}
	for k, v := range st.accounts {
		c.accounts[k] = v
	}
	for k, v := range st.holdings {
		c.holdings[k] = v
	}
	for k, v := range st.stats {
		c.stats[k] = v
	}
	for k, v := range st.closes {
		c.closes[k] = v
	}
	for k, v := range st.resets {
		c.resets[k] = v
	}
	return c
}

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Transactions are serialized by a writer mutex and run against a private
// copy of the state, which replaces the published state only on success.
// Readers never block on a running transaction.
type MemoryStore struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	state   *memState
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

func (s *MemoryStore) snapshot() *memState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// WithTx runs fn against a copy of the state and publishes it if fn succeeds.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.snapshot().clone()
	if err := fn(&memTx{st: work}); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = work
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) CreateSecurity(ctx context.Context, sec *model.Security) error {
	return s.WithTx(ctx, func(tx Tx) error {
		st := tx.(*memTx).st
		if _, ok := st.securities[sec.ID]; ok {
			return fmt.Errorf("security %s: %w", sec.ID, ErrConflict)
		}
		st.securities[sec.ID] = *sec
		return nil
	})
}

func (s *MemoryStore) CreateAccount(ctx context.Context, acct *model.Account) error {
	return s.WithTx(ctx, func(tx Tx) error {
		st := tx.(*memTx).st
		for _, existing := range st.accounts {
			if existing.ID == acct.ID || existing.Username == acct.Username {
				return fmt.Errorf("account %s: %w", acct.Username, ErrConflict)
			}
		}
		st.accounts[acct.ID] = *acct
		return nil
	})
}

func (s *MemoryStore) GetSecurity(_ context.Context, id string) (*model.Security, error) {
	sec, ok := s.snapshot().securities[id]
	if !ok {
		return nil, fmt.Errorf("security %s: %w", id, ErrNotFound)
	}
	return &sec, nil
}

func (s *MemoryStore) ListSecurities(_ context.Context) ([]model.Security, error) {
	return sortedSecurities(s.snapshot(), func(a, b model.Security) bool {
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	}), nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*model.Account, error) {
	acct, ok := s.snapshot().accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	return &acct, nil
}

func (s *MemoryStore) GetHolding(_ context.Context, accountID, securityID string) (decimal.Decimal, error) {
	return s.snapshot().holdings[holdingKey{accountID, securityID}], nil
}

func (s *MemoryStore) ListHoldings(_ context.Context, accountID string) ([]model.Holding, error) {
	return accountHoldings(s.snapshot(), accountID), nil
}

func (s *MemoryStore) StatLine(_ context.Context, securityID string) (model.StatLine, error) {
	return statLines(s.snapshot())[securityID], nil
}

func (s *MemoryStore) StatLines(_ context.Context) (map[string]model.StatLine, error) {
	return statLines(s.snapshot()), nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, accountID string, limit int) ([]model.Transaction, error) {
	st := s.snapshot()
	var result []model.Transaction
	for i := len(st.transactions) - 1; i >= 0; i-- {
		if st.transactions[i].AccountID != accountID {
			continue
		}
		result = append(result, st.transactions[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *MemoryStore) PriceHistory(_ context.Context, securityID string, since time.Time, limit int) ([]model.PricePoint, error) {
	st := s.snapshot()
	var result []model.PricePoint
	for _, p := range st.pricePoints {
		if p.SecurityID != securityID || p.CreatedAt.Before(since) {
			continue
		}
		result = append(result, p)
	}
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

func (s *MemoryStore) PricesAsOf(_ context.Context, at time.Time) (map[string]model.PricePoint, error) {
	st := s.snapshot()
	result := make(map[string]model.PricePoint)
	// Points are appended in commit order, so the last match wins.
	for _, p := range st.pricePoints {
		if p.CreatedAt.After(at) {
			continue
		}
		result[p.SecurityID] = p
	}
	return result, nil
}

func (s *MemoryStore) SeasonClosed(_ context.Context, season int) (bool, error) {
	_, ok := s.snapshot().closes[season]
	return ok, nil
}

// --- helpers shared by MemoryStore and memTx ---

func sortedSecurities(st *memState, less func(a, b model.Security) bool) []model.Security {
	result := make([]model.Security, 0, len(st.securities))
	for _, sec := range st.securities {
		result = append(result, sec)
	}
	sort.Slice(result, func(i, j int) bool { return less(result[i], result[j]) })
	return result
}

func accountHoldings(st *memState, accountID string) []model.Holding {
	var result []model.Holding
	for k, shares := range st.holdings {
		if k.accountID == accountID && !shares.IsZero() {
			result = append(result, model.Holding{AccountID: k.accountID, SecurityID: k.securityID, Shares: shares})
		}
	}
	sortHoldings(result)
	return result
}

func sortHoldings(h []model.Holding) {
	sort.Slice(h, func(i, j int) bool {
		if h[i].AccountID != h[j].AccountID {
			return h[i].AccountID < h[j].AccountID
		}
		return h[i].SecurityID < h[j].SecurityID
	})
}

func statLines(st *memState) map[string]model.StatLine {
	result := make(map[string]model.StatLine)
	for k, points := range st.stats {
		line := result[k.securityID]
		line.PointsToDate = line.PointsToDate.Add(points)
		if k.week > line.LatestWeek {
			line.LatestWeek = k.week
		}
		result[k.securityID] = line
	}
	return result
}

// memTx is the Tx of a MemoryStore. The writer mutex is the only lock, so
// the Lock* methods just read.
type memTx struct {
	st *memState
}

func (t *memTx) LockAccount(_ context.Context, id string) (*model.Account, error) {
	acct, ok := t.st.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	return &acct, nil
}

func (t *memTx) LockAllAccounts(_ context.Context) (map[string]*model.Account, error) {
	result := make(map[string]*model.Account, len(t.st.accounts))
	for id, acct := range t.st.accounts {
		a := acct
		result[id] = &a
	}
	return result, nil
}

func (t *memTx) HeldSecurityIDs(_ context.Context, accountID string) ([]string, error) {
	holdings := accountHoldings(t.st, accountID)
	ids := make([]string, 0, len(holdings))
	for _, h := range holdings {
		ids = append(ids, h.SecurityID)
	}
	return ids, nil
}

func (t *memTx) LockSecurities(_ context.Context, ids []string) (map[string]*model.Security, error) {
	result := make(map[string]*model.Security, len(ids))
	for _, id := range ids {
		sec, ok := t.st.securities[id]
		if !ok {
			return nil, fmt.Errorf("security %s: %w", id, ErrNotFound)
		}
		result[id] = &sec
	}
	return result, nil
}

func (t *memTx) LockAllSecurities(_ context.Context) ([]model.Security, error) {
	return sortedSecurities(t.st, func(a, b model.Security) bool { return a.ID < b.ID }), nil
}

func (t *memTx) LockHolding(_ context.Context, accountID, securityID string) (decimal.Decimal, error) {
	k := holdingKey{accountID, securityID}
	shares, ok := t.st.holdings[k]
	if !ok {
		t.st.holdings[k] = decimal.Zero
	}
	return shares, nil
}

func (t *memTx) AccountHoldings(_ context.Context, accountID string) ([]model.Holding, error) {
	return accountHoldings(t.st, accountID), nil
}

func (t *memTx) OpenHoldings(ctx context.Context) ([]model.Holding, error) {
	all, _ := t.AllHoldings(ctx)
	open := all[:0]
	for _, h := range all {
		if !h.Shares.IsZero() {
			open = append(open, h)
		}
	}
	return open, nil
}

func (t *memTx) AllHoldings(_ context.Context) ([]model.Holding, error) {
	result := make([]model.Holding, 0, len(t.st.holdings))
	for k, shares := range t.st.holdings {
		result = append(result, model.Holding{AccountID: k.accountID, SecurityID: k.securityID, Shares: shares})
	}
	sortHoldings(result)
	return result, nil
}

func (t *memTx) StatLine(_ context.Context, securityID string) (model.StatLine, error) {
	return statLines(t.st)[securityID], nil
}

func (t *memTx) StatLines(_ context.Context) (map[string]model.StatLine, error) {
	return statLines(t.st), nil
}

func (t *memTx) WeeklyStats(_ context.Context) ([]model.WeeklyStat, error) {
	result := make([]model.WeeklyStat, 0, len(t.st.stats))
	for k, points := range t.st.stats {
		result = append(result, model.WeeklyStat{SecurityID: k.securityID, Week: k.week, Points: points})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].SecurityID != result[j].SecurityID {
			return result[i].SecurityID < result[j].SecurityID
		}
		return result[i].Week < result[j].Week
	})
	return result, nil
}

func (t *memTx) SeasonClosed(_ context.Context, season int) (bool, error) {
	_, ok := t.st.closes[season]
	return ok, nil
}

func (t *memTx) SetCash(_ context.Context, accountID string, cash decimal.Decimal) error {
	acct, ok := t.st.accounts[accountID]
	if !ok {
		return fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	acct.Cash = cash
	t.st.accounts[accountID] = acct
	return nil
}

func (t *memTx) SetTotalShares(_ context.Context, securityID string, shares decimal.Decimal) error {
	sec, ok := t.st.securities[securityID]
	if !ok {
		return fmt.Errorf("security %s: %w", securityID, ErrNotFound)
	}
	sec.TotalShares = shares
	t.st.securities[securityID] = sec
	return nil
}

func (t *memTx) SetHolding(_ context.Context, accountID, securityID string, shares decimal.Decimal) error {
	t.st.holdings[holdingKey{accountID, securityID}] = shares
	return nil
}

func (t *memTx) InsertTransaction(_ context.Context, tr *model.Transaction) error {
	t.st.transactions = append(t.st.transactions, *tr)
	return nil
}

func (t *memTx) InsertPricePoint(_ context.Context, p *model.PricePoint) error {
	t.st.pricePoints = append(t.st.pricePoints, *p)
	return nil
}

func (t *memTx) UpsertWeeklyStat(_ context.Context, stat model.WeeklyStat) error {
	if _, ok := t.st.securities[stat.SecurityID]; !ok {
		return fmt.Errorf("security %s: %w", stat.SecurityID, ErrNotFound)
	}
	t.st.stats[statKey{stat.SecurityID, stat.Week}] = stat.Points
	return nil
}

func (t *memTx) UpdateLive(_ context.Context, securityID string, live model.Live) error {
	sec, ok := t.st.securities[securityID]
	if !ok {
		return fmt.Errorf("security %s: %w", securityID, ErrNotFound)
	}
	sec.Live = live
	t.st.securities[securityID] = sec
	return nil
}

func (t *memTx) SetListing(_ context.Context, securityID string, listed bool, season *int) error {
	sec, ok := t.st.securities[securityID]
	if !ok {
		return fmt.Errorf("security %s: %w", securityID, ErrNotFound)
	}
	sec.Listed = listed
	sec.ListedSeason = season
	t.st.securities[securityID] = sec
	return nil
}

func (t *memTx) ClaimSeasonClose(_ context.Context, season int, at time.Time) (bool, error) {
	if _, ok := t.st.closes[season]; ok {
		return false, nil
	}
	t.st.closes[season] = model.SeasonClose{Season: season, ClosedAt: at}
	return true, nil
}

func (t *memTx) ClaimSeasonReset(_ context.Context, season int, at time.Time) (bool, error) {
	if _, ok := t.st.resets[season]; ok {
		return false, nil
	}
	t.st.resets[season] = model.SeasonReset{Season: season, ResetAt: at}
	return true, nil
}

func (t *memTx) FinishSeasonReset(_ context.Context, season, archivedStats, archivedHoldings int) error {
	r, ok := t.st.resets[season]
	if !ok {
		return fmt.Errorf("season reset %d: %w", season, ErrNotFound)
	}
	r.ArchivedStats = archivedStats
	r.ArchivedHoldings = archivedHoldings
	t.st.resets[season] = r
	return nil
}

func (t *memTx) ArchiveWeeklyStats(_ context.Context, stats []model.ArchivedWeeklyStat) error {
	t.st.archivedStats = append(t.st.archivedStats, stats...)
	return nil
}

func (t *memTx) ArchiveHoldings(_ context.Context, holdings []model.ArchivedHolding) error {
	t.st.archivedHoldings = append(t.st.archivedHoldings, holdings...)
	return nil
}

func (t *memTx) DeleteWeeklyStats(_ context.Context) (int, error) {
	n := len(t.st.stats)
	t.st.stats = make(map[statKey]decimal.Decimal)
	return n, nil
}

func (t *memTx) DeleteHoldings(_ context.Context) (int, error) {
	n := len(t.st.holdings)
	t.st.holdings = make(map[holdingKey]decimal.Decimal)
	return n, nil
}

func (t *memTx) ResetSecurities(_ context.Context) (int, error) {
	for id, sec := range t.st.securities {
		sec.TotalShares = decimal.Zero
		sec.Live = model.Live{}
		t.st.securities[id] = sec
	}
	return len(t.st.securities), nil
}

// Archived returns the archived stats and holdings of a season. Used by
// tests and operator tooling.
func (s *MemoryStore) Archived(season int) ([]model.ArchivedWeeklyStat, []model.ArchivedHolding) {
	st := s.snapshot()
	var stats []model.ArchivedWeeklyStat
	for _, a := range st.archivedStats {
		if a.Season == season {
			stats = append(stats, a)
		}
	}
	var holdings []model.ArchivedHolding
	for _, a := range st.archivedHoldings {
		if a.Season == season {
			holdings = append(holdings, a)
		}
	}
	return stats, holdings
}
