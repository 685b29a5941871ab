package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/fsm/market-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for securities and accounts. Writes go to the primary store and
// invalidate the cache after commit; reads check Redis first then fall back
// to the primary. Locked reads inside WithTx always hit the primary.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store: primary,
		rdb:   rdb,
		ttl:   ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateSecurity(ctx context.Context, sec *model.Security) error {
	if err := s.Store.CreateSecurity(ctx, sec); err != nil {
		return err
	}
	s.cache(ctx, securityKey(sec.ID), sec)
	return nil
}

func (s *CachedStore) CreateAccount(ctx context.Context, acct *model.Account) error {
	if err := s.Store.CreateAccount(ctx, acct); err != nil {
		return err
	}
	s.cache(ctx, accountKey(acct.ID), acct)
	return nil
}

// WithTx runs fn on the primary and, once it commits, drops every cached
// row the transaction locked.
func (s *CachedStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	touched := newTouchSet()
	err := s.Store.WithTx(ctx, func(tx Tx) error {
		return fn(&recordingTx{Tx: tx, touched: touched})
	})
	if err != nil {
		return err
	}

	if keys := touched.keys(); len(keys) > 0 {
		if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
			slog.Warn("cache invalidation failed", "keys", len(keys), "err", err)
		}
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetSecurity(ctx context.Context, id string) (*model.Security, error) {
	var sec model.Security
	if s.lookup(ctx, securityKey(id), &sec) {
		return &sec, nil
	}

	// Cache miss: read from primary.
	got, err := s.Store.GetSecurity(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, securityKey(id), got)
	return got, nil
}

func (s *CachedStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	var acct model.Account
	if s.lookup(ctx, accountKey(id), &acct) {
		return &acct, nil
	}

	got, err := s.Store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, accountKey(id), got)
	return got, nil
}

// --- Cache helpers ---

func (s *CachedStore) lookup(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func securityKey(id string) string { return fmt.Sprintf("security:%s", id) }
func accountKey(id string) string  { return fmt.Sprintf("account:%s", id) }

// touchSet collects cache keys across retries of one WithTx call.
type touchSet struct {
	mu  sync.Mutex
	set map[string]struct{}
}

func newTouchSet() *touchSet {
	return &touchSet{set: make(map[string]struct{})}
}

func (t *touchSet) add(key string) {
	t.mu.Lock()
	t.set[key] = struct{}{}
	t.mu.Unlock()
}

func (t *touchSet) keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]string, 0, len(t.set))
	for k := range t.set {
		keys = append(keys, k)
	}
	return keys
}

// recordingTx notes every account and security row the transaction locks
// or writes. Locking a row is taken as intent to modify it.
type recordingTx struct {
	Tx
	touched *touchSet
}

func (t *recordingTx) LockAccount(ctx context.Context, id string) (*model.Account, error) {
	t.touched.add(accountKey(id))
	return t.Tx.LockAccount(ctx, id)
}

func (t *recordingTx) LockAllAccounts(ctx context.Context) (map[string]*model.Account, error) {
	accts, err := t.Tx.LockAllAccounts(ctx)
	for id := range accts {
		t.touched.add(accountKey(id))
	}
	return accts, err
}

func (t *recordingTx) LockSecurities(ctx context.Context, ids []string) (map[string]*model.Security, error) {
	for _, id := range ids {
		t.touched.add(securityKey(id))
	}
	return t.Tx.LockSecurities(ctx, ids)
}

func (t *recordingTx) LockAllSecurities(ctx context.Context) ([]model.Security, error) {
	secs, err := t.Tx.LockAllSecurities(ctx)
	for _, sec := range secs {
		t.touched.add(securityKey(sec.ID))
	}
	return secs, err
}

func (t *recordingTx) SetCash(ctx context.Context, accountID string, cash decimal.Decimal) error {
	t.touched.add(accountKey(accountID))
	return t.Tx.SetCash(ctx, accountID, cash)
}

func (t *recordingTx) SetTotalShares(ctx context.Context, securityID string, shares decimal.Decimal) error {
	t.touched.add(securityKey(securityID))
	return t.Tx.SetTotalShares(ctx, securityID, shares)
}

func (t *recordingTx) UpdateLive(ctx context.Context, securityID string, live model.Live) error {
	t.touched.add(securityKey(securityID))
	return t.Tx.UpdateLive(ctx, securityID, live)
}

func (t *recordingTx) SetListing(ctx context.Context, securityID string, listed bool, season *int) error {
	t.touched.add(securityKey(securityID))
	return t.Tx.SetListing(ctx, securityID, listed, season)
}
