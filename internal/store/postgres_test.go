package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/fsm/market-engine/internal/catalog"
	"github.com/fsm/market-engine/internal/engine"
	"github.com/fsm/market-engine/internal/store"
)

// setupPostgres starts a PostgreSQL container, applies migrations and
// returns a pool. The container is terminated when the test ends.
func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Errorf("failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(connStr))

	// Second run must be a no-op.
	require.NoError(t, store.Migrate(connStr))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func truncateAll(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`TRUNCATE archived_holdings, archived_weekly_stats, season_resets, season_closes,
		          weekly_stats, price_points, transactions, holdings, accounts, securities CASCADE`)
	require.NoError(t, err)
}

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	pool := setupPostgres(t)
	runStoreSuite(t, func(t *testing.T) store.Store {
		truncateAll(t, pool)
		return store.NewPostgresStore(pool)
	})
}

// TestPostgresConcurrentTrades drives the engine with parallel trades so the
// row locks, lazy holding inserts and deadlock retries run for real.
func TestPostgresConcurrentTrades(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	pool := setupPostgres(t)
	truncateAll(t, pool)
	st := store.NewPostgresStore(pool)
	eng, err := engine.New(st, engine.DefaultParams())
	require.NoError(t, err)
	ctx := context.Background()

	listing := func(name string) catalog.Listing {
		return catalog.Listing{Name: name, Position: "QB", ProjectedPoints: decimal.NewFromInt(100), K: decimal.RequireFromString("0.002")}
	}
	x, err := eng.CreateSecurity(ctx, listing("Player X"), true)
	require.NoError(t, err)
	y, err := eng.CreateSecurity(ctx, listing("Player Y"), true)
	require.NoError(t, err)

	const n = 8
	accounts := make([]string, n)
	for i := range accounts {
		acct, err := eng.CreateAccount(ctx, fmt.Sprintf("pg-trader-%d", i))
		require.NoError(t, err)
		accounts[i] = acct.ID
	}

	var wg sync.WaitGroup
	errs := make(chan error, n*4)
	for i, acct := range accounts {
		wg.Add(1)
		go func(i int, acct string) {
			defer wg.Done()
			qty := decimal.NewFromInt(int64(i + 1))
			// Alternate the order so the lock ordering is what prevents deadlocks.
			first, second := x.ID, y.ID
			if i%2 == 1 {
				first, second = y.ID, x.ID
			}
			for _, sec := range []string{first, second, first} {
				if _, err := eng.Buy(ctx, acct, sec, qty); err != nil {
					errs <- err
				}
			}
			if _, err := eng.Sell(ctx, acct, second, qty); err != nil {
				errs <- err
			}
		}(i, acct)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("trade failed: %v", err)
	}

	// Even accounts end with 2q in X and 0 in Y; odd accounts the reverse.
	want := map[string]decimal.Decimal{x.ID: decimal.Zero, y.ID: decimal.Zero}
	for i := range accounts {
		q := decimal.NewFromInt(int64(2 * (i + 1)))
		if i%2 == 0 {
			want[x.ID] = want[x.ID].Add(q)
		} else {
			want[y.ID] = want[y.ID].Add(q)
		}
	}

	for _, secID := range []string{x.ID, y.ID} {
		sec, err := st.GetSecurity(ctx, secID)
		require.NoError(t, err)
		assert.True(t, sec.TotalShares.Equal(want[secID]), "total_shares %s, want %s", sec.TotalShares, want[secID])

		sum := decimal.Zero
		for _, acct := range accounts {
			held, err := st.GetHolding(ctx, acct, secID)
			require.NoError(t, err)
			sum = sum.Add(held)
		}
		assert.True(t, sec.TotalShares.Equal(sum), "total_shares %s, holdings %s", sec.TotalShares, sum)
	}

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM transactions`).Scan(&count))
	assert.Equal(t, n*4, count)
}
