package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fsm/market-engine/internal/metrics"
	"github.com/fsm/market-engine/internal/model"
)

// maxTxAttempts bounds retries of a transaction that lost a deadlock or
// serialization race.
const maxTxAttempts = 3

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision and
// cross the driver boundary as text.
type PostgresStore struct {
	pgReader
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pgReader: pgReader{q: pool}, pool: pool}
}

func (s *PostgresStore) CreateSecurity(ctx context.Context, sec *model.Security) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO securities (id, sport, name, team, position, projected_points, k,
		                         total_shares, listed, listed_season, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10, $11)`,
		sec.ID, sec.Sport, sec.Name, sec.Team, sec.Position,
		sec.ProjectedPoints.String(), sec.K.String(), sec.TotalShares.String(),
		sec.Listed, sec.ListedSeason, sec.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("security %s: %w", sec.ID, ErrConflict)
	}
	return err
}

func (s *PostgresStore) CreateAccount(ctx context.Context, acct *model.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, username, cash, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4)`,
		acct.ID, acct.Username, acct.Cash.String(), acct.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("account %s: %w", acct.Username, ErrConflict)
	}
	return err
}

// WithTx runs fn in a Read Committed transaction. Row locks are taken with
// SELECT ... FOR UPDATE; a deadlock or serialization failure rolls back and
// reruns fn from scratch.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if !isRetryable(err) {
			return err
		}
		metrics.StoreRetries.Inc()
		slog.Warn("retrying transaction after lock conflict", "attempt", attempt, "err", err)
	}
	return err
}

func (s *PostgresStore) runTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{pgReader: pgReader{q: tx}}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40P01" || pgErr.Code == "40001"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func num(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

// --- Reads shared by the pool and transactions ---

type pgReader struct {
	q querier
}

const securityColumns = `id, sport, name, team, position,
	projected_points::TEXT, k::TEXT, total_shares::TEXT, listed, listed_season,
	live_now, live_week, live_game_id, live_game_label, live_game_status,
	live_game_stat_line, live_game_fantasy_points::TEXT, live_updated_at, created_at`

func scanSecurity(row scanner) (model.Security, error) {
	var sec model.Security
	var projected, k, total string
	var gamePoints *string

	err := row.Scan(&sec.ID, &sec.Sport, &sec.Name, &sec.Team, &sec.Position,
		&projected, &k, &total, &sec.Listed, &sec.ListedSeason,
		&sec.Live.LiveNow, &sec.Live.Week, &sec.Live.GameID, &sec.Live.GameLabel,
		&sec.Live.GameStatus, &sec.Live.StatLine, &gamePoints, &sec.Live.UpdatedAt,
		&sec.CreatedAt)
	if err != nil {
		return sec, err
	}

	sec.ProjectedPoints = num(projected)
	sec.K = num(k)
	sec.TotalShares = num(total)
	if gamePoints != nil {
		p := num(*gamePoints)
		sec.Live.GamePoints = &p
	}
	return sec, nil
}

func collectSecurities(rows pgx.Rows) ([]model.Security, error) {
	defer rows.Close()
	var result []model.Security
	for rows.Next() {
		sec, err := scanSecurity(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sec)
	}
	return result, rows.Err()
}

func scanAccount(row scanner) (model.Account, error) {
	var a model.Account
	var cash string
	if err := row.Scan(&a.ID, &a.Username, &cash, &a.CreatedAt); err != nil {
		return a, err
	}
	a.Cash = num(cash)
	return a, nil
}

func collectHoldings(rows pgx.Rows) ([]model.Holding, error) {
	defer rows.Close()
	var result []model.Holding
	for rows.Next() {
		var h model.Holding
		var shares string
		if err := rows.Scan(&h.AccountID, &h.SecurityID, &shares); err != nil {
			return nil, err
		}
		h.Shares = num(shares)
		result = append(result, h)
	}
	return result, rows.Err()
}

func notFound(kind, id string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return fmt.Errorf("get %s %s: %w", kind, id, err)
}

func (r pgReader) GetSecurity(ctx context.Context, id string) (*model.Security, error) {
	sec, err := scanSecurity(r.q.QueryRow(ctx,
		`SELECT `+securityColumns+` FROM securities WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("security", id, err)
	}
	return &sec, nil
}

func (r pgReader) ListSecurities(ctx context.Context) ([]model.Security, error) {
	rows, err := r.q.Query(ctx, `SELECT `+securityColumns+` FROM securities ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	return collectSecurities(rows)
}

func (r pgReader) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	a, err := scanAccount(r.q.QueryRow(ctx,
		`SELECT id, username, cash::TEXT, created_at FROM accounts WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("account", id, err)
	}
	return &a, nil
}

func (r pgReader) GetHolding(ctx context.Context, accountID, securityID string) (decimal.Decimal, error) {
	var shares string
	err := r.q.QueryRow(ctx,
		`SELECT shares::TEXT FROM holdings WHERE account_id = $1 AND security_id = $2`,
		accountID, securityID).Scan(&shares)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return num(shares), nil
}

func (r pgReader) ListHoldings(ctx context.Context, accountID string) ([]model.Holding, error) {
	rows, err := r.q.Query(ctx,
		`SELECT account_id, security_id, shares::TEXT FROM holdings
		 WHERE account_id = $1 AND shares <> 0 ORDER BY security_id`, accountID)
	if err != nil {
		return nil, err
	}
	return collectHoldings(rows)
}

func (r pgReader) StatLine(ctx context.Context, securityID string) (model.StatLine, error) {
	var line model.StatLine
	var points string
	err := r.q.QueryRow(ctx,
		`SELECT COALESCE(SUM(fantasy_points), 0)::TEXT, COALESCE(MAX(week), 0)
		 FROM weekly_stats WHERE security_id = $1`, securityID).
		Scan(&points, &line.LatestWeek)
	if err != nil {
		return line, err
	}
	line.PointsToDate = num(points)
	return line, nil
}

func (r pgReader) StatLines(ctx context.Context) (map[string]model.StatLine, error) {
	rows, err := r.q.Query(ctx,
		`SELECT security_id, SUM(fantasy_points)::TEXT, MAX(week)
		 FROM weekly_stats GROUP BY security_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]model.StatLine)
	for rows.Next() {
		var id, points string
		var week int
		if err := rows.Scan(&id, &points, &week); err != nil {
			return nil, err
		}
		result[id] = model.StatLine{PointsToDate: num(points), LatestWeek: week}
	}
	return result, rows.Err()
}

func (r pgReader) ListTransactions(ctx context.Context, accountID string, limit int) ([]model.Transaction, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.q.Query(ctx,
		`SELECT id, account_id, security_id, type, shares::TEXT, unit_price::TEXT, amount::TEXT, created_at
		 FROM transactions WHERE account_id = $1
		 ORDER BY created_at DESC, seq DESC LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var shares, unit, amount string
		if err := rows.Scan(&t.ID, &t.AccountID, &t.SecurityID, &t.Type,
			&shares, &unit, &amount, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Shares = num(shares)
		t.UnitPrice = num(unit)
		t.Amount = num(amount)
		result = append(result, t)
	}
	return result, rows.Err()
}

const pricePointColumns = `id, security_id, source, fundamental_price::TEXT, spot_price::TEXT,
	total_shares::TEXT, points_to_date::TEXT, latest_week, created_at`

func collectPricePoints(rows pgx.Rows) ([]model.PricePoint, error) {
	defer rows.Close()
	var result []model.PricePoint
	for rows.Next() {
		var p model.PricePoint
		var fair, spot, total, points string
		if err := rows.Scan(&p.ID, &p.SecurityID, &p.Source, &fair, &spot,
			&total, &points, &p.LatestWeek, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Fundamental = num(fair)
		p.Spot = num(spot)
		p.TotalShares = num(total)
		p.PointsToDate = num(points)
		result = append(result, p)
	}
	return result, rows.Err()
}

func (r pgReader) PriceHistory(ctx context.Context, securityID string, since time.Time, limit int) ([]model.PricePoint, error) {
	if limit <= 0 {
		limit = 100000
	}
	// Newest `limit` points, returned oldest first.
	rows, err := r.q.Query(ctx,
		`SELECT `+pricePointColumns+` FROM (
		   SELECT * FROM price_points
		   WHERE security_id = $1 AND created_at >= $2
		   ORDER BY created_at DESC, seq DESC LIMIT $3
		 ) recent ORDER BY created_at, seq`, securityID, since, limit)
	if err != nil {
		return nil, err
	}
	return collectPricePoints(rows)
}

func (r pgReader) PricesAsOf(ctx context.Context, at time.Time) (map[string]model.PricePoint, error) {
	rows, err := r.q.Query(ctx,
		`SELECT DISTINCT ON (security_id) `+pricePointColumns+`
		 FROM price_points WHERE created_at <= $1
		 ORDER BY security_id, created_at DESC, seq DESC`, at)
	if err != nil {
		return nil, err
	}
	points, err := collectPricePoints(rows)
	if err != nil {
		return nil, err
	}
	result := make(map[string]model.PricePoint, len(points))
	for _, p := range points {
		result[p.SecurityID] = p
	}
	return result, nil
}

func (r pgReader) SeasonClosed(ctx context.Context, season int) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM season_closes WHERE season = $1)`, season).Scan(&exists)
	return exists, err
}

// --- Transaction ---

type pgTx struct {
	pgReader
}

func (t *pgTx) LockAccount(ctx context.Context, id string) (*model.Account, error) {
	a, err := scanAccount(t.q.QueryRow(ctx,
		`SELECT id, username, cash::TEXT, created_at FROM accounts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound("account", id, err)
	}
	return &a, nil
}

func (t *pgTx) LockAllAccounts(ctx context.Context) (map[string]*model.Account, error) {
	rows, err := t.q.Query(ctx,
		`SELECT id, username, cash::TEXT, created_at FROM accounts ORDER BY id FOR UPDATE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]*model.Account)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result[a.ID] = &a
	}
	return result, rows.Err()
}

func (t *pgTx) HeldSecurityIDs(ctx context.Context, accountID string) ([]string, error) {
	rows, err := t.q.Query(ctx,
		`SELECT security_id FROM holdings
		 WHERE account_id = $1 AND shares <> 0 ORDER BY security_id`, accountID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (t *pgTx) LockSecurities(ctx context.Context, ids []string) (map[string]*model.Security, error) {
	unique := dedupeSorted(ids)
	rows, err := t.q.Query(ctx,
		`SELECT `+securityColumns+` FROM securities
		 WHERE id = ANY($1) ORDER BY id FOR UPDATE`, unique)
	if err != nil {
		return nil, err
	}
	secs, err := collectSecurities(rows)
	if err != nil {
		return nil, err
	}

	result := make(map[string]*model.Security, len(secs))
	for i := range secs {
		result[secs[i].ID] = &secs[i]
	}
	for _, id := range unique {
		if _, ok := result[id]; !ok {
			return nil, fmt.Errorf("security %s: %w", id, ErrNotFound)
		}
	}
	return result, nil
}

func dedupeSorted(ids []string) []string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	out := sorted[:0]
	for i, id := range sorted {
		if i > 0 && id == sorted[i-1] {
			continue
		}
		out = append(out, id)
	}
	return out
}

func (t *pgTx) LockAllSecurities(ctx context.Context) ([]model.Security, error) {
	rows, err := t.q.Query(ctx, `SELECT `+securityColumns+` FROM securities ORDER BY id FOR UPDATE`)
	if err != nil {
		return nil, err
	}
	return collectSecurities(rows)
}

func (t *pgTx) LockHolding(ctx context.Context, accountID, securityID string) (decimal.Decimal, error) {
	if _, err := t.q.Exec(ctx,
		`INSERT INTO holdings (account_id, security_id, shares) VALUES ($1, $2, 0)
		 ON CONFLICT (account_id, security_id) DO NOTHING`, accountID, securityID); err != nil {
		return decimal.Zero, fmt.Errorf("create holding: %w", err)
	}
	var shares string
	err := t.q.QueryRow(ctx,
		`SELECT shares::TEXT FROM holdings
		 WHERE account_id = $1 AND security_id = $2 FOR UPDATE`, accountID, securityID).Scan(&shares)
	if err != nil {
		return decimal.Zero, fmt.Errorf("lock holding: %w", err)
	}
	return num(shares), nil
}

func (t *pgTx) AccountHoldings(ctx context.Context, accountID string) ([]model.Holding, error) {
	rows, err := t.q.Query(ctx,
		`SELECT account_id, security_id, shares::TEXT FROM holdings
		 WHERE account_id = $1 AND shares <> 0 ORDER BY security_id FOR UPDATE`, accountID)
	if err != nil {
		return nil, err
	}
	return collectHoldings(rows)
}

func (t *pgTx) OpenHoldings(ctx context.Context) ([]model.Holding, error) {
	rows, err := t.q.Query(ctx,
		`SELECT account_id, security_id, shares::TEXT FROM holdings
		 WHERE shares <> 0 ORDER BY account_id, security_id FOR UPDATE`)
	if err != nil {
		return nil, err
	}
	return collectHoldings(rows)
}

func (t *pgTx) AllHoldings(ctx context.Context) ([]model.Holding, error) {
	rows, err := t.q.Query(ctx,
		`SELECT account_id, security_id, shares::TEXT FROM holdings
		 ORDER BY account_id, security_id FOR UPDATE`)
	if err != nil {
		return nil, err
	}
	return collectHoldings(rows)
}

func (t *pgTx) WeeklyStats(ctx context.Context) ([]model.WeeklyStat, error) {
	rows, err := t.q.Query(ctx,
		`SELECT security_id, week, fantasy_points::TEXT FROM weekly_stats
		 ORDER BY security_id, week`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.WeeklyStat
	for rows.Next() {
		var s model.WeeklyStat
		var points string
		if err := rows.Scan(&s.SecurityID, &s.Week, &points); err != nil {
			return nil, err
		}
		s.Points = num(points)
		result = append(result, s)
	}
	return result, rows.Err()
}

func (t *pgTx) execOne(ctx context.Context, kind, id, sql string, args ...any) error {
	tag, err := t.q.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update %s %s: %w", kind, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

func (t *pgTx) SetCash(ctx context.Context, accountID string, cash decimal.Decimal) error {
	return t.execOne(ctx, "account", accountID,
		`UPDATE accounts SET cash = $2::NUMERIC WHERE id = $1`, accountID, cash.String())
}

func (t *pgTx) SetTotalShares(ctx context.Context, securityID string, shares decimal.Decimal) error {
	return t.execOne(ctx, "security", securityID,
		`UPDATE securities SET total_shares = $2::NUMERIC WHERE id = $1`, securityID, shares.String())
}

func (t *pgTx) SetHolding(ctx context.Context, accountID, securityID string, shares decimal.Decimal) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO holdings (account_id, security_id, shares) VALUES ($1, $2, $3::NUMERIC)
		 ON CONFLICT (account_id, security_id) DO UPDATE SET shares = EXCLUDED.shares`,
		accountID, securityID, shares.String())
	return err
}

func (t *pgTx) InsertTransaction(ctx context.Context, tr *model.Transaction) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO transactions (id, account_id, security_id, type, shares, unit_price, amount, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8)`,
		tr.ID, tr.AccountID, tr.SecurityID, string(tr.Type),
		tr.Shares.String(), tr.UnitPrice.String(), tr.Amount.String(), tr.CreatedAt,
	)
	return err
}

func (t *pgTx) InsertPricePoint(ctx context.Context, p *model.PricePoint) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO price_points (id, security_id, source, fundamental_price, spot_price,
		                           total_shares, points_to_date, latest_week, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9)`,
		p.ID, p.SecurityID, p.Source, p.Fundamental.String(), p.Spot.String(),
		p.TotalShares.String(), p.PointsToDate.String(), p.LatestWeek, p.CreatedAt,
	)
	return err
}

func (t *pgTx) UpsertWeeklyStat(ctx context.Context, stat model.WeeklyStat) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO weekly_stats (security_id, week, fantasy_points) VALUES ($1, $2, $3::NUMERIC)
		 ON CONFLICT (security_id, week) DO UPDATE SET fantasy_points = EXCLUDED.fantasy_points`,
		stat.SecurityID, stat.Week, stat.Points.String())
	return err
}

func (t *pgTx) UpdateLive(ctx context.Context, securityID string, live model.Live) error {
	var gamePoints *string
	if live.GamePoints != nil {
		s := live.GamePoints.String()
		gamePoints = &s
	}
	return t.execOne(ctx, "security", securityID,
		`UPDATE securities SET live_now = $2, live_week = $3, live_game_id = $4,
		        live_game_label = $5, live_game_status = $6, live_game_stat_line = $7,
		        live_game_fantasy_points = $8::NUMERIC, live_updated_at = $9
		 WHERE id = $1`,
		securityID, live.LiveNow, live.Week, live.GameID, live.GameLabel,
		live.GameStatus, live.StatLine, gamePoints, live.UpdatedAt)
}

func (t *pgTx) SetListing(ctx context.Context, securityID string, listed bool, season *int) error {
	return t.execOne(ctx, "security", securityID,
		`UPDATE securities SET listed = $2, listed_season = $3 WHERE id = $1`,
		securityID, listed, season)
}

func (t *pgTx) ClaimSeasonClose(ctx context.Context, season int, at time.Time) (bool, error) {
	tag, err := t.q.Exec(ctx,
		`INSERT INTO season_closes (season, closed_at) VALUES ($1, $2)
		 ON CONFLICT (season) DO NOTHING`, season, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) ClaimSeasonReset(ctx context.Context, season int, at time.Time) (bool, error) {
	tag, err := t.q.Exec(ctx,
		`INSERT INTO season_resets (season, archived_stats_count, archived_holdings_count, reset_at)
		 VALUES ($1, 0, 0, $2) ON CONFLICT (season) DO NOTHING`, season, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) FinishSeasonReset(ctx context.Context, season, archivedStats, archivedHoldings int) error {
	return t.execOne(ctx, "season reset", fmt.Sprint(season),
		`UPDATE season_resets SET archived_stats_count = $2, archived_holdings_count = $3
		 WHERE season = $1`, season, archivedStats, archivedHoldings)
}

func (t *pgTx) ArchiveWeeklyStats(ctx context.Context, stats []model.ArchivedWeeklyStat) error {
	batch := &pgx.Batch{}
	for _, s := range stats {
		batch.Queue(
			`INSERT INTO archived_weekly_stats (season, security_id, week, fantasy_points, archived_at)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5)`,
			s.Season, s.SecurityID, s.Week, s.Points.String(), s.ArchivedAt)
	}
	return t.sendBatch(ctx, batch)
}

func (t *pgTx) ArchiveHoldings(ctx context.Context, holdings []model.ArchivedHolding) error {
	batch := &pgx.Batch{}
	for _, h := range holdings {
		batch.Queue(
			`INSERT INTO archived_holdings (season, account_id, security_id, shares, account_cash, archived_at)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6)`,
			h.Season, h.AccountID, h.SecurityID, h.Shares.String(), h.Cash.String(), h.ArchivedAt)
	}
	return t.sendBatch(ctx, batch)
}

func (t *pgTx) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	tx, ok := t.q.(pgx.Tx)
	if !ok {
		return errors.New("store: batch outside transaction")
	}
	return tx.SendBatch(ctx, batch).Close()
}

func (t *pgTx) DeleteWeeklyStats(ctx context.Context) (int, error) {
	tag, err := t.q.Exec(ctx, `DELETE FROM weekly_stats`)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (t *pgTx) DeleteHoldings(ctx context.Context) (int, error) {
	tag, err := t.q.Exec(ctx, `DELETE FROM holdings`)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (t *pgTx) ResetSecurities(ctx context.Context) (int, error) {
	tag, err := t.q.Exec(ctx,
		`UPDATE securities SET total_shares = 0, live_now = FALSE, live_week = NULL,
		        live_game_id = '', live_game_label = '', live_game_status = '',
		        live_game_stat_line = '', live_game_fantasy_points = NULL, live_updated_at = NULL`)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
