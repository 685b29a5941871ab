package engine

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fsm/market-engine/internal/catalog"
	"github.com/fsm/market-engine/internal/model"
	"github.com/fsm/market-engine/internal/store"
)

const (
	defaultTransactionLimit = 100
	maxTransactionLimit     = 1000
)

// CreateAccount opens an account funded with the configured starting cash.
func (e *Engine) CreateAccount(ctx context.Context, username string) (*model.Account, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, invalid(Details{}, "username is required")
	}
	acct := &model.Account{
		ID:        uuid.NewString(),
		Username:  username,
		Cash:      e.params.StartingCash,
		CreatedAt: e.now(),
	}
	if err := e.store.CreateAccount(ctx, acct); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, invalid(Details{}, "username %q is already taken", username)
		}
		return nil, wrapStore("create account", err)
	}
	return acct, nil
}

// CreateSecurity lists a new player share at zero depth. Missing projection
// and k are filled from the sport and position defaults.
func (e *Engine) CreateSecurity(ctx context.Context, l catalog.Listing, listed bool) (*model.Security, error) {
	resolved, err := catalog.Resolve(l)
	if err != nil {
		return nil, &Error{Code: CodeInvalidArgument, Message: err.Error(), Err: err}
	}
	sec := &model.Security{
		ID:              uuid.NewString(),
		Sport:           resolved.Sport,
		Name:            resolved.Name,
		Team:            resolved.Team,
		Position:        resolved.Position,
		ProjectedPoints: resolved.ProjectedPoints,
		K:               resolved.K,
		TotalShares:     decimal.Zero,
		Listed:          listed,
		CreatedAt:       e.now(),
	}
	if err := e.store.CreateSecurity(ctx, sec); err != nil {
		return nil, wrapStore("create security", err)
	}
	return sec, nil
}

// SetListing opens or closes a security for trading. season tags the IPO
// season and may be nil.
func (e *Engine) SetListing(ctx context.Context, securityID string, listed bool, season *int) (*model.Security, error) {
	var out model.Security
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		secs, err := tx.LockSecurities(ctx, []string{securityID})
		if err != nil {
			if isNotFound(err) {
				return notFound("security %s not found", securityID)
			}
			return wrapStore("lock security", err)
		}
		if err := tx.SetListing(ctx, securityID, listed, season); err != nil {
			return wrapStore("set listing", err)
		}
		out = *secs[securityID]
		out.Listed = listed
		out.ListedSeason = season
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// RecordWeeklyStat upserts one week of realized points, optionally replaces
// the live-game fields, and records the moved price.
func (e *Engine) RecordWeeklyStat(ctx context.Context, stat model.WeeklyStat, live *model.Live) (model.PricePoint, error) {
	if stat.Week < 1 {
		return model.PricePoint{}, invalid(Details{}, "week must be at least 1, got %d", stat.Week)
	}
	if stat.Points.IsNegative() {
		return model.PricePoint{}, invalid(Details{}, "fantasy points must not be negative, got %s", stat.Points)
	}
	if err := checkScale("fantasy points", stat.Points); err != nil {
		return model.PricePoint{}, err
	}

	var points []model.PricePoint
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		sc := newScope(tx, e.now())
		secs, err := tx.LockSecurities(ctx, []string{stat.SecurityID})
		if err != nil {
			if isNotFound(err) {
				return notFound("security %s not found", stat.SecurityID)
			}
			return wrapStore("lock security", err)
		}
		sc.secs = secs

		if err := tx.UpsertWeeklyStat(ctx, stat); err != nil {
			return wrapStore("upsert weekly stat", err)
		}
		if live != nil {
			l := *live
			l.UpdatedAt = &sc.now
			if err := tx.UpdateLive(ctx, stat.SecurityID, l); err != nil {
				return wrapStore("update live", err)
			}
			secs[stat.SecurityID].Live = l
		}

		p, err := e.scopePricing(ctx, sc, stat.SecurityID)
		if err != nil {
			return err
		}
		if err := e.record(ctx, sc, p, model.SourceStats); err != nil {
			return err
		}
		points = sc.points
		return nil
	})
	if err != nil {
		return model.PricePoint{}, err
	}
	e.publish(points)
	return points[0], nil
}

// view builds the priced read model of a security. holding is the viewing
// account's position, zero when there is none.
func (e *Engine) view(sec model.Security, line model.StatLine, holding decimal.Decimal) model.SecurityView {
	p := e.pricingFor(sec, line)
	v := model.SecurityView{
		Security:     sec,
		Fundamental:  p.fair,
		Spot:         e.spot(p),
		PointsToDate: line.PointsToDate,
		LatestWeek:   line.LatestWeek,
		SharesHeld:   decimal.Zero,
		SharesShort:  decimal.Zero,
	}
	if holding.IsPositive() {
		v.SharesHeld = holding
	} else if holding.IsNegative() {
		v.SharesShort = holding.Abs()
	}
	return v
}

// GetSecurity returns one security with its current pricing. accountID is
// optional and fills the account's position.
func (e *Engine) GetSecurity(ctx context.Context, securityID, accountID string) (model.SecurityView, error) {
	sec, err := e.store.GetSecurity(ctx, securityID)
	if err != nil {
		if isNotFound(err) {
			return model.SecurityView{}, notFound("security %s not found", securityID)
		}
		return model.SecurityView{}, wrapStore("get security", err)
	}
	line, err := e.store.StatLine(ctx, securityID)
	if err != nil {
		return model.SecurityView{}, wrapStore("read stat line", err)
	}
	holding := decimal.Zero
	if accountID != "" {
		if holding, err = e.store.GetHolding(ctx, accountID, securityID); err != nil {
			return model.SecurityView{}, wrapStore("get holding", err)
		}
	}
	return e.view(*sec, line, holding), nil
}

// ListSecurities returns every security with current pricing, ordered by
// name. accountID is optional and fills the account's positions.
func (e *Engine) ListSecurities(ctx context.Context, accountID string) ([]model.SecurityView, error) {
	secs, err := e.store.ListSecurities(ctx)
	if err != nil {
		return nil, wrapStore("list securities", err)
	}
	lines, err := e.store.StatLines(ctx)
	if err != nil {
		return nil, wrapStore("read stat lines", err)
	}
	positions := make(map[string]decimal.Decimal)
	if accountID != "" {
		holdings, err := e.store.ListHoldings(ctx, accountID)
		if err != nil {
			return nil, wrapStore("list holdings", err)
		}
		for _, h := range holdings {
			positions[h.SecurityID] = h.Shares
		}
	}

	views := make([]model.SecurityView, 0, len(secs))
	for _, sec := range secs {
		views = append(views, e.view(sec, lines[sec.ID], positions[sec.ID]))
	}
	return views, nil
}

// PriceHistory returns a security's price points recorded at or after
// since, oldest first.
func (e *Engine) PriceHistory(ctx context.Context, securityID string, since time.Time, limit int) ([]model.PricePoint, error) {
	if _, err := e.store.GetSecurity(ctx, securityID); err != nil {
		if isNotFound(err) {
			return nil, notFound("security %s not found", securityID)
		}
		return nil, wrapStore("get security", err)
	}
	points, err := e.store.PriceHistory(ctx, securityID, since, limit)
	if err != nil {
		return nil, wrapStore("price history", err)
	}
	return points, nil
}

// Transactions returns an account's ledger, newest first.
func (e *Engine) Transactions(ctx context.Context, accountID string, limit int) ([]model.Transaction, error) {
	if _, err := e.store.GetAccount(ctx, accountID); err != nil {
		if isNotFound(err) {
			return nil, notFound("account %s not found", accountID)
		}
		return nil, wrapStore("get account", err)
	}
	switch {
	case limit <= 0:
		limit = defaultTransactionLimit
	case limit > maxTransactionLimit:
		limit = maxTransactionLimit
	}
	txs, err := e.store.ListTransactions(ctx, accountID, limit)
	if err != nil {
		return nil, wrapStore("list transactions", err)
	}
	return txs, nil
}

// MarketMovers compares each listed security's current spot with the last
// price recorded at or before now-window and returns the largest gainers and
// losers. Securities with no reference price are skipped.
func (e *Engine) MarketMovers(ctx context.Context, window time.Duration, limit int) (model.Movers, error) {
	if window <= 0 {
		return model.Movers{}, invalid(Details{}, "window must be positive, got %s", window)
	}
	if limit <= 0 {
		limit = 5
	}
	now := e.now()

	secs, err := e.store.ListSecurities(ctx)
	if err != nil {
		return model.Movers{}, wrapStore("list securities", err)
	}
	lines, err := e.store.StatLines(ctx)
	if err != nil {
		return model.Movers{}, wrapStore("read stat lines", err)
	}
	refs, err := e.store.PricesAsOf(ctx, now.Add(-window))
	if err != nil {
		return model.Movers{}, wrapStore("reference prices", err)
	}

	hundred := decimal.NewFromInt(100)
	var gainers, losers []model.Mover
	for _, sec := range secs {
		if !sec.Listed {
			continue
		}
		ref, ok := refs[sec.ID]
		if !ok || !ref.Spot.IsPositive() {
			continue
		}
		spot := e.spot(e.pricingFor(sec, lines[sec.ID]))
		change := spot.Sub(ref.Spot)
		refAt := ref.CreatedAt
		m := model.Mover{
			SecurityID:     sec.ID,
			Name:           sec.Name,
			Spot:           spot,
			ReferencePrice: ref.Spot,
			Change:         change,
			ChangePercent:  change.Div(ref.Spot).Mul(hundred).Round(4),
			CurrentAt:      now,
			ReferenceAt:    &refAt,
		}
		switch change.Sign() {
		case 1:
			gainers = append(gainers, m)
		case -1:
			losers = append(losers, m)
		}
	}

	sort.SliceStable(gainers, func(i, j int) bool { return gainers[i].ChangePercent.GreaterThan(gainers[j].ChangePercent) })
	sort.SliceStable(losers, func(i, j int) bool { return losers[i].ChangePercent.LessThan(losers[j].ChangePercent) })
	if len(gainers) > limit {
		gainers = gainers[:limit]
	}
	if len(losers) > limit {
		losers = losers[:limit]
	}
	return model.Movers{
		GeneratedAt: now,
		Window:      window,
		Gainers:     gainers,
		Losers:      losers,
	}, nil
}
