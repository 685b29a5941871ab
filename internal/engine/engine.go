// Package engine is the trading core of the market: quotes, the four trade
// transitions (buy, sell, short, cover), margin enforcement with forced
// liquidation, season settlement, and the read models built on top of them.
//
// Every trade is a bilateral exchange between one account and the bonding
// curve; there is no order book. Mutations run inside store.WithTx and take
// row locks in a fixed order (account, then every security the account holds
// plus the traded one sorted by id, then the holding) so that the curve
// depth a trade is priced against cannot change underneath it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fsm/market-engine/internal/curve"
	"github.com/fsm/market-engine/internal/fundamental"
	"github.com/fsm/market-engine/internal/model"
	"github.com/fsm/market-engine/internal/risk"
	"github.com/fsm/market-engine/internal/store"
)

// Params is the immutable market configuration.
type Params struct {
	ImpactMultiplier    decimal.Decimal
	LongMarginRate      decimal.Decimal
	ShortMarginRate     decimal.Decimal
	PositionNotionalCap decimal.Decimal // <= 0 disables the cap
	PriceFloor          decimal.Decimal
	SeasonWeeks         int
	PerformanceWeight   decimal.Decimal
	PayoutPerPoint      decimal.Decimal
	StartingCash        decimal.Decimal
	LiquidationMaxSteps int
}

// DefaultParams returns the stock market configuration.
func DefaultParams() Params {
	return Params{
		ImpactMultiplier:    decimal.NewFromInt(1),
		LongMarginRate:      decimal.Zero,
		ShortMarginRate:     decimal.Zero,
		PositionNotionalCap: decimal.Zero,
		PriceFloor:          decimal.NewFromInt(1),
		SeasonWeeks:         18,
		PerformanceWeight:   decimal.NewFromInt(1),
		PayoutPerPoint:      decimal.NewFromInt(1),
		StartingCash:        decimal.NewFromInt(100000),
		LiquidationMaxSteps: 64,
	}
}

// Validate checks the parameters for values the engine cannot run with.
func (p Params) Validate() error {
	switch {
	case p.ImpactMultiplier.IsNegative():
		return errors.New("engine: impact multiplier must not be negative")
	case p.LongMarginRate.IsNegative() || p.ShortMarginRate.IsNegative():
		return errors.New("engine: margin rates must not be negative")
	case p.PriceFloor.IsNegative():
		return errors.New("engine: price floor must not be negative")
	case p.SeasonWeeks <= 0:
		return errors.New("engine: season weeks must be positive")
	case p.PayoutPerPoint.IsNegative():
		return errors.New("engine: payout per point must not be negative")
	case p.StartingCash.IsNegative():
		return errors.New("engine: starting cash must not be negative")
	case p.LiquidationMaxSteps <= 0:
		return errors.New("engine: liquidation max steps must be positive")
	}
	return nil
}

// PriceListener is notified of every price point after its transaction
// commits.
type PriceListener interface {
	PriceUpdated(p model.PricePoint)
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithPriceListener registers a listener for committed price points.
func WithPriceListener(l PriceListener) Option {
	return func(e *Engine) { e.listeners = append(e.listeners, l) }
}

// Engine executes market operations against a store.
type Engine struct {
	store       store.Store
	params      Params
	curve       *curve.Curve
	fundamental *fundamental.Model
	risk        *risk.Builder
	limiter     *risk.PositionLimiter
	listeners   []PriceListener
	now         func() time.Time
}

// New creates an engine. The parameters are validated once and then fixed
// for the engine's lifetime.
func New(st store.Store, p Params, opts ...Option) (*Engine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	c, err := curve.New(p.ImpactMultiplier)
	if err != nil {
		return nil, err
	}
	fm, err := fundamental.New(p.SeasonWeeks, p.PerformanceWeight)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		store:       st,
		params:      p,
		curve:       c,
		fundamental: fm,
		risk:        risk.NewBuilder(p.LongMarginRate, p.ShortMarginRate),
		limiter:     risk.NewPositionLimiter(p.PositionNotionalCap),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Params returns the engine's configuration.
func (e *Engine) Params() Params { return e.params }

func isNotFound(err error) bool { return errors.Is(err, store.ErrNotFound) }

// pricing is the curve input of one security at one instant.
type pricing struct {
	sec  model.Security
	line model.StatLine
	fair decimal.Decimal
}

func (e *Engine) pricingFor(sec model.Security, line model.StatLine) pricing {
	return pricing{
		sec:  sec,
		line: line,
		fair: e.fundamental.FairValue(sec.ProjectedPoints, line.PointsToDate, line.LatestWeek),
	}
}

func (e *Engine) spot(p pricing) decimal.Decimal {
	return e.curve.Spot(p.fair, p.sec.K, p.sec.TotalShares)
}

func (e *Engine) pricePoint(p pricing, source string, at time.Time) model.PricePoint {
	return model.PricePoint{
		ID:           uuid.NewString(),
		SecurityID:   p.sec.ID,
		Source:       source,
		Fundamental:  p.fair,
		Spot:         e.spot(p),
		TotalShares:  p.sec.TotalShares,
		PointsToDate: p.line.PointsToDate,
		LatestWeek:   p.line.LatestWeek,
		CreatedAt:    at,
	}
}

// scope is the locked state of one mutating operation. Every security in
// secs is locked; prices are derived lazily and cached because stats cannot
// change while the locks are held.
type scope struct {
	tx      store.Tx
	account *model.Account
	secs    map[string]*model.Security
	lines   map[string]model.StatLine
	now     time.Time
	points  []model.PricePoint
}

func newScope(tx store.Tx, now time.Time) *scope {
	return &scope{tx: tx, now: now, lines: make(map[string]model.StatLine)}
}

func (e *Engine) scopePricing(ctx context.Context, sc *scope, securityID string) (pricing, error) {
	sec, ok := sc.secs[securityID]
	if !ok {
		return pricing{}, fatal("price position", fmt.Errorf("security %s not locked", securityID))
	}
	line, ok := sc.lines[securityID]
	if !ok {
		var err error
		line, err = sc.tx.StatLine(ctx, securityID)
		if err != nil {
			return pricing{}, wrapStore("read stat line", err)
		}
		sc.lines[securityID] = line
	}
	return e.pricingFor(*sec, line), nil
}

// record appends a price point for sec to the store and the scope.
func (e *Engine) record(ctx context.Context, sc *scope, p pricing, source string) error {
	pp := e.pricePoint(p, source, sc.now)
	if err := sc.tx.InsertPricePoint(ctx, &pp); err != nil {
		return wrapStore("insert price point", err)
	}
	sc.points = append(sc.points, pp)
	return nil
}

func (e *Engine) publish(points []model.PricePoint) {
	for _, l := range e.listeners {
		for _, p := range points {
			l.PriceUpdated(p)
		}
	}
}

// lockTradeScope locks the account, every security it holds plus extra, and
// returns the scope. The account must exist.
func (e *Engine) lockTradeScope(ctx context.Context, tx store.Tx, accountID string, extra ...string) (*scope, error) {
	sc := newScope(tx, e.now())

	acct, err := tx.LockAccount(ctx, accountID)
	if err != nil {
		if isNotFound(err) {
			return nil, notFound("account %s not found", accountID)
		}
		return nil, wrapStore("lock account", err)
	}
	sc.account = acct

	held, err := tx.HeldSecurityIDs(ctx, accountID)
	if err != nil {
		return nil, wrapStore("list held securities", err)
	}
	secs, err := tx.LockSecurities(ctx, append(held, extra...))
	if err != nil {
		if isNotFound(err) && len(extra) > 0 {
			return nil, notFound("security %s not found", extra[0])
		}
		return nil, wrapStore("lock securities", err)
	}
	sc.secs = secs
	return sc, nil
}
