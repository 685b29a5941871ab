package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fsm/market-engine/internal/catalog"
	"github.com/fsm/market-engine/internal/engine"
	"github.com/fsm/market-engine/internal/model"
	"github.com/fsm/market-engine/internal/store"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type recorder struct {
	mu     sync.Mutex
	points []model.PricePoint
}

func (r *recorder) PriceUpdated(p model.PricePoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.points = append(r.points, p)
}

type harness struct {
	eng   *engine.Engine
	store *store.MemoryStore
	feed  *recorder
}

func newHarness(t *testing.T, tune func(p *engine.Params)) *harness {
	t.Helper()
	p := engine.DefaultParams()
	if tune != nil {
		tune(&p)
	}
	st := store.NewMemoryStore()
	rec := &recorder{}
	eng, err := engine.New(st, p, engine.WithPriceListener(rec))
	require.NoError(t, err)
	return &harness{eng: eng, store: st, feed: rec}
}

func (h *harness) account(t *testing.T, name string) *model.Account {
	t.Helper()
	acct, err := h.eng.CreateAccount(context.Background(), name)
	require.NoError(t, err)
	return acct
}

func (h *harness) security(t *testing.T, name string) *model.Security {
	t.Helper()
	sec, err := h.eng.CreateSecurity(context.Background(), catalog.Listing{
		Sport:           "NFL",
		Name:            name,
		Team:            "KC",
		Position:        "QB",
		ProjectedPoints: d("100"),
		K:               d("0.002"),
	}, true)
	require.NoError(t, err)
	return sec
}

func (h *harness) cash(t *testing.T, accountID string) decimal.Decimal {
	t.Helper()
	acct, err := h.store.GetAccount(context.Background(), accountID)
	require.NoError(t, err)
	return acct.Cash
}

func (h *harness) totalShares(t *testing.T, securityID string) decimal.Decimal {
	t.Helper()
	sec, err := h.store.GetSecurity(context.Background(), securityID)
	require.NoError(t, err)
	return sec.TotalShares
}

func requireCode(t *testing.T, err error, code engine.Code) *engine.Error {
	t.Helper()
	require.Error(t, err)
	var e *engine.Error
	require.True(t, errors.As(err, &e), "expected *engine.Error, got %T", err)
	require.Equal(t, code, e.Code, e.Error())
	return e
}

func TestParamsValidate(t *testing.T) {
	require.NoError(t, engine.DefaultParams().Validate())

	p := engine.DefaultParams()
	p.SeasonWeeks = 0
	assert.Error(t, p.Validate())

	p = engine.DefaultParams()
	p.ShortMarginRate = d("-0.1")
	assert.Error(t, p.Validate())

	p = engine.DefaultParams()
	p.LiquidationMaxSteps = 0
	_, err := engine.New(store.NewMemoryStore(), p)
	assert.Error(t, err)
}

func TestBuyScenario(t *testing.T) {
	h := newHarness(t, func(p *engine.Params) { p.ImpactMultiplier = d("0.2") })
	ctx := context.Background()
	acct := h.account(t, "alice")
	sec := h.security(t, "Patrick Mahomes")

	res, err := h.eng.Buy(ctx, acct.ID, sec.ID, d("10"))
	require.NoError(t, err)

	assert.True(t, res.Total.Equal(d("1002")), "cost %s", res.Total)
	assert.True(t, res.SpotBefore.Equal(d("100")))
	assert.True(t, res.SpotAfter.Equal(d("100.4")), "spot after %s", res.SpotAfter)
	assert.True(t, res.AveragePrice.Equal(d("100.2")))
	assert.True(t, res.NewHolding.Equal(d("10")))
	assert.True(t, res.NewTotalShares.Equal(d("10")))
	assert.True(t, res.NewCash.Equal(d("98998")))
	assert.Equal(t, model.MarginCompliant, res.Margin.Outcome)
	assert.NotEmpty(t, res.TransactionID)

	assert.True(t, h.cash(t, acct.ID).Equal(d("98998")))
	assert.True(t, h.totalShares(t, sec.ID).Equal(d("10")))

	txs, err := h.eng.Transactions(ctx, acct.ID, 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, model.TxBuy, txs[0].Type)
	assert.True(t, txs[0].Amount.Equal(d("-1002")))

	history, err := h.eng.PriceHistory(ctx, sec.ID, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "BUY", history[0].Source)
	assert.True(t, history[0].Spot.Equal(d("100.4")))

	require.Len(t, h.feed.points, 1)
	assert.Equal(t, sec.ID, h.feed.points[0].SecurityID)
}

func TestBuyInsufficientCash(t *testing.T) {
	h := newHarness(t, func(p *engine.Params) {
		p.ImpactMultiplier = d("0.2")
		p.StartingCash = d("1000")
	})
	ctx := context.Background()
	acct := h.account(t, "bob")
	sec := h.security(t, "Josh Allen")

	_, err := h.eng.Buy(ctx, acct.ID, sec.ID, d("10"))
	e := requireCode(t, err, engine.CodeInvalidArgument)
	assert.Contains(t, e.Message, "need 1002.00, have 1000.00")
	require.NotNil(t, e.Details.Need)
	require.NotNil(t, e.Details.Have)
	assert.True(t, e.Details.Need.Equal(d("1002")))
	assert.True(t, e.Details.Have.Equal(d("1000")))

	// Nothing was written.
	assert.True(t, h.cash(t, acct.ID).Equal(d("1000")))
	assert.True(t, h.totalShares(t, sec.ID).IsZero())
	txs, err := h.eng.Transactions(ctx, acct.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, txs)
	assert.Empty(t, h.feed.points)
}

func TestQuoteMatchesExecution(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	acct := h.account(t, "carol")
	sec := h.security(t, "Jalen Hurts")

	for _, step := range []struct {
		side model.Side
		qty  string
	}{
		{model.SideBuy, "7.5"},
		{model.SideSell, "2.25"},
		{model.SideSell, "5.25"},
		{model.SideShort, "3"},
		{model.SideCover, "1.5"},
	} {
		q, err := h.eng.Quote(ctx, step.side, acct.ID, sec.ID, d(step.qty))
		require.NoError(t, err, step.side)
		res, err := h.eng.Trade(ctx, step.side, acct.ID, sec.ID, d(step.qty))
		require.NoError(t, err, step.side)
		assertSameQuote(t, q, res.Quote)
	}

	q, err := h.eng.QuoteCover(ctx, acct.ID, sec.ID, d("1.5"))
	require.NoError(t, err)
	assert.True(t, q.ResultingShares.IsZero())
}

func assertSameQuote(t *testing.T, want, got model.Quote) {
	t.Helper()
	assert.Equal(t, want.Side, got.Side)
	assert.Equal(t, want.SecurityID, got.SecurityID)
	for name, pair := range map[string][2]decimal.Decimal{
		"shares":           {want.Shares, got.Shares},
		"fundamental":      {want.Fundamental, got.Fundamental},
		"spot_before":      {want.SpotBefore, got.SpotBefore},
		"spot_after":       {want.SpotAfter, got.SpotAfter},
		"average_price":    {want.AveragePrice, got.AveragePrice},
		"total":            {want.Total, got.Total},
		"new_total_shares": {want.NewTotalShares, got.NewTotalShares},
		"resulting_shares": {want.ResultingShares, got.ResultingShares},
	} {
		assert.True(t, pair[0].Equal(pair[1]), "%s %s: quote %s, trade %s", want.Side, name, pair[0], pair[1])
	}
}

func TestQuoteErrors(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	acct := h.account(t, "dave")
	sec := h.security(t, "Lamar Jackson")

	_, err := h.eng.QuoteBuy(ctx, acct.ID, "missing", d("1"))
	requireCode(t, err, engine.CodeNotFound)

	_, err = h.eng.QuoteBuy(ctx, "missing", sec.ID, d("1"))
	requireCode(t, err, engine.CodeNotFound)

	_, err = h.eng.QuoteBuy(ctx, acct.ID, sec.ID, d("0"))
	requireCode(t, err, engine.CodeInvalidArgument)

	_, err = h.eng.QuoteBuy(ctx, acct.ID, sec.ID, d("-1"))
	requireCode(t, err, engine.CodeInvalidArgument)

	e := requireCode(t, func() error { _, err := h.eng.QuoteSell(ctx, acct.ID, sec.ID, d("1")); return err }(), engine.CodeInvalidArgument)
	require.NotNil(t, e.Details.Owned)
	assert.True(t, e.Details.Owned.IsZero())

	_, err = h.eng.QuoteCover(ctx, acct.ID, sec.ID, d("1"))
	requireCode(t, err, engine.CodeInvalidArgument)

	hidden, err := h.eng.CreateSecurity(ctx, catalog.Listing{Name: "Hidden Player", Position: "WR"}, false)
	require.NoError(t, err)
	_, err = h.eng.QuoteBuy(ctx, acct.ID, hidden.ID, d("1"))
	requireCode(t, err, engine.CodeForbidden)
	_, err = h.eng.Buy(ctx, acct.ID, hidden.ID, d("1"))
	requireCode(t, err, engine.CodeForbidden)

	_, err = h.eng.SetListing(ctx, hidden.ID, true, nil)
	require.NoError(t, err)
	_, err = h.eng.QuoteBuy(ctx, acct.ID, hidden.ID, d("1"))
	assert.NoError(t, err)
}

func TestWrongSideRejected(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	acct := h.account(t, "erin")
	sec := h.security(t, "Joe Burrow")

	_, err := h.eng.Buy(ctx, acct.ID, sec.ID, d("5"))
	require.NoError(t, err)

	e := requireCode(t, func() error { _, err := h.eng.Short(ctx, acct.ID, sec.ID, d("1")); return err }(), engine.CodeInvalidArgument)
	assert.True(t, e.Details.Owned.Equal(d("5")))

	e = requireCode(t, func() error { _, err := h.eng.Sell(ctx, acct.ID, sec.ID, d("6")); return err }(), engine.CodeInvalidArgument)
	assert.True(t, e.Details.Owned.Equal(d("5")))
	assert.True(t, e.Details.MaxQuantity.Equal(d("5")))

	_, err = h.eng.Sell(ctx, acct.ID, sec.ID, d("5"))
	require.NoError(t, err)
	_, err = h.eng.Short(ctx, acct.ID, sec.ID, d("4"))
	require.NoError(t, err)

	e = requireCode(t, func() error { _, err := h.eng.Buy(ctx, acct.ID, sec.ID, d("1")); return err }(), engine.CodeInvalidArgument)
	assert.True(t, e.Details.Short.Equal(d("4")))

	e = requireCode(t, func() error { _, err := h.eng.Cover(ctx, acct.ID, sec.ID, d("4.5")); return err }(), engine.CodeInvalidArgument)
	assert.True(t, e.Details.Short.Equal(d("4")))
	assert.True(t, e.Details.MaxQuantity.Equal(d("4")))
}

func TestPriceFloorBoundary(t *testing.T) {
	// k_eff = 0.002, f = 100: spot 95 is reached at S = -25.
	h := newHarness(t, func(p *engine.Params) { p.PriceFloor = d("95") })
	ctx := context.Background()
	acct := h.account(t, "frank")
	sec := h.security(t, "Justin Herbert")

	_, err := h.eng.Short(ctx, acct.ID, sec.ID, d("26"))
	e := requireCode(t, err, engine.CodeInvalidArgument)
	require.NotNil(t, e.Details.MaxQuantity)
	assert.True(t, e.Details.MaxQuantity.Equal(d("25")), "max %s", e.Details.MaxQuantity)
	assert.True(t, e.Details.Price.Equal(d("100")))

	res, err := h.eng.Short(ctx, acct.ID, sec.ID, e.Details.MaxQuantity.Copy())
	require.NoError(t, err)
	assert.True(t, res.SpotAfter.Equal(d("95")))

	_, err = h.eng.QuoteShort(ctx, acct.ID, sec.ID, d("0.00000001"))
	e = requireCode(t, err, engine.CodeInvalidArgument)
	assert.True(t, e.Details.MaxQuantity.IsZero())
}

func TestLongSaleWhileShortsOutstanding(t *testing.T) {
	// Floor 99 holds the depth at or above -5.
	h := newHarness(t, func(p *engine.Params) { p.PriceFloor = d("99") })
	ctx := context.Background()
	alice, bob := h.account(t, "alice"), h.account(t, "bob")
	sec := h.security(t, "Dak Prescott")

	_, err := h.eng.Buy(ctx, alice.ID, sec.ID, d("20"))
	require.NoError(t, err)
	res, err := h.eng.Short(ctx, bob.ID, sec.ID, d("25"))
	require.NoError(t, err)
	assert.True(t, res.Total.Equal(d("2537.5")), "short proceeds %s", res.Total)
	assert.True(t, res.NewTotalShares.Equal(d("-5")))

	_, err = h.eng.Sell(ctx, alice.ID, sec.ID, d("20"))
	e := requireCode(t, err, engine.CodeInvalidArgument)
	assert.True(t, e.Details.MaxQuantity.IsZero())

	_, err = h.eng.Cover(ctx, bob.ID, sec.ID, d("10"))
	require.NoError(t, err)

	_, err = h.eng.Sell(ctx, alice.ID, sec.ID, d("20"))
	e = requireCode(t, err, engine.CodeInvalidArgument)
	assert.True(t, e.Details.MaxQuantity.Equal(d("10")))

	// Depth is 5: only the part sold above zero depth pays, 100·(5 + 0.001·25).
	q, err := h.eng.QuoteSell(ctx, alice.ID, sec.ID, d("10"))
	require.NoError(t, err)
	assert.True(t, q.Total.Equal(d("502.5")), "quoted proceeds %s", q.Total)

	res, err = h.eng.Sell(ctx, alice.ID, sec.ID, d("10"))
	require.NoError(t, err)
	assert.True(t, res.Total.Equal(d("502.5")), "sell proceeds %s", res.Total)
	assert.True(t, res.NewTotalShares.Equal(d("-5")))
	assert.True(t, res.NewHolding.Equal(d("10")))
}

func TestNoPositionRejectionsReportZeroMax(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	acct := h.account(t, "ivy")
	sec := h.security(t, "Jalen Hurts")

	_, err := h.eng.QuoteSell(ctx, acct.ID, sec.ID, d("1"))
	e := requireCode(t, err, engine.CodeInvalidArgument)
	require.NotNil(t, e.Details.MaxQuantity)
	assert.True(t, e.Details.MaxQuantity.IsZero())

	_, err = h.eng.Cover(ctx, acct.ID, sec.ID, d("1"))
	e = requireCode(t, err, engine.CodeInvalidArgument)
	require.NotNil(t, e.Details.MaxQuantity)
	assert.True(t, e.Details.MaxQuantity.IsZero())
}

func TestQuantityScale(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	acct := h.account(t, "jules")
	sec := h.security(t, "Puka Nacua")

	for _, side := range []model.Side{model.SideBuy, model.SideShort} {
		_, err := h.eng.Trade(ctx, side, acct.ID, sec.ID, d("0.00000000004"))
		e := requireCode(t, err, engine.CodeInvalidArgument)
		require.NotNil(t, e.Details.Scale)
		assert.Equal(t, int32(8), *e.Details.Scale)
	}
	assert.True(t, h.totalShares(t, sec.ID).IsZero())

	// Trailing zeros beyond the scale are not extra precision.
	res, err := h.eng.Buy(ctx, acct.ID, sec.ID, d("1.50000000000"))
	require.NoError(t, err)
	assert.True(t, res.NewHolding.Equal(d("1.5")))

	_, err = h.eng.Buy(ctx, acct.ID, sec.ID, d("0.00000001"))
	require.NoError(t, err)

	_, err = h.eng.RecordWeeklyStat(ctx, model.WeeklyStat{SecurityID: sec.ID, Week: 1, Points: d("12.123456789")}, nil)
	e := requireCode(t, err, engine.CodeInvalidArgument)
	require.NotNil(t, e.Details.Scale)
}

func TestNotionalCap(t *testing.T) {
	h := newHarness(t, func(p *engine.Params) { p.PositionNotionalCap = d("1000") })
	ctx := context.Background()
	acct := h.account(t, "gina")
	sec := h.security(t, "Kyler Murray")

	_, err := h.eng.Buy(ctx, acct.ID, sec.ID, d("11"))
	e := requireCode(t, err, engine.CodeInvalidArgument)
	assert.True(t, e.Details.MaxQuantity.Equal(d("10")))

	_, err = h.eng.Buy(ctx, acct.ID, sec.ID, d("10"))
	require.NoError(t, err)

	// Spot moved to 102, the position is now over the cap; it cannot grow.
	_, err = h.eng.Buy(ctx, acct.ID, sec.ID, d("1"))
	e = requireCode(t, err, engine.CodeInvalidArgument)
	assert.True(t, e.Details.MaxQuantity.IsZero())

	// Reducing is always allowed.
	_, err = h.eng.Sell(ctx, acct.ID, sec.ID, d("4"))
	require.NoError(t, err)

	other := h.account(t, "hank")
	_, err = h.eng.Short(ctx, other.ID, sec.ID, d("20"))
	requireCode(t, err, engine.CodeInvalidArgument)
}

func TestHoldingsSumToTotalShares(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a, b, c := h.account(t, "a"), h.account(t, "b"), h.account(t, "c")
	x, y := h.security(t, "Player X"), h.security(t, "Player Y")

	steps := []struct {
		side model.Side
		acct string
		sec  string
		qty  string
	}{
		{model.SideBuy, a.ID, x.ID, "10"},
		{model.SideShort, b.ID, x.ID, "15"},
		{model.SideBuy, c.ID, y.ID, "3.3"},
		{model.SideSell, a.ID, x.ID, "4"},
		{model.SideCover, b.ID, x.ID, "5.5"},
		{model.SideShort, a.ID, y.ID, "1"},
		{model.SideBuy, c.ID, x.ID, "2"},
		{model.SideSell, c.ID, y.ID, "3.3"},
	}
	for _, s := range steps {
		_, err := h.eng.Trade(ctx, s.side, s.acct, s.sec, d(s.qty))
		require.NoError(t, err)
	}
	// A rejected trade must not disturb the invariant either.
	_, err := h.eng.Sell(ctx, a.ID, x.ID, d("100"))
	requireCode(t, err, engine.CodeInvalidArgument)

	for _, sec := range []string{x.ID, y.ID} {
		sum := decimal.Zero
		for _, acct := range []string{a.ID, b.ID, c.ID} {
			held, err := h.store.GetHolding(ctx, acct, sec)
			require.NoError(t, err)
			sum = sum.Add(held)
		}
		assert.True(t, h.totalShares(t, sec).Equal(sum), "security %s: total %s, holdings %s", sec, h.totalShares(t, sec), sum)
	}
}

func TestConcurrentBuysSerialize(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	sec := h.security(t, "Christian McCaffrey")

	const n = 16
	accounts := make([]*model.Account, n)
	for i := range accounts {
		accounts[i] = h.account(t, "trader-"+string(rune('a'+i)))
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(acct *model.Account, qty decimal.Decimal) {
			defer wg.Done()
			_, err := h.eng.Buy(ctx, acct.ID, sec.ID, qty)
			errs <- err
		}(accounts[i], decimal.NewFromInt(int64(i+1)))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// 1 + 2 + ... + 16
	assert.True(t, h.totalShares(t, sec.ID).Equal(d("136")))

	// Each buy is charged the integral from its own pre-trade depth, so the
	// total paid equals one buy of all the shares from zero.
	paid := decimal.Zero
	for _, acct := range accounts {
		paid = paid.Add(d("100000").Sub(h.cash(t, acct.ID)))
	}
	history, err := h.eng.PriceHistory(ctx, sec.ID, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, history, n)
	for i := 1; i < n; i++ {
		assert.True(t, history[i].TotalShares.GreaterThan(history[i-1].TotalShares))
	}
	assert.True(t, paid.Sub(d("100").Mul(d("136").Add(d("0.001").Mul(d("136").Mul(d("136")))))).Abs().LessThanOrEqual(d("0.0000002")), "paid %s", paid)
}

func TestMarginLiquidatesShort(t *testing.T) {
	h := newHarness(t, func(p *engine.Params) {
		p.ShortMarginRate = d("1.5")
		p.StartingCash = d("1000")
	})
	ctx := context.Background()
	acct := h.account(t, "ivan")
	sec := h.security(t, "Saquon Barkley")

	// Proceeds 990, spot 98: equity 1010 against margin 1470.
	res, err := h.eng.Short(ctx, acct.ID, sec.ID, d("10"))
	require.NoError(t, err)
	assert.Equal(t, model.MarginCompliant, res.Margin.Outcome)
	require.Len(t, res.Margin.Liquidations, 1)
	liq := res.Margin.Liquidations[0]
	assert.Equal(t, model.TxLiquidateCover, liq.Type)
	assert.True(t, liq.Amount.Equal(d("-990")))
	assert.True(t, res.NewHolding.IsZero())
	assert.True(t, res.NewCash.Equal(d("1000")))
	assert.Empty(t, res.Margin.Snapshot.Positions)

	assert.True(t, h.totalShares(t, sec.ID).IsZero())
	txs, err := h.eng.Transactions(ctx, acct.ID, 0)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, model.TxLiquidateCover, txs[0].Type)
	assert.Equal(t, model.TxShort, txs[1].Type)
}

func TestMarginLiquidatesLong(t *testing.T) {
	h := newHarness(t, func(p *engine.Params) {
		p.LongMarginRate = d("1.2")
		p.StartingCash = d("1000")
	})
	ctx := context.Background()
	acct := h.account(t, "judy")
	sec := h.security(t, "Tyreek Hill")

	res, err := h.eng.Buy(ctx, acct.ID, sec.ID, d("9"))
	require.NoError(t, err)
	assert.Equal(t, model.MarginCompliant, res.Margin.Outcome)
	require.Len(t, res.Margin.Liquidations, 1)
	assert.Equal(t, model.TxLiquidateSell, res.Margin.Liquidations[0].Type)
	assert.True(t, res.NewHolding.IsZero())
	assert.True(t, h.cash(t, acct.ID).Equal(d("1000")))
}

func TestMarginStuckWhenFloorBlocksSale(t *testing.T) {
	h := newHarness(t, func(p *engine.Params) {
		p.LongMarginRate = d("1.2")
		p.StartingCash = d("1000")
		p.PriceFloor = d("100.5")
	})
	ctx := context.Background()
	acct := h.account(t, "kate")
	sec := h.security(t, "Davante Adams")

	res, err := h.eng.Buy(ctx, acct.ID, sec.ID, d("9"))
	require.NoError(t, err)
	assert.Equal(t, model.MarginStuckNonCompliant, res.Margin.Outcome)
	assert.Empty(t, res.Margin.Liquidations)
	assert.True(t, res.Margin.Snapshot.MarginCall)
	assert.True(t, res.NewHolding.Equal(d("9")))

	// The standalone run reaches the same verdict and changes nothing.
	report, err := h.eng.EnforceMargin(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MarginStuckNonCompliant, report.Outcome)
	assert.True(t, h.totalShares(t, sec.ID).Equal(d("9")))
}

func TestMarginIterationCap(t *testing.T) {
	h := newHarness(t, func(p *engine.Params) {
		p.LongMarginRate = d("10")
		p.LiquidationMaxSteps = 1
	})
	ctx := context.Background()
	acct := h.account(t, "leo")
	x, y := h.security(t, "Player X"), h.security(t, "Player Y")

	for _, sec := range []string{x.ID, y.ID} {
		res, err := h.eng.Buy(ctx, acct.ID, sec, d("5"))
		require.NoError(t, err)
		require.Equal(t, model.MarginCompliant, res.Margin.Outcome)
		require.Empty(t, res.Margin.Liquidations)
	}

	// A monster week lifts both fundamentals far enough that closing one
	// position is not enough.
	for _, sec := range []string{x.ID, y.ID} {
		_, err := h.eng.RecordWeeklyStat(ctx, model.WeeklyStat{SecurityID: sec, Week: 1, Points: d("3000")}, nil)
		require.NoError(t, err)
	}

	report, err := h.eng.EnforceMargin(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MarginIterationCapReached, report.Outcome)
	require.Len(t, report.Liquidations, 1)
	assert.True(t, report.Snapshot.MarginCall)
	assert.Len(t, report.Snapshot.Positions, 1)
}

func TestEnforceMarginUnknownAccount(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.eng.EnforceMargin(context.Background(), "nobody")
	requireCode(t, err, engine.CodeNotFound)
}

func TestPortfolio(t *testing.T) {
	h := newHarness(t, func(p *engine.Params) { p.ShortMarginRate = d("0.5") })
	ctx := context.Background()
	acct := h.account(t, "mia")
	x, y := h.security(t, "Player X"), h.security(t, "Player Y")

	_, err := h.eng.Buy(ctx, acct.ID, x.ID, d("10"))
	require.NoError(t, err)
	_, err = h.eng.Short(ctx, acct.ID, y.ID, d("10"))
	require.NoError(t, err)

	snap, err := h.eng.Portfolio(ctx, acct.ID)
	require.NoError(t, err)
	require.Len(t, snap.Positions, 2)
	// Long 10 @ 102, short 10 @ 98.
	assert.True(t, snap.NetExposure.Equal(d("40")), "net %s", snap.NetExposure)
	assert.True(t, snap.GrossExposure.Equal(d("2000")))
	assert.True(t, snap.MarginUsed.Equal(d("490")))
	// cash 100000 - 1010 + 990
	assert.True(t, snap.Cash.Equal(d("99980")))
	assert.True(t, snap.Equity.Equal(d("100020")))
	assert.False(t, snap.MarginCall)

	_, err = h.eng.Portfolio(ctx, "nobody")
	requireCode(t, err, engine.CodeNotFound)
}
