package engine

import (
	"context"
	"log/slog"
	"sort"

	"github.com/fsm/market-engine/internal/metrics"
	"github.com/fsm/market-engine/internal/model"
	"github.com/fsm/market-engine/internal/risk"
	"github.com/fsm/market-engine/internal/store"
)

// snapshot marks the scope account's holdings to the curve. Every held
// security is already locked by the scope.
func (e *Engine) snapshot(ctx context.Context, sc *scope) (model.RiskSnapshot, error) {
	holdings, err := sc.tx.AccountHoldings(ctx, sc.account.ID)
	if err != nil {
		return model.RiskSnapshot{}, wrapStore("list holdings", err)
	}
	inputs := make([]risk.PositionInput, 0, len(holdings))
	for _, h := range holdings {
		p, err := e.scopePricing(ctx, sc, h.SecurityID)
		if err != nil {
			return model.RiskSnapshot{}, err
		}
		inputs = append(inputs, risk.PositionInput{
			SecurityID: h.SecurityID,
			Shares:     h.Shares,
			Spot:       e.spot(p),
		})
	}
	return e.risk.Build(sc.account.ID, sc.account.Cash, inputs), nil
}

// liquidationOrder returns longs by |market value| descending, then shorts
// by |market value| descending. Ties break on security id.
func liquidationOrder(positions []model.PositionRisk) []model.PositionRisk {
	out := append([]model.PositionRisk(nil), positions...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.IsLong() != b.IsLong() {
			return a.IsLong()
		}
		if c := a.MarketValue.Abs().Cmp(b.MarketValue.Abs()); c != 0 {
			return c > 0
		}
		return a.SecurityID < b.SecurityID
	})
	return out
}

// closingQuote plans the full closure of a position. ok is false when the
// closing trade is not possible right now: the floor blocks the sale of a
// long, or the account cannot pay to cover a short.
func (e *Engine) closingQuote(ctx context.Context, sc *scope, pos model.PositionRisk) (q model.Quote, ok bool, err error) {
	p, err := e.scopePricing(ctx, sc, pos.SecurityID)
	if err != nil {
		return model.Quote{}, false, err
	}
	side := model.SideSell
	if !pos.IsLong() {
		side = model.SideCover
	}
	q, perr := e.plan(planInput{
		side:    side,
		price:   p,
		holding: pos.Shares,
		qty:     pos.Shares.Abs(),
		forced:  true,
	})
	if perr != nil {
		return model.Quote{}, false, nil
	}
	if side.Debits() && q.Total.GreaterThan(sc.account.Cash) {
		return model.Quote{}, false, nil
	}
	return q, true, nil
}

// enforceMargin runs the liquidation state machine for the scope account:
//
//	snapshot ─ no margin call or flat ─▶ Compliant
//	    │
//	    ├─ steps exhausted ─▶ IterationCapReached
//	    │
//	    ├─ no closable candidate ─▶ StuckNonCompliant
//	    │
//	    └─ close first closable candidate ─▶ snapshot
//
// Domain rejections of a candidate are not errors; only store failures are
// returned, and they abort the enclosing transaction.
func (e *Engine) enforceMargin(ctx context.Context, sc *scope) (model.MarginReport, error) {
	var report model.MarginReport
	for step := 0; ; step++ {
		snap, err := e.snapshot(ctx, sc)
		if err != nil {
			return model.MarginReport{}, err
		}
		report.Snapshot = snap

		if !snap.MarginCall || len(snap.Positions) == 0 {
			report.Outcome = model.MarginCompliant
			return report, nil
		}
		if step >= e.params.LiquidationMaxSteps {
			report.Outcome = model.MarginIterationCapReached
			return report, nil
		}

		progressed := false
		for _, pos := range liquidationOrder(snap.Positions) {
			q, ok, err := e.closingQuote(ctx, sc, pos)
			if err != nil {
				return model.MarginReport{}, err
			}
			if !ok {
				continue
			}
			typ := model.TxLiquidateSell
			if q.Side == model.SideCover {
				typ = model.TxLiquidateCover
			}
			txn, err := e.fill(ctx, sc, q, typ)
			if err != nil {
				return model.MarginReport{}, err
			}
			report.Liquidations = append(report.Liquidations, txn)
			progressed = true
			break
		}
		if !progressed {
			report.Outcome = model.MarginStuckNonCompliant
			return report, nil
		}
	}
}

// observeMargin records a committed enforcement run.
func (e *Engine) observeMargin(r model.MarginReport) {
	metrics.MarginRuns.WithLabelValues(string(r.Outcome)).Inc()
	for _, l := range r.Liquidations {
		metrics.Liquidations.WithLabelValues(string(l.Type)).Inc()
		slog.Warn("position liquidated",
			"account_id", l.AccountID,
			"security_id", l.SecurityID,
			"type", l.Type,
			"shares", l.Shares.String(),
			"amount", l.Amount.String(),
		)
	}
	if r.Outcome != model.MarginCompliant {
		slog.Warn("account left in margin call",
			"account_id", r.Snapshot.AccountID,
			"outcome", r.Outcome,
			"equity", r.Snapshot.Equity.String(),
			"margin_used", r.Snapshot.MarginUsed.String(),
		)
	}
}

// EnforceMargin runs margin enforcement for one account on its own, outside
// any trade.
func (e *Engine) EnforceMargin(ctx context.Context, accountID string) (model.MarginReport, error) {
	var (
		report model.MarginReport
		points []model.PricePoint
	)
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		sc, err := e.lockTradeScope(ctx, tx, accountID)
		if err != nil {
			return err
		}
		report, err = e.enforceMargin(ctx, sc)
		points = sc.points
		return err
	})
	if err != nil {
		return model.MarginReport{}, err
	}
	e.observeMargin(report)
	e.publish(points)
	return report, nil
}

// Portfolio returns the account's risk snapshot at current prices. It takes
// no locks.
func (e *Engine) Portfolio(ctx context.Context, accountID string) (model.RiskSnapshot, error) {
	acct, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		if isNotFound(err) {
			return model.RiskSnapshot{}, notFound("account %s not found", accountID)
		}
		return model.RiskSnapshot{}, wrapStore("get account", err)
	}
	holdings, err := e.store.ListHoldings(ctx, accountID)
	if err != nil {
		return model.RiskSnapshot{}, wrapStore("list holdings", err)
	}
	lines, err := e.store.StatLines(ctx)
	if err != nil {
		return model.RiskSnapshot{}, wrapStore("read stat lines", err)
	}

	inputs := make([]risk.PositionInput, 0, len(holdings))
	for _, h := range holdings {
		sec, err := e.store.GetSecurity(ctx, h.SecurityID)
		if err != nil {
			return model.RiskSnapshot{}, wrapStore("get security", err)
		}
		inputs = append(inputs, risk.PositionInput{
			SecurityID: h.SecurityID,
			Shares:     h.Shares,
			Spot:       e.spot(e.pricingFor(*sec, lines[h.SecurityID])),
		})
	}
	return e.risk.Build(acct.ID, acct.Cash, inputs), nil
}
