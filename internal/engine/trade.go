package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fsm/market-engine/internal/metrics"
	"github.com/fsm/market-engine/internal/model"
	"github.com/fsm/market-engine/internal/store"
)

// Buy opens or adds to a long position.
func (e *Engine) Buy(ctx context.Context, accountID, securityID string, qty decimal.Decimal) (*model.TradeResult, error) {
	return e.Trade(ctx, model.SideBuy, accountID, securityID, qty)
}

// Sell reduces or closes a long position.
func (e *Engine) Sell(ctx context.Context, accountID, securityID string, qty decimal.Decimal) (*model.TradeResult, error) {
	return e.Trade(ctx, model.SideSell, accountID, securityID, qty)
}

// Short opens or adds to a short position.
func (e *Engine) Short(ctx context.Context, accountID, securityID string, qty decimal.Decimal) (*model.TradeResult, error) {
	return e.Trade(ctx, model.SideShort, accountID, securityID, qty)
}

// Cover reduces or closes a short position.
func (e *Engine) Cover(ctx context.Context, accountID, securityID string, qty decimal.Decimal) (*model.TradeResult, error) {
	return e.Trade(ctx, model.SideCover, accountID, securityID, qty)
}

// Trade executes one trade against the curve and runs margin enforcement
// for the account in the same transaction. A rejected trade writes nothing.
func (e *Engine) Trade(ctx context.Context, side model.Side, accountID, securityID string, qty decimal.Decimal) (*model.TradeResult, error) {
	start := time.Now()

	var (
		result *model.TradeResult
		points []model.PricePoint
	)
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		sc, err := e.lockTradeScope(ctx, tx, accountID, securityID)
		if err != nil {
			return err
		}
		holding, err := tx.LockHolding(ctx, accountID, securityID)
		if err != nil {
			return wrapStore("lock holding", err)
		}
		p, err := e.scopePricing(ctx, sc, securityID)
		if err != nil {
			return err
		}

		q, err := e.plan(planInput{side: side, price: p, holding: holding, qty: qty})
		if err != nil {
			return err
		}
		if side.Debits() && q.Total.GreaterThan(sc.account.Cash) {
			return invalid(Details{Price: ptr(q.SpotBefore), Need: ptr(q.Total), Have: ptr(sc.account.Cash)},
				"insufficient cash: need %s, have %s", q.Total.StringFixed(2), sc.account.Cash.StringFixed(2))
		}

		txn, err := e.fill(ctx, sc, q, side.TransactionType())
		if err != nil {
			return err
		}
		res := &model.TradeResult{
			Quote:         q,
			TransactionID: txn.ID,
			UnitPrice:     txn.UnitPrice,
			NewCash:       sc.account.Cash,
			NewHolding:    q.ResultingShares,
		}

		report, err := e.enforceMargin(ctx, sc)
		if err != nil {
			return err
		}
		res.Margin = report
		// Liquidation may have moved cash and this very holding.
		res.NewCash = sc.account.Cash
		for _, l := range report.Liquidations {
			if l.SecurityID == securityID {
				res.NewHolding = decimal.Zero
			}
		}

		result, points = res, sc.points
		return nil
	})
	metrics.TradeLatency.WithLabelValues(string(side)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TradeRejections.WithLabelValues(string(side), string(CodeOf(err))).Inc()
		if CodeOf(err) == CodeFatal {
			slog.Error("trade failed", "side", side, "account_id", accountID, "security_id", securityID, "err", err)
		}
		return nil, err
	}

	metrics.TradesTotal.WithLabelValues(string(side)).Inc()
	metrics.ShareVolume.WithLabelValues(securityID, string(side)).Add(qty.InexactFloat64())
	e.observeMargin(result.Margin)
	e.publish(points)

	slog.Info("trade executed",
		"side", side,
		"account_id", accountID,
		"security_id", securityID,
		"shares", qty.String(),
		"total", result.Total.String(),
		"spot_after", result.SpotAfter.String(),
		"margin", result.Margin.Outcome,
	)
	return result, nil
}

// fill applies a planned trade to the locked scope: cash, holding, curve
// depth, ledger row and price point.
func (e *Engine) fill(ctx context.Context, sc *scope, q model.Quote, typ model.TransactionType) (model.Transaction, error) {
	acct := sc.account
	sec := sc.secs[q.SecurityID]

	amount := q.Total
	if q.Side.Debits() {
		amount = amount.Neg()
	}
	cash := acct.Cash.Add(amount)

	if err := sc.tx.SetCash(ctx, acct.ID, cash); err != nil {
		return model.Transaction{}, wrapStore("set cash", err)
	}
	if err := sc.tx.SetHolding(ctx, acct.ID, sec.ID, q.ResultingShares); err != nil {
		return model.Transaction{}, wrapStore("set holding", err)
	}
	if err := sc.tx.SetTotalShares(ctx, sec.ID, q.NewTotalShares); err != nil {
		return model.Transaction{}, wrapStore("set total shares", err)
	}
	acct.Cash = cash
	sec.TotalShares = q.NewTotalShares

	txn := model.Transaction{
		ID:         uuid.NewString(),
		AccountID:  acct.ID,
		SecurityID: sec.ID,
		Type:       typ,
		Shares:     q.Shares,
		UnitPrice:  q.AveragePrice,
		Amount:     amount,
		CreatedAt:  sc.now,
	}
	if err := sc.tx.InsertTransaction(ctx, &txn); err != nil {
		return model.Transaction{}, wrapStore("insert transaction", err)
	}

	p, err := e.scopePricing(ctx, sc, sec.ID)
	if err != nil {
		return model.Transaction{}, err
	}
	if err := e.record(ctx, sc, p, string(typ)); err != nil {
		return model.Transaction{}, err
	}
	return txn, nil
}
