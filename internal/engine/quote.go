package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/fsm/market-engine/internal/model"
)

// Quote previews a trade without locking or writing anything. Given the same
// pre-trade state it returns exactly what the trade would charge or pay,
// but cash sufficiency is not checked.
func (e *Engine) Quote(ctx context.Context, side model.Side, accountID, securityID string, qty decimal.Decimal) (model.Quote, error) {
	if _, err := e.store.GetAccount(ctx, accountID); err != nil {
		if isNotFound(err) {
			return model.Quote{}, notFound("account %s not found", accountID)
		}
		return model.Quote{}, wrapStore("get account", err)
	}
	sec, err := e.store.GetSecurity(ctx, securityID)
	if err != nil {
		if isNotFound(err) {
			return model.Quote{}, notFound("security %s not found", securityID)
		}
		return model.Quote{}, wrapStore("get security", err)
	}
	line, err := e.store.StatLine(ctx, securityID)
	if err != nil {
		return model.Quote{}, wrapStore("read stat line", err)
	}
	holding, err := e.store.GetHolding(ctx, accountID, securityID)
	if err != nil {
		return model.Quote{}, wrapStore("get holding", err)
	}

	return e.plan(planInput{
		side:    side,
		price:   e.pricingFor(*sec, line),
		holding: holding,
		qty:     qty,
	})
}

// QuoteBuy previews a buy.
func (e *Engine) QuoteBuy(ctx context.Context, accountID, securityID string, qty decimal.Decimal) (model.Quote, error) {
	return e.Quote(ctx, model.SideBuy, accountID, securityID, qty)
}

// QuoteSell previews a sell.
func (e *Engine) QuoteSell(ctx context.Context, accountID, securityID string, qty decimal.Decimal) (model.Quote, error) {
	return e.Quote(ctx, model.SideSell, accountID, securityID, qty)
}

// QuoteShort previews a short.
func (e *Engine) QuoteShort(ctx context.Context, accountID, securityID string, qty decimal.Decimal) (model.Quote, error) {
	return e.Quote(ctx, model.SideShort, accountID, securityID, qty)
}

// QuoteCover previews a cover.
func (e *Engine) QuoteCover(ctx context.Context, accountID, securityID string, qty decimal.Decimal) (model.Quote, error) {
	return e.Quote(ctx, model.SideCover, accountID, securityID, qty)
}
