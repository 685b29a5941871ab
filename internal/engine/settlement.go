package engine

import (
	"context"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fsm/market-engine/internal/curve"
	"github.com/fsm/market-engine/internal/metrics"
	"github.com/fsm/market-engine/internal/model"
	"github.com/fsm/market-engine/internal/store"
)

// lockMarket locks every account and then every security, the order trades
// use, and returns a scope over all securities with their stat lines.
func (e *Engine) lockMarket(ctx context.Context, tx store.Tx) (*scope, map[string]*model.Account, error) {
	accounts, err := tx.LockAllAccounts(ctx)
	if err != nil {
		return nil, nil, wrapStore("lock accounts", err)
	}
	secs, err := tx.LockAllSecurities(ctx)
	if err != nil {
		return nil, nil, wrapStore("lock securities", err)
	}

	sc := newScope(tx, e.now())
	sc.secs = make(map[string]*model.Security, len(secs))
	for i := range secs {
		sc.secs[secs[i].ID] = &secs[i]
	}
	return sc, accounts, nil
}

// recordAll appends one price point per security, in id order.
func (e *Engine) recordAll(ctx context.Context, sc *scope, source string) error {
	ids := make([]string, 0, len(sc.secs))
	for id := range sc.secs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p, err := e.scopePricing(ctx, sc, id)
		if err != nil {
			return err
		}
		if err := e.record(ctx, sc, p, source); err != nil {
			return err
		}
	}
	return nil
}

// CloseSeason pays out every open position at the season's final points and
// flattens it. Each holding receives shares · points · payout_per_point, so
// short holders pay. A second close of the same season changes nothing and
// reports AlreadyClosed.
func (e *Engine) CloseSeason(ctx context.Context, season int) (*model.SeasonCloseResult, error) {
	if season <= 0 {
		return nil, invalid(Details{}, "season must be positive, got %d", season)
	}

	var (
		result *model.SeasonCloseResult
		points []model.PricePoint
	)
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		res := &model.SeasonCloseResult{Season: season, TotalPayout: decimal.Zero}
		sc, accounts, err := e.lockMarket(ctx, tx)
		if err != nil {
			return err
		}
		claimed, err := tx.ClaimSeasonClose(ctx, season, sc.now)
		if err != nil {
			return wrapStore("claim season close", err)
		}
		if !claimed {
			res.AlreadyClosed = true
			result, points = res, nil
			return nil
		}

		lines, err := tx.StatLines(ctx)
		if err != nil {
			return wrapStore("read stat lines", err)
		}
		for id := range sc.secs {
			sc.lines[id] = lines[id]
		}
		holdings, err := tx.OpenHoldings(ctx)
		if err != nil {
			return wrapStore("list open holdings", err)
		}

		credited := make(map[string]struct{})
		closed := make(map[string]decimal.Decimal)
		for _, h := range holdings {
			acct, ok := accounts[h.AccountID]
			if !ok {
				return fatal("close season", store.ErrNotFound)
			}
			unit := sc.lines[h.SecurityID].PointsToDate.Mul(e.params.PayoutPerPoint)
			payout := h.Shares.Mul(unit).Round(curve.Scale)

			acct.Cash = acct.Cash.Add(payout)
			if err := tx.SetCash(ctx, acct.ID, acct.Cash); err != nil {
				return wrapStore("set cash", err)
			}
			if err := tx.InsertTransaction(ctx, &model.Transaction{
				ID:         uuid.NewString(),
				AccountID:  acct.ID,
				SecurityID: h.SecurityID,
				Type:       model.TxSeasonClose,
				Shares:     h.Shares,
				UnitPrice:  unit,
				Amount:     payout,
				CreatedAt:  sc.now,
			}); err != nil {
				return wrapStore("insert transaction", err)
			}
			if err := tx.SetHolding(ctx, acct.ID, h.SecurityID, decimal.Zero); err != nil {
				return wrapStore("set holding", err)
			}

			res.TotalPayout = res.TotalPayout.Add(payout)
			res.PositionsClosed++
			if payout.IsPositive() {
				credited[acct.ID] = struct{}{}
			}
			closed[h.SecurityID] = closed[h.SecurityID].Add(h.Shares)
		}
		res.AccountsCredited = len(credited)

		for id, shares := range closed {
			sec := sc.secs[id]
			remaining := decimal.Max(decimal.Zero, sec.TotalShares.Sub(shares))
			if err := tx.SetTotalShares(ctx, id, remaining); err != nil {
				return wrapStore("set total shares", err)
			}
			sec.TotalShares = remaining
		}
		if err := e.recordAll(ctx, sc, model.SourceSeasonClose); err != nil {
			return err
		}

		result, points = res, sc.points
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.observeSeason("close", result.AlreadyClosed)
	e.publish(points)
	slog.Info("season closed",
		"season", season,
		"already_closed", result.AlreadyClosed,
		"total_payout", result.TotalPayout.String(),
		"accounts_credited", result.AccountsCredited,
		"positions_closed", result.PositionsClosed,
	)
	return result, nil
}

// ResetSeason archives the closed season's weekly stats and holdings, then
// clears them and returns every security to zero depth with no live game.
// The season must have been closed first. A second reset changes nothing
// and reports AlreadyReset.
func (e *Engine) ResetSeason(ctx context.Context, season int) (*model.SeasonResetResult, error) {
	if season <= 0 {
		return nil, invalid(Details{}, "season must be positive, got %d", season)
	}

	var (
		result *model.SeasonResetResult
		points []model.PricePoint
	)
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		res := &model.SeasonResetResult{Season: season}
		sc, accounts, err := e.lockMarket(ctx, tx)
		if err != nil {
			return err
		}
		closed, err := tx.SeasonClosed(ctx, season)
		if err != nil {
			return wrapStore("read season close", err)
		}
		if !closed {
			return invalid(Details{}, "season %d must be closed before it can be reset", season)
		}
		claimed, err := tx.ClaimSeasonReset(ctx, season, sc.now)
		if err != nil {
			return wrapStore("claim season reset", err)
		}
		if !claimed {
			res.AlreadyReset = true
			result, points = res, nil
			return nil
		}

		stats, err := tx.WeeklyStats(ctx)
		if err != nil {
			return wrapStore("list weekly stats", err)
		}
		archivedStats := make([]model.ArchivedWeeklyStat, 0, len(stats))
		for _, s := range stats {
			archivedStats = append(archivedStats, model.ArchivedWeeklyStat{
				Season:     season,
				SecurityID: s.SecurityID,
				Week:       s.Week,
				Points:     s.Points,
				ArchivedAt: sc.now,
			})
		}
		if err := tx.ArchiveWeeklyStats(ctx, archivedStats); err != nil {
			return wrapStore("archive weekly stats", err)
		}

		holdings, err := tx.AllHoldings(ctx)
		if err != nil {
			return wrapStore("list holdings", err)
		}
		archivedHoldings := make([]model.ArchivedHolding, 0, len(holdings))
		for _, h := range holdings {
			cash := decimal.Zero
			if acct, ok := accounts[h.AccountID]; ok {
				cash = acct.Cash
			}
			archivedHoldings = append(archivedHoldings, model.ArchivedHolding{
				Season:     season,
				AccountID:  h.AccountID,
				SecurityID: h.SecurityID,
				Shares:     h.Shares,
				Cash:       cash,
				ArchivedAt: sc.now,
			})
		}
		if err := tx.ArchiveHoldings(ctx, archivedHoldings); err != nil {
			return wrapStore("archive holdings", err)
		}
		res.ArchivedStats = len(archivedStats)
		res.ArchivedHoldings = len(archivedHoldings)
		if err := tx.FinishSeasonReset(ctx, season, res.ArchivedStats, res.ArchivedHoldings); err != nil {
			return wrapStore("finish season reset", err)
		}

		if res.ClearedStats, err = tx.DeleteWeeklyStats(ctx); err != nil {
			return wrapStore("delete weekly stats", err)
		}
		if res.ClearedHoldings, err = tx.DeleteHoldings(ctx); err != nil {
			return wrapStore("delete holdings", err)
		}
		if res.SecuritiesReset, err = tx.ResetSecurities(ctx); err != nil {
			return wrapStore("reset securities", err)
		}

		for id, sec := range sc.secs {
			sec.TotalShares = decimal.Zero
			sec.Live = model.Live{}
			sc.lines[id] = model.StatLine{PointsToDate: decimal.Zero}
		}
		if err := e.recordAll(ctx, sc, model.SourceSeasonReset); err != nil {
			return err
		}

		result, points = res, sc.points
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.observeSeason("reset", result.AlreadyReset)
	e.publish(points)
	slog.Info("season reset",
		"season", season,
		"already_reset", result.AlreadyReset,
		"archived_stats", result.ArchivedStats,
		"archived_holdings", result.ArchivedHoldings,
		"securities_reset", result.SecuritiesReset,
	)
	return result, nil
}

func (e *Engine) observeSeason(transition string, alreadyDone bool) {
	result := "applied"
	if alreadyDone {
		result = "already_done"
	}
	metrics.SeasonTransitions.WithLabelValues(transition, result).Inc()
}
