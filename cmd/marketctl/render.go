package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/fsm/market-engine/internal/model"
)

func renderSecurities(out io.Writer, views []model.SecurityView) {
	table := tablewriter.NewWriter(out)
	table.Header("ID", "Name", "Sport", "Team", "Pos", "Listed", "Pts", "Wk", "Fair", "Spot", "Depth")
	for _, v := range views {
		table.Append(
			v.ID,
			v.Name,
			v.Sport,
			v.Team,
			v.Position,
			strconv.FormatBool(v.Listed),
			v.PointsToDate.StringFixed(2),
			strconv.Itoa(v.LatestWeek),
			v.Fundamental.StringFixed(4),
			v.Spot.StringFixed(4),
			v.TotalShares.String(),
		)
	}
	table.Render()
	fmt.Fprintf(out, "%d securities\n", len(views))
}

func renderPortfolio(out io.Writer, snap model.RiskSnapshot) {
	table := tablewriter.NewWriter(out)
	table.Header("Security", "Shares", "Spot", "Market value", "Margin req")
	for _, p := range snap.Positions {
		table.Append(
			p.SecurityID,
			p.Shares.String(),
			p.Spot.StringFixed(4),
			p.MarketValue.StringFixed(2),
			p.MarginRequired.StringFixed(2),
		)
	}
	table.Render()

	fmt.Fprintf(out, "account %s\n", snap.AccountID)
	fmt.Fprintf(out, "  cash %s  equity %s  buying power %s\n",
		snap.Cash.StringFixed(2), snap.Equity.StringFixed(2), snap.BuyingPower.StringFixed(2))
	fmt.Fprintf(out, "  net %s  gross %s  margin used %s\n",
		snap.NetExposure.StringFixed(2), snap.GrossExposure.StringFixed(2), snap.MarginUsed.StringFixed(2))
	if snap.MarginCall {
		fmt.Fprintln(out, "  MARGIN CALL")
	}
}

func renderMargin(out io.Writer, report model.MarginReport) {
	fmt.Fprintf(out, "outcome: %s\n", report.Outcome)
	if len(report.Liquidations) > 0 {
		table := tablewriter.NewWriter(out)
		table.Header("Tx", "Type", "Security", "Shares", "Unit price", "Amount")
		for _, tx := range report.Liquidations {
			table.Append(
				tx.ID,
				string(tx.Type),
				tx.SecurityID,
				tx.Shares.String(),
				tx.UnitPrice.StringFixed(4),
				tx.Amount.StringFixed(2),
			)
		}
		table.Render()
	}
	renderPortfolio(out, report.Snapshot)
}

func renderClose(out io.Writer, res model.SeasonCloseResult) {
	if res.AlreadyClosed {
		fmt.Fprintf(out, "season %d already closed\n", res.Season)
		return
	}
	table := tablewriter.NewWriter(out)
	table.Header("Season", "Positions closed", "Accounts credited", "Total payout")
	table.Append(strconv.Itoa(res.Season), strconv.Itoa(res.PositionsClosed),
		strconv.Itoa(res.AccountsCredited), res.TotalPayout.StringFixed(2))
	table.Render()
}

func renderReset(out io.Writer, res model.SeasonResetResult) {
	if res.AlreadyReset {
		fmt.Fprintf(out, "season %d already reset\n", res.Season)
		return
	}
	table := tablewriter.NewWriter(out)
	table.Header("Season", "Archived stats", "Archived holdings", "Cleared stats", "Cleared holdings", "Securities reset")
	table.Append(strconv.Itoa(res.Season), strconv.Itoa(res.ArchivedStats), strconv.Itoa(res.ArchivedHoldings),
		strconv.Itoa(res.ClearedStats), strconv.Itoa(res.ClearedHoldings), strconv.Itoa(res.SecuritiesReset))
	table.Render()
}
