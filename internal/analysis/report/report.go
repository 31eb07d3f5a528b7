// Package report renders the session report: recent price action with the
// EMA overlay, trade markers and the cumulative PnL curve, as a single
// self-contained HTML page.
package report

import (
	"bytes"
	"fmt"
	"time"

	"scalper/internal/market"
	"scalper/internal/strategy"
	"scalper/internal/trader"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// Input carries everything the report needs; the caller gathers it so this
// package stays free of gateway calls.
type Input struct {
	Symbol    string
	Interval  string
	EMAPeriod int
	Candles   []market.Candle
	Trades    []trader.TradeOutcome
	Stats     trader.Stats
}

// Render produces the HTML report.
func Render(in Input) ([]byte, error) {
	if len(in.Candles) == 0 {
		return nil, fmt.Errorf("no candles to render")
	}
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.PageTitle = fmt.Sprintf("%s session report", in.Symbol)

	page.AddCharts(priceChart(in))
	if len(in.Trades) > 0 {
		page.AddCharts(pnlChart(in))
	}

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	return buf.Bytes(), nil
}

func priceChart(in Input) *charts.Line {
	xAxis := make([]string, 0, len(in.Candles))
	closes := make([]opts.LineData, 0, len(in.Candles))
	for _, c := range in.Candles {
		xAxis = append(xAxis, time.UnixMilli(c.CloseTime).Format("15:04"))
		closes = append(closes, opts.LineData{Value: c.Close})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("%s %s close", in.Symbol, in.Interval),
			Subtitle: fmt.Sprintf("%d trades, %.4f total PnL", in.Stats.Trades, in.Stats.TotalPnL),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
	)
	line.SetXAxis(xAxis)
	line.AddSeries("close", closes, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	if in.EMAPeriod > 0 && len(in.Candles) >= in.EMAPeriod {
		ema := strategy.EMA(market.Closes(in.Candles), in.EMAPeriod)
		emaData := make([]opts.LineData, 0, len(ema))
		for _, v := range ema {
			emaData = append(emaData, opts.LineData{Value: v})
		}
		line.AddSeries(fmt.Sprintf("ema%d", in.EMAPeriod), emaData,
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
			charts.WithLineStyleOpts(opts.LineStyle{Width: 2}))
	}

	if len(in.Trades) > 0 {
		entries, exits := tradeMarkers(in.Candles, in.Trades, xAxis)
		scatter := charts.NewScatter()
		scatter.SetXAxis(xAxis)
		scatter.AddSeries("entry", entries)
		scatter.AddSeries("exit", exits)
		line.Overlap(scatter)
	}
	return line
}

// tradeMarkers pins each trade's entry and exit onto the candle whose close
// time is nearest, so the scatter overlay lines up with the category axis.
func tradeMarkers(candles []market.Candle, trades []trader.TradeOutcome, xAxis []string) (entries, exits []opts.ScatterData) {
	nearest := func(t time.Time) (int, bool) {
		if t.IsZero() || len(candles) == 0 {
			return 0, false
		}
		ms := t.UnixMilli()
		for i, c := range candles {
			if c.CloseTime >= ms {
				return i, true
			}
		}
		return len(candles) - 1, true
	}
	for _, t := range trades {
		if i, ok := nearest(t.OpenedAt); ok {
			entries = append(entries, opts.ScatterData{Value: []any{xAxis[i], t.EntryPrice}, Symbol: "triangle", SymbolSize: 10})
		}
		if i, ok := nearest(t.ClosedAt); ok {
			exits = append(exits, opts.ScatterData{Value: []any{xAxis[i], t.ExitPrice}, Symbol: "diamond", SymbolSize: 10})
		}
	}
	return entries, exits
}

func pnlChart(in Input) *charts.Line {
	xAxis := make([]string, 0, len(in.Trades))
	cumulative := make([]opts.LineData, 0, len(in.Trades))
	running := 0.0
	for _, t := range in.Trades {
		running += t.PnL
		xAxis = append(xAxis, t.ClosedAt.Format("15:04:05"))
		cumulative = append(cumulative, opts.LineData{Value: running})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "cumulative PnL"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
	)
	line.SetXAxis(xAxis)
	line.AddSeries("pnl", cumulative, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)}))
	return line
}
