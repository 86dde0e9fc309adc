package reporter

import (
	"fmt"
	"math"
	"os"

	"dydx-breakout-bot-go/internal/models"
	"dydx-breakout-bot-go/internal/risk"

	"github.com/jedib0t/go-pretty/v6/table"
)

// PrintPerformance 打印整体绩效报告
func PrintPerformance(metrics models.PerformanceMetrics) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("绩效报告")
	t.AppendRows([]table.Row{
		{"总交易次数", metrics.TotalTrades},
		{"总盈亏", fmt.Sprintf("%.2f USD", metrics.TotalPnl)},
		{"胜率", fmt.Sprintf("%.2f%%", metrics.WinRate)},
		{"平均盈利", fmt.Sprintf("%.2f USD", metrics.AvgWin)},
		{"平均亏损", fmt.Sprintf("%.2f USD", metrics.AvgLoss)},
		{"盈亏因子", formatProfitFactor(metrics.ProfitFactor)},
		{"最大回撤", fmt.Sprintf("%.2f USD", metrics.MaxDrawdown)},
	})
	t.Render()
}

func formatProfitFactor(pf float64) string {
	if math.IsInf(pf, 1) {
		return "inf"
	}
	return fmt.Sprintf("%.2f", pf)
}

// PrintStatus 打印账户快照、持仓与风险状态
func PrintStatus(account *models.AccountSnapshot, pos *models.Position, summary risk.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("机器人状态")
	if account != nil {
		t.AppendRows([]table.Row{
			{"账户权益", fmt.Sprintf("%.2f USD", account.EquityUSD)},
			{"可用保证金", fmt.Sprintf("%.2f USD", account.FreeCollateralUSD)},
		})
	}
	if pos != nil {
		t.AppendSeparator()
		t.AppendRows([]table.Row{
			{"持仓", fmt.Sprintf("%s %s", pos.Side, pos.Instrument)},
			{"开仓均价", fmt.Sprintf("%.4f", pos.EntryPrice)},
			{"数量", fmt.Sprintf("%.5f", pos.SizeBase)},
			{"止损", fmt.Sprintf("%.4f", pos.StopLoss)},
			{"止盈", fmt.Sprintf("%.4f", pos.TakeProfit)},
		})
	} else {
		t.AppendSeparator()
		t.AppendRow(table.Row{"持仓", "无"})
	}
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"日内盈亏", fmt.Sprintf("%.2f USD", summary.DailyPnl)},
		{"熔断状态", map[bool]string{true: "已触发", false: "正常"}[summary.CircuitBroken]},
	})
	t.Render()
}
