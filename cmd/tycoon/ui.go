package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	cl "tycoon/internal/cli"
	"tycoon/internal/game"

	"github.com/fatih/color"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptChoice(label string, options []string, defaultValue string) (string, error) {
	normalized := make(map[string]struct{}, len(options))
	for _, opt := range options {
		normalized[strings.ToLower(strings.TrimSpace(opt))] = struct{}{}
	}
	for {
		fmt.Printf("%s (%s) [%s]: ", label, strings.Join(options, "/"), defaultValue)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.ToLower(strings.TrimSpace(text))
		if text == "" {
			text = strings.ToLower(strings.TrimSpace(defaultValue))
		}
		if _, ok := normalized[text]; ok {
			return text, nil
		}
		printWarn("Invalid option. Please pick one of the listed values.")
	}
}

func clearScreen() {
	fmt.Print("\033[H\033[2J")
}

func renderDashboard(d game.Dashboard) {
	state := warn.Sprint("PAUSED")
	if d.Active {
		state = success.Sprint("LIVE")
	}
	accent.Printf("\n== %s's DASHBOARD (tick %d) ==  %s\n", d.Player.DisplayName, d.Tick, state)

	openPL := int64(0)
	for _, p := range d.Positions {
		openPL += p.UnrealizedCents
	}
	fmt.Printf("Cash:               $%s\n", formatCents(d.CashCents))
	fmt.Printf("Net Worth:          $%s\n", formatCents(d.NetWorthCents))
	fmt.Printf("Peak Net Worth:     $%s\n", formatCents(d.PeakNetWorthCents))
	fmt.Printf("P/L vs Start:       %s\n", colorizeCents(d.NetWorthCents-d.StartingCashCents))
	fmt.Printf("Open Position P/L:  %s\n", colorizeCents(openPL))
	fmt.Printf("From Peak:          %s\n", colorizeCents(d.NetWorthCents-d.PeakNetWorthCents))

	fmt.Println()
	renderMarket(d.Market)
	renderPositions(d.Positions)
}

func renderMarket(snap game.MarketSnapshot) {
	accent.Println("Market")
	if len(snap.Assets) == 0 {
		printInfo("No coins listed.")
		return
	}
	fmt.Printf("%-6s %-12s %14s %14s %9s  %s\n", "SYMBOL", "NAME", "PRICE", "CHANGE", "CHANGE%", "TREND")
	for _, q := range snap.Assets {
		fmt.Printf("%-6s %-12s %14s %14s %9s  %s\n",
			q.Symbol,
			truncate(q.Name, 12),
			formatCents(q.PriceCents),
			colorizeCents(q.ChangeCents),
			colorizePercent(q.ChangePct),
			sparkline(q.Series, 24),
		)
	}
	fmt.Println()
}

func renderPositions(positions []game.PositionView) {
	accent.Println("Holdings")
	if len(positions) == 0 {
		printInfo("No open positions yet.")
		fmt.Println()
		return
	}
	fmt.Printf("%-6s %-12s %10s %14s %14s %16s %16s %9s\n", "SYMBOL", "NAME", "UNITS", "AVG COST", "NOW", "VALUE", "P/L", "P/L%")
	for _, p := range positions {
		fmt.Printf("%-6s %-12s %10s %14s %14s %16s %16s %9s\n",
			p.Symbol,
			truncate(p.Name, 12),
			comma(p.Units),
			formatCents(p.AvgCostCents),
			formatCents(p.PriceCents),
			formatCents(p.ValueCents),
			colorizeCents(p.UnrealizedCents),
			colorizePercent(p.UnrealizedPct),
		)
	}
	fmt.Println()
}

func renderPortfolio(pf cl.Portfolio) {
	accent.Println("\n== PORTFOLIO ==")
	fmt.Printf("Cash:           $%s\n", formatCents(pf.CashCents))
	fmt.Printf("Net Worth:      $%s\n", formatCents(pf.NetWorthCents))
	fmt.Printf("Peak Net Worth: $%s\n", formatCents(pf.PeakNetWorthCents))
	fmt.Printf("P/L vs Start:   %s\n", colorizeCents(pf.NetWorthCents-pf.StartingCashCents))
	fmt.Println()
	renderPositions(pf.Positions)
}

func renderCoin(c game.CoinView) {
	accent.Printf("\n== %s (%s) ==\n", c.Name, c.Symbol)
	fmt.Printf("Price:        $%s\n", formatCents(c.PriceCents))
	fmt.Printf("Change:       %s (%s)\n", colorizeCents(c.ChangeCents), colorizePercent(c.ChangePct))
	fmt.Printf("Trend:        %s\n", sparkline(c.Series, 48))
	fmt.Println()
	if c.Units == 0 {
		printInfo("You hold none.")
	} else {
		fmt.Printf("Units held:   %s\n", comma(c.Units))
		fmt.Printf("Avg cost:     $%s\n", formatCents(c.AvgCostCents))
		fmt.Printf("Value:        $%s\n", formatCents(c.ValueCents))
		fmt.Printf("Unrealized:   %s\n", colorizePercent(c.UnrealizedPct))
	}
	fmt.Printf("Max buy:      %s units\n", comma(c.MaxBuyUnits))
	fmt.Println()
}

func renderHistory(points []game.NetWorthPoint) {
	accent.Println("\n== NET WORTH HISTORY ==")
	if len(points) == 0 {
		printInfo("No samples yet. Run `tycoon play` to open the market.")
		return
	}
	series := make([]game.PricePoint, len(points))
	for i, p := range points {
		series[i] = game.PricePoint{Tick: int64(i), PriceCents: p.ValueCents}
	}
	first, last := points[0], points[len(points)-1]
	fmt.Printf("Samples: %d  From: %s  To: %s\n", len(points), first.At.Local().Format("15:04:05"), last.At.Local().Format("15:04:05"))
	fmt.Printf("Now:     $%s (%s)\n", formatCents(last.ValueCents), colorizeCents(last.ValueCents-first.ValueCents))
	fmt.Printf("Trend:   %s\n", sparkline(series, 60))

	limit := min(len(points), 8)
	fmt.Println()
	fmt.Printf("%-10s %16s\n", "TIME", "NET WORTH")
	for _, p := range points[len(points)-limit:] {
		fmt.Printf("%-10s %16s\n", p.At.Local().Format("15:04:05"), formatCents(p.ValueCents))
	}
	fmt.Println()
}

func renderOrderResult(res game.OrderResult) {
	f := res.Fill
	accent.Printf("\n== ORDER %s %s ==\n", strings.ToUpper(string(f.Side)), f.Symbol)
	switch f.Status {
	case game.FillNoop:
		printWarn("Nothing to do: quantity was not a whole positive number or you hold none.")
	case game.FillRejected:
		printWarn("Order rejected.")
	default:
		fmt.Printf("Units:     %s", comma(f.Units))
		if f.Requested > f.Units {
			fmt.Printf(" (asked %s)", comma(f.Requested))
		}
		fmt.Println()
		fmt.Printf("Price:     $%s\n", formatCents(f.PriceCents))
		fmt.Printf("Notional:  $%s\n", formatCents(f.NotionalCents))
	}
	fmt.Printf("Cash:      $%s\n", formatCents(f.CashCents))
	fmt.Printf("Net Worth: $%s\n", formatCents(res.NetWorthCents))
	fmt.Println()
}

// sparkline draws the newest width samples scaled between their own min
// and max.
func sparkline(series []game.PricePoint, width int) string {
	if len(series) == 0 {
		return ""
	}
	if len(series) > width {
		series = series[len(series)-width:]
	}
	lo, hi := series[0].PriceCents, series[0].PriceCents
	for _, p := range series {
		lo = min(lo, p.PriceCents)
		hi = max(hi, p.PriceCents)
	}
	var b strings.Builder
	for _, p := range series {
		idx := 0
		if hi > lo {
			idx = int((p.PriceCents - lo) * int64(len(sparkRunes)-1) / (hi - lo))
		}
		b.WriteRune(sparkRunes[idx])
	}
	line := b.String()
	switch {
	case series[len(series)-1].PriceCents > series[0].PriceCents:
		return success.Sprint(line)
	case series[len(series)-1].PriceCents < series[0].PriceCents:
		return danger.Sprint(line)
	default:
		return neutral.Sprint(line)
	}
}

func colorizeCents(v int64) string {
	text := signedCents(v)
	switch {
	case v > 0:
		return success.Sprint(text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func colorizePercent(v float64) string {
	text := fmt.Sprintf("%+.2f%%", v)
	switch {
	case v > 0:
		return success.Sprint(text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func formatCents(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	whole := v / game.CentsPerDollar
	frac := v % game.CentsPerDollar
	return fmt.Sprintf("%s%s.%02d", sign, comma(whole), frac)
}

func signedCents(v int64) string {
	if v > 0 {
		return "+" + formatCents(v)
	}
	return formatCents(v)
}

func comma(v int64) string {
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		if len(s) > pre {
			b.WriteByte(',')
		}
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
