package alert

import (
	"fmt"
	"kimchi_arb/internal/core"
	"strings"

	"github.com/shopspring/decimal"
)

// FormatTrade renders a settled trade for the notifier
func FormatTrade(rec core.TradeRecord) string {
	prefix := "Executed"
	if rec.DryRun {
		prefix = "Executed (dry-run)"
	}
	return fmt.Sprintf("%s %s %s: buy %s / sell %s, premium %s%%, tier %s\namount %s, notional %s, net %s (fee %s)",
		prefix, rec.Layer, rec.Symbol, rec.BuyVenue, rec.SellVenue,
		rec.PremiumPct.StringFixed(2), rec.Tier,
		rec.Amount.String(), FormatKRW(rec.Notional), FormatKRW(rec.NetPnL), FormatKRW(rec.Fee))
}

// FormatDailyReport renders the summary of an ended UTC day
func FormatDailyReport(date string, s core.PnLStats, layers map[core.Layer]decimal.Decimal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Daily report %s\nrealized %s, fees %s, trades %d",
		date, FormatKRW(s.RealizedPnL), FormatKRW(s.Fees), s.Trades)
	for _, layer := range core.TradingLayers {
		if pnl, ok := layers[layer]; ok {
			fmt.Fprintf(&b, "\n- %s: %s", layer, FormatKRW(pnl))
		}
	}
	return b.String()
}

// FormatWeeklyReport renders the summary of a 7-day window
func FormatWeeklyReport(from, to string, s core.PnLStats) string {
	return fmt.Sprintf("Weekly report %s .. %s\nrealized %s, fees %s, trades %d",
		from, to, FormatKRW(s.RealizedPnL), FormatKRW(s.Fees), s.Trades)
}

// FormatKRW renders an amount as whole won with thousands separators
func FormatKRW(d decimal.Decimal) string {
	s := d.Round(0).String()
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	if len(s) > 3 {
		var b strings.Builder
		head := len(s) % 3
		if head > 0 {
			b.WriteString(s[:head])
		}
		for i := head; i < len(s); i += 3 {
			if b.Len() > 0 {
				b.WriteByte(',')
			}
			b.WriteString(s[i : i+3])
		}
		s = b.String()
	}
	return sign + s + " KRW"
}
