package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

const defaultMarketsLimit = 10

// HandleCommand aplica un comando del operador y devuelve la respuesta, que
// también se envía por el Notifier.
func (r *Runner) HandleCommand(ctx context.Context, cmd Command) string {
	slog.Info("operator command", "cmd", cmd.Kind.String())
	var text string
	switch cmd.Kind {
	case CmdPause:
		r.d.State.Pause()
		text = "Trading paused"
	case CmdResume:
		r.d.State.Resume()
		if r.d.Breaker != nil {
			r.d.Breaker.Reset()
		}
		text = "Trading resumed"
	case CmdStatus:
		text = r.statusText(ctx)
	case CmdMarkets:
		text = r.marketsText(ctx, cmd.Limit)
	case CmdPnL:
		text = fmt.Sprintf("Today's PnL: %s USDC", r.d.State.DailyPnL().StringFixed(2))
	case CmdPositions:
		text = r.positionsText(ctx)
	default:
		text = "unknown command"
	}
	if r.d.Notifier != nil {
		if err := r.d.Notifier.Send(ctx, text); err != nil {
			slog.Warn("notify command reply failed", "err", err)
		}
	}
	return text
}

func (r *Runner) statusText(ctx context.Context) string {
	st := r.d.State.Snapshot()
	state := "RUNNING"
	if st.Paused {
		state = "PAUSED"
	}
	bal := "n/a"
	if b, err := r.balance(ctx); err == nil {
		bal = b.StringFixed(2)
	}
	openOrders := "n/a"
	if r.d.Venue != nil {
		if orders, err := r.d.Venue.ListOpenOrders(ctx); err == nil {
			openOrders = fmt.Sprint(len(orders))
		}
	}
	return fmt.Sprintf("Status: %s (%s)\nBalance: $%s USDC\nOpen orders: %s\nOpen positions: %d\nExposure: $%s\nDaily PnL: %s\nTrades this hour: %d",
		state, r.d.Executor.Mode(), bal, openOrders, st.OpenPositions, st.Exposure.StringFixed(2), st.DailyPnL.StringFixed(2), st.TradesHour)
}

func (r *Runner) marketsText(ctx context.Context, limit int) string {
	if limit <= 0 {
		limit = defaultMarketsLimit
	}
	markets, err := r.d.Markets.ListMarkets(ctx, domain.MarketFilter{ActiveOnly: true, Limit: limit})
	if err != nil {
		r.notifyError(ctx, err)
		return "markets fetch failed: " + err.Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Top %d markets\n", limit)
	for i, m := range markets {
		if i >= limit {
			break
		}
		yes := m.YesPrice().Mul(domain.MustDec("100"))
		fmt.Fprintf(&b, "%d. %s %s%%\n", i+1, domain.TruncateQuestion(m.Question, m.ID, 43), yes.StringFixed(0))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Runner) positionsText(ctx context.Context) string {
	var b strings.Builder
	switch {
	case r.d.Venue != nil:
		positions, err := r.d.Venue.Positions(ctx)
		if err != nil {
			r.notifyError(ctx, err)
			return "positions fetch failed: " + err.Error()
		}
		for _, p := range positions {
			fmt.Fprintf(&b, "%s size %s @ %s pnl %s\n", shortID(p.TokenID), p.Size.StringFixed(2), p.AvgEntry.StringFixed(4), p.UnrealizedPnL.StringFixed(2))
		}
	case r.d.Paper != nil:
		for _, p := range r.d.Paper.Positions() {
			fmt.Fprintf(&b, "%s %s %s shares @ %s pnl %s (%s%%)\n",
				domain.TruncateQuestion(p.Question, p.MarketID, 40), p.Outcome, p.Shares.StringFixed(2),
				p.EntryPrice.StringFixed(4), p.UnrealizedPnL.StringFixed(2), p.UnrealizedPct().StringFixed(1))
		}
	default:
		for _, h := range r.d.State.Holdings() {
			fmt.Fprintf(&b, "%s %s shares cost %s\n", shortID(h.TokenID), h.Shares.StringFixed(2), h.Cost.StringFixed(2))
		}
	}
	if b.Len() == 0 {
		return "No open positions"
	}
	return "Open positions\n" + strings.TrimRight(b.String(), "\n")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
