// Package notify implementa ports.Notifier sobre la consola.
package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polyedge/internal/crossarb"
	"github.com/alejandrodnm/polyedge/internal/domain"
	"github.com/alejandrodnm/polyedge/internal/orderbook"
	"github.com/alejandrodnm/polyedge/internal/paper"
)

const questionWidth = 50

// Console implementa ports.Notifier escribiendo a un io.Writer.
// Es seguro para uso concurrente.
type Console struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole() *Console {
	return NewConsoleWriter(os.Stdout)
}

// NewConsoleWriter crea un notificador sobre w (tests, ficheros).
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w, now: time.Now}
}

// Send imprime un mensaje libre.
func (c *Console) Send(_ context.Context, text string) error {
	return c.printf("%s\n", text)
}

// SignalFound imprime una señal aceptada.
func (c *Console) SignalFound(_ context.Context, m domain.Market, s domain.Signal) error {
	return c.printf("SIGNAL %s %s | model %.1f%% vs market %.1f%% | edge %+.1f%% conf %.0f%% size %.2f%%\n",
		s.Side, domain.TruncateQuestion(m.Question, m.ID, questionWidth),
		s.ModelProb*100, s.MarketProb*100, s.Edge*100, s.Confidence*100, s.SuggestedSize*100)
}

// TradeExecuted imprime un fill.
func (c *Console) TradeExecuted(_ context.Context, t domain.Trade) error {
	line := fmt.Sprintf("TRADE %s %s shares of %s @ %s ($%s)",
		t.Side, t.Size.StringFixed(2), shortToken(t.TokenID), t.Price.StringFixed(4), t.Notional().StringFixed(2))
	if !t.PnL.IsZero() {
		line += " pnl $" + t.PnL.StringFixed(2)
	}
	return c.printf("%s\n", line)
}

// DailyReport imprime el resumen diario como tabla.
func (c *Console) DailyReport(_ context.Context, s domain.DailyStats, balance decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "\n=== DAILY REPORT %s ===\n", s.Date.Format("2006-01-02"))
	table := tablewriter.NewWriter(c.out)
	table.Header("Metric", "Value")
	table.Append("Trades", fmt.Sprintf("%d (%d buys / %d sells)", s.Trades, s.Buys, s.Sells))
	table.Append("Volume", "$"+s.Volume.StringFixed(2))
	table.Append("Fees", "$"+s.Fees.StringFixed(2))
	table.Append("Realized PnL", signedUSD(s.RealizedPnL))
	table.Append("Win rate", fmt.Sprintf("%.1f%% (%dW/%dL)", s.WinRate()*100, s.Wins, s.Losses))
	table.Append("Balance", "$"+balance.StringFixed(2))
	return table.Render()
}

// RiskAlert imprime una alerta de riesgo.
func (c *Console) RiskAlert(_ context.Context, reason string) error {
	return c.printf("RISK ALERT: %s\n", reason)
}

// Error imprime un error operativo.
func (c *Console) Error(_ context.Context, err error) error {
	return c.printf("ERROR: %v\n", err)
}

// PrintMarkets imprime el listado de mercados del comando markets.
func (c *Console) PrintMarkets(markets []domain.Market) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(markets) == 0 {
		fmt.Fprintln(c.out, "No markets found")
		return nil
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Market", "YES", "Liquidity", "Volume", "Ends", "ID")
	for i, m := range markets {
		yes := "-"
		if _, ok := m.YesToken(); ok {
			yes = m.YesPrice().Mul(decimal.NewFromInt(100)).StringFixed(1) + "%"
		}
		table.Append(
			fmt.Sprintf("%d", i+1),
			domain.TruncateQuestion(m.Question, m.ID, questionWidth),
			yes,
			"$"+m.Liquidity.StringFixed(0),
			"$"+m.Volume.StringFixed(0),
			endLabel(m, c.now()),
			shortToken(m.ID),
		)
	}
	return table.Render()
}

// PrintTrades imprime un listado de trades (comando report).
func (c *Console) PrintTrades(trades []domain.Trade) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(trades) == 0 {
		fmt.Fprintln(c.out, "No trades")
		return nil
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("Time", "Side", "Token", "Price", "Shares", "Fee", "PnL")
	for _, t := range trades {
		table.Append(
			t.Timestamp.UTC().Format("01-02 15:04"),
			t.Side.String(),
			shortToken(t.TokenID),
			t.Price.StringFixed(4),
			t.Size.StringFixed(2),
			t.Fee.StringFixed(4),
			signedUSD(t.PnL),
		)
	}
	return table.Render()
}

// PrintPaperSummary imprime el estado de la cuenta paper (comando status).
func (c *Console) PrintPaperSummary(s paper.Summary, positions []paper.Position) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "\n=== PAPER ACCOUNT (updated %s) ===\n", s.UpdatedAt.UTC().Format(time.RFC3339))
	table := tablewriter.NewWriter(c.out)
	table.Header("Metric", "Value")
	table.Append("Initial", "$"+s.InitialBalance.StringFixed(2))
	table.Append("Cash", "$"+s.Cash.StringFixed(2))
	table.Append("Positions value", "$"+s.PositionsValue.StringFixed(2))
	table.Append("Total value", "$"+s.TotalValue.StringFixed(2))
	table.Append("Realized PnL", signedUSD(s.RealizedPnL))
	table.Append("Unrealized PnL", signedUSD(s.UnrealizedPnL))
	table.Append("ROI", s.ROIPct.StringFixed(2)+"%")
	table.Append("Fees", "$"+s.FeesPaid.StringFixed(2))
	table.Append("Trades", fmt.Sprintf("%d (%dW/%dL, %.1f%%)", s.Trades, s.Wins, s.Losses, s.WinRate()*100))
	if err := table.Render(); err != nil {
		return err
	}

	if len(positions) == 0 {
		return nil
	}
	pos := tablewriter.NewWriter(c.out)
	pos.Header("Market", "Outcome", "Shares", "Entry", "Current", "PnL")
	for _, p := range positions {
		pos.Append(
			domain.TruncateQuestion(p.Question, p.MarketID, questionWidth),
			string(p.Outcome),
			p.Shares.StringFixed(2),
			p.EntryPrice.StringFixed(4),
			p.CurrentPrice.StringFixed(4),
			signedUSD(p.UnrealizedPnL),
		)
	}
	return pos.Render()
}

// Analysis es lo que imprime el comando analyze para un mercado.
type Analysis struct {
	Market    domain.Market
	Book      domain.OrderBook
	NearDepth decimal.Decimal // USDC a ±5¢ del mid
	Summary   orderbook.Summary
	Impact100 float64 // bps para comprar 100 shares
	HasImpact bool
	Arb       *crossarb.Opportunity // solo mercados Up/Down con spread
}

// PrintAnalysis imprime el análisis de microestructura de un mercado.
func (c *Console) PrintAnalysis(a Analysis) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := a.Market
	fmt.Fprintf(c.out, "\n=== %s ===\n", domain.TruncateQuestion(m.Question, m.ID, 80))
	table := tablewriter.NewWriter(c.out)
	table.Header("Metric", "Value")
	table.Append("Market", m.ID)
	table.Append("Ends", endLabel(m, c.now()))
	table.Append("Liquidity", "$"+m.Liquidity.StringFixed(0))
	table.Append("YES price", m.YesPrice().StringFixed(4))

	if bid, ok := a.Book.BestBid(); ok {
		table.Append("Best bid", bid.Price.StringFixed(4)+" x "+bid.Quantity.StringFixed(2))
	}
	if ask, ok := a.Book.BestAsk(); ok {
		table.Append("Best ask", ask.Price.StringFixed(4)+" x "+ask.Quantity.StringFixed(2))
	}
	if bps, ok := a.Book.SpreadBps(); ok {
		table.Append("Spread", fmt.Sprintf("%.0f bps", bps))
	}
	table.Append("Depth ±5¢", "$"+a.NearDepth.StringFixed(2))

	s := a.Summary
	if s.HasImbalance {
		table.Append("Imbalance", fmt.Sprintf("%+.3f %s (conf %.0f%%)", s.Imbalance.Average, s.Imbalance.Direction, s.Imbalance.Confidence*100))
	}
	if s.HasVPIN {
		table.Append("VPIN", fmt.Sprintf("%.3f %s (%d buckets)", s.VPIN.Value, s.VPIN.Toxicity, s.VPIN.Buckets))
	}
	if s.HasMM {
		table.Append("Market makers", fmt.Sprintf("~%d %s", s.MM.EstimatedCount, s.MM.Activity))
	}
	table.Append("Icebergs", fmt.Sprintf("%d", len(s.Icebergs)))
	if a.HasImpact {
		table.Append("Impact 100 shares", fmt.Sprintf("%.1f bps", a.Impact100))
	}
	if o := a.Arb; o != nil {
		table.Append("Up+Down cost", o.TotalCost.StringFixed(4))
		table.Append("Arb spread", o.Spread.Mul(decimal.NewFromInt(100)).StringFixed(2)+"%")
		table.Append("Arb max capital", "$"+o.MaxProfitableCapital().StringFixed(0))
	}
	return table.Render()
}

// --- helpers ---

func (c *Console) printf(format string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := c.now().Format("15:04:05")
	_, err := fmt.Fprintf(c.out, "[%s] "+format, append([]any{ts}, args...)...)
	return err
}

func signedUSD(v decimal.Decimal) string {
	if v.IsNegative() {
		return "-$" + v.Abs().StringFixed(2)
	}
	return "+$" + v.StringFixed(2)
}

func shortToken(id string) string {
	if len(id) <= 14 {
		return id
	}
	return id[:6] + "…" + id[len(id)-6:]
}

func endLabel(m domain.Market, now time.Time) string {
	if m.EndTime.IsZero() {
		return "-"
	}
	left := m.EndTime.Sub(now)
	switch {
	case left <= 0:
		return "ended"
	case left < time.Hour:
		return fmt.Sprintf("%dm", int(left.Minutes()))
	case left < 48*time.Hour:
		return fmt.Sprintf("%dh", int(left.Hours()))
	default:
		return fmt.Sprintf("%dd", int(left.Hours()/24))
	}
}
