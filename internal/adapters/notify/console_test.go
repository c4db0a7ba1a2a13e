package notify_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polyedge/internal/adapters/notify"
	"github.com/alejandrodnm/polyedge/internal/crossarb"
	"github.com/alejandrodnm/polyedge/internal/domain"
	"github.com/alejandrodnm/polyedge/internal/paper"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func market() domain.Market {
	return domain.Market{
		ID:        "0xabc",
		Question:  "Will it rain in Madrid tomorrow?",
		Liquidity: d("25000"),
		Volume:    d("150000"),
		EndTime:   time.Now().Add(3 * time.Hour),
		Tokens: []domain.Token{
			{TokenID: "tok-yes", Outcome: "Yes", Price: d("0.62")},
			{TokenID: "tok-no", Outcome: "No", Price: d("0.38")},
		},
	}
}

func TestConsole_SignalAndTrade(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf)
	ctx := context.Background()

	require.NoError(t, c.SignalFound(ctx, market(), domain.Signal{
		Side: domain.Buy, ModelProb: 0.70, MarketProb: 0.62, Edge: 0.08, Confidence: 0.8, SuggestedSize: 0.02,
	}))
	require.NoError(t, c.TradeExecuted(ctx, domain.Trade{
		Side: domain.Sell, TokenID: "tok-yes", Price: d("0.70"), Size: d("100"), PnL: d("-3.5"),
	}))

	out := buf.String()
	assert.Contains(t, out, "SIGNAL BUY Will it rain in Madrid tomorrow?")
	assert.Contains(t, out, "model 70.0% vs market 62.0%")
	assert.Contains(t, out, "edge +8.0%")
	assert.Contains(t, out, "TRADE SELL 100.00 shares of tok-yes @ 0.7000 ($70.00) pnl $-3.50")
}

func TestConsole_DailyReport(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf)

	stats := domain.DailyStats{
		Date:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Trades: 4, Buys: 2, Sells: 2, Wins: 1, Losses: 1,
		Volume: d("200"), Fees: d("0.4"), RealizedPnL: d("-1.25"),
	}
	require.NoError(t, c.DailyReport(context.Background(), stats, d("998.75")))

	out := buf.String()
	assert.Contains(t, out, "DAILY REPORT 2026-03-01")
	assert.Contains(t, out, "4 (2 buys / 2 sells)")
	assert.Contains(t, out, "-$1.25")
	assert.Contains(t, out, "$998.75")
	assert.Contains(t, out, "50.0%")
}

func TestConsole_AlertsAndErrors(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf)
	ctx := context.Background()

	require.NoError(t, c.RiskAlert(ctx, "daily loss limit reached"))
	require.NoError(t, c.Error(ctx, errors.New("feed disconnected")))
	require.NoError(t, c.Send(ctx, "Trading paused"))

	out := buf.String()
	assert.Contains(t, out, "RISK ALERT: daily loss limit reached")
	assert.Contains(t, out, "ERROR: feed disconnected")
	assert.Contains(t, out, "Trading paused")
}

func TestConsole_PrintMarkets(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf)

	require.NoError(t, c.PrintMarkets([]domain.Market{market()}))
	out := buf.String()
	assert.Contains(t, out, "Will it rain in Madrid tomorrow?")
	assert.Contains(t, out, "62.0%")
	assert.Contains(t, out, "$25000")

	buf.Reset()
	require.NoError(t, c.PrintMarkets(nil))
	assert.Contains(t, buf.String(), "No markets found")
}

func TestConsole_PrintTradesAndPaper(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf)

	require.NoError(t, c.PrintTrades([]domain.Trade{{
		Side: domain.Buy, TokenID: "tok-yes", Price: d("0.4"), Size: d("25"), Fee: d("0"), PnL: d("0"),
		Timestamp: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	}}))
	assert.Contains(t, buf.String(), "03-01 09:30")

	buf.Reset()
	require.NoError(t, c.PrintPaperSummary(paper.Summary{
		InitialBalance: d("1000"), Cash: d("900"), PositionsValue: d("110"), TotalValue: d("1010"),
		RealizedPnL: d("0"), UnrealizedPnL: d("10"), TotalPnL: d("10"), ROIPct: d("1"), FeesPaid: d("0"),
		OpenPositions: 1,
	}, []paper.Position{{
		MarketID: "0xabc", Question: "Will it rain in Madrid tomorrow?", Outcome: paper.Yes,
		Shares: d("200"), EntryPrice: d("0.50"), CurrentPrice: d("0.55"), UnrealizedPnL: d("10"),
	}}))
	out := buf.String()
	assert.Contains(t, out, "PAPER ACCOUNT")
	assert.Contains(t, out, "$1010.00")
	assert.Contains(t, out, "+$10.00")
	assert.Contains(t, out, "YES")
}

func TestConsole_PrintAnalysis(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf)

	book := domain.OrderBook{
		Bids: []domain.BookLevel{{Price: d("0.60"), Quantity: d("100")}},
		Asks: []domain.BookLevel{{Price: d("0.64"), Quantity: d("80")}},
	}
	require.NoError(t, c.PrintAnalysis(notify.Analysis{
		Market:    market(),
		Book:      book,
		NearDepth: book.DepthWithinUSDC(d("0.05")),
		Arb:       &crossarb.Opportunity{TotalCost: d("0.97"), Spread: d("0.03")},
	}))

	out := buf.String()
	assert.Contains(t, out, "Will it rain in Madrid tomorrow?")
	assert.Contains(t, out, "0.6000")
	assert.Contains(t, out, "0.6400")
	assert.Contains(t, out, "$111.20")
	assert.Contains(t, out, "0.9700")
	assert.Contains(t, out, "3.00%")
	assert.NotContains(t, out, "VPIN")
}
