package paper_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polyedge/internal/domain"
	"github.com/alejandrodnm/polyedge/internal/paper"
)

func autoConfig(dir string) paper.AutoConfig {
	cfg := paper.DefaultAutoConfig()
	cfg.StateFile = filepath.Join(dir, "state.json")
	cfg.AuditFile = filepath.Join(dir, "audit.jsonl")
	cfg.SnapshotsDir = filepath.Join(dir, "snapshots")
	return cfg
}

func TestAutoTrader_TakeProfitClosesPosition(t *testing.T) {
	dir := t.TempDir()
	cfg := autoConfig(dir)
	cfg.TakeProfitPct = d("10")
	cfg.StopLossPct = d("5")
	at := paper.NewAutoTrader(paper.NewTrader(paper.DefaultConfig()), cfg)

	pos, err := at.Buy(market("m", "0.50"), paper.Yes, d("100"), "signal")
	require.NoError(t, err)

	at.MarkPrice(pos.TokenID, d("0.60"))
	closes, err := at.CheckExits()
	require.NoError(t, err)
	require.Len(t, closes, 1)
	assert.Equal(t, paper.TakeProfit, closes[0].Reason)
	assert.True(t, closes[0].PnL.Equal(d("20")))
	assert.Empty(t, at.Positions())
	assert.True(t, at.Balance().Equal(d("1020")))

	entries, err := paper.ReadAudit(cfg.AuditFile)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, paper.ActionBuy, entries[0].Action)
	assert.True(t, entries[0].BalanceBefore.Equal(d("1000")))
	assert.True(t, entries[0].BalanceAfter.Equal(d("900")))
	assert.Equal(t, paper.ActionSell, entries[1].Action)
	require.NotNil(t, entries[1].PnL)
	assert.True(t, entries[1].PnL.Equal(d("20")))
	assert.True(t, entries[1].PnLPct.Equal(d("20")))

	snaps, err := os.ReadFile(paper.SnapshotPath(cfg.SnapshotsDir, time.Now()))
	require.NoError(t, err)
	assert.Contains(t, string(snaps), `"market_id":"m"`)
}

func TestAutoTrader_BuyKeepsAuditWhenSaveFails(t *testing.T) {
	dir := t.TempDir()
	cfg := autoConfig(dir)
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	cfg.StateFile = filepath.Join(blocker, "state.json")
	cfg.LogPrices = false
	at := paper.NewAutoTrader(paper.NewTrader(paper.DefaultConfig()), cfg)

	pos, err := at.Buy(market("m", "0.50"), paper.Yes, d("100"), "signal")
	require.NoError(t, err)
	assert.True(t, at.HasPosition("m"))
	assert.NotEmpty(t, pos.ID)

	entries, err := paper.ReadAudit(cfg.AuditFile)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, paper.ActionBuy, entries[0].Action)
	assert.True(t, entries[0].BalanceBefore.Equal(d("1000")))
	assert.True(t, entries[0].BalanceAfter.Equal(d("900")))
}

func TestAutoTrader_StopLoss(t *testing.T) {
	cfg := autoConfig(t.TempDir())
	cfg.LogPrices = false
	at := paper.NewAutoTrader(paper.NewTrader(paper.DefaultConfig()), cfg)
	pos, err := at.Buy(market("m", "0.50"), paper.No, d("50"), "")
	require.NoError(t, err)

	at.MarkPrice(pos.TokenID, d("0.49"))
	closes, err := at.CheckExits()
	require.NoError(t, err)
	assert.Empty(t, closes)

	at.MarkPrice(pos.TokenID, d("0.48"))
	closes, err = at.CheckExits()
	require.NoError(t, err)
	require.Len(t, closes, 1)
	assert.Equal(t, paper.StopLoss, closes[0].Reason)
}

func TestAutoTrader_StateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := autoConfig(dir)
	cfg.LogPrices = false
	tcfg := paper.Config{InitialBalance: d("1000"), FeeRate: d("0.01"), Slippage: d("0.002")}

	first := paper.NewAutoTrader(paper.NewTrader(tcfg), cfg)
	_, err := first.Buy(market("a", "0.30"), paper.Yes, d("100"), "")
	require.NoError(t, err)
	b, err := first.Buy(market("b", "0.70"), paper.No, d("40"), "")
	require.NoError(t, err)
	_, err = first.Sell(b.ID, "")
	require.NoError(t, err)

	second := paper.NewAutoTrader(paper.NewTrader(paper.DefaultConfig()), cfg)
	require.NoError(t, second.Load())
	assert.True(t, second.Balance().Equal(first.Balance()))
	want, got := first.Positions(), second.Positions()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID)
		assert.True(t, want[i].Shares.Equal(got[i].Shares))
		assert.True(t, want[i].CostBasis.Equal(got[i].CostBasis))
	}
	assert.Len(t, second.History(), 3)
	assert.True(t, second.Drift().IsZero())
	assert.True(t, second.Summary().FeesPaid.Equal(first.Summary().FeesPaid))

	_, err = os.Stat(cfg.StateFile + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestLoadState_IgnoresUnknownFieldsAndMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, ok, err := paper.LoadState(filepath.Join(dir, "none.json"))
	require.NoError(t, err)
	assert.False(t, ok)

	path := filepath.Join(dir, "state.json")
	body := `{"balance":"812.5","initial_balance":"1000","positions":[],"history":[],"fees":"0","slippage":"0","extra":{"x":1}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	st, ok, err := paper.LoadState(path)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, st.Balance.Equal(d("812.5")))

	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, _, err = paper.LoadState(path)
	assert.Error(t, err)
}

func TestAutoTrader_SettleAudits(t *testing.T) {
	cfg := autoConfig(t.TempDir())
	cfg.LogPrices = false
	at := paper.NewAutoTrader(paper.NewTrader(paper.DefaultConfig()), cfg)
	_, err := at.Buy(market("m", "0.40"), paper.Yes, d("40"), "")
	require.NoError(t, err)
	recs, err := at.SettleMarket("m", false)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].PnL.Equal(d("-40")))

	raw, err := os.ReadFile(cfg.AuditFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[1], `"action":"SETTLE"`)
	assert.True(t, at.Balance().Equal(d("960")))
	assert.True(t, domain.Zero.Equal(at.Drift()))
}
