package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polyedge/config"
	"github.com/alejandrodnm/polyedge/internal/application/engine"
	"github.com/alejandrodnm/polyedge/internal/portfolio"
	"github.com/alejandrodnm/polyedge/internal/router"
)

func TestParseCommandLine(t *testing.T) {
	tests := []struct {
		line  string
		ok    bool
		kind  engine.CommandKind
		limit int
	}{
		{"/pause", true, engine.CmdPause, 0},
		{"RESUME", true, engine.CmdResume, 0},
		{"markets 5", true, engine.CmdMarkets, 5},
		{"markets x", true, engine.CmdMarkets, 0},
		{"   ", false, 0, 0},
		{"/launch", false, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			cmd, ok := parseCommandLine(tt.line)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.kind, cmd.Kind)
				assert.Equal(t, tt.limit, cmd.Limit)
			}
		})
	}
}

func TestReadCommands_ClosesOnEOF(t *testing.T) {
	ch := readCommands(context.Background(), strings.NewReader("/status\nbogus\n/pnl\n"))
	var got []engine.CommandKind
	for cmd := range ch {
		got = append(got, cmd.Kind)
	}
	assert.Equal(t, []engine.CommandKind{engine.CmdStatus, engine.CmdPnL}, got)
}

func TestEngineConfigFromDefaults(t *testing.T) {
	cfg := config.Default()

	ec, err := engineConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 180*time.Second, ec.ScanInterval)
	assert.True(t, ec.CompoundEnabled)
	assert.Equal(t, portfolio.MinVariance, ec.Portfolio.Method)
	assert.Equal(t, 0.4, ec.Portfolio.Constraints.MaxWeight)
	assert.Equal(t, 10, ec.Risk.MaxTradesPerHour)
	assert.Equal(t, "100", ec.Risk.MinBalanceReserve.String())
	assert.Equal(t, "1000", ec.DryRunBalance.String())

	sor, opt, err := routerConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, router.MinCost, sor.Algorithm)
	assert.Equal(t, 5*time.Second, sor.StaleThreshold)
	assert.Equal(t, 20.0, opt.MaxCrossBps)

	fc := filterConfig(cfg)
	assert.Equal(t, 15*time.Minute, fc.Cooldown)
	assert.Equal(t, 2*time.Minute, fc.ShortCooldown)
	assert.Equal(t, time.Minute, fc.Window.Min)
	assert.Equal(t, 10*time.Minute, fc.Window.Max)

	ac := crossArbConfig(cfg)
	assert.Equal(t, time.Minute, ac.MinRemaining)
	assert.Equal(t, "0.01", ac.MinSpread.String())
}

func TestEngineConfig_BadPortfolioMethod(t *testing.T) {
	cfg := config.Default()
	cfg.Portfolio.Method = "astrology"
	_, err := engineConfig(cfg)
	require.Error(t, err)
}

func TestBuildRunner_DryRun(t *testing.T) {
	cfg := config.Default()
	cfg.Metrics.Addr = ""
	a := newApp(cfg)

	r, err := a.buildRunner(engine.ModeDryRun, nil, nil)
	require.NoError(t, err)
	st := r.Status()
	assert.Equal(t, "dry_run", st.Mode)
	assert.Nil(t, st.Paper)
}
