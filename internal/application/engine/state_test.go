package engine_test

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polyedge/internal/application/engine"
	"github.com/alejandrodnm/polyedge/internal/domain"
)

func d(s string) decimal.Decimal { return domain.MustDec(s) }

// clock es un reloj manual seguro para goroutines.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *clock { return &clock{t: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(dur time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(dur)
	c.mu.Unlock()
}

func TestBotState_HourlyCapResetsAtExactlyOneHour(t *testing.T) {
	clk := newClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	st := engine.NewBotState(clk.Now)

	for i := 0; i < 3; i++ {
		require.True(t, st.AllowTrade(3))
		st.Record(domain.Trade{TokenID: "tok", Side: domain.Buy, Price: d("0.5"), Size: d("10")})
	}
	assert.False(t, st.AllowTrade(3))

	clk.Advance(59*time.Minute + 59*time.Second)
	assert.False(t, st.AllowTrade(3))

	clk.Advance(time.Second)
	assert.True(t, st.AllowTrade(3), "window must reset when exactly one hour elapsed")
	assert.Equal(t, 0, st.Snapshot().TradesHour)
}

func TestBotState_DailyLossPausesOnceAndResumeClears(t *testing.T) {
	st := engine.NewBotState(nil)

	assert.False(t, st.AddPnL(d("-50"), d("100")))
	assert.True(t, st.AddPnL(d("-60"), d("100")))
	assert.True(t, st.Paused())
	assert.True(t, st.Snapshot().LossLimitHit)

	// El flag evita alertas repetidas.
	assert.False(t, st.AddPnL(d("-1"), d("100")))

	st.Resume()
	assert.False(t, st.Paused())
	assert.False(t, st.Snapshot().LossLimitHit)
	assert.True(t, st.DailyPnL().Equal(d("-111")))
}

func TestBotState_DailyPnLRollsWithUTCDay(t *testing.T) {
	clk := newClock(time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC))
	st := engine.NewBotState(clk.Now)
	st.AddPnL(d("12.5"), domain.Zero)
	assert.True(t, st.DailyPnL().Equal(d("12.5")))

	clk.Advance(time.Hour)
	assert.True(t, st.DailyPnL().IsZero())
	assert.Equal(t, "2026-03-02", st.Snapshot().Day)
}

func TestBotState_HoldingsAndExposure(t *testing.T) {
	st := engine.NewBotState(nil)
	st.Record(domain.Trade{TokenID: "a", MarketID: "m1", Side: domain.Buy, Price: d("0.40"), Size: d("100")})
	st.Record(domain.Trade{TokenID: "b", MarketID: "m2", Side: domain.Buy, Price: d("0.50"), Size: d("20")})

	assert.True(t, st.Exposure().Equal(d("50")))
	require.Len(t, st.Holdings(), 2)

	st.Record(domain.Trade{TokenID: "a", Side: domain.Sell, Price: d("0.45"), Size: d("50")})
	assert.True(t, st.Exposure().Equal(d("30")))
	assert.True(t, st.Holds("a"))

	st.Record(domain.Trade{TokenID: "a", Side: domain.Sell, Price: d("0.45"), Size: d("50")})
	assert.False(t, st.Holds("a"))

	st.Close("b")
	assert.Empty(t, st.Holdings())
}

func TestBotState_RestoreCountsForRisk(t *testing.T) {
	st := engine.NewBotState(nil)
	st.Restore(engine.Holding{TokenID: "a", MarketID: "m1", Shares: d("100"), Cost: d("40")})
	st.Restore(engine.Holding{TokenID: "b", MarketID: "m2", Shares: d("0"), Cost: d("5")})

	assert.True(t, st.Holds("a"))
	assert.False(t, st.Holds("b"))
	assert.True(t, st.Exposure().Equal(d("40")))
	assert.Equal(t, 0, st.Snapshot().TradesHour)

	cfg := engine.DefaultRiskConfig()
	cfg.MaxOpenPositions = 1
	err := cfg.Check(st, domain.Signal{TokenID: "new", SuggestedSize: 0.01}, d("10"), d("1000"))
	require.Error(t, err)
	assert.Equal(t, domain.KindRiskLimit, domain.KindOf(err))
}

func TestParseCommand(t *testing.T) {
	k, err := engine.ParseCommand("/resume")
	require.NoError(t, err)
	assert.Equal(t, engine.CmdResume, k)

	k, err = engine.ParseCommand("positions")
	require.NoError(t, err)
	assert.Equal(t, engine.CmdPositions, k)

	_, err = engine.ParseCommand("buy")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRiskConfig_Check(t *testing.T) {
	sig := domain.Signal{TokenID: "new", SuggestedSize: 0.04}
	balance := d("1000")

	tests := []struct {
		name  string
		setup func(*engine.BotState, *engine.RiskConfig)
		size  string
		ok    bool
	}{
		{"within limits", func(*engine.BotState, *engine.RiskConfig) {}, "40", true},
		{"paused", func(s *engine.BotState, _ *engine.RiskConfig) { s.Pause() }, "40", false},
		{"daily loss", func(s *engine.BotState, _ *engine.RiskConfig) { s.AddPnL(d("-101"), domain.Zero) }, "40", false},
		{"position pct", func(_ *engine.BotState, c *engine.RiskConfig) { c.MaxPositionPct = 0.03 }, "40", false},
		{"open positions", func(s *engine.BotState, c *engine.RiskConfig) {
			c.MaxOpenPositions = 1
			s.Record(domain.Trade{TokenID: "x", Side: domain.Buy, Price: d("0.5"), Size: d("10")})
		}, "40", false},
		{"exposure", func(s *engine.BotState, _ *engine.RiskConfig) {
			s.Record(domain.Trade{TokenID: "x", Side: domain.Buy, Price: d("0.5"), Size: d("950")})
		}, "40", false},
		{"reserve", func(_ *engine.BotState, c *engine.RiskConfig) { c.MinBalanceReserve = d("980") }, "40", false},
		{"hourly cap", func(s *engine.BotState, c *engine.RiskConfig) {
			c.MaxTradesPerHour = 1
			s.Record(domain.Trade{TokenID: "x", Side: domain.Buy, Price: d("0.5"), Size: d("1")})
		}, "40", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := engine.NewBotState(nil)
			cfg := engine.DefaultRiskConfig()
			tt.setup(st, &cfg)
			err := cfg.Check(st, sig, d(tt.size), balance)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, domain.KindRiskLimit, domain.KindOf(err))
		})
	}
}

func TestRiskConfig_HeldTokenIgnoresPositionCount(t *testing.T) {
	st := engine.NewBotState(nil)
	st.Record(domain.Trade{TokenID: "held", Side: domain.Buy, Price: d("0.5"), Size: d("10")})
	cfg := engine.DefaultRiskConfig()
	cfg.MaxOpenPositions = 1
	err := cfg.Check(st, domain.Signal{TokenID: "held", SuggestedSize: 0.01}, d("10"), d("1000"))
	assert.NoError(t, err)
}

func TestCircuitBreaker(t *testing.T) {
	clk := newClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	cb := engine.NewCircuitBreaker(2, 30*time.Minute, d("-50"), clk.Now)

	_, fired := cb.Record(d("-5"))
	assert.False(t, fired)
	cb.Record(d("3")) // una ganancia reinicia la racha
	_, fired = cb.Record(d("-5"))
	assert.False(t, fired)
	reason, fired := cb.Record(d("-5"))
	require.True(t, fired)
	assert.Equal(t, "consecutive losses", reason)
	assert.False(t, cb.IsOpen())

	clk.Advance(30 * time.Minute)
	assert.True(t, cb.IsOpen())

	reason, fired = cb.Record(d("-40"))
	require.True(t, fired)
	assert.Equal(t, "max drawdown exceeded", reason)
	clk.Advance(time.Hour)
	assert.False(t, cb.IsOpen(), "drawdown trip is permanent until reset")

	cb.Reset()
	assert.True(t, cb.IsOpen())
}
