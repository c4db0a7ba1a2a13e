package filter_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alejandrodnm/polyedge/internal/filter"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func TestDeduplicator_CooldownIsExact(t *testing.T) {
	clk := newClock()
	d := filter.NewDeduplicator(15*time.Minute, 2*time.Minute, clk.Now)

	assert.True(t, d.CanTrade("m1"))
	d.MarkTraded("m1")
	assert.False(t, d.CanTrade("m1"))
	assert.True(t, d.CanTrade("m2"))

	clk.Advance(15*time.Minute - time.Nanosecond)
	assert.False(t, d.CanTrade("m1"))
	clk.Advance(time.Nanosecond)
	assert.True(t, d.CanTrade("m1"))
}

func TestDeduplicator_DynamicCooldown(t *testing.T) {
	clk := newClock()
	d := filter.NewDeduplicator(15*time.Minute, 2*time.Minute, clk.Now)
	d.MarkTraded("btc")
	clk.Advance(3 * time.Minute)
	assert.True(t, d.CanTradeDynamic("btc", true))
	assert.False(t, d.CanTradeDynamic("btc", false))
}

func TestDeduplicator_Cleanup(t *testing.T) {
	clk := newClock()
	d := filter.NewDeduplicator(15*time.Minute, 2*time.Minute, clk.Now)
	d.MarkTraded("old")
	clk.Advance(31 * time.Minute)
	d.MarkTraded("new")
	d.Cleanup()
	assert.Equal(t, 1, d.TradedCount())
}
