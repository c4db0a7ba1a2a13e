package engine_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polyedge/internal/application/engine"
	"github.com/alejandrodnm/polyedge/internal/domain"
	"github.com/alejandrodnm/polyedge/internal/paper"
)

func newMarkets(ms ...domain.Market) *fakeMarkets {
	f := &fakeMarkets{
		markets: ms,
		books:   make(map[string]domain.OrderBook),
		mids:    make(map[string]decimal.Decimal),
		extra:   make(map[string]domain.Market),
	}
	for _, m := range ms {
		for _, tok := range m.Tokens {
			p := tok.Price
			f.books[tok.TokenID] = book(tok.TokenID, p.Sub(d("0.01")).String(), p.Add(d("0.01")).String())
		}
	}
	return f
}

func buySignal(m domain.Market, size float64) domain.Signal {
	yes, _ := m.YesToken()
	return domain.Signal{
		MarketID:      m.ID,
		TokenID:       yes.TokenID,
		Side:          domain.Buy,
		ModelProb:     0.55,
		MarketProb:    domain.Float(yes.Price),
		Edge:          0.15,
		Confidence:    0.7,
		SuggestedSize: size,
		Reason:        "test",
	}
}

func TestExecutor_PaperBuyRecordsState(t *testing.T) {
	m := binary("m1", "0.40")
	src := newMarkets(m)
	pt := newPaper(t)
	st := engine.NewBotState(nil)
	ex, err := engine.NewExecutor(engine.ModePaper, engine.DefaultRiskConfig(), st, engine.ExecutorDeps{Books: src, Paper: pt})
	require.NoError(t, err)

	res, err := ex.Execute(context.Background(), m, buySignal(m, 0.04375), d("1000"))
	require.NoError(t, err)

	assert.False(t, res.Simulated)
	assert.Equal(t, paper.Yes, res.Outcome)
	assert.True(t, res.SizeUSD.Equal(d("43.75")), res.SizeUSD.String())
	assert.Equal(t, "m1-yes", res.Trade.TokenID)
	assert.Equal(t, domain.Buy, res.Trade.Side)
	assert.True(t, res.Trade.Fee.IsZero())
	assert.True(t, pt.Balance().Equal(d("956.25")), pt.Balance().String())
	assert.True(t, st.Holds("m1-yes"))
	assert.True(t, st.Exposure().Equal(d("43.75")), st.Exposure().String())
	assert.NotEmpty(t, res.Decision.Children)
}

func TestExecutor_SellSignalBuysComplement(t *testing.T) {
	m := binary("m1", "0.40")
	pt := newPaper(t)
	st := engine.NewBotState(nil)
	ex, err := engine.NewExecutor(engine.ModePaper, engine.DefaultRiskConfig(), st, engine.ExecutorDeps{Books: newMarkets(m), Paper: pt})
	require.NoError(t, err)

	sig := buySignal(m, 0.03)
	sig.Side = domain.Sell
	sig.ModelProb, sig.Edge = 0.25, -0.15

	res, err := ex.Execute(context.Background(), m, sig, d("1000"))
	require.NoError(t, err)
	assert.Equal(t, paper.No, res.Outcome)
	assert.Equal(t, "m1-no", res.Trade.TokenID)
	assert.True(t, res.Trade.Price.Equal(d("0.60")), res.Trade.Price.String())
	assert.True(t, st.Holds("m1-no"))
	assert.False(t, st.Holds("m1-yes"))
}

func TestExecutor_DryRunDoesNotTouchState(t *testing.T) {
	m := binary("m1", "0.40")
	st := engine.NewBotState(nil)
	ex, err := engine.NewExecutor(engine.ModeDryRun, engine.DefaultRiskConfig(), st, engine.ExecutorDeps{Books: newMarkets(m)})
	require.NoError(t, err)

	res, err := ex.Execute(context.Background(), m, buySignal(m, 0.04), d("1000"))
	require.NoError(t, err)
	assert.True(t, res.Simulated)
	assert.Equal(t, "dry-run", res.Trade.OrderID)
	assert.Empty(t, st.Holdings())
	assert.Equal(t, 0, st.Snapshot().TradesHour)
}

func TestExecutor_RiskRejection(t *testing.T) {
	m := binary("m1", "0.40")
	st := engine.NewBotState(nil)
	st.Pause()
	ex, err := engine.NewExecutor(engine.ModeDryRun, engine.DefaultRiskConfig(), st, engine.ExecutorDeps{Books: newMarkets(m)})
	require.NoError(t, err)

	_, err = ex.Execute(context.Background(), m, buySignal(m, 0.04), d("1000"))
	require.Error(t, err)
	assert.Equal(t, domain.KindRiskLimit, domain.KindOf(err))
}

func TestExecutor_EmptyAsks(t *testing.T) {
	m := binary("m1", "0.40")
	src := newMarkets(m)
	src.books["m1-yes"] = domain.OrderBook{
		TokenID: "m1-yes",
		Bids:    []domain.BookLevel{{Price: d("0.39"), Quantity: d("100")}},
	}
	ex, err := engine.NewExecutor(engine.ModeDryRun, engine.DefaultRiskConfig(), engine.NewBotState(nil), engine.ExecutorDeps{Books: src})
	require.NoError(t, err)

	_, err = ex.Execute(context.Background(), m, buySignal(m, 0.04), d("1000"))
	require.ErrorIs(t, err, domain.ErrEmptyBook)
	assert.Equal(t, domain.KindExecution, domain.KindOf(err))
}

func TestExecutor_ZeroSize(t *testing.T) {
	m := binary("m1", "0.40")
	ex, err := engine.NewExecutor(engine.ModeDryRun, engine.DefaultRiskConfig(), engine.NewBotState(nil), engine.ExecutorDeps{Books: newMarkets(m)})
	require.NoError(t, err)

	_, err = ex.Execute(context.Background(), m, buySignal(m, 0.000001), d("1000"))
	assert.ErrorIs(t, err, domain.ErrZeroSize)
}

func TestNewExecutor_ModeRequirements(t *testing.T) {
	src := newMarkets()
	st := engine.NewBotState(nil)

	_, err := engine.NewExecutor(engine.ModeLive, engine.DefaultRiskConfig(), st, engine.ExecutorDeps{Books: src})
	require.ErrorIs(t, err, domain.ErrNoCredentials)
	assert.Equal(t, domain.KindConfig, domain.KindOf(err))

	_, err = engine.NewExecutor(engine.ModePaper, engine.DefaultRiskConfig(), st, engine.ExecutorDeps{Books: src})
	assert.Equal(t, domain.KindConfig, domain.KindOf(err))

	ex, err := engine.NewExecutor(engine.ModeDryRun, engine.DefaultRiskConfig(), st, engine.ExecutorDeps{Books: src})
	require.NoError(t, err)
	assert.Equal(t, "dry_run", ex.Mode().String())
	assert.NotNil(t, ex.Tracker())
}
