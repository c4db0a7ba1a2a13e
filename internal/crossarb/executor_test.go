package crossarb_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polyedge/internal/crossarb"
	"github.com/alejandrodnm/polyedge/internal/domain"
)

func opp(up, down string, end time.Time) crossarb.Opportunity {
	u, dn := d(up), d(down)
	total := u.Add(dn)
	return crossarb.Opportunity{
		Symbol:      "BTC",
		Slug:        "btc-updown-15m-1",
		ConditionID: "cond-1",
		UpTokenID:   "up",
		DownTokenID: "down",
		UpPrice:     u,
		DownPrice:   dn,
		TotalCost:   total,
		Spread:      domain.One.Sub(total),
		EndTime:     end,
	}
}

func TestPaperExecutor_EnterAndSettle(t *testing.T) {
	ctx := context.Background()
	end := time.Now().Add(5 * time.Minute)
	stats := crossarb.NewTracker()
	ex := crossarb.NewPaperExecutor(d("1000"), stats)

	e, err := ex.Enter(ctx, opp("0.45", "0.53", end), d("100"))
	require.NoError(t, err)
	assert.InDelta(t, 102.0408, domain.Float(e.Pairs), 1e-4)
	assert.True(t, ex.Balance().Equal(d("900")))
	assert.True(t, ex.PnL().IsZero())

	// antes del cierre no se liquida nada
	done, err := ex.Settle(ctx, end.Add(-time.Second))
	require.NoError(t, err)
	assert.Empty(t, done)
	assert.Len(t, ex.Open(), 1)

	done, err = ex.Settle(ctx, end)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.InDelta(t, 2.0408, domain.Float(done[0].Profit), 1e-4)
	assert.InDelta(t, 1002.0408, domain.Float(ex.Balance()), 1e-4)
	assert.InDelta(t, 2.0408, domain.Float(ex.PnL()), 1e-4)
	assert.Empty(t, ex.Open())
	assert.Len(t, ex.History(), 1)

	st := stats.Snapshot()
	assert.Equal(t, 1, st.Executed)
	assert.Equal(t, 1, st.Wins)
	assert.InDelta(t, 100.0, domain.Float(st.WinRate()), 1e-9)
	assert.InDelta(t, 2.0408, domain.Float(st.ROI()), 1e-4)
}

func TestPaperExecutor_Rejects(t *testing.T) {
	ctx := context.Background()
	ex := crossarb.NewPaperExecutor(d("50"), nil)
	o := opp("0.45", "0.53", time.Now().Add(time.Minute))

	_, err := ex.Enter(ctx, o, d("100"))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	_, err = ex.Enter(ctx, o, domain.Zero)
	assert.ErrorIs(t, err, domain.ErrZeroSize)
	assert.True(t, ex.Balance().Equal(d("50")))
}

// --- live ---

type mockVenue struct {
	balance  decimal.Decimal
	failNext int // la orden número N (1-based) falla
	placed   []domain.Order
	status   map[string]domain.OrderStatus
	canceled []string
}

func (v *mockVenue) Health(context.Context) bool { return true }
func (v *mockVenue) Balance(context.Context) (decimal.Decimal, error) {
	return v.balance, nil
}

func (v *mockVenue) PlaceOrder(_ context.Context, o domain.Order) (domain.OrderStatus, error) {
	v.placed = append(v.placed, o)
	if len(v.placed) == v.failNext {
		return domain.OrderStatus{}, errors.New("rejected")
	}
	st := domain.OrderStatus{OrderID: o.TokenID + "-order", TokenID: o.TokenID, State: domain.OrderOpen, RemainingSize: o.Size}
	v.status[st.OrderID] = st
	return st, nil
}

func (v *mockVenue) CancelOrder(_ context.Context, id string) error {
	v.canceled = append(v.canceled, id)
	return nil
}

func (v *mockVenue) GetOrder(_ context.Context, id string) (domain.OrderStatus, error) {
	st, ok := v.status[id]
	if !ok {
		return domain.OrderStatus{}, errors.New("unknown order")
	}
	return st, nil
}

func (v *mockVenue) ListOpenOrders(context.Context) ([]domain.OrderStatus, error) { return nil, nil }
func (v *mockVenue) Positions(context.Context) ([]domain.Position, error)         { return nil, nil }

func (v *mockVenue) fill(id string, size decimal.Decimal) {
	st := v.status[id]
	st.FilledSize = size
	st.State = domain.OrderFilled
	v.status[id] = st
}

type mockMerge struct {
	calls  int
	amount decimal.Decimal
}

func (m *mockMerge) MergePositions(_ context.Context, cond string, amount decimal.Decimal, _ bool) (domain.MergeResult, error) {
	m.calls++
	m.amount = amount
	return domain.MergeResult{ConditionID: cond, TxHash: "0xabc", USDCReceived: amount, Success: true}, nil
}

func TestLiveExecutor_MergesFilledPair(t *testing.T) {
	ctx := context.Background()
	venue := &mockVenue{balance: d("500"), status: map[string]domain.OrderStatus{}}
	merge := &mockMerge{}
	ex := crossarb.NewLiveExecutor(venue, merge, nil)
	end := time.Now().Add(5 * time.Minute)

	e, err := ex.Enter(ctx, opp("0.45", "0.53", end), d("100"))
	require.NoError(t, err)
	require.Len(t, venue.placed, 2)
	assert.True(t, e.Pairs.Equal(d("102.04")))
	assert.True(t, venue.placed[0].Size.Equal(venue.placed[1].Size))
	assert.Equal(t, domain.Buy, venue.placed[1].Side)

	// sin fills y antes del cierre queda pendiente
	done, err := ex.Settle(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, done)

	venue.fill(e.UpOrderID, e.Pairs)
	venue.fill(e.DownOrderID, e.Pairs)
	done, err = ex.Settle(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.True(t, done[0].Merged)
	assert.Equal(t, "0xabc", done[0].TxHash)
	assert.Equal(t, 1, merge.calls)
	assert.True(t, merge.amount.Equal(d("102.04")))
	assert.True(t, done[0].Profit.IsPositive())
}

func TestLiveExecutor_CancelsFirstLegOnFailure(t *testing.T) {
	venue := &mockVenue{balance: d("500"), failNext: 2, status: map[string]domain.OrderStatus{}}
	ex := crossarb.NewLiveExecutor(venue, nil, nil)

	_, err := ex.Enter(context.Background(), opp("0.45", "0.53", time.Now().Add(time.Minute)), d("100"))
	require.Error(t, err)
	assert.Equal(t, []string{"up-order"}, venue.canceled)
}

func TestLiveExecutor_InsufficientBalance(t *testing.T) {
	venue := &mockVenue{balance: d("10"), status: map[string]domain.OrderStatus{}}
	ex := crossarb.NewLiveExecutor(venue, nil, nil)

	_, err := ex.Enter(context.Background(), opp("0.45", "0.53", time.Now().Add(time.Minute)), d("100"))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Empty(t, venue.placed)
}

func TestLiveExecutor_PartialAtCloseCancelsRest(t *testing.T) {
	ctx := context.Background()
	venue := &mockVenue{balance: d("500"), status: map[string]domain.OrderStatus{}}
	ex := crossarb.NewLiveExecutor(venue, nil, nil)
	end := time.Now().Add(time.Minute)

	e, err := ex.Enter(ctx, opp("0.45", "0.53", end), d("98"))
	require.NoError(t, err)
	venue.fill(e.UpOrderID, e.Pairs)

	done, err := ex.Settle(ctx, end.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, []string{e.DownOrderID}, venue.canceled)
	// solo se ejecutó el lado up: cero pares cubiertos, se pierde lo invertido
	assert.True(t, done[0].Returned.IsZero())
	assert.True(t, done[0].Invested.Equal(d("45")))
}
