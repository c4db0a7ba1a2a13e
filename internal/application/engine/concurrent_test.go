package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

func TestAnalyzeConcurrent_KeepsMarketOrderAndSkipsFailures(t *testing.T) {
	markets := make([]domain.Market, 20)
	for i := range markets {
		markets[i] = domain.Market{ID: fmt.Sprintf("m%02d", i)}
	}

	var calls atomic.Int32
	out := analyzeConcurrent(context.Background(), markets, 4, func(_ context.Context, m domain.Market) (candidate, bool, error) {
		calls.Add(1)
		var n int
		fmt.Sscanf(m.ID, "m%d", &n)
		switch {
		case n%5 == 0:
			return candidate{}, false, errors.New("model down")
		case n%2 == 1:
			return candidate{}, false, nil
		}
		return candidate{market: m, source: "test"}, true, nil
	})

	assert.EqualValues(t, 20, calls.Load())
	ids := make([]string, len(out))
	for i, c := range out {
		ids[i] = c.market.ID
	}
	assert.Equal(t, []string{"m02", "m04", "m06", "m08", "m12", "m14", "m16", "m18"}, ids)
}

func TestAnalyzeConcurrent_EmptyAndCancelled(t *testing.T) {
	assert.Empty(t, analyzeConcurrent(context.Background(), nil, 0, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := analyzeConcurrent(ctx, []domain.Market{{ID: "a"}, {ID: "b"}}, 0, func(context.Context, domain.Market) (candidate, bool, error) {
		return candidate{}, true, nil
	})
	require.Empty(t, out)
}
