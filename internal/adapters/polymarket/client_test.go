package polymarket_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polyedge/internal/adapters/polymarket"
	"github.com/alejandrodnm/polyedge/internal/domain"
)

const gammaMarketsJSON = `[
  {
    "id": "501",
    "conditionId": "0xabc",
    "question": "Will it rain in Madrid tomorrow?",
    "slug": "rain-madrid",
    "endDate": "2026-03-01T12:00:00Z",
    "volume": "150000.5",
    "liquidity": "25000",
    "active": true,
    "closed": false,
    "negRisk": false,
    "outcomes": "[\"Yes\", \"No\"]",
    "outcomePrices": "[\"0.62\", \"0.38\"]",
    "clobTokenIds": "[\"tok-yes\", \"tok-no\"]"
  },
  {
    "id": "502",
    "conditionId": "0xdef",
    "question": "Will BTC close above 100k?",
    "slug": "btc-100k",
    "endDate": "2026-03-02",
    "volume": 900,
    "liquidity": 300,
    "active": true,
    "closed": false,
    "outcomes": "[\"Yes\", \"No\"]",
    "outcomePrices": "[0.1, 0.9]",
    "clobTokenIds": "[\"btc-yes\", \"btc-no\"]"
  },
  {
    "id": "503",
    "conditionId": "0xnotokens",
    "question": "Not tradable",
    "active": true,
    "outcomes": "[\"Yes\", \"No\"]",
    "clobTokenIds": ""
  }
]`

const upDownEventJSON = `[{
  "title": "Bitcoin Up or Down",
  "slug": "btc-updown-15m-1767225600",
  "markets": [{
    "conditionId": "0xupdown",
    "question": "Bitcoin Up or Down - 15m",
    "active": true,
    "closed": false,
    "liquidity": "8000",
    "outcomes": "[\"Up\", \"Down\"]",
    "outcomePrices": "[\"0.48\", \"0.52\"]",
    "clobTokenIds": "[\"up-tok\", \"down-tok\"]"
  }]
}]`

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, body)
}

func TestListMarkets_MapsGammaAndUpDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/markets":
			assert.Equal(t, "true", r.URL.Query().Get("active"))
			assert.Equal(t, "false", r.URL.Query().Get("closed"))
			assert.Equal(t, "volume", r.URL.Query().Get("order"))
			writeJSON(w, gammaMarketsJSON)
		case "/events":
			if strings.HasPrefix(r.URL.Query().Get("slug"), "btc-updown-15m-") {
				writeJSON(w, upDownEventJSON)
				return
			}
			writeJSON(w, `[]`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := polymarket.NewClient(polymarket.Config{GammaBase: srv.URL, UpDownAssets: []string{"btc", "eth"}})
	markets, err := c.ListMarkets(context.Background(), domain.MarketFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, markets, 3)

	m := markets[0]
	assert.Equal(t, "0xabc", m.ID)
	assert.Equal(t, "rain-madrid", m.Slug)
	assert.True(t, m.Volume.Equal(d("150000.5")))
	assert.True(t, m.Liquidity.Equal(d("25000")))
	assert.Equal(t, 2026, m.EndTime.Year())
	yes, ok := m.YesToken()
	require.True(t, ok)
	assert.Equal(t, "tok-yes", yes.TokenID)
	assert.True(t, yes.Price.Equal(d("0.62")))

	// precios numéricos dentro del JSON embebido
	assert.True(t, markets[1].Tokens[1].Price.Equal(d("0.9")))

	up := markets[2]
	assert.Equal(t, "0xupdown", up.ID)
	assert.Equal(t, "btc-updown-15m-1767225600", up.Slug)
	tok, ok := up.TokenByOutcome("down")
	require.True(t, ok)
	assert.Equal(t, "down-tok", tok.TokenID)
}

func TestListMarkets_FilterAndLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, gammaMarketsJSON)
	}))
	defer srv.Close()

	c := polymarket.NewClient(polymarket.Config{GammaBase: srv.URL})
	markets, err := c.ListMarkets(context.Background(), domain.MarketFilter{MinLiquidity: d("1000"), Limit: 5})
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, "0xabc", markets[0].ID)

	markets, err = c.ListMarkets(context.Background(), domain.MarketFilter{Limit: 1, Keyword: "btc"})
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, "0xdef", markets[0].ID)
}

func TestGetMarket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("condition_ids") == "0xabc" {
			writeJSON(w, gammaMarketsJSON)
			return
		}
		writeJSON(w, `[]`)
	}))
	defer srv.Close()

	c := polymarket.NewClient(polymarket.Config{GammaBase: srv.URL})
	m, err := c.GetMarket(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "Will it rain in Madrid tomorrow?", m.Question)

	_, err = c.GetMarket(context.Background(), "0xmissing")
	require.ErrorIs(t, err, domain.ErrMarketNotFound)
	assert.Equal(t, domain.KindMarketNotFound, domain.KindOf(err))
}

func TestGetBook_Normalizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/book", r.URL.Path)
		assert.Equal(t, "tok-yes", r.URL.Query().Get("token_id"))
		writeJSON(w, `{
			"market": "0xabc", "asset_id": "tok-yes", "timestamp": "1767225600000",
			"bids": [{"price": "0.58", "size": "100"}, {"price": "0.60", "size": "50"}, {"price": "0.10", "size": "0"}],
			"asks": [{"price": "0.70", "size": "10"}, {"price": "0.62", "size": "40"}]
		}`)
	}))
	defer srv.Close()

	c := polymarket.NewClient(polymarket.Config{CLOBBase: srv.URL})
	ob, err := c.GetBook(context.Background(), "tok-yes")
	require.NoError(t, err)
	require.Len(t, ob.Bids, 2, "zero-size levels are dropped")
	bid, _ := ob.BestBid()
	ask, _ := ob.BestAsk()
	assert.True(t, bid.Price.Equal(d("0.60")))
	assert.True(t, ask.Price.Equal(d("0.62")))
	mid, ok := ob.Mid()
	require.True(t, ok)
	assert.True(t, mid.Equal(d("0.61")))
	assert.Equal(t, int64(1767225600), ob.Timestamp.Unix())
}

func TestGetMidpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/midpoint", r.URL.Path)
		writeJSON(w, `{"mid": "0.455"}`)
	}))
	defer srv.Close()

	c := polymarket.NewClient(polymarket.Config{CLOBBase: srv.URL})
	mid, err := c.GetMidpoint(context.Background(), "tok")
	require.NoError(t, err)
	assert.True(t, mid.Equal(d("0.455")))
}

func TestFetchOrderBooks_Batches(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		calls.Add(1)
		var req []struct {
			TokenID string `json:"token_id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.LessOrEqual(t, len(req), 20)

		out := make([]map[string]any, len(req))
		for i, tr := range req {
			out[i] = map[string]any{
				"asset_id": tr.TokenID,
				"bids":     []map[string]string{{"price": "0.40", "size": "10"}},
				"asks":     []map[string]string{{"price": "0.45", "size": "10"}},
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	ids := make([]string, 45)
	for i := range ids {
		ids[i] = "tok-" + string(rune('a'+i%26)) + string(rune('a'+i/26))
	}

	c := polymarket.NewClient(polymarket.Config{CLOBBase: srv.URL})
	books, err := c.FetchOrderBooks(context.Background(), ids)
	require.NoError(t, err)
	assert.Len(t, books, 45)
	assert.Equal(t, int32(3), calls.Load())
	spread, ok := books["tok-ab"].Spread()
	require.True(t, ok)
	assert.True(t, spread.Equal(d("0.05")))
}

func TestFetchOrderBooks_Empty(t *testing.T) {
	c := polymarket.NewClient(polymarket.Config{CLOBBase: "http://127.0.0.1:1"})
	books, err := c.FetchOrderBooks(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, books)
}

func TestFetchTrades_SortedAscending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/trades", r.URL.Path)
		assert.Equal(t, "tok-yes", r.URL.Query().Get("asset"))
		writeJSON(w, `[
			{"asset": "tok-yes", "side": "SELL", "price": 0.61, "size": 20, "timestamp": 1767225660},
			{"asset": "tok-yes", "side": "BUY", "price": "0.60", "size": "15", "timestamp": 1767225600},
			{"asset": "tok-yes", "side": "???", "price": 0.5, "size": 1, "timestamp": 1767225500}
		]`)
	}))
	defer srv.Close()

	c := polymarket.NewClient(polymarket.Config{DataBase: srv.URL})
	ticks, err := c.FetchTrades(context.Background(), "tok-yes")
	require.NoError(t, err)
	require.Len(t, ticks, 2)
	assert.Equal(t, domain.Buy, ticks[0].Side)
	assert.True(t, ticks[0].Price.Equal(d("0.60")))
	assert.Equal(t, domain.Sell, ticks[1].Side)
	assert.True(t, ticks[1].Quantity.Equal(d("20")))
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, `{"mid": "0.5"}`)
	}))
	defer srv.Close()

	c := polymarket.NewClient(polymarket.Config{CLOBBase: srv.URL})
	mid, err := c.GetMidpoint(context.Background(), "tok")
	require.NoError(t, err)
	assert.True(t, mid.Equal(d("0.5")))
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_ClientErrorIsAPIKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := polymarket.NewClient(polymarket.Config{CLOBBase: srv.URL})
	_, err := c.GetMidpoint(context.Background(), "tok")
	require.Error(t, err)
	assert.Equal(t, domain.KindAPI, domain.KindOf(err))
	assert.Contains(t, err.Error(), "400")
}

func TestUpDownSlug(t *testing.T) {
	assert.Equal(t, "eth-updown-15m-1767225600", polymarket.UpDownSlug("ETH", 1767225600))
}
