package polymarket

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// Clave de ejemplo pública, sin fondos.
const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestOrderAmounts(t *testing.T) {
	maker, taker, err := orderAmounts(domain.Buy, dec("0.55"), dec("10.129"))
	require.NoError(t, err)
	assert.Equal(t, "5566000", maker.String())
	assert.Equal(t, "10120000", taker.String())

	maker, taker, err = orderAmounts(domain.Sell, dec("0.55"), dec("10.129"))
	require.NoError(t, err)
	assert.Equal(t, "10120000", maker.String())
	assert.Equal(t, "5566000", taker.String())

	_, _, err = orderAmounts(domain.Buy, dec("1"), dec("10"))
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)
	_, _, err = orderAmounts(domain.Buy, dec("0.5"), dec("0.001"))
	assert.ErrorIs(t, err, domain.ErrZeroSize)
}

func TestNewAuthClient_Errors(t *testing.T) {
	_, err := NewAuthClient(Config{}, "")
	require.ErrorIs(t, err, domain.ErrNoCredentials)
	assert.Equal(t, domain.KindConfig, domain.KindOf(err))

	_, err = NewAuthClient(Config{}, "zz")
	assert.Equal(t, domain.KindAuth, domain.KindOf(err))
}

func TestHMACSignature(t *testing.T) {
	secret := base64.URLEncoding.EncodeToString([]byte("top-secret"))
	a, err := hmacSignature(secret, "1700000000GET/data/orders")
	require.NoError(t, err)
	b, err := hmacSignature(secret, "1700000000GET/data/orders")
	require.NoError(t, err)
	c, err := hmacSignature(secret, "1700000001GET/data/orders")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	_, err = hmacSignature("!!not base64!!", "x")
	assert.Error(t, err)
}

func TestL2HeadersRequireCreds(t *testing.T) {
	ac, err := NewAuthClient(Config{}, testKey)
	require.NoError(t, err)
	_, err = ac.l2Headers(http.MethodGet, "/data/orders", "")
	assert.ErrorIs(t, err, domain.ErrNoCredentials)
}

// clobServer simula derive-api-key y los endpoints L2 que usa TradingClient.
func clobServer(t *testing.T, onOrder func(body map[string]any) string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/auth/derive-api-key":
			assert.NotEmpty(t, r.Header.Get("POLY_ADDRESS"))
			assert.NotEmpty(t, r.Header.Get("POLY_SIGNATURE"))
			_ = json.NewEncoder(w).Encode(map[string]string{
				"apiKey":     "key-1",
				"secret":     base64.URLEncoding.EncodeToString([]byte("secret")),
				"passphrase": "pass",
			})
		case r.URL.Path == "/order" && r.Method == http.MethodPost:
			assert.Equal(t, "key-1", r.Header.Get("POLY_API_KEY"))
			assert.NotEmpty(t, r.Header.Get("POLY_SIGNATURE"))
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			_, _ = w.Write([]byte(onOrder(body)))
		case r.URL.Path == "/data/orders":
			_, _ = w.Write([]byte(`{"data": [
				{"id": "o1", "asset_id": "tok", "side": "BUY", "original_size": "100", "size_matched": "40", "price": "0.5", "status": "live", "created_at": 1767225600},
				{"id": "o2", "asset_id": "tok", "side": "SELL", "original_size": "10", "size_matched": "0", "price": "0.6", "status": "canceled", "created_at": 1767225600}
			], "next_cursor": "LTE="}`))
		case r.URL.Path == "/time":
			_, _ = w.Write([]byte(`1767225600`))
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestTradingClient_PlaceMarketOrder(t *testing.T) {
	var sent map[string]any
	srv := clobServer(t, func(body map[string]any) string {
		sent = body
		return `{"success": true, "orderID": "0xorder", "status": "matched", "takingAmount": "10", "makingAmount": "5.5"}`
	})
	defer srv.Close()

	ac, err := NewAuthClient(Config{CLOBBase: srv.URL}, testKey)
	require.NoError(t, err)
	tc := NewTradingClientWithCaller(ac, nil)
	require.True(t, tc.Health(context.Background()))

	st, err := tc.PlaceOrder(context.Background(), domain.Order{
		TokenID: "123456",
		Side:    domain.Buy,
		Price:   dec("0.55"),
		Size:    dec("10"),
		Type:    domain.MarketOrder(),
	})
	require.NoError(t, err)
	assert.Equal(t, "0xorder", st.OrderID)
	assert.Equal(t, domain.OrderFilled, st.State)
	assert.True(t, st.FilledSize.Equal(dec("10")))
	assert.True(t, st.AvgPrice.Equal(dec("0.55")))
	assert.True(t, st.RemainingSize.IsZero())

	require.NotNil(t, sent)
	assert.Equal(t, "FOK", sent["orderType"])
	assert.Equal(t, "key-1", sent["owner"])
	order := sent["order"].(map[string]any)
	assert.Equal(t, "BUY", order["side"])
	assert.Equal(t, "5500000", order["makerAmount"])
	assert.Equal(t, "10000000", order["takerAmount"])
	assert.Equal(t, ac.Address(), order["maker"])
}

func TestTradingClient_RejectedOrder(t *testing.T) {
	srv := clobServer(t, func(map[string]any) string {
		return `{"success": false, "errorMsg": "not enough balance / allowance"}`
	})
	defer srv.Close()

	ac, err := NewAuthClient(Config{CLOBBase: srv.URL}, testKey)
	require.NoError(t, err)
	tc := NewTradingClientWithCaller(ac, nil)

	st, err := tc.PlaceOrder(context.Background(), domain.Order{
		TokenID: "123456", Side: domain.Sell, Price: dec("0.40"), Size: dec("5"), Type: domain.LimitOrder(dec("0.40")),
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindExecution, domain.KindOf(err))
	assert.Equal(t, domain.OrderRejected, st.State)
}

func TestTradingClient_ListOpenOrders(t *testing.T) {
	srv := clobServer(t, nil)
	defer srv.Close()

	ac, err := NewAuthClient(Config{CLOBBase: srv.URL}, testKey)
	require.NoError(t, err)
	orders, err := NewTradingClientWithCaller(ac, nil).ListOpenOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "o1", orders[0].OrderID)
	assert.Equal(t, domain.OrderPartial, orders[0].State)
	assert.True(t, orders[0].RemainingSize.Equal(dec("60")))
}

type fakeCaller struct {
	out []byte
	to  string
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.to = msg.To.Hex()
	return f.out, nil
}

func TestTradingClient_OnchainBalance(t *testing.T) {
	out, err := erc20BalanceABI.Methods["balanceOf"].Outputs.Pack(big.NewInt(1_234_567_890))
	require.NoError(t, err)
	caller := &fakeCaller{out: out}

	ac, err := NewAuthClient(Config{}, testKey)
	require.NoError(t, err)
	bal, err := NewTradingClientWithCaller(ac, caller).Balance(context.Background())
	require.NoError(t, err)
	assert.True(t, bal.Equal(dec("1234.56789")), bal.String())
	assert.Equal(t, usdcEAddress, caller.to)
}

func TestTradingClient_Positions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/positions", r.URL.Path)
		assert.NotEmpty(t, r.URL.Query().Get("user"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"asset": "tok-a", "conditionId": "0xa", "size": 100, "avgPrice": 0.4, "curPrice": 0.5, "outcome": "Yes"},
			{"asset": "tok-b", "conditionId": "0xb", "size": 50, "avgPrice": 0.3, "curPrice": 1, "redeemable": true}
		]`))
	}))
	defer srv.Close()

	ac, err := NewAuthClient(Config{DataBase: srv.URL}, testKey)
	require.NoError(t, err)
	pos, err := NewTradingClientWithCaller(ac, nil).Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, pos, 1)
	assert.Equal(t, "tok-a", pos[0].TokenID)
	assert.True(t, pos[0].UnrealizedPnL.Equal(dec("10")), pos[0].UnrealizedPnL.String())
}

func TestOrderStateMapping(t *testing.T) {
	assert.Equal(t, domain.OrderFilled, orderState("matched", dec("10"), dec("10")))
	assert.Equal(t, domain.OrderPartial, orderState("MATCHED", dec("4"), dec("10")))
	assert.Equal(t, domain.OrderOpen, orderState("live", domain.Zero, dec("10")))
	assert.Equal(t, domain.OrderPending, orderState("delayed", domain.Zero, dec("10")))
	assert.Equal(t, domain.OrderCancelled, orderState("CANCELED", domain.Zero, dec("10")))

	assert.Equal(t, "FOK", clobOrderType(domain.MarketOrder()))
	assert.Equal(t, "FAK", clobOrderType(domain.IOCOrder(dec("0.5"))))
	assert.Equal(t, "GTC", clobOrderType(domain.PostOnlyOrder(dec("0.5"))))
}
