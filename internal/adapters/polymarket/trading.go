package polymarket

// trading.go: ejecución real contra el CLOB de Polymarket.
//
// TradingClient implementa ports.OrderVenue sobre AuthClient (L1/L2). El
// balance se lee on-chain si hay RPC; si no, del endpoint balance-allowance.

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// clobOrderRequest es el body de POST /order.
type clobOrderRequest struct {
	Order     clobOrderBody `json:"order"`
	Owner     string        `json:"owner"`
	OrderType string        `json:"orderType"`
}

type clobOrderBody struct {
	Salt          json.Number `json:"salt"`
	Maker         string      `json:"maker"`
	Signer        string      `json:"signer"`
	Taker         string      `json:"taker"`
	TokenID       string      `json:"tokenId"`
	MakerAmount   string      `json:"makerAmount"`
	TakerAmount   string      `json:"takerAmount"`
	Expiration    string      `json:"expiration"`
	Nonce         string      `json:"nonce"`
	FeeRateBps    string      `json:"feeRateBps"`
	Side          string      `json:"side"`
	SignatureType int         `json:"signatureType"`
	Signature     string      `json:"signature"`
}

type clobOrderResponse struct {
	ErrorMsg     string `json:"errorMsg"`
	OrderID      string `json:"orderID"`
	TakingAmount string `json:"takingAmount"`
	MakingAmount string `json:"makingAmount"`
	Status       string `json:"status"`
	Success      bool   `json:"success"`
}

// clobOrder es una orden de GET /data/order/{id} y /data/orders.
type clobOrder struct {
	ID           string      `json:"id"`
	AssetID      string      `json:"asset_id"`
	Market       string      `json:"market"`
	Side         string      `json:"side"`
	OriginalSize string      `json:"original_size"`
	SizeMatched  string      `json:"size_matched"`
	Price        string      `json:"price"`
	Status       string      `json:"status"`
	CreatedAt    json.Number `json:"created_at"`
}

type clobOrdersResponse struct {
	Data       []clobOrder `json:"data"`
	NextCursor string      `json:"next_cursor"`
}

type clobBalanceResponse struct {
	Balance string `json:"balance"`
}

const usdcEAddress = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"

var erc20BalanceABI abi.ABI

func init() {
	var err error
	erc20BalanceABI, err = abi.JSON(strings.NewReader(`[{
		"name":"balanceOf","type":"function",
		"inputs":[{"name":"account","type":"address"}],
		"outputs":[{"name":"","type":"uint256"}]
	}]`))
	if err != nil {
		panic("balanceOf abi: " + err.Error())
	}
}

// ContractCaller es el subconjunto de ethclient que usa TradingClient.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// TradingClient implementa ports.OrderVenue.
type TradingClient struct {
	auth *AuthClient
	rpc  ContractCaller
}

// NewTradingClient crea un TradingClient. rpcURL vacío lee el balance del CLOB.
func NewTradingClient(auth *AuthClient, rpcURL string) (*TradingClient, error) {
	tc := &TradingClient{auth: auth}
	if rpcURL != "" {
		rpc, err := ethclient.Dial(rpcURL)
		if err != nil {
			return nil, domain.Errorf(domain.KindNetwork, "polymarket.NewTradingClient", "dial rpc: %w", err)
		}
		tc.rpc = rpc
	}
	return tc, nil
}

// NewTradingClientWithCaller usa un ContractCaller ya construido.
func NewTradingClientWithCaller(auth *AuthClient, rpc ContractCaller) *TradingClient {
	return &TradingClient{auth: auth, rpc: rpc}
}

// Health devuelve true si el CLOB responde.
func (tc *TradingClient) Health(ctx context.Context) bool {
	var ts json.Number
	if err := tc.auth.get(ctx, tc.auth.clobLimiter, tc.auth.clobBase+"/time", &ts); err != nil {
		slog.Warn("clob health check failed", "err", err)
		return false
	}
	return true
}

// Balance devuelve el USDC.e disponible de la wallet.
func (tc *TradingClient) Balance(ctx context.Context) (decimal.Decimal, error) {
	if tc.rpc != nil {
		return tc.onchainBalance(ctx)
	}
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return domain.Zero, err
	}
	var resp clobBalanceResponse
	if err := tc.auth.doL2(ctx, http.MethodGet, "/balance-allowance?asset_type=COLLATERAL&signature_type=0", nil, &resp); err != nil {
		return domain.Zero, fmt.Errorf("trading.Balance: %w", err)
	}
	return parseUSDC(resp.Balance), nil
}

func (tc *TradingClient) onchainBalance(ctx context.Context) (decimal.Decimal, error) {
	const op = "trading.Balance"
	callData, err := erc20BalanceABI.Pack("balanceOf", tc.auth.address)
	if err != nil {
		return domain.Zero, domain.Errorf(domain.KindInternal, op, "pack: %w", err)
	}
	token := common.HexToAddress(usdcEAddress)
	result, err := tc.rpc.CallContract(ctx, ethereum.CallMsg{To: &token, Data: callData}, nil)
	if err != nil {
		return domain.Zero, domain.Errorf(domain.KindNetwork, op, "rpc call: %w", err)
	}
	vals, err := erc20BalanceABI.Unpack("balanceOf", result)
	if err != nil || len(vals) == 0 {
		return domain.Zero, domain.Errorf(domain.KindNetwork, op, "unpack: %v", err)
	}
	raw, ok := vals[0].(*big.Int)
	if !ok {
		return domain.Zero, domain.Errorf(domain.KindNetwork, op, "unexpected type %T", vals[0])
	}
	return decimal.NewFromBigInt(raw, -amountDecimals), nil
}

// PlaceOrder firma y envía una orden al CLOB.
func (tc *TradingClient) PlaceOrder(ctx context.Context, o domain.Order) (domain.OrderStatus, error) {
	const op = "trading.PlaceOrder"
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return domain.OrderStatus{}, err
	}

	signed, err := tc.auth.buildSignedOrder(o)
	if err != nil {
		return domain.OrderStatus{}, err
	}

	body := clobOrderRequest{
		Order: clobOrderBody{
			Salt:          json.Number(signed.Order.Salt.String()),
			Maker:         signed.Order.Maker.Hex(),
			Signer:        signed.Order.Signer.Hex(),
			Taker:         signed.Order.Taker.Hex(),
			TokenID:       o.TokenID,
			MakerAmount:   signed.Order.MakerAmount.String(),
			TakerAmount:   signed.Order.TakerAmount.String(),
			Expiration:    signed.Order.Expiration.String(),
			Nonce:         signed.Order.Nonce.String(),
			FeeRateBps:    signed.Order.FeeRateBps.String(),
			Side:          o.Side.String(),
			SignatureType: int(signed.Order.SignatureType.Int64()),
			Signature:     "0x" + hex.EncodeToString(signed.Signature),
		},
		Owner:     tc.auth.credentials().APIKey,
		OrderType: clobOrderType(o.Type),
	}

	var resp clobOrderResponse
	if err := tc.auth.doL2(ctx, http.MethodPost, "/order", body, &resp); err != nil {
		return domain.OrderStatus{}, fmt.Errorf("%s: %w", op, err)
	}
	if !resp.Success || resp.ErrorMsg != "" {
		return domain.OrderStatus{
			OrderID: resp.OrderID,
			TokenID: o.TokenID,
			Side:    o.Side,
			State:   domain.OrderRejected,
		}, domain.Errorf(domain.KindExecution, op, "clob rejected order: %s", resp.ErrorMsg)
	}

	st := placedStatus(o, resp)
	st.CreatedAt = tc.auth.now()
	slog.Info("order placed",
		"order_id", st.OrderID,
		"token", o.TokenID,
		"side", o.Side,
		"type", body.OrderType,
		"state", st.State,
		"filled", st.FilledSize,
	)
	return st, nil
}

// clobOrderType traduce el tipo de orden del router al time-in-force del CLOB.
// El CLOB no tiene post-only: se envía como GTC al precio pasivo.
func clobOrderType(t domain.OrderType) string {
	switch t.Kind {
	case domain.TypeMarket:
		return "FOK"
	case domain.TypeIOC, domain.TypeAggressiveLimit:
		return "FAK"
	default:
		return "GTC"
	}
}

// placedStatus interpreta la respuesta de POST /order. En BUY takingAmount
// son shares y makingAmount USDC; en SELL al revés.
func placedStatus(o domain.Order, resp clobOrderResponse) domain.OrderStatus {
	shares, usdc := parseDec(resp.TakingAmount), parseDec(resp.MakingAmount)
	if o.Side == domain.Sell {
		shares, usdc = usdc, shares
	}
	st := domain.OrderStatus{
		OrderID:       resp.OrderID,
		TokenID:       o.TokenID,
		Side:          o.Side,
		State:         orderState(resp.Status, shares, o.Size),
		FilledSize:    shares,
		RemainingSize: decimal.Max(o.Size.Sub(shares), domain.Zero),
		AvgPrice:      domain.Div(usdc, shares),
	}
	if st.State == domain.OrderFilled {
		st.RemainingSize = domain.Zero
	}
	return st
}

// orderState mapea los estados del CLOB (live, matched, delayed, unmatched, canceled).
func orderState(status string, filled, size decimal.Decimal) domain.OrderState {
	switch s := strings.ToLower(status); {
	case strings.Contains(s, "cancel"), strings.Contains(s, "invalid"):
		return domain.OrderCancelled
	case s == "matched":
		if filled.IsPositive() && filled.LessThan(size) {
			return domain.OrderPartial
		}
		return domain.OrderFilled
	case s == "delayed", s == "unmatched":
		return domain.OrderPending
	default:
		if filled.IsPositive() {
			return domain.OrderPartial
		}
		return domain.OrderOpen
	}
}

// CancelOrder cancela una orden por id.
func (tc *TradingClient) CancelOrder(ctx context.Context, orderID string) error {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return err
	}
	body := map[string]string{"orderID": orderID}
	if err := tc.auth.doL2(ctx, http.MethodDelete, "/order", body, nil); err != nil {
		return fmt.Errorf("trading.CancelOrder %s: %w", orderID, err)
	}
	return nil
}

// CancelAll cancela todas las órdenes abiertas de la wallet.
func (tc *TradingClient) CancelAll(ctx context.Context) error {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return err
	}
	if err := tc.auth.doL2(ctx, http.MethodDelete, "/cancel-all", nil, nil); err != nil {
		return fmt.Errorf("trading.CancelAll: %w", err)
	}
	return nil
}

// GetOrder devuelve el estado actual de una orden.
func (tc *TradingClient) GetOrder(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return domain.OrderStatus{}, err
	}
	var o clobOrder
	if err := tc.auth.doL2(ctx, http.MethodGet, "/data/order/"+url.PathEscape(orderID), nil, &o); err != nil {
		if isNotFound(err) {
			return domain.OrderStatus{}, domain.Errorf(domain.KindExecution, "trading.GetOrder", "order %s not found", orderID)
		}
		return domain.OrderStatus{}, fmt.Errorf("trading.GetOrder: %w", err)
	}
	return mapClobOrder(o), nil
}

// ListOpenOrders devuelve las órdenes abiertas o parcialmente llenas.
func (tc *TradingClient) ListOpenOrders(ctx context.Context) ([]domain.OrderStatus, error) {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return nil, err
	}
	var resp clobOrdersResponse
	if err := tc.auth.doL2(ctx, http.MethodGet, "/data/orders", nil, &resp); err != nil {
		return nil, fmt.Errorf("trading.ListOpenOrders: %w", err)
	}
	out := make([]domain.OrderStatus, 0, len(resp.Data))
	for _, o := range resp.Data {
		st := mapClobOrder(o)
		if !st.IsTerminal() {
			out = append(out, st)
		}
	}
	return out, nil
}

// Positions devuelve las posiciones abiertas de la wallet desde la Data API.
func (tc *TradingClient) Positions(ctx context.Context) ([]domain.Position, error) {
	u := fmt.Sprintf("%s/positions?user=%s&sizeThreshold=0.01", tc.auth.dataBase, tc.auth.address.Hex())
	var raw []rawPosition
	if err := tc.auth.get(ctx, tc.auth.dataLimiter, u, &raw); err != nil {
		return nil, fmt.Errorf("trading.Positions: %w", err)
	}
	out := make([]domain.Position, 0, len(raw))
	for _, p := range raw {
		pos := mapPosition(p)
		if pos.Size.IsPositive() && !p.Redeemable {
			out = append(out, pos)
		}
	}
	return out, nil
}

func mapClobOrder(o clobOrder) domain.OrderStatus {
	size, filled := parseDec(o.OriginalSize), parseDec(o.SizeMatched)
	side, err := domain.ParseSide(o.Side)
	if err != nil {
		side = domain.Buy
	}
	return domain.OrderStatus{
		OrderID:       o.ID,
		TokenID:       o.AssetID,
		Side:          side,
		State:         orderState(o.Status, filled, size),
		FilledSize:    filled,
		RemainingSize: decimal.Max(size.Sub(filled), domain.Zero),
		AvgPrice:      parseDec(o.Price),
		CreatedAt:     parseTimestamp(o.CreatedAt.String()),
	}
}
