package binance

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// envelope es el wrapper de los combined streams: {"stream": "...", "data": {...}}.
type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// tradeEvent es el payload de <symbol>@trade.
type tradeEvent struct {
	EventType    string `json:"e"`
	Symbol       string `json:"s"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	BuyerIsMaker bool   `json:"m"`
}

// miniTickerEvent es el payload de <symbol>@miniTicker.
type miniTickerEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Close     string `json:"c"`
}

// unwrap acepta mensajes con o sin envelope.
func unwrap(msg []byte) json.RawMessage {
	var env envelope
	if err := json.Unmarshal(msg, &env); err == nil && len(env.Data) > 0 {
		return env.Data
	}
	return msg
}

func parseTrade(msg []byte) (domain.TradeTick, bool, error) {
	var ev tradeEvent
	if err := json.Unmarshal(unwrap(msg), &ev); err != nil {
		return domain.TradeTick{}, false, fmt.Errorf("binance.parseTrade: %w", err)
	}
	if ev.EventType != "trade" {
		return domain.TradeTick{}, false, nil
	}
	price, err := decimal.NewFromString(ev.Price)
	if err != nil {
		return domain.TradeTick{}, false, fmt.Errorf("binance.parseTrade: price %q: %w", ev.Price, err)
	}
	qty, err := decimal.NewFromString(ev.Quantity)
	if err != nil {
		return domain.TradeTick{}, false, fmt.Errorf("binance.parseTrade: qty %q: %w", ev.Quantity, err)
	}
	// si el comprador es maker el agresor vendió
	side := domain.Buy
	if ev.BuyerIsMaker {
		side = domain.Sell
	}
	return domain.TradeTick{
		Symbol:    strings.ToUpper(ev.Symbol),
		Price:     price,
		Quantity:  qty,
		Side:      side,
		Timestamp: time.UnixMilli(ev.TradeTime).UTC(),
	}, true, nil
}

func parseTicker(msg []byte) (domain.PriceTick, bool, error) {
	var ev miniTickerEvent
	if err := json.Unmarshal(unwrap(msg), &ev); err != nil {
		return domain.PriceTick{}, false, fmt.Errorf("binance.parseTicker: %w", err)
	}
	if ev.EventType != "24hrMiniTicker" {
		return domain.PriceTick{}, false, nil
	}
	price, err := decimal.NewFromString(ev.Close)
	if err != nil {
		return domain.PriceTick{}, false, fmt.Errorf("binance.parseTicker: close %q: %w", ev.Close, err)
	}
	return domain.PriceTick{
		Symbol:    strings.ToUpper(ev.Symbol),
		Price:     price,
		Timestamp: time.UnixMilli(ev.EventTime).UTC(),
	}, true, nil
}
