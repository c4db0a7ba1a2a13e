// Package binance implementa los feeds de precios y trades spot de Binance
// sobre WebSocket (combined streams).
package binance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alejandrodnm/polyedge/internal/domain"
	"github.com/alejandrodnm/polyedge/internal/ports"
)

// Config parametriza el cliente.
type Config struct {
	URL            string // wss://stream.binance.com:9443/ws
	Symbols        []string
	ReconnectDelay time.Duration
	BufferSize     int
	ReadTimeout    time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:            "wss://stream.binance.com:9443/ws",
		Symbols:        []string{"btcusdt", "ethusdt", "solusdt"},
		ReconnectDelay: 5 * time.Second,
		BufferSize:     1024,
		ReadTimeout:    30 * time.Second,
	}
}

// StreamClient implementa ports.PriceStream y ports.TradeStream.
// Cada suscripción abre su propia conexión y reconecta indefinidamente.
type StreamClient struct {
	cfg    Config
	dialer websocket.Dialer

	// OnReconnect se invoca tras cada desconexión (métricas). Puede ser nil.
	OnReconnect func(stream string)
}

var (
	_ ports.PriceStream = (*StreamClient)(nil)
	_ ports.TradeStream = (*StreamClient)(nil)
)

// NewStreamClient crea el cliente.
func NewStreamClient(cfg Config) *StreamClient {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	return &StreamClient{
		cfg:    cfg,
		dialer: websocket.Dialer{HandshakeTimeout: 15 * time.Second},
	}
}

// Trades se suscribe a <symbol>@trade de todos los símbolos.
func (c *StreamClient) Trades(ctx context.Context) (<-chan domain.TradeTick, error) {
	url, err := c.streamURL("trade")
	if err != nil {
		return nil, err
	}
	out := make(chan domain.TradeTick, c.cfg.BufferSize)
	go func() {
		defer close(out)
		c.run(ctx, "trade", url, func(msg []byte) bool {
			tick, ok, err := parseTrade(msg)
			if err != nil {
				slog.Debug("binance trade parse failed", "err", err)
				return true
			}
			if !ok {
				return true
			}
			select {
			case out <- tick:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()
	return out, nil
}

// Prices se suscribe a <symbol>@miniTicker (un precio por segundo por símbolo).
func (c *StreamClient) Prices(ctx context.Context) (<-chan domain.PriceTick, error) {
	url, err := c.streamURL("miniTicker")
	if err != nil {
		return nil, err
	}
	out := make(chan domain.PriceTick, c.cfg.BufferSize)
	go func() {
		defer close(out)
		c.run(ctx, "miniTicker", url, func(msg []byte) bool {
			tick, ok, err := parseTicker(msg)
			if err != nil {
				slog.Debug("binance ticker parse failed", "err", err)
				return true
			}
			if !ok {
				return true
			}
			select {
			case out <- tick:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()
	return out, nil
}

func (c *StreamClient) streamURL(kind string) (string, error) {
	if len(c.cfg.Symbols) == 0 {
		return "", domain.Errorf(domain.KindConfig, "binance.streamURL", "no symbols configured")
	}
	streams := make([]string, len(c.cfg.Symbols))
	for i, s := range c.cfg.Symbols {
		streams[i] = strings.ToLower(s) + "@" + kind
	}
	base := strings.TrimSuffix(strings.TrimSuffix(c.cfg.URL, "/"), "/ws")
	return base + "/stream?streams=" + strings.Join(streams, "/"), nil
}

// run conecta y lee hasta que ctx se cancele. handle devuelve false para cortar.
func (c *StreamClient) run(ctx context.Context, name, url string, handle func([]byte) bool) {
	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := c.dialer.DialContext(ctx, url, nil)
		if err != nil {
			slog.Warn("binance websocket dial failed", "stream", name, "err", err, "retry_in", c.cfg.ReconnectDelay)
		} else {
			slog.Info("binance websocket connected", "stream", name, "symbols", c.cfg.Symbols)
			err = c.readLoop(ctx, conn, handle)
			_ = conn.Close()
			if ctx.Err() != nil {
				return
			}
			slog.Warn("binance websocket disconnected", "stream", name, "err", err, "retry_in", c.cfg.ReconnectDelay)
		}
		if c.OnReconnect != nil {
			c.OnReconnect(name)
		}
		select {
		case <-time.After(c.cfg.ReconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

func (c *StreamClient) readLoop(ctx context.Context, conn *websocket.Conn, handle func([]byte) bool) error {
	// cierra la conexión al cancelar para desbloquear ReadMessage
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("binance.readLoop: %w", err)
		}
		if !handle(msg) {
			return nil
		}
	}
}
