package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

const (
	tradesPerPage  = 1000
	tradesMaxPages = 3
)

// FetchTrades obtiene los trades públicos recientes de un token desde la
// Data API, ordenados por timestamp ascendente. Implementa ports.TradeHistory.
func (c *Client) FetchTrades(ctx context.Context, tokenID string) ([]domain.TradeTick, error) {
	ticks, err := c.fetchTrades(ctx, "asset", tokenID)
	if err != nil {
		return nil, fmt.Errorf("data.FetchTrades: %w", err)
	}
	return ticks, nil
}

// FetchTradesByCondition obtiene los trades de ambos outcomes de un mercado.
func (c *Client) FetchTradesByCondition(ctx context.Context, conditionID string) ([]domain.TradeTick, error) {
	ticks, err := c.fetchTrades(ctx, "market", conditionID)
	if err != nil {
		return nil, fmt.Errorf("data.FetchTradesByCondition: %w", err)
	}
	return ticks, nil
}

func (c *Client) fetchTrades(ctx context.Context, key, value string) ([]domain.TradeTick, error) {
	var all []domain.TradeTick
	for page := 0; page < tradesMaxPages; page++ {
		u := fmt.Sprintf("%s/trades?%s=%s&limit=%d&offset=%d",
			c.dataBase, key, url.QueryEscape(value), tradesPerPage, page*tradesPerPage)

		var resp []rawDataTrade
		if err := c.get(ctx, c.dataLimiter, u, &resp); err != nil {
			return nil, err
		}
		for _, rt := range resp {
			if tick, ok := mapDataTrade(rt); ok {
				all = append(all, tick)
			}
		}

		slog.Debug("fetched trades page",
			key, value[:min(8, len(value))]+"...",
			"page", page,
			"count", len(resp),
			"total", len(all),
		)
		if len(resp) < tradesPerPage {
			break
		}
	}

	// La Data API devuelve los más recientes primero.
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.Before(all[j].Timestamp)
	})
	return all, nil
}
