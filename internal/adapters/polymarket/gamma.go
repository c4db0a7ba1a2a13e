package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

const (
	gammaMarketsPath  = "/markets"
	gammaEventsPath   = "/events"
	gammaConditionMax = 20
	defaultListLimit  = 100

	// Los mercados up/down se abren alineados a ventanas de 15 minutos.
	upDownWindow = 15 * time.Minute
)

// DefaultUpDownAssets son los activos con mercados up/down de 15 minutos.
var DefaultUpDownAssets = []string{"btc", "eth", "xrp", "sol", "doge"}

// ListMarkets devuelve los mercados activos ordenados por volumen, más los
// up/down de 15 minutos de la ventana actual. Aplica filter y su límite.
func (c *Client) ListMarkets(ctx context.Context, filter domain.MarketFilter) ([]domain.Market, error) {
	limit := max(filter.Limit, defaultListLimit)
	q := url.Values{}
	q.Set("active", "true")
	q.Set("closed", "false")
	q.Set("order", "volume")
	q.Set("ascending", "false")
	q.Set("limit", strconv.Itoa(limit))

	var raw []gammaMarket
	if err := c.get(ctx, c.gammaLimiter, c.gammaBase+gammaMarketsPath+"?"+q.Encode(), &raw); err != nil {
		return nil, fmt.Errorf("gamma.ListMarkets: %w", err)
	}
	all := mapGammaMarkets(raw)
	all = append(all, c.fetchUpDownMarkets(ctx)...)

	seen := make(map[string]bool, len(all))
	out := make([]domain.Market, 0, len(all))
	for _, m := range all {
		if seen[m.ID] || !filter.Matches(m) {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}

	slog.Debug("markets listed", "fetched", len(all), "matched", len(out))
	return out, nil
}

// GetMarket busca un mercado por condition id. Incluye mercados cerrados,
// necesario para liquidar posiciones resueltas.
func (c *Client) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	markets, err := c.fetchByConditionIDs(ctx, []string{id})
	if err != nil {
		return domain.Market{}, fmt.Errorf("gamma.GetMarket: %w", err)
	}
	for _, m := range markets {
		if m.ID == id {
			return m, nil
		}
	}
	return domain.Market{}, domain.E(domain.KindMarketNotFound, "gamma.GetMarket", domain.ErrMarketNotFound)
}

// fetchByConditionIDs consulta Gamma en batches de gammaConditionMax ids.
func (c *Client) fetchByConditionIDs(ctx context.Context, ids []string) ([]domain.Market, error) {
	var out []domain.Market
	for _, batch := range splitBatches(ids, gammaConditionMax) {
		u := fmt.Sprintf("%s%s?condition_ids=%s&limit=%d",
			c.gammaBase, gammaMarketsPath, url.QueryEscape(strings.Join(batch, ",")), len(batch))
		var raw []gammaMarket
		if err := c.get(ctx, c.gammaLimiter, u, &raw); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, mapGammaMarkets(raw)...)
	}
	return out, nil
}

// fetchUpDownMarkets busca los eventos "<asset>-updown-15m-<ts>" de la ventana
// actual. Los fallos se loguean y se ignoran: es una fuente complementaria.
func (c *Client) fetchUpDownMarkets(ctx context.Context) []domain.Market {
	if len(c.upDown) == 0 {
		return nil
	}
	window := c.now().UTC().Truncate(upDownWindow).Unix()

	var out []domain.Market
	for _, asset := range c.upDown {
		slug := UpDownSlug(asset, window)
		var events []gammaEvent
		if err := c.get(ctx, c.gammaLimiter, c.gammaBase+gammaEventsPath+"?slug="+url.QueryEscape(slug), &events); err != nil {
			slog.Debug("up/down event lookup failed", "slug", slug, "err", err)
			continue
		}
		for _, ev := range events {
			for _, m := range mapGammaMarkets(ev.Markets) {
				if m.Slug == "" {
					m.Slug = ev.Slug
				}
				out = append(out, m)
			}
		}
	}
	return out
}

// UpDownSlug construye el slug del evento up/down de 15 minutos que abre en windowStart.
func UpDownSlug(asset string, windowStart int64) string {
	return fmt.Sprintf("%s-updown-15m-%d", strings.ToLower(asset), windowStart)
}
