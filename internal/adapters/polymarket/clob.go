package polymarket

// clob.go: adapter de lectura del CLOB de Polymarket.
//
// FetchOrderBooks lanza un goroutine por batch de /books; el rate limiter de
// doWithRetry marca el ritmo, así que no hace falta semáforo explícito.

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

const (
	bookPath     = "/book"
	booksPath    = "/books"
	midpointPath = "/midpoint"
	batchSize    = 20 // máx token_ids por request a /books
)

// GetBook devuelve el orderbook normalizado de un token.
func (c *Client) GetBook(ctx context.Context, tokenID string) (domain.OrderBook, error) {
	var resp orderBookResponse
	u := c.clobBase + bookPath + "?token_id=" + url.QueryEscape(tokenID)
	if err := c.get(ctx, c.booksLimiter, u, &resp); err != nil {
		if isNotFound(err) {
			return domain.OrderBook{}, domain.E(domain.KindMarketNotFound, "clob.GetBook", domain.ErrEmptyBook)
		}
		return domain.OrderBook{}, fmt.Errorf("clob.GetBook: %w", err)
	}
	if resp.AssetID == "" {
		resp.AssetID = tokenID
	}
	return mapOrderBook(resp, c.now()), nil
}

// GetMidpoint devuelve el mid que publica el CLOB para un token.
func (c *Client) GetMidpoint(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	var resp midpointResponse
	u := c.clobBase + midpointPath + "?token_id=" + url.QueryEscape(tokenID)
	if err := c.get(ctx, c.clobLimiter, u, &resp); err != nil {
		return domain.Zero, fmt.Errorf("clob.GetMidpoint: %w", err)
	}
	mid, err := decimal.NewFromString(resp.Mid)
	if err != nil {
		return domain.Zero, domain.Errorf(domain.KindAPI, "clob.GetMidpoint", "invalid mid %q: %w", resp.Mid, err)
	}
	return mid, nil
}

// FetchOrderBooks obtiene los orderbooks de varios tokens con el endpoint batch.
// Si un batch falla se devuelve el primer error.
func (c *Client) FetchOrderBooks(ctx context.Context, tokenIDs []string) (map[string]domain.OrderBook, error) {
	if len(tokenIDs) == 0 {
		return map[string]domain.OrderBook{}, nil
	}

	batches := splitBatches(tokenIDs, batchSize)
	parts := make([]map[string]domain.OrderBook, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			books, err := c.fetchBooksBatch(gctx, batch)
			if err != nil {
				return fmt.Errorf("clob.FetchOrderBooks batch %d: %w", i, err)
			}
			parts[i] = books
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := make(map[string]domain.OrderBook, len(tokenIDs))
	for _, p := range parts {
		for k, v := range p {
			result[k] = v
		}
	}
	slog.Debug("order books fetched", "tokens", len(tokenIDs), "books", len(result))
	return result, nil
}

// splitBatches divide ids en slices de tamaño máximo size.
func splitBatches(ids []string, size int) [][]string {
	if size <= 0 {
		size = batchSize
	}
	batches := make([][]string, 0, (len(ids)+size-1)/size)
	for i := 0; i < len(ids); i += size {
		end := min(i+size, len(ids))
		batches = append(batches, ids[i:end])
	}
	return batches
}

// fetchBooksBatch hace un POST /books para un batch de token_ids.
func (c *Client) fetchBooksBatch(ctx context.Context, tokenIDs []string) (map[string]domain.OrderBook, error) {
	body := make([]orderBookRequest, len(tokenIDs))
	for i, id := range tokenIDs {
		body[i] = orderBookRequest{TokenID: id}
	}

	var resp []orderBookResponse
	if err := c.post(ctx, c.booksLimiter, c.clobBase+booksPath, body, &resp); err != nil {
		return nil, fmt.Errorf("POST /books: %w", err)
	}
	return mapOrderBooks(resp, c.now()), nil
}
