// Package polymarket implementa los puertos de datos de mercado y de
// ejecución sobre las APIs Gamma, CLOB y Data de Polymarket.
package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

const (
	DefaultCLOBBase  = "https://clob.polymarket.com"
	DefaultGammaBase = "https://gamma-api.polymarket.com"
	DefaultDataBase  = "https://data-api.polymarket.com"

	// Rate limits al 60% de los límites reales documentados.
	// CLOB /book(s): 500/10s → 300/10s → 30/s
	booksRatePerSec = 30
	// Gamma /markets: 300/10s → 180/10s → 18/s
	gammaRatePerSec = 18
	// CLOB general: 9000/10s → 5400/10s → 540/s
	generalRatePerSec = 540
	// Data API /trades, /positions: 200/10s → 120/10s → 12/s
	dataRatePerSec = 12

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Config son los base URLs de las tres APIs. Vacío usa producción.
type Config struct {
	CLOBBase  string
	GammaBase string
	DataBase  string
	Timeout   time.Duration
	// UpDownAssets activa el descubrimiento de mercados up/down de 15 minutos.
	UpDownAssets []string
}

// Client es el HTTP client de Polymarket con rate limiting y retries.
// Implementa ports.MarketDataSource y ports.TradeHistory.
type Client struct {
	http         *http.Client
	clobBase     string
	gammaBase    string
	dataBase     string
	clobLimiter  *rate.Limiter
	gammaLimiter *rate.Limiter
	booksLimiter *rate.Limiter
	dataLimiter  *rate.Limiter
	upDown       []string
	now          func() time.Time
}

// NewClient crea un Client.
func NewClient(cfg Config) *Client {
	if cfg.CLOBBase == "" {
		cfg.CLOBBase = DefaultCLOBBase
	}
	if cfg.GammaBase == "" {
		cfg.GammaBase = DefaultGammaBase
	}
	if cfg.DataBase == "" {
		cfg.DataBase = DefaultDataBase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		http:         &http.Client{Timeout: cfg.Timeout},
		clobBase:     strings.TrimRight(cfg.CLOBBase, "/"),
		gammaBase:    strings.TrimRight(cfg.GammaBase, "/"),
		dataBase:     strings.TrimRight(cfg.DataBase, "/"),
		clobLimiter:  rate.NewLimiter(generalRatePerSec, 50),
		gammaLimiter: rate.NewLimiter(gammaRatePerSec, 10),
		booksLimiter: rate.NewLimiter(booksRatePerSec, 5),
		dataLimiter:  rate.NewLimiter(dataRatePerSec, 5),
		upDown:       cfg.UpDownAssets,
		now:          time.Now,
	}
}

// statusError es una respuesta HTTP no exitosa.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.code, e.body)
}

// get hace un GET con rate limiting y retries.
func (c *Client) get(ctx context.Context, limiter *rate.Limiter, url string, out any) error {
	return c.doWithRetry(ctx, limiter, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	}, out)
}

// post hace un POST JSON con rate limiting y retries.
func (c *Client) post(ctx context.Context, limiter *rate.Limiter, url string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return domain.Errorf(domain.KindInternal, "polymarket.post", "marshal body: %w", err)
	}
	return c.doWithRetry(ctx, limiter, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	}, out)
}

// doWithRetry ejecuta la función con backoff exponencial. Los fallos de red y
// 5xx se reintentan (KindNetwork); los 4xx se devuelven como KindAPI.
func (c *Client) doWithRetry(ctx context.Context, limiter *rate.Limiter, fn func() (*http.Response, error), out any) error {
	const op = "polymarket.request"
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return domain.Errorf(domain.KindNetwork, op, "rate limiter: %w", err)
		}

		resp, err := fn()
		if err != nil {
			if attempt == maxRetries || ctx.Err() != nil {
				return domain.Errorf(domain.KindNetwork, op, "request failed after %d retries: %w", attempt, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			slog.Warn("rate limited by API", "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return domain.Errorf(domain.KindNetwork, op, "server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return domain.E(domain.KindAPI, op, &statusError{code: resp.StatusCode, body: string(body)})
		}

		defer resp.Body.Close()
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return domain.Errorf(domain.KindAPI, op, "decode response: %w", err)
		}
		return nil
	}
	return domain.Errorf(domain.KindNetwork, op, "exhausted %d retries", maxRetries)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// isNotFound devuelve true si err es un 404 del API.
func isNotFound(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code == http.StatusNotFound
}
