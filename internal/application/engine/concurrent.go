package engine

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// candidate es una señal generada para un mercado durante el análisis.
type candidate struct {
	market domain.Market
	signal domain.Signal
	source string // "realtime" o el id del modelo
	asset  string // símbolo del subyacente; vacío si no es crypto
}

// analyzeFunc analiza un mercado. ok=false descarta el mercado sin error.
type analyzeFunc func(ctx context.Context, m domain.Market) (candidate, bool, error)

// analyzeConcurrent analiza los mercados en paralelo con un worker pool.
// Los modelos hacen llamadas de red, así que el tiempo de ciclo queda acotado
// por el mercado más lento y no por la suma.
//
// Si workers <= 0 usa runtime.NumCPU() × 2. El orden de salida sigue al de markets.
func analyzeConcurrent(ctx context.Context, markets []domain.Market, workers int, analyze analyzeFunc) []candidate {
	if workers <= 0 {
		workers = runtime.NumCPU() * 2
	}
	workers = min(workers, max(len(markets), 1))

	type work struct {
		idx    int
		market domain.Market
	}
	type result struct {
		idx  int
		cand candidate
	}

	workCh := make(chan work, len(markets))
	resultCh := make(chan result, len(markets))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range workCh {
				if ctx.Err() != nil {
					continue
				}
				c, ok, err := analyze(ctx, w.market)
				if err != nil {
					slog.Debug("analyze failed", "market", w.market.ID, "err", err)
					continue
				}
				if ok {
					resultCh <- result{idx: w.idx, cand: c}
				}
			}
		}()
	}

	for i, m := range markets {
		workCh <- work{idx: i, market: m}
	}
	close(workCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	slots := make([]*candidate, len(markets))
	found := 0
	for r := range resultCh {
		r := r
		slots[r.idx] = &r.cand
		found++
	}
	out := make([]candidate, 0, found)
	for _, c := range slots {
		if c != nil {
			out = append(out, *c)
		}
	}

	slog.Debug("concurrent analysis complete",
		"markets_queued", len(markets),
		"signals", len(out),
		"workers", workers,
	)
	return out
}
