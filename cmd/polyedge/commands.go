package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polyedge/config"
	"github.com/alejandrodnm/polyedge/internal/adapters/notify"
	"github.com/alejandrodnm/polyedge/internal/adapters/storage"
	"github.com/alejandrodnm/polyedge/internal/application/engine"
	"github.com/alejandrodnm/polyedge/internal/crossarb"
	"github.com/alejandrodnm/polyedge/internal/domain"
	"github.com/alejandrodnm/polyedge/internal/orderbook"
)

// cmdRun arranca el engine. Con credenciales live opera en real salvo
// --paper; --dry-run no toca estado ni coloca órdenes.
func cmdRun(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	dryRun := fs.Bool("dry-run", false, "simulate without placing orders or recording state")
	forcePaper := fs.Bool("paper", false, "paper trade even if live credentials are set")
	if err := fs.Parse(args); err != nil {
		return err
	}

	mode := engine.ModePaper
	switch {
	case *dryRun:
		mode = engine.ModeDryRun
	case a.cfg.HasLiveCredentials() && !*forcePaper:
		mode = engine.ModeLive
		if err := a.connectLive(ctx); err != nil {
			return fmt.Errorf("connect live: %w", err)
		}
	}

	store, err := storage.NewSQLiteStorage(a.cfg.Storage.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	runner, err := a.buildRunner(mode, store, readCommands(ctx, os.Stdin))
	if err != nil {
		return err
	}

	slog.Info("polyedge starting",
		"mode", mode.String(),
		"interval", a.cfg.ScanInterval(),
		"cross_arb", config.Enabled(a.cfg.CrossArb.Enabled),
		"metrics", a.cfg.Metrics.Addr,
	)
	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("polyedge stopped cleanly")
	return nil
}

// readCommands lee comandos del operador, uno por línea ("/pause",
// "markets 5"). El canal se cierra con EOF o al cancelar ctx.
func readCommands(ctx context.Context, r io.Reader) <-chan engine.Command {
	out := make(chan engine.Command)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			cmd, ok := parseCommandLine(sc.Text())
			if !ok {
				continue
			}
			select {
			case out <- cmd:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func parseCommandLine(line string) (engine.Command, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return engine.Command{}, false
	}
	kind, err := engine.ParseCommand(strings.ToLower(fields[0]))
	if err != nil {
		slog.Warn("unknown operator command", "input", fields[0])
		return engine.Command{}, false
	}
	cmd := engine.Command{Kind: kind}
	if kind == engine.CmdMarkets && len(fields) > 1 {
		if n, err := strconv.Atoi(fields[1]); err == nil {
			cmd.Limit = n
		}
	}
	return cmd, true
}

func cmdMarkets(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("markets", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max markets to list")
	keyword := fs.String("keyword", "", "filter by question keyword")
	minLiq := fs.Float64("min-liquidity", 0, "minimum liquidity in USDC")
	if err := fs.Parse(args); err != nil {
		return err
	}
	markets, err := a.client.ListMarkets(ctx, domain.MarketFilter{
		ActiveOnly:   true,
		Limit:        *limit,
		MinLiquidity: decimal.NewFromFloat(*minLiq),
		Keyword:      *keyword,
	})
	if err != nil {
		return err
	}
	return a.console.PrintMarkets(markets)
}

// cmdAnalyze imprime la microestructura del book YES de un mercado. Acepta
// el condition id completo o un prefijo de un mercado listado.
func cmdAnalyze(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return domain.Errorf(domain.KindConfig, "analyze", "usage: analyze <market_id>: %w", domain.ErrInvalidInput)
	}
	m, err := a.resolveMarket(ctx, args[0])
	if err != nil {
		return err
	}
	yes, ok := m.YesToken()
	if !ok {
		yes = m.Tokens[0]
	}
	book, err := a.client.GetBook(ctx, yes.TokenID)
	if err != nil {
		return err
	}

	an := orderbook.NewAnalyzer(orderbook.DefaultConfig())
	an.OnSnapshot(book)
	ticks, err := a.client.FetchTrades(ctx, yes.TokenID)
	if err != nil {
		slog.Warn("trade history unavailable", "token", yes.TokenID, "err", err)
	}
	for _, t := range ticks {
		an.OnTrade(t)
	}

	res := notify.Analysis{
		Market:    m,
		Book:      book,
		NearDepth: book.DepthWithinUSDC(domain.MustDec("0.05")),
		Summary:   an.Summary(time.Now()),
	}
	res.Impact100, res.HasImpact = an.PriceImpact(domain.Buy, decimal.NewFromInt(100))
	if _, isArb := crossarb.Symbol(m); isArb {
		scanner := crossarb.NewScanner(a.client, crossArbConfig(a.cfg), nil)
		if opp, ok := scanner.Evaluate(m, time.Now()); ok {
			res.Arb = &opp
		}
	}
	return a.console.PrintAnalysis(res)
}

func (a *app) resolveMarket(ctx context.Context, id string) (domain.Market, error) {
	m, err := a.client.GetMarket(ctx, id)
	if err == nil {
		if len(m.Tokens) == 0 {
			return m, domain.E(domain.KindMarketNotFound, "analyze", domain.ErrEmptyBook)
		}
		return m, nil
	}
	if !errors.Is(err, domain.ErrMarketNotFound) {
		return m, err
	}
	markets, lerr := a.client.ListMarkets(ctx, domain.MarketFilter{ActiveOnly: true, Limit: 500})
	if lerr != nil {
		return m, err
	}
	for _, c := range markets {
		if strings.HasPrefix(c.ID, id) && len(c.Tokens) > 0 {
			return c, nil
		}
	}
	return m, err
}

// cmdStatus muestra las stats del día y la cuenta paper o live.
func cmdStatus(ctx context.Context, a *app) error {
	store, err := storage.NewSQLiteStorage(a.cfg.Storage.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.GetDailyStats(ctx)
	if err != nil {
		return err
	}
	balance, err := a.accountBalance(ctx)
	if err != nil {
		return err
	}
	if err := a.console.DailyReport(ctx, stats, balance); err != nil {
		return err
	}
	if a.cfg.HasLiveCredentials() {
		return nil
	}
	pt, err := a.openPaper()
	if err != nil {
		return err
	}
	return a.console.PrintPaperSummary(pt.Summary(), pt.Positions())
}

// accountBalance devuelve el balance live si hay credenciales y si no el
// valor total de la cuenta paper.
func (a *app) accountBalance(ctx context.Context) (decimal.Decimal, error) {
	if a.cfg.HasLiveCredentials() {
		if a.trading == nil {
			if err := a.connectVenue(ctx); err != nil {
				return domain.Zero, err
			}
		}
		return a.trading.Balance(ctx)
	}
	pt, err := a.openPaper()
	if err != nil {
		return domain.Zero, err
	}
	return pt.Summary().TotalValue, nil
}

// cmdReport imprime el reporte de un día UTC (hoy por defecto) con sus trades.
func cmdReport(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	dayFlag := fs.String("day", "", "UTC day YYYY-MM-DD (default today)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	day := time.Now().UTC().Truncate(24 * time.Hour)
	if *dayFlag != "" {
		parsed, err := time.Parse("2006-01-02", *dayFlag)
		if err != nil {
			return domain.Errorf(domain.KindConfig, "report", "invalid --day %q: %w", *dayFlag, err)
		}
		day = parsed
	}

	store, err := storage.NewSQLiteStorage(a.cfg.Storage.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	trades, err := store.GetTrades(ctx, day, day.Add(24*time.Hour))
	if err != nil {
		return err
	}
	balance, err := a.accountBalance(ctx)
	if err != nil {
		slog.Warn("balance unavailable", "err", err)
		balance = domain.Zero
	}
	if err := a.console.DailyReport(ctx, domain.StatsForDay(day, trades), balance); err != nil {
		return err
	}
	return a.console.PrintTrades(trades)
}

func cmdTestNotify(ctx context.Context, a *app) error {
	if err := a.console.Send(ctx, "polyedge test notification"); err != nil {
		return err
	}
	return a.console.RiskAlert(ctx, "test alert, no action needed")
}
