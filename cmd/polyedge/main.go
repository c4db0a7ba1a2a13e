package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alejandrodnm/polyedge/config"
)

const defaultConfigPath = "config/config.yaml"

func main() {
	os.Exit(run(os.Args[1:]))
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: polyedge [-config path] [-verbose] [-format text|json] <command> [flags]

commands:
  run [--dry-run] [--paper]     start the trading engine
  markets [--limit N]           list active markets
  analyze <market_id>           order book analysis for one market
  status                        account and daily stats
  report [--day YYYY-MM-DD]     daily report from stored trades
  test-notify                   send a test notification
`)
}

func run(args []string) int {
	global := flag.NewFlagSet("polyedge", flag.ContinueOnError)
	global.Usage = usage
	configPath := global.String("config", defaultConfigPath, "path to config file")
	verbose := global.Bool("verbose", false, "set log level to debug")
	logFormat := global.String("format", "", "log format: text|json (overrides config)")
	if err := global.Parse(args); err != nil {
		return 2
	}
	rest := global.Args()
	if len(rest) == 0 {
		usage()
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		return 1
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	logFile := setupLogger(cfg.Log)
	defer logFile.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a := newApp(cfg)
	name, cmdArgs := rest[0], rest[1:]
	var cmdErr error
	switch name {
	case "run":
		cmdErr = cmdRun(ctx, a, cmdArgs)
	case "markets":
		cmdErr = cmdMarkets(ctx, a, cmdArgs)
	case "analyze":
		cmdErr = cmdAnalyze(ctx, a, cmdArgs)
	case "status":
		cmdErr = cmdStatus(ctx, a)
	case "report":
		cmdErr = cmdReport(ctx, a, cmdArgs)
	case "test-notify":
		cmdErr = cmdTestNotify(ctx, a)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		usage()
		return 2
	}
	if cmdErr != nil {
		slog.Error("command failed", "cmd", name, "err", cmdErr)
		return 1
	}
	return 0
}

// loadConfig usa defaults y entorno si el archivo por defecto no existe.
func loadConfig(path string) (*config.Config, error) {
	if path == defaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return config.Load("")
		}
	}
	return config.Load(path)
}
