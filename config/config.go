package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// Config es la configuración completa del bot.
type Config struct {
	Strategy  StrategyConfig  `yaml:"strategy"`
	Risk      RiskConfig      `yaml:"risk"`
	AutoClose AutoCloseConfig `yaml:"auto_close"`
	Paper     PaperConfig     `yaml:"paper"`
	Router    RouterConfig    `yaml:"router"`
	Filter    FilterConfig    `yaml:"filter"`
	Regime    RegimeConfig    `yaml:"regime"`
	Portfolio PortfolioConfig `yaml:"portfolio"`
	CrossArb  CrossArbConfig  `yaml:"cross_arb"`
	Feeds     FeedsConfig     `yaml:"feeds"`
	API       APIConfig       `yaml:"api"`
	Live      LiveConfig      `yaml:"live"`
	Storage   StorageConfig   `yaml:"storage"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// StrategyConfig controla la generación de señales y el loop de escaneo.
type StrategyConfig struct {
	MinEdge             float64 `yaml:"min_edge"`
	MinConfidence       float64 `yaml:"min_confidence"`
	KellyFraction       float64 `yaml:"kelly_fraction"`
	ScanIntervalSecs    int     `yaml:"scan_interval_secs"`
	CompoundEnabled     *bool   `yaml:"compound_enabled"`
	CompoundSqrtScaling *bool   `yaml:"compound_sqrt_scaling"`
	MaxTradesPerHour    int     `yaml:"max_trades_per_hour"`
	AnalysisWorkers     int     `yaml:"analysis_workers"` // 0 = 2×CPU
	MarketLimit         int     `yaml:"market_limit"`
}

// RiskConfig son los límites de riesgo como fracción del balance.
type RiskConfig struct {
	MaxPositionPct    float64 `yaml:"max_position_pct"`
	MaxExposurePct    float64 `yaml:"max_exposure_pct"`
	MaxDailyLossPct   float64 `yaml:"max_daily_loss_pct"`
	MinBalanceReserve float64 `yaml:"min_balance_reserve"`
	MaxOpenPositions  int     `yaml:"max_open_positions"`
	// Circuit breaker: pérdidas seguidas, pausa y drawdown total máximo.
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses"`
	LossCooldownMinutes  int     `yaml:"loss_cooldown_minutes"`
	MaxDrawdownPct       float64 `yaml:"max_drawdown_pct"`
}

// AutoCloseConfig: porcentajes, 5 = 5%.
type AutoCloseConfig struct {
	TakeProfitPct float64 `yaml:"take_profit_pct"`
	StopLossPct   float64 `yaml:"stop_loss_pct"`
}

// PaperConfig controla la cuenta simulada y sus archivos.
type PaperConfig struct {
	InitialBalance float64 `yaml:"initial_balance"`
	FeeRate        float64 `yaml:"fee_rate"`
	Slippage       float64 `yaml:"slippage"`
	StateFile      string  `yaml:"state_file"`
	AuditFile      string  `yaml:"audit_file"`
	SnapshotsDir   string  `yaml:"snapshots_dir"`
	AutoSave       *bool   `yaml:"auto_save"`
	LogPrices      *bool   `yaml:"log_prices"`
}

// RouterConfig parametriza el smart order router y el optimizador de precio.
type RouterConfig struct {
	Algorithm        string  `yaml:"algorithm"`
	MinChildFraction float64 `yaml:"min_child_fraction"`
	MaxVenues        int     `yaml:"max_venues"`
	MaxSlippageBps   float64 `yaml:"max_slippage_bps"`
	StaleThresholdMs int     `yaml:"stale_threshold_ms"`
	AllowPartial     *bool   `yaml:"allow_partial"`
	RetryOnFailure   *bool   `yaml:"retry_on_failure"`
	MaxCrossBps      float64 `yaml:"max_cross_bps"`
	LimitEdgeBps     float64 `yaml:"limit_edge_bps"`
}

type FilterConfig struct {
	CooldownMinutes       int     `yaml:"cooldown_minutes"`
	CryptoCooldownMinutes int     `yaml:"crypto_cooldown_minutes"`
	MinTrendConfidence    float64 `yaml:"min_trend_confidence"`
	MinMomentum           float64 `yaml:"min_momentum"`
	RequireAgreement      *bool   `yaml:"require_agreement"`
	MinMinutesBeforeClose float64 `yaml:"min_minutes_before_close"`
	MaxMinutesBeforeClose float64 `yaml:"max_minutes_before_close"`
}

type RegimeConfig struct {
	ADXTrendThreshold          float64 `yaml:"adx_trend_threshold"`
	ADXStrongThreshold         float64 `yaml:"adx_strong_threshold"`
	VolatilityHighPercentile   float64 `yaml:"volatility_high_percentile"`
	VolatilityCrisisPercentile float64 `yaml:"volatility_crisis_percentile"`
	SmoothingPeriod            int     `yaml:"smoothing_period"`
	UseHurst                   *bool   `yaml:"use_hurst"`
}

type PortfolioConfig struct {
	Method          string  `yaml:"method"`
	MatrixTolerance float64 `yaml:"matrix_tolerance"`
	MaxWeight       float64 `yaml:"max_weight"`
}

// CrossArbConfig parametriza el arbitraje Up+Down.
type CrossArbConfig struct {
	Enabled     *bool   `yaml:"enabled"`
	MinSpread   float64 `yaml:"min_spread"`
	MaxSpread   float64 `yaml:"max_spread"`
	MinSeconds  int     `yaml:"min_seconds"`
	MaxSeconds  int     `yaml:"max_seconds"`
	MaxPosition float64 `yaml:"max_position"`
	FeeRate     float64 `yaml:"fee_rate"`
}

// FeedsConfig controla el stream de Binance.
type FeedsConfig struct {
	BinanceWS     string   `yaml:"binance_ws"`
	Symbols       []string `yaml:"symbols"`
	ReconnectSecs int      `yaml:"reconnect_secs"`
	ChannelSize   int      `yaml:"channel_size"`
}

// APIConfig contiene los base URLs de las APIs.
type APIConfig struct {
	CLOBBase     string   `yaml:"clob_base"`
	GammaBase    string   `yaml:"gamma_base"`
	DataBase     string   `yaml:"data_base"`
	UpDownAssets []string `yaml:"updown_assets"`
}

// LiveConfig son las credenciales de trading real. Vienen del entorno.
type LiveConfig struct {
	PrivateKey string `yaml:"private_key"`
	RPCURL     string `yaml:"rpc_url"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
	File   string `yaml:"file"`   // vacío = solo stdout
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // vacío = sin servidor
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del entorno sobreescriben los del YAML. Un path vacío usa solo
// defaults y entorno.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default devuelve la configuración por defecto con los overrides de entorno.
func Default() *Config {
	var cfg Config
	applyEnvOverrides(&cfg)
	setDefaults(&cfg)
	return &cfg
}

// ScanInterval devuelve el intervalo de escaneo como time.Duration.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Strategy.ScanIntervalSecs) * time.Second
}

// ReconnectDelay devuelve la espera entre reconexiones del feed.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Feeds.ReconnectSecs) * time.Second
}

// HasLiveCredentials indica si hay clave para operar en real.
func (c *Config) HasLiveCredentials() bool { return c.Live.PrivateKey != "" }

// Validate comprueba rangos y coherencia entre secciones.
func (c *Config) Validate() error {
	const op = "config.Validate"
	var problems []string
	bad := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Strategy.MinEdge < 0 || c.Strategy.MinEdge >= 1 {
		bad("strategy.min_edge must be in [0,1), got %v", c.Strategy.MinEdge)
	}
	if c.Strategy.MinConfidence < 0 || c.Strategy.MinConfidence > 1 {
		bad("strategy.min_confidence must be in [0,1], got %v", c.Strategy.MinConfidence)
	}
	if c.Strategy.KellyFraction <= 0 || c.Strategy.KellyFraction > 1 {
		bad("strategy.kelly_fraction must be in (0,1], got %v", c.Strategy.KellyFraction)
	}
	if c.Strategy.AnalysisWorkers < 0 {
		bad("strategy.analysis_workers must be >= 0")
	}
	for name, v := range map[string]float64{
		"risk.max_position_pct":   c.Risk.MaxPositionPct,
		"risk.max_exposure_pct":   c.Risk.MaxExposurePct,
		"risk.max_daily_loss_pct": c.Risk.MaxDailyLossPct,
	} {
		if v <= 0 || v > 1 {
			bad("%s must be in (0,1], got %v", name, v)
		}
	}
	if c.Risk.MaxPositionPct > c.Risk.MaxExposurePct {
		bad("risk.max_position_pct (%v) exceeds risk.max_exposure_pct (%v)", c.Risk.MaxPositionPct, c.Risk.MaxExposurePct)
	}
	if c.Risk.MaxDrawdownPct < 0 || c.Risk.MaxDrawdownPct > 1 {
		bad("risk.max_drawdown_pct must be in [0,1], got %v", c.Risk.MaxDrawdownPct)
	}
	if c.Risk.MinBalanceReserve < 0 {
		bad("risk.min_balance_reserve must be >= 0")
	}
	if c.AutoClose.TakeProfitPct < 0 || c.AutoClose.StopLossPct < 0 {
		bad("auto_close percentages must be >= 0")
	}
	if c.Paper.FeeRate < 0 || c.Paper.FeeRate >= 1 || c.Paper.Slippage < 0 || c.Paper.Slippage >= 1 {
		bad("paper.fee_rate and paper.slippage must be in [0,1)")
	}
	if c.Filter.MinMinutesBeforeClose > c.Filter.MaxMinutesBeforeClose {
		bad("filter.min_minutes_before_close exceeds max_minutes_before_close")
	}
	if c.Regime.ADXTrendThreshold > c.Regime.ADXStrongThreshold {
		bad("regime.adx_trend_threshold exceeds adx_strong_threshold")
	}
	if c.Regime.VolatilityHighPercentile > c.Regime.VolatilityCrisisPercentile {
		bad("regime.volatility_high_percentile exceeds volatility_crisis_percentile")
	}
	if c.Portfolio.MaxWeight <= 0 || c.Portfolio.MaxWeight > 1 {
		bad("portfolio.max_weight must be in (0,1], got %v", c.Portfolio.MaxWeight)
	}
	if c.CrossArb.MinSpread > c.CrossArb.MaxSpread {
		bad("cross_arb.min_spread exceeds max_spread")
	}
	if c.CrossArb.MinSeconds > c.CrossArb.MaxSeconds {
		bad("cross_arb.min_seconds exceeds max_seconds")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		bad("log.format must be text or json, got %q", c.Log.Format)
	}

	if len(problems) > 0 {
		return domain.Errorf(domain.KindConfig, op, "%s", strings.Join(problems, "; "))
	}
	return nil
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
	if v := os.Getenv("POLY_PRIVATE_KEY"); v != "" {
		cfg.Live.PrivateKey = v
	}
	if v := os.Getenv("POLYGON_RPC_URL"); v != "" {
		cfg.Live.RPCURL = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
}

func boolPtr(b bool) *bool { return &b }

// Enabled lee un flag opcional del YAML.
func Enabled(b *bool) bool { return b != nil && *b }

// setDefaults asegura que los valores requeridos tengan valores sensatos.
// Los booleanos son punteros para distinguir "false" de "no configurado".
func setDefaults(cfg *Config) {
	s := &cfg.Strategy
	if s.MinEdge == 0 {
		s.MinEdge = 0.06
	}
	if s.MinConfidence == 0 {
		s.MinConfidence = 0.60
	}
	if s.KellyFraction == 0 {
		s.KellyFraction = 0.35
	}
	if s.ScanIntervalSecs <= 0 {
		s.ScanIntervalSecs = 180
	}
	if s.CompoundEnabled == nil {
		s.CompoundEnabled = boolPtr(true)
	}
	if s.CompoundSqrtScaling == nil {
		s.CompoundSqrtScaling = boolPtr(true)
	}
	if s.MaxTradesPerHour <= 0 {
		s.MaxTradesPerHour = 10
	}
	if s.MarketLimit <= 0 {
		s.MarketLimit = 100
	}

	r := &cfg.Risk
	if r.MaxPositionPct == 0 {
		r.MaxPositionPct = 0.05
	}
	if r.MaxExposurePct == 0 {
		r.MaxExposurePct = 0.50
	}
	if r.MaxDailyLossPct == 0 {
		r.MaxDailyLossPct = 0.10
	}
	if r.MinBalanceReserve == 0 {
		r.MinBalanceReserve = 100
	}
	if r.MaxOpenPositions <= 0 {
		r.MaxOpenPositions = 10
	}
	if r.MaxConsecutiveLosses <= 0 {
		r.MaxConsecutiveLosses = 5
	}
	if r.LossCooldownMinutes <= 0 {
		r.LossCooldownMinutes = 30
	}
	if r.MaxDrawdownPct == 0 {
		r.MaxDrawdownPct = 0.25
	}

	if cfg.AutoClose.TakeProfitPct == 0 {
		cfg.AutoClose.TakeProfitPct = 5
	}
	if cfg.AutoClose.StopLossPct == 0 {
		cfg.AutoClose.StopLossPct = 3
	}

	p := &cfg.Paper
	if p.InitialBalance <= 0 {
		p.InitialBalance = 1000
	}
	if p.StateFile == "" {
		p.StateFile = "paper_trading_state.json"
	}
	if p.AuditFile == "" {
		p.AuditFile = "trade_audit.jsonl"
	}
	if p.SnapshotsDir == "" {
		p.SnapshotsDir = "market_snapshots"
	}
	if p.AutoSave == nil {
		p.AutoSave = boolPtr(true)
	}
	if p.LogPrices == nil {
		p.LogPrices = boolPtr(true)
	}

	rt := &cfg.Router
	if rt.Algorithm == "" {
		rt.Algorithm = "min_cost"
	}
	if rt.MinChildFraction == 0 {
		rt.MinChildFraction = 0.05
	}
	if rt.MaxVenues <= 0 {
		rt.MaxVenues = 5
	}
	if rt.MaxSlippageBps == 0 {
		rt.MaxSlippageBps = 50
	}
	if rt.StaleThresholdMs <= 0 {
		rt.StaleThresholdMs = 5000
	}
	if rt.AllowPartial == nil {
		rt.AllowPartial = boolPtr(true)
	}
	if rt.RetryOnFailure == nil {
		rt.RetryOnFailure = boolPtr(true)
	}
	if rt.MaxCrossBps == 0 {
		rt.MaxCrossBps = 20
	}
	if rt.LimitEdgeBps == 0 {
		rt.LimitEdgeBps = 5
	}

	f := &cfg.Filter
	if f.CooldownMinutes <= 0 {
		f.CooldownMinutes = 15
	}
	if f.CryptoCooldownMinutes <= 0 {
		f.CryptoCooldownMinutes = 2
	}
	if f.MinTrendConfidence == 0 {
		f.MinTrendConfidence = 0.60
	}
	if f.MinMomentum == 0 {
		f.MinMomentum = 0.001
	}
	if f.RequireAgreement == nil {
		f.RequireAgreement = boolPtr(true)
	}
	if f.MinMinutesBeforeClose == 0 {
		f.MinMinutesBeforeClose = 1
	}
	if f.MaxMinutesBeforeClose == 0 {
		f.MaxMinutesBeforeClose = 10
	}

	rg := &cfg.Regime
	if rg.ADXTrendThreshold == 0 {
		rg.ADXTrendThreshold = 25
	}
	if rg.ADXStrongThreshold == 0 {
		rg.ADXStrongThreshold = 40
	}
	if rg.VolatilityHighPercentile == 0 {
		rg.VolatilityHighPercentile = 80
	}
	if rg.VolatilityCrisisPercentile == 0 {
		rg.VolatilityCrisisPercentile = 95
	}
	if rg.SmoothingPeriod <= 0 {
		rg.SmoothingPeriod = 3
	}
	if rg.UseHurst == nil {
		rg.UseHurst = boolPtr(true)
	}

	if cfg.Portfolio.Method == "" {
		cfg.Portfolio.Method = "min_variance"
	}
	if cfg.Portfolio.MatrixTolerance <= 0 {
		cfg.Portfolio.MatrixTolerance = 1e-10
	}
	if cfg.Portfolio.MaxWeight == 0 {
		cfg.Portfolio.MaxWeight = 0.4
	}

	ca := &cfg.CrossArb
	if ca.Enabled == nil {
		ca.Enabled = boolPtr(true)
	}
	if ca.MinSpread == 0 {
		ca.MinSpread = 0.01
	}
	if ca.MaxSpread == 0 {
		ca.MaxSpread = 0.10
	}
	if ca.MinSeconds <= 0 {
		ca.MinSeconds = 60
	}
	if ca.MaxSeconds <= 0 {
		ca.MaxSeconds = 600
	}
	if ca.MaxPosition <= 0 {
		ca.MaxPosition = 100
	}

	fd := &cfg.Feeds
	if fd.BinanceWS == "" {
		fd.BinanceWS = "wss://stream.binance.com:9443/ws"
	}
	if len(fd.Symbols) == 0 {
		fd.Symbols = []string{"btcusdt", "ethusdt", "solusdt"}
	}
	if fd.ReconnectSecs <= 0 {
		fd.ReconnectSecs = 5
	}
	if fd.ChannelSize <= 0 {
		fd.ChannelSize = 1024
	}

	if cfg.API.CLOBBase == "" {
		cfg.API.CLOBBase = "https://clob.polymarket.com"
	}
	if cfg.API.GammaBase == "" {
		cfg.API.GammaBase = "https://gamma-api.polymarket.com"
	}
	if cfg.API.DataBase == "" {
		cfg.API.DataBase = "https://data-api.polymarket.com"
	}
	if cfg.API.UpDownAssets == nil {
		cfg.API.UpDownAssets = []string{"btc", "eth", "xrp", "sol", "doge"}
	}

	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "polyedge.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
