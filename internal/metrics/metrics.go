// Package metrics expone la instrumentación Prometheus del bot.
// Los collectors se registran en un Registry propio por runner.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "polyedge"

// Metrics agrupa los collectors del runner.
type Metrics struct {
	Registry *prometheus.Registry

	Scans            prometheus.Counter
	ScanDuration     prometheus.Histogram
	Signals          *prometheus.CounterVec // source
	Trades           *prometheus.CounterVec // side, mode
	Rejections       *prometheus.CounterVec // reason
	FeedReconnects   *prometheus.CounterVec // stream
	ArbOpportunities prometheus.Counter
	Balance          prometheus.Gauge
	OpenPositions    prometheus.Gauge
	DailyPnL         prometheus.Gauge

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New crea los collectors y los registra en un Registry nuevo.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := factory{reg}
	m := &Metrics{
		Registry: reg,
		Scans: f.counter(prometheus.CounterOpts{
			Name: "scans_total",
			Help: "Total market scan cycles",
		}),
		ScanDuration: f.histogram(prometheus.HistogramOpts{
			Name:    "scan_duration_seconds",
			Help:    "Duration of a full scan cycle",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		Signals: f.counterVec(prometheus.CounterOpts{
			Name: "signals_total",
			Help: "Signals that passed the filter, by source",
		}, "source"),
		Trades: f.counterVec(prometheus.CounterOpts{
			Name: "trades_total",
			Help: "Executed trades by side and mode",
		}, "side", "mode"),
		Rejections: f.counterVec(prometheus.CounterOpts{
			Name: "rejections_total",
			Help: "Candidates rejected by filter or risk checks, by reason",
		}, "reason"),
		FeedReconnects: f.counterVec(prometheus.CounterOpts{
			Name: "feed_reconnects_total",
			Help: "WebSocket feed reconnections by stream",
		}, "stream"),
		ArbOpportunities: f.counter(prometheus.CounterOpts{
			Name: "arb_opportunities_total",
			Help: "Cross-price arbitrage opportunities detected",
		}),
		Balance: f.gauge(prometheus.GaugeOpts{
			Name: "balance_usdc",
			Help: "Available collateral balance",
		}),
		OpenPositions: f.gauge(prometheus.GaugeOpts{
			Name: "open_positions",
			Help: "Number of open positions",
		}),
		DailyPnL: f.gauge(prometheus.GaugeOpts{
			Name: "daily_pnl_usdc",
			Help: "Realized PnL of the current UTC day",
		}),
		HTTPRequests: f.counterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests to the status server",
		}, "method", "path", "status"),
		HTTPDuration: f.histogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, "method", "path"),
	}
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

// factory antepone el namespace y registra cada collector.
type factory struct{ reg prometheus.Registerer }

func (f factory) counter(o prometheus.CounterOpts) prometheus.Counter {
	o.Namespace = namespace
	c := prometheus.NewCounter(o)
	f.reg.MustRegister(c)
	return c
}

func (f factory) counterVec(o prometheus.CounterOpts, labels ...string) *prometheus.CounterVec {
	o.Namespace = namespace
	c := prometheus.NewCounterVec(o, labels)
	f.reg.MustRegister(c)
	return c
}

func (f factory) gauge(o prometheus.GaugeOpts) prometheus.Gauge {
	o.Namespace = namespace
	g := prometheus.NewGauge(o)
	f.reg.MustRegister(g)
	return g
}

func (f factory) histogram(o prometheus.HistogramOpts) prometheus.Histogram {
	o.Namespace = namespace
	h := prometheus.NewHistogram(o)
	f.reg.MustRegister(h)
	return h
}

func (f factory) histogramVec(o prometheus.HistogramOpts, labels ...string) *prometheus.HistogramVec {
	o.Namespace = namespace
	h := prometheus.NewHistogramVec(o, labels)
	f.reg.MustRegister(h)
	return h
}

// ObserveScan registra un ciclo de escaneo.
func (m *Metrics) ObserveScan(start time.Time) {
	m.Scans.Inc()
	m.ScanDuration.Observe(time.Since(start).Seconds())
}

// Middleware registra cada request HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		m.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(wrapped.status)).Inc()
		m.HTTPDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

// statusWriter captura el status code de la respuesta.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
