package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/polyedge/internal/domain"
	"github.com/alejandrodnm/polyedge/internal/ports"
)

// Direction es el sesgo de una señal social.
type Direction string

const (
	Bullish Direction = "bullish"
	Bearish Direction = "bearish"
	Neutral Direction = "neutral"
)

// Action es lo que la señal sugiere hacer.
type Action string

const (
	ActionEntry   Action = "entry"
	ActionExit    Action = "exit"
	ActionWarning Action = "warning"
	ActionInfo    Action = "info"
)

// Extracted es una señal estructurada a partir de un mensaje crudo.
type Extracted struct {
	Token      string
	Direction  Direction
	Confidence float64
	Timeframe  string
	Action     Action
	Reasoning  string
	Raw        domain.RawSignal
	Timestamp  time.Time
}

// extraction es el JSON que produce el extractor upstream por mensaje.
// "token": null indica que el mensaje no es una señal.
type extraction struct {
	Token      *string  `json:"token"`
	Direction  string   `json:"direction"`
	Confidence *float64 `json:"confidence"`
	Timeframe  string   `json:"timeframe"`
	Action     string   `json:"action"`
	Reasoning  string   `json:"reasoning"`
}

// ParseSignal interpreta el contenido del mensaje como el JSON del extractor.
// Tolera texto alrededor del objeto. ok es false para mensajes que no son señal
// o con confianza menor a minConfidence.
func ParseSignal(raw domain.RawSignal, minConfidence float64, now time.Time) (Extracted, bool, error) {
	body := raw.Content
	if start := strings.Index(body, "{"); start >= 0 {
		end := strings.LastIndex(body, "}")
		if end < start {
			end = len(body) - 1
		}
		body = body[start : end+1]
	}
	var x extraction
	if err := json.Unmarshal([]byte(body), &x); err != nil {
		return Extracted{}, false, fmt.Errorf("feeds.ParseSignal: %s: %w", raw.Source, err)
	}
	if x.Token == nil {
		return Extracted{}, false, nil
	}
	token := strings.ToUpper(strings.TrimSpace(*x.Token))
	if token == "" || token == "NULL" {
		return Extracted{}, false, nil
	}

	conf := 0.5
	if x.Confidence != nil {
		conf = *x.Confidence
	}
	if conf < minConfidence {
		return Extracted{}, false, nil
	}

	e := Extracted{
		Token:      token,
		Direction:  Neutral,
		Confidence: conf,
		Timeframe:  x.Timeframe,
		Action:     ActionInfo,
		Reasoning:  x.Reasoning,
		Raw:        raw,
		Timestamp:  now,
	}
	switch strings.ToLower(x.Direction) {
	case "bullish":
		e.Direction = Bullish
	case "bearish":
		e.Direction = Bearish
	}
	switch strings.ToLower(x.Action) {
	case "entry":
		e.Action = ActionEntry
	case "exit":
		e.Action = ActionExit
	case "warning":
		e.Action = ActionWarning
	}
	if e.Timeframe == "" {
		e.Timeframe = "1h"
	}
	return e, true, nil
}

// Aggregated es el consenso de varias señales sobre un mismo token.
type Aggregated struct {
	Token      string
	Direction  Direction
	Score      float64 // [0, 1], incluye bonus multi-fuente
	Confidence float64 // de la mejor señal
	Timeframe  string
	Action     Action
	Reasoning  string
	Sources    []domain.RawSignal
	Timestamp  time.Time
}

// Sentiment devuelve el score con signo: positivo alcista, negativo bajista.
func (a Aggregated) Sentiment() float64 {
	switch a.Direction {
	case Bullish:
		return a.Score
	case Bearish:
		return -a.Score
	}
	return 0
}

// SocialConfig parametriza el agregador.
type SocialConfig struct {
	Window        time.Duration
	MinConfidence float64
	MinScore      float64
	// SoloConfidence y SoloTrust habilitan emitir con una sola señal.
	SoloConfidence float64
	SoloTrust      float64
	MinTotalWeight float64
	AuthorBonus    float64
}

func DefaultSocialConfig() SocialConfig {
	return SocialConfig{
		Window:         5 * time.Minute,
		MinConfidence:  0.5,
		MinScore:       0.6,
		SoloConfidence: 0.8,
		SoloTrust:      0.7,
		MinTotalWeight: 0.3,
		AuthorBonus:    0.1,
	}
}

// Aggregator acumula señales por token y emite un consenso cuando hay
// suficiente evidencia dentro de la ventana.
type Aggregator struct {
	cfg SocialConfig
	now func() time.Time

	mu     sync.Mutex
	buffer map[string][]Extracted
	latest map[string]Aggregated
}

// NewAggregator crea un agregador. now puede ser nil.
func NewAggregator(cfg SocialConfig, now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{
		cfg:    cfg,
		now:    now,
		buffer: make(map[string][]Extracted),
		latest: make(map[string]Aggregated),
	}
}

// Add incorpora una señal y devuelve el consenso si alcanza MinScore.
// Las señales que entran en un consenso se consumen.
func (a *Aggregator) Add(e Extracted) (Aggregated, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	cutoff := now.Add(-a.cfg.Window)
	var recent []Extracted
	for _, s := range append(a.buffer[e.Token], e) {
		if s.Timestamp.After(cutoff) {
			recent = append(recent, s)
		}
	}
	if len(recent) == 0 {
		delete(a.buffer, e.Token)
		return Aggregated{}, false
	}
	if len(recent) < 2 {
		first := recent[0]
		if first.Confidence < a.cfg.SoloConfidence || first.Raw.AuthorTrust < a.cfg.SoloTrust {
			a.buffer[e.Token] = recent
			return Aggregated{}, false
		}
	}
	delete(a.buffer, e.Token)

	agg, ok := a.aggregate(e.Token, recent, now)
	if !ok || agg.Score < a.cfg.MinScore {
		return Aggregated{}, false
	}
	a.latest[e.Token] = agg
	slog.Info("social signal aggregated",
		"token", agg.Token,
		"direction", agg.Direction,
		"score", fmt.Sprintf("%.2f", agg.Score),
		"sources", len(agg.Sources),
	)
	return agg, true
}

func (a *Aggregator) aggregate(token string, signals []Extracted, now time.Time) (Aggregated, bool) {
	var bull, bear float64
	agg := Aggregated{Token: token, Timeframe: "1h", Action: ActionInfo, Timestamp: now}
	authors := make(map[string]struct{})
	for _, s := range signals {
		w := s.Confidence * s.Raw.AuthorTrust
		switch s.Direction {
		case Bullish:
			bull += w
		case Bearish:
			bear += w
		}
		agg.Sources = append(agg.Sources, s.Raw)
		authors[s.Raw.Author] = struct{}{}
		if s.Confidence > agg.Confidence {
			agg.Confidence = s.Confidence
			agg.Timeframe = s.Timeframe
			agg.Reasoning = s.Reasoning
			agg.Action = s.Action
		}
	}

	total := bull + bear
	if total < a.cfg.MinTotalWeight {
		return Aggregated{}, false
	}
	var score float64
	switch {
	case bull > bear:
		agg.Direction, score = Bullish, bull/total
	case bear > bull:
		agg.Direction, score = Bearish, bear/total
	default:
		agg.Direction, score = Neutral, 0.5
	}
	agg.Score = min(score+float64(len(authors)-1)*a.cfg.AuthorBonus, 1)
	return agg, true
}

// Sentiment devuelve el último consenso del token si sigue dentro de la ventana.
func (a *Aggregator) Sentiment(token string) (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	agg, ok := a.latest[strings.ToUpper(token)]
	if !ok || a.now().Sub(agg.Timestamp) > a.cfg.Window {
		return 0, false
	}
	return agg.Sentiment(), true
}

// Cleanup descarta señales y consensos más viejos que dos ventanas.
func (a *Aggregator) Cleanup() {
	a.mu.Lock()
	defer a.mu.Unlock()
	cutoff := a.now().Add(-2 * a.cfg.Window)
	for tok, sigs := range a.buffer {
		kept := sigs[:0]
		for _, s := range sigs {
			if s.Timestamp.After(cutoff) {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(a.buffer, tok)
			continue
		}
		a.buffer[tok] = kept
	}
	for tok, agg := range a.latest {
		if !agg.Timestamp.After(cutoff) {
			delete(a.latest, tok)
		}
	}
}

// Run consume la fuente hasta que ctx se cancele o el canal se cierre.
// Cada consenso emitido se envía a out si no es nil (sin bloquear).
func (a *Aggregator) Run(ctx context.Context, src ports.SignalSource, out chan<- Aggregated) error {
	raw, err := src.Signals(ctx)
	if err != nil {
		return fmt.Errorf("feeds.Aggregator.Run: subscribe: %w", err)
	}
	cleanup := time.NewTicker(time.Minute)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-cleanup.C:
			a.Cleanup()
		case msg, ok := <-raw:
			if !ok {
				return nil
			}
			e, ok, err := ParseSignal(msg, a.cfg.MinConfidence, a.now())
			if err != nil {
				slog.Warn("social signal parse failed", "source", msg.Source, "err", err)
				continue
			}
			if !ok {
				continue
			}
			agg, ok := a.Add(e)
			if !ok || out == nil {
				continue
			}
			select {
			case out <- agg:
			default:
				slog.Warn("social signal dropped, consumer busy", "token", agg.Token)
			}
		}
	}
}
