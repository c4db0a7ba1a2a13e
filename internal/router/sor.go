package router

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// Algorithm es la estrategia de reparto entre venues.
type Algorithm int

const (
	BestVenue Algorithm = iota
	ProRata
	MinCost
	MinImpact
	Spray
)

func (a Algorithm) String() string {
	switch a {
	case BestVenue:
		return "best_venue"
	case ProRata:
		return "pro_rata"
	case MinImpact:
		return "min_impact"
	case Spray:
		return "spray"
	default:
		return "min_cost"
	}
}

// ParseAlgorithm convierte el nombre de configuración.
func ParseAlgorithm(s string) (Algorithm, error) {
	for _, a := range []Algorithm{BestVenue, ProRata, MinCost, MinImpact, Spray} {
		if a.String() == s {
			return a, nil
		}
	}
	if s == "" {
		return MinCost, nil
	}
	return MinCost, fmt.Errorf("router.ParseAlgorithm: %q: %w", s, domain.ErrInvalidInput)
}

// ScoreWeights pondera los componentes del score de un venue.
type ScoreWeights struct {
	Price       float64
	Liquidity   float64
	Fee         float64
	Latency     float64
	Reliability float64
}

func DefaultWeights() ScoreWeights { return ScoreWeights{0.35, 0.25, 0.15, 0.15, 0.10} }
func UrgentWeights() ScoreWeights  { return ScoreWeights{0.20, 0.35, 0.10, 0.25, 0.10} }
func PatientWeights() ScoreWeights { return ScoreWeights{0.45, 0.15, 0.25, 0.05, 0.10} }

// WeightsForUrgency interpola entre patient (0) y urgent (1).
func WeightsForUrgency(u float64) ScoreWeights {
	u = max(0, min(1, u))
	p, g := PatientWeights(), UrgentWeights()
	lerp := func(a, b float64) float64 { return a + (b-a)*u }
	return ScoreWeights{
		Price:       lerp(p.Price, g.Price),
		Liquidity:   lerp(p.Liquidity, g.Liquidity),
		Fee:         lerp(p.Fee, g.Fee),
		Latency:     lerp(p.Latency, g.Latency),
		Reliability: lerp(p.Reliability, g.Reliability),
	}
}

// Config parametriza el router.
type Config struct {
	Algorithm        Algorithm
	MinChildFraction decimal.Decimal
	MaxVenues        int
	AllowPartial     bool
	MaxSlippageBps   float64
	RetryOnFailure   bool
	StaleThreshold   time.Duration
}

// DefaultConfig devuelve MinCost con hasta 5 venues.
func DefaultConfig() Config {
	return Config{
		Algorithm:        MinCost,
		MinChildFraction: domain.MustDec("0.05"),
		MaxVenues:        5,
		AllowPartial:     true,
		MaxSlippageBps:   50,
		RetryOnFailure:   true,
		StaleThreshold:   5 * time.Second,
	}
}

// ParentOrder es la orden a repartir.
type ParentOrder struct {
	ID        string
	Symbol    string
	Side      domain.Side
	Quantity  decimal.Decimal
	Type      domain.OrderType
	MaxVenues int // 0 = sin límite propio
	Urgency   float64
	Excluded  []string
	CreatedAt time.Time
}

// NewParentOrder crea una orden con urgencia media.
func NewParentOrder(symbol string, side domain.Side, qty decimal.Decimal, typ domain.OrderType) ParentOrder {
	return ParentOrder{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Side:      side,
		Quantity:  qty,
		Type:      typ,
		Urgency:   0.5,
		CreatedAt: time.Now(),
	}
}

func (o ParentOrder) excludes(venueID string) bool {
	for _, id := range o.Excluded {
		if id == venueID {
			return true
		}
	}
	return false
}

// ChildOrder es la porción asignada a un venue.
type ChildOrder struct {
	ID          string
	ParentID    string
	VenueID     string
	Symbol      string
	Side        domain.Side
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	Type        domain.OrderType
	IsMaker     bool
	ExpectedFee decimal.Decimal // tasa
	Sequence    int
	CreatedAt   time.Time
}

// Notional devuelve quantity × price.
func (c ChildOrder) Notional() decimal.Decimal {
	return c.Quantity.Mul(c.Price)
}

// TotalCost suma la comisión en compras y la resta en ventas.
func (c ChildOrder) TotalCost() decimal.Decimal {
	n := c.Notional()
	fee := n.Mul(c.ExpectedFee)
	if c.Side == domain.Sell {
		return n.Sub(fee)
	}
	return n.Add(fee)
}

// VenueScore son los componentes del score (0-100 cada uno).
type VenueScore struct {
	VenueID       string
	Price         float64
	Liquidity     float64
	Fee           float64
	Latency       float64
	Reliability   float64
	Total         float64
	MaxFill       decimal.Decimal
	ExpectedPrice decimal.Decimal
	HasPrice      bool
	Mid           decimal.Decimal
}

func (s *VenueScore) total(w ScoreWeights) {
	s.Total = s.Price*w.Price + s.Liquidity*w.Liquidity + s.Fee*w.Fee +
		s.Latency*w.Latency + s.Reliability*w.Reliability
}

// Decision es el resultado de rutear una ParentOrder.
type Decision struct {
	ParentID            string
	Children            []ChildOrder
	Scores              []VenueScore
	Algorithm           Algorithm
	ExpectedTotalCost   decimal.Decimal
	ExpectedAvgPrice    decimal.Decimal
	ExpectedSlippageBps float64
	ExceedsSlippage     bool
	Coverage            decimal.Decimal
	ComputeTime         time.Duration
	CreatedAt           time.Time
}

var fullCoverage = domain.MustDec("0.9999")

// IsFullyCovered indica si los children cubren la cantidad pedida.
func (d Decision) IsFullyCovered() bool {
	return d.Coverage.GreaterThanOrEqual(fullCoverage)
}

// NumVenues devuelve la cantidad de venues distintos usados.
func (d Decision) NumVenues() int {
	seen := make(map[string]struct{}, len(d.Children))
	for _, c := range d.Children {
		seen[c.VenueID] = struct{}{}
	}
	return len(seen)
}

// ErrRetryDisabled se devuelve en Reroute cuando RetryOnFailure es false.
var ErrRetryDisabled = errors.New("router: retry on failure disabled")

type venueState struct {
	mu        sync.RWMutex
	venue     Venue
	liquidity map[string]Liquidity
	metrics   VenueMetrics
}

// Router reparte órdenes entre venues registrados.
type Router struct {
	cfg Config
	now func() time.Time

	mu     sync.RWMutex
	venues map[string]*venueState
	seq    int
}

// New crea un Router sin venues.
func New(cfg Config) *Router {
	return &Router{cfg: cfg, now: time.Now, venues: make(map[string]*venueState)}
}

// RegisterVenue agrega o reemplaza un venue.
func (r *Router) RegisterVenue(v Venue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.venues[v.ID] = &venueState{venue: v, liquidity: make(map[string]Liquidity), metrics: newVenueMetrics()}
}

// RemoveVenue elimina un venue y su estado.
func (r *Router) RemoveVenue(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.venues, id)
}

func (r *Router) state(id string) (*venueState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vs, ok := r.venues[id]
	return vs, ok
}

// UpdateLiquidity guarda el snapshot de book de un venue.
func (r *Router) UpdateLiquidity(l Liquidity) error {
	vs, ok := r.state(l.VenueID)
	if !ok {
		return fmt.Errorf("router.UpdateLiquidity: unknown venue %q: %w", l.VenueID, domain.ErrInvalidInput)
	}
	l.Book.Normalize()
	if l.Book.Timestamp.IsZero() {
		l.Book.Timestamp = r.now()
	}
	vs.mu.Lock()
	vs.liquidity[l.Symbol] = l
	vs.mu.Unlock()
	return nil
}

// UpdateVenueStatus cambia el estado operativo de un venue.
func (r *Router) UpdateVenueStatus(id string, s VenueStatus) {
	if vs, ok := r.state(id); ok {
		vs.mu.Lock()
		vs.venue.Status = s
		vs.mu.Unlock()
	}
}

// RecordFeedback actualiza las métricas del venue con una ejecución.
func (r *Router) RecordFeedback(fb Feedback) {
	if vs, ok := r.state(fb.VenueID); ok {
		vs.mu.Lock()
		vs.metrics.update(fb, r.now())
		vs.mu.Unlock()
	}
}

// Metrics devuelve las métricas de un venue.
func (r *Router) Metrics(id string) (VenueMetrics, bool) {
	vs, ok := r.state(id)
	if !ok {
		return VenueMetrics{}, false
	}
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return vs.metrics, true
}

// Venue devuelve un venue registrado.
func (r *Router) Venue(id string) (Venue, bool) {
	vs, ok := r.state(id)
	if !ok {
		return Venue{}, false
	}
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return vs.venue, true
}

// Liquidity devuelve el último snapshot de un venue para un símbolo.
func (r *Router) Liquidity(venueID, symbol string) (Liquidity, bool) {
	vs, ok := r.state(venueID)
	if !ok {
		return Liquidity{}, false
	}
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	l, ok := vs.liquidity[symbol]
	return l, ok
}

// candidate es la foto consistente de un venue durante un ruteo.
type candidate struct {
	venue     Venue
	liquidity Liquidity
	metrics   VenueMetrics
}

func (r *Router) candidates(o ParentOrder) []candidate {
	r.mu.RLock()
	states := make([]*venueState, 0, len(r.venues))
	for _, vs := range r.venues {
		states = append(states, vs)
	}
	r.mu.RUnlock()

	now := r.now()
	out := make([]candidate, 0, len(states))
	for _, vs := range states {
		vs.mu.RLock()
		v := vs.venue
		liq, ok := vs.liquidity[o.Symbol]
		m := vs.metrics
		vs.mu.RUnlock()

		if !v.Available() || !v.Supports(o.Symbol) || o.excludes(v.ID) || !ok {
			continue
		}
		if r.cfg.StaleThreshold > 0 && now.Sub(liq.Book.Timestamp) > r.cfg.StaleThreshold {
			continue
		}
		out = append(out, candidate{venue: v, liquidity: liq, metrics: m})
	}
	// Orden estable para que los empates no dependan del map.
	sort.Slice(out, func(i, j int) bool {
		if out[i].venue.Priority != out[j].venue.Priority {
			return out[i].venue.Priority > out[j].venue.Priority
		}
		return out[i].venue.ID < out[j].venue.ID
	})
	return out
}

func (r *Router) score(o ParentOrder, cands []candidate, w ScoreWeights) []VenueScore {
	limit, _ := o.Type.LimitPrice()
	scores := make([]VenueScore, len(cands))
	var prices []float64
	minFee, maxFee := -1.0, -1.0
	minLat, maxLat := -1.0, -1.0
	for i, c := range cands {
		s := VenueScore{VenueID: c.venue.ID, Price: 50}
		s.Mid, _ = c.liquidity.Book.Mid()
		s.MaxFill = decimal.Min(c.liquidity.Available(o.Side, limit), o.Quantity)
		if !c.venue.MaxSize.IsZero() {
			s.MaxFill = decimal.Min(s.MaxFill, c.venue.MaxSize)
		}
		if p, ok := c.liquidity.AvgPrice(o.Side, s.MaxFill); ok {
			s.ExpectedPrice, s.HasPrice = p, true
			prices = append(prices, domain.Float(p))
		}
		scores[i] = s

		fee := domain.Float(c.venue.TakerFee)
		lat := float64(c.venue.Latency.Milliseconds())
		if minFee < 0 || fee < minFee {
			minFee = fee
		}
		maxFee = max(maxFee, fee)
		if minLat < 0 || lat < minLat {
			minLat = lat
		}
		maxLat = max(maxLat, lat)
	}

	minPrice, maxPrice := 0.0, 1.0
	if len(prices) > 0 {
		minPrice, maxPrice = prices[0], prices[0]
		for _, p := range prices {
			minPrice = min(minPrice, p)
			maxPrice = max(maxPrice, p)
		}
		if minPrice == maxPrice {
			maxPrice = minPrice + 1
		}
	}
	feeRange := maxFee - minFee
	if feeRange == 0 {
		feeRange = 0.01
	}
	latRange := maxLat - minLat
	if latRange < 1 {
		latRange = 100
	}

	for i, c := range cands {
		s := &scores[i]
		if s.HasPrice {
			pf := domain.Float(s.ExpectedPrice)
			if o.Side == domain.Buy {
				s.Price = (maxPrice - pf) / (maxPrice - minPrice) * 100
			} else {
				s.Price = (pf - minPrice) / (maxPrice - minPrice) * 100
			}
		}
		if o.Quantity.IsPositive() {
			s.Liquidity = domain.Float(domain.Div(s.MaxFill, o.Quantity)) * 100
		}
		s.Fee = clamp01((maxFee-domain.Float(c.venue.TakerFee))/feeRange) * 100
		s.Latency = clamp01((maxLat-float64(c.venue.Latency.Milliseconds()))/latRange) * 100
		s.Reliability = c.metrics.Reliability * 100
		s.total(w)
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Total > scores[j].Total })
	return scores
}

func clamp01(v float64) float64 { return max(0, min(1, v)) }

// Route reparte la orden según el algoritmo configurado.
func (r *Router) Route(o ParentOrder) Decision {
	start := time.Now()
	cands := r.candidates(o)
	venues := make(map[string]Venue, len(cands))
	books := make(map[string]Liquidity, len(cands))
	for _, c := range cands {
		venues[c.venue.ID] = c.venue
		books[c.venue.ID] = c.liquidity
	}
	scores := r.score(o, cands, WeightsForUrgency(o.Urgency))

	maxVenues := r.cfg.MaxVenues
	if maxVenues <= 0 || maxVenues > len(scores) {
		maxVenues = len(scores)
	}
	minQty := o.Quantity.Mul(r.cfg.MinChildFraction)

	var allocs []allocation
	switch r.cfg.Algorithm {
	case BestVenue:
		allocs = allocBest(o, scores)
	case ProRata:
		allocs = allocProRata(o, scores, maxVenues, minQty)
	case MinImpact:
		allocs = allocMinImpact(o, scores, maxVenues, minQty)
	case Spray:
		allocs = allocSpray(o, scores, maxVenues, minQty)
	default:
		allocs = allocMinCost(o, scores, venues, maxVenues, minQty)
	}
	if o.MaxVenues > 0 && len(allocs) > o.MaxVenues {
		allocs = allocs[:o.MaxVenues]
	}

	d := Decision{
		ParentID:  o.ID,
		Scores:    scores,
		Algorithm: r.cfg.Algorithm,
		CreatedAt: r.now(),
	}
	r.mu.Lock()
	for _, a := range allocs {
		r.seq++
		v := venues[a.score.VenueID]
		price := a.score.ExpectedPrice
		if p, ok := books[v.ID].AvgPrice(o.Side, a.qty); ok {
			price = p
		}
		d.Children = append(d.Children, ChildOrder{
			ID:          uuid.NewString(),
			ParentID:    o.ID,
			VenueID:     v.ID,
			Symbol:      o.Symbol,
			Side:        o.Side,
			Quantity:    a.qty,
			Price:       price,
			Type:        o.Type,
			ExpectedFee: v.TakerFee,
			Sequence:    r.seq,
			CreatedAt:   d.CreatedAt,
		})
	}
	r.mu.Unlock()

	r.aggregate(&d, o, scores)
	d.ComputeTime = time.Since(start)
	return d
}

func (r *Router) aggregate(d *Decision, o ParentOrder, scores []VenueScore) {
	totalQty, notional, cost := domain.Zero, domain.Zero, domain.Zero
	for _, c := range d.Children {
		totalQty = totalQty.Add(c.Quantity)
		notional = notional.Add(c.Notional())
		cost = cost.Add(c.TotalCost())
	}
	d.ExpectedTotalCost = cost
	d.Coverage = domain.Div(totalQty, o.Quantity)
	d.ExpectedAvgPrice = domain.Div(notional, totalQty)

	// Referencia: mid del venue mejor puntuado.
	ref := d.ExpectedAvgPrice
	for _, s := range scores {
		if s.Mid.IsPositive() {
			ref = s.Mid
			break
		}
	}
	if ref.IsPositive() && totalQty.IsPositive() {
		diff := d.ExpectedAvgPrice.Sub(ref)
		if o.Side == domain.Sell {
			diff = diff.Neg()
		}
		d.ExpectedSlippageBps = domain.Float(domain.Div(diff, ref).Mul(domain.BpsFactor))
	}
	d.ExceedsSlippage = r.cfg.MaxSlippageBps > 0 && d.ExpectedSlippageBps > r.cfg.MaxSlippageBps
}

// Reroute vuelve a rutear excluyendo los venues que fallaron.
func (r *Router) Reroute(o ParentOrder, failed ...string) (Decision, error) {
	if !r.cfg.RetryOnFailure {
		return Decision{}, ErrRetryDisabled
	}
	for _, id := range failed {
		r.UpdateVenueStatus(id, VenueDegraded)
		if !o.excludes(id) {
			o.Excluded = append(o.Excluded, id)
		}
	}
	return r.Route(o), nil
}

type allocation struct {
	score VenueScore
	qty   decimal.Decimal
}

func allocBest(o ParentOrder, scores []VenueScore) []allocation {
	if len(scores) == 0 || !scores[0].MaxFill.IsPositive() || !scores[0].HasPrice {
		return nil
	}
	return []allocation{{scores[0], decimal.Min(scores[0].MaxFill, o.Quantity)}}
}

func allocProRata(o ParentOrder, scores []VenueScore, maxVenues int, minQty decimal.Decimal) []allocation {
	total := domain.Zero
	for _, s := range scores {
		total = total.Add(s.MaxFill)
	}
	if !total.IsPositive() {
		return nil
	}
	var out []allocation
	remaining := o.Quantity
	for _, s := range scores[:maxVenues] {
		if !remaining.IsPositive() {
			break
		}
		target := decimal.Min(o.Quantity.Mul(domain.Div(s.MaxFill, total)), s.MaxFill)
		qty := decimal.Min(target, remaining)
		if qty.LessThan(minQty) || !qty.IsPositive() || !s.HasPrice {
			continue
		}
		out = append(out, allocation{s, qty})
		remaining = remaining.Sub(qty)
	}
	return out
}

func allocMinCost(o ParentOrder, scores []VenueScore, venues map[string]Venue, maxVenues int, minQty decimal.Decimal) []allocation {
	type costed struct {
		s    VenueScore
		cost decimal.Decimal
	}
	var cs []costed
	for _, s := range scores {
		if !s.HasPrice {
			continue
		}
		fee := venues[s.VenueID].TakerFee
		adj := s.ExpectedPrice.Mul(domain.One.Add(fee))
		if o.Side == domain.Sell {
			adj = s.ExpectedPrice.Mul(domain.One.Sub(fee))
		}
		cs = append(cs, costed{s, adj})
	}
	sort.SliceStable(cs, func(i, j int) bool {
		if o.Side == domain.Sell {
			return cs[i].cost.GreaterThan(cs[j].cost)
		}
		return cs[i].cost.LessThan(cs[j].cost)
	})
	if len(cs) > maxVenues {
		cs = cs[:maxVenues]
	}

	var out []allocation
	remaining := o.Quantity
	for _, c := range cs {
		if !remaining.IsPositive() {
			break
		}
		qty := decimal.Min(c.s.MaxFill, remaining)
		if qty.LessThan(minQty) || !qty.IsPositive() {
			continue
		}
		out = append(out, allocation{c.s, qty})
		remaining = remaining.Sub(qty)
	}
	return out
}

func allocMinImpact(o ParentOrder, scores []VenueScore, maxVenues int, minQty decimal.Decimal) []allocation {
	sorted := append([]VenueScore(nil), scores...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Liquidity > sorted[j].Liquidity })

	n := 0
	for _, s := range sorted {
		if s.MaxFill.GreaterThanOrEqual(minQty) && s.HasPrice {
			n++
		}
	}
	n = min(n, maxVenues)
	if n == 0 {
		return nil
	}
	base := domain.Div(o.Quantity, decimal.NewFromInt(int64(n)))

	var out []allocation
	remaining := o.Quantity
	for _, s := range sorted[:maxVenues] {
		if !remaining.IsPositive() {
			break
		}
		qty := decimal.Min(base, s.MaxFill, remaining)
		if qty.LessThan(minQty) || !qty.IsPositive() || !s.HasPrice {
			continue
		}
		out = append(out, allocation{s, qty})
		remaining = remaining.Sub(qty)
	}
	return out
}

func allocSpray(o ParentOrder, scores []VenueScore, maxVenues int, minQty decimal.Decimal) []allocation {
	var eligible []VenueScore
	for _, s := range scores {
		if len(eligible) == maxVenues {
			break
		}
		if s.MaxFill.GreaterThanOrEqual(minQty) && s.MaxFill.IsPositive() && s.HasPrice {
			eligible = append(eligible, s)
		}
	}
	if len(eligible) == 0 {
		return nil
	}
	equal := domain.Div(o.Quantity, decimal.NewFromInt(int64(len(eligible))))
	var out []allocation
	remaining := o.Quantity
	for _, s := range eligible {
		qty := decimal.Min(equal, s.MaxFill, remaining)
		if !qty.IsPositive() {
			continue
		}
		out = append(out, allocation{s, qty})
		remaining = remaining.Sub(qty)
	}
	return out
}
