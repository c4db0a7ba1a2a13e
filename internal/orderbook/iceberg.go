package orderbook

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// Iceberg es un nivel de precio que se rellena repetidamente.
type Iceberg struct {
	Price          decimal.Decimal
	Side           domain.Side
	VisibleQty     decimal.Decimal
	Refills        int
	HiddenEstimate decimal.Decimal
	Confidence     float64
	LastSeen       time.Time
}

type levelTrack struct {
	price     decimal.Decimal
	side      domain.Side
	lastQty   decimal.Decimal
	decreased bool
	refills   int
	lastSeen  time.Time
}

// IcebergDetector sigue la cantidad de cada nivel entre snapshots.
type IcebergDetector struct {
	threshold int
	ttl       time.Duration
	levels    map[string]*levelTrack
}

// NewIcebergDetector crea un detector con el umbral de refills y el TTL de eviction.
func NewIcebergDetector(threshold int, ttl time.Duration) *IcebergDetector {
	if threshold <= 0 {
		threshold = 3
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &IcebergDetector{threshold: threshold, ttl: ttl, levels: make(map[string]*levelTrack)}
}

// Observe procesa un snapshot.
func (d *IcebergDetector) Observe(ob domain.OrderBook) {
	now := ob.Timestamp
	if now.IsZero() {
		now = time.Now()
	}
	d.observeSide(ob.Bids, domain.Buy, now)
	d.observeSide(ob.Asks, domain.Sell, now)
	d.evict(now)
}

func (d *IcebergDetector) observeSide(levels []domain.BookLevel, side domain.Side, now time.Time) {
	for _, l := range levels {
		key := fmt.Sprintf("%s_%s", l.Price.String(), side)
		tr, ok := d.levels[key]
		if !ok {
			d.levels[key] = &levelTrack{price: l.Price, side: side, lastQty: l.Quantity, lastSeen: now}
			continue
		}
		switch {
		case l.Quantity.LessThan(tr.lastQty):
			tr.decreased = true
		case l.Quantity.GreaterThan(tr.lastQty) && tr.decreased:
			tr.refills++
			tr.decreased = false
		}
		tr.lastQty = l.Quantity
		tr.lastSeen = now
	}
}

func (d *IcebergDetector) evict(now time.Time) {
	for k, tr := range d.levels {
		if now.Sub(tr.lastSeen) > d.ttl {
			delete(d.levels, k)
		}
	}
}

// Icebergs devuelve los niveles con refills >= umbral, ordenados por refills.
func (d *IcebergDetector) Icebergs() []Iceberg {
	var out []Iceberg
	for _, tr := range d.levels {
		if tr.refills < d.threshold {
			continue
		}
		out = append(out, Iceberg{
			Price:          tr.price,
			Side:           tr.side,
			VisibleQty:     tr.lastQty,
			Refills:        tr.refills,
			HiddenEstimate: tr.lastQty.Mul(decimal.NewFromInt(int64(tr.refills))),
			Confidence:     math.Min(float64(tr.refills)/10, 1),
			LastSeen:       tr.lastSeen,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Refills != out[j].Refills {
			return out[i].Refills > out[j].Refills
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}

// Tracked devuelve cuántos niveles se están siguiendo.
func (d *IcebergDetector) Tracked() int {
	return len(d.levels)
}
