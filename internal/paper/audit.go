package paper

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// AuditEntry es una línea del audit log.
type AuditEntry struct {
	Timestamp     time.Time        `json:"timestamp"`
	Action        Action           `json:"action"`
	MarketID      string           `json:"market_id"`
	Side          Outcome          `json:"side,omitempty"`
	Shares        *decimal.Decimal `json:"shares,omitempty"`
	Price         decimal.Decimal  `json:"price"`
	PnL           *decimal.Decimal `json:"pnl,omitempty"`
	PnLPct        *decimal.Decimal `json:"pnl_pct,omitempty"`
	Reason        string           `json:"reason"`
	BalanceBefore decimal.Decimal  `json:"balance_before"`
	BalanceAfter  decimal.Decimal  `json:"balance_after"`
}

// PriceSnapshot es una línea del log diario de precios.
type PriceSnapshot struct {
	Timestamp time.Time       `json:"timestamp"`
	MarketID  string          `json:"market_id"`
	Question  string          `json:"question"`
	YesPrice  decimal.Decimal `json:"yes_price"`
	NoPrice   decimal.Decimal `json:"no_price"`
}

// jsonlWriter agrega una línea JSON por llamada y hace fsync de cada una.
type jsonlWriter struct {
	mu sync.Mutex
}

func (w *jsonlWriter) append(path string, v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Sync()
}

// SnapshotPath devuelve dir/YYYY-MM-DD.jsonl para el día UTC de t.
func SnapshotPath(dir string, t time.Time) string {
	return filepath.Join(dir, t.UTC().Format("2006-01-02")+".jsonl")
}

// ReadAudit lee todas las entradas del audit log. Un archivo inexistente es un log vacío.
func ReadAudit(path string) ([]AuditEntry, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("paper.ReadAudit: %w", err)
	}
	defer f.Close()

	var out []AuditEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for n := 1; sc.Scan(); n++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("paper.ReadAudit: line %d: %w", n, err)
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("paper.ReadAudit: %w", err)
	}
	return out, nil
}
