package paper

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
)

// State es el snapshot persistido de la cuenta. Los campos desconocidos se ignoran al cargar.
type State struct {
	Balance        decimal.Decimal `json:"balance"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	Positions      []Position      `json:"positions"`
	History        []TradeRecord   `json:"history"`
	Fees           decimal.Decimal `json:"fees"`
	Slippage       decimal.Decimal `json:"slippage"`
	FeesPaid       decimal.Decimal `json:"fees_paid"`
	SavedAt        time.Time       `json:"saved_at"`
}

// Snapshot copia el estado actual.
func (t *Trader) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := State{
		Balance:        t.balance,
		InitialBalance: t.cfg.InitialBalance,
		History:        append([]TradeRecord(nil), t.history...),
		Fees:           t.cfg.FeeRate,
		Slippage:       t.cfg.Slippage,
		FeesPaid:       t.feesPaid,
		SavedAt:        t.now(),
	}
	for _, p := range t.sortedPositions() {
		st.Positions = append(st.Positions, *p)
	}
	return st
}

// Restore reemplaza el estado por el snapshot. Fees y slippage vienen del snapshot.
func (t *Trader) Restore(st State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balance = st.Balance
	t.cfg.InitialBalance = st.InitialBalance
	t.cfg.FeeRate = st.Fees
	t.cfg.Slippage = st.Slippage
	t.feesPaid = st.FeesPaid
	t.history = append([]TradeRecord(nil), st.History...)
	t.positions = make(map[string]*Position, len(st.Positions))
	for i := range st.Positions {
		p := st.Positions[i]
		t.positions[p.ID] = &p
	}
}

// SaveState escribe el snapshot en un temporal y lo renombra sobre path.
func SaveState(path string, st State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("paper.SaveState: marshal: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("paper.SaveState: mkdir: %w", err)
		}
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("paper.SaveState: open: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("paper.SaveState: write: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("paper.SaveState: sync: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("paper.SaveState: close: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("paper.SaveState: rename: %w", err)
	}
	return nil
}

// LoadState lee un snapshot. Devuelve false si el archivo no existe.
func LoadState(path string) (State, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("paper.LoadState: read: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, false, fmt.Errorf("paper.LoadState: decode %s: %w", path, err)
	}
	return st, true, nil
}
