package session

import (
	"sync"
	"time"
)

// Ticker is an explicitly owned tick source. Start hands the session a
// handle; the session must call Stop on every exit path so no timer
// outlives the ledger it drives.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory builds the tickers a session needs (countdown and flush
// cadence). Production uses NewWallTicker; tests inject manual tickers.
type TickerFactory func(d time.Duration) Ticker

type wallTicker struct {
	t *time.Ticker
}

// NewWallTicker returns a Ticker backed by time.Ticker.
func NewWallTicker(d time.Duration) Ticker {
	return &wallTicker{t: time.NewTicker(d)}
}

func (w *wallTicker) C() <-chan time.Time { return w.t.C }
func (w *wallTicker) Stop()               { w.t.Stop() }

// ManualTicker is a test ticker fired by calling Tick. Tick blocks until
// the session run loop has picked the tick up, which makes tick-driven
// tests deterministic.
type ManualTicker struct {
	ch   chan time.Time
	mu   sync.Mutex
	dead bool
}

// NewManualTicker creates an unfired ManualTicker.
func NewManualTicker() *ManualTicker {
	return &ManualTicker{ch: make(chan time.Time)}
}

func (m *ManualTicker) C() <-chan time.Time { return m.ch }

func (m *ManualTicker) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dead = true
}

// Tick delivers one tick. Returns false if the ticker was stopped or the
// consumer is gone.
func (m *ManualTicker) Tick() bool {
	m.mu.Lock()
	if m.dead {
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()

	select {
	case m.ch <- time.Now():
		return true
	case <-time.After(time.Second):
		return false
	}
}
