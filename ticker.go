package dipole

import "time"

// TickSource is the cadence driving simulation ticks. It decouples the
// loop from any particular display refresh: a wall-clock ticker, a
// vsync callback or a test harness all fit behind the same channel.
type TickSource interface {
	Ticks() <-chan time.Time
	Stop()
}

// WallClock ticks at a fixed wall-clock interval.
type WallClock struct {
	t *time.Ticker
}

func NewWallClock(interval time.Duration) *WallClock {
	return &WallClock{t: time.NewTicker(interval)}
}

func (w *WallClock) Ticks() <-chan time.Time { return w.t.C }
func (w *WallClock) Stop()                   { w.t.Stop() }

// ManualClock is a hand-driven tick source for tests and for callers
// that schedule ticks themselves.
type ManualClock struct {
	ch chan time.Time
}

func NewManualClock() *ManualClock {
	return &ManualClock{ch: make(chan time.Time)}
}

// Tick delivers one tick stamped with t. It blocks until the simulation
// loop picks the tick up, which makes test sequencing deterministic.
func (m *ManualClock) Tick(t time.Time) { m.ch <- t }

func (m *ManualClock) Ticks() <-chan time.Time { return m.ch }
func (m *ManualClock) Stop()                   {}
