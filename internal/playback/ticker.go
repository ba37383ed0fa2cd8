package playback

import "time"

// Ticker drives the progress loop. Abstracted so the engine runs under
// tests without wall-clock timers or a UI run loop.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type TickerFactory func(d time.Duration) Ticker

type wallTicker struct{ t *time.Ticker }

func newWallTicker(d time.Duration) Ticker { return &wallTicker{t: time.NewTicker(d)} }

func (w *wallTicker) C() <-chan time.Time { return w.t.C }
func (w *wallTicker) Stop()               { w.t.Stop() }
