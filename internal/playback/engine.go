// Package playback decodes and plays clip bytes with transport controls,
// persisted resume positions and speed control. At most one playback
// session exists at a time.
package playback

import (
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	"github.com/faiface/beep"

	"memo/pkg/codec"
)

const (
	tickInterval = 100 * time.Millisecond

	// persistEvery is how much playback time may pass between resume writes.
	persistEvery = 5.0

	// resumeGuard is the band at both ends inside which a stored position
	// is ignored on load.
	resumeGuard = 5.0

	endEpsilon = 0.05
)

var (
	ErrNoSession = errors.New("playback: no clip loaded")
	ErrBadRate   = errors.New("playback: unsupported rate")
)

// Rates is the discrete set of supported speed multipliers.
var Rates = []float64{0.5, 1.0, 1.5, 2.0}

// ResumeStore is the persisted clipID -> position map the engine reads and
// writes. Satisfied by store.ResumeStore.
type ResumeStore interface {
	Set(clipID string, position float64) error
	Get(clipID string) (float64, bool, error)
	Clear(clipID string) error
}

// Status is a published snapshot of the active session.
type Status struct {
	ClipID   string
	Position float64
	Duration float64
	Rate     float64
	Playing  bool
}

type session struct {
	clipID    string
	streamer  *clipStreamer
	resampler *beep.Resampler
	ctrl      *beep.Ctrl
	rate      float64
	playing   bool

	lastPersist float64
	done        chan struct{}
	exited      chan struct{}
}

// Engine owns the output device and the single playback session.
type Engine struct {
	mu        sync.Mutex
	dev       OutputDevice
	resume    ResumeStore
	newTicker TickerFactory
	notify    func(Status)

	cur *session
}

func New(dev OutputDevice, resume ResumeStore) *Engine {
	return &Engine{dev: dev, resume: resume, newTicker: newWallTicker}
}

// SetTickerFactory substitutes the progress ticker. Used by tests.
func (e *Engine) SetTickerFactory(f TickerFactory) { e.newTicker = f }

// SetNotify registers the status callback invoked after every state change
// and progress tick. Called without engine locks held.
func (e *Engine) SetNotify(f func(Status)) { e.notify = f }

// Load decodes the clip and starts playing it, resuming from a stored
// position when one lies outside the guard bands. Loading the clip that is
// already loaded toggles play/pause instead. Loading a different clip
// persists the old session's position and tears it down first.
func (e *Engine) Load(clipID string, data []byte, encoding string) error {
	e.mu.Lock()

	if s := e.cur; s != nil && s.clipID == clipID {
		e.mu.Unlock()
		return e.Toggle()
	}

	if s := e.cur; s != nil {
		e.persistLocked(s)
		e.teardownLocked()
	}

	clip, err := codec.Decode(data, encoding)
	if err != nil {
		e.mu.Unlock()
		return err
	}

	cs := newClipStreamer(clip)
	dur := clip.Duration()
	pos, ok, err := e.resume.Get(clipID)
	if err != nil {
		log.Warn("resume lookup failed", "clip", clipID, "err", err)
	} else if ok && pos > resumeGuard && pos < dur-resumeGuard {
		cs.Seek(int(pos * float64(clip.SampleRate)))
	}

	resampler := beep.ResampleRatio(4, 1.0, cs)
	ctrl := &beep.Ctrl{Streamer: resampler}
	s := &session{
		clipID:      clipID,
		streamer:    cs,
		resampler:   resampler,
		ctrl:        ctrl,
		rate:        1.0,
		playing:     true,
		lastPersist: float64(cs.Position()) / float64(clip.SampleRate),
	}

	if err := e.dev.Start(clip.SampleRate, ctrl); err != nil {
		e.mu.Unlock()
		return err
	}
	e.cur = s
	e.startTickLocked(s)

	st := e.statusLocked(s)
	e.mu.Unlock()
	e.emit(st)
	return nil
}

// Play resumes the loaded clip. Idempotent while already playing.
func (e *Engine) Play() error { return e.setPaused(false) }

// Pause pauses the loaded clip and persists its position immediately.
func (e *Engine) Pause() error { return e.setPaused(true) }

func (e *Engine) setPaused(paused bool) error {
	e.mu.Lock()
	s := e.cur
	if s == nil {
		e.mu.Unlock()
		return ErrNoSession
	}
	if s.playing == !paused {
		e.mu.Unlock()
		return nil
	}

	e.dev.Lock()
	s.ctrl.Paused = paused
	e.dev.Unlock()
	s.playing = !paused

	if paused {
		e.persistLocked(s)
	}
	st := e.statusLocked(s)
	e.mu.Unlock()
	e.emit(st)
	return nil
}

// Toggle flips play/pause, the "tap the same item again" behavior.
func (e *Engine) Toggle() error {
	e.mu.Lock()
	s := e.cur
	if s == nil {
		e.mu.Unlock()
		return ErrNoSession
	}
	playing := s.playing
	e.mu.Unlock()

	if playing {
		return e.Pause()
	}
	return e.Play()
}

// Seek moves to the given position, clamped to [0, duration].
func (e *Engine) Seek(position float64) error {
	e.mu.Lock()
	s := e.cur
	if s == nil {
		e.mu.Unlock()
		return ErrNoSession
	}

	dur := s.streamer.clip.Duration()
	if position < 0 {
		position = 0
	}
	if position > dur {
		position = dur
	}

	e.dev.Lock()
	s.streamer.Seek(int(position * float64(s.streamer.clip.SampleRate)))
	e.dev.Unlock()
	s.lastPersist = position

	st := e.statusLocked(s)
	e.mu.Unlock()
	e.emit(st)
	return nil
}

// Skip moves by delta seconds. Past either end it clamps, never errors.
func (e *Engine) Skip(delta float64) error {
	e.mu.Lock()
	s := e.cur
	if s == nil {
		e.mu.Unlock()
		return ErrNoSession
	}
	pos := e.positionLocked(s)
	e.mu.Unlock()
	return e.Seek(pos + delta)
}

// SetRate switches playback speed without resetting position.
func (e *Engine) SetRate(rate float64) error {
	valid := false
	for _, r := range Rates {
		if r == rate {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: %g", ErrBadRate, rate)
	}

	e.mu.Lock()
	s := e.cur
	if s == nil {
		e.mu.Unlock()
		return ErrNoSession
	}

	e.dev.Lock()
	s.resampler.SetRatio(rate)
	e.dev.Unlock()
	s.rate = rate

	st := e.statusLocked(s)
	e.mu.Unlock()
	e.emit(st)
	return nil
}

// Stop persists the current position and tears the session down.
func (e *Engine) Stop() error {
	e.mu.Lock()
	s := e.cur
	if s == nil {
		e.mu.Unlock()
		return nil
	}
	e.persistLocked(s)
	e.teardownLocked()
	e.mu.Unlock()
	// Re-read: teardown may have yielded to a concurrent Load.
	e.emit(e.Status())
	return nil
}

// PersistNow writes the current position to the resume store immediately,
// without waiting for the next periodic tick.
func (e *Engine) PersistNow() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.cur
	if s == nil {
		return ErrNoSession
	}
	return e.persistLocked(s)
}

// SuspendTick stops the progress loop while keeping the session alive.
// Used when the hosting app goes to the background.
func (e *Engine) SuspendTick() {
	e.mu.Lock()
	if s := e.cur; s != nil {
		e.stopTickLocked(s)
	}
	e.mu.Unlock()
}

// Resync republishes state from the device, which is the source of truth
// after any backgrounding interval, and restarts the tick if playing.
func (e *Engine) Resync() {
	e.mu.Lock()
	s := e.cur
	if s == nil {
		e.mu.Unlock()
		return
	}
	if s.playing && s.done == nil {
		e.startTickLocked(s)
	}
	st := e.statusLocked(s)
	e.mu.Unlock()
	e.emit(st)
}

// Status returns a snapshot of the active session, zero when idle.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.cur
	if s == nil {
		return Status{}
	}
	return e.statusLocked(s)
}

// Position returns the current offset in seconds.
func (e *Engine) Position() float64 { return e.Status().Position }

// Playing reports whether a session exists and is not paused.
func (e *Engine) Playing() bool { return e.Status().Playing }

// ClipID returns the loaded clip's id, empty when idle.
func (e *Engine) ClipID() string { return e.Status().ClipID }

// internals

func (e *Engine) startTickLocked(s *session) {
	done := make(chan struct{})
	exited := make(chan struct{})
	s.done, s.exited = done, exited
	t := e.newTicker(tickInterval)

	go func() {
		defer close(exited)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C():
				if e.onTick(s) {
					return
				}
			}
		}
	}()
}

// stopTickLocked cancels the tick goroutine and waits for it to exit. The
// engine lock is dropped while waiting; callers must make the session
// unreachable (or tolerate one more no-op tick) before calling.
func (e *Engine) stopTickLocked(s *session) {
	if s.done == nil {
		return
	}
	close(s.done)
	exited := s.exited
	s.done, s.exited = nil, nil

	e.mu.Unlock()
	<-exited
	e.mu.Lock()
}

// teardownLocked cancels the tick before releasing the device, so no tick
// can touch a stopped session.
func (e *Engine) teardownLocked() {
	s := e.cur
	if s == nil {
		return
	}
	e.cur = nil
	e.stopTickLocked(s)
	// stopTickLocked dropped the lock while waiting; a Load may have
	// installed a new session in that gap, and its device must stay live.
	if e.cur == nil {
		e.dev.Stop()
	}
}

// onTick recomputes the position, persists on the coarse cadence and
// auto-stops at the end of the clip. Returns true when the loop must exit.
func (e *Engine) onTick(s *session) bool {
	e.mu.Lock()
	if e.cur != s {
		e.mu.Unlock()
		return true
	}
	if !s.playing {
		e.mu.Unlock()
		return false
	}

	pos := e.positionLocked(s)
	dur := s.streamer.clip.Duration()

	if pos >= dur-endEpsilon {
		// Finished, not paused mid-way: no resume entry survives.
		e.cur = nil
		s.playing = false
		s.done = nil
		if err := e.resume.Clear(s.clipID); err != nil {
			log.Warn("clear resume entry failed", "clip", s.clipID, "err", err)
		}
		e.dev.Stop()
		e.mu.Unlock()
		e.emit(Status{})
		return true
	}

	if pos-s.lastPersist >= persistEvery {
		s.lastPersist = pos
		if err := e.writeResume(s, pos); err != nil {
			log.Warn("persist resume position failed", "clip", s.clipID, "err", err)
		}
	}

	st := e.statusLocked(s)
	e.mu.Unlock()
	e.emit(st)
	return false
}

func (e *Engine) persistLocked(s *session) error {
	pos := e.positionLocked(s)
	s.lastPersist = pos
	return e.writeResume(s, pos)
}

// writeResume stores the position, except inside the trailing guard band: a
// position there would be ignored on load anyway, so the entry is cleared
// and a nearly-finished clip restarts from the top.
func (e *Engine) writeResume(s *session, pos float64) error {
	if pos >= s.streamer.clip.Duration()-resumeGuard {
		if err := e.resume.Clear(s.clipID); err != nil {
			return fmt.Errorf("clear resume position: %w", err)
		}
		return nil
	}
	if err := e.resume.Set(s.clipID, pos); err != nil {
		return fmt.Errorf("persist resume position: %w", err)
	}
	return nil
}

func (e *Engine) positionLocked(s *session) float64 {
	e.dev.Lock()
	p := s.streamer.Position()
	e.dev.Unlock()
	return float64(p) / float64(s.streamer.clip.SampleRate)
}

func (e *Engine) statusLocked(s *session) Status {
	return Status{
		ClipID:   s.clipID,
		Position: e.positionLocked(s),
		Duration: s.streamer.clip.Duration(),
		Rate:     s.rate,
		Playing:  s.playing,
	}
}

func (e *Engine) emit(st Status) {
	if e.notify != nil {
		e.notify(st)
	}
}
