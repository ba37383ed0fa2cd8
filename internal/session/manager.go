// Package session keeps audio alive across app lifecycle transitions,
// recovers from interruptions and bridges external transport surfaces to
// the playback engine.
package session

import (
	"errors"
	"fmt"
	log "log/slog"
	"sync"

	"memo/internal/playback"
)

var ErrUnknownCommand = errors.New("session: unknown transport command")

// Transport command kinds accepted from external surfaces.
const (
	CmdPlay         = "play"
	CmdPause        = "pause"
	CmdToggle       = "toggle"
	CmdSkipForward  = "skipForward"
	CmdSkipBackward = "skipBackward"
	CmdSeek         = "seek"
)

// Command is one external transport request.
type Command struct {
	Kind     string  `json:"kind"`
	Interval float64 `json:"interval,omitempty"` // skip commands
	Position float64 `json:"position,omitempty"` // seek
}

// Transport is the slice of the playback engine the manager drives.
// *playback.Engine satisfies it.
type Transport interface {
	Play() error
	Pause() error
	Toggle() error
	Seek(position float64) error
	Skip(delta float64) error
	PersistNow() error
	SuspendTick()
	Resync()
	Status() playback.Status
}

// Manager owns the process-wide audio session state. Constructed once at
// engine startup and passed explicitly; there is no singleton lookup.
type Manager struct {
	mu     sync.Mutex
	engine Transport
	pub    *Publisher

	configured bool
	active     bool

	// Interruption handling: Playing -> AutoPaused -> Playing|Paused.
	autoPaused bool

	title string
	owner string
}

func NewManager(engine Transport, pub *Publisher) *Manager {
	return &Manager{engine: engine, pub: pub}
}

// Configure prepares the session. Must precede Activate.
func (m *Manager) Configure() {
	m.mu.Lock()
	m.configured = true
	m.mu.Unlock()
}

// Activate takes the audio session live.
func (m *Manager) Activate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.configured {
		return errors.New("session: activate before configure")
	}
	m.active = true
	return nil
}

// Deactivate releases the session.
func (m *Manager) Deactivate() {
	m.mu.Lock()
	m.active = false
	m.mu.Unlock()
}

// SetNowPlayingInfo sets the title/owner shown on transport surfaces for
// the loaded clip.
func (m *Manager) SetNowPlayingInfo(title, owner string) {
	m.mu.Lock()
	m.title, m.owner = title, owner
	m.mu.Unlock()
	m.Republish()
}

// Republish pushes a fresh now-playing frame built from engine state.
func (m *Manager) Republish() {
	st := m.engine.Status()
	m.mu.Lock()
	np := NowPlaying{
		ClipID:   st.ClipID,
		Title:    m.title,
		Owner:    m.owner,
		Duration: st.Duration,
		Elapsed:  st.Position,
		Rate:     st.Rate,
		Playing:  st.Playing,
	}
	m.mu.Unlock()
	m.pub.Publish(np)
}

// HandleInterruption reacts to an external interruption (incoming call).
// The position is persisted immediately; the next tick may never fire if
// the app gets suspended.
func (m *Manager) HandleInterruption() {
	if !m.engine.Status().Playing {
		return
	}
	if err := m.engine.PersistNow(); err != nil && !errors.Is(err, playback.ErrNoSession) {
		log.Warn("persist on interruption failed", "err", err)
	}
	if err := m.engine.Pause(); err != nil && !errors.Is(err, playback.ErrNoSession) {
		log.Warn("pause on interruption failed", "err", err)
	}
	m.mu.Lock()
	m.autoPaused = true
	m.mu.Unlock()
	m.Republish()
}

// HandleInterruptionEnded resumes automatically when the system says the
// app should; otherwise the session stays paused until the user acts.
func (m *Manager) HandleInterruptionEnded(shouldResume bool) {
	m.mu.Lock()
	wasAuto := m.autoPaused
	m.autoPaused = false
	m.mu.Unlock()

	if !wasAuto || !shouldResume {
		return
	}
	if err := m.engine.Play(); err != nil && !errors.Is(err, playback.ErrNoSession) {
		log.Warn("resume after interruption failed", "err", err)
	}
	m.Republish()
}

// HandleBackground suspends the progress tick; the now-playing frame
// published here stays accurate while the app is backgrounded.
func (m *Manager) HandleBackground() {
	m.Republish()
	m.engine.SuspendTick()
}

// HandleForeground re-syncs published state from the device and restarts
// the tick. Best-effort: logs and self-heals, never surfaces.
func (m *Manager) HandleForeground() {
	m.engine.Resync()
	m.Republish()
}

// AutoPaused reports whether playback is paused due to an interruption.
func (m *Manager) AutoPaused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.autoPaused
}

// Handle dispatches one external transport command. Commands are
// idempotent against current state; a command with no loaded session is a
// no-op. The now-playing frame is republished afterwards either way.
func (m *Manager) Handle(cmd Command) error {
	var err error
	switch cmd.Kind {
	case CmdPlay:
		err = m.engine.Play()
	case CmdPause:
		err = m.engine.Pause()
	case CmdToggle:
		err = m.engine.Toggle()
	case CmdSkipForward:
		err = m.engine.Skip(cmd.Interval)
	case CmdSkipBackward:
		err = m.engine.Skip(-cmd.Interval)
	case CmdSeek:
		err = m.engine.Seek(cmd.Position)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Kind)
	}

	if errors.Is(err, playback.ErrNoSession) {
		err = nil
	}
	m.Republish()
	return err
}
