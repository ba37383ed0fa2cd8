package capture

import (
	"errors"
	"fmt"
	"sync"

	"memo/pkg/codec"
)

var (
	ErrDeviceUnavailable = errors.New("capture: device unavailable")
	ErrInvalidState      = errors.New("capture: invalid state transition")
	ErrBusy              = errors.New("capture: recording already in progress")
)

// State is the capture session lifecycle.
type State int

const (
	Idle State = iota
	Recording
	Paused
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Device is an open input stream delivering one frame per Read.
type Device interface {
	Read() error
	Buffer() []float32
	Close() error
}

// DeviceOpener opens an input device, or fails with ErrDeviceUnavailable.
type DeviceOpener func(channels, sampleRate, frameSize int) (Device, error)

// Controller owns the microphone. At most one live session at a time;
// a second Start is refused, never queued.
type Controller struct {
	mu     sync.Mutex
	open   DeviceOpener
	init   func() error
	term   func() error
	active *Session
}

// NewController returns a controller backed by the default input device.
func NewController() *Controller {
	return &Controller{open: openPortAudio, init: initPortAudio, term: termPortAudio}
}

// NewControllerWith substitutes the device opener. Used by tests.
func NewControllerWith(open DeviceOpener) *Controller {
	return &Controller{
		open: open,
		init: func() error { return nil },
		term: func() error { return nil },
	}
}

func (c *Controller) Init() error { return c.init() }

func (c *Controller) Close() error { return c.term() }

// Start opens the device for the given quality and begins recording.
func (c *Controller) Start(q Quality) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil && !c.active.terminal() {
		return nil, ErrBusy
	}

	set := q.Settings()
	// One device read per level sample: 50ms frames.
	frameSize := set.SampleRate / 20

	dev, err := c.open(set.Channels, set.SampleRate, frameSize)
	if err != nil {
		return nil, err
	}

	s := &Session{
		quality: q,
		set:     set,
		dev:     dev,
		levels:  NewLevelRing(DefaultLevelHistory),
		state:   Recording,
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
	c.active = s
	go s.run()
	return s, nil
}

// Session is a single in-flight recording. It is created Recording and
// ends Stopped; there is no resurrection.
type Session struct {
	mu      sync.Mutex
	state   State
	quality Quality
	set     Settings
	dev     Device

	samples []float32 // interleaved, grows while Recording
	frames  int
	markers []float64
	levels  *LevelRing
	encoded []byte
	readErr error

	done   chan struct{}
	exited chan struct{}
}

func (s *Session) run() {
	defer close(s.exited)
	for {
		select {
		case <-s.done:
			return
		default:
		}

		if err := s.dev.Read(); err != nil {
			s.mu.Lock()
			s.readErr = err
			s.mu.Unlock()
			return
		}

		s.mu.Lock()
		if s.state == Recording {
			buf := s.dev.Buffer()
			s.samples = append(s.samples, buf...)
			s.frames += len(buf) / s.set.Channels
			s.levels.Push(normalizedLevel(buf))
		}
		// While Paused the frame is read and discarded so the device
		// buffer never overflows; elapsed and levels stay frozen.
		s.mu.Unlock()
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) terminal() bool {
	return s.State() == Stopped
}

// Elapsed is accumulated recording time in seconds, frozen while Paused.
func (s *Session) Elapsed() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsedLocked()
}

func (s *Session) elapsedLocked() float64 {
	return float64(s.frames) / float64(s.set.SampleRate)
}

// Levels is the live meter history, oldest first.
func (s *Session) Levels() []float64 { return s.levels.Snapshot() }

// PauseMarkers are the elapsed offsets at which recording was paused.
func (s *Session) PauseMarkers() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.markers...)
}

func (s *Session) Quality() Quality { return s.quality }

// Pause freezes the recording and records a pause marker.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Recording {
		return fmt.Errorf("%w: pause from %s", ErrInvalidState, s.state)
	}
	s.state = Paused
	s.markers = append(s.markers, s.elapsedLocked())
	return nil
}

// Resume continues a paused recording.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Paused {
		return fmt.Errorf("%w: resume from %s", ErrInvalidState, s.state)
	}
	s.state = Recording
	return nil
}

// Stop finalizes the recording and returns the encoded bytes and duration.
// On encode failure the session is still Stopped and holds no bytes.
func (s *Session) Stop() ([]byte, float64, error) {
	if err := s.teardown(); err != nil {
		return nil, 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readErr != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrDeviceUnavailable, s.readErr)
	}

	var (
		enc []byte
		err error
	)
	if s.set.Lossless {
		enc, err = codec.EncodeWAV(s.samples, s.set.SampleRate, s.set.Channels)
	} else {
		enc, err = codec.EncodeOpus(s.samples, s.set.SampleRate, s.set.Channels, s.set.Bitrate)
	}
	if err != nil {
		return nil, 0, err
	}

	s.encoded = enc
	return enc, s.elapsedLocked(), nil
}

// Discard tears the session down without producing bytes.
func (s *Session) Discard() error {
	return s.teardown()
}

// teardown stops the read loop before releasing the device, so no read can
// touch a closed stream.
func (s *Session) teardown() error {
	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		return fmt.Errorf("%w: stop from %s", ErrInvalidState, s.state)
	}
	s.state = Stopped
	close(s.done)
	s.mu.Unlock()

	<-s.exited
	return s.dev.Close()
}
