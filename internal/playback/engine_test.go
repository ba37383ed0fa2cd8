package playback

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/faiface/beep"

	"memo/pkg/codec"
)

// manualDevice is an OutputDevice whose clock is the test: samples move only
// when Pump is called.
type manualDevice struct {
	mu        sync.Mutex
	s         beep.Streamer
	rate      int
	stops     int
	failStart bool
}

func (d *manualDevice) Start(sampleRate int, s beep.Streamer) error {
	if d.failStart {
		return ErrDeviceUnavailable
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.s, d.rate = s, sampleRate
	return nil
}

func (d *manualDevice) Lock()   { d.mu.Lock() }
func (d *manualDevice) Unlock() { d.mu.Unlock() }

func (d *manualDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.s = nil
	d.stops++
	return nil
}

// Pump pulls n frames through the pipeline, as the sound card would.
func (d *manualDevice) Pump(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.s == nil {
		return
	}
	buf := make([][2]float64, 512)
	for n > 0 {
		m := len(buf)
		if n < m {
			m = n
		}
		if got, ok := d.s.Stream(buf[:m]); !ok && got == 0 {
			return
		}
		n -= m
	}
}

func (d *manualDevice) stopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.s == nil
}

type manualTicker struct{ c chan time.Time }

func (t *manualTicker) C() <-chan time.Time { return t.c }
func (t *manualTicker) Stop()               {}

// tickerHub hands the engine manual tickers and lets the test fire the
// newest one.
type tickerHub struct {
	mu   sync.Mutex
	last *manualTicker
}

func (h *tickerHub) factory(time.Duration) Ticker {
	t := &manualTicker{c: make(chan time.Time)}
	h.mu.Lock()
	h.last = t
	h.mu.Unlock()
	return t
}

func (h *tickerHub) tick() {
	h.mu.Lock()
	t := h.last
	h.mu.Unlock()
	t.c <- time.Now()
}

type memResume struct {
	mu sync.Mutex
	m  map[string]float64
}

func newMemResume() *memResume { return &memResume{m: make(map[string]float64)} }

func (r *memResume) Set(clipID string, pos float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[clipID] = pos
	return nil
}

func (r *memResume) Get(clipID string) (float64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.m[clipID]
	return p, ok, nil
}

func (r *memResume) Clear(clipID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, clipID)
	return nil
}

// testClip is 120 s of mono WAV at 1 kHz, small enough to decode instantly
// while keeping positions in whole milliseconds.
const testRate = 1000

func testClip(t *testing.T, seconds float64) []byte {
	t.Helper()
	pcm := make([]float32, int(seconds*testRate))
	for i := range pcm {
		pcm[i] = 0.1
	}
	data, err := codec.EncodeWAV(pcm, testRate, 1)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func newTestEngine(t *testing.T) (*Engine, *manualDevice, *tickerHub, *memResume, chan Status) {
	t.Helper()
	dev := &manualDevice{}
	hub := &tickerHub{}
	resume := newMemResume()

	e := New(dev, resume)
	e.SetTickerFactory(hub.factory)
	statuses := make(chan Status, 128)
	e.SetNotify(func(st Status) { statuses <- st })

	t.Cleanup(func() { e.Stop() })
	return e, dev, hub, resume, statuses
}

func waitStatus(t *testing.T, ch <-chan Status, pred func(Status) bool) Status {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case st := <-ch:
			if pred(st) {
				return st
			}
		case <-deadline:
			t.Fatal("expected status never observed")
		}
	}
}

func TestLoadStartsPlaying(t *testing.T) {
	e, dev, _, _, _ := newTestEngine(t)
	data := testClip(t, 120)

	if err := e.Load("clip-a", data, codec.EncodingWAV); err != nil {
		t.Fatal(err)
	}

	st := e.Status()
	if st.ClipID != "clip-a" || !st.Playing {
		t.Fatalf("status = %+v", st)
	}
	if st.Position != 0 || st.Rate != 1.0 {
		t.Fatalf("status = %+v", st)
	}
	if st.Duration < 119.9 || st.Duration > 120.1 {
		t.Fatalf("duration = %g", st.Duration)
	}
	if dev.rate != testRate {
		t.Fatalf("device started at %d Hz", dev.rate)
	}
}

func TestLoadResumesStoredPosition(t *testing.T) {
	e, _, _, resume, _ := newTestEngine(t)
	data := testClip(t, 120)

	resume.Set("clip-a", 40)
	if err := e.Load("clip-a", data, codec.EncodingWAV); err != nil {
		t.Fatal(err)
	}
	if pos := e.Position(); pos != 40 {
		t.Fatalf("resumed at %g, want 40", pos)
	}
}

func TestLoadIgnoresPositionInGuardBands(t *testing.T) {
	data := testClip(t, 120)

	tests := []struct {
		name   string
		stored float64
	}{
		{"near start", 3},
		{"near end", 118},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _, _, resume, _ := newTestEngine(t)
			resume.Set("clip-a", tt.stored)
			if err := e.Load("clip-a", data, codec.EncodingWAV); err != nil {
				t.Fatal(err)
			}
			if pos := e.Position(); pos != 0 {
				t.Fatalf("started at %g, want 0", pos)
			}
		})
	}
}

func TestLoadSameClipToggles(t *testing.T) {
	e, _, _, _, _ := newTestEngine(t)
	data := testClip(t, 120)

	if err := e.Load("clip-a", data, codec.EncodingWAV); err != nil {
		t.Fatal(err)
	}
	if err := e.Load("clip-a", data, codec.EncodingWAV); err != nil {
		t.Fatal(err)
	}
	if e.Playing() {
		t.Fatal("second load should pause, not restart")
	}
	if err := e.Load("clip-a", data, codec.EncodingWAV); err != nil {
		t.Fatal(err)
	}
	if !e.Playing() {
		t.Fatal("third load should resume")
	}
}

func TestSwitchingClipsPersistsOldPosition(t *testing.T) {
	e, _, _, resume, _ := newTestEngine(t)

	if err := e.Load("clip-a", testClip(t, 120), codec.EncodingWAV); err != nil {
		t.Fatal(err)
	}
	if err := e.Seek(30); err != nil {
		t.Fatal(err)
	}
	if err := e.Load("clip-b", testClip(t, 60), codec.EncodingWAV); err != nil {
		t.Fatal(err)
	}

	pos, found, _ := resume.Get("clip-a")
	if !found || pos != 30 {
		t.Fatalf("old clip resume = %g, %v", pos, found)
	}
	if e.ClipID() != "clip-b" || e.Position() != 0 {
		t.Fatalf("new session = %+v", e.Status())
	}
}

func TestPausePersistsImmediately(t *testing.T) {
	e, _, _, resume, _ := newTestEngine(t)

	if err := e.Load("clip-a", testClip(t, 120), codec.EncodingWAV); err != nil {
		t.Fatal(err)
	}
	if err := e.Seek(30); err != nil {
		t.Fatal(err)
	}
	if err := e.Pause(); err != nil {
		t.Fatal(err)
	}

	if e.Playing() {
		t.Fatal("still playing after pause")
	}
	pos, found, _ := resume.Get("clip-a")
	if !found || pos != 30 {
		t.Fatalf("resume after pause = %g, %v", pos, found)
	}

	// pausing again is a no-op
	if err := e.Pause(); err != nil {
		t.Fatal(err)
	}
	if err := e.Play(); err != nil {
		t.Fatal(err)
	}
	if !e.Playing() {
		t.Fatal("not playing after play")
	}
}

func waitResume(t *testing.T, r *memResume, clipID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok, _ := r.Get(clipID); ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("resume entry never written")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestLoadDuringStopKeepsNewSession(t *testing.T) {
	dev := &manualDevice{}
	hub := &tickerHub{}
	resume := newMemResume()
	e := New(dev, resume)
	e.SetTickerFactory(hub.factory)

	// the notify callback parks the tick goroutine on demand, holding the
	// teardown in its wait-for-tick-exit window
	var park atomic.Bool
	entered := make(chan struct{})
	release := make(chan struct{})
	e.SetNotify(func(Status) {
		if park.Load() {
			entered <- struct{}{}
			<-release
		}
	})
	t.Cleanup(func() { e.Stop() })

	if err := e.Load("clip-a", testClip(t, 120), codec.EncodingWAV); err != nil {
		t.Fatal(err)
	}

	park.Store(true)
	go hub.tick()
	<-entered
	park.Store(false)

	stopped := make(chan struct{})
	go func() {
		e.Stop()
		close(stopped)
	}()

	// Stop persists under the lock before it starts waiting for the parked
	// tick goroutine; once the entry shows up Stop is committed to teardown
	waitResume(t, resume, "clip-a")
	time.Sleep(20 * time.Millisecond)

	if err := e.Load("clip-b", testClip(t, 60), codec.EncodingWAV); err != nil {
		t.Fatal(err)
	}

	close(release)
	<-stopped

	if dev.stopped() {
		t.Fatal("old teardown silenced the new session's device")
	}
	st := e.Status()
	if st.ClipID != "clip-b" || !st.Playing {
		t.Fatalf("status after interleaved stop = %+v", st)
	}
}

func TestStopPersistsAndTearsDown(t *testing.T) {
	e, dev, _, resume, _ := newTestEngine(t)

	if err := e.Load("clip-a", testClip(t, 120), codec.EncodingWAV); err != nil {
		t.Fatal(err)
	}
	if err := e.Seek(50); err != nil {
		t.Fatal(err)
	}
	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}

	pos, found, _ := resume.Get("clip-a")
	if !found || pos != 50 {
		t.Fatalf("resume after stop = %g, %v", pos, found)
	}
	if st := e.Status(); st != (Status{}) {
		t.Fatalf("status after stop = %+v", st)
	}
	if !dev.stopped() {
		t.Fatal("device not released")
	}

	// stop when idle is a no-op
	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}
}

func TestPauseInsideEndGuardClearsResume(t *testing.T) {
	e, _, _, resume, _ := newTestEngine(t)

	if err := e.Load("clip-a", testClip(t, 120), codec.EncodingWAV); err != nil {
		t.Fatal(err)
	}
	if err := e.Seek(60); err != nil {
		t.Fatal(err)
	}
	if err := e.PersistNow(); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := resume.Get("clip-a"); !found {
		t.Fatal("persist did not write")
	}

	if err := e.Seek(118); err != nil {
		t.Fatal(err)
	}
	if err := e.Pause(); err != nil {
		t.Fatal(err)
	}

	// inside the guard band the load would ignore the position anyway, so
	// the pause drops the entry instead of writing 118
	if pos, found, _ := resume.Get("clip-a"); found {
		t.Fatalf("resume entry %g retained inside the end guard band", pos)
	}
}

func TestStopInsideEndGuardClearsResume(t *testing.T) {
	e, _, _, resume, _ := newTestEngine(t)

	if err := e.Load("clip-a", testClip(t, 120), codec.EncodingWAV); err != nil {
		t.Fatal(err)
	}
	if err := e.Seek(40); err != nil {
		t.Fatal(err)
	}
	if err := e.PersistNow(); err != nil {
		t.Fatal(err)
	}

	if err := e.Seek(117); err != nil {
		t.Fatal(err)
	}
	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}

	if pos, found, _ := resume.Get("clip-a"); found {
		t.Fatalf("resume entry %g retained after stop near the end", pos)
	}
}

func TestSeekClamps(t *testing.T) {
	e, _, _, _, _ := newTestEngine(t)

	if err := e.Load("clip-a", testClip(t, 120), codec.EncodingWAV); err != nil {
		t.Fatal(err)
	}

	if err := e.Seek(-10); err != nil {
		t.Fatal(err)
	}
	if pos := e.Position(); pos != 0 {
		t.Fatalf("seek before start -> %g", pos)
	}

	if err := e.Seek(500); err != nil {
		t.Fatal(err)
	}
	if pos := e.Position(); pos != 120 {
		t.Fatalf("seek past end -> %g", pos)
	}
}

func TestSkip(t *testing.T) {
	e, _, _, _, _ := newTestEngine(t)

	if err := e.Load("clip-a", testClip(t, 120), codec.EncodingWAV); err != nil {
		t.Fatal(err)
	}
	if err := e.Seek(60); err != nil {
		t.Fatal(err)
	}

	if err := e.Skip(-15); err != nil {
		t.Fatal(err)
	}
	if pos := e.Position(); pos != 45 {
		t.Fatalf("skip back -> %g, want 45", pos)
	}

	if err := e.Skip(-1000); err != nil {
		t.Fatal(err)
	}
	if pos := e.Position(); pos != 0 {
		t.Fatalf("skip past start -> %g", pos)
	}

	if err := e.Skip(1000); err != nil {
		t.Fatal(err)
	}
	if pos := e.Position(); pos != 120 {
		t.Fatalf("skip past end -> %g", pos)
	}
}

func TestSetRate(t *testing.T) {
	e, _, _, _, _ := newTestEngine(t)

	if err := e.SetRate(1.25); !errors.Is(err, ErrBadRate) {
		t.Fatalf("rate 1.25 err = %v", err)
	}

	if err := e.Load("clip-a", testClip(t, 120), codec.EncodingWAV); err != nil {
		t.Fatal(err)
	}
	for _, r := range Rates {
		if err := e.SetRate(r); err != nil {
			t.Fatalf("SetRate(%g): %v", r, err)
		}
		if got := e.Status().Rate; got != r {
			t.Fatalf("rate = %g, want %g", got, r)
		}
	}
	if err := e.SetRate(3.0); !errors.Is(err, ErrBadRate) {
		t.Fatalf("rate 3.0 err = %v", err)
	}
}

func TestNoSessionErrors(t *testing.T) {
	e, _, _, _, _ := newTestEngine(t)

	for name, fn := range map[string]func() error{
		"play":    e.Play,
		"pause":   e.Pause,
		"toggle":  e.Toggle,
		"persist": e.PersistNow,
	} {
		if err := fn(); !errors.Is(err, ErrNoSession) {
			t.Fatalf("%s err = %v", name, err)
		}
	}
	if err := e.Seek(10); !errors.Is(err, ErrNoSession) {
		t.Fatalf("seek err = %v", err)
	}
	if err := e.Skip(10); !errors.Is(err, ErrNoSession) {
		t.Fatalf("skip err = %v", err)
	}
}

func TestDeviceStartFailure(t *testing.T) {
	dev := &manualDevice{failStart: true}
	e := New(dev, newMemResume())
	e.SetTickerFactory((&tickerHub{}).factory)

	err := e.Load("clip-a", testClip(t, 10), codec.EncodingWAV)
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if st := e.Status(); st != (Status{}) {
		t.Fatalf("session exists after failed load: %+v", st)
	}
}

func TestTickPersistsOnCadence(t *testing.T) {
	e, dev, hub, resume, statuses := newTestEngine(t)

	if err := e.Load("clip-a", testClip(t, 120), codec.EncodingWAV); err != nil {
		t.Fatal(err)
	}

	// advance well past the persist cadence; the resampler reads ahead of
	// the output, so positions are approximate
	dev.Pump(7 * testRate)
	hub.tick()
	st := waitStatus(t, statuses, func(st Status) bool { return st.ClipID == "clip-a" && st.Position > 5 })

	pos, found, _ := resume.Get("clip-a")
	if !found {
		t.Fatal("no resume entry after tick")
	}
	if pos < 5 || pos > st.Position+0.001 {
		t.Fatalf("persisted %g, status position %g", pos, st.Position)
	}
}

func TestFinishClearsResumeAndStops(t *testing.T) {
	e, dev, hub, resume, statuses := newTestEngine(t)

	if err := e.Load("clip-a", testClip(t, 120), codec.EncodingWAV); err != nil {
		t.Fatal(err)
	}
	if err := e.Seek(60); err != nil {
		t.Fatal(err)
	}
	if err := e.PersistNow(); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := resume.Get("clip-a"); !found {
		t.Fatal("persist did not write")
	}

	// drain to the end and fire the tick that notices it
	dev.Pump(121 * testRate)
	hub.tick()
	waitStatus(t, statuses, func(st Status) bool { return st.ClipID == "" })

	if _, found, _ := resume.Get("clip-a"); found {
		t.Fatal("resume entry survived a finished clip")
	}
	if st := e.Status(); st != (Status{}) {
		t.Fatalf("status after finish = %+v", st)
	}
	if !dev.stopped() {
		t.Fatal("device not released after finish")
	}
}

func TestSuspendAndResync(t *testing.T) {
	e, _, hub, _, statuses := newTestEngine(t)

	if err := e.Load("clip-a", testClip(t, 120), codec.EncodingWAV); err != nil {
		t.Fatal(err)
	}
	e.SuspendTick()

	// session is intact, just silent
	if !e.Playing() {
		t.Fatal("suspend must not pause playback")
	}

	e.Resync()
	waitStatus(t, statuses, func(st Status) bool { return st.ClipID == "clip-a" })

	// the restarted tick loop is live again
	hub.tick()
	waitStatus(t, statuses, func(st Status) bool { return st.ClipID == "clip-a" })
}
