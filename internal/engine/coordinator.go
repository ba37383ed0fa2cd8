// Package engine is the single owner sequencing capture, waveform, trim and
// playback. All public operations route through the Coordinator; it is the
// only component that mutates clip metadata.
package engine

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"

	"memo/internal/capture"
	"memo/internal/playback"
	"memo/internal/session"
	"memo/internal/store"
	"memo/internal/trim"
	"memo/internal/waveform"
)

// ErrBusy rejects an operation that would violate exclusivity: a second
// recording, playback during an active recording, or a concurrent trim of
// the same clip.
var ErrBusy = errors.New("engine: busy")

var ErrNoTrimRange = errors.New("engine: no trim range set")

type trimRange struct {
	start, end float64
}

// Coordinator guarantees at most one active recording and at most one
// active playback, with recording taking precedence.
type Coordinator struct {
	recorder *capture.Controller
	player   *playback.Engine
	clips    store.ClipStore
	resume   playback.ResumeStore
	sessions *session.Manager

	barCount int

	mu         sync.Mutex
	rec        *capture.Session
	trimming   map[string]bool
	trimRanges map[string]trimRange
}

func NewCoordinator(
	recorder *capture.Controller,
	player *playback.Engine,
	clips store.ClipStore,
	resume playback.ResumeStore,
	sessions *session.Manager,
) *Coordinator {
	return &Coordinator{
		recorder:   recorder,
		player:     player,
		clips:      clips,
		resume:     resume,
		sessions:   sessions,
		barCount:   waveform.DefaultBars,
		trimming:   make(map[string]bool),
		trimRanges: make(map[string]trimRange),
	}
}

// recording

// StartRecording opens the microphone. Anything playing is stopped first;
// a recording already in progress is refused.
func (c *Coordinator) StartRecording(q capture.Quality) (*capture.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.recActiveLocked() {
		return nil, ErrBusy
	}
	if err := c.player.Stop(); err != nil {
		log.Warn("stop playback before recording failed", "err", err)
	}

	rec, err := c.recorder.Start(q)
	if err != nil {
		if errors.Is(err, capture.ErrBusy) {
			return nil, ErrBusy
		}
		return nil, err
	}
	c.rec = rec
	return rec, nil
}

func (c *Coordinator) PauseRecording() error {
	rec := c.recording()
	if rec == nil {
		return capture.ErrInvalidState
	}
	return rec.Pause()
}

func (c *Coordinator) ResumeRecording() error {
	rec := c.recording()
	if rec == nil {
		return capture.ErrInvalidState
	}
	return rec.Resume()
}

// StopRecording finalizes the capture, extracts the waveform and uploads
// the clip. The capture session is released either way.
func (c *Coordinator) StopRecording(ctx context.Context, title string) (store.ClipMetadata, error) {
	rec := c.recording()
	if rec == nil {
		return store.ClipMetadata{}, capture.ErrInvalidState
	}
	defer c.clearRecording()

	encoded, duration, err := rec.Stop()
	if err != nil {
		return store.ClipMetadata{}, err
	}

	encoding := rec.Quality().Settings().Encoding
	bars, err := waveform.FromClip(encoded, encoding, c.barCount)
	if err != nil {
		// The clip is still uploadable without a waveform; it will be
		// computed lazily on first playback.
		log.Warn("waveform extraction failed", "err", err)
		bars = nil
	}

	meta := store.ClipMetadata{
		Title:           title,
		DurationSeconds: duration,
		WaveformBars:    bars,
		PauseMarkers:    rec.PauseMarkers(),
		Encoding:        encoding,
	}
	meta, err = c.clips.Upload(ctx, encoded, meta)
	if err != nil {
		return store.ClipMetadata{}, fmt.Errorf("upload clip: %w", err)
	}
	return meta, nil
}

// DiscardRecording throws the capture away without uploading.
func (c *Coordinator) DiscardRecording() error {
	rec := c.recording()
	if rec == nil {
		return capture.ErrInvalidState
	}
	defer c.clearRecording()
	return rec.Discard()
}

// Recording returns the live capture session, nil when none.
func (c *Coordinator) Recording() *capture.Session { return c.recording() }

// playback

// PlayClip fetches the clip and starts (or toggles) playback. Rejected
// while a recording is active. Cancel ctx to abandon the fetch; a
// cancelled fetch writes no state.
func (c *Coordinator) PlayClip(ctx context.Context, id string) error {
	if c.recActive() {
		return ErrBusy
	}

	// Same clip again: toggle without refetching.
	if c.player.ClipID() == id {
		return c.player.Toggle()
	}

	meta, err := c.clips.Get(ctx, id)
	if err != nil {
		return err
	}
	data, err := c.clips.FetchBytes(ctx, meta.AudioLocation)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if len(meta.WaveformBars) == 0 {
		c.cacheWaveform(ctx, &meta, data)
	}

	// Re-check under the lock: a recording may have started during the
	// fetch, and it takes precedence.
	c.mu.Lock()
	if c.recActiveLocked() {
		c.mu.Unlock()
		return ErrBusy
	}
	c.sessions.SetNowPlayingInfo(meta.Title, "")
	err = c.player.Load(id, data, meta.Encoding)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.sessions.Republish()
	return nil
}

// cacheWaveform computes bars for clips that predate waveform caching and
// persists them so the cost is paid once.
func (c *Coordinator) cacheWaveform(ctx context.Context, meta *store.ClipMetadata, data []byte) {
	bars, err := waveform.FromClip(data, meta.Encoding, c.barCount)
	if err != nil {
		log.Warn("lazy waveform extraction failed", "clip", meta.ID, "err", err)
		return
	}
	meta.WaveformBars = bars
	if err := c.clips.UpdateMetadata(ctx, meta.ID, store.MetadataPatch{WaveformBars: bars}); err != nil {
		log.Warn("persist lazy waveform failed", "clip", meta.ID, "err", err)
	}
}

func (c *Coordinator) PausePlayback() error       { return c.player.Pause() }
func (c *Coordinator) Seek(pos float64) error     { return c.player.Seek(pos) }
func (c *Coordinator) Skip(delta float64) error   { return c.player.Skip(delta) }
func (c *Coordinator) SetRate(rate float64) error { return c.player.SetRate(rate) }
func (c *Coordinator) StopPlayback() error        { return c.player.Stop() }

// PlaybackStatus is the live playback state for UI binding.
func (c *Coordinator) PlaybackStatus() playback.Status { return c.player.Status() }

// trim

// SetTrimRange stages the window for a later ApplyTrim.
func (c *Coordinator) SetTrimRange(id string, start, end float64) error {
	if start < 0 || end <= start {
		return fmt.Errorf("%w: [%g, %g)", trim.ErrInvalidRange, start, end)
	}
	c.mu.Lock()
	c.trimRanges[id] = trimRange{start: start, end: end}
	c.mu.Unlock()
	return nil
}

// Trimming reports whether a trim of the clip is in flight.
func (c *Coordinator) Trimming(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trimming[id]
}

// ApplyTrim re-encodes the staged window and swaps the clip's bytes and
// metadata. All-or-nothing: any failure leaves the original clip intact.
// Concurrent trims of the same clip are refused.
func (c *Coordinator) ApplyTrim(ctx context.Context, id string) error {
	c.mu.Lock()
	if c.trimming[id] {
		c.mu.Unlock()
		return ErrBusy
	}
	r, ok := c.trimRanges[id]
	if !ok {
		c.mu.Unlock()
		return ErrNoTrimRange
	}
	c.trimming[id] = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.trimming, id)
		c.mu.Unlock()
	}()

	meta, err := c.clips.Get(ctx, id)
	if err != nil {
		return err
	}
	if r.end > meta.DurationSeconds {
		return fmt.Errorf("%w: end %g past duration %g", trim.ErrInvalidRange, r.end, meta.DurationSeconds)
	}

	src, err := c.clips.FetchBytes(ctx, meta.AudioLocation)
	if err != nil {
		return err
	}

	res, err := trim.Trim(src, meta.Encoding, r.start, r.end)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	// Bar boundaries do not align with arbitrary trim points; recompute
	// from the new bytes instead of slicing the old array.
	bars, err := waveform.FromClip(res.Bytes, res.Encoding, c.barCount)
	if err != nil {
		return err
	}
	markers := trim.RemapMarkers(meta.PauseMarkers, r.start, r.end)

	location, err := c.clips.ReplaceBytes(ctx, id, res.Bytes)
	if err != nil {
		return err
	}

	patch := store.MetadataPatch{
		DurationSeconds: &res.Duration,
		WaveformBars:    bars,
		PauseMarkers:    markers,
		AudioLocation:   &location,
		Encoding:        &res.Encoding,
	}
	if patch.PauseMarkers == nil {
		patch.PauseMarkers = []float64{}
	}
	if err := c.clips.UpdateMetadata(ctx, id, patch); err != nil {
		return err
	}

	// The old timeline is gone: drop any stale resume point and any loaded
	// playback of the pre-trim bytes.
	if c.player.ClipID() == id {
		c.player.Stop()
	}
	if err := c.resume.Clear(id); err != nil {
		log.Warn("clear resume after trim failed", "clip", id, "err", err)
	}

	c.mu.Lock()
	delete(c.trimRanges, id)
	c.mu.Unlock()
	return nil
}

// DeleteClip removes the clip remotely and drops local state for it.
func (c *Coordinator) DeleteClip(ctx context.Context, id string) error {
	if c.player.ClipID() == id {
		c.player.Stop()
	}
	if err := c.clips.Delete(ctx, id); err != nil {
		return err
	}
	if err := c.resume.Clear(id); err != nil {
		log.Warn("clear resume after delete failed", "clip", id, "err", err)
	}
	return nil
}

// internals

func (c *Coordinator) recording() *capture.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rec != nil && c.rec.State() != capture.Stopped {
		return c.rec
	}
	return nil
}

func (c *Coordinator) clearRecording() {
	c.mu.Lock()
	c.rec = nil
	c.mu.Unlock()
}

func (c *Coordinator) recActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recActiveLocked()
}

func (c *Coordinator) recActiveLocked() bool {
	return c.rec != nil && c.rec.State() != capture.Stopped
}
