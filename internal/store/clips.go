// Package store holds the engine's persistence boundaries: the remote clip
// store contract and the on-device resume position store.
package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("store: clip not found")
	ErrTransfer = errors.New("store: transfer failure")
)

// ClipMetadata is the engine-visible slice of a stored memo document.
type ClipMetadata struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	DurationSeconds float64   `json:"durationSeconds"`
	WaveformBars    []float64 `json:"waveformBars,omitempty"`
	PauseMarkers    []float64 `json:"pauseMarkers,omitempty"`
	AudioLocation   string    `json:"audioLocation"`
	Encoding        string    `json:"encoding"`
}

// MetadataPatch is a partial update; nil fields are left untouched.
// Slices use a non-nil empty value to clear.
type MetadataPatch struct {
	Title           *string   `json:"title,omitempty"`
	DurationSeconds *float64  `json:"durationSeconds,omitempty"`
	WaveformBars    []float64 `json:"waveformBars,omitempty"`
	PauseMarkers    []float64 `json:"pauseMarkers,omitempty"`
	AudioLocation   *string   `json:"audioLocation,omitempty"`
	Encoding        *string   `json:"encoding,omitempty"`
}

// Apply merges the patch into meta.
func (p MetadataPatch) Apply(meta *ClipMetadata) {
	if p.Title != nil {
		meta.Title = *p.Title
	}
	if p.DurationSeconds != nil {
		meta.DurationSeconds = *p.DurationSeconds
	}
	if p.WaveformBars != nil {
		meta.WaveformBars = p.WaveformBars
	}
	if p.PauseMarkers != nil {
		meta.PauseMarkers = p.PauseMarkers
	}
	if p.AudioLocation != nil {
		meta.AudioLocation = *p.AudioLocation
	}
	if p.Encoding != nil {
		meta.Encoding = *p.Encoding
	}
}

// ClipStore is the external document/blob store. Every call can fail and is
// retryable by the caller; no retry happens here.
type ClipStore interface {
	Upload(ctx context.Context, audio []byte, meta ClipMetadata) (ClipMetadata, error)
	Get(ctx context.Context, id string) (ClipMetadata, error)
	FetchBytes(ctx context.Context, location string) ([]byte, error)
	// ReplaceBytes stores new audio for an existing clip and returns the new
	// blob location. The old location stays valid until the clip's metadata
	// is pointed away from it, which keeps trim all-or-nothing.
	ReplaceBytes(ctx context.Context, id string, audio []byte) (string, error)
	UpdateMetadata(ctx context.Context, id string, patch MetadataPatch) error
	Delete(ctx context.Context, id string) error
}
