package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	meta, err := s.Upload(ctx, []byte("audio-bytes"), ClipMetadata{
		Title:           "standup notes",
		DurationSeconds: 12.5,
		Encoding:        "wav",
	})
	require.NoError(t, err)
	require.NotEmpty(t, meta.ID)
	require.NotEmpty(t, meta.AudioLocation)

	got, err := s.Get(ctx, meta.ID)
	require.NoError(t, err)
	require.Equal(t, meta, got)

	blob, err := s.FetchBytes(ctx, meta.AudioLocation)
	require.NoError(t, err)
	require.Equal(t, []byte("audio-bytes"), blob)
}

func TestMemoryStoreNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.FetchBytes(ctx, "mem://missing")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.ReplaceBytes(ctx, "missing", []byte("x"))
	require.ErrorIs(t, err, ErrNotFound)

	require.ErrorIs(t, s.UpdateMetadata(ctx, "missing", MetadataPatch{}), ErrNotFound)
	require.ErrorIs(t, s.Delete(ctx, "missing"), ErrNotFound)
}

func TestMemoryStoreReplaceBytesKeepsOldLocation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	meta, err := s.Upload(ctx, []byte("original"), ClipMetadata{Title: "memo"})
	require.NoError(t, err)

	newLoc, err := s.ReplaceBytes(ctx, meta.ID, []byte("trimmed"))
	require.NoError(t, err)
	require.NotEqual(t, meta.AudioLocation, newLoc)

	// old blob must survive until metadata repoints
	old, err := s.FetchBytes(ctx, meta.AudioLocation)
	require.NoError(t, err)
	require.Equal(t, []byte("original"), old)

	fresh, err := s.FetchBytes(ctx, newLoc)
	require.NoError(t, err)
	require.Equal(t, []byte("trimmed"), fresh)
}

func TestMemoryStoreUpdateMetadata(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	meta, err := s.Upload(ctx, []byte("a"), ClipMetadata{
		Title:           "before",
		DurationSeconds: 30,
		PauseMarkers:    []float64{5, 10},
	})
	require.NoError(t, err)

	title := "after"
	dur := 12.0
	require.NoError(t, s.UpdateMetadata(ctx, meta.ID, MetadataPatch{
		Title:           &title,
		DurationSeconds: &dur,
		PauseMarkers:    []float64{}, // non-nil empty clears
	}))

	got, err := s.Get(ctx, meta.ID)
	require.NoError(t, err)
	require.Equal(t, "after", got.Title)
	require.Equal(t, 12.0, got.DurationSeconds)
	require.Empty(t, got.PauseMarkers)
	// untouched fields survive a partial patch
	require.Equal(t, meta.AudioLocation, got.AudioLocation)
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	meta, err := s.Upload(ctx, []byte("a"), ClipMetadata{Title: "gone soon"})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, meta.ID))

	_, err = s.Get(ctx, meta.ID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.FetchBytes(ctx, meta.AudioLocation)
	require.ErrorIs(t, err, ErrNotFound)
}
