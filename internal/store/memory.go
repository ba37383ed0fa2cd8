package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process ClipStore. Backs tests and offline runs.
type MemoryStore struct {
	mu    sync.Mutex
	metas map[string]ClipMetadata
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		metas: make(map[string]ClipMetadata),
		blobs: make(map[string][]byte),
	}
}

func (m *MemoryStore) Upload(_ context.Context, audio []byte, meta ClipMetadata) (ClipMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta.ID = uuid.NewString()
	meta.AudioLocation = "mem://" + meta.ID
	m.metas[meta.ID] = meta
	m.blobs[meta.AudioLocation] = append([]byte(nil), audio...)
	return meta, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (ClipMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta, ok := m.metas[id]
	if !ok {
		return ClipMetadata{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return meta, nil
}

func (m *MemoryStore) FetchBytes(_ context.Context, location string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	blob, ok := m.blobs[location]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, location)
	}
	return append([]byte(nil), blob...), nil
}

func (m *MemoryStore) UpdateMetadata(_ context.Context, id string, patch MetadataPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta, ok := m.metas[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	patch.Apply(&meta)
	m.metas[id] = meta
	return nil
}

func (m *MemoryStore) ReplaceBytes(_ context.Context, id string, audio []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.metas[id]; !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	location := "mem://" + id + "/" + uuid.NewString()
	m.blobs[location] = append([]byte(nil), audio...)
	return location, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta, ok := m.metas[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.blobs, meta.AudioLocation)
	delete(m.metas, id)
	return nil
}
