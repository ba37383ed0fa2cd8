package capture

import (
	"math"
	"sync"
)

const (
	// Visual intensity mapping for the live meter. The -60 dB floor and the
	// [0,1] range are tuned for speech; nothing downstream depends on them.
	levelFloorDB = -60.0
	levelCeilDB  = 0.0

	// DefaultLevelHistory is the number of recent level samples kept for the
	// scrolling preview.
	DefaultLevelHistory = 30
)

// normalizedLevel converts one interleaved PCM frame to a [0,1] visual
// intensity: average power -> dB -> clamp [-60,0] -> linear.
func normalizedLevel(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(frame)))
	if rms <= 0 {
		return 0
	}
	db := 20 * math.Log10(rms)
	if db < levelFloorDB {
		db = levelFloorDB
	}
	if db > levelCeilDB {
		db = levelCeilDB
	}
	return (db - levelFloorDB) / (levelCeilDB - levelFloorDB)
}

// LevelRing is a fixed-capacity drop-oldest buffer of level samples.
// Updates are O(1) regardless of recording length.
type LevelRing struct {
	mu   sync.Mutex
	buf  []float64
	head int
	n    int
}

func NewLevelRing(capacity int) *LevelRing {
	if capacity <= 0 {
		capacity = DefaultLevelHistory
	}
	return &LevelRing{buf: make([]float64, capacity)}
}

func (r *LevelRing) Push(v float64) {
	r.mu.Lock()
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
	r.mu.Unlock()
}

// Snapshot returns the held samples oldest-first. The slice is a copy.
func (r *LevelRing) Snapshot() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]float64, r.n)
	start := (r.head - r.n + len(r.buf)) % len(r.buf)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

func (r *LevelRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}
