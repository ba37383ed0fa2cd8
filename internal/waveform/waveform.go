// Package waveform derives the fixed-length amplitude bars used for static
// clip visualization.
package waveform

import (
	"memo/pkg/codec"
)

const (
	// DefaultBars is the bar count rendered by clip views.
	DefaultBars = 50

	// Mean-abs speech amplitudes are small; the gain keeps bars legible
	// without flattening peaks. Empirical, not a contract.
	gain = 3.0

	// floor replaces bars whose block holds no samples.
	floor = 0.02
)

// Bars partitions mono PCM into barCount contiguous blocks and returns the
// clamped mean absolute amplitude of each. Deterministic for identical
// input; always returns exactly barCount values in [0,1].
func Bars(pcm []float32, barCount int) []float64 {
	if barCount <= 0 {
		return nil
	}

	out := make([]float64, barCount)
	block := len(pcm) / barCount

	for i := 0; i < barCount; i++ {
		start := i * block
		end := start + block
		if i == barCount-1 {
			end = len(pcm) // last block absorbs the remainder
		}
		if end > len(pcm) {
			end = len(pcm)
		}
		if end <= start {
			out[i] = floor
			continue
		}

		var sum float64
		for _, s := range pcm[start:end] {
			if s < 0 {
				sum -= float64(s)
			} else {
				sum += float64(s)
			}
		}
		v := sum / float64(end-start) * gain
		if v > 1 {
			v = 1
		}
		out[i] = v
	}

	return out
}

// FromClip decodes encoded clip bytes and extracts bars from the reference
// channel. Used right after capture and lazily for stored clips that
// predate waveform caching.
func FromClip(data []byte, encoding string, barCount int) ([]float64, error) {
	clip, err := codec.Decode(data, encoding)
	if err != nil {
		return nil, err
	}
	return Bars(clip.Mono(), barCount), nil
}
