package capture

import (
	"fmt"

	"memo/pkg/codec"
)

// Quality is a closed set of recording tiers. Each tier carries a full
// typed settings record so there is no key/value lookup anywhere.
type Quality int

const (
	QualityLow Quality = iota
	QualityMedium
	QualityHigh
	QualityLossless
)

// Settings fixes sample rate, channel count and encoding for a tier.
type Settings struct {
	SampleRate int
	Channels   int
	Bitrate    int // bits/s, lossy tiers only
	Lossless   bool
	Encoding   string
}

func (q Quality) Settings() Settings {
	switch q {
	case QualityLow:
		return Settings{SampleRate: 22050, Channels: 1, Bitrate: 64_000, Encoding: codec.EncodingOpus}
	case QualityHigh:
		return Settings{SampleRate: 44100, Channels: 2, Bitrate: 256_000, Encoding: codec.EncodingOpus}
	case QualityLossless:
		return Settings{SampleRate: 44100, Channels: 2, Lossless: true, Encoding: codec.EncodingWAV}
	default:
		return Settings{SampleRate: 44100, Channels: 1, Bitrate: 128_000, Encoding: codec.EncodingOpus}
	}
}

func (q Quality) String() string {
	switch q {
	case QualityLow:
		return "low"
	case QualityMedium:
		return "medium"
	case QualityHigh:
		return "high"
	case QualityLossless:
		return "lossless"
	}
	return fmt.Sprintf("quality(%d)", int(q))
}

func ParseQuality(s string) (Quality, error) {
	switch s {
	case "low":
		return QualityLow, nil
	case "medium", "":
		return QualityMedium, nil
	case "high":
		return QualityHigh, nil
	case "lossless":
		return QualityLossless, nil
	}
	return QualityMedium, fmt.Errorf("unknown quality %q", s)
}
