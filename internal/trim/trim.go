// Package trim re-encodes a time window of a clip into a new self-contained
// asset. Container formats are not arbitrarily byte-sliceable, so the source
// is decoded, cut on frame boundaries and encoded again.
package trim

import (
	"errors"
	"fmt"

	"memo/pkg/codec"
)

var ErrInvalidRange = errors.New("trim: invalid range")

// Medium-tier bitrate for re-encoded lossy output.
const lossyBitrate = 128_000

// Result is a finished trim: new bytes, their container tag and duration.
type Result struct {
	Bytes    []byte
	Encoding string
	Duration float64
}

// Trim cuts [start, end) seconds out of src. WAV sources stay WAV; every
// lossy source is re-encoded as Opus. All-or-nothing: any failure leaves
// the caller's original bytes and metadata untouched.
func Trim(src []byte, encoding string, start, end float64) (Result, error) {
	if start < 0 || end <= start {
		return Result{}, fmt.Errorf("%w: [%g, %g)", ErrInvalidRange, start, end)
	}

	clip, err := codec.Decode(src, encoding)
	if err != nil {
		return Result{}, err
	}
	if end > clip.Duration()+1e-9 {
		return Result{}, fmt.Errorf("%w: end %g past duration %g", ErrInvalidRange, end, clip.Duration())
	}

	first := int(start * float64(clip.SampleRate))
	last := int(end * float64(clip.SampleRate))
	if last > clip.Frames() {
		last = clip.Frames()
	}
	window := clip.Samples[first*clip.Channels : last*clip.Channels]

	var (
		out    []byte
		outEnc string
	)
	if encoding == codec.EncodingWAV {
		out, err = codec.EncodeWAV(window, clip.SampleRate, clip.Channels)
		outEnc = codec.EncodingWAV
	} else {
		out, err = codec.EncodeOpus(window, clip.SampleRate, clip.Channels, lossyBitrate)
		outEnc = codec.EncodingOpus
	}
	if err != nil {
		return Result{}, err
	}

	return Result{
		Bytes:    out,
		Encoding: outEnc,
		Duration: end - start,
	}, nil
}

// RemapMarkers maps pause markers into the trimmed timeline: markers inside
// [start, end] survive, shifted by -start; the rest are dropped.
func RemapMarkers(markers []float64, start, end float64) []float64 {
	var out []float64
	for _, m := range markers {
		if m < start || m > end {
			continue
		}
		out = append(out, m-start)
	}
	return out
}
