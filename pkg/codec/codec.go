package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	"gopkg.in/hraban/opus.v2"
)

// Container tags stored alongside clip metadata. WAV and Opus are the two
// formats the engine writes; MP3 and OGG are decode-only for clips that
// predate it.
const (
	EncodingWAV  = "wav"
	EncodingOpus = "opus"
	EncodingMP3  = "mp3"
	EncodingOGG  = "ogg"
)

var ErrDecodeFailure = errors.New("codec: decode failure")

// Clip is decoded PCM: interleaved float32 samples in [-1, 1].
type Clip struct {
	Samples    []float32
	Channels   int
	SampleRate int
}

// Frames returns the number of sample frames (samples per channel).
func (c Clip) Frames() int {
	if c.Channels <= 0 {
		return 0
	}
	return len(c.Samples) / c.Channels
}

// Duration returns the clip length in seconds.
func (c Clip) Duration() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(c.Frames()) / float64(c.SampleRate)
}

// Mono downmixes the clip to a single reference channel.
func (c Clip) Mono() []float32 {
	if c.Channels <= 1 {
		return c.Samples
	}
	return downmixInterleaved(c.Samples, c.Channels)
}

// Decode turns encoded clip bytes into PCM. The encoding tag is tried first;
// on a mismatch the container is sniffed by magic, since stored clips have
// been seen with stale extensions.
func Decode(data []byte, encoding string) (Clip, error) {
	if len(data) == 0 {
		return Clip{}, fmt.Errorf("%w: empty input", ErrDecodeFailure)
	}

	switch encoding {
	case EncodingWAV:
		return decodeWAV(data)
	case EncodingOpus:
		return decodeOpusFrames(data)
	case EncodingMP3:
		return decodeMP3(data)
	case EncodingOGG:
		return decodeOGG(data)
	}

	switch sniff(data) {
	case EncodingWAV:
		return decodeWAV(data)
	case EncodingOpus:
		return decodeOpusFrames(data)
	case EncodingOGG:
		return decodeOGG(data)
	case EncodingMP3:
		return decodeMP3(data)
	}

	return Clip{}, fmt.Errorf("%w: unknown container", ErrDecodeFailure)
}

func sniff(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	switch string(data[:4]) {
	case "RIFF":
		return EncodingWAV
	case "OggS":
		return EncodingOGG
	case opusMagic:
		return EncodingOpus
	}
	if string(data[:3]) == "ID3" || (data[0] == 0xFF && data[1]&0xE0 == 0xE0) {
		return EncodingMP3
	}
	return ""
}

func decodeWAV(data []byte) (Clip, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return Clip{}, fmt.Errorf("%w: invalid wav", ErrDecodeFailure)
	}
	pb, err := dec.FullPCMBuffer()
	if err != nil || pb == nil || pb.Data == nil {
		if err == nil {
			err = errors.New("empty wav")
		}
		return Clip{}, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}

	bd := int(dec.BitDepth)
	if bd == 0 {
		bd = 16
	}

	clip := Clip{
		Samples:    intSliceToFloat32(pb.Data, bd),
		Channels:   1,
		SampleRate: 44100,
	}
	if pb.Format != nil {
		if pb.Format.NumChannels > 0 {
			clip.Channels = pb.Format.NumChannels
		}
		if pb.Format.SampleRate > 0 {
			clip.SampleRate = pb.Format.SampleRate
		}
	}
	return clip, nil
}

func decodeMP3(data []byte) (Clip, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return Clip{}, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	var raw bytes.Buffer
	if _, err := io.Copy(&raw, dec); err != nil {
		return Clip{}, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	ints := make([]int16, raw.Len()/2)
	if err := binary.Read(bytes.NewReader(raw.Bytes()), binary.LittleEndian, &ints); err != nil {
		return Clip{}, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}

	sr := dec.SampleRate()
	if sr <= 0 {
		sr = 44100
	}

	// go-mp3 always produces interleaved stereo.
	return Clip{
		Samples:    int16SliceToFloat32(ints),
		Channels:   2,
		SampleRate: sr,
	}, nil
}

func decodeOGG(data []byte) (Clip, error) {
	pcm, format, err := oggvorbis.ReadAll(bytes.NewReader(data))
	if err != nil {
		return Clip{}, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	if format == nil || format.Channels <= 0 || format.SampleRate <= 0 {
		return Clip{}, fmt.Errorf("%w: invalid ogg/vorbis stream", ErrDecodeFailure)
	}
	return Clip{
		Samples:    pcm,
		Channels:   format.Channels,
		SampleRate: format.SampleRate,
	}, nil
}

func decodeOpusFrames(data []byte) (Clip, error) {
	hdr, rest, err := parseOpusHeader(data)
	if err != nil {
		return Clip{}, err
	}

	dec, err := opus.NewDecoder(opusRate, int(hdr.channels))
	if err != nil {
		return Clip{}, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}

	frame := int(hdr.frameSize)
	pcm := make([]float32, frame*int(hdr.channels))
	var out []float32

	for len(rest) > 0 {
		if len(rest) < 2 {
			return Clip{}, fmt.Errorf("%w: truncated packet header", ErrDecodeFailure)
		}
		n := int(binary.LittleEndian.Uint16(rest))
		rest = rest[2:]
		if n == 0 || n > len(rest) {
			return Clip{}, fmt.Errorf("%w: truncated packet", ErrDecodeFailure)
		}
		samples, err := dec.DecodeFloat32(rest[:n], pcm)
		if err != nil {
			return Clip{}, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
		}
		out = append(out, pcm[:samples*int(hdr.channels)]...)
		rest = rest[n:]
	}

	return Clip{
		Samples:    out,
		Channels:   int(hdr.channels),
		SampleRate: opusRate,
	}, nil
}

// helpers

func intSliceToFloat32(data []int, bitDepth int) []float32 {
	out := make([]float32, len(data))
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))
	for i, v := range data {
		out[i] = float32(clamp(float64(v)*scale, -1.0, 1.0))
	}
	return out
}

func int16SliceToFloat32(data []int16) []float32 {
	out := make([]float32, len(data))
	const scale = 1.0 / 32768.0
	for i, v := range data {
		out[i] = float32(float64(v) * scale)
	}
	return out
}

func downmixInterleaved(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	nFrames := len(in) / channels
	out := make([]float32, nFrames)
	for i := 0; i < nFrames; i++ {
		sum := 0.0
		base := i * channels
		for c := 0; c < channels; c++ {
			sum += float64(in[base+c])
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

// ResampleLinear converts mono samples from inSR to outSR by linear
// interpolation. Good enough for speech; not a polyphase filter.
func ResampleLinear(in []float32, inSR, outSR int) []float32 {
	if inSR == outSR || len(in) == 0 {
		return in
	}
	ratio := float64(outSR) / float64(inSR)
	outN := int(math.Ceil(float64(len(in)) * ratio))
	out := make([]float32, outN)
	for i := 0; i < outN; i++ {
		src := float64(i) / ratio
		i0 := int(math.Floor(src))
		i1 := i0 + 1
		if i0 >= len(in) {
			out[i] = in[len(in)-1]
			continue
		}
		if i1 >= len(in) {
			out[i] = in[i0]
			continue
		}
		a := float32(src - float64(i0))
		out[i] = in[i0]*(1-a) + in[i1]*a
	}
	return out
}

func resampleInterleaved(in []float32, channels, inSR, outSR int) []float32 {
	if inSR == outSR || len(in) == 0 || channels <= 1 {
		return ResampleLinear(in, inSR, outSR)
	}
	nFrames := len(in) / channels
	chans := make([][]float32, channels)
	for c := 0; c < channels; c++ {
		ch := make([]float32, nFrames)
		for i := 0; i < nFrames; i++ {
			ch[i] = in[i*channels+c]
		}
		chans[c] = ResampleLinear(ch, inSR, outSR)
	}
	outFrames := len(chans[0])
	out := make([]float32, outFrames*channels)
	for i := 0; i < outFrames; i++ {
		for c := 0; c < channels; c++ {
			out[i*channels+c] = chans[c][i]
		}
	}
	return out
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
