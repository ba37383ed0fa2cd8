package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"gopkg.in/hraban/opus.v2"
)

// Lossy clips are stored as raw Opus packets with a small header and a
// uint16 length prefix per packet. Opus only runs at its own rates, so the
// encoder resamples everything to 48 kHz; the header keeps the stream
// self-describing without an Ogg muxer.
const (
	opusMagic     = "OPUF"
	opusRate      = 48000
	opusFrameSize = 960 // 20ms at 48kHz
)

var ErrEncodeFailure = errors.New("codec: encode failure")

type opusHeader struct {
	channels  uint8
	frameSize uint32
	bitrate   uint32
}

// EncodeWAV encodes interleaved float32 PCM as a 16-bit WAV file.
func EncodeWAV(samples []float32, sampleRate, channels int) ([]byte, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("%w: bad format %d/%d", ErrEncodeFailure, sampleRate, channels)
	}

	ints := make([]int, len(samples))
	for i, s := range samples {
		ints[i] = int(clamp(float64(s), -1.0, 1.0) * 32767)
	}

	var ws memWriteSeeker
	enc := wav.NewEncoder(&ws, sampleRate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           ints,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodeFailure, err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodeFailure, err)
	}
	return ws.buf, nil
}

// EncodeOpus encodes interleaved float32 PCM as framed Opus packets at the
// given bitrate. Input at any sample rate is resampled to 48 kHz first.
func EncodeOpus(samples []float32, sampleRate, channels, bitrate int) ([]byte, error) {
	if sampleRate <= 0 || channels <= 0 || channels > 2 {
		return nil, fmt.Errorf("%w: bad format %d/%d", ErrEncodeFailure, sampleRate, channels)
	}

	pcm := resampleInterleaved(samples, channels, sampleRate, opusRate)

	enc, err := opus.NewEncoder(opusRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodeFailure, err)
	}
	if err := enc.SetBitrate(bitrate); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodeFailure, err)
	}

	var out bytes.Buffer
	writeOpusHeader(&out, opusHeader{
		channels:  uint8(channels),
		frameSize: opusFrameSize,
		bitrate:   uint32(bitrate),
	})

	frame := opusFrameSize * channels
	packet := make([]byte, 4000)
	for off := 0; off < len(pcm); off += frame {
		chunk := pcm[off:min(off+frame, len(pcm))]
		if len(chunk) < frame {
			// Opus needs whole frames; pad the tail with silence.
			padded := make([]float32, frame)
			copy(padded, chunk)
			chunk = padded
		}
		n, err := enc.EncodeFloat32(chunk, packet)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEncodeFailure, err)
		}
		var plen [2]byte
		binary.LittleEndian.PutUint16(plen[:], uint16(n))
		out.Write(plen[:])
		out.Write(packet[:n])
	}

	return out.Bytes(), nil
}

func writeOpusHeader(w *bytes.Buffer, hdr opusHeader) {
	w.WriteString(opusMagic)
	w.WriteByte(1) // version
	w.WriteByte(hdr.channels)
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], hdr.frameSize)
	w.Write(tmp[:])
	binary.LittleEndian.PutUint32(tmp[:], hdr.bitrate)
	w.Write(tmp[:])
}

func parseOpusHeader(data []byte) (opusHeader, []byte, error) {
	const headerLen = 4 + 1 + 1 + 4 + 4
	if len(data) < headerLen || string(data[:4]) != opusMagic {
		return opusHeader{}, nil, fmt.Errorf("%w: not an opus frame stream", ErrDecodeFailure)
	}
	if data[4] != 1 {
		return opusHeader{}, nil, fmt.Errorf("%w: unsupported version %d", ErrDecodeFailure, data[4])
	}
	hdr := opusHeader{
		channels:  data[5],
		frameSize: binary.LittleEndian.Uint32(data[6:10]),
		bitrate:   binary.LittleEndian.Uint32(data[10:14]),
	}
	if hdr.channels == 0 || hdr.channels > 2 || hdr.frameSize == 0 {
		return opusHeader{}, nil, fmt.Errorf("%w: bad opus header", ErrDecodeFailure)
	}
	return hdr, data[headerLen:], nil
}

// memWriteSeeker backs the wav encoder, which insists on an io.WriteSeeker
// so it can patch the RIFF sizes after the fact.
type memWriteSeeker struct {
	buf []byte
	pos int
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	if need := m.pos + len(p); need > len(m.buf) {
		grown := make([]byte, need)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[m.pos:], p)
	m.pos += len(p)
	return len(p), nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var next int
	switch whence {
	case io.SeekStart:
		next = int(offset)
	case io.SeekCurrent:
		next = m.pos + int(offset)
	case io.SeekEnd:
		next = len(m.buf) + int(offset)
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if next < 0 {
		return 0, errors.New("negative seek")
	}
	m.pos = next
	return int64(next), nil
}
