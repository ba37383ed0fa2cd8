package capture

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
)

func initPortAudio() error { return portaudio.Initialize() }
func termPortAudio() error { return portaudio.Terminate() }

type paDevice struct {
	stream *portaudio.Stream
	buf    []float32
}

func openPortAudio(channels, sampleRate, frameSize int) (Device, error) {
	buf := make([]float32, frameSize*channels)
	stream, err := portaudio.OpenDefaultStream(channels, 0, float64(sampleRate), frameSize, buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	return &paDevice{stream: stream, buf: buf}, nil
}

func (d *paDevice) Read() error       { return d.stream.Read() }
func (d *paDevice) Buffer() []float32 { return d.buf }

func (d *paDevice) Close() error {
	d.stream.Stop()
	return d.stream.Close()
}
