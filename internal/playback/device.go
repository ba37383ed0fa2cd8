package playback

import (
	"errors"
	"fmt"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
)

var ErrDeviceUnavailable = errors.New("playback: output device unavailable")

// OutputDevice pulls samples from a streamer. The engine mutates the
// pipeline only between Lock and Unlock, mirroring the beep speaker
// discipline; tests substitute a hand-pumped device.
type OutputDevice interface {
	Start(sampleRate int, s beep.Streamer) error
	Lock()
	Unlock()
	Stop() error
}

// SpeakerDevice plays through the default output via beep's speaker.
type SpeakerDevice struct{}

func NewSpeakerDevice() *SpeakerDevice { return &SpeakerDevice{} }

func (d *SpeakerDevice) Start(sampleRate int, s beep.Streamer) error {
	sr := beep.SampleRate(sampleRate)
	if err := speaker.Init(sr, sr.N(time.Second/10)); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	speaker.Play(s)
	return nil
}

func (d *SpeakerDevice) Lock()   { speaker.Lock() }
func (d *SpeakerDevice) Unlock() { speaker.Unlock() }

func (d *SpeakerDevice) Stop() error {
	speaker.Clear()
	return nil
}
