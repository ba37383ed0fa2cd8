package playback

import (
	"errors"

	"memo/pkg/codec"
)

// clipStreamer adapts decoded PCM to a beep.StreamSeeker. Mono clips are
// duplicated into both output channels.
type clipStreamer struct {
	clip codec.Clip
	pos  int // frame index
}

func newClipStreamer(clip codec.Clip) *clipStreamer {
	return &clipStreamer{clip: clip}
}

func (c *clipStreamer) Stream(samples [][2]float64) (int, bool) {
	frames := c.clip.Frames()
	if c.pos >= frames {
		return 0, false
	}
	for i := range samples {
		if c.pos >= frames {
			return i, true
		}
		if c.clip.Channels == 1 {
			v := float64(c.clip.Samples[c.pos])
			samples[i][0], samples[i][1] = v, v
		} else {
			base := c.pos * c.clip.Channels
			samples[i][0] = float64(c.clip.Samples[base])
			samples[i][1] = float64(c.clip.Samples[base+1])
		}
		c.pos++
	}
	return len(samples), true
}

func (c *clipStreamer) Err() error { return nil }

func (c *clipStreamer) Len() int { return c.clip.Frames() }

func (c *clipStreamer) Position() int { return c.pos }

func (c *clipStreamer) Seek(p int) error {
	if p < 0 || p > c.clip.Frames() {
		return errors.New("seek out of range")
	}
	c.pos = p
	return nil
}
