package waveform

import (
	"math"
	"testing"

	"pgregory.net/rapid"

	"memo/pkg/codec"
)

func TestBarsConstantAmplitude(t *testing.T) {
	pcm := make([]float32, 44100)
	for i := range pcm {
		pcm[i] = 0.1
	}

	bars := Bars(pcm, DefaultBars)
	if len(bars) != DefaultBars {
		t.Fatalf("got %d bars, want %d", len(bars), DefaultBars)
	}
	for i, b := range bars {
		// mean-abs 0.1 scaled by the display gain
		if math.Abs(b-0.3) > 1e-9 {
			t.Fatalf("bar %d = %v, want 0.3", i, b)
		}
	}
}

func TestBarsSilence(t *testing.T) {
	bars := Bars(make([]float32, 1000), 10)
	for i, b := range bars {
		if b != 0 {
			t.Fatalf("silent bar %d = %v", i, b)
		}
	}
}

func TestBarsClamped(t *testing.T) {
	pcm := make([]float32, 500)
	for i := range pcm {
		pcm[i] = 1.0
	}
	for i, b := range Bars(pcm, 5) {
		if b != 1 {
			t.Fatalf("full-scale bar %d = %v, want 1", i, b)
		}
	}
}

func TestBarsShortInput(t *testing.T) {
	// fewer samples than bars: trailing blocks are empty and take the floor
	bars := Bars([]float32{0.5, 0.5, 0.5}, 10)
	if len(bars) != 10 {
		t.Fatalf("got %d bars", len(bars))
	}
	for _, b := range bars[:9] {
		if b != 0.02 {
			t.Fatalf("empty block bar = %v, want floor", b)
		}
	}

	bars = Bars(nil, 4)
	for _, b := range bars {
		if b != 0.02 {
			t.Fatalf("nil input bar = %v, want floor", b)
		}
	}
}

func TestBarsZeroCount(t *testing.T) {
	if got := Bars(make([]float32, 100), 0); got != nil {
		t.Fatalf("Bars(_, 0) = %v", got)
	}
}

func TestBarsProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 20000).Draw(t, "n")
		barCount := rapid.IntRange(1, 128).Draw(t, "bars")

		pcm := make([]float32, n)
		for i := range pcm {
			pcm[i] = float32(rapid.Float64Range(-1, 1).Draw(t, "s"))
		}

		bars := Bars(pcm, barCount)
		if len(bars) != barCount {
			t.Fatalf("got %d bars, want %d", len(bars), barCount)
		}
		for i, b := range bars {
			if b < 0 || b > 1 {
				t.Fatalf("bar %d = %v out of range", i, b)
			}
		}

		again := Bars(pcm, barCount)
		for i := range bars {
			if bars[i] != again[i] {
				t.Fatalf("bar %d not deterministic", i)
			}
		}
	})
}

func TestFromClip(t *testing.T) {
	pcm := make([]float32, 8000)
	for i := range pcm {
		pcm[i] = 0.2
	}
	data, err := codec.EncodeWAV(pcm, 8000, 1)
	if err != nil {
		t.Fatal(err)
	}

	bars, err := FromClip(data, codec.EncodingWAV, DefaultBars)
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != DefaultBars {
		t.Fatalf("got %d bars", len(bars))
	}
	for i, b := range bars {
		// 16-bit quantization nudges the mean slightly off 0.2*3
		if math.Abs(b-0.6) > 0.01 {
			t.Fatalf("bar %d = %v, want ~0.6", i, b)
		}
	}

	if _, err := FromClip([]byte("junk"), codec.EncodingWAV, DefaultBars); err == nil {
		t.Fatal("FromClip decoded junk")
	}
}
