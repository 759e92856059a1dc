package audio

import (
	"math"
	"testing"
)

func TestGenerateToneSampleCount(t *testing.T) {
	cases := []struct {
		duration float64
		rate     int
	}{
		{1.0, 44100},
		{3.0, 22050},
		{0.5, 8000},
		{0, 8000},
	}
	for _, tc := range cases {
		b := GenerateTone(tc.duration, tc.rate)
		want := int(math.Round(float64(tc.rate) * tc.duration))
		if b.Frames() != want {
			t.Errorf("duration %.1f at %d Hz: expected %d frames, got %d", tc.duration, tc.rate, want, b.Frames())
		}
		if b.Channels != 1 {
			t.Errorf("tone should be mono, got %d channels", b.Channels)
		}
	}
}

func TestGenerateTonePeakAmplitude(t *testing.T) {
	b := GenerateTone(2.0, 22050)
	peak := 0.0
	for _, s := range b.Data[0] {
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}
	if peak > 0.5 {
		t.Fatalf("peak amplitude %.4f exceeds 0.5", peak)
	}
	if peak < 0.1 {
		t.Fatalf("tone suspiciously quiet, peak %.4f", peak)
	}
}

func TestToneEnvelopeStages(t *testing.T) {
	// Mid-sustain should sit at the sustain level; the very end should decay
	// toward zero.
	if env := toneEnvelope(1.0, 3.0); env != toneSustain {
		t.Fatalf("expected sustain %.2f, got %.4f", toneSustain, env)
	}
	if env := toneEnvelope(2.999, 3.0); env > 0.05 {
		t.Fatalf("expected near-zero release tail, got %.4f", env)
	}
	if env := toneEnvelope(0, 3.0); env != 0 {
		t.Fatalf("attack should start at zero, got %.4f", env)
	}
}

func TestOscillatorContinuity(t *testing.T) {
	o := NewOscillator(440, 0.1, 8000)
	first := o.Read(100)
	second := o.Read(100)
	if len(first) != 100 || len(second) != 100 {
		t.Fatal("unexpected read lengths")
	}
	// The second read must continue the waveform, not restart it.
	restart := NewOscillator(440, 0.1, 8000).Read(100)
	same := true
	for i := range second {
		if second[i] != restart[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("oscillator restarted phase between reads")
	}
	for _, s := range append(first, second...) {
		if math.Abs(s) > 0.1+1e-9 {
			t.Fatalf("sample %v exceeds gain bound", s)
		}
	}
}
