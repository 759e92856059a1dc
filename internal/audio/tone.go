package audio

import "math"

// Envelope constants for the fallback tone. The tone only exists so a
// download request can always terminate with a playable artifact, so the
// shape is fixed rather than configurable.
const (
	toneAttack  = 0.1
	toneDecay   = 0.2
	toneSustain = 0.7
	toneRelease = 0.3

	tonePrimaryHz     = 440.0
	tonePrimaryGain   = 0.6
	toneSecondaryHz   = 220.0
	toneSecondaryGain = 0.4
	toneMasterGain    = 0.5
)

// GenerateTone produces a mono enveloped sine mix of the given duration.
// The waveform's peak absolute amplitude never exceeds toneMasterGain.
func GenerateTone(durationSeconds float64, sampleRate int) *Buffer {
	if durationSeconds < 0 {
		durationSeconds = 0
	}
	frames := int(math.Round(float64(sampleRate) * durationSeconds))
	out := NewBuffer(sampleRate, 1, frames)

	for i := 0; i < frames; i++ {
		t := float64(i) / float64(sampleRate)
		env := toneEnvelope(t, durationSeconds)
		mix := tonePrimaryGain*math.Sin(2*math.Pi*tonePrimaryHz*t) +
			toneSecondaryGain*math.Sin(2*math.Pi*toneSecondaryHz*t)
		out.Data[0][i] = toneMasterGain * env * mix
	}
	return out
}

// toneEnvelope is a 4-stage attack/decay/sustain/release curve. Sustain fills
// whatever remains after the fixed attack, decay, and release stages; for very
// short tones the stages simply truncate.
func toneEnvelope(t, duration float64) float64 {
	switch {
	case t < toneAttack:
		return t / toneAttack
	case t < toneAttack+toneDecay:
		return 1 - (1-toneSustain)*(t-toneAttack)/toneDecay
	case t < duration-toneRelease:
		return toneSustain
	default:
		remaining := duration - t
		if remaining < 0 {
			return 0
		}
		return toneSustain * remaining / toneRelease
	}
}

// Oscillator is a fixed-frequency low-gain sine source. The capture pipeline
// bridges it into its recording destination because synthesized speech is not
// itself capturable on any host.
type Oscillator struct {
	Frequency  float64
	Gain       float64
	SampleRate int

	phase int
}

// NewOscillator returns an oscillator at the given frequency and gain.
func NewOscillator(frequency, gain float64, sampleRate int) *Oscillator {
	return &Oscillator{Frequency: frequency, Gain: gain, SampleRate: sampleRate}
}

// Read produces the next n frames of the oscillator signal. Successive calls
// continue the waveform without a phase break.
func (o *Oscillator) Read(n int) []float64 {
	if n < 0 {
		n = 0
	}
	out := make([]float64, n)
	for i := range out {
		t := float64(o.phase+i) / float64(o.SampleRate)
		out[i] = o.Gain * math.Sin(2*math.Pi*o.Frequency*t)
	}
	o.phase += n
	return out
}
