package recorder

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/vozlabs/voz-core/internal/audio"
)

// OscillatorSource is the daemon's monitor stream: a low-gain sine fed
// through the canonical encoder, standing in for the tab audio a host
// capture API would deliver. It emits a streaming WAV header first and raw
// PCM chunks on the requested cadence after that.
type OscillatorSource struct {
	frequency  float64
	gain       float64
	sampleRate int
}

func NewOscillatorSource(frequency, gain float64, sampleRate int) *OscillatorSource {
	return &OscillatorSource{frequency: frequency, gain: gain, sampleRate: sampleRate}
}

// HasAudio is always true; the monitor stream is an audio track.
func (o *OscillatorSource) HasAudio() bool { return true }

// Record streams chunks until ctx is canceled. The header declares a
// placeholder data size; the extraction strategies clamp to the bytes that
// were actually captured.
func (o *OscillatorSource) Record(ctx context.Context, interval time.Duration) (<-chan []byte, error) {
	if o.sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", o.sampleRate)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("invalid chunk interval %s", interval)
	}

	osc := audio.NewOscillator(o.frequency, o.gain, o.sampleRate)
	perChunk := int(float64(o.sampleRate) * interval.Seconds())
	if perChunk < 1 {
		perChunk = 1
	}

	out := make(chan []byte)
	go func() {
		defer close(out)

		select {
		case out <- streamHeader(o.sampleRate):
		case <-ctx.Done():
			return
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				samples := osc.Read(perChunk)
				art := audio.EncodeWAV(&audio.Buffer{
					SampleRate: o.sampleRate,
					Channels:   1,
					Data:       [][]float64{samples},
				})
				select {
				case out <- art.Data[44:]:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// streamHeader is a canonical mono 16-bit header with placeholder sizes,
// the way streaming WAV writers emit it when the length is not yet known.
func streamHeader(sampleRate int) []byte {
	art := audio.EncodeWAV(audio.NewBuffer(sampleRate, 1, 0))
	h := art.Data
	binary.LittleEndian.PutUint32(h[4:8], 0x7fffffff)
	binary.LittleEndian.PutUint32(h[40:44], 0x7fffffff)
	return h
}
