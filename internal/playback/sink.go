// Package playback plays conversion artifacts on the host audio output,
// one session at a time.
package playback

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/vozlabs/voz-core/internal/audio"
)

// Sink renders one artifact to completion or cancellation. Implementations
// must be safe for sequential reuse; the controller never calls Play
// concurrently.
type Sink interface {
	Play(ctx context.Context, art audio.Artifact) error
	Close() error
}

// OtoSink plays PCM through the host audio device. The underlying context
// is created once with fixed stream parameters; artifacts with a different
// sample rate are rejected rather than played at the wrong pitch.
type OtoSink struct {
	otoCtx     *oto.Context
	ready      chan struct{}
	sampleRate int
	channels   int
}

// NewOtoSink opens the host audio device for 16-bit little-endian PCM.
func NewOtoSink(sampleRate, channels int) (*OtoSink, error) {
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	}
	otoCtx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("open audio device: %w", err)
	}
	return &OtoSink{otoCtx: otoCtx, ready: ready, sampleRate: sampleRate, channels: channels}, nil
}

// Play blocks until the artifact has been rendered or ctx is canceled.
func (s *OtoSink) Play(ctx context.Context, art audio.Artifact) error {
	if art.MIME != audio.MIMEWav {
		return fmt.Errorf("sink plays wav artifacts only, got %q", art.MIME)
	}
	pcm, info, err := audio.ExtractPCM(art.Data)
	if err != nil {
		return fmt.Errorf("extract pcm: %w", err)
	}
	// No resampler here; the engine and tone generator emit the
	// configured rate already.
	if info.SampleRate != s.sampleRate || info.Channels != s.channels {
		return fmt.Errorf("artifact stream %dHz/%dch does not match device %dHz/%dch",
			info.SampleRate, info.Channels, s.sampleRate, s.channels)
	}

	// The canonical encoder lays samples out channel-major; the device
	// wants interleaved frames. Mono needs no rearranging.
	if info.Channels > 1 {
		pcm = interleave(pcm, info.Channels)
	}

	select {
	case <-s.ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	player := s.otoCtx.NewPlayer(bytes.NewReader(pcm))
	defer player.Close()
	player.Play()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func interleave(pcm []byte, channels int) []byte {
	frames := len(pcm) / 2 / channels
	out := make([]byte, 0, frames*channels*2)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			off := (ch*frames + i) * 2
			out = append(out, pcm[off], pcm[off+1])
		}
	}
	return out
}

// Close suspends the device. oto contexts cannot be torn down, so Suspend
// is the closest available release.
func (s *OtoSink) Close() error {
	return s.otoCtx.Suspend()
}
