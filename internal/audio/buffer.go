package audio

import "fmt"

// Buffer is an ordered sequence of float samples in [-1, 1], one slice per
// channel, tagged with a sample rate. All channels carry the same number of
// frames.
type Buffer struct {
	SampleRate int
	Channels   int
	Data       [][]float64
}

// NewBuffer allocates a zeroed buffer with the given frame count.
func NewBuffer(sampleRate, channels, frames int) *Buffer {
	if channels < 1 {
		channels = 1
	}
	data := make([][]float64, channels)
	for ch := range data {
		data[ch] = make([]float64, frames)
	}
	return &Buffer{SampleRate: sampleRate, Channels: channels, Data: data}
}

// Frames returns the per-channel sample count.
func (b *Buffer) Frames() int {
	if b == nil || len(b.Data) == 0 {
		return 0
	}
	return len(b.Data[0])
}

// Duration returns the buffer's play time in seconds.
func (b *Buffer) Duration() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// Clamp bounds every sample to [-1, 1] in place.
func (b *Buffer) Clamp() {
	for _, ch := range b.Data {
		for i, s := range ch {
			if s > 1 {
				ch[i] = 1
			} else if s < -1 {
				ch[i] = -1
			}
		}
	}
}

// Validate reports a buffer whose channels disagree on frame count.
func (b *Buffer) Validate() error {
	if b.Channels != len(b.Data) {
		return fmt.Errorf("buffer declares %d channels but carries %d", b.Channels, len(b.Data))
	}
	frames := b.Frames()
	for ch, data := range b.Data {
		if len(data) != frames {
			return fmt.Errorf("channel %d has %d frames, want %d", ch, len(data), frames)
		}
	}
	return nil
}

// Concat joins buffers sample-for-sample in argument order into a single
// mono buffer sized to the sum of the inputs. Nil and empty inputs are
// skipped, which is how a dropped chunk becomes a silent gap rather than an
// abort. The first non-empty input decides the sample rate.
func Concat(buffers ...*Buffer) *Buffer {
	total := 0
	sampleRate := 0
	for _, b := range buffers {
		if b == nil {
			continue
		}
		total += b.Frames()
		if sampleRate == 0 && b.SampleRate > 0 {
			sampleRate = b.SampleRate
		}
	}
	out := NewBuffer(sampleRate, 1, total)
	pos := 0
	for _, b := range buffers {
		if b == nil || b.Frames() == 0 {
			continue
		}
		pos += copy(out.Data[0][pos:], b.Data[0])
	}
	return out
}
