package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	// MIMEWav tags artifacts produced by the local encoder.
	MIMEWav = "audio/wav"
	// MIMEMpeg tags opaque compressed bytes from an external endpoint.
	MIMEMpeg = "audio/mpeg"

	wavHeaderSize = 44
	bitsPerSample = 16
)

// Artifact is an encoded, ready-to-play audio byte sequence with its MIME
// type. Artifacts are immutable once created; ownership transfers to whichever
// consumer plays or saves them.
type Artifact struct {
	Data []byte
	MIME string
}

// Size returns the encoded byte length.
func (a Artifact) Size() int { return len(a.Data) }

// Empty reports an artifact with no payload beyond a bare header.
func (a Artifact) Empty() bool {
	return len(a.Data) <= wavHeaderSize
}

// wavHeader is the canonical 44-byte RIFF/WAVE/fmt/data descriptor.
type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// EncodeWAV encodes a sample buffer into an uncompressed 16-bit PCM WAV
// artifact. Samples are clamped to [-1, 1] and quantized by multiplying
// negative values by 32768 and positive values by 32767. Channel samples are
// written channel-major, frame-minor. An empty buffer yields a header-only
// artifact with zero data length rather than an error.
func EncodeWAV(b *Buffer) Artifact {
	channels := uint16(1)
	sampleRate := uint32(0)
	frames := 0
	if b != nil {
		if b.Channels > 0 {
			channels = uint16(b.Channels)
		}
		sampleRate = uint32(b.SampleRate)
		frames = b.Frames()
	}

	dataSize := uint32(frames) * uint32(channels) * 2
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   channels,
		SampleRate:    sampleRate,
		ByteRate:      sampleRate * uint32(channels) * 2,
		BlockAlign:    channels * 2,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+int(dataSize)))
	// Writes into a bytes.Buffer cannot fail.
	_ = binary.Write(buf, binary.LittleEndian, header)

	if b != nil {
		for _, ch := range b.Data {
			for _, s := range ch {
				_ = binary.Write(buf, binary.LittleEndian, quantize(s))
			}
		}
	}

	return Artifact{Data: buf.Bytes(), MIME: MIMEWav}
}

// DecodeWAV parses a canonical-header WAV byte sequence back into a sample
// buffer. It accepts only the format EncodeWAV produces: PCM, 16-bit.
func DecodeWAV(data []byte) (*Buffer, error) {
	if len(data) < wavHeaderSize {
		return nil, fmt.Errorf("wav data too short: %d bytes", len(data))
	}

	var header wavHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("read wav header: %w", err)
	}
	if string(header.ChunkID[:]) != "RIFF" || string(header.Format[:]) != "WAVE" {
		return nil, fmt.Errorf("not a wav byte sequence")
	}
	if string(header.Subchunk1ID[:]) != "fmt " || string(header.Subchunk2ID[:]) != "data" {
		return nil, fmt.Errorf("non-canonical wav layout")
	}
	if header.AudioFormat != 1 {
		return nil, fmt.Errorf("unsupported audio format %d", header.AudioFormat)
	}
	if header.BitsPerSample != bitsPerSample {
		return nil, fmt.Errorf("unsupported bit depth %d", header.BitsPerSample)
	}
	channels := int(header.NumChannels)
	if channels < 1 {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}

	available := len(data) - wavHeaderSize
	dataSize := int(header.Subchunk2Size)
	if dataSize > available {
		dataSize = available
	}
	frames := dataSize / 2 / channels

	out := NewBuffer(int(header.SampleRate), channels, frames)
	offset := wavHeaderSize
	for ch := 0; ch < channels; ch++ {
		for i := 0; i < frames; i++ {
			v := int16(binary.LittleEndian.Uint16(data[offset:]))
			out.Data[ch][i] = dequantize(v)
			offset += 2
		}
	}
	return out, nil
}

// WAVInfo reads the stream parameters straight from a canonical header.
func WAVInfo(data []byte) (PCMInfo, error) {
	if len(data) < wavHeaderSize {
		return PCMInfo{}, fmt.Errorf("wav data too short: %d bytes", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return PCMInfo{}, fmt.Errorf("not a wav byte sequence")
	}
	info := PCMInfo{
		SampleRate:    int(binary.LittleEndian.Uint32(data[24:28])),
		Channels:      int(binary.LittleEndian.Uint16(data[22:24])),
		BitsPerSample: int(binary.LittleEndian.Uint16(data[34:36])),
	}
	if info.SampleRate == 0 || info.Channels == 0 {
		return PCMInfo{}, fmt.Errorf("invalid wav header")
	}
	return info, nil
}

// WAVDuration reads the play time in seconds straight from the header.
func WAVDuration(data []byte) (float64, error) {
	info, err := WAVInfo(data)
	if err != nil {
		return 0, err
	}
	dataSize := binary.LittleEndian.Uint32(data[40:44])
	frames := int(dataSize) / 2 / info.Channels
	return float64(frames) / float64(info.SampleRate), nil
}

// quantize converts one float sample to signed 16-bit PCM: ×32768 below
// zero, ×32767 at or above, which keeps both extremes representable.
func quantize(s float64) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(s * 32768)
	}
	return int16(s * 32767)
}

// dequantize inverts quantize exactly, so decode(encode(x)) round-trips the
// quantized value.
func dequantize(v int16) float64 {
	if v < 0 {
		return float64(v) / 32768
	}
	return float64(v) / 32767
}
