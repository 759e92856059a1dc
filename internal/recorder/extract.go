package recorder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"

	gowav "github.com/go-audio/wav"

	"github.com/vozlabs/voz-core/internal/audio"
)

// toneFallbackSeconds sizes the last-resort artifact when the recording
// yields nothing decodable.
const toneFallbackSeconds = 3.0

// extractToneRate is the sample rate for the fallback tone.
const extractToneRate = 22050

// ExtractAudio recovers an audio artifact from recorded media bytes. Four
// strategies run in order of fidelity: a direct RIFF chunk walk, a strict
// decode and re-encode pass, a lenient full decode, and a generated tone.
// Every successful strategy is kept and the largest artifact wins; size is
// an approximate proxy for completeness, not a guarantee.
func ExtractAudio(data []byte, log *slog.Logger) audio.Artifact {
	log = log.With(slog.String("component", "audio-extraction"))

	strategies := []struct {
		name string
		run  func([]byte) (audio.Artifact, error)
	}{
		{"chunk_walk", extractChunkWalk},
		{"strict_reencode", extractStrictReencode},
		{"lenient_decode", extractLenientDecode},
	}

	var best audio.Artifact
	for _, s := range strategies {
		art, err := s.run(data)
		if err != nil {
			log.Warn("extraction strategy failed",
				slog.String("strategy", s.name), slog.String("error", err.Error()))
			continue
		}
		if art.Size() > best.Size() {
			best = art
		}
	}
	if best.Empty() {
		log.Warn("no strategy recovered audio, generating tone")
		return audio.EncodeWAV(audio.GenerateTone(toneFallbackSeconds, extractToneRate))
	}
	return best
}

// extractChunkWalk lifts the PCM straight out of the container and rewraps
// it under a canonical header, leaving the samples untouched.
func extractChunkWalk(data []byte) (audio.Artifact, error) {
	pcm, info, err := audio.ExtractPCM(data)
	if err != nil {
		return audio.Artifact{}, err
	}
	if info.BitsPerSample != 16 {
		return audio.Artifact{}, fmt.Errorf("unsupported bit depth %d", info.BitsPerSample)
	}
	if len(pcm) == 0 {
		return audio.Artifact{}, fmt.Errorf("empty data chunk")
	}
	return wrapPCM(pcm, info), nil
}

// extractStrictReencode round-trips the bytes through the canonical codec,
// normalizing anything the strict decoder accepts.
func extractStrictReencode(data []byte) (audio.Artifact, error) {
	buf, err := audio.DecodeWAV(data)
	if err != nil {
		return audio.Artifact{}, err
	}
	if buf.Frames() == 0 {
		return audio.Artifact{}, fmt.Errorf("decoded zero frames")
	}
	return audio.EncodeWAV(buf), nil
}

// extractLenientDecode hands the bytes to go-audio's decoder, which copes
// with containers and bit depths the canonical codec refuses.
func extractLenientDecode(data []byte) (audio.Artifact, error) {
	dec := gowav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return audio.Artifact{}, fmt.Errorf("not a decodable wav file")
	}
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return audio.Artifact{}, fmt.Errorf("full pcm decode: %w", err)
	}
	if pcm == nil || pcm.Format == nil || len(pcm.Data) == 0 {
		return audio.Artifact{}, fmt.Errorf("decoder produced no samples")
	}

	channels := pcm.Format.NumChannels
	if channels < 1 {
		return audio.Artifact{}, fmt.Errorf("invalid channel count %d", channels)
	}
	depth := int(dec.BitDepth)
	if depth == 0 {
		depth = 16
	}
	scale := float64(int(1) << (depth - 1))

	frames := len(pcm.Data) / channels
	out := audio.NewBuffer(pcm.Format.SampleRate, channels, frames)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			out.Data[ch][i] = float64(pcm.Data[i*channels+ch]) / scale
		}
	}
	out.Clamp()
	return audio.EncodeWAV(out), nil
}

// wrapPCM writes a canonical 44-byte header in front of raw 16-bit PCM.
func wrapPCM(pcm []byte, info audio.PCMInfo) audio.Artifact {
	var buf bytes.Buffer
	size := uint32(len(pcm))
	blockAlign := uint16(info.Channels * 2)

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, 36+size)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(info.Channels))
	binary.Write(&buf, binary.LittleEndian, uint32(info.SampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(info.SampleRate)*uint32(blockAlign))
	binary.Write(&buf, binary.LittleEndian, blockAlign)
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, size)
	buf.Write(pcm)

	return audio.Artifact{Data: buf.Bytes(), MIME: audio.MIMEWav}
}
