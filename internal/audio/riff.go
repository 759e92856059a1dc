package audio

import (
	"encoding/binary"
	"fmt"
)

// PCMInfo describes a PCM stream located inside a RIFF container.
type PCMInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// ExtractPCM walks the RIFF chunk list of a WAV byte sequence and returns
// the raw contents of the data chunk along with the stream parameters from
// the fmt chunk. Unlike DecodeWAV it tolerates extra chunks (LIST, fact,
// cue) between fmt and data, so it can pull PCM out of files written by
// other encoders.
func ExtractPCM(data []byte) ([]byte, PCMInfo, error) {
	if len(data) < 12 {
		return nil, PCMInfo{}, fmt.Errorf("riff data too short: %d bytes", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, PCMInfo{}, fmt.Errorf("not a riff/wave byte sequence")
	}

	var (
		info    PCMInfo
		pcm     []byte
		haveFmt bool
	)
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if size < 0 || body > len(data) {
			break
		}
		end := body + size
		if end > len(data) {
			end = len(data)
		}
		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, PCMInfo{}, fmt.Errorf("fmt chunk too short")
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 {
				return nil, PCMInfo{}, fmt.Errorf("unsupported audio format %d", format)
			}
			info.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			pcm = data[body:end]
		}
		// Chunk bodies are padded to even lengths.
		offset = body + size + size%2
	}

	if !haveFmt {
		return nil, PCMInfo{}, fmt.Errorf("no fmt chunk found")
	}
	if pcm == nil {
		return nil, PCMInfo{}, fmt.Errorf("no data chunk found")
	}
	if info.Channels < 1 || info.SampleRate < 1 {
		return nil, PCMInfo{}, fmt.Errorf("invalid stream parameters in fmt chunk")
	}
	return pcm, info, nil
}
