package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestExtractPCMCanonical(t *testing.T) {
	art := EncodeWAV(GenerateTone(0.05, 8000))
	pcm, info, err := ExtractPCM(art.Data)
	if err != nil {
		t.Fatalf("ExtractPCM: %v", err)
	}
	if info.SampleRate != 8000 || info.Channels != 1 || info.BitsPerSample != 16 {
		t.Errorf("info = %+v", info)
	}
	if !bytes.Equal(pcm, art.Data[wavHeaderSize:]) {
		t.Error("pcm differs from the encoder's data chunk")
	}
}

// Files from other encoders often carry a LIST chunk between fmt and data.
func TestExtractPCMTolerantOfExtraChunks(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // size, unchecked
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))     // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(2))     // channels
	binary.Write(&buf, binary.LittleEndian, uint32(44100)) // sample rate
	binary.Write(&buf, binary.LittleEndian, uint32(176400))
	binary.Write(&buf, binary.LittleEndian, uint16(4))
	binary.Write(&buf, binary.LittleEndian, uint16(16))

	buf.WriteString("LIST")
	binary.Write(&buf, binary.LittleEndian, uint32(5))
	buf.Write([]byte{'I', 'N', 'F', 'O', 'x', 0}) // odd size, padded

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(payload)))
	buf.Write(payload)

	pcm, info, err := ExtractPCM(buf.Bytes())
	if err != nil {
		t.Fatalf("ExtractPCM: %v", err)
	}
	if info.SampleRate != 44100 || info.Channels != 2 {
		t.Errorf("info = %+v", info)
	}
	if !bytes.Equal(pcm, payload) {
		t.Errorf("pcm = %v, want %v", pcm, payload)
	}
}

func TestExtractPCMRejectsGarbage(t *testing.T) {
	cases := [][]byte{
		nil,
		[]byte("short"),
		[]byte("RIFFxxxxJUNKxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"),
		bytes.Repeat([]byte{0}, 64),
	}
	for _, data := range cases {
		if _, _, err := ExtractPCM(data); err == nil {
			t.Errorf("ExtractPCM(%d bytes) succeeded, want error", len(data))
		}
	}
}
