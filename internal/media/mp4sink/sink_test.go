package mp4sink

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/smazurov/nvrlite/internal/media"
)

func h264Info() media.StreamInfo {
	return media.StreamInfo{
		StreamID: "cam1",
		Codec:    media.CodecH264,
		Width:    1280,
		Height:   720,
		TimeBase: media.Rational{Num: 1, Den: 90000},
		SPS: []byte{
			0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
			0x05, 0xbb, 0x01, 0x6c, 0x80, 0x00, 0x00, 0x03,
			0x00, 0x80, 0x00, 0x00, 0x1e, 0x07, 0x8c, 0x18, 0xcb,
		},
		PPS: []byte{0x68, 0xeb, 0xec, 0xb2, 0x2c},
	}
}

// avccSample is a minimal AVCC-framed NAL unit.
func avccSample() []byte {
	return []byte{0x00, 0x00, 0x00, 0x02, 0x65, 0x88}
}

func TestMuxer_WritesInitSegment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mp4")
	m, err := New(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := m.WriteHeader(h264Info()); err != nil {
		t.Fatalf("WriteHeader failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) < 8 || !bytes.Equal(data[4:8], []byte("ftyp")) {
		t.Errorf("File must start with an ftyp box, got % x", data[:min(len(data), 8)])
	}
	if !bytes.Contains(data, []byte("moov")) {
		t.Error("Init segment must contain a moov box")
	}
}

func TestMuxer_WritesFragments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mp4")
	m, err := New(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := m.WriteHeader(h264Info()); err != nil {
		t.Fatalf("WriteHeader failed: %v", err)
	}

	for i := int64(0); i < 3; i++ {
		p := media.Packet{
			Data:     avccSample(),
			PTS:      i * 3000,
			DTS:      i * 3000,
			Key:      i == 0,
			TimeBase: media.Rational{Num: 1, Den: 90000},
		}
		if err := m.WritePacket(p); err != nil {
			t.Fatalf("WritePacket %d failed: %v", i, err)
		}
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if count := bytes.Count(data, []byte("moof")); count != 3 {
		t.Errorf("Expected 3 moof fragments, got %d", count)
	}
	if count := bytes.Count(data, []byte("mdat")); count != 3 {
		t.Errorf("Expected 3 mdat boxes, got %d", count)
	}
}

func TestMuxer_RejectsPacketBeforeHeader(t *testing.T) {
	m, err := New(filepath.Join(t.TempDir(), "out.mp4"))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	p := media.Packet{Data: avccSample(), PTS: 0, DTS: 0, Key: true}
	if err := m.WritePacket(p); err == nil {
		t.Error("Expected error writing before header")
	}
}

func TestMuxer_RejectsMissingParameterSets(t *testing.T) {
	m, err := New(filepath.Join(t.TempDir(), "out.mp4"))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	info := h264Info()
	info.SPS = nil
	if err := m.WriteHeader(info); err == nil {
		t.Error("Expected error for missing SPS")
	}
}

func TestMuxer_CloseIsIdempotent(t *testing.T) {
	m, err := New(filepath.Join(t.TempDir(), "out.mp4"))
	if err != nil {
		t.Fatal(err)
	}
	if err := m.WriteHeader(h264Info()); err != nil {
		t.Fatal(err)
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("Second close must be a no-op, got %v", err)
	}
}
