// Package mp4sink writes a single-track fragmented MP4 file using
// mediacommon's fmp4 boxes: one ftyp+moov init pair on header write, then
// one moof+mdat pair per sample. Sample durations are filled from the DTS
// delta to the next sample, so each WritePacket flushes the previous one.
package mp4sink

import (
	"fmt"
	"os"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"

	"github.com/smazurov/nvrlite/internal/media"
)

const (
	trackID = 1
	// output track clock rate; RTP video already ticks at 90kHz
	timeScale = 90000
)

type pending struct {
	dts     int64
	ptsOff  int32
	key     bool
	payload []byte
}

// Muxer is a media.Sink writing one video track to a local file.
type Muxer struct {
	f       *os.File
	seq     uint32
	queued  *pending
	lastDur uint32
	closed  bool
	header  bool
}

// New creates the destination file. The header is not written until
// WriteHeader.
func New(path string) (media.Sink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}
	return &Muxer{f: f}, nil
}

// TimeBase implements media.Sink.
func (m *Muxer) TimeBase() media.Rational {
	return media.Rational{Num: 1, Den: timeScale}
}

// WriteHeader writes the init segment for a single video track described
// by info.
func (m *Muxer) WriteHeader(info media.StreamInfo) error {
	if m.header {
		return nil
	}

	var codec fmp4.Codec
	switch info.Codec {
	case media.CodecH264:
		if len(info.SPS) == 0 || len(info.PPS) == 0 {
			return fmt.Errorf("missing H264 parameter sets")
		}
		codec = &fmp4.CodecH264{SPS: info.SPS, PPS: info.PPS}
	case media.CodecH265:
		if len(info.VPS) == 0 || len(info.SPS) == 0 || len(info.PPS) == 0 {
			return fmt.Errorf("missing H265 parameter sets")
		}
		codec = &fmp4.CodecH265{VPS: info.VPS, SPS: info.SPS, PPS: info.PPS}
	default:
		return fmt.Errorf("unsupported codec %s", info.Codec)
	}

	init := fmp4.Init{
		Tracks: []*fmp4.InitTrack{{
			ID:        trackID,
			TimeScale: timeScale,
			Codec:     codec,
		}},
	}

	var buf seekablebuffer.Buffer
	if err := init.Marshal(&buf); err != nil {
		return fmt.Errorf("marshal init segment: %w", err)
	}
	if _, err := m.f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write init segment: %w", err)
	}

	m.header = true
	return nil
}

// WritePacket implements media.Sink. Timestamps must already be rebased to
// the muxer time base. The packet is held until its duration is known from
// the following packet's DTS.
func (m *Muxer) WritePacket(p media.Packet) error {
	if !m.header {
		return fmt.Errorf("header not written")
	}

	dts := p.DTS
	if dts == media.NoTimestamp {
		dts = p.PTS
	}
	if dts == media.NoTimestamp {
		// untimestamped packets cannot be placed in an fMP4 fragment
		return nil
	}
	pts := p.PTS
	if pts == media.NoTimestamp {
		pts = dts
	}
	if dts < 0 {
		dts = 0
	}
	if pts < dts {
		pts = dts
	}

	cur := &pending{
		dts:     dts,
		ptsOff:  int32(pts - dts),
		key:     p.Key,
		payload: p.Data,
	}

	if m.queued != nil {
		dur := cur.dts - m.queued.dts
		if dur < 0 {
			dur = 0
		}
		if err := m.flush(m.queued, uint32(dur)); err != nil {
			return err
		}
		if dur > 0 {
			m.lastDur = uint32(dur)
		}
	} else if p.Duration > 0 {
		m.lastDur = uint32(p.Duration)
	}

	m.queued = cur
	return nil
}

// flush writes one sample as its own moof+mdat fragment.
func (m *Muxer) flush(s *pending, duration uint32) error {
	part := fmp4.Part{
		SequenceNumber: m.seq,
		Tracks: []*fmp4.PartTrack{{
			ID:       trackID,
			BaseTime: uint64(s.dts),
			Samples: []*fmp4.Sample{{
				Duration:        duration,
				PTSOffset:       s.ptsOff,
				IsNonSyncSample: !s.key,
				Payload:         s.payload,
			}},
		}},
	}
	m.seq++

	var buf seekablebuffer.Buffer
	if err := part.Marshal(&buf); err != nil {
		return fmt.Errorf("marshal fragment: %w", err)
	}
	if _, err := m.f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write fragment: %w", err)
	}
	return nil
}

// Close flushes the trailing sample and closes the file. Safe to call more
// than once.
func (m *Muxer) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true

	var err error
	if m.queued != nil {
		dur := m.lastDur
		if dur == 0 {
			dur = timeScale / 30
		}
		err = m.flush(m.queued, dur)
		m.queued = nil
	}

	if cerr := m.f.Close(); err == nil {
		err = cerr
	}
	return err
}
