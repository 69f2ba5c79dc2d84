// Package rtspsource adapts a gortsplib RTSP client to the media.Source
// contract: TCP transport, a 5 second socket timeout, and depacketized
// H.264/H.265 access units delivered as AVCC payloads with PTS/DTS.
package rtspsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/bluenviron/gortsplib/v4/pkg/format/rtph264"
	"github.com/bluenviron/gortsplib/v4/pkg/format/rtph265"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/pion/rtp"

	"github.com/smazurov/nvrlite/internal/logging"
	"github.com/smazurov/nvrlite/internal/media"
)

const packetQueueSize = 64

// ErrNoVideoMedia is returned when the RTSP description carries no
// H.264 or H.265 media.
var ErrNoVideoMedia = errors.New("no H264/H265 video media in RTSP description")

// Dialer opens RTSP sources over TCP with a bounded socket timeout.
type Dialer struct {
	ReadTimeout time.Duration
}

// NewDialer returns a dialer with the default 5s socket timeout.
func NewDialer() *Dialer {
	return &Dialer{ReadTimeout: 5 * time.Second}
}

type source struct {
	streamID string
	client   *gortsplib.Client
	info     media.StreamInfo
	timeout  time.Duration

	packets chan media.Packet
	fatal   chan error
	dropped int
	logger  *slog.Logger
}

// Dial connects to url, selects the first H.264/H.265 video media and
// starts playing. streamID is carried on every emitted packet.
func (d *Dialer) Dial(ctx context.Context, streamID, url string) (media.Source, error) {
	timeout := d.ReadTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	u, err := base.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid RTSP URL: %w", err)
	}

	transport := gortsplib.TransportTCP
	c := &gortsplib.Client{
		Scheme:       u.Scheme,
		Host:         u.Host,
		Transport:    &transport,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}

	if err = c.Start2(); err != nil {
		return nil, fmt.Errorf("RTSP connect: %w", err)
	}

	s := &source{
		streamID: streamID,
		client:   c,
		timeout:  timeout,
		packets:  make(chan media.Packet, packetQueueSize),
		fatal:    make(chan error, 1),
		logger:   logging.GetLogger("media").With("stream_id", streamID),
	}

	desc, _, err := c.Describe(u)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("RTSP describe: %w", err)
	}

	if err = s.setupVideo(desc); err != nil {
		c.Close()
		return nil, err
	}

	if _, err = c.Play(nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("RTSP play: %w", err)
	}

	go func() {
		s.fatal <- c.Wait()
	}()

	return s, nil
}

// setupVideo walks the SDP-derived media list, sets up the first supported
// video format and registers the depacketizing RTP callback.
func (s *source) setupVideo(desc *description.Session) error {
	var h264f *format.H264
	if medi := desc.FindFormat(&h264f); medi != nil {
		if _, err := s.client.Setup(desc.BaseURL, medi, 0, 0); err != nil {
			return fmt.Errorf("RTSP setup: %w", err)
		}
		return s.setupH264(medi, h264f)
	}

	var h265f *format.H265
	if medi := desc.FindFormat(&h265f); medi != nil {
		if _, err := s.client.Setup(desc.BaseURL, medi, 0, 0); err != nil {
			return fmt.Errorf("RTSP setup: %w", err)
		}
		return s.setupH265(medi, h265f)
	}

	return ErrNoVideoMedia
}

func (s *source) setupH264(medi *description.Media, forma *format.H264) error {
	dec, err := forma.CreateDecoder()
	if err != nil {
		return fmt.Errorf("create H264 decoder: %w", err)
	}

	timeBase := media.Rational{Num: 1, Den: int64(forma.ClockRate())}
	s.info = media.StreamInfo{
		StreamID: s.streamID,
		Codec:    media.CodecH264,
		TimeBase: timeBase,
		SPS:      forma.SPS,
		PPS:      forma.PPS,
	}
	s.fillH264Size(forma.SPS)

	var dtsExtractor *h264.DTSExtractor

	s.client.OnPacketRTP(medi, forma, func(pkt *rtp.Packet) {
		pts, ok := s.client.PacketPTS2(medi, pkt)
		if !ok {
			return
		}

		au, err := dec.Decode(pkt)
		if err != nil {
			if !errors.Is(err, rtph264.ErrNonStartingPacketAndNoPrevious) &&
				!errors.Is(err, rtph264.ErrMorePacketsNeeded) {
				s.logger.Debug("H264 depacketize error", "error", err)
			}
			return
		}

		key := false
		for _, nalu := range au {
			switch h264.NALUType(nalu[0] & 0x1F) {
			case h264.NALUTypeSPS:
				s.info.SPS = nalu
				s.fillH264Size(nalu)
			case h264.NALUTypePPS:
				s.info.PPS = nalu
			case h264.NALUTypeIDR:
				key = true
			}
		}

		// wait for a random access point before emitting; the DTS
		// extractor needs it and decoders cannot start mid-GOP
		if dtsExtractor == nil {
			if !key {
				return
			}
			dtsExtractor = h264.NewDTSExtractor()
		}

		dts, err := dtsExtractor.Extract(au, pts)
		if err != nil {
			s.logger.Debug("DTS extraction failed", "error", err)
			return
		}

		s.emit(au, pts, dts, key, timeBase)
	})

	return nil
}

func (s *source) setupH265(medi *description.Media, forma *format.H265) error {
	dec, err := forma.CreateDecoder()
	if err != nil {
		return fmt.Errorf("create H265 decoder: %w", err)
	}

	timeBase := media.Rational{Num: 1, Den: int64(forma.ClockRate())}
	s.info = media.StreamInfo{
		StreamID: s.streamID,
		Codec:    media.CodecH265,
		TimeBase: timeBase,
		VPS:      forma.VPS,
		SPS:      forma.SPS,
		PPS:      forma.PPS,
	}
	s.fillH265Size(forma.SPS)

	var dtsExtractor *h265.DTSExtractor

	s.client.OnPacketRTP(medi, forma, func(pkt *rtp.Packet) {
		pts, ok := s.client.PacketPTS2(medi, pkt)
		if !ok {
			return
		}

		au, err := dec.Decode(pkt)
		if err != nil {
			if !errors.Is(err, rtph265.ErrNonStartingPacketAndNoPrevious) &&
				!errors.Is(err, rtph265.ErrMorePacketsNeeded) {
				s.logger.Debug("H265 depacketize error", "error", err)
			}
			return
		}

		for _, nalu := range au {
			switch h265.NALUType((nalu[0] >> 1) & 0b111111) {
			case h265.NALUType_VPS_NUT:
				s.info.VPS = nalu
			case h265.NALUType_SPS_NUT:
				s.info.SPS = nalu
				s.fillH265Size(nalu)
			case h265.NALUType_PPS_NUT:
				s.info.PPS = nalu
			}
		}

		key := h265.IsRandomAccess(au)

		if dtsExtractor == nil {
			if !key {
				return
			}
			dtsExtractor = h265.NewDTSExtractor()
		}

		dts, err := dtsExtractor.Extract(au, pts)
		if err != nil {
			s.logger.Debug("DTS extraction failed", "error", err)
			return
		}

		s.emit(au, pts, dts, key, timeBase)
	})

	return nil
}

// emit converts the access unit to AVCC and queues it without ever
// blocking the RTP read path. On overflow the oldest queued packet is
// dropped.
func (s *source) emit(au [][]byte, pts, dts int64, key bool, timeBase media.Rational) {
	payload, err := h264.AVCC(au).Marshal()
	if err != nil {
		s.logger.Debug("AVCC marshal failed", "error", err)
		return
	}

	p := media.Packet{
		StreamID: s.streamID,
		Data:     payload,
		PTS:      pts,
		DTS:      dts,
		Duration: 0,
		Key:      key,
		TimeBase: timeBase,
	}

	select {
	case s.packets <- p:
	default:
		select {
		case <-s.packets:
			s.dropped++
			if s.dropped%100 == 1 {
				s.logger.Warn("packet queue overflow, dropping oldest", "dropped", s.dropped)
			}
		default:
		}
		select {
		case s.packets <- p:
		default:
		}
	}
}

func (s *source) fillH264Size(sps []byte) {
	if len(sps) == 0 {
		return
	}
	var parsed h264.SPS
	if err := parsed.Unmarshal(sps); err == nil {
		s.info.Width = parsed.Width()
		s.info.Height = parsed.Height()
	}
}

func (s *source) fillH265Size(sps []byte) {
	if len(sps) == 0 {
		return
	}
	var parsed h265.SPS
	if err := parsed.Unmarshal(sps); err == nil {
		s.info.Width = parsed.Width()
		s.info.Height = parsed.Height()
	}
}

func (s *source) Info() media.StreamInfo {
	return s.info
}

func (s *source) ReadPacket(ctx context.Context) (media.Packet, error) {
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case p := <-s.packets:
		return p, nil
	case err := <-s.fatal:
		if err == nil {
			err = errors.New("RTSP session closed")
		}
		return media.Packet{}, err
	case <-timer.C:
		return media.Packet{}, fmt.Errorf("no packet within %s", s.timeout)
	case <-ctx.Done():
		return media.Packet{}, ctx.Err()
	}
}

func (s *source) Close() {
	s.client.Close()
}
