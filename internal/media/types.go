// Package media defines the narrow contracts between the capture/recorder
// pipeline and the underlying RTSP and MP4 libraries. Workers only ever see
// these types, so the reconnect and mux state machines stay testable with
// in-memory fakes.
package media

import (
	"context"
	"math"
)

// NoTimestamp marks a PTS or DTS that carries no value. It must never be
// used in timestamp arithmetic.
const NoTimestamp = int64(math.MinInt64)

// Rational is a time base expressed as Num/Den seconds per timestamp unit.
type Rational struct {
	Num int64
	Den int64
}

// Seconds converts a timestamp in this time base to seconds.
func (r Rational) Seconds(ts int64) float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(ts) * float64(r.Num) / float64(r.Den)
}

// Codec identifies the video codec of a stream.
type Codec int

// Supported video codecs.
const (
	CodecUnknown Codec = iota
	CodecH264
	CodecH265
)

func (c Codec) String() string {
	switch c {
	case CodecH264:
		return "h264"
	case CodecH265:
		return "h265"
	default:
		return "unknown"
	}
}

// StreamInfo describes a video stream once its parameters are known.
// Produced once per successful open by the capture worker and consumed by
// the recorder before its first recording. The parameter sets (SPS/PPS,
// plus VPS for H.265) are the codec extradata the muxer needs.
type StreamInfo struct {
	StreamID string
	Codec    Codec
	Width    int
	Height   int
	TimeBase Rational
	VPS      []byte
	SPS      []byte
	PPS      []byte
}

// Packet is one encoded video access unit in AVCC form, timestamped in the
// source stream's time base. PTS or DTS may be NoTimestamp.
type Packet struct {
	StreamID string
	Data     []byte
	PTS      int64
	DTS      int64
	Duration int64
	Key      bool
	TimeBase Rational
}

// Source is an open RTSP input delivering encoded video packets.
type Source interface {
	// Info returns the stream descriptor. Valid once Dial succeeded.
	Info() StreamInfo
	// ReadPacket blocks until the next video packet, the read timeout
	// expires, or the source fails. Non-video media is never delivered.
	ReadPacket(ctx context.Context) (Packet, error)
	// Close tears down the connection. Safe to call more than once.
	Close()
}

// Dialer opens RTSP sources. The capture worker redials through this on
// every reconnect attempt.
type Dialer interface {
	Dial(ctx context.Context, streamID, url string) (Source, error)
}

// Sink is an MP4 output accepting already-rebased packets.
type Sink interface {
	// TimeBase is the output track time base packets must be rebased to.
	TimeBase() Rational
	// WriteHeader writes the file header for the single video track.
	WriteHeader(info StreamInfo) error
	// WritePacket appends one packet. Timestamps must already be rebased.
	WritePacket(p Packet) error
	// Close finalizes the file and releases it. Safe to call more than once.
	Close() error
}

// SinkFactory allocates a sink writing to path.
type SinkFactory func(path string) (Sink, error)
