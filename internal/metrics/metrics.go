// Package metrics exposes per-stream Prometheus instrumentation for the
// capture and recorder pipelines, served on the control plane's /metrics
// endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// StreamOnline is 1 while the stream's RTSP source is delivering
	// packets, 0 otherwise.
	StreamOnline = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nvrlite_stream_online",
		Help: "Whether the RTSP source is online (1) or offline (0).",
	}, []string{"stream_id"})

	// StreamRecording is 1 while an MP4 recording is open for the stream.
	StreamRecording = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nvrlite_stream_recording",
		Help: "Whether a recording is in progress (1) or not (0).",
	}, []string{"stream_id"})

	// CapturePacketsTotal counts video packets emitted by capture workers.
	CapturePacketsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvrlite_capture_packets_total",
		Help: "Video packets emitted by the capture worker.",
	}, []string{"stream_id"})

	// CaptureDropsTotal counts packets dropped on channel overflow.
	CaptureDropsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvrlite_capture_drops_total",
		Help: "Packets dropped because the recorder queue was full.",
	}, []string{"stream_id"})

	// PrebufferSeconds is the source-time span currently held in the
	// recorder's pre-roll buffer.
	PrebufferSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nvrlite_recorder_prebuffer_seconds",
		Help: "Source-time span currently held in the pre-roll buffer.",
	}, []string{"stream_id"})
)

// Handler returns the HTTP handler for the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
