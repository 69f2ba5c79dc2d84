// Package capture runs one worker per configured stream. A worker owns its
// RTSP connection, reconnects with a fixed backoff while enabled, and
// feeds the stream's recorder with a StreamInfo descriptor followed by
// encoded packets.
package capture

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/smazurov/nvrlite/internal/events"
	"github.com/smazurov/nvrlite/internal/logging"
	"github.com/smazurov/nvrlite/internal/media"
	"github.com/smazurov/nvrlite/internal/metrics"
)

const (
	retryInterval = 5 * time.Second
	// granularity at which sleeps yield to shutdown
	pollStep    = 10 * time.Millisecond
	idleStep    = 100 * time.Millisecond
	logEveryDrp = 100
)

// Worker owns one RTSP connection and its reconnect state machine.
type Worker struct {
	id  string
	url string

	dialer  media.Dialer
	bus     *events.Bus
	packets chan media.Packet
	infoCh  chan media.StreamInfo

	enabled atomic.Bool
	online  bool
	source  media.Source
	dropped uint64

	logger *slog.Logger
	done   chan struct{}
}

// NewWorker wires a capture worker. packets and infoCh are the per-stream
// channels consumed by the recorder; the worker never blocks on them.
func NewWorker(id, url string, dialer media.Dialer, bus *events.Bus,
	packets chan media.Packet, infoCh chan media.StreamInfo,
) *Worker {
	return &Worker{
		id:      id,
		url:     url,
		dialer:  dialer,
		bus:     bus,
		packets: packets,
		infoCh:  infoCh,
		logger:  logging.GetLogger("capture").With("stream_id", id),
		done:    make(chan struct{}),
	}
}

// Enable requests streaming. Takes effect on the next loop iteration.
func (w *Worker) Enable() {
	w.enabled.Store(true)
	w.logger.Info("streaming enabled")
}

// Disable requests the connection to be torn down.
func (w *Worker) Disable() {
	w.enabled.Store(false)
	w.logger.Info("streaming disabled")
}

// Enabled reports whether streaming is currently requested.
func (w *Worker) Enabled() bool {
	return w.enabled.Load()
}

// Done is closed when Run returns.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Run drives the state machine until ctx is cancelled. It owns the source
// handle exclusively; nothing else touches it.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	w.logger.Debug("capture worker started")

	for ctx.Err() == nil {
		if !w.enabled.Load() {
			w.closeSource()
			w.setOnline(false)
			sleep(ctx, idleStep)
			continue
		}

		if w.source == nil {
			src, err := w.dialer.Dial(ctx, w.id, w.url)
			if err != nil {
				w.setOnline(false)
				w.logger.Warn("RTSP open failed, retrying in 5s", "error", err)
				w.retryWait(ctx)
				continue
			}
			w.source = src
			w.setOnline(true)
			w.emitInfo(src.Info())
			w.logger.Info("RTSP source online",
				"codec", src.Info().Codec.String(),
				"width", src.Info().Width,
				"height", src.Info().Height)
		}

		pkt, err := w.source.ReadPacket(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.logger.Warn("read error, closing input", "error", err)
			w.closeSource()
			w.setOnline(false)
			continue
		}

		w.emitPacket(pkt)
	}

	w.closeSource()
	w.setOnline(false)
	w.logger.Debug("capture worker finished")
}

// retryWait sleeps the reconnect interval, yielding to shutdown and to
// disable requests every pollStep.
func (w *Worker) retryWait(ctx context.Context) {
	deadline := time.Now().Add(retryInterval)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil || !w.enabled.Load() {
			return
		}
		sleep(ctx, pollStep)
	}
}

// emitInfo delivers the descriptor with latest-wins semantics: a stale,
// unconsumed descriptor from a previous open cycle is replaced.
func (w *Worker) emitInfo(info media.StreamInfo) {
	select {
	case w.infoCh <- info:
		return
	default:
	}
	select {
	case <-w.infoCh:
	default:
	}
	select {
	case w.infoCh <- info:
	default:
	}
}

// emitPacket queues the packet without blocking; on overflow the oldest
// queued packet is dropped so the read path never stalls.
func (w *Worker) emitPacket(p media.Packet) {
	metrics.CapturePacketsTotal.WithLabelValues(w.id).Inc()

	select {
	case w.packets <- p:
		return
	default:
	}
	select {
	case <-w.packets:
		w.dropped++
		metrics.CaptureDropsTotal.WithLabelValues(w.id).Inc()
		if w.dropped%logEveryDrp == 1 {
			w.logger.Warn("recorder queue full, dropping oldest packet", "dropped", w.dropped)
		}
	default:
	}
	select {
	case w.packets <- p:
	default:
	}
}

func (w *Worker) setOnline(online bool) {
	if w.online == online {
		return
	}
	w.online = online

	val := 0.0
	if online {
		val = 1.0
	}
	metrics.StreamOnline.WithLabelValues(w.id).Set(val)

	w.bus.Publish(events.StreamOnlineChangedEvent{
		StreamID:  w.id,
		Online:    online,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (w *Worker) closeSource() {
	if w.source != nil {
		w.source.Close()
		w.source = nil
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
