// Package recorder runs one worker per stream. The worker maintains the
// rolling pre-roll buffer at all times, and on command flushes it into a
// new MP4 file, keeps writing through the post-roll after a stop request,
// then finalizes the file.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/smazurov/nvrlite/internal/events"
	"github.com/smazurov/nvrlite/internal/logging"
	"github.com/smazurov/nvrlite/internal/media"
	"github.com/smazurov/nvrlite/internal/metrics"
)

// Command is a recorder control message.
type Command int

// Recorder commands.
const (
	CommandStart Command = iota + 1
	CommandStop
)

// Worker is the per-stream recording state machine. All state is owned by
// the Run goroutine; the only external surface is the command channel.
type Worker struct {
	id     string
	folder string
	post   float64

	newSink media.SinkFactory
	infoCh  <-chan media.StreamInfo
	packets <-chan media.Packet
	cmds    chan Command
	bus     *events.Bus

	info        *media.StreamInfo
	prebuf      *prebuffer
	sink        media.Sink
	recording   bool
	stopPending bool
	recStartPTS int64
	lastOutDTS  int64
	file        string
	postTimer   *time.Timer

	logger *slog.Logger
	done   chan struct{}

	// now is swappable for tests
	now func() time.Time
}

// NewWorker wires a recorder for one stream. pre/post are the pre-roll and
// post-roll windows in seconds, folder the recordings directory.
func NewWorker(id, folder string, pre, post float64, newSink media.SinkFactory,
	infoCh <-chan media.StreamInfo, packets <-chan media.Packet, bus *events.Bus,
) *Worker {
	return &Worker{
		id:          id,
		folder:      folder,
		post:        post,
		newSink:     newSink,
		infoCh:      infoCh,
		packets:     packets,
		cmds:        make(chan Command, 8),
		bus:         bus,
		prebuf:      newPrebuffer(pre),
		recStartPTS: media.NoTimestamp,
		lastOutDTS:  media.NoTimestamp,
		logger:      logging.GetLogger("recorder").With("stream_id", id),
		done:        make(chan struct{}),
		now:         time.Now,
	}
}

// Command enqueues a start or stop request without blocking the caller.
func (w *Worker) Command(cmd Command) {
	select {
	case w.cmds <- cmd:
	default:
		w.logger.Warn("command queue full, dropping command", "command", cmd)
	}
}

// Done is closed when Run returns, after any open output was finalized.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Run is the recorder event loop. It exits after ctx cancellation, never
// leaving a recording unfinalized.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	w.logger.Debug("recorder worker started")

	for {
		select {
		case <-ctx.Done():
			if w.recording {
				w.finalize()
			}
			w.logger.Debug("recorder worker finished")
			return

		case info := <-w.infoCh:
			w.onInfo(info)

		case p := <-w.packets:
			w.onPacket(p)

		case cmd := <-w.cmds:
			switch cmd {
			case CommandStart:
				w.start()
			case CommandStop:
				w.stop()
			}

		case <-w.timerC():
			w.postTimer = nil
			if w.recording && w.stopPending {
				w.logger.Info("post-roll elapsed, finalizing")
				w.finalize()
			}
		}
	}
}

func (w *Worker) timerC() <-chan time.Time {
	if w.postTimer == nil {
		return nil
	}
	return w.postTimer.C
}

// onInfo accepts a stream descriptor. Re-emissions are taken only while
// not recording; a descriptor must never reconfigure an open output.
func (w *Worker) onInfo(info media.StreamInfo) {
	if w.recording {
		w.logger.Debug("ignoring stream info while recording")
		return
	}
	w.info = &info
	w.logger.Info("stream info ready",
		"codec", info.Codec.String(), "width", info.Width, "height", info.Height)
}

func (w *Worker) onPacket(p media.Packet) {
	if w.recording {
		w.writePacket(p)
		return
	}
	w.prebuf.push(p)
	metrics.PrebufferSeconds.WithLabelValues(w.id).Set(w.prebuf.spanSeconds())
}

// drainPending consumes descriptor and packet messages already queued
// ahead of a command, so anything the capture worker sent before the
// command lands in the pre-roll rather than after it.
func (w *Worker) drainPending() {
	for {
		select {
		case info := <-w.infoCh:
			w.onInfo(info)
		case p := <-w.packets:
			w.onPacket(p)
		default:
			return
		}
	}
}

// start opens a new MP4 output, flushes the pre-roll and announces the
// recording. Idempotent.
func (w *Worker) start() {
	w.drainPending()
	if w.recording {
		w.logger.Info("already recording", "file", w.file)
		return
	}
	if w.info == nil {
		w.logger.Warn("start refused, stream info not ready")
		return
	}

	name := fmt.Sprintf("rec_%s_%s.mp4", w.id, w.now().Format("2006-01-02_15-04-05"))
	path := filepath.Join(w.folder, name)

	sink, err := w.newSink(path)
	if err != nil {
		w.logger.Error("failed to allocate output", "file", path, "error", err)
		return
	}
	if err := sink.WriteHeader(*w.info); err != nil {
		w.logger.Error("failed to write header", "file", path, "error", err)
		sink.Close()
		return
	}

	w.sink = sink
	w.file = path
	w.recStartPTS = media.NoTimestamp
	w.lastOutDTS = media.NoTimestamp
	w.recording = true
	metrics.StreamRecording.WithLabelValues(w.id).Set(1)

	// keep the output decodable: the file must open on a key frame
	w.prebuf.trimToKey()
	for _, p := range w.prebuf.drain() {
		w.writePacket(p)
	}
	metrics.PrebufferSeconds.WithLabelValues(w.id).Set(0)

	w.bus.Publish(events.RecordingStartedEvent{
		StreamID:  w.id,
		File:      path,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	w.logger.Info("recording started", "file", path)
}

// stop acknowledges a stop request. With a post-roll configured the output
// keeps collecting packets until the timer fires. Idempotent.
func (w *Worker) stop() {
	w.drainPending()
	if !w.recording {
		w.logger.Debug("stop ignored, not recording")
		return
	}
	if w.stopPending {
		w.logger.Debug("stop already pending")
		return
	}

	w.bus.Publish(events.RecordingStoppedEvent{
		StreamID:  w.id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})

	if w.post <= 0 {
		w.finalize()
		return
	}

	w.stopPending = true
	w.postTimer = time.NewTimer(time.Duration(w.post * float64(time.Second)))
	w.logger.Info("stop acknowledged, post-roll armed", "post_seconds", w.post)
}

// finalize writes the trailer, closes the output and resets recording
// state. Safe to call when no output is open.
func (w *Worker) finalize() {
	if w.postTimer != nil {
		w.postTimer.Stop()
		w.postTimer = nil
	}

	wasRecording := w.recording
	if w.sink != nil {
		if err := w.sink.Close(); err != nil {
			w.logger.Error("failed to finalize output", "file", w.file, "error", err)
		}
		w.sink = nil
	}

	w.recording = false
	w.stopPending = false
	w.recStartPTS = media.NoTimestamp
	w.lastOutDTS = media.NoTimestamp
	metrics.StreamRecording.WithLabelValues(w.id).Set(0)

	if wasRecording {
		w.bus.Publish(events.RecordingFinalizedEvent{
			StreamID:  w.id,
			File:      w.file,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		w.logger.Info("recording finalized", "file", w.file)
	}
}

// writePacket rebases one packet onto the recording's start PTS and the
// output time base, then writes it. Write failures are logged and the
// recording continues.
func (w *Worker) writePacket(p media.Packet) {
	if w.sink == nil {
		return
	}

	srcPTS := p.PTS
	if srcPTS == media.NoTimestamp {
		srcPTS = p.DTS
	}
	if w.recStartPTS == media.NoTimestamp && srcPTS != media.NoTimestamp {
		w.recStartPTS = srcPTS
	}

	out := p
	outTB := w.sink.TimeBase()

	if p.PTS != media.NoTimestamp && w.recStartPTS != media.NoTimestamp {
		out.PTS = media.Rescale(p.PTS-w.recStartPTS, p.TimeBase, outTB)
	} else {
		out.PTS = media.NoTimestamp
	}
	if p.DTS != media.NoTimestamp && w.recStartPTS != media.NoTimestamp {
		out.DTS = media.Rescale(p.DTS-w.recStartPTS, p.TimeBase, outTB)
	} else {
		out.DTS = media.NoTimestamp
	}
	if p.Duration > 0 {
		out.Duration = media.Rescale(p.Duration, p.TimeBase, outTB)
	} else {
		out.Duration = 0
	}
	out.TimeBase = outTB

	// output DTS must never step backwards within a recording
	if out.DTS != media.NoTimestamp {
		if w.lastOutDTS != media.NoTimestamp && out.DTS < w.lastOutDTS {
			out.DTS = w.lastOutDTS
		}
		w.lastOutDTS = out.DTS
	}
	if out.PTS != media.NoTimestamp && out.DTS != media.NoTimestamp && out.PTS < out.DTS {
		out.PTS = out.DTS
	}

	if err := w.sink.WritePacket(out); err != nil {
		w.logger.Error("error writing packet", "error", err)
	}
}
