// Package supervisor owns the lifetime of the per-stream pipelines: it
// builds one capture and one recorder worker per configured stream, wires
// the channels between them and the control plane, and tears everything
// down in order on shutdown.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/smazurov/nvrlite/internal/capture"
	"github.com/smazurov/nvrlite/internal/config"
	"github.com/smazurov/nvrlite/internal/control"
	"github.com/smazurov/nvrlite/internal/events"
	"github.com/smazurov/nvrlite/internal/filestore"
	"github.com/smazurov/nvrlite/internal/logging"
	"github.com/smazurov/nvrlite/internal/media"
	"github.com/smazurov/nvrlite/internal/media/mp4sink"
	"github.com/smazurov/nvrlite/internal/media/rtspsource"
	"github.com/smazurov/nvrlite/internal/metrics"
	"github.com/smazurov/nvrlite/internal/recorder"
)

// packetQueueSize bounds the capture→recorder channel; overflow drops the
// oldest packet on the capture side.
const packetQueueSize = 256

// Supervisor builds and runs the per-stream workers.
type Supervisor struct {
	cfg    *config.Config
	bus    *events.Bus
	server *control.Server
	store  *filestore.Store

	captures  map[string]*capture.Worker
	recorders map[string]*recorder.Worker

	cancel    context.CancelFunc
	stopWatch func()
	logger    *slog.Logger
}

// New wires the full pipeline set from the configuration. Nothing runs
// until Start.
func New(cfg *config.Config, bus *events.Bus) (*Supervisor, error) {
	store, err := filestore.New(cfg.RecBaseFolder)
	if err != nil {
		return nil, err
	}

	s := &Supervisor{
		cfg:       cfg,
		bus:       bus,
		store:     store,
		captures:  make(map[string]*capture.Worker, len(cfg.Streams)),
		recorders: make(map[string]*recorder.Worker, len(cfg.Streams)),
		logger:    logging.GetLogger("supervisor"),
	}

	s.server = control.NewServer(&control.Options{
		Pipelines:         s,
		Store:             store,
		Bus:               bus,
		PrometheusHandler: metrics.Handler(),
	})

	dialer := rtspsource.NewDialer()
	for _, sc := range cfg.Streams {
		packets := make(chan media.Packet, packetQueueSize)
		infoCh := make(chan media.StreamInfo, 1)

		s.captures[sc.ID] = capture.NewWorker(sc.ID, sc.URL, dialer, bus, packets, infoCh)
		s.recorders[sc.ID] = recorder.NewWorker(
			sc.ID, store.Folder(),
			cfg.PreBufferingTime, cfg.PostBufferingTime,
			mp4sink.New, infoCh, packets, bus,
		)
		s.server.RegisterStream(sc.ID)
		s.logger.Info("configured stream", "stream_id", sc.ID, "url", sc.URL)
	}

	return s, nil
}

// Server returns the control plane server for the main loop to run.
func (s *Supervisor) Server() *control.Server {
	return s.server
}

// Addr returns the listen address derived from the configuration.
func (s *Supervisor) Addr() string {
	return fmt.Sprintf(":%d", s.cfg.HTTPPort)
}

// Start launches all workers and, with autostart configured, enables every
// stream. Readiness is signalled to systemd once the workers are up.
func (s *Supervisor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if stop, err := s.store.Watch(); err != nil {
		s.logger.Warn("recordings folder watcher unavailable, listing from disk", "error", err)
	} else {
		s.stopWatch = stop
	}

	for id, w := range s.captures {
		go w.Run(ctx)
		go s.recorders[id].Run(ctx)
	}

	if s.cfg.Autostart == 1 {
		s.logger.Info("autostart enabled, enabling all streams")
		for _, w := range s.captures {
			w.Enable()
		}
	}

	// no-op outside a Type=notify systemd unit
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		s.logger.Debug("sd_notify failed", "error", err)
	} else if ok {
		s.logger.Debug("sd_notify readiness sent")
	}
}

// Stop cancels all workers and waits for them to finish, which finalizes
// any open recording.
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}

	var wg sync.WaitGroup
	wait := func(done <-chan struct{}) {
		defer wg.Done()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
		}
	}
	for _, w := range s.captures {
		wg.Add(1)
		go wait(w.Done())
	}
	for _, w := range s.recorders {
		wg.Add(1)
		go wait(w.Done())
	}
	wg.Wait()

	if s.stopWatch != nil {
		s.stopWatch()
		s.stopWatch = nil
	}
	s.logger.Info("all workers stopped")
}

// EnableStream implements control.Pipelines.
func (s *Supervisor) EnableStream(id string) {
	if w, ok := s.captures[id]; ok {
		w.Enable()
	}
}

// DisableStream implements control.Pipelines.
func (s *Supervisor) DisableStream(id string) {
	if w, ok := s.captures[id]; ok {
		w.Disable()
	}
}

// StartRecording implements control.Pipelines.
func (s *Supervisor) StartRecording(id string) {
	if w, ok := s.recorders[id]; ok {
		w.Command(recorder.CommandStart)
	}
}

// StopRecording implements control.Pipelines.
func (s *Supervisor) StopRecording(id string) {
	if w, ok := s.recorders[id]; ok {
		w.Command(recorder.CommandStop)
	}
}
