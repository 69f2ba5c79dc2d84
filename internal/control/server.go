// Package control is the HTTP control plane: it exposes the REST surface
// for stream and recording control plus file management, tracks the
// per-stream observed state, and coordinates the start/stop race protocol
// with the recorder workers.
package control

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/smazurov/nvrlite/internal/events"
	"github.com/smazurov/nvrlite/internal/filestore"
	"github.com/smazurov/nvrlite/internal/logging"
	"github.com/smazurov/nvrlite/internal/version"
)

// Polling windows of the synchronous record endpoints.
const (
	startPollTimeout  = 2 * time.Second
	startPollInterval = 50 * time.Millisecond
	stopPollTimeout   = 1 * time.Second
	stopPollInterval  = 25 * time.Millisecond
)

// Pipelines is the command surface the supervisor exposes to the control
// plane. All calls are asynchronous and routed by stream id.
type Pipelines interface {
	EnableStream(id string)
	DisableStream(id string)
	StartRecording(id string)
	StopRecording(id string)
}

// Options configures the control plane server.
type Options struct {
	Pipelines         Pipelines
	Store             *filestore.Store
	Bus               *events.Bus
	PrometheusHandler http.Handler
}

// Server is the Huma v2 control plane server.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	state      *State
	pipelines  Pipelines
	store      *filestore.Store
	logger     *slog.Logger
	unsubs     []func()
}

// NewServer creates the control plane server and subscribes it to the
// pipeline notification events.
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	corsConfig := DefaultCORSConfig()
	AddCORSHandler(mux, corsConfig)

	config := huma.DefaultConfig("NVRLite API", version.String())
	config.Info.Description = "Multi-camera RTSP recorder with pre/post-roll buffering"
	// Empty servers list will make OpenAPI use relative paths, working with any host
	config.Servers = []*huma.Server{}

	api := humago.New(mux, config)

	server := &Server{
		api:       api,
		mux:       mux,
		state:     NewState(),
		pipelines: opts.Pipelines,
		store:     opts.Store,
		logger:    logging.GetLogger("control"),
	}

	api.UseMiddleware(NewCORSMiddleware(corsConfig))
	api.UseMiddleware(RequestIDMiddleware)
	api.UseMiddleware(HTTPLoggingMiddleware)

	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}

	server.registerStreamRoutes()
	server.registerRecordRoutes()
	server.registerFileRoutes()

	// Fallback for anything outside the registered surface.
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("Not Found"))
	})

	server.subscribe(opts.Bus)

	return server
}

// RegisterStream makes a stream id known to the control plane.
func (s *Server) RegisterStream(id string) {
	s.state.Register(id)
	s.logger.Debug("registered stream", "stream_id", id)
}

// State exposes the observed-state store, mainly for tests.
func (s *Server) State() *State {
	return s.state
}

// subscribe wires pipeline notifications into the state store. Handlers
// mutate state under the write lock but always send follow-up commands
// after releasing it.
func (s *Server) subscribe(bus *events.Bus) {
	s.unsubs = append(s.unsubs,
		bus.Subscribe(func(e events.RecordingStartedEvent) {
			resendStop := s.state.ApplyRecordingStarted(e.StreamID, e.File)
			s.logger.Info("recording started", "stream_id", e.StreamID, "file", e.File)
			if resendStop {
				s.logger.Info("stop raced pending start, re-issuing stop", "stream_id", e.StreamID)
				s.pipelines.StopRecording(e.StreamID)
			}
		}),
		bus.Subscribe(func(e events.RecordingStoppedEvent) {
			s.state.ApplyRecordingStopped(e.StreamID)
			s.logger.Info("recording stopped", "stream_id", e.StreamID)
		}),
		bus.Subscribe(func(e events.RecordingFinalizedEvent) {
			s.logger.Info("recording finalized", "stream_id", e.StreamID, "file", e.File)
		}),
		bus.Subscribe(func(e events.StreamOnlineChangedEvent) {
			s.state.ApplyStreamOnline(e.StreamID, e.Online)
			s.logger.Debug("stream online changed", "stream_id", e.StreamID, "online", e.Online)
		}),
	)
}

// pollLastFile waits for the recorder's started notification to land in
// the state store. This is what makes the record endpoints synchronous.
func (s *Server) pollLastFile(ctx context.Context, id string, timeout, interval time.Duration) (string, bool) {
	deadline := time.Now().Add(timeout)
	for {
		if file := s.state.LastFile(id); file != "" {
			return file, true
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return "", false
		}
		time.Sleep(interval)
	}
}

// Start starts the HTTP server on the specified address.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting NVRLite control plane", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}

	return s.httpServer.ListenAndServe()
}

// Stop shuts the server down and detaches from the event bus.
func (s *Server) Stop() error {
	s.logger.Info("Stopping control plane")

	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil

	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}
