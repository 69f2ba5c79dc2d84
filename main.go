package main

import (
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/smazurov/nvrlite/cmd"
	"github.com/smazurov/nvrlite/internal/config"
	"github.com/smazurov/nvrlite/internal/events"
	"github.com/smazurov/nvrlite/internal/logging"
	"github.com/smazurov/nvrlite/internal/supervisor"
)

// Options for the CLI. The JSON config file carries the pipeline settings;
// these flags cover the file path and logging overrides.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.json"`

	// Logging settings; empty means take the value from the config file
	LoggingLevel    string `help:"Global logging level (debug, info, warn, error)" default:""`
	LoggingFormat   string `help:"Logging format (text, json)" default:""`
	LoggingCapture  string `help:"Capture logging level" default:""`
	LoggingRecorder string `help:"Recorder logging level" default:""`
	LoggingControl  string `help:"Control plane logging level" default:""`
	LoggingHTTP     string `help:"HTTP access logging level" default:""`
	LoggingMedia    string `help:"Media adapter logging level" default:""`
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		cfg, err := config.Load(opts.Config)
		if err != nil {
			slog.Error("Failed to load config", "path", opts.Config, "error", err)
			os.Exit(1)
		}

		logging.Initialize(logging.Config{
			Level:  firstOf(opts.LoggingLevel, cfg.LogLevel),
			Format: firstOf(opts.LoggingFormat, cfg.LogFormat),
			Modules: prune(map[string]string{
				"capture":  opts.LoggingCapture,
				"recorder": opts.LoggingRecorder,
				"control":  opts.LoggingControl,
				"http":     opts.LoggingHTTP,
				"media":    opts.LoggingMedia,
			}),
		})

		logger := logging.GetLogger("main")

		// Create event bus for pipeline notifications
		bus := events.New()

		sup, err := supervisor.New(cfg, bus)
		if err != nil {
			logger.Error("Failed to build pipelines", "error", err)
			os.Exit(1)
		}
		server := sup.Server()

		hooks.OnStart(func() {
			sup.Start()

			logger.Info("Starting HTTP server", "addr", sup.Addr())
			if startErr := server.Start(sup.Addr()); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}
			// Workers drain and finalize open recordings before this returns
			sup.Stop()
		})
	})

	cli.Root().Use = "nvrlite"

	// Add validate command
	cli.Root().AddCommand(cmd.CreateValidateCmd())

	// Add self-update command
	cli.Root().AddCommand(cmd.CreateUpdateCmd())

	cli.Run()
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func prune(m map[string]string) map[string]string {
	for k, v := range m {
		if v == "" {
			delete(m, k)
		}
	}
	return m
}
