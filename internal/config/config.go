// Package config loads and validates the JSON configuration file.
// Precedence follows the usual layering: CLI flags beat environment
// variables, environment variables beat file values.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/smazurov/nvrlite/internal/logging"
)

// Defaults applied when the file omits a key.
const (
	DefaultHTTPPort   = 8090
	DefaultPreSeconds = 5.0
	DefaultPostSecs   = 0.5
	DefaultRecFolder  = "./"
)

// StreamConfig identifies one camera. Immutable after load.
type StreamConfig struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Config is the full daemon configuration.
type Config struct {
	HTTPPort          int            `json:"http_port"`
	DisplayMode       int            `json:"display_mode"`
	Autostart         int            `json:"autostart"`
	PreBufferingTime  float64        `json:"pre_buffering_time"`
	PostBufferingTime float64        `json:"post_buffering_time"`
	RecBaseFolder     string         `json:"rec_base_folder"`
	Streams           []StreamConfig `json:"streams"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
}

// Load reads, overlays environment variables onto, and validates the
// configuration at path. Invalid stream entries are skipped with a
// warning; an empty resulting stream set is fatal.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := &Config{
		HTTPPort:          DefaultHTTPPort,
		PreBufferingTime:  DefaultPreSeconds,
		PostBufferingTime: DefaultPostSecs,
		RecBaseFolder:     DefaultRecFolder,
		LogLevel:          "info",
		LogFormat:         "text",
	}

	// Unknown keys are ignored on purpose.
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays NVRLITE_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("NVRLITE_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.HTTPPort = port
		}
	}
	if v := os.Getenv("NVRLITE_REC_BASE_FOLDER"); v != "" {
		c.RecBaseFolder = v
	}
	if v := os.Getenv("NVRLITE_AUTOSTART"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			if b {
				c.Autostart = 1
			} else {
				c.Autostart = 0
			}
		} else if n, err := strconv.Atoi(v); err == nil {
			c.Autostart = n
		}
	}
}

// Validate checks ranges and drops unusable stream entries.
func (c *Config) Validate() error {
	logger := logging.GetLogger("config")

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http_port %d out of range 1..65535", c.HTTPPort)
	}
	if c.PreBufferingTime < 0 {
		return fmt.Errorf("pre_buffering_time must not be negative")
	}
	if c.RecBaseFolder == "" {
		c.RecBaseFolder = DefaultRecFolder
	}

	seen := make(map[string]bool, len(c.Streams))
	valid := c.Streams[:0]
	for _, s := range c.Streams {
		switch {
		case s.ID == "":
			logger.Warn("skipping stream entry with empty id", "url", s.URL)
		case s.URL == "":
			logger.Warn("skipping stream entry with empty url", "id", s.ID)
		case seen[s.ID]:
			logger.Warn("skipping stream entry with duplicate id", "id", s.ID)
		default:
			seen[s.ID] = true
			valid = append(valid, s)
		}
	}
	c.Streams = valid

	if len(c.Streams) == 0 {
		return fmt.Errorf("no valid streams configured")
	}
	return nil
}
