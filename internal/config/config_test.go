package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `{"streams":[{"id":"cam1","url":"rtsp://localhost:8554/cam1"}]}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HTTPPort != DefaultHTTPPort {
		t.Errorf("Expected default port %d, got %d", DefaultHTTPPort, cfg.HTTPPort)
	}
	if cfg.PreBufferingTime != DefaultPreSeconds {
		t.Errorf("Expected default pre-roll %f, got %f", DefaultPreSeconds, cfg.PreBufferingTime)
	}
	if cfg.PostBufferingTime != DefaultPostSecs {
		t.Errorf("Expected default post-roll %f, got %f", DefaultPostSecs, cfg.PostBufferingTime)
	}
	if cfg.RecBaseFolder != DefaultRecFolder {
		t.Errorf("Expected default folder %q, got %q", DefaultRecFolder, cfg.RecBaseFolder)
	}
	if len(cfg.Streams) != 1 || cfg.Streams[0].ID != "cam1" {
		t.Errorf("Unexpected streams: %+v", cfg.Streams)
	}
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `{
		"http_port": 9000,
		"autostart": 1,
		"pre_buffering_time": 2.5,
		"post_buffering_time": 1.0,
		"rec_base_folder": "/tmp/recs",
		"streams": [
			{"id":"cam1","url":"rtsp://h/1"},
			{"id":"cam2","url":"rtsp://h/2"}
		],
		"some_future_key": true
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HTTPPort != 9000 || cfg.Autostart != 1 {
		t.Errorf("Unexpected config: %+v", cfg)
	}
	if cfg.PreBufferingTime != 2.5 || cfg.PostBufferingTime != 1.0 {
		t.Errorf("Unexpected buffering times: %+v", cfg)
	}
	if len(cfg.Streams) != 2 {
		t.Errorf("Expected 2 streams, got %d", len(cfg.Streams))
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := writeConfig(t, `{not json`)
	if _, err := Load(path); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestLoad_NoStreams(t *testing.T) {
	path := writeConfig(t, `{"streams":[]}`)
	if _, err := Load(path); err == nil {
		t.Error("Expected error for empty stream list")
	}
}

func TestLoad_SkipsInvalidStreams(t *testing.T) {
	path := writeConfig(t, `{"streams":[
		{"id":"","url":"rtsp://h/0"},
		{"id":"cam1","url":""},
		{"id":"cam2","url":"rtsp://h/2"},
		{"id":"cam2","url":"rtsp://h/dup"}
	]}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Streams) != 1 || cfg.Streams[0].ID != "cam2" {
		t.Errorf("Expected only cam2 to survive, got %+v", cfg.Streams)
	}
}

func TestLoad_AllStreamsInvalid(t *testing.T) {
	path := writeConfig(t, `{"streams":[{"id":"","url":""}]}`)
	if _, err := Load(path); err == nil {
		t.Error("Expected error when no valid streams remain")
	}
}

func TestLoad_PortOutOfRange(t *testing.T) {
	path := writeConfig(t, `{"http_port": 70000, "streams":[{"id":"cam1","url":"rtsp://h/1"}]}`)
	if _, err := Load(path); err == nil {
		t.Error("Expected error for out-of-range port")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `{"http_port": 9000, "streams":[{"id":"cam1","url":"rtsp://h/1"}]}`)

	t.Setenv("NVRLITE_HTTP_PORT", "9100")
	t.Setenv("NVRLITE_REC_BASE_FOLDER", "/tmp/override")
	t.Setenv("NVRLITE_AUTOSTART", "1")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTPPort != 9100 {
		t.Errorf("Expected env override port 9100, got %d", cfg.HTTPPort)
	}
	if cfg.RecBaseFolder != "/tmp/override" {
		t.Errorf("Expected env override folder, got %q", cfg.RecBaseFolder)
	}
	if cfg.Autostart != 1 {
		t.Errorf("Expected env override autostart 1, got %d", cfg.Autostart)
	}
}
