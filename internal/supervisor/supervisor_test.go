package supervisor

import (
	"testing"
	"time"

	"github.com/smazurov/nvrlite/internal/config"
	"github.com/smazurov/nvrlite/internal/events"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		HTTPPort:          8090,
		PreBufferingTime:  1.0,
		PostBufferingTime: 0.5,
		RecBaseFolder:     t.TempDir(),
		Streams: []config.StreamConfig{
			{ID: "cam1", URL: "rtsp://127.0.0.1:8554/cam1"},
			{ID: "cam2", URL: "rtsp://127.0.0.1:8554/cam2"},
		},
	}
}

func TestSupervisor_BuildsOnePipelinePerStream(t *testing.T) {
	sup, err := New(testConfig(t), events.New())
	if err != nil {
		t.Fatal(err)
	}

	if len(sup.captures) != 2 || len(sup.recorders) != 2 {
		t.Errorf("Expected 2 capture and 2 recorder workers, got %d/%d",
			len(sup.captures), len(sup.recorders))
	}
	if !sup.server.State().Has("cam1") || !sup.server.State().Has("cam2") {
		t.Error("Streams must be registered with the control plane")
	}
	if sup.Addr() != ":8090" {
		t.Errorf("Unexpected addr %q", sup.Addr())
	}
}

func TestSupervisor_StartStop(t *testing.T) {
	sup, err := New(testConfig(t), events.New())
	if err != nil {
		t.Fatal(err)
	}

	sup.Start()

	// Commands to unknown ids must be ignored, known ids routed.
	sup.EnableStream("ghost")
	sup.StartRecording("ghost")
	sup.StartRecording("cam1") // refused by the recorder: no stream info
	sup.StopRecording("cam1")

	done := make(chan struct{})
	go func() {
		sup.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestSupervisor_AutostartEnablesStreams(t *testing.T) {
	cfg := testConfig(t)
	cfg.Autostart = 1

	sup, err := New(cfg, events.New())
	if err != nil {
		t.Fatal(err)
	}

	sup.Start()
	defer sup.Stop()

	for id, w := range sup.captures {
		if !w.Enabled() {
			t.Errorf("Stream %s must be enabled by autostart", id)
		}
	}
}
