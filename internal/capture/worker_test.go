package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/nvrlite/internal/events"
	"github.com/smazurov/nvrlite/internal/media"
)

// fakeSource delivers a scripted sequence of packets, then an error.
type fakeSource struct {
	mu      sync.Mutex
	packets []media.Packet
	info    media.StreamInfo
	closed  bool
}

func (f *fakeSource) Info() media.StreamInfo { return f.info }

func (f *fakeSource) ReadPacket(ctx context.Context) (media.Packet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.packets) == 0 {
		return media.Packet{}, errors.New("EOF")
	}
	p := f.packets[0]
	f.packets = f.packets[1:]
	return p, nil
}

func (f *fakeSource) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

type fakeDialer struct {
	mu      sync.Mutex
	sources []*fakeSource
	fails   int
	dials   int
}

func (d *fakeDialer) Dial(_ context.Context, _, _ string) (media.Source, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.fails > 0 {
		d.fails--
		return nil, errors.New("connection refused")
	}
	if len(d.sources) == 0 {
		return nil, errors.New("no more sources")
	}
	s := d.sources[0]
	d.sources = d.sources[1:]
	return s, nil
}

func testInfo(id string) media.StreamInfo {
	return media.StreamInfo{
		StreamID: id,
		Codec:    media.CodecH264,
		Width:    1280,
		Height:   720,
		TimeBase: media.Rational{Num: 1, Den: 90000},
		SPS:      []byte{0x67, 0x42},
		PPS:      []byte{0x68, 0xcb},
	}
}

func testPacket(id string, pts int64, key bool) media.Packet {
	return media.Packet{
		StreamID: id,
		Data:     []byte{0, 0, 0, 1, 0x65},
		PTS:      pts,
		DTS:      pts,
		Key:      key,
		TimeBase: media.Rational{Num: 1, Den: 90000},
	}
}

func TestWorker_DeliversInfoThenPackets(t *testing.T) {
	src := &fakeSource{
		info: testInfo("cam1"),
		packets: []media.Packet{
			testPacket("cam1", 0, true),
			testPacket("cam1", 3000, false),
		},
	}
	dialer := &fakeDialer{sources: []*fakeSource{src}}

	packets := make(chan media.Packet, 16)
	infoCh := make(chan media.StreamInfo, 1)
	w := NewWorker("cam1", "rtsp://h/1", dialer, events.New(), packets, infoCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Enable()

	select {
	case info := <-infoCh:
		if info.StreamID != "cam1" || info.Codec != media.CodecH264 {
			t.Errorf("Unexpected info: %+v", info)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for stream info")
	}

	for i := 0; i < 2; i++ {
		select {
		case p := <-packets:
			if p.StreamID != "cam1" {
				t.Errorf("Unexpected packet stream: %s", p.StreamID)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Timed out waiting for packet %d", i)
		}
	}

	cancel()
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Worker did not stop")
	}
}

func TestWorker_OnlineOfflineEvents(t *testing.T) {
	src := &fakeSource{
		info:    testInfo("cam1"),
		packets: []media.Packet{testPacket("cam1", 0, true)},
	}
	// after the source EOFs, the redial fails forever
	dialer := &fakeDialer{sources: []*fakeSource{src}, fails: 0}

	bus := events.New()
	changes := make(chan events.StreamOnlineChangedEvent, 8)
	unsub := bus.Subscribe(func(e events.StreamOnlineChangedEvent) {
		changes <- e
	})
	defer unsub()

	packets := make(chan media.Packet, 16)
	infoCh := make(chan media.StreamInfo, 1)
	w := NewWorker("cam1", "rtsp://h/1", dialer, bus, packets, infoCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	w.Enable()

	waitChange := func(want bool) {
		t.Helper()
		select {
		case e := <-changes:
			if e.Online != want {
				t.Errorf("Expected online=%v, got %v", want, e.Online)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Timed out waiting for online=%v", want)
		}
	}

	waitChange(true)
	// Source EOFs after one packet, worker must go offline and retry.
	waitChange(false)
}

func TestWorker_DisableClosesSource(t *testing.T) {
	src := &fakeSource{
		info: testInfo("cam1"),
		packets: []media.Packet{
			testPacket("cam1", 0, true),
			testPacket("cam1", 3000, false),
			testPacket("cam1", 6000, false),
		},
	}
	dialer := &fakeDialer{sources: []*fakeSource{src}}

	bus := events.New()
	changes := make(chan events.StreamOnlineChangedEvent, 8)
	unsub := bus.Subscribe(func(e events.StreamOnlineChangedEvent) {
		changes <- e
	})
	defer unsub()

	packets := make(chan media.Packet, 16)
	infoCh := make(chan media.StreamInfo, 1)
	w := NewWorker("cam1", "rtsp://h/1", dialer, bus, packets, infoCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	w.Enable()

	select {
	case e := <-changes:
		if !e.Online {
			t.Fatalf("Expected online first, got %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for online")
	}

	w.Disable()

	select {
	case e := <-changes:
		if e.Online {
			t.Fatalf("Expected offline after disable, got %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for offline")
	}

	src.mu.Lock()
	closed := src.closed
	src.mu.Unlock()
	if !closed {
		t.Error("Expected source to be closed after disable")
	}
}

func TestWorker_DropOldestOnOverflow(t *testing.T) {
	packets := make(chan media.Packet, 2)
	infoCh := make(chan media.StreamInfo, 1)
	w := NewWorker("cam1", "rtsp://h/1", &fakeDialer{}, events.New(), packets, infoCh)

	w.emitPacket(testPacket("cam1", 0, true))
	w.emitPacket(testPacket("cam1", 3000, false))
	w.emitPacket(testPacket("cam1", 6000, false)) // overflows, drops pts=0

	if len(packets) != 2 {
		t.Fatalf("Expected 2 queued packets, got %d", len(packets))
	}
	first := <-packets
	if first.PTS != 3000 {
		t.Errorf("Expected oldest surviving packet pts=3000, got %d", first.PTS)
	}
}

func TestWorker_InfoLatestWins(t *testing.T) {
	infoCh := make(chan media.StreamInfo, 1)
	w := NewWorker("cam1", "rtsp://h/1", &fakeDialer{}, events.New(),
		make(chan media.Packet, 1), infoCh)

	a := testInfo("cam1")
	a.Width = 640
	b := testInfo("cam1")
	b.Width = 1920

	w.emitInfo(a)
	w.emitInfo(b)

	got := <-infoCh
	if got.Width != 1920 {
		t.Errorf("Expected latest info (1920), got %d", got.Width)
	}
}
