package session

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/peregrine-vr/flightreplay/gps"
)

const testTrackBase int64 = 1600000000000

func testTrack(offsets ...int64) *gps.Track {
	track := &gps.Track{}
	for i, off := range offsets {
		track.Fixes = append(track.Fixes, gps.Fix{
			Millis: testTrackBase + off,
			Lat:    47.0 + float64(i)*0.0001,
			Lon:    8.0,
			Alt:    1000,
			VN:     10,
		})
	}
	return track
}

// startTestSession runs a standalone session control loop for the
// duration of the test.
func startTestSession(t *testing.T, videoDurationMs, videoOffsetMs int64) *Session {
	t.Helper()
	track := testTrack(0, 1000, 2000, 3000, 4000)
	s := NewSession("test", track, videoDurationMs, videoOffsetMs, nil, "mk", "gk")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Run(ctx)
	return s
}

func TestSessionStateCommand(t *testing.T) {
	s := startTestSession(t, 3000, 500)

	snap, err := s.Do(Command{Type: CommandState})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if snap.Status != "stopped" {
		t.Errorf("initial status = %q, want stopped", snap.Status)
	}
	if snap.SessionID != "test" {
		t.Errorf("session id = %q, want test", snap.SessionID)
	}
}

func TestSessionPlayPauseResumeStop(t *testing.T) {
	s := startTestSession(t, 3000, 500)

	snap, err := s.Do(Command{Type: CommandPlay})
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if snap.Status != "playing" {
		t.Fatalf("status after play = %q, want playing", snap.Status)
	}
	// The timeline spans from video start to GPS end for this offset.
	if snap.TimelineStartMs != testTrackBase-500 {
		t.Errorf("timeline start = %d, want %d", snap.TimelineStartMs, testTrackBase-500)
	}
	if snap.TimelineEndMs != testTrackBase+4000 {
		t.Errorf("timeline end = %d, want %d", snap.TimelineEndMs, testTrackBase+4000)
	}

	snap, _ = s.Do(Command{Type: CommandPause})
	if snap.Status != "paused" {
		t.Errorf("status after pause = %q, want paused", snap.Status)
	}

	snap, _ = s.Do(Command{Type: CommandResume})
	if snap.Status != "playing" {
		t.Errorf("status after resume = %q, want playing", snap.Status)
	}

	snap, _ = s.Do(Command{Type: CommandStop})
	if snap.Status != "stopped" {
		t.Errorf("status after stop = %q, want stopped", snap.Status)
	}
}

func TestSessionSeekCommand(t *testing.T) {
	s := startTestSession(t, 3000, 500)

	if _, err := s.Do(Command{Type: CommandPlay}); err != nil {
		t.Fatalf("play: %v", err)
	}

	target := testTrackBase + 2000
	snap, err := s.Do(Command{Type: CommandSeek, GpsTimeMs: target, VideoTimeMs: 2500})
	if err != nil {
		t.Fatalf("seek: %v", err)
	}
	// Seeking without resume pauses an active pass.
	if snap.Status != "paused" {
		t.Errorf("status after seek = %q, want paused", snap.Status)
	}

	// The position event from the seek lands on the control loop
	// shortly after the command returns.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, _ = s.Do(Command{Type: CommandState})
		if snap.GpsTimeMs == target {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if snap.GpsTimeMs != target {
		t.Errorf("gps time after seek = %d, want %d", snap.GpsTimeMs, target)
	}
	if snap.VideoPositionMs != 2500 {
		t.Errorf("video position after seek = %d, want 2500", snap.VideoPositionMs)
	}
}

func TestSessionPreviewKeepsStatus(t *testing.T) {
	s := startTestSession(t, 3000, 500)

	if _, err := s.Do(Command{Type: CommandPlay}); err != nil {
		t.Fatalf("play: %v", err)
	}
	if _, err := s.Do(Command{Type: CommandPause}); err != nil {
		t.Fatalf("pause: %v", err)
	}

	snap, err := s.Do(Command{Type: CommandPreview, GpsTimeMs: testTrackBase + 3000, VideoTimeMs: 3000})
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if snap.Status != "paused" {
		t.Errorf("status after preview = %q, want paused", snap.Status)
	}
}

func TestSessionShutdownCommand(t *testing.T) {
	s := startTestSession(t, 3000, 500)

	if _, err := s.Do(Command{Type: CommandShutdown}); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSessionRunReturnsOnContextCancel(t *testing.T) {
	storage, err := NewStorageBackend(StorageBackendMem)
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	srv := NewServer(&Config{BroadcastPeriod: time.Second}, storage,
		NewMetrics(prometheus.NewRegistry()))

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Run(ctx)

	s := NewSession("ctxtest", testTrack(0, 1000), 0, 0, srv, "mk", "gk")
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()

	// The deregistration handoff must not outlive the server loop.
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session control goroutine still running after cancellation")
	}
}

func TestSessionKeys(t *testing.T) {
	track := testTrack(0, 1000)
	s, mk, gk, err := NewSessionWithRandomKeys("keyed", track, 0, 0, nil)
	if err != nil {
		t.Fatalf("NewSessionWithRandomKeys returned error: %v", err)
	}
	if mk == gk {
		t.Error("master and guest keys should differ")
	}
	if !s.CheckMasterKey(mk) || s.CheckMasterKey(gk) {
		t.Error("master key check broken")
	}
	if !s.CheckGuestKey(gk) || s.CheckGuestKey(mk) {
		t.Error("guest key check broken")
	}
}
