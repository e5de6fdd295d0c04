package replay

import (
	"context"
	"testing"
	"time"
)

type gpsSeek struct {
	target int64
	resume bool
}

type fakeGps struct {
	trackStart int64
	trackDur   int64

	started      bool
	cur          int64
	starts       int
	delayedStart int64
	pauses       int
	resumes      int
	stops        int
	seeks        []gpsSeek
}

func (f *fakeGps) Start(ctx context.Context) { f.started = true; f.starts++ }
func (f *fakeGps) StartWithDelay(ctx context.Context, delayMs int64) {
	f.started = true
	f.starts++
	f.delayedStart = delayMs
}
func (f *fakeGps) Pause()  { f.pauses++ }
func (f *fakeGps) Resume() { f.resumes++ }
func (f *fakeGps) Stop()   { f.started = false; f.stops++ }
func (f *fakeGps) Seek(gpsTimeMs int64, resumeAfter bool) {
	f.cur = gpsTimeMs
	f.seeks = append(f.seeks, gpsSeek{gpsTimeMs, resumeAfter})
}
func (f *fakeGps) TrackStartTime() int64   { return f.trackStart }
func (f *fakeGps) TrackDuration() int64    { return f.trackDur }
func (f *fakeGps) IsStarted() bool         { return f.started }
func (f *fakeGps) CurrentGpsTimeMs() int64 { return f.cur }

type fakeVideo struct {
	duration int64
	position int64
	playing  bool

	plays      int
	pauses     int
	stops      int
	syncSeeks  []int64
	asyncSeeks []int64
}

func (f *fakeVideo) Play()  { f.playing = true; f.plays++ }
func (f *fakeVideo) Pause() { f.playing = false; f.pauses++ }
func (f *fakeVideo) Stop()  { f.playing = false; f.position = 0; f.stops++ }
func (f *fakeVideo) SeekTo(ms int64) {
	f.position = ms
	f.syncSeeks = append(f.syncSeeks, ms)
}
func (f *fakeVideo) SeekWithCallback(ms int64, fn func()) {
	f.position = ms
	f.asyncSeeks = append(f.asyncSeeks, ms)
	if fn != nil {
		fn()
	}
}
func (f *fakeVideo) SeekToAndPlay(ms int64) { f.SeekWithCallback(ms, f.Play) }
func (f *fakeVideo) CurrentPosition() int64 { return f.position }
func (f *fakeVideo) Duration() int64        { return f.duration }
func (f *fakeVideo) IsPlaying() bool        { return f.playing }

// scenario1 wires a controller where the video starts 500ms before GPS.
func scenario1() (*Controller, *fakeGps, *fakeVideo, *recordingEstimator) {
	gps := &fakeGps{trackStart: 1000, trackDur: 4000}
	video := &fakeVideo{duration: 3000}
	est := &recordingEstimator{}
	return NewController(gps, video, est, 500), gps, video, est
}

// scenario2 wires a controller where GPS starts 1000ms before the video.
func scenario2() (*Controller, *fakeGps, *fakeVideo, *recordingEstimator) {
	gps := &fakeGps{trackStart: 1000, trackDur: 4000}
	video := &fakeVideo{duration: 3000}
	est := &recordingEstimator{}
	return NewController(gps, video, est, -1000), gps, video, est
}

func TestStartFreshVideoFirst(t *testing.T) {
	c, gps, video, est := scenario1()
	c.Play(context.Background())

	if c.State() != StatePlaying {
		t.Fatalf("state = %s, want playing", c.State())
	}
	if !video.playing {
		t.Error("video should be playing immediately")
	}
	if len(video.syncSeeks) == 0 || video.syncSeeks[0] != 0 {
		t.Errorf("video should be seeked to 0 first, got %v", video.syncSeeks)
	}
	if gps.started {
		t.Error("gps must not start before its scheduled delay")
	}
	if c.gpsTimer == nil {
		t.Fatal("expected an outstanding gps start timer")
	}
	if !est.frozen {
		t.Error("estimator must stay frozen until gps starts")
	}

	// The timer fire arrives as an event on the control goroutine.
	c.HandleEvent(StreamEvent{Stream: StreamGPS, Kind: eventStartDue})
	if !gps.started {
		t.Error("gps should start when its timer fires while playing")
	}
}

func TestStartFreshGpsFirst(t *testing.T) {
	c, gps, video, _ := scenario2()
	c.Play(context.Background())

	if !gps.started {
		t.Fatal("gps should start immediately when it leads the timeline")
	}
	if video.playing {
		t.Error("video must not play before its scheduled delay")
	}
	if c.videoTimer == nil {
		t.Fatal("expected an outstanding video start timer")
	}

	c.HandleEvent(StreamEvent{Stream: StreamVideo, Kind: eventStartDue})
	if !video.playing {
		t.Error("video should play when its timer fires while playing")
	}
}

func TestStartFreshSimultaneous(t *testing.T) {
	gps := &fakeGps{trackStart: 1000, trackDur: 4000}
	video := &fakeVideo{duration: 3000}
	c := NewController(gps, video, &recordingEstimator{}, 0)
	c.Play(context.Background())

	if !gps.started || !video.playing {
		t.Error("both streams should start immediately with zero offset")
	}
	if c.gpsTimer != nil || c.videoTimer != nil {
		t.Error("no start timers expected with zero offset")
	}
}

func TestStartFreshNoVideo(t *testing.T) {
	gps := &fakeGps{trackStart: 1000, trackDur: 4000}
	c := NewController(gps, nil, &recordingEstimator{}, 0)
	c.Play(context.Background())

	if c.State() != StatePlaying {
		t.Fatalf("state = %s, want playing", c.State())
	}
	if !gps.started {
		t.Error("gps should start without video")
	}
}

func TestZeroLengthTrackStaysInert(t *testing.T) {
	gps := &fakeGps{trackStart: 1000, trackDur: 0}
	c := NewController(gps, nil, &recordingEstimator{}, 0)
	c.Play(context.Background())

	if c.State() != StateStopped {
		t.Fatalf("state = %s, want stopped for a zero-length track", c.State())
	}
	if gps.started {
		t.Error("gps must not start with an inert timeline")
	}
}

func TestPlayWhilePlayingIsNoOp(t *testing.T) {
	c, gps, _, _ := scenario2()
	c.Play(context.Background())
	c.Play(context.Background())
	if gps.starts != 1 {
		t.Errorf("gps starts = %d, want 1", gps.starts)
	}
}

func TestPauseCancelsScheduledStart(t *testing.T) {
	c, gps, video, est := scenario1()
	c.Play(context.Background())
	c.Pause()

	if c.State() != StatePaused {
		t.Fatalf("state = %s, want paused", c.State())
	}
	if c.gpsTimer != nil {
		t.Error("pause must cancel the outstanding gps start timer")
	}
	if !est.frozen {
		t.Error("pause must freeze the estimator")
	}
	if video.playing || video.pauses == 0 {
		t.Error("video should be paused")
	}

	// A fire already in flight when the cancellation landed is a no-op.
	c.HandleEvent(StreamEvent{Stream: StreamGPS, Kind: eventStartDue})
	if gps.started {
		t.Error("stale timer fire must not start gps while paused")
	}
}

func TestResumeReschedulesGpsStart(t *testing.T) {
	c, gps, video, _ := scenario1()
	c.Play(context.Background())
	c.Pause()

	video.position = 100 // video got 100ms in before the pause
	c.Resume()

	if c.State() != StatePlaying {
		t.Fatalf("state = %s, want playing", c.State())
	}
	if gps.started {
		t.Error("gps should still be waiting for its rescheduled start")
	}
	if c.gpsTimer == nil {
		t.Fatal("expected gps start to be rescheduled on resume")
	}
	if !video.playing {
		t.Error("video should be playing again")
	}
}

func TestStopAlwaysYieldsStopped(t *testing.T) {
	tests := []struct {
		name  string
		setup func(c *Controller)
	}{
		{"from stopped", func(c *Controller) {}},
		{"from playing", func(c *Controller) { c.Play(context.Background()) }},
		{"from paused", func(c *Controller) { c.Play(context.Background()); c.Pause() }},
		{"from completed", func(c *Controller) {
			c.Play(context.Background())
			c.HandleEvent(StreamEvent{Stream: StreamGPS, Kind: EventStarted})
			c.HandleEvent(StreamEvent{Stream: StreamVideo, Kind: EventStarted})
			c.HandleEvent(StreamEvent{Stream: StreamGPS, Kind: EventCompleted})
			c.HandleEvent(StreamEvent{Stream: StreamVideo, Kind: EventCompleted})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, video, _ := scenario2()
			tt.setup(c)
			c.Stop()
			if c.State() != StateStopped {
				t.Errorf("state = %s, want stopped", c.State())
			}
			if video.position != 0 {
				t.Errorf("video position = %d, want rewound to 0", video.position)
			}
		})
	}
}

func TestCompletionTransitionsToCompleted(t *testing.T) {
	c, gps, _, _ := scenario2()
	c.Play(context.Background())
	c.HandleEvent(StreamEvent{Stream: StreamGPS, Kind: EventStarted})
	c.HandleEvent(StreamEvent{Stream: StreamVideo, Kind: EventStarted})

	c.HandleEvent(StreamEvent{Stream: StreamGPS, Kind: EventCompleted})
	if c.State() != StatePlaying {
		t.Fatalf("state after gps completion alone = %s, want playing", c.State())
	}
	c.HandleEvent(StreamEvent{Stream: StreamVideo, Kind: EventCompleted})
	if c.State() != StateCompleted {
		t.Fatalf("state = %s, want completed", c.State())
	}
	if gps.stops == 0 {
		t.Error("completion should stop the gps stream")
	}

	// Play from Completed starts a fresh pass.
	c.Play(context.Background())
	if c.State() != StatePlaying {
		t.Fatalf("state = %s, want playing after replay", c.State())
	}
	if c.tracker.IsReadyToRestart() {
		t.Error("completion flags must be cleared by a fresh start")
	}
}

func TestSeekBeforeGpsZone(t *testing.T) {
	c, gps, video, _ := scenario1()
	c.Play(context.Background())
	c.HandleEvent(StreamEvent{Stream: StreamGPS, Kind: eventStartDue})
	if !gps.started {
		t.Fatal("gps should be running before the seek")
	}

	// Target 500 is before gpsStart 1000: stop gps and reschedule its
	// start from the video position.
	c.SeekTo(500, 0, true)

	if gps.started {
		t.Error("gps must be stopped in the before-GPS zone")
	}
	if c.gpsTimer == nil {
		t.Fatal("expected a scheduled gps start for the resume")
	}
	if len(video.asyncSeeks) == 0 || video.asyncSeeks[len(video.asyncSeeks)-1] != 0 {
		t.Errorf("video should seek-then-play to 0, async seeks %v", video.asyncSeeks)
	}
	if !video.playing {
		t.Error("video should resume after the seek")
	}
	if c.State() != StatePlaying {
		t.Errorf("state = %s, want playing", c.State())
	}
}

func TestSeekBeforeGpsZonePastOffsetStartsImmediately(t *testing.T) {
	c, gps, _, _ := scenario1()
	c.Play(context.Background())

	// Video position already past the GPS start point: no delay remains.
	c.SeekTo(900, 600, true)
	if !gps.started {
		t.Error("gps should start immediately when no delay remains")
	}
}

func TestSeekAfterGpsZone(t *testing.T) {
	c, gps, video, _ := scenario2()
	c.Play(context.Background())

	// gpsEnd is 5000; 5500 is past the track. GPS stops for this pass.
	c.SeekTo(5500, 2800, true)

	if gps.started {
		t.Error("gps must be stopped in the after-GPS zone")
	}
	if c.gpsTimer != nil {
		t.Error("no gps start may be scheduled past the track end")
	}
	if !video.playing {
		t.Error("video continues alone past the gps track")
	}
}

func TestSeekWithinGpsZone(t *testing.T) {
	c, gps, video, est := scenario2()
	c.Play(context.Background())

	c.SeekTo(3000, 1000, true)

	if len(gps.seeks) != 1 || gps.seeks[0] != (gpsSeek{3000, true}) {
		t.Fatalf("gps seeks = %v, want one seek to 3000 with resume", gps.seeks)
	}
	if est.frozen {
		t.Error("estimator should be unfrozen by a resuming within-zone seek")
	}
	if video.position != 1000 {
		t.Errorf("video position = %d, want 1000", video.position)
	}
}

func TestSeekWithoutResumePausesStreams(t *testing.T) {
	c, gps, video, est := scenario2()
	c.Play(context.Background())

	c.SeekTo(3000, 1000, false)

	if len(gps.seeks) != 1 || gps.seeks[0].resume {
		t.Fatalf("gps seeks = %v, want non-resuming seek", gps.seeks)
	}
	if len(video.syncSeeks) == 0 || video.syncSeeks[len(video.syncSeeks)-1] != 1000 {
		t.Errorf("video sync seeks = %v, want 1000 last", video.syncSeeks)
	}
	if c.State() != StatePaused {
		t.Errorf("state = %s, want paused", c.State())
	}
	if !est.frozen {
		t.Error("estimator stays frozen for a non-resuming seek")
	}
}

func TestSeekDropsStaleEstimatorDeltas(t *testing.T) {
	tests := []struct {
		name   string
		resume bool
	}{
		{"resuming", true},
		{"paused", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, _, est := scenario2()
			c.Play(context.Background())
			c.HandleEvent(StreamEvent{Stream: StreamGPS, Kind: EventStarted})
			softResets := est.softResets

			c.SeekTo(3000, 1000, tt.resume)

			if est.softResets != softResets+1 {
				t.Errorf("soft resets = %d, want %d: predictions must not carry the pre-seek offset",
					est.softResets, softResets+1)
			}
		})
	}
}

func TestSeekRearmsCompletedPass(t *testing.T) {
	c, _, _, _ := scenario2()
	c.Play(context.Background())
	c.HandleEvent(StreamEvent{Stream: StreamGPS, Kind: EventStarted})
	c.HandleEvent(StreamEvent{Stream: StreamVideo, Kind: EventStarted})
	c.HandleEvent(StreamEvent{Stream: StreamGPS, Kind: EventCompleted})
	c.HandleEvent(StreamEvent{Stream: StreamVideo, Kind: EventCompleted})

	c.SeekTo(3000, 1000, true)
	if c.tracker.GpsCompleted() || c.tracker.VideoCompleted() {
		t.Error("seeking after a completed pass must clear the completion flags")
	}
	if c.State() != StatePlaying {
		t.Errorf("state = %s, want playing", c.State())
	}
}

func TestPreviewSeekLeavesEstimatorAndCompletionAlone(t *testing.T) {
	c, gps, video, est := scenario2()
	c.Play(context.Background())
	c.HandleEvent(StreamEvent{Stream: StreamGPS, Kind: EventStarted})
	freezes, resets := est.freezes, est.resets

	c.PreviewSeek(3000, 1000)

	if est.freezes != freezes || est.resets != resets {
		t.Error("preview seek must not touch the estimator's freeze state")
	}
	if len(gps.seeks) != 1 || gps.seeks[0] != (gpsSeek{3000, false}) {
		t.Fatalf("gps seeks = %v, want one non-resuming seek to 3000", gps.seeks)
	}
	if video.position != 1000 {
		t.Errorf("video position = %d, want 1000", video.position)
	}
	if got := c.timeline.CurrentGpsTime(); got != 3000 {
		t.Errorf("timeline position = %d, want 3000", got)
	}
}

func TestOnSleepPausesGpsOnly(t *testing.T) {
	c, gps, video, _ := scenario2()
	c.Play(context.Background())
	c.HandleEvent(StreamEvent{Stream: StreamVideo, Kind: eventStartDue})
	videoPauses := video.pauses

	c.OnSleep()

	if c.State() != StatePaused {
		t.Fatalf("state = %s, want paused", c.State())
	}
	if gps.pauses != 1 {
		t.Errorf("gps pauses = %d, want 1", gps.pauses)
	}
	if video.pauses != videoPauses {
		t.Error("sleep must not pause the video; its own handler does that")
	}

	c.OnWake()
	if c.State() != StatePaused {
		t.Error("wake must not auto-resume")
	}
}

func TestPositionEventsUpdateTimeline(t *testing.T) {
	c, _, _, _ := scenario2()
	c.Play(context.Background())
	c.HandleEvent(StreamEvent{Stream: StreamGPS, Kind: EventPosition, Position: 2250})
	if got := c.timeline.CurrentGpsTime(); got != 2250 {
		t.Errorf("timeline position = %d, want 2250", got)
	}
}

func TestScheduledStartFiresThroughQueue(t *testing.T) {
	gps := &fakeGps{trackStart: 1000, trackDur: 4000}
	video := &fakeVideo{duration: 3000}
	c := NewController(gps, video, &recordingEstimator{}, 50)
	c.Play(context.Background())

	select {
	case ev := <-c.Events():
		c.HandleEvent(ev)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the scheduled gps start")
	}
	if !gps.started {
		t.Error("gps should have started after the 50ms delay")
	}
}
