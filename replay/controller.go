package replay

import (
	"context"
	"log"
	"time"
)

// State is the playback lifecycle state. The controller's state field is
// the single source of truth for the replay lifecycle.
type State int

// State instances
const (
	StateStopped State = iota
	StatePlaying
	StatePaused
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

const eventQueueSize = 64

// Controller owns the replay lifecycle: it drives the GPS and video stream
// collaborators, consults the Timeline for all timing math, and coordinates
// with the CompletionTracker and the motion estimator's freeze contract.
//
// All methods and HandleEvent must run on a single control goroutine.
// Collaborators never call back in directly: they post StreamEvents via
// Post from their own goroutines, and the owner drains Events (or calls
// Run) on the control goroutine. Scheduled-start timers follow the same
// rule: a fire posts an event, and the handler re-checks state so a timer
// that outlives a pause or stop degrades to a no-op.
type Controller struct {
	state    State
	timeline *Timeline
	tracker  *CompletionTracker

	gps       GpsProvider
	video     VideoPlayer
	estimator MotionEstimator

	events     chan StreamEvent
	gpsTimer   *startTimer
	videoTimer *startTimer

	runCtx context.Context
}

// NewController creates a controller for one replay session. gps may not
// be nil for playback to do anything, but a nil gps, video or estimator
// degrades to logged no-ops rather than panics.
func NewController(gps GpsProvider, video VideoPlayer, estimator MotionEstimator, videoOffsetMs int64) *Controller {
	if estimator == nil {
		estimator = nopEstimator{}
	}
	c := &Controller{
		state:     StateStopped,
		timeline:  NewTimeline(videoOffsetMs),
		gps:       gps,
		video:     video,
		estimator: estimator,
		events:    make(chan StreamEvent, eventQueueSize),
		runCtx:    context.Background(),
	}
	c.tracker = NewCompletionTracker(estimator, video != nil, c.onAllStreamsComplete)
	return c
}

func (c *Controller) State() State                { return c.state }
func (c *Controller) Timeline() *Timeline         { return c.timeline }
func (c *Controller) Tracker() *CompletionTracker { return c.tracker }

// Post enqueues a stream event from any goroutine. A full queue drops the
// event rather than blocking a collaborator.
func (c *Controller) Post(ev StreamEvent) {
	select {
	case c.events <- ev:
	default:
		log.Printf("replay: event queue full, dropping %s %s", ev.Stream, ev.Kind)
	}
}

// Events exposes the inbound event queue for owners that run their own
// select loop.
func (c *Controller) Events() <-chan StreamEvent { return c.events }

// Run drains the event queue until ctx is cancelled. For embedders that do
// not multiplex the queue with other channels.
func (c *Controller) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.events:
			c.HandleEvent(ev)
		}
	}
}

// Play starts a fresh pass from Stopped/Completed, resumes from Paused,
// and is a no-op while Playing.
func (c *Controller) Play(ctx context.Context) {
	switch c.state {
	case StatePlaying:
		// no-op
	case StatePaused:
		c.resume()
	default:
		c.startFresh(ctx)
	}
}

// Pause freezes the estimator, snapshots the timeline position, and pauses
// both streams. Outstanding scheduled starts are cancelled first.
func (c *Controller) Pause() {
	if c.state != StatePlaying {
		log.Printf("replay: pause ignored in state %s", c.state)
		return
	}
	c.cancelScheduledStarts()
	c.estimator.Freeze()
	c.timeline.OnPause()
	if c.gps != nil {
		c.gps.Pause()
	}
	if c.video != nil && c.video.IsPlaying() {
		c.video.Pause()
	}
	c.state = StatePaused
	log.Printf("replay: paused at gps time %d", c.timeline.PausedGpsTimeMs())
}

// Resume continues playback from the paused position.
func (c *Controller) Resume() {
	if c.state != StatePaused {
		log.Printf("replay: resume ignored in state %s", c.state)
		return
	}
	c.resume()
}

// Stop yields Stopped from any state: cancels scheduled starts, freezes
// the estimator, stops and rewinds the video, and stops the GPS stream.
func (c *Controller) Stop() {
	c.cancelScheduledStarts()
	c.estimator.Freeze()
	if c.video != nil {
		c.video.Stop()
	}
	if c.gps != nil {
		c.gps.Stop()
	}
	if c.timeline.IsInitialized() {
		c.timeline.Reset()
	}
	c.state = StateStopped
}

// OnSleep pauses the GPS stream when the device sleeps mid-playback. The
// video is paused by its own sleep handling, so only GPS is touched here.
func (c *Controller) OnSleep() {
	if c.state != StatePlaying {
		return
	}
	c.cancelScheduledStarts()
	c.estimator.Freeze()
	c.timeline.OnPause()
	if c.gps != nil {
		c.gps.Pause()
	}
	c.state = StatePaused
}

// OnWake deliberately does not auto-resume; resuming is user-driven.
func (c *Controller) OnWake() {
	log.Printf("replay: wake in state %s, awaiting user resume", c.state)
}

// SeekTo moves playback to targetGps on the unified timeline, seeking the
// video to targetVideo when targetVideo >= 0. The target's timeline zone
// decides how the GPS stream is handled:
//
//   - before the GPS track: GPS is stopped (no fixes exist yet) and, when
//     resuming, its start is rescheduled for the moment the video reaches
//     the track's first fix;
//   - after the GPS track: GPS is stopped for the rest of this pass and
//     the video continues alone;
//   - within the track: the seek is delegated to the GPS stream.
func (c *Controller) SeekTo(targetGps, targetVideo int64, resume bool) {
	if !c.timeline.IsInitialized() {
		log.Printf("replay: seek ignored, timeline not initialized")
		return
	}
	c.cancelScheduledStarts()
	c.estimator.Freeze()

	hasVideo := c.timeline.HasVideo() && c.video != nil
	switch {
	case hasVideo && targetGps < c.timeline.GpsStart():
		if c.gps != nil && c.gps.IsStarted() {
			c.gps.Stop()
		}
		if resume {
			videoPos := targetVideo
			if videoPos < 0 {
				videoPos = c.video.CurrentPosition()
			}
			// Time until the video reaches the point where GPS begins.
			c.scheduleGpsStart(c.timeline.VideoOffset() - videoPos)
		}
	case hasVideo && targetGps > c.timeline.GpsEnd():
		if c.gps != nil {
			c.gps.Stop()
		}
	default:
		if c.gps != nil {
			c.gps.Seek(targetGps, resume)
			if resume {
				c.estimator.Unfreeze()
			}
		}
	}

	if hasVideo && targetVideo >= 0 {
		if resume {
			c.video.SeekToAndPlay(targetVideo)
		} else {
			c.video.SeekTo(targetVideo)
		}
	}

	// The estimator's cached deltas describe the pre-seek position.
	c.estimator.SoftReset()

	// A seek after a completed pass rearms completion tracking.
	if c.tracker.GpsCompleted() || c.tracker.VideoCompleted() {
		c.tracker.PrepareForRestart()
	}

	if resume {
		c.state = StatePlaying
	} else if c.state == StatePlaying || c.state == StateCompleted {
		c.state = StatePaused
	}
}

// PreviewSeek updates the timeline position and both streams' displayed
// frames during a scrub drag, without touching the estimator's frozen
// state or completion tracking. The caller is expected to have frozen the
// estimator for the duration of the drag.
func (c *Controller) PreviewSeek(targetGps, targetVideo int64) {
	if !c.timeline.IsInitialized() {
		return
	}
	c.timeline.UpdatePosition(targetGps)
	if c.gps != nil && targetGps >= c.timeline.GpsStart() && targetGps <= c.timeline.GpsEnd() {
		c.gps.Seek(targetGps, false)
	}
	if c.video != nil && c.timeline.HasVideo() && targetVideo >= 0 {
		c.video.SeekTo(targetVideo)
	}
}

// HandleEvent processes one stream event on the control goroutine.
func (c *Controller) HandleEvent(ev StreamEvent) {
	switch ev.Kind {
	case EventStarted:
		if ev.Stream == StreamGPS {
			c.tracker.OnGpsStarted()
		} else {
			c.tracker.OnVideoStarted()
		}
	case EventPrepared:
		log.Printf("replay: %s prepared, duration %dms", ev.Stream, ev.Position)
	case EventPosition:
		if ev.Stream == StreamGPS && c.timeline.IsInitialized() {
			c.timeline.UpdatePosition(ev.Position)
		}
	case EventSeekComplete:
		log.Printf("replay: %s seek complete at %d", ev.Stream, ev.Position)
	case EventCompleted:
		if ev.Stream == StreamGPS {
			c.tracker.OnGpsCompleted()
		} else {
			c.tracker.OnVideoCompleted()
		}
	case eventStartDue:
		// Stale timers fire into a changed state; only act while playing.
		if c.state != StatePlaying {
			log.Printf("replay: stale %s start timer fired in state %s", ev.Stream, c.state)
			return
		}
		if ev.Stream == StreamGPS {
			c.startGps()
		} else if c.video != nil {
			c.video.Play()
		}
	}
}

// startFresh begins a new playback pass from the top of the timeline.
// Whichever stream starts later is delayed by a scheduled start, never
// truncated.
func (c *Controller) startFresh(ctx context.Context) {
	if c.gps == nil {
		log.Printf("replay: no gps provider configured, ignoring play")
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	c.runCtx = ctx
	c.tracker.PrepareForRestart()
	c.estimator.Reset()

	if !c.timeline.IsInitialized() {
		var videoDur int64
		if c.video != nil {
			videoDur = c.video.Duration()
		}
		start := c.gps.TrackStartTime()
		c.timeline.Init(start, start+c.gps.TrackDuration(), videoDur)
	}
	if !c.timeline.IsInitialized() {
		log.Printf("replay: timeline init failed, cannot start playback")
		return
	}
	c.tracker.hasVideo = c.timeline.HasVideo()
	c.timeline.Reset()
	c.state = StatePlaying

	if c.timeline.VideoStartsFirst() {
		// Estimator stays frozen until the scheduled GPS start fires and
		// fixes begin arriving.
		c.estimator.Freeze()
		c.video.SeekTo(0)
		c.video.Play()
		c.scheduleGpsStart(c.timeline.GpsStartDelayMs())
		return
	}

	c.gps.Start(ctx)
	if c.timeline.HasVideo() && c.video != nil {
		if delay := c.timeline.InitialVideoPositionMs(); delay > 0 {
			c.video.SeekTo(0)
			c.scheduleVideoStart(delay)
		} else {
			c.video.SeekToAndPlay(0)
		}
	}
}

func (c *Controller) resume() {
	c.cancelScheduledStarts()
	c.state = StatePlaying

	if c.gps != nil {
		switch {
		case c.gps.IsStarted():
			c.estimator.Unfreeze()
			c.gps.Resume()
		case c.timeline.VideoStartsFirst() && c.video != nil:
			// Paused before the GPS stream began; reschedule its start from
			// the video's current position.
			if delay := c.timeline.VideoOffset() - c.video.CurrentPosition(); delay > 0 {
				c.scheduleGpsStart(delay)
			} else if !c.tracker.GpsCompleted() {
				c.startGps()
			}
		}
	}

	if c.video != nil && c.timeline.HasVideo() {
		if remaining := c.timeline.VideoStart() - c.timeline.CurrentGpsTime(); remaining > 0 {
			c.scheduleVideoStart(remaining)
		} else {
			c.video.Play()
		}
	}
}

func (c *Controller) startGps() {
	if c.gps == nil {
		return
	}
	c.gps.Start(c.runCtx)
}

func (c *Controller) scheduleGpsStart(delayMs int64) {
	c.gpsTimer.cancel()
	if delayMs <= 0 {
		c.startGps()
		return
	}
	log.Printf("replay: gps start scheduled in %dms", delayMs)
	c.gpsTimer = scheduleStart(time.Duration(delayMs)*time.Millisecond, func() {
		c.Post(StreamEvent{Stream: StreamGPS, Kind: eventStartDue})
	})
}

func (c *Controller) scheduleVideoStart(delayMs int64) {
	c.videoTimer.cancel()
	if delayMs <= 0 {
		if c.video != nil {
			c.video.Play()
		}
		return
	}
	log.Printf("replay: video start scheduled in %dms", delayMs)
	c.videoTimer = scheduleStart(time.Duration(delayMs)*time.Millisecond, func() {
		c.Post(StreamEvent{Stream: StreamVideo, Kind: eventStartDue})
	})
}

func (c *Controller) cancelScheduledStarts() {
	c.gpsTimer.cancel()
	c.videoTimer.cancel()
	c.gpsTimer = nil
	c.videoTimer = nil
}

// onAllStreamsComplete runs (on the control goroutine, from the completion
// handler) once both streams have finished a pass.
func (c *Controller) onAllStreamsComplete() {
	c.cancelScheduledStarts()
	if c.gps != nil {
		c.gps.Stop()
	}
	c.state = StateCompleted
	log.Printf("replay: playback pass completed")
}
