package replay

import "log"

// CompletionTracker aggregates the independent "stream finished" signals
// from the GPS and video streams into a single restart-readiness decision.
// It is also the point where the motion estimator is frozen at the end of
// the GPS track (no more fixes means extrapolation must stop) and unfrozen
// when fixes begin arriving again.
//
// The tracker is owned and mutated exclusively by its controller, on the
// single control goroutine.
type CompletionTracker struct {
	hasVideo       bool
	hasStarted     bool
	gpsCompleted   bool
	videoCompleted bool

	estimator MotionEstimator
	onReady   func()
}

// NewCompletionTracker creates a tracker. onReady is invoked synchronously
// from the completion handler whenever both streams have finished, so the
// controller can stop and reset without polling.
func NewCompletionTracker(estimator MotionEstimator, hasVideo bool, onReady func()) *CompletionTracker {
	return &CompletionTracker{
		hasVideo:  hasVideo,
		estimator: estimator,
		onReady:   onReady,
	}
}

// OnGpsStarted marks the GPS stream live and resumes estimator
// extrapolation.
func (c *CompletionTracker) OnGpsStarted() {
	c.hasStarted = true
	c.gpsCompleted = false
	if c.estimator != nil {
		c.estimator.Unfreeze()
	}
}

// OnGpsCompleted marks the GPS stream finished and freezes the estimator
// so dead reckoning cannot drift without fixes.
func (c *CompletionTracker) OnGpsCompleted() {
	c.gpsCompleted = true
	if c.estimator != nil {
		c.estimator.Freeze()
	}
	c.checkReady()
}

func (c *CompletionTracker) OnVideoStarted() {
	c.hasStarted = true
	c.videoCompleted = false
}

func (c *CompletionTracker) OnVideoCompleted() {
	c.videoCompleted = true
	c.checkReady()
}

// IsReadyToRestart reports whether a full playback pass has finished:
// playback has begun this session, the GPS track is exhausted, and the
// video (if any) has played out.
func (c *CompletionTracker) IsReadyToRestart() bool {
	return c.hasStarted && c.gpsCompleted && (c.videoCompleted || !c.hasVideo)
}

// GpsCompleted reports whether the GPS stream has finished this pass.
func (c *CompletionTracker) GpsCompleted() bool { return c.gpsCompleted }

// VideoCompleted reports whether the video stream has finished this pass.
func (c *CompletionTracker) VideoCompleted() bool { return c.videoCompleted }

// PrepareForRestart clears both completion flags for the next playback
// pass. hasStarted stays true for the life of the session.
func (c *CompletionTracker) PrepareForRestart() {
	c.gpsCompleted = false
	c.videoCompleted = false
}

func (c *CompletionTracker) checkReady() {
	if c.IsReadyToRestart() {
		log.Printf("replay: both streams completed, ready to restart")
		if c.onReady != nil {
			c.onReady()
		}
	}
}
