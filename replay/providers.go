package replay

import "context"

// GpsProvider is the recorded-track stream collaborator. It replaces live
// GPS during replay: Start makes it emit the recorded fixes on the
// recording's own cadence. Lifecycle transitions (started, seek complete,
// completed) are reported asynchronously as StreamEvents on the
// controller's event channel.
type GpsProvider interface {
	// Start begins emitting from the top of the track, emitting the first
	// fix synchronously.
	Start(ctx context.Context)
	// StartWithDelay begins playback with the delay baked into the
	// emitter's epoch: the first fix is emitted only after delayMs, so the
	// track's first moment is delayed rather than truncated.
	StartWithDelay(ctx context.Context, delayMs int64)
	Pause()
	Resume()
	Stop()
	// Seek jumps to the fix at or before gpsTimeMs (clamped to the track
	// bounds), emits it immediately, and optionally resumes playback.
	Seek(gpsTimeMs int64, resumeAfter bool)

	TrackStartTime() int64
	TrackDuration() int64
	IsStarted() bool
	CurrentGpsTimeMs() int64
}

// VideoPlayer is the video stream collaborator: a decoder/surface pair
// reduced to a positional clock. Prepared, seek-complete and completed
// notifications arrive as StreamEvents.
type VideoPlayer interface {
	Play()
	Pause()
	Stop()
	// SeekTo repositions synchronously without starting playback.
	SeekTo(ms int64)
	// SeekWithCallback repositions and invokes fn once the seek has
	// settled, so playback is not started mid-seek.
	SeekWithCallback(ms int64, fn func())
	// SeekToAndPlay is SeekWithCallback followed by Play.
	SeekToAndPlay(ms int64)

	CurrentPosition() int64
	Duration() int64
	IsPlaying() bool
}

// MotionEstimator is the dead-reckoning collaborator consumed (not owned)
// by the replay core. Freeze halts extrapolation between fixes, Unfreeze
// resumes it, Reset clears all accumulated filter state, and SoftReset
// keeps the filter state but drops cached predictions.
type MotionEstimator interface {
	Freeze()
	Unfreeze()
	Reset()
	SoftReset()
}

// nopEstimator stands in when no estimator is configured.
type nopEstimator struct{}

func (nopEstimator) Freeze()    {}
func (nopEstimator) Unfreeze()  {}
func (nopEstimator) Reset()     {}
func (nopEstimator) SoftReset() {}
