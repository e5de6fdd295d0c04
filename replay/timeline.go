package replay

import "log"

// seekToleranceMs is the band around the video's bounds within which a GPS
// time still converts to a (clamped) video time. Boundary jitter of a few
// hundred ms must not flip a position in and out of the video's range.
const seekToleranceMs = 500

// Timeline owns the coordinate mapping between GPS time (absolute ms
// timestamps from the recorded track) and video time (ms from the first
// frame), and the unified timeline bounds spanning both streams. It is pure
// bookkeeping: all methods are side-effect free beyond the Timeline's own
// fields, and it is only ever mutated by its owning controller.
type Timeline struct {
	gpsStart int64
	gpsEnd   int64

	// videoStart is the video's first frame mapped onto the GPS time axis:
	// videoStart = gpsStart - videoOffset.
	videoStart    int64
	videoDuration int64
	hasVideo      bool

	// videoOffset is the configured signed offset in ms. Positive means the
	// video lags GPS (video footage begins before the first GPS fix).
	videoOffset int64

	// Unified bounds in GPS time coordinates.
	start int64
	end   int64

	currentGpsTime int64
	pausedGpsTime  int64

	initialized bool
}

// NewTimeline creates an uninitialized timeline with the configured
// video/GPS offset. Init must be called with the session's bounds before
// any conversion is meaningful.
func NewTimeline(videoOffsetMs int64) *Timeline {
	return &Timeline{videoOffset: videoOffsetMs}
}

// Init computes all bounds for a replay session. A track with
// gpsEnd <= gpsStart is invalid; the timeline stays inert and callers must
// check IsInitialized before use. videoDurationMs <= 0 means no video.
func (t *Timeline) Init(gpsStart, gpsEnd, videoDurationMs int64) {
	if gpsEnd <= gpsStart {
		log.Printf("timeline: invalid gps bounds [%d, %d], staying inert", gpsStart, gpsEnd)
		t.initialized = false
		return
	}
	t.gpsStart = gpsStart
	t.gpsEnd = gpsEnd
	t.hasVideo = videoDurationMs > 0
	if t.hasVideo {
		t.videoDuration = videoDurationMs
		t.videoStart = gpsStart - t.videoOffset
		t.start = min64(gpsStart, t.videoStart)
		t.end = max64(gpsEnd, t.videoStart+videoDurationMs)
	} else {
		t.videoDuration = 0
		t.videoStart = 0
		t.start = gpsStart
		t.end = gpsEnd
	}
	t.currentGpsTime = gpsStart
	t.pausedGpsTime = gpsStart
	t.initialized = true
}

func (t *Timeline) IsInitialized() bool { return t.initialized }

// GpsToVideoTime converts an absolute GPS timestamp to a video position.
// Returns false when the GPS time falls outside the video's range by more
// than the tolerance band; otherwise the result is clamped into
// [0, videoDuration].
func (t *Timeline) GpsToVideoTime(gpsTimeMs int64) (int64, bool) {
	if !t.initialized || !t.hasVideo {
		return 0, false
	}
	v := gpsTimeMs - t.gpsStart + t.videoOffset
	if v < -seekToleranceMs || v > t.videoDuration+seekToleranceMs {
		return 0, false
	}
	if v < 0 {
		v = 0
	} else if v > t.videoDuration {
		v = t.videoDuration
	}
	return v, true
}

// VideoToGpsTime is the unclamped inverse of GpsToVideoTime.
func (t *Timeline) VideoToGpsTime(videoTimeMs int64) int64 {
	return videoTimeMs + t.gpsStart - t.videoOffset
}

// GpsStartDelayMs is how long after the timeline begins the GPS stream
// should start. Nonzero only when the video starts first.
func (t *Timeline) GpsStartDelayMs() int64 {
	if !t.initialized {
		return 0
	}
	return max64(0, t.gpsStart-t.start)
}

// InitialVideoPositionMs is the gap between the GPS start and the video
// start on the unified timeline. Nonzero only when GPS starts first: the
// video's first frame is due that many ms after the first fix, so the
// later-starting video is delayed by this amount rather than truncated.
func (t *Timeline) InitialVideoPositionMs() int64 {
	if !t.initialized || !t.hasVideo {
		return 0
	}
	return max64(0, t.videoStart-t.gpsStart)
}

// VideoStartsFirst reports whether the video's first frame precedes the
// first GPS fix on the unified timeline. Always false without video.
func (t *Timeline) VideoStartsFirst() bool {
	return t.initialized && t.hasVideo && t.videoStart < t.gpsStart
}

// UpdatePosition records the GPS position most recently reported by the
// GPS stream.
func (t *Timeline) UpdatePosition(gpsTimeMs int64) {
	t.currentGpsTime = gpsTimeMs
}

// CurrentGpsTime returns the most recently reported GPS position.
func (t *Timeline) CurrentGpsTime() int64 { return t.currentGpsTime }

// ElapsedMs returns how far the current position is into the unified
// timeline.
func (t *Timeline) ElapsedMs() int64 {
	if !t.initialized {
		return 0
	}
	return t.currentGpsTime - t.start
}

// OnPause snapshots the current position so playback can resume without
// drift.
func (t *Timeline) OnPause() {
	t.pausedGpsTime = t.currentGpsTime
}

func (t *Timeline) PausedGpsTimeMs() int64 { return t.pausedGpsTime }

// Reset returns the position bookkeeping to the session start without
// clearing the computed bounds. Used between playback passes.
func (t *Timeline) Reset() {
	t.currentGpsTime = t.gpsStart
	t.pausedGpsTime = t.gpsStart
}

// Clear fully invalidates the timeline. Only called at session teardown.
func (t *Timeline) Clear() {
	*t = Timeline{videoOffset: t.videoOffset}
}

func (t *Timeline) GpsStart() int64      { return t.gpsStart }
func (t *Timeline) GpsEnd() int64        { return t.gpsEnd }
func (t *Timeline) Start() int64         { return t.start }
func (t *Timeline) End() int64           { return t.end }
func (t *Timeline) VideoStart() int64    { return t.videoStart }
func (t *Timeline) VideoDuration() int64 { return t.videoDuration }
func (t *Timeline) VideoOffset() int64   { return t.videoOffset }
func (t *Timeline) HasVideo() bool       { return t.hasVideo }

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
