package replay

import "time"

// startTimer is a cancellable scheduled start for one stream. The
// controller holds at most one outstanding timer per stream; Pause, Stop
// and SeekTo cancel them before acting so a stale timer cannot start a
// stream the user has just paused.
//
// Cancellation stops a timer that has not fired yet, but a callback
// already in flight may still be delivered; the controller re-checks its
// state when the fire event arrives, so a late fire degrades to a no-op.
type startTimer struct {
	t *time.Timer
}

func scheduleStart(d time.Duration, fire func()) *startTimer {
	return &startTimer{t: time.AfterFunc(d, fire)}
}

func (s *startTimer) cancel() {
	if s != nil && s.t != nil {
		s.t.Stop()
	}
}
