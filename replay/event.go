package replay

// StreamID identifies one of the two replayed streams.
type StreamID int

// StreamID instances
const (
	StreamGPS StreamID = iota
	StreamVideo
)

func (s StreamID) String() string {
	switch s {
	case StreamGPS:
		return "gps"
	case StreamVideo:
		return "video"
	default:
		return "unknown"
	}
}

// EventKind is the type of a stream lifecycle event.
type EventKind int

// EventKind instances
const (
	EventStarted EventKind = iota
	EventPrepared
	EventPosition
	EventSeekComplete
	EventCompleted
	// eventStartDue is posted by a scheduled-start timer when its delay
	// elapses. Handled as a no-op unless the controller is still playing.
	eventStartDue EventKind = 99
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventPrepared:
		return "prepared"
	case EventPosition:
		return "position"
	case EventSeekComplete:
		return "seekComplete"
	case EventCompleted:
		return "completed"
	case eventStartDue:
		return "startDue"
	default:
		return "unknown"
	}
}

// StreamEvent is the envelope for all asynchronous notifications from the
// stream collaborators back into the controller. Collaborators post events
// from their own goroutines; the controller's owner drains them on a single
// control goroutine before any shared state is touched.
type StreamEvent struct {
	Stream StreamID
	Kind   EventKind
	// Position carries the stream-relative time for EventPosition and
	// EventPrepared (GPS time in ms for GPS, video ms for video).
	Position int64
}
