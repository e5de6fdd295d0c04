// Package video provides a headless 360 video player: a decoder and
// surface pair reduced to the positional clock the replay controller
// needs. Position advances with the wall clock while playing and is
// extrapolated from the last anchor on demand.
package video

import (
	"log"
	"sync"
	"time"

	"github.com/peregrine-vr/flightreplay/replay"
)

// Player simulates video playback against the wall clock. All methods
// are safe for concurrent use; lifecycle notifications are posted to
// the bound event sink.
type Player struct {
	mu       sync.Mutex
	post     func(replay.StreamEvent)
	prepared bool
	playing  bool
	duration int64
	position int64     // anchor position in ms
	anchor   time.Time // wall time the anchor was taken
	endTimer *time.Timer
}

func NewPlayer() *Player {
	return &Player{}
}

// Bind sets the sink for lifecycle StreamEvents.
func (p *Player) Bind(post func(replay.StreamEvent)) {
	p.post = post
}

// Load prepares the player for a clip of the given length and posts a
// prepared event carrying the duration.
func (p *Player) Load(durationMs int64) {
	p.mu.Lock()
	p.prepared = durationMs > 0
	p.playing = false
	p.duration = durationMs
	p.position = 0
	p.cancelEndTimerLocked()
	p.mu.Unlock()

	log.Printf("video: loaded clip, duration=%dms", durationMs)
	if p.prepared {
		p.postEvent(replay.EventPrepared, durationMs)
	}
}

func (p *Player) postEvent(kind replay.EventKind, position int64) {
	if p.post != nil {
		p.post(replay.StreamEvent{Stream: replay.StreamVideo, Kind: kind, Position: position})
	}
}

// Duration returns the loaded clip length in ms, 0 when unprepared.
func (p *Player) Duration() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}

// IsPlaying reports whether the position clock is advancing.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// CurrentPosition returns the playback position in ms, extrapolated
// from the last anchor while playing and clamped to [0, duration].
func (p *Player) CurrentPosition() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

func (p *Player) positionLocked() int64 {
	pos := p.position
	if p.playing {
		pos += time.Since(p.anchor).Milliseconds()
	}
	if pos > p.duration {
		pos = p.duration
	}
	if pos < 0 {
		pos = 0
	}
	return pos
}

// Play starts or continues playback from the current position.
func (p *Player) Play() {
	p.mu.Lock()
	if !p.prepared {
		p.mu.Unlock()
		log.Printf("video: play ignored, no clip loaded")
		return
	}
	if p.playing {
		p.mu.Unlock()
		return
	}
	p.playing = true
	p.anchor = time.Now()
	p.armEndTimerLocked()
	pos := p.position
	p.mu.Unlock()
	log.Printf("video: playing from %dms", pos)
}

// Pause freezes the position clock at the current position.
func (p *Player) Pause() {
	p.mu.Lock()
	if !p.playing {
		p.mu.Unlock()
		return
	}
	p.position = p.positionLocked()
	p.playing = false
	p.cancelEndTimerLocked()
	pos := p.position
	p.mu.Unlock()
	log.Printf("video: paused at %dms", pos)
}

// Stop halts playback and rewinds to the start of the clip.
func (p *Player) Stop() {
	p.mu.Lock()
	p.playing = false
	p.position = 0
	p.cancelEndTimerLocked()
	p.mu.Unlock()
	log.Printf("video: stopped")
}

// SeekTo repositions synchronously without changing the play state.
func (p *Player) SeekTo(ms int64) {
	p.SeekWithCallback(ms, nil)
}

// SeekWithCallback repositions and invokes fn once the new position has
// settled. A seek-complete event is posted with the landed position.
func (p *Player) SeekWithCallback(ms int64, fn func()) {
	p.mu.Lock()
	if !p.prepared {
		p.mu.Unlock()
		log.Printf("video: seek ignored, no clip loaded")
		return
	}
	if ms < 0 {
		ms = 0
	}
	if ms > p.duration {
		ms = p.duration
	}
	p.position = ms
	p.anchor = time.Now()
	if p.playing {
		p.armEndTimerLocked()
	}
	p.mu.Unlock()

	log.Printf("video: seek to %dms", ms)
	p.postEvent(replay.EventSeekComplete, ms)
	if fn != nil {
		fn()
	}
}

// SeekToAndPlay repositions and starts playback once the seek settles.
func (p *Player) SeekToAndPlay(ms int64) {
	p.SeekWithCallback(ms, p.Play)
}

// armEndTimerLocked schedules the end-of-clip check for the remaining
// play time. Called with the mutex held.
func (p *Player) armEndTimerLocked() {
	p.cancelEndTimerLocked()
	remaining := p.duration - p.positionLocked()
	if remaining < 0 {
		remaining = 0
	}
	p.endTimer = time.AfterFunc(time.Duration(remaining)*time.Millisecond, p.onEndTimer)
}

func (p *Player) cancelEndTimerLocked() {
	if p.endTimer != nil {
		p.endTimer.Stop()
		p.endTimer = nil
	}
}

// onEndTimer fires when the clip should have reached its end. The play
// state is re-checked so a pause or seek that raced the timer wins.
func (p *Player) onEndTimer() {
	p.mu.Lock()
	if !p.playing || p.positionLocked() < p.duration {
		p.mu.Unlock()
		return
	}
	p.playing = false
	p.position = p.duration
	p.endTimer = nil
	p.mu.Unlock()

	log.Printf("video: playback completed")
	p.postEvent(replay.EventCompleted, p.duration)
}
