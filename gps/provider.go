package gps

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/peregrine-vr/flightreplay/replay"
)

// emitSliceMs caps each emitter sleep so seeks and stops are picked up
// promptly even between widely spaced fixes.
const emitSliceMs = 50

// Provider replays a recorded track as if it were a live GPS receiver.
// It maps wall clock onto track time through a shifting epoch: at any
// moment the fix due is the one whose track offset equals the wall time
// elapsed since systemStart. Pause, resume, seek and delayed starts all
// reduce to moving that epoch.
//
// Fixes are delivered to the OnFix callback with their timestamp
// re-based onto the wall clock, so downstream consumers see them as if
// they were arriving live. Lifecycle events posted to the bound event
// sink carry the original recorded GPS times.
type Provider struct {
	track *Track
	post  func(replay.StreamEvent)
	onFix func(Fix)

	mu          sync.Mutex
	cond        *sync.Cond
	started     bool
	paused      bool
	completed   bool
	index       int
	systemStart int64 // wall epoch ms aligned with the track start
	pauseWall   int64
}

// NewProvider wraps a loaded track. Bind and OnFix attach the outputs
// before the first Start.
func NewProvider(track *Track) *Provider {
	p := &Provider{track: track}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Bind sets the sink for lifecycle StreamEvents.
func (p *Provider) Bind(post func(replay.StreamEvent)) {
	p.post = post
}

// OnFix sets the callback invoked for every emitted fix.
func (p *Provider) OnFix(fn func(Fix)) {
	p.onFix = fn
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// TrackStartTime returns the first recorded GPS timestamp.
func (p *Provider) TrackStartTime() int64 {
	return p.track.StartTime()
}

// TrackDuration returns the track span in milliseconds.
func (p *Provider) TrackDuration() int64 {
	return p.track.Duration()
}

// IsStarted reports whether the emitter is active (paused counts as
// started).
func (p *Provider) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

// IsPaused reports whether playback is paused.
func (p *Provider) IsPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// IsCompleted reports whether the track has been played to exhaustion.
func (p *Provider) IsCompleted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed
}

// CurrentGpsTimeMs returns the recorded timestamp of the fix at the
// current playback position.
func (p *Provider) CurrentGpsTimeMs() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentGpsTimeLocked()
}

func (p *Provider) currentGpsTimeLocked() int64 {
	n := len(p.track.Fixes)
	if n == 0 {
		return 0
	}
	i := p.index
	if i >= n {
		i = n - 1
	}
	if i < 0 {
		i = 0
	}
	return p.track.Fixes[i].Millis
}

// Start begins playback from the top of the track. The first fix is
// delivered synchronously so consumers update before the first tick.
func (p *Provider) Start(ctx context.Context) {
	p.startAt(ctx, 0, true)
}

// StartWithDelay begins playback with delayMs baked into the epoch: the
// first fix is emitted only once the delay has elapsed. The started
// event is still posted immediately.
func (p *Provider) StartWithDelay(ctx context.Context, delayMs int64) {
	if delayMs < 0 {
		delayMs = 0
	}
	p.startAt(ctx, delayMs, false)
}

func (p *Provider) startAt(ctx context.Context, delayMs int64, emitFirst bool) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		log.Printf("gps: start ignored, already started")
		return
	}
	if len(p.track.Fixes) == 0 {
		p.mu.Unlock()
		log.Printf("gps: no track data, cannot start")
		return
	}
	p.started = true
	p.completed = false
	p.paused = false
	p.index = 0
	p.systemStart = nowMillis() + delayMs

	var first Fix
	if emitFirst {
		first = p.adjustedLocked(0)
		p.index = 1
	}
	p.mu.Unlock()

	log.Printf("gps: starting playback, %d fixes, duration=%dms, delay=%dms",
		len(p.track.Fixes), p.track.Duration(), delayMs)

	if emitFirst {
		p.deliver(first, p.track.Fixes[0].Millis)
	}
	if p.post != nil {
		p.post(replay.StreamEvent{Stream: replay.StreamGPS, Kind: replay.EventStarted})
	}
	go p.emit(ctx)
}

// adjustedLocked returns a copy of fix i with its timestamp re-based
// onto the wall clock.
func (p *Provider) adjustedLocked(i int) Fix {
	f := p.track.Fixes[i]
	f.Millis += p.systemStart - p.track.StartTime()
	return f
}

func (p *Provider) deliver(f Fix, recordedMillis int64) {
	if p.onFix != nil {
		p.onFix(f)
	}
	if p.post != nil {
		p.post(replay.StreamEvent{
			Stream:   replay.StreamGPS,
			Kind:     replay.EventPosition,
			Position: recordedMillis,
		})
	}
}

func (p *Provider) emit(ctx context.Context) {
	trackStart := p.track.StartTime()
	for {
		p.mu.Lock()
		for p.paused && p.started {
			p.cond.Wait()
		}
		if !p.started {
			p.mu.Unlock()
			return
		}
		if p.index >= len(p.track.Fixes) {
			p.completed = true
			p.mu.Unlock()
			log.Printf("gps: track exhausted")
			if p.post != nil {
				p.post(replay.StreamEvent{Stream: replay.StreamGPS, Kind: replay.EventCompleted})
			}
			return
		}

		idx := p.index
		due := p.track.Fixes[idx].Millis - trackStart
		elapsed := nowMillis() - p.systemStart
		if due > elapsed {
			p.mu.Unlock()
			wait := due - elapsed
			if wait > emitSliceMs {
				wait = emitSliceMs
			}
			select {
			case <-ctx.Done():
				p.Stop()
				return
			case <-time.After(time.Duration(wait) * time.Millisecond):
			}
			// Re-check everything under the lock; a seek may have moved
			// the index while sleeping.
			continue
		}

		adj := p.adjustedLocked(idx)
		recorded := p.track.Fixes[idx].Millis
		p.index = idx + 1
		p.mu.Unlock()

		p.deliver(adj, recorded)
	}
}

// Pause suspends emission. Track time holds still while paused: the
// epoch is shifted forward on resume so no fixes are skipped.
func (p *Provider) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started || p.paused || p.completed {
		return
	}
	p.paused = true
	p.pauseWall = nowMillis()
	log.Printf("gps: paused at track time %dms", p.currentGpsTimeLocked())
}

// Resume continues emission from the paused position.
func (p *Provider) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resumeLocked()
}

func (p *Provider) resumeLocked() {
	if !p.started || !p.paused {
		return
	}
	pauseDur := nowMillis() - p.pauseWall
	p.systemStart += pauseDur
	p.paused = false
	log.Printf("gps: resumed after %dms pause", pauseDur)
	p.cond.Broadcast()
}

// Stop terminates the emitter. Idempotent.
func (p *Provider) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.started = false
	p.paused = false
	p.cond.Broadcast()
	log.Printf("gps: stopped")
}

// Seek jumps to the fix at or just before gpsTimeMs, clamped to the
// track bounds. The target fix is emitted immediately and a
// seek-complete event is posted. With resumeAfter, a paused provider
// resumes.
func (p *Provider) Seek(gpsTimeMs int64, resumeAfter bool) {
	p.mu.Lock()
	if len(p.track.Fixes) == 0 {
		p.mu.Unlock()
		log.Printf("gps: cannot seek, no track data")
		return
	}
	if gpsTimeMs < p.track.StartTime() {
		gpsTimeMs = p.track.StartTime()
	}
	if gpsTimeMs > p.track.EndTime() {
		gpsTimeMs = p.track.EndTime()
	}

	idx := p.track.FindIndex(gpsTimeMs)
	target := p.track.Fixes[idx]
	p.index = idx

	// Re-base the epoch so the target fix is "now".
	now := nowMillis()
	p.systemStart = now - (target.Millis - p.track.StartTime())
	if p.paused {
		p.pauseWall = now
	}
	p.completed = false

	adj := p.adjustedLocked(idx)
	// The target fix is emitted below; advance past it whenever the
	// emitter will run again, or it would be delivered a second time.
	// When stopped, or staying paused, the index holds on the target so
	// position queries land there.
	if p.started && (!p.paused || resumeAfter) {
		p.index = idx + 1
	}
	if resumeAfter {
		p.resumeLocked()
	}
	p.mu.Unlock()

	log.Printf("gps: seek to %dms (index %d, resume=%v)", target.Millis, idx, resumeAfter)
	p.deliver(adj, target.Millis)
	if p.post != nil {
		p.post(replay.StreamEvent{
			Stream:   replay.StreamGPS,
			Kind:     replay.EventSeekComplete,
			Position: target.Millis,
		})
	}
}
