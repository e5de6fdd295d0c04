// Package estimator provides dead-reckoning between GPS fixes. A
// complementary filter smooths position and acceleration in a local
// east-up-north frame so render frames between fixes can extrapolate
// smoothly, and a freeze latch stops the extrapolation whenever replay
// playback is not advancing.
package estimator

import (
	"math"
	"sync"
	"time"

	"github.com/peregrine-vr/flightreplay/gps"
)

const (
	// blend factor for the complementary filter
	alpha = 0.1

	earthRadiusMeters = 6371000.0
)

// Vector3 is an east-up-north triple in meters (or m/s, m/s^2).
type Vector3 struct {
	X float64 // east
	Y float64 // up
	Z float64 // north
}

func (v Vector3) Add(o Vector3) Vector3 {
	return Vector3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

func (v Vector3) Sub(o Vector3) Vector3 {
	return Vector3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

func (v Vector3) Scale(s float64) Vector3 {
	return Vector3{v.X * s, v.Y * s, v.Z * s}
}

// Estimator filters GPS fixes into a smoothed ENU motion state and
// predicts the offset between the filtered position and the last fix at
// render time. Safe for concurrent use: fixes arrive from the GPS
// emitter goroutine while freeze transitions come from the replay
// control goroutine.
type Estimator struct {
	mu sync.Mutex

	p Vector3 // filtered position, meters ENU
	v Vector3 // velocity, m/s ENU
	a Vector3 // smoothed acceleration, m/s^2 ENU

	origin        *gps.Fix // ENU origin, set by the first fix
	lastUpdate    *gps.Fix
	positionDelta Vector3 // filtered position minus last measured position

	frozen      bool
	frozenDelta Vector3
}

func New() *Estimator {
	return &Estimator{}
}

// enu converts a fix to coordinates relative to the origin using a
// small-angle spherical approximation.
func (e *Estimator) enu(f gps.Fix) Vector3 {
	if e.origin == nil {
		return Vector3{}
	}
	latRad := f.Lat * math.Pi / 180
	lonRad := f.Lon * math.Pi / 180
	originLatRad := e.origin.Lat * math.Pi / 180
	originLonRad := e.origin.Lon * math.Pi / 180

	north := (latRad - originLatRad) * earthRadiusMeters
	east := (lonRad - originLonRad) * earthRadiusMeters * math.Cos(originLatRad)
	up := f.Alt - e.origin.Alt

	return Vector3{east, up, north}
}

// Update feeds a fresh GPS fix through the filter. The first fix sets
// the ENU origin. Updates are ignored while frozen so stray fixes from
// a scrub preview cannot disturb the frozen state.
func (e *Estimator) Update(f gps.Fix) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.frozen {
		return
	}

	if e.lastUpdate == nil {
		fix := f
		e.origin = &fix
		e.p = Vector3{}
		e.v = Vector3{f.VE, f.Climb, f.VN}
		e.a = Vector3{}
		e.positionDelta = Vector3{}
		e.lastUpdate = &fix
		return
	}

	dt := float64(f.Millis-e.lastUpdate.Millis) * 1e-3
	if dt <= 0 {
		return
	}

	vNew := Vector3{f.VE, f.Climb, f.VN}
	aRaw := vNew.Sub(e.v).Scale(1 / dt)
	e.a = e.a.Scale(1 - alpha).Add(aRaw.Scale(alpha))

	measured := e.enu(f)

	// constant-acceleration predict, then blend with the measurement
	pPred := e.p.Add(e.v.Scale(dt)).Add(e.a.Scale(0.5 * dt * dt))
	e.p = pPred.Scale(1 - alpha).Add(measured.Scale(alpha))
	e.v = vNew

	e.positionDelta = e.p.Sub(measured)
	fix := f
	e.lastUpdate = &fix
}

// PredictDelta extrapolates the ENU offset from the last fix to the
// query time. While frozen it returns the delta captured at freeze
// time, so the rendered position holds still instead of flying off.
func (e *Estimator) PredictDelta(tQueryMillis int64) Vector3 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.frozen {
		return e.frozenDelta
	}
	return e.predictDeltaLocked(tQueryMillis)
}

func (e *Estimator) predictDeltaLocked(tQueryMillis int64) Vector3 {
	if e.lastUpdate == nil {
		return Vector3{}
	}
	dt := float64(tQueryMillis-e.lastUpdate.Millis) * 1e-3
	if dt < 0 {
		dt = 0
	}
	return e.positionDelta.
		Add(e.v.Scale(dt)).
		Add(e.a.Scale(0.5 * dt * dt))
}

// State returns the current filtered position, velocity and
// acceleration.
func (e *Estimator) State() (p, v, a Vector3) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.p, e.v, e.a
}

// IsFrozen reports whether extrapolation is latched.
func (e *Estimator) IsFrozen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frozen
}

// Freeze latches the current prediction. Idempotent.
func (e *Estimator) Freeze() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.frozen {
		return
	}
	e.frozenDelta = e.predictDeltaLocked(time.Now().UnixMilli())
	e.frozen = true
}

// Unfreeze releases the latch. Idempotent.
func (e *Estimator) Unfreeze() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.frozen = false
}

// Reset clears all filter state, including the ENU origin. The next
// fix starts a fresh filter. The freeze latch is left as is.
func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.p = Vector3{}
	e.v = Vector3{}
	e.a = Vector3{}
	e.origin = nil
	e.lastUpdate = nil
	e.positionDelta = Vector3{}
	e.frozenDelta = Vector3{}
}

// SoftReset keeps the filter state but drops the cached prediction
// offset, so the next prediction starts from the measured position.
func (e *Estimator) SoftReset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.positionDelta = Vector3{}
	e.frozenDelta = Vector3{}
}
