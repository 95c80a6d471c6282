package motion

import (
	"math"

	"github.com/nvr-ai/go-crowdrisk/common"
	"gonum.org/v1/gonum/stat"
)

// Windows is a point-in-time copy of the three motion windows, oldest sample first.
type Windows struct {
	Velocity     []float64 `json:"velocity"`
	Direction    []float64 `json:"direction"`
	Acceleration []float64 `json:"acceleration"`
}

// Sample describes what one Update call contributed to the windows.
type Sample struct {
	// Seeded is true when the call only populated an empty position history.
	Seeded bool
	// Matched is the number of identities present in both frames.
	Matched int

	Velocity        float64
	HasVelocity     bool
	Direction       float64
	HasDirection    bool
	Acceleration    float64
	HasAcceleration bool
}

// Extractor turns consecutive centroid sets into velocity, direction and
// acceleration samples. It keeps exactly one frame of position history.
//
// Extractor is not safe for concurrent use; a session's worker owns it.
type Extractor struct {
	velocity     *Window
	direction    *Window
	acceleration *Window
	previous     map[string]common.Point
}

// NewExtractor creates an extractor whose windows each hold capacity samples.
func NewExtractor(capacity int) *Extractor {
	return &Extractor{
		velocity:     NewWindow(capacity),
		direction:    NewWindow(capacity),
		acceleration: NewWindow(capacity),
		previous:     make(map[string]common.Point),
	}
}

// Update folds the current frame's centroids into the motion windows.
//
// The first call after a Clear only seeds the position history. Later calls
// compare every identity present in both frames: the mean speed goes to the
// velocity window, the absolute change from the previous mean speed goes to
// the acceleration window, and the mean heading of moving identities goes to
// the direction window. The position history is replaced with current every
// time, including when no identities overlap.
//
// Arguments:
//   - current: Centroids of the current frame, as returned by a PositionTracker.
//
// Returns:
//   - Sample: What was appended this frame.
func (e *Extractor) Update(current []Centroid) Sample {
	var sample Sample

	if len(e.previous) == 0 {
		e.replaceHistory(current)
		sample.Seeded = true
		return sample
	}

	speeds := make([]float64, 0, len(current))
	angles := make([]float64, 0, len(current))
	for _, c := range current {
		prev, ok := e.previous[c.ID]
		if !ok {
			continue
		}
		d := c.Point.Sub(prev)
		dx, dy := float64(d.X), float64(d.Y)
		speed := math.Hypot(dx, dy)
		speeds = append(speeds, speed)
		if speed > 0 {
			angles = append(angles, math.Atan2(dy, dx))
		}
	}
	sample.Matched = len(speeds)

	if len(speeds) > 0 {
		avg := stat.Mean(speeds, nil)
		e.velocity.Push(avg)
		sample.Velocity, sample.HasVelocity = avg, true

		if values := e.velocity.Values(); len(values) >= 2 {
			accel := math.Abs(avg - values[len(values)-2])
			e.acceleration.Push(accel)
			sample.Acceleration, sample.HasAcceleration = accel, true
		}
	}

	if len(angles) > 0 {
		heading := stat.Mean(angles, nil)
		e.direction.Push(heading)
		sample.Direction, sample.HasDirection = heading, true
	}

	e.replaceHistory(current)
	return sample
}

func (e *Extractor) replaceHistory(current []Centroid) {
	clear(e.previous)
	for _, c := range current {
		e.previous[c.ID] = c.Point
	}
}

// ClearHistory empties the position history and leaves the windows as they
// are. The next Update only seeds.
func (e *Extractor) ClearHistory() {
	clear(e.previous)
}

// Clear empties the position history and all three windows.
func (e *Extractor) Clear() {
	clear(e.previous)
	e.velocity.Clear()
	e.direction.Clear()
	e.acceleration.Clear()
}

// Windows returns a copy of the current window contents.
func (e *Extractor) Windows() Windows {
	return Windows{
		Velocity:     e.velocity.Values(),
		Direction:    e.direction.Values(),
		Acceleration: e.acceleration.Values(),
	}
}

// PositionHistory returns a copy of the previous frame's centroids.
func (e *Extractor) PositionHistory() map[string]common.Point {
	out := make(map[string]common.Point, len(e.previous))
	for id, p := range e.previous {
		out[id] = p
	}
	return out
}
