// Package motion - Frame-to-frame crowd motion analytics: position correspondence,
// sliding motion windows, the differencing fallback counter and the recent
// frame buffer it reads from.
package motion

// DefaultWindowCapacity is the number of per-frame samples each motion window retains.
const DefaultWindowCapacity = 30

// Window is a fixed-capacity FIFO of per-frame scalar samples. Once full,
// each Push evicts the oldest sample.
type Window struct {
	capacity int
	samples  []float64
}

// NewWindow creates an empty window holding at most capacity samples.
// A capacity below 1 is treated as 1.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{
		capacity: capacity,
		samples:  make([]float64, 0, capacity),
	}
}

// Push appends v, evicting the oldest sample when the window is full.
func (w *Window) Push(v float64) {
	if len(w.samples) == w.capacity {
		copy(w.samples, w.samples[1:])
		w.samples = w.samples[:len(w.samples)-1]
	}
	w.samples = append(w.samples, v)
}

// Values returns a copy of the samples, oldest first.
func (w *Window) Values() []float64 {
	out := make([]float64, len(w.samples))
	copy(out, w.samples)
	return out
}

// Last returns the newest sample and whether one exists.
func (w *Window) Last() (float64, bool) {
	if len(w.samples) == 0 {
		return 0, false
	}
	return w.samples[len(w.samples)-1], true
}

// Len returns the number of samples currently held.
func (w *Window) Len() int {
	return len(w.samples)
}

// Cap returns the maximum number of samples the window holds.
func (w *Window) Cap() int {
	return w.capacity
}

// Clear drops all samples.
func (w *Window) Clear() {
	w.samples = w.samples[:0]
}
