package motion

import "gocv.io/x/gocv"

// DefaultRecentFrames is how many raw frames the fallback counter may look back over.
const DefaultRecentFrames = 5

// RecentFrames is a fixed-capacity FIFO of frame copies. It owns every Mat it
// holds and closes them on eviction, Clear and Close.
type RecentFrames struct {
	capacity int
	frames   []gocv.Mat
}

// NewRecentFrames creates an empty buffer holding at most capacity frames.
func NewRecentFrames(capacity int) *RecentFrames {
	if capacity < 2 {
		capacity = 2
	}
	return &RecentFrames{
		capacity: capacity,
		frames:   make([]gocv.Mat, 0, capacity),
	}
}

// Push stores a clone of frame, evicting and closing the oldest frame when full.
// Empty frames are ignored.
func (r *RecentFrames) Push(frame gocv.Mat) {
	if frame.Empty() {
		return
	}
	if len(r.frames) == r.capacity {
		r.frames[0].Close()
		copy(r.frames, r.frames[1:])
		r.frames = r.frames[:len(r.frames)-1]
	}
	r.frames = append(r.frames, frame.Clone())
}

// Latest returns the two newest frames. ok is false when fewer than two are held.
// The returned Mats remain owned by the buffer.
func (r *RecentFrames) Latest() (previous, current gocv.Mat, ok bool) {
	n := len(r.frames)
	if n < 2 {
		return gocv.Mat{}, gocv.Mat{}, false
	}
	return r.frames[n-2], r.frames[n-1], true
}

// Len returns the number of frames held.
func (r *RecentFrames) Len() int {
	return len(r.frames)
}

// Cap returns the maximum number of frames held.
func (r *RecentFrames) Cap() int {
	return r.capacity
}

// Clear closes and drops every frame.
func (r *RecentFrames) Clear() {
	for i := range r.frames {
		r.frames[i].Close()
	}
	r.frames = r.frames[:0]
}

// Close releases all native memory held by the buffer.
func (r *RecentFrames) Close() {
	r.Clear()
}
