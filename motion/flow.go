package motion

import (
	"math"
	"sync"

	"github.com/nvr-ai/go-crowdrisk/images"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Flow summarises dense optical flow between two frames.
type Flow struct {
	// DX and DY are the mean per-pixel displacement, in pixels per frame.
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
	// Magnitude is the length of the mean displacement vector.
	Magnitude float64 `json:"magnitude"`
	// Heading is atan2(DY, DX), in radians.
	Heading float64 `json:"heading"`
}

// FlowDiagnostic computes Farneback optical flow over the two newest recent
// frames. It is reported alongside stats and never feeds the risk score.
type FlowDiagnostic struct {
	previous gocv.Mat
	current  gocv.Mat
	flow     gocv.Mat
	mu       sync.Mutex
}

// NewFlowDiagnostic allocates the working matrices. Call Close when done.
func NewFlowDiagnostic() *FlowDiagnostic {
	return &FlowDiagnostic{
		previous: gocv.NewMat(),
		current:  gocv.NewMat(),
		flow:     gocv.NewMat(),
	}
}

// Measure returns the mean flow between the two newest frames in recent.
// ok is false when fewer than two frames are held.
func (d *FlowDiagnostic) Measure(recent *RecentFrames) (Flow, bool, error) {
	previous, current, ok := recent.Latest()
	if !ok {
		return Flow{}, false, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := images.ToGray(current, &d.current); err != nil {
		return Flow{}, true, errors.Wrap(err, "grayscale current frame")
	}
	if err := images.ToGray(previous, &d.previous); err != nil {
		return Flow{}, true, errors.Wrap(err, "grayscale previous frame")
	}
	images.MatchSize(&d.previous, d.current)

	gocv.CalcOpticalFlowFarneback(d.previous, d.current, &d.flow, 0.5, 3, 15, 3, 5, 1.2, 0)
	if d.flow.Empty() {
		return Flow{}, true, errors.New("optical flow produced no output")
	}

	mean := d.flow.Mean()
	f := Flow{DX: mean.Val1, DY: mean.Val2}
	f.Magnitude = math.Hypot(f.DX, f.DY)
	f.Heading = math.Atan2(f.DY, f.DX)
	return f, true, nil
}

// Close releases native memory.
func (d *FlowDiagnostic) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.previous.Close()
	d.current.Close()
	d.flow.Close()
}
