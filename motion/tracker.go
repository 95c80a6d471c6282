package motion

import (
	"fmt"

	"github.com/bmharper/flatbush-go"
	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-crowdrisk/common"
)

// Centroid is the centre of one person detection, keyed by the identity the
// tracker assigned to it.
type Centroid struct {
	ID    string
	Point common.Point
}

// PositionTracker turns the accepted person boxes of one frame into keyed
// centroids. The Extractor only depends on this interface, so frame-local and
// persistent identity schemes are interchangeable.
type PositionTracker interface {
	// Update returns one centroid per box, in box order.
	Update(boxes []common.BoundingBox) []Centroid
	// Reset forgets any cross-frame state.
	Reset()
}

// PersonID formats the identity for the k-th person (1-based).
func PersonID(k int) string {
	return fmt.Sprintf("person_%d", k)
}

// OrdinalTracker enumerates boxes as person_1..person_n every frame. The same
// identity in two frames only refers to the same detection index, not the same
// individual.
type OrdinalTracker struct{}

// NewOrdinalTracker returns the frame-local tracker.
func NewOrdinalTracker() *OrdinalTracker {
	return &OrdinalTracker{}
}

// Update implements PositionTracker.
func (t *OrdinalTracker) Update(boxes []common.BoundingBox) []Centroid {
	out := make([]Centroid, len(boxes))
	for i := range boxes {
		out[i] = Centroid{ID: PersonID(i + 1), Point: boxes[i].Center()}
	}
	return out
}

// Reset implements PositionTracker. The ordinal tracker is stateless.
func (t *OrdinalTracker) Reset() {}

// NearestTrackerConfig tunes the persistent-identity tracker.
type NearestTrackerConfig struct {
	// MaxMissedFrames is how many consecutive frames a track may go unmatched before it is dropped.
	MaxMissedFrames int `yaml:"max_missed_frames"`
	// MinSearchBuffer is the minimum padding in pixels around a box when looking for candidate tracks.
	MinSearchBuffer float32 `yaml:"min_search_buffer"`
	// SearchBufferScale pads each side of a box by this fraction of its size.
	SearchBufferScale float32 `yaml:"search_buffer_scale"`
	// MaxDistance rejects matches whose centres are further apart than this, in pixels. Zero disables the limit.
	MaxDistance float32 `yaml:"max_distance"`
}

// DefaultNearestTrackerConfig returns the defaults for NearestTracker.
func DefaultNearestTrackerConfig() NearestTrackerConfig {
	return NearestTrackerConfig{
		MaxMissedFrames:   5,
		MinSearchBuffer:   20,
		SearchBufferScale: 0.8,
		MaxDistance:       150,
	}
}

type track struct {
	id     string
	box    common.BoundingBox
	missed int
}

// NearestTracker keeps identities stable across frames. Boxes are matched
// greedily to existing tracks by IoU, falling back to centre distance when
// nothing overlaps. Candidate tracks near each box come from a flatbush index;
// boxes left over after that are tried against every unmatched track.
type NearestTracker struct {
	config NearestTrackerConfig
	tracks []*track
	nextID int
}

// NewNearestTracker creates a tracker with persistent identities.
func NewNearestTracker(config NearestTrackerConfig) *NearestTracker {
	return &NearestTracker{config: config, nextID: 1}
}

// Update implements PositionTracker.
func (t *NearestTracker) Update(boxes []common.BoundingBox) []Centroid {
	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(t.tracks))
	for _, tr := range t.tracks {
		fb.Add(int32(math32.Floor(tr.box.X1)), int32(math32.Floor(tr.box.Y1)),
			int32(math32.Ceil(tr.box.X2)), int32(math32.Ceil(tr.box.Y2)))
	}
	fb.Finish()

	boxToTrack := make([]int, len(boxes))
	for i := range boxToTrack {
		boxToTrack[i] = -1
	}
	trackMatched := make([]bool, len(t.tracks))

	closest := func(i int, candidates []int) {
		box := &boxes[i]
		center := box.Center()
		bestJ := -1
		bestIoU := float32(0)
		bestDistance := float32(9e20)
		for _, j := range candidates {
			if trackMatched[j] {
				continue
			}
			old := &t.tracks[j].box
			distance := center.Distance(old.Center())
			if t.config.MaxDistance > 0 && distance > t.config.MaxDistance {
				continue
			}
			iou := box.IoU(old)
			if iou > bestIoU {
				bestIoU = iou
				bestJ = j
			} else if bestIoU == 0 && distance < bestDistance {
				bestDistance = distance
				bestJ = j
			}
		}
		if bestJ != -1 {
			trackMatched[bestJ] = true
			boxToTrack[i] = bestJ
		}
	}

	// Phase 1: tracks whose last box lies near the new box.
	var nearby []int
	for i := range boxes {
		box := &boxes[i]
		bufX := math32.Max(t.config.MinSearchBuffer, t.config.SearchBufferScale*box.Width())
		bufY := math32.Max(t.config.MinSearchBuffer, t.config.SearchBufferScale*box.Height())
		nearby = fb.SearchFast(int32(box.X1-bufX), int32(box.Y1-bufY), int32(box.X2+bufX), int32(box.Y2+bufY), nearby)
		closest(i, nearby)
	}

	// Phase 2: any track still unmatched.
	var unmatched []int
	for j := range t.tracks {
		if !trackMatched[j] {
			unmatched = append(unmatched, j)
		}
	}
	for i := range boxes {
		if boxToTrack[i] == -1 {
			closest(i, unmatched)
		}
	}

	out := make([]Centroid, len(boxes))
	for i := range boxes {
		j := boxToTrack[i]
		if j == -1 {
			t.tracks = append(t.tracks, &track{id: PersonID(t.nextID), box: boxes[i]})
			t.nextID++
			trackMatched = append(trackMatched, true)
			j = len(t.tracks) - 1
		}
		tr := t.tracks[j]
		tr.box = boxes[i]
		tr.missed = 0
		out[i] = Centroid{ID: tr.id, Point: boxes[i].Center()}
	}

	kept := t.tracks[:0]
	for j, tr := range t.tracks {
		if !trackMatched[j] {
			tr.missed++
		}
		if tr.missed <= t.config.MaxMissedFrames {
			kept = append(kept, tr)
		}
	}
	t.tracks = kept

	return out
}

// Reset implements PositionTracker. Identity numbering restarts at person_1.
func (t *NearestTracker) Reset() {
	t.tracks = nil
	t.nextID = 1
}

// Len returns the number of live tracks.
func (t *NearestTracker) Len() int {
	return len(t.tracks)
}
