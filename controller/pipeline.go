// Package controller - This file contains the per-frame crowd risk pipeline.
package controller

import (
	"time"

	"github.com/nvr-ai/go-crowdrisk/common"
	"github.com/nvr-ai/go-crowdrisk/motion"
	"github.com/nvr-ai/go-crowdrisk/risk"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// TrackerKind selects the PositionTracker implementation.
type TrackerKind string

// TrackerKind constants.
const (
	// TrackerOrdinal re-enumerates people every frame.
	TrackerOrdinal TrackerKind = "ordinal"
	// TrackerNearest keeps identities across frames by nearest box matching.
	TrackerNearest TrackerKind = "nearest"
)

// PipelineConfig contains configuration parameters for the crowd risk pipeline
type PipelineConfig struct {
	// WindowCapacity is the number of samples each motion window retains.
	WindowCapacity int `yaml:"window_capacity"`
	// RecentFrames is how many raw frames are kept for the fallback counter.
	RecentFrames int `yaml:"recent_frames"`
	// Tracker selects how people are keyed across frames.
	Tracker TrackerKind `yaml:"tracker"`
	// Nearest configures the nearest tracker when Tracker is TrackerNearest.
	Nearest motion.NearestTrackerConfig `yaml:"nearest"`
	// Scoring holds the risk model constants.
	Scoring risk.ScoringConfig `yaml:"scoring"`
	// Fallback configures the differencing counter.
	Fallback motion.FallbackConfig `yaml:"fallback"`
	// EnableFallback turns the differencing counter on for frames with no detections.
	EnableFallback bool `yaml:"enable_fallback"`
	// EnableFlow computes the optical flow diagnostic every frame.
	EnableFlow bool `yaml:"enable_flow"`
	// Density configures the density diagnostics.
	Density DensityEstimationConfig `yaml:"density"`
	// Alerts holds the people-count alert thresholds.
	Alerts AlertThresholds `yaml:"alerts"`
}

// DefaultPipelineConfig returns the default pipeline configuration
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		WindowCapacity: motion.DefaultWindowCapacity,
		RecentFrames:   motion.DefaultRecentFrames,
		Tracker:        TrackerOrdinal,
		Nearest:        motion.DefaultNearestTrackerConfig(),
		Scoring:        risk.DefaultScoringConfig(),
		Fallback:       motion.DefaultFallbackConfig(),
		EnableFallback: true,
		EnableFlow:     false,
		Density:        DefaultDensityEstimationConfig(),
		Alerts:         DefaultAlertThresholds(),
	}
}

// Validate reports configuration errors.
func (c PipelineConfig) Validate() error {
	if c.WindowCapacity < 2 {
		return errors.Errorf("window_capacity must be at least 2, got %d", c.WindowCapacity)
	}
	if c.RecentFrames < 2 {
		return errors.Errorf("recent_frames must be at least 2, got %d", c.RecentFrames)
	}
	switch c.Tracker {
	case TrackerOrdinal, TrackerNearest:
	default:
		return errors.Errorf("unknown tracker %q", c.Tracker)
	}
	if err := c.Alerts.Validate(); err != nil {
		return err
	}
	return errors.Wrap(c.Scoring.Validate(), "scoring")
}

// Result is everything the pipeline produced for one frame.
type Result struct {
	FrameID     int             `json:"frame_id"`
	Timestamp   time.Time       `json:"timestamp"`
	PeopleCount int             `json:"people_count"`
	Detections  []Detection     `json:"detections"`
	Fallback    bool            `json:"fallback"`
	Assessment  risk.Assessment `json:"assessment"`
	Alert       AlertLevel      `json:"alert"`
	Windows     motion.Windows  `json:"windows"`
	Sample      motion.Sample   `json:"-"`
	Density     DensityMetrics  `json:"density"`
	Flow        *motion.Flow    `json:"flow,omitempty"`
	// Incident is true when the assessment qualifies to be recorded.
	Incident bool `json:"incident"`
}

// Pipeline runs detection, correspondence, motion extraction and scoring for
// one video source. It exclusively owns the position history, the motion
// windows and the recent frames, and is not safe for concurrent use.
type Pipeline struct {
	config    PipelineConfig
	detector  Detector
	tracker   motion.PositionTracker
	extractor *motion.Extractor
	recent    *motion.RecentFrames
	fallback  *motion.FallbackCounter
	flow      *motion.FlowDiagnostic
	scorer    *risk.Scorer
	density   *DensityEstimator
	logger    zerolog.Logger
}

// PipelineOption customises a Pipeline.
type PipelineOption func(*Pipeline)

// WithLogger sets the pipeline's logger.
func WithLogger(logger zerolog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = logger }
}

// WithTracker replaces the tracker selected by config.
func WithTracker(tracker motion.PositionTracker) PipelineOption {
	return func(p *Pipeline) { p.tracker = tracker }
}

// NewPipeline creates a pipeline around detector.
//
// Arguments:
//   - detector: The detection adapter.
//   - config: Pipeline configuration.
//   - opts: Optional overrides.
//
// Returns:
//   - *Pipeline: The pipeline. Call Close to release native memory.
//
// @example
// p := NewPipeline(detector, DefaultPipelineConfig())
// defer p.Close()
// result, err := p.Process(frame)
func NewPipeline(detector Detector, config PipelineConfig, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		config:    config,
		detector:  detector,
		extractor: motion.NewExtractor(config.WindowCapacity),
		recent:    motion.NewRecentFrames(config.RecentFrames),
		scorer:    risk.NewScorer(config.Scoring),
		density:   NewDensityEstimator(config.Density),
		logger:    log.Logger,
	}
	if config.Tracker == TrackerNearest {
		p.tracker = motion.NewNearestTracker(config.Nearest)
	} else {
		p.tracker = motion.NewOrdinalTracker()
	}
	if config.EnableFallback {
		p.fallback = motion.NewFallbackCounter(config.Fallback)
	}
	if config.EnableFlow {
		p.flow = motion.NewFlowDiagnostic()
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs one frame through the pipeline.
//
// A detector failure returns an error and leaves all pipeline state as it
// was, so the caller can skip the frame. When the detector reports nobody
// and at least two recent frames exist, the fallback counter supplies the
// count and placeholder detections. Placeholders never feed the motion
// windows, but a fallback frame has no real centroids, so it empties the
// position history and the next detected frame only seeds. A frame whose
// final count is zero clears the position history and the motion windows.
//
// Arguments:
//   - frame: The frame to process. The pipeline clones what it retains.
//
// Returns:
//   - Result: The per-frame output.
//   - error: An error if detection failed.
func (p *Pipeline) Process(frame Frame) (Result, error) {
	detections, err := p.detector.Detect(frame)
	if err != nil {
		return Result{}, errors.Wrapf(err, "detect frame %d with %s", frame.ID, p.detector.Name())
	}
	people := FilterPeople(detections)

	p.recent.Push(frame.Image)

	result := Result{
		FrameID:   frame.ID,
		Timestamp: frame.Timestamp,
	}

	count := len(people)
	if count == 0 && p.fallback != nil {
		n, ok, err := p.fallback.CountRecent(p.recent)
		switch {
		case err != nil:
			p.logger.Warn().Err(err).Int("frame", frame.ID).Msg("fallback counter failed")
		case ok && n > 0:
			size := frame.Size()
			for _, rect := range p.fallback.Placeholders(n, size.X, size.Y) {
				result.Detections = append(result.Detections, Detection{
					Label:      PersonLabel,
					Confidence: p.fallback.Confidence(),
					BBox:       rect,
					Synthetic:  true,
				})
			}
			count = n
			result.Fallback = true
		}
	}

	switch {
	case count == 0:
		p.extractor.Clear()
		p.tracker.Reset()
	case result.Fallback:
		p.extractor.ClearHistory()
		p.tracker.Reset()
	default:
		result.Detections = people
		boxes := make([]common.BoundingBox, len(people))
		for i := range people {
			boxes[i] = people[i].Box()
		}
		result.Sample = p.extractor.Update(p.tracker.Update(boxes))
	}

	result.PeopleCount = count
	result.Windows = p.extractor.Windows()
	result.Assessment = p.scorer.Assess(count, frame.Area(),
		result.Windows.Velocity, result.Windows.Direction, result.Windows.Acceleration)
	result.Incident = p.scorer.ShouldRecord(result.Assessment)
	result.Alert = p.config.Alerts.Classify(count)
	result.Density = p.density.Analyze(result.Detections, frame.Area())

	if p.flow != nil {
		flow, ok, err := p.flow.Measure(p.recent)
		if err != nil {
			p.logger.Debug().Err(err).Int("frame", frame.ID).Msg("flow diagnostic failed")
		} else if ok {
			result.Flow = &flow
		}
	}

	return result, nil
}

// Reset clears the position history, the motion windows and the recent
// frames. Persisted incidents are not touched.
func (p *Pipeline) Reset() {
	p.extractor.Clear()
	p.tracker.Reset()
	p.recent.Clear()
}

// Windows returns a copy of the current motion windows.
func (p *Pipeline) Windows() motion.Windows {
	return p.extractor.Windows()
}

// PositionHistory returns a copy of the previous frame's centroids.
func (p *Pipeline) PositionHistory() map[string]common.Point {
	return p.extractor.PositionHistory()
}

// RecentFrameCount returns how many raw frames are retained.
func (p *Pipeline) RecentFrameCount() int {
	return p.recent.Len()
}

// Scorer returns the pipeline's risk scorer.
func (p *Pipeline) Scorer() *risk.Scorer {
	return p.scorer
}

// Close releases all native memory held by the pipeline.
func (p *Pipeline) Close() {
	p.recent.Close()
	if p.fallback != nil {
		p.fallback.Close()
	}
	if p.flow != nil {
		p.flow.Close()
	}
}
