package controller

import (
	"image"
	"testing"
	"time"

	"github.com/nvr-ai/go-crowdrisk/risk"
	"github.com/nvr-ai/go-crowdrisk/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func process(t *testing.T, p *Pipeline, gen *test.MockFrameGenerator, id int, rects ...image.Rectangle) Result {
	t.Helper()

	frame := Frame{ID: id, Image: gen.GenerateMotionFrame(rects...), Timestamp: time.Unix(int64(id), 0)}
	defer frame.Close()

	result, err := p.Process(frame)
	require.NoError(t, err)
	return result
}

func TestPipelineScoresMovingPerson(t *testing.T) {
	// 20x20 frame: a single person already saturates the density factor.
	gen := test.NewMockFrameGenerator(20, 20)
	detector := &MockDetector{script: [][]Detection{
		{person(5, 10), {Label: "car", Confidence: 0.9, BBox: image.Rect(0, 0, 5, 5)}},
		{person(11, 10)}, // +6 px, heading 0
		{person(8, 10)},  // -3 px, heading pi
		{person(14, 10)}, // +6 px, heading 0
	}}
	p := NewPipeline(detector, DefaultPipelineConfig())
	defer p.Close()

	r := process(t, p, gen, 0)
	assert.Equal(t, 1, r.PeopleCount, "non-person detections are ignored")
	assert.True(t, r.Sample.Seeded)
	assert.Equal(t, 1.0, r.Assessment.Factors.Density)
	assert.Equal(t, risk.LevelLow, r.Assessment.Level)
	assert.False(t, r.Incident)

	r = process(t, p, gen, 1)
	assert.Equal(t, []float64{6}, r.Windows.Velocity)
	assert.Equal(t, []float64{0}, r.Windows.Direction)
	assert.Empty(t, r.Windows.Acceleration)
	assert.False(t, r.Incident)

	r = process(t, p, gen, 2)
	assert.Equal(t, []float64{6, 3}, r.Windows.Velocity)
	assert.Equal(t, []float64{3}, r.Windows.Acceleration)
	assert.Equal(t, risk.LevelHigh, r.Assessment.Level)
	assert.False(t, r.Incident, "HIGH at or below 0.8 is not recorded")

	r = process(t, p, gen, 3)
	assert.Equal(t, []float64{3, 3}, r.Windows.Acceleration)
	assert.Equal(t, risk.LevelHigh, r.Assessment.Level)
	assert.Greater(t, r.Assessment.Score, 0.8)
	assert.True(t, r.Incident)
}

func TestPipelineZeroCountClearsState(t *testing.T) {
	gen := test.NewMockFrameGenerator(320, 240)
	detector := &MockDetector{script: [][]Detection{
		{person(100, 100), person(200, 100)},
		{person(103, 104), person(203, 104)},
		nil,
		nil,
		{person(50, 50)},
	}}
	p := NewPipeline(detector, DefaultPipelineConfig())
	defer p.Close()

	process(t, p, gen, 0)
	r := process(t, p, gen, 1)
	require.Len(t, r.Windows.Velocity, 1)
	assert.InDelta(t, 5.0, r.Windows.Velocity[0], 1e-9)
	assert.Len(t, p.PositionHistory(), 2)

	// Identical static frames: the fallback finds nothing either.
	for id := 2; id <= 3; id++ {
		r = process(t, p, gen, id)
		assert.Zero(t, r.PeopleCount)
		assert.False(t, r.Fallback)
		assert.Empty(t, r.Windows.Velocity)
		assert.Empty(t, r.Windows.Direction)
		assert.Empty(t, r.Windows.Acceleration)
		assert.Empty(t, p.PositionHistory())
		assert.Equal(t, risk.LevelLow, r.Assessment.Level)
	}

	r = process(t, p, gen, 4)
	assert.True(t, r.Sample.Seeded, "history starts over after a zero count")
}

func TestPipelineFallbackCount(t *testing.T) {
	gen := test.NewMockFrameGenerator(320, 240)
	detector := &MockDetector{script: [][]Detection{
		{person(100, 100)},
		{person(104, 103)},
		nil,
		nil,
	}}
	p := NewPipeline(detector, DefaultPipelineConfig())
	defer p.Close()

	process(t, p, gen, 0)
	process(t, p, gen, 1)

	r := process(t, p, gen, 2)
	assert.Zero(t, r.PeopleCount, "static frame against static frame")

	// A tall blob appears in the newest frame only.
	r = process(t, p, gen, 3, image.Rect(100, 60, 140, 140))
	assert.True(t, r.Fallback)
	assert.GreaterOrEqual(t, r.PeopleCount, 1)
	require.Len(t, r.Detections, r.PeopleCount)
	for _, d := range r.Detections {
		assert.True(t, d.Synthetic)
		assert.Equal(t, 0.7, d.Confidence)
	}
	assert.Empty(t, r.Windows.Velocity, "placeholders never feed the motion windows")
	assert.Empty(t, p.PositionHistory())
}

func TestPipelineFallbackFrameBreaksPositionHistory(t *testing.T) {
	gen := test.NewMockFrameGenerator(320, 240)
	detector := &MockDetector{script: [][]Detection{
		{person(100, 100)},
		{person(104, 100)},
		nil,
		{person(112, 100)},
	}}
	p := NewPipeline(detector, DefaultPipelineConfig())
	defer p.Close()

	process(t, p, gen, 0)
	r := process(t, p, gen, 1)
	require.Equal(t, []float64{4}, r.Windows.Velocity)

	r = process(t, p, gen, 2, image.Rect(100, 60, 140, 140))
	require.True(t, r.Fallback)
	assert.Empty(t, p.PositionHistory())
	assert.Equal(t, []float64{4}, r.Windows.Velocity, "windows survive a fallback frame")

	// Frame 1 to frame 3 is two frames apart and must not become a sample.
	r = process(t, p, gen, 3)
	assert.True(t, r.Sample.Seeded)
	assert.False(t, r.Sample.HasVelocity)
	assert.Equal(t, []float64{4}, r.Windows.Velocity)
	assert.Empty(t, r.Windows.Acceleration)
	assert.Len(t, p.PositionHistory(), 1)
}

func TestPipelineFallbackDisabled(t *testing.T) {
	gen := test.NewMockFrameGenerator(320, 240)
	cfg := DefaultPipelineConfig()
	cfg.EnableFallback = false
	p := NewPipeline(&MockDetector{}, cfg)
	defer p.Close()

	process(t, p, gen, 0)
	r := process(t, p, gen, 1, image.Rect(100, 60, 140, 140))
	assert.False(t, r.Fallback)
	assert.Zero(t, r.PeopleCount)
}

func TestPipelineDetectorErrorLeavesStateUntouched(t *testing.T) {
	gen := test.NewMockFrameGenerator(320, 240)
	detector := &MockDetector{
		script: [][]Detection{{person(100, 100)}, nil, {person(110, 100)}},
		fail:   map[int]bool{1: true},
	}
	p := NewPipeline(detector, DefaultPipelineConfig())
	defer p.Close()

	process(t, p, gen, 0)
	history := p.PositionHistory()

	frame := Frame{ID: 1, Image: gen.GenerateStaticFrame()}
	_, err := p.Process(frame)
	frame.Close()
	require.Error(t, err)
	assert.Equal(t, 1, p.RecentFrameCount())
	assert.Equal(t, history, p.PositionHistory())

	r := process(t, p, gen, 2)
	assert.Equal(t, []float64{10}, r.Windows.Velocity)
}

func TestPipelineReset(t *testing.T) {
	gen := test.NewMockFrameGenerator(320, 240)
	detector := &MockDetector{script: [][]Detection{{person(100, 100)}, {person(103, 104)}}}
	p := NewPipeline(detector, DefaultPipelineConfig())
	defer p.Close()

	process(t, p, gen, 0)
	process(t, p, gen, 1)
	require.Equal(t, 2, p.RecentFrameCount())

	p.Reset()

	assert.Zero(t, p.RecentFrameCount())
	assert.Empty(t, p.PositionHistory())
	assert.Empty(t, p.Windows().Velocity)
}

func TestPipelineNearestTracker(t *testing.T) {
	gen := test.NewMockFrameGenerator(320, 240)
	cfg := DefaultPipelineConfig()
	cfg.Tracker = TrackerNearest
	detector := &MockDetector{script: [][]Detection{
		{person(10, 100), person(200, 100)},
		// Reversed order: ordinal ids would swap and report a huge speed.
		{person(202, 100), person(12, 100)},
	}}
	p := NewPipeline(detector, cfg)
	defer p.Close()

	process(t, p, gen, 0)
	r := process(t, p, gen, 1)
	assert.Equal(t, []float64{2}, r.Windows.Velocity)
}

func TestPipelineConfigValidate(t *testing.T) {
	require.NoError(t, DefaultPipelineConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*PipelineConfig)
	}{
		{name: "window too small", mutate: func(c *PipelineConfig) { c.WindowCapacity = 1 }},
		{name: "recent frames too small", mutate: func(c *PipelineConfig) { c.RecentFrames = 1 }},
		{name: "unknown tracker", mutate: func(c *PipelineConfig) { c.Tracker = "kalman" }},
		{name: "inverted alerts", mutate: func(c *PipelineConfig) { c.Alerts.Warning = 5 }},
		{name: "weights", mutate: func(c *PipelineConfig) { c.Scoring.Weights.Density = 0.9 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultPipelineConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
