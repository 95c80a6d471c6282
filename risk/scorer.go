// Package risk - Weighted multi-factor crowd risk scoring and level classification.
package risk

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// Level is the discrete risk classification.
type Level string

// Level constants.
const (
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

// Factors is the per-factor breakdown of a score, each normalised to [0, 1].
type Factors struct {
	Density      float64 `json:"density"`
	Velocity     float64 `json:"velocity"`
	Direction    float64 `json:"direction"`
	Acceleration float64 `json:"acceleration"`
}

// Assessment is the result of scoring one frame.
type Assessment struct {
	Score   float64 `json:"score"`
	Level   Level   `json:"level"`
	Factors Factors `json:"factors"`
}

// Weights sets how much each factor contributes to the total score.
type Weights struct {
	Density      float64 `yaml:"density"`
	Velocity     float64 `yaml:"velocity"`
	Direction    float64 `yaml:"direction"`
	Acceleration float64 `yaml:"acceleration"`
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.Density + w.Velocity + w.Direction + w.Acceleration
}

// ScoringConfig holds every normalisation constant of the risk model.
type ScoringConfig struct {
	Weights Weights `yaml:"weights"`

	// DensityAreaUnit expresses density as people per this many square pixels.
	DensityAreaUnit float64 `yaml:"density_area_unit"`
	// DensityCap is the density (people per DensityAreaUnit) that maps to a factor of 1.
	DensityCap float64 `yaml:"density_cap"`
	// VelocityBaseline is the mean speed, in pixels per frame, that maps to a factor of 1.
	// Three pixels per frame is roughly normal walking pace.
	VelocityBaseline float64 `yaml:"velocity_baseline"`
	// DirectionVarianceCap is the heading variance that maps to a factor of 1.
	// 2.47 is about pi^2/4, the variance of uniformly random headings.
	DirectionVarianceCap float64 `yaml:"direction_variance_cap"`
	// AccelerationBaseline is the mean absolute speed change, in pixels per frame squared,
	// that maps to a factor of 1.
	AccelerationBaseline float64 `yaml:"acceleration_baseline"`
	// MinSamples is the smallest window length that contributes a motion factor.
	MinSamples int `yaml:"min_samples"`

	// LowMax is the highest score still classified LOW.
	LowMax float64 `yaml:"low_max"`
	// MediumMax is the highest score still classified MEDIUM.
	MediumMax float64 `yaml:"medium_max"`
	// IncidentScore is the score a HIGH assessment must exceed to be recorded.
	IncidentScore float64 `yaml:"incident_score"`
}

// DefaultScoringConfig returns the calibrated defaults.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		Weights: Weights{
			Density:      0.30,
			Velocity:     0.25,
			Direction:    0.25,
			Acceleration: 0.20,
		},
		DensityAreaUnit:      1000,
		DensityCap:           2.0,
		VelocityBaseline:     3.0,
		DirectionVarianceCap: 2.47,
		AccelerationBaseline: 1.0,
		MinSamples:           2,
		LowMax:               0.3,
		MediumMax:            0.6,
		IncidentScore:        0.8,
	}
}

// Validate reports configuration that would make scores meaningless.
func (c ScoringConfig) Validate() error {
	if math.Abs(c.Weights.Sum()-1) > 1e-9 {
		return errors.Errorf("risk weights must sum to 1, got %g", c.Weights.Sum())
	}
	if c.Weights.Density < 0 || c.Weights.Velocity < 0 || c.Weights.Direction < 0 || c.Weights.Acceleration < 0 {
		return errors.New("risk weights must not be negative")
	}
	if c.DensityAreaUnit <= 0 || c.DensityCap <= 0 || c.VelocityBaseline <= 0 ||
		c.DirectionVarianceCap <= 0 || c.AccelerationBaseline <= 0 {
		return errors.New("risk normalisation constants must be positive")
	}
	if c.MinSamples < 1 {
		return errors.Errorf("min_samples must be at least 1, got %d", c.MinSamples)
	}
	if !(0 <= c.LowMax && c.LowMax < c.MediumMax && c.MediumMax < 1) {
		return errors.Errorf("level thresholds must satisfy 0 <= low_max < medium_max < 1, got %g and %g",
			c.LowMax, c.MediumMax)
	}
	return nil
}

// Scorer computes Assessments. It holds no per-frame state, so the same
// inputs always produce the same Assessment.
type Scorer struct {
	config ScoringConfig
}

// NewScorer creates a Scorer.
func NewScorer(config ScoringConfig) *Scorer {
	return &Scorer{config: config}
}

// Config returns the scorer's configuration.
func (s *Scorer) Config() ScoringConfig {
	return s.config
}

// DensityFactor is min(count*unit/area/cap, 1), or 0 when area is not positive.
func (s *Scorer) DensityFactor(count int, area float64) float64 {
	if area <= 0 || count <= 0 {
		return 0
	}
	density := float64(count) * s.config.DensityAreaUnit / area
	return math.Min(density/s.config.DensityCap, 1)
}

// VelocityFactor is min(mean(history)/baseline, 1), or 0 when history is too short.
func (s *Scorer) VelocityFactor(history []float64) float64 {
	if len(history) < s.config.MinSamples {
		return 0
	}
	return clamp(stat.Mean(history, nil) / s.config.VelocityBaseline)
}

// DirectionFactor is min(variance(history)/cap, 1), or 0 when history is too short.
// The variance is the population variance of the heading samples.
func (s *Scorer) DirectionFactor(history []float64) float64 {
	if len(history) < s.config.MinSamples {
		return 0
	}
	return clamp(stat.PopVariance(history, nil) / s.config.DirectionVarianceCap)
}

// AccelerationFactor is min(mean(|history|)/baseline, 1), or 0 when history is too short.
func (s *Scorer) AccelerationFactor(history []float64) float64 {
	if len(history) < s.config.MinSamples {
		return 0
	}
	abs := make([]float64, len(history))
	for i, v := range history {
		abs[i] = math.Abs(v)
	}
	return clamp(stat.Mean(abs, nil) / s.config.AccelerationBaseline)
}

// Assess scores one frame.
//
// Arguments:
//   - count: People in the frame.
//   - area: Frame area in square pixels.
//   - velocity: Velocity window, oldest first.
//   - direction: Direction window, oldest first.
//   - acceleration: Acceleration window, oldest first.
//
// Returns:
//   - Assessment: The weighted score, its level and the factor breakdown.
//
// @example
// s := NewScorer(DefaultScoringConfig())
// a := s.Assess(1, 10000, []float64{0.1, 0.2}, []float64{0.1, 0.2}, []float64{0.05, 0.1})
// fmt.Println(a.Level) // LOW
func (s *Scorer) Assess(count int, area float64, velocity, direction, acceleration []float64) Assessment {
	f := Factors{
		Density:      s.DensityFactor(count, area),
		Velocity:     s.VelocityFactor(velocity),
		Direction:    s.DirectionFactor(direction),
		Acceleration: s.AccelerationFactor(acceleration),
	}
	return s.Combine(f)
}

// Combine weights the factors into a score and classifies it.
func (s *Scorer) Combine(f Factors) Assessment {
	w := s.config.Weights
	score := clamp(w.Density*f.Density + w.Velocity*f.Velocity +
		w.Direction*f.Direction + w.Acceleration*f.Acceleration)
	return Assessment{
		Score:   score,
		Level:   s.Classify(score),
		Factors: f,
	}
}

// Classify maps a score to a level. Boundary scores belong to the lower band.
func (s *Scorer) Classify(score float64) Level {
	switch {
	case score <= s.config.LowMax:
		return LevelLow
	case score <= s.config.MediumMax:
		return LevelMedium
	default:
		return LevelHigh
	}
}

// ShouldRecord reports whether an Assessment qualifies as an incident.
func (s *Scorer) ShouldRecord(a Assessment) bool {
	return a.Level == LevelHigh && a.Score > s.config.IncidentScore
}

func clamp(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return math.Min(v, 1)
}
