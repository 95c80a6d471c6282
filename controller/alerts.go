package controller

import "github.com/pkg/errors"

// AlertLevel is a coarse people-count classification reported next to the risk level.
type AlertLevel string

// AlertLevel constants.
const (
	AlertNormal   AlertLevel = "NORMAL"
	AlertCaution  AlertLevel = "CAUTION"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// AlertThresholds are the people counts at which each alert level starts.
type AlertThresholds struct {
	Caution  int `yaml:"caution"`
	Warning  int `yaml:"warning"`
	Critical int `yaml:"critical"`
}

// DefaultAlertThresholds returns the default people-count alert thresholds.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		Caution:  10,
		Warning:  20,
		Critical: 30,
	}
}

// Validate checks the thresholds are positive and strictly increasing.
func (t AlertThresholds) Validate() error {
	if t.Caution <= 0 || t.Warning <= t.Caution || t.Critical <= t.Warning {
		return errors.Errorf("alert thresholds must satisfy 0 < caution < warning < critical, got %d/%d/%d",
			t.Caution, t.Warning, t.Critical)
	}
	return nil
}

// Classify maps a people count to an alert level.
func (t AlertThresholds) Classify(count int) AlertLevel {
	switch {
	case count >= t.Critical:
		return AlertCritical
	case count >= t.Warning:
		return AlertWarning
	case count >= t.Caution:
		return AlertCaution
	default:
		return AlertNormal
	}
}
