package onnx

import (
	"github.com/nvr-ai/go-crowdrisk/controller"
	"github.com/pkg/errors"
)

// Detector is a controller.Detector that holds native resources.
type Detector interface {
	controller.Detector
	Close() error
}

// NewDetector builds the detector selected by config.Backend.
func NewDetector(config Config) (Detector, error) {
	switch config.Backend {
	case BackendDNN:
		return NewNetDetector(config)
	case BackendRuntime:
		return NewRuntimeDetector(config)
	default:
		return nil, errors.Errorf("unknown detector backend %q", config.Backend)
	}
}
