// Package onnx - Person detection adapters backed by the OpenCV DNN module and ONNX Runtime.
package onnx

import (
	"image"
	"os"
	"runtime"

	"github.com/pkg/errors"
)

// ErrNotInitialized is returned by Detect on a detector that was closed or never loaded.
var ErrNotInitialized = errors.New("detector not initialized")

// Backend selects the inference engine.
type Backend string

// Backend constants.
const (
	// BackendDNN runs the model through gocv's DNN module.
	BackendDNN Backend = "dnn"
	// BackendRuntime runs a YOLOv8 style ONNX model through ONNX Runtime.
	BackendRuntime Backend = "ort"
)

// Layout describes how a model lays out its detection output.
type Layout string

// Layout constants.
const (
	// LayoutDarknet is one row per candidate: cx, cy, w, h, objectness, class scores...,
	// with coordinates normalised to [0, 1]. YOLOv3/v4 models use it.
	LayoutDarknet Layout = "darknet"
	// LayoutYOLOv8 is channel-major [4+classes][anchors] with coordinates in input pixels.
	LayoutYOLOv8 Layout = "yolov8"
)

// Config for ONNX detector
type Config struct {
	Backend Backend `yaml:"backend"`
	Layout  Layout  `yaml:"layout"`
	// ModelPath is the model file (.onnx, or darknet .weights with ConfigPath).
	ModelPath string `yaml:"model_path"`
	// ConfigPath is the darknet .cfg file. Empty for ONNX models.
	ConfigPath string `yaml:"config_path"`
	// InputSize is the network input resolution.
	InputSize           image.Point `yaml:"input_size"`
	ConfidenceThreshold float32     `yaml:"confidence_threshold"`
	NMSThreshold        float32     `yaml:"nms_threshold"`
	// RelevantClasses are the labels kept after suppression.
	RelevantClasses []string `yaml:"relevant_classes"`
	// SharedLibraryPath points ONNX Runtime at its native library. Empty uses a per-platform default.
	SharedLibraryPath string `yaml:"shared_library_path"`
	// Provider is the ONNX Runtime execution provider. Empty means cpu.
	Provider Provider `yaml:"provider"`
	// DeviceID selects the GPU for the cuda provider.
	DeviceID int `yaml:"device_id"`
	// Threads caps ONNX Runtime intra-op threads. Zero lets the runtime decide.
	Threads int `yaml:"threads"`
}

// DefaultConfig returns the detector configuration for a YOLOv3 darknet model
// run through the DNN backend.
func DefaultConfig() Config {
	return Config{
		Backend:             BackendDNN,
		Layout:              LayoutDarknet,
		ModelPath:           "yolov3.weights",
		ConfigPath:          "yolov3.cfg",
		InputSize:           image.Pt(416, 416),
		ConfidenceThreshold: 0.5,
		NMSThreshold:        0.4,
		RelevantClasses:     []string{"person"},
		Provider:            ProviderCPU,
	}
}

// Validate checks thresholds, the input size and that the model file exists.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendDNN, BackendRuntime:
	default:
		return errors.Errorf("unknown detector backend %q", c.Backend)
	}
	switch c.Layout {
	case LayoutDarknet, LayoutYOLOv8:
	default:
		return errors.Errorf("unknown output layout %q", c.Layout)
	}
	if c.Backend == BackendRuntime && c.Layout != LayoutYOLOv8 {
		return errors.New("the ort backend only supports the yolov8 layout")
	}
	if err := c.Provider.validate(); err != nil {
		return err
	}
	if c.Backend == BackendRuntime && (c.InputSize.X%32 != 0 || c.InputSize.Y%32 != 0) {
		return errors.Errorf("ort input size %v must be a multiple of 32", c.InputSize)
	}
	if c.InputSize.X <= 0 || c.InputSize.Y <= 0 {
		return errors.Errorf("invalid input size %v", c.InputSize)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return errors.Errorf("confidence threshold %.2f outside [0, 1]", c.ConfidenceThreshold)
	}
	if c.NMSThreshold < 0 || c.NMSThreshold > 1 {
		return errors.Errorf("nms threshold %.2f outside [0, 1]", c.NMSThreshold)
	}
	if _, err := os.Stat(c.ModelPath); os.IsNotExist(err) {
		return errors.Errorf("model file not found: %s", c.ModelPath)
	}
	return nil
}

func (c Config) relevant() map[string]bool {
	classes := make(map[string]bool, len(c.RelevantClasses))
	for _, name := range c.RelevantClasses {
		classes[name] = true
	}
	return classes
}

// DefaultSharedLibraryPath returns where the ONNX Runtime library is expected for this platform.
func DefaultSharedLibraryPath() string {
	switch runtime.GOOS {
	case "windows":
		return "third_party/onnxruntime.dll"
	case "darwin":
		if runtime.GOARCH == "arm64" {
			return "third_party/onnxruntime_arm64.dylib"
		}
		return "third_party/onnxruntime_amd64.dylib"
	default:
		if runtime.GOARCH == "arm64" {
			return "third_party/onnxruntime_arm64.so"
		}
		return "third_party/onnxruntime.so"
	}
}
