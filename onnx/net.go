package onnx

import (
	"image"
	"sync"

	"github.com/nvr-ai/go-crowdrisk/controller"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

// NetDetector handles model inference using gocv.ReadNet()
type NetDetector struct {
	config      Config
	relevant    map[string]bool
	initialized bool
	mu          sync.Mutex
	net         gocv.Net
	outputNames []string
}

// NewNetDetector loads the model described by config into the OpenCV DNN module.
//
// Arguments:
//   - config: Detector configuration. ConfigPath is required for darknet weights.
//
// Returns:
//   - *NetDetector: The loaded detector.
//   - error: An error if the model cannot be found or loaded.
//
// @example
// detector, err := onnx.NewNetDetector(onnx.DefaultConfig())
// defer detector.Close()
func NewNetDetector(config Config) (*NetDetector, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize DNN detector")
	}

	net := gocv.ReadNet(config.ModelPath, config.ConfigPath)
	if net.Empty() {
		return nil, errors.Errorf("failed to load model: %s", config.ModelPath)
	}
	if err := net.SetPreferableBackend(gocv.NetBackendOpenCV); err != nil {
		net.Close()
		return nil, errors.Wrap(err, "set DNN backend")
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, errors.Wrap(err, "set DNN target")
	}

	var outputNames []string
	for _, id := range net.GetUnconnectedOutLayers() {
		layer := net.GetLayer(id)
		outputNames = append(outputNames, layer.GetName())
		layer.Close()
	}
	if len(outputNames) == 0 {
		net.Close()
		return nil, errors.New("failed to get output layer names from model")
	}

	log.Info().
		Str("model", config.ModelPath).
		Str("layout", string(config.Layout)).
		Strs("outputs", outputNames).
		Msg("DNN detector initialized")

	return &NetDetector{
		config:      config,
		relevant:    config.relevant(),
		initialized: true,
		net:         net,
		outputNames: outputNames,
	}, nil
}

// Name identifies the detector in logs.
func (d *NetDetector) Name() string {
	return "dnn"
}

// Detect runs inference on the frame and returns the relevant detections after suppression.
func (d *NetDetector) Detect(frame controller.Frame) ([]controller.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return nil, ErrNotInitialized
	}
	if frame.Image.Empty() {
		return nil, errors.New("empty frame")
	}

	blob := gocv.BlobFromImage(frame.Image, 1.0/255.0, d.config.InputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	if err := d.net.SetInput(blob, ""); err != nil {
		return nil, errors.Wrap(err, "set network input")
	}
	outputs := d.net.ForwardLayers(d.outputNames)
	defer func() {
		for i := range outputs {
			outputs[i].Close()
		}
	}()

	size := frame.Size()
	var candidates []controller.Detection
	for _, out := range outputs {
		parsed, err := d.parse(out, size)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, parsed...)
	}

	return filterClasses(NonMaxSuppression(candidates, d.config.NMSThreshold), d.relevant), nil
}

func (d *NetDetector) parse(out gocv.Mat, frame image.Point) ([]controller.Detection, error) {
	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(err, "read network output")
	}

	switch d.config.Layout {
	case LayoutYOLOv8:
		return ParseYOLOv8(data, len(COCOClasses), d.config.InputSize, frame, d.config.ConfidenceThreshold), nil
	default:
		cols := out.Cols()
		if dims := out.Size(); len(dims) > 0 {
			cols = dims[len(dims)-1]
		}
		return ParseDarknetRows(data, cols, frame, d.config.ConfidenceThreshold), nil
	}
}

// Close releases resources
func (d *NetDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return nil
	}
	d.initialized = false
	return errors.Wrap(d.net.Close(), "close DNN network")
}
