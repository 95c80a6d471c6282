package onnx

import (
	"image"
	"os"
	"sync"

	"github.com/nfnt/resize"
	"github.com/nvr-ai/go-crowdrisk/controller"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"
)

var (
	environmentOnce sync.Once
	environmentErr  error
)

// initEnvironment loads the ONNX Runtime shared library. It runs once per process.
func initEnvironment(libPath string) error {
	environmentOnce.Do(func() {
		if _, err := os.Stat(libPath); os.IsNotExist(err) {
			environmentErr = errors.Errorf("ONNX Runtime library not found at %s", libPath)
			return
		}
		ort.SetSharedLibraryPath(libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			environmentErr = errors.Wrap(err, "error initializing ORT environment")
		}
	})
	return environmentErr
}

// YOLOv8Anchors returns the number of candidate boxes a YOLOv8 head emits for
// an input of the given size: one per cell of the stride 8, 16 and 32 grids.
func YOLOv8Anchors(input image.Point) int {
	anchors := 0
	for _, stride := range []int{8, 16, 32} {
		anchors += (input.X / stride) * (input.Y / stride)
	}
	return anchors
}

// RuntimeDetector runs a YOLOv8 style ONNX model through ONNX Runtime.
type RuntimeDetector struct {
	config   Config
	relevant map[string]bool
	mu       sync.Mutex
	session  *ort.AdvancedSession
	input    *ort.Tensor[float32]
	output   *ort.Tensor[float32]
}

// NewRuntimeDetector creates the session and its preallocated tensors.
//
// The input tensor is [1, 3, H, W] and the output tensor [1, 84, anchors],
// matching an exported COCO YOLOv8 model with "images" and "output0" nodes.
//
// Arguments:
//   - config: Detector configuration with Backend ort and Layout yolov8.
//
// Returns:
//   - *RuntimeDetector: The ready detector.
//   - error: An error if the runtime, model or tensors cannot be set up.
func NewRuntimeDetector(config Config) (*RuntimeDetector, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize ONNX Runtime detector")
	}
	libPath := config.SharedLibraryPath
	if libPath == "" {
		libPath = DefaultSharedLibraryPath()
	}
	if err := initEnvironment(libPath); err != nil {
		return nil, err
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(config.InputSize.Y), int64(config.InputSize.X)))
	if err != nil {
		return nil, errors.Wrap(err, "error creating input tensor")
	}
	anchors := YOLOv8Anchors(config.InputSize)
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(4+len(COCOClasses)), int64(anchors)))
	if err != nil {
		input.Destroy()
		return nil, errors.Wrap(err, "error creating output tensor")
	}

	options, err := newSessionOptions(config)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewAdvancedSession(config.ModelPath,
		[]string{"images"}, []string{"output0"},
		[]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output}, options)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrap(err, "error creating ORT session")
	}

	log.Info().
		Str("model", config.ModelPath).
		Int("anchors", anchors).
		Str("provider", string(config.Provider)).
		Msg("ONNX Runtime detector initialized")

	return &RuntimeDetector{
		config:   config,
		relevant: config.relevant(),
		session:  session,
		input:    input,
		output:   output,
	}, nil
}

// Name identifies the detector in logs.
func (d *RuntimeDetector) Name() string {
	return "ort"
}

// Detect runs the model on frame.
func (d *RuntimeDetector) Detect(frame controller.Frame) ([]controller.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session == nil {
		return nil, ErrNotInitialized
	}
	img, err := frame.Image.ToImage()
	if err != nil {
		return nil, errors.Wrap(err, "convert frame")
	}
	if err := PrepareInput(img, d.config.InputSize, d.input); err != nil {
		return nil, err
	}
	if err := d.session.Run(); err != nil {
		return nil, errors.Wrap(err, "run ORT session")
	}

	candidates := ParseYOLOv8(d.output.GetData(), len(COCOClasses), d.config.InputSize, frame.Size(), d.config.ConfidenceThreshold)
	return filterClasses(NonMaxSuppression(candidates, d.config.NMSThreshold), d.relevant), nil
}

// Close releases the session and its tensors. Detect afterwards returns ErrNotInitialized.
func (d *RuntimeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session == nil {
		return nil
	}
	d.input.Destroy()
	d.output.Destroy()
	err := d.session.Destroy()
	d.session, d.input, d.output = nil, nil, nil
	return errors.Wrap(err, "error destroying ORT session")
}

// PrepareInput resizes img to size and writes it into dst as planar RGB
// scaled to [0, 1].
//
// Arguments:
//   - img: The image to prepare.
//   - size: The network input size.
//   - dst: The destination tensor, at least 3*size.X*size.Y floats.
//
// Returns:
//   - error: An error if dst is too small.
func PrepareInput(img image.Image, size image.Point, dst *ort.Tensor[float32]) error {
	return fillPlanar(img, size, dst.GetData())
}

func fillPlanar(img image.Image, size image.Point, data []float32) error {
	channelSize := size.X * size.Y
	if len(data) < channelSize*3 {
		return errors.Errorf("destination tensor only holds %d floats, needs %d", len(data), channelSize*3)
	}
	red := data[0:channelSize]
	green := data[channelSize : channelSize*2]
	blue := data[channelSize*2 : channelSize*3]

	img = resize.Resize(uint(size.X), uint(size.Y), img, resize.Lanczos3)
	bounds := img.Bounds()

	i := 0
	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			red[i] = float32(r>>8) / 255.0
			green[i] = float32(g>>8) / 255.0
			blue[i] = float32(b>>8) / 255.0
			i++
		}
	}
	return nil
}
