package onnx

import (
	"strconv"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// Provider selects the ONNX Runtime execution provider.
type Provider string

// Provider constants.
const (
	ProviderCPU      Provider = "cpu"
	ProviderCoreML   Provider = "coreml"
	ProviderCUDA     Provider = "cuda"
	ProviderOpenVINO Provider = "openvino"
)

func (p Provider) validate() error {
	switch p {
	case "", ProviderCPU, ProviderCoreML, ProviderCUDA, ProviderOpenVINO:
		return nil
	default:
		return errors.Errorf("unknown execution provider %q", p)
	}
}

// newSessionOptions builds session options with threading, graph
// optimisation and the configured execution provider. The caller destroys them.
func newSessionOptions(config Config) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "error creating ORT session options")
	}
	if err := configureSessionOptions(options, config); err != nil {
		options.Destroy()
		return nil, err
	}
	return options, nil
}

func configureSessionOptions(options *ort.SessionOptions, config Config) error {
	if err := options.SetIntraOpNumThreads(config.Threads); err != nil {
		return errors.Wrap(err, "set intra-op threads")
	}
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		return errors.Wrap(err, "set graph optimization level")
	}

	switch config.Provider {
	case ProviderCoreML:
		return errors.Wrap(options.AppendExecutionProviderCoreML(0), "error enabling CoreML")
	case ProviderOpenVINO:
		return errors.Wrap(options.AppendExecutionProviderOpenVINO(map[string]string{
			"device_type": "CPU",
		}), "error enabling OpenVINO")
	case ProviderCUDA:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return errors.Wrap(err, "error creating CUDA options")
		}
		defer cuda.Destroy()
		if err := cuda.Update(map[string]string{"device_id": strconv.Itoa(config.DeviceID)}); err != nil {
			return errors.Wrap(err, "error updating CUDA options")
		}
		return errors.Wrap(options.AppendExecutionProviderCUDA(cuda), "error enabling CUDA")
	default:
		return nil
	}
}
