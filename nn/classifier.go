package nn

import (
	"fmt"

	"github.com/tsawler/go-finetune/tensor"
)

// Architecture is the closed set of supported pre-trained backbones. The
// tag decides only the expected feature dimension feeding the replacement
// head; the backbone weights themselves come from a checkpoint or from a
// caller-supplied Module.
type Architecture int

const (
	EfficientNetB0 Architecture = iota
	AlexNet
	VGG11
	VGG11BN
)

func (a Architecture) String() string {
	switch a {
	case EfficientNetB0:
		return "efficientnet_b0"
	case AlexNet:
		return "alexnet"
	case VGG11:
		return "vgg11"
	case VGG11BN:
		return "vgg11_bn"
	default:
		return fmt.Sprintf("unknown(%d)", int(a))
	}
}

// ParseArchitecture maps a tag to an Architecture, rejecting unknown tags.
func ParseArchitecture(tag string) (Architecture, error) {
	switch tag {
	case "efficientnet_b0":
		return EfficientNetB0, nil
	case "alexnet":
		return AlexNet, nil
	case "vgg11":
		return VGG11, nil
	case "vgg11_bn":
		return VGG11BN, nil
	default:
		return 0, fmt.Errorf("unsupported architecture %q (supported: efficientnet_b0, alexnet, vgg11, vgg11_bn)", tag)
	}
}

// FeatureDim returns the width of the feature vector the architecture's
// extractor produces, i.e. the input size of the replacement head.
func (a Architecture) FeatureDim() int {
	switch a {
	case EfficientNetB0:
		return 1280
	case AlexNet:
		return 9216
	case VGG11, VGG11BN:
		return 25088
	default:
		return 0
	}
}

// HeadUnits returns the number of output units for the classification head:
// one logit per class, except a single logit for the binary case (paired
// with BCEWithLogitsLoss by NewCriterionFor).
func HeadUnits(numClasses int) (int, error) {
	switch {
	case numClasses > 2:
		return numClasses, nil
	case numClasses == 2:
		return 1, nil
	default:
		return 0, fmt.Errorf("numClasses must be at least 2, got %d", numClasses)
	}
}

// NewFineTuneClassifier composes a frozen feature extractor with a fresh
// Dropout(0.2) + Linear head, mirroring the usual torch fine-tuning recipe
// of replacing the classifier on a pre-trained backbone.
func NewFineTuneClassifier(backbone Module, featureDim, numClasses int) (*Sequential, error) {
	if featureDim <= 0 {
		return nil, fmt.Errorf("featureDim must be positive, got %d", featureDim)
	}

	units, err := HeadUnits(numClasses)
	if err != nil {
		return nil, err
	}

	dropout, err := NewDropout(0.2)
	if err != nil {
		return nil, err
	}

	head, err := NewLinear(featureDim, units, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create classification head: %v", err)
	}

	return NewSequential(NewFrozen(backbone), dropout, head), nil
}

// ReLU implements the rectified linear activation as a module, so small
// fully connected backbones can be assembled from Sequential.
type ReLU struct {
	training  bool
	lastInput *tensor.Tensor
}

// NewReLU creates a new ReLU activation module.
func NewReLU() *ReLU {
	return &ReLU{training: true}
}

// Forward computes max(0, x) elementwise.
func (r *ReLU) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	data, err := input.Float32s()
	if err != nil {
		return nil, fmt.Errorf("ReLU requires Float32 input: %v", err)
	}

	out := make([]float32, len(data))
	for i, v := range data {
		if v > 0 {
			out[i] = v
		}
	}

	if r.training {
		r.lastInput = input
	}

	return tensor.NewTensor(input.Shape, tensor.Float32, out)
}

// Backward zeroes the gradient wherever the forward input was non-positive.
func (r *ReLU) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	if r.lastInput == nil {
		return nil, fmt.Errorf("backward called before forward in training mode")
	}

	gradData, err := grad.Float32s()
	if err != nil {
		return nil, fmt.Errorf("ReLU backward requires Float32 gradient: %v", err)
	}
	inputData, err := r.lastInput.Float32s()
	if err != nil {
		return nil, err
	}
	if len(gradData) != len(inputData) {
		return nil, fmt.Errorf("gradient size %d does not match input size %d", len(gradData), len(inputData))
	}

	out := make([]float32, len(gradData))
	for i, v := range inputData {
		if v > 0 {
			out[i] = gradData[i]
		}
	}

	return tensor.NewTensor(grad.Shape, tensor.Float32, out)
}

// Parameters returns nil; ReLU has no trainable state.
func (r *ReLU) Parameters() []*tensor.Tensor {
	return nil
}

// Train sets the module to training mode.
func (r *ReLU) Train() {
	r.training = true
}

// Eval sets the module to evaluation mode.
func (r *ReLU) Eval() {
	r.training = false
	r.lastInput = nil
}

// IsTraining returns true if in training mode.
func (r *ReLU) IsTraining() bool {
	return r.training
}
