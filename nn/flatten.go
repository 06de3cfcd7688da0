package nn

import (
	"fmt"

	"github.com/tsawler/go-finetune/tensor"
)

// Flatten reshapes [batch, d1, d2, ...] input to [batch, d1*d2*...], the
// usual bridge between a convolutional feature map and a dense head. The
// data is shared, only the shape changes.
type Flatten struct {
	lastShape []int
}

// NewFlatten creates a flatten module.
func NewFlatten() *Flatten {
	return &Flatten{}
}

// Forward collapses all dimensions after the first.
func (f *Flatten) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) < 2 {
		return nil, fmt.Errorf("flatten expects at least 2D input, got shape %v", input.Shape)
	}

	f.lastShape = input.Shape
	features := 1
	for _, d := range input.Shape[1:] {
		features *= d
	}

	return tensor.NewTensor([]int{input.Shape[0], features}, input.DType, input.Data)
}

// Backward restores the gradient to the forward input's shape.
func (f *Flatten) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	if f.lastShape == nil {
		return nil, fmt.Errorf("backward called before forward")
	}
	return tensor.NewTensor(f.lastShape, grad.DType, grad.Data)
}

// Parameters returns nil; flatten has no trainable state.
func (f *Flatten) Parameters() []*tensor.Tensor {
	return nil
}

// Train is a no-op.
func (f *Flatten) Train() {}

// Eval is a no-op.
func (f *Flatten) Eval() {}

// IsTraining always reports false; flatten has no mode-dependent behavior.
func (f *Flatten) IsTraining() bool {
	return false
}
