package nn

import (
	"fmt"

	"github.com/tsawler/go-finetune/tensor"
)

// Dropout zeroes each activation with probability p during training and
// scales the survivors by 1/(1-p) (inverted dropout), so evaluation mode is
// a plain identity.
type Dropout struct {
	p        float32
	training bool
	lastMask []float32
}

// NewDropout creates a dropout module with drop probability p in [0, 1).
func NewDropout(p float32) (*Dropout, error) {
	if p < 0 || p >= 1 {
		return nil, fmt.Errorf("dropout probability must be in [0, 1), got %v", p)
	}
	return &Dropout{p: p, training: true}, nil
}

// Forward applies the dropout mask in training mode, identity otherwise.
func (d *Dropout) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if !d.training || d.p == 0 {
		d.lastMask = nil
		return input, nil
	}

	data, err := input.Float32s()
	if err != nil {
		return nil, fmt.Errorf("dropout requires Float32 input: %v", err)
	}

	scale := 1 / (1 - d.p)
	mask := make([]float32, len(data))
	out := make([]float32, len(data))
	for i, v := range data {
		if globalRng.Float32() >= d.p {
			mask[i] = scale
			out[i] = v * scale
		}
	}
	d.lastMask = mask

	return tensor.NewTensor(input.Shape, tensor.Float32, out)
}

// Backward applies the same mask used by the last forward pass.
func (d *Dropout) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	if d.lastMask == nil {
		return grad, nil
	}

	data, err := grad.Float32s()
	if err != nil {
		return nil, fmt.Errorf("dropout backward requires Float32 gradient: %v", err)
	}
	if len(data) != len(d.lastMask) {
		return nil, fmt.Errorf("gradient size %d does not match dropout mask size %d", len(data), len(d.lastMask))
	}

	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = v * d.lastMask[i]
	}

	return tensor.NewTensor(grad.Shape, tensor.Float32, out)
}

// Parameters returns nil; dropout has no trainable state.
func (d *Dropout) Parameters() []*tensor.Tensor {
	return nil
}

// Train enables the dropout mask.
func (d *Dropout) Train() {
	d.training = true
}

// Eval disables dropout entirely.
func (d *Dropout) Eval() {
	d.training = false
	d.lastMask = nil
}

// IsTraining returns true if in training mode.
func (d *Dropout) IsTraining() bool {
	return d.training
}
