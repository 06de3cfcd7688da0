package nn

import (
	"fmt"
	"math"

	"github.com/tsawler/go-finetune/tensor"
)

// Linear implements a fully connected layer: y = xW + b.
// The weight has shape [inputSize, outputSize].
type Linear struct {
	weight   *tensor.Tensor
	bias     *tensor.Tensor
	training bool

	// Cached input from the last forward pass, needed by Backward.
	lastInput *tensor.Tensor
}

// NewLinear creates a new Linear layer with Xavier/Glorot uniform
// initialization: W ~ U(-sqrt(6/(fan_in+fan_out)), sqrt(6/(fan_in+fan_out))).
func NewLinear(inputSize, outputSize int, bias bool) (*Linear, error) {
	if inputSize <= 0 || outputSize <= 0 {
		return nil, fmt.Errorf("invalid linear dimensions: %d x %d", inputSize, outputSize)
	}

	bound := float32(math.Sqrt(6.0 / float64(inputSize+outputSize)))
	weight, err := tensor.RandomUniform([]int{inputSize, outputSize}, -bound, bound, globalRng)
	if err != nil {
		return nil, fmt.Errorf("failed to create weight tensor: %v", err)
	}
	weight.SetRequiresGrad(true)

	linear := &Linear{
		weight:   weight,
		training: true,
	}

	if bias {
		biasT, err := tensor.Zeros([]int{outputSize}, tensor.Float32)
		if err != nil {
			return nil, fmt.Errorf("failed to create bias tensor: %v", err)
		}
		biasT.SetRequiresGrad(true)
		linear.bias = biasT
	}

	return linear, nil
}

// Forward performs the forward pass: y = xW + b.
func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 2 {
		return nil, fmt.Errorf("Linear layer expects 2D input [batch_size, input_size], got shape %v", input.Shape)
	}
	if input.Shape[1] != l.weight.Shape[0] {
		return nil, fmt.Errorf("input size mismatch: expected %d, got %d", l.weight.Shape[0], input.Shape[1])
	}

	output, err := tensor.MatMul(input, l.weight)
	if err != nil {
		return nil, fmt.Errorf("matmul failed: %v", err)
	}

	if l.bias != nil {
		output, err = tensor.AddRowVector(output, l.bias)
		if err != nil {
			return nil, fmt.Errorf("bias addition failed: %v", err)
		}
	}

	if l.training {
		l.lastInput = input
	}

	return output, nil
}

// Backward accumulates dW = x^T @ grad and db = column sums of grad, and
// returns dX = grad @ W^T for the preceding module.
func (l *Linear) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	if l.lastInput == nil {
		return nil, fmt.Errorf("backward called before forward in training mode")
	}

	if l.weight.RequiresGrad() {
		weightGrad, err := tensor.MatMulTransposeA(l.lastInput, grad)
		if err != nil {
			return nil, fmt.Errorf("weight gradient failed: %v", err)
		}
		if err := l.weight.AccumulateGrad(weightGrad); err != nil {
			return nil, fmt.Errorf("weight gradient accumulation failed: %v", err)
		}
	}

	if l.bias != nil && l.bias.RequiresGrad() {
		biasGrad, err := tensor.SumRows(grad)
		if err != nil {
			return nil, fmt.Errorf("bias gradient failed: %v", err)
		}
		if err := l.bias.AccumulateGrad(biasGrad); err != nil {
			return nil, fmt.Errorf("bias gradient accumulation failed: %v", err)
		}
	}

	inputGrad, err := tensor.MatMulTransposeB(grad, l.weight)
	if err != nil {
		return nil, fmt.Errorf("input gradient failed: %v", err)
	}

	return inputGrad, nil
}

// Parameters returns the trainable parameters.
func (l *Linear) Parameters() []*tensor.Tensor {
	params := []*tensor.Tensor{l.weight}
	if l.bias != nil {
		params = append(params, l.bias)
	}
	return params
}

// Train sets the module to training mode.
func (l *Linear) Train() {
	l.training = true
}

// Eval sets the module to evaluation mode and drops the cached input.
func (l *Linear) Eval() {
	l.training = false
	l.lastInput = nil
}

// IsTraining returns true if in training mode.
func (l *Linear) IsTraining() bool {
	return l.training
}
