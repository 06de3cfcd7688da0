package nn

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-finetune/tensor"
)

// Global random source for deterministic initialization
var globalRng *rand.Rand = rand.New(rand.NewSource(1))

// SetRandomSeed sets the global random seed for deterministic weight
// initialization and dropout masks.
func SetRandomSeed(seed int64) {
	globalRng = rand.New(rand.NewSource(seed))
}

// Module is the capability set the training orchestrator needs from a
// differentiable model: a forward pass, a gradient pass that fills the
// parameter gradients, parameter iteration, and a training/evaluation mode
// switch. Implementations own all tensor math; the orchestrator never
// inspects anything beyond output scores.
type Module interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Backward(grad *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor
	Train() // Sets module to training mode
	Eval()  // Sets module to evaluation mode
	IsTraining() bool
}

// Sequential chains modules in order. Forward runs first-to-last, Backward
// last-to-first.
type Sequential struct {
	modules  []Module
	training bool
}

// NewSequential creates a sequential container.
func NewSequential(modules ...Module) *Sequential {
	return &Sequential{
		modules:  modules,
		training: true,
	}
}

// Forward runs the input through every child module in order.
func (s *Sequential) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	out := input
	var err error
	for i, m := range s.modules {
		out, err = m.Forward(out)
		if err != nil {
			return nil, fmt.Errorf("forward failed at module %d: %v", i, err)
		}
	}
	return out, nil
}

// Backward propagates the output gradient through every child module in
// reverse order.
func (s *Sequential) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	var err error
	for i := len(s.modules) - 1; i >= 0; i-- {
		grad, err = s.modules[i].Backward(grad)
		if err != nil {
			return nil, fmt.Errorf("backward failed at module %d: %v", i, err)
		}
	}
	return grad, nil
}

// Parameters returns the concatenated parameters of all child modules.
func (s *Sequential) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, m := range s.modules {
		params = append(params, m.Parameters()...)
	}
	return params
}

// Train sets all child modules to training mode.
func (s *Sequential) Train() {
	s.training = true
	for _, m := range s.modules {
		m.Train()
	}
}

// Eval sets all child modules to evaluation mode.
func (s *Sequential) Eval() {
	s.training = false
	for _, m := range s.modules {
		m.Eval()
	}
}

// IsTraining returns true if in training mode.
func (s *Sequential) IsTraining() bool {
	return s.training
}

// Frozen wraps a module so that none of its parameters receive gradient
// updates. This is how a pre-trained feature extractor is kept fixed while
// a replacement classification head is fine-tuned. Backward passes through
// without touching the wrapped module, so frozen backbones do not pay for
// gradient computation at all.
type Frozen struct {
	inner Module
}

// NewFrozen freezes every parameter of the wrapped module.
func NewFrozen(inner Module) *Frozen {
	for _, p := range inner.Parameters() {
		p.SetRequiresGrad(false)
	}
	return &Frozen{inner: inner}
}

// Forward delegates to the wrapped module.
func (f *Frozen) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return f.inner.Forward(input)
}

// Backward is a no-op: gradients stop at the frozen boundary.
func (f *Frozen) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	return grad, nil
}

// Parameters returns the wrapped module's (frozen) parameters so they are
// still visible to checkpointing.
func (f *Frozen) Parameters() []*tensor.Tensor {
	return f.inner.Parameters()
}

// Train keeps the wrapped module in evaluation mode. A frozen backbone
// never trains, so batch-dependent layers like dropout stay disabled.
func (f *Frozen) Train() {
	f.inner.Eval()
}

// Eval sets the wrapped module to evaluation mode.
func (f *Frozen) Eval() {
	f.inner.Eval()
}

// IsTraining always reports false for a frozen module.
func (f *Frozen) IsTraining() bool {
	return false
}
