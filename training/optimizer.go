package training

import (
	"fmt"
	"math"
	"sync"

	"github.com/tsawler/go-finetune/tensor"
)

// Optimizer is the gradient-application capability the orchestrator drives:
// apply one step from the accumulated gradients, and clear them.
type Optimizer interface {
	Step() error      // Updates model parameters based on gradients
	ZeroGrad()        // Resets gradients to zero for all parameters
	GetLR() float64   // Gets current learning rate
	SetLR(lr float64) // Sets learning rate
}

// OptimizerKind is the closed set of supported optimizer selectors.
type OptimizerKind int

const (
	SGD OptimizerKind = iota
	Adam
)

func (k OptimizerKind) String() string {
	switch k {
	case SGD:
		return "SGD"
	case Adam:
		return "Adam"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ParseOptimizerKind maps a tag to an OptimizerKind, rejecting unknown tags.
func ParseOptimizerKind(tag string) (OptimizerKind, error) {
	switch tag {
	case "SGD":
		return SGD, nil
	case "Adam":
		return Adam, nil
	default:
		return 0, fmt.Errorf("unsupported optimizer %q (supported: SGD, Adam)", tag)
	}
}

// NewOptimizer constructs the optimizer selected by kind over the given
// parameters. Unknown kinds are a configuration error.
func NewOptimizer(kind OptimizerKind, parameters []*tensor.Tensor, lr, weightDecay float64) (Optimizer, error) {
	switch kind {
	case SGD:
		return NewSGD(parameters, lr, weightDecay), nil
	case Adam:
		return NewAdam(parameters, lr, 0.9, 0.999, 1e-8, weightDecay), nil
	default:
		return nil, fmt.Errorf("unsupported optimizer %s", kind)
	}
}

// SGDOptimizer implements plain stochastic gradient descent with L2 weight
// decay: p -= lr * (grad + weightDecay * p).
type SGDOptimizer struct {
	parameters   []*tensor.Tensor
	learningRate float64
	weightDecay  float64
	mutex        sync.RWMutex
}

// NewSGD creates a new SGD optimizer.
func NewSGD(parameters []*tensor.Tensor, lr, weightDecay float64) *SGDOptimizer {
	return &SGDOptimizer{
		parameters:   parameters,
		learningRate: lr,
		weightDecay:  weightDecay,
	}
}

// Step performs a single optimization step.
func (sgd *SGDOptimizer) Step() error {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()

	for i, param := range sgd.parameters {
		if !param.RequiresGrad() || param.Grad() == nil {
			continue
		}

		data, err := param.Float32s()
		if err != nil {
			return fmt.Errorf("parameter %d: %v", i, err)
		}
		grad, err := param.Grad().Float32s()
		if err != nil {
			return fmt.Errorf("parameter %d gradient: %v", i, err)
		}

		lr := float32(sgd.learningRate)
		wd := float32(sgd.weightDecay)
		for j := range data {
			g := grad[j]
			if wd > 0 {
				g += wd * data[j]
			}
			data[j] -= lr * g
		}
	}

	return nil
}

// ZeroGrad resets gradients to zero for all parameters.
func (sgd *SGDOptimizer) ZeroGrad() {
	tensor.ZeroGrad(sgd.parameters)
}

// GetLR returns the current learning rate.
func (sgd *SGDOptimizer) GetLR() float64 {
	sgd.mutex.RLock()
	defer sgd.mutex.RUnlock()
	return sgd.learningRate
}

// SetLR sets the learning rate.
func (sgd *SGDOptimizer) SetLR(lr float64) {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()
	sgd.learningRate = lr
}

// AdamOptimizer implements the Adam optimizer with bias correction and L2
// weight decay applied to the gradient before the moment updates.
type AdamOptimizer struct {
	parameters  []*tensor.Tensor
	lr          float64
	beta1       float64
	beta2       float64
	eps         float64
	weightDecay float64
	step        int64
	m           map[*tensor.Tensor][]float32 // First moment estimates
	v           map[*tensor.Tensor][]float32 // Second moment estimates
	mutex       sync.RWMutex
}

// NewAdam creates a new Adam optimizer.
func NewAdam(parameters []*tensor.Tensor, lr, beta1, beta2, eps, weightDecay float64) *AdamOptimizer {
	adam := &AdamOptimizer{
		parameters:  parameters,
		lr:          lr,
		beta1:       beta1,
		beta2:       beta2,
		eps:         eps,
		weightDecay: weightDecay,
		m:           make(map[*tensor.Tensor][]float32),
		v:           make(map[*tensor.Tensor][]float32),
	}

	for _, param := range parameters {
		if param.RequiresGrad() {
			adam.m[param] = make([]float32, param.NumElems)
			adam.v[param] = make([]float32, param.NumElems)
		}
	}

	return adam
}

// Step performs a single optimization step.
func (adam *AdamOptimizer) Step() error {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()

	adam.step++

	// Bias correction factors
	bias1 := 1.0 - math.Pow(adam.beta1, float64(adam.step))
	bias2 := 1.0 - math.Pow(adam.beta2, float64(adam.step))

	for i, param := range adam.parameters {
		if !param.RequiresGrad() || param.Grad() == nil {
			continue
		}

		data, err := param.Float32s()
		if err != nil {
			return fmt.Errorf("parameter %d: %v", i, err)
		}
		grad, err := param.Grad().Float32s()
		if err != nil {
			return fmt.Errorf("parameter %d gradient: %v", i, err)
		}

		m := adam.m[param]
		v := adam.v[param]
		if m == nil || v == nil {
			m = make([]float32, param.NumElems)
			v = make([]float32, param.NumElems)
			adam.m[param] = m
			adam.v[param] = v
		}

		for j := range data {
			g := float64(grad[j])
			if adam.weightDecay > 0 {
				g += adam.weightDecay * float64(data[j])
			}

			mj := adam.beta1*float64(m[j]) + (1.0-adam.beta1)*g
			vj := adam.beta2*float64(v[j]) + (1.0-adam.beta2)*g*g
			m[j] = float32(mj)
			v[j] = float32(vj)

			mHat := mj / bias1
			vHat := vj / bias2
			data[j] -= float32(adam.lr * mHat / (math.Sqrt(vHat) + adam.eps))
		}
	}

	return nil
}

// ZeroGrad resets gradients to zero for all parameters.
func (adam *AdamOptimizer) ZeroGrad() {
	tensor.ZeroGrad(adam.parameters)
}

// GetLR returns the current learning rate.
func (adam *AdamOptimizer) GetLR() float64 {
	adam.mutex.RLock()
	defer adam.mutex.RUnlock()
	return adam.lr
}

// SetLR sets the learning rate.
func (adam *AdamOptimizer) SetLR(lr float64) {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()
	adam.lr = lr
}
