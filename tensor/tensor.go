package tensor

import (
	"fmt"
)

// DType identifies the element type of a Tensor.
type DType int

const (
	Float32 DType = iota
	Int32
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "Float32"
	case Int32:
		return "Int32"
	default:
		return "Unknown"
	}
}

// Tensor is a CPU-resident n-dimensional array. It carries an optional
// gradient of the same shape, filled in by whatever backend computed the
// backward pass. There is no autograd graph here: the orchestrator treats
// forward/backward as opaque capabilities of the model collaborator.
type Tensor struct {
	Shape        []int
	DType        DType
	Data         interface{} // []float32 or []int32
	NumElems     int
	requiresGrad bool
	grad         *Tensor
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, dtype=%s, elements=%d)", t.Shape, t.DType, t.NumElems)
}

// RequiresGrad reports whether this tensor participates in training.
func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

// SetRequiresGrad marks the tensor as trainable (or frozen).
func (t *Tensor) SetRequiresGrad(requires bool) {
	t.requiresGrad = requires
}

// Grad returns the accumulated gradient, or nil if none has been set.
func (t *Tensor) Grad() *Tensor {
	return t.grad
}

// Float32s returns the underlying data as a float32 slice.
func (t *Tensor) Float32s() ([]float32, error) {
	data, ok := t.Data.([]float32)
	if !ok {
		return nil, fmt.Errorf("tensor dtype is %s, not Float32", t.DType)
	}
	return data, nil
}

// Int32s returns the underlying data as an int32 slice.
func (t *Tensor) Int32s() ([]int32, error) {
	data, ok := t.Data.([]int32)
	if !ok {
		return nil, fmt.Errorf("tensor dtype is %s, not Int32", t.DType)
	}
	return data, nil
}

// SetData replaces the tensor's backing data in place. The replacement must
// match the existing dtype and element count.
func (t *Tensor) SetData(data interface{}) error {
	switch d := data.(type) {
	case []float32:
		if t.DType != Float32 {
			return fmt.Errorf("cannot set []float32 data on %s tensor", t.DType)
		}
		if len(d) != t.NumElems {
			return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
		}
		copy(t.Data.([]float32), d)
	case []int32:
		if t.DType != Int32 {
			return fmt.Errorf("cannot set []int32 data on %s tensor", t.DType)
		}
		if len(d) != t.NumElems {
			return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
		}
		copy(t.Data.([]int32), d)
	default:
		return fmt.Errorf("unsupported data type %T", data)
	}
	return nil
}

// AccumulateGrad adds g into the tensor's gradient, allocating it on first use.
func (t *Tensor) AccumulateGrad(g *Tensor) error {
	if g.DType != Float32 || t.DType != Float32 {
		return fmt.Errorf("gradients are only supported for Float32 tensors")
	}
	if g.NumElems != t.NumElems {
		return fmt.Errorf("gradient size %d does not match tensor size %d", g.NumElems, t.NumElems)
	}
	if t.grad == nil {
		zero, err := Zeros(t.Shape, Float32)
		if err != nil {
			return err
		}
		t.grad = zero
	}
	dst := t.grad.Data.([]float32)
	src := g.Data.([]float32)
	for i := range dst {
		dst[i] += src[i]
	}
	return nil
}

// ZeroGrad clears the gradients of every tensor in the slice.
func ZeroGrad(tensors []*Tensor) {
	for _, t := range tensors {
		if t.grad == nil {
			continue
		}
		data := t.grad.Data.([]float32)
		for i := range data {
			data[i] = 0
		}
	}
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("shape cannot be empty")
	}
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}
