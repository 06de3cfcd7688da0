package tensor

import (
	"fmt"
	"math/rand"
)

// NewTensor creates a tensor from existing data. The data slice is used
// directly, not copied.
func NewTensor(shape []int, dtype DType, data interface{}) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)

	switch d := data.(type) {
	case []float32:
		if dtype != Float32 {
			return nil, fmt.Errorf("dtype %s does not match []float32 data", dtype)
		}
		if len(d) != numElems {
			return nil, fmt.Errorf("data length %d does not match shape %v (expected %d)", len(d), shape, numElems)
		}
	case []int32:
		if dtype != Int32 {
			return nil, fmt.Errorf("dtype %s does not match []int32 data", dtype)
		}
		if len(d) != numElems {
			return nil, fmt.Errorf("data length %d does not match shape %v (expected %d)", len(d), shape, numElems)
		}
	default:
		return nil, fmt.Errorf("unsupported data type %T", data)
	}

	shapeCopy := make([]int, len(shape))
	copy(shapeCopy, shape)

	return &Tensor{
		Shape:    shapeCopy,
		DType:    dtype,
		Data:     data,
		NumElems: numElems,
	}, nil
}

// Zeros creates a zero-filled tensor.
func Zeros(shape []int, dtype DType) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)

	var data interface{}
	switch dtype {
	case Float32:
		data = make([]float32, numElems)
	case Int32:
		data = make([]int32, numElems)
	default:
		return nil, fmt.Errorf("unsupported dtype: %s", dtype)
	}

	return NewTensor(shape, dtype, data)
}

// RandomUniform creates a Float32 tensor with elements drawn uniformly from
// [low, high) using the supplied source. Used for Xavier-style weight
// initialization in classification heads.
func RandomUniform(shape []int, low, high float32, rng *rand.Rand) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)
	data := make([]float32, numElems)
	for i := range data {
		data[i] = low + rng.Float32()*(high-low)
	}

	return NewTensor(shape, Float32, data)
}

// Clone returns a deep copy of the tensor. Gradient state is not copied.
func (t *Tensor) Clone() (*Tensor, error) {
	switch d := t.Data.(type) {
	case []float32:
		data := make([]float32, len(d))
		copy(data, d)
		return NewTensor(t.Shape, t.DType, data)
	case []int32:
		data := make([]int32, len(d))
		copy(data, d)
		return NewTensor(t.Shape, t.DType, data)
	default:
		return nil, fmt.Errorf("unsupported data type %T", t.Data)
	}
}
