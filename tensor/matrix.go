package tensor

import (
	"fmt"
)

func check2D(t *Tensor, name string) error {
	if t.DType != Float32 {
		return fmt.Errorf("%s must be Float32, got %s", name, t.DType)
	}
	if len(t.Shape) != 2 {
		return fmt.Errorf("%s must be 2D, got shape %v", name, t.Shape)
	}
	return nil
}

// MatMul computes a @ b for 2D Float32 tensors.
func MatMul(a, b *Tensor) (*Tensor, error) {
	if err := check2D(a, "first operand"); err != nil {
		return nil, err
	}
	if err := check2D(b, "second operand"); err != nil {
		return nil, err
	}
	if a.Shape[1] != b.Shape[0] {
		return nil, fmt.Errorf("incompatible shapes for matmul: %v @ %v", a.Shape, b.Shape)
	}

	m, k, n := a.Shape[0], a.Shape[1], b.Shape[1]
	aData := a.Data.([]float32)
	bData := b.Data.([]float32)
	out := make([]float32, m*n)

	for i := 0; i < m; i++ {
		for p := 0; p < k; p++ {
			av := aData[i*k+p]
			if av == 0 {
				continue
			}
			row := bData[p*n : (p+1)*n]
			dst := out[i*n : (i+1)*n]
			for j := range row {
				dst[j] += av * row[j]
			}
		}
	}

	return NewTensor([]int{m, n}, Float32, out)
}

// MatMulTransposeA computes a^T @ b. Used for weight gradients:
// dW = x^T @ dOut.
func MatMulTransposeA(a, b *Tensor) (*Tensor, error) {
	if err := check2D(a, "first operand"); err != nil {
		return nil, err
	}
	if err := check2D(b, "second operand"); err != nil {
		return nil, err
	}
	if a.Shape[0] != b.Shape[0] {
		return nil, fmt.Errorf("incompatible shapes for matmul: %v^T @ %v", a.Shape, b.Shape)
	}

	m, k, n := a.Shape[1], a.Shape[0], b.Shape[1]
	aData := a.Data.([]float32)
	bData := b.Data.([]float32)
	out := make([]float32, m*n)

	for p := 0; p < k; p++ {
		aRow := aData[p*m : (p+1)*m]
		bRow := bData[p*n : (p+1)*n]
		for i := 0; i < m; i++ {
			av := aRow[i]
			if av == 0 {
				continue
			}
			dst := out[i*n : (i+1)*n]
			for j := range bRow {
				dst[j] += av * bRow[j]
			}
		}
	}

	return NewTensor([]int{m, n}, Float32, out)
}

// MatMulTransposeB computes a @ b^T. Used for input gradients:
// dX = dOut @ W^T.
func MatMulTransposeB(a, b *Tensor) (*Tensor, error) {
	if err := check2D(a, "first operand"); err != nil {
		return nil, err
	}
	if err := check2D(b, "second operand"); err != nil {
		return nil, err
	}
	if a.Shape[1] != b.Shape[1] {
		return nil, fmt.Errorf("incompatible shapes for matmul: %v @ %v^T", a.Shape, b.Shape)
	}

	m, k, n := a.Shape[0], a.Shape[1], b.Shape[0]
	aData := a.Data.([]float32)
	bData := b.Data.([]float32)
	out := make([]float32, m*n)

	for i := 0; i < m; i++ {
		aRow := aData[i*k : (i+1)*k]
		for j := 0; j < n; j++ {
			bRow := bData[j*k : (j+1)*k]
			var sum float32
			for p := range aRow {
				sum += aRow[p] * bRow[p]
			}
			out[i*n+j] = sum
		}
	}

	return NewTensor([]int{m, n}, Float32, out)
}

// AddRowVector adds a length-n vector to every row of an [m, n] tensor,
// returning a new tensor. This is the bias broadcast in a dense layer.
func AddRowVector(t, v *Tensor) (*Tensor, error) {
	if err := check2D(t, "tensor"); err != nil {
		return nil, err
	}
	if v.DType != Float32 || len(v.Shape) != 1 {
		return nil, fmt.Errorf("vector must be 1D Float32, got shape %v dtype %s", v.Shape, v.DType)
	}
	if t.Shape[1] != v.Shape[0] {
		return nil, fmt.Errorf("vector length %d does not match row width %d", v.Shape[0], t.Shape[1])
	}

	m, n := t.Shape[0], t.Shape[1]
	tData := t.Data.([]float32)
	vData := v.Data.([]float32)
	out := make([]float32, m*n)

	for i := 0; i < m; i++ {
		row := tData[i*n : (i+1)*n]
		dst := out[i*n : (i+1)*n]
		for j := range row {
			dst[j] = row[j] + vData[j]
		}
	}

	return NewTensor([]int{m, n}, Float32, out)
}

// SumRows collapses an [m, n] tensor to a length-n vector by summing over
// rows. This is the bias gradient in a dense layer.
func SumRows(t *Tensor) (*Tensor, error) {
	if err := check2D(t, "tensor"); err != nil {
		return nil, err
	}

	m, n := t.Shape[0], t.Shape[1]
	tData := t.Data.([]float32)
	out := make([]float32, n)

	for i := 0; i < m; i++ {
		row := tData[i*n : (i+1)*n]
		for j := range row {
			out[j] += row[j]
		}
	}

	return NewTensor([]int{n}, Float32, out)
}

// ArgMaxRows returns the index of the highest-scoring column for each row
// of an [m, n] Float32 tensor. Ties resolve to the lowest index.
func ArgMaxRows(t *Tensor) ([]int, error) {
	if err := check2D(t, "tensor"); err != nil {
		return nil, err
	}

	m, n := t.Shape[0], t.Shape[1]
	data := t.Data.([]float32)
	preds := make([]int, m)

	for i := 0; i < m; i++ {
		row := data[i*n : (i+1)*n]
		maxIdx := 0
		maxVal := row[0]
		for j := 1; j < n; j++ {
			if row[j] > maxVal {
				maxVal = row[j]
				maxIdx = j
			}
		}
		preds[i] = maxIdx
	}

	return preds, nil
}
