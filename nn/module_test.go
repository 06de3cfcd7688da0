package nn

import (
	"testing"
)

func TestSequentialForwardBackward(t *testing.T) {
	// Two stacked layers with identity-ish weights so the math stays small:
	// first doubles, second adds one via bias.
	l1 := fixedLinear(t, []float32{2}, []float32{0}, 1, 1)
	l2 := fixedLinear(t, []float32{1}, []float32{1}, 1, 1)
	seq := NewSequential(l1, l2)

	input := mustTensor(t, []int{1, 1}, []float32{3})
	out, err := seq.Forward(input)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	data, _ := out.Float32s()
	assertFloats(t, data, []float32{7}, 1e-5) // 3*2*1 + 1

	grad := mustTensor(t, []int{1, 1}, []float32{1})
	inputGrad, err := seq.Backward(grad)
	if err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	inputGradData, _ := inputGrad.Float32s()
	assertFloats(t, inputGradData, []float32{2}, 1e-5) // chain rule: 1 * 1 * 2
}

func TestSequentialParameters(t *testing.T) {
	l1, _ := NewLinear(2, 3, true)
	l2, _ := NewLinear(3, 1, false)
	d, _ := NewDropout(0.5)
	seq := NewSequential(l1, d, l2)

	params := seq.Parameters()
	if len(params) != 3 {
		t.Errorf("Expected 3 parameters (weight, bias, weight), got %d", len(params))
	}
}

func TestSequentialModePropagates(t *testing.T) {
	l, _ := NewLinear(2, 2, true)
	d, _ := NewDropout(0.5)
	seq := NewSequential(l, d)

	seq.Eval()
	if l.IsTraining() || d.IsTraining() || seq.IsTraining() {
		t.Error("Eval should propagate to all child modules")
	}

	seq.Train()
	if !l.IsTraining() || !d.IsTraining() || !seq.IsTraining() {
		t.Error("Train should propagate to all child modules")
	}
}

func TestDropoutEvalIsIdentity(t *testing.T) {
	d, err := NewDropout(0.5)
	if err != nil {
		t.Fatalf("Failed to create dropout: %v", err)
	}
	d.Eval()

	input := mustTensor(t, []int{2, 2}, []float32{1, 2, 3, 4})
	out, err := d.Forward(input)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	data, _ := out.Float32s()
	assertFloats(t, data, []float32{1, 2, 3, 4}, 0)
}

func TestDropoutTrainingMask(t *testing.T) {
	SetRandomSeed(7)
	d, err := NewDropout(0.5)
	if err != nil {
		t.Fatalf("Failed to create dropout: %v", err)
	}

	input := mustTensor(t, []int{1, 1000}, make([]float32, 1000))
	inData, _ := input.Float32s()
	for i := range inData {
		inData[i] = 1
	}

	out, err := d.Forward(input)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	// Survivors are scaled by 1/(1-p) = 2; the rest are zero.
	data, _ := out.Float32s()
	kept := 0
	for i, v := range data {
		switch v {
		case 0:
		case 2:
			kept++
		default:
			t.Fatalf("Element %d: expected 0 or 2, got %v", i, v)
		}
	}
	if kept < 350 || kept > 650 {
		t.Errorf("Kept %d of 1000 at p=0.5, outside plausible range", kept)
	}
}

func TestDropoutBackwardReusesMask(t *testing.T) {
	SetRandomSeed(7)
	d, _ := NewDropout(0.5)

	input := mustTensor(t, []int{1, 4}, []float32{1, 1, 1, 1})
	out, err := d.Forward(input)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	outData, _ := out.Float32s()

	grad := mustTensor(t, []int{1, 4}, []float32{1, 1, 1, 1})
	gradOut, err := d.Backward(grad)
	if err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	gradData, _ := gradOut.Float32s()

	// Gradient must be zero exactly where the activation was dropped.
	for i := range outData {
		if (outData[i] == 0) != (gradData[i] == 0) {
			t.Errorf("Element %d: forward %v but gradient %v", i, outData[i], gradData[i])
		}
	}
}

func TestDropoutInvalidProbability(t *testing.T) {
	if _, err := NewDropout(-0.1); err == nil {
		t.Error("Expected error for negative probability")
	}
	if _, err := NewDropout(1.0); err == nil {
		t.Error("Expected error for probability of 1")
	}
}

func TestFlatten(t *testing.T) {
	f := NewFlatten()

	input := mustTensor(t, []int{2, 2, 3}, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12})
	out, err := f.Forward(input)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if out.Shape[0] != 2 || out.Shape[1] != 6 {
		t.Errorf("Expected shape [2 6], got %v", out.Shape)
	}

	grad := mustTensor(t, []int{2, 6}, make([]float32, 12))
	back, err := f.Backward(grad)
	if err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	if len(back.Shape) != 3 || back.Shape[1] != 2 || back.Shape[2] != 3 {
		t.Errorf("Expected gradient restored to [2 2 3], got %v", back.Shape)
	}
}

func TestFrozen(t *testing.T) {
	l := fixedLinear(t, []float32{1, 0, 0, 1}, []float32{0, 0}, 2, 2)
	frozen := NewFrozen(l)

	t.Run("Parameters stop requiring gradients", func(t *testing.T) {
		for i, p := range frozen.Parameters() {
			if p.RequiresGrad() {
				t.Errorf("Parameter %d should be frozen", i)
			}
		}
	})

	t.Run("Forward delegates", func(t *testing.T) {
		input := mustTensor(t, []int{1, 2}, []float32{3, 4})
		out, err := frozen.Forward(input)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		data, _ := out.Float32s()
		assertFloats(t, data, []float32{3, 4}, 1e-5)
	})

	t.Run("Backward passes gradient through untouched", func(t *testing.T) {
		grad := mustTensor(t, []int{1, 2}, []float32{5, 6})
		out, err := frozen.Backward(grad)
		if err != nil {
			t.Fatalf("Backward failed: %v", err)
		}
		if out != grad {
			t.Error("Frozen backward should return the gradient unchanged")
		}
		for i, p := range frozen.Parameters() {
			if p.Grad() != nil {
				t.Errorf("Frozen parameter %d accumulated a gradient", i)
			}
		}
	})

	t.Run("Train keeps inner module in eval mode", func(t *testing.T) {
		frozen.Train()
		if l.IsTraining() {
			t.Error("Frozen backbone should stay in eval mode during training")
		}
		if frozen.IsTraining() {
			t.Error("Frozen module should never report training mode")
		}
	})
}
