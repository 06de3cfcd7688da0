package nn

import (
	"math"
	"testing"

	"github.com/tsawler/go-finetune/tensor"
)

func mustLabels(t *testing.T, labels []int32) *tensor.Tensor {
	t.Helper()
	tt, err := tensor.NewTensor([]int{len(labels)}, tensor.Int32, labels)
	if err != nil {
		t.Fatalf("Failed to create label tensor: %v", err)
	}
	return tt
}

func TestCrossEntropyForward(t *testing.T) {
	ce := NewCrossEntropyLoss()

	t.Run("Uniform scores", func(t *testing.T) {
		// Equal logits give softmax 1/3 per class: loss = ln(3).
		scores := mustTensor(t, []int{2, 3}, []float32{0, 0, 0, 0, 0, 0})
		target := mustLabels(t, []int32{0, 2})

		loss, err := ce.Forward(scores, target)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		if math.Abs(loss-math.Log(3)) > 1e-6 {
			t.Errorf("Expected loss %v, got %v", math.Log(3), loss)
		}
	})

	t.Run("Confident correct prediction", func(t *testing.T) {
		scores := mustTensor(t, []int{1, 3}, []float32{100, 0, 0})
		target := mustLabels(t, []int32{0})

		loss, err := ce.Forward(scores, target)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		if loss > 1e-6 {
			t.Errorf("Expected near-zero loss, got %v", loss)
		}
	})

	t.Run("Label out of range", func(t *testing.T) {
		scores := mustTensor(t, []int{1, 3}, []float32{0, 0, 0})
		target := mustLabels(t, []int32{3})
		if _, err := ce.Forward(scores, target); err == nil {
			t.Error("Expected error for out-of-range label")
		}
	})

	t.Run("Batch size mismatch", func(t *testing.T) {
		scores := mustTensor(t, []int{2, 3}, []float32{0, 0, 0, 0, 0, 0})
		target := mustLabels(t, []int32{0})
		if _, err := ce.Forward(scores, target); err == nil {
			t.Error("Expected error for batch size mismatch")
		}
	})
}

func TestCrossEntropyBackward(t *testing.T) {
	ce := NewCrossEntropyLoss()

	scores := mustTensor(t, []int{2, 3}, []float32{1, 2, 3, 0, 0, 0})
	target := mustLabels(t, []int32{2, 0})

	grad, err := ce.Backward(scores, target)
	if err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	if grad.Shape[0] != 2 || grad.Shape[1] != 3 {
		t.Fatalf("Expected gradient shape [2 3], got %v", grad.Shape)
	}

	// Each gradient row is (softmax - onehot)/batch, so it sums to zero.
	data, _ := grad.Float32s()
	for i := 0; i < 2; i++ {
		var rowSum float64
		for j := 0; j < 3; j++ {
			rowSum += float64(data[i*3+j])
		}
		if math.Abs(rowSum) > 1e-6 {
			t.Errorf("Row %d gradient sums to %v, expected 0", i, rowSum)
		}
	}

	// The target entry must carry negative gradient (push the score up).
	if data[2] >= 0 {
		t.Errorf("Target class gradient should be negative, got %v", data[2])
	}
	if data[3] >= 0 {
		t.Errorf("Target class gradient should be negative, got %v", data[3])
	}
}

func TestCrossEntropyNumericGradient(t *testing.T) {
	ce := NewCrossEntropyLoss()

	base := []float32{0.5, -1.2, 2.0}
	target := mustLabels(t, []int32{1})

	scores := mustTensor(t, []int{1, 3}, base)
	grad, err := ce.Backward(scores, target)
	if err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	gradData, _ := grad.Float32s()

	const eps = 1e-3
	for j := 0; j < 3; j++ {
		perturbed := make([]float32, 3)
		copy(perturbed, base)

		perturbed[j] = base[j] + eps
		plus, _ := ce.Forward(mustTensor(t, []int{1, 3}, perturbed), target)
		perturbed[j] = base[j] - eps
		minus, _ := ce.Forward(mustTensor(t, []int{1, 3}, perturbed), target)

		numeric := (plus - minus) / (2 * eps)
		if math.Abs(numeric-float64(gradData[j])) > 1e-3 {
			t.Errorf("Gradient %d: analytic %v vs numeric %v", j, gradData[j], numeric)
		}
	}
}

func TestBCEWithLogitsForward(t *testing.T) {
	bce := NewBCEWithLogitsLoss()

	t.Run("Zero logit", func(t *testing.T) {
		// sigmoid(0) = 0.5 for either label: loss = ln(2).
		scores := mustTensor(t, []int{2, 1}, []float32{0, 0})
		target := mustLabels(t, []int32{0, 1})

		loss, err := bce.Forward(scores, target)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		if math.Abs(loss-math.Log(2)) > 1e-6 {
			t.Errorf("Expected loss %v, got %v", math.Log(2), loss)
		}
	})

	t.Run("Confident correct prediction", func(t *testing.T) {
		scores := mustTensor(t, []int{2, 1}, []float32{50, -50})
		target := mustLabels(t, []int32{1, 0})

		loss, err := bce.Forward(scores, target)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		if loss > 1e-6 {
			t.Errorf("Expected near-zero loss, got %v", loss)
		}
	})

	t.Run("Stable for large magnitude logits", func(t *testing.T) {
		scores := mustTensor(t, []int{1, 1}, []float32{1000})
		target := mustLabels(t, []int32{0})

		loss, err := bce.Forward(scores, target)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		if math.IsInf(loss, 0) || math.IsNaN(loss) {
			t.Errorf("Loss should stay finite, got %v", loss)
		}
	})

	t.Run("Rejects multi-column scores", func(t *testing.T) {
		scores := mustTensor(t, []int{1, 2}, []float32{0, 0})
		target := mustLabels(t, []int32{0})
		if _, err := bce.Forward(scores, target); err == nil {
			t.Error("Expected error for multi-column binary scores")
		}
	})

	t.Run("Rejects non-binary labels", func(t *testing.T) {
		scores := mustTensor(t, []int{1, 1}, []float32{0})
		target := mustLabels(t, []int32{2})
		if _, err := bce.Forward(scores, target); err == nil {
			t.Error("Expected error for label outside {0, 1}")
		}
	})
}

func TestBCEWithLogitsBackward(t *testing.T) {
	bce := NewBCEWithLogitsLoss()

	scores := mustTensor(t, []int{2, 1}, []float32{0, 0})
	target := mustLabels(t, []int32{1, 0})

	grad, err := bce.Backward(scores, target)
	if err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	// (sigmoid(0) - y)/2 = (0.5 - 1)/2 and (0.5 - 0)/2.
	data, _ := grad.Float32s()
	assertFloats(t, data, []float32{-0.25, 0.25}, 1e-6)
}

func TestNewCriterionFor(t *testing.T) {
	if _, err := NewCriterionFor(1); err == nil {
		t.Error("Expected error for a single class")
	}

	c, err := NewCriterionFor(2)
	if err != nil {
		t.Fatalf("Failed to create binary criterion: %v", err)
	}
	if _, ok := c.(*BCEWithLogitsLoss); !ok {
		t.Errorf("Expected BCEWithLogitsLoss for 2 classes, got %T", c)
	}

	c, err = NewCriterionFor(5)
	if err != nil {
		t.Fatalf("Failed to create multiclass criterion: %v", err)
	}
	if _, ok := c.(*CrossEntropyLoss); !ok {
		t.Errorf("Expected CrossEntropyLoss for 5 classes, got %T", c)
	}
}

func TestMulticlassAccuracy(t *testing.T) {
	scores := mustTensor(t, []int{4, 2}, []float32{1, 0, 0, 1, 1, 0, 0, 1})
	preds := []int{0, 1, 0, 1}
	target := mustLabels(t, []int32{0, 1, 1, 1})

	acc, err := MulticlassAccuracy(scores, preds, target)
	if err != nil {
		t.Fatalf("Accuracy failed: %v", err)
	}
	if acc != 0.75 {
		t.Errorf("Expected accuracy 0.75, got %v", acc)
	}

	if _, err := MulticlassAccuracy(scores, []int{0}, target); err == nil {
		t.Error("Expected error for batch size mismatch")
	}
}

func TestBinaryAccuracy(t *testing.T) {
	// Thresholds at zero; argmax predictions are ignored for a single-logit head.
	scores := mustTensor(t, []int{4, 1}, []float32{2.5, -1.0, 0.5, -0.5})
	preds := []int{0, 0, 0, 0}
	target := mustLabels(t, []int32{1, 0, 0, 0})

	acc, err := BinaryAccuracy(scores, preds, target)
	if err != nil {
		t.Fatalf("Accuracy failed: %v", err)
	}
	if acc != 0.75 {
		t.Errorf("Expected accuracy 0.75, got %v", acc)
	}
}

func TestNewMetricFor(t *testing.T) {
	if _, err := NewMetricFor(1); err == nil {
		t.Error("Expected error for a single class")
	}
	if _, err := NewMetricFor(2); err != nil {
		t.Errorf("Failed to create binary metric: %v", err)
	}
	if _, err := NewMetricFor(10); err != nil {
		t.Errorf("Failed to create multiclass metric: %v", err)
	}
}
