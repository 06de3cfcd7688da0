package nn

import (
	"fmt"

	"github.com/tsawler/go-finetune/tensor"
)

// Metric computes a batch accuracy in [0, 1] from the raw output scores,
// the argmax predictions derived from them, and the ground-truth labels.
type Metric func(scores *tensor.Tensor, preds []int, target *tensor.Tensor) (float64, error)

// NewMetricFor pairs the accuracy metric with the criterion selection:
// multiclass accuracy for more than two classes, threshold accuracy for a
// single-logit binary head.
func NewMetricFor(numClasses int) (Metric, error) {
	switch {
	case numClasses > 2:
		return MulticlassAccuracy, nil
	case numClasses == 2:
		return BinaryAccuracy, nil
	default:
		return nil, fmt.Errorf("numClasses must be at least 2, got %d", numClasses)
	}
}

// MulticlassAccuracy is the fraction of argmax predictions matching the
// integer labels.
func MulticlassAccuracy(scores *tensor.Tensor, preds []int, target *tensor.Tensor) (float64, error) {
	targetData, err := target.Int32s()
	if err != nil {
		return 0, err
	}
	if len(preds) != len(targetData) {
		return 0, fmt.Errorf("batch size mismatch: %d predictions, %d labels", len(preds), len(targetData))
	}
	if len(preds) == 0 {
		return 0, fmt.Errorf("empty batch")
	}

	correct := 0
	for i, p := range preds {
		if int32(p) == targetData[i] {
			correct++
		}
	}

	return float64(correct) / float64(len(preds)), nil
}

// BinaryAccuracy thresholds a single-logit score column at zero. The argmax
// predictions are ignored: a one-column score matrix always argmaxes to 0.
func BinaryAccuracy(scores *tensor.Tensor, preds []int, target *tensor.Tensor) (float64, error) {
	if len(scores.Shape) != 2 || scores.Shape[1] != 1 {
		return 0, fmt.Errorf("binary accuracy expects scores of shape [batch_size, 1], got %v", scores.Shape)
	}
	scoreData, err := scores.Float32s()
	if err != nil {
		return 0, err
	}
	targetData, err := target.Int32s()
	if err != nil {
		return 0, err
	}
	if len(scoreData) != len(targetData) {
		return 0, fmt.Errorf("batch size mismatch: %d scores, %d labels", len(scoreData), len(targetData))
	}
	if len(scoreData) == 0 {
		return 0, fmt.Errorf("empty batch")
	}

	correct := 0
	for i, z := range scoreData {
		pred := int32(0)
		if z > 0 {
			pred = 1
		}
		if pred == targetData[i] {
			correct++
		}
	}

	return float64(correct) / float64(len(scoreData)), nil
}
