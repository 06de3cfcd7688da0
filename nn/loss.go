package nn

import (
	"fmt"
	"math"

	"github.com/tsawler/go-finetune/tensor"
)

// Criterion is a loss function over a batch of output scores and integer
// class labels. Forward returns the mean loss over the batch; Backward
// returns the gradient of that mean loss with respect to the scores.
type Criterion interface {
	Forward(scores, target *tensor.Tensor) (float64, error)
	Backward(scores, target *tensor.Tensor) (*tensor.Tensor, error)
}

// NewCriterionFor selects the criterion the way a torch fine-tuning setup
// would: cross-entropy for more than two classes, binary cross-entropy with
// logits for two.
func NewCriterionFor(numClasses int) (Criterion, error) {
	switch {
	case numClasses > 2:
		return NewCrossEntropyLoss(), nil
	case numClasses == 2:
		return NewBCEWithLogitsLoss(), nil
	default:
		return nil, fmt.Errorf("numClasses must be at least 2, got %d", numClasses)
	}
}

// CrossEntropyLoss implements softmax cross-entropy over integer class
// labels, with mean reduction over the batch.
type CrossEntropyLoss struct{}

// NewCrossEntropyLoss creates a cross-entropy criterion.
func NewCrossEntropyLoss() *CrossEntropyLoss {
	return &CrossEntropyLoss{}
}

func checkClassBatch(scores, target *tensor.Tensor) (int, int, []float32, []int32, error) {
	if len(scores.Shape) != 2 {
		return 0, 0, nil, nil, fmt.Errorf("scores must be 2D [batch_size, num_classes], got shape %v", scores.Shape)
	}
	scoreData, err := scores.Float32s()
	if err != nil {
		return 0, 0, nil, nil, err
	}
	targetData, err := target.Int32s()
	if err != nil {
		return 0, 0, nil, nil, err
	}

	m, n := scores.Shape[0], scores.Shape[1]
	if len(targetData) != m {
		return 0, 0, nil, nil, fmt.Errorf("batch size mismatch: %d scores, %d labels", m, len(targetData))
	}
	for i, label := range targetData {
		if label < 0 || int(label) >= n {
			return 0, 0, nil, nil, fmt.Errorf("label %d at index %d out of range [0, %d)", label, i, n)
		}
	}
	return m, n, scoreData, targetData, nil
}

// softmaxRow writes the softmax of row into out using the max-subtraction
// trick for numerical stability.
func softmaxRow(row []float32, out []float64) {
	maxVal := float64(row[0])
	for _, v := range row[1:] {
		if float64(v) > maxVal {
			maxVal = float64(v)
		}
	}
	var sum float64
	for j, v := range row {
		e := math.Exp(float64(v) - maxVal)
		out[j] = e
		sum += e
	}
	for j := range out {
		out[j] /= sum
	}
}

// Forward computes the mean negative log-likelihood of the target classes.
func (ce *CrossEntropyLoss) Forward(scores, target *tensor.Tensor) (float64, error) {
	m, n, scoreData, targetData, err := checkClassBatch(scores, target)
	if err != nil {
		return 0, err
	}

	probs := make([]float64, n)
	var total float64
	for i := 0; i < m; i++ {
		softmaxRow(scoreData[i*n:(i+1)*n], probs)
		p := probs[targetData[i]]
		if p < 1e-12 {
			p = 1e-12
		}
		total += -math.Log(p)
	}

	return total / float64(m), nil
}

// Backward computes d(mean loss)/d(scores) = (softmax - onehot) / batch_size.
func (ce *CrossEntropyLoss) Backward(scores, target *tensor.Tensor) (*tensor.Tensor, error) {
	m, n, scoreData, targetData, err := checkClassBatch(scores, target)
	if err != nil {
		return nil, err
	}

	grad := make([]float32, m*n)
	probs := make([]float64, n)
	inv := 1.0 / float64(m)
	for i := 0; i < m; i++ {
		softmaxRow(scoreData[i*n:(i+1)*n], probs)
		for j := 0; j < n; j++ {
			grad[i*n+j] = float32(probs[j] * inv)
		}
		grad[i*n+int(targetData[i])] -= float32(inv)
	}

	return tensor.NewTensor([]int{m, n}, tensor.Float32, grad)
}

// BCEWithLogitsLoss implements binary cross-entropy over a single-logit
// head, combining the sigmoid and the loss for numerical stability.
// Scores have shape [batch_size, 1]; labels are 0 or 1.
type BCEWithLogitsLoss struct{}

// NewBCEWithLogitsLoss creates a binary cross-entropy criterion.
func NewBCEWithLogitsLoss() *BCEWithLogitsLoss {
	return &BCEWithLogitsLoss{}
}

func checkBinaryBatch(scores, target *tensor.Tensor) (int, []float32, []int32, error) {
	if len(scores.Shape) != 2 || scores.Shape[1] != 1 {
		return 0, nil, nil, fmt.Errorf("binary scores must have shape [batch_size, 1], got %v", scores.Shape)
	}
	scoreData, err := scores.Float32s()
	if err != nil {
		return 0, nil, nil, err
	}
	targetData, err := target.Int32s()
	if err != nil {
		return 0, nil, nil, err
	}
	m := scores.Shape[0]
	if len(targetData) != m {
		return 0, nil, nil, fmt.Errorf("batch size mismatch: %d scores, %d labels", m, len(targetData))
	}
	for i, label := range targetData {
		if label != 0 && label != 1 {
			return 0, nil, nil, fmt.Errorf("binary label at index %d must be 0 or 1, got %d", i, label)
		}
	}
	return m, scoreData, targetData, nil
}

// Forward computes mean( max(z,0) - z*y + log(1 + exp(-|z|)) ).
func (bce *BCEWithLogitsLoss) Forward(scores, target *tensor.Tensor) (float64, error) {
	m, scoreData, targetData, err := checkBinaryBatch(scores, target)
	if err != nil {
		return 0, err
	}

	var total float64
	for i := 0; i < m; i++ {
		z := float64(scoreData[i])
		y := float64(targetData[i])
		total += math.Max(z, 0) - z*y + math.Log1p(math.Exp(-math.Abs(z)))
	}

	return total / float64(m), nil
}

// Backward computes d(mean loss)/dz = (sigmoid(z) - y) / batch_size.
func (bce *BCEWithLogitsLoss) Backward(scores, target *tensor.Tensor) (*tensor.Tensor, error) {
	m, scoreData, targetData, err := checkBinaryBatch(scores, target)
	if err != nil {
		return nil, err
	}

	grad := make([]float32, m)
	inv := 1.0 / float64(m)
	for i := 0; i < m; i++ {
		z := float64(scoreData[i])
		p := 1.0 / (1.0 + math.Exp(-z))
		grad[i] = float32((p - float64(targetData[i])) * inv)
	}

	return tensor.NewTensor([]int{m, 1}, tensor.Float32, grad)
}
