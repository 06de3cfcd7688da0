package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/tsawler/go-finetune/tensor"
)

// Checkpoint is a complete persisted model state: every parameter tensor
// plus the training metadata at the moment the checkpoint was taken.
type Checkpoint struct {
	Weights       []WeightTensor `json:"weights"`
	TrainingState TrainingState  `json:"training_state"`
	Metadata      Metadata       `json:"metadata"`
}

// WeightTensor is one model parameter tensor with its data.
type WeightTensor struct {
	Name   string    `json:"name"`
	Shape  []int     `json:"shape"`
	Data   []float32 `json:"data"`
	Frozen bool      `json:"frozen,omitempty"`
}

// TrainingState captures training progress at checkpoint time.
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	TestLoss     float64 `json:"test_loss"`
	TestAcc      float64 `json:"test_acc"`
	Optimizer    string  `json:"optimizer,omitempty"`
	LearningRate float64 `json:"learning_rate,omitempty"`
}

// Metadata describes the checkpoint's provenance.
type Metadata struct {
	Version    string    `json:"version"`
	Framework  string    `json:"framework"`
	Experiment string    `json:"experiment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Filename renders the checkpoint artifact name for an improving
// evaluation: "{epoch}_{testLoss}_{testAcc}.json". The floats use Go's
// default shortest round-trip rendering, which downstream tooling parses
// back out of the filename.
func Filename(epoch int, testLoss, testAcc float64) string {
	return fmt.Sprintf("%d_%s_%s.json",
		epoch,
		strconv.FormatFloat(testLoss, 'g', -1, 64),
		strconv.FormatFloat(testAcc, 'g', -1, 64),
	)
}

// ExtractWeights copies parameter tensors into serializable form. Names are
// positional: parameters are restored in the same iteration order.
func ExtractWeights(params []*tensor.Tensor) ([]WeightTensor, error) {
	weights := make([]WeightTensor, 0, len(params))
	for i, p := range params {
		data, err := p.Float32s()
		if err != nil {
			return nil, fmt.Errorf("parameter %d: %v", i, err)
		}
		dataCopy := make([]float32, len(data))
		copy(dataCopy, data)

		shape := make([]int, len(p.Shape))
		copy(shape, p.Shape)

		weights = append(weights, WeightTensor{
			Name:   fmt.Sprintf("param_%d", i),
			Shape:  shape,
			Data:   dataCopy,
			Frozen: !p.RequiresGrad(),
		})
	}
	return weights, nil
}

// LoadWeights copies serialized weights back into parameter tensors,
// validating count and shapes.
func LoadWeights(weights []WeightTensor, params []*tensor.Tensor) error {
	if len(weights) != len(params) {
		return fmt.Errorf("weight count mismatch: %d weights, %d parameters", len(weights), len(params))
	}

	for i, w := range weights {
		p := params[i]
		if len(w.Shape) != len(p.Shape) {
			return fmt.Errorf("shape mismatch for %s: checkpoint %v vs parameter %v", w.Name, w.Shape, p.Shape)
		}
		for j, dim := range w.Shape {
			if dim != p.Shape[j] {
				return fmt.Errorf("shape mismatch for %s: checkpoint %v vs parameter %v", w.Name, w.Shape, p.Shape)
			}
		}
		if err := p.SetData(w.Data); err != nil {
			return errors.Wrapf(err, "failed to restore %s", w.Name)
		}
	}

	return nil
}

// Save writes the checkpoint to path as indented JSON.
func Save(checkpoint *Checkpoint, path string) error {
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = "go-finetune"
		checkpoint.Metadata.Version = "1.0.0"
	}
	if checkpoint.Metadata.CreatedAt.IsZero() {
		checkpoint.Metadata.CreatedAt = time.Now()
	}

	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create checkpoint file")
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(checkpoint); err != nil {
		return errors.Wrap(err, "failed to encode checkpoint")
	}

	return nil
}

// Load reads a checkpoint from path.
func Load(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open checkpoint file")
	}
	defer file.Close()

	var checkpoint Checkpoint
	if err := json.NewDecoder(file).Decode(&checkpoint); err != nil {
		return nil, errors.Wrapf(err, "failed to decode checkpoint %s", path)
	}

	return &checkpoint, nil
}

// SaveModelState persists the given parameter set to path with training
// state attached. This is the single write path for checkpoint artifacts.
func SaveModelState(params []*tensor.Tensor, path string, state TrainingState, experiment string) error {
	weights, err := ExtractWeights(params)
	if err != nil {
		return fmt.Errorf("failed to extract model weights: %v", err)
	}

	return Save(&Checkpoint{
		Weights:       weights,
		TrainingState: state,
		Metadata:      Metadata{Experiment: experiment},
	}, path)
}

// LoadModelState restores a parameter set from a checkpoint at path.
func LoadModelState(params []*tensor.Tensor, path string) error {
	checkpoint, err := Load(path)
	if err != nil {
		return err
	}
	return LoadWeights(checkpoint.Weights, params)
}
