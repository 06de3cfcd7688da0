package training

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// Config holds the full configuration surface of a fine-tuning session.
// Zero values for the hyperparameters select the defaults noted per field.
type Config struct {
	BatchSize    int     // default 32
	LearningRate float64 // default 1e-3
	WeightDecay  float64 // default 1e-4 (L2 regularization)

	Optimizer OptimizerKind // SGD or Adam

	Epochs    int // number of epochs to train
	TestEvery int // run evaluation every N epochs; default 1
	Patience  int // early stopping limit; 0 disables early stopping

	NumClasses int // number of target classes, at least 2

	CheckpointDir  string // where checkpoints and history land; created if absent
	ExperimentName string // auto-generated when empty
}

// applyDefaults fills unset fields with the conventional fine-tuning
// defaults.
func (c *Config) applyDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 32
	}
	if c.LearningRate == 0 {
		c.LearningRate = 1e-3
	}
	if c.WeightDecay == 0 {
		c.WeightDecay = 1e-4
	}
	if c.TestEvery == 0 {
		c.TestEvery = 1
	}
	if c.ExperimentName == "" {
		c.ExperimentName = fmt.Sprintf("experiment-%s", uuid.NewString()[:8])
	}
}

// Validate fails fast on any unusable configuration value, naming the value
// in the error. It must be called after applyDefaults.
func (c *Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive, got %v", c.LearningRate)
	}
	if c.WeightDecay < 0 {
		return fmt.Errorf("weight decay must be non-negative, got %v", c.WeightDecay)
	}
	if c.Optimizer != SGD && c.Optimizer != Adam {
		return fmt.Errorf("unsupported optimizer %s", c.Optimizer)
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("epoch count must be positive, got %d", c.Epochs)
	}
	if c.TestEvery <= 0 {
		return fmt.Errorf("test cadence must be positive, got %d", c.TestEvery)
	}
	if c.Patience < 0 {
		return fmt.Errorf("patience must be non-negative, got %d", c.Patience)
	}
	if c.NumClasses < 2 {
		return fmt.Errorf("number of classes must be at least 2, got %d", c.NumClasses)
	}
	if c.CheckpointDir == "" {
		return fmt.Errorf("checkpoint directory must be set")
	}
	return nil
}

// ensureCheckpointDir creates the checkpoint directory, including parents,
// idempotently.
func (c *Config) ensureCheckpointDir() error {
	if err := os.MkdirAll(c.CheckpointDir, 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory %s: %w", c.CheckpointDir, err)
	}
	return nil
}
