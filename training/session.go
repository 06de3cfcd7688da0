package training

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tsawler/go-finetune/checkpoints"
	"github.com/tsawler/go-finetune/nn"
	"github.com/tsawler/go-finetune/tensor"
)

// RunState is the epoch driver's state.
type RunState int

const (
	Running RunState = iota
	StoppedEarly
	Completed
)

func (s RunState) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case StoppedEarly:
		return "STOPPED_EARLY"
	case Completed:
		return "COMPLETED"
	default:
		return "Unknown"
	}
}

// Session owns all mutable state of one fine-tuning experiment: the model,
// optimizer, criterion and accuracy metric collaborators, the two data
// loaders, and the early-stopping bookkeeping. Create one per experiment;
// it lives for the duration of Train.
type Session struct {
	config    Config
	model     nn.Module
	optimizer Optimizer
	criterion nn.Criterion
	metric    nn.Metric

	trainLoader *DataLoader
	testLoader  *DataLoader

	early EarlyStopping
	state RunState

	out io.Writer
}

// NewSession wires up a session from the configuration alone: the optimizer
// is built from the config's selector over the model's parameters, and the
// criterion and accuracy metric are chosen from the class count
// (cross-entropy above two classes, binary cross-entropy at two).
func NewSession(config Config, model nn.Module, trainLoader, testLoader *DataLoader) (*Session, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	criterion, err := nn.NewCriterionFor(config.NumClasses)
	if err != nil {
		return nil, err
	}
	metric, err := nn.NewMetricFor(config.NumClasses)
	if err != nil {
		return nil, err
	}
	optimizer, err := NewOptimizer(config.Optimizer, model.Parameters(), config.LearningRate, config.WeightDecay)
	if err != nil {
		return nil, err
	}

	return NewSessionWith(config, model, optimizer, criterion, metric, trainLoader, testLoader)
}

// NewSessionWith wires up a session from explicit collaborators. The config
// still governs the epoch driver (epoch count, cadence, patience) and the
// checkpoint directory.
func NewSessionWith(config Config, model nn.Module, optimizer Optimizer, criterion nn.Criterion, metric nn.Metric, trainLoader, testLoader *DataLoader) (*Session, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if model == nil {
		return nil, fmt.Errorf("model must not be nil")
	}
	if optimizer == nil {
		return nil, fmt.Errorf("optimizer must not be nil")
	}
	if criterion == nil {
		return nil, fmt.Errorf("criterion must not be nil")
	}
	if metric == nil {
		return nil, fmt.Errorf("accuracy metric must not be nil")
	}
	if trainLoader == nil || testLoader == nil {
		return nil, fmt.Errorf("train and test loaders must not be nil")
	}

	if err := config.ensureCheckpointDir(); err != nil {
		return nil, err
	}

	return &Session{
		config:      config,
		model:       model,
		optimizer:   optimizer,
		criterion:   criterion,
		metric:      metric,
		trainLoader: trainLoader,
		testLoader:  testLoader,
		out:         os.Stdout,
	}, nil
}

// Config returns the session's effective configuration (defaults applied).
func (s *Session) Config() Config {
	return s.config
}

// State returns the epoch driver's state after Train has run.
func (s *Session) State() RunState {
	return s.state
}

// SetOutput redirects progress reporting, which defaults to stdout.
func (s *Session) SetOutput(w io.Writer) {
	s.out = w
}

// Train runs the full epoch loop and returns the training history: one
// record per epoch on which evaluation ran.
//
// Each epoch runs one training pass; evaluation runs only when
// epoch % TestEvery == 0. The early-stop flag is checked at the top of the
// epoch boundary, so a stop triggered by epoch N's evaluation takes effect
// before epoch N+1 does any work. Any collaborator failure aborts the run
// with the underlying cause intact.
func (s *Session) Train() (*History, error) {
	history := NewHistory()
	s.early = EarlyStopping{Limit: s.config.Patience}
	s.state = Running

	// Sentinel: no evaluation has happened yet.
	testLoss := 0.0

	bar := NewProgressBar(s.config.ExperimentName, s.config.Epochs)
	bar.SetOutput(s.out)

	for epoch := 0; epoch < s.config.Epochs; epoch++ {
		if s.early.Stopped {
			fmt.Fprintln(s.out, "Early stopping...")
			s.state = StoppedEarly
			break
		}

		trainLoss, trainAcc, err := s.trainEpoch()
		if err != nil {
			return nil, fmt.Errorf("training epoch %d failed: %w", epoch, err)
		}

		if epoch%s.config.TestEvery == 0 {
			previous := testLoss
			var testAcc float64
			testLoss, testAcc, err = s.evalEpoch(previous, epoch)
			if err != nil {
				return nil, fmt.Errorf("evaluation epoch %d failed: %w", epoch, err)
			}

			history.Append(EpochRecord{
				Epoch:     epoch,
				TrainLoss: trainLoss,
				TrainAcc:  trainAcc,
				TestLoss:  testLoss,
				TestAcc:   testAcc,
			})
			fmt.Fprintf(s.out, "Epoch %d, train loss %.5f, train accuracy %.5f, test loss %.5f, test accuracy %.5f\n",
				epoch, trainLoss, trainAcc, testLoss, testAcc)
		}

		bar.Update(epoch + 1)
	}

	if s.state == Running {
		s.state = Completed
	}
	bar.Finish()

	return history, nil
}

// trainEpoch performs one full pass over the training loader in iterator
// order. Per batch: zero gradients, forward, argmax predictions, loss,
// accuracy, backward, optimizer step. Returns the arithmetic means of the
// per-batch mean loss and accuracy. This mean-of-means is deliberate: a
// ragged final batch weighs the same as a full one.
func (s *Session) trainEpoch() (float64, float64, error) {
	var lossSum, accSum float64
	batches := 0

	s.model.Train()
	s.trainLoader.Reset()

	for {
		batch, err := s.trainLoader.Next()
		if err != nil {
			return 0, 0, err
		}
		if batch == nil {
			break
		}

		s.optimizer.ZeroGrad()

		scores, err := s.model.Forward(batch.Data)
		if err != nil {
			return 0, 0, fmt.Errorf("forward pass failed: %w", err)
		}

		preds, err := tensor.ArgMaxRows(scores)
		if err != nil {
			return 0, 0, fmt.Errorf("prediction failed: %w", err)
		}

		lossValue, err := s.criterion.Forward(scores, batch.Labels)
		if err != nil {
			return 0, 0, fmt.Errorf("loss computation failed: %w", err)
		}

		accValue, err := s.metric(scores, preds, batch.Labels)
		if err != nil {
			return 0, 0, fmt.Errorf("accuracy computation failed: %w", err)
		}

		grad, err := s.criterion.Backward(scores, batch.Labels)
		if err != nil {
			return 0, 0, fmt.Errorf("loss gradient failed: %w", err)
		}

		if _, err := s.model.Backward(grad); err != nil {
			return 0, 0, fmt.Errorf("backward pass failed: %w", err)
		}

		if err := s.optimizer.Step(); err != nil {
			return 0, 0, fmt.Errorf("optimizer step failed: %w", err)
		}

		lossSum += lossValue
		accSum += accValue
		batches++
	}

	if batches == 0 {
		return 0, 0, fmt.Errorf("training iterator yielded no batches")
	}

	return lossSum / float64(batches), accSum / float64(batches), nil
}

// evalEpoch performs one full pass over the test loader with the model in
// evaluation mode. No backward pass and no optimizer step run, so the model
// is guaranteed frozen for the duration. After the pass the early-stopping
// and checkpoint policy is applied against the previous recorded test loss.
func (s *Session) evalEpoch(previous float64, epoch int) (float64, float64, error) {
	var lossSum, accSum float64
	batches := 0

	s.model.Eval()
	s.testLoader.Reset()

	for {
		batch, err := s.testLoader.Next()
		if err != nil {
			return 0, 0, err
		}
		if batch == nil {
			break
		}

		scores, err := s.model.Forward(batch.Data)
		if err != nil {
			return 0, 0, fmt.Errorf("evaluation forward pass failed: %w", err)
		}

		preds, err := tensor.ArgMaxRows(scores)
		if err != nil {
			return 0, 0, fmt.Errorf("evaluation prediction failed: %w", err)
		}

		lossValue, err := s.criterion.Forward(scores, batch.Labels)
		if err != nil {
			return 0, 0, fmt.Errorf("evaluation loss computation failed: %w", err)
		}

		accValue, err := s.metric(scores, preds, batch.Labels)
		if err != nil {
			return 0, 0, fmt.Errorf("evaluation accuracy computation failed: %w", err)
		}

		lossSum += lossValue
		accSum += accValue
		batches++
	}

	if batches == 0 {
		return 0, 0, fmt.Errorf("test iterator yielded no batches")
	}

	testLoss := lossSum / float64(batches)
	testAcc := accSum / float64(batches)

	if s.early.Enabled() {
		switch s.early.Observe(previous, testLoss, epoch) {
		case Worsened:
			fmt.Fprintf(s.out, "Test loss increased | %v => %v | %d/%d\n",
				previous, testLoss, s.early.Count, s.early.Limit)
		case Improved:
			if err := s.saveCheckpoint(epoch, testLoss, testAcc); err != nil {
				return 0, 0, err
			}
		}
	}

	return testLoss, testAcc, nil
}

// saveCheckpoint persists the complete model parameter state under a name
// encoding the epoch and the evaluation metrics. Checkpoints accumulate;
// nothing here deletes or overwrites earlier ones.
func (s *Session) saveCheckpoint(epoch int, testLoss, testAcc float64) error {
	path := filepath.Join(s.config.CheckpointDir, checkpoints.Filename(epoch, testLoss, testAcc))
	return checkpoints.SaveModelState(s.model.Parameters(), path, checkpoints.TrainingState{
		Epoch:        epoch,
		TestLoss:     testLoss,
		TestAcc:      testAcc,
		Optimizer:    s.config.Optimizer.String(),
		LearningRate: s.optimizer.GetLR(),
	}, s.config.ExperimentName)
}

// SaveState writes the current model parameter state to path, independent
// of the improvement policy.
func (s *Session) SaveState(path string) error {
	return checkpoints.SaveModelState(s.model.Parameters(), path, checkpoints.TrainingState{
		Optimizer:    s.config.Optimizer.String(),
		LearningRate: s.optimizer.GetLR(),
	}, s.config.ExperimentName)
}

// LoadState restores model parameters from a checkpoint previously written
// by SaveState or by the improvement policy.
func (s *Session) LoadState(path string) error {
	return checkpoints.LoadModelState(s.model.Parameters(), path)
}
