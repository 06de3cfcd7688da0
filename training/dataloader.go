package training

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/klauspost/cpuid/v2"

	"github.com/tsawler/go-finetune/tensor"
)

// Dataset is the sample-level contract a DataLoader batches over.
type Dataset interface {
	Len() int                                                           // Total number of samples
	Get(idx int) (data *tensor.Tensor, label *tensor.Tensor, err error) // Returns a single sample
}

// Batch is one unit yielded by a DataLoader: stacked input and label tensors.
type Batch struct {
	Data   *tensor.Tensor
	Labels *tensor.Tensor
}

// DataLoader batches a Dataset with optional shuffling. Sample loading
// within a batch fans out over numWorkers goroutines; the loader itself is
// consumed sequentially by the training loop.
type DataLoader struct {
	dataset    Dataset
	batchSize  int
	shuffle    bool
	numWorkers int
	indices    []int
	position   int
	mutex      sync.Mutex
}

// NewDataLoader creates a DataLoader. numWorkers <= 0 selects one worker
// per logical core.
func NewDataLoader(dataset Dataset, batchSize int, shuffle bool, numWorkers int) (*DataLoader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if numWorkers <= 0 {
		numWorkers = cpuid.CPU.LogicalCores
		if numWorkers <= 0 {
			numWorkers = 1
		}
	}

	datasetLen := dataset.Len()
	indices := make([]int, datasetLen)
	for i := range indices {
		indices[i] = i
	}

	return &DataLoader{
		dataset:    dataset,
		batchSize:  batchSize,
		shuffle:    shuffle,
		numWorkers: numWorkers,
		indices:    indices,
	}, nil
}

// Len returns the number of batches in an epoch.
func (dl *DataLoader) Len() int {
	return (dl.dataset.Len() + dl.batchSize - 1) / dl.batchSize
}

// Reset rewinds the loader for a new epoch, reshuffling if configured.
func (dl *DataLoader) Reset() {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	dl.position = 0

	if dl.shuffle {
		for i := len(dl.indices) - 1; i > 0; i-- {
			j := rand.Intn(i + 1)
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		}
	}
}

// Next returns the next batch, or nil when the epoch is exhausted.
func (dl *DataLoader) Next() (*Batch, error) {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	if dl.position >= len(dl.indices) {
		return nil, nil // End of epoch
	}

	batchEnd := dl.position + dl.batchSize
	if batchEnd > len(dl.indices) {
		batchEnd = len(dl.indices)
	}

	batchIndices := dl.indices[dl.position:batchEnd]
	dl.position = batchEnd

	batch, err := dl.loadBatch(batchIndices)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch: %w", err)
	}

	return batch, nil
}

// loadBatch loads the samples for the given indices and stacks them into
// batch tensors. Loading fans out across workers; assembly is positional,
// so batch order matches iterator order regardless of worker scheduling.
func (dl *DataLoader) loadBatch(indices []int) (*Batch, error) {
	batchSize := len(indices)
	if batchSize == 0 {
		return nil, fmt.Errorf("empty batch indices")
	}

	firstData, firstLabel, err := dl.dataset.Get(indices[0])
	if err != nil {
		return nil, fmt.Errorf("failed to load sample %d: %w", indices[0], err)
	}

	dataShape := append([]int{batchSize}, firstData.Shape...)
	labelShape := append([]int{batchSize}, firstLabel.Shape...)

	batchData, err := tensor.Zeros(dataShape, firstData.DType)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch data tensor: %v", err)
	}
	batchLabels, err := tensor.Zeros(labelShape, firstLabel.DType)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch labels tensor: %v", err)
	}

	if err := copyInto(batchData, firstData, 0); err != nil {
		return nil, err
	}
	if err := copyInto(batchLabels, firstLabel, 0); err != nil {
		return nil, err
	}

	workers := dl.numWorkers
	if workers > batchSize-1 {
		workers = batchSize - 1
	}

	if workers <= 1 {
		for i := 1; i < batchSize; i++ {
			if err := dl.loadSampleInto(batchData, batchLabels, indices[i], i); err != nil {
				return nil, err
			}
		}
	} else {
		var wg sync.WaitGroup
		errs := make([]error, batchSize)
		work := make(chan int)

		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range work {
					errs[i] = dl.loadSampleInto(batchData, batchLabels, indices[i], i)
				}
			}()
		}
		for i := 1; i < batchSize; i++ {
			work <- i
		}
		close(work)
		wg.Wait()

		for _, e := range errs {
			if e != nil {
				return nil, e
			}
		}
	}

	return &Batch{
		Data:   batchData,
		Labels: batchLabels,
	}, nil
}

func (dl *DataLoader) loadSampleInto(batchData, batchLabels *tensor.Tensor, sampleIdx, batchIdx int) error {
	data, label, err := dl.dataset.Get(sampleIdx)
	if err != nil {
		return fmt.Errorf("failed to load sample %d: %w", sampleIdx, err)
	}
	if err := copyInto(batchData, data, batchIdx); err != nil {
		return fmt.Errorf("failed to copy data for sample %d: %v", sampleIdx, err)
	}
	if err := copyInto(batchLabels, label, batchIdx); err != nil {
		return fmt.Errorf("failed to copy label for sample %d: %v", sampleIdx, err)
	}
	return nil
}

// copyInto copies a sample tensor into position batchIndex of a batch tensor.
func copyInto(batchTensor, sampleTensor *tensor.Tensor, batchIndex int) error {
	if batchTensor.DType != sampleTensor.DType {
		return fmt.Errorf("dtype mismatch: batch %s, sample %s", batchTensor.DType, sampleTensor.DType)
	}

	sampleSize := sampleTensor.NumElems
	offset := batchIndex * sampleSize

	switch batchTensor.DType {
	case tensor.Float32:
		batchData := batchTensor.Data.([]float32)
		sampleData := sampleTensor.Data.([]float32)
		if offset+sampleSize > len(batchData) {
			return fmt.Errorf("sample %d does not fit batch tensor of %d elements", batchIndex, len(batchData))
		}
		copy(batchData[offset:offset+sampleSize], sampleData)

	case tensor.Int32:
		batchData := batchTensor.Data.([]int32)
		sampleData := sampleTensor.Data.([]int32)
		if offset+sampleSize > len(batchData) {
			return fmt.Errorf("sample %d does not fit batch tensor of %d elements", batchIndex, len(batchData))
		}
		copy(batchData[offset:offset+sampleSize], sampleData)

	default:
		return fmt.Errorf("unsupported dtype for batch copying: %s", batchTensor.DType)
	}

	return nil
}

// SimpleDataset wraps parallel slices of sample and label tensors.
type SimpleDataset struct {
	data   []*tensor.Tensor
	labels []*tensor.Tensor
}

// NewSimpleDataset creates a dataset from pre-built tensors.
func NewSimpleDataset(data, labels []*tensor.Tensor) (*SimpleDataset, error) {
	if len(data) != len(labels) {
		return nil, fmt.Errorf("data and labels length mismatch: %d vs %d", len(data), len(labels))
	}
	return &SimpleDataset{data: data, labels: labels}, nil
}

// Len returns the number of samples.
func (d *SimpleDataset) Len() int {
	return len(d.data)
}

// Get returns the sample at idx.
func (d *SimpleDataset) Get(idx int) (*tensor.Tensor, *tensor.Tensor, error) {
	if idx < 0 || idx >= len(d.data) {
		return nil, nil, fmt.Errorf("index %d out of range [0, %d)", idx, len(d.data))
	}
	return d.data[idx], d.labels[idx], nil
}
