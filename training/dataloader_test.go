package training

import (
	"fmt"
	"testing"

	"github.com/tsawler/go-finetune/tensor"
)

// makeDataset builds a SimpleDataset of n samples where sample i holds the
// value i in both its data and its label, so batch contents are checkable.
func makeDataset(t *testing.T, n int) *SimpleDataset {
	t.Helper()
	data := make([]*tensor.Tensor, n)
	labels := make([]*tensor.Tensor, n)
	for i := 0; i < n; i++ {
		var err error
		data[i], err = tensor.NewTensor([]int{2}, tensor.Float32, []float32{float32(i), float32(i)})
		if err != nil {
			t.Fatalf("Failed to create sample %d: %v", i, err)
		}
		labels[i], err = tensor.NewTensor([]int{1}, tensor.Int32, []int32{int32(i)})
		if err != nil {
			t.Fatalf("Failed to create label %d: %v", i, err)
		}
	}
	ds, err := NewSimpleDataset(data, labels)
	if err != nil {
		t.Fatalf("Failed to create dataset: %v", err)
	}
	return ds
}

func TestNewSimpleDataset(t *testing.T) {
	data := []*tensor.Tensor{nil, nil}
	labels := []*tensor.Tensor{nil}
	if _, err := NewSimpleDataset(data, labels); err == nil {
		t.Error("Expected error for length mismatch")
	}
}

func TestDataLoaderLen(t *testing.T) {
	ds := makeDataset(t, 10)

	dl, err := NewDataLoader(ds, 3, false, 1)
	if err != nil {
		t.Fatalf("Failed to create loader: %v", err)
	}
	if dl.Len() != 4 {
		t.Errorf("Expected 4 batches for 10 samples at batch size 3, got %d", dl.Len())
	}
}

func TestDataLoaderSequentialOrder(t *testing.T) {
	ds := makeDataset(t, 7)
	dl, err := NewDataLoader(ds, 3, false, 2)
	if err != nil {
		t.Fatalf("Failed to create loader: %v", err)
	}
	dl.Reset()

	var seen []int32
	sizes := []int{}
	for {
		batch, err := dl.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if batch == nil {
			break
		}
		labels, _ := batch.Labels.Int32s()
		seen = append(seen, labels...)
		sizes = append(sizes, batch.Data.Shape[0])
	}

	// Without shuffling, samples arrive in dataset order with a ragged tail.
	for i, v := range seen {
		if v != int32(i) {
			t.Errorf("Position %d: expected %d, got %d", i, i, v)
		}
	}
	if len(sizes) != 3 || sizes[0] != 3 || sizes[1] != 3 || sizes[2] != 1 {
		t.Errorf("Expected batch sizes [3 3 1], got %v", sizes)
	}
}

func TestDataLoaderBatchShapes(t *testing.T) {
	ds := makeDataset(t, 4)
	dl, err := NewDataLoader(ds, 4, false, 1)
	if err != nil {
		t.Fatalf("Failed to create loader: %v", err)
	}
	dl.Reset()

	batch, err := dl.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if batch.Data.Shape[0] != 4 || batch.Data.Shape[1] != 2 {
		t.Errorf("Expected data shape [4 2], got %v", batch.Data.Shape)
	}
	if batch.Labels.Shape[0] != 4 {
		t.Errorf("Expected 4 labels, got shape %v", batch.Labels.Shape)
	}
}

func TestDataLoaderExhaustion(t *testing.T) {
	ds := makeDataset(t, 2)
	dl, err := NewDataLoader(ds, 2, false, 1)
	if err != nil {
		t.Fatalf("Failed to create loader: %v", err)
	}
	dl.Reset()

	if batch, _ := dl.Next(); batch == nil {
		t.Fatal("Expected one batch before exhaustion")
	}
	if batch, _ := dl.Next(); batch != nil {
		t.Error("Expected nil after exhaustion")
	}

	// Reset rewinds for another epoch.
	dl.Reset()
	if batch, _ := dl.Next(); batch == nil {
		t.Error("Expected a batch again after Reset")
	}
}

func TestDataLoaderShuffleCoversAllSamples(t *testing.T) {
	ds := makeDataset(t, 20)
	dl, err := NewDataLoader(ds, 6, true, 4)
	if err != nil {
		t.Fatalf("Failed to create loader: %v", err)
	}
	dl.Reset()

	seen := make(map[int32]bool)
	for {
		batch, err := dl.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if batch == nil {
			break
		}
		labels, _ := batch.Labels.Int32s()
		for _, v := range labels {
			seen[v] = true
		}
	}

	if len(seen) != 20 {
		t.Errorf("Shuffled epoch covered %d of 20 samples", len(seen))
	}
}

func TestDataLoaderInvalidBatchSize(t *testing.T) {
	ds := makeDataset(t, 4)
	if _, err := NewDataLoader(ds, 0, false, 1); err == nil {
		t.Error("Expected error for zero batch size")
	}
}

// failingDataset fails on one specific index so worker error propagation is
// observable.
type failingDataset struct {
	inner   *SimpleDataset
	failIdx int
}

func (d *failingDataset) Len() int {
	return d.inner.Len()
}

func (d *failingDataset) Get(idx int) (*tensor.Tensor, *tensor.Tensor, error) {
	if idx == d.failIdx {
		return nil, nil, fmt.Errorf("corrupt sample %d", idx)
	}
	return d.inner.Get(idx)
}

func TestDataLoaderPropagatesSampleErrors(t *testing.T) {
	ds := &failingDataset{inner: makeDataset(t, 8), failIdx: 5}
	dl, err := NewDataLoader(ds, 8, false, 4)
	if err != nil {
		t.Fatalf("Failed to create loader: %v", err)
	}
	dl.Reset()

	if _, err := dl.Next(); err == nil {
		t.Error("Expected the worker's sample error to surface from Next")
	}
}
