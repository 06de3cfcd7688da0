package training

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// EpochRecord is one row of the training history: the metrics of an epoch
// on which evaluation ran.
type EpochRecord struct {
	Epoch     int
	TrainLoss float64
	TrainAcc  float64
	TestLoss  float64
	TestAcc   float64
}

// History is the append-only sequence of per-evaluation epoch records
// returned by a training run. Records are never mutated after creation.
type History struct {
	records []EpochRecord
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{}
}

// Columns returns the history column names in their fixed order.
func (h *History) Columns() []string {
	return []string{"epoch", "train_loss", "train_acc", "test_loss", "test_acc"}
}

// Append adds a record. Only the epoch driver calls this, once per epoch on
// which evaluation ran.
func (h *History) Append(r EpochRecord) {
	h.records = append(h.records, r)
}

// Len returns the number of records.
func (h *History) Len() int {
	return len(h.records)
}

// Records returns the records in append order. The caller must not modify
// the returned slice.
func (h *History) Records() []EpochRecord {
	return h.records
}

// String renders the history as a fixed-width table.
func (h *History) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-6s %-12s %-12s %-12s %-12s\n", "epoch", "train_loss", "train_acc", "test_loss", "test_acc")
	for _, r := range h.records {
		fmt.Fprintf(&b, "%-6d %-12.5f %-12.5f %-12.5f %-12.5f\n",
			r.Epoch, r.TrainLoss, r.TrainAcc, r.TestLoss, r.TestAcc)
	}
	return b.String()
}

// WriteCSV writes the history with its header row to w. Floats are written
// at full (shortest round-trip) precision.
func (h *History) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(h.Columns()); err != nil {
		return fmt.Errorf("failed to write history header: %v", err)
	}

	for _, r := range h.records {
		row := []string{
			strconv.Itoa(r.Epoch),
			strconv.FormatFloat(r.TrainLoss, 'g', -1, 64),
			strconv.FormatFloat(r.TrainAcc, 'g', -1, 64),
			strconv.FormatFloat(r.TestLoss, 'g', -1, 64),
			strconv.FormatFloat(r.TestAcc, 'g', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write history row for epoch %d: %v", r.Epoch, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// SaveCSV writes the history to a history.csv-style file at path.
func (h *History) SaveCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create history file: %w", err)
	}
	defer f.Close()

	return h.WriteCSV(f)
}
