package training

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestHistoryColumns(t *testing.T) {
	h := NewHistory()
	want := []string{"epoch", "train_loss", "train_acc", "test_loss", "test_acc"}
	got := h.Columns()
	if len(got) != len(want) {
		t.Fatalf("Expected %d columns, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Column %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestHistoryAppend(t *testing.T) {
	h := NewHistory()
	if h.Len() != 0 {
		t.Errorf("New history should be empty, got %d records", h.Len())
	}

	h.Append(EpochRecord{Epoch: 0, TrainLoss: 1.5, TrainAcc: 0.4, TestLoss: 1.6, TestAcc: 0.35})
	h.Append(EpochRecord{Epoch: 2, TrainLoss: 1.2, TrainAcc: 0.6, TestLoss: 1.3, TestAcc: 0.55})

	if h.Len() != 2 {
		t.Fatalf("Expected 2 records, got %d", h.Len())
	}

	records := h.Records()
	if records[0].Epoch != 0 || records[1].Epoch != 2 {
		t.Errorf("Records out of append order: %v", records)
	}
}

func TestHistoryString(t *testing.T) {
	h := NewHistory()
	h.Append(EpochRecord{Epoch: 1, TrainLoss: 0.5, TrainAcc: 0.8, TestLoss: 0.6, TestAcc: 0.75})

	s := h.String()
	if !strings.Contains(s, "epoch") || !strings.Contains(s, "test_acc") {
		t.Errorf("Table missing header: %q", s)
	}
	if !strings.Contains(s, "0.50000") {
		t.Errorf("Table missing formatted loss: %q", s)
	}
}

func TestHistoryWriteCSV(t *testing.T) {
	h := NewHistory()
	h.Append(EpochRecord{Epoch: 0, TrainLoss: 0.5, TrainAcc: 0.75, TestLoss: 0.625, TestAcc: 0.5})

	var buf bytes.Buffer
	if err := h.WriteCSV(&buf); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected header plus one row, got %d lines", len(lines))
	}
	if lines[0] != "epoch,train_loss,train_acc,test_loss,test_acc" {
		t.Errorf("Unexpected header: %q", lines[0])
	}
	if lines[1] != "0,0.5,0.75,0.625,0.5" {
		t.Errorf("Unexpected row: %q", lines[1])
	}
}

func TestHistorySaveCSV(t *testing.T) {
	h := NewHistory()
	h.Append(EpochRecord{Epoch: 3, TrainLoss: 0.25, TrainAcc: 0.9, TestLoss: 0.5, TestAcc: 0.85})

	path := filepath.Join(t.TempDir(), "history.csv")
	if err := h.SaveCSV(path); err != nil {
		t.Fatalf("SaveCSV failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read history file: %v", err)
	}
	if !strings.Contains(string(content), "3,0.25,0.9,0.5,0.85") {
		t.Errorf("History file missing record: %q", string(content))
	}
}
