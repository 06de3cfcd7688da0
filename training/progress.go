package training

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// ProgressBar provides tqdm-style epoch progress visualization.
type ProgressBar struct {
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
	out         io.Writer
}

// NewProgressBar creates a progress bar over total steps, writing to stdout.
func NewProgressBar(description string, total int) *ProgressBar {
	return &ProgressBar{
		description: description,
		total:       total,
		startTime:   time.Now(),
		width:       40,
		out:         os.Stdout,
	}
}

// SetOutput redirects the bar's output, which defaults to stdout.
func (pb *ProgressBar) SetOutput(w io.Writer) {
	pb.out = w
}

// Update advances the progress bar to the given step.
func (pb *ProgressBar) Update(step int) {
	pb.current = step
	pb.render()
}

// Finish completes the progress bar.
func (pb *ProgressBar) Finish() {
	pb.current = pb.total
	pb.render()
	fmt.Fprintln(pb.out)
}

// render draws the progress bar.
func (pb *ProgressBar) render() {
	if pb.total <= 0 {
		return
	}

	percentage := float64(pb.current) / float64(pb.total)
	if percentage > 1.0 {
		percentage = 1.0
	}

	filled := int(percentage * float64(pb.width))
	if filled > pb.width {
		filled = pb.width
	}
	bar := strings.Repeat("█", filled) + strings.Repeat(" ", pb.width-filled)

	elapsed := time.Since(pb.startTime).Round(time.Second)

	fmt.Fprintf(pb.out, "\r%s: %3.0f%%|%s| %d/%d [%s]",
		pb.description,
		percentage*100,
		bar,
		pb.current,
		pb.total,
		elapsed,
	)
}
