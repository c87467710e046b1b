package dipole

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
)

// TickStats is one telemetry record per simulation tick.
type TickStats struct {
	Tick        int64   `csv:"tick"`
	Dt          float32 `csv:"dt"`
	Active      int     `csv:"active"`
	Spawned     int     `csv:"spawned"`
	Died        int     `csv:"died"`
	Published   bool    `csv:"published"`
	FreshPairs  int     `csv:"fresh_pairs"`
	Outstanding int     `csv:"outstanding"`
}

// TelemetryWriter appends tick stats to ticks.csv in the output
// directory. All methods are nil-receiver safe so callers can hold a
// nil writer when telemetry is disabled.
type TelemetryWriter struct {
	file          *os.File
	headerWritten bool
}

// NewTelemetryWriter creates the output directory and the CSV file.
// An empty dir disables telemetry and returns a nil writer.
func NewTelemetryWriter(dir string) (*TelemetryWriter, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating telemetry directory: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, "ticks.csv"))
	if err != nil {
		return nil, fmt.Errorf("creating ticks.csv: %w", err)
	}
	return &TelemetryWriter{file: f}, nil
}

// Write appends one record, emitting the header on first use.
func (w *TelemetryWriter) Write(stats TickStats) error {
	if w == nil {
		return nil
	}
	records := []TickStats{stats}
	if !w.headerWritten {
		if err := gocsv.Marshal(records, w.file); err != nil {
			return fmt.Errorf("writing tick stats: %w", err)
		}
		w.headerWritten = true
		return nil
	}
	if err := gocsv.MarshalWithoutHeaders(records, w.file); err != nil {
		return fmt.Errorf("writing tick stats: %w", err)
	}
	return nil
}

func (w *TelemetryWriter) Close() error {
	if w == nil || w.file == nil {
		return nil
	}
	return w.file.Close()
}
