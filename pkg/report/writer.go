// Package report emits the results of a finished capture session: the
// captured set as a JSON file and the throughput statistics as a
// human-readable table.
package report

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/calyptra/mqttcap/pkg/capture"
)

// WriteRecords serializes the captured set to path as a pretty-printed
// JSON array, preserving arrival order. A write failure is fatal to the
// run; there is nothing to recover into.
func WriteRecords(path string, records []capture.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if records == nil {
		records = []capture.Record{}
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("failed to write captured set to %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to flush output file %s: %w", path, err)
	}
	return nil
}

// ReadRecords reads a capture file back into an ordered record set.
func ReadRecords(path string) ([]capture.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture file %s: %w", path, err)
	}
	var records []capture.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse capture file %s: %w", path, err)
	}
	return records, nil
}
