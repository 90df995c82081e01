package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/FairForge/loadprobe/internal/loadtest"
)

// WriteJSON writes r as indented JSON.
func WriteJSON(w io.Writer, r *loadtest.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

// ReadJSON decodes a report written by WriteJSON.
func ReadJSON(r io.Reader) (*loadtest.Report, error) {
	var report loadtest.Report
	if err := json.NewDecoder(r).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &report, nil
}
