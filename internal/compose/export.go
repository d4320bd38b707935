package compose

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/earthlab-education/hls-composite/internal/raster"
)

// WriteCSV emits the stack's tidy sample table: one row per valid
// spatial cell, columns x, y, then one reflectance column per band in
// stack order. Cells with any missing band were already dropped by
// Samples.
func WriteCSV(w io.Writer, stack *raster.Stack) error {
	cw := csv.NewWriter(w)

	header := []string{"x", "y"}
	for _, n := range stack.BandNumbers() {
		header = append(header, fmt.Sprintf("B%02d", n))
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	record := make([]string, len(header))
	for _, s := range stack.Samples() {
		record[0] = strconv.FormatFloat(s.X, 'f', -1, 64)
		record[1] = strconv.FormatFloat(s.Y, 'f', -1, 64)
		for i, v := range s.Values {
			record[i+2] = strconv.FormatFloat(v, 'f', -1, 64)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv record: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ExportCSV writes the sample table to a file.
func ExportCSV(path string, stack *raster.Stack) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if err := WriteCSV(f, stack); err != nil {
		return err
	}
	return f.Close()
}
