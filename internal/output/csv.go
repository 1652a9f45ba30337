package output

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/breatheroute/sensorbridge/internal/measurement"
)

// CSVEncoder writes a header line followed by one line per row. Null cells
// are empty fields.
type CSVEncoder struct{}

// Format implements Encoder.
func (CSVEncoder) Format() Format { return FormatCSV }

// Encode implements Encoder.
func (CSVEncoder) Encode(w io.Writer, t *measurement.Table) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	record := make([]string, len(t.Columns))
	for i, row := range t.Rows {
		for j := range record {
			record[j] = ""
			if j < len(row) {
				record[j] = row[j].String()
			}
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
