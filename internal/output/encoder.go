// Package output encodes measurement tables and persists them atomically.
package output

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/breatheroute/sensorbridge/internal/measurement"
)

// Format is an output file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// DefaultSheetName is used for XLSX output when no sheet name is configured.
const DefaultSheetName = "measurements"

// ErrUnsupportedFormat is returned for output paths with an unknown extension.
var ErrUnsupportedFormat = errors.New("unsupported output format")

// Encoder serializes a table.
type Encoder interface {
	Encode(w io.Writer, t *measurement.Table) error
	Format() Format
}

// FormatFromPath infers the output format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// EncoderFor returns the encoder matching path's extension. The sheet name
// only matters, and is only checked, for XLSX.
func EncoderFor(path, sheet string) (Encoder, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatCSV:
		return CSVEncoder{}, nil
	default:
		if err := ValidateSheetName(sheet); err != nil {
			return nil, err
		}
		return XLSXEncoder{Sheet: sheet}, nil
	}
}
