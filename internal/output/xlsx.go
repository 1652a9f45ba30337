package output

import (
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/breatheroute/sensorbridge/internal/measurement"
)

// defaultWorkbookSheet is the sheet excelize creates in a new workbook.
const defaultWorkbookSheet = "Sheet1"

// ErrInvalidSheetName is returned for worksheet names a workbook cannot hold.
var ErrInvalidSheetName = errors.New("invalid sheet name")

// ValidateSheetName checks name against the workbook's naming rules: at most
// 31 characters, none of :\/?*[] and no apostrophe at either end. An empty
// name selects DefaultSheetName and is valid.
func ValidateSheetName(name string) error {
	if name == "" || name == defaultWorkbookSheet {
		return nil
	}
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName(defaultWorkbookSheet, name); err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidSheetName, name, err)
	}
	return nil
}

// XLSXEncoder writes the table to a single worksheet. Numeric values become
// numeric cells so spreadsheet formulas work on them.
type XLSXEncoder struct {
	Sheet string
}

// Format implements Encoder.
func (XLSXEncoder) Format() Format { return FormatXLSX }

// Encode implements Encoder.
func (e XLSXEncoder) Encode(w io.Writer, t *measurement.Table) error {
	sheet := e.Sheet
	if sheet == "" {
		sheet = DefaultSheetName
	}

	f := excelize.NewFile()
	defer f.Close()

	if sheet != defaultWorkbookSheet {
		if err := f.SetSheetName(defaultWorkbookSheet, sheet); err != nil {
			return fmt.Errorf("name sheet: %w", err)
		}
	}

	header := make([]interface{}, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, row := range t.Rows {
		cells := make([]interface{}, len(t.Columns))
		for j := range cells {
			if j < len(row) {
				cells[j] = cellValue(row[j])
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func cellValue(v measurement.Value) interface{} {
	switch v.Kind() {
	case measurement.KindNull:
		return nil
	case measurement.KindNumber:
		if f, ok := v.Float64(); ok {
			return f
		}
		return v.String()
	case measurement.KindBool:
		return v.String() == "true"
	default:
		return v.String()
	}
}
