package table

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/surfacelab/pesscan/pkg/fsutil"
	"github.com/surfacelab/pesscan/pkg/scan"
	"github.com/xuri/excelize/v2"
)

// xlsxWriter writes a workbook with the full table, the summary and the
// failed runs on separate sheets.
type xlsxWriter struct {
	owner *fsutil.OwnerConfig
}

// Ensure interface compliance.
var _ Writer = (*xlsxWriter)(nil)

func (w *xlsxWriter) Format() Format {
	return FormatXLSX
}

func (w *xlsxWriter) Write(_ context.Context, names Names, t *scan.Table, s *Summary) ([]string, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetAll); err != nil {
		return nil, fmt.Errorf("naming sheet: %w", err)
	}

	rows := make([][]any, 0, len(t.Records))
	for i := range t.Records {
		rows = append(rows, recordCells(&t.Records[i]))
	}

	if err := writeSheet(f, SheetAll, Columns, rows); err != nil {
		return nil, err
	}

	if s.Successful > 0 {
		summaryRows := make([][]any, 0, 11)
		for _, row := range s.Rows() {
			summaryRows = append(summaryRows, []any{row.Statistic, summaryCell(row)})
		}

		if err := addSheet(f, SheetSummary, []string{"Statistic", "Value"}, summaryRows); err != nil {
			return nil, err
		}
	}

	if failed := t.Failed(); len(failed) > 0 {
		failedRows := make([][]any, 0, len(failed))
		for i := range failed {
			failedRows = append(failedRows, recordCells(&failed[i]))
		}

		if err := addSheet(f, SheetFailed, Columns, failedRows); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("encoding workbook: %w", err)
	}

	path := names.Table("xlsx")
	if err := fsutil.WriteFile(path, buf.Bytes(), 0o644, w.owner); err != nil {
		return nil, fmt.Errorf("writing %s: %w", path, err)
	}

	return []string{path}, nil
}

func addSheet(f *excelize.File, name string, header []string, rows [][]any) error {
	if _, err := f.NewSheet(name); err != nil {
		return fmt.Errorf("creating sheet %s: %w", name, err)
	}

	return writeSheet(f, name, header, rows)
}

func writeSheet(f *excelize.File, sheet string, header []string, rows [][]any) error {
	headerCells := make([]any, len(header))
	for i, h := range header {
		headerCells[i] = h
	}

	for i, row := range append([][]any{headerCells}, rows...) {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}

		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("writing %s row %d: %w", sheet, i+1, err)
		}
	}

	return nil
}

// recordCells renders a record as typed cells so numbers stay numeric in
// the workbook. Missing values become empty cells.
func recordCells(r *scan.Record) []any {
	return []any{
		r.Name,
		indexCell(r.Index),
		floatCell(r.EnergyWithoutEntropy),
		floatCell(r.EnergySigma0),
		floatCell(r.FreeEnergy),
		r.Converged,
		r.ElectronicSteps,
		r.IonicSteps,
		floatCell(r.CPUTimeSec),
		string(r.Status),
		r.Error,
	}
}

// floatCell leaves missing and non-finite values empty, since a workbook
// cannot hold NaN or Inf as a number.
func floatCell(v *float64) any {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}

	return *v
}

func summaryCell(row SummaryRow) any {
	if !row.Finite() {
		return nil
	}

	return row.Value
}

func indexCell(v *int) any {
	if v == nil {
		return nil
	}

	return *v
}

// readXLSX loads the main sheet of a workbook, or its first sheet when the
// workbook was not written by this package.
func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	sheet := SheetAll
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook has no sheets")
		}

		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("reading sheet %s: %w", sheet, err)
	}

	return rows, nil
}
