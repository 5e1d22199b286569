package table

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/surfacelab/pesscan/pkg/fsutil"
	"github.com/surfacelab/pesscan/pkg/scan"
)

// EncodeCSV writes records as CSV with a header row. The output depends
// only on the records, so unchanged runs encode to identical bytes.
func EncodeCSV(w io.Writer, records []scan.Record) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(Columns); err != nil {
		return err
	}

	for i := range records {
		if err := cw.Write(recordRow(&records[i])); err != nil {
			return err
		}
	}

	cw.Flush()

	return cw.Error()
}

// EncodeSummaryCSV writes the Statistic/Value rows of s as CSV. Values that
// are not finite are left empty.
func EncodeSummaryCSV(w io.Writer, s *Summary) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"Statistic", "Value"}); err != nil {
		return err
	}

	for _, row := range s.Rows() {
		value := ""
		if row.Finite() {
			value = strconv.FormatFloat(row.Value, 'f', -1, 64)
		}

		if err := cw.Write([]string{row.Statistic, value}); err != nil {
			return err
		}
	}

	cw.Flush()

	return cw.Error()
}

// csvWriter is the flat fallback: one table file plus a summary file.
type csvWriter struct {
	owner *fsutil.OwnerConfig
}

// Ensure interface compliance.
var _ Writer = (*csvWriter)(nil)

func (w *csvWriter) Format() Format {
	return FormatCSV
}

func (w *csvWriter) Write(_ context.Context, names Names, t *scan.Table, s *Summary) ([]string, error) {
	var buf bytes.Buffer

	if err := EncodeCSV(&buf, t.Records); err != nil {
		return nil, fmt.Errorf("encoding csv: %w", err)
	}

	tablePath := names.Table("csv")
	if err := fsutil.WriteFile(tablePath, buf.Bytes(), 0o644, w.owner); err != nil {
		return nil, fmt.Errorf("writing %s: %w", tablePath, err)
	}

	written := []string{tablePath}

	if s.Successful == 0 {
		return written, nil
	}

	buf.Reset()

	if err := EncodeSummaryCSV(&buf, s); err != nil {
		return written, fmt.Errorf("encoding summary csv: %w", err)
	}

	summaryPath := names.Summary("csv")
	if err := fsutil.WriteFile(summaryPath, buf.Bytes(), 0o644, w.owner); err != nil {
		return written, fmt.Errorf("writing %s: %w", summaryPath, err)
	}

	return append(written, summaryPath), nil
}

// readCSV loads a CSV table into a string grid.
func readCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	return cr.ReadAll()
}
