package table

import (
	"bytes"
	"context"
	"fmt"

	"github.com/surfacelab/pesscan/pkg/fsutil"
	"github.com/surfacelab/pesscan/pkg/scan"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// parquetRow is the parquet schema of one aggregate table row.
type parquetRow struct {
	Calculation          string   `parquet:"name=Calculation, type=BYTE_ARRAY, convertedtype=UTF8"`
	Index                *int64   `parquet:"name=Index, type=INT64, repetitiontype=OPTIONAL"`
	EnergyWithoutEntropy *float64 `parquet:"name=Energy_without_entropy_eV, type=DOUBLE, repetitiontype=OPTIONAL"`
	EnergySigma0         *float64 `parquet:"name=Energy_sigma_0_eV, type=DOUBLE, repetitiontype=OPTIONAL"`
	FreeEnergy           *float64 `parquet:"name=Energy_TOTEN_eV, type=DOUBLE, repetitiontype=OPTIONAL"`
	Converged            bool     `parquet:"name=Converged, type=BOOLEAN"`
	ElectronicSteps      int32    `parquet:"name=Electronic_steps, type=INT32"`
	IonicSteps           int32    `parquet:"name=Ionic_steps, type=INT32"`
	CPUTimeSec           *float64 `parquet:"name=CPU_time_sec, type=DOUBLE, repetitiontype=OPTIONAL"`
	Status               string   `parquet:"name=Status, type=BYTE_ARRAY, convertedtype=UTF8"`
	Error                string   `parquet:"name=Error, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func newParquetRow(r *scan.Record) *parquetRow {
	row := &parquetRow{
		Calculation:          r.Name,
		EnergyWithoutEntropy: r.EnergyWithoutEntropy,
		EnergySigma0:         r.EnergySigma0,
		FreeEnergy:           r.FreeEnergy,
		Converged:            r.Converged,
		ElectronicSteps:      int32(r.ElectronicSteps),
		IonicSteps:           int32(r.IonicSteps),
		CPUTimeSec:           r.CPUTimeSec,
		Status:               string(r.Status),
		Error:                r.Error,
	}

	if r.Index != nil {
		idx := int64(*r.Index)
		row.Index = &idx
	}

	return row
}

// parquetWriter writes the table as a single SNAPPY compressed parquet file.
type parquetWriter struct {
	owner *fsutil.OwnerConfig
}

// Ensure interface compliance.
var _ Writer = (*parquetWriter)(nil)

func (w *parquetWriter) Format() Format {
	return FormatParquet
}

func (w *parquetWriter) Write(_ context.Context, names Names, t *scan.Table, _ *Summary) ([]string, error) {
	buf := new(bytes.Buffer)

	pw, err := writer.NewParquetWriterFromWriter(buf, new(parquetRow), 1)
	if err != nil {
		return nil, fmt.Errorf("creating parquet writer: %w", err)
	}

	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i := range t.Records {
		if err := pw.Write(newParquetRow(&t.Records[i])); err != nil {
			return nil, fmt.Errorf("writing parquet row %d: %w", i, err)
		}
	}

	if err := stopParquet(pw); err != nil {
		return nil, fmt.Errorf("finishing parquet file: %w", err)
	}

	path := names.Table("parquet")
	if err := fsutil.WriteFile(path, buf.Bytes(), 0o644, w.owner); err != nil {
		return nil, fmt.Errorf("writing %s: %w", path, err)
	}

	return []string{path}, nil
}

// stopParquet flushes pw. WriteStop can panic on malformed data.
func stopParquet(pw *writer.ParquetWriter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if rerr, ok := r.(error); ok {
				err = rerr
			} else {
				err = fmt.Errorf("panic value: %v", r)
			}
		}
	}()

	return pw.WriteStop()
}
