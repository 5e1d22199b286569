package table

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/surfacelab/pesscan/pkg/scan"
)

// Column names of the aggregate table.
const (
	ColCalculation     = "Calculation"
	ColIndex           = "Index"
	ColWithoutEntropy  = "Energy_without_entropy_eV"
	ColSigma0          = "Energy_sigma_0_eV"
	ColFreeEnergy      = "Energy_TOTEN_eV"
	ColConverged       = "Converged"
	ColElectronicSteps = "Electronic_steps"
	ColIonicSteps      = "Ionic_steps"
	ColCPUTime         = "CPU_time_sec"
	ColStatus          = "Status"
	ColError           = "Error"
)

// Columns is the column order of every written table.
var Columns = []string{
	ColCalculation,
	ColIndex,
	ColWithoutEntropy,
	ColSigma0,
	ColFreeEnergy,
	ColConverged,
	ColElectronicSteps,
	ColIonicSteps,
	ColCPUTime,
	ColStatus,
	ColError,
}

// Sheet names of the xlsx artifact.
const (
	SheetAll     = "All_Energies"
	SheetSummary = "Summary"
	SheetFailed  = "Failed_Calculations"
)

// Format is a table artifact kind.
type Format string

const (
	FormatXLSX    Format = "xlsx"
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
	FormatSQLite  Format = "sqlite"
)

// ErrUnsupportedFormat is returned for unknown table formats.
var ErrUnsupportedFormat = errors.New("unsupported table format")

// ParseFormat converts a user supplied format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatXLSX, FormatCSV, FormatParquet, FormatSQLite:
		return f, nil
	case "excel":
		return FormatXLSX, nil
	case "db", "sqlite3":
		return FormatSQLite, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// formatFloat renders v in the shortest form that parses back to v. Nil
// renders as an empty cell.
func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}

	if math.IsNaN(*v) {
		return "NaN"
	}

	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatIndex(v *int) string {
	if v == nil {
		return ""
	}

	return strconv.Itoa(*v)
}

func formatBool(v bool) string {
	if v {
		return "True"
	}

	return "False"
}

// recordRow renders a record as string cells in Columns order.
func recordRow(r *scan.Record) []string {
	return []string{
		r.Name,
		formatIndex(r.Index),
		formatFloat(r.EnergyWithoutEntropy),
		formatFloat(r.EnergySigma0),
		formatFloat(r.FreeEnergy),
		formatBool(r.Converged),
		strconv.Itoa(r.ElectronicSteps),
		strconv.Itoa(r.IonicSteps),
		formatFloat(r.CPUTimeSec),
		string(r.Status),
		r.Error,
	}
}

// ParseFloatCell parses a numeric cell. Empty cells and pandas style
// missing markers yield nil.
func ParseFloatCell(s string) (*float64, error) {
	s = strings.TrimSpace(s)

	switch strings.ToLower(s) {
	case "", "nan", "none", "null", "na", "n/a":
		return nil, nil
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing %q as float: %w", s, err)
	}

	return &v, nil
}

// ParseBoolCell parses a boolean cell as written by this package, pandas
// or a spreadsheet. Empty cells yield nil.
func ParseBoolCell(s string) (*bool, error) {
	var v bool

	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return nil, nil
	case "true", "1", "yes":
		v = true
	case "false", "0", "no":
		v = false
	default:
		return nil, fmt.Errorf("parsing %q as bool", s)
	}

	return &v, nil
}

// ParseIndexCell parses an identifier cell. Tables written by pandas store
// identifiers as floats ("3.0") when the column has gaps.
func ParseIndexCell(s string) (*int, error) {
	v, err := ParseFloatCell(s)
	if err != nil || v == nil {
		return nil, err
	}

	if *v < 0 || *v != math.Trunc(*v) || *v > math.MaxInt32 {
		return nil, fmt.Errorf("invalid run index %q", s)
	}

	idx := int(*v)

	return &idx, nil
}
