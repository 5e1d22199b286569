package energyarray

import (
	"fmt"
	"sort"
	"strings"

	"github.com/surfacelab/pesscan/pkg/outcar"
	"github.com/surfacelab/pesscan/pkg/scan"
	"github.com/surfacelab/pesscan/pkg/table"
)

// Columns consulted for the selection options in table mode.
var (
	FreeEnergyColumns = []string{table.ColFreeEnergy, "Energy_free_eV"}
	ConvergedColumns  = []string{table.ColConverged, "converged"}
)

// CalculationColumns are the accepted run name columns.
var CalculationColumns = []string{table.ColCalculation, "calculation"}

// RowProblem is a table row whose cells could not be used.
type RowProblem struct {
	Row    int
	Reason string
}

// TableReport lists what FromTable could not use.
type TableReport struct {
	Problems []RowProblem
	// Ignored names the selection options the table has no column for.
	Ignored []string
}

// tableColumns are the columns of a loaded table resolved once before the
// rows are read.
type tableColumns struct {
	energy    table.Column
	free      *table.Column
	converged *table.Column
}

// FromTable builds an array from a loaded table. The energy column is the
// first name of EnergyColumns[kind] present in the header. With a usable
// identifier column positions follow identifiers, otherwise row order.
// Energies are selected with opts exactly as for run directories, as far as
// the table carries the needed columns.
func FromTable(l *table.Loaded, opts RecordOptions, fill float64) (*Array, TableReport, error) {
	var report TableReport

	cols, err := resolveColumns(l, opts, &report)
	if err != nil {
		return nil, report, err
	}

	energies := make([]*float64, len(l.Rows))

	for row := range l.Rows {
		rec, reasons := tableRecord(l, row, cols, opts.EnergyType)
		for _, reason := range reasons {
			report.Problems = append(report.Problems, RowProblem{Row: row, Reason: reason})
		}

		energies[row] = opts.Select(&rec)
	}

	arr := &Array{
		Fill:       fill,
		EnergyType: opts.EnergyType,
		Column:     cols.energy.Name,
		Source:     l.Path,
	}

	indices, indexProblems := identifiers(l, opts.maxIndex())
	report.Problems = append(report.Problems, indexProblems...)

	if indices != nil {
		entries := make([]Entry, 0, len(l.Rows))

		for row, idx := range indices {
			if idx == nil {
				continue
			}

			entries = append(entries, Entry{Index: *idx, Energy: energies[row]})
		}

		arr.Mode = IndexByIdentifier
		arr.Values, arr.Present = Dense(entries, fill)

		return arr, report, nil
	}

	arr.Mode = IndexByRowOrder
	arr.Values = make([]float64, len(energies))
	arr.Present = make([]bool, len(energies))

	for i, e := range energies {
		arr.Values[i] = fill

		if e != nil {
			arr.Values[i] = *e
			arr.Present[i] = true
		}
	}

	return arr, report, nil
}

func resolveColumns(l *table.Loaded, opts RecordOptions, report *TableReport) (tableColumns, error) {
	candidates, ok := EnergyColumns[opts.EnergyType]
	if !ok {
		return tableColumns{}, fmt.Errorf("unknown energy type %q", opts.EnergyType)
	}

	var cols tableColumns

	cols.energy, ok = l.Resolve(candidates)
	if !ok {
		return cols, fmt.Errorf("%w in %s (want one of %v)", ErrNoEnergyColumn, l.Path, candidates)
	}

	if opts.FallbackFree && opts.EnergyType != outcar.EnergyFree {
		if col, ok := l.Resolve(FreeEnergyColumns); ok {
			cols.free = &col
		} else {
			report.Ignored = append(report.Ignored, "fallback_free")
		}
	}

	if opts.RequireConverged {
		if col, ok := l.Resolve(ConvergedColumns); ok {
			cols.converged = &col
		} else {
			report.Ignored = append(report.Ignored, "require_converged")
		}
	}

	return cols, nil
}

// tableRecord rebuilds the parts of a run record that energy selection
// reads. Without a convergence column every row counts as converged.
func tableRecord(l *table.Loaded, row int, cols tableColumns, kind outcar.EnergyKind) (scan.Record, []string) {
	var reasons []string

	rec := scan.Record{Converged: true}

	energy, err := table.ParseFloatCell(l.Cell(row, cols.energy))
	if err != nil {
		reasons = append(reasons, err.Error())
	}

	switch kind {
	case outcar.EnergyWithoutEntropy:
		rec.EnergyWithoutEntropy = energy
	case outcar.EnergySigma0:
		rec.EnergySigma0 = energy
	case outcar.EnergyFree:
		rec.FreeEnergy = energy
	}

	if cols.free != nil {
		free, err := table.ParseFloatCell(l.Cell(row, *cols.free))
		if err != nil {
			reasons = append(reasons, err.Error())
		}

		rec.FreeEnergy = free
	}

	if cols.converged != nil {
		converged, err := table.ParseBoolCell(l.Cell(row, *cols.converged))
		if err != nil {
			reasons = append(reasons, err.Error())
		}

		rec.Converged = converged != nil && *converged
	}

	return rec, reasons
}

// identifiers parses the identifier column. It returns nil when there is no
// identifier column or no row has a usable identifier. Identifiers above
// maxIndex are reported and ignored.
func identifiers(l *table.Loaded, maxIndex int) ([]*int, []RowProblem) {
	col, ok := l.Resolve(IndexColumns)
	if !ok {
		return nil, nil
	}

	var (
		problems []RowProblem
		found    bool
	)

	indices := make([]*int, len(l.Rows))

	for row := range l.Rows {
		idx, err := table.ParseIndexCell(l.Cell(row, col))
		if err != nil {
			problems = append(problems, RowProblem{Row: row, Reason: err.Error()})

			continue
		}

		if idx != nil && *idx > maxIndex {
			problems = append(problems, RowProblem{
				Row:    row,
				Reason: fmt.Sprintf("run index %d exceeds maximum %d", *idx, maxIndex),
			})

			continue
		}

		if idx != nil {
			indices[row] = idx
			found = true
		}
	}

	if !found {
		return nil, problems
	}

	return indices, problems
}

// MatchRuns checks that l was exported from exactly the given run
// directories: the table names each run once in a Calculation column, and
// names no other run. Tables without run names cannot be matched.
func MatchRuns(l *table.Loaded, runs []scan.RunDir) error {
	col, ok := l.Resolve(CalculationColumns)
	if !ok {
		return fmt.Errorf("%w: %s has no %s column", ErrTableMismatch, l.Path, table.ColCalculation)
	}

	want := make(map[string]struct{}, len(runs))
	for _, run := range runs {
		want[run.Name] = struct{}{}
	}

	seen := make(map[string]struct{}, len(l.Rows))

	var unknown []string

	for row := range l.Rows {
		name := strings.TrimSpace(l.Cell(row, col))
		if name == "" {
			continue
		}

		seen[name] = struct{}{}

		if _, ok := want[name]; !ok {
			unknown = append(unknown, name)
		}
	}

	if len(unknown) > 0 {
		return fmt.Errorf("%w: %s lists runs not in this scan: %s",
			ErrTableMismatch, l.Path, strings.Join(unknown, ", "))
	}

	var missing []string

	for name := range want {
		if _, ok := seen[name]; !ok {
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)

		return fmt.Errorf("%w: %s lacks runs of this scan: %s",
			ErrTableMismatch, l.Path, strings.Join(missing, ", "))
	}

	return nil
}
