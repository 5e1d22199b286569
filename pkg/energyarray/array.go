// Package energyarray assembles per-run energies into a dense array indexed
// by run identifier.
package energyarray

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/surfacelab/pesscan/pkg/outcar"
	"github.com/surfacelab/pesscan/pkg/scan"
)

var (
	// ErrNoEnergyColumn is returned when a table has none of the column
	// names known for the selected energy type.
	ErrNoEnergyColumn = errors.New("no energy column found")
	// ErrVerificationMismatch is returned when a reloaded array differs
	// from the one written.
	ErrVerificationMismatch = errors.New("array verification failed")
	// ErrTableMismatch is returned when a table does not describe the runs
	// of the calculations directory it is used for.
	ErrTableMismatch = errors.New("table does not match the scan")
)

// SourceDirect is the provenance of arrays built from run directories.
const SourceDirect = "direct_extraction"

// EnergyColumns lists, per energy type, the column names accepted when
// reading a table, in precedence order.
var EnergyColumns = map[outcar.EnergyKind][]string{
	outcar.EnergySigma0:         {"Energy_sigma_0_eV", "Energy_sigma0_eV", "Energy_eV"},
	outcar.EnergyWithoutEntropy: {"Energy_without_entropy_eV", "Energy_eV"},
	outcar.EnergyFree:           {"Energy_TOTEN_eV", "Energy_free_eV", "Energy_eV"},
}

// IndexColumns lists the accepted identifier column names in precedence
// order.
var IndexColumns = []string{"Index", "index", "Identifier"}

// IndexMode tells how array positions were assigned.
type IndexMode string

const (
	// IndexByIdentifier places each energy at its run identifier.
	IndexByIdentifier IndexMode = "identifier"
	// IndexByRowOrder places energies in input row order. Positions then
	// only match identifiers if the input rows were complete and ordered.
	IndexByRowOrder IndexMode = "row-order"
)

// Entry is one run's contribution to an array.
type Entry struct {
	Index  int
	Energy *float64
}

// Array is a dense energy array. Present marks the positions that hold an
// extracted energy; every other position holds Fill.
type Array struct {
	Values     []float64
	Present    []bool
	Fill       float64
	Mode       IndexMode
	EnergyType outcar.EnergyKind
	Column     string
	Source     string
}

// Degraded reports whether positions come from row order rather than run
// identifiers.
func (a *Array) Degraded() bool {
	return a.Mode == IndexByRowOrder
}

// Len returns the array length.
func (a *Array) Len() int {
	return len(a.Values)
}

// Dense places entries at their index in an array of length max(index)+1.
// Entries without energy still extend the array. A later entry for the same
// index overwrites an earlier one.
func Dense(entries []Entry, fill float64) ([]float64, []bool) {
	size := 0

	for _, e := range entries {
		if e.Index+1 > size {
			size = e.Index + 1
		}
	}

	values := make([]float64, size)
	present := make([]bool, size)

	for i := range values {
		values[i] = fill
	}

	for _, e := range entries {
		if e.Energy == nil {
			continue
		}

		values[e.Index] = *e.Energy
		present[e.Index] = true
	}

	return values, present
}

// RecordOptions controls how a run's energy is selected. Table and direct
// assembly apply the same policy.
type RecordOptions struct {
	EnergyType outcar.EnergyKind
	// FallbackFree uses the free energy when the selected reading is
	// missing.
	FallbackFree bool
	// RequireConverged drops energies of runs without the convergence
	// marker.
	RequireConverged bool
	// MaxIndex is the largest identifier placed in the array; zero selects
	// scan.DefaultMaxIndex.
	MaxIndex int
}

func (o RecordOptions) maxIndex() int {
	if o.MaxIndex <= 0 {
		return scan.DefaultMaxIndex
	}

	return o.MaxIndex
}

// Select returns the energy of rec under o, or nil.
func (o RecordOptions) Select(rec *scan.Record) *float64 {
	if o.RequireConverged && !rec.Converged {
		return nil
	}

	e := rec.Energy(o.EnergyType)
	if e == nil && o.FallbackFree && o.EnergyType != outcar.EnergyFree {
		e = rec.FreeEnergy
	}

	return e
}

// FromRecords builds an array indexed by the records' identifiers. Records
// without identifier or above MaxIndex are ignored.
func FromRecords(records []scan.Record, opts RecordOptions, fill float64) *Array {
	entries := make([]Entry, 0, len(records))

	for i := range records {
		rec := &records[i]
		if rec.Index == nil || *rec.Index > opts.maxIndex() {
			continue
		}

		entries = append(entries, Entry{Index: *rec.Index, Energy: opts.Select(rec)})
	}

	values, present := Dense(entries, fill)

	return &Array{
		Values:     values,
		Present:    present,
		Fill:       fill,
		Mode:       IndexByIdentifier,
		EnergyType: opts.EnergyType,
		Source:     SourceDirect,
	}
}

// ParseFill parses a fill value such as "nan", "-999" or "inf".
func ParseFill(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN(), nil
	}

	return strconv.ParseFloat(s, 64)
}
