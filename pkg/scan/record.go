package scan

import (
	"github.com/surfacelab/pesscan/pkg/outcar"
)

// Status classifies a run by whether a usable energy was extracted.
type Status string

const (
	// StatusSuccess means the status energy was extracted.
	StatusSuccess Status = "Success"
	// StatusFailed means no usable energy was extracted.
	StatusFailed Status = "Failed"
)

// Record is the outcome of one run. Records are built once and not
// modified afterwards.
type Record struct {
	Name string
	// Index is the run identifier. It is nil only for rows loaded from a
	// table whose identifier cell was empty.
	Index                *int
	EnergyWithoutEntropy *float64
	EnergySigma0         *float64
	FreeEnergy           *float64
	Converged            bool
	ElectronicSteps      int
	IonicSteps           int
	CPUTimeSec           *float64
	Status               Status
	Error                string
}

// NewRecord builds the record of run name/index from a parser result. The
// run is Successful iff the energy selected by statusEnergy is present.
func NewRecord(name string, index int, res *outcar.Result, statusEnergy outcar.EnergyKind) Record {
	rec := Record{
		Name:                 name,
		Index:                &index,
		EnergyWithoutEntropy: res.EnergyWithoutEntropy,
		EnergySigma0:         res.EnergySigma0,
		FreeEnergy:           res.FreeEnergy,
		Converged:            res.Converged,
		ElectronicSteps:      res.ElectronicSteps,
		IonicSteps:           res.IonicSteps,
		CPUTimeSec:           res.CPUTimeSec,
		Status:               StatusFailed,
		Error:                res.Error,
	}

	if res.Energy(statusEnergy) != nil {
		rec.Status = StatusSuccess
	}

	return rec
}

// Energy returns the reading selected by kind.
func (r *Record) Energy(kind outcar.EnergyKind) *float64 {
	switch kind {
	case outcar.EnergyWithoutEntropy:
		return r.EnergyWithoutEntropy
	case outcar.EnergySigma0:
		return r.EnergySigma0
	case outcar.EnergyFree:
		return r.FreeEnergy
	default:
		return nil
	}
}

// Skipped is a run directory excluded from the table.
type Skipped struct {
	Name   string
	Reason string
}

// Tally counts run outcomes during a single aggregation pass.
type Tally struct {
	Discovered int
	Successful int
	Failed     int
	Skipped    int
	Converged  int
}

func (t *Tally) add(rec *Record) {
	if rec.Status == StatusSuccess {
		t.Successful++
	} else {
		t.Failed++
	}

	if rec.Converged {
		t.Converged++
	}
}

// Table is the ordered result of one aggregation pass, in directory
// discovery order.
type Table struct {
	Dir          string
	StatusEnergy outcar.EnergyKind
	Records      []Record
	Skipped      []Skipped
	Tally        Tally
}

// Successful returns the records with StatusSuccess.
func (t *Table) Successful() []Record {
	return t.filter(func(r *Record) bool { return r.Status == StatusSuccess })
}

// Failed returns the records with StatusFailed.
func (t *Table) Failed() []Record {
	return t.filter(func(r *Record) bool { return r.Status == StatusFailed })
}

// NotConverged returns records that have an energy but lack the
// convergence marker.
func (t *Table) NotConverged() []Record {
	return t.filter(func(r *Record) bool {
		return r.Status == StatusSuccess && !r.Converged
	})
}

func (t *Table) filter(keep func(*Record) bool) []Record {
	out := make([]Record, 0, len(t.Records))

	for i := range t.Records {
		if keep(&t.Records[i]) {
			out = append(out, t.Records[i])
		}
	}

	return out
}
