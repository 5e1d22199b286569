package outcar

import (
	"fmt"
	"strings"
)

// DefaultMinSize is the smallest output document, in bytes, that is worth
// parsing. Anything shorter comes from a run that crashed or never started.
const DefaultMinSize int64 = 1000

// EnergyKind selects one of the scalar energies reported in an output document.
type EnergyKind string

const (
	// EnergyWithoutEntropy is the "energy  without entropy" reading.
	EnergyWithoutEntropy EnergyKind = "without-entropy"
	// EnergySigma0 is the "energy(sigma->0)" reading.
	EnergySigma0 EnergyKind = "sigma0"
	// EnergyFree is the "free  energy   TOTEN" reading.
	EnergyFree EnergyKind = "free"
)

// EnergyKinds lists the supported energy kinds.
var EnergyKinds = []EnergyKind{EnergyWithoutEntropy, EnergySigma0, EnergyFree}

// ParseEnergyKind converts a user supplied name into an EnergyKind. A few
// spellings seen in older job scripts are accepted as well.
func ParseEnergyKind(s string) (EnergyKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "without-entropy", "without_entropy", "primary":
		return EnergyWithoutEntropy, nil
	case "sigma0", "sigma-0", "sigma_0", "secondary":
		return EnergySigma0, nil
	case "free", "toten":
		return EnergyFree, nil
	default:
		return "", fmt.Errorf("unknown energy type %q (use %q, %q or %q)",
			s, EnergyWithoutEntropy, EnergySigma0, EnergyFree)
	}
}

// Result holds the metrics extracted from one output document. Absent
// readings are nil, never zero.
type Result struct {
	EnergyWithoutEntropy *float64
	EnergySigma0         *float64
	FreeEnergy           *float64
	Converged            bool
	ElectronicSteps      int
	IonicSteps           int
	CPUTimeSec           *float64
	// Error describes why the document could not be (fully) parsed.
	Error string
}

// Energy returns the reading selected by kind.
func (r *Result) Energy(kind EnergyKind) *float64 {
	switch kind {
	case EnergyWithoutEntropy:
		return r.EnergyWithoutEntropy
	case EnergySigma0:
		return r.EnergySigma0
	case EnergyFree:
		return r.FreeEnergy
	default:
		return nil
	}
}

// Parser extracts run metrics from a calculation output document.
type Parser interface {
	// Parse extracts metrics from the full content of a document.
	Parse(content []byte) *Result

	// ParseFile reads and parses the document at path. Missing or
	// undersized documents yield a Result without energies and with Error
	// set; ParseFile never fails.
	ParseFile(path string) *Result
}
