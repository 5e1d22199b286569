package outcar

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// ConvergenceMarker is printed by VASP once the ionic relaxation met its
// stopping criterion.
const ConvergenceMarker = "reached required accuracy"

const floatExpr = `[-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?`

var (
	// Example:   energy  without entropy=     -105.14224906  energy(sigma->0) =     -105.14224906
	withoutEntropyPattern = regexp.MustCompile(`energy  without entropy\s*=\s*(` + floatExpr + `)`)
	sigma0Pattern         = regexp.MustCompile(`energy\(sigma->0\)\s*=\s*(` + floatExpr + `)`)

	// Example:   free  energy   TOTEN  =      -105.14224906 eV
	freeEnergyPattern = regexp.MustCompile(`free  energy   TOTEN\s*=\s*(` + floatExpr + `)\s*eV`)

	// Example:   Total CPU time used (sec):      345.123
	cpuTimePattern = regexp.MustCompile(`Total CPU time used \(sec\):\s*(\d+(?:\.\d*)?)`)

	ionicStepPattern = regexp.MustCompile(`POSITION\s+TOTAL-FORCE`)
)

// electronicStepMarkers prefix one line per electronic iteration, for the
// Davidson and RMM-DIIS solvers respectively.
var electronicStepMarkers = [][]byte{[]byte("DAV:"), []byte("RMM:")}

// vaspParser parses VASP OUTCAR documents.
type vaspParser struct {
	minSize int64
}

// New creates an OUTCAR parser. Documents smaller than minSize bytes are
// treated as unparseable; a non-positive minSize selects DefaultMinSize.
func New(minSize int64) Parser {
	if minSize <= 0 {
		minSize = DefaultMinSize
	}

	return &vaspParser{minSize: minSize}
}

// Ensure interface compliance.
var _ Parser = (*vaspParser)(nil)

// ParseFile reads and parses the OUTCAR at path.
func (p *vaspParser) ParseFile(path string) *Result {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Result{Error: "output file not found"}
		}

		return &Result{Error: fmt.Sprintf("stat output file: %v", err)}
	}

	if info.IsDir() {
		return &Result{Error: "output path is a directory"}
	}

	if info.Size() < p.minSize {
		return &Result{Error: fmt.Sprintf(
			"output file too small (%d bytes < %d)", info.Size(), p.minSize,
		)}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return &Result{Error: fmt.Sprintf("reading output file: %v", err)}
	}

	return p.Parse(content)
}

// Parse extracts metrics from OUTCAR content. Every labelled energy is
// printed once per iteration, so the last occurrence is the final value.
func (p *vaspParser) Parse(content []byte) *Result {
	result := &Result{
		Converged: bytes.Contains(content, []byte(ConvergenceMarker)),
	}

	var problems []string

	capture := func(pattern *regexp.Regexp, label string) *float64 {
		v, err := lastFloat(pattern, content)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", label, err))
		}

		return v
	}

	result.EnergyWithoutEntropy = capture(withoutEntropyPattern, "energy without entropy")
	result.EnergySigma0 = capture(sigma0Pattern, "energy(sigma->0)")
	result.FreeEnergy = capture(freeEnergyPattern, "free energy TOTEN")
	result.CPUTimeSec = capture(cpuTimePattern, "total CPU time")

	for _, marker := range electronicStepMarkers {
		result.ElectronicSteps += bytes.Count(content, marker)
	}

	result.IonicSteps = len(ionicStepPattern.FindAllIndex(content, -1))

	if len(problems) > 0 {
		result.Error = strings.Join(problems, "; ")
	}

	return result
}

// lastFloat returns the value captured by the last match of pattern, or nil
// when the pattern does not occur.
func lastFloat(pattern *regexp.Regexp, content []byte) (*float64, error) {
	matches := pattern.FindAllSubmatch(content, -1)
	if len(matches) == 0 {
		return nil, nil
	}

	raw := string(matches[len(matches)-1][1])

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing %q: %w", raw, err)
	}

	return &v, nil
}
