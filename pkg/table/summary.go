package table

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/surfacelab/pesscan/pkg/scan"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// StdEstimator selects the standard deviation estimator.
type StdEstimator string

const (
	// Sample divides by n-1 (pandas Series.std).
	Sample StdEstimator = "sample"
	// Population divides by n (numpy std).
	Population StdEstimator = "population"
)

// ParseStdEstimator converts a user supplied estimator name.
func ParseStdEstimator(s string) (StdEstimator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sample", "ddof1", "ddof=1":
		return Sample, nil
	case "population", "ddof0", "ddof=0":
		return Population, nil
	default:
		return "", fmt.Errorf("unknown std estimator %q (use %q or %q)", s, Sample, Population)
	}
}

// MeanStdDev returns the mean and standard deviation of x. The sample
// estimator yields NaN for a single value.
func (e StdEstimator) MeanStdDev(x []float64) (mean, std float64) {
	if e == Population {
		return stat.PopMeanStdDev(x, nil)
	}

	return stat.MeanStdDev(x, nil)
}

// Extremum is an extremal energy and the run it came from.
type Extremum struct {
	Value float64
	Name  string
	Index *int
}

// Summary holds statistics over the Successful rows of a table.
type Summary struct {
	Energy       string
	Total        int
	Successful   int
	Failed       int
	Skipped      int
	Converged    int
	NotConverged int
	SuccessRate  float64

	// Energy statistics; valid when EnergyCount > 0.
	EnergyCount int
	Mean        float64
	StdDev      float64
	Estimator   StdEstimator
	Min         Extremum
	Max         Extremum
	Range       float64

	// Compute statistics; valid when CPUCount > 0.
	CPUCount      int
	MeanCPUSec    float64
	TotalCPUSec   float64
	TotalCPUHours float64
}

// Summarize computes the summary of t using est for the standard deviation.
func Summarize(t *scan.Table, est StdEstimator) Summary {
	s := Summary{
		Energy:       string(t.StatusEnergy),
		Total:        len(t.Records),
		Skipped:      len(t.Skipped),
		Estimator:    est,
		NotConverged: len(t.NotConverged()),
	}

	successful := t.Successful()
	s.Successful = len(successful)
	s.Failed = s.Total - s.Successful

	if s.Total > 0 {
		s.SuccessRate = float64(s.Successful) / float64(s.Total) * 100
	}

	energies := make([]float64, 0, len(successful))
	owners := make([]*scan.Record, 0, len(successful))
	cpu := make([]float64, 0, len(successful))

	for i := range t.Records {
		if t.Records[i].Converged {
			s.Converged++
		}
	}

	for i := range successful {
		rec := &successful[i]

		if e := rec.Energy(t.StatusEnergy); e != nil {
			energies = append(energies, *e)
			owners = append(owners, rec)
		}

		if rec.CPUTimeSec != nil {
			cpu = append(cpu, *rec.CPUTimeSec)
		}
	}

	if s.EnergyCount = len(energies); s.EnergyCount > 0 {
		s.Mean, s.StdDev = est.MeanStdDev(energies)

		lo, hi := floats.MinIdx(energies), floats.MaxIdx(energies)
		s.Min = Extremum{Value: energies[lo], Name: owners[lo].Name, Index: owners[lo].Index}
		s.Max = Extremum{Value: energies[hi], Name: owners[hi].Name, Index: owners[hi].Index}
		s.Range = s.Max.Value - s.Min.Value
	}

	if s.CPUCount = len(cpu); s.CPUCount > 0 {
		s.TotalCPUSec = floats.Sum(cpu)
		s.MeanCPUSec = stat.Mean(cpu, nil)
		s.TotalCPUHours = s.TotalCPUSec / 3600
	}

	return s
}

// SummaryRow is one Statistic/Value pair of the summary artifact.
type SummaryRow struct {
	Statistic string
	Value     float64
}

// Finite reports whether Value is a number the rich formats can store. The
// sample standard deviation of a single energy is NaN.
func (r SummaryRow) Finite() bool {
	return !math.IsNaN(r.Value) && !math.IsInf(r.Value, 0)
}

// Rows returns the summary as Statistic/Value pairs.
func (s *Summary) Rows() []SummaryRow {
	return []SummaryRow{
		{"Total Calculations", float64(s.Total)},
		{"Successful", float64(s.Successful)},
		{"Failed", float64(s.Failed)},
		{"Not Converged", float64(s.NotConverged)},
		{"Success Rate (%)", s.SuccessRate},
		{"Mean Energy (eV)", s.Mean},
		{"Min Energy (eV)", s.Min.Value},
		{"Max Energy (eV)", s.Max.Value},
		{"Std Dev (eV)", s.StdDev},
		{"Energy Range (eV)", s.Range},
		{"Total CPU Hours", s.TotalCPUHours},
	}
}

const rule = "================================================================================"

// WriteSummary renders the human-readable summary of t. Failed runs (no
// usable energy) and not converged runs (energy without convergence marker)
// are listed separately.
func WriteSummary(w io.Writer, t *scan.Table, s *Summary) error {
	var b strings.Builder

	fmt.Fprintf(&b, "%s\nSUMMARY STATISTICS\n%s\n", rule, rule)
	fmt.Fprintf(&b, "Total calculations processed: %d\n", s.Total)
	fmt.Fprintf(&b, "Successful calculations: %d\n", s.Successful)
	fmt.Fprintf(&b, "Failed calculations: %d\n", s.Failed)
	fmt.Fprintf(&b, "Skipped directories: %d\n", s.Skipped)
	fmt.Fprintf(&b, "Converged calculations: %d\n", s.Converged)
	fmt.Fprintf(&b, "Success rate: %.1f%%\n", s.SuccessRate)

	if s.EnergyCount > 0 {
		fmt.Fprintf(&b, "\nEnergy Statistics (eV, %s):\n", s.Energy)
		fmt.Fprintf(&b, "  Mean energy: %.6f\n", s.Mean)
		fmt.Fprintf(&b, "  Min energy:  %.6f (%s)\n", s.Min.Value, describe(s.Min))
		fmt.Fprintf(&b, "  Max energy:  %.6f (%s)\n", s.Max.Value, describe(s.Max))
		fmt.Fprintf(&b, "  Std dev:     %.6f (%s)\n", s.StdDev, s.Estimator)
		fmt.Fprintf(&b, "  Range:       %.6f\n", s.Range)
	}

	if s.CPUCount > 0 {
		fmt.Fprintf(&b, "\nComputational Statistics:\n")
		fmt.Fprintf(&b, "  Mean CPU time: %.1f seconds\n", s.MeanCPUSec)
		fmt.Fprintf(&b, "  Total CPU time: %.1f seconds (%.1f hours)\n", s.TotalCPUSec, s.TotalCPUHours)
	}

	if failed := t.Failed(); len(failed) > 0 {
		fmt.Fprintf(&b, "\nFailed calculations (%d):\n", len(failed))

		for _, rec := range failed {
			reason := rec.Error
			if reason == "" {
				reason = "no energy found"
			}

			fmt.Fprintf(&b, "  %s: %s\n", rec.Name, reason)
		}
	}

	if notConverged := t.NotConverged(); len(notConverged) > 0 {
		fmt.Fprintf(&b, "\nCalculations with energy but NOT converged (%d):\n", len(notConverged))

		for _, rec := range notConverged {
			fmt.Fprintf(&b, "  %s - Energy: %.6f eV\n", rec.Name, *rec.Energy(t.StatusEnergy))
		}
	}

	if len(t.Skipped) > 0 {
		fmt.Fprintf(&b, "\nSkipped directories (%d):\n", len(t.Skipped))

		for _, sk := range t.Skipped {
			fmt.Fprintf(&b, "  %s: %s\n", sk.Name, sk.Reason)
		}
	}

	fmt.Fprintf(&b, "%s\n", rule)

	_, err := io.WriteString(w, b.String())

	return err
}

func describe(e Extremum) string {
	if e.Index == nil {
		return e.Name
	}

	return fmt.Sprintf("%s, index %d", e.Name, *e.Index)
}
