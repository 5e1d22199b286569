package energyarray

import (
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/surfacelab/pesscan/pkg/table"
	"gonum.org/v1/gonum/floats"
)

// Metadata describes an array. It is derived from the array alone and
// recomputed on every assembly.
type Metadata struct {
	Total      int
	Successful int
	Failed     int

	// Statistics over present values; valid when Successful > 0.
	Min       float64
	Max       float64
	Mean      float64
	Std       float64
	Estimator table.StdEstimator

	EnergyType   string
	Column       string
	Fill         float64
	IndexMode    IndexMode
	Source       string
	CreationDate time.Time
}

// ComputeMetadata derives the metadata of a. Fill positions never
// contribute to the statistics, whatever the fill value.
func ComputeMetadata(a *Array, est table.StdEstimator, now time.Time) Metadata {
	values := make([]float64, 0, len(a.Values))

	for i, v := range a.Values {
		if a.Present[i] && !math.IsNaN(v) {
			values = append(values, v)
		}
	}

	m := Metadata{
		Total:        len(a.Values),
		Successful:   len(values),
		Failed:       len(a.Values) - len(values),
		Estimator:    est,
		EnergyType:   string(a.EnergyType),
		Column:       a.Column,
		Fill:         a.Fill,
		IndexMode:    a.Mode,
		Source:       a.Source,
		CreationDate: now,
	}

	if len(values) > 0 {
		m.Min = floats.Min(values)
		m.Max = floats.Max(values)
		m.Mean, m.Std = est.MeanStdDev(values)
	}

	return m
}

// MetadataPath returns the sidecar path of an array artifact.
func MetadataPath(arrayPath string) string {
	return strings.TrimSuffix(arrayPath, filepath.Ext(arrayPath)) + "_metadata.txt"
}

// WriteTo renders the sidecar as key: value lines.
func (m *Metadata) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder

	b.WriteString("NPY File Metadata\n")
	b.WriteString(strings.Repeat("=", 50) + "\n")

	stat := func(v float64) string {
		if m.Successful == 0 {
			return "None"
		}

		return strconv.FormatFloat(v, 'f', -1, 64)
	}

	source := m.Source
	if source != SourceDirect {
		source = filepath.Base(source)
	}

	lines := [][2]string{
		{"total_calculations", strconv.Itoa(m.Total)},
		{"successful_extractions", strconv.Itoa(m.Successful)},
		{"failed_extractions", strconv.Itoa(m.Failed)},
		{"min_energy", stat(m.Min)},
		{"max_energy", stat(m.Max)},
		{"mean_energy", stat(m.Mean)},
		{"std_energy", stat(m.Std)},
		{"std_estimator", string(m.Estimator)},
		{"energy_type", m.EnergyType},
		{"energy_column", m.Column},
		{"fill_value", strconv.FormatFloat(m.Fill, 'g', -1, 64)},
		{"index_mode", string(m.IndexMode)},
		{"creation_date", m.CreationDate.Format(time.RFC3339)},
		{"source", source},
	}

	for _, kv := range lines {
		if kv[1] == "" {
			continue
		}

		fmt.Fprintf(&b, "%s: %s\n", kv[0], kv[1])
	}

	n, err := io.WriteString(w, b.String())

	return int64(n), err
}
