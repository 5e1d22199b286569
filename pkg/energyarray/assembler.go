package energyarray

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"time"

	units "github.com/docker/go-units"
	"github.com/sirupsen/logrus"
	"github.com/surfacelab/pesscan/pkg/fsutil"
	"github.com/surfacelab/pesscan/pkg/outcar"
	"github.com/surfacelab/pesscan/pkg/scan"
	"github.com/surfacelab/pesscan/pkg/table"
)

// Options configures an Assembler.
type Options struct {
	EnergyType       outcar.EnergyKind
	Fill             float64
	FallbackFree     bool
	RequireConverged bool
	// MaxIndex bounds the identifiers read from tables; zero selects
	// scan.DefaultMaxIndex.
	MaxIndex  int
	Estimator table.StdEstimator
	Owner     *fsutil.OwnerConfig
}

// DefaultOptions returns the assembler defaults: sigma0 energies, NaN fill,
// free energy fallback and population standard deviation.
func DefaultOptions() Options {
	return Options{
		EnergyType:   outcar.EnergySigma0,
		Fill:         math.NaN(),
		FallbackFree: true,
		Estimator:    table.Population,
	}
}

// Output describes written array artifacts.
type Output struct {
	ArrayPath    string
	MetadataPath string
	Metadata     Metadata
}

// Assembler builds energy arrays from tables or run directories.
type Assembler struct {
	log        logrus.FieldLogger
	opts       Options
	aggregator *scan.Aggregator
	now        func() time.Time
}

// NewAssembler creates an Assembler. The aggregator is used for direct
// extraction.
func NewAssembler(log logrus.FieldLogger, aggregator *scan.Aggregator, opts Options) *Assembler {
	if opts.EnergyType == "" {
		opts.EnergyType = outcar.EnergySigma0
	}

	if opts.Estimator == "" {
		opts.Estimator = table.Population
	}

	return &Assembler{
		log:        log.WithField("component", "assembler"),
		opts:       opts,
		aggregator: aggregator,
		now:        time.Now,
	}
}

func (a *Assembler) recordOptions() RecordOptions {
	return RecordOptions{
		EnergyType:       a.opts.EnergyType,
		FallbackFree:     a.opts.FallbackFree,
		RequireConverged: a.opts.RequireConverged,
		MaxIndex:         a.opts.MaxIndex,
	}
}

// FromTable assembles the array from a table artifact.
func (a *Assembler) FromTable(path string) (*Array, error) {
	loaded, err := table.Load(path)
	if err != nil {
		return nil, err
	}

	return a.fromLoaded(loaded)
}

// FromScanTable assembles the array from a table artifact that must describe
// the runs of calcDir, as checked by MatchRuns.
func (a *Assembler) FromScanTable(path, calcDir string) (*Array, error) {
	if a.aggregator == nil {
		return nil, fmt.Errorf("matching a table to runs needs an aggregator")
	}

	loaded, err := table.Load(path)
	if err != nil {
		return nil, err
	}

	runs, err := a.aggregator.Runs(calcDir)
	if err != nil {
		return nil, err
	}

	if err := MatchRuns(loaded, runs); err != nil {
		return nil, err
	}

	return a.fromLoaded(loaded)
}

func (a *Assembler) fromLoaded(loaded *table.Loaded) (*Array, error) {
	path := loaded.Path

	arr, report, err := FromTable(loaded, a.recordOptions(), a.opts.Fill)
	if err != nil {
		return nil, err
	}

	for _, option := range report.Ignored {
		a.log.WithFields(logrus.Fields{
			"table":  path,
			"option": option,
		}).Warn("Table lacks the column for this option, ignoring it")
	}

	for _, p := range report.Problems {
		a.log.WithFields(logrus.Fields{
			"table":  path,
			"row":    p.Row + 1,
			"reason": p.Reason,
		}).Warn("Ignoring unusable table cell")
	}

	if arr.Degraded() {
		a.log.WithField("table", path).
			Warn("Table has no run identifiers, array positions follow row order")
	}

	a.log.WithFields(logrus.Fields{
		"table":  path,
		"column": arr.Column,
		"length": arr.Len(),
		"mode":   arr.Mode,
	}).Info("Assembled array from table")

	return arr, nil
}

// Direct assembles the array by parsing the run directories of calcDir.
func (a *Assembler) Direct(calcDir string) (*Array, error) {
	if a.aggregator == nil {
		return nil, fmt.Errorf("direct extraction needs an aggregator")
	}

	t, err := a.aggregator.Run(calcDir)
	if err != nil {
		return nil, err
	}

	arr := FromRecords(t.Records, a.recordOptions(), a.opts.Fill)

	a.log.WithFields(logrus.Fields{
		"dir":    calcDir,
		"runs":   len(t.Records),
		"length": arr.Len(),
	}).Info("Assembled array from run directories")

	return arr, nil
}

// Metadata computes the metadata of arr.
func (a *Assembler) Metadata(arr *Array) Metadata {
	return ComputeMetadata(arr, a.opts.Estimator, a.now())
}

// Write persists arr and its metadata sidecar, then reloads the array and
// checks it against arr.
func (a *Assembler) Write(arr *Array, path string) (*Output, error) {
	out := &Output{
		ArrayPath:    path,
		MetadataPath: MetadataPath(path),
		Metadata:     a.Metadata(arr),
	}

	if err := WriteNPY(path, arr.Values, a.opts.Owner); err != nil {
		return nil, err
	}

	fields := logrus.Fields{"path": path}
	if info, err := os.Stat(path); err == nil {
		fields["size"] = units.HumanSize(float64(info.Size()))
	}

	a.log.WithFields(fields).Info("Array written")

	var sidecar bytes.Buffer
	if _, err := out.Metadata.WriteTo(&sidecar); err != nil {
		return nil, fmt.Errorf("rendering metadata: %w", err)
	}

	if err := fsutil.WriteFile(out.MetadataPath, sidecar.Bytes(), 0o644, a.opts.Owner); err != nil {
		return nil, fmt.Errorf("writing %s: %w", out.MetadataPath, err)
	}

	if err := Verify(path, arr.Values); err != nil {
		return out, err
	}

	a.log.WithField("path", path).Info("Array verified")

	return out, nil
}
