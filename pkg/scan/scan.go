package scan

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/surfacelab/pesscan/pkg/outcar"
)

const (
	// DefaultPrefix is the run directory name prefix.
	DefaultPrefix = "calc_"

	// DefaultOutputFile is the name of the output document inside a run
	// directory.
	DefaultOutputFile = "OUTCAR"

	// DefaultMaxIndex is the largest run identifier accepted. Arrays are
	// sized by the largest identifier, so a stray directory name must not
	// decide the allocation.
	DefaultMaxIndex = 1_000_000
)

// ErrNoRunDirectories is returned when a calculations directory holds no
// directory matching the run prefix.
var ErrNoRunDirectories = errors.New("no calculation directories found")

// RunDir is a discovered run directory.
type RunDir struct {
	Name string
	Path string
}

// Discover returns the subdirectories of calcDir whose name starts with
// prefix, sorted by name. Names must share a fixed zero padding for the
// lexical order to match the numeric one.
func Discover(calcDir, prefix string) ([]RunDir, error) {
	entries, err := os.ReadDir(calcDir)
	if err != nil {
		return nil, fmt.Errorf("reading calculations directory: %w", err)
	}

	// os.ReadDir returns entries sorted by filename.
	dirs := make([]RunDir, 0, len(entries))

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}

		dirs = append(dirs, RunDir{
			Name: entry.Name(),
			Path: filepath.Join(calcDir, entry.Name()),
		})
	}

	return dirs, nil
}

// ParseIndex extracts the run identifier from a directory name such as
// "calc_0042".
func ParseIndex(name, prefix string) (int, error) {
	suffix := strings.TrimPrefix(name, prefix)

	idx, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, fmt.Errorf("unparseable run index %q", suffix)
	}

	if idx < 0 {
		return 0, fmt.Errorf("negative run index %d", idx)
	}

	return idx, nil
}

// Options configures an Aggregator.
type Options struct {
	Prefix     string
	OutputFile string
	// StatusEnergy is the energy whose presence marks a run Successful.
	StatusEnergy outcar.EnergyKind
	// MaxIndex is the largest identifier kept; larger runs are skipped.
	MaxIndex int
}

// Aggregator parses every run of a calculations directory into a Table.
type Aggregator struct {
	log    logrus.FieldLogger
	parser outcar.Parser
	opts   Options
}

// NewAggregator creates an Aggregator. Empty options fall back to the
// package defaults.
func NewAggregator(log logrus.FieldLogger, parser outcar.Parser, opts Options) *Aggregator {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}

	if opts.OutputFile == "" {
		opts.OutputFile = DefaultOutputFile
	}

	if opts.StatusEnergy == "" {
		opts.StatusEnergy = outcar.EnergyWithoutEntropy
	}

	if opts.MaxIndex <= 0 {
		opts.MaxIndex = DefaultMaxIndex
	}

	return &Aggregator{
		log:    log.WithField("component", "aggregator"),
		parser: parser,
		opts:   opts,
	}
}

// Discover returns the run directories of calcDir under the configured
// prefix.
func (a *Aggregator) Discover(calcDir string) ([]RunDir, error) {
	return Discover(calcDir, a.opts.Prefix)
}

// Runs returns the run directories of calcDir that Run turns into records,
// leaving out those it would skip.
func (a *Aggregator) Runs(calcDir string) ([]RunDir, error) {
	dirs, err := a.Discover(calcDir)
	if err != nil {
		return nil, err
	}

	runs := dirs[:0]

	for _, dir := range dirs {
		if _, err := a.index(dir.Name); err == nil {
			runs = append(runs, dir)
		}
	}

	return runs, nil
}

// index parses the identifier of a run directory and applies MaxIndex.
func (a *Aggregator) index(name string) (int, error) {
	idx, err := ParseIndex(name, a.opts.Prefix)
	if err != nil {
		return 0, err
	}

	if idx > a.opts.MaxIndex {
		return 0, fmt.Errorf("run index %d exceeds maximum %d", idx, a.opts.MaxIndex)
	}

	return idx, nil
}

// Run aggregates all runs below calcDir. Failing runs become Failed records
// and directories without a usable index, or one above MaxIndex, are
// skipped; only an unreadable
// calcDir or one without run directories is an error.
func (a *Aggregator) Run(calcDir string) (*Table, error) {
	dirs, err := a.Discover(calcDir)
	if err != nil {
		return nil, err
	}

	if len(dirs) == 0 {
		return nil, fmt.Errorf("%w in %s (prefix %q)", ErrNoRunDirectories, calcDir, a.opts.Prefix)
	}

	table := &Table{
		Dir:          calcDir,
		StatusEnergy: a.opts.StatusEnergy,
		Records:      make([]Record, 0, len(dirs)),
	}

	for _, dir := range dirs {
		table.Tally.Discovered++

		idx, err := a.index(dir.Name)
		if err != nil {
			a.log.WithError(err).WithField("run", dir.Name).
				Warn("Skipping run directory")

			table.Skipped = append(table.Skipped, Skipped{Name: dir.Name, Reason: err.Error()})
			table.Tally.Skipped++

			continue
		}

		res := a.parser.ParseFile(filepath.Join(dir.Path, a.opts.OutputFile))
		rec := NewRecord(dir.Name, idx, res, a.opts.StatusEnergy)

		table.Records = append(table.Records, rec)
		table.Tally.add(&rec)

		a.logRecord(&rec)
	}

	a.log.WithFields(logrus.Fields{
		"discovered": table.Tally.Discovered,
		"successful": table.Tally.Successful,
		"failed":     table.Tally.Failed,
		"skipped":    table.Tally.Skipped,
	}).Info("Aggregation finished")

	return table, nil
}

func (a *Aggregator) logRecord(rec *Record) {
	fields := logrus.Fields{
		"run":   rec.Name,
		"index": *rec.Index,
	}

	if rec.Status == StatusFailed {
		a.log.WithFields(fields).WithField("error", rec.Error).Warn("No energy extracted")

		return
	}

	fields["energy"] = *rec.Energy(a.opts.StatusEnergy)
	fields["converged"] = rec.Converged

	a.log.WithFields(fields).Debug("Energy extracted")
}
