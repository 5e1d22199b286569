package table

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	units "github.com/docker/go-units"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/surfacelab/pesscan/pkg/fsutil"
	"github.com/surfacelab/pesscan/pkg/scan"
)

// Names derives artifact paths for one export.
type Names struct {
	Dir   string
	Stamp string
}

// NewNames returns the artifact names for an export into dir at now.
func NewNames(dir string, now time.Time) Names {
	return Names{Dir: dir, Stamp: now.Format("20060102_150405")}
}

// Table returns the path of the table artifact with extension ext.
func (n Names) Table(ext string) string {
	return filepath.Join(n.Dir, fmt.Sprintf("energies_%s.%s", n.Stamp, ext))
}

// Summary returns the path of the auxiliary summary artifact.
func (n Names) Summary(ext string) string {
	return filepath.Join(n.Dir, fmt.Sprintf("summary_%s.%s", n.Stamp, ext))
}

// Writer persists an aggregate table in one artifact format.
type Writer interface {
	Format() Format

	// Write persists t and returns the paths it wrote.
	Write(ctx context.Context, names Names, t *scan.Table, s *Summary) ([]string, error)
}

// NewWriter returns the writer for format.
func NewWriter(format Format, owner *fsutil.OwnerConfig) (Writer, error) {
	switch format {
	case FormatXLSX:
		return &xlsxWriter{owner: owner}, nil
	case FormatCSV:
		return &csvWriter{owner: owner}, nil
	case FormatParquet:
		return &parquetWriter{owner: owner}, nil
	case FormatSQLite:
		return &sqliteWriter{owner: owner}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// ExportOptions configures an Exporter.
type ExportOptions struct {
	// Format is the preferred table format. Anything but csv is attempted
	// first and falls back to csv on failure.
	Format Format
	// Extra formats are written in addition; their failures are logged.
	Extra     []Format
	Estimator StdEstimator
	Owner     *fsutil.OwnerConfig
}

// Result describes a finished export.
type Result struct {
	Format   Format
	Files    []string
	Extra    []string
	FellBack bool
	Summary  Summary
}

// Exporter persists aggregate tables.
type Exporter struct {
	log     logrus.FieldLogger
	opts    ExportOptions
	rich    Writer
	richErr error
	flat    Writer
	extra   []Writer
	now     func() time.Time
}

// NewExporter creates an Exporter. An unknown preferred format is not an
// error: the export falls back to csv and reports why.
func NewExporter(log logrus.FieldLogger, opts ExportOptions) *Exporter {
	if opts.Format == "" {
		opts.Format = FormatXLSX
	}

	if opts.Estimator == "" {
		opts.Estimator = Sample
	}

	e := &Exporter{
		log:  log.WithField("component", "exporter"),
		opts: opts,
		flat: &csvWriter{owner: opts.Owner},
		now:  time.Now,
	}

	if opts.Format != FormatCSV {
		e.rich, e.richErr = NewWriter(opts.Format, opts.Owner)
	}

	for _, format := range opts.Extra {
		w, err := NewWriter(format, opts.Owner)
		if err != nil {
			e.log.WithError(err).Warn("Ignoring extra table format")

			continue
		}

		e.extra = append(e.extra, w)
	}

	return e
}

// Export writes t into dir. Only a failure of the csv fallback is returned
// as an error.
func (e *Exporter) Export(ctx context.Context, t *scan.Table, dir string) (*Result, error) {
	if err := fsutil.MkdirAll(dir, 0o755, e.opts.Owner); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	summary := Summarize(t, e.opts.Estimator)
	names := NewNames(dir, e.now())
	result := &Result{Summary: summary}

	var errs error

	if e.rich != nil {
		files, err := e.rich.Write(ctx, names, t, &summary)
		if err == nil {
			result.Format = e.rich.Format()
			result.Files = files
		} else {
			removeAll(files)

			errs = multierror.Append(errs, fmt.Errorf("%s writer: %w", e.rich.Format(), err))
		}
	} else if e.richErr != nil {
		errs = multierror.Append(errs, e.richErr)
	}

	if result.Files == nil {
		if errs != nil {
			e.log.WithError(errs).Warn("Rich table format unavailable, falling back to csv")

			result.FellBack = true
		}

		files, err := e.flat.Write(ctx, names, t, &summary)
		if err != nil {
			return nil, multierror.Append(errs, fmt.Errorf("csv writer: %w", err))
		}

		result.Format = FormatCSV
		result.Files = files
	}

	for _, w := range e.extra {
		files, err := w.Write(ctx, names, t, &summary)
		if err != nil {
			e.log.WithError(err).WithField("format", w.Format()).
				Warn("Failed to write extra table format")

			continue
		}

		result.Extra = append(result.Extra, files...)
	}

	for _, path := range append(result.Files, result.Extra...) {
		e.logArtifact(path)
	}

	return result, nil
}

func (e *Exporter) logArtifact(path string) {
	fields := logrus.Fields{"path": path}

	if info, err := os.Stat(path); err == nil {
		fields["size"] = units.HumanSize(float64(info.Size()))
	}

	e.log.WithFields(fields).Info("Table artifact written")
}

func removeAll(paths []string) {
	for _, p := range paths {
		_ = os.Remove(p)
	}
}
