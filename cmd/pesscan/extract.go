package main

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/surfacelab/pesscan/pkg/fsutil"
	"github.com/surfacelab/pesscan/pkg/outcar"
	"github.com/surfacelab/pesscan/pkg/scan"
	"github.com/surfacelab/pesscan/pkg/table"
	"github.com/surfacelab/pesscan/pkg/upload"
)

var (
	extractDryRun      bool
	extractFormat      string
	extractOutputDir   string
	extractStrict      bool
	extractSummaryFile string
	extractUpload      bool
)

var extractEnergiesCmd = &cobra.Command{
	Use:   "extract-energies <calcdir>",
	Short: "Extract energies from every run directory of a scan",
	Long: `Parse the output document of every run directory in <calcdir>, print a
summary and export the results as a table. The preferred table format falls
back to csv when it cannot be written.`,
	Args: cobra.ExactArgs(1),
	RunE: runExtractEnergies,
}

func init() {
	rootCmd.AddCommand(extractEnergiesCmd)
	extractEnergiesCmd.Flags().BoolVar(&extractDryRun, "dry-run", false,
		"Parse and summarize without writing any table")
	extractEnergiesCmd.Flags().StringVar(&extractFormat, "format", "",
		"Preferred table format (xlsx, csv, parquet, sqlite)")
	extractEnergiesCmd.Flags().StringVar(&extractOutputDir, "output-dir", "",
		"Directory for table artifacts (default: current directory)")
	extractEnergiesCmd.Flags().BoolVar(&extractStrict, "strict", false,
		"Exit non-zero when any run failed")
	extractEnergiesCmd.Flags().StringVar(&extractSummaryFile, "summary-file", "",
		"Also write the summary to this file")
	extractEnergiesCmd.Flags().BoolVar(&extractUpload, "upload", false,
		"Upload the written tables to S3 (requires upload.s3 in config)")
}

func runExtractEnergies(cmd *cobra.Command, args []string) error {
	calcDir := args[0]

	if cmd.Flags().Changed("format") {
		cfg.Export.Format = extractFormat
	}

	if cmd.Flags().Changed("output-dir") {
		cfg.Export.OutputDir = extractOutputDir
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	aggregator, err := newAggregator()
	if err != nil {
		return err
	}

	t, err := aggregator.Run(calcDir)
	if err != nil {
		return fmt.Errorf("scanning %s: %w", calcDir, err)
	}

	opts, err := cfg.ExportOptions()
	if err != nil {
		return fmt.Errorf("building export options: %w", err)
	}

	summary := table.Summarize(t, opts.Estimator)

	var rendered bytes.Buffer
	if err := table.WriteSummary(&rendered, t, &summary); err != nil {
		return fmt.Errorf("rendering summary: %w", err)
	}

	fmt.Print(rendered.String())

	if extractSummaryFile != "" {
		if err := fsutil.MkdirAll(filepath.Dir(extractSummaryFile), 0o755, opts.Owner); err != nil {
			return fmt.Errorf("creating summary directory: %w", err)
		}

		if err := fsutil.WriteFile(extractSummaryFile, rendered.Bytes(), 0o644, opts.Owner); err != nil {
			return fmt.Errorf("writing summary file: %w", err)
		}
	}

	if extractDryRun {
		log.WithFields(logrus.Fields{
			"runs":       t.Tally.Discovered,
			"successful": t.Tally.Successful,
			"failed":     t.Tally.Failed,
		}).Info("Dry run, no table written")

		return strictCheck(t)
	}

	outDir := cfg.Export.OutputDir
	if outDir == "" {
		outDir = "."
	}

	result, err := table.NewExporter(log, opts).Export(cmd.Context(), t, outDir)
	if err != nil {
		return fmt.Errorf("exporting table: %w", err)
	}

	log.WithFields(logrus.Fields{
		"format":    result.Format,
		"files":     len(result.Files) + len(result.Extra),
		"fell_back": result.FellBack,
	}).Info("Table exported")

	if extractUpload {
		if err := uploadArtifacts(cmd, calcDir, append(result.Files, result.Extra...)); err != nil {
			return err
		}
	}

	return strictCheck(t)
}

// newAggregator builds the aggregator described by the scan section.
func newAggregator() (*scan.Aggregator, error) {
	opts, minSize, err := cfg.ScanOptions()
	if err != nil {
		return nil, fmt.Errorf("building scan options: %w", err)
	}

	return scan.NewAggregator(log, outcar.New(minSize), opts), nil
}

func strictCheck(t *scan.Table) error {
	if extractStrict && t.Tally.Failed > 0 {
		return fmt.Errorf("%d of %d runs failed", t.Tally.Failed, len(t.Records))
	}

	return nil
}

// uploadArtifacts uploads paths under the name of the scan directory.
func uploadArtifacts(cmd *cobra.Command, calcDir string, paths []string) error {
	if !cfg.Upload.S3.Enabled {
		return fmt.Errorf("S3 upload is not enabled in config")
	}

	uploader, err := upload.NewS3Uploader(log, &cfg.Upload.S3)
	if err != nil {
		return fmt.Errorf("creating S3 uploader: %w", err)
	}

	abs, err := filepath.Abs(calcDir)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", calcDir, err)
	}

	if err := uploader.UploadFiles(cmd.Context(), filepath.Base(abs), paths); err != nil {
		return fmt.Errorf("uploading artifacts: %w", err)
	}

	return nil
}
