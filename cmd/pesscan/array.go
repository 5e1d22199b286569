package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/surfacelab/pesscan/pkg/energyarray"
	"github.com/surfacelab/pesscan/pkg/table"
)

// previewLen is the number of values printed with --verbose.
const previewLen = 10

var (
	arrayDryRun     bool
	arrayTable      string
	arrayOutputName string
	arrayFillValue  string
	arrayEnergyType string
	arrayDirect     bool
	arrayVerbose    bool
	arrayUpload     bool
)

var createArrayCmd = &cobra.Command{
	Use:   "create-array <calcdir>",
	Short: "Assemble an energy array indexed by run number",
	Long: `Build a dense energy array where position i holds the energy of run i.
The energies come from --table, from the newest energy table found in <calcdir>
or the configured export.output_dir, or from the run directories themselves
(--direct, or when no table lists exactly the runs of <calcdir>). Missing runs get the fill value. The array is written as
.npy next to a metadata file and verified after writing.`,
	Args: cobra.ExactArgs(1),
	RunE: runCreateArray,
}

func init() {
	rootCmd.AddCommand(createArrayCmd)
	createArrayCmd.Flags().BoolVar(&arrayDryRun, "dry-run", false,
		"Assemble and report without writing the array")
	createArrayCmd.Flags().StringVar(&arrayTable, "table", "",
		"Energy table to read (default: newest table found)")
	createArrayCmd.Flags().StringVar(&arrayOutputName, "output-name", "",
		"Array file name, relative to <calcdir> (default from config: energies.npy)")
	createArrayCmd.Flags().StringVar(&arrayFillValue, "fill-value", "",
		"Value for missing runs (default from config: nan)")
	createArrayCmd.Flags().StringVar(&arrayEnergyType, "energy-type", "",
		"Energy to collect (sigma0, without-entropy, free)")
	createArrayCmd.Flags().BoolVar(&arrayDirect, "direct", false,
		"Parse the run directories instead of reading a table")
	createArrayCmd.Flags().BoolVar(&arrayVerbose, "verbose", false,
		"Print the first values of the array")
	createArrayCmd.Flags().BoolVar(&arrayUpload, "upload", false,
		"Upload the array and its metadata to S3 (requires upload.s3 in config)")
}

func runCreateArray(cmd *cobra.Command, args []string) error {
	calcDir := args[0]

	if cmd.Flags().Changed("output-name") {
		cfg.Array.OutputName = arrayOutputName
	}

	if cmd.Flags().Changed("fill-value") {
		cfg.Array.FillValue = arrayFillValue
	}

	if cmd.Flags().Changed("energy-type") {
		cfg.Array.EnergyType = arrayEnergyType
	}

	if arrayDirect && arrayTable != "" {
		return fmt.Errorf("--direct and --table are mutually exclusive")
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	opts, err := cfg.ArrayOptions()
	if err != nil {
		return fmt.Errorf("building array options: %w", err)
	}

	aggregator, err := newAggregator()
	if err != nil {
		return err
	}

	assembler := energyarray.NewAssembler(log, aggregator, opts)

	arr, err := assemble(assembler, calcDir)
	if err != nil {
		return err
	}

	meta := assembler.Metadata(arr)

	log.WithFields(logrus.Fields{
		"length":      arr.Len(),
		"successful":  meta.Successful,
		"failed":      meta.Failed,
		"energy_type": arr.EnergyType,
		"index_mode":  arr.Mode,
	}).Info("Energy array assembled")

	if arrayVerbose {
		printPreview(arr)
	}

	if arrayDryRun {
		if _, err := meta.WriteTo(os.Stdout); err != nil {
			return fmt.Errorf("printing metadata: %w", err)
		}

		log.Info("Dry run, no array written")

		return nil
	}

	path := cfg.Array.OutputName
	if !filepath.IsAbs(path) {
		path = filepath.Join(calcDir, path)
	}

	out, err := assembler.Write(arr, path)
	if err != nil {
		if errors.Is(err, energyarray.ErrVerificationMismatch) {
			return fmt.Errorf("array written to %s failed verification: %w", path, err)
		}

		return fmt.Errorf("writing array: %w", err)
	}

	log.WithFields(logrus.Fields{
		"array":    out.ArrayPath,
		"metadata": out.MetadataPath,
	}).Info("Energy array saved")

	if arrayUpload {
		return uploadArtifacts(cmd, calcDir, []string{out.ArrayPath, out.MetadataPath})
	}

	return nil
}

// assemble picks the array source: an explicit table, direct extraction, or
// the newest table in calcDir and then the configured export directory. A
// discovered table is used only when it lists exactly the runs of calcDir.
func assemble(a *energyarray.Assembler, calcDir string) (*energyarray.Array, error) {
	if arrayTable != "" {
		return a.FromTable(arrayTable)
	}

	if !arrayDirect {
		latest, err := findLatestTable(calcDir)
		if err != nil {
			return nil, err
		}

		if latest != "" {
			arr, err := a.FromScanTable(latest, calcDir)
			if err == nil {
				log.WithField("table", latest).Info("Using newest energy table")

				return arr, nil
			}

			if !errors.Is(err, energyarray.ErrTableMismatch) {
				return nil, err
			}

			log.WithError(err).WithField("table", latest).
				Warn("Newest energy table belongs to another scan, extracting directly")
		} else {
			log.WithField("dir", calcDir).Info("No energy table found, extracting directly")
		}
	}

	return a.Direct(calcDir)
}

func findLatestTable(calcDir string) (string, error) {
	dirs := []string{calcDir}

	if out := cfg.Export.OutputDir; out != "" {
		dirs = append(dirs, out)
	}

	for _, dir := range dirs {
		latest, err := table.FindLatest(dir)
		if err != nil {
			return "", fmt.Errorf("searching tables in %s: %w", dir, err)
		}

		if latest != "" {
			return latest, nil
		}
	}

	return "", nil
}

func printPreview(arr *energyarray.Array) {
	n := min(arr.Len(), previewLen)

	fmt.Printf("First %d of %d values:\n", n, arr.Len())

	for i := 0; i < n; i++ {
		fmt.Printf("  [%d] %g\n", i, arr.Values[i])
	}
}
