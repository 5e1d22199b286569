package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surfacelab/pesscan/pkg/energyarray"
)

func TestMain(m *testing.M) {
	log = logrus.New()
	log.SetOutput(io.Discard)

	os.Exit(m.Run())
}

// execute runs the root command with args after resetting the local flags
// of every subcommand, since cobra keeps flag state between executions.
func execute(t *testing.T, args ...string) error {
	t.Helper()

	for _, c := range rootCmd.Commands() {
		c.LocalNonPersistentFlags().VisitAll(func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		})
	}

	rootCmd.SetArgs(args)

	return rootCmd.Execute()
}

func writeRun(t *testing.T, calcDir, name, content string) {
	t.Helper()

	dir := filepath.Join(calcDir, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "OUTCAR"), []byte(content), 0o644))
}

func outcarWith(sigma0 float64) string {
	var b strings.Builder

	b.WriteString(strings.Repeat(" POTCAR:    PAW_PBE Cu 22Jun2005\n", 40))
	fmt.Fprintf(&b, "  energy  without entropy=  %.6f  energy(sigma->0) =  %.6f\n", sigma0-0.01, sigma0)
	b.WriteString(" reached required accuracy - stopping structural energy minimisation\n")

	return b.String()
}

// newScan creates calc_000 and calc_002 with energies and an undersized
// calc_001.
func newScan(t *testing.T) string {
	t.Helper()

	calcDir := t.TempDir()
	writeRun(t, calcDir, "calc_000", outcarWith(-10.5))
	writeRun(t, calcDir, "calc_001", "truncated\n")
	writeRun(t, calcDir, "calc_002", outcarWith(-12.25))

	return calcDir
}

func TestExtractEnergiesThenCreateArray(t *testing.T) {
	calcDir := newScan(t)
	outDir := filepath.Join(t.TempDir(), "tables")
	summaryPath := filepath.Join(outDir, "summary.txt")

	require.NoError(t, execute(t, "extract-energies", calcDir,
		"--format", "csv", "--output-dir", outDir, "--summary-file", summaryPath))

	tables, err := filepath.Glob(filepath.Join(outDir, "energies_*.csv"))
	require.NoError(t, err)
	require.Len(t, tables, 1)

	summary, err := os.ReadFile(summaryPath)
	require.NoError(t, err)
	assert.Contains(t, string(summary), "Successful calculations: 2")
	assert.Contains(t, string(summary), "Failed calculations: 1")

	require.NoError(t, execute(t, "create-array", calcDir,
		"--table", tables[0], "--output-name", "pes.npy"))

	values, err := energyarray.ReadNPY(filepath.Join(calcDir, "pes.npy"))
	require.NoError(t, err)
	require.Len(t, values, 3)
	assert.Equal(t, -10.5, values[0])
	assert.True(t, math.IsNaN(values[1]))
	assert.Equal(t, -12.25, values[2])

	meta, err := os.ReadFile(filepath.Join(calcDir, "pes_metadata.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(meta), "successful_extractions: 2")
	assert.Contains(t, string(meta), "source: "+filepath.Base(tables[0]))
}

func TestExtractEnergies_Strict(t *testing.T) {
	calcDir := newScan(t)

	err := execute(t, "extract-energies", calcDir, "--dry-run", "--strict")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 3 runs failed")

	require.NoError(t, execute(t, "extract-energies", calcDir, "--dry-run"))
}

func TestCreateArray_DirectDryRun(t *testing.T) {
	calcDir := newScan(t)

	require.NoError(t, execute(t, "create-array", calcDir, "--direct", "--dry-run", "--verbose"))

	_, err := os.Stat(filepath.Join(calcDir, "energies.npy"))
	assert.True(t, os.IsNotExist(err))
}

func TestCreateArray_DirectWithFill(t *testing.T) {
	calcDir := newScan(t)

	require.NoError(t, execute(t, "create-array", calcDir, "--direct", "--fill-value", "-999"))

	values, err := energyarray.ReadNPY(filepath.Join(calcDir, "energies.npy"))
	require.NoError(t, err)
	assert.Equal(t, []float64{-10.5, -999, -12.25}, values)

	meta, err := os.ReadFile(filepath.Join(calcDir, "energies_metadata.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(meta), "source: direct_extraction")
}

func TestCreateArray_Errors(t *testing.T) {
	calcDir := newScan(t)

	err := execute(t, "create-array", calcDir, "--direct", "--table", "energies.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")

	err = execute(t, "create-array", calcDir, "--energy-type", "kinetic")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "array.energy_type")
}

func TestCreateArray_IgnoresTableOfAnotherScan(t *testing.T) {
	shared := t.TempDir()

	scanA := t.TempDir()
	writeRun(t, scanA, "calc_000", outcarWith(-10.5))
	writeRun(t, scanA, "calc_001", outcarWith(-11.5))

	scanB := t.TempDir()
	writeRun(t, scanB, "calc_000", outcarWith(-99))

	require.NoError(t, execute(t, "extract-energies", scanA, "--format", "csv", "--output-dir", shared))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(shared))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Run("working directory is not searched", func(t *testing.T) {
		require.NoError(t, execute(t, "create-array", scanB))

		values, err := energyarray.ReadNPY(filepath.Join(scanB, "energies.npy"))
		require.NoError(t, err)
		assert.Equal(t, []float64{-99}, values)

		meta, err := os.ReadFile(filepath.Join(scanB, "energies_metadata.txt"))
		require.NoError(t, err)
		assert.Contains(t, string(meta), "source: direct_extraction")
	})

	t.Run("configured output dir with a foreign table", func(t *testing.T) {
		t.Setenv("PESSCAN_EXPORT_OUTPUT_DIR", shared)

		require.NoError(t, execute(t, "create-array", scanB, "--output-name", "foreign.npy"))

		values, err := energyarray.ReadNPY(filepath.Join(scanB, "foreign.npy"))
		require.NoError(t, err)
		assert.Equal(t, []float64{-99}, values)
	})

	t.Run("configured output dir with the scan's own table", func(t *testing.T) {
		t.Setenv("PESSCAN_EXPORT_OUTPUT_DIR", shared)

		require.NoError(t, execute(t, "create-array", scanA, "--output-name", "own.npy"))

		values, err := energyarray.ReadNPY(filepath.Join(scanA, "own.npy"))
		require.NoError(t, err)
		assert.Equal(t, []float64{-10.5, -11.5}, values)

		meta, err := os.ReadFile(filepath.Join(scanA, "own_metadata.txt"))
		require.NoError(t, err)
		assert.Contains(t, string(meta), "source: energies_")
	})
}
