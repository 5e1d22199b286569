package energyarray

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surfacelab/pesscan/pkg/outcar"
	"github.com/surfacelab/pesscan/pkg/scan"
	"github.com/surfacelab/pesscan/pkg/table"
)

// writeOutcar creates calcDir/name/OUTCAR with the given readings. Nil
// readings are left out.
func writeOutcar(t *testing.T, calcDir, name string, sigma0, free *float64, converged bool) {
	t.Helper()

	dir := filepath.Join(calcDir, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	var b strings.Builder

	b.WriteString(strings.Repeat(" POTCAR:    PAW_PBE O 08Apr2002\n", 40))

	if sigma0 != nil {
		fmt.Fprintf(&b, "  energy  without entropy=  %.6f  energy(sigma->0) =  %.6f\n", *sigma0+0.01, *sigma0)
	}

	if free != nil {
		fmt.Fprintf(&b, "  free  energy   TOTEN  =  %.6f eV\n", *free)
	}

	if converged {
		b.WriteString(" reached required accuracy - stopping structural energy minimisation\n")
	}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "OUTCAR"), []byte(b.String()), 0o644))
}

func newTestAssembler(opts Options) *Assembler {
	log := testLogger()
	agg := scan.NewAggregator(log, outcar.New(outcar.DefaultMinSize), scan.Options{})

	return NewAssembler(log, agg, opts)
}

func TestAssembler_Direct(t *testing.T) {
	calcDir := t.TempDir()

	writeOutcar(t, calcDir, "calc_0000", fptr(-10.5), fptr(-10.6), true)
	writeOutcar(t, calcDir, "calc_0002", nil, fptr(-11.75), true)
	writeOutcar(t, calcDir, "calc_0003", fptr(-12.25), nil, false)
	require.NoError(t, os.Mkdir(filepath.Join(calcDir, "calc_bad"), 0o755))

	tests := []struct {
		name string
		opts Options
		want []float64
	}{
		{
			name: "defaults fall back to free energy",
			opts: DefaultOptions(),
			want: []float64{-10.5, math.NaN(), -11.75, -12.25},
		},
		{
			name: "without fallback",
			opts: Options{EnergyType: outcar.EnergySigma0, Fill: math.NaN()},
			want: []float64{-10.5, math.NaN(), math.NaN(), -12.25},
		},
		{
			name: "require converged",
			opts: Options{EnergyType: outcar.EnergySigma0, Fill: -999, FallbackFree: true, RequireConverged: true},
			want: []float64{-10.5, -999, -11.75, -999},
		},
		{
			name: "free energy",
			opts: Options{EnergyType: outcar.EnergyFree, Fill: math.NaN()},
			want: []float64{-10.6, math.NaN(), -11.75, math.NaN()},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arr, err := newTestAssembler(tt.opts).Direct(calcDir)
			require.NoError(t, err)

			assertValues(t, tt.want, arr.Values)
			assert.Equal(t, SourceDirect, arr.Source)
		})
	}
}

func TestAssembler_DirectNoRuns(t *testing.T) {
	_, err := newTestAssembler(DefaultOptions()).Direct(t.TempDir())
	require.ErrorIs(t, err, scan.ErrNoRunDirectories)
}

func TestAssembler_WriteAndVerify(t *testing.T) {
	dir := t.TempDir()
	a := newTestAssembler(DefaultOptions())

	arr := &Array{
		Values:     []float64{-1.5, math.NaN(), -2.5},
		Present:    []bool{true, false, true},
		Fill:       math.NaN(),
		Mode:       IndexByIdentifier,
		EnergyType: outcar.EnergySigma0,
		Source:     SourceDirect,
	}

	out, err := a.Write(arr, filepath.Join(dir, "energies.npy"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "energies_metadata.txt"), out.MetadataPath)
	assert.Equal(t, 2, out.Metadata.Successful)

	got, err := ReadNPY(out.ArrayPath)
	require.NoError(t, err)
	assertValues(t, arr.Values, got)

	sidecar, err := os.ReadFile(out.MetadataPath)
	require.NoError(t, err)
	assert.Contains(t, string(sidecar), "total_calculations: 3\n")
	assert.Contains(t, string(sidecar), "source: direct_extraction\n")
}

func TestAssembler_FromTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "energies_20240101_000000.csv")
	require.NoError(t, os.WriteFile(path, []byte(
		"Calculation,Index,Energy_sigma_0_eV\ncalc_0000,0,-1.25\ncalc_0002,2,-2.25\n"), 0o644))

	a := newTestAssembler(DefaultOptions())

	arr, err := a.FromTable(path)
	require.NoError(t, err)
	assertValues(t, []float64{-1.25, math.NaN(), -2.25}, arr.Values)

	m := a.Metadata(arr)
	assert.Equal(t, "Energy_sigma_0_eV", m.Column)
	assert.Equal(t, table.Population, m.Estimator)
}

// exportScan writes the csv table of calcDir and returns its path.
func exportScan(t *testing.T, calcDir string) string {
	t.Helper()

	log := testLogger()

	tbl, err := scan.NewAggregator(log, outcar.New(outcar.DefaultMinSize), scan.Options{}).Run(calcDir)
	require.NoError(t, err)

	res, err := table.NewExporter(log, table.ExportOptions{Format: table.FormatCSV}).
		Export(context.Background(), tbl, t.TempDir())
	require.NoError(t, err)

	return res.Files[0]
}

func TestAssembler_TableAndDirectAgree(t *testing.T) {
	calcDir := t.TempDir()

	writeOutcar(t, calcDir, "calc_0000", fptr(-10.5), fptr(-10.6), true)
	writeOutcar(t, calcDir, "calc_0002", nil, fptr(-11.75), true)
	writeOutcar(t, calcDir, "calc_0003", fptr(-12.25), fptr(-12.3), false)

	path := exportScan(t, calcDir)

	tests := []struct {
		name string
		opts Options
	}{
		{name: "defaults", opts: DefaultOptions()},
		{name: "without fallback", opts: Options{EnergyType: outcar.EnergySigma0, Fill: math.NaN()}},
		{
			name: "require converged",
			opts: Options{EnergyType: outcar.EnergySigma0, Fill: -999, FallbackFree: true, RequireConverged: true},
		},
		{name: "without entropy", opts: Options{EnergyType: outcar.EnergyWithoutEntropy, Fill: math.NaN(), FallbackFree: true}},
		{name: "free energy", opts: Options{EnergyType: outcar.EnergyFree, Fill: math.NaN(), RequireConverged: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAssembler(tt.opts)

			direct, err := a.Direct(calcDir)
			require.NoError(t, err)

			fromTable, err := a.FromScanTable(path, calcDir)
			require.NoError(t, err)

			assertValues(t, direct.Values, fromTable.Values)
			assert.Equal(t, direct.Present, fromTable.Present)
		})
	}
}

func TestAssembler_FromScanTableMismatch(t *testing.T) {
	scanA := t.TempDir()
	writeOutcar(t, scanA, "calc_000", fptr(-10.5), nil, true)
	writeOutcar(t, scanA, "calc_001", fptr(-11.5), nil, true)

	scanB := t.TempDir()
	writeOutcar(t, scanB, "calc_000", fptr(-99), nil, true)

	scanC := t.TempDir()
	writeOutcar(t, scanC, "calc_000", fptr(-1), nil, true)
	writeOutcar(t, scanC, "calc_001", fptr(-2), nil, true)
	writeOutcar(t, scanC, "calc_002", fptr(-3), nil, true)

	path := exportScan(t, scanA)
	a := newTestAssembler(DefaultOptions())

	_, err := a.FromScanTable(path, scanB)
	require.ErrorIs(t, err, ErrTableMismatch)
	assert.Contains(t, err.Error(), "calc_001")

	_, err = a.FromScanTable(path, scanC)
	require.ErrorIs(t, err, ErrTableMismatch)
	assert.Contains(t, err.Error(), "calc_002")

	arr, err := a.FromScanTable(path, scanA)
	require.NoError(t, err)
	assertValues(t, []float64{-10.5, -11.5}, arr.Values)

	legacy := filepath.Join(t.TempDir(), "energies_legacy.csv")
	require.NoError(t, os.WriteFile(legacy, []byte("Index,Energy_sigma_0_eV\n0,-1\n"), 0o644))

	_, err = a.FromScanTable(legacy, scanA)
	require.ErrorIs(t, err, ErrTableMismatch)
}

func TestVerify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "energies.npy")
	require.NoError(t, WriteNPY(path, []float64{-1, math.NaN()}, nil))

	require.NoError(t, Verify(path, []float64{-1, math.NaN()}))

	err := Verify(path, []float64{-1, 0})
	require.ErrorIs(t, err, ErrVerificationMismatch)

	err = Verify(path, []float64{-1})
	require.ErrorIs(t, err, ErrVerificationMismatch)

	err = Verify(filepath.Join(t.TempDir(), "missing.npy"), nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrVerificationMismatch)
}
