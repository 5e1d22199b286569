package outcar

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// padding pushes small fixtures above DefaultMinSize.
var padding = strings.Repeat(" POTCAR:    PAW_PBE Fe 06Sep2000\n", 40)

const relaxedOutcar = `
 running on   16 total cores
DAV:   1    -0.104162890612E+03   -0.10416E+03   -0.38157E+04  4432   0.104E+03
DAV:   2    -0.105025775166E+03   -0.86288E+00   -0.82284E+00  5496   0.143E+01
 POSITION                                       TOTAL-FORCE (eV/Angst)
  free  energy   TOTEN  =      -104.95817380 eV

  energy  without entropy=     -10.50000000  energy(sigma->0) =     -10.60000000
RMM:   3    -0.105142249067E+03   -0.11647E+00   -0.10451E+00  4488   0.412E+00
 POSITION                                       TOTAL-FORCE (eV/Angst)
  free  energy   TOTEN  =      -105.14224906 eV

  energy  without entropy=     -12.34500000  energy(sigma->0) =     -12.40000000

 reached required accuracy - stopping structural energy minimisation
                  Total CPU time used (sec):      345.123
`

func TestParse_LastOccurrenceWins(t *testing.T) {
	res := New(0).Parse([]byte(relaxedOutcar))

	require.NotNil(t, res.EnergyWithoutEntropy)
	assert.Equal(t, -12.345, *res.EnergyWithoutEntropy)
	require.NotNil(t, res.EnergySigma0)
	assert.Equal(t, -12.4, *res.EnergySigma0)
	require.NotNil(t, res.FreeEnergy)
	assert.Equal(t, -105.14224906, *res.FreeEnergy)

	assert.True(t, res.Converged)
	assert.Equal(t, 3, res.ElectronicSteps)
	assert.Equal(t, 2, res.IonicSteps)
	require.NotNil(t, res.CPUTimeSec)
	assert.Equal(t, 345.123, *res.CPUTimeSec)
	assert.Empty(t, res.Error)
}

func TestParse_Fields(t *testing.T) {
	tests := []struct {
		name          string
		content       string
		wantPrimary   *float64
		wantSecondary *float64
		wantConverged bool
		wantError     bool
	}{
		{
			name:          "no marker means not converged",
			content:       "  energy  without entropy=     -3.25  energy(sigma->0) =     -3.5\n",
			wantPrimary:   ptr(-3.25),
			wantSecondary: ptr(-3.5),
			wantConverged: false,
		},
		{
			name:          "marker is case sensitive",
			content:       "Reached Required Accuracy\n",
			wantConverged: false,
		},
		{
			name:          "missing labels leave fields absent",
			content:       " reached required accuracy\n",
			wantConverged: true,
		},
		{
			name:        "exponent and explicit sign",
			content:     "energy  without entropy = +1.5E+01\n",
			wantPrimary: ptr(15),
		},
		{
			name:      "overflowing value is recorded as an error",
			content:   "energy(sigma->0) = 1e999\n",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := New(0).Parse([]byte(tt.content))

			assert.Equal(t, tt.wantPrimary, res.EnergyWithoutEntropy)
			assert.Equal(t, tt.wantSecondary, res.EnergySigma0)
			assert.Equal(t, tt.wantConverged, res.Converged)
			assert.Equal(t, tt.wantError, res.Error != "")
			assert.Nil(t, res.CPUTimeSec)
		})
	}
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		res := New(0).ParseFile(filepath.Join(dir, "OUTCAR"))

		assert.Nil(t, res.EnergyWithoutEntropy)
		assert.Equal(t, "output file not found", res.Error)
	})

	t.Run("too small file", func(t *testing.T) {
		path := filepath.Join(dir, "small")
		content := "  energy  without entropy=     -1.0  energy(sigma->0) =     -1.0\n"
		content += strings.Repeat("x", 500-len(content))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		res := New(DefaultMinSize).ParseFile(path)

		assert.Nil(t, res.EnergyWithoutEntropy)
		assert.Nil(t, res.EnergySigma0)
		assert.Contains(t, res.Error, "too small (500 bytes < 1000)")
	})

	t.Run("custom minimum size", func(t *testing.T) {
		path := filepath.Join(dir, "tiny")
		require.NoError(t, os.WriteFile(path, []byte("energy  without entropy= -2.0\n"), 0o644))

		res := New(10).ParseFile(path)

		require.NotNil(t, res.EnergyWithoutEntropy)
		assert.Equal(t, -2.0, *res.EnergyWithoutEntropy)
	})

	t.Run("directory", func(t *testing.T) {
		res := New(0).ParseFile(dir)

		assert.Equal(t, "output path is a directory", res.Error)
	})

	t.Run("full document", func(t *testing.T) {
		path := filepath.Join(dir, "OUTCAR.full")
		require.NoError(t, os.WriteFile(path, []byte(padding+relaxedOutcar), 0o644))

		res := New(0).ParseFile(path)

		require.NotNil(t, res.EnergyWithoutEntropy)
		assert.Equal(t, -12.345, *res.EnergyWithoutEntropy)
		assert.True(t, res.Converged)
	})
}

func TestParseEnergyKind(t *testing.T) {
	tests := []struct {
		in      string
		want    EnergyKind
		wantErr bool
	}{
		{in: "sigma0", want: EnergySigma0},
		{in: "Sigma_0", want: EnergySigma0},
		{in: "without-entropy", want: EnergyWithoutEntropy},
		{in: "primary", want: EnergyWithoutEntropy},
		{in: "free", want: EnergyFree},
		{in: "TOTEN", want: EnergyFree},
		{in: "enthalpy", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEnergyKind(tt.in)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResult_Energy(t *testing.T) {
	res := &Result{
		EnergyWithoutEntropy: ptr(-1),
		EnergySigma0:         ptr(-2),
		FreeEnergy:           ptr(-3),
	}

	assert.Equal(t, -1.0, *res.Energy(EnergyWithoutEntropy))
	assert.Equal(t, -2.0, *res.Energy(EnergySigma0))
	assert.Equal(t, -3.0, *res.Energy(EnergyFree))
	assert.Nil(t, res.Energy("bogus"))
}

func ptr(v float64) *float64 {
	return &v
}
