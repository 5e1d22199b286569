package energyarray

import (
	"bytes"
	"fmt"
	"math"
	"os"

	"github.com/sbinet/npyio"
	"github.com/surfacelab/pesscan/pkg/fsutil"
)

// EncodeNPY renders values as a 1-D float64 .npy document.
func EncodeNPY(values []float64) ([]byte, error) {
	var buf bytes.Buffer

	if err := npyio.Write(&buf, values); err != nil {
		return nil, fmt.Errorf("encoding npy: %w", err)
	}

	return buf.Bytes(), nil
}

// WriteNPY writes values to path.
func WriteNPY(path string, values []float64, owner *fsutil.OwnerConfig) error {
	data, err := EncodeNPY(values)
	if err != nil {
		return err
	}

	if err := fsutil.WriteFile(path, data, 0o644, owner); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	return nil
}

// ReadNPY loads a 1-D float64 .npy file.
func ReadNPY(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var values []float64
	if err := npyio.Read(f, &values); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	return values, nil
}

// Verify reloads path and compares it element-wise with want.
func Verify(path string, want []float64) error {
	got, err := ReadNPY(path)
	if err != nil {
		return fmt.Errorf("reloading array: %w", err)
	}

	if len(got) != len(want) {
		return fmt.Errorf("%w: length %d, want %d", ErrVerificationMismatch, len(got), len(want))
	}

	for i := range want {
		if got[i] != want[i] && !(math.IsNaN(got[i]) && math.IsNaN(want[i])) {
			return fmt.Errorf("%w: position %d is %g, want %g", ErrVerificationMismatch, i, got[i], want[i])
		}
	}

	return nil
}
