package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOwner(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    *OwnerConfig
		wantErr bool
	}{
		{name: "empty", in: "", want: nil},
		{name: "valid", in: "1000:100", want: &OwnerConfig{UID: 1000, GID: 100}},
		{name: "missing gid", in: "1000", wantErr: true},
		{name: "non numeric uid", in: "root:0", wantErr: true},
		{name: "non numeric gid", in: "0:wheel", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOwner(tt.in)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "energies.csv")

	require.NoError(t, WriteFile(path, []byte("first"), 0o644, nil))
	require.NoError(t, WriteFile(path, []byte("second"), 0o644, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestTempSiblingAndPublish(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "energies.sqlite")

	staged, err := TempSibling(path)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(staged))

	_, err = os.Stat(staged)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, os.WriteFile(staged, []byte("db"), 0o600))
	require.NoError(t, Publish(staged, path, 0o644, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "db", string(data))
}

func TestPublish_MissingStagedFile(t *testing.T) {
	dir := t.TempDir()

	err := Publish(filepath.Join(dir, "missing"), filepath.Join(dir, "out"), 0o644, nil)
	require.Error(t, err)
}
