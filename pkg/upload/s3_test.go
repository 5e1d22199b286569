package upload

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surfacelab/pesscan/pkg/config"
)

func TestResolvePrefix(t *testing.T) {
	tests := []struct {
		name     string
		prefix   string
		baseName string
		want     string
	}{
		{
			name:     "default prefix",
			prefix:   "",
			baseName: "cu111_o_scan",
			want:     "results/cu111_o_scan",
		},
		{
			name:     "custom prefix",
			prefix:   "surface-lab/pes",
			baseName: "pt111_h_scan",
			want:     "surface-lab/pes/pt111_h_scan",
		},
		{
			name:     "trailing slash stripped",
			prefix:   "my-prefix/",
			baseName: "run123",
			want:     "my-prefix/run123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &s3Uploader{
				cfg: &config.S3UploadConfig{Prefix: tt.prefix},
			}
			got := u.resolvePrefix(tt.baseName)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		wantPrefix string
	}{
		{
			name:       "json file",
			path:       "results/config.json",
			wantPrefix: "application/json",
		},
		{
			name:       "no extension",
			path:       "calc_0000/OUTCAR",
			wantPrefix: "application/octet-stream",
		},
		{
			name:       "workbook",
			path:       "results/energies_20240101_000000.xlsx",
			wantPrefix: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		},
		{
			name:       "csv table",
			path:       "results/energies_20240101_000000.CSV",
			wantPrefix: "text/csv",
		},
		{
			name:       "npy array",
			path:       "results/energies.npy",
			wantPrefix: "application/octet-stream",
		},
		{
			name:       "txt file",
			path:       "results/energies_metadata.txt",
			wantPrefix: "text/plain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := detectContentType(tt.path)
			assert.Contains(t, got, tt.wantPrefix)
		})
	}
}

func TestNewS3Uploader_RequiresBucket(t *testing.T) {
	_, err := NewS3Uploader(logrus.New(), &config.S3UploadConfig{})
	require.Error(t, err)

	_, err = NewS3Uploader(logrus.New(), nil)
	require.Error(t, err)
}

// fakeS3 serves a single path-style bucket and records the object keys of
// PUT requests.
type fakeS3 struct {
	bucket string

	mu   sync.Mutex
	keys []string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodHead {
		if strings.Trim(r.URL.Path, "/") != f.bucket {
			w.WriteHeader(http.StatusNotFound)

			return
		}

		w.WriteHeader(http.StatusOK)

		return
	}

	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)

		return
	}

	_, _ = io.Copy(io.Discard, r.Body)

	f.mu.Lock()
	f.keys = append(f.keys, r.URL.Path)
	f.mu.Unlock()

	w.WriteHeader(http.StatusOK)
}

func newTestUploader(t *testing.T, bucket string) (Uploader, *fakeS3) {
	t.Helper()

	fake := &fakeS3{bucket: "pes"}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	log := logrus.New()
	log.SetOutput(io.Discard)

	u, err := NewS3Uploader(log, &config.S3UploadConfig{
		Bucket:          bucket,
		Prefix:          "scans",
		EndpointURL:     srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		ForcePathStyle:  true,
	})
	require.NoError(t, err)

	return u, fake
}

func TestS3Uploader_Upload(t *testing.T) {
	u, fake := newTestUploader(t, "pes")

	dir := filepath.Join(t.TempDir(), "cu111")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "arrays"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "energies.csv"), []byte("Index\n0\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "arrays", "energies.npy"), []byte("npy"), 0o644))

	require.NoError(t, u.Preflight(context.Background()))
	require.NoError(t, u.Upload(context.Background(), dir))

	keys := append([]string(nil), fake.keys...)
	sort.Strings(keys)

	assert.Equal(t, []string{
		"/pes/scans/cu111/arrays/energies.npy",
		"/pes/scans/cu111/energies.csv",
	}, keys)
}

func TestS3Uploader_UploadFiles(t *testing.T) {
	u, fake := newTestUploader(t, "pes")

	dir := t.TempDir()
	table := filepath.Join(dir, "energies_20240101_000000.xlsx")
	require.NoError(t, os.WriteFile(table, []byte("xlsx"), 0o644))

	require.NoError(t, u.UploadFiles(context.Background(), "cu111", []string{table}))
	assert.Equal(t, []string{"/pes/scans/cu111/energies_20240101_000000.xlsx"}, fake.keys)

	fake.keys = nil

	err := u.UploadFiles(context.Background(), "cu111", []string{table, filepath.Join(dir, "missing.npy")})
	require.Error(t, err)
	assert.Empty(t, fake.keys, "nothing sent when an artifact is missing")
}

func TestS3Uploader_PreflightMissingBucket(t *testing.T) {
	u, fake := newTestUploader(t, "absent")

	err := u.Preflight(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://absent")
	assert.Empty(t, fake.keys)
}

func TestS3Uploader_UploadMissingDir(t *testing.T) {
	u, _ := newTestUploader(t, "pes")

	err := u.Upload(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}
