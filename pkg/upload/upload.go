package upload

import "context"

// Uploader publishes pipeline artifacts to remote storage.
type Uploader interface {
	// Preflight verifies that the remote storage is reachable with the
	// configured credentials, failing fast on a misconfigured bucket.
	Preflight(ctx context.Context) error

	// Upload uploads all files in localDir. The directory basename is
	// used as a sub-prefix under the configured remote prefix.
	Upload(ctx context.Context, localDir string) error

	// UploadFiles uploads the given artifacts under prefix + "/" + scan,
	// keyed by their basenames.
	UploadFiles(ctx context.Context, scan string, paths []string) error
}
