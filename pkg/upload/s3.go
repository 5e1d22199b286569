package upload

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	units "github.com/docker/go-units"
	"github.com/sirupsen/logrus"
	"github.com/surfacelab/pesscan/pkg/config"
)

// defaultRegion is used when the config leaves the region empty. Most
// S3-compatible stores accept any region.
const defaultRegion = "us-east-1"

// s3Uploader publishes scan artifacts to an S3-compatible bucket.
type s3Uploader struct {
	log    logrus.FieldLogger
	cfg    *config.S3UploadConfig
	client *s3.Client
}

// Ensure interface compliance.
var _ Uploader = (*s3Uploader)(nil)

// artifact is a local file and the object key it is stored under.
type artifact struct {
	path string
	key  string
	size int64
}

// NewS3Uploader creates an uploader for the bucket in cfg.
func NewS3Uploader(
	log logrus.FieldLogger,
	cfg *config.S3UploadConfig,
) (Uploader, error) {
	if cfg == nil || cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is not configured")
	}

	return &s3Uploader{
		log:    log.WithField("component", "s3-uploader"),
		cfg:    cfg,
		client: s3.New(clientOptions(cfg)),
	}, nil
}

func clientOptions(cfg *config.S3UploadConfig) s3.Options {
	opts := s3.Options{
		Region:       cfg.Region,
		UsePathStyle: cfg.ForcePathStyle,
	}

	if opts.Region == "" {
		opts.Region = defaultRegion
	}

	if cfg.EndpointURL != "" {
		opts.BaseEndpoint = aws.String(cfg.EndpointURL)
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)
	}

	return opts
}

// Preflight checks that the bucket exists and the credentials can reach it.
// Nothing is written.
func (u *s3Uploader) Preflight(ctx context.Context) error {
	if _, err := u.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(u.cfg.Bucket),
	}); err != nil {
		return fmt.Errorf("checking bucket s3://%s: %w", u.cfg.Bucket, err)
	}

	u.log.WithField("bucket", u.cfg.Bucket).Debug("Bucket reachable")

	return nil
}

// Upload stores every file below localDir under prefix/<basename of
// localDir>, keeping the relative layout.
func (u *s3Uploader) Upload(ctx context.Context, localDir string) error {
	info, err := os.Stat(localDir)
	if err != nil {
		return fmt.Errorf("reading directory %s: %w", localDir, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", localDir)
	}

	prefix := u.resolvePrefix(filepath.Base(filepath.Clean(localDir)))

	var artifacts []artifact

	err = filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}

		artifacts = append(artifacts, artifact{
			path: p,
			key:  path.Join(prefix, filepath.ToSlash(rel)),
			size: fi.Size(),
		})

		return nil
	})
	if err != nil {
		return fmt.Errorf("walking directory %s: %w", localDir, err)
	}

	return u.put(ctx, prefix, artifacts)
}

// UploadFiles stores paths under prefix/scan by basename. Every path is
// checked before the first object is sent.
func (u *s3Uploader) UploadFiles(ctx context.Context, scan string, paths []string) error {
	prefix := u.resolvePrefix(scan)
	artifacts := make([]artifact, 0, len(paths))

	for _, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("reading artifact: %w", err)
		}

		artifacts = append(artifacts, artifact{
			path: p,
			key:  path.Join(prefix, filepath.Base(p)),
			size: fi.Size(),
		})
	}

	return u.put(ctx, prefix, artifacts)
}

func (u *s3Uploader) put(ctx context.Context, prefix string, artifacts []artifact) error {
	var total int64

	for _, a := range artifacts {
		if err := u.putObject(ctx, a); err != nil {
			return fmt.Errorf("uploading %s: %w", a.path, err)
		}

		total += a.size
	}

	u.log.WithFields(logrus.Fields{
		"files":  len(artifacts),
		"size":   units.HumanSize(float64(total)),
		"bucket": u.cfg.Bucket,
		"prefix": prefix,
	}).Info("Artifacts uploaded")

	return nil
}

func (u *s3Uploader) putObject(ctx context.Context, a artifact) error {
	f, err := os.Open(a.path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	input := &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.Bucket),
		Key:           aws.String(a.key),
		Body:          f,
		ContentLength: aws.Int64(a.size),
		ContentType:   aws.String(detectContentType(a.path)),
	}

	if u.cfg.StorageClass != "" {
		input.StorageClass = s3types.StorageClass(u.cfg.StorageClass)
	}

	if u.cfg.ACL != "" {
		input.ACL = s3types.ObjectCannedACL(u.cfg.ACL)
	}

	u.log.WithField("key", a.key).Debug("Uploading artifact")

	if _, err := u.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("put object: %w", err)
	}

	return nil
}

// resolvePrefix returns the key prefix for a scan or results directory.
func (u *s3Uploader) resolvePrefix(name string) string {
	prefix := strings.Trim(u.cfg.Prefix, "/")
	if prefix == "" {
		prefix = config.DefaultS3Prefix
	}

	return path.Join(prefix, name)
}

// artifactTypes covers artifact extensions missing from most mime tables.
var artifactTypes = map[string]string{
	".csv":     "text/csv",
	".npy":     "application/octet-stream",
	".parquet": "application/vnd.apache.parquet",
	".sqlite":  "application/vnd.sqlite3",
	".txt":     "text/plain; charset=utf-8",
	".xlsx":    "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

func detectContentType(p string) string {
	ext := strings.ToLower(filepath.Ext(p))

	if ct, ok := artifactTypes[ext]; ok {
		return ct
	}

	if ct := mime.TypeByExtension(ext); ext != "" && ct != "" {
		return ct
	}

	return "application/octet-stream"
}
