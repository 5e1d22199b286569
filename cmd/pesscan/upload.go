package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/surfacelab/pesscan/pkg/upload"
)

var uploadResultDir string

var uploadResultsCmd = &cobra.Command{
	Use:   "upload-results",
	Short: "Upload a results directory to remote storage",
	Long:  `Upload a local results directory to S3-compatible storage using the upload.s3 config settings.`,
	RunE:  runUploadResults,
}

func init() {
	rootCmd.AddCommand(uploadResultsCmd)
	uploadResultsCmd.Flags().StringVar(&uploadResultDir, "dir", "",
		"Path to the results directory to upload")

	_ = uploadResultsCmd.MarkFlagRequired("dir")
}

func runUploadResults(cmd *cobra.Command, args []string) error {
	if !cfg.Upload.S3.Enabled {
		return fmt.Errorf("S3 upload is not configured or not enabled in config")
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	uploader, err := upload.NewS3Uploader(log, &cfg.Upload.S3)
	if err != nil {
		return fmt.Errorf("creating S3 uploader: %w", err)
	}

	ctx := cmd.Context()

	if err := uploader.Preflight(ctx); err != nil {
		return fmt.Errorf("checking S3 access: %w", err)
	}

	log.WithField("dir", uploadResultDir).Info("Uploading results")

	if err := uploader.Upload(ctx, uploadResultDir); err != nil {
		return fmt.Errorf("uploading results: %w", err)
	}

	log.Info("Upload completed successfully")

	return nil
}
