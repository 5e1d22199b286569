package config

import (
	"fmt"
	"strings"

	units "github.com/docker/go-units"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"github.com/surfacelab/pesscan/pkg/energyarray"
	"github.com/surfacelab/pesscan/pkg/fsutil"
	"github.com/surfacelab/pesscan/pkg/outcar"
	"github.com/surfacelab/pesscan/pkg/scan"
	"github.com/surfacelab/pesscan/pkg/table"
)

const (
	// EnvPrefix prefixes every environment override, e.g. PESSCAN_SCAN_PREFIX.
	EnvPrefix = "PESSCAN"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultMinSize is the smallest output document considered parseable.
	DefaultMinSize = "1000B"

	// DefaultArrayName is the default array artifact name.
	DefaultArrayName = "energies.npy"

	// DefaultS3Prefix is the default key prefix for uploaded results.
	DefaultS3Prefix = "results"
)

// Config is the root configuration for pesscan.
type Config struct {
	Global GlobalConfig `yaml:"global" mapstructure:"global"`
	Scan   ScanConfig   `yaml:"scan" mapstructure:"scan"`
	Export ExportConfig `yaml:"export" mapstructure:"export"`
	Array  ArrayConfig  `yaml:"array" mapstructure:"array"`
	Upload UploadConfig `yaml:"upload" mapstructure:"upload"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
	// Owner is a UID:GID pair applied to every written artifact.
	Owner string `yaml:"owner,omitempty" mapstructure:"owner"`
}

// ScanConfig describes the layout of a calculations directory.
type ScanConfig struct {
	Prefix       string `yaml:"prefix" mapstructure:"prefix"`
	OutputFile   string `yaml:"output_file" mapstructure:"output_file"`
	MinSize      string `yaml:"min_size" mapstructure:"min_size"`
	StatusEnergy string `yaml:"status_energy" mapstructure:"status_energy"`
	// MaxIndex is the largest run index accepted. Runs above it are skipped
	// so a stray directory name cannot size the array.
	MaxIndex int `yaml:"max_index" mapstructure:"max_index"`
}

// ExportConfig contains table exporter settings.
type ExportConfig struct {
	Format       string   `yaml:"format" mapstructure:"format"`
	OutputDir    string   `yaml:"output_dir,omitempty" mapstructure:"output_dir"`
	ExtraFormats []string `yaml:"extra_formats,omitempty" mapstructure:"extra_formats"`
	StdEstimator string   `yaml:"std_estimator" mapstructure:"std_estimator"`
}

// ArrayConfig contains array assembler settings.
type ArrayConfig struct {
	OutputName       string `yaml:"output_name" mapstructure:"output_name"`
	EnergyType       string `yaml:"energy_type" mapstructure:"energy_type"`
	FillValue        string `yaml:"fill_value" mapstructure:"fill_value"`
	StdEstimator     string `yaml:"std_estimator" mapstructure:"std_estimator"`
	FallbackFree     bool   `yaml:"fallback_free" mapstructure:"fallback_free"`
	RequireConverged bool   `yaml:"require_converged" mapstructure:"require_converged"`
}

// UploadConfig contains result upload settings.
type UploadConfig struct {
	S3 S3UploadConfig `yaml:"s3" mapstructure:"s3"`
}

// S3UploadConfig contains S3-compatible storage settings.
type S3UploadConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix" mapstructure:"prefix"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	StorageClass    string `yaml:"storage_class,omitempty" mapstructure:"storage_class"`
	ACL             string `yaml:"acl,omitempty" mapstructure:"acl"`
}

// defaults are registered with viper so that every key can be overridden
// from the environment, even when absent from the config file.
var defaults = map[string]any{
	"global.log_level":            DefaultLogLevel,
	"global.owner":                "",
	"scan.prefix":                 scan.DefaultPrefix,
	"scan.output_file":            scan.DefaultOutputFile,
	"scan.min_size":               DefaultMinSize,
	"scan.status_energy":          string(outcar.EnergyWithoutEntropy),
	"scan.max_index":              scan.DefaultMaxIndex,
	"export.format":               string(table.FormatXLSX),
	"export.output_dir":           "",
	"export.extra_formats":        []string{},
	"export.std_estimator":        string(table.Sample),
	"array.output_name":           DefaultArrayName,
	"array.energy_type":           string(outcar.EnergySigma0),
	"array.fill_value":            "nan",
	"array.std_estimator":         string(table.Population),
	"array.fallback_free":         true,
	"array.require_converged":     false,
	"upload.s3.enabled":           false,
	"upload.s3.bucket":            "",
	"upload.s3.prefix":            DefaultS3Prefix,
	"upload.s3.region":            "",
	"upload.s3.endpoint_url":      "",
	"upload.s3.access_key_id":     "",
	"upload.s3.secret_access_key": "",
	"upload.s3.force_path_style":  false,
	"upload.s3.storage_class":     "",
	"upload.s3.acl":               "",
}

// Load builds the configuration from defaults, the given config files (later
// files override earlier ones) and PESSCAN_* environment variables.
func Load(paths ...string) (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for i, path := range paths {
		v.SetConfigFile(path)

		read := v.MergeInConfig
		if i == 0 {
			read = v.ReadInConfig
		}

		if err := read(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToSliceHookFunc(","),
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("creating config decoder: %w", err)
	}

	if err := dec.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults fills values left empty by an explicit empty setting.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Scan.Prefix == "" {
		c.Scan.Prefix = scan.DefaultPrefix
	}

	if c.Scan.OutputFile == "" {
		c.Scan.OutputFile = scan.DefaultOutputFile
	}

	if c.Scan.MinSize == "" {
		c.Scan.MinSize = DefaultMinSize
	}

	if c.Array.OutputName == "" {
		c.Array.OutputName = DefaultArrayName
	}

	if c.Upload.S3.Prefix == "" {
		c.Upload.S3.Prefix = DefaultS3Prefix
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, err := fsutil.ParseOwner(c.Global.Owner); err != nil {
		return fmt.Errorf("global.owner: %w", err)
	}

	if _, err := c.Scan.MinSizeBytes(); err != nil {
		return fmt.Errorf("scan.min_size: %w", err)
	}

	if _, err := outcar.ParseEnergyKind(c.Scan.StatusEnergy); err != nil {
		return fmt.Errorf("scan.status_energy: %w", err)
	}

	if c.Scan.MaxIndex <= 0 {
		return fmt.Errorf("scan.max_index must be positive, got %d", c.Scan.MaxIndex)
	}

	for i, f := range c.Export.ExtraFormats {
		if _, err := table.ParseFormat(f); err != nil {
			return fmt.Errorf("export.extra_formats[%d]: %w", i, err)
		}
	}

	if _, err := table.ParseStdEstimator(c.Export.StdEstimator); err != nil {
		return fmt.Errorf("export.std_estimator: %w", err)
	}

	if _, err := outcar.ParseEnergyKind(c.Array.EnergyType); err != nil {
		return fmt.Errorf("array.energy_type: %w", err)
	}

	if _, err := energyarray.ParseFill(c.Array.FillValue); err != nil {
		return fmt.Errorf("array.fill_value: %w", err)
	}

	if _, err := table.ParseStdEstimator(c.Array.StdEstimator); err != nil {
		return fmt.Errorf("array.std_estimator: %w", err)
	}

	if c.Upload.S3.Enabled && c.Upload.S3.Bucket == "" {
		return fmt.Errorf("upload.s3.bucket is required when s3 upload is enabled")
	}

	return nil
}

// MinSizeBytes parses MinSize, which accepts human sizes such as "1kB".
func (c *ScanConfig) MinSizeBytes() (int64, error) {
	n, err := units.FromHumanSize(c.MinSize)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", c.MinSize, err)
	}

	return n, nil
}

// ExportOptions converts the export section for table.NewExporter.
func (c *Config) ExportOptions() (table.ExportOptions, error) {
	owner, err := fsutil.ParseOwner(c.Global.Owner)
	if err != nil {
		return table.ExportOptions{}, err
	}

	// An unknown preferred format is left to the exporter, which falls back.
	format := table.Format(strings.ToLower(c.Export.Format))
	if f, err := table.ParseFormat(c.Export.Format); err == nil {
		format = f
	}

	extra := make([]table.Format, 0, len(c.Export.ExtraFormats))

	for _, name := range c.Export.ExtraFormats {
		f, err := table.ParseFormat(name)
		if err != nil {
			return table.ExportOptions{}, err
		}

		extra = append(extra, f)
	}

	est, err := table.ParseStdEstimator(c.Export.StdEstimator)
	if err != nil {
		return table.ExportOptions{}, err
	}

	return table.ExportOptions{
		Format:    format,
		Extra:     extra,
		Estimator: est,
		Owner:     owner,
	}, nil
}

// ArrayOptions converts the array section for energyarray.NewAssembler.
func (c *Config) ArrayOptions() (energyarray.Options, error) {
	owner, err := fsutil.ParseOwner(c.Global.Owner)
	if err != nil {
		return energyarray.Options{}, err
	}

	kind, err := outcar.ParseEnergyKind(c.Array.EnergyType)
	if err != nil {
		return energyarray.Options{}, err
	}

	fill, err := energyarray.ParseFill(c.Array.FillValue)
	if err != nil {
		return energyarray.Options{}, fmt.Errorf("invalid fill value %q: %w", c.Array.FillValue, err)
	}

	est, err := table.ParseStdEstimator(c.Array.StdEstimator)
	if err != nil {
		return energyarray.Options{}, err
	}

	return energyarray.Options{
		EnergyType:       kind,
		Fill:             fill,
		FallbackFree:     c.Array.FallbackFree,
		RequireConverged: c.Array.RequireConverged,
		MaxIndex:         c.Scan.MaxIndex,
		Estimator:        est,
		Owner:            owner,
	}, nil
}

// ScanOptions converts the scan section for scan.NewAggregator and returns
// the minimum document size for outcar.New.
func (c *Config) ScanOptions() (scan.Options, int64, error) {
	kind, err := outcar.ParseEnergyKind(c.Scan.StatusEnergy)
	if err != nil {
		return scan.Options{}, 0, err
	}

	minSize, err := c.Scan.MinSizeBytes()
	if err != nil {
		return scan.Options{}, 0, err
	}

	return scan.Options{
		Prefix:       c.Scan.Prefix,
		OutputFile:   c.Scan.OutputFile,
		StatusEnergy: kind,
		MaxIndex:     c.Scan.MaxIndex,
	}, minSize, nil
}
