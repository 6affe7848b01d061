// Package config handles application configuration from environment variables and flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage provider names accepted by the "storage" option.
const (
	ProviderGoogleCloud = "gc"
	ProviderAzure       = "azure"
	ProviderS3          = "s3"
)

// ErrInvalid is returned by Load when the configuration fails validation.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all application configuration.
type Config struct {
	MongoDB MongoDBConfig `mapstructure:"mongodb"`
	Backup  BackupConfig  `mapstructure:"backup"`

	// Storage provider configuration
	Storage       string              `mapstructure:"storage"` // "gc", "azure" or "s3"
	Prefix        string              `mapstructure:"prefix"`
	GoogleStorage GoogleStorageConfig `mapstructure:"google_storage"`
	AzureStorage  AzureStorageConfig  `mapstructure:"azure_storage"`
	S3Storage     S3StorageConfig     `mapstructure:"s3_storage"`

	// Retention
	Simulate             bool `mapstructure:"simulate"`
	DeleteAfterMaxDays   int  `mapstructure:"delete_after_max_days"`
	RetentionConcurrency int  `mapstructure:"retention_concurrency"`

	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`
}

// MongoDBConfig describes the database to dump and the dump tool.
type MongoDBConfig struct {
	URI            string        `mapstructure:"uri"`
	DumpBinaryPath string        `mapstructure:"dump_binary_path"`
	DumpOptions    string        `mapstructure:"dump_options"`
	OutputDir      string        `mapstructure:"output_dir"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// BackupConfig controls the produced artifact.
type BackupConfig struct {
	FileName string `mapstructure:"file_name"`
	Archive  bool   `mapstructure:"archive"`
}

// GoogleStorageConfig holds Google Cloud Storage settings.
type GoogleStorageConfig struct {
	BucketName         string `mapstructure:"bucket_name"`
	ProjectID          string `mapstructure:"project_id"`
	ServiceAccountJSON string `mapstructure:"service_account_json"`
}

// AzureStorageConfig holds Azure Blob Storage settings.
type AzureStorageConfig struct {
	ConnectionString string `mapstructure:"connection_string"`
	Container        string `mapstructure:"container"`
}

// S3StorageConfig holds S3 settings.
type S3StorageConfig struct {
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Port           int    `mapstructure:"port"`
	PushgatewayURL string `mapstructure:"pushgateway_url"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level     string `mapstructure:"level"`
	Output    string `mapstructure:"output"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
}

// Loader handles configuration loading from defaults, environment and flags.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader around v. Flags are expected
// to be bound on v by the caller.
func NewLoader(v *viper.Viper) *Loader {
	if v == nil {
		v = viper.New()
	}
	return &Loader{v: v}
}

// Load reads configuration from all sources and returns the validated config.
// Precedence (highest to lowest): CLI flags > environment > defaults.
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()
	l.setupEnvBindings()

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	return &cfg, nil
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("mongodb.uri", DefaultMongoURI)
	l.v.SetDefault("mongodb.dump_binary_path", DefaultDumpBinary)
	l.v.SetDefault("mongodb.dump_options", "")
	l.v.SetDefault("mongodb.output_dir", DefaultOutputDir)
	l.v.SetDefault("mongodb.connect_timeout", DefaultConnectTimeout)

	l.v.SetDefault("backup.file_name", DefaultFileName)
	l.v.SetDefault("backup.archive", false)

	l.v.SetDefault("storage", ProviderGoogleCloud)
	l.v.SetDefault("prefix", "")
	l.v.SetDefault("google_storage.bucket_name", "")
	l.v.SetDefault("google_storage.project_id", "")
	l.v.SetDefault("google_storage.service_account_json", "")
	l.v.SetDefault("azure_storage.connection_string", "")
	l.v.SetDefault("azure_storage.container", "")
	l.v.SetDefault("s3_storage.access_key_id", "")
	l.v.SetDefault("s3_storage.secret_access_key", "")
	l.v.SetDefault("s3_storage.bucket", "")
	l.v.SetDefault("s3_storage.region", "")
	l.v.SetDefault("s3_storage.endpoint", "")

	l.v.SetDefault("simulate", false)
	l.v.SetDefault("delete_after_max_days", 0) // 0 means no retention policy
	l.v.SetDefault("retention_concurrency", DefaultRetentionConcurrency)

	l.v.SetDefault("metrics.port", 0)
	l.v.SetDefault("metrics.pushgateway_url", "")

	l.v.SetDefault("log.level", DefaultLogLevel)
	l.v.SetDefault("log.output", "")
	l.v.SetDefault("log.max_size_mb", DefaultLogMaxSizeMB)
}

// setupEnvBindings maps "mongodb.uri" to MONGODB_URI and so on.
func (l *Loader) setupEnvBindings() {
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()
}

// Provider returns the normalized storage provider name.
func (c *Config) Provider() string {
	p := strings.ToLower(strings.TrimSpace(c.Storage))
	if p == "gcs" {
		return ProviderGoogleCloud
	}
	return p
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.MongoDB.URI) == "" {
		return fmt.Errorf("mongodb.uri is required")
	}
	if strings.TrimSpace(c.MongoDB.DumpBinaryPath) == "" {
		return fmt.Errorf("mongodb.dump_binary_path is required")
	}
	if c.MongoDB.ConnectTimeout <= 0 {
		return fmt.Errorf("mongodb.connect_timeout must be positive")
	}
	if !c.Backup.Archive && strings.TrimSpace(c.MongoDB.OutputDir) == "" {
		return fmt.Errorf("mongodb.output_dir is required when backup.archive is false")
	}
	if strings.TrimSpace(c.Backup.FileName) == "" {
		return fmt.Errorf("backup.file_name is required")
	}

	switch c.Provider() {
	case ProviderGoogleCloud:
		if err := c.validateGoogleStorage(); err != nil {
			return err
		}
	case ProviderAzure:
		if err := c.validateAzureStorage(); err != nil {
			return err
		}
	case ProviderS3:
		if err := c.validateS3Storage(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid storage: %s (must be 'gc', 'azure' or 's3')", c.Storage)
	}

	if c.DeleteAfterMaxDays < 0 {
		return fmt.Errorf("delete_after_max_days must be non-negative")
	}
	if c.RetentionConcurrency < 1 {
		return fmt.Errorf("retention_concurrency must be at least 1")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	if c.Log.Output != "" && c.Log.MaxSizeMB < 1 {
		return fmt.Errorf("log.max_size_mb must be at least 1")
	}

	return nil
}

func (c *Config) validateGoogleStorage() error {
	if strings.TrimSpace(c.GoogleStorage.BucketName) == "" {
		return fmt.Errorf("google_storage.bucket_name is required for Google Cloud storage")
	}
	return nil
}

func (c *Config) validateAzureStorage() error {
	if strings.TrimSpace(c.AzureStorage.ConnectionString) == "" {
		return fmt.Errorf("azure_storage.connection_string is required for Azure storage")
	}
	if strings.TrimSpace(c.AzureStorage.Container) == "" {
		return fmt.Errorf("azure_storage.container is required for Azure storage")
	}
	return nil
}

func (c *Config) validateS3Storage() error {
	if c.S3Storage.Bucket == "" {
		return fmt.Errorf("s3_storage.bucket is required for S3 storage")
	}
	if (c.S3Storage.AccessKeyID == "") != (c.S3Storage.SecretAccessKey == "") {
		return fmt.Errorf("s3_storage.access_key_id and s3_storage.secret_access_key must be set together")
	}
	if c.S3Storage.Region == "" && c.S3Storage.Endpoint == "" {
		return fmt.Errorf("s3_storage.region is required for S3 storage (unless s3_storage.endpoint is set)")
	}
	return nil
}
