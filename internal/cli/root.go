// Package cli provides the command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/imedwei/mongo-backup/internal/backup"
	"github.com/imedwei/mongo-backup/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagBinding maps a command-line flag to its configuration key.
type flagBinding struct {
	flag string
	key  string
}

var flagBindings = []flagBinding{
	{"uri", "mongodb.uri"},
	{"dump-binary", "mongodb.dump_binary_path"},
	{"dump-options", "mongodb.dump_options"},
	{"output-dir", "mongodb.output_dir"},
	{"connect-timeout", "mongodb.connect_timeout"},
	{"file-name", "backup.file_name"},
	{"archive", "backup.archive"},
	{"storage", "storage"},
	{"prefix", "prefix"},
	{"gcs-bucket", "google_storage.bucket_name"},
	{"gcs-project-id", "google_storage.project_id"},
	{"azure-container", "azure_storage.container"},
	{"s3-bucket", "s3_storage.bucket"},
	{"s3-region", "s3_storage.region"},
	{"s3-endpoint", "s3_storage.endpoint"},
	{"simulate", "simulate"},
	{"delete-after-max-days", "delete_after_max_days"},
	{"retention-concurrency", "retention_concurrency"},
	{"metrics-port", "metrics.port"},
	{"pushgateway-url", "metrics.pushgateway_url"},
	{"log-level", "log.level"},
	{"log-output", "log.output"},
}

// NewRootCmd creates the root command. Running it without a subcommand
// performs one backup.
func NewRootCmd(v *viper.Viper) *cobra.Command {
	var envFile string

	rootCmd := &cobra.Command{
		Use:   "mongo-backup",
		Short: "Back up a MongoDB database to cloud object storage",
		Long: `mongo-backup runs mongodump once, packages the result and uploads it to
Google Cloud Storage, Azure Blob Storage or S3. Backups older than
--delete-after-max-days are deleted before the new one is taken.

Every option can also be set through the environment, for example
MONGODB_URI, BACKUP_FILE_NAME, STORAGE or GOOGLE_STORAGE_BUCKET_NAME.`,
		Version: Get().Short(),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(envFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(cmd.Context(), v)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load environment variables from this file instead of ./.env")

	registerFlags(rootCmd.PersistentFlags())
	bindFlags(v, rootCmd.PersistentFlags())

	rootCmd.AddCommand(NewValidateCmd(v))
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

func registerFlags(flags *pflag.FlagSet) {
	flags.String("uri", "", "MongoDB connection string")
	flags.String("dump-binary", "", "path to the mongodump binary")
	flags.String("dump-options", "", "extra mongodump arguments, shell quoted")
	flags.String("output-dir", "", "directory mongodump writes to when --archive is off")
	flags.Duration("connect-timeout", 0, "kill mongodump if it prints nothing within this time")
	flags.String("file-name", "", "artifact name template, supports {timestamp} and {timestamp:<layout>}")
	flags.Bool("archive", false, "let mongodump write a gzip archive instead of zipping a directory")
	flags.String("storage", "", "storage provider: gc, azure or s3")
	flags.String("prefix", "", "key prefix inside the bucket or container")
	flags.String("gcs-bucket", "", "Google Cloud Storage bucket")
	flags.String("gcs-project-id", "", "Google Cloud project billed for requests")
	flags.String("azure-container", "", "Azure Blob Storage container")
	flags.String("s3-bucket", "", "S3 bucket")
	flags.String("s3-region", "", "S3 region")
	flags.String("s3-endpoint", "", "S3-compatible endpoint URL")
	flags.Bool("simulate", false, "log expired backups instead of deleting them")
	flags.Int("delete-after-max-days", 0, "delete backups older than this many days (0 keeps all)")
	flags.Int("retention-concurrency", 0, "number of parallel deletes")
	flags.Int("metrics-port", 0, "serve /metrics and /health on this port while running (0 disables)")
	flags.String("pushgateway-url", "", "push metrics to this Pushgateway when done")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-output", "", "write logs to this file with rotation instead of stderr")
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	for _, b := range flagBindings {
		_ = v.BindPFlag(b.key, flags.Lookup(b.flag))
	}
}

func loadEnvFile(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("%w: failed to load env file %s: %w", config.ErrInvalid, path, err)
		}
		return nil
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: failed to load .env: %w", config.ErrInvalid, err)
	}
	return nil
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCmd(viper.New()).ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return backup.ExitCode(err)
}
