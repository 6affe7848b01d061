package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/imedwei/mongo-backup/internal/config"
	"github.com/imedwei/mongo-backup/internal/dump"
	"github.com/imedwei/mongo-backup/internal/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewValidateCmd creates the validate command.
func NewValidateCmd(v *viper.Viper) *cobra.Command {
	var checkStorage bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and test connectivity",
		Long: `Validate the configuration without taking a backup.

This checks:
- Required options for the selected storage provider
- mongodump availability and version
- Bucket or container access (with --check-storage)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.Context(), cmd.OutOrStdout(), v, checkStorage)
		},
	}

	cmd.Flags().BoolVar(&checkStorage, "check-storage", false, "connect to the storage provider and verify access")

	return cmd
}

func runValidate(ctx context.Context, out io.Writer, v *viper.Viper, checkStorage bool) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	fmt.Fprintln(out, "Configuration:")
	cfg, err := config.NewLoader(v).Load()
	if err != nil {
		fmt.Fprintf(out, "  ✗ %v\n", err)
		return err
	}
	fmt.Fprintf(out, "  ✓ Configuration valid\n")

	target, err := storage.NewTarget(cfg)
	if err != nil {
		fmt.Fprintf(out, "  ✗ Storage: %v\n", err)
		return err
	}

	fmt.Fprintf(out, "  URI: %s\n", dump.RedactURI(cfg.MongoDB.URI))
	fmt.Fprintf(out, "  Storage: %s (%s)\n", target.Provider(), target.Location())
	fmt.Fprintf(out, "  File name: %s\n", cfg.Backup.FileName)
	if cfg.DeleteAfterMaxDays > 0 {
		fmt.Fprintf(out, "  Retention: %d days (simulate: %t)\n", cfg.DeleteAfterMaxDays, cfg.Simulate)
	} else {
		fmt.Fprintf(out, "  Retention: disabled\n")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Checks:")

	binary, err := dump.ResolveBinary(cfg.MongoDB.DumpBinaryPath)
	if err != nil {
		fmt.Fprintf(out, "  ✗ mongodump binary: %v\n", err)
		return err
	}
	if version, err := dump.GetToolVersion(ctx, binary); err != nil {
		fmt.Fprintf(out, "  ✓ mongodump binary found: %s (version unknown: %v)\n", binary, err)
	} else {
		fmt.Fprintf(out, "  ✓ mongodump binary found: %s (%s)\n", binary, version.Full)
	}

	if checkStorage {
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		store, err := storage.NewStorage(ctx, target, logger)
		if err == nil {
			err = store.Initialize(ctx)
			_ = store.Close()
		}
		if err != nil {
			fmt.Fprintf(out, "  ✗ Storage access: %v\n", err)
			return err
		}
		fmt.Fprintf(out, "  ✓ Storage reachable\n")
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Validation complete.")
	return nil
}
