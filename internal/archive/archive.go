// Package archive finalizes dump output into a single uploadable artifact.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/imedwei/mongo-backup/internal/utils"
)

// Artifact suffixes. Self-archiving dumps are gzip-compressed mongodump archives.
const (
	ExtensionSelfArchive = ".agz"
	ExtensionZip         = ".zip"
)

// ErrCreate is returned when the zip archive cannot be produced.
var ErrCreate = errors.New("archive creation failed")

// Extension returns the artifact suffix for the given dump mode.
func Extension(selfArchiving bool) string {
	if selfArchiving {
		return ExtensionSelfArchive
	}
	return ExtensionZip
}

// Stats describes a produced archive.
type Stats struct {
	Files    int
	Bytes    int64
	Duration time.Duration
}

// Builder zips dump directories.
type Builder struct {
	logger *slog.Logger
}

// NewBuilder creates a new archive builder.
func NewBuilder(logger *slog.Logger) *Builder {
	return &Builder{logger: logger}
}

// Build compresses the whole srcDir tree into dest. Any existing file at dest
// is deleted first so no previous content can end up in the new archive.
func (b *Builder) Build(srcDir, dest string) (Stats, error) {
	start := time.Now()
	b.logger.Info("Archive creating", "source", srcDir, "destination", dest)

	info, err := os.Stat(srcDir)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: dump directory %s: %w", ErrCreate, srcDir, err)
	}
	if !info.IsDir() {
		return Stats{}, fmt.Errorf("%w: %s is not a directory", ErrCreate, srcDir)
	}

	if err := os.Remove(dest); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Stats{}, fmt.Errorf("%w: failed to remove %s: %w", ErrCreate, dest, err)
	}

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: failed to create %s: %w", ErrCreate, dest, err)
	}

	pw := utils.NewProgressWriter(f, func(written int64, elapsed time.Duration) {
		b.logger.Info("Archive progress",
			"written", utils.FormatBytes(written),
			"rate", utils.FormatRate(float64(written)/elapsed.Seconds()),
		)
	})
	zw := zip.NewWriter(pw)

	srcFS := os.DirFS(srcDir)
	if err := zw.AddFS(srcFS); err != nil {
		_ = zw.Close()
		_ = f.Close()
		return Stats{}, fmt.Errorf("%w: failed to add %s: %w", ErrCreate, srcDir, err)
	}

	if err := zw.Close(); err != nil {
		_ = f.Close()
		return Stats{}, fmt.Errorf("%w: failed to finalize zip: %w", ErrCreate, err)
	}

	if err := f.Close(); err != nil {
		return Stats{}, fmt.Errorf("%w: failed to close %s: %w", ErrCreate, dest, err)
	}

	files, err := countFiles(srcFS)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %w", ErrCreate, err)
	}

	stats := Stats{
		Files:    files,
		Bytes:    pw.BytesWritten(),
		Duration: time.Since(start),
	}

	b.logger.Info("Archive created",
		"files", stats.Files,
		"size", utils.FormatBytes(stats.Bytes),
		"duration", stats.Duration,
	)

	return stats, nil
}

func countFiles(fsys fs.FS) (int, error) {
	var n int
	err := fs.WalkDir(fsys, ".", func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			n++
		}
		return nil
	})
	return n, err
}
