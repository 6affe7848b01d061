// Package backup runs one complete backup: dump, archive, upload and retention.
package backup

import (
	"context"
	"time"

	"github.com/imedwei/mongo-backup/internal/archive"
	"github.com/imedwei/mongo-backup/internal/dump"
	"github.com/imedwei/mongo-backup/internal/retention"
)

// Dumper runs the external dump tool. Implemented by dump.Supervisor.
type Dumper interface {
	// Run writes the dump to dest (self-archive) or to src.OutputDir (directory).
	Run(ctx context.Context, src dump.Source, mode dump.Mode, dest string) error
}

// Archiver zips a dump directory into one file. Implemented by archive.Builder.
type Archiver interface {
	Build(srcDir, dest string) (archive.Stats, error)
}

// Pruner applies the retention policy. Implemented by retention.Manager.
type Pruner interface {
	Prune(ctx context.Context, store retention.Store, policy retention.Policy, now time.Time) (retention.Result, error)
}

// StageObserver is told whenever a run moves to the next stage.
// Implemented by health.Progress.
type StageObserver interface {
	Enter(stage string)
}

type nopObserver struct{}

func (nopObserver) Enter(string) {}
