// Package retention deletes backups that fell out of the retention window.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/imedwei/mongo-backup/internal/metrics"
	"github.com/imedwei/mongo-backup/internal/storage"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the number of parallel deletes when none is configured.
const DefaultConcurrency = 4

// Policy controls a prune pass.
type Policy struct {
	MaxAgeDays  int  // 0 disables retention
	Simulate    bool // log what would be deleted without deleting
	Concurrency int
}

// Enabled reports whether the policy deletes anything at all.
func (p Policy) Enabled() bool {
	return p.MaxAgeDays > 0
}

// Cutoff returns the instant at or before which backups expire.
func (p Policy) Cutoff(now time.Time) time.Time {
	return now.UTC().AddDate(0, 0, -p.MaxAgeDays)
}

// Result summarizes a prune pass. In simulate mode Deleted counts candidates.
type Result struct {
	Deleted int
	Kept    int
	Total   int
	Failed  int
}

// Store is the part of a storage gateway retention needs.
type Store interface {
	ListObjects(ctx context.Context) ([]storage.Object, error)
	Delete(ctx context.Context, name string) error
}

// Partition splits objects into expired (CreatedAt <= cutoff) and kept ones.
func Partition(objects []storage.Object, cutoff time.Time) (toDelete, toKeep []storage.Object) {
	for _, obj := range objects {
		if obj.CreatedAt.After(cutoff) {
			toKeep = append(toKeep, obj)
		} else {
			toDelete = append(toDelete, obj)
		}
	}
	return toDelete, toKeep
}

// Manager applies retention policies.
type Manager struct {
	logger *slog.Logger
}

// NewManager creates a new retention manager.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{logger: logger}
}

// Prune deletes every object of store created at or before the policy cutoff.
// A failed delete does not stop the others; all failures are returned together.
func (m *Manager) Prune(ctx context.Context, store Store, policy Policy, now time.Time) (Result, error) {
	if !policy.Enabled() {
		m.logger.Debug("Retention disabled")
		return Result{}, nil
	}

	cutoff := policy.Cutoff(now)
	m.logger.Info("Applying retention",
		"max_age_days", policy.MaxAgeDays,
		"cutoff", cutoff.Format(time.RFC3339),
		"simulate", policy.Simulate,
	)

	objects, err := store.ListObjects(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list backups: %w", err)
	}

	toDelete, toKeep := Partition(objects, cutoff)
	result := Result{
		Kept:  len(toKeep),
		Total: len(objects),
	}
	metrics.BackupsKept.Set(float64(result.Kept))

	if policy.Simulate {
		for _, obj := range toDelete {
			m.logger.Info("Would delete backup", "name", obj.Name, "created_at", obj.CreatedAt.Format(time.RFC3339))
		}
		result.Deleted = len(toDelete)
		m.logger.Info("Retention simulated", "would_delete", result.Deleted, "kept", result.Kept, "total", result.Total)
		return result, nil
	}

	limit := policy.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	var (
		mu   sync.Mutex
		errs error
		g    errgroup.Group
	)
	g.SetLimit(limit)

	for _, obj := range toDelete {
		g.Go(func() error {
			err := store.Delete(ctx, obj.Name)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				result.Failed++
				errs = multierr.Append(errs, err)
				m.logger.Warn("Failed to delete backup", "name", obj.Name, "error", err)
				return nil
			}

			result.Deleted++
			metrics.BackupsDeleted.Inc()
			m.logger.Info("Deleted backup", "name", obj.Name, "created_at", obj.CreatedAt.Format(time.RFC3339))
			return nil
		})
	}
	_ = g.Wait()

	m.logger.Info("Retention applied",
		"deleted", result.Deleted,
		"failed", result.Failed,
		"kept", result.Kept,
		"total", result.Total,
	)

	return result, errs
}
