package retention

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/imedwei/mongo-backup/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

type fakeStore struct {
	mu        sync.Mutex
	objects   []storage.Object
	listErr   error
	failOn    map[string]error
	listCalls int
	deleted   []string
}

func (f *fakeStore) ListObjects(_ context.Context) ([]storage.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.objects, nil
}

func (f *fakeStore) Delete(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failOn[name]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, name)
	return nil
}

func (f *fakeStore) deletedNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := append([]string(nil), f.deleted...)
	sort.Strings(names)
	return names
}

var now = time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC)

func daysAgo(name string, days int) storage.Object {
	return storage.Object{Name: name, CreatedAt: now.AddDate(0, 0, -days)}
}

func newTestManager() *Manager {
	return NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPrune_DisabledMakesNoCalls(t *testing.T) {
	store := &fakeStore{objects: []storage.Object{daysAgo("old", 100)}}

	result, err := newTestManager().Prune(context.Background(), store, Policy{MaxAgeDays: 0}, now)

	require.NoError(t, err)
	assert.Equal(t, Result{}, result)
	assert.Zero(t, store.listCalls)
	assert.Empty(t, store.deletedNames())
}

func TestPartition_Bounds(t *testing.T) {
	cutoff := now.AddDate(0, 0, -7)
	objects := []storage.Object{
		{Name: "before", CreatedAt: cutoff.Add(-time.Second)},
		{Name: "exact", CreatedAt: cutoff},
		{Name: "after", CreatedAt: cutoff.Add(time.Second)},
	}

	toDelete, toKeep := Partition(objects, cutoff)

	require.Len(t, toDelete, 2)
	assert.Equal(t, "before", toDelete[0].Name)
	assert.Equal(t, "exact", toDelete[1].Name)
	require.Len(t, toKeep, 1)
	assert.Equal(t, "after", toKeep[0].Name)
	assert.Len(t, append(toDelete, toKeep...), len(objects))
}

func TestPolicy_CutoffIsUTC(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	local := time.Date(2025, 3, 20, 7, 0, 0, 0, loc)

	cutoff := Policy{MaxAgeDays: 7}.Cutoff(local)

	assert.Equal(t, time.Date(2025, 3, 13, 12, 0, 0, 0, time.UTC), cutoff)
	assert.Equal(t, time.UTC, cutoff.Location())
}

func TestPrune_DeletesExpired(t *testing.T) {
	store := &fakeStore{objects: []storage.Object{
		daysAgo("backup-10d.zip", 10),
		daysAgo("backup-5d.zip", 5),
		daysAgo("backup-7d.zip", 7),
	}}

	result, err := newTestManager().Prune(context.Background(), store, Policy{MaxAgeDays: 7}, now)

	require.NoError(t, err)
	assert.Equal(t, Result{Deleted: 2, Kept: 1, Total: 3}, result)
	assert.Equal(t, []string{"backup-10d.zip", "backup-7d.zip"}, store.deletedNames())
}

func TestPrune_SimulateDeletesNothing(t *testing.T) {
	objects := []storage.Object{
		daysAgo("backup-10d.zip", 10),
		daysAgo("backup-5d.zip", 5),
		daysAgo("backup-7d.zip", 7),
	}
	store := &fakeStore{objects: objects}
	deleting := &fakeStore{objects: objects}

	simulated, err := newTestManager().Prune(context.Background(), store, Policy{MaxAgeDays: 7, Simulate: true}, now)
	require.NoError(t, err)

	actual, err := newTestManager().Prune(context.Background(), deleting, Policy{MaxAgeDays: 7}, now)
	require.NoError(t, err)

	assert.Empty(t, store.deletedNames())
	assert.Equal(t, actual, simulated)
}

func TestPrune_FailedDeleteDoesNotStopOthers(t *testing.T) {
	deleteErr := fmt.Errorf("%w: permission denied", storage.ErrDelete)
	var objects []storage.Object
	for i := range 10 {
		objects = append(objects, daysAgo(fmt.Sprintf("backup-%02d.zip", i), 30+i))
	}
	store := &fakeStore{
		objects: objects,
		failOn:  map[string]error{"backup-03.zip": deleteErr, "backup-07.zip": deleteErr},
	}

	result, err := newTestManager().Prune(context.Background(), store, Policy{MaxAgeDays: 7, Concurrency: 3}, now)

	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrDelete)
	assert.Len(t, multierr.Errors(err), 2)
	assert.Equal(t, Result{Deleted: 8, Failed: 2, Total: 10}, result)
	assert.Len(t, store.deletedNames(), 8)
	assert.NotContains(t, store.deletedNames(), "backup-03.zip")
}

func TestPrune_ListError(t *testing.T) {
	store := &fakeStore{listErr: fmt.Errorf("%w: bucket unavailable", storage.ErrList)}

	result, err := newTestManager().Prune(context.Background(), store, Policy{MaxAgeDays: 7}, now)

	assert.True(t, errors.Is(err, storage.ErrList))
	assert.Equal(t, Result{}, result)
	assert.Empty(t, store.deletedNames())
}

func TestPrune_NothingExpired(t *testing.T) {
	store := &fakeStore{objects: []storage.Object{daysAgo("fresh.zip", 1)}}

	result, err := newTestManager().Prune(context.Background(), store, Policy{MaxAgeDays: 7}, now)

	require.NoError(t, err)
	assert.Equal(t, Result{Kept: 1, Total: 1}, result)
	assert.Equal(t, 1, store.listCalls)
}
