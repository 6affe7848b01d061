package backup

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/imedwei/mongo-backup/internal/archive"
	"github.com/imedwei/mongo-backup/internal/config"
	"github.com/imedwei/mongo-backup/internal/dump"
	"github.com/imedwei/mongo-backup/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// events records the order of calls across fakes.
type events struct {
	mu   sync.Mutex
	list []string
}

func (e *events) add(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.list = append(e.list, s)
}

func (e *events) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.list...)
}

type fakeStorage struct {
	events    *events
	initErr   error
	uploadErr error
	listErr   error
	objects   []storage.Object

	mu       sync.Mutex
	uploaded map[string][]byte
	deleted  []string
}

func (f *fakeStorage) Initialize(_ context.Context) error {
	f.events.add("initialize")
	return f.initErr
}

func (f *fakeStorage) Upload(_ context.Context, name string, reader io.Reader) error {
	f.events.add("upload")
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	if f.uploadErr != nil {
		return f.uploadErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploaded == nil {
		f.uploaded = make(map[string][]byte)
	}
	f.uploaded[name] = data
	return nil
}

func (f *fakeStorage) Delete(_ context.Context, name string) error {
	f.events.add("delete")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, name)
	return nil
}

func (f *fakeStorage) ListObjects(_ context.Context) ([]storage.Object, error) {
	f.events.add("list")
	return f.objects, f.listErr
}

type fakeDumper struct {
	events *events
	err    error
	calls  int
	mode   dump.Mode
	src    dump.Source
	dest   string
}

func (f *fakeDumper) Run(_ context.Context, src dump.Source, mode dump.Mode, dest string) error {
	f.events.add("dump")
	f.calls++
	f.src, f.mode, f.dest = src, mode, dest

	if f.err != nil {
		return f.err
	}

	if mode == dump.ModeSelfArchive {
		return os.WriteFile(dest, []byte("gzip archive"), 0600)
	}

	dir := filepath.Join(src.OutputDir, "squidex")
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "events.bson"), []byte("events"), 0600); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "events.metadata.json"), []byte("{}"), 0600)
}

type failingArchiver struct{}

func (failingArchiver) Build(_, _ string) (archive.Stats, error) {
	return archive.Stats{}, fmt.Errorf("%w: disk full", archive.ErrCreate)
}

var fixedNow = time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC)

type harness struct {
	cfg     *config.Config
	events  *events
	storage *fakeStorage
	dumper  *fakeDumper
	tempDir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	ev := &events{}
	return &harness{
		cfg: &config.Config{
			MongoDB: config.MongoDBConfig{
				URI:            "mongodb://localhost:27017",
				DumpBinaryPath: "mongodump",
				OutputDir:      filepath.Join(t.TempDir(), "dump"),
				ConnectTimeout: time.Second,
			},
			Backup:               config.BackupConfig{FileName: "backup-{timestamp}"},
			Storage:              config.ProviderGoogleCloud,
			GoogleStorage:        config.GoogleStorageConfig{BucketName: "backups"},
			RetentionConcurrency: 2,
		},
		events:  ev,
		storage: &fakeStorage{events: ev},
		dumper:  &fakeDumper{events: ev},
		tempDir: t.TempDir(),
	}
}

func (h *harness) run(opts ...Option) error {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{
		WithTempDir(h.tempDir),
		WithClock(func() time.Time { return fixedNow }),
		WithLocation("backups"),
	}, opts...)
	return NewOrchestrator(h.cfg, h.storage, h.dumper, logger, opts...).Run(context.Background())
}

func (h *harness) assertTempDirEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func zipNames(t *testing.T, data []byte) []string {
	t.Helper()
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	var names []string
	for _, f := range r.File {
		if !f.FileInfo().IsDir() {
			names = append(names, f.Name)
		}
	}
	sort.Strings(names)
	return names
}

func TestOrchestrator_DirectoryMode(t *testing.T) {
	h := newHarness(t)

	err := h.run()
	require.NoError(t, err)
	assert.Equal(t, ExitSuccess, ExitCode(err))

	require.Contains(t, h.storage.uploaded, "backup-2025-03-20-12-00-00.zip")
	assert.Equal(t,
		[]string{"squidex/events.bson", "squidex/events.metadata.json"},
		zipNames(t, h.storage.uploaded["backup-2025-03-20-12-00-00.zip"]),
	)

	assert.Equal(t, dump.ModeDirectory, h.dumper.mode)
	assert.Equal(t, h.cfg.MongoDB.URI, h.dumper.src.URI)
	h.assertTempDirEmpty(t)
	assert.NoDirExists(t, h.cfg.MongoDB.OutputDir)
}

func TestOrchestrator_SelfArchiveMode(t *testing.T) {
	h := newHarness(t)
	h.cfg.Backup.Archive = true
	h.cfg.Backup.FileName = "squidex-{timestamp:20060102}"

	require.NoError(t, h.run())

	assert.Equal(t, dump.ModeSelfArchive, h.dumper.mode)
	assert.Equal(t, []byte("gzip archive"), h.storage.uploaded["squidex-20250320.agz"])
	assert.Equal(t, ".agz", filepath.Ext(h.dumper.dest))
	h.assertTempDirEmpty(t)
}

func TestOrchestrator_PassesDumpOptions(t *testing.T) {
	h := newHarness(t)
	h.cfg.MongoDB.DumpOptions = `--db=squidex --excludeCollection="events archive"`

	require.NoError(t, h.run())

	assert.Equal(t, []string{"--db=squidex", "--excludeCollection=events archive"}, h.dumper.src.ExtraArgs)
}

func TestOrchestrator_InvalidDumpOptions(t *testing.T) {
	h := newHarness(t)
	h.cfg.MongoDB.DumpOptions = `--query="unterminated`

	err := h.run()

	assert.Equal(t, StageValidation, StageOf(err))
	assert.Equal(t, ExitFailure, ExitCode(err))
	assert.Empty(t, h.events.all())
}

func TestOrchestrator_InitializeFailureSkipsEverything(t *testing.T) {
	h := newHarness(t)
	h.cfg.DeleteAfterMaxDays = 7
	h.storage.initErr = fmt.Errorf("%w: bucket not found", storage.ErrInit)

	err := h.run()

	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrInit)
	assert.Equal(t, StageInitialize, StageOf(err))
	assert.Equal(t, ExitFailure, ExitCode(err))
	assert.Equal(t, []string{"initialize"}, h.events.all())
	assert.Zero(t, h.dumper.calls)
	h.assertTempDirEmpty(t)
}

func TestOrchestrator_RetentionRunsBeforeDump(t *testing.T) {
	h := newHarness(t)
	h.cfg.DeleteAfterMaxDays = 7
	h.storage.objects = []storage.Object{
		{Name: "old.zip", CreatedAt: fixedNow.AddDate(0, 0, -10)},
		{Name: "new.zip", CreatedAt: fixedNow.AddDate(0, 0, -1)},
	}

	require.NoError(t, h.run())

	assert.Equal(t, []string{"initialize", "list", "delete", "dump", "upload"}, h.events.all())
	assert.Equal(t, []string{"old.zip"}, h.storage.deleted)
}

func TestOrchestrator_RetentionFailureDoesNotFailBackup(t *testing.T) {
	h := newHarness(t)
	h.cfg.DeleteAfterMaxDays = 7
	h.storage.listErr = fmt.Errorf("%w: forbidden", storage.ErrList)

	err := h.run()

	require.NoError(t, err)
	assert.Len(t, h.storage.uploaded, 1)
}

func TestOrchestrator_DumpFailure(t *testing.T) {
	h := newHarness(t)
	h.dumper.err = fmt.Errorf("%w: no output within 10s", dump.ErrConnectionTimeout)

	err := h.run()

	require.Error(t, err)
	assert.ErrorIs(t, err, dump.ErrConnectionTimeout)
	assert.Equal(t, StageDump, StageOf(err))
	assert.Equal(t, ExitFailure, ExitCode(err))
	assert.NotContains(t, h.events.all(), "upload")
	h.assertTempDirEmpty(t)
}

func TestOrchestrator_ArchiveFailure(t *testing.T) {
	h := newHarness(t)

	err := h.run(WithArchiver(failingArchiver{}))

	require.Error(t, err)
	assert.ErrorIs(t, err, archive.ErrCreate)
	assert.Equal(t, StageArchive, StageOf(err))
	assert.NotContains(t, h.events.all(), "upload")
	h.assertTempDirEmpty(t)
	assert.NoDirExists(t, h.cfg.MongoDB.OutputDir)
}

func TestOrchestrator_UploadFailure(t *testing.T) {
	h := newHarness(t)
	h.storage.uploadErr = fmt.Errorf("%w: connection reset", storage.ErrUpload)

	err := h.run()

	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrUpload)
	assert.Equal(t, StageUpload, StageOf(err))
	assert.Equal(t, ExitFailure, ExitCode(err))
	h.assertTempDirEmpty(t)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 2, ExitCode(&StageError{Stage: StageDump, Err: dump.ErrProcessFailed}))
	assert.Equal(t, 2, ExitCode(fmt.Errorf("%w: storage is required", config.ErrInvalid)))
}

func TestStageError(t *testing.T) {
	err := &StageError{Stage: StageUpload, Err: storage.ErrUpload}

	assert.Equal(t, "backup upload failed: storage upload failed", err.Error())
	assert.ErrorIs(t, err, storage.ErrUpload)
	assert.Equal(t, Stage(""), StageOf(storage.ErrUpload))
}

type stageRecorder struct{ stages []string }

func (r *stageRecorder) Enter(stage string) { r.stages = append(r.stages, stage) }

func TestOrchestrator_ReportsStages(t *testing.T) {
	h := newHarness(t)
	rec := &stageRecorder{}

	require.NoError(t, h.run(WithObserver(rec)))

	assert.Equal(t, []string{"validation", "initialize", "retention", "dump", "archive", "upload"}, rec.stages)
}
