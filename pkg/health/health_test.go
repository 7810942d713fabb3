package health

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datashield/vault/pkg/catalog"
	"github.com/datashield/vault/pkg/store"
	"github.com/datashield/vault/pkg/syncer"
)

type fakeStore struct {
	mu        sync.Mutex
	blobs     map[string][]byte
	bucketErr error
	noBucket  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{blobs: make(map[string][]byte)}
}

func (f *fakeStore) EnsureBucket(ctx context.Context) error { return nil }

func (f *fakeStore) BucketExists(ctx context.Context) (bool, error) {
	if f.bucketErr != nil {
		return false, f.bucketErr
	}
	return !f.noBucket, nil
}

func (f *fakeStore) Put(ctx context.Context, key, localPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.blobs[key] = data
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.blobs[key]; !ok {
		return false, nil
	}
	delete(f.blobs, key)
	return true, nil
}

func (f *fakeStore) Exists(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.blobs[key]
	return ok, nil
}

func (f *fakeStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return nil, store.ErrNotFound
}

func (f *fakeStore) Stat(ctx context.Context, key string) (*store.ObjectInfo, error) {
	return nil, store.ErrNotFound
}

type fakeWatcher struct {
	running   bool
	alive     bool
	lastEvent time.Time
}

func (f *fakeWatcher) Running() bool            { return f.running }
func (f *fakeWatcher) Alive() bool              { return f.alive }
func (f *fakeWatcher) LastEventTime() time.Time { return f.lastEvent }

func newTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New(&catalog.Config{
		Type:   catalog.DatabaseTypeSQLite,
		SQLite: catalog.SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })
	return cat
}

func TestCheckCatalogUp(t *testing.T) {
	cat := newTestCatalog(t)
	c := NewChecker(cat, newFakeStore(), nil, nil, t.TempDir(), nil)

	health := c.CheckCatalog(context.Background())
	assert.Equal(t, StatusUp, health.Status)
	assert.Contains(t, health.Details, "open_connections")
}

func TestCheckStoreDown(t *testing.T) {
	cat := newTestCatalog(t)
	st := newFakeStore()
	st.bucketErr = errors.New("connection refused")
	c := NewChecker(cat, st, nil, nil, t.TempDir(), nil)

	health := c.CheckStore(context.Background())
	assert.Equal(t, StatusDown, health.Status)

	st.bucketErr = nil
	st.noBucket = true
	health = c.CheckStore(context.Background())
	assert.Equal(t, StatusDown, health.Status)
}

func TestCheckFilesystem(t *testing.T) {
	cat := newTestCatalog(t)
	root := t.TempDir()
	c := NewChecker(cat, newFakeStore(), nil, nil, root, nil)

	health := c.CheckFilesystem(context.Background())
	assert.Equal(t, StatusUp, health.Status)

	// No sentinel left behind.
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// An unwritable root is DOWN.
	c = NewChecker(cat, newFakeStore(), nil, nil, filepath.Join(root, "missing"), nil)
	health = c.CheckFilesystem(context.Background())
	assert.Equal(t, StatusDown, health.Status)
}

func TestCheckWatcher(t *testing.T) {
	cat := newTestCatalog(t)
	w := &fakeWatcher{running: true, alive: true, lastEvent: time.Now()}
	c := NewChecker(cat, newFakeStore(), w, nil, t.TempDir(), nil)

	assert.Equal(t, StatusUp, c.CheckWatcher().Status)

	// Stale events degrade but do not take the watcher down.
	w.lastEvent = time.Now().Add(-11 * time.Minute)
	assert.Equal(t, StatusDegraded, c.CheckWatcher().Status)

	w.alive = false
	assert.Equal(t, StatusDown, c.CheckWatcher().Status)
}

func TestSystemAggregation(t *testing.T) {
	cat := newTestCatalog(t)
	st := newFakeStore()
	w := &fakeWatcher{running: true, alive: true}
	c := NewChecker(cat, st, w, nil, t.TempDir(), nil)

	system := c.Check(context.Background())
	assert.Equal(t, StatusUp, system.Status)
	assert.Len(t, system.Components, 4)

	// A non-critical component going down only degrades the system.
	st.noBucket = true
	system = c.Check(context.Background())
	assert.Equal(t, StatusDegraded, system.Status)
	assert.Equal(t, StatusDown, system.Components["object_store"].Status)
}

func newTestSyncer(t *testing.T, cat *catalog.Catalog, st store.ObjectStore, root string) *syncer.Syncer {
	t.Helper()
	return syncer.New(syncer.Config{
		Root: root,
		Coordinator: syncer.CoordinatorConfig{
			DebounceWindow:    time.Millisecond,
			ProcessingTimeout: 300 * time.Second,
		},
	}, cat, st, nil)
}

func TestSweepReportsClean(t *testing.T) {
	cat := newTestCatalog(t)
	st := newFakeStore()
	root := t.TempDir()
	s := newTestSyncer(t, cat, st, root)
	ctx := context.Background()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "alpha"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "alpha", "a.txt"), []byte("hello\n"), 0644))
	require.NoError(t, s.Scan(ctx))
	s.WaitForWorkers()

	a := NewAuditor(AuditorConfig{}, cat, st, s, nil)
	report, err := a.Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, StatusUp, report.Status)
	assert.Equal(t, 1, report.CollectionsChecked)
	assert.Zero(t, report.PendingFiles)
	assert.Zero(t, report.MissingObjects)
	assert.Equal(t, report, a.LastReport())
}

func TestSweepDetectsMissingBlob(t *testing.T) {
	cat := newTestCatalog(t)
	st := newFakeStore()
	root := t.TempDir()
	s := newTestSyncer(t, cat, st, root)
	ctx := context.Background()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "alpha"), 0755))
	_, _, err := cat.UpsertCollection(ctx, "alpha", "")
	require.NoError(t, err)

	// READY row with no blob behind it.
	_, err = cat.ReplaceObject(ctx, "alpha", "ghost.txt", "alpha/ghost.txt", "deadbeef", 4)
	require.NoError(t, err)

	a := NewAuditor(AuditorConfig{}, cat, st, s, nil)
	report, err := a.Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, StatusDown, report.Status)
	assert.Equal(t, 1, report.MissingObjects)
}

func TestSweepCountsPending(t *testing.T) {
	cat := newTestCatalog(t)
	st := newFakeStore()
	root := t.TempDir()
	s := newTestSyncer(t, cat, st, root)
	ctx := context.Background()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "alpha"), 0755))
	_, _, err := cat.UpsertCollection(ctx, "alpha", "")
	require.NoError(t, err)

	for i := 0; i < DegradedPendingThreshold+1; i++ {
		name := filepath.Join(root, "alpha", "file-"+string(rune('a'+i))+".txt")
		require.NoError(t, os.WriteFile(name, []byte("x"), 0644))
	}

	a := NewAuditor(AuditorConfig{}, cat, st, s, nil)
	report, err := a.Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, DegradedPendingThreshold+1, report.PendingFiles)
}
