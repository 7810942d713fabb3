package syncer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datashield/vault/pkg/catalog"
	"github.com/datashield/vault/pkg/store"
)

// memStore is an in-memory ObjectStore for pipeline tests.
type memStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{blobs: make(map[string][]byte)}
}

func (m *memStore) EnsureBucket(ctx context.Context) error { return nil }

func (m *memStore) BucketExists(ctx context.Context) (bool, error) { return true, nil }

func (m *memStore) Put(ctx context.Context, key, localPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.blobs[key] = data
	m.mu.Unlock()
	return nil
}

func (m *memStore) Delete(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[key]; !ok {
		return false, nil
	}
	delete(m.blobs, key)
	return true, nil
}

func (m *memStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blobs[key]
	return ok, nil
}

func (m *memStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(string(data))), nil
}

func (m *memStore) Stat(ctx context.Context, key string) (*store.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &store.ObjectInfo{Size: int64(len(data))}, nil
}

func (m *memStore) get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[key]
	return data, ok
}

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

func newTestSyncer(t *testing.T) (*Syncer, *memStore, *catalog.Catalog, string) {
	t.Helper()
	root := t.TempDir()
	cat := newTestCatalog(t)
	st := newMemStore()

	s := New(Config{
		Root:    root,
		Workers: 2,
		Coordinator: CoordinatorConfig{
			DebounceWindow:    time.Millisecond,
			ProcessingTimeout: 300 * time.Second,
		},
	}, cat, st, nil)
	return s, st, cat, root
}

func writeObject(t *testing.T, root, collection, name, content string) string {
	t.Helper()
	dir := filepath.Join(root, collection)
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestScanIngestsExistingFiles(t *testing.T) {
	s, st, cat, root := newTestSyncer(t)
	ctx := context.Background()

	writeObject(t, root, "alpha", "README.md", "hello\n")

	require.NoError(t, s.Scan(ctx))
	s.WaitForWorkers()

	obj, err := cat.GetObject(ctx, "alpha", "README.md")
	require.NoError(t, err)
	assert.Equal(t, "5891b5b522d5df086d0ff0b110fbd9d21bb4fc7163af34d08286a2e846f6be03", obj.HashSHA256)
	assert.Equal(t, int64(6), obj.SizeBytes)
	assert.Equal(t, catalog.StatusReady, obj.Status)
	assert.Equal(t, "alpha/README.md", obj.ObjectKey)

	blob, ok := st.get("alpha/README.md")
	require.True(t, ok)
	sum := sha256.Sum256(blob)
	assert.Equal(t, obj.HashSHA256, hex.EncodeToString(sum[:]))

	// A key file was generated for the new collection.
	secret, err := os.ReadFile(filepath.Join(root, "alpha", KeyFileName))
	require.NoError(t, err)
	ok, err = cat.VerifyKey(ctx, "alpha", strings.TrimSpace(string(secret)))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestScanHonorsExistingKeyFile(t *testing.T) {
	s, _, cat, root := newTestSyncer(t)
	ctx := context.Background()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "alpha"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "alpha", KeyFileName), []byte("preset-secret\n"), 0600))

	require.NoError(t, s.Scan(ctx))
	s.WaitForWorkers()

	ok, err := cat.VerifyKey(ctx, "alpha", "preset-secret")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOverwriteReplacesRow(t *testing.T) {
	s, st, cat, root := newTestSyncer(t)
	ctx := context.Background()

	path := writeObject(t, root, "alpha", "README.md", "hello\n")
	require.NoError(t, s.Scan(ctx))
	s.WaitForWorkers()

	require.NoError(t, os.WriteFile(path, []byte("world\n"), 0644))
	time.Sleep(5 * time.Millisecond) // clear the debounce window
	s.dispatch(ctx, Event{Op: OpModified, Path: path})
	s.WaitForWorkers()

	obj, err := cat.GetObject(ctx, "alpha", "README.md")
	require.NoError(t, err)
	assert.Equal(t, "f75b8179e4bbe7e2b4a074dcef62de95e71d24360c9f7bb9e8bf50a1d0d82cbb", obj.HashSHA256)

	// Exactly one row for the key.
	objs, err := cat.ListObjects(ctx, "alpha")
	require.NoError(t, err)
	require.Len(t, objs, 1)

	blob, _ := st.get("alpha/README.md")
	assert.Equal(t, "world\n", string(blob))
}

func TestDeleteTombstonesAndRemovesBlob(t *testing.T) {
	s, st, cat, root := newTestSyncer(t)
	ctx := context.Background()

	path := writeObject(t, root, "alpha", "README.md", "hello\n")
	require.NoError(t, s.Scan(ctx))
	s.WaitForWorkers()

	require.NoError(t, os.Remove(path))
	time.Sleep(5 * time.Millisecond)
	s.dispatch(ctx, Event{Op: OpDeleted, Path: path})
	s.WaitForWorkers()

	_, err := cat.GetObject(ctx, "alpha", "README.md")
	assert.ErrorIs(t, err, catalog.ErrObjectNotFound)

	// Tombstone retained for the auditor.
	tombs, err := cat.ListObjectsByStatus(ctx, "alpha", catalog.StatusDeleted)
	require.NoError(t, err)
	require.Len(t, tombs, 1)

	_, ok := st.get("alpha/README.md")
	assert.False(t, ok)
}

func TestKeyFileUpdateRotatesSecret(t *testing.T) {
	s, _, cat, root := newTestSyncer(t)
	ctx := context.Background()

	writeObject(t, root, "alpha", "README.md", "hello\n")
	require.NoError(t, s.Scan(ctx))
	s.WaitForWorkers()

	keyPath := filepath.Join(root, "alpha", KeyFileName)
	require.NoError(t, os.WriteFile(keyPath, []byte("new-secret\n"), 0600))
	s.dispatch(ctx, Event{Op: OpModified, Path: keyPath})

	ok, err := cat.VerifyKey(ctx, "alpha", "new-secret")
	require.NoError(t, err)
	assert.True(t, ok)

	// The key file never becomes an object.
	_, err = cat.GetObject(ctx, "alpha", KeyFileName)
	assert.ErrorIs(t, err, catalog.ErrObjectNotFound)
}

func TestDirectoryCreationRegistersCollection(t *testing.T) {
	s, _, cat, root := newTestSyncer(t)
	ctx := context.Background()

	dir := filepath.Join(root, "beta")
	require.NoError(t, os.MkdirAll(dir, 0755))
	s.dispatch(ctx, Event{Op: OpCreated, Path: dir, IsDir: true})

	col, err := cat.GetCollection(ctx, "beta")
	require.NoError(t, err)
	assert.True(t, col.IsActive)
}

func TestSyncStateAndBarrier(t *testing.T) {
	s, _, _, root := newTestSyncer(t)
	ctx := context.Background()

	writeObject(t, root, "alpha", "README.md", "hello\n")

	// Nothing ingested yet: the file is pending.
	state, err := s.SyncState(ctx, "alpha")
	require.NoError(t, err)
	assert.False(t, state.IsSynced)
	assert.Equal(t, []string{"README.md"}, state.Pending)
	assert.Empty(t, state.Processing)

	// A short barrier returns the partial snapshot instead of hanging.
	start := time.Now()
	state, err = s.WaitForSync(ctx, "alpha", time.Second)
	require.NoError(t, err)
	assert.False(t, state.IsSynced)
	assert.Less(t, time.Since(start), 3*time.Second)

	require.NoError(t, s.Scan(ctx))
	s.WaitForWorkers()

	state, err = s.WaitForSync(ctx, "alpha", time.Second)
	require.NoError(t, err)
	assert.True(t, state.IsSynced)
	assert.Empty(t, state.Pending)
}

func TestSyncStateWhileInFlight(t *testing.T) {
	s, _, _, root := newTestSyncer(t)
	ctx := context.Background()

	path := writeObject(t, root, "alpha", "README.md", "hello\n")
	require.True(t, s.coord.AdmitChange(path))

	state, err := s.SyncState(ctx, "alpha")
	require.NoError(t, err)
	assert.False(t, state.IsSynced)
	assert.Equal(t, []string{"README.md"}, state.Processing)
	assert.Empty(t, state.Pending, "in-flight files are not pending")

	s.coord.Release(path)
}

func TestClampSyncTimeout(t *testing.T) {
	assert.Equal(t, DefaultSyncTimeout, ClampSyncTimeout(-time.Second))
	assert.Equal(t, time.Duration(0), ClampSyncTimeout(0))
	assert.Equal(t, 5*time.Second, ClampSyncTimeout(5*time.Second))
	assert.Equal(t, MaxSyncTimeout, ClampSyncTimeout(400*time.Second))
}

func TestWatcherDetectsChanges(t *testing.T) {
	root := t.TempDir()
	w := NewWatcher(root, WatcherConfig{PollInterval: 10 * time.Millisecond})

	require.NoError(t, w.Start())
	defer w.Stop()
	assert.True(t, w.Running())
	assert.True(t, w.Alive())

	path := writeObject(t, root, "alpha", "file.txt", "hello\n")

	var created []Event
	deadline := time.After(2 * time.Second)
	for len(created) < 2 {
		select {
		case ev := <-w.Events():
			created = append(created, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for events, got %v", created)
		}
	}

	// Directory creation and file creation both surface.
	var sawDir, sawFile bool
	for _, ev := range created {
		if ev.IsDir && ev.Op == OpCreated {
			sawDir = true
		}
		if !ev.IsDir && ev.Op == OpCreated && ev.Path == path {
			sawFile = true
		}
	}
	assert.True(t, sawDir)
	assert.True(t, sawFile)
	assert.False(t, w.LastEventTime().IsZero())
}

func TestWatcherStopSetsAliveFalse(t *testing.T) {
	w := NewWatcher(t.TempDir(), WatcherConfig{PollInterval: 10 * time.Millisecond})
	require.NoError(t, w.Start())
	w.Stop()

	assert.False(t, w.Running())
	assert.False(t, w.Alive())

	// Restartable, as the supervisor requires.
	require.NoError(t, w.Start())
	assert.True(t, w.Alive())
	w.Stop()
}
