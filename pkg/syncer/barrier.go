package syncer

import (
	"context"
	"os"
	"path/filepath"
	"time"
)

const (
	// BarrierPollInterval is how often the sync barrier re-evaluates.
	BarrierPollInterval = 500 * time.Millisecond

	// DefaultSyncTimeout is the barrier wait used when the caller supplies
	// none.
	DefaultSyncTimeout = 30 * time.Second

	// MaxSyncTimeout caps caller-supplied barrier waits.
	MaxSyncTimeout = 300 * time.Second
)

// SyncState is a snapshot of a collection's synchronization status.
type SyncState struct {
	Collection string    `json:"collection"`
	IsSynced   bool      `json:"is_synced"`
	Pending    []string  `json:"pending_files"`
	Processing []string  `json:"processing_files"`
	CheckedAt  time.Time `json:"checked_at"`
}

// ClampSyncTimeout normalizes a caller-supplied barrier timeout: negative
// values fall back to the default, values above the cap are clamped. Zero
// disables the barrier.
func ClampSyncTimeout(d time.Duration) time.Duration {
	if d < 0 {
		return DefaultSyncTimeout
	}
	if d > MaxSyncTimeout {
		return MaxSyncTimeout
	}
	return d
}

// SyncState computes whether a collection is caught up: no in-flight
// pipeline under its directory, and every non-ignored file on disk has a
// READY catalog row.
func (s *Syncer) SyncState(ctx context.Context, collection string) (*SyncState, error) {
	dir := filepath.Join(s.root, collection)

	folderFiles := make(map[string]struct{})
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		// A collection without a directory has nothing pending.
	} else {
		for _, entry := range entries {
			if entry.IsDir() || IsIgnored(entry.Name()) {
				continue
			}
			folderFiles[entry.Name()] = struct{}{}
		}
	}

	objects, err := s.catalog.ListObjects(ctx, collection)
	if err != nil {
		return nil, err
	}
	dbFiles := make(map[string]struct{}, len(objects))
	for _, obj := range objects {
		dbFiles[obj.Name] = struct{}{}
	}

	processing := []string{}
	processingSet := make(map[string]struct{})
	for _, path := range s.coord.InFlightUnder(dir) {
		name := filepath.Base(path)
		processing = append(processing, name)
		processingSet[name] = struct{}{}
	}

	pending := []string{}
	for name := range folderFiles {
		if _, ok := dbFiles[name]; ok {
			continue
		}
		if _, ok := processingSet[name]; ok {
			continue
		}
		pending = append(pending, name)
	}

	return &SyncState{
		Collection: collection,
		IsSynced:   len(processing) == 0 && len(pending) == 0,
		Pending:    pending,
		Processing: processing,
		CheckedAt:  time.Now(),
	}, nil
}

// WaitForSync polls the sync state until the collection is synced or the
// timeout elapses. Timing out is not an error; the final snapshot is
// returned either way and the caller decides whether to warn.
func (s *Syncer) WaitForSync(ctx context.Context, collection string, timeout time.Duration) (*SyncState, error) {
	state, err := s.SyncState(ctx, collection)
	if err != nil {
		return nil, err
	}
	if state.IsSynced || timeout <= 0 {
		return state, nil
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(BarrierPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return state, nil
		case <-ticker.C:
		}

		state, err = s.SyncState(ctx, collection)
		if err != nil {
			return nil, err
		}
		if state.IsSynced || time.Now().After(deadline) {
			return state, nil
		}
	}
}
