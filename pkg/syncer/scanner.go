package syncer

import (
	"context"
	"os"
	"path/filepath"

	"github.com/datashield/vault/internal/logger"
)

// Scan reconciles pre-existing files at boot: every immediate child
// directory becomes a collection and every regular file under it is
// ingested as if a create event had fired. Runs before the watcher is
// armed; the watcher's baseline snapshot then covers the same files, so
// nothing is processed twice.
func (s *Syncer) Scan(ctx context.Context) error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return err
	}

	queued := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		collection := entry.Name()
		if err := s.ensureCollection(ctx, collection); err != nil {
			logger.Error("Startup scan failed to register collection",
				"collection", collection, "error", err)
			continue
		}

		dir := filepath.Join(s.root, collection)
		children, err := os.ReadDir(dir)
		if err != nil {
			logger.Warn("Startup scan failed to read collection directory",
				"collection", collection, "error", err)
			continue
		}

		for _, child := range children {
			if child.IsDir() || IsIgnored(child.Name()) {
				continue
			}
			path := filepath.Join(dir, child.Name())
			if !s.coord.AdmitChange(path) {
				continue
			}
			queued++
			s.spawn(ctx, func(ctx context.Context) {
				defer s.coord.Release(path)
				s.ingest(ctx, path)
			})
		}
	}

	logger.Info("Startup scan queued ingestions", "count", queued)
	return nil
}
