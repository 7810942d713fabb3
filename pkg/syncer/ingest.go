package syncer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/datashield/vault/internal/logger"
	"github.com/datashield/vault/pkg/store"
)

// ingest runs the hash, upload, commit pipeline for one file. The caller
// owns the coordinator slot and releases it on return.
func (s *Syncer) ingest(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		// Gone or not a plain file by the time we got here.
		return
	}

	collection, name, err := ParsePath(s.root, path)
	if err != nil {
		logger.Debug("Skipping path outside collection layout", "path", path)
		return
	}

	if err := s.ensureCollection(ctx, collection); err != nil {
		s.ingestFailed(collection, name, "register collection", err)
		return
	}

	hash, size, err := HashFile(path)
	if err != nil {
		s.ingestFailed(collection, name, "hash", err)
		return
	}

	key := ObjectKey(collection, name)
	if s.metrics != nil {
		s.metrics.StoreUploads.Inc()
	}
	if err := s.store.Put(ctx, key, path); err != nil {
		if s.metrics != nil {
			s.metrics.StoreUploadErrors.Inc()
		}
		s.ingestFailed(collection, name, "upload", err)
		return
	}

	if _, err := s.catalog.ReplaceObject(ctx, collection, name, key, hash, size); err != nil {
		s.ingestFailed(collection, name, "commit", err)
		return
	}

	if s.metrics != nil {
		s.metrics.FilesProcessed.Inc()
	}
	logger.Info("Ingested object",
		"collection", collection,
		"name", name,
		"size", size,
		"hash", hash)
}

func (s *Syncer) ingestFailed(collection, name, stage string, err error) {
	if s.metrics != nil {
		s.metrics.FilesFailed.Inc()
	}
	logger.Error("Ingestion failed",
		"collection", collection,
		"name", name,
		"stage", stage,
		"error", err)
}

// remove runs the deletion pipeline: store delete, then catalog tombstone.
func (s *Syncer) remove(ctx context.Context, path string) {
	collection, name, err := ParsePath(s.root, path)
	if err != nil {
		return
	}

	key := ObjectKey(collection, name)
	if s.metrics != nil {
		s.metrics.StoreDeletes.Inc()
	}
	if _, err := s.store.Delete(ctx, key); err != nil {
		if s.metrics != nil {
			s.metrics.StoreDeleteErrors.Inc()
		}
		logger.Error("Failed to delete object from store",
			"collection", collection,
			"name", name,
			"error", err)
		return
	}

	removed, err := s.catalog.Tombstone(ctx, collection, name)
	if err != nil {
		logger.Error("Failed to tombstone object",
			"collection", collection,
			"name", name,
			"error", err)
		return
	}
	if removed {
		logger.Info("Deleted object", "collection", collection, "name", name)
	}
}

// ensureCollection registers a collection on first sight. A pre-existing
// .vault_key file supplies the secret; otherwise one is generated and
// written next to the objects.
func (s *Syncer) ensureCollection(ctx context.Context, name string) error {
	keyPath := filepath.Join(s.root, name, KeyFileName)

	presetKey := ""
	if secret, err := readKeyFile(keyPath); err == nil {
		presetKey = secret
	}

	col, generated, err := s.catalog.UpsertCollection(ctx, name, presetKey)
	if err != nil {
		return err
	}

	if generated != "" {
		if err := writeKeyFile(keyPath, generated); err != nil {
			return fmt.Errorf("failed to write key file for %q: %w", name, err)
		}
		logger.Info("Collection registered", "collection", col.Name, "key_file", keyPath)
	}
	return nil
}

// HashFile streams a file through SHA-256 in fixed-size chunks and returns
// the hex digest and byte count.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open %q: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, store.ChunkSize)
	size, err := io.CopyBuffer(h, f, buf)
	if err != nil {
		return "", 0, fmt.Errorf("failed to hash %q: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

func readKeyFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func writeKeyFile(path, secret string) error {
	return os.WriteFile(path, []byte(secret+"\n"), 0600)
}
