// Package syncer implements the synchronization engine: the polling
// filesystem watcher, the per-path coordinator that gates events, the
// ingestion and deletion pipelines, the startup scanner, the read-side
// sync barrier, and the watcher supervisor.
package syncer

import (
	"fmt"
	"path/filepath"
	"strings"
)

// KeyFileName is the per-collection API key file.
const KeyFileName = ".vault_key"

var ignoredNames = map[string]struct{}{
	KeyFileName: {},
	".DS_Store": {},
}

// IsIgnored reports whether a basename is excluded from ingestion: hidden
// files and the key file.
func IsIgnored(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	_, ok := ignoredNames[name]
	return ok
}

// ParsePath splits an absolute path into (collection, name) relative to the
// collections root. Only paths exactly one directory level below the root
// are valid: <root>/<collection>/<name>.
func ParsePath(root, path string) (collection, name string, err error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", "", fmt.Errorf("path %q is not under root %q: %w", path, root, err)
	}
	if rel == "." || strings.HasPrefix(rel, "..") {
		return "", "", fmt.Errorf("path %q is not under root %q", path, root)
	}

	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("path %q is not directly under a collection", path)
	}
	return parts[0], parts[1], nil
}

// ObjectKey is the store key for a (collection, name) pair.
func ObjectKey(collection, name string) string {
	return collection + "/" + name
}
