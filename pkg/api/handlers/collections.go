package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/datashield/vault/internal/logger"
	"github.com/datashield/vault/pkg/catalog"
	"github.com/datashield/vault/pkg/metrics"
	"github.com/datashield/vault/pkg/store"
	"github.com/datashield/vault/pkg/store/breaker"
	"github.com/datashield/vault/pkg/syncer"
)

// CollectionsHandler serves the read-only object and hash endpoints.
type CollectionsHandler struct {
	catalog *catalog.Catalog
	store   store.ObjectStore
	syncer  *syncer.Syncer
	metrics *metrics.Registry
}

// NewCollectionsHandler creates the collections handler. metrics may be nil.
func NewCollectionsHandler(cat *catalog.Catalog, st store.ObjectStore, s *syncer.Syncer, m *metrics.Registry) *CollectionsHandler {
	return &CollectionsHandler{catalog: cat, store: st, syncer: s, metrics: m}
}

// objectListResponse is the body of GET /collections/{c}/objects.
type objectListResponse struct {
	Collection string   `json:"collection"`
	Objects    []string `json:"objects"`
}

// hashItem is one entry of GET /collections/{c}/hashes.
type hashItem struct {
	Name       string `json:"name"`
	HashSHA256 string `json:"hash_sha256"`
}

// hashListResponse is the body of GET /collections/{c}/hashes.
type hashListResponse struct {
	Collection string     `json:"collection"`
	Items      []hashItem `json:"items"`
}

// hashResponse is the body of GET /collections/{c}/hashes/{name}.
type hashResponse struct {
	Collection string `json:"collection"`
	Name       string `json:"name"`
	HashSHA256 string `json:"hash_sha256"`
}

// ListObjects handles GET /collections/{collection}/objects.
func (h *CollectionsHandler) ListObjects(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")

	objects, ok := h.listReady(w, r, collection)
	if !ok {
		return
	}

	names := make([]string, 0, len(objects))
	for _, obj := range objects {
		names = append(names, obj.Name)
	}
	writeJSON(w, http.StatusOK, objectListResponse{Collection: collection, Objects: names})
}

// ListHashes handles GET /collections/{collection}/hashes.
func (h *CollectionsHandler) ListHashes(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")

	objects, ok := h.listReady(w, r, collection)
	if !ok {
		return
	}

	items := make([]hashItem, 0, len(objects))
	for _, obj := range objects {
		items = append(items, hashItem{Name: obj.Name, HashSHA256: obj.HashSHA256})
	}
	writeJSON(w, http.StatusOK, hashListResponse{Collection: collection, Items: items})
}

// listReady applies the sync barrier, then returns the READY rows. On error
// it writes the response itself and returns ok=false.
func (h *CollectionsHandler) listReady(w http.ResponseWriter, r *http.Request, collection string) ([]*catalog.Object, bool) {
	timeout, err := parseSyncTimeout(r)
	if err != nil {
		BadRequest(w, err.Error())
		return nil, false
	}

	if timeout > 0 {
		state, err := h.syncer.WaitForSync(r.Context(), collection, timeout)
		if err != nil {
			h.serverError(w, "sync barrier failed", err)
			return nil, false
		}
		if !state.IsSynced {
			logger.Warn("Sync barrier timed out, serving partial listing",
				"collection", collection,
				"pending", len(state.Pending),
				"processing", len(state.Processing),
				"timeout", timeout)
		}
	}

	objects, err := h.catalog.ListObjects(r.Context(), collection)
	if err != nil {
		h.serverError(w, "failed to list objects", err)
		return nil, false
	}
	return objects, true
}

// GetHash handles GET /collections/{collection}/hashes/*. Single-object
// lookups skip the sync barrier.
func (h *CollectionsHandler) GetHash(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	name := chi.URLParam(r, "*")

	obj, err := h.catalog.GetObject(r.Context(), collection, name)
	if err != nil {
		if errors.Is(err, catalog.ErrObjectNotFound) {
			NotFound(w, fmt.Sprintf("object %q not found in collection %q", name, collection))
			return
		}
		h.serverError(w, "failed to look up object", err)
		return
	}

	writeJSON(w, http.StatusOK, hashResponse{
		Collection: collection,
		Name:       obj.Name,
		HashSHA256: obj.HashSHA256,
	})
}

// Download handles GET /collections/{collection}/objects/* and streams the
// blob bytes.
func (h *CollectionsHandler) Download(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	name := chi.URLParam(r, "*")

	obj, err := h.catalog.GetObject(r.Context(), collection, name)
	if err != nil {
		if errors.Is(err, catalog.ErrObjectNotFound) {
			NotFound(w, fmt.Sprintf("object %q not found in collection %q", name, collection))
			return
		}
		h.serverError(w, "failed to look up object", err)
		return
	}

	body, err := h.store.Open(r.Context(), obj.ObjectKey)
	if err != nil {
		if h.metrics != nil {
			h.metrics.StoreDownloadErrors.Inc()
		}
		if errors.Is(err, store.ErrNotFound) {
			// READY row without a blob; the auditor will flag it.
			NotFound(w, fmt.Sprintf("object %q has no stored content", name))
			return
		}
		var open *breaker.OpenError
		if errors.As(err, &open) {
			ServiceUnavailable(w, open.Remaining, "object store unavailable")
			return
		}
		h.serverError(w, "failed to open object", err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(obj.SizeBytes, 10))
	w.Header().Set("X-Object-Hash-SHA256", obj.HashSHA256)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", obj.Name))

	if _, err := io.Copy(w, body); err != nil {
		// Headers are gone; all we can do is log.
		logger.Warn("Object download aborted",
			"collection", collection,
			"name", name,
			"error", err)
	}
}

func (h *CollectionsHandler) serverError(w http.ResponseWriter, msg string, err error) {
	logger.Error(msg, "error", err)
	InternalServerError(w, "internal error")
}

// parseSyncTimeout reads the sync_timeout query parameter in seconds.
// Absent means the default barrier wait; 0 disables the barrier; values
// above the cap are clamped.
func parseSyncTimeout(r *http.Request) (time.Duration, error) {
	raw := r.URL.Query().Get("sync_timeout")
	if raw == "" {
		return syncer.DefaultSyncTimeout, nil
	}

	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || secs < 0 {
		return 0, fmt.Errorf("invalid sync_timeout %q", raw)
	}
	return syncer.ClampSyncTimeout(time.Duration(secs * float64(time.Second))), nil
}
