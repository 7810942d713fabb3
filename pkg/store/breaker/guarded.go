package breaker

import (
	"context"
	"io"

	"github.com/datashield/vault/pkg/store"
)

// GuardedStore wraps an ObjectStore so that write operations (Put, Delete)
// pass through the circuit breaker. Reads and probes bypass the breaker:
// a failing write path must not blind the health checks or the API.
type GuardedStore struct {
	inner   store.ObjectStore
	breaker *Breaker
}

// NewGuardedStore wraps inner with the given breaker.
func NewGuardedStore(inner store.ObjectStore, b *Breaker) *GuardedStore {
	return &GuardedStore{inner: inner, breaker: b}
}

// Breaker exposes the underlying breaker for health reporting.
func (g *GuardedStore) Breaker() *Breaker {
	return g.breaker
}

// Put uploads through the breaker.
func (g *GuardedStore) Put(ctx context.Context, key, localPath string) error {
	if err := g.breaker.Allow(); err != nil {
		return err
	}
	err := g.inner.Put(ctx, key, localPath)
	g.report(err)
	return err
}

// Delete removes through the breaker.
func (g *GuardedStore) Delete(ctx context.Context, key string) (bool, error) {
	if err := g.breaker.Allow(); err != nil {
		return false, err
	}
	removed, err := g.inner.Delete(ctx, key)
	g.report(err)
	return removed, err
}

func (g *GuardedStore) report(err error) {
	if err != nil {
		g.breaker.Failure()
	} else {
		g.breaker.Success()
	}
}

func (g *GuardedStore) EnsureBucket(ctx context.Context) error {
	return g.inner.EnsureBucket(ctx)
}

func (g *GuardedStore) BucketExists(ctx context.Context) (bool, error) {
	return g.inner.BucketExists(ctx)
}

func (g *GuardedStore) Exists(ctx context.Context, key string) (bool, error) {
	return g.inner.Exists(ctx, key)
}

func (g *GuardedStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return g.inner.Open(ctx, key)
}

func (g *GuardedStore) Stat(ctx context.Context, key string) (*store.ObjectInfo, error) {
	return g.inner.Stat(ctx, key)
}

// Compile-time interface check
var _ store.ObjectStore = (*GuardedStore)(nil)
