package catalog

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// HashKey returns the hex SHA-256 digest of an API key. Only digests are
// persisted, never the plaintext.
func HashKey(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// GenerateKey returns a new random API key (64 hex chars).
func GenerateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate API key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// GetCollection returns a collection by name regardless of active state.
func (c *Catalog) GetCollection(ctx context.Context, name string) (*Collection, error) {
	var col Collection
	err := c.handle().WithContext(ctx).Where("name = ?", name).First(&col).Error
	if err != nil {
		return nil, convertNotFoundError(err, ErrCollectionNotFound)
	}
	return &col, nil
}

// ListCollections returns collections ordered by name. When activeOnly is
// set, deactivated collections are excluded.
func (c *Catalog) ListCollections(ctx context.Context, activeOnly bool) ([]*Collection, error) {
	query := c.handle().WithContext(ctx).Order("name")
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}

	var cols []*Collection
	if err := query.Find(&cols).Error; err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	return cols, nil
}

// UpsertCollection returns the existing collection, or creates it. When a
// new row is created the second return value is the plaintext key the caller
// must persist: presetKey when supplied, a freshly generated secret
// otherwise. For an existing collection the returned key is empty.
func (c *Catalog) UpsertCollection(ctx context.Context, name, presetKey string) (*Collection, string, error) {
	existing, err := c.GetCollection(ctx, name)
	if err == nil {
		return existing, "", nil
	}
	if err != ErrCollectionNotFound {
		return nil, "", err
	}

	secret := presetKey
	generated := ""
	if secret == "" {
		secret, err = GenerateKey()
		if err != nil {
			return nil, "", err
		}
		generated = secret
	}

	col := &Collection{
		Name:       name,
		APIKeyHash: HashKey(secret),
		IsActive:   true,
	}
	if err := c.handle().WithContext(ctx).Create(col).Error; err != nil {
		if isUniqueConstraintError(err) {
			// Lost a create race; the winner's row is authoritative.
			existing, getErr := c.GetCollection(ctx, name)
			if getErr != nil {
				return nil, "", getErr
			}
			return existing, "", nil
		}
		return nil, "", fmt.Errorf("failed to create collection %q: %w", name, err)
	}
	return col, generated, nil
}

// VerifyKey checks the presented secret against the stored digest for an
// active collection. The comparison is constant-time over hex digests.
func (c *Catalog) VerifyKey(ctx context.Context, name, secret string) (bool, error) {
	var col Collection
	err := c.handle().WithContext(ctx).
		Where("name = ? AND is_active = ?", name, true).
		First(&col).Error
	if err != nil {
		if convertNotFoundError(err, ErrCollectionNotFound) == ErrCollectionNotFound {
			return false, nil
		}
		return false, err
	}

	presented := HashKey(secret)
	return subtle.ConstantTimeCompare([]byte(col.APIKeyHash), []byte(presented)) == 1, nil
}

// RotateKey replaces the collection's API key and returns the new secret.
func (c *Catalog) RotateKey(ctx context.Context, name string) (string, error) {
	secret, err := GenerateKey()
	if err != nil {
		return "", err
	}
	if err := c.SetKey(ctx, name, secret); err != nil {
		return "", err
	}
	return secret, nil
}

// SetKey stores the digest of the given secret for the collection. Used by
// key rotation and by the watcher when a .vault_key file is edited in place.
func (c *Catalog) SetKey(ctx context.Context, name, secret string) error {
	result := c.handle().WithContext(ctx).
		Model(&Collection{}).
		Where("name = ?", name).
		Update("api_key_hash", HashKey(secret))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCollectionNotFound
	}
	return nil
}

// Deactivate disables a collection. Rows and blobs are retained.
func (c *Catalog) Deactivate(ctx context.Context, name string) error {
	result := c.handle().WithContext(ctx).
		Model(&Collection{}).
		Where("name = ?", name).
		Update("is_active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCollectionNotFound
	}
	return nil
}
