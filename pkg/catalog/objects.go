package catalog

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// GetObject returns the READY object for (collection, name).
func (c *Catalog) GetObject(ctx context.Context, collection, name string) (*Object, error) {
	var obj Object
	err := c.handle().WithContext(ctx).
		Where("collection = ? AND name = ? AND status = ?", collection, name, StatusReady).
		First(&obj).Error
	if err != nil {
		return nil, convertNotFoundError(err, ErrObjectNotFound)
	}
	return &obj, nil
}

// GetObjectByKey returns the object row with the given object key, any status.
func (c *Catalog) GetObjectByKey(ctx context.Context, objectKey string) (*Object, error) {
	var obj Object
	err := c.handle().WithContext(ctx).
		Where("object_key = ?", objectKey).
		First(&obj).Error
	if err != nil {
		return nil, convertNotFoundError(err, ErrObjectNotFound)
	}
	return &obj, nil
}

// ListObjects returns every READY object in a collection, ordered by name.
func (c *Catalog) ListObjects(ctx context.Context, collection string) ([]*Object, error) {
	return c.ListObjectsByStatus(ctx, collection, StatusReady)
}

// ListObjectsByStatus returns objects in a collection with the given status,
// ordered by name. The auditor uses this to inspect tombstones; the read
// endpoints only ever surface READY rows.
func (c *Catalog) ListObjectsByStatus(ctx context.Context, collection string, status ObjectStatus) ([]*Object, error) {
	var objs []*Object
	err := c.handle().WithContext(ctx).
		Where("collection = ? AND status = ?", collection, status).
		Order("name").
		Find(&objs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list objects for %q: %w", collection, err)
	}
	return objs, nil
}

// CountObjects returns the number of READY objects in a collection.
func (c *Catalog) CountObjects(ctx context.Context, collection string) (int64, error) {
	var count int64
	err := c.handle().WithContext(ctx).
		Model(&Object{}).
		Where("collection = ? AND status = ?", collection, StatusReady).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count objects for %q: %w", collection, err)
	}
	return count, nil
}

// ReplaceObject atomically removes any row holding the same object key and
// inserts a fresh READY row. Concurrent readers observe either the prior row
// or the new one, never both and never neither committed state.
func (c *Catalog) ReplaceObject(ctx context.Context, collection, name, objectKey, hashSHA256 string, sizeBytes int64) (*Object, error) {
	obj := &Object{
		Collection: collection,
		Name:       name,
		ObjectKey:  objectKey,
		HashSHA256: hashSHA256,
		SizeBytes:  sizeBytes,
		Status:     StatusReady,
	}

	err := c.handle().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("object_key = ?", objectKey).Delete(&Object{}).Error; err != nil {
			return err
		}
		return tx.Create(obj).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to replace object %q: %w", objectKey, err)
	}
	return obj, nil
}

// Tombstone flips the READY row for (collection, name) to DELETED. It
// returns false when no READY row existed.
func (c *Catalog) Tombstone(ctx context.Context, collection, name string) (bool, error) {
	result := c.handle().WithContext(ctx).
		Model(&Object{}).
		Where("collection = ? AND name = ? AND status = ?", collection, name, StatusReady).
		Update("status", StatusDeleted)
	if result.Error != nil {
		return false, fmt.Errorf("failed to tombstone %s/%s: %w", collection, name, result.Error)
	}
	return result.RowsAffected > 0, nil
}
