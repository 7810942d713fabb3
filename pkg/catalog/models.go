package catalog

import "time"

// ObjectStatus is the lifecycle state of an object row.
type ObjectStatus string

const (
	// StatusReady marks an object whose blob is present in the store.
	StatusReady ObjectStatus = "READY"
	// StatusUpdating marks an object mid-replacement.
	StatusUpdating ObjectStatus = "UPDATING"
	// StatusDeleted marks a tombstoned object. Tombstones are never purged.
	StatusDeleted ObjectStatus = "DELETED"
)

// Collection is a named namespace backed by a directory under the
// collections root. Collections are never hard-deleted, only deactivated.
type Collection struct {
	Name       string    `gorm:"primaryKey;size:255" json:"name"`
	APIKeyHash string    `gorm:"not null" json:"-"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	IsActive   bool      `gorm:"not null;default:true" json:"is_active"`
}

// TableName returns the table name for Collection.
func (Collection) TableName() string {
	return "collections"
}

// Object is one mirrored file: the canonical mapping from (collection, name)
// to the object store key, content hash and size.
type Object struct {
	ID         uint64       `gorm:"primaryKey;autoIncrement" json:"id"`
	Collection string       `gorm:"size:255;not null;index:idx_objects_collection_name_status,priority:1;index:idx_objects_collection_status,priority:1" json:"collection"`
	Name       string       `gorm:"size:1024;not null;index:idx_objects_collection_name_status,priority:2" json:"name"`
	ObjectKey  string       `gorm:"size:2048;uniqueIndex;not null" json:"object_key"`
	HashSHA256 string       `gorm:"size:64;not null" json:"hash_sha256"`
	SizeBytes  int64        `gorm:"not null" json:"size_bytes"`
	Status     ObjectStatus `gorm:"size:20;not null;default:READY;index:idx_objects_collection_name_status,priority:3;index:idx_objects_collection_status,priority:2" json:"status"`
	CreatedAt  time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Object.
func (Object) TableName() string {
	return "objects"
}

// AllModels returns every model for schema migration.
func AllModels() []any {
	return []any{&Collection{}, &Object{}}
}
