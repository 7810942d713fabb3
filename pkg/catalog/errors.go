package catalog

import "errors"

// Common errors for catalog operations.
var (
	ErrCollectionNotFound = errors.New("collection not found")
	ErrCollectionInactive = errors.New("collection is deactivated")
	ErrObjectNotFound     = errors.New("object not found")
)
