// Package object targets blob stores: a filesystem directory, an
// in-memory map, or any S3-compatible service. Items are encoded
// documents at generated keys, one object per item.
//
// Blob stores have no multi-object transactions. Transaction runs its
// scope without atomicity: operations apply immediately and a failure
// mid-scope leaves earlier writes in place.
package object

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound reports a key with no object behind it.
var ErrNotFound = errors.New("object not found")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Store is the blob-store contract the target adapter drives. Keys
// are opaque slash-separated strings; List returns keys under a
// prefix in lexical order.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader) (*ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error)
	Head(ctx context.Context, key string) (*ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}
