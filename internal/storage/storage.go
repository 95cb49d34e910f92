package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// ErrObjectNotFound is returned when a key has no stored object.
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Size        int64
	ContentType string
	ETag        string
}

// BlobStore stores attachment bodies by key.
type BlobStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// AttachmentKey returns the object key for an attachment body.
func AttachmentKey(issueID, attachmentID uuid.UUID) string {
	return fmt.Sprintf("issues/%s/%s", issueID, attachmentID)
}

// DeleteAll removes every key and returns the first error. Remaining keys
// are still attempted.
func DeleteAll(ctx context.Context, blobs BlobStore, keys []string) error {
	var first error
	for _, key := range keys {
		if err := blobs.Delete(ctx, key); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ObjectStore writes through the S3 API and streams reads through minio
// when a minio client is configured.
type ObjectStore struct {
	uploads *S3Storage
	reads   *Client
}

func NewObjectStore(uploads *S3Storage, reads *Client) *ObjectStore {
	return &ObjectStore{uploads: uploads, reads: reads}
}

func (o *ObjectStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	return o.uploads.Put(ctx, key, body, size, contentType)
}

func (o *ObjectStore) Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	if o.reads != nil {
		return o.reads.GetObject(ctx, key)
	}
	return o.uploads.Get(ctx, key)
}

func (o *ObjectStore) Delete(ctx context.Context, key string) error {
	return o.uploads.Delete(ctx, key)
}

// Ping checks the read path, which is the one clients wait on.
func (o *ObjectStore) Ping(ctx context.Context) error {
	if o.reads != nil {
		return o.reads.Ping(ctx)
	}
	return o.uploads.Ping(ctx)
}
