// Package storage defines where crawl artifacts are written. The crawler
// persists the listing, the corpus, the index and diagnostic captures through
// a BlobStore so the same run can target the local filesystem or a bucket.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
)

// BlobStore persists opaque objects addressed by a relative path.
type BlobStore interface {
	// PutObject writes r to path and returns a URI describing where it went.
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// PutBytes is a convenience wrapper over PutObject.
func PutBytes(ctx context.Context, store BlobStore, path, contentType string, data []byte) (string, error) {
	if store == nil {
		return "", fmt.Errorf("blob store is not configured")
	}
	uri, err := store.PutObject(ctx, path, contentType, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("put %s: %w", path, err)
	}
	return uri, nil
}

// Mirror writes every object to Primary and then to each of Copies. The
// returned URI is Primary's; a failed copy fails the write.
type Mirror struct {
	Primary BlobStore
	Copies  []BlobStore
}

// PutObject implements BlobStore.
func (m Mirror) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	uri, err := m.Primary.PutObject(ctx, path, contentType, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	for _, c := range m.Copies {
		if _, err := c.PutObject(ctx, path, contentType, bytes.NewReader(data)); err != nil {
			return uri, fmt.Errorf("mirror %s: %w", path, err)
		}
	}
	return uri, nil
}
