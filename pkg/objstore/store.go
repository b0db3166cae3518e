// Package objstore defines the object store the publisher writes to and
// the server reads from. Operations are atomic per object; nothing spans
// more than one key.
package objstore

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("object not found")

const DefaultContentType = "application/octet-stream"

type Object struct {
	Data        []byte
	ContentType string
}

type Store interface {
	// Get returns ErrNotFound (possibly wrapped) for a missing key.
	Get(ctx context.Context, key string) (*Object, error)
	Put(
		ctx context.Context,
		key string,
		data []byte,
		contentType string,
	) error
	// Delete of a missing key succeeds.
	Delete(ctx context.Context, key string) error
}
