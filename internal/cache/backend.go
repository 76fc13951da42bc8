package cache

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a Backend when nothing is stored under a key.
var ErrNotFound = errors.New("cache: not found")

// Backend persists raw record and index documents. The Store owns encoding,
// expiry and index bookkeeping; a Backend only moves bytes.
type Backend interface {
	// Init prepares the storage namespace. It may be called more than once.
	Init(ctx context.Context) error

	ReadRecord(ctx context.Context, key RecordKey) ([]byte, error)
	WriteRecord(ctx context.Context, key RecordKey, data []byte) error
	// DeleteRecord removes key; deleting a missing key is not an error.
	DeleteRecord(ctx context.Context, key RecordKey) error

	ReadIndex(ctx context.Context) ([]byte, error)
	WriteIndex(ctx context.Context, data []byte) error

	// Clear removes every record and the index.
	Clear(ctx context.Context) error
}
