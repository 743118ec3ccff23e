// Package store provides the key-value stores sessions are persisted in.
// Values are JSON documents; the store does not interpret them.
package store

import (
	"context"
	"errors"
)

// ErrInvalidKey is returned for empty keys.
var ErrInvalidKey = errors.New("invalid store key")

// Store reads and writes whole entries by key.
type Store interface {
	// Get decodes the entry stored under key into v. It reports false when there is no entry.
	Get(ctx context.Context, key string, v any) (bool, error)

	// Set encodes v and stores it under key, replacing any previous entry.
	Set(ctx context.Context, key string, v any) error

	// Delete removes the entry under key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
