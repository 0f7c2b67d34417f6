// Package storage provides key-value storage for conversation memory and preprompts.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key has no stored value.
	ErrNotFound = errors.New("storage: key not found")

	// ErrInvalidKey is returned for keys that would escape the store root.
	ErrInvalidKey = errors.New("storage: invalid key")
)

// Store maps string keys to raw values.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes a key. Returns ErrNotFound if the key is absent.
	Delete(ctx context.Context, key string) error

	// Keys lists stored keys matching a doublestar pattern ("**" for all).
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Cleanup removes entries not written for longer than olderThan
	// and reports how many were removed.
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)
}
