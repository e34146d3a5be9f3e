// Package store persists compressed containers under string keys.
//
// Three implementations share the Store interface:
//
//	Dir    - one "<key>.stash" file per key in a directory
//	Badger - an embedded BadgerDB key/value store
//	Cached - an LRU of decoded containers in front of another Store
//
// All implementations are safe for concurrent use.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/seiflotfy/stash"
)

var (
	// ErrNotFound is returned when no container is stored under a key.
	ErrNotFound = errors.New("container not found")
	// ErrInvalidKey is returned for keys that are empty or contain characters
	// outside [A-Za-z0-9._-].
	ErrInvalidKey = errors.New("invalid key")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store closed")
)

// Store persists containers by key.
type Store interface {
	// Put stores c under key, replacing any previous container.
	Put(ctx context.Context, key string, c *stash.Container) error
	// Get loads the container stored under key. It returns ErrNotFound if
	// there is none.
	Get(ctx context.Context, key string) (*stash.Container, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Close releases the store's resources.
	Close() error
}

// Lister is implemented by stores that can enumerate their keys.
type Lister interface {
	// Keys returns the stored keys in lexical order.
	Keys(ctx context.Context) ([]string, error)
}

const maxKeyLength = 200

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidateKey reports whether key can be used with any Store.
func ValidateKey(key string) error {
	if key == "" || len(key) > maxKeyLength || !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if key == "." || key == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

func marshal(c *stash.Container) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := c.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode container: %w", err)
	}
	return buf.Bytes(), nil
}

func unmarshal(data []byte) (*stash.Container, error) {
	var c stash.Container
	if _, err := c.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("decode container: %w", err)
	}
	return &c, nil
}

// ReadSource loads the file at path for compression.
func ReadSource(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source %s: %w", path, err)
	}
	return data, nil
}
