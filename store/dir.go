package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/seiflotfy/stash"
)

const (
	dirBackend   = "dir"
	fileSuffix   = ".stash"
	fileMode     = 0o640
	dirMode      = 0o750
	tempFileGlob = ".stash-*.tmp"
)

// Dir stores each container in its own file under a root directory.
// Writes go to a temporary file that is renamed into place, so readers never
// observe a partial container.
type Dir struct {
	root   string
	logger *slog.Logger
	closed atomic.Bool
}

// OpenDir opens a directory store at root, creating the directory if needed.
func OpenDir(root string, logger *slog.Logger) (*Dir, error) {
	if root == "" {
		return nil, errors.New("store directory is required")
	}
	if err := os.MkdirAll(root, dirMode); err != nil {
		return nil, fmt.Errorf("create store directory %s: %w", root, err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dir{root: root, logger: logger}, nil
}

func (d *Dir) path(key string) string {
	return filepath.Join(d.root, key+fileSuffix)
}

func (d *Dir) check(ctx context.Context, key string) error {
	if d.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return ValidateKey(key)
}

// Put writes c to <root>/<key>.stash.
func (d *Dir) Put(ctx context.Context, key string, c *stash.Container) (err error) {
	defer func() { recordOperation(dirBackend, "put", err) }()
	if err := d.check(ctx, key); err != nil {
		return err
	}
	data, err := marshal(c)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(d.root, tempFileGlob)
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", d.root, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, fileMode); err != nil {
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, d.path(key)); err != nil {
		return fmt.Errorf("rename into %s: %w", d.path(key), err)
	}

	recordBytes(dirBackend, "put", len(data))
	d.logger.DebugContext(ctx, "container stored",
		slog.String("key", key),
		slog.Int("bytes", len(data)),
	)
	return nil
}

// Get reads <root>/<key>.stash.
func (d *Dir) Get(ctx context.Context, key string) (c *stash.Container, err error) {
	defer func() { recordOperation(dirBackend, "get", err) }()
	if err := d.check(ctx, key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(d.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", d.path(key), err)
	}
	recordBytes(dirBackend, "get", len(data))
	c, err = unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("key %q: %w", key, err)
	}
	return c, nil
}

// Delete removes <root>/<key>.stash if present.
func (d *Dir) Delete(ctx context.Context, key string) (err error) {
	defer func() { recordOperation(dirBackend, "delete", err) }()
	if err := d.check(ctx, key); err != nil {
		return err
	}
	if err := os.Remove(d.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", d.path(key), err)
	}
	return nil
}

// Keys lists the stored keys in lexical order.
func (d *Dir) Keys(ctx context.Context) ([]string, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(d.root, "*"+fileSuffix))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", d.root, err)
	}
	keys := make([]string, 0, len(matches))
	for _, m := range matches {
		name := filepath.Base(m)
		keys = append(keys, name[:len(name)-len(fileSuffix)])
	}
	return keys, nil
}

// Close marks the store closed. Files are left in place.
func (d *Dir) Close() error {
	d.closed.Store(true)
	return nil
}
