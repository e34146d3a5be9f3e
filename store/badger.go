package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/seiflotfy/stash"
)

const (
	badgerBackend = "badger"
	keyPrefix     = "container/"
)

// BadgerConfig holds configuration for a BadgerDB-backed store.
type BadgerConfig struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Useful for testing.
	InMemory bool

	// SyncWrites fsyncs every write before Put returns.
	SyncWrites bool

	// Logger receives store and BadgerDB records. If nil, both are discarded.
	Logger *slog.Logger
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Badger stores containers as values in an embedded BadgerDB, keyed by
// "container/<key>".
type Badger struct {
	db     *badger.DB
	logger *slog.Logger
}

// OpenBadger opens a BadgerDB store with the given configuration.
func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, dirMode); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	logger := cfg.Logger
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger.With(slog.String("component", "badger"))})
	} else {
		opts = opts.WithLogger(nil)
		logger = slog.New(slog.DiscardHandler)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Badger{db: db, logger: logger}, nil
}

func badgerKey(key string) []byte {
	return []byte(keyPrefix + key)
}

func (b *Badger) check(ctx context.Context, key string) error {
	if b.db.IsClosed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return ValidateKey(key)
}

// Put stores c under key.
func (b *Badger) Put(ctx context.Context, key string, c *stash.Container) (err error) {
	defer func() { recordOperation(badgerBackend, "put", err) }()
	if err := b.check(ctx, key); err != nil {
		return err
	}
	data, err := marshal(c)
	if err != nil {
		return err
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(key), data)
	})
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	recordBytes(badgerBackend, "put", len(data))
	b.logger.DebugContext(ctx, "container stored",
		slog.String("key", key),
		slog.Int("bytes", len(data)),
	)
	return nil
}

// Get loads the container stored under key.
func (b *Badger) Get(ctx context.Context, key string) (c *stash.Container, err error) {
	defer func() { recordOperation(badgerBackend, "get", err) }()
	if err := b.check(ctx, key); err != nil {
		return nil, err
	}
	var data []byte
	err = b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	recordBytes(badgerBackend, "get", len(data))
	c, err = unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("key %q: %w", key, err)
	}
	return c, nil
}

// Delete removes key.
func (b *Badger) Delete(ctx context.Context, key string) (err error) {
	defer func() { recordOperation(badgerBackend, "delete", err) }()
	if err := b.check(ctx, key); err != nil {
		return err
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(key))
	})
	if err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// Keys lists the stored keys in lexical order.
func (b *Badger) Keys(ctx context.Context) ([]string, error) {
	if b.db.IsClosed() {
		return nil, ErrClosed
	}
	var keys []string
	prefix := []byte(keyPrefix)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			keys = append(keys, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return keys, nil
}

// Close closes the database. Safe to call more than once.
func (b *Badger) Close() error {
	if b.db.IsClosed() {
		return nil
	}
	return b.db.Close()
}
