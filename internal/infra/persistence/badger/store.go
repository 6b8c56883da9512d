// Package badger persists local state in an embedded BadgerDB, one key per
// named entry.
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"petri/pkg/domain"
)

var _ domain.KeyValueStore = (*Store)(nil)

// Config holds configuration for a BadgerDB-backed store.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string
	// InMemory enables in-memory mode (no disk persistence). Useful for testing.
	InMemory bool
	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool
	// Logger receives BadgerDB's internal log lines. Nil disables them.
	Logger *zap.Logger
}

// Store keeps each named entry under a prefixed BadgerDB key.
type Store struct {
	db *badger.DB
}

const keyPrefix = "petri/state/"

// zapBadgerLogger adapts zap to BadgerDB's Logger interface.
type zapBadgerLogger struct {
	s *zap.SugaredLogger
}

func (l zapBadgerLogger) Errorf(format string, args ...interface{})   { l.s.Errorf(format, args...) }
func (l zapBadgerLogger) Warningf(format string, args ...interface{}) { l.s.Warnf(format, args...) }
func (l zapBadgerLogger) Infof(format string, args ...interface{})    { l.s.Infof(format, args...) }
func (l zapBadgerLogger) Debugf(format string, args ...interface{})   { l.s.Debugf(format, args...) }

// Open creates and opens the store.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(zapBadgerLogger{s: cfg.Logger.Named("badger").Sugar()})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Store{db: db}, nil
}

// Get returns the payload stored under key.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return out, true, nil
}

// Set stores the payload under key.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+key), value)
	}); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Delete removes keys in one transaction.
func (s *Store) Delete(_ context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete([]byte(keyPrefix + k)); err != nil {
				return fmt.Errorf("delete %s: %w", k, err)
			}
		}
		return nil
	})
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }
