// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package contentstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

var badgerKeyPrefix = []byte("cid/")

// Badger stores blobs in an embedded badger database. An empty dir opens an
// in-memory database.
type Badger struct {
	db     *badger.DB
	logger *slog.Logger
}

func NewBadger(dir string, logger *slog.Logger) (*Badger, error) {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create content dir: %w", err)
		}
		opts = badger.DefaultOptions(dir).WithCompression(options.Snappy)
	}
	opts = opts.
		WithLogger(badgerLogger{logger}).
		// INFO is noisy
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger content store: %w", err)
	}
	return &Badger{db: db, logger: logger}, nil
}

func badgerKey(cid string) []byte {
	return append(append([]byte(nil), badgerKeyPrefix...), cid...)
}

func (b *Badger) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cid := CID(data)
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(cid), data)
	})
	if err != nil {
		return "", external("badger put", cid, err)
	}
	return cid, nil
}

func (b *Badger) Get(ctx context.Context, cid string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(cid))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, notFound(cid)
	}
	if err != nil {
		return nil, external("badger get", cid, err)
	}
	return checkContent(cid, data)
}

func (b *Badger) Close() error {
	return b.db.Close()
}

// badgerLogger routes badger's printf-style logging into slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(msg string, args ...any) {
	l.logger.Error(fmt.Sprintf(msg, args...), "component", "contentstore")
}

func (l badgerLogger) Warningf(msg string, args ...any) {
	l.logger.Warn(fmt.Sprintf(msg, args...), "component", "contentstore")
}

func (l badgerLogger) Infof(msg string, args ...any) {
	l.logger.Info(fmt.Sprintf(msg, args...), "component", "contentstore")
}

func (l badgerLogger) Debugf(msg string, args ...any) {
	l.logger.Debug(fmt.Sprintf(msg, args...), "component", "contentstore")
}
