// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package contentstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/danielhkuo/verivote/apperr"
	"github.com/danielhkuo/verivote/db"
)

// Store publishes and fetches content-addressed blobs.
type Store interface {
	// Put stores data and returns its CID.
	Put(ctx context.Context, data []byte) (string, error)
	// Get returns the bytes stored under cid. Missing content is a NotFound
	// error; content that does not hash to cid is a Tamper error.
	Get(ctx context.Context, cid string) ([]byte, error)
	Close() error
}

// Open creates the backend named by kind. The db backend stores blobs
// through q; the others ignore it.
func Open(ctx context.Context, kind, location string, q db.Querier, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	switch strings.ToLower(kind) {
	case "memory":
		return NewMemory(), nil
	case "", "db":
		if q == nil {
			return nil, fmt.Errorf("content backend %q needs a database", kind)
		}
		return NewDatabase(q), nil
	case "badger":
		return NewBadger(location, logger)
	case "s3":
		return NewS3(ctx, location, logger)
	case "gcs":
		return NewGCS(ctx, location, logger)
	default:
		return nil, fmt.Errorf("unknown content backend %q", kind)
	}
}

// splitLocation parses "bucket[/prefix]". A non-empty prefix ends in "/".
func splitLocation(location string) (bucket, prefix string, err error) {
	for _, scheme := range []string{"s3://", "gs://", "gcs://"} {
		location = strings.TrimPrefix(location, scheme)
	}
	bucket, prefix, _ = strings.Cut(location, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("bucket not set in %q", location)
	}
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return bucket, prefix, nil
}

func notFound(cid string) error {
	return apperr.New(apperr.KindNotFound, apperr.CodeNotFound, "content "+cid+" not found")
}

func checkContent(cid string, data []byte) ([]byte, error) {
	if err := verify(cid, data); err != nil {
		return nil, apperr.Wrap(apperr.KindTamper, apperr.CodeAuditTampered, err, "stored content was altered")
	}
	return data, nil
}

func external(op, cid string, err error) error {
	return apperr.Wrap(apperr.KindExternal, apperr.CodeStorage, err, op+" "+cid+" failed")
}
