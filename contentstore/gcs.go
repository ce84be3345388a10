// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package contentstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"cloud.google.com/go/storage"
)

// GCS stores blobs in a Google Cloud Storage bucket under prefix+cid.
type GCS struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
	logger *slog.Logger
}

// NewGCS uses application default credentials.
func NewGCS(ctx context.Context, location string, logger *slog.Logger) (*GCS, error) {
	bucket, prefix, err := splitLocation(location)
	if err != nil {
		return nil, fmt.Errorf("gcs content store: %w", err)
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs content store: failed in creating storage client: %w", err)
	}
	return &GCS{
		client: client,
		bucket: client.Bucket(bucket),
		prefix: prefix,
		logger: logger,
	}, nil
}

func (g *GCS) Put(ctx context.Context, data []byte) (string, error) {
	cid := CID(data)
	w := g.bucket.Object(g.prefix + cid).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", external("gcs put", cid, err)
	}
	if err := w.Close(); err != nil {
		g.logger.Error("gcs put failed", "cid", cid, "error", err)
		return "", external("gcs put", cid, err)
	}
	g.logger.Debug("gcs put ok", "cid", cid, "bytes", len(data))
	return cid, nil
}

func (g *GCS) Get(ctx context.Context, cid string) ([]byte, error) {
	r, err := g.bucket.Object(g.prefix + cid).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, notFound(cid)
	}
	if err != nil {
		return nil, external("gcs get", cid, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, external("gcs read", cid, err)
	}
	return checkContent(cid, data)
}

func (g *GCS) Close() error {
	return g.client.Close()
}
