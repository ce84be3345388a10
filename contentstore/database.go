// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package contentstore

import (
	"context"
	"time"

	"github.com/danielhkuo/verivote/db"
)

// Database keeps blobs in the application database, so every process that
// shares it can resolve published artifacts.
type Database struct {
	q db.Querier
}

func NewDatabase(q db.Querier) *Database {
	return &Database{q: q}
}

func (d *Database) Put(ctx context.Context, data []byte) (string, error) {
	cid := CID(data)
	if err := db.PutBlob(ctx, d.q, cid, data, time.Now().Unix()); err != nil {
		return "", external("put", cid, err)
	}
	return cid, nil
}

func (d *Database) Get(ctx context.Context, cid string) ([]byte, error) {
	data, err := db.GetBlob(ctx, d.q, cid)
	if err != nil {
		return nil, external("get", cid, err)
	}
	if data == nil {
		return nil, notFound(cid)
	}
	return checkContent(cid, data)
}

func (d *Database) Close() error { return nil }
