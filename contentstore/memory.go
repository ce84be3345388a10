// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package contentstore

import (
	"context"
	"sync"
)

// Memory keeps blobs in a map.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (m *Memory) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cid := CID(data)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[cid]; !ok {
		m.blobs[cid] = append([]byte(nil), data...)
	}
	return cid, nil
}

func (m *Memory) Get(ctx context.Context, cid string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	data, ok := m.blobs[cid]
	m.mu.RUnlock()
	if !ok {
		return nil, notFound(cid)
	}
	return checkContent(cid, append([]byte(nil), data...))
}

// Len returns the number of stored blobs.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

func (m *Memory) Close() error { return nil }
