// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package polllock serializes work on a single poll inside one process.
//
// Each poll id gets its own named lock from moby/locker, created on first use
// and dropped when the last holder releases it. Different polls never
// contend.
package polllock

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/moby/locker"
)

// Arena hands out per-poll locks. The zero value is ready to use.
type Arena struct {
	once    sync.Once
	locks   *locker.Locker
	pending atomic.Int64
}

func (a *Arena) named() *locker.Locker {
	a.once.Do(func() { a.locks = locker.New() })
	return a.locks
}

// Lock blocks until the caller holds the lock for pollID and returns the
// function that releases it. Calling the function more than once is safe.
func (a *Arena) Lock(pollID int64) (unlock func()) {
	name := strconv.FormatInt(pollID, 10)
	l := a.named()
	a.pending.Add(1)
	l.Lock(name)

	var once sync.Once
	return func() {
		once.Do(func() {
			// only fails for a name that is not held, which once rules out
			_ = l.Unlock(name)
			a.pending.Add(-1)
		})
	}
}

// Held returns the number of Lock calls holding or waiting for a lock.
func (a *Arena) Held() int {
	return int(a.pending.Load())
}
