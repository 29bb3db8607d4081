// MIT License
//
// Copyright (c) 2024 petra.io
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package cache

import (
	"sync"
	"time"
)

// FileLocker serializes work per cache file path. Concurrent callers for the
// same path are collapsed onto a single logical owner: the first Lock for a
// path returns immediately, subsequent Locks enqueue and block until an
// Unlock hands ownership over. Waiters are served in FIFO order of their
// Lock invocations, so a caller queued behind a successful materialization
// observes the finished entry once it acquires the lock.
//
// Ownership is process-local; there is no cross-process coordination. There
// is no timeout on acquisition: correctness relies on every holder
// eventually calling Unlock, which the orchestrator guarantees on both its
// success and error paths.
type FileLocker struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

// lockEntry tracks the waiters queued on a single path. An entry exists in
// the table iff some caller currently holds logical ownership of the path.
type lockEntry struct {
	waiters []chan struct{}
	updated time.Time
}

// NewFileLocker creates an empty FileLocker.
func NewFileLocker() *FileLocker {
	return &FileLocker{
		entries: make(map[string]*lockEntry),
	}
}

// Lock acquires ownership of path, blocking until any current holder and
// all earlier waiters have released it.
func (l *FileLocker) Lock(path string) {
	l.mu.Lock()
	entry, ok := l.entries[path]
	if !ok {
		l.entries[path] = &lockEntry{updated: time.Now()}
		l.mu.Unlock()
		return
	}

	wait := make(chan struct{})
	entry.waiters = append(entry.waiters, wait)
	entry.updated = time.Now()
	l.mu.Unlock()

	<-wait
}

// Unlock releases ownership of path, handing it to the next queued waiter,
// or removes the path from the table if the queue is empty. Unlocking a
// path that was never locked is a no-op.
func (l *FileLocker) Unlock(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[path]
	if !ok {
		return
	}
	if len(entry.waiters) == 0 {
		delete(l.entries, path)
		return
	}

	next := entry.waiters[0]
	entry.waiters = entry.waiters[1:]
	entry.updated = time.Now()
	close(next)
}

// Len returns the number of paths currently owned.
func (l *FileLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
