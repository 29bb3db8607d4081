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
	"context"
	"errors"
	"os"

	"github.com/petraio/petra/pkg/utils/clock"
	"github.com/rs/zerolog/log"
)

// FileCache resolves URLs to local files, fetching from upstream on miss.
//
// All work for a URL happens under the lock of its canonical file path, so
// concurrent requests for the same key collapse onto one upstream fetch: a
// waiter that acquires the lock after a successful materialization observes
// a fresh entry on its probe and never goes upstream.
type FileCache struct {
	keyer   *Keyer
	locker  *FileLocker
	fetcher *Fetcher
	clock   clock.TimeSource
}

// NewFileCache creates a FileCache rooted at dir. A nil hash selects
// SHA256Hasher, a nil ts the system clock.
func NewFileCache(dir string, hash Hasher, fetcher *Fetcher, ts clock.TimeSource) *FileCache {
	if ts == nil {
		ts = clock.NewSystemTimeSource()
	}
	return &FileCache{
		keyer:   NewKeyer(dir, hash),
		locker:  NewFileLocker(),
		fetcher: fetcher,
		clock:   ts,
	}
}

// Locker exposes the file locker so collaborators competing for entries,
// such as the purger, serialize against in-flight fetches.
func (c *FileCache) Locker() *FileLocker {
	return c.locker
}

// Fetch resolves url to a local cache entry, going upstream if no fresh
// entry exists on disk. The returned bool reports whether the entry was
// served from disk.
func (c *FileCache) Fetch(ctx context.Context, url string) (*Entry, bool, error) {
	fp := c.keyer.Fingerprint(url)
	shardDir := c.keyer.ShardDir(fp)
	filename := c.keyer.Filename(fp)

	c.locker.Lock(filename)
	defer c.locker.Unlock(filename)

	if status, entry := Probe(shardDir, filename, c.clock.Now()); status == EntryOk {
		log.Debug().Str("url", url).Str("file", filename).Msg("Cache hit")
		return entry, true, nil
	}

	entry, err := c.fetcher.Fetch(ctx, url, filename)
	if err != nil {
		return nil, false, err
	}
	return entry, false, nil
}

// Purge removes the cache entry for url. A missing entry is a silent
// success.
func (c *FileCache) Purge(_ context.Context, url string) {
	filename := c.keyer.Filename(c.keyer.Fingerprint(url))

	c.locker.Lock(filename)
	defer c.locker.Unlock(filename)

	if err := os.Remove(filename); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Debug().Err(err).Str("file", filename).Msg("Error removing cache entry")
	}
}
