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
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFileCache(dir string, upstream http.Handler) (*FileCache, *httptest.Server) {
	server := httptest.NewServer(upstream)
	fetcher := NewFetcher(FetcherConfig{
		MinTTL:         10 * time.Second,
		RequestTimeout: 5 * time.Second,
	}, nil)
	return NewFileCache(dir, nil, fetcher, nil), server
}

func TestFileCacheMissThenHit(t *testing.T) {
	var hits atomic.Int32
	c, upstream := testFileCache(t.TempDir(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("B"))
	}))
	defer upstream.Close()

	first, cached, err := c.Fetch(context.Background(), upstream.URL)
	require.NoError(t, err)
	assert.False(t, cached)

	second, cached, err := c.Fetch(context.Background(), upstream.URL)
	require.NoError(t, err)
	assert.True(t, cached)

	// One upstream request; the second call observes the entry the first
	// one wrote, with the same timestamps.
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, first.Path, second.Path)
	assert.WithinDuration(t, first.AccessedAt, second.AccessedAt, 50*time.Millisecond)
	assert.WithinDuration(t, first.ExpiresAt, second.ExpiresAt, 50*time.Millisecond)

	body, err := os.ReadFile(first.Path)
	require.NoError(t, err)
	assert.Equal(t, "B", string(body))
}

func TestFileCacheSingleFlight(t *testing.T) {
	// For concurrent fetches of the same URL, only 1 request should hit
	// the upstream.
	var hits atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	c, upstream := testFileCache(t.TempDir(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		once.Do(func() { close(started) })
		<-release
		_, _ = w.Write([]byte("B"))
	}))
	defer upstream.Close()

	n := 20
	paths := make([]string, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			entry, _, err := c.Fetch(context.Background(), upstream.URL)
			require.NoError(t, err)
			paths[i] = entry.Path
		}()
	}

	// Wait for the first holder to reach the upstream, give the rest time
	// to enqueue on the lock, then let the upstream respond.
	<-started
	time.Sleep(100 * time.Millisecond)
	close(release)

	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
	for i := 1; i < n; i++ {
		assert.Equal(t, paths[0], paths[i])
	}
}

func TestFileCacheHitSkipsUpstream(t *testing.T) {
	dir := t.TempDir()
	c, upstream := testFileCache(dir, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be called on a fresh hit")
	}))
	defer upstream.Close()

	// Pre-seed a fresh entry at the canonical path for the URL.
	fp := c.keyer.Fingerprint(upstream.URL)
	atime := time.Now().Add(-time.Minute)
	mtime := time.Now().Add(10 * time.Second)
	seedEntry(t, c.keyer.Filename(fp), "B", atime, mtime)

	entry, cached, err := c.Fetch(context.Background(), upstream.URL)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.WithinDuration(t, atime, entry.AccessedAt, time.Second)
	assert.WithinDuration(t, mtime, entry.ExpiresAt, time.Second)
}

func TestFileCacheExpiredEntryRefetched(t *testing.T) {
	var hits atomic.Int32
	dir := t.TempDir()
	c, upstream := testFileCache(dir, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("B"))
	}))
	defer upstream.Close()

	fp := c.keyer.Fingerprint(upstream.URL)
	seedEntry(t, c.keyer.Filename(fp), "old", time.Now().Add(-time.Hour), time.Unix(0, int64(time.Millisecond)))

	entry, cached, err := c.Fetch(context.Background(), upstream.URL)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, int32(1), hits.Load())

	body, err := os.ReadFile(entry.Path)
	require.NoError(t, err)
	assert.Equal(t, "B", string(body))
	assert.True(t, entry.ExpiresAt.After(time.Now()))
}

func TestFileCacheFailureLeavesNoEntry(t *testing.T) {
	c, upstream := testFileCache(t.TempDir(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	_, _, err := c.Fetch(context.Background(), upstream.URL)
	var uerr *UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, 500, uerr.Code)

	fp := c.keyer.Fingerprint(upstream.URL)
	requireNoLeftovers(t, c.keyer.Filename(fp))

	// Failures are not cached: the next fetch goes upstream again.
	_, _, err = c.Fetch(context.Background(), upstream.URL)
	require.ErrorAs(t, err, &uerr)
}

func TestFileCachePurge(t *testing.T) {
	c, upstream := testFileCache(t.TempDir(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("B"))
	}))
	defer upstream.Close()

	entry, _, err := c.Fetch(context.Background(), upstream.URL)
	require.NoError(t, err)

	c.Purge(context.Background(), upstream.URL)
	_, err = os.Stat(entry.Path)
	assert.True(t, os.IsNotExist(err))

	// Purge is idempotent.
	c.Purge(context.Background(), upstream.URL)
	assert.Equal(t, 0, c.Locker().Len())
}
