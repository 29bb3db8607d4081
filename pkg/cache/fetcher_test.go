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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	return NewFetcher(cfg, nil)
}

func requireNoLeftovers(t *testing.T, filename string) {
	t.Helper()
	_, err := os.Stat(filename)
	assert.True(t, os.IsNotExist(err), "canonical file must not exist")
	_, err = os.Stat(filename + PartSuffix)
	assert.True(t, os.IsNotExist(err), "partial file must not remain")
}

func TestFetchSuccess(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "petra-test", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("B"))
	}))
	defer upstream.Close()

	filename := filepath.Join(t.TempDir(), "entry")
	f := testFetcher(FetcherConfig{
		UserAgent: "petra-test",
		MinTTL:    10 * time.Second,
	})

	entry, err := f.Fetch(context.Background(), upstream.URL, filename)
	require.NoError(t, err)
	require.NotNil(t, entry)

	body, err := os.ReadFile(entry.Path)
	require.NoError(t, err)
	assert.Equal(t, "B", string(body))

	// With no Cache-Control, the entry lives for exactly the minimum TTL.
	assert.Equal(t, 10*time.Second, entry.ExpiresAt.Sub(entry.AccessedAt))

	// Expiry is encoded in the file's modification time.
	info, err := os.Stat(entry.Path)
	require.NoError(t, err)
	assert.WithinDuration(t, entry.ExpiresAt, info.ModTime(), time.Second)

	// No partial sibling remains.
	_, err = os.Stat(filename + PartSuffix)
	assert.True(t, os.IsNotExist(err))
}

func TestFetchCacheControlExtendsTTL(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_, _ = w.Write([]byte("B"))
	}))
	defer upstream.Close()

	filename := filepath.Join(t.TempDir(), "entry")
	f := testFetcher(FetcherConfig{MinTTL: time.Second})

	entry, err := f.Fetch(context.Background(), upstream.URL, filename)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, entry.ExpiresAt.Sub(entry.AccessedAt))
}

func TestFetchCacheControlBelowMinimum(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "max-age=1")
		_, _ = w.Write([]byte("B"))
	}))
	defer upstream.Close()

	filename := filepath.Join(t.TempDir(), "entry")
	f := testFetcher(FetcherConfig{MinTTL: 10 * time.Second})

	entry, err := f.Fetch(context.Background(), upstream.URL, filename)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, entry.ExpiresAt.Sub(entry.AccessedAt))
}

func TestFetchStatusError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer upstream.Close()

	filename := filepath.Join(t.TempDir(), "entry")
	f := testFetcher(FetcherConfig{MinTTL: time.Second})

	entry, err := f.Fetch(context.Background(), upstream.URL, filename)
	assert.Nil(t, entry)

	var uerr *UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, 404, uerr.Code)
	assert.Contains(t, err.Error(), "status code 404")
	assert.Contains(t, err.Error(), upstream.URL)

	requireNoLeftovers(t, filename)
}

func TestFetchUnsupportedMediaType(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer upstream.Close()

	filename := filepath.Join(t.TempDir(), "entry")
	f := testFetcher(FetcherConfig{
		MinTTL:     time.Second,
		MediaTypes: []string{"image/png", "image/jpeg"},
	})

	entry, err := f.Fetch(context.Background(), upstream.URL, filename)
	assert.Nil(t, entry)

	var uerr *UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, 415, uerr.Code)
	assert.Contains(t, err.Error(), "unsupported media-type text/html")

	requireNoLeftovers(t, filename)
}

func TestFetchAllowedMediaType(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
	}))
	defer upstream.Close()

	filename := filepath.Join(t.TempDir(), "entry")
	f := testFetcher(FetcherConfig{
		MinTTL:     time.Second,
		MediaTypes: []string{"image/png"},
	})

	_, err := f.Fetch(context.Background(), upstream.URL, filename)
	assert.NoError(t, err)
}

func TestFetchResponseTimeout(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		time.Sleep(500 * time.Millisecond)
		_, _ = w.Write([]byte("too late"))
	}))
	defer upstream.Close()

	filename := filepath.Join(t.TempDir(), "entry")
	f := testFetcher(FetcherConfig{
		MinTTL:          time.Second,
		ResponseTimeout: 100 * time.Millisecond,
	})

	entry, err := f.Fetch(context.Background(), upstream.URL, filename)
	assert.Nil(t, entry)

	var uerr *UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, 504, uerr.Code)
	assert.Contains(t, err.Error(), "response timeout of 100ms")

	requireNoLeftovers(t, filename)
}

func TestFetchConnectionRefused(t *testing.T) {
	// Start and immediately stop a server to obtain a dead address.
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := upstream.URL
	upstream.Close()

	filename := filepath.Join(t.TempDir(), "entry")
	f := testFetcher(FetcherConfig{MinTTL: time.Second})

	entry, err := f.Fetch(context.Background(), url, filename)
	assert.Nil(t, entry)

	var uerr *UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, 504, uerr.Code)
	assert.Contains(t, err.Error(), "Upstream "+url+" failed")

	requireNoLeftovers(t, filename)
}

func TestFetchBadURL(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "entry")
	f := testFetcher(FetcherConfig{MinTTL: time.Second})

	entry, err := f.Fetch(context.Background(), "://not-a-url", filename)
	assert.Nil(t, entry)

	var uerr *UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, 502, uerr.Code)

	requireNoLeftovers(t, filename)
}

func TestFetchOverwritesStaleEntry(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("fresh"))
	}))
	defer upstream.Close()

	filename := filepath.Join(t.TempDir(), "entry")
	seedEntry(t, filename, "stale", time.Now().Add(-48*time.Hour), time.Now().Add(-24*time.Hour))

	f := testFetcher(FetcherConfig{MinTTL: time.Minute})

	entry, err := f.Fetch(context.Background(), upstream.URL, filename)
	require.NoError(t, err)

	body, err := os.ReadFile(entry.Path)
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(body))

	info, err := os.Stat(entry.Path)
	require.NoError(t, err)
	assert.True(t, info.ModTime().After(time.Now()))
}

func TestFetchUpdateConfig(t *testing.T) {
	var seenAgent string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAgent = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte("B"))
	}))
	defer upstream.Close()

	dir := t.TempDir()
	f := testFetcher(FetcherConfig{UserAgent: "before", MinTTL: time.Second})

	_, err := f.Fetch(context.Background(), upstream.URL, filepath.Join(dir, "one"))
	require.NoError(t, err)
	assert.Equal(t, "before", seenAgent)

	cfg := f.Config()
	cfg.UserAgent = "after"
	f.UpdateConfig(cfg)

	_, err = f.Fetch(context.Background(), upstream.URL, filepath.Join(dir, "two"))
	require.NoError(t, err)
	assert.Equal(t, "after", seenAgent)
}
