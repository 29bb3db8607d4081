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
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/petraio/petra/pkg/utils/clock"
	"github.com/rs/zerolog/log"
)

// PartSuffix is appended to the canonical path while the upstream body is
// being streamed. The sibling shares a directory with the final name so the
// publishing rename stays atomic.
const PartSuffix = ".part"

// UpstreamError classifies a failed upstream fetch. Code carries either the
// upstream HTTP status, 415 for a rejected media type, 504 for timeouts and
// refused connections, or 502 for any other transport failure.
type UpstreamError struct {
	Code   int
	URL    string
	Reason string
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("Upstream %s failed: %s", e.URL, e.Reason)
}

// FetcherConfig holds the upstream fetch configuration.
type FetcherConfig struct {
	// UserAgent is sent upstream on every request.
	UserAgent string

	// MediaTypes is an allow-list of upstream Content-Type values.
	// Empty means no filtering.
	MediaTypes []string

	// MinTTL is the floor on entry freshness. The effective TTL is
	// max(MinTTL, Cache-Control lifetime).
	MinTTL time.Duration

	// RequestTimeout is the deadline to obtain response headers.
	RequestTimeout time.Duration

	// ResponseTimeout is the deadline, measured from header receipt, for
	// the body to complete. Zero disables the body deadline.
	ResponseTimeout time.Duration
}

// Fetcher streams upstream response bodies into cache entries.
//
// A fetch runs through connect, header validation, body streaming into a
// temporary sibling, and atomic publication. The response-body deadline is
// distinct from the header deadline: the header deadline bounds time to
// first byte, while the body timer, armed only after validation, keeps a
// slow-drip body from holding the entry's lock indefinitely.
type Fetcher struct {
	client *http.Client
	config atomic.Pointer[FetcherConfig]
	clock  clock.TimeSource
}

// NewFetcher creates a Fetcher. The transport's dial and response-header
// deadlines are fixed at construction from cfg.RequestTimeout; the remaining
// configuration can be swapped at runtime via UpdateConfig.
func NewFetcher(cfg FetcherConfig, ts clock.TimeSource) *Fetcher {
	if ts == nil {
		ts = clock.NewSystemTimeSource()
	}
	f := &Fetcher{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout: cfg.RequestTimeout,
				}).DialContext,
				TLSHandshakeTimeout:   cfg.RequestTimeout,
				ResponseHeaderTimeout: cfg.RequestTimeout,
			},
		},
		clock: ts,
	}
	f.config.Store(&cfg)
	return f
}

// Config returns the current fetcher configuration.
func (f *Fetcher) Config() FetcherConfig {
	return *f.config.Load()
}

// UpdateConfig swaps the runtime-adjustable configuration. Transport
// deadlines remain as fixed at construction.
func (f *Fetcher) UpdateConfig(cfg FetcherConfig) {
	f.config.Store(&cfg)
}

// Fetch issues a GET for url and materializes the response body at filename.
// On success the returned entry carries the creation and expiry instants
// just stamped onto the file. On failure no file remains at filename's
// temporary sibling, and the error is an *UpstreamError for upstream and
// transport faults or a plain error for local finalization faults.
func (f *Fetcher) Fetch(ctx context.Context, url, filename string) (*Entry, error) {
	cfg := f.config.Load()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &UpstreamError{Code: http.StatusBadGateway, URL: url, Reason: err.Error()}
	}
	req.Header.Set("User-Agent", cfg.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, transportError(url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{
			Code:   resp.StatusCode,
			URL:    url,
			Reason: fmt.Sprintf("status code %d", resp.StatusCode),
		}
	}

	if len(cfg.MediaTypes) > 0 {
		mediaType := resp.Header.Get("Content-Type")
		if !contains(cfg.MediaTypes, mediaType) {
			return nil, &UpstreamError{
				Code:   http.StatusUnsupportedMediaType,
				URL:    url,
				Reason: fmt.Sprintf("unsupported media-type %s", mediaType),
			}
		}
	}

	// Arm the body deadline. The timer aborts the in-flight request through
	// the request context; timedOut distinguishes that abort from other
	// transport faults surfacing out of the body read.
	var timedOut atomic.Bool
	if d := cfg.ResponseTimeout; d > 0 {
		timer := time.AfterFunc(d, func() {
			timedOut.Store(true)
			cancel()
		})
		defer timer.Stop()
	}

	part := filename + PartSuffix
	if err := streamToFile(resp.Body, part); err != nil {
		if rmErr := os.Remove(part); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.Debug().Err(rmErr).Str("file", part).Msg("Error removing partial cache entry")
		}
		if timedOut.Load() {
			return nil, &UpstreamError{
				Code:   http.StatusGatewayTimeout,
				URL:    url,
				Reason: fmt.Sprintf("response timeout of %dms", cfg.ResponseTimeout.Milliseconds()),
			}
		}
		return nil, transportError(url, err)
	}

	if err := os.Rename(part, filename); err != nil {
		if rmErr := os.Remove(part); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.Debug().Err(rmErr).Str("file", part).Msg("Error removing partial cache entry")
		}
		return nil, fmt.Errorf("publishing cache entry %s: %w", filename, err)
	}

	ttl := cfg.MinTTL
	if parsed := TTLFromCacheControl(resp.Header.Get("Cache-Control")); parsed > ttl {
		ttl = parsed
	}

	accessedAt := f.clock.Now()
	expiresAt := accessedAt.Add(ttl)
	if err := os.Chtimes(filename, accessedAt, expiresAt); err != nil {
		return nil, fmt.Errorf("stamping cache entry %s: %w", filename, err)
	}

	log.Debug().Str("url", url).Str("file", filename).
		Dur("ttl", ttl).Msg("Upstream response cached")

	return &Entry{Path: filename, AccessedAt: accessedAt, ExpiresAt: expiresAt}, nil
}

// streamToFile pipes the response body into path, leaving a complete copy or
// returning an error.
func streamToFile(body io.Reader, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(file, body); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// transportError maps a transport-level failure, where no usable HTTP
// response was obtained, onto the error taxonomy: refused connections and
// timeouts surface as 504, everything else as 502.
func transportError(url string, err error) *UpstreamError {
	code := http.StatusBadGateway
	if isTimeout(err) {
		code = http.StatusGatewayTimeout
	}
	return &UpstreamError{Code: code, URL: url, Reason: err.Error()}
}

// isTimeout reports whether err denotes a refused connection or an elapsed
// deadline of any flavor.
func isTimeout(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// contains reports whether list holds value.
func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
