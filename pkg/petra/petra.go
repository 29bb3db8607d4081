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

// Package petra is an embeddable, filesystem-backed, reverse HTTP cache.
// A host application hands it a remote URL and receives the path of a local
// file holding that URL's response body, together with the instants the
// entry was created and will expire. Misses are fetched from upstream once
// per key, however many callers ask concurrently; the filesystem is the
// only store.
package petra

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/petraio/petra/pkg/cache"
	"github.com/petraio/petra/pkg/utils/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// DefaultUserAgent is sent upstream when no user agent is configured.
const DefaultUserAgent = "petraio/petra"

// recentOps bounds the ring of recent operations kept for the debug API.
const recentOps = 128

// Options configure a Petra instance. The zero value of each field selects
// its default.
type Options struct {
	// Dir is the root of the on-disk cache.
	// Defaults to {os temp dir}/petra.
	Dir string

	// MinTTL is the floor on entry freshness. Defaults to 7 days.
	MinTTL time.Duration

	// PurgeStaleInterval is the period of the background stale sweep.
	// Defaults to 1 hour.
	PurgeStaleInterval time.Duration

	// MediaTypes is an allow-list of upstream Content-Type values.
	// Empty means no filtering.
	MediaTypes []string

	// RequestTimeout is the deadline to obtain response headers from
	// upstream. Defaults to 10 seconds.
	RequestTimeout time.Duration

	// ResponseTimeout is the deadline, measured from header receipt, for
	// the body to complete. Defaults to 10 seconds; a negative value
	// disables the body deadline.
	ResponseTimeout time.Duration

	// UserAgent is sent upstream on every request.
	UserAgent string

	// Hash maps a URL to its cache fingerprint. Defaults to SHA-256 hex.
	Hash cache.Hasher

	// Clock provides the current time. Defaults to the system clock.
	Clock clock.TimeSource

	// Registerer receives the cache metrics.
	// Defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// setDefaults fills unset options.
func (o *Options) setDefaults() {
	if o.Dir == "" {
		o.Dir = filepath.Join(os.TempDir(), "petra")
	}
	if o.MinTTL == 0 {
		o.MinTTL = 7 * 24 * time.Hour
	}
	if o.PurgeStaleInterval == 0 {
		o.PurgeStaleInterval = time.Hour
	}
	if o.RequestTimeout == 0 {
		o.RequestTimeout = 10 * time.Second
	}
	switch {
	case o.ResponseTimeout == 0:
		o.ResponseTimeout = 10 * time.Second
	case o.ResponseTimeout < 0:
		o.ResponseTimeout = 0
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.Hash == nil {
		o.Hash = cache.SHA256Hasher
	}
	if o.Clock == nil {
		o.Clock = clock.NewSystemTimeSource()
	}
	if o.Registerer == nil {
		o.Registerer = prometheus.DefaultRegisterer
	}
}

// Operation records the outcome of a fetch or purge for the debug API.
type Operation struct {
	URL     string    `json:"url"`
	Kind    string    `json:"kind"`
	Outcome string    `json:"outcome"`
	Code    int       `json:"code,omitempty"`
	Path    string    `json:"path,omitempty"`
	At      time.Time `json:"at"`
}

// Stats describes the on-disk cache tree.
type Stats struct {
	Entries int   `json:"entries"`
	Bytes   int64 `json:"bytes"`
}

// Petra is the root data structure for Petra.
type Petra struct {
	opts Options

	cache   *cache.FileCache
	fetcher *cache.Fetcher
	purger  *cache.Purger
	metrics *Metrics
	recent  *lru.Cache[string, Operation]
}

// New makes a new Petra. It applies defaults, prepares the cache directory,
// and starts the background purger. An unusable cache directory is the only
// construction failure.
func New(opts Options) (*Petra, error) {
	opts.setDefaults()

	p := &Petra{opts: opts}

	if err := p.setupModules(); err != nil {
		return nil, err
	}

	p.purger.Start()
	return p, nil
}

// setupModules initializes the modules.
func (p *Petra) setupModules() error {
	type initFn func() error
	modules := [...]struct {
		Name string
		Init initFn
	}{
		{"CacheDir", p.initCacheDir},
		{"Metrics", p.initMetrics},
		{"Fetcher", p.initFetcher},
		{"Cache", p.initCache},
		{"Purger", p.initPurger},
	}

	for _, m := range modules {
		log.Debug().Msgf("Initializing %s", m.Name)
		if err := m.Init(); err != nil {
			return err
		}
	}

	return nil
}

// initCacheDir creates the cache directory and verifies read and write
// access to it.
func (p *Petra) initCacheDir() error {
	dir := p.opts.Dir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating cache directory %s: %w", dir, err)
	}
	probe, err := os.CreateTemp(dir, ".petra-access-*")
	if err != nil {
		return fmt.Errorf("cache directory %s is not writable: %w", dir, err)
	}
	probe.Close()
	os.Remove(probe.Name())
	if _, err := os.ReadDir(dir); err != nil {
		return fmt.Errorf("cache directory %s is not readable: %w", dir, err)
	}
	return nil
}

// initMetrics initializes and registers the cache metrics.
func (p *Petra) initMetrics() error {
	p.metrics = NewMetrics(p.opts.Registerer)

	recent, err := lru.New[string, Operation](recentOps)
	if err != nil {
		return err
	}
	p.recent = recent
	return nil
}

// initFetcher initializes the upstream fetcher.
func (p *Petra) initFetcher() error {
	p.fetcher = cache.NewFetcher(cache.FetcherConfig{
		UserAgent:       p.opts.UserAgent,
		MediaTypes:      p.opts.MediaTypes,
		MinTTL:          p.opts.MinTTL,
		RequestTimeout:  p.opts.RequestTimeout,
		ResponseTimeout: p.opts.ResponseTimeout,
	}, p.opts.Clock)
	return nil
}

// initCache initializes the file cache.
func (p *Petra) initCache() error {
	p.cache = cache.NewFileCache(p.opts.Dir, p.opts.Hash, p.fetcher, p.opts.Clock)
	return nil
}

// initPurger initializes the background purger.
func (p *Petra) initPurger() error {
	p.purger = cache.NewPurger(p.opts.Dir, p.cache.Locker(), p.opts.PurgeStaleInterval, p.opts.Clock)
	p.purger.OnSweep(func(removed int) {
		p.metrics.purged.Add(float64(removed))
	})
	return nil
}

// Stop halts the background purger. Fetch and Purge remain usable.
func (p *Petra) Stop() {
	p.purger.Stop()
}

// Fetch resolves url to a local cache entry, fetching from upstream on
// miss. On failure the error is an *cache.UpstreamError for upstream and
// transport faults, carrying the numeric classification.
func (p *Petra) Fetch(ctx context.Context, url string) (*cache.Entry, error) {
	start := p.opts.Clock.Now()
	p.metrics.inflight.Inc()
	defer p.metrics.inflight.Dec()

	entry, hit, err := p.cache.Fetch(ctx, url)

	outcome := outcomeMiss
	code := 0
	switch {
	case err != nil:
		outcome = outcomeError
		code = http.StatusBadGateway
		var uerr *cache.UpstreamError
		if errors.As(err, &uerr) {
			code = uerr.Code
		}
		p.metrics.upstreamErrors.WithLabelValues(strconv.Itoa(code)).Inc()
	case hit:
		outcome = outcomeHit
	}
	p.metrics.fetches.WithLabelValues(outcome).Inc()
	p.metrics.fetchDuration.WithLabelValues(outcome).Observe(p.opts.Clock.Since(start).Seconds())

	op := Operation{URL: url, Kind: "fetch", Outcome: outcome, Code: code, At: start}
	if entry != nil {
		op.Path = entry.Path
	}
	p.recent.Add(url, op)

	return entry, err
}

// Purge removes the cached entry for url. Missing entries are silent
// successes.
func (p *Petra) Purge(ctx context.Context, url string) {
	p.cache.Purge(ctx, url)
	p.metrics.purges.Inc()
	p.recent.Add(url, Operation{URL: url, Kind: "purge", Outcome: "ok", At: p.opts.Clock.Now()})
}

// Stats walks the cache tree and reports entry count and total size.
// In-flight partial files are not counted.
func (p *Petra) Stats() Stats {
	var s Stats
	_ = filepath.WalkDir(p.opts.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return nil
		}
		if filepath.Ext(path) == cache.PartSuffix {
			return nil
		}
		if info, err := d.Info(); err == nil {
			s.Entries++
			s.Bytes += info.Size()
		}
		return nil
	})
	return s
}

// Recent returns the recorded recent operations, least recent first.
func (p *Petra) Recent() []Operation {
	return p.recent.Values()
}

// Sweep runs one purger pass immediately, returning the number of files
// removed.
func (p *Petra) Sweep() int {
	removed := p.purger.Sweep()
	p.metrics.purged.Add(float64(removed))
	return removed
}

// UpdateConfig applies the runtime-adjustable options to subsequent
// fetches. Transport deadlines stay as fixed at construction.
func (p *Petra) UpdateConfig(minTTL time.Duration, mediaTypes []string, userAgent string) {
	cfg := p.fetcher.Config()
	if minTTL > 0 {
		cfg.MinTTL = minTTL
	}
	if userAgent != "" {
		cfg.UserAgent = userAgent
	}
	cfg.MediaTypes = mediaTypes
	p.fetcher.UpdateConfig(cfg)
	log.Info().Msg("Cache config updated")
}
