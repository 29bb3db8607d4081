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

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/petraio/petra/pkg/cache"
)

// Configuration is the root configuration.
type Configuration struct {
	Cache *Cache `yaml:"cache"`

	API *API `yaml:"api"`
	Log *Log `yaml:"logging"`
}

// Validate validates the configuration.
func (c *Configuration) Validate() error {
	if c.Cache == nil {
		return nil
	}
	return c.Cache.Validate()
}

// Cache holds the cache configuration. Zero values select the library
// defaults.
type Cache struct {
	// Dir is the root of the on-disk cache.
	Dir string `yaml:"dir,omitempty"`

	// MinTTL is the floor on entry freshness, e.g. "168h".
	MinTTL string `yaml:"min_ttl,omitempty"`

	// PurgeStaleInterval is the period of the background stale sweep.
	PurgeStaleInterval string `yaml:"purge_stale_interval,omitempty"`

	// MediaTypes is the allow-list of upstream Content-Type values.
	MediaTypes []string `yaml:"media_types,omitempty"`

	// RequestTimeout bounds time to response headers.
	RequestTimeout string `yaml:"request_timeout,omitempty"`

	// ResponseTimeout bounds the body, measured from header receipt.
	ResponseTimeout string `yaml:"response_timeout,omitempty"`

	// UserAgent is sent upstream on every request.
	UserAgent string `yaml:"user_agent,omitempty"`

	// Hash selects the fingerprint function: "sha256" (default) or "xxhash".
	Hash string `yaml:"hash,omitempty"`
}

// Validate validates the cache config.
func (c *Cache) Validate() error {
	var errs []error
	for _, d := range []struct {
		name  string
		value string
	}{
		{"min_ttl", c.MinTTL},
		{"purge_stale_interval", c.PurgeStaleInterval},
		{"request_timeout", c.RequestTimeout},
		{"response_timeout", c.ResponseTimeout},
	} {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", d.name, err))
		}
	}
	if c.Hasher() == nil {
		errs = append(errs, fmt.Errorf("unknown hash %q", c.Hash))
	}
	return errors.Join(errs...)
}

// Hasher returns the configured fingerprint function, or nil if unknown.
func (c *Cache) Hasher() cache.Hasher {
	switch strings.ToLower(c.Hash) {
	case "", "sha256":
		return cache.SHA256Hasher
	case "xxhash":
		return cache.XXHasher
	}
	return nil
}

// Duration parses the named duration field, returning zero when unset.
// Call Validate first; parse errors collapse to zero here.
func Duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// API holds the admin API configuration.
type API struct {
	Port   int    `yaml:"port"`
	Prefix string `yaml:"prefix,omitempty"`
	ACL    string `yaml:"acl,omitempty"`
	Debug  bool   `yaml:"debug,omitempty"`
}

// GetPrefix returns the API prefix as specified
// in the configuration. Default prefix is '/api'.
func (a *API) GetPrefix() string {
	prefix := "/api"
	if len(a.Prefix) > 0 {
		prefix = a.Prefix
	}
	return prefix
}

// Log holds the logger configuration.
type Log struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
	Color  bool   `yaml:"color,omitempty"`

	File       string `yaml:"file,omitempty"`
	MaxSize    int    `yaml:"max_size,omitempty"`
	MaxAge     int    `yaml:"max_age,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	Compress   bool   `yaml:"compress,omitempty"`
}
