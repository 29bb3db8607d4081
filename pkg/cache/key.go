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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"

	xxhash "github.com/cespare/xxhash/v2"
)

// Hasher maps a request URL to its cache fingerprint. The URL is hashed
// verbatim: two URLs differing in casing, default ports, or query-parameter
// order produce distinct fingerprints.
type Hasher func(url string) string

// SHA256Hasher is the default Hasher. It produces a 64-character lowercase
// hex digest that is consistent across restarts, architectures, builds, and
// configurations.
func SHA256Hasher(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// XXHasher is an alternative Hasher producing a 16-character hex digest.
// Faster than SHA256Hasher, at the cost of a larger collision surface;
// suitable for caches keyed by a bounded URL population.
func XXHasher(url string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(url))
}

// Keyer derives on-disk locations from request URLs. Entries live at
// {dir}/{fp[0:2]}/{fp}, where the two-character shard prefix keeps any one
// directory from growing unbounded.
type Keyer struct {
	dir  string
	hash Hasher
}

// NewKeyer creates a Keyer rooted at dir. A nil hash selects SHA256Hasher.
func NewKeyer(dir string, hash Hasher) *Keyer {
	if hash == nil {
		hash = SHA256Hasher
	}
	return &Keyer{dir: dir, hash: hash}
}

// Fingerprint returns the cache fingerprint for url.
func (k *Keyer) Fingerprint(url string) string {
	return k.hash(url)
}

// ShardDir returns the shard directory holding the entry for fingerprint fp.
func (k *Keyer) ShardDir(fp string) string {
	return filepath.Join(k.dir, fp[0:2])
}

// Filename returns the canonical path of the entry for fingerprint fp.
func (k *Keyer) Filename(fp string) string {
	return filepath.Join(k.dir, fp[0:2], fp)
}
