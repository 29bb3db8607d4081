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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

// EntryStatus is the state of a cached entry as decided by Probe.
type EntryStatus int

const (
	// EntryInvalid indicates that no usable entry exists on disk (cache miss).
	// A stale or malformed file is treated as missing for read purposes and
	// eventually swept by the purger.
	EntryInvalid EntryStatus = iota

	// EntryOk indicates a fresh entry that can be served (cache hit).
	EntryOk
)

// String returns the entry status as a string.
func (s EntryStatus) String() string {
	switch s {
	case EntryOk:
		return "EntryOk"
	case EntryInvalid:
		return "EntryInvalid"
	default:
		return fmt.Sprintf("Unknown state: %d", int(s))
	}
}

// Entry describes a materialized cache entry. The file's modification time
// encodes the instant the entry becomes stale; its access time encodes the
// instant it was created. No other metadata is stored alongside the body.
type Entry struct {
	// Path is the canonical location of the entry body.
	Path string

	// AccessedAt is the instant the entry was created.
	AccessedAt time.Time

	// ExpiresAt is the instant the entry becomes stale.
	ExpiresAt time.Time
}

// Probe decides hit or miss for the entry at filename. An entry is a hit
// iff it exists, is a regular file, has size > 0, and its modification time
// is strictly in the future. On a miss caused by nonexistence, the shard
// directory is prepared so a subsequent upstream fetch can write into it.
// Stat failures other than nonexistence are logged and reported as a miss;
// the upstream fetch that follows will produce a more actionable error.
//
// Probe never unlinks stale files; that is the purger's job.
func Probe(shardDir, filename string, now time.Time) (EntryStatus, *Entry) {
	info, err := os.Stat(filename)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if err := os.MkdirAll(shardDir, 0o755); err != nil {
				log.Warn().Err(err).Str("dir", shardDir).Msg("Error creating shard directory")
			}
			return EntryInvalid, nil
		}
		log.Warn().Err(err).Str("file", filename).Msg("Error reading cache entry metadata")
		return EntryInvalid, nil
	}

	if info.Mode().IsRegular() && info.Size() > 0 && info.ModTime().After(now) {
		return EntryOk, &Entry{
			Path:       filename,
			AccessedAt: atimeOf(info),
			ExpiresAt:  info.ModTime(),
		}
	}

	log.Debug().Str("file", filename).Int64("size", info.Size()).
		Time("expires", info.ModTime()).Msg("Cache entry present but not usable")
	return EntryInvalid, nil
}
