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
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/petraio/petra/pkg/utils/clock"
	"github.com/rs/zerolog/log"
)

// staleGrace is how long past its expiry an entry must be before the purger
// removes it. The modification time is the expiry instant, so anything this
// far in the past has been stale at least that long; readers already treat
// it as a miss, the sweep only reclaims disk.
const staleGrace = 24 * time.Hour

// Purger periodically removes long-expired entries from the cache tree.
// Each unlink happens under the entry's file lock, so a sweep never races
// an in-flight fetch for the same path.
type Purger struct {
	dir      string
	locker   *FileLocker
	interval time.Duration
	clock    clock.TimeSource

	// onSweep, if set, observes the number of files removed per sweep.
	onSweep func(removed int)

	stop sync.Once
	done chan struct{}
}

// NewPurger creates a Purger sweeping dir every interval.
func NewPurger(dir string, locker *FileLocker, interval time.Duration, ts clock.TimeSource) *Purger {
	if ts == nil {
		ts = clock.NewSystemTimeSource()
	}
	return &Purger{
		dir:      dir,
		locker:   locker,
		interval: interval,
		clock:    ts,
		done:     make(chan struct{}),
	}
}

// OnSweep registers an observer invoked after each sweep with the number of
// files removed. Must be called before Start.
func (p *Purger) OnSweep(fn func(removed int)) {
	p.onSweep = fn
}

// Start launches the periodic sweep.
func (p *Purger) Start() {
	go func() {
		tick := time.NewTicker(p.interval)
		defer tick.Stop()
		for {
			select {
			case <-p.done:
				return
			case <-tick.C:
			}

			removed := p.Sweep()
			if p.onSweep != nil {
				p.onSweep(removed)
			}
		}
	}()
}

// Stop halts the periodic sweep.
func (p *Purger) Stop() {
	p.stop.Do(func() {
		close(p.done)
	})
}

// Sweep walks the cache tree once and unlinks every regular file whose
// expiry lies more than a day in the past, returning the number of files
// removed. Files with foreign names and vanished directories are tolerated.
func (p *Purger) Sweep() int {
	cutoff := p.clock.Now().Add(-staleGrace)

	removed := 0
	err := filepath.WalkDir(p.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// The tree may mutate under the walk; skip what vanished.
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}

		p.locker.Lock(path)
		if err := os.Remove(path); err == nil {
			removed++
		}
		p.locker.Unlock(path)
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("dir", p.dir).Msg("Error sweeping cache directory")
	}

	if removed > 0 {
		log.Debug().Int("removed", removed).Str("dir", p.dir).Msg("Purged stale cache entries")
	}
	return removed
}
