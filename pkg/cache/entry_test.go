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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedEntry writes a cache file with the given body and timestamps.
func seedEntry(t *testing.T, path string, body string, atime, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	require.NoError(t, os.Chtimes(path, atime, mtime))
}

func TestProbeMissCreatesShardDir(t *testing.T) {
	dir := t.TempDir()
	shard := filepath.Join(dir, "ab")
	filename := filepath.Join(shard, "abcdef")

	status, entry := Probe(shard, filename, time.Now())

	assert.Equal(t, EntryInvalid, status)
	assert.Nil(t, entry)

	// The shard directory is prepared for the upstream fetch.
	info, err := os.Stat(shard)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// Probing again with the directory in place is fine.
	status, _ = Probe(shard, filename, time.Now())
	assert.Equal(t, EntryInvalid, status)
}

func TestProbeHit(t *testing.T) {
	dir := t.TempDir()
	shard := filepath.Join(dir, "ab")
	filename := filepath.Join(shard, "abcdef")

	atime := time.Now().Add(-time.Minute)
	mtime := time.Now().Add(10 * time.Second)
	seedEntry(t, filename, "body", atime, mtime)

	status, entry := Probe(shard, filename, time.Now())

	require.Equal(t, EntryOk, status)
	require.NotNil(t, entry)
	assert.Equal(t, filename, entry.Path)
	assert.WithinDuration(t, mtime, entry.ExpiresAt, time.Second)
	assert.WithinDuration(t, atime, entry.AccessedAt, time.Second)
}

func TestProbeExpired(t *testing.T) {
	dir := t.TempDir()
	shard := filepath.Join(dir, "ab")
	filename := filepath.Join(shard, "abcdef")

	// An entry whose expiry has passed is a miss; it is not unlinked.
	seedEntry(t, filename, "body", time.Now().Add(-time.Hour), time.Unix(0, int64(time.Millisecond)))

	status, _ := Probe(shard, filename, time.Now())
	assert.Equal(t, EntryInvalid, status)

	_, err := os.Stat(filename)
	assert.NoError(t, err)
}

func TestProbeEmptyFile(t *testing.T) {
	dir := t.TempDir()
	shard := filepath.Join(dir, "ab")
	filename := filepath.Join(shard, "abcdef")

	seedEntry(t, filename, "", time.Now(), time.Now().Add(time.Hour))

	status, _ := Probe(shard, filename, time.Now())
	assert.Equal(t, EntryInvalid, status)
}

func TestProbeWrongType(t *testing.T) {
	dir := t.TempDir()
	shard := filepath.Join(dir, "ab")
	filename := filepath.Join(shard, "abcdef")

	require.NoError(t, os.MkdirAll(filename, 0o755))

	status, _ := Probe(shard, filename, time.Now())
	assert.Equal(t, EntryInvalid, status)
}

func TestEntryStatusString(t *testing.T) {
	assert.Equal(t, "EntryOk", EntryOk.String())
	assert.Equal(t, "EntryInvalid", EntryInvalid.String())
	assert.Contains(t, EntryStatus(42).String(), "Unknown")
}
