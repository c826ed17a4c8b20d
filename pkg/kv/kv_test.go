/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package kv

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recsync/recsync/pkg/logger"
)

func newStore(t *testing.T, dir string) *FileStore {
	t.Helper()

	s, err := NewFileStore(dir, logger.NewTestLogger())
	require.NoError(t, err)

	return s
}

func TestFileStorePutGetDelete(t *testing.T) {
	s := newStore(t, t.TempDir())
	defer func() { _ = s.Close() }()

	ctx := context.Background()

	_, found, err := s.Get(ctx, "devices.cam-1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Put(ctx, "devices.cam-1", []byte(`{"state":"connected"}`)))

	value, found, err := s.Get(ctx, "devices.cam-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"state":"connected"}`, string(value))

	require.NoError(t, s.Delete(ctx, "devices.cam-1"))

	_, found, err = s.Get(ctx, "devices.cam-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFileStoreKeysByPrefix(t *testing.T) {
	s := newStore(t, t.TempDir())
	defer func() { _ = s.Close() }()

	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "devices.cam-1", []byte("a")))
	require.NoError(t, s.Put(ctx, "devices.cam-2", []byte("b")))
	require.NoError(t, s.Put(ctx, "calibration.active", []byte("c")))

	keys, err := s.Keys(ctx, "devices.")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"devices.cam-1", "devices.cam-2"}, keys)

	all, err := s.Keys(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := newStore(t, dir)
	require.NoError(t, s.Put(ctx, "devices.cam-1", []byte("one")))
	require.NoError(t, s.Put(ctx, "devices.cam-2", []byte("two")))
	require.NoError(t, s.Delete(ctx, "devices.cam-2"))
	require.NoError(t, s.Close())

	reopened := newStore(t, dir)
	defer func() { _ = reopened.Close() }()

	value, found, err := reopened.Get(ctx, "devices.cam-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("one"), value)

	_, found, err = reopened.Get(ctx, "devices.cam-2")
	require.NoError(t, err)
	assert.False(t, found, "deletes must survive reopen")
}

func TestFileStoreCompaction(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := newStore(t, dir)
	s.compactAfter = 10

	for i := 0; i < 25; i++ {
		key := fmt.Sprintf("devices.cam-%d", i%3)
		require.NoError(t, s.Put(ctx, key, []byte(fmt.Sprintf("v%d", i))))
	}

	// Past the threshold the journal has been folded into the snapshot.
	assert.Less(t, s.journalLen, 10, "journal should have been compacted")

	snapshot, err := os.ReadFile(filepath.Join(dir, snapshotFile))
	require.NoError(t, err)
	assert.NotEmpty(t, snapshot)

	require.NoError(t, s.Close())

	reopened := newStore(t, dir)
	defer func() { _ = reopened.Close() }()

	value, found, err := reopened.Get(ctx, "devices.cam-0")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v24"), value)
}

func TestFileStoreSkipsTornJournalLine(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := newStore(t, dir)
	require.NoError(t, s.Put(ctx, "devices.cam-1", []byte("committed")))
	require.NoError(t, s.Close())

	// Simulate a crash mid-append: a truncated trailing record.
	journalPath := filepath.Join(dir, journalFile)

	f, err := os.OpenFile(journalPath, os.O_WRONLY|os.O_APPEND, 0o600)
	require.NoError(t, err)

	_, err = f.WriteString(`{"op":"put","key":"devices.cam-2","val`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened := newStore(t, dir)
	defer func() { _ = reopened.Close() }()

	// The committed write survives; the torn one is ignored.
	_, found, err := reopened.Get(ctx, "devices.cam-1")
	require.NoError(t, err)
	assert.True(t, found)

	_, found, err = reopened.Get(ctx, "devices.cam-2")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFileStoreClosed(t *testing.T) {
	s := newStore(t, t.TempDir())
	require.NoError(t, s.Close())

	ctx := context.Background()

	require.ErrorIs(t, s.Put(ctx, "k", []byte("v")), ErrStoreClosed)

	_, _, err := s.Get(ctx, "k")
	require.ErrorIs(t, err, ErrStoreClosed)
}

func TestFileStoreRequiresDir(t *testing.T) {
	_, err := NewFileStore("", logger.NewTestLogger())
	require.ErrorIs(t, err, errPathRequired)
}

func TestNatsConfigValidate(t *testing.T) {
	cfg := &NatsConfig{}
	require.ErrorIs(t, cfg.Validate(), errNatsURLRequired)

	cfg.URL = "nats://127.0.0.1:4222"
	require.ErrorIs(t, cfg.Validate(), errBucketRequired)

	cfg.Bucket = "recsync"
	require.NoError(t, cfg.Validate())
}
