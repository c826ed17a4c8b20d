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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/recsync/recsync/pkg/logger"
)

const (
	snapshotFile = "snapshot.json"
	journalFile  = "journal.log"

	// defaultCompactAfter is the number of journal entries that triggers a
	// compaction into the snapshot file.
	defaultCompactAfter = 256
)

const (
	opPut    = "put"
	opDelete = "delete"
)

// journalEntry is one appended transition record. Values are base64 in the
// JSON encoding, one entry per line.
type journalEntry struct {
	Op    string `json:"op"`
	Key   string `json:"key"`
	Value []byte `json:"value,omitempty"`
}

// FileStore is a file-backed Store using an append-then-compact journal.
// Every write appends a transition record and fsyncs before returning; the
// compacted snapshot is only ever replaced by an atomic rename, so a crash
// mid-write leaves the previously committed state intact.
type FileStore struct {
	mu           sync.RWMutex
	dir          string
	data         map[string][]byte
	journal      *os.File
	journalLen   int
	compactAfter int
	closed       bool
	logger       logger.Logger
}

// NewFileStore opens (or creates) a store rooted at dir.
func NewFileStore(dir string, log logger.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, errPathRequired
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	s := &FileStore{
		dir:          dir,
		data:         make(map[string][]byte),
		compactAfter: defaultCompactAfter,
		logger:       log,
	}

	if err := s.loadSnapshot(); err != nil {
		return nil, err
	}

	if err := s.replayJournal(); err != nil {
		return nil, err
	}

	journal, err := os.OpenFile(filepath.Join(dir, journalFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	s.journal = journal

	return s, nil
}

func (s *FileStore) loadSnapshot() error {
	data, err := os.ReadFile(filepath.Join(s.dir, snapshotFile))
	if os.IsNotExist(err) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}

	if err := json.Unmarshal(data, &s.data); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	return nil
}

// replayJournal applies journal entries on top of the snapshot. A torn final
// line (crash mid-append) is skipped rather than treated as corruption.
func (s *FileStore) replayJournal() error {
	f, err := os.Open(filepath.Join(s.dir, journalFile))
	if os.IsNotExist(err) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}

	defer func() {
		_ = f.Close()
	}()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry journalEntry

		if err := json.Unmarshal(line, &entry); err != nil {
			if s.logger != nil {
				s.logger.Warn().Err(err).Msg("Skipping torn journal entry")
			}

			continue
		}

		s.applyEntry(&entry)
		s.journalLen++
	}

	return scanner.Err()
}

func (s *FileStore) applyEntry(entry *journalEntry) {
	switch entry.Op {
	case opPut:
		s.data[entry.Key] = entry.Value
	case opDelete:
		delete(s.data, entry.Key)
	}
}

// Get implements Store.
func (s *FileStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, false, ErrStoreClosed
	}

	value, found := s.data[key]
	if !found {
		return nil, false, nil
	}

	out := make([]byte, len(value))
	copy(out, value)

	return out, true, nil
}

// Put implements Store.
func (s *FileStore) Put(ctx context.Context, key string, value []byte) error {
	return s.append(ctx, &journalEntry{Op: opPut, Key: key, Value: value})
}

// Delete implements Store.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	return s.append(ctx, &journalEntry{Op: opDelete, Key: key})
}

func (s *FileStore) append(ctx context.Context, entry *journalEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode journal entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.journal.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append journal entry: %w", err)
	}

	if err := s.journal.Sync(); err != nil {
		return fmt.Errorf("failed to sync journal: %w", err)
	}

	s.applyEntry(entry)
	s.journalLen++

	if s.journalLen >= s.compactAfter {
		if err := s.compactLocked(); err != nil {
			// The journal already holds the committed write; compaction can
			// be retried on the next append.
			if s.logger != nil {
				s.logger.Warn().Err(err).Msg("Journal compaction failed")
			}
		}
	}

	return nil
}

// compactLocked writes the full map to a temp snapshot, renames it into
// place, then truncates the journal. Caller holds s.mu.
func (s *FileStore) compactLocked() error {
	data, err := json.Marshal(s.data)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	tmpPath := filepath.Join(s.dir, snapshotFile+".tmp")

	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create snapshot temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, filepath.Join(s.dir, snapshotFile)); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}

	if err := s.journal.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate journal: %w", err)
	}

	if _, err := s.journal.Seek(0, 0); err != nil {
		return fmt.Errorf("failed to rewind journal: %w", err)
	}

	s.journalLen = 0

	return nil
}

// Keys implements Store.
func (s *FileStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	keys := make([]string, 0, len(s.data))

	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}

	return keys, nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	if err := s.journal.Sync(); err != nil {
		_ = s.journal.Close()
		return fmt.Errorf("failed to sync journal on close: %w", err)
	}

	return s.journal.Close()
}

var _ Store = (*FileStore)(nil)
