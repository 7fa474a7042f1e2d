// Copyright 2026 The Bastion Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package audit

import (
	"bufio"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// JSONLSink is an append-only JSONL audit sink with hash chaining.
// Files are named bastion-YYYY-MM-DD.jsonl and rotate on day change or
// when the configured size limit is reached.
type JSONLSink struct {
	mu sync.Mutex

	dir         string
	file        *os.File
	currentFile string
	currentSize int64
	lastHash    string
	fsync       bool
	rotateSize  int64
	rotateSeq   int
	closed      bool
	logger      *slog.Logger
}

// NewJSONLSink creates a JSONL-backed audit sink in dir. The hash chain
// resumes from the last event of the newest existing log file, so restarts
// do not break chain verification.
func NewJSONLSink(dir string, opts ...SinkOption) (*JSONLSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("audit: sink dir is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("audit: create sink dir: %w", err)
	}

	cfg := defaultSinkConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	sink := &JSONLSink{
		dir:        dir,
		fsync:      cfg.fsync,
		rotateSize: cfg.rotateSize,
		logger:     logger,
	}

	if last, name, ok := latestChainHash(dir); ok {
		sink.lastHash = last
		// Keep appending to the newest rotated file of the current day
		// rather than reopening the day's base file.
		if logFileStem(name) == strings.TrimSuffix(sink.baseFilename(), ".jsonl") {
			sink.rotateSeq = logFileSeq(name)
		}
		logger.Info("audit: resumed hash chain", "hash", last, "file", name)
	}

	if err := sink.openCurrentLocked(); err != nil {
		return nil, err
	}
	return sink, nil
}

// NewEventID returns a new ULID event identifier.
func NewEventID() string {
	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), rand.Reader)
	if err == nil {
		return id.String()
	}

	slog.Error("audit: generate event id", "error", err)
	return ulid.Make().String()
}

// Write appends a single event to the JSONL audit trail.
func (s *JSONLSink) Write(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("audit: write on closed sink")
	}
	if event.ID == "" {
		event.ID = NewEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	event.PrevHash = s.lastHash
	if err := event.ComputeHash(); err != nil {
		return fmt.Errorf("audit: compute hash: %w", err)
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: marshal event: %w", err)
	}
	line = append(line, '\n')

	if s.needsRotateLocked(len(line)) {
		if err := s.rotateLocked(); err != nil {
			return err
		}
	}
	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("audit: write event: %w", err)
	}
	s.currentSize += int64(len(line))

	if s.fsync {
		if err := s.file.Sync(); err != nil {
			return fmt.Errorf("audit: fsync event: %w", err)
		}
	}

	s.lastHash = event.Hash

	s.logger.Debug("audit: wrote event",
		"event_id", event.ID,
		"file", s.currentFile,
	)

	return nil
}

// Flush flushes pending data to disk.
func (s *JSONLSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.file == nil {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("audit: flush sink: %w", err)
	}
	return nil
}

// Close flushes and closes the sink.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.file == nil {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("audit: close sync: %w", err)
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("audit: close sink file: %w", err)
	}
	s.file = nil
	return nil
}

// Path returns the current JSONL file path.
func (s *JSONLSink) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filepath.Join(s.dir, s.currentFile)
}

func (s *JSONLSink) needsRotateLocked(incoming int) bool {
	if !strings.HasPrefix(s.currentFile, strings.TrimSuffix(s.baseFilename(), ".jsonl")) {
		// day changed since the file was opened
		s.rotateSeq = -1
		return true
	}
	if s.rotateSize <= 0 {
		return false
	}
	return s.currentSize+int64(incoming) > s.rotateSize
}

func (s *JSONLSink) rotateLocked() error {
	prevFile := s.currentFile
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			return fmt.Errorf("audit: close rotated file: %w", err)
		}
		s.file = nil
	}

	s.rotateSeq++
	if err := s.openCurrentLocked(); err != nil {
		return err
	}

	s.logger.Info("audit: rotated jsonl file",
		"file", s.currentFile,
		"prev_file", prevFile,
		"last_hash", s.lastHash,
	)
	return nil
}

func (s *JSONLSink) baseFilename() string {
	return "bastion-" + time.Now().UTC().Format("2006-01-02") + ".jsonl"
}

func (s *JSONLSink) openCurrentLocked() error {
	name := s.baseFilename()
	if s.rotateSeq > 0 {
		name = fmt.Sprintf("%s.%d.jsonl", strings.TrimSuffix(name, ".jsonl"), s.rotateSeq)
	}
	path := filepath.Join(s.dir, name)

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("audit: open jsonl file: %w", err)
	}

	info, statErr := file.Stat()
	if statErr != nil {
		file.Close()
		return fmt.Errorf("audit: stat jsonl file: %w", statErr)
	}

	s.file = file
	s.currentFile = name
	s.currentSize = info.Size()
	return nil
}

// latestChainHash finds the newest .jsonl file in dir (rotation order,
// not lexical order) and returns the hash of its last event plus the file
// name, resuming the chain across process restarts.
func latestChainHash(dir string) (string, string, bool) {
	latest := LatestLogFile(dir)
	if latest == "" {
		return "", "", false
	}

	f, err := os.Open(latest)
	if err != nil {
		return "", "", false
	}
	defer f.Close()

	var lastLine string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lastLine = line
		}
	}
	if lastLine == "" {
		return "", "", false
	}

	var partial struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal([]byte(lastLine), &partial); err != nil {
		return "", "", false
	}
	return partial.Hash, filepath.Base(latest), partial.Hash != ""
}
