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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ReadEvents reads every event from a JSONL audit file. Malformed lines
// are skipped rather than aborting the read; a torn final line is the
// normal state of a live file.
func ReadEvents(path string) ([]Event, error) {
	events, _, err := ReadEventsFromOffset(path, 0)
	return events, err
}

// ReadEventsFromOffset reads events starting at a byte offset and returns
// them along with the offset of the next unread byte. Tailers persist the
// returned offset between polls.
func ReadEventsFromOffset(path string, offset int64) ([]Event, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, offset, fmt.Errorf("audit: open log: %w", err)
	}
	defer f.Close()

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return nil, offset, fmt.Errorf("audit: seek log: %w", err)
		}
	}

	var events []Event
	pos := offset
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			// Partial line without newline: leave the offset before it
			// so the next poll re-reads the completed line.
			break
		}
		pos += int64(len(line))

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var event Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, pos, nil
}

// logFileSeq returns the size-rotation sequence of a log file name:
// 0 for bastion-2026-08-31.jsonl, N for bastion-2026-08-31.N.jsonl.
func logFileSeq(name string) int {
	stem := strings.TrimSuffix(name, ".jsonl")
	dot := strings.LastIndexByte(stem, '.')
	if dot < 0 {
		return 0
	}
	n, err := strconv.Atoi(stem[dot+1:])
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// logFileStem returns the file name without its size-rotation suffix, so
// a day's base file and its rotations share a stem.
func logFileStem(name string) string {
	stem := strings.TrimSuffix(name, ".jsonl")
	dot := strings.LastIndexByte(stem, '.')
	if dot < 0 {
		return stem
	}
	if _, err := strconv.Atoi(stem[dot+1:]); err != nil {
		return stem
	}
	return stem[:dot]
}

// sortLogFiles orders log file names oldest to newest in chain order:
// by day stem, then by size-rotation sequence. A plain lexical sort puts
// a day's base file after its rotations ('1' < 'j').
func sortLogFiles(names []string) {
	sort.Slice(names, func(i, j int) bool {
		si, sj := logFileStem(names[i]), logFileStem(names[j])
		if si != sj {
			return si < sj
		}
		return logFileSeq(names[i]) < logFileSeq(names[j])
	})
}

// LogFilesInOrder returns the full paths of every .jsonl log file in dir,
// oldest to newest in chain order.
func LogFilesInOrder(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("audit: read log dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".jsonl") {
			names = append(names, e.Name())
		}
	}
	sortLogFiles(names)

	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
	}
	return paths, nil
}

// LatestLogFile returns the newest .jsonl file in dir, or "" when the
// directory holds none.
func LatestLogFile(dir string) string {
	files, err := LogFilesInOrder(dir)
	if err != nil || len(files) == 0 {
		return ""
	}
	return files[len(files)-1]
}

// VerifyChain checks hash-chain integrity of a single JSONL audit file.
// It returns the number of verified events and an error naming the first
// event that fails verification. The first event's PrevHash is not
// checked; use VerifyChainFrom to verify the seam to a preceding file.
func VerifyChain(path string) (int, error) {
	n, _, err := VerifyChainFrom(path, "")
	return n, err
}

// VerifyChainFrom verifies a log file whose chain continues from a
// preceding file: the first event's PrevHash must equal prevLast, the
// preceding file's final hash. An empty prevLast skips the seam check.
// Returns the event count and the file's final hash so callers can walk
// a rotated directory file by file.
func VerifyChainFrom(path, prevLast string) (int, string, error) {
	events, err := ReadEvents(path)
	if err != nil {
		return 0, prevLast, err
	}

	prev := prevLast
	for i, event := range events {
		if (i > 0 || prevLast != "") && event.PrevHash != prev {
			return i, prev, fmt.Errorf("audit: event %s: prev_hash mismatch", event.ID)
		}
		ok, err := event.VerifyHash()
		if err != nil {
			return i, prev, fmt.Errorf("audit: event %s: %w", event.ID, err)
		}
		if !ok {
			return i, prev, fmt.Errorf("audit: event %s: hash mismatch", event.ID)
		}
		prev = event.Hash
	}
	return len(events), prev, nil
}

// VerifyDir verifies every log file in dir in rotation order, including
// the seams between consecutive files: each file's first event must link
// to the previous file's final hash. Returns the total verified events.
func VerifyDir(dir string) (int, error) {
	files, err := LogFilesInOrder(dir)
	if err != nil {
		return 0, err
	}

	total := 0
	prev := ""
	for _, f := range files {
		n, last, err := VerifyChainFrom(f, prev)
		total += n
		if err != nil {
			return total, fmt.Errorf("%s: %w", filepath.Base(f), err)
		}
		prev = last
	}
	return total, nil
}
