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

package rules

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 500 * time.Millisecond

// SourceFor returns the engine source tag for a rule file path.
func SourceFor(path string) string {
	return "file:" + filepath.Clean(path)
}

// LoadInto loads a rule file and registers its rules under the file's
// source tag, replacing any previous load of the same file.
func LoadInto(engine *Engine, store *FileStore) error {
	loaded, err := store.Load()
	if err != nil {
		return err
	}
	return engine.ReplaceSource(SourceFor(store.Path()), loaded)
}

// Watch hot-reloads a custom rule file into the engine whenever it is
// written. Invalid writes are logged and skipped; the previous rule set
// stays active. Blocks until ctx is cancelled.
func Watch(ctx context.Context, engine *Engine, store *FileStore, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("rules: create file watcher: %w", err)
	}
	defer watcher.Close()

	absPath, err := filepath.Abs(store.Path())
	if err != nil {
		return fmt.Errorf("rules: resolve rule file path %q: %w", store.Path(), err)
	}
	// Watch the parent directory too: editors replace files via rename,
	// which drops a direct watch.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return fmt.Errorf("rules: watch rule file directory: %w", err)
	}
	_ = watcher.Add(absPath)

	logger.Info("rules: watching rule file", "path", absPath)

	lastReload := time.Time{}
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !samePath(absPath, event.Name) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			now := time.Now()
			if !lastReload.IsZero() && now.Sub(lastReload) < reloadDebounce {
				continue
			}
			lastReload = now

			// Delay briefly to let the file write complete. Writes can
			// trigger events on truncation before new content is flushed.
			time.Sleep(100 * time.Millisecond)
			if err := LoadInto(engine, store); err != nil {
				logger.Error("rules: reload failed; keeping previous rules",
					"path", absPath,
					"error", err,
				)
				continue
			}
			logger.Info("rules: rule file reloaded",
				"path", absPath,
				"rule_count", engine.RuleCount(),
			)
		case err, ok := <-watcher.Errors:
			if !ok {
				continue
			}
			logger.Error("rules: watcher error", "error", err)
		}
	}
}

func samePath(a, b string) bool {
	return filepath.Clean(strings.TrimSpace(a)) == filepath.Clean(strings.TrimSpace(b))
}
