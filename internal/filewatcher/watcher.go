// Copyright 2025 Tom Barlow
//
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

// Package filewatcher reports changes to script files selected by glob
// patterns. It backs validate --watch.
package filewatcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period before a batch of changes is delivered.
const DefaultDebounce = 200 * time.Millisecond

// Op is the kind of change observed.
type Op string

const (
	OpCreated  Op = "created"
	OpModified Op = "modified"
	OpDeleted  Op = "deleted"
	OpRenamed  Op = "renamed"
)

var opMap = []struct {
	fs fsnotify.Op
	op Op
}{
	{fsnotify.Remove, OpDeleted},
	{fsnotify.Rename, OpRenamed},
	{fsnotify.Create, OpCreated},
	{fsnotify.Write, OpModified},
}

// Event is a change to a matching file.
type Event struct {
	Path string
	Op   Op
	Time time.Time
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithDebounce sets the quiet period. Zero delivers every event on its own.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// Watcher watches the directories behind a set of patterns.
type Watcher struct {
	patterns  *Patterns
	fsw       *fsnotify.Watcher
	recursive map[string]bool
	debounce  time.Duration
	logger    *slog.Logger
}

// New creates a watcher for patterns. Every root directory must exist.
func New(patterns *Patterns, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	w := &Watcher{
		patterns:  patterns,
		fsw:       fsw,
		recursive: make(map[string]bool),
		debounce:  DefaultDebounce,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(slog.String("component", "filewatcher"))

	for _, root := range patterns.Roots() {
		if err := w.addRoot(root); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *Watcher) addRoot(root Root) error {
	if !root.Recursive {
		if err := w.fsw.Add(root.Dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", root.Dir, err)
		}
		return nil
	}
	return filepath.WalkDir(root.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("failed to walk %s: %w", path, err)
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		w.recursive[path] = true
		return nil
	})
}

// WatchList returns the watched directories.
func (w *Watcher) WatchList() []string {
	return w.fsw.WatchList()
}

// Run delivers batches of matching events to onChange until ctx is done.
// onChange runs on the calling goroutine, one batch at a time.
func (w *Watcher) Run(ctx context.Context, onChange func([]Event)) error {
	defer w.fsw.Close()

	batches := make(chan []Event, 16)
	var deb *Debouncer
	if w.debounce > 0 {
		deb = NewDebouncer(w.debounce, func(events []Event) {
			select {
			case batches <- events:
			case <-ctx.Done():
			}
		})
		defer deb.Stop()
	}

	w.logger.Info("watching for changes", "dirs", len(w.fsw.WatchList()))
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("file watcher stopped")
			return nil
		case batch := <-batches:
			onChange(batch)
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			ev, ok := w.translate(event)
			if !ok {
				continue
			}
			if deb == nil {
				onChange([]Event{ev})
				continue
			}
			deb.Add(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("file watcher error", "error", err)
		}
	}
}

// translate filters a raw event. New directories under a recursive root
// are added to the watch list.
func (w *Watcher) translate(event fsnotify.Event) (Event, bool) {
	var op Op
	for _, m := range opMap {
		if event.Op.Has(m.fs) {
			op = m.op
			break
		}
	}
	if op == "" {
		return Event{}, false
	}

	if op == OpCreated && w.recursive[filepath.Dir(event.Name)] {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRoot(Root{Dir: event.Name, Recursive: true}); err != nil {
				w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
			}
			return Event{}, false
		}
	}

	if !w.patterns.Match(event.Name) {
		w.logger.Debug("ignoring event", "op", op, "path", event.Name)
		return Event{}, false
	}
	w.logger.Debug("file event", "op", op, "path", event.Name)
	return Event{Path: event.Name, Op: op, Time: time.Now()}, true
}
