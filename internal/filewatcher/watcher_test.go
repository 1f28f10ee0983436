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

package filewatcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_DeliversMatchingChanges(t *testing.T) {
	dir := t.TempDir()
	p, err := NewPatterns([]string{filepath.Join(dir, "**", "*.yaml")}, DefaultExcludePatterns())
	require.NoError(t, err)

	w, err := New(p, WithDebounce(50*time.Millisecond))
	require.NoError(t, err)
	assert.Contains(t, w.WatchList(), dir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan []Event, 8)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, func(ev []Event) { got <- ev }) }()

	// Give the loop a moment to start selecting.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	target := filepath.Join(dir, "login.yaml")
	require.NoError(t, os.WriteFile(target, []byte("steps: []\n"), 0o644))

	select {
	case batch := <-got:
		require.Len(t, batch, 1)
		assert.Equal(t, target, batch[0].Path)
	case <-time.After(3 * time.Second):
		t.Fatal("no change delivered")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWatcher_WatchesNewSubdirectories(t *testing.T) {
	dir := t.TempDir()
	p, err := NewPatterns([]string{filepath.Join(dir, "**", "*.yaml")}, nil)
	require.NoError(t, err)

	w, err := New(p, WithDebounce(0))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan []Event, 8)
	go func() { _ = w.Run(ctx, func(ev []Event) { got <- ev }) }()

	time.Sleep(20 * time.Millisecond)
	sub := filepath.Join(dir, "flows")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.Eventually(t, func() bool {
		for _, d := range w.WatchList() {
			if d == sub {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	target := filepath.Join(sub, "checkout.yaml")
	require.NoError(t, os.WriteFile(target, []byte("steps: []\n"), 0o644))

	deadline := time.After(3 * time.Second)
	for {
		select {
		case batch := <-got:
			if batch[0].Path == target {
				return
			}
		case <-deadline:
			t.Fatal("change in new subdirectory not delivered")
		}
	}
}

func TestNew_MissingRoot(t *testing.T) {
	p, err := NewPatterns([]string{filepath.Join(t.TempDir(), "missing", "*.yaml")}, nil)
	require.NoError(t, err)
	_, err = New(p)
	assert.Error(t, err)
}
