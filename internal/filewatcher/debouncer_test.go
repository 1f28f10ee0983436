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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu      sync.Mutex
	batches [][]Event
}

func (c *collector) add(events []Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, events)
}

func (c *collector) get() [][]Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]Event(nil), c.batches...)
}

func TestDebouncer_CoalescesBurst(t *testing.T) {
	var c collector
	d := NewDebouncer(50*time.Millisecond, c.add)
	defer d.Stop()

	d.Add(Event{Path: "/s/b.yaml", Op: OpCreated})
	d.Add(Event{Path: "/s/a.yaml", Op: OpModified})
	d.Add(Event{Path: "/s/b.yaml", Op: OpModified})
	assert.Equal(t, 2, d.Pending())

	require.Eventually(t, func() bool { return len(c.get()) == 1 }, time.Second, 10*time.Millisecond)
	batch := c.get()[0]
	require.Len(t, batch, 2)
	assert.Equal(t, "/s/a.yaml", batch[0].Path)
	assert.Equal(t, "/s/b.yaml", batch[1].Path)
	assert.Equal(t, OpModified, batch[1].Op)
	assert.Equal(t, 0, d.Pending())
}

func TestDebouncer_WindowRestarts(t *testing.T) {
	var c collector
	d := NewDebouncer(80*time.Millisecond, c.add)
	defer d.Stop()

	for i := 0; i < 4; i++ {
		d.Add(Event{Path: "/s/a.yaml", Op: OpModified})
		time.Sleep(30 * time.Millisecond)
	}
	assert.Empty(t, c.get())

	require.Eventually(t, func() bool { return len(c.get()) == 1 }, time.Second, 10*time.Millisecond)
}

func TestDebouncer_StopDiscards(t *testing.T) {
	var c collector
	d := NewDebouncer(30*time.Millisecond, c.add)
	d.Add(Event{Path: "/s/a.yaml", Op: OpModified})
	d.Stop()
	d.Add(Event{Path: "/s/b.yaml", Op: OpModified})

	time.Sleep(80 * time.Millisecond)
	assert.Empty(t, c.get())
	assert.Equal(t, 0, d.Pending())
}
