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

package completion

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/scriptflow/internal/commands/shared"
	"github.com/tombee/scriptflow/internal/history"
)

const (
	runCacheTTL    = 2 * time.Second
	historyTimeout = 500 * time.Millisecond
	maxRunResults  = 50
)

// runCacheEntry holds cached run completions with expiry.
type runCacheEntry struct {
	runs      []runInfo
	expiresAt time.Time
}

// runInfo is a run ID with its completion description.
type runInfo struct {
	id          string
	success     bool
	description string
}

var (
	runCache   *runCacheEntry
	runCacheMu sync.RWMutex
)

// CompleteRunIDs completes recorded run IDs, newest first, described as
// "script (state)".
func CompleteRunIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return completeRuns(false)
}

// CompleteFailedRunIDs completes only runs that did not succeed.
func CompleteFailedRunIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return completeRuns(true)
}

func completeRuns(failedOnly bool) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		runs, err := getRunCompletions()
		if err != nil || len(runs) == 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}

		completions := make([]string, 0, len(runs))
		for _, r := range runs {
			if failedOnly && r.success {
				continue
			}
			completions = append(completions, r.id+"\t"+r.description)
		}
		return completions, cobra.ShellCompDirectiveNoFileComp
	})
}

// getRunCompletions reads recent runs from history, cached for runCacheTTL.
func getRunCompletions() ([]runInfo, error) {
	runCacheMu.RLock()
	if runCache != nil && time.Now().Before(runCache.expiresAt) {
		cached := runCache.runs
		runCacheMu.RUnlock()
		return cached, nil
	}
	runCacheMu.RUnlock()

	runs, err := fetchRunsFromHistory()
	if err != nil {
		return nil, err
	}

	runCacheMu.Lock()
	runCache = &runCacheEntry{
		runs:      runs,
		expiresAt: time.Now().Add(runCacheTTL),
	}
	runCacheMu.Unlock()
	return runs, nil
}

// fetchRunsFromHistory lists recent runs. A history database that does not
// exist yet yields no runs rather than being created.
func fetchRunsFromHistory() ([]runInfo, error) {
	cfg, err := LoadConfigForCompletion()
	if err != nil || cfg == nil || !cfg.History.Enabled {
		return nil, err
	}
	path, err := cfg.HistoryPath()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	store, err := shared.OpenHistory(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	runs, err := store.ListRuns(ctx, history.RunFilter{Limit: maxRunResults})
	if err != nil {
		return nil, err
	}

	infos := make([]runInfo, 0, len(runs))
	for _, r := range runs {
		infos = append(infos, runInfo{
			id:          r.ID,
			success:     r.Success,
			description: r.Script + " (" + string(r.State) + ")",
		})
	}
	return infos, nil
}

// resetRunCache clears cached run completions.
func resetRunCache() {
	runCacheMu.Lock()
	runCache = nil
	runCacheMu.Unlock()
}
