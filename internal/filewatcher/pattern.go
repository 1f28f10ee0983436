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
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Patterns selects script files by doublestar globs. Include patterns are
// resolved against the working directory when they are created.
//
// Supported syntax:
//   - * matches any sequence of non-separators
//   - ** matches any number of directories
//   - ? matches a single non-separator
//   - [class] and {alt,alt} as in doublestar
type Patterns struct {
	include []string
	exclude []string
}

// Root is a directory that must be watched to observe a pattern.
type Root struct {
	Dir       string
	Recursive bool
}

// NewPatterns validates and resolves include and exclude patterns.
// Excludes are matched against the full path and the base name.
func NewPatterns(include, exclude []string) (*Patterns, error) {
	if len(include) == 0 {
		return nil, fmt.Errorf("at least one pattern is required")
	}
	p := &Patterns{exclude: exclude}
	for _, pattern := range include {
		abs, err := filepath.Abs(pattern)
		if err != nil {
			return nil, fmt.Errorf("resolve pattern %q: %w", pattern, err)
		}
		if !doublestar.ValidatePathPattern(abs) {
			return nil, fmt.Errorf("invalid pattern %q", pattern)
		}
		p.include = append(p.include, abs)
	}
	for _, pattern := range exclude {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid exclude pattern %q", pattern)
		}
	}
	return p, nil
}

// Match reports whether path is selected.
func (p *Patterns) Match(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	included := false
	for _, pattern := range p.include {
		if ok, _ := doublestar.PathMatch(pattern, abs); ok {
			included = true
			break
		}
	}
	return included && !p.excluded(abs)
}

func (p *Patterns) excluded(abs string) bool {
	slash := strings.TrimPrefix(filepath.ToSlash(abs), "/")
	base := filepath.Base(abs)
	for _, pattern := range p.exclude {
		if ok, _ := doublestar.Match(pattern, slash); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

// Expand returns the sorted, de-duplicated files currently matching.
func (p *Patterns) Expand() ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, pattern := range p.include {
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("expand %q: %w", pattern, err)
		}
		for _, m := range matches {
			if seen[m] || p.excluded(m) {
				continue
			}
			seen[m] = true
			files = append(files, m)
		}
	}
	sort.Strings(files)
	return files, nil
}

// Roots returns the static directory prefix of every include pattern.
func (p *Patterns) Roots() []Root {
	byDir := make(map[string]bool)
	var order []string
	for _, pattern := range p.include {
		base, rest := doublestar.SplitPattern(filepath.ToSlash(pattern))
		dir := filepath.FromSlash(base)
		recursive := strings.Contains(rest, "**") || strings.Contains(rest, "/")
		if _, ok := byDir[dir]; !ok {
			order = append(order, dir)
		}
		byDir[dir] = byDir[dir] || recursive
	}
	roots := make([]Root, 0, len(order))
	for _, dir := range order {
		roots = append(roots, Root{Dir: dir, Recursive: byDir[dir]})
	}
	return roots
}

// DefaultExcludePatterns returns editor temporary files that are never scripts.
func DefaultExcludePatterns() []string {
	return []string{
		"*.swp",
		"*.swo",
		".*.sw?",
		"*~",
		"#*#",
		".#*",
		".DS_Store",
		"*.tmp",
		"**/.git/**",
	}
}
