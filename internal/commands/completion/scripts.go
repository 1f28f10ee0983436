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
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const maxScriptFiles = 100

// scriptPatterns match script files up to two directories deep.
var scriptPatterns = []string{
	"*.{yaml,yml,json}",
	"*/*.{yaml,yml,json}",
	"*/*/*.{yaml,yml,json}",
}

// scriptFile is a discovered script with its modification time.
type scriptFile struct {
	path    string
	modTime int64
}

// CompleteScriptFiles completes script paths under the current directory,
// newest first. Only files with a top-level steps key are offered.
func CompleteScriptFiles(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		files, err := discoverScripts(os.DirFS("."))
		if err != nil || len(files) == 0 {
			return nil, cobra.ShellCompDirectiveDefault
		}

		paths := make([]string, 0, len(files))
		for _, f := range files {
			if strings.HasPrefix(f.path, toComplete) {
				paths = append(paths, f.path)
			}
		}
		return paths, cobra.ShellCompDirectiveDefault
	})
}

// discoverScripts returns the script files in fsys sorted by modification
// time, newest first, capped at maxScriptFiles.
func discoverScripts(fsys fs.FS) ([]scriptFile, error) {
	seen := make(map[string]bool)
	var files []scriptFile

	for _, pattern := range scriptPatterns {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if seen[m] || hidden(m) {
				continue
			}
			seen[m] = true

			info, err := fs.Stat(fsys, m)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			if !isScriptFile(fsys, m) {
				continue
			}
			files = append(files, scriptFile{
				path:    filepath.FromSlash(m),
				modTime: info.ModTime().UnixNano(),
			})
		}
	}

	sort.SliceStable(files, func(i, j int) bool {
		if files[i].modTime != files[j].modTime {
			return files[i].modTime > files[j].modTime
		}
		return files[i].path < files[j].path
	})
	if len(files) > maxScriptFiles {
		files = files[:maxScriptFiles]
	}
	return files, nil
}

// hidden reports whether any element of a slash-separated path starts
// with a dot.
func hidden(path string) bool {
	for _, part := range strings.Split(path, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

// isScriptFile reports whether the file parses as a mapping with a steps
// key. JSON scripts parse as YAML too.
func isScriptFile(fsys fs.FS, path string) bool {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return false
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return false
	}
	_, ok := doc["steps"]
	return ok
}
