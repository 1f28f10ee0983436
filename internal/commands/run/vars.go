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

package run

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// loadVarFile reads a YAML or JSON mapping of variables from path, or from
// stdin when path is "-".
func loadVarFile(path string) (map[string]any, error) {
	var data []byte
	var err error

	if path == "-" {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) != 0 {
			return nil, fmt.Errorf("--var-file - requires input on stdin (pipe or redirect)")
		}
		data, err = io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read variable file: %w", err)
		}
	}

	vars := make(map[string]any)
	if err := yaml.Unmarshal(data, &vars); err != nil {
		return nil, fmt.Errorf("failed to parse variable file: %w", err)
	}
	return vars, nil
}

// parseVars merges the script's variables, the variable file and --var
// arguments, in increasing precedence. Values given with --var are decoded
// as YAML scalars, so retries=3 is an int and debug=true a bool.
func parseVars(scriptVars map[string]any, varArgs []string, varFile string) (map[string]any, error) {
	vars := make(map[string]any, len(scriptVars)+len(varArgs))
	for k, v := range scriptVars {
		vars[k] = v
	}

	if varFile != "" {
		fileVars, err := loadVarFile(varFile)
		if err != nil {
			return nil, err
		}
		for k, v := range fileVars {
			vars[k] = v
		}
	}

	for _, arg := range varArgs {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid variable %q (expected key=value)", arg)
		}
		vars[key] = decodeScalar(raw)
	}
	return vars, nil
}

func decodeScalar(raw string) any {
	if raw == "" {
		return ""
	}
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	switch v.(type) {
	case map[string]any, []any, nil:
		return raw
	}
	return v
}
