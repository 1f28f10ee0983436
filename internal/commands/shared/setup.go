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

package shared

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tombee/scriptflow/internal/config"
	"github.com/tombee/scriptflow/internal/history"
	"github.com/tombee/scriptflow/internal/log"
	"github.com/tombee/scriptflow/pkg/controlflow/preprocess"
	"github.com/tombee/scriptflow/pkg/script"
)

// ResolveConfigPath returns --config, or the default config file when it
// exists, or "".
func ResolveConfigPath() string {
	if p := GetConfigPath(); p != "" {
		return p
	}
	p, err := config.ConfigPath()
	if err != nil {
		return ""
	}
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

// LoadConfig loads the configuration for a command.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(ResolveConfigPath())
	if err != nil {
		return nil, NewConfigError("invalid configuration", err)
	}
	return cfg, nil
}

// NewLogger builds the command logger. --verbose and --quiet override the
// configured level.
func NewLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	lc := log.Config{
		Level:     cfg.Log.Level,
		Format:    log.Format(cfg.Log.Format),
		Output:    w,
		AddSource: cfg.Log.AddSource,
	}
	switch {
	case GetQuiet():
		lc.Level = "error"
	case GetVerbose():
		lc.Level = "debug"
	}
	return log.New(lc)
}

// LoadScript reads a script file, mapping failures to ExitInvalidScript.
func LoadScript(path string) (*script.Script, error) {
	s, err := script.LoadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &ExitError{Code: ExitInvalidScript, Message: "script not found", Cause: err}
		}
		return nil, NewInvalidScriptError("invalid script", err)
	}
	return s, nil
}

// NewPreprocessor builds a preprocessor from cfg.
func NewPreprocessor(cfg *config.Config, logger *slog.Logger, opts ...preprocess.Option) *preprocess.Preprocessor {
	opts = append([]preprocess.Option{preprocess.WithLogger(logger)}, opts...)
	return preprocess.New(cfg.Preprocess, opts...)
}

// OpenHistory opens the run history store configured in cfg.
func OpenHistory(ctx context.Context, cfg *config.Config) (*history.Store, error) {
	path, err := cfg.HistoryPath()
	if err != nil {
		return nil, NewConfigError("cannot resolve history path", err)
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, NewConfigError("cannot create history directory", err)
		}
	}
	store, err := history.Open(ctx, history.Config{Path: path, WAL: true})
	if err != nil {
		return nil, NewExecutionError("cannot open run history", err)
	}
	return store, nil
}
