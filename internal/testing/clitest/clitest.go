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

// Package clitest runs scriptflow commands in tests against an isolated
// config and data directory.
package clitest

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"

	"github.com/tombee/scriptflow/internal/cli"
	"github.com/tombee/scriptflow/internal/commands/shared"
	"github.com/tombee/scriptflow/internal/config"
	"github.com/tombee/scriptflow/internal/history"
)

// Env is an isolated command environment.
type Env struct {
	t *testing.T

	// Dir is a scratch directory for scripts.
	Dir string

	// ConfigHome and DataHome back XDG_CONFIG_HOME and XDG_DATA_HOME.
	ConfigHome string
	DataHome   string
}

// Setup points the XDG directories at temporary directories, silences
// logging and resets the global flags.
func Setup(t *testing.T) *Env {
	t.Helper()
	env := &Env{
		t:          t,
		Dir:        t.TempDir(),
		ConfigHome: t.TempDir(),
		DataHome:   t.TempDir(),
	}
	t.Setenv("XDG_CONFIG_HOME", env.ConfigHome)
	t.Setenv("XDG_DATA_HOME", env.DataHome)
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("NO_COLOR", "1")
	shared.ResetFlagsForTest()
	t.Cleanup(shared.ResetFlagsForTest)
	return env
}

// Write creates name under Dir and returns its path.
func (e *Env) Write(name, content string) string {
	e.t.Helper()
	path := filepath.Join(e.Dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		e.t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		e.t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// Result is the captured output of one command.
type Result struct {
	Stdout string
	Stderr string
	Err    error
}

// Execute runs args against a root command carrying cmds. Color is always
// disabled.
func (e *Env) Execute(cmds []*cobra.Command, args ...string) Result {
	e.t.Helper()
	root := cli.NewRootCommand()
	root.AddCommand(cmds...)
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append(args, "--no-color"))
	err := root.Execute()
	return Result{Stdout: stdout.String(), Stderr: stderr.String(), Err: err}
}

// ExitCode returns the exit code carried by err, 0 for nil and -1 for an
// error without one.
func ExitCode(err error) int {
	if err == nil {
		return shared.ExitSuccess
	}
	var exitErr *shared.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return -1
}

// History opens the run history the commands write to. The store is closed
// when the test ends.
func (e *Env) History() *history.Store {
	e.t.Helper()
	store, err := shared.OpenHistory(context.Background(), config.Default())
	if err != nil {
		e.t.Fatalf("open history: %v", err)
	}
	e.t.Cleanup(func() { _ = store.Close() })
	return store
}
