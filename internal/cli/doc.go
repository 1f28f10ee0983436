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

/*
Package cli provides the root command and shared configuration for the
scriptflow CLI.

This package creates the main Cobra command tree and handles global concerns like
version information, persistent flags, and error handling. Individual commands
are implemented in the internal/commands subpackages.

# Command Tree

	scriptflow
	├── validate      Check marker structure and handler rules
	├── plan          Print the linear execution plan
	├── analyze       Report expansion and complexity
	├── run           Execute a script against a step executor
	├── history       List, show, delete and prune recorded runs
	├── config        Show, initialize, locate and validate configuration
	├── completion    Generate shell completion scripts
	├── version       Show version
	└── help          Show help

# Global Flags

All commands inherit these flags:

	--verbose, -v    Enable verbose output
	--quiet, -q      Suppress non-error output
	--json           Output in JSON format
	--no-color       Disable colored output
	--config         Path to config file

# Exit Codes

  - 0: Success
  - 1: Execution failed
  - 2: Invalid script
  - 3: Invalid configuration

Use HandleExitError for consistent error handling:

	if err := rootCmd.Execute(); err != nil {
	    cli.HandleExitError(err)
	}
*/
package cli
