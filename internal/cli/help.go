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

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tombee/scriptflow/internal/commands/shared"
)

// commandGroups titles the root help sections. Commands join a section
// through their "group" annotation.
var commandGroups = []*cobra.Group{
	{ID: "scripts", Title: "Script Commands:"},
	{ID: "execution", Title: "Execution Commands:"},
	{ID: "management", Title: "Management Commands:"},
}

// exitCodes documents the process exit codes for tooling.
var exitCodes = []ExitCode{
	{Code: shared.ExitSuccess, Meaning: "success"},
	{Code: shared.ExitExecutionFailed, Meaning: "execution failed"},
	{Code: shared.ExitInvalidScript, Meaning: "invalid script"},
	{Code: shared.ExitConfigError, Meaning: "invalid configuration"},
}

// CommandMetadata describes one command, and its subcommands, for JSON help.
type CommandMetadata struct {
	Path        string            `json:"path"`
	Name        string            `json:"name"`
	Short       string            `json:"short"`
	Long        string            `json:"long,omitempty"`
	Usage       string            `json:"usage"`
	Group       string            `json:"group,omitempty"`
	Aliases     []string          `json:"aliases,omitempty"`
	Flags       []FlagMetadata    `json:"flags,omitempty"`
	Examples    string            `json:"examples,omitempty"`
	Subcommands []CommandMetadata `json:"subcommands,omitempty"`
}

// FlagMetadata describes a flag. Values lists the accepted values of flags
// with a fixed set.
type FlagMetadata struct {
	Name      string   `json:"name"`
	Shorthand string   `json:"shorthand,omitempty"`
	Type      string   `json:"type"`
	Usage     string   `json:"usage"`
	Default   string   `json:"default,omitempty"`
	Required  bool     `json:"required"`
	Values    []string `json:"values,omitempty"`
}

// ExitCode pairs a process exit code with its meaning.
type ExitCode struct {
	Code    int    `json:"code"`
	Meaning string `json:"meaning"`
}

// HelpResponse is the JSON response for help command
type HelpResponse struct {
	shared.JSONResponse
	Commands    []CommandMetadata `json:"commands,omitempty"`
	Command     *CommandMetadata  `json:"command,omitempty"`
	GlobalFlags []FlagMetadata    `json:"global_flags,omitempty"`
	ExitCodes   []ExitCode        `json:"exit_codes"`
}

// NewHelpCommand creates the help command. The commands already added to
// rootCmd are sorted into their help sections.
func NewHelpCommand(rootCmd *cobra.Command) *cobra.Command {
	applyGroups(rootCmd)

	return &cobra.Command{
		Use:   "help [command]",
		Short: "Help about any command",
		Long: `Help provides detailed information about commands and their usage.

Run 'scriptflow help' to see all available commands.
Run 'scriptflow help <command>' to see detailed help for a specific command.
Use --json to get machine-readable output for tooling.`,
		Example: `  scriptflow help run
  scriptflow help history list --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				if shared.GetJSON() {
					return shared.EmitJSON(cmd.OutOrStdout(), HelpResponse{
						JSONResponse: shared.NewJSONResponse("help", true),
						Commands:     visibleCommands(rootCmd),
						GlobalFlags:  flagMetadata(rootCmd, rootCmd.PersistentFlags()),
						ExitCodes:    exitCodes,
					})
				}
				return rootCmd.Help()
			}

			target, rest, err := rootCmd.Find(args)
			if err != nil || target == rootCmd || len(rest) > 0 {
				return unknownCommand(rootCmd, args)
			}

			if shared.GetJSON() {
				meta := commandMetadata(target)
				return shared.EmitJSON(cmd.OutOrStdout(), HelpResponse{
					JSONResponse: shared.NewJSONResponse("help "+meta.Path, true),
					Command:      &meta,
					GlobalFlags:  flagMetadata(rootCmd, rootCmd.PersistentFlags()),
					ExitCodes:    exitCodes,
				})
			}
			return target.Help()
		},
	}
}

// applyGroups registers the help sections and assigns every annotated
// command to its section. Unknown group names are left ungrouped.
func applyGroups(root *cobra.Command) {
	for _, g := range commandGroups {
		if !root.ContainsGroup(g.ID) {
			root.AddGroup(g)
		}
	}
	for _, c := range root.Commands() {
		if id := c.Annotations["group"]; id != "" && root.ContainsGroup(id) {
			c.GroupID = id
		}
	}
}

func unknownCommand(root *cobra.Command, args []string) error {
	name := strings.Join(args, " ")
	if s := root.SuggestionsFor(args[0]); len(s) > 0 {
		return fmt.Errorf("unknown command %q (did you mean %q?)", name, s[0])
	}
	return fmt.Errorf("unknown command %q", name)
}

func visibleCommands(parent *cobra.Command) []CommandMetadata {
	var out []CommandMetadata
	for _, c := range parent.Commands() {
		if !c.IsAvailableCommand() {
			continue
		}
		out = append(out, commandMetadata(c))
	}
	return out
}

// commandMetadata describes cmd and, recursively, its visible subcommands.
func commandMetadata(cmd *cobra.Command) CommandMetadata {
	path := strings.TrimSpace(strings.TrimPrefix(cmd.CommandPath(), cmd.Root().Name()))
	return CommandMetadata{
		Path:        path,
		Name:        cmd.Name(),
		Short:       cmd.Short,
		Long:        cmd.Long,
		Usage:       cmd.UseLine(),
		Group:       cmd.Annotations["group"],
		Aliases:     cmd.Aliases,
		Flags:       flagMetadata(cmd, cmd.LocalNonPersistentFlags()),
		Examples:    cmd.Example,
		Subcommands: visibleCommands(cmd),
	}
}

// flagMetadata describes the visible flags in fs. Values come from the
// completion function registered on owner, if any.
func flagMetadata(owner *cobra.Command, fs *pflag.FlagSet) []FlagMetadata {
	var flags []FlagMetadata
	fs.VisitAll(func(flag *pflag.Flag) {
		if flag.Hidden {
			return
		}
		_, required := flag.Annotations[cobra.BashCompOneRequiredFlag]
		flags = append(flags, FlagMetadata{
			Name:      flag.Name,
			Shorthand: flag.Shorthand,
			Type:      flag.Value.Type(),
			Usage:     flag.Usage,
			Default:   flag.DefValue,
			Required:  required,
			Values:    flagValues(owner, flag.Name),
		})
	})
	return flags
}

func flagValues(owner *cobra.Command, name string) []string {
	fn, ok := owner.GetFlagCompletionFunc(name)
	if !ok {
		return nil
	}
	completions, _ := fn(owner, nil, "")
	values := make([]string, 0, len(completions))
	for _, c := range completions {
		v, _, _ := strings.Cut(c, "\t")
		values = append(values, v)
	}
	return values
}
