// Package schema describes the command tree for agents: paths, flags with
// their required and enumerated values, and the exit codes a run may end in.
package schema

import (
	"fmt"
	"regexp"
	"strings"

	clierr "github.com/ggonzalez94/arrakis-cli/internal/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type CommandSchema struct {
	Path        string          `json:"path"`
	Use         string          `json:"use"`
	Short       string          `json:"short"`
	Aliases     []string        `json:"aliases,omitempty"`
	Runnable    bool            `json:"runnable"`
	Flags       []FlagSchema    `json:"flags,omitempty"`
	GlobalFlags []FlagSchema    `json:"global_flags,omitempty"`
	ExitCodes   []ExitCode      `json:"exit_codes,omitempty"`
	Subcommands []CommandSchema `json:"subcommands,omitempty"`
}

type FlagSchema struct {
	Name      string   `json:"name"`
	Shorthand string   `json:"shorthand,omitempty"`
	Type      string   `json:"type"`
	Usage     string   `json:"usage"`
	Default   string   `json:"default,omitempty"`
	Required  bool     `json:"required,omitempty"`
	Enum      []string `json:"enum,omitempty"`
}

type ExitCode struct {
	Code int    `json:"code"`
	Type string `json:"type"`
}

// choices matches a trailing "(a|b|c)" or "(a|b|c; note)" in flag usage.
var choices = regexp.MustCompile(`\(([a-z0-9_\-]+(?:\|[a-z0-9_\-]+)+)(?:;[^)]*)?\)\s*$`)

// Build serializes the command at commandPath (space separated, aliases
// allowed). The root schema also carries the persistent flags and the
// exit code table.
func Build(root *cobra.Command, commandPath string) (CommandSchema, error) {
	cmd := root
	for _, p := range strings.Fields(commandPath) {
		next := findChild(cmd, p)
		if next == nil {
			return CommandSchema{}, fmt.Errorf("command not found: %s", strings.TrimSpace(commandPath))
		}
		cmd = next
	}
	s := serialize(cmd)
	if cmd == root {
		s.GlobalFlags = flagSet(root.PersistentFlags())
		for _, code := range clierr.Codes() {
			s.ExitCodes = append(s.ExitCodes, ExitCode{Code: int(code), Type: code.Type()})
		}
	}
	return s, nil
}

func findChild(cmd *cobra.Command, name string) *cobra.Command {
	for _, c := range cmd.Commands() {
		if c.Name() == name || contains(c.Aliases, name) {
			return c
		}
	}
	return nil
}

func serialize(cmd *cobra.Command) CommandSchema {
	s := CommandSchema{
		Path:     strings.TrimSpace(cmd.CommandPath()),
		Use:      cmd.Use,
		Short:    cmd.Short,
		Aliases:  cmd.Aliases,
		Runnable: cmd.Runnable(),
		Flags:    flagSet(cmd.NonInheritedFlags()),
	}
	for _, sub := range cmd.Commands() {
		if sub.Hidden || !sub.IsAvailableCommand() {
			continue
		}
		s.Subcommands = append(s.Subcommands, serialize(sub))
	}
	return s
}

func flagSet(fs *pflag.FlagSet) []FlagSchema {
	items := []FlagSchema{}
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		items = append(items, FlagSchema{
			Name:      f.Name,
			Shorthand: f.Shorthand,
			Type:      f.Value.Type(),
			Usage:     f.Usage,
			Default:   f.DefValue,
			Required:  isRequired(f),
			Enum:      enumFromUsage(f.Usage),
		})
	})
	return items
}

func isRequired(f *pflag.Flag) bool {
	vals, ok := f.Annotations[cobra.BashCompOneRequiredFlag]
	return ok && len(vals) > 0 && vals[0] == "true"
}

func enumFromUsage(usage string) []string {
	m := choices.FindStringSubmatch(usage)
	if m == nil {
		return nil
	}
	return strings.Split(m[1], "|")
}

func contains(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
