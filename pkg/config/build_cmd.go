package config

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/skroutz/forge/pkg/process"
)

// CmdKind tags the form a build command was configured in.
type CmdKind int

const (
	// CmdNone means no command was configured.
	CmdNone CmdKind = iota

	// CmdShell is a single string, interpreted by a shell.
	CmdShell

	// CmdArgs is an argument vector, executed without a shell.
	CmdArgs
)

// BuildCmd is a build command as found in the configuration document:
// either a shell string or an argument vector.
type BuildCmd struct {
	Kind  CmdKind
	Shell string
	Args  []string
}

// ShellCmd returns a BuildCmd interpreted by a shell.
func ShellCmd(s string) BuildCmd {
	if s == "" {
		return BuildCmd{}
	}
	return BuildCmd{Kind: CmdShell, Shell: s}
}

// ArgsCmd returns a BuildCmd executed directly.
func ArgsCmd(args ...string) BuildCmd {
	if len(args) == 0 {
		return BuildCmd{}
	}
	return BuildCmd{Kind: CmdArgs, Args: args}
}

// IsSet reports whether a non-empty command was configured.
func (c BuildCmd) IsSet() bool {
	return c.Kind != CmdNone
}

// Argv returns the vector to execute, wrapping shell strings in sh -c.
func (c BuildCmd) Argv() []string {
	switch c.Kind {
	case CmdShell:
		return []string{"sh", "-c", c.Shell}
	case CmdArgs:
		return c.Args
	}
	return nil
}

// Command returns the process.Command running c in dir.
func (c BuildCmd) Command(dir string, env ...string) process.Command {
	cmd := process.Command{Dir: dir, Env: env}
	switch c.Kind {
	case CmdShell:
		cmd.Shell = c.Shell
	case CmdArgs:
		cmd.Args = c.Args
	}
	return cmd
}

func (c BuildCmd) String() string {
	switch c.Kind {
	case CmdShell:
		return c.Shell
	case CmdArgs:
		return fmt.Sprintf("%q", c.Args)
	}
	return ""
}

// UnmarshalJSON accepts null, a string or an array of strings.
func (c *BuildCmd) UnmarshalJSON(data []byte) error {
	var v interface{}
	err := json.Unmarshal(data, &v)
	if err != nil {
		return err
	}
	return c.fromValue(v)
}

// UnmarshalYAML accepts null, a string or a sequence of strings.
func (c *BuildCmd) UnmarshalYAML(n *yaml.Node) error {
	var v interface{}
	err := n.Decode(&v)
	if err != nil {
		return err
	}
	return c.fromValue(v)
}

func (c *BuildCmd) fromValue(v interface{}) error {
	switch v := v.(type) {
	case nil:
		*c = BuildCmd{}
	case string:
		*c = ShellCmd(v)
	case []interface{}:
		args := make([]string, 0, len(v))
		for _, a := range v {
			s, ok := a.(string)
			if !ok {
				return fmt.Errorf("command arguments must be strings, got %T", a)
			}
			args = append(args, s)
		}
		*c = ArgsCmd(args...)
	default:
		return fmt.Errorf("command must be a string or a list of strings, got %T", v)
	}
	return nil
}
