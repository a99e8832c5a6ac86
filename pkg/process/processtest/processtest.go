// Package processtest provides a process.Runner that records commands
// instead of running them.
package processtest

import (
	"context"

	"github.com/skroutz/forge/pkg/process"
)

// Runner records every command it is asked to run. Handler decides the
// outcome of each one; a nil Handler makes every command exit 0.
type Runner struct {
	Calls   []process.Command
	Handler func(cmd process.Command, out process.LineFunc) (process.Result, error)
}

var _ process.Runner = (*Runner)(nil)

// Run implements process.Runner.
func (r *Runner) Run(_ context.Context, cmd process.Command, out process.LineFunc) (process.Result, error) {
	r.Calls = append(r.Calls, cmd)
	if r.Handler == nil {
		return process.Result{}, nil
	}
	return r.Handler(cmd, out)
}

// Argvs returns the argument vectors of the recorded commands.
func (r *Runner) Argvs() [][]string {
	argvs := make([][]string, 0, len(r.Calls))
	for _, c := range r.Calls {
		argvs = append(argvs, c.Argv())
	}
	return argvs
}

// ExitOn returns a Handler that exits with code for the first command
// whose argv contains arg, and 0 for every other command.
func ExitOn(arg string, code int) func(process.Command, process.LineFunc) (process.Result, error) {
	return func(cmd process.Command, _ process.LineFunc) (process.Result, error) {
		for _, a := range cmd.Argv() {
			if a == arg {
				return process.Result{ExitCode: code}, nil
			}
		}
		return process.Result{}, nil
	}
}
