// Package process runs external commands, forwarding their merged output
// line by line while they run.
package process

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/skroutz/forge/pkg/types"
)

// LineFunc receives each line of output, without the trailing newline.
type LineFunc func(line string)

// Command describes a process to run. Exactly one of Args or Shell is
// expected to be set; Shell takes precedence and is interpreted by sh -c.
type Command struct {
	Args  []string
	Shell string

	// Dir is the working directory of the process. If empty, the
	// process inherits the caller's.
	Dir string

	// Env holds KEY=VALUE overrides appended to the inherited
	// environment.
	Env []string
}

// Argv returns the argument vector that will be executed.
func (c Command) Argv() []string {
	if c.Shell != "" {
		return []string{"sh", "-c", c.Shell}
	}
	return c.Args
}

func (c Command) String() string {
	return types.CmdString(c.Argv())
}

// Result holds the exit status of a process that was started.
type Result struct {
	ExitCode int
}

// Success reports whether the process exited with code 0.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Runner runs commands to completion.
type Runner interface {
	// Run blocks until the command exits and returns its exit code.
	// A non-zero exit code is not an error; the caller decides. If the
	// command could not be started, the error is a
	// types.ErrProcessLaunch and the Result is irrelevant.
	Run(ctx context.Context, cmd Command, out LineFunc) (Result, error)
}

// Exec is the Runner that spawns real processes.
type Exec struct{}

var _ Runner = Exec{}

// Run implements Runner.
func (Exec) Run(ctx context.Context, cmd Command, out LineFunc) (Result, error) {
	argv := cmd.Argv()
	if len(argv) == 0 {
		return Result{}, types.ErrProcessLaunch{Cmd: "", Err: errors.New("empty command")}
	}

	c := exec.CommandContext(ctx, argv[0], argv[1:]...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	// don't hang on grandchildren holding the pipe after a kill
	c.WaitDelay = 5 * time.Second

	pr, pw := io.Pipe()
	c.Stdout = pw
	c.Stderr = pw

	err := c.Start()
	if err != nil {
		pw.Close()
		pr.Close()
		return Result{}, types.ErrProcessLaunch{Cmd: cmd.String(), Err: err}
	}

	waitErr := make(chan error, 1)
	go func() {
		err := c.Wait()
		pw.Close()
		waitErr <- err
	}()

	readLines(pr, out)

	err = <-waitErr
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{ExitCode: exitErr.ExitCode()}, nil
		}
		return Result{ExitCode: -1}, err
	}
	return Result{ExitCode: 0}, nil
}

// readLines calls out for every line read from r until r is exhausted.
// Lines of any length are delivered whole, without the line terminator.
func readLines(r io.Reader, out LineFunc) {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" && out != nil {
			line = strings.TrimSuffix(line, "\n")
			out(strings.TrimSuffix(line, "\r"))
		}
		if err != nil {
			// the pipe only fails once the writer is closed
			return
		}
	}
}

// WithDeadline calls fn with a context that expires after d. If fn
// does not return before that, the error is a types.ErrTimeout naming op.
func WithDeadline(ctx context.Context, d time.Duration, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	err := fn(ctx)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return types.ErrTimeout{Op: op, After: d}
	}
	return err
}
