// Package dockertest provides an in-memory docker.Engine for tests.
package dockertest

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"sync"

	"github.com/skroutz/forge/pkg/backend/docker"
)

// Container is a container known to an Engine.
type Container struct {
	ID      string
	Spec    docker.ContainerSpec
	Running bool
	Removed bool
}

// Engine fakes a Docker daemon. Images and containers live in memory;
// the zero value is an empty daemon.
//
// The Err fields make the corresponding method fail. Output is written
// to the caller for builds, logs and execs.
type Engine struct {
	mu sync.Mutex

	Images     map[string]bool
	Containers map[string]*Container

	// ExitCode is the exit code of every container run or exec.
	ExitCode int
	Output   string

	// OnRun is called with the command each time a build runs inside
	// a container, before it exits. Tests use it to leave
	// artifacts in the mounted context.
	OnRun func(cmd []string)

	// BuildSkipsTag makes BuildImage succeed without tagging the image.
	BuildSkipsTag bool

	// BuildRejectsContext makes BuildImage fail with BuildErr before
	// reading the build context, the way the daemon rejects a request.
	BuildRejectsContext bool

	BuildErr  error
	CreateErr error
	StartErr  error
	ExecErr   error
	RemoveErr error

	// Calls lists the names of the methods invoked, in order.
	Calls []string

	// Builds records every image build.
	Builds []Build

	Execs  []docker.ExecSpec
	Closed bool

	nextID int
}

// Build records an image build.
type Build struct {
	Ref        string
	Dockerfile string
	Context    []byte
}

var _ docker.Engine = (*Engine)(nil)

// Dialer returns a docker.Dialer that hands out e.
func (e *Engine) Dialer() docker.Dialer {
	return func(context.Context) (docker.Engine, error) {
		return e, nil
	}
}

// FailingDialer returns a docker.Dialer that always fails with err.
func FailingDialer(err error) docker.Dialer {
	return func(context.Context) (docker.Engine, error) {
		return nil, err
	}
}

func (e *Engine) record(call string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Calls = append(e.Calls, call)
}

func (e *Engine) ImageExists(_ context.Context, ref string) (bool, error) {
	e.record("ImageExists")
	return e.Images[ref], nil
}

func (e *Engine) BuildImage(_ context.Context, ref string, buildContext io.Reader, dockerfile string, out io.Writer) error {
	e.record("BuildImage")
	if e.BuildRejectsContext {
		return e.BuildErr
	}
	tar, err := ioutil.ReadAll(buildContext)
	if err != nil {
		return err
	}
	e.Builds = append(e.Builds, Build{Ref: ref, Dockerfile: dockerfile, Context: tar})

	fmt.Fprintf(out, "Step 1/1 : building %s\n", ref)
	if e.BuildErr != nil {
		return e.BuildErr
	}
	if !e.BuildSkipsTag {
		if e.Images == nil {
			e.Images = make(map[string]bool)
		}
		e.Images[ref] = true
	}
	return nil
}

func (e *Engine) lookup(name string) *Container {
	for _, c := range e.Containers {
		if c.Spec.Name == name && !c.Removed {
			return c
		}
	}
	return nil
}

func (e *Engine) InspectContainer(_ context.Context, name string) (docker.ContainerInfo, bool, error) {
	e.record("InspectContainer")
	c := e.lookup(name)
	if c == nil {
		return docker.ContainerInfo{}, false, nil
	}
	return docker.ContainerInfo{ID: c.ID, Running: c.Running}, true, nil
}

// AddContainer registers an existing container, as if left over by a
// previous run.
func (e *Engine) AddContainer(spec docker.ContainerSpec, running bool) *Container {
	if e.Containers == nil {
		e.Containers = make(map[string]*Container)
	}
	e.nextID++
	c := &Container{ID: fmt.Sprintf("c%d", e.nextID), Spec: spec, Running: running}
	e.Containers[c.ID] = c
	return c
}

func (e *Engine) CreateContainer(_ context.Context, spec docker.ContainerSpec) (string, error) {
	e.record("CreateContainer")
	if e.CreateErr != nil {
		return "", e.CreateErr
	}
	if e.lookup(spec.Name) != nil {
		return "", fmt.Errorf("conflict: name %s in use", spec.Name)
	}
	return e.AddContainer(spec, false).ID, nil
}

func (e *Engine) StartContainer(_ context.Context, id string) error {
	e.record("StartContainer")
	if e.StartErr != nil {
		return e.StartErr
	}
	c, ok := e.Containers[id]
	if !ok || c.Removed {
		return fmt.Errorf("no such container: %s", id)
	}
	c.Running = true
	return nil
}

func (e *Engine) FollowLogs(_ context.Context, id string, out io.Writer) error {
	e.record("FollowLogs")
	c, ok := e.Containers[id]
	if !ok {
		return fmt.Errorf("no such container: %s", id)
	}
	if e.OnRun != nil {
		e.OnRun(c.Spec.Cmd)
	}
	io.WriteString(out, e.Output)
	c.Running = false
	return nil
}

func (e *Engine) WaitContainer(_ context.Context, id string) (int, error) {
	e.record("WaitContainer")
	return e.ExitCode, nil
}

func (e *Engine) Exec(_ context.Context, id string, spec docker.ExecSpec, out io.Writer) (int, error) {
	e.record("Exec")
	if e.ExecErr != nil {
		return 0, e.ExecErr
	}
	c, ok := e.Containers[id]
	if !ok || !c.Running {
		return 0, fmt.Errorf("container %s is not running", id)
	}
	e.Execs = append(e.Execs, spec)
	if e.OnRun != nil {
		e.OnRun(spec.Cmd)
	}
	io.WriteString(out, e.Output)
	return e.ExitCode, nil
}

func (e *Engine) RemoveContainer(_ context.Context, id string) error {
	e.record("RemoveContainer")
	if e.RemoveErr != nil {
		return e.RemoveErr
	}
	c, ok := e.Containers[id]
	if !ok || c.Removed {
		return fmt.Errorf("no such container: %s", id)
	}
	c.Removed = true
	c.Running = false
	return nil
}

func (e *Engine) Close() error {
	e.record("Close")
	e.Closed = true
	return nil
}

// Live returns the containers that have not been removed.
func (e *Engine) Live() []*Container {
	var live []*Container
	for _, c := range e.Containers {
		if !c.Removed {
			live = append(live, c)
		}
	}
	return live
}

// Count returns how many times method was called.
func (e *Engine) Count(method string) int {
	n := 0
	for _, c := range e.Calls {
		if c == method {
			n++
		}
	}
	return n
}
