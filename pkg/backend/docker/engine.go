package docker

import (
	"context"
	"errors"
	"io"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
)

// Engine is the subset of the Docker API the backend drives.
type Engine interface {
	// ImageExists reports whether ref is present locally.
	ImageExists(ctx context.Context, ref string) (bool, error)

	// BuildImage builds and tags ref from the tar stream buildContext,
	// using the Dockerfile at the given path inside it. Progress is
	// written to out as it arrives.
	BuildImage(ctx context.Context, ref string, buildContext io.Reader, dockerfile string, out io.Writer) error

	// InspectContainer looks up a container by name. found is false if
	// there is no such container.
	InspectContainer(ctx context.Context, name string) (info ContainerInfo, found bool, err error)

	CreateContainer(ctx context.Context, spec ContainerSpec) (id string, err error)
	StartContainer(ctx context.Context, id string) error

	// FollowLogs writes the output of a non-TTY container to out until
	// the container exits.
	FollowLogs(ctx context.Context, id string, out io.Writer) error

	// WaitContainer blocks until the container stops and returns its
	// exit code.
	WaitContainer(ctx context.Context, id string) (int, error)

	// Exec runs a command inside a running container, writing its
	// output to out, and returns the command's exit code.
	Exec(ctx context.Context, id string, spec ExecSpec, out io.Writer) (int, error)

	// RemoveContainer force-removes a container.
	RemoveContainer(ctx context.Context, id string) error

	Close() error
}

// Dialer connects to a Docker daemon.
type Dialer func(ctx context.Context) (Engine, error)

// ContainerInfo is the part of a container's state the backend cares
// about.
type ContainerInfo struct {
	ID       string
	Running  bool
	ExitCode int
}

// Bind mounts a host path into a container.
type Bind struct {
	Source string
	Target string
}

// ContainerSpec describes a container to create.
type ContainerSpec struct {
	Name       string
	Image      string
	Cmd        []string
	Env        []string
	WorkingDir string
	Binds      []Bind

	// TTY allocates a pseudo-terminal and keeps stdin open.
	TTY bool
}

// ExecSpec describes a command to run in an existing container.
type ExecSpec struct {
	Cmd        []string
	Env        []string
	WorkingDir string
}

// sdkEngine implements Engine on top of the Docker Engine API client.
type sdkEngine struct {
	c *client.Client
}

var _ Engine = (*sdkEngine)(nil)

// Dial returns an Engine connected to the daemon configured in the
// environment (DOCKER_HOST etc.), after verifying it answers a ping.
func Dial(ctx context.Context) (Engine, error) {
	c, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}

	_, err = c.Ping(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}
	return &sdkEngine{c: c}, nil
}

func (e *sdkEngine) ImageExists(ctx context.Context, ref string) (bool, error) {
	_, err := e.c.ImageInspect(ctx, ref)
	if err == nil {
		return true, nil
	}
	if cerrdefs.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

func (e *sdkEngine) BuildImage(ctx context.Context, ref string, buildContext io.Reader, dockerfile string, out io.Writer) error {
	opts := dockertypes.ImageBuildOptions{
		Tags:        []string{ref},
		Dockerfile:  dockerfile,
		Remove:      true,
		ForceRemove: true,
	}
	resp, err := e.c.ImageBuild(ctx, buildContext, opts)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return jsonmessage.DisplayJSONMessagesStream(resp.Body, out, 0, false, nil)
}

func (e *sdkEngine) InspectContainer(ctx context.Context, name string) (ContainerInfo, bool, error) {
	res, err := e.c.ContainerInspect(ctx, name)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return ContainerInfo{}, false, nil
		}
		return ContainerInfo{}, false, err
	}

	info := ContainerInfo{ID: res.ID}
	if res.State != nil {
		info.Running = res.State.Running
		info.ExitCode = res.State.ExitCode
	}
	return info, true, nil
}

func (e *sdkEngine) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	config := container.Config{
		Image:        spec.Image,
		Cmd:          spec.Cmd,
		Env:          spec.Env,
		WorkingDir:   spec.WorkingDir,
		Tty:          spec.TTY,
		OpenStdin:    spec.TTY,
		AttachStdout: true,
		AttachStderr: true,
	}

	mnts := []mount.Mount{}
	for _, b := range spec.Binds {
		mnts = append(mnts, mount.Mount{Type: mount.TypeBind, Source: b.Source, Target: b.Target})
	}
	hostConfig := container.HostConfig{Mounts: mnts, AutoRemove: false}

	res, err := e.c.ContainerCreate(ctx, &config, &hostConfig, nil, nil, spec.Name)
	if err != nil {
		return "", err
	}
	return res.ID, nil
}

func (e *sdkEngine) StartContainer(ctx context.Context, id string) error {
	return e.c.ContainerStart(ctx, id, container.StartOptions{})
}

func (e *sdkEngine) FollowLogs(ctx context.Context, id string, out io.Writer) error {
	logs, err := e.c.ContainerLogs(ctx, id,
		container.LogsOptions{Follow: true, ShowStdout: true, ShowStderr: true})
	if err != nil {
		return err
	}
	defer logs.Close()

	_, err = stdcopy.StdCopy(out, out, logs)
	return err
}

func (e *sdkEngine) WaitContainer(ctx context.Context, id string) (int, error) {
	statusC, errC := e.c.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errC:
		return 0, err
	case status := <-statusC:
		if status.Error != nil && status.Error.Message != "" {
			return 0, errors.New(status.Error.Message)
		}
		return int(status.StatusCode), nil
	}
}

func (e *sdkEngine) Exec(ctx context.Context, id string, spec ExecSpec, out io.Writer) (int, error) {
	ex, err := e.c.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          spec.Cmd,
		Env:          spec.Env,
		WorkingDir:   spec.WorkingDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return 0, err
	}

	att, err := e.c.ContainerExecAttach(ctx, ex.ID, container.ExecAttachOptions{})
	if err != nil {
		return 0, err
	}
	defer att.Close()

	_, err = stdcopy.StdCopy(out, out, att.Reader)
	if err != nil {
		return 0, err
	}

	// the stream may close slightly before the daemon records the exit
	for i := 0; i < 50; i++ {
		insp, err := e.c.ContainerExecInspect(ctx, ex.ID)
		if err != nil {
			return 0, err
		}
		if !insp.Running {
			return insp.ExitCode, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return 0, errors.New("exec did not report an exit code")
}

func (e *sdkEngine) RemoveContainer(ctx context.Context, id string) error {
	return e.c.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}

func (e *sdkEngine) Close() error {
	return e.c.Close()
}
