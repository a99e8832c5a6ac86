package types

import (
	"fmt"
	"strings"
	"time"
)

// ErrConfig indicates the configuration document could not be read or is
// malformed. It aborts the whole run.
type ErrConfig struct {
	Path string
	Err  error
}

func (e ErrConfig) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid configuration: %s", e.Err)
	}
	return fmt.Sprintf("invalid configuration '%s': %s", e.Path, e.Err)
}

func (e ErrConfig) Unwrap() error { return e.Err }

// ErrMissingToolchain indicates that no toolchain file exists for the
// platform/compiler pair of a project.
type ErrMissingToolchain struct {
	Path string
}

func (e ErrMissingToolchain) Error() string {
	return fmt.Sprintf("toolchain file not found: %s", e.Path)
}

// ErrProcessLaunch indicates the executable could not be started at all.
// There is no exit code associated with it.
type ErrProcessLaunch struct {
	Cmd string
	Err error
}

func (e ErrProcessLaunch) Error() string {
	return fmt.Sprintf("could not launch '%s': %s", e.Cmd, e.Err)
}

func (e ErrProcessLaunch) Unwrap() error { return e.Err }

// ErrProcessExit indicates a process ran and exited with a non-zero code.
type ErrProcessExit struct {
	Stage string
	Cmd   string
	Code  int
}

func (e ErrProcessExit) Error() string {
	return fmt.Sprintf("%s: '%s' exited with code %d", e.Stage, e.Cmd, e.Code)
}

// ErrDockerUnavailable indicates the Docker daemon could not be reached.
type ErrDockerUnavailable struct {
	Err error
}

func (e ErrDockerUnavailable) Error() string {
	return fmt.Sprintf("docker is unavailable: %s", e.Err)
}

func (e ErrDockerUnavailable) Unwrap() error { return e.Err }

// ErrImageBuild indicates an error occurred while building a Docker image.
type ErrImageBuild struct {
	Image string
	Err   error
}

func (e ErrImageBuild) Error() string {
	return fmt.Sprintf("could not build docker image '%s': %s", e.Image, e.Err)
}

func (e ErrImageBuild) Unwrap() error { return e.Err }

// ErrContainerCreate indicates a container could not be created or started.
type ErrContainerCreate struct {
	Name string
	Err  error
}

func (e ErrContainerCreate) Error() string {
	return fmt.Sprintf("could not create container '%s': %s", e.Name, e.Err)
}

func (e ErrContainerCreate) Unwrap() error { return e.Err }

// ErrArtifactCopy indicates the build artifacts could not be materialized
// on the host. It never fails a build.
type ErrArtifactCopy struct {
	Src string
	Dst string
	Err error
}

func (e ErrArtifactCopy) Error() string {
	return fmt.Sprintf("could not copy artifacts from '%s' to '%s': %s", e.Src, e.Dst, e.Err)
}

func (e ErrArtifactCopy) Unwrap() error { return e.Err }

// ErrTimeout indicates an operation exceeded its deadline.
type ErrTimeout struct {
	Op    string
	After time.Duration
}

func (e ErrTimeout) Error() string {
	return fmt.Sprintf("%s did not finish after %s", e.Op, e.After)
}

// CmdString renders argv for log and error messages.
func CmdString(args []string) string {
	return strings.Join(args, " ")
}
