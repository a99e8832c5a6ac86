package types

import (
	"fmt"
	"time"

	units "github.com/docker/go-units"
)

// Backend identifies one of the build strategies.
type Backend string

const (
	// Docker builds the project inside a container.
	Docker Backend = "docker"

	// UserCommand runs the project's own build command.
	UserCommand Backend = "user"

	// CMake configures, builds and installs with a cross toolchain.
	CMake Backend = "cmake"
)

// BuildOutcome is the result of building a single project in a run.
type BuildOutcome struct {
	Project string
	Backend Backend
	Success bool

	// Err is the reason the build failed. It is nil when Success is true.
	Err error

	// ArtifactErr records a failure to copy the build artifacts to the
	// host. It never affects Success.
	ArtifactErr error

	StartedAt time.Time
	Duration  time.Duration
}

// NewBuildOutcome returns a failed outcome for project, to be filled in
// by the backend.
func NewBuildOutcome(project string, backend Backend) *BuildOutcome {
	o := new(BuildOutcome)
	o.Project = project
	o.Backend = backend
	o.StartedAt = time.Now()
	return o
}

// Finish records err and the elapsed time on o.
func (o *BuildOutcome) Finish(err error) {
	o.Err = err
	o.Success = err == nil
	o.Duration = time.Since(o.StartedAt).Truncate(time.Millisecond)
}

func (o *BuildOutcome) String() string {
	status := "ok"
	if !o.Success {
		status = fmt.Sprintf("failed (%s)", o.Err)
	}
	s := fmt.Sprintf("%s [%s] %s in %s", o.Project, o.Backend, status, units.HumanDuration(o.Duration))
	if o.ArtifactErr != nil {
		s += fmt.Sprintf("; artifacts: %s", o.ArtifactErr)
	}
	return s
}
