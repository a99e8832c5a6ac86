package docker

import (
	"fmt"

	"github.com/distribution/reference"
	"github.com/google/uuid"

	"github.com/skroutz/forge/pkg/utils"
)

// State is the lifecycle state of a build container.
type State int

const (
	Absent State = iota
	Created
	Running
	Exited
	Removed
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Created:
		return "created"
	case Running:
		return "running"
	case Exited:
		return "exited"
	case Removed:
		return "removed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ContainerHandle tracks a container through its lifecycle.
type ContainerHandle struct {
	Name     string
	ID       string
	State    State
	ExitCode int

	// owned is true when the container was created by this run, which
	// makes it eligible for removal on failure.
	owned bool
}

// transition moves h to state to. Any state but Removed can move to
// Removed; an exited container may be started again.
func (h *ContainerHandle) transition(to State) error {
	ok := false
	switch to {
	case Created:
		ok = h.State == Absent
	case Running:
		ok = h.State == Created || h.State == Exited
	case Exited:
		ok = h.State == Running
	case Removed:
		ok = h.State != Removed
	}
	if !ok {
		return fmt.Errorf("container %s: invalid transition %s -> %s", h.Name, h.State, to)
	}
	h.State = to
	return nil
}

// ContainerName is the deterministic name of the long-lived container of
// project built from image.
func ContainerName(project, image string) string {
	return utils.SanitizeName(project + "_" + image)
}

// ephemeralName returns a fresh name for a single-use container.
func ephemeralName(project, image string) string {
	return ContainerName(project, image) + "-run-" + uuid.New().String()[:8]
}

// ImageRef is an image tag and whether it exists locally.
type ImageRef struct {
	Tag     string
	Present bool
}

// NormalizeImage validates tag and returns it in its familiar form with
// an explicit tag, e.g. "gcc" becomes "gcc:latest".
func NormalizeImage(tag string) (string, error) {
	named, err := reference.ParseNormalizedNamed(tag)
	if err != nil {
		return "", fmt.Errorf("invalid docker image '%s': %s", tag, err)
	}
	return reference.FamiliarString(reference.TagNameOnly(named)), nil
}
