// Package backend decides which build strategy handles a project.
package backend

import (
	"context"

	"github.com/skroutz/forge/pkg/config"
	"github.com/skroutz/forge/pkg/types"
)

// Builder builds a single project with one strategy.
type Builder interface {
	// Build builds p. A nil error means the build succeeded. Builders
	// that produce artifacts record copy failures on o.ArtifactErr
	// instead of returning them.
	Build(ctx context.Context, p config.Project, o *types.BuildOutcome) error
}

// Select returns the backend for p. A configured dockerfile wins over
// everything else, then a user build command; CMake is the fallback.
func Select(p config.Project) types.Backend {
	if p.Dockerfile != "" {
		return types.Docker
	}
	return SelectNative(p)
}

// SelectNative returns the backend for p ignoring any Docker settings.
// It is what runs inside a build container.
func SelectNative(p config.Project) types.Backend {
	if p.UserBuildCmd.IsSet() {
		return types.UserCommand
	}
	return types.CMake
}
