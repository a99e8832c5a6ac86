// Package orchestrator builds a list of projects one after the other,
// each with the backend selected for it.
package orchestrator

import (
	"context"
	"fmt"
	"io/ioutil"
	"log"
	"time"

	units "github.com/docker/go-units"

	"github.com/skroutz/forge/pkg/backend"
	"github.com/skroutz/forge/pkg/backend/cmake"
	"github.com/skroutz/forge/pkg/backend/docker"
	"github.com/skroutz/forge/pkg/backend/usercmd"
	"github.com/skroutz/forge/pkg/config"
	"github.com/skroutz/forge/pkg/process"
	"github.com/skroutz/forge/pkg/types"
)

// Builders wires the three backends. Inside a build container the Docker
// backend runs its command through runner, or falls back to the other two.
func Builders(cfg *config.Settings, ec docker.ExecContext, runner process.Runner, dial docker.Dialer, logger *log.Logger) map[types.Backend]backend.Builder {
	native := map[types.Backend]backend.Builder{
		types.CMake:       cmake.New(cfg, runner, logger),
		types.UserCommand: usercmd.New(cfg, runner, logger),
	}
	return map[types.Backend]backend.Builder{
		types.CMake:       native[types.CMake],
		types.UserCommand: native[types.UserCommand],
		types.Docker:      docker.New(cfg, ec, dial, runner, native, logger),
	}
}

// Orchestrator dispatches projects to their builders.
type Orchestrator struct {
	conf     *config.Config
	ec       docker.ExecContext
	builders map[types.Backend]backend.Builder
	log      *log.Logger

	// FailFast stops the run at the first failed project.
	FailFast bool
}

// New returns an Orchestrator for the projects of conf. If logger is nil,
// logs are disabled.
func New(conf *config.Config, ec docker.ExecContext, builders map[types.Backend]backend.Builder, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(ioutil.Discard, "", 0)
	}
	return &Orchestrator{conf: conf, ec: ec, builders: builders, log: logger}
}

// Run builds the projects named in names, in order. If names is empty,
// every configured project is built. Inside a build container only the
// container's project is built.
//
// Failures are scoped to their project: the outcome records the error
// and the run moves on to the next project.
func (o *Orchestrator) Run(ctx context.Context, names []string) []*types.BuildOutcome {
	if o.ec.InContainer {
		if len(names) > 0 && (len(names) != 1 || names[0] != o.ec.Project) {
			o.log.Printf("running inside the build container of '%s', ignoring %v", o.ec.Project, names)
		}
		names = []string{o.ec.Project}
	} else if len(names) == 0 {
		names = o.conf.Names()
	}

	if len(names) == 0 {
		o.log.Print("no projects to build")
		return nil
	}

	start := time.Now()
	outcomes := make([]*types.BuildOutcome, 0, len(names))
	for i, name := range names {
		out := o.build(ctx, name)
		outcomes = append(outcomes, out)

		if !out.Success && o.FailFast && i < len(names)-1 {
			o.log.Printf("stopping after failed project '%s', skipping %v", name, names[i+1:])
			break
		}
	}

	o.log.Printf("built %d/%d projects in %s", succeeded(outcomes), len(outcomes),
		units.HumanDuration(time.Since(start)))
	for _, out := range outcomes {
		o.log.Print(out)
	}
	return outcomes
}

func (o *Orchestrator) build(ctx context.Context, name string) *types.BuildOutcome {
	p, ok := o.conf.Project(name)
	if !ok {
		out := types.NewBuildOutcome(name, "")
		out.Finish(fmt.Errorf("unknown project '%s'", name))
		o.log.Print(out.Err)
		return out
	}

	kind := backend.Select(p)
	out := types.NewBuildOutcome(name, kind)

	b, ok := o.builders[kind]
	if !ok {
		out.Finish(fmt.Errorf("no %s builder configured", kind))
		o.log.Print(out.Err)
		return out
	}

	o.log.Printf("building '%s' with %s", name, kind)
	err := b.Build(ctx, p, out)
	out.Finish(err)
	if err != nil {
		o.log.Printf("'%s' failed: %s", name, err)
	}
	return out
}

// Failed reports whether the run should exit with an error: nothing was
// built or at least one project failed.
func Failed(outcomes []*types.BuildOutcome) bool {
	if len(outcomes) == 0 {
		return true
	}
	return succeeded(outcomes) != len(outcomes)
}

func succeeded(outcomes []*types.BuildOutcome) int {
	n := 0
	for _, out := range outcomes {
		if out.Success {
			n++
		}
	}
	return n
}
