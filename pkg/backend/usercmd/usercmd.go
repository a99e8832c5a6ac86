// Package usercmd builds projects by running their own build command in
// the project's code directory.
package usercmd

import (
	"context"
	"fmt"
	"io/ioutil"
	"log"

	"github.com/skroutz/forge/pkg/backend"
	"github.com/skroutz/forge/pkg/config"
	"github.com/skroutz/forge/pkg/process"
	"github.com/skroutz/forge/pkg/types"
	"github.com/skroutz/forge/pkg/utils"
)

// Builder implements backend.Builder for user-defined commands.
type Builder struct {
	cfg    *config.Settings
	runner process.Runner
	log    *log.Logger
}

var _ backend.Builder = (*Builder)(nil)

// New returns a Builder. If logger is nil, logs are disabled.
func New(cfg *config.Settings, runner process.Runner, logger *log.Logger) *Builder {
	if logger == nil {
		logger = log.New(ioutil.Discard, "", 0)
	}
	return &Builder{cfg: cfg, runner: runner, log: logger}
}

// Build runs p.UserBuildCmd verbatim inside p's code directory. Shell
// strings go through sh -c, argument vectors are executed directly.
func (b *Builder) Build(ctx context.Context, p config.Project, o *types.BuildOutcome) error {
	log := log.New(b.log.Writer(), fmt.Sprintf("[user] [%s] ", p.Name), b.log.Flags())

	if !p.UserBuildCmd.IsSet() {
		return fmt.Errorf("no build command configured for '%s'", p.Name)
	}

	dir := b.cfg.CodeDir(p.Name)
	err := utils.PathIsDir(dir)
	if err != nil {
		return fmt.Errorf("project directory %s: %s", dir, err)
	}

	cmd := p.UserBuildCmd.Command(dir)
	log.Printf("running %s in %s", p.UserBuildCmd, dir)
	res, err := b.runner.Run(ctx, cmd, func(l string) { log.Print(l) })
	if err != nil {
		return err
	}
	if !res.Success() {
		return types.ErrProcessExit{Stage: "build", Cmd: cmd.String(), Code: res.ExitCode}
	}

	log.Print("build succeeded")
	return nil
}
