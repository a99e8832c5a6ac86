// Package cmake builds projects with a cross-compiling CMake toolchain:
// configure, build and install, each stage gated on the previous one.
package cmake

import (
	"context"
	"fmt"
	"io/ioutil"
	"log"
	"strconv"
	"strings"

	"github.com/skroutz/forge/pkg/backend"
	"github.com/skroutz/forge/pkg/config"
	"github.com/skroutz/forge/pkg/process"
	"github.com/skroutz/forge/pkg/types"
	"github.com/skroutz/forge/pkg/utils"
)

// Builder implements backend.Builder using cmake.
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

type stage struct {
	name string
	args []string
}

// Build locates the toolchain of p and runs the configure, build and
// install stages in p's build directory.
func (b *Builder) Build(ctx context.Context, p config.Project, o *types.BuildOutcome) error {
	log := log.New(b.log.Writer(), fmt.Sprintf("[cmake] [%s] ", p.Name), b.log.Flags())
	log.Printf("platform=%s compiler=%s type=%s cflags=%q lflags=%q",
		p.Platform, p.Compiler, p.Type, p.CFlags, p.LFlags)

	toolchain := b.cfg.ToolchainFile(p.Platform, p.Compiler)
	ok, err := utils.PathExists(toolchain)
	if err != nil {
		return err
	}
	if !ok {
		return types.ErrMissingToolchain{Path: toolchain}
	}
	log.Printf("toolchain: %s", toolchain)

	buildDir := b.cfg.BuildDir(p.Name)
	err = b.cfg.FileSystem.Create(buildDir)
	if err != nil {
		return fmt.Errorf("could not create build directory %s; %s", buildDir, err)
	}

	stages := []stage{
		{"configure", ConfigureArgs(b.cfg, p)},
		{"build", []string{"cmake", "--build", buildDir, "--parallel", strconv.Itoa(b.cfg.Jobs)}},
		{"install", []string{"cmake", "--install", buildDir}},
	}
	for _, s := range stages {
		log.Printf("%s: %s", s.name, types.CmdString(s.args))
		res, err := b.runner.Run(ctx, process.Command{Args: s.args}, func(l string) { log.Print(l) })
		if err != nil {
			return err
		}
		if !res.Success() {
			return types.ErrProcessExit{Stage: s.name, Cmd: types.CmdString(s.args), Code: res.ExitCode}
		}
	}

	log.Print("build succeeded")
	return nil
}

// ConfigureArgs returns the cmake invocation that configures p. Flag
// lists are joined with spaces; empty lists omit the variable entirely.
func ConfigureArgs(cfg *config.Settings, p config.Project) []string {
	args := []string{
		"cmake",
		"-S", cfg.CodeDir(p.Name),
		"-B", cfg.BuildDir(p.Name),
		"-G", cfg.Generator,
		"-DCMAKE_TOOLCHAIN_FILE=" + cfg.ToolchainFile(p.Platform, p.Compiler),
		"-DCMAKE_BUILD_TYPE=" + p.Type,
	}
	if len(p.CFlags) > 0 {
		args = append(args, "-DCMAKE_CXX_FLAGS="+strings.Join(p.CFlags, " "))
	}
	if len(p.LFlags) > 0 {
		args = append(args, "-DCMAKE_EXE_LINKER_FLAGS="+strings.Join(p.LFlags, " "))
	}
	return args
}
