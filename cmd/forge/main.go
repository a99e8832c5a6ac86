// Copyright 2018-present Skroutz S.A.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli"

	"github.com/skroutz/forge/pkg/backend/docker"
	"github.com/skroutz/forge/pkg/config"
	"github.com/skroutz/forge/pkg/filesystem"
	_ "github.com/skroutz/forge/pkg/filesystem/btrfs"
	_ "github.com/skroutz/forge/pkg/filesystem/plainfs"
	"github.com/skroutz/forge/pkg/orchestrator"
	"github.com/skroutz/forge/pkg/process"
)

// Version contains the release version of forge, adhering to SemVer.
const Version = "0.1.0"

// VersionSuffix is populated at build-time with -ldflags and typically
// contains the Git SHA1 of the tip that the binary is build from. It is then
// appended to Version.
var VersionSuffix string

// env holds what the application takes from the outside world, so that
// tests can replace it.
type env struct {
	stdout io.Writer
	log    *log.Logger
	getenv func(string) string
	runner process.Runner
	dial   docker.Dialer
}

func main() {
	cli.AppHelpTemplate = fmt.Sprintf(`%s
ARGUMENTS:
   Any arguments that are not a command are taken as the names of the
   projects to build, in the given order. Without arguments every
   configured project is built.
`, cli.AppHelpTemplate)

	e := env{
		stdout: os.Stdout,
		log:    log.New(os.Stderr, "[forge] ", log.LstdFlags),
		getenv: os.Getenv,
		runner: process.Exec{},
		dial:   docker.Dial,
	}

	err := newApp(e).Run(os.Args)
	if err != nil {
		e.log.Print(err)
		os.Exit(1)
	}
}

func newApp(e env) *cli.App {
	app := cli.NewApp()
	app.Name = "forge"
	app.Usage = "build heterogeneous native projects with CMake, custom commands or Docker"
	app.UsageText = "forge [global options] [command | project...]"
	app.Version = Version
	if VersionSuffix != "" {
		app.Version = Version + "-" + VersionSuffix[:7]
	}
	app.Writer = e.stdout
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Value: config.DefaultFile,
			Usage: "Load the project configuration from `FILE` (JSON, or YAML by extension)",
		},
		cli.StringFlag{
			Name:  "base",
			Usage: "Directory holding the toolchains (config/) and sources (code/). Defaults to the directory of the executable",
		},
		cli.StringFlag{
			Name:  "work",
			Usage: "Directory holding docker/ and build/. Defaults to the current directory",
		},
		cli.StringFlag{
			Name:  "filesystem",
			Value: "plain",
			Usage: "Which filesystem adapter to use. Options: " + "[" + strings.Join(filesystem.Names(), ", ") + "]",
		},
		cli.StringFlag{
			Name:  "generator, G",
			Value: "Ninja",
			Usage: "CMake generator",
		},
		cli.IntFlag{
			Name:  "jobs, j",
			Usage: "Parallel jobs passed to the build tool (default: number of CPUs)",
		},
		cli.BoolFlag{
			Name:  "fail-fast",
			Usage: "Stop at the first project that fails",
		},
	}

	app.Action = func(c *cli.Context) error {
		cfg, err := settingsFromCli(c)
		if err != nil {
			return err
		}
		conf, err := config.Load(configPath(c, cfg))
		if err != nil {
			return err
		}

		ec := docker.ExecContextFromEnv(e.getenv)
		if ec.InContainer {
			e.log.Printf("running inside the build container of '%s'", ec.Project)
		}

		o := orchestrator.New(conf, ec, orchestrator.Builders(cfg, ec, e.runner, e.dial, e.log), e.log)
		o.FailFast = c.Bool("fail-fast")
		outcomes := o.Run(context.Background(), c.Args())
		if orchestrator.Failed(outcomes) {
			if len(outcomes) == 0 {
				return fmt.Errorf("no projects to build")
			}
			return fmt.Errorf("build failed")
		}
		return nil
	}

	app.Commands = []cli.Command{
		{
			Name:      "clean",
			Usage:     "Remove the build directories of the given projects, or of every configured project.",
			ArgsUsage: "[project...]",
			Action: func(c *cli.Context) error {
				cfg, err := settingsFromCli(c.Parent())
				if err != nil {
					return err
				}
				names := []string(c.Args())
				if len(names) == 0 {
					conf, err := config.Load(configPath(c.Parent(), cfg))
					if err != nil {
						return err
					}
					names = conf.Names()
				}
				return clean(cfg, names, e.stdout)
			},
		},
		{
			Name:  "dclean",
			Usage: "Remove the whole build directory.",
			Action: func(c *cli.Context) error {
				cfg, err := settingsFromCli(c.Parent())
				if err != nil {
					return err
				}
				return removeDir(cfg, cfg.BuildRoot(), e.stdout)
			},
		},
		{
			Name:  "list",
			Usage: "List the configured projects.",
			Action: func(c *cli.Context) error {
				cfg, err := settingsFromCli(c.Parent())
				if err != nil {
					return err
				}
				conf, err := config.Load(configPath(c.Parent(), cfg))
				if err != nil {
					return err
				}
				for _, name := range conf.Names() {
					fmt.Fprintln(e.stdout, name)
				}
				return nil
			},
		},
	}

	return app
}

func settingsFromCli(c *cli.Context) (*config.Settings, error) {
	fs, err := filesystem.Get(c.String("filesystem"))
	if err != nil {
		return nil, err
	}

	work := c.String("work")
	if work == "" {
		work, err = os.Getwd()
		if err != nil {
			return nil, err
		}
	}
	work, err = filepath.Abs(work)
	if err != nil {
		return nil, err
	}

	base := c.String("base")
	if base == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("cannot locate the executable; %s", err)
		}
		base = filepath.Dir(exe)
	}
	base, err = filepath.Abs(base)
	if err != nil {
		return nil, err
	}

	cfg := config.NewSettings(base, work, fs)
	cfg.Generator = c.String("generator")
	if j := c.Int("jobs"); j > 0 {
		cfg.Jobs = j
	}
	return cfg, nil
}

func configPath(c *cli.Context, cfg *config.Settings) string {
	return cfg.Abs(c.String("config"))
}
