package main

import (
	"fmt"
	"io"
	"path/filepath"

	units "github.com/docker/go-units"

	"github.com/skroutz/forge/pkg/config"
	"github.com/skroutz/forge/pkg/utils"
)

// clean removes the build directory of each project. Projects that were
// never built are reported and skipped.
func clean(cfg *config.Settings, names []string, out io.Writer) error {
	for _, name := range names {
		if name == "" || name != filepath.Base(name) {
			return fmt.Errorf("invalid project name '%s'", name)
		}
		err := removeDir(cfg, cfg.BuildDir(name), out)
		if err != nil {
			return err
		}
	}
	return nil
}

// removeDir removes dir through the configured filesystem. An absent
// directory is not an error.
func removeDir(cfg *config.Settings, dir string, out io.Writer) error {
	exists, err := utils.PathExists(dir)
	if err != nil {
		return err
	}
	if !exists {
		fmt.Fprintf(out, "nothing to clean at %s\n", dir)
		return nil
	}

	size, _ := utils.DirSize(dir)
	err = cfg.FileSystem.Remove(dir)
	if err != nil {
		return fmt.Errorf("could not remove %s; %s", dir, err)
	}
	fmt.Fprintf(out, "removed %s (%s)\n", dir, units.HumanSize(float64(size)))
	return nil
}
