package plainfs

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/skroutz/forge/pkg/filesystem"
	"github.com/skroutz/forge/pkg/process"
	"github.com/skroutz/forge/pkg/utils"
)

// PlainFS implements the FileSystem interface. It uses plain `cp` and `mkdir`
// semantics.
type PlainFS struct {
	Runner process.Runner
}

func init() {
	filesystem.Registry["plain"] = PlainFS{Runner: process.Exec{}}
}

// Create creates a new directory at path
func (fs PlainFS) Create(path string) error {
	return utils.EnsureDirExists(path)
}

// Clone recursively copies src to dst, preserving modes and times.
func (fs PlainFS) Clone(ctx context.Context, src, dst string) error {
	return runCmd(ctx, fs.Runner, []string{"cp", "-R", "-p", src, dst})
}

// Remove deletes the path and all its contents
func (fs PlainFS) Remove(path string) error {
	return os.RemoveAll(path)
}

func runCmd(ctx context.Context, r process.Runner, args []string) error {
	var out []string
	res, err := r.Run(ctx, process.Command{Args: args}, func(l string) { out = append(out, l) })
	if err != nil {
		return err
	}
	if !res.Success() {
		return fmt.Errorf("'%s' exited with %d (%s)", strings.Join(args, " "), res.ExitCode, strings.Join(out, "; "))
	}
	return nil
}
