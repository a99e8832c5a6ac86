package btrfs

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/skroutz/forge/pkg/filesystem"
	"github.com/skroutz/forge/pkg/process"
)

// Btrfs implements the FileSystem interface. Build directories are
// subvolumes, so cloning a previous build is a Copy-on-Write snapshot.
// Plain directories are copied with reflinks where the kernel allows it.
type Btrfs struct {
	Runner process.Runner
}

func init() {
	filesystem.Registry["btrfs"] = Btrfs{Runner: process.Exec{}}
}

func (fs Btrfs) Create(path string) error {
	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	return fs.runCmd(context.Background(), []string{"btrfs", "subvolume", "create", path})
}

func (fs Btrfs) Clone(ctx context.Context, src, dst string) error {
	if fs.isSubvolume(ctx, src) {
		return fs.runCmd(ctx, []string{"btrfs", "subvolume", "snapshot", src, dst})
	}
	return fs.runCmd(ctx, []string{"cp", "-R", "-p", "--reflink=auto", src, dst})
}

func (fs Btrfs) Remove(path string) error {
	_, err := os.Stat(path)
	if err != nil {
		return nil
	}
	if fs.isSubvolume(context.Background(), path) {
		return fs.runCmd(context.Background(), []string{"btrfs", "subvolume", "delete", path})
	}
	return os.RemoveAll(path)
}

func (fs Btrfs) isSubvolume(ctx context.Context, path string) bool {
	res, err := fs.Runner.Run(ctx, process.Command{Args: []string{"btrfs", "subvolume", "show", path}}, nil)
	return err == nil && res.Success()
}

func (fs Btrfs) runCmd(ctx context.Context, args []string) error {
	var out []string
	res, err := fs.Runner.Run(ctx, process.Command{Args: args}, func(l string) { out = append(out, l) })
	if err != nil {
		return err
	}
	if !res.Success() {
		return fmt.Errorf("'%s' exited with %d (%s)", strings.Join(args, " "), res.ExitCode, strings.Join(out, "; "))
	}
	return nil
}
