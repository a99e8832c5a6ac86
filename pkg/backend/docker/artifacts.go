package docker

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"

	units "github.com/docker/go-units"

	"github.com/skroutz/forge/pkg/config"
	"github.com/skroutz/forge/pkg/process"
	"github.com/skroutz/forge/pkg/types"
	"github.com/skroutz/forge/pkg/utils"
)

// extractArtifacts copies the result directory of p, as left in the
// mounted build context, to the project's build directory. The returned
// error is a warning: the build itself has already succeeded.
func (b *Builder) extractArtifacts(ctx context.Context, p config.Project, ctxDir string, log *log.Logger) error {
	if p.ResultDir == "" {
		log.Print("no result directory configured, skipping artifacts")
		return nil
	}

	src := filepath.Join(ctxDir, p.ResultDir)
	dst := b.cfg.BuildDir(p.Name)

	err := process.WithDeadline(ctx, b.ArtifactTimeout, "artifact copy", func(ctx context.Context) error {
		return b.copyArtifacts(ctx, src, dst)
	})
	if err != nil {
		var copyErr types.ErrArtifactCopy
		if errors.As(err, &copyErr) {
			return err
		}
		return types.ErrArtifactCopy{Src: src, Dst: dst, Err: err}
	}

	size, err := utils.DirSize(dst)
	if err == nil {
		log.Printf("artifacts copied to %s (%s)", dst, units.HumanSize(float64(size)))
	}
	return nil
}

// copyArtifacts copies every entry of src into dst. Directories already
// present in dst are replaced as a whole; files are overwritten.
func (b *Builder) copyArtifacts(ctx context.Context, src, dst string) error {
	err := utils.PathIsDir(src)
	if err != nil {
		return types.ErrArtifactCopy{Src: src, Dst: dst, Err: err}
	}

	fs := b.cfg.FileSystem
	err = fs.Create(dst)
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		from := filepath.Join(src, e.Name())
		to := filepath.Join(dst, e.Name())

		if e.IsDir() {
			err = fs.Remove(to)
			if err != nil {
				return err
			}
		}
		err = fs.Clone(ctx, from, to)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}
