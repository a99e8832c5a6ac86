package config

import (
	"path/filepath"
	"runtime"

	"github.com/skroutz/forge/pkg/filesystem"
)

// Settings holds the values every component of a run needs. It is
// constructed once by the entry point and passed down.
type Settings struct {
	// BaseDir is the install location of forge. Toolchain files live
	// under BaseDir/config and project sources under BaseDir/code.
	BaseDir string

	// WorkDir is the directory forge is invoked from. Build
	// directories live under WorkDir/build and Dockerfiles under
	// WorkDir/docker.
	WorkDir string

	// Generator is the CMake generator passed with -G.
	Generator string

	// Jobs is the parallelism requested from the build tool.
	Jobs int

	FileSystem filesystem.FileSystem
}

// NewSettings returns Settings with the default generator and one job
// per logical CPU.
func NewSettings(baseDir, workDir string, fs filesystem.FileSystem) *Settings {
	return &Settings{
		BaseDir:    baseDir,
		WorkDir:    workDir,
		Generator:  "Ninja",
		Jobs:       runtime.NumCPU(),
		FileSystem: fs,
	}
}

// BuildRoot is the directory holding every project's build directory.
func (s *Settings) BuildRoot() string {
	return filepath.Join(s.WorkDir, "build")
}

// BuildDir is the isolated build directory of project.
func (s *Settings) BuildDir(project string) string {
	return filepath.Join(s.BuildRoot(), project)
}

// CodeDir is the source directory of project.
func (s *Settings) CodeDir(project string) string {
	return filepath.Join(s.BaseDir, "code", project)
}

// DockerDir is the directory Dockerfile paths are resolved against.
func (s *Settings) DockerDir() string {
	return filepath.Join(s.WorkDir, "docker")
}

// ToolchainFile is the path of the CMake toolchain for a
// platform/compiler pair.
func (s *Settings) ToolchainFile(platform, compiler string) string {
	return filepath.Join(s.BaseDir, "config", platform, platform+"-"+compiler+".cmake")
}

// Abs resolves p against WorkDir unless it is already absolute.
func (s *Settings) Abs(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.WorkDir, p)
}
