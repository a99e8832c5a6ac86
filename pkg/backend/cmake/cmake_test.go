package cmake

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"testing"

	"github.com/skroutz/forge/pkg/config"
	"github.com/skroutz/forge/pkg/filesystem/plainfs"
	"github.com/skroutz/forge/pkg/process"
	"github.com/skroutz/forge/pkg/process/processtest"
	"github.com/skroutz/forge/pkg/types"
)

func setup(t *testing.T, withToolchain bool) (*config.Settings, config.Project) {
	t.Helper()
	cfg := config.NewSettings(t.TempDir(), t.TempDir(), plainfs.PlainFS{Runner: process.Exec{}})
	cfg.Jobs = 8
	p := config.Project{Name: "app", Platform: "linux", Compiler: "gcc", Type: "release"}

	if withToolchain {
		tc := cfg.ToolchainFile(p.Platform, p.Compiler)
		failIfError(os.MkdirAll(filepath.Dir(tc), 0755), t)
		failIfError(os.WriteFile(tc, []byte("set(CMAKE_SYSTEM_NAME Linux)\n"), 0644), t)
	}
	return cfg, p
}

func TestBuildRunsAllStages(t *testing.T) {
	cfg, p := setup(t, true)
	p.CFlags = []string{"-O2", "-g"}
	p.LFlags = []string{"-static"}
	r := &processtest.Runner{}

	err := New(cfg, r, nil).Build(context.Background(), p, types.NewBuildOutcome(p.Name, types.CMake))
	failIfError(err, t)

	buildDir := cfg.BuildDir("app")
	expected := [][]string{
		{"cmake", "-S", cfg.CodeDir("app"), "-B", buildDir, "-G", "Ninja",
			"-DCMAKE_TOOLCHAIN_FILE=" + cfg.ToolchainFile("linux", "gcc"),
			"-DCMAKE_BUILD_TYPE=release",
			"-DCMAKE_CXX_FLAGS=-O2 -g",
			"-DCMAKE_EXE_LINKER_FLAGS=-static"},
		{"cmake", "--build", buildDir, "--parallel", strconv.Itoa(8)},
		{"cmake", "--install", buildDir},
	}
	assertEq(r.Argvs(), expected, t)

	fi, err := os.Stat(buildDir)
	failIfError(err, t)
	assertEq(fi.IsDir(), true, t)
}

func TestConfigureOmitsEmptyFlags(t *testing.T) {
	cfg, p := setup(t, false)

	args := ConfigureArgs(cfg, p)
	for _, a := range args {
		if strings.HasPrefix(a, "-DCMAKE_CXX_FLAGS") || strings.HasPrefix(a, "-DCMAKE_EXE_LINKER_FLAGS") {
			t.Fatalf("unexpected flag argument %q", a)
		}
	}
	assertEq(len(args), 9, t)
}

func TestMissingToolchain(t *testing.T) {
	cfg, p := setup(t, false)
	r := &processtest.Runner{}

	err := New(cfg, r, nil).Build(context.Background(), p, types.NewBuildOutcome(p.Name, types.CMake))

	var tcErr types.ErrMissingToolchain
	if !errors.As(err, &tcErr) {
		t.Fatalf("expected ErrMissingToolchain, got %#v", err)
	}
	assertEq(tcErr.Path, cfg.ToolchainFile("linux", "gcc"), t)
	assertEq(len(r.Calls), 0, t)

	_, err = os.Stat(cfg.BuildDir("app"))
	if !os.IsNotExist(err) {
		t.Fatal("build directory must not be created without a toolchain")
	}
}

func TestStageFailureAbortsRemainingStages(t *testing.T) {
	cases := []struct {
		failOn string
		stage  string
		calls  int
	}{
		{"-S", "configure", 1},
		{"--build", "build", 2},
		{"--install", "install", 3},
	}

	for _, c := range cases {
		cfg, p := setup(t, true)
		r := &processtest.Runner{Handler: processtest.ExitOn(c.failOn, 2)}

		err := New(cfg, r, nil).Build(context.Background(), p, types.NewBuildOutcome(p.Name, types.CMake))

		var exitErr types.ErrProcessExit
		if !errors.As(err, &exitErr) {
			t.Fatalf("%s: expected ErrProcessExit, got %#v", c.stage, err)
		}
		assertEq(exitErr.Stage, c.stage, t)
		assertEq(exitErr.Code, 2, t)
		assertEq(len(r.Calls), c.calls, t)
	}
}

func TestLaunchFailureIsReturned(t *testing.T) {
	cfg, p := setup(t, true)
	launch := types.ErrProcessLaunch{Cmd: "cmake", Err: os.ErrNotExist}
	r := &processtest.Runner{Handler: func(process.Command, process.LineFunc) (process.Result, error) {
		return process.Result{}, launch
	}}

	err := New(cfg, r, nil).Build(context.Background(), p, types.NewBuildOutcome(p.Name, types.CMake))
	assertEq(err, error(launch), t)
	assertEq(len(r.Calls), 1, t)
}

func assertEq(a, b interface{}, t *testing.T) {
	t.Helper()
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("Expected %#v and %#v to be equal", a, b)
	}
}

func failIfError(err error, t *testing.T) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
