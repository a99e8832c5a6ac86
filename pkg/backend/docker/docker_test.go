package docker_test

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/skroutz/forge/pkg/backend"
	"github.com/skroutz/forge/pkg/backend/docker"
	"github.com/skroutz/forge/pkg/backend/docker/dockertest"
	"github.com/skroutz/forge/pkg/config"
	"github.com/skroutz/forge/pkg/filesystem/plainfs"
	"github.com/skroutz/forge/pkg/process"
	"github.com/skroutz/forge/pkg/process/processtest"
	"github.com/skroutz/forge/pkg/types"
)

const image = "gcc:latest"

func setup(t *testing.T) (*config.Settings, config.Project) {
	t.Helper()
	cfg := config.NewSettings(t.TempDir(), t.TempDir(), plainfs.PlainFS{Runner: process.Exec{}})

	writeFile(t, filepath.Join(cfg.DockerDir(), "Dockerfile"), "FROM gcc\n")
	writeFile(t, filepath.Join(cfg.WorkDir, "src", "main.c"), "int main() { return 0; }\n")

	p := config.Project{
		Name:        "fw",
		Dockerfile:  "Dockerfile",
		DockerImage: "gcc",
		Context:     "src",
		ResultDir:   "out",
	}
	return cfg, p
}

func build(cfg *config.Settings, ec docker.ExecContext, dial docker.Dialer, p config.Project) (*types.BuildOutcome, error) {
	b := docker.New(cfg, ec, dial, nil, nil, nil)
	o := types.NewBuildOutcome(p.Name, types.Docker)
	err := b.Build(context.Background(), p, o)
	return o, err
}

// produce makes the fake daemon leave the given files in the result
// directory of the mounted context.
func produce(t *testing.T, cfg *config.Settings, files map[string]string) func([]string) {
	return func([]string) {
		for name, content := range files {
			writeFile(t, filepath.Join(cfg.WorkDir, "src", "out", name), content)
		}
	}
}

func TestImageReusedWhenPresent(t *testing.T) {
	cfg, p := setup(t)
	p.DockerBuildCmd = config.ArgsCmd("make")
	e := &dockertest.Engine{Images: map[string]bool{image: true}}

	_, err := build(cfg, docker.ExecContext{}, e.Dialer(), p)
	failIfError(err, t)

	assertEq(e.Count("BuildImage"), 0, t)
	assertEq(e.Count("ImageExists"), 1, t)
	assertEq(e.Closed, true, t)
}

func TestImageBuiltWhenMissing(t *testing.T) {
	cfg, p := setup(t)
	p.DockerBuildCmd = config.ArgsCmd("make")
	writeFile(t, filepath.Join(cfg.BuildDir("fw"), "stale.o"), "junk")
	e := &dockertest.Engine{}

	_, err := build(cfg, docker.ExecContext{}, e.Dialer(), p)
	failIfError(err, t)

	assertEq(len(e.Builds), 1, t)
	assertEq(e.Builds[0].Ref, image, t)
	assertEq(e.Builds[0].Dockerfile, "docker/Dockerfile", t)

	names := tarNames(t, e.Builds[0].Context)
	assertEq(names, []string{"docker/Dockerfile", "src/main.c"}, t)
	assertEq(e.Images[image], true, t)
}

func TestDockerfileDirectory(t *testing.T) {
	cfg, p := setup(t)
	p.Dockerfile = "fw"
	writeFile(t, filepath.Join(cfg.DockerDir(), "fw", "Dockerfile"), "FROM gcc\n")
	e := &dockertest.Engine{}

	_, err := build(cfg, docker.ExecContext{}, e.Dialer(), p)
	failIfError(err, t)
	assertEq(e.Builds[0].Dockerfile, "docker/fw/Dockerfile", t)
}

func TestImageBuildRejectedBeforeContextIsSent(t *testing.T) {
	cfg, p := setup(t)
	writeFile(t, filepath.Join(cfg.WorkDir, "src", "blob"), strings.Repeat("x", 4<<20))
	e := &dockertest.Engine{BuildErr: errors.New("unauthorized"), BuildRejectsContext: true}

	done := make(chan error, 1)
	go func() {
		_, err := build(cfg, docker.ExecContext{}, e.Dialer(), p)
		done <- err
	}()

	select {
	case err := <-done:
		var imgErr types.ErrImageBuild
		if !errors.As(err, &imgErr) {
			t.Fatalf("expected ErrImageBuild, got %#v", err)
		}
		assertEq(len(e.Builds), 0, t)
	case <-time.After(10 * time.Second):
		t.Fatal("build blocked on an unread build context")
	}
}

func TestImageBuildFailureIsTerminal(t *testing.T) {
	cfg, p := setup(t)
	e := &dockertest.Engine{BuildErr: errors.New("syntax error")}

	_, err := build(cfg, docker.ExecContext{}, e.Dialer(), p)
	var imgErr types.ErrImageBuild
	if !errors.As(err, &imgErr) {
		t.Fatalf("expected ErrImageBuild, got %#v", err)
	}
	assertEq(imgErr.Image, image, t)
	assertEq(e.Count("CreateContainer"), 0, t)
	assertEq(e.Closed, true, t)

	e = &dockertest.Engine{BuildSkipsTag: true}
	_, err = build(cfg, docker.ExecContext{}, e.Dialer(), p)
	if !errors.As(err, &imgErr) {
		t.Fatalf("expected ErrImageBuild for untagged image, got %#v", err)
	}

	p.Dockerfile = "missing"
	e = &dockertest.Engine{}
	_, err = build(cfg, docker.ExecContext{}, e.Dialer(), p)
	if !errors.As(err, &imgErr) {
		t.Fatalf("expected ErrImageBuild for missing dockerfile, got %#v", err)
	}
	assertEq(e.Count("BuildImage"), 0, t)
}

func TestEphemeralContainer(t *testing.T) {
	cfg, p := setup(t)
	p.DockerBuildCmd = config.ShellCmd("make all")
	e := &dockertest.Engine{
		Images: map[string]bool{image: true},
		Output: "compiling\nlinking\n",
	}
	var ran []string
	e.OnRun = func(cmd []string) {
		ran = cmd
		produce(t, cfg, map[string]string{"fw.bin": "ELF"})(cmd)
	}

	o, err := build(cfg, docker.ExecContext{}, e.Dialer(), p)
	failIfError(err, t)
	failIfError(o.ArtifactErr, t)

	assertEq(ran, []string{"sh", "-c", "make all"}, t)
	assertEq(len(e.Containers), 1, t)
	for _, c := range e.Containers {
		assertEq(c.Removed, true, t)
		assertEq(c.Spec.Env, []string{"DOCKER_PROJECT=fw"}, t)
		assertEq(c.Spec.WorkingDir, docker.Workspace, t)
		assertEq(c.Spec.Binds, []docker.Bind{{Source: filepath.Join(cfg.WorkDir, "src"), Target: docker.Workspace}}, t)
		assertEq(c.Spec.TTY, false, t)
	}
	assertEq(readFile(t, filepath.Join(cfg.BuildDir("fw"), "fw.bin")), "ELF", t)
}

func TestKeepaliveContainerCreatedThenReused(t *testing.T) {
	cfg, p := setup(t)
	e := &dockertest.Engine{Images: map[string]bool{image: true}}

	_, err := build(cfg, docker.ExecContext{}, e.Dialer(), p)
	failIfError(err, t)

	live := e.Live()
	assertEq(len(live), 1, t)
	c := live[0]
	assertEq(c.Spec.Name, docker.ContainerName("fw", image), t)
	assertEq(c.Spec.Cmd, docker.KeepaliveCmd, t)
	assertEq(c.Spec.TTY, true, t)
	assertEq(c.Running, true, t)

	assertEq(e.Execs, []docker.ExecSpec{{
		Cmd:        []string{"./forge", "fw"},
		Env:        []string{"DOCKER_PROJECT=fw"},
		WorkingDir: docker.Workspace,
	}}, t)

	_, err = build(cfg, docker.ExecContext{}, e.Dialer(), p)
	failIfError(err, t)
	assertEq(e.Count("CreateContainer"), 1, t)
	assertEq(e.Count("StartContainer"), 1, t)
	assertEq(len(e.Execs), 2, t)
	assertEq(len(e.Live()), 1, t)
}

func TestKeepaliveStoppedContainerRestarted(t *testing.T) {
	cfg, p := setup(t)
	e := &dockertest.Engine{Images: map[string]bool{image: true}}
	c := e.AddContainer(docker.ContainerSpec{Name: docker.ContainerName("fw", image)}, false)

	_, err := build(cfg, docker.ExecContext{}, e.Dialer(), p)
	failIfError(err, t)

	assertEq(e.Count("CreateContainer"), 0, t)
	assertEq(e.Count("StartContainer"), 1, t)
	assertEq(c.Running, true, t)
}

func TestBuildFailureSkipsArtifacts(t *testing.T) {
	cfg, p := setup(t)
	e := &dockertest.Engine{Images: map[string]bool{image: true}, ExitCode: 2}
	e.OnRun = produce(t, cfg, map[string]string{"fw.bin": "partial"})

	o, err := build(cfg, docker.ExecContext{}, e.Dialer(), p)
	var exitErr types.ErrProcessExit
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ErrProcessExit, got %#v", err)
	}
	assertEq(exitErr.Code, 2, t)
	failIfError(o.ArtifactErr, t)

	_, err = os.Stat(cfg.BuildDir("fw"))
	if !os.IsNotExist(err) {
		t.Fatalf("expected no artifacts, got %v", err)
	}

	// the keepalive container survives failed builds
	assertEq(len(e.Live()), 1, t)
}

func TestAbsentResultDirKeepsSuccess(t *testing.T) {
	cfg, p := setup(t)
	e := &dockertest.Engine{Images: map[string]bool{image: true}}

	o, err := build(cfg, docker.ExecContext{}, e.Dialer(), p)
	failIfError(err, t)

	var copyErr types.ErrArtifactCopy
	if !errors.As(o.ArtifactErr, &copyErr) {
		t.Fatalf("expected ErrArtifactCopy warning, got %#v", o.ArtifactErr)
	}
	assertEq(copyErr.Src, filepath.Join(cfg.WorkDir, "src", "out"), t)

	o.Finish(err)
	assertEq(o.Success, true, t)
}

func TestNoResultDirSkipsArtifacts(t *testing.T) {
	cfg, p := setup(t)
	p.ResultDir = ""
	e := &dockertest.Engine{Images: map[string]bool{image: true}}

	o, err := build(cfg, docker.ExecContext{}, e.Dialer(), p)
	failIfError(err, t)
	failIfError(o.ArtifactErr, t)
}

func TestArtifactsReplaceDirectoriesAndOverwriteFiles(t *testing.T) {
	cfg, p := setup(t)
	dst := cfg.BuildDir("fw")
	writeFile(t, filepath.Join(dst, "lib", "old.a"), "old")
	writeFile(t, filepath.Join(dst, "fw.bin"), "old")
	writeFile(t, filepath.Join(dst, "notes.txt"), "keep")

	e := &dockertest.Engine{Images: map[string]bool{image: true}}
	e.OnRun = produce(t, cfg, map[string]string{
		"fw.bin":                      "new",
		filepath.Join("lib", "new.a"): "new",
	})

	o, err := build(cfg, docker.ExecContext{}, e.Dialer(), p)
	failIfError(err, t)
	failIfError(o.ArtifactErr, t)

	assertEq(readFile(t, filepath.Join(dst, "fw.bin")), "new", t)
	assertEq(readFile(t, filepath.Join(dst, "lib", "new.a")), "new", t)
	assertEq(readFile(t, filepath.Join(dst, "notes.txt")), "keep", t)
	_, err = os.Stat(filepath.Join(dst, "lib", "old.a"))
	if !os.IsNotExist(err) {
		t.Fatalf("expected stale artifact to be removed, got %v", err)
	}
}

// stuckFS never finishes cloning until its context is done.
type stuckFS struct{}

func (stuckFS) Create(path string) error { return os.MkdirAll(path, 0755) }
func (stuckFS) Remove(path string) error { return os.RemoveAll(path) }
func (stuckFS) Clone(ctx context.Context, src, dst string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestArtifactCopyTimeout(t *testing.T) {
	cfg, p := setup(t)
	cfg.FileSystem = stuckFS{}
	e := &dockertest.Engine{Images: map[string]bool{image: true}}
	e.OnRun = produce(t, cfg, map[string]string{"fw.bin": "ELF"})

	b := docker.New(cfg, docker.ExecContext{}, e.Dialer(), nil, nil, nil)
	b.ArtifactTimeout = 50 * time.Millisecond
	o := types.NewBuildOutcome(p.Name, types.Docker)

	err := b.Build(context.Background(), p, o)
	failIfError(err, t)

	var timeoutErr types.ErrTimeout
	if !errors.As(o.ArtifactErr, &timeoutErr) {
		t.Fatalf("expected ErrTimeout warning, got %#v", o.ArtifactErr)
	}
	assertEq(timeoutErr.After, 50*time.Millisecond, t)
}

type nativeBuilder struct {
	built []string
}

func (b *nativeBuilder) Build(_ context.Context, p config.Project, _ *types.BuildOutcome) error {
	b.built = append(b.built, p.Name)
	return nil
}

func TestInContainerBuildsNatively(t *testing.T) {
	cfg, p := setup(t)
	cm := &nativeBuilder{}
	uc := &nativeBuilder{}
	native := map[types.Backend]backend.Builder{types.CMake: cm, types.UserCommand: uc}
	dial := dockertest.FailingDialer(errors.New("no daemon inside the container"))

	r := &processtest.Runner{}

	b := docker.New(cfg, docker.ExecContext{InContainer: true, Project: "fw"}, dial, r, native, nil)
	err := b.Build(context.Background(), p, types.NewBuildOutcome(p.Name, types.Docker))
	failIfError(err, t)
	assertEq(cm.built, []string{"fw"}, t)

	p.UserBuildCmd = config.ShellCmd("make")
	err = b.Build(context.Background(), p, types.NewBuildOutcome(p.Name, types.Docker))
	failIfError(err, t)
	assertEq(uc.built, []string{"fw"}, t)
	assertEq(len(r.Calls), 0, t)
}

func TestInContainerRunsDockerBuildCmdInContext(t *testing.T) {
	cfg, p := setup(t)
	cm := &nativeBuilder{}
	native := map[types.Backend]backend.Builder{types.CMake: cm}
	dial := dockertest.FailingDialer(errors.New("no daemon inside the container"))
	r := &processtest.Runner{}
	b := docker.New(cfg, docker.ExecContext{InContainer: true, Project: "fw"}, dial, r, native, nil)
	ctxDir := filepath.Join(cfg.WorkDir, "src")

	p.DockerBuildCmd = config.ArgsCmd("make", "-C", "fw")
	err := b.Build(context.Background(), p, types.NewBuildOutcome(p.Name, types.Docker))
	failIfError(err, t)
	assertEq(len(cm.built), 0, t)
	assertEq(len(r.Calls), 1, t)
	assertEq(r.Calls[0].Argv(), []string{"make", "-C", "fw"}, t)
	assertEq(r.Calls[0].Dir, ctxDir, t)

	p.DockerBuildCmd = config.ShellCmd("make && make install")
	err = b.Build(context.Background(), p, types.NewBuildOutcome(p.Name, types.Docker))
	failIfError(err, t)
	assertEq(r.Calls[1].Argv(), []string{"sh", "-c", "make && make install"}, t)
	assertEq(r.Calls[1].Dir, ctxDir, t)

	r.Handler = processtest.ExitOn("make", 2)
	p.DockerBuildCmd = config.ArgsCmd("make")
	err = b.Build(context.Background(), p, types.NewBuildOutcome(p.Name, types.Docker))
	var exitErr types.ErrProcessExit
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ErrProcessExit, got %#v", err)
	}
	assertEq(exitErr.Code, 2, t)

	p.Context = "missing"
	err = b.Build(context.Background(), p, types.NewBuildOutcome(p.Name, types.Docker))
	if err == nil {
		t.Fatal("expected a missing context to fail the build")
	}
	assertEq(len(r.Calls), 3, t)
}

func TestCleanupAfterStartFailure(t *testing.T) {
	cfg, p := setup(t)
	e := &dockertest.Engine{Images: map[string]bool{image: true}, StartErr: errors.New("no space left")}

	_, err := build(cfg, docker.ExecContext{}, e.Dialer(), p)
	var createErr types.ErrContainerCreate
	if !errors.As(err, &createErr) {
		t.Fatalf("expected ErrContainerCreate, got %#v", err)
	}
	assertEq(len(e.Containers), 1, t)
	assertEq(len(e.Live()), 0, t)
	assertEq(e.Closed, true, t)
}

func TestCleanupErrorsDoNotMaskFailure(t *testing.T) {
	cfg, p := setup(t)
	e := &dockertest.Engine{
		Images:    map[string]bool{image: true},
		ExecErr:   errors.New("connection reset"),
		RemoveErr: errors.New("daemon busy"),
	}

	_, err := build(cfg, docker.ExecContext{}, e.Dialer(), p)
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("expected exec failure, got %#v", err)
	}
	assertEq(e.Count("RemoveContainer"), 1, t)
	assertEq(e.Closed, true, t)
}

func TestDockerUnavailable(t *testing.T) {
	cfg, p := setup(t)

	_, err := build(cfg, docker.ExecContext{}, dockertest.FailingDialer(errors.New("connection refused")), p)
	var unavailable types.ErrDockerUnavailable
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected ErrDockerUnavailable, got %#v", err)
	}
}

func TestMissingContextOrImage(t *testing.T) {
	cfg, p := setup(t)
	e := &dockertest.Engine{}

	q := p
	q.Context = "nope"
	_, err := build(cfg, docker.ExecContext{}, e.Dialer(), q)
	if err == nil {
		t.Fatal("expected missing context to fail")
	}

	q = p
	q.DockerImage = ""
	_, err = build(cfg, docker.ExecContext{}, e.Dialer(), q)
	if err == nil {
		t.Fatal("expected missing image to fail")
	}
	assertEq(len(e.Calls), 0, t)
}

func tarNames(t *testing.T, b []byte) []string {
	t.Helper()
	names := []string{}
	tr := tar.NewReader(bytes.NewReader(b))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		failIfError(err, t)
		names = append(names, hdr.Name)
	}
	return names
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	failIfError(os.MkdirAll(filepath.Dir(path), 0755), t)
	failIfError(os.WriteFile(path, []byte(content), 0644), t)
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	failIfError(err, t)
	return string(b)
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
