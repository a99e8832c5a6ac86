// Package docker builds projects inside Docker containers.
//
// On the true host the backend makes sure the project's image exists,
// runs the build in a container and copies the artifacts back. When forge
// itself runs inside a build container (see ExecContext), the project's
// docker build command runs directly in its context directory, or the
// project is built natively when it has none, so that a container never
// spawns another one.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"time"

	units "github.com/docker/go-units"

	"github.com/skroutz/forge/pkg/backend"
	"github.com/skroutz/forge/pkg/config"
	"github.com/skroutz/forge/pkg/process"
	"github.com/skroutz/forge/pkg/types"
	"github.com/skroutz/forge/pkg/utils"
)

const (
	// Workspace is where the build context is mounted in containers.
	Workspace = "/workspace"

	// ProjectEnv names the project a container was started for. forge
	// running inside the container reads it to detect its context.
	ProjectEnv = "DOCKER_PROJECT"

	// DefaultArtifactTimeout bounds the artifact copy step.
	DefaultArtifactTimeout = 300 * time.Second
)

// KeepaliveCmd keeps a long-lived container running between builds.
var KeepaliveCmd = []string{"tail", "-f", "/dev/null"}

// ExecContext tells whether forge runs on the true host or inside a build
// container spawned for Project.
type ExecContext struct {
	InContainer bool
	Project     string
}

// ExecContextFromEnv derives the execution context from the value of
// ProjectEnv as returned by getenv.
func ExecContextFromEnv(getenv func(string) string) ExecContext {
	p := getenv(ProjectEnv)
	return ExecContext{InContainer: p != "", Project: p}
}

// Builder implements backend.Builder with Docker.
type Builder struct {
	cfg    *config.Settings
	ec     ExecContext
	dial   Dialer
	runner process.Runner
	native map[types.Backend]backend.Builder
	log    *log.Logger

	// DefaultCmd returns the command executed in the keepalive
	// container of a project that configures no docker build command.
	DefaultCmd func(project string) []string

	// ArtifactTimeout bounds the copy of the result directory.
	ArtifactTimeout time.Duration
}

var _ backend.Builder = (*Builder)(nil)

// New returns a Builder. runner executes the docker build command and
// native holds the builders for projects without one, both only used when
// running inside a container. If logger is nil, logs are disabled.
func New(cfg *config.Settings, ec ExecContext, dial Dialer, runner process.Runner, native map[types.Backend]backend.Builder, logger *log.Logger) *Builder {
	if logger == nil {
		logger = log.New(ioutil.Discard, "", 0)
	}
	return &Builder{
		cfg:    cfg,
		ec:     ec,
		dial:   dial,
		runner: runner,
		native: native,
		log:    logger,
		DefaultCmd: func(project string) []string {
			return []string{"./forge", project}
		},
		ArtifactTimeout: DefaultArtifactTimeout,
	}
}

// Build builds p either natively (inside a build container) or in a
// container (on the true host).
func (b *Builder) Build(ctx context.Context, p config.Project, o *types.BuildOutcome) error {
	log := log.New(b.log.Writer(), fmt.Sprintf("[docker] [%s] ", p.Name), b.log.Flags())

	if b.ec.InContainer {
		return b.buildNatively(ctx, p, o, log)
	}
	return b.buildInDocker(ctx, p, o, log)
}

func (b *Builder) buildNatively(ctx context.Context, p config.Project, o *types.BuildOutcome, log *log.Logger) error {
	if !p.DockerBuildCmd.IsSet() {
		kind := backend.SelectNative(p)
		nb, ok := b.native[kind]
		if !ok {
			return fmt.Errorf("no %s builder available inside the container", kind)
		}
		log.Printf("running inside a build container, building natively with %s", kind)
		return nb.Build(ctx, p, o)
	}

	ctxDir := b.cfg.Abs(p.Context)
	err := utils.PathIsDir(ctxDir)
	if err != nil {
		return fmt.Errorf("build context %s: %s", ctxDir, err)
	}
	if b.runner == nil {
		return errors.New("no process runner available inside the container")
	}

	cmd := p.DockerBuildCmd.Command(ctxDir)
	log.Printf("running inside a build container, executing %s in %s", cmd, ctxDir)
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

// session holds what a single containerized build acquired and must
// release.
type session struct {
	engine     Engine
	containers []*ContainerHandle
	log        *log.Logger
}

// bestEffort runs a cleanup step. Its error is logged and dropped so it
// can never mask the error that triggered the cleanup.
func bestEffort(log *log.Logger, what string, fn func() error) {
	err := fn()
	if err != nil {
		log.Printf("cleanup: could not %s: %s", what, err)
	}
}

// remove force-removes h unless it is already gone.
func (s *session) remove(ctx context.Context, h *ContainerHandle) {
	if h.ID == "" || h.State == Removed {
		return
	}
	bestEffort(s.log, "remove container "+h.Name, func() error {
		err := s.engine.RemoveContainer(ctx, h.ID)
		if err != nil {
			return err
		}
		return h.transition(Removed)
	})
}

// abort removes every container created during the session.
func (s *session) abort(ctx context.Context) {
	for _, h := range s.containers {
		if h.owned {
			s.remove(ctx, h)
		}
	}
}

func (s *session) close() {
	bestEffort(s.log, "close docker client", s.engine.Close)
}

func (b *Builder) buildInDocker(ctx context.Context, p config.Project, o *types.BuildOutcome, log *log.Logger) (err error) {
	if p.DockerImage == "" {
		return fmt.Errorf("no docker image configured for '%s'", p.Name)
	}
	image, err := NormalizeImage(p.DockerImage)
	if err != nil {
		return err
	}

	ctxDir := b.cfg.Abs(p.Context)
	err = utils.PathIsDir(ctxDir)
	if err != nil {
		return fmt.Errorf("build context %s: %s", ctxDir, err)
	}

	engine, err := b.dial(ctx)
	if err != nil {
		return types.ErrDockerUnavailable{Err: err}
	}
	s := &session{engine: engine, log: log}
	defer s.close()

	// errors from here on leave the daemon in an unknown state; exit
	// codes of the build itself do not
	defer func() {
		var exitErr types.ErrProcessExit
		if err != nil && !errors.As(err, &exitErr) {
			s.abort(context.Background())
		}
	}()

	_, err = b.acquireImage(ctx, engine, p, image, log)
	if err != nil {
		return err
	}

	var code int
	if p.DockerBuildCmd.IsSet() {
		code, err = b.runEphemeral(ctx, s, p, image, ctxDir)
	} else {
		code, err = b.runKeepalive(ctx, s, p, image, ctxDir)
	}
	if err != nil {
		return err
	}
	if code != 0 {
		log.Printf("build failed with exit code %d, skipping artifacts", code)
		return types.ErrProcessExit{Stage: "container build", Cmd: p.Name, Code: code}
	}
	log.Print("build succeeded")

	o.ArtifactErr = b.extractArtifacts(ctx, p, ctxDir, log)
	if o.ArtifactErr != nil {
		log.Printf("WARNING: build succeeded but artifacts were not copied: %s", o.ArtifactErr)
	}
	return nil
}

// acquireImage makes sure image exists locally, building it from the
// project's Dockerfile if it doesn't.
func (b *Builder) acquireImage(ctx context.Context, engine Engine, p config.Project, image string, log *log.Logger) (ImageRef, error) {
	ref := ImageRef{Tag: image}

	exists, err := engine.ImageExists(ctx, image)
	if err != nil {
		return ref, types.ErrImageBuild{Image: image, Err: err}
	}
	if exists {
		log.Printf("image %s present, reusing it", image)
		ref.Present = true
		return ref, nil
	}

	dockerfile, err := b.dockerfilePath(p.Dockerfile)
	if err != nil {
		return ref, types.ErrImageBuild{Image: image, Err: err}
	}
	rel, err := filepath.Rel(b.cfg.WorkDir, dockerfile)
	if err != nil {
		return ref, types.ErrImageBuild{Image: image, Err: err}
	}

	log.Printf("image %s missing, building it from %s", image, dockerfile)

	// the work directory is streamed to the daemon as it is archived
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(utils.WriteTar(pw, b.cfg.WorkDir, b.cfg.BuildRoot()))
	}()
	buildCtx := &countingReader{r: pr}

	lw := process.NewLineWriter(func(l string) { log.Print(l) })
	err = engine.BuildImage(ctx, image, buildCtx, filepath.ToSlash(rel), lw)
	lw.Flush()
	pr.Close()
	if err != nil {
		return ref, types.ErrImageBuild{Image: image, Err: err}
	}
	log.Printf("sent build context of %s", units.HumanSize(float64(buildCtx.n)))

	exists, err = engine.ImageExists(ctx, image)
	if err != nil {
		return ref, types.ErrImageBuild{Image: image, Err: err}
	}
	if !exists {
		return ref, types.ErrImageBuild{Image: image, Err: errors.New("image missing after build")}
	}
	ref.Present = true
	return ref, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// dockerfilePath resolves a configured dockerfile against the docker
// directory. A directory means the Dockerfile inside it.
func (b *Builder) dockerfilePath(df string) (string, error) {
	if !filepath.IsAbs(df) {
		df = filepath.Join(b.cfg.DockerDir(), df)
	}
	fi, err := os.Stat(df)
	if err != nil {
		return "", err
	}
	if fi.IsDir() {
		df = filepath.Join(df, "Dockerfile")
		_, err = os.Stat(df)
		if err != nil {
			return "", err
		}
	}
	return df, nil
}

// runEphemeral runs the configured build command in a fresh container
// that is removed afterwards.
func (b *Builder) runEphemeral(ctx context.Context, s *session, p config.Project, image, ctxDir string) (int, error) {
	h := &ContainerHandle{Name: ephemeralName(p.Name, image)}
	spec := ContainerSpec{
		Name:       h.Name,
		Image:      image,
		Cmd:        p.DockerBuildCmd.Argv(),
		Env:        []string{ProjectEnv + "=" + p.Name},
		WorkingDir: Workspace,
		Binds:      []Bind{{Source: ctxDir, Target: Workspace}},
	}

	s.log.Printf("running %s in ephemeral container %s", p.DockerBuildCmd, h.Name)
	id, err := s.engine.CreateContainer(ctx, spec)
	if err != nil {
		return 0, types.ErrContainerCreate{Name: h.Name, Err: err}
	}
	h.ID = id
	h.owned = true
	s.containers = append(s.containers, h)
	defer s.remove(context.Background(), h)
	err = h.transition(Created)
	if err != nil {
		return 0, err
	}

	err = s.engine.StartContainer(ctx, id)
	if err != nil {
		return 0, types.ErrContainerCreate{Name: h.Name, Err: err}
	}
	err = h.transition(Running)
	if err != nil {
		return 0, err
	}

	lw := process.NewLineWriter(func(l string) { s.log.Print(l) })
	err = s.engine.FollowLogs(ctx, id, lw)
	lw.Flush()
	if err != nil {
		return 0, fmt.Errorf("could not read output of %s; %s", h.Name, err)
	}

	code, err := s.engine.WaitContainer(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("could not wait for %s; %s", h.Name, err)
	}
	h.ExitCode = code
	err = h.transition(Exited)
	if err != nil {
		return 0, err
	}
	return code, nil
}

// runKeepalive reuses or creates the project's long-lived container and
// executes the default build command in it.
func (b *Builder) runKeepalive(ctx context.Context, s *session, p config.Project, image, ctxDir string) (int, error) {
	h := &ContainerHandle{Name: ContainerName(p.Name, image)}

	info, found, err := s.engine.InspectContainer(ctx, h.Name)
	if err != nil {
		return 0, fmt.Errorf("could not look up container %s; %s", h.Name, err)
	}
	if found {
		h.ID = info.ID
		h.State = Exited
		if info.Running {
			h.State = Running
		}
		s.log.Printf("reusing container %s (%s)", h.Name, h.State)
		s.containers = append(s.containers, h)
	} else {
		s.log.Printf("creating container %s", h.Name)
		spec := ContainerSpec{
			Name:       h.Name,
			Image:      image,
			Cmd:        KeepaliveCmd,
			Env:        []string{ProjectEnv + "=" + p.Name},
			WorkingDir: Workspace,
			Binds:      []Bind{{Source: ctxDir, Target: Workspace}},
			TTY:        true,
		}
		id, err := s.engine.CreateContainer(ctx, spec)
		if err != nil {
			return 0, types.ErrContainerCreate{Name: h.Name, Err: err}
		}
		h.ID = id
		h.owned = true
		s.containers = append(s.containers, h)
		err = h.transition(Created)
		if err != nil {
			return 0, err
		}
	}

	if h.State != Running {
		err = s.engine.StartContainer(ctx, h.ID)
		if err != nil {
			return 0, types.ErrContainerCreate{Name: h.Name, Err: err}
		}
		err = h.transition(Running)
		if err != nil {
			return 0, err
		}
	}

	cmd := b.DefaultCmd(p.Name)
	s.log.Printf("executing %q in %s", cmd, h.Name)
	lw := process.NewLineWriter(func(l string) { s.log.Print(l) })
	code, err := s.engine.Exec(ctx, h.ID, ExecSpec{
		Cmd:        cmd,
		Env:        []string{ProjectEnv + "=" + p.Name},
		WorkingDir: Workspace,
	}, lw)
	lw.Flush()
	if err != nil {
		return 0, fmt.Errorf("could not execute build in %s; %s", h.Name, err)
	}
	return code, nil
}
