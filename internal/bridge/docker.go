package bridge

import (
	"context"
	"credrelay/internal/resolver"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
)

// ExecClient is the subset of the Docker API client used by DockerBridge.
// *client.Client satisfies it.
type ExecClient interface {
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
}

// inspectInterval is how often a finished stream polls for the exec's exit code.
const inspectInterval = 50 * time.Millisecond

// DockerBridge runs the invocation's program inside a running container via
// the Docker exec API. The container is the --distribution parameter when
// given, otherwise the configured default. --cd and --user map to the exec's
// working directory and user.
type DockerBridge struct {
	client    ExecClient
	container string
	cfg       Config
	logger    *log.Logger
}

// NewDockerBridge creates a Docker exec bridge. defaultContainer may be empty
// if every invocation names its container.
func NewDockerBridge(client ExecClient, defaultContainer string, cfg Config) *DockerBridge {
	cfg = cfg.withDefaults()
	return &DockerBridge{
		client:    client,
		container: defaultContainer,
		cfg:       cfg,
		logger:    cfg.Logger,
	}
}

// Run execs inv.Command() in the target container and relays stdio.
func (db *DockerBridge) Run(ctx context.Context, inv *resolver.Invocation) (Result, error) {
	lc := newLifecycle(db.cfg.OnTransition)

	ctx, cancel := db.cfg.withTimeout(ctx)
	defer cancel()

	target := inv.Params.Distribution.OrElse(db.container)

	fail := func(err error) (Result, error) {
		lc.mustTransition(StateFailed)
		return Result{ExitCode: FailureStatus, State: lc.State()}, &SpawnError{Program: "container " + target, Err: err}
	}

	if target == "" {
		return fail(errors.New("no container configured"))
	}

	opts := container.ExecOptions{
		Cmd:          inv.Command(),
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	}
	if cd, ok := inv.Params.Cd.Get(); ok {
		opts.WorkingDir = cd
	}
	if user, ok := inv.Params.User.Get(); ok {
		opts.User = user
	}
	if inv.Params.System {
		db.logger.Debug("ignoring --system: no container equivalent")
	}

	db.logger.Debug("creating exec", "container", target, "cmd", opts.Cmd)

	created, err := db.client.ContainerExecCreate(ctx, target, opts)
	if err != nil {
		return fail(fmt.Errorf("create exec: %w", err))
	}

	resp, err := db.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return fail(fmt.Errorf("attach exec: %w", err))
	}
	defer resp.Close()
	lc.mustTransition(StateSpawned)

	stop := context.AfterFunc(ctx, func() {
		db.logger.Debug("closing exec stream", "exec", created.ID, "reason", ctx.Err())
		resp.Close()
	})
	defer stop()

	input := func() (int64, error) {
		n, err := io.Copy(resp.Conn, db.cfg.Stdin)
		if cerr := resp.CloseWrite(); err == nil {
			err = cerr
		}
		return n, err
	}

	stdout := &stickyWriter{w: db.cfg.Stdout, drain: db.cfg.Drain == DrainBestEffort}
	output := func() (int64, error) {
		_, err := stdcopy.StdCopy(stdout, db.cfg.Stderr, resp.Reader)
		if stdout.err != nil {
			return stdout.n, stdout.err
		}
		return stdout.n, err
	}

	lc.mustTransition(StateRelaying)
	bytesIn, bytesOut, relayErr := relay(ctx, db.cfg.Drain, resp.Close, input, output)
	if ctx.Err() != nil {
		// The stream was closed under the relay; the cancellation is the failure.
		relayErr = nil
	}
	if relayErr != nil {
		db.logger.Debug("relay failed", "err", relayErr)
		lc.mustTransition(StateFailed)
	}

	code, waitErr := db.waitExit(ctx, created.ID)
	lc.mustTransition(StateChildExited)
	lc.mustTransition(StateDone)

	res := Result{
		ExitCode: code,
		BytesIn:  bytesIn,
		BytesOut: bytesOut,
		State:    lc.State(),
	}
	db.logger.Debug("exec finished", "code", code, "bytes_in", bytesIn, "bytes_out", bytesOut)

	if relayErr != nil {
		return res, relayErr
	}
	if waitErr != nil && ctx.Err() != nil {
		return res, db.cfg.stopError(ctx, waitErr)
	}
	return res, waitErr
}

// waitExit polls the exec until it is no longer running and returns its exit code.
func (db *DockerBridge) waitExit(ctx context.Context, execID string) (int, error) {
	for {
		inspect, err := db.client.ContainerExecInspect(ctx, execID)
		if err != nil {
			return FailureStatus, fmt.Errorf("inspect exec: %w", err)
		}
		if !inspect.Running {
			return inspect.ExitCode, nil
		}

		select {
		case <-ctx.Done():
			return FailureStatus, fmt.Errorf("wait for exec: %w", ctx.Err())
		case <-time.After(inspectInterval):
		}
	}
}
