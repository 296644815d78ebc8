package bridge

import (
	"context"
	"credrelay/internal/resolver"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// ProcessBridge runs the invocation through a local launcher binary
// (wsl.exe by default) with the child's stdin and stdout piped to the relay
// and its stderr handed the configured stderr directly.
type ProcessBridge struct {
	cfg    Config
	logger *log.Logger
}

// NewProcessBridge creates a local process bridge.
func NewProcessBridge(cfg Config) *ProcessBridge {
	cfg = cfg.withDefaults()
	return &ProcessBridge{cfg: cfg, logger: cfg.Logger}
}

// Run spawns inv.Launcher with inv.Argv() and relays stdio until the child exits.
func (pb *ProcessBridge) Run(ctx context.Context, inv *resolver.Invocation) (Result, error) {
	lc := newLifecycle(pb.cfg.OnTransition)

	ctx, cancel := pb.cfg.withTimeout(ctx)
	defer cancel()

	argv := inv.Argv()
	pb.logger.Debug("spawning child", "launcher", inv.Launcher, "args", argv)

	cmd := exec.Command(inv.Launcher, argv...)
	cmd.Stderr = pb.cfg.Stderr

	fail := func(err error) (Result, error) {
		lc.mustTransition(StateFailed)
		return Result{ExitCode: FailureStatus, State: lc.State()}, &SpawnError{Program: inv.Launcher, Err: err}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fail(fmt.Errorf("stdin pipe: %w", err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fail(fmt.Errorf("stdout pipe: %w", err))
	}

	// Start closes both pipes itself on failure.
	if err := cmd.Start(); err != nil {
		return fail(err)
	}
	lc.mustTransition(StateSpawned)
	pb.logger.Debug("child started", "pid", cmd.Process.Pid)

	stopper := &childStopper{process: cmd.Process, grace: pb.cfg.KillGrace}
	stop := context.AfterFunc(ctx, func() {
		pb.logger.Debug("stopping child", "pid", cmd.Process.Pid, "reason", context.Cause(ctx))
		stopper.stop()
	})
	defer stop()

	abort := func() {
		pb.logger.Debug("aborting relay", "pid", cmd.Process.Pid)
		stdin.Close()
		stdout.Close()
		_ = cmd.Process.Kill()
	}

	lc.mustTransition(StateRelaying)
	bytesIn, bytesOut, relayErr := relay(ctx, pb.cfg.Drain, abort,
		copyAndClose(stdin, pb.cfg.Stdin),
		copyAll(pb.cfg.Stdout, stdout, pb.cfg.Drain == DrainBestEffort),
	)
	if relayErr != nil {
		pb.logger.Debug("relay failed", "err", relayErr)
		lc.mustTransition(StateFailed)
	}

	// The output copy is done, so the stdout pipe has been drained and Wait
	// may close it.
	waitErr := cmd.Wait()
	stopper.reaped()
	lc.mustTransition(StateChildExited)

	code, statusErr := exitStatus(waitErr)
	lc.mustTransition(StateDone)

	res := Result{
		ExitCode: code,
		BytesIn:  bytesIn,
		BytesOut: bytesOut,
		State:    lc.State(),
	}
	pb.logger.Debug("child exited", "code", code, "bytes_in", bytesIn, "bytes_out", bytesOut)

	if relayErr != nil {
		return res, relayErr
	}
	if statusErr != nil && ctx.Err() != nil {
		return res, pb.cfg.stopError(ctx, statusErr)
	}
	return res, statusErr
}

// childStopper interrupts a child when its run is cancelled and kills it if
// it is still running after grace. The pending kill is cancelled once the
// child has been reaped.
type childStopper struct {
	process *os.Process
	grace   time.Duration

	mu   sync.Mutex
	done bool
	kill *time.Timer
}

// stop interrupts the child. Platforms without interrupt delivery get an
// immediate kill.
func (s *childStopper) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return
	}
	if err := s.process.Signal(os.Interrupt); err != nil {
		_ = s.process.Kill()
		return
	}
	s.kill = time.AfterFunc(s.grace, func() {
		_ = s.process.Kill()
	})
}

// reaped records that Wait returned and cancels any pending kill.
func (s *childStopper) reaped() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.done = true
	if s.kill != nil {
		s.kill.Stop()
	}
}
