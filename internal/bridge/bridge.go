// Package bridge runs a resolved credential invocation in a child process
// and relays the caller's stdio to it: stdin to the child, the child's stdout
// back to the caller, stderr passed straight through. Two backends exist:
// ProcessBridge (a local launcher such as wsl.exe) and DockerBridge (exec in
// a running container).
package bridge

import (
	"context"
	"credrelay/internal/resolver"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// FailureStatus is the exit status reported when the bridge itself fails.
const FailureStatus = 1

// Bridge is the interface for relay backends.
type Bridge interface {
	// Run spawns the downstream program for inv, relays stdio until both
	// directions finish, reaps the child and returns its exit status.
	Run(ctx context.Context, inv *resolver.Invocation) (Result, error)
}

// Result describes a finished relay.
type Result struct {
	ExitCode int
	BytesIn  int64 // caller stdin -> child
	BytesOut int64 // child stdout -> caller
	State    State
}

// DrainPolicy decides what happens to the other direction when one relay
// direction fails.
type DrainPolicy int

const (
	// DrainBestEffort lets the unaffected direction finish on its own.
	DrainBestEffort DrainPolicy = iota
	// DrainAbort closes the child's pipes and stops it on the first error.
	DrainAbort
)

func (p DrainPolicy) String() string {
	switch p {
	case DrainBestEffort:
		return "best-effort"
	case DrainAbort:
		return "abort"
	default:
		return fmt.Sprintf("DrainPolicy(%d)", int(p))
	}
}

// ParseDrainPolicy parses "best-effort" or "abort".
func ParseDrainPolicy(s string) (DrainPolicy, error) {
	switch s {
	case "", "best-effort":
		return DrainBestEffort, nil
	case "abort":
		return DrainAbort, nil
	default:
		return 0, fmt.Errorf("unknown drain policy %q (want best-effort or abort)", s)
	}
}

// Config holds the settings shared by every backend.
type Config struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Drain DrainPolicy

	// Timeout bounds the whole invocation. Zero means no timeout.
	Timeout time.Duration

	// KillGrace is how long a child gets after an interrupt before it is killed.
	KillGrace time.Duration

	Logger *log.Logger

	// OnTransition, when set, observes every lifecycle state change.
	OnTransition func(from, to State)
}

const defaultKillGrace = 5 * time.Second

func (c Config) withDefaults() Config {
	if c.Stdin == nil {
		c.Stdin = os.Stdin
	}
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}
	if c.Stderr == nil {
		c.Stderr = os.Stderr
	}
	if c.KillGrace <= 0 {
		c.KillGrace = defaultKillGrace
	}
	if c.Logger == nil {
		c.Logger = log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "bridge",
			Level:  log.WarnLevel,
		})
	}
	return c
}

// stopError explains a run cut short by ctx, wrapping err.
func (c Config) stopError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && c.Timeout > 0 {
		return fmt.Errorf("timed out after %s: %w", c.Timeout, err)
	}
	return fmt.Errorf("stopped (%v): %w", context.Cause(ctx), err)
}

// withTimeout applies c.Timeout to ctx when one is configured.
func (c Config) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout > 0 {
		return context.WithTimeout(ctx, c.Timeout)
	}
	return context.WithCancel(ctx)
}
