package cli

import (
	"context"
	"credrelay/internal/audit"
	"credrelay/internal/bridge"
	"credrelay/internal/config"
	"credrelay/internal/resolver"
	"credrelay/pkg/credential"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

func (a *app) newOperationCommand(op credential.Operation) *cobra.Command {
	return &cobra.Command{
		Use:   op.Name(),
		Short: fmt.Sprintf("Run `git credential %s` in the nested environment", op.Token()),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.relay(cmd.Context(), op)
		},
	}
}

// relay runs one credential operation end to end and reports the child's
// status through an ExitError.
func (a *app) relay(ctx context.Context, op credential.Operation) error {
	cfg, _, err := a.loadConfig()
	if err != nil {
		return &ExitError{Code: bridge.FailureStatus, Err: err}
	}
	logger := a.newLogger(cfg)
	if isTerminal(a.stdin) {
		logger.Warn("stdin is a terminal; git normally writes the request here. End it with an empty line and EOF")
	}

	drain, err := cfg.DrainPolicy()
	if err != nil {
		return &ExitError{Code: bridge.FailureStatus, Err: err}
	}

	inv := resolver.Resolve(op, a.opts.params(), cfg.Route())
	logger.Debug("resolved invocation", "operation", op, "token", inv.Token(), "backend", cfg.Backend)

	auditLog, err := audit.NewLogger(cfg.AuditLog)
	if err != nil {
		// The audit trail is optional; a broken one must not block git.
		logger.Warn("audit log disabled", "err", err)
		auditLog = nil
	}
	defer auditLog.Close()

	ctx, stop := cancelOnSignal(ctx, logger)
	defer stop()

	bcfg := bridge.Config{
		Stdin:     a.stdin,
		Stdout:    a.stdout,
		Stderr:    a.stderr,
		Drain:     drain,
		Timeout:   cfg.Timeout,
		KillGrace: cfg.KillGrace,
		Logger:    logger.WithPrefix(Name + "/bridge"),
		OnTransition: func(from, to bridge.State) {
			logger.Debug("state", "from", from, "to", to)
		},
	}

	br, closeBridge, err := a.newBridge(cfg, bcfg)
	if err != nil {
		return &ExitError{Code: bridge.FailureStatus, Err: err}
	}
	defer closeBridge()

	start := time.Now()
	res, runErr := br.Run(ctx, &inv)
	code := exitCode(res, runErr)

	a.record(auditLog, logger, cfg, &inv, res, code, time.Since(start), runErr)

	if runErr != nil {
		return &ExitError{Code: code, Err: runErr}
	}
	if code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}

// newBridge selects the backend named in the configuration. The returned
// func releases backend resources.
func (a *app) newBridge(cfg *config.Config, bcfg bridge.Config) (bridge.Bridge, func(), error) {
	switch cfg.Backend {
	case config.BackendDocker:
		dc, err := a.newDockerClient(cfg.Docker.Host)
		if err != nil {
			return nil, nil, err
		}
		return bridge.NewDockerBridge(dc, cfg.Docker.Container, bcfg), func() { dc.Close() }, nil
	case config.BackendWSL:
		return bridge.NewProcessBridge(bcfg), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// exitCode maps a bridge result to the relay's own exit status. Zero is
// only returned when the child exited zero and nothing failed.
func exitCode(res bridge.Result, err error) int {
	if err == nil {
		return res.ExitCode
	}

	var abnormal *bridge.AbnormalExitError
	if errors.As(err, &abnormal) {
		return abnormal.Code
	}

	var spawnErr *bridge.SpawnError
	if errors.As(err, &spawnErr) {
		return bridge.FailureStatus
	}

	if res.ExitCode != 0 {
		return res.ExitCode
	}
	return bridge.FailureStatus
}

func (a *app) record(l *audit.Logger, logger *log.Logger, cfg *config.Config, inv *resolver.Invocation, res bridge.Result, code int, elapsed time.Duration, runErr error) {
	entry := audit.Entry{
		Operation: inv.Operation.Name(),
		Token:     inv.Token(),
		Backend:   cfg.Backend,
		ExitCode:  code,
		BytesIn:   res.BytesIn,
		BytesOut:  res.BytesOut,
		Duration:  float64(elapsed.Microseconds()) / 1000,
		State:     res.State.String(),
	}
	if cfg.Backend == config.BackendDocker {
		entry.Args = inv.Command()
	} else {
		entry.Launcher = inv.Launcher
		entry.Args = inv.Argv()
	}
	if runErr != nil {
		entry.Error = runErr.Error()
	}

	if err := l.Log(entry); err != nil {
		logger.Warn("write audit entry", "err", err)
	}
}
