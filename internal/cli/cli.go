// Package cli implements the git-credential-relay command line. git runs the
// relay as a credential helper; the relay maps the operation to its
// `git credential` verb, runs it in the nested environment and exits with
// the child's status.
package cli

import (
	"context"
	"credrelay/internal/bridge"
	"credrelay/internal/config"
	"credrelay/pkg/credential"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/docker/docker/client"
	"github.com/spf13/cobra"
)

// Name is the command name used in diagnostics.
const Name = "git-credential-relay"

var (
	// Version is the release version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
)

// ExitError carries an exit code out of a cobra RunE handler. A nil Err
// means the child ran and its status is the code; nothing is printed.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// dockerClient is the part of the Docker API client the relay needs.
type dockerClient interface {
	bridge.ExecClient
	Close() error
}

// app holds the streams and collaborators of one CLI run.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	opts options

	// newDockerClient connects to the Docker daemon; host overrides DOCKER_HOST.
	newDockerClient func(host string) (dockerClient, error)
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{
		stdin:           stdin,
		stdout:          stdout,
		stderr:          stderr,
		newDockerClient: connectDocker,
	}
}

func connectDocker(host string) (dockerClient, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return cli, nil
}

// Run executes the relay with args (without the program name) and returns
// the process exit code.
func Run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	return newApp(stdin, stdout, stderr).run(context.Background(), args)
}

func (a *app) run(ctx context.Context, args []string) int {
	root := a.newRootCommand()
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintf(a.stderr, "%s: %v\n", Name, exitErr.Err)
		}
		return exitErr.Code
	}

	fmt.Fprintf(a.stderr, "%s: %v\n", Name, err)
	return bridge.FailureStatus
}

func (a *app) newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   Name + " [flags] get|store|erase",
		Short: "Relay git credential requests into a nested environment",
		Long: `git-credential-relay is a git credential helper that forwards each request
to "git credential" running somewhere else: a WSL distribution by default,
or a running Docker container. Standard input and output are relayed
verbatim and the helper exits with the remote status.

Configure it in git with:
  git config --global credential.helper "relay --distribution Ubuntu"`,
		Version: versionString(),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return errors.New("missing operation (want get, store or erase)")
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	a.opts.register(root.PersistentFlags())

	for _, op := range credential.Operations() {
		root.AddCommand(a.newOperationCommand(op))
	}
	root.AddCommand(a.newConfigCommand())

	return root
}

func (a *app) newConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := a.loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if path != "" {
				fmt.Fprintf(out, "# loaded from %s\n", path)
			}
			return cfg.WriteYAML(out)
		},
	}
}

// loadConfig reads the configuration named by --config, or the default file.
func (a *app) loadConfig() (*config.Config, string, error) {
	return config.Load(config.LoadOptions{ConfigFile: a.opts.configFile})
}

// newLogger builds the diagnostics logger. It writes to stderr only, so
// relayed stdout is never touched.
func (a *app) newLogger(cfg *config.Config) *log.Logger {
	level, err := cfg.Level()
	if err != nil {
		level = log.WarnLevel
	}
	if a.opts.verbose {
		level = log.DebugLevel
	}
	return log.NewWithOptions(a.stderr, log.Options{
		Prefix:    Name,
		Level:     level,
		Formatter: logFormatter(a.stderr),
	})
}

func versionString() string {
	if Commit == "unknown" {
		return Version
	}
	return fmt.Sprintf("%s (commit: %s)", Version, Commit)
}
