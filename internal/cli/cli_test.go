package cli

import (
	"bytes"
	"context"
	"credrelay/internal/audit"
	"credrelay/internal/bridge"
	"credrelay/internal/testutil"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
)

// isolateConfig points the default config location at an empty directory.
func isolateConfig(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
}

// useStub configures the relay, through the environment, to launch the test
// binary as a stub child in the given mode.
func useStub(t *testing.T, mode string) {
	t.Helper()
	isolateConfig(t)

	route := testutil.StubRoute(t, mode)
	t.Setenv("GIT_CREDENTIAL_RELAY_LAUNCHER", route.Launcher)
	t.Setenv("GIT_CREDENTIAL_RELAY_ROUTING_ARGS", strings.Join(route.Routing, ","))
	t.Setenv("GIT_CREDENTIAL_RELAY_PROGRAM", strings.Join(route.Program, ","))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

type runResult struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, stdin string, args ...string) runResult {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(args, strings.NewReader(stdin), &stdout, &stderr)
	return runResult{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func TestCredentialScenario(t *testing.T) {
	useStub(t, "credential")

	res := runCLI(t, testutil.CredentialRequest, "get")
	if res.code != 0 {
		t.Fatalf("exit code: got %d (stderr: %s)", res.code, res.stderr)
	}
	if res.stdout != testutil.CredentialResponse {
		t.Errorf("stdout: got %q, want %q", res.stdout, testutil.CredentialResponse)
	}
	if res.stderr != "" {
		t.Errorf("a successful relay must not print diagnostics, got %q", res.stderr)
	}
}

func TestExitCodePropagation(t *testing.T) {
	for _, tt := range []struct {
		mode string
		want int
	}{
		{"exit:0", 0},
		{"exit:1", 1},
		{"exit:7", 7},
	} {
		t.Run(tt.mode, func(t *testing.T) {
			useStub(t, tt.mode)

			res := runCLI(t, "", "store")
			if res.code != tt.want {
				t.Errorf("exit code: got %d, want %d", res.code, tt.want)
			}
			if res.stderr != "" {
				t.Errorf("child exit status must not produce a diagnostic, got %q", res.stderr)
			}
		})
	}
}

func TestFlagsBeforeAndAfterOperation(t *testing.T) {
	want := "--cd\n/srv/repo\n--distribution\nDebian\n--user\nalice\n--system\n--\nstub\napprove\n"

	tests := []struct {
		name string
		args []string
	}{
		{"before", []string{"--cd", "/srv/repo", "-d", "Debian", "-u", "alice", "--system", "store"}},
		{"after", []string{"store", "--system", "--user", "alice", "--distribution", "Debian", "--cd", "/srv/repo"}},
		{"mixed", []string{"--user=alice", "store", "--cd=/srv/repo", "--system", "-d", "Debian"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			useStub(t, "args")

			res := runCLI(t, "", tt.args...)
			if res.code != 0 {
				t.Fatalf("exit code: got %d (stderr: %s)", res.code, res.stderr)
			}
			if res.stdout != want {
				t.Errorf("child args:\n got %q\nwant %q", res.stdout, want)
			}
		})
	}
}

func TestNoFlagsPassesOnlyRoute(t *testing.T) {
	useStub(t, "args")

	res := runCLI(t, "", "erase")
	if res.code != 0 {
		t.Fatalf("exit code: got %d (stderr: %s)", res.code, res.stderr)
	}
	if res.stdout != "--\nstub\nreject\n" {
		t.Errorf("child args: got %q", res.stdout)
	}
}

func TestSpawnFailure(t *testing.T) {
	isolateConfig(t)
	t.Setenv("GIT_CREDENTIAL_RELAY_LAUNCHER", filepath.Join(t.TempDir(), "missing-launcher"))

	res := runCLI(t, "protocol=https\n\n", "get")
	if res.code == 0 {
		t.Fatal("spawn failure must exit nonzero")
	}
	if !strings.HasPrefix(res.stderr, Name+": start ") {
		t.Errorf("expected a spawn diagnostic, got %q", res.stderr)
	}
	if res.stdout != "" {
		t.Errorf("nothing may be relayed on spawn failure, got %q", res.stdout)
	}
}

func TestUsageErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"missing operation", nil, "missing operation"},
		{"unknown operation", []string{"fetch"}, "unknown command"},
		{"extra argument", []string{"get", "extra"}, "unknown command"},
		{"repeated flag", []string{"--user", "a", "--user", "b", "get"}, "more than once"},
		{"repeated switch", []string{"--system", "get", "--system"}, "more than once"},
		{"unknown flag", []string{"--port", "22", "get"}, "unknown flag"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			useStub(t, "echo")

			res := runCLI(t, "", tt.args...)
			if res.code != bridge.FailureStatus {
				t.Errorf("exit code: got %d, want %d", res.code, bridge.FailureStatus)
			}
			if !strings.Contains(res.stderr, tt.wantErr) {
				t.Errorf("stderr %q does not mention %q", res.stderr, tt.wantErr)
			}
		})
	}
}

func TestConfigCommand(t *testing.T) {
	useStub(t, "echo")
	t.Setenv("GIT_CREDENTIAL_RELAY_TIMEOUT", "10s")

	res := runCLI(t, "", "config")
	if res.code != 0 {
		t.Fatalf("exit code: got %d (stderr: %s)", res.code, res.stderr)
	}
	for _, want := range []string{"backend: wsl", "timeout: 10s", "drain: best-effort", "program:\n  - stub"} {
		if !strings.Contains(res.stdout, want) {
			t.Errorf("config output missing %q:\n%s", want, res.stdout)
		}
	}
}

func TestConfigCommandExplicitFile(t *testing.T) {
	isolateConfig(t)
	path := filepath.Join(t.TempDir(), "relay.yaml")
	writeFile(t, path, "backend: docker\ndocker:\n  container: dev-box\n")

	res := runCLI(t, "", "--config", path, "config")
	if res.code != 0 {
		t.Fatalf("exit code: got %d (stderr: %s)", res.code, res.stderr)
	}
	if !strings.HasPrefix(res.stdout, "# loaded from "+path+"\n") {
		t.Errorf("expected source comment, got:\n%s", res.stdout)
	}
	if !strings.Contains(res.stdout, "container: dev-box") {
		t.Errorf("config output missing container:\n%s", res.stdout)
	}
}

func TestInvalidConfig(t *testing.T) {
	useStub(t, "echo")
	t.Setenv("GIT_CREDENTIAL_RELAY_BACKEND", "ssh")

	res := runCLI(t, "", "get")
	if res.code != bridge.FailureStatus {
		t.Errorf("exit code: got %d", res.code)
	}
	if !strings.Contains(res.stderr, "unknown backend") {
		t.Errorf("stderr: got %q", res.stderr)
	}
}

func TestVersion(t *testing.T) {
	isolateConfig(t)

	res := runCLI(t, "", "--version")
	if res.code != 0 {
		t.Fatalf("exit code: got %d", res.code)
	}
	if !strings.Contains(res.stdout, "version "+Version) {
		t.Errorf("version output: got %q", res.stdout)
	}
}

func TestAuditTrail(t *testing.T) {
	useStub(t, "credential")
	logPath := filepath.Join(t.TempDir(), "audit", "relay.log")
	t.Setenv("GIT_CREDENTIAL_RELAY_AUDIT_LOG", logPath)

	res := runCLI(t, testutil.CredentialRequest, "--user", "alice", "get")
	if res.code != 0 {
		t.Fatalf("exit code: got %d (stderr: %s)", res.code, res.stderr)
	}

	entries, err := audit.ReadLog(logPath)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}

	e := entries[0]
	if e.Operation != "get" || e.Token != "fill" || e.Backend != "wsl" {
		t.Errorf("entry: %+v", e)
	}
	if e.ExitCode != 0 || e.State != "done" {
		t.Errorf("outcome: code=%d state=%q", e.ExitCode, e.State)
	}
	if e.BytesIn != int64(len(testutil.CredentialRequest)) || e.BytesOut != int64(len(testutil.CredentialResponse)) {
		t.Errorf("byte counts: in=%d out=%d", e.BytesIn, e.BytesOut)
	}
	if strings.Join(e.Args, " ") != "--user alice -- stub fill" {
		t.Errorf("args: got %q", e.Args)
	}

	raw := readFile(t, logPath)
	if strings.Contains(raw, "secret") || strings.Contains(raw, "example.com") {
		t.Error("audit log must not contain relayed content")
	}
}

// fakeDocker fails every exec so the CLI's backend wiring can be checked
// without a daemon.
type fakeDocker struct {
	gotContainer string
	closed       bool
}

func (f *fakeDocker) ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error) {
	f.gotContainer = containerID
	return container.ExecCreateResponse{}, errors.New("No such container: " + containerID)
}

func (f *fakeDocker) ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error) {
	return types.HijackedResponse{}, errors.New("not reached")
}

func (f *fakeDocker) ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error) {
	return container.ExecInspect{}, errors.New("not reached")
}

func (f *fakeDocker) Close() error {
	f.closed = true
	return nil
}

func TestDockerBackendSelection(t *testing.T) {
	isolateConfig(t)
	t.Setenv("GIT_CREDENTIAL_RELAY_BACKEND", "docker")
	t.Setenv("GIT_CREDENTIAL_RELAY_DOCKER_CONTAINER", "fallback")
	t.Setenv("GIT_CREDENTIAL_RELAY_DOCKER_HOST", "tcp://127.0.0.1:2375")

	fake := &fakeDocker{}
	var gotHost string

	var stdout, stderr bytes.Buffer
	a := newApp(strings.NewReader(""), &stdout, &stderr)
	a.newDockerClient = func(host string) (dockerClient, error) {
		gotHost = host
		return fake, nil
	}

	code := a.run(context.Background(), []string{"-d", "dev-box", "get"})
	if code != bridge.FailureStatus {
		t.Errorf("exit code: got %d", code)
	}
	if gotHost != "tcp://127.0.0.1:2375" {
		t.Errorf("docker host: got %q", gotHost)
	}
	if fake.gotContainer != "dev-box" {
		t.Errorf("container: got %q, want dev-box", fake.gotContainer)
	}
	if !fake.closed {
		t.Error("docker client was not closed")
	}
	if !strings.Contains(stderr.String(), "No such container: dev-box") {
		t.Errorf("stderr: got %q", stderr.String())
	}
}

func TestDockerClientError(t *testing.T) {
	isolateConfig(t)
	t.Setenv("GIT_CREDENTIAL_RELAY_BACKEND", "docker")

	var stdout, stderr bytes.Buffer
	a := newApp(strings.NewReader(""), &stdout, &stderr)
	a.newDockerClient = func(string) (dockerClient, error) {
		return nil, errors.New("docker client: cannot connect")
	}

	if code := a.run(context.Background(), []string{"erase"}); code != bridge.FailureStatus {
		t.Errorf("exit code: got %d", code)
	}
	if !strings.Contains(stderr.String(), "cannot connect") {
		t.Errorf("stderr: got %q", stderr.String())
	}
}

func TestExitCodeMapping(t *testing.T) {
	tests := []struct {
		name string
		res  bridge.Result
		err  error
		want int
	}{
		{"success", bridge.Result{ExitCode: 0}, nil, 0},
		{"child failure", bridge.Result{ExitCode: 42}, nil, 42},
		{"spawn", bridge.Result{ExitCode: 1}, &bridge.SpawnError{Program: "wsl.exe", Err: errors.New("not found")}, 1},
		{"abnormal", bridge.Result{ExitCode: 137}, &bridge.AbnormalExitError{Signal: "killed", Code: 137}, 137},
		{"relay error after clean exit", bridge.Result{ExitCode: 0}, &bridge.RelayError{Err: errors.New("broken pipe")}, 1},
		{"relay error keeps child status", bridge.Result{ExitCode: 3}, &bridge.RelayError{Err: errors.New("broken pipe")}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.res, tt.err); got != tt.want {
				t.Errorf("exitCode: got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNonTerminalStreams(t *testing.T) {
	var buf bytes.Buffer
	if isTerminal(&buf) || isTerminal(strings.NewReader("")) {
		t.Error("in-memory streams are not terminals")
	}
	if got := logFormatter(&buf); got != log.LogfmtFormatter {
		t.Errorf("captured stderr should log as logfmt, got %v", got)
	}
}
