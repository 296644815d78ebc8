// Package testutil provides a stub downstream credential helper for tests.
// The test binary re-executes itself as the child process: a package's
// TestMain calls RunStubIfRequested before anything else, and tests obtain a
// route to the stub with StubRoute.
package testutil

import (
	"bufio"
	"bytes"
	"credrelay/internal/resolver"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"
)

// StubEnv selects the stub behavior in the re-executed test binary.
const StubEnv = "CREDRELAY_TEST_STUB"

// Canned credential exchange used by the "credential" stub.
const (
	CredentialRequest  = "protocol=https\nhost=example.com\n\n"
	CredentialResponse = "username=bob\npassword=secret\n\n"
	StubStderr         = "stub: diagnostic\n"
)

// LagFillerSize is the number of bytes the "lag" stub writes before reading
// the rest of its input. It is larger than any OS pipe buffer.
const LagFillerSize = 1 << 20

// StubRoute returns a route whose launcher is the current test binary running
// in stub mode. Caller flags and routing arguments are passed through to the
// stub, which can echo them back in "args" mode.
func StubRoute(t testing.TB, mode string) resolver.Route {
	t.Helper()

	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("locate test binary: %v", err)
	}
	t.Setenv(StubEnv, mode)

	return resolver.Route{
		Launcher: exe,
		Routing:  []string{"--"},
		Program:  []string{"stub"},
	}
}

// LagFiller returns the filler block the "lag" stub emits.
func LagFiller() []byte {
	return bytes.Repeat([]byte{'x'}, LagFillerSize)
}

// RunStubIfRequested turns the process into the stub helper when StubEnv is
// set, and exits. Otherwise it returns immediately.
func RunStubIfRequested() {
	mode := os.Getenv(StubEnv)
	if mode == "" {
		return
	}
	os.Exit(runStub(mode, os.Args[1:]))
}

func runStub(mode string, args []string) int {
	name, param, _ := strings.Cut(mode, ":")

	switch name {
	case "echo":
		if _, err := io.Copy(os.Stdout, os.Stdin); err != nil {
			return 2
		}
		return 0

	case "stderr":
		fmt.Fprint(os.Stderr, StubStderr)
		if _, err := io.Copy(os.Stdout, os.Stdin); err != nil {
			return 2
		}
		return 0

	case "args":
		io.Copy(io.Discard, os.Stdin)
		for _, arg := range args {
			fmt.Println(arg)
		}
		return 0

	case "exit":
		io.Copy(io.Discard, os.Stdin)
		code, err := strconv.Atoi(param)
		if err != nil {
			return 2
		}
		return code

	case "credential":
		// Read the request up to the terminating blank line.
		r := bufio.NewReader(os.Stdin)
		for {
			line, err := r.ReadString('\n')
			if err != nil || line == "\n" {
				break
			}
		}
		fmt.Print(CredentialResponse)
		return 0

	case "lag":
		// Echo the first n bytes, then emit a filler larger than the pipe
		// buffer before consuming the rest of the input.
		n, err := strconv.Atoi(param)
		if err != nil {
			return 2
		}
		if _, err := io.CopyN(os.Stdout, os.Stdin, int64(n)); err != nil {
			return 2
		}
		if _, err := os.Stdout.Write(LagFiller()); err != nil {
			return 2
		}
		if _, err := io.Copy(os.Stdout, os.Stdin); err != nil {
			return 2
		}
		return 0

	case "noread":
		return 0

	case "chatty":
		fmt.Println("chatter")
		time.Sleep(time.Minute)
		return 0

	case "signal":
		io.Copy(io.Discard, os.Stdin)
		p, _ := os.FindProcess(os.Getpid())
		p.Signal(os.Kill)
		time.Sleep(time.Minute)
		return 0

	case "hang":
		io.Copy(io.Discard, os.Stdin)
		time.Sleep(time.Minute)
		return 0
	}

	fmt.Fprintf(os.Stderr, "stub: unknown mode %q\n", mode)
	return 2
}
