// Package resolver turns the caller's operation and optional flags into the
// exact invocation the bridge runs downstream. It does no I/O.
package resolver

import (
	"credrelay/pkg/credential"
)

// Flags forwarded to the launcher, in the order they are emitted.
const (
	FlagCd           = "--cd"
	FlagDistribution = "--distribution"
	FlagUser         = "--user"
	FlagSystem       = "--system"
)

// Params are the caller-supplied optional parameters.
type Params struct {
	Cd           credential.Optional[string]
	Distribution credential.Optional[string]
	User         credential.Optional[string]
	System       bool
}

// Route describes how to reach the downstream program: the launcher binary,
// the routing arguments that select the nested environment, and the program
// with its fixed leading arguments.
type Route struct {
	Launcher string
	Routing  []string
	Program  []string
}

// DefaultRoute runs `git credential` in the Ubuntu WSL distribution.
func DefaultRoute() Route {
	return Route{
		Launcher: "wsl.exe",
		Routing:  []string{"-d", "Ubuntu", "--"},
		Program:  []string{"git", "credential"},
	}
}

// Invocation is the resolved description of what to run downstream.
type Invocation struct {
	Operation credential.Operation
	Params    Params

	// Args holds only the caller-supplied flags, in fixed order.
	Args     []string
	Launcher string
	Routing  []string
	Program  []string
}

// Token returns the downstream subcommand token.
func (inv *Invocation) Token() string {
	return inv.Operation.Token()
}

// Argv returns the full argument vector passed to the launcher:
// caller flags, routing arguments, program, then the subcommand token.
func (inv *Invocation) Argv() []string {
	argv := make([]string, 0, len(inv.Args)+len(inv.Routing)+len(inv.Program)+1)
	argv = append(argv, inv.Args...)
	argv = append(argv, inv.Routing...)
	argv = append(argv, inv.Program...)
	return append(argv, inv.Token())
}

// Command returns the program and subcommand token without launcher routing.
// Backends that reach the environment by other means (an exec API) run this.
func (inv *Invocation) Command() []string {
	cmd := make([]string, 0, len(inv.Program)+1)
	cmd = append(cmd, inv.Program...)
	return append(cmd, inv.Token())
}

// Resolve builds the Invocation for op. Every combination of inputs is valid;
// absent parameters contribute no arguments.
func Resolve(op credential.Operation, p Params, r Route) Invocation {
	return Invocation{
		Operation: op,
		Params:    p,
		Args:      FlagArgs(p),
		Launcher:  r.Launcher,
		Routing:   append([]string(nil), r.Routing...),
		Program:   append([]string(nil), r.Program...),
	}
}

// FlagArgs returns the launcher flags for p: working directory, environment,
// user, then the system switch. The order is fixed.
func FlagArgs(p Params) []string {
	args := []string{}

	if cd, ok := p.Cd.Get(); ok {
		args = append(args, FlagCd, cd)
	}

	if distribution, ok := p.Distribution.Get(); ok {
		args = append(args, FlagDistribution, distribution)
	}

	if user, ok := p.User.Get(); ok {
		args = append(args, FlagUser, user)
	}

	if p.System {
		args = append(args, FlagSystem)
	}

	return args
}
