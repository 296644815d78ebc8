// Command git-credential-relay is a git credential helper that forwards
// get, store and erase requests to `git credential` in a nested environment
// (a WSL distribution or a Docker container) and relays stdio verbatim.
package main

import (
	"credrelay/internal/cli"
	"os"
)

func main() {
	os.Exit(cli.Run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
