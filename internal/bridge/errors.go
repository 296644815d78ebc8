package bridge

import (
	"fmt"
	"strings"
)

// Direction identifies one side of the relay.
type Direction int

const (
	// DirectionInput copies the caller's stdin to the child.
	DirectionInput Direction = iota
	// DirectionOutput copies the child's stdout to the caller.
	DirectionOutput
)

func (d Direction) String() string {
	if d == DirectionInput {
		return "stdin"
	}
	return "stdout"
}

// SpawnError reports that the downstream program or its environment could
// not be started. No bytes were relayed.
type SpawnError struct {
	Program string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("start %s: %v", e.Program, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// RelayError reports an I/O failure in one relay direction.
type RelayError struct {
	Direction Direction
	Err       error
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("relay %s: %v", e.Direction, e.Err)
}

func (e *RelayError) Unwrap() error { return e.Err }

// AbnormalExitError reports a child that was terminated by a signal rather
// than exiting. Code is the status the relay exits with in its place.
type AbnormalExitError struct {
	Signal string
	Code   int
}

func (e *AbnormalExitError) Error() string {
	return fmt.Sprintf("child terminated by signal: %s", strings.TrimPrefix(e.Signal, "signal: "))
}
