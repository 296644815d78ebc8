// Package credential defines the operations of the git credential-helper
// protocol as seen by the relay: the three helper operations git invokes
// (get, store, erase) and the matching `git credential` verbs sent downstream.
//
// The relay never looks inside the key=value exchange itself; this package
// only names the operations.
package credential

import (
	"fmt"
	"strings"
)

// Operation is one of the three credential-helper operations.
// The zero value is not a valid operation.
type Operation int

const (
	// Retrieve asks the downstream helper to fill in a credential.
	Retrieve Operation = iota + 1
	// Store tells the downstream helper a credential was used successfully.
	Store
	// Erase tells the downstream helper a credential was rejected.
	Erase
)

// Downstream verbs understood by `git credential`.
const (
	TokenFill    = "fill"
	TokenApprove = "approve"
	TokenReject  = "reject"
)

// Operations returns every operation in declaration order.
func Operations() []Operation {
	return []Operation{Retrieve, Store, Erase}
}

// Name returns the helper operation name git passes on the command line.
func (o Operation) Name() string {
	switch o {
	case Retrieve:
		return "get"
	case Store:
		return "store"
	case Erase:
		return "erase"
	}
	panic(fmt.Sprintf("credential: invalid operation %d", int(o)))
}

// Token returns the `git credential` verb for the operation.
func (o Operation) Token() string {
	switch o {
	case Retrieve:
		return TokenFill
	case Store:
		return TokenApprove
	case Erase:
		return TokenReject
	}
	panic(fmt.Sprintf("credential: invalid operation %d", int(o)))
}

// Valid reports whether o is one of the declared operations.
func (o Operation) Valid() bool {
	return o >= Retrieve && o <= Erase
}

func (o Operation) String() string {
	if !o.Valid() {
		return fmt.Sprintf("Operation(%d)", int(o))
	}
	return o.Name()
}

// ParseOperation maps a helper operation name (get, store, erase) to an Operation.
func ParseOperation(name string) (Operation, error) {
	for _, op := range Operations() {
		if strings.EqualFold(op.Name(), name) {
			return op, nil
		}
	}
	return 0, fmt.Errorf("unknown credential operation %q (want get, store or erase)", name)
}
