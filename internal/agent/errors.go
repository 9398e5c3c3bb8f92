// internal/agent/errors.go
package agent

import (
	"errors"
	"fmt"

	"github.com/xkilldash9x/domscope/internal/mirror"
	"github.com/xkilldash9x/domscope/internal/protocol"
)

var (
	// ErrUnknownNode means a message or call referenced an id the arena does
	// not hold.
	ErrUnknownNode = errors.New("unknown node id")
	// ErrDuplicateNode means a push tried to register an id that is already
	// bound to another node.
	ErrDuplicateNode = errors.New("node id already registered")
	// ErrRequestPending rejects an edit while an earlier edit of the same
	// node field is still awaiting its acknowledgement.
	ErrRequestPending = errors.New("request already pending for this node field")
	// ErrNoDocument is returned by operations that need a bound document.
	ErrNoDocument = errors.New("no document is bound")
	// ErrUnexpectedResponse means a response type did not match its call.
	ErrUnexpectedResponse = errors.New("response does not match the pending call")
)

// ProtocolError reports a backend message the mirror cannot apply.
type ProtocolError struct {
	Method protocol.Method
	NodeID mirror.NodeID
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.NodeID != 0 {
		return fmt.Sprintf("protocol violation in %s for node %d: %v", e.Method, e.NodeID, e.Err)
	}
	return fmt.Sprintf("protocol violation in %s: %v", e.Method, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func violation(m protocol.Method, id mirror.NodeID, err error) error {
	return &ProtocolError{Method: m, NodeID: id, Err: err}
}

// ErrLoopStopped is returned by Loop.Do once Run has returned.
var ErrLoopStopped = errors.New("agent loop is not running")
