// internal/agent/backend.go
package agent

import (
	"github.com/xkilldash9x/domscope/internal/mirror"
	"github.com/xkilldash9x/domscope/internal/protocol"
)

// Backend issues requests to the inspector backend. Calls must not block and
// must not touch the mirror; each is answered later by a protocol.Response
// carrying the same call id, delivered on the backend's message stream.
type Backend interface {
	GetChildNodes(call protocol.CallID, id mirror.NodeID)
	SetAttribute(call protocol.CallID, id mirror.NodeID, name, value string)
	RemoveAttribute(call protocol.CallID, id mirror.NodeID, name string)
	SetTextNodeValue(call protocol.CallID, id mirror.NodeID, value string)
	GetCookies(call protocol.CallID, domain string)
	GetEventListenersForNode(call protocol.CallID, id mirror.NodeID)
	GetStyles(call protocol.CallID, id mirror.NodeID)
}
