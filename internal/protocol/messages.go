// internal/protocol/messages.go
package protocol

import (
	"errors"
	"fmt"

	"github.com/xkilldash9x/domscope/internal/cookies"
	"github.com/xkilldash9x/domscope/internal/mirror"
	"github.com/xkilldash9x/domscope/internal/style"
)

// ErrInvalidMessage is wrapped by every boundary validation failure.
var ErrInvalidMessage = errors.New("invalid protocol message")

// CallID correlates a request with its response. Zero is never issued.
type CallID uint64

// Method names a message on the wire and in transcripts.
type Method string

const (
	MethodSetDocument            Method = "setDocument"
	MethodSetDetachedRoot        Method = "setDetachedRoot"
	MethodSetChildNodes          Method = "setChildNodes"
	MethodChildNodeCountUpdated  Method = "childNodeCountUpdated"
	MethodChildNodeInserted      Method = "childNodeInserted"
	MethodChildNodeRemoved       Method = "childNodeRemoved"
	MethodAttributesUpdated      Method = "attributesUpdated"
	MethodAttributeModified      Method = "attributeModified"
	MethodAttributeRemoved       Method = "attributeRemoved"
	MethodCharacterDataModified  Method = "characterDataModified"
	MethodInlineStyleInvalidated Method = "inlineStyleInvalidated"

	MethodAck                  Method = "ack"
	MethodCookiesResult        Method = "cookiesResult"
	MethodEventListenersResult Method = "eventListenersResult"
	MethodStylesResult         Method = "stylesResult"
)

// Message is any inbound message: a backend push or a response to a call.
type Message interface {
	Method() Method
	Validate() error
}

// Response is a message answering one call.
type Response interface {
	Message
	CallID() CallID
}

func invalid(m Method, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidMessage, m, fmt.Sprintf(format, args...))
}

func requireNode(m Method, id mirror.NodeID, field string) error {
	if id <= 0 {
		return invalid(m, "%s must be positive, got %d", field, id)
	}
	return nil
}

func validatePayload(m Method, p *mirror.NodePayload) error {
	if p == nil {
		return invalid(m, "missing node payload")
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%s: %w", m, err)
	}
	return nil
}

// -- Pushes --

// DocumentSet replaces the whole mirror. A nil Root unbinds the agent.
type DocumentSet struct {
	Root *mirror.NodePayload `json:"root,omitempty"`
}

func (DocumentSet) Method() Method { return MethodSetDocument }

func (m DocumentSet) Validate() error {
	if m.Root == nil {
		return nil
	}
	return validatePayload(m.Method(), m.Root)
}

// DetachedRootSet registers a subtree that is not attached to the document.
type DetachedRootSet struct {
	Node *mirror.NodePayload `json:"node"`
}

func (DetachedRootSet) Method() Method    { return MethodSetDetachedRoot }
func (m DetachedRootSet) Validate() error { return validatePayload(m.Method(), m.Node) }

// ChildNodesSet delivers the full child list of a parent.
type ChildNodesSet struct {
	ParentID mirror.NodeID         `json:"parentId"`
	Nodes    []*mirror.NodePayload `json:"nodes"`
}

func (ChildNodesSet) Method() Method { return MethodSetChildNodes }

func (m ChildNodesSet) Validate() error {
	if err := requireNode(m.Method(), m.ParentID, "parentId"); err != nil {
		return err
	}
	if err := mirror.ValidatePayloads(m.Nodes); err != nil {
		return fmt.Errorf("%s: %w", m.Method(), err)
	}
	return nil
}

// ChildNodeCountUpdated changes only the declared child count.
type ChildNodeCountUpdated struct {
	NodeID mirror.NodeID `json:"nodeId"`
	Count  int           `json:"childNodeCount"`
}

func (ChildNodeCountUpdated) Method() Method { return MethodChildNodeCountUpdated }

func (m ChildNodeCountUpdated) Validate() error {
	if err := requireNode(m.Method(), m.NodeID, "nodeId"); err != nil {
		return err
	}
	if m.Count < 0 {
		return invalid(m.Method(), "negative child count %d", m.Count)
	}
	return nil
}

// ChildNodeInserted splices Node after PreviousID, or at the front when
// PreviousID is zero.
type ChildNodeInserted struct {
	ParentID   mirror.NodeID       `json:"parentNodeId"`
	PreviousID mirror.NodeID       `json:"previousNodeId,omitempty"`
	Node       *mirror.NodePayload `json:"node"`
}

func (ChildNodeInserted) Method() Method { return MethodChildNodeInserted }

func (m ChildNodeInserted) Validate() error {
	if err := requireNode(m.Method(), m.ParentID, "parentNodeId"); err != nil {
		return err
	}
	if m.PreviousID < 0 {
		return invalid(m.Method(), "negative previousNodeId %d", m.PreviousID)
	}
	return validatePayload(m.Method(), m.Node)
}

// ChildNodeRemoved removes one child and its subtree.
type ChildNodeRemoved struct {
	ParentID mirror.NodeID `json:"parentNodeId"`
	NodeID   mirror.NodeID `json:"nodeId"`
}

func (ChildNodeRemoved) Method() Method { return MethodChildNodeRemoved }

func (m ChildNodeRemoved) Validate() error {
	if err := requireNode(m.Method(), m.ParentID, "parentNodeId"); err != nil {
		return err
	}
	return requireNode(m.Method(), m.NodeID, "nodeId")
}

// AttributesUpdated carries a flat [name, value, ...] array.
type AttributesUpdated struct {
	NodeID     mirror.NodeID `json:"id"`
	Attributes []string      `json:"attributes"`
}

func (AttributesUpdated) Method() Method { return MethodAttributesUpdated }

func (m AttributesUpdated) Validate() error {
	if err := requireNode(m.Method(), m.NodeID, "id"); err != nil {
		return err
	}
	if len(m.Attributes)%2 != 0 {
		return invalid(m.Method(), "odd-length attribute array for node %d", m.NodeID)
	}
	return nil
}

// AttributeModified sets a single attribute.
type AttributeModified struct {
	NodeID mirror.NodeID `json:"nodeId"`
	Name   string        `json:"name"`
	Value  string        `json:"value"`
}

func (AttributeModified) Method() Method { return MethodAttributeModified }

func (m AttributeModified) Validate() error {
	if err := requireNode(m.Method(), m.NodeID, "nodeId"); err != nil {
		return err
	}
	if m.Name == "" {
		return invalid(m.Method(), "empty attribute name")
	}
	return nil
}

// AttributeRemoved removes a single attribute.
type AttributeRemoved struct {
	NodeID mirror.NodeID `json:"nodeId"`
	Name   string        `json:"name"`
}

func (AttributeRemoved) Method() Method { return MethodAttributeRemoved }

func (m AttributeRemoved) Validate() error {
	if err := requireNode(m.Method(), m.NodeID, "nodeId"); err != nil {
		return err
	}
	if m.Name == "" {
		return invalid(m.Method(), "empty attribute name")
	}
	return nil
}

// CharacterDataModified replaces a character data node's value.
type CharacterDataModified struct {
	NodeID mirror.NodeID `json:"nodeId"`
	Value  string        `json:"characterData"`
}

func (CharacterDataModified) Method() Method { return MethodCharacterDataModified }
func (m CharacterDataModified) Validate() error {
	return requireNode(m.Method(), m.NodeID, "nodeId")
}

// InlineStyleInvalidated marks the cached styles of the listed nodes stale.
type InlineStyleInvalidated struct {
	NodeIDs []mirror.NodeID `json:"nodeIds"`
}

func (InlineStyleInvalidated) Method() Method { return MethodInlineStyleInvalidated }

func (m InlineStyleInvalidated) Validate() error {
	for _, id := range m.NodeIDs {
		if err := requireNode(m.Method(), id, "nodeIds[]"); err != nil {
			return err
		}
	}
	return nil
}

// -- Responses --

func requireCall(m Method, id CallID) error {
	if id == 0 {
		return invalid(m, "missing call id")
	}
	return nil
}

// Ack answers an edit or a child fetch.
type Ack struct {
	Call    CallID `json:"callId"`
	Success bool   `json:"success"`
}

func (Ack) Method() Method    { return MethodAck }
func (m Ack) CallID() CallID  { return m.Call }
func (m Ack) Validate() error { return requireCall(m.Method(), m.Call) }

// CookiesResult answers a cookie request with either structured cookies
// (an "advanced" backend) or a raw Cookie header string.
type CookiesResult struct {
	Call    CallID           `json:"callId"`
	Success bool             `json:"success"`
	Cookies []cookies.Cookie `json:"cookies,omitempty"`
	Raw     string           `json:"raw,omitempty"`
}

func (CookiesResult) Method() Method    { return MethodCookiesResult }
func (m CookiesResult) CallID() CallID  { return m.Call }
func (m CookiesResult) Validate() error { return requireCall(m.Method(), m.Call) }

// EventListener describes one listener registered on a node in the page.
type EventListener struct {
	Type          string `json:"type"`
	UseCapture    bool   `json:"useCapture"`
	Passive       bool   `json:"passive,omitempty"`
	Once          bool   `json:"once,omitempty"`
	ScriptID      string `json:"scriptId,omitempty"`
	LineNumber    int64  `json:"lineNumber"`
	ColumnNumber  int64  `json:"columnNumber"`
	BackendNodeID int64  `json:"backendNodeId,omitempty"`
}

// EventListenersResult answers an event listener request.
type EventListenersResult struct {
	Call      CallID          `json:"callId"`
	Success   bool            `json:"success"`
	Listeners []EventListener `json:"listeners,omitempty"`
}

func (EventListenersResult) Method() Method    { return MethodEventListenersResult }
func (m EventListenersResult) CallID() CallID  { return m.Call }
func (m EventListenersResult) Validate() error { return requireCall(m.Method(), m.Call) }

// StylesResult answers a style fetch.
type StylesResult struct {
	Call    CallID        `json:"callId"`
	Success bool          `json:"success"`
	Bundle  *style.Bundle `json:"styles,omitempty"`
}

func (StylesResult) Method() Method   { return MethodStylesResult }
func (m StylesResult) CallID() CallID { return m.Call }

func (m StylesResult) Validate() error {
	if err := requireCall(m.Method(), m.Call); err != nil {
		return err
	}
	if m.Success && m.Bundle == nil {
		return invalid(m.Method(), "successful result without styles")
	}
	return nil
}
