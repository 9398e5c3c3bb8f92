// internal/agent/agent.go
package agent

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domscope/internal/cookies"
	"github.com/xkilldash9x/domscope/internal/mirror"
	"github.com/xkilldash9x/domscope/internal/protocol"
	"github.com/xkilldash9x/domscope/internal/style"
)

type callKind int

const (
	callChildNodes callKind = iota
	callEdit
	callCookies
	callEventListeners
	callStyles
)

func (k callKind) String() string {
	switch k {
	case callChildNodes:
		return "getChildNodes"
	case callEdit:
		return "edit"
	case callCookies:
		return "getCookies"
	case callEventListeners:
		return "getEventListenersForNode"
	case callStyles:
		return "getStyles"
	}
	return "unknown"
}

// pendingKey names one editable field of one node: an attribute or the text value.
type pendingKey struct {
	node  mirror.NodeID
	field string
}

func attributeField(name string) string { return "attribute:" + name }

const textField = "text"

// call is the bookkeeping for one request awaiting its response.
type call struct {
	kind callKind
	node *mirror.Node

	// Edits.
	key   pendingKey
	apply func()
	done  func()

	onCookies   func([]cookies.Cookie, bool)
	onListeners func([]protocol.EventListener)
	onStyles    func(*style.Snapshot)
}

// Hooks are optional callbacks for a UI layer. They run on the goroutine that
// drives the agent.
type Hooks struct {
	// DocumentSet fires after every document push. The document is nil when
	// the agent became unbound.
	DocumentSet func(*mirror.Document)
	// ChildCountUpdated fires when only the declared child count changed.
	ChildCountUpdated func(*mirror.Node)
	// NodeUpdated fires after an attribute or text change was applied.
	NodeUpdated func(*mirror.Node)
}

// Agent owns the id arena and applies backend messages to the mirror. It is
// not safe for concurrent use; drive it from a single goroutine (see Loop).
type Agent struct {
	logger  *zap.Logger
	backend Backend
	hooks   Hooks
	mutator mutator

	session uuid.UUID
	doc     *mirror.Document
	nodes   map[mirror.NodeID]*mirror.Node

	lastCall protocol.CallID
	calls    map[protocol.CallID]*call
	pending  map[pendingKey]protocol.CallID
	waiters  map[mirror.NodeID][]func([]*mirror.Node)
	fetching map[mirror.NodeID]protocol.CallID
}

// New creates an unbound agent.
func New(backend Backend, logger *zap.Logger, hooks Hooks) *Agent {
	a := &Agent{
		logger:  logger.Named("agent"),
		backend: backend,
		hooks:   hooks,
	}
	a.mutator = mutator{agent: a}
	a.reset()
	return a
}

// reset starts a new session. Call ids keep increasing across sessions so a
// late response can never match a call of the new session.
func (a *Agent) reset() {
	a.session = uuid.New()
	a.doc = nil
	a.nodes = make(map[mirror.NodeID]*mirror.Node)
	a.calls = make(map[protocol.CallID]*call)
	a.pending = make(map[pendingKey]protocol.CallID)
	a.waiters = make(map[mirror.NodeID][]func([]*mirror.Node))
	a.fetching = make(map[mirror.NodeID]protocol.CallID)
}

// -- Accessors --

// Document returns the bound document, or nil.
func (a *Agent) Document() *mirror.Document { return a.doc }

// RequireDocument returns the bound document or ErrNoDocument.
func (a *Agent) RequireDocument() (*mirror.Document, error) {
	if a.doc == nil {
		return nil, ErrNoDocument
	}
	return a.doc, nil
}

// NodeForID resolves an id through the arena. It returns nil for unknown ids.
func (a *Agent) NodeForID(id mirror.NodeID) *mirror.Node { return a.nodes[id] }

// NodeCount returns the number of registered nodes.
func (a *Agent) NodeCount() int { return len(a.nodes) }

// Session identifies the current document binding.
func (a *Agent) Session() uuid.UUID { return a.session }

// PendingCalls returns the number of requests awaiting a response.
func (a *Agent) PendingCalls() int { return len(a.calls) }

// Snapshot copies the bound document. url is stored as given.
func (a *Agent) Snapshot(url string) (*mirror.Snapshot, error) {
	doc, err := a.RequireDocument()
	if err != nil {
		return nil, err
	}
	return &mirror.Snapshot{
		ID:         uuid.New(),
		Session:    a.session,
		URL:        url,
		CapturedAt: time.Now().UTC(),
		Root:       mirror.CaptureNode(doc.Root()),
	}, nil
}

// -- Inbound messages --

// Handle validates msg and applies it. Any returned error is a protocol
// violation; the mirror is left as it was before the message.
func (a *Agent) Handle(msg protocol.Message) error {
	if err := msg.Validate(); err != nil {
		return violation(msg.Method(), 0, err)
	}

	switch m := msg.(type) {
	case protocol.DocumentSet:
		a.SetDocument(m.Root)
		return nil
	case protocol.DetachedRootSet:
		return a.SetDetachedRoot(m.Node)
	case protocol.ChildNodesSet:
		return a.SetChildNodes(m.ParentID, m.Nodes)
	case protocol.ChildNodeCountUpdated:
		return a.ChildNodeCountUpdated(m.NodeID, m.Count)
	case protocol.ChildNodeInserted:
		return a.ChildNodeInserted(m.ParentID, m.PreviousID, m.Node)
	case protocol.ChildNodeRemoved:
		return a.ChildNodeRemoved(m.ParentID, m.NodeID)
	case protocol.AttributesUpdated:
		a.AttributesUpdated(m.NodeID, m.Attributes)
		return nil
	case protocol.AttributeModified:
		a.updateNode(m.Method(), m.NodeID, func(n *mirror.Node) { n.CommitAttribute(m.Name, m.Value) })
		return nil
	case protocol.AttributeRemoved:
		a.updateNode(m.Method(), m.NodeID, func(n *mirror.Node) { n.CommitAttributeRemoval(m.Name) })
		return nil
	case protocol.CharacterDataModified:
		a.updateNode(m.Method(), m.NodeID, func(n *mirror.Node) { n.CommitNodeValue(m.Value) })
		return nil
	case protocol.InlineStyleInvalidated:
		a.InvalidateStyles(m.NodeIDs...)
		return nil
	case protocol.Response:
		return a.resolve(m)
	}
	return violation(msg.Method(), 0, fmt.Errorf("unhandled message type %T", msg))
}

// SetDocument discards the current session and binds a new document. A nil
// payload leaves the agent unbound.
func (a *Agent) SetDocument(p *mirror.NodePayload) {
	dropped := len(a.calls)
	a.reset()
	if p != nil {
		a.doc = mirror.NewDocument(a.mutator, p)
		a.register(a.doc.Root())
	}

	a.logger.Debug("Document set",
		zap.String("session_id", a.session.String()),
		zap.Bool("bound", a.doc != nil),
		zap.Int("nodes", len(a.nodes)),
		zap.Int("dropped_calls", dropped),
	)
	if a.hooks.DocumentSet != nil {
		a.hooks.DocumentSet(a.doc)
	}
}

// SetDetachedRoot registers a subtree outside the document tree.
func (a *Agent) SetDetachedRoot(p *mirror.NodePayload) error {
	if err := a.checkFresh(nil, p); err != nil {
		return violation(protocol.MethodSetDetachedRoot, p.ID, err)
	}
	a.register(mirror.NewNode(a.doc, a.mutator, p))
	return nil
}

// SetChildNodes replaces the child list of a known parent and resolves
// everyone waiting on it. The previous children and their subtrees leave the
// arena first.
func (a *Agent) SetChildNodes(parentID mirror.NodeID, payloads []*mirror.NodePayload) error {
	parent, ok := a.nodes[parentID]
	if !ok {
		return violation(protocol.MethodSetChildNodes, parentID, ErrUnknownNode)
	}

	replaced := make(map[mirror.NodeID]struct{})
	for _, c := range parent.Children() {
		c.Walk(func(n *mirror.Node) bool {
			replaced[n.ID()] = struct{}{}
			return true
		})
	}
	if err := a.checkFresh(replaced, payloads...); err != nil {
		return violation(protocol.MethodSetChildNodes, parentID, err)
	}

	for _, c := range parent.Children() {
		a.purge(c)
	}
	for _, c := range parent.SetChildren(payloads) {
		a.register(c)
	}
	delete(a.fetching, parentID)
	a.resolveWaiters(parent)
	return nil
}

// ChildNodeCountUpdated changes only the declared count of a node.
func (a *Agent) ChildNodeCountUpdated(id mirror.NodeID, count int) error {
	n, ok := a.nodes[id]
	if !ok {
		return violation(protocol.MethodChildNodeCountUpdated, id, ErrUnknownNode)
	}
	n.SetChildNodeCount(count)
	if a.hooks.ChildCountUpdated != nil {
		a.hooks.ChildCountUpdated(n)
	}
	return nil
}

// ChildNodeInserted splices a new node after prevID (zero for the front) and
// dispatches EventNodeInserted. For a parent whose children were never
// fetched only the declared count grows; the node arrives with the next
// setChildNodes.
func (a *Agent) ChildNodeInserted(parentID, prevID mirror.NodeID, p *mirror.NodePayload) error {
	parent, ok := a.nodes[parentID]
	if !ok {
		return violation(protocol.MethodChildNodeInserted, parentID, ErrUnknownNode)
	}
	if !parent.ChildrenMaterialized() {
		parent.SetChildNodeCount(parent.ChildNodeCount() + 1)
		a.logger.Debug("Counted insert into unloaded children",
			zap.Int64("parent_id", int64(parentID)),
			zap.Int("child_node_count", parent.ChildNodeCount()))
		if a.hooks.ChildCountUpdated != nil {
			a.hooks.ChildCountUpdated(parent)
		}
		return nil
	}
	var prev *mirror.Node
	if prevID != 0 {
		if prev, ok = a.nodes[prevID]; !ok {
			return violation(protocol.MethodChildNodeInserted, prevID, ErrUnknownNode)
		}
	}
	if err := a.checkFresh(nil, p); err != nil {
		return violation(protocol.MethodChildNodeInserted, p.ID, err)
	}

	node, err := parent.InsertChild(prev, p)
	if err != nil {
		return violation(protocol.MethodChildNodeInserted, parentID, err)
	}
	a.register(node)
	parent.ClearStyles()
	a.dispatch(mirror.EventNodeInserted, node, parent)
	return nil
}

// ChildNodeRemoved unlinks a node, dispatches EventNodeRemoved and then
// deregisters the whole removed subtree.
func (a *Agent) ChildNodeRemoved(parentID, id mirror.NodeID) error {
	parent, ok := a.nodes[parentID]
	if !ok {
		return violation(protocol.MethodChildNodeRemoved, parentID, ErrUnknownNode)
	}
	node, ok := a.nodes[id]
	if !ok {
		return violation(protocol.MethodChildNodeRemoved, id, ErrUnknownNode)
	}
	if err := parent.RemoveChild(node); err != nil {
		return violation(protocol.MethodChildNodeRemoved, id, err)
	}
	parent.ClearStyles()
	a.dispatch(mirror.EventNodeRemoved, node, parent)
	a.purge(node)
	return nil
}

// AttributesUpdated applies a flat [name, value, ...] array: known names are
// updated in place and new names appended.
func (a *Agent) AttributesUpdated(id mirror.NodeID, flat []string) {
	a.updateNode(protocol.MethodAttributesUpdated, id, func(n *mirror.Node) { n.SetAttributesPayload(flat) })
}

// InvalidateStyles drops the cached styles of every known node in ids.
func (a *Agent) InvalidateStyles(ids ...mirror.NodeID) {
	for _, id := range ids {
		if n, ok := a.nodes[id]; ok {
			n.ClearStyles()
		}
	}
}

// updateNode applies a pushed attribute or text change. Changes for nodes the
// client never received are dropped.
func (a *Agent) updateNode(m protocol.Method, id mirror.NodeID, fn func(*mirror.Node)) {
	n, ok := a.nodes[id]
	if !ok {
		a.logger.Debug("Dropping update for unknown node",
			zap.String("method", string(m)),
			zap.Int64("node_id", int64(id)),
		)
		return
	}
	fn(n)
	n.ClearStyles()
	a.nodeUpdated(n)
}

func (a *Agent) nodeUpdated(n *mirror.Node) {
	if a.hooks.NodeUpdated != nil {
		a.hooks.NodeUpdated(n)
	}
}

func (a *Agent) dispatch(t mirror.EventType, target, related *mirror.Node) {
	if a.doc == nil {
		return
	}
	a.doc.Dispatch(mirror.Event{Type: t, Target: target, RelatedNode: related})
}

// -- Arena --

func (a *Agent) register(root *mirror.Node) {
	root.Walk(func(n *mirror.Node) bool {
		a.nodes[n.ID()] = n
		return true
	})
}

// purge deregisters a subtree and forgets any child fetch waiting on it.
func (a *Agent) purge(root *mirror.Node) {
	root.Walk(func(n *mirror.Node) bool {
		id := n.ID()
		if a.nodes[id] == n {
			delete(a.nodes, id)
		}
		delete(a.waiters, id)
		delete(a.fetching, id)
		return true
	})
}

// checkFresh fails when any payload id is already registered, unless it is
// listed in replaced.
func (a *Agent) checkFresh(replaced map[mirror.NodeID]struct{}, payloads ...*mirror.NodePayload) error {
	var walk func(p *mirror.NodePayload) error
	walk = func(p *mirror.NodePayload) error {
		if _, taken := a.nodes[p.ID]; taken {
			if _, ok := replaced[p.ID]; !ok {
				return fmt.Errorf("%w: %d", ErrDuplicateNode, p.ID)
			}
		}
		for _, c := range p.Children {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	for _, p := range payloads {
		if err := walk(p); err != nil {
			return err
		}
	}
	return nil
}

// -- Requests --

func (a *Agent) issue(c *call) protocol.CallID {
	a.lastCall++
	a.calls[a.lastCall] = c
	return a.lastCall
}

// RequestChildren calls cb with the children of a node. Materialized (or
// childless) nodes answer immediately; otherwise the children are fetched
// once and every waiter is resolved by the matching child list push.
func (a *Agent) RequestChildren(id mirror.NodeID, cb func([]*mirror.Node)) error {
	n, ok := a.nodes[id]
	if !ok {
		return fmt.Errorf("request children of node %d: %w", id, ErrUnknownNode)
	}
	if n.ChildrenMaterialized() || !n.HasChildNodes() {
		cb(childrenOf(n))
		return nil
	}

	a.waiters[id] = append(a.waiters[id], cb)
	if _, inFlight := a.fetching[id]; inFlight {
		return nil
	}
	callID := a.issue(&call{kind: callChildNodes, node: n})
	a.fetching[id] = callID
	a.backend.GetChildNodes(callID, id)
	return nil
}

func childrenOf(n *mirror.Node) []*mirror.Node {
	if c := n.Children(); c != nil {
		return c
	}
	return []*mirror.Node{}
}

func (a *Agent) resolveWaiters(n *mirror.Node) {
	ws := a.waiters[n.ID()]
	if len(ws) == 0 {
		return
	}
	delete(a.waiters, n.ID())
	for _, cb := range ws {
		cb(childrenOf(n))
	}
}

// ApplyAttributeSet sends an attribute edit. apply and done run, in that
// order, only when the backend confirms.
func (a *Agent) ApplyAttributeSet(node *mirror.Node, name, value string, apply, done func()) error {
	key, err := a.beginEdit(node, attributeField(name))
	if err != nil {
		return err
	}
	a.backend.SetAttribute(a.issueEdit(node, key, apply, done), node.ID(), name, value)
	return nil
}

// ApplyAttributeRemove sends an attribute removal.
func (a *Agent) ApplyAttributeRemove(node *mirror.Node, name string, apply, done func()) error {
	key, err := a.beginEdit(node, attributeField(name))
	if err != nil {
		return err
	}
	a.backend.RemoveAttribute(a.issueEdit(node, key, apply, done), node.ID(), name)
	return nil
}

// ApplyTextSet sends a text value edit. It is a no-op for non-text nodes.
func (a *Agent) ApplyTextSet(node *mirror.Node, value string, apply, done func()) error {
	if node.Type() != mirror.TextNode {
		return nil
	}
	key, err := a.beginEdit(node, textField)
	if err != nil {
		return err
	}
	a.backend.SetTextNodeValue(a.issueEdit(node, key, apply, done), node.ID(), value)
	return nil
}

func (a *Agent) beginEdit(node *mirror.Node, field string) (pendingKey, error) {
	if a.nodes[node.ID()] != node {
		return pendingKey{}, fmt.Errorf("edit %s of node %d: %w", field, node.ID(), ErrUnknownNode)
	}
	key := pendingKey{node: node.ID(), field: field}
	if callID, busy := a.pending[key]; busy {
		return pendingKey{}, fmt.Errorf("edit %s of node %d awaiting call %d: %w", field, node.ID(), callID, ErrRequestPending)
	}
	return key, nil
}

func (a *Agent) issueEdit(node *mirror.Node, key pendingKey, apply, done func()) protocol.CallID {
	callID := a.issue(&call{kind: callEdit, node: node, key: key, apply: apply, done: done})
	a.pending[key] = callID
	return callID
}

// RequestCookies fetches the cookies for a domain. done receives the parsed
// cookies and whether the backend returned structured ("advanced") cookies
// instead of a raw header string.
func (a *Agent) RequestCookies(domain string, done func(cs []cookies.Cookie, isAdvanced bool)) {
	callID := a.issue(&call{kind: callCookies, onCookies: done})
	a.backend.GetCookies(callID, domain)
}

// RequestEventListeners fetches the listeners registered on a node in the page.
func (a *Agent) RequestEventListeners(id mirror.NodeID, done func([]protocol.EventListener)) error {
	n, ok := a.nodes[id]
	if !ok {
		return fmt.Errorf("request event listeners of node %d: %w", id, ErrUnknownNode)
	}
	callID := a.issue(&call{kind: callEventListeners, node: n, onListeners: done})
	a.backend.GetEventListenersForNode(callID, id)
	return nil
}

// RequestStyles fetches and attaches a style snapshot for a node.
func (a *Agent) RequestStyles(id mirror.NodeID, done func(*style.Snapshot)) error {
	n, ok := a.nodes[id]
	if !ok {
		return fmt.Errorf("request styles of node %d: %w", id, ErrUnknownNode)
	}
	callID := a.issue(&call{kind: callStyles, node: n, onStyles: done})
	a.backend.GetStyles(callID, id)
	return nil
}

// -- Responses --

func (a *Agent) resolve(r protocol.Response) error {
	callID := r.CallID()
	c, ok := a.calls[callID]
	if !ok {
		a.logger.Debug("Dropping response for unknown call",
			zap.Uint64("call_id", uint64(callID)),
			zap.String("method", string(r.Method())),
			zap.String("session_id", a.session.String()),
		)
		return nil
	}
	delete(a.calls, callID)

	var nodeID mirror.NodeID
	if c.node != nil {
		nodeID = c.node.ID()
	}
	mismatch := violation(r.Method(), nodeID, fmt.Errorf("%w: call %d is %s", ErrUnexpectedResponse, callID, c.kind))

	switch c.kind {
	case callChildNodes:
		// A successful fetch stays in flight until setChildNodes delivers
		// the list, which may come after the ack.
		ack, ok := r.(protocol.Ack)
		if (!ok || !ack.Success) && a.fetching[nodeID] == callID {
			delete(a.fetching, nodeID)
		}
		if !ok {
			return mismatch
		}
		a.childNodesAcked(c.node, ack)

	case callEdit:
		if a.pending[c.key] == callID {
			delete(a.pending, c.key)
		}
		ack, ok := r.(protocol.Ack)
		if !ok {
			return mismatch
		}
		a.editAcked(callID, c, ack)

	case callCookies:
		res, ok := r.(protocol.CookiesResult)
		if !ok {
			return mismatch
		}
		if !res.Success {
			a.logger.Debug("Cookie request failed", zap.Uint64("call_id", uint64(callID)))
			return nil
		}
		if res.Raw != "" {
			c.onCookies(cookies.Parse(res.Raw), false)
			return nil
		}
		cs := res.Cookies
		if cs == nil {
			cs = []cookies.Cookie{}
		}
		c.onCookies(cs, true)

	case callEventListeners:
		res, ok := r.(protocol.EventListenersResult)
		if !ok {
			return mismatch
		}
		if !res.Success {
			a.logger.Debug("Event listener request failed", zap.Uint64("call_id", uint64(callID)), zap.Int64("node_id", int64(nodeID)))
			return nil
		}
		c.onListeners(res.Listeners)

	case callStyles:
		res, ok := r.(protocol.StylesResult)
		if !ok {
			return mismatch
		}
		if !res.Success {
			a.logger.Debug("Style request failed", zap.Uint64("call_id", uint64(callID)), zap.Int64("node_id", int64(nodeID)))
			return nil
		}
		snap := style.NewSnapshot(*res.Bundle)
		if a.nodes[nodeID] == c.node {
			c.node.AttachStyles(snap)
		}
		if c.onStyles != nil {
			c.onStyles(snap)
		}
	}
	return nil
}

func (a *Agent) childNodesAcked(n *mirror.Node, ack protocol.Ack) {
	if !ack.Success {
		a.logger.Debug("Child node request failed", zap.Int64("node_id", int64(n.ID())))
		delete(a.waiters, n.ID())
		return
	}
	if n.ChildrenMaterialized() {
		a.resolveWaiters(n)
	}
}

func (a *Agent) editAcked(callID protocol.CallID, c *call, ack protocol.Ack) {
	fields := []zap.Field{
		zap.Uint64("call_id", uint64(callID)),
		zap.Int64("node_id", int64(c.node.ID())),
		zap.String("field", c.key.field),
	}
	if !ack.Success {
		a.logger.Debug("Edit rejected by backend", fields...)
		return
	}
	if a.nodes[c.node.ID()] != c.node {
		a.logger.Debug("Edit confirmed for a node that is no longer mirrored", fields...)
		return
	}
	c.apply()
	c.node.ClearStyles()
	a.nodeUpdated(c.node)
	if c.done != nil {
		c.done()
	}
}

// mutator adapts the agent to mirror.Mutator so nodes can route edits here.
type mutator struct {
	agent *Agent
}

func (m mutator) SetAttribute(node *mirror.Node, name, value string, apply, done func()) error {
	return m.agent.ApplyAttributeSet(node, name, value, apply, done)
}

func (m mutator) RemoveAttribute(node *mirror.Node, name string, apply, done func()) error {
	return m.agent.ApplyAttributeRemove(node, name, apply, done)
}

func (m mutator) SetTextValue(node *mirror.Node, value string, apply, done func()) error {
	return m.agent.ApplyTextSet(node, value, apply, done)
}
