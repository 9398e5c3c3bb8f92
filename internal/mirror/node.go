// internal/mirror/node.go
package mirror

import (
	"errors"
	"fmt"

	"github.com/xkilldash9x/domscope/internal/style"
)

var (
	// ErrNotChild is returned when a sibling or child reference does not
	// belong to the node's child list.
	ErrNotChild = errors.New("node is not a child of this parent")
	// ErrNoMutator is returned by edit methods on nodes that were built
	// without a Mutator.
	ErrNoMutator = errors.New("node has no mutator")
	// ErrChildrenNotLoaded is returned when splicing into a node whose child
	// list has not been fetched.
	ErrChildrenNotLoaded = errors.New("children of node are not loaded")
)

// Mutator sends edits to the backend. Implementations call apply and then
// done only after the backend confirms the change; on failure neither runs.
type Mutator interface {
	SetAttribute(node *Node, name, value string, apply, done func()) error
	RemoveAttribute(node *Node, name string, apply, done func()) error
	SetTextValue(node *Node, value string, apply, done func()) error
}

// Mirrored is the read surface shared by Node and Document.
type Mirrored interface {
	ID() NodeID
	Type() NodeType
	Name() string
	LocalName() string
	Value() string
	Attribute(name string) (string, bool)
	Attributes() []*Attribute
	Children() []*Node
	HasChildNodes() bool
	Parent() *Node
	OwnerDocument() *Document
}

var (
	_ Mirrored = (*Node)(nil)
	_ Mirrored = (*Document)(nil)
)

// Attribute is one name/value record of an element.
type Attribute struct {
	Name  string
	Value string
	// Style is the per-attribute inline style from the last style fetch.
	Style *style.Declaration

	owner *Node
}

// Owner returns the element carrying the attribute.
func (a *Attribute) Owner() *Node { return a.owner }

// Node is the client-side mirror of one backend node. It is not safe for
// concurrent use; all writes happen on the agent's loop goroutine.
type Node struct {
	doc     *Document
	mutator Mutator

	id        NodeID
	nodeType  NodeType
	nodeName  string
	localName string
	nodeValue string

	attributes   []*Attribute
	attributeMap map[string]*Attribute

	childNodeCount int
	children       []*Node

	parent      *Node
	firstChild  *Node
	lastChild   *Node
	nextSibling *Node
	prevSibling *Node

	computedStyle *style.Declaration
	inlineStyle   *style.Declaration
	matchedRules  []*style.Rule
}

// NewNode builds a node (and any eagerly included children) from a payload.
// doc may be nil for detached roots built before any document is set.
func NewNode(doc *Document, m Mutator, p *NodePayload) *Node {
	n := &Node{}
	n.init(doc, m, p)
	return n
}

func (n *Node) init(doc *Document, m Mutator, p *NodePayload) {
	n.doc = doc
	n.mutator = m
	n.id = p.ID
	n.nodeType = p.NodeType
	n.nodeName = p.NodeName
	n.localName = p.LocalName
	n.nodeValue = p.NodeValue
	n.attributeMap = make(map[string]*Attribute, len(p.Attributes)/2)
	n.SetAttributesPayload(p.Attributes)
	n.childNodeCount = p.ChildNodeCount

	if p.Children != nil {
		n.SetChildren(p.Children)
	}

	if doc != nil && n.nodeType == ElementNode {
		// Nested frames must not replace the top-level HTML and BODY.
		if doc.documentElement == nil && n.nodeName == "HTML" {
			doc.documentElement = n
		}
		if doc.body == nil && n.nodeName == "BODY" {
			doc.body = n
		}
	}
}

// -- Accessors --

func (n *Node) ID() NodeID                        { return n.id }
func (n *Node) Type() NodeType                    { return n.nodeType }
func (n *Node) Name() string                      { return n.nodeName }
func (n *Node) LocalName() string                 { return n.localName }
func (n *Node) Value() string                     { return n.nodeValue }
func (n *Node) OwnerDocument() *Document          { return n.doc }
func (n *Node) Parent() *Node                     { return n.parent }
func (n *Node) FirstChild() *Node                 { return n.firstChild }
func (n *Node) LastChild() *Node                  { return n.lastChild }
func (n *Node) NextSibling() *Node                { return n.nextSibling }
func (n *Node) PrevSibling() *Node                { return n.prevSibling }
func (n *Node) ChildNodeCount() int               { return n.childNodeCount }
func (n *Node) HasAttributes() bool               { return len(n.attributes) > 0 }
func (n *Node) ComputedStyle() *style.Declaration { return n.computedStyle }
func (n *Node) InlineStyle() *style.Declaration   { return n.inlineStyle }
func (n *Node) MatchedRules() []*style.Rule       { return n.matchedRules }

// TextContent is the node value; it is not aggregated over descendants.
func (n *Node) TextContent() string { return n.nodeValue }

// HasChildNodes reports the declared child count, which may be known before
// the children are materialized.
func (n *Node) HasChildNodes() bool { return n.childNodeCount > 0 }

// ChildrenMaterialized reports whether the child list has been received.
func (n *Node) ChildrenMaterialized() bool { return n.children != nil }

// Children returns a copy of the child list, or nil when not materialized.
func (n *Node) Children() []*Node {
	if n.children == nil {
		return nil
	}
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// Attribute returns the value of the named attribute.
func (n *Node) Attribute(name string) (string, bool) {
	attr, ok := n.attributeMap[name]
	if !ok {
		return "", false
	}
	return attr.Value, true
}

// AttributeRecord returns the named attribute record, or nil.
func (n *Node) AttributeRecord(name string) *Attribute {
	return n.attributeMap[name]
}

// Attributes returns the attribute records in backend order.
func (n *Node) Attributes() []*Attribute {
	out := make([]*Attribute, len(n.attributes))
	copy(out, n.attributes)
	return out
}

// Walk visits n and its materialized descendants depth-first, pre-order.
// Returning false from fn skips the node's subtree.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.children {
		c.Walk(fn)
	}
}

// -- Edits (confirmed by the backend before they touch the mirror) --

// SetAttribute asks the backend to set an attribute. The mirror changes only
// once the backend confirms; done then runs after the change is applied.
func (n *Node) SetAttribute(name, value string, done func()) error {
	if n.mutator == nil {
		return ErrNoMutator
	}
	return n.mutator.SetAttribute(n, name, value, func() { n.CommitAttribute(name, value) }, done)
}

// RemoveAttribute asks the backend to remove an attribute.
func (n *Node) RemoveAttribute(name string, done func()) error {
	if n.mutator == nil {
		return ErrNoMutator
	}
	return n.mutator.RemoveAttribute(n, name, func() { n.CommitAttributeRemoval(name) }, done)
}

// SetTextValue asks the backend to change a text node's value. It is a no-op
// on every other node type.
func (n *Node) SetTextValue(value string, done func()) error {
	if n.nodeType != TextNode {
		return nil
	}
	if n.mutator == nil {
		return ErrNoMutator
	}
	return n.mutator.SetTextValue(n, value, func() { n.CommitNodeValue(value) }, done)
}

// -- Direct mutation, used by the agent for confirmed or pushed changes --

// CommitAttribute updates an existing attribute in place or appends a new one.
func (n *Node) CommitAttribute(name, value string) *Attribute {
	if attr, ok := n.attributeMap[name]; ok {
		attr.Value = value
		return attr
	}
	attr := &Attribute{Name: name, Value: value, owner: n}
	n.attributeMap[name] = attr
	n.attributes = append(n.attributes, attr)
	return attr
}

// CommitAttributeRemoval deletes an attribute, keeping the order of the rest.
func (n *Node) CommitAttributeRemoval(name string) bool {
	if _, ok := n.attributeMap[name]; !ok {
		return false
	}
	delete(n.attributeMap, name)
	for i, attr := range n.attributes {
		if attr.Name == name {
			n.attributes = append(n.attributes[:i], n.attributes[i+1:]...)
			break
		}
	}
	return true
}

// CommitNodeValue replaces the node value.
func (n *Node) CommitNodeValue(value string) {
	n.nodeValue = value
}

// SetAttributesPayload applies a flat [name, value, ...] array. Known names
// are updated in place; new ones are appended. A trailing odd name is ignored.
func (n *Node) SetAttributesPayload(flat []string) {
	for i := 0; i+1 < len(flat); i += 2 {
		n.CommitAttribute(flat[i], flat[i+1])
	}
}

// SetChildNodeCount updates the declared child count only.
func (n *Node) SetChildNodeCount(count int) {
	n.childNodeCount = count
}

// SetChildren replaces the child list with nodes built from payloads and
// returns the new children.
func (n *Node) SetChildren(payloads []*NodePayload) []*Node {
	n.children = make([]*Node, 0, len(payloads))
	for _, p := range payloads {
		n.children = append(n.children, NewNode(n.doc, n.mutator, p))
	}
	n.renumber()
	return n.Children()
}

// InsertChild builds a node from p and splices it right after prev, or at
// the front when prev is nil. The child list must be materialized.
func (n *Node) InsertChild(prev *Node, p *NodePayload) (*Node, error) {
	if n.children == nil {
		return nil, fmt.Errorf("insert into %d: %w", n.id, ErrChildrenNotLoaded)
	}
	index := 0
	if prev != nil {
		i := n.indexOf(prev)
		if i < 0 {
			return nil, fmt.Errorf("insert after node %d into %d: %w", prev.id, n.id, ErrNotChild)
		}
		index = i + 1
	}

	node := NewNode(n.doc, n.mutator, p)
	n.children = append(n.children, nil)
	copy(n.children[index+1:], n.children[index:])
	n.children[index] = node
	n.renumber()
	return node, nil
}

// RemoveChild unlinks child from the child list and clears its parent.
func (n *Node) RemoveChild(child *Node) error {
	i := n.indexOf(child)
	if i < 0 {
		return fmt.Errorf("remove node %d from %d: %w", child.id, n.id, ErrNotChild)
	}
	n.children = append(n.children[:i], n.children[i+1:]...)
	child.parent = nil
	child.nextSibling = nil
	child.prevSibling = nil
	n.renumber()
	return nil
}

func (n *Node) indexOf(child *Node) int {
	for i, c := range n.children {
		if c == child {
			return i
		}
	}
	return -1
}

// renumber recomputes the declared count and every link derived from the
// child list in one pass.
func (n *Node) renumber() {
	n.childNodeCount = len(n.children)
	if n.childNodeCount == 0 {
		n.firstChild = nil
		n.lastChild = nil
		return
	}
	n.firstChild = n.children[0]
	n.lastChild = n.children[n.childNodeCount-1]
	for i, child := range n.children {
		child.nextSibling = nil
		child.prevSibling = nil
		if i+1 < n.childNodeCount {
			child.nextSibling = n.children[i+1]
		}
		if i > 0 {
			child.prevSibling = n.children[i-1]
		}
		child.parent = n
	}
}

// -- Style cache --

// AttachStyles replaces the cached style snapshot. Per-attribute styles are
// attached only to attributes the node currently has; attributes the
// snapshot does not mention lose any earlier style.
func (n *Node) AttachStyles(s *style.Snapshot) {
	n.computedStyle = s.Computed
	n.inlineStyle = s.Inline
	for _, attr := range n.attributes {
		attr.Style = nil
	}
	for name, decl := range s.AttributeStyles {
		if attr, ok := n.attributeMap[name]; ok {
			attr.Style = decl
		}
	}
	n.matchedRules = s.MatchedRules
}

// ClearStyles drops every cached style of the node.
func (n *Node) ClearStyles() {
	n.computedStyle = nil
	n.inlineStyle = nil
	for _, attr := range n.attributes {
		attr.Style = nil
	}
	n.matchedRules = nil
}

// HasStyles reports whether a style snapshot is attached.
func (n *Node) HasStyles() bool {
	return n.computedStyle != nil
}
