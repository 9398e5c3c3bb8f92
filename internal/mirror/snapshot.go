// internal/mirror/snapshot.go
package mirror

import (
	"time"

	"github.com/google/uuid"
)

// Snapshot is a detached copy of a mirrored document. Unlike the mirror it
// is immutable and safe to hand to other goroutines.
type Snapshot struct {
	ID         uuid.UUID     `json:"id"`
	Session    uuid.UUID     `json:"session"`
	URL        string        `json:"url,omitempty"`
	CapturedAt time.Time     `json:"capturedAt"`
	Root       *NodeSnapshot `json:"root"`
}

// NodeSnapshot is one node of a Snapshot. Children is nil when the children
// were never received; ChildNodeCount still carries the declared count.
type NodeSnapshot struct {
	ID             NodeID              `json:"id"`
	Type           NodeType            `json:"nodeType"`
	Name           string              `json:"nodeName"`
	LocalName      string              `json:"localName,omitempty"`
	Value          string              `json:"nodeValue,omitempty"`
	Attributes     []AttributeSnapshot `json:"attributes,omitempty"`
	ChildNodeCount int                 `json:"childNodeCount"`
	Children       []*NodeSnapshot     `json:"children"`
}

type AttributeSnapshot struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// CaptureNode copies n and its materialized subtree.
func CaptureNode(n *Node) *NodeSnapshot {
	s := &NodeSnapshot{
		ID:             n.id,
		Type:           n.nodeType,
		Name:           n.nodeName,
		LocalName:      n.localName,
		Value:          n.nodeValue,
		ChildNodeCount: n.childNodeCount,
	}
	if len(n.attributes) > 0 {
		s.Attributes = make([]AttributeSnapshot, 0, len(n.attributes))
		for _, a := range n.attributes {
			s.Attributes = append(s.Attributes, AttributeSnapshot{Name: a.Name, Value: a.Value})
		}
	}
	if n.children != nil {
		s.Children = make([]*NodeSnapshot, 0, len(n.children))
		for _, c := range n.children {
			s.Children = append(s.Children, CaptureNode(c))
		}
	}
	return s
}

// Materialized reports whether the children were captured.
func (s *NodeSnapshot) Materialized() bool { return s.Children != nil }

// Walk visits the subtree depth-first, pre-order. parent is nil for s itself
// and position is the index within the parent's children.
func (s *NodeSnapshot) Walk(fn func(node, parent *NodeSnapshot, depth, position int)) {
	s.walk(fn, nil, 0, 0)
}

func (s *NodeSnapshot) walk(fn func(node, parent *NodeSnapshot, depth, position int), parent *NodeSnapshot, depth, position int) {
	fn(s, parent, depth, position)
	for i, c := range s.Children {
		c.walk(fn, s, depth+1, i)
	}
}

// Count returns the number of nodes in the subtree.
func (s *NodeSnapshot) Count() int {
	n := 0
	s.Walk(func(*NodeSnapshot, *NodeSnapshot, int, int) { n++ })
	return n
}
