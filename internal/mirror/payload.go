// internal/mirror/payload.go
package mirror

import (
	"errors"
	"fmt"
)

// ErrInvalidPayload is wrapped by every payload validation failure.
var ErrInvalidPayload = errors.New("invalid node payload")

// NodeID is the backend-assigned identity of a node. Zero means "none".
type NodeID int64

// NodeType mirrors the DOM nodeType constants.
type NodeType int

const (
	ElementNode               NodeType = 1
	AttributeNode             NodeType = 2
	TextNode                  NodeType = 3
	CDATASectionNode          NodeType = 4
	EntityReferenceNode       NodeType = 5
	EntityNode                NodeType = 6
	ProcessingInstructionNode NodeType = 7
	CommentNode               NodeType = 8
	DocumentNode              NodeType = 9
	DocumentTypeNode          NodeType = 10
	DocumentFragmentNode      NodeType = 11
	NotationNode              NodeType = 12
)

func (t NodeType) String() string {
	switch t {
	case ElementNode:
		return "element"
	case AttributeNode:
		return "attribute"
	case TextNode:
		return "text"
	case CDATASectionNode:
		return "cdata-section"
	case EntityReferenceNode:
		return "entity-reference"
	case EntityNode:
		return "entity"
	case ProcessingInstructionNode:
		return "processing-instruction"
	case CommentNode:
		return "comment"
	case DocumentNode:
		return "document"
	case DocumentTypeNode:
		return "document-type"
	case DocumentFragmentNode:
		return "document-fragment"
	case NotationNode:
		return "notation"
	}
	return fmt.Sprintf("NodeType(%d)", int(t))
}

// NodePayload is a node snapshot as pushed by the backend. Children is nil
// when the backend did not include them; ChildNodeCount may still be positive.
type NodePayload struct {
	ID             NodeID         `json:"id"`
	NodeType       NodeType       `json:"nodeType"`
	NodeName       string         `json:"nodeName"`
	LocalName      string         `json:"localName,omitempty"`
	NodeValue      string         `json:"nodeValue,omitempty"`
	Attributes     []string       `json:"attributes,omitempty"`
	ChildNodeCount int            `json:"childNodeCount,omitempty"`
	Children       []*NodePayload `json:"children,omitempty"`
}

// Validate checks the payload tree: positive ids, known node types, flat
// attribute arrays of even length, and no id appearing twice.
func (p *NodePayload) Validate() error {
	return p.validate(make(map[NodeID]struct{}))
}

// ValidatePayloads validates a batch of sibling payloads as one tree.
func ValidatePayloads(payloads []*NodePayload) error {
	seen := make(map[NodeID]struct{})
	for i, p := range payloads {
		if p == nil {
			return fmt.Errorf("%w: nil payload at index %d", ErrInvalidPayload, i)
		}
		if err := p.validate(seen); err != nil {
			return err
		}
	}
	return nil
}

func (p *NodePayload) validate(seen map[NodeID]struct{}) error {
	if p.ID <= 0 {
		return fmt.Errorf("%w: node id must be positive, got %d", ErrInvalidPayload, p.ID)
	}
	if _, dup := seen[p.ID]; dup {
		return fmt.Errorf("%w: duplicate node id %d", ErrInvalidPayload, p.ID)
	}
	seen[p.ID] = struct{}{}

	if p.NodeType < ElementNode || p.NodeType > NotationNode {
		return fmt.Errorf("%w: node %d has unknown type %d", ErrInvalidPayload, p.ID, p.NodeType)
	}
	if len(p.Attributes)%2 != 0 {
		return fmt.Errorf("%w: node %d has an odd-length attribute array", ErrInvalidPayload, p.ID)
	}
	if p.ChildNodeCount < 0 {
		return fmt.Errorf("%w: node %d has negative child count", ErrInvalidPayload, p.ID)
	}
	for i, c := range p.Children {
		if c == nil {
			return fmt.Errorf("%w: node %d has nil child at index %d", ErrInvalidPayload, p.ID, i)
		}
		if err := c.validate(seen); err != nil {
			return err
		}
	}
	return nil
}
