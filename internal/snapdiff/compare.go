// File: internal/snapdiff/compare.go
package snapdiff

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domscope/internal/mirror"
)

// ErrEmptySnapshot is returned when either side has no root node.
var ErrEmptySnapshot = errors.New("snapshot has no root node")

type ChangeKind string

const (
	Added    ChangeKind = "added"
	Removed  ChangeKind = "removed"
	Modified ChangeKind = "modified"
)

// Change is one difference between two snapshots. Path locates the node
// XPath style, e.g. /HTML[1]/BODY[1]/#text[2].
type Change struct {
	Kind  ChangeKind `json:"kind"`
	Path  string     `json:"path"`
	Nodes int        `json:"nodes,omitempty"`
	Diff  string     `json:"diff,omitempty"`
}

// Result of comparing snapshot A against snapshot B.
type Result struct {
	Equivalent bool     `json:"equivalent"`
	Compared   int      `json:"compared"`
	Unloaded   int      `json:"unloaded"`
	Changes    []Change `json:"changes"`
}

type Options struct {
	// IgnoreDynamic replaces dynamic attribute and text values before comparing.
	IgnoreDynamic bool
	Rules         HeuristicRules
}

func DefaultOptions() Options {
	return Options{IgnoreDynamic: true, Rules: DefaultRules()}
}

// Comparer matches nodes by their position in the tree rather than by node
// id, since ids are only stable within one session.
type Comparer struct {
	logger     *zap.Logger
	opts       Options
	normalizer *Normalizer
	cmpOptions cmp.Options
}

func New(logger *zap.Logger, opts Options) *Comparer {
	return &Comparer{
		logger:     logger.Named("snapdiff"),
		opts:       opts,
		normalizer: NewNormalizer(opts.Rules),
		cmpOptions: cmp.Options{cmpopts.EquateEmpty()},
	}
}

// nodeView is the comparable part of a node.
type nodeView struct {
	Type           mirror.NodeType
	Name           string
	LocalName      string
	Value          string
	Attributes     map[string]string
	ChildNodeCount int
}

// Compare walks both trees together. Subtrees materialized on only one side
// are counted as unloaded, not as additions or removals.
func (c *Comparer) Compare(a, b *mirror.Snapshot) (*Result, error) {
	if a == nil || a.Root == nil || b == nil || b.Root == nil {
		return nil, ErrEmptySnapshot
	}

	res := &Result{Changes: []Change{}}
	c.compareNode(a.Root, b.Root, "/", res)
	res.Equivalent = len(res.Changes) == 0

	c.logger.Debug("Snapshots compared",
		zap.String("snapshot_a", a.ID.String()),
		zap.String("snapshot_b", b.ID.String()),
		zap.Int("compared", res.Compared),
		zap.Int("changes", len(res.Changes)),
	)
	return res, nil
}

func (c *Comparer) compareNode(a, b *mirror.NodeSnapshot, path string, res *Result) {
	res.Compared++

	both := a.Materialized() && b.Materialized()
	va, vb := c.view(a, both), c.view(b, both)
	if diff := cmp.Diff(va, vb, c.cmpOptions...); diff != "" {
		res.Changes = append(res.Changes, Change{Kind: Modified, Path: path, Diff: diff})
	}

	if !both {
		if a.Materialized() {
			res.Unloaded += a.Count() - 1
		} else if b.Materialized() {
			res.Unloaded += b.Count() - 1
		}
		return
	}

	keysA, byKeyA := childKeys(a.Children)
	keysB, byKeyB := childKeys(b.Children)

	for _, key := range keysA {
		childPath := joinPath(path, key)
		if other, ok := byKeyB[key]; ok {
			c.compareNode(byKeyA[key], other, childPath, res)
			continue
		}
		res.Changes = append(res.Changes, Change{Kind: Removed, Path: childPath, Nodes: byKeyA[key].Count()})
	}
	for _, key := range keysB {
		if _, ok := byKeyA[key]; !ok {
			res.Changes = append(res.Changes, Change{Kind: Added, Path: joinPath(path, key), Nodes: byKeyB[key].Count()})
		}
	}
}

func (c *Comparer) view(n *mirror.NodeSnapshot, bothMaterialized bool) nodeView {
	v := nodeView{
		Type:      n.Type,
		Name:      n.Name,
		LocalName: n.LocalName,
		Value:     n.Value,
	}
	// With both child lists present the children themselves are compared.
	if !bothMaterialized {
		v.ChildNodeCount = n.ChildNodeCount
	}
	if c.opts.IgnoreDynamic {
		v.Value = c.normalizer.Text(n.Value)
	}
	if len(n.Attributes) > 0 {
		v.Attributes = make(map[string]string, len(n.Attributes))
		for _, attr := range n.Attributes {
			value := attr.Value
			if c.opts.IgnoreDynamic {
				value = c.normalizer.Attribute(attr.Name, attr.Value)
			}
			v.Attributes[attr.Name] = value
		}
	}
	return v
}

// childKeys names each child by node name and its 1-based index among
// siblings of the same name, keeping document order.
func childKeys(children []*mirror.NodeSnapshot) ([]string, map[string]*mirror.NodeSnapshot) {
	keys := make([]string, 0, len(children))
	byKey := make(map[string]*mirror.NodeSnapshot, len(children))
	seen := make(map[string]int)
	for _, child := range children {
		seen[child.Name]++
		key := fmt.Sprintf("%s[%d]", child.Name, seen[child.Name])
		keys = append(keys, key)
		byKey[key] = child
	}
	return keys, byKey
}

func joinPath(parent, key string) string {
	return strings.TrimSuffix(parent, "/") + "/" + key
}

// Summary counts the changes by kind.
func (r *Result) Summary() string {
	counts := make(map[ChangeKind]int)
	for _, ch := range r.Changes {
		counts[ch.Kind]++
	}
	parts := make([]string, 0, 3)
	for _, k := range []ChangeKind{Added, Removed, Modified} {
		parts = append(parts, fmt.Sprintf("%d %s", counts[k], k))
	}
	return fmt.Sprintf("%d nodes compared: %s", r.Compared, strings.Join(parts, ", "))
}
