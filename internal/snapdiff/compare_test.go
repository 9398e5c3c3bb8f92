// File: internal/snapdiff/compare_test.go
package snapdiff

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/domscope/internal/mirror"
)

// -- Fixtures --

func el(id mirror.NodeID, name string, attrs []mirror.AttributeSnapshot, children ...*mirror.NodeSnapshot) *mirror.NodeSnapshot {
	if children == nil {
		children = []*mirror.NodeSnapshot{}
	}
	return &mirror.NodeSnapshot{
		ID: id, Type: mirror.ElementNode, Name: name, LocalName: name,
		Attributes: attrs, ChildNodeCount: len(children), Children: children,
	}
}

func text(id mirror.NodeID, value string) *mirror.NodeSnapshot {
	return &mirror.NodeSnapshot{ID: id, Type: mirror.TextNode, Name: "#text", Value: value, Children: []*mirror.NodeSnapshot{}}
}

// page builds doc > HTML > [HEAD (not loaded), BODY > [DIV > #text, P, P]].
// Ids are offset so that two pages never share node ids.
func page(offset mirror.NodeID, nonce, greeting string) *mirror.Snapshot {
	head := &mirror.NodeSnapshot{ID: offset + 3, Type: mirror.ElementNode, Name: "HEAD", LocalName: "head", ChildNodeCount: 2}
	div := el(offset+5, "DIV", []mirror.AttributeSnapshot{{Name: "class", Value: "a"}, {Name: "nonce", Value: nonce}},
		text(offset+6, greeting))
	body := el(offset+4, "BODY", nil, div, el(offset+7, "P", nil), el(offset+8, "P", nil))
	html := el(offset+2, "HTML", nil, head, body)
	return &mirror.Snapshot{
		ID:      uuid.New(),
		Session: uuid.New(),
		Root:    &mirror.NodeSnapshot{ID: offset + 1, Type: mirror.DocumentNode, Name: "#document", ChildNodeCount: 1, Children: []*mirror.NodeSnapshot{html}},
	}
}

func body(s *mirror.Snapshot) *mirror.NodeSnapshot {
	return s.Root.Children[0].Children[1]
}

// -- Test Cases --

func TestCompare(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("should treat pages from different sessions as equivalent", func(t *testing.T) {
		c := New(logger, DefaultOptions())
		res, err := c.Compare(page(0, "r4nd0m", "hello"), page(100, "r4nd0m", "hello"))
		require.NoError(t, err)
		assert.True(t, res.Equivalent)
		assert.Equal(t, 8, res.Compared)
		assert.Empty(t, res.Changes)
		assert.Equal(t, "8 nodes compared: 0 added, 0 removed, 0 modified", res.Summary())
	})

	t.Run("should ignore dynamic attributes unless asked not to", func(t *testing.T) {
		a, b := page(0, "first-nonce", "hello"), page(0, "second-nonce", "hello")

		res, err := New(logger, DefaultOptions()).Compare(a, b)
		require.NoError(t, err)
		assert.True(t, res.Equivalent)

		exact := DefaultOptions()
		exact.IgnoreDynamic = false
		res, err = New(logger, exact).Compare(a, b)
		require.NoError(t, err)
		require.Len(t, res.Changes, 1)
		assert.Equal(t, Modified, res.Changes[0].Kind)
		assert.Equal(t, "/HTML[1]/BODY[1]/DIV[1]", res.Changes[0].Path)
		assert.Contains(t, res.Changes[0].Diff, "second-nonce")
	})

	t.Run("should report modified text", func(t *testing.T) {
		res, err := New(logger, DefaultOptions()).Compare(page(0, "n", "hello"), page(0, "n", "goodbye"))
		require.NoError(t, err)
		assert.False(t, res.Equivalent)
		require.Len(t, res.Changes, 1)
		assert.Equal(t, "/HTML[1]/BODY[1]/DIV[1]/#text[1]", res.Changes[0].Path)
		assert.Contains(t, res.Changes[0].Diff, "goodbye")
	})

	t.Run("should report added and removed subtrees", func(t *testing.T) {
		a, b := page(0, "n", "hello"), page(0, "n", "hello")
		bb := body(b)
		bb.Children = append(bb.Children[:2], el(20, "SPAN", nil, text(21, "new")))
		bb.ChildNodeCount = len(bb.Children)

		res, err := New(logger, DefaultOptions()).Compare(a, b)
		require.NoError(t, err)
		assert.Equal(t, []Change{
			{Kind: Removed, Path: "/HTML[1]/BODY[1]/P[2]", Nodes: 1},
			{Kind: Added, Path: "/HTML[1]/BODY[1]/SPAN[1]", Nodes: 2},
		}, res.Changes)
		assert.Equal(t, "7 nodes compared: 1 added, 1 removed, 0 modified", res.Summary())
	})

	t.Run("should count subtrees loaded on one side as unloaded", func(t *testing.T) {
		a, b := page(0, "n", "hello"), page(0, "n", "hello")
		head := b.Root.Children[0].Children[0]
		head.Children = []*mirror.NodeSnapshot{el(30, "TITLE", nil, text(31, "t")), el(32, "META", nil)}

		res, err := New(logger, DefaultOptions()).Compare(a, b)
		require.NoError(t, err)
		assert.True(t, res.Equivalent)
		assert.Equal(t, 3, res.Unloaded)
	})

	t.Run("should reject a snapshot without a root", func(t *testing.T) {
		_, err := New(logger, DefaultOptions()).Compare(page(0, "n", "x"), &mirror.Snapshot{})
		assert.ErrorIs(t, err, ErrEmptySnapshot)
		_, err = New(logger, DefaultOptions()).Compare(nil, page(0, "n", "x"))
		assert.ErrorIs(t, err, ErrEmptySnapshot)
	})
}
