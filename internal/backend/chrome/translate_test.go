// internal/backend/chrome/translate_test.go
package chrome

import (
	"testing"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/css"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/domdebugger"
	"github.com/chromedp/cdproto/network"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/domscope/internal/cookies"
	"github.com/xkilldash9x/domscope/internal/mirror"
	"github.com/xkilldash9x/domscope/internal/protocol"
	"github.com/xkilldash9x/domscope/internal/style"
)

// cdpDocument is #document(1) > HTML(2) > [HEAD(3), BODY(4) > IFRAME(5)],
// with the iframe's content document (6) and a shadow root (8) on BODY.
func cdpDocument() *cdp.Node {
	return &cdp.Node{
		NodeID: 1, NodeType: cdp.NodeTypeDocument, NodeName: "#document", ChildNodeCount: 1,
		Children: []*cdp.Node{{
			NodeID: 2, NodeType: cdp.NodeTypeElement, NodeName: "HTML", LocalName: "html", ChildNodeCount: 2,
			Children: []*cdp.Node{
				{NodeID: 3, NodeType: cdp.NodeTypeElement, NodeName: "HEAD", LocalName: "head"},
				{
					NodeID: 4, NodeType: cdp.NodeTypeElement, NodeName: "BODY", LocalName: "body",
					Attributes: []string{"class", "page"}, ChildNodeCount: 1,
					Children: []*cdp.Node{{
						NodeID: 5, NodeType: cdp.NodeTypeElement, NodeName: "IFRAME", LocalName: "iframe",
						ContentDocument: &cdp.Node{
							NodeID: 6, NodeType: cdp.NodeTypeDocument, NodeName: "#document", ChildNodeCount: 1,
							Children: []*cdp.Node{{NodeID: 7, NodeType: cdp.NodeTypeElement, NodeName: "HTML", LocalName: "html"}},
						},
					}},
					ShadowRoots: []*cdp.Node{{NodeID: 8, NodeType: cdp.NodeTypeDocumentFragment, NodeName: "#document-fragment"}},
				},
			},
		}},
	}
}

func TestNodePayload(t *testing.T) {
	t.Run("should convert the tree and keep unmaterialized children nil", func(t *testing.T) {
		p := nodePayload(cdpDocument())
		require.NoError(t, p.Validate())

		assert.Equal(t, mirror.NodeID(1), p.ID)
		assert.Equal(t, mirror.DocumentNode, p.NodeType)
		html := p.Children[0]
		assert.Equal(t, "html", html.LocalName)
		head, body := html.Children[0], html.Children[1]
		assert.Nil(t, head.Children)
		assert.Equal(t, []string{"class", "page"}, body.Attributes)
		assert.Equal(t, 1, body.ChildNodeCount)

		iframe := body.Children[0]
		assert.Nil(t, iframe.Children, "frame documents are not children")
	})

	t.Run("should keep an empty child list distinct from a missing one", func(t *testing.T) {
		p := nodePayload(&cdp.Node{NodeID: 9, NodeType: cdp.NodeTypeElement, NodeName: "DIV", Children: []*cdp.Node{}})
		assert.NotNil(t, p.Children)
		assert.Empty(t, p.Children)
	})

	t.Run("should copy the attribute array", func(t *testing.T) {
		n := &cdp.Node{NodeID: 9, NodeType: cdp.NodeTypeElement, NodeName: "DIV", Attributes: []string{"id", "a"}}
		p := nodePayload(n)
		n.Attributes[1] = "b"
		assert.Equal(t, []string{"id", "a"}, p.Attributes)
	})

	t.Run("should return nil for a nil node", func(t *testing.T) {
		assert.Nil(t, nodePayload(nil))
	})
}

func TestFrameRoots(t *testing.T) {
	roots := frameRoots(cdpDocument())
	require.Len(t, roots, 2)

	ids := []mirror.NodeID{roots[0].ID, roots[1].ID}
	assert.ElementsMatch(t, []mirror.NodeID{6, 8}, ids)
	for _, r := range roots {
		if r.ID == 6 {
			require.Len(t, r.Children, 1)
			assert.Equal(t, mirror.NodeID(7), r.Children[0].ID)
		}
	}
}

func TestTranslateEvent(t *testing.T) {
	child := &cdp.Node{NodeID: 10, NodeType: cdp.NodeTypeText, NodeName: "#text", NodeValue: "hi"}

	tests := []struct {
		name string
		ev   interface{}
		want []protocol.Message
	}{
		{
			name: "set child nodes",
			ev:   &dom.EventSetChildNodes{ParentID: 4, Nodes: []*cdp.Node{child}},
			want: []protocol.Message{protocol.ChildNodesSet{
				ParentID: 4,
				Nodes:    []*mirror.NodePayload{{ID: 10, NodeType: mirror.TextNode, NodeName: "#text", NodeValue: "hi"}},
			}},
		},
		{
			name: "set empty child nodes",
			ev:   &dom.EventSetChildNodes{ParentID: 4},
			want: []protocol.Message{protocol.ChildNodesSet{ParentID: 4, Nodes: []*mirror.NodePayload{}}},
		},
		{
			name: "child inserted",
			ev:   &dom.EventChildNodeInserted{ParentNodeID: 4, PreviousNodeID: 5, Node: child},
			want: []protocol.Message{protocol.ChildNodeInserted{
				ParentID:   4,
				PreviousID: 5,
				Node:       &mirror.NodePayload{ID: 10, NodeType: mirror.TextNode, NodeName: "#text", NodeValue: "hi"},
			}},
		},
		{
			name: "child removed",
			ev:   &dom.EventChildNodeRemoved{ParentNodeID: 4, NodeID: 5},
			want: []protocol.Message{protocol.ChildNodeRemoved{ParentID: 4, NodeID: 5}},
		},
		{
			name: "child count updated",
			ev:   &dom.EventChildNodeCountUpdated{NodeID: 4, ChildNodeCount: 3},
			want: []protocol.Message{protocol.ChildNodeCountUpdated{NodeID: 4, Count: 3}},
		},
		{
			name: "attribute modified",
			ev:   &dom.EventAttributeModified{NodeID: 4, Name: "class", Value: "x"},
			want: []protocol.Message{protocol.AttributeModified{NodeID: 4, Name: "class", Value: "x"}},
		},
		{
			name: "attribute removed",
			ev:   &dom.EventAttributeRemoved{NodeID: 4, Name: "class"},
			want: []protocol.Message{protocol.AttributeRemoved{NodeID: 4, Name: "class"}},
		},
		{
			name: "character data modified",
			ev:   &dom.EventCharacterDataModified{NodeID: 10, CharacterData: "bye"},
			want: []protocol.Message{protocol.CharacterDataModified{NodeID: 10, Value: "bye"}},
		},
		{
			name: "inline style invalidated",
			ev:   &dom.EventInlineStyleInvalidated{NodeIDs: []cdp.NodeID{4, 5}},
			want: []protocol.Message{protocol.InlineStyleInvalidated{NodeIDs: []mirror.NodeID{4, 5}}},
		},
		{
			name: "shadow root pushed",
			ev:   &dom.EventShadowRootPushed{HostID: 4, Root: &cdp.Node{NodeID: 11, NodeType: cdp.NodeTypeDocumentFragment, NodeName: "#document-fragment"}},
			want: []protocol.Message{protocol.DetachedRootSet{
				Node: &mirror.NodePayload{ID: 11, NodeType: mirror.DocumentFragmentNode, NodeName: "#document-fragment"},
			}},
		},
		{
			name: "untracked event",
			ev:   &dom.EventTopLayerElementsUpdated{},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run("should translate "+tt.name, func(t *testing.T) {
			got := translateEvent(tt.ev)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("translateEvent mismatch (-want +got):\n%s", diff)
			}
			for _, msg := range got {
				assert.NoError(t, msg.Validate())
			}
		})
	}

	t.Run("should follow inserted frames with detached roots", func(t *testing.T) {
		frame := &cdp.Node{
			NodeID: 20, NodeType: cdp.NodeTypeElement, NodeName: "IFRAME",
			ContentDocument: &cdp.Node{NodeID: 21, NodeType: cdp.NodeTypeDocument, NodeName: "#document"},
		}
		got := translateEvent(&dom.EventChildNodeInserted{ParentNodeID: 4, Node: frame})
		require.Len(t, got, 2)
		assert.IsType(t, protocol.ChildNodeInserted{}, got[0])
		root, ok := got[1].(protocol.DetachedRootSet)
		require.True(t, ok)
		assert.Equal(t, mirror.NodeID(21), root.Node.ID)
	})
}

func TestTranslateCookies(t *testing.T) {
	got := translateCookies([]*network.Cookie{
		{Name: "sid", Value: "abc", Domain: ".example.com", Path: "/", Expires: 1.5, Size: 6, HTTPOnly: true, Secure: true},
		nil,
		{Name: "s", Value: "1", Size: 2, Session: true},
	})
	assert.Equal(t, []cookies.Cookie{
		{Name: "sid", Value: "abc", Domain: ".example.com", Path: "/", Expires: 1.5, Size: 6, HTTPOnly: true, Secure: true},
		{Name: "s", Value: "1", Size: 2, Session: true},
	}, got)

	assert.NotNil(t, translateCookies(nil))
}

func TestTranslateListeners(t *testing.T) {
	got := translateListeners([]*domdebugger.EventListener{
		{Type: "click", UseCapture: true, Once: true, ScriptID: "42", LineNumber: 3, ColumnNumber: 7, BackendNodeID: 99},
	})
	assert.Equal(t, []protocol.EventListener{
		{Type: "click", UseCapture: true, Once: true, ScriptID: "42", LineNumber: 3, ColumnNumber: 7, BackendNodeID: 99},
	}, got)
}

func marginStyle() *css.Style {
	return &css.Style{
		StyleSheetID: "sheet-1",
		CSSProperties: []*css.Property{
			{Name: "margin", Value: "1px", LonghandProperties: []*css.Property{
				{Name: "margin-top", Value: "1px"},
				{Name: "margin-right", Value: "1px"},
			}},
			{Name: "margin-top", Value: "1px", Implicit: true},
			{Name: "margin-right", Value: "1px", Implicit: true},
			{Name: "color", Value: "red", Important: true},
			{Name: "width", Value: "1px", Disabled: true},
		},
		ShorthandEntries: []*css.ShorthandEntry{{Name: "margin", Value: "1px"}},
	}
}

func TestDeclaration(t *testing.T) {
	t.Run("should index longhands under their shorthand", func(t *testing.T) {
		p := declaration(marginStyle())
		assert.Equal(t, "sheet-1", p.ID)
		assert.Equal(t, map[string]string{"margin": "1px"}, p.ShorthandValues)

		d := style.NewDeclaration(p)
		assert.Equal(t, 4, d.Len())
		assert.Equal(t, []string{"margin-top", "margin-right"}, d.LonghandProperties("margin"))
		assert.Equal(t, "margin", d.PropertyShorthand("margin-top"))
		assert.True(t, d.IsPropertyImplicit("margin-right"))
		assert.Equal(t, "important", d.PropertyPriority("color"))
		assert.False(t, d.HasProperty("width"), "disabled properties are skipped")
		assert.Equal(t, "margin: 1px; color: red !important;", d.TextWithShorthands())
	})

	t.Run("should produce an empty declaration for a missing style", func(t *testing.T) {
		p := declaration(nil)
		assert.NotNil(t, p.Properties)
		assert.Empty(t, p.Properties)
	})

	t.Run("should keep computed properties in order", func(t *testing.T) {
		p := computedDeclaration([]*css.ComputedStyleProperty{{Name: "display", Value: "block"}, {Name: "color", Value: "red"}})
		assert.Equal(t, []style.PropertyPayload{{Name: "display", Value: "block"}, {Name: "color", Value: "red"}}, p.Properties)
	})
}

func TestStyleBundle(t *testing.T) {
	sheets := map[css.StyleSheetID]string{"sheet-1": "https://example.com/site.css"}
	lookup := func(id css.StyleSheetID) string { return sheets[id] }

	matched := &css.GetMatchedStylesForNodeReturns{
		InlineStyle: &css.Style{CSSProperties: []*css.Property{{Name: "color", Value: "blue"}}},
		MatchedCSSRules: []*css.RuleMatch{
			{Rule: &css.Rule{SelectorList: &css.SelectorList{Text: "div"}, Origin: css.StyleSheetOriginUserAgent, Style: &css.Style{}}},
			{Rule: &css.Rule{StyleSheetID: "sheet-1", SelectorList: &css.SelectorList{Text: ".page"}, Origin: css.StyleSheetOriginRegular, Style: marginStyle()}},
			{Rule: &css.Rule{StyleSheetID: "sheet-2", SelectorList: &css.SelectorList{Text: "#x"}, Origin: css.StyleSheetOriginInspector, Style: &css.Style{}}},
			{Rule: &css.Rule{SelectorList: &css.SelectorList{Text: "p"}, Origin: css.StyleSheetOriginInjected, Style: &css.Style{}}},
			nil,
		},
	}

	b := styleBundle([]*css.ComputedStyleProperty{{Name: "color", Value: "blue"}}, matched, lookup)
	require.NotNil(t, b)

	snap := style.NewSnapshot(*b)
	assert.Equal(t, "blue", snap.Computed.PropertyValue("color"))
	assert.Equal(t, "blue", snap.Inline.PropertyValue("color"))
	require.Contains(t, snap.AttributeStyles, "style")
	assert.Equal(t, "color: blue;", snap.AttributeStyles["style"].TextWithShorthands())

	require.Len(t, snap.MatchedRules, 4)
	ua, regular, inspector, injected := snap.MatchedRules[0], snap.MatchedRules[1], snap.MatchedRules[2], snap.MatchedRules[3]

	assert.True(t, ua.Origin.Has(style.OriginUserAgent))
	assert.Nil(t, ua.ParentStyleSheet)

	assert.Equal(t, ".page", regular.SelectorText)
	assert.Equal(t, style.Origin(0), regular.Origin)
	require.NotNil(t, regular.ParentStyleSheet)
	assert.Equal(t, "https://example.com/site.css", regular.ParentStyleSheet.Href)
	assert.Same(t, regular, regular.Style.ParentRule)

	assert.True(t, inspector.Origin.Has(style.OriginViaInspector))
	assert.Nil(t, inspector.ParentStyleSheet, "unknown sheets have no href")
	assert.True(t, injected.Origin.Has(style.OriginUser))

	t.Run("should tolerate a missing matched result", func(t *testing.T) {
		b := styleBundle(nil, nil, lookup)
		assert.Empty(t, b.Computed.Properties)
		assert.Nil(t, b.AttributeStyles)
		assert.Nil(t, b.MatchedRules)
	})
}
