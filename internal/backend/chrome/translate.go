// internal/backend/chrome/translate.go
package chrome

import (
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/css"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/domdebugger"
	"github.com/chromedp/cdproto/network"

	"github.com/xkilldash9x/domscope/internal/cookies"
	"github.com/xkilldash9x/domscope/internal/mirror"
	"github.com/xkilldash9x/domscope/internal/protocol"
	"github.com/xkilldash9x/domscope/internal/style"
)

// -- Nodes --

// nodePayload converts a CDP node and the children it carries. Children stays
// nil when CDP did not send the child list. Frame documents and shadow roots
// are not part of the child list; see frameRoots.
func nodePayload(n *cdp.Node) *mirror.NodePayload {
	if n == nil {
		return nil
	}
	p := &mirror.NodePayload{
		ID:             mirror.NodeID(n.NodeID),
		NodeType:       mirror.NodeType(n.NodeType),
		NodeName:       n.NodeName,
		LocalName:      n.LocalName,
		NodeValue:      n.NodeValue,
		ChildNodeCount: int(n.ChildNodeCount),
	}
	if len(n.Attributes) > 0 {
		p.Attributes = append([]string(nil), n.Attributes...)
	}
	if n.Children != nil {
		p.Children = nodePayloads(n.Children)
	}
	return p
}

// nodePayloads never returns nil, so an empty CDP list still marks the
// children as received.
func nodePayloads(nodes []*cdp.Node) []*mirror.NodePayload {
	out := make([]*mirror.NodePayload, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, nodePayload(n))
	}
	return out
}

// frameRoots collects the content documents of frame owners and the shadow
// roots of hosts found anywhere under nodes, including inside other frames.
// They are mirrored as detached roots so later pushes for their nodes resolve.
func frameRoots(nodes ...*cdp.Node) []*mirror.NodePayload {
	var out []*mirror.NodePayload
	var walk func(n *cdp.Node)
	walk = func(n *cdp.Node) {
		if n == nil {
			return
		}
		for _, c := range n.Children {
			walk(c)
		}
		for _, sr := range n.ShadowRoots {
			out = append(out, nodePayload(sr))
			walk(sr)
		}
		if n.ContentDocument != nil {
			out = append(out, nodePayload(n.ContentDocument))
			walk(n.ContentDocument)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return out
}

// withFrameRoots appends a DetachedRootSet for every frame root under nodes.
func withFrameRoots(msg protocol.Message, nodes ...*cdp.Node) []protocol.Message {
	out := []protocol.Message{msg}
	for _, root := range frameRoots(nodes...) {
		out = append(out, protocol.DetachedRootSet{Node: root})
	}
	return out
}

// -- Events --

// translateEvent maps a DOM domain event to protocol messages. It returns nil
// for events the mirror does not track; documentUpdated is handled by the
// backend itself because it requires a fresh document fetch.
func translateEvent(ev interface{}) []protocol.Message {
	switch ev := ev.(type) {
	case *dom.EventSetChildNodes:
		return withFrameRoots(protocol.ChildNodesSet{
			ParentID: mirror.NodeID(ev.ParentID),
			Nodes:    nodePayloads(ev.Nodes),
		}, ev.Nodes...)
	case *dom.EventChildNodeInserted:
		return withFrameRoots(protocol.ChildNodeInserted{
			ParentID:   mirror.NodeID(ev.ParentNodeID),
			PreviousID: mirror.NodeID(ev.PreviousNodeID),
			Node:       nodePayload(ev.Node),
		}, ev.Node)
	case *dom.EventChildNodeRemoved:
		return []protocol.Message{protocol.ChildNodeRemoved{
			ParentID: mirror.NodeID(ev.ParentNodeID),
			NodeID:   mirror.NodeID(ev.NodeID),
		}}
	case *dom.EventChildNodeCountUpdated:
		return []protocol.Message{protocol.ChildNodeCountUpdated{
			NodeID: mirror.NodeID(ev.NodeID),
			Count:  int(ev.ChildNodeCount),
		}}
	case *dom.EventAttributeModified:
		return []protocol.Message{protocol.AttributeModified{
			NodeID: mirror.NodeID(ev.NodeID),
			Name:   ev.Name,
			Value:  ev.Value,
		}}
	case *dom.EventAttributeRemoved:
		return []protocol.Message{protocol.AttributeRemoved{
			NodeID: mirror.NodeID(ev.NodeID),
			Name:   ev.Name,
		}}
	case *dom.EventCharacterDataModified:
		return []protocol.Message{protocol.CharacterDataModified{
			NodeID: mirror.NodeID(ev.NodeID),
			Value:  ev.CharacterData,
		}}
	case *dom.EventInlineStyleInvalidated:
		ids := make([]mirror.NodeID, 0, len(ev.NodeIDs))
		for _, id := range ev.NodeIDs {
			ids = append(ids, mirror.NodeID(id))
		}
		return []protocol.Message{protocol.InlineStyleInvalidated{NodeIDs: ids}}
	case *dom.EventShadowRootPushed:
		if ev.Root == nil {
			return nil
		}
		return withFrameRoots(protocol.DetachedRootSet{Node: nodePayload(ev.Root)}, ev.Root)
	}
	return nil
}

// -- Request results --

func translateCookies(in []*network.Cookie) []cookies.Cookie {
	out := make([]cookies.Cookie, 0, len(in))
	for _, c := range in {
		if c == nil {
			continue
		}
		out = append(out, cookies.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Size:     int(c.Size),
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			Session:  c.Session,
		})
	}
	return out
}

func translateListeners(in []*domdebugger.EventListener) []protocol.EventListener {
	out := make([]protocol.EventListener, 0, len(in))
	for _, l := range in {
		if l == nil {
			continue
		}
		out = append(out, protocol.EventListener{
			Type:          l.Type,
			UseCapture:    l.UseCapture,
			Passive:       l.Passive,
			Once:          l.Once,
			ScriptID:      string(l.ScriptID),
			LineNumber:    l.LineNumber,
			ColumnNumber:  l.ColumnNumber,
			BackendNodeID: int64(l.BackendNodeID),
		})
	}
	return out
}

// -- Styles --

func computedDeclaration(props []*css.ComputedStyleProperty) style.DeclarationPayload {
	d := style.DeclarationPayload{Properties: make([]style.PropertyPayload, 0, len(props))}
	for _, p := range props {
		if p == nil {
			continue
		}
		d.Properties = append(d.Properties, style.PropertyPayload{Name: p.Name, Value: p.Value})
	}
	return d
}

// declaration converts a CSS style. Longhands reported under a shorthand get
// that shorthand recorded, which drives the shorthand index of the parsed
// declaration. Disabled properties are skipped.
func declaration(s *css.Style) style.DeclarationPayload {
	d := style.DeclarationPayload{Properties: []style.PropertyPayload{}}
	if s == nil {
		return d
	}
	d.ID = string(s.StyleSheetID)

	shorthandOf := make(map[string]string)
	for _, p := range s.CSSProperties {
		if p == nil {
			continue
		}
		for _, lh := range p.LonghandProperties {
			if lh != nil {
				shorthandOf[lh.Name] = p.Name
			}
		}
	}

	for _, p := range s.CSSProperties {
		if p == nil || p.Disabled {
			continue
		}
		prop := style.PropertyPayload{
			Name:      p.Name,
			Value:     p.Value,
			Implicit:  p.Implicit,
			Shorthand: shorthandOf[p.Name],
		}
		if p.Important {
			prop.Priority = "important"
		}
		d.Properties = append(d.Properties, prop)
	}

	if len(s.ShorthandEntries) > 0 {
		d.ShorthandValues = make(map[string]string, len(s.ShorthandEntries))
		for _, e := range s.ShorthandEntries {
			if e != nil {
				d.ShorthandValues[e.Name] = e.Value
			}
		}
	}
	return d
}

func rulePayload(r *css.Rule, sheetURL func(css.StyleSheetID) string) style.RulePayload {
	p := style.RulePayload{
		ID:             string(r.StyleSheetID),
		Style:          declaration(r.Style),
		IsUserAgent:    r.Origin == css.StyleSheetOriginUserAgent,
		IsUser:         r.Origin == css.StyleSheetOriginInjected,
		IsViaInspector: r.Origin == css.StyleSheetOriginInspector,
	}
	if r.SelectorList != nil {
		p.SelectorText = r.SelectorList.Text
	}
	if r.StyleSheetID != "" && sheetURL != nil {
		if href := sheetURL(r.StyleSheetID); href != "" {
			p.ParentStyleSheet = &style.StyleSheetRef{Href: href}
		}
	}
	return p
}

// styleBundle assembles one style fetch. The inline style doubles as the
// style of the "style" attribute.
func styleBundle(computed []*css.ComputedStyleProperty, matched *css.GetMatchedStylesForNodeReturns, sheetURL func(css.StyleSheetID) string) *style.Bundle {
	b := &style.Bundle{Computed: computedDeclaration(computed)}
	if matched == nil {
		b.Inline = declaration(nil)
		return b
	}

	b.Inline = declaration(matched.InlineStyle)
	if matched.InlineStyle != nil {
		b.AttributeStyles = map[string]style.DeclarationPayload{"style": b.Inline}
	}
	for _, m := range matched.MatchedCSSRules {
		if m == nil || m.Rule == nil {
			continue
		}
		b.MatchedRules = append(b.MatchedRules, rulePayload(m.Rule, sheetURL))
	}
	return b
}
