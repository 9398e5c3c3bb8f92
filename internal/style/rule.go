// internal/style/rule.go
package style

// Origin flags where a matched rule came from.
type Origin uint8

const (
	OriginUserAgent Origin = 1 << iota
	OriginUser
	OriginViaInspector
)

// Has reports whether all bits of flag are set.
func (o Origin) Has(flag Origin) bool { return o&flag == flag }

// StyleSheetRef identifies the stylesheet a rule belongs to.
type StyleSheetRef struct {
	Href string `json:"href"`
}

// RulePayload is the wire shape of a matched CSS rule.
type RulePayload struct {
	ID               string             `json:"id,omitempty"`
	SelectorText     string             `json:"selectorText"`
	Style            DeclarationPayload `json:"style"`
	IsUserAgent      bool               `json:"isUserAgent,omitempty"`
	IsUser           bool               `json:"isUser,omitempty"`
	IsViaInspector   bool               `json:"isViaInspector,omitempty"`
	ParentStyleSheet *StyleSheetRef     `json:"parentStyleSheet,omitempty"`
}

// Rule is a parsed matched rule. Its Style points back to it via ParentRule.
type Rule struct {
	ID               string
	SelectorText     string
	Style            *Declaration
	Origin           Origin
	ParentStyleSheet *StyleSheetRef
}

// ParseRule builds a Rule from its payload.
func ParseRule(p RulePayload) *Rule {
	r := &Rule{
		ID:           p.ID,
		SelectorText: p.SelectorText,
		Style:        NewDeclaration(p.Style),
	}
	r.Style.ParentRule = r

	if p.IsUserAgent {
		r.Origin |= OriginUserAgent
	}
	if p.IsUser {
		r.Origin |= OriginUser
	}
	if p.IsViaInspector {
		r.Origin |= OriginViaInspector
	}
	if p.ParentStyleSheet != nil {
		r.ParentStyleSheet = &StyleSheetRef{Href: p.ParentStyleSheet.Href}
	}
	return r
}
