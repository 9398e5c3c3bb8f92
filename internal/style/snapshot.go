// internal/style/snapshot.go
package style

// Bundle is everything the backend returns for one style fetch of a node.
type Bundle struct {
	Computed        DeclarationPayload            `json:"computedStyle"`
	Inline          DeclarationPayload            `json:"inlineStyle"`
	AttributeStyles map[string]DeclarationPayload `json:"styleAttributes,omitempty"`
	MatchedRules    []RulePayload                 `json:"matchedCSSRules,omitempty"`
}

// Snapshot is the parsed, immutable result of one style fetch.
type Snapshot struct {
	Computed        *Declaration
	Inline          *Declaration
	AttributeStyles map[string]*Declaration
	MatchedRules    []*Rule
}

// NewSnapshot parses a Bundle.
func NewSnapshot(b Bundle) *Snapshot {
	s := &Snapshot{
		Computed:        NewDeclaration(b.Computed),
		Inline:          NewDeclaration(b.Inline),
		AttributeStyles: make(map[string]*Declaration, len(b.AttributeStyles)),
		MatchedRules:    make([]*Rule, 0, len(b.MatchedRules)),
	}
	for name, payload := range b.AttributeStyles {
		s.AttributeStyles[name] = NewDeclaration(payload)
	}
	for _, rp := range b.MatchedRules {
		s.MatchedRules = append(s.MatchedRules, ParseRule(rp))
	}
	return s
}
