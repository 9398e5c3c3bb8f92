package style

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// marginPayload declares a margin shorthand expanded into four longhands.
func marginPayload() DeclarationPayload {
	return DeclarationPayload{
		Properties: []PropertyPayload{
			{Name: "color", Value: "red"},
			{Name: "margin-top", Value: "1px", Shorthand: "margin", Priority: "important"},
			{Name: "margin-right", Value: "2px", Shorthand: "margin"},
			{Name: "margin-bottom", Value: "1px", Shorthand: "margin"},
			{Name: "margin-left", Value: "2px", Shorthand: "margin"},
			{Name: "display", Value: "block", Priority: "important"},
		},
		ShorthandValues: map[string]string{"margin": "1px 2px"},
	}
}

func TestNewDeclaration(t *testing.T) {
	t.Run("should index properties in order", func(t *testing.T) {
		d := NewDeclaration(marginPayload())

		require.Equal(t, 6, d.Len())
		assert.Equal(t, "color", d.Item(0))
		assert.Equal(t, "display", d.Item(5))
		assert.Equal(t, "", d.Item(6))
		assert.Equal(t, "", d.Item(-1))
		assert.Equal(t, "red", d.PropertyValue("color"))
		assert.Equal(t, "", d.PropertyValue("missing"))
		assert.True(t, d.HasProperty("margin-top"))
		assert.False(t, d.HasProperty("margin"))
	})

	t.Run("should index longhands under their shorthand", func(t *testing.T) {
		d := NewDeclaration(marginPayload())

		assert.Equal(t, []string{"margin-top", "margin-right", "margin-bottom", "margin-left"}, d.LonghandProperties("margin"))
		assert.Empty(t, d.LonghandProperties("padding"))
		assert.Equal(t, "margin", d.PropertyShorthand("margin-left"))
		assert.Equal(t, "1px 2px", d.ShorthandValue("margin"))
	})

	t.Run("should honour the unique property list when provided", func(t *testing.T) {
		p := marginPayload()
		p.UniqueStyleProperties = []string{"margin-left", "margin-top"}
		d := NewDeclaration(p)

		assert.Equal(t, []string{"margin-left", "margin-top"}, d.LonghandProperties("margin"))
	})
}

func TestShorthandPriority(t *testing.T) {
	t.Run("should fall back to the first longhand priority", func(t *testing.T) {
		d := NewDeclaration(marginPayload())
		assert.Equal(t, "important", d.ShorthandPriority("margin"))
	})

	t.Run("should prefer the shorthand's own priority", func(t *testing.T) {
		p := DeclarationPayload{Properties: []PropertyPayload{
			{Name: "padding", Value: "0", Priority: "user"},
			{Name: "padding-top", Value: "0", Shorthand: "padding", Priority: "important"},
		}}
		d := NewDeclaration(p)
		assert.Equal(t, "user", d.ShorthandPriority("padding"))
	})

	t.Run("should return empty for unknown shorthand", func(t *testing.T) {
		d := NewDeclaration(marginPayload())
		assert.Equal(t, "", d.ShorthandPriority("border"))
	})
}

func TestTextWithShorthands(t *testing.T) {
	t.Run("should emit each shorthand once at its first position", func(t *testing.T) {
		d := NewDeclaration(marginPayload())
		assert.Equal(t, "color: red; margin: 1px 2px !important; display: block !important;", d.TextWithShorthands())
	})

	t.Run("should prefer a declared shorthand value over the computed one", func(t *testing.T) {
		p := DeclarationPayload{
			Properties: []PropertyPayload{
				{Name: "border-width", Value: "1px", Shorthand: "border"},
				{Name: "border", Value: "1px solid black"},
			},
			ShorthandValues: map[string]string{"border": "computed"},
		}
		d := NewDeclaration(p)
		assert.Equal(t, "border: 1px solid black;", d.TextWithShorthands())
	})

	t.Run("should return empty text for an empty declaration", func(t *testing.T) {
		d := NewDeclaration(DeclarationPayload{})
		assert.Equal(t, "", d.TextWithShorthands())
	})
}

func TestParseRule(t *testing.T) {
	r := ParseRule(RulePayload{
		ID:               "sheet:1",
		SelectorText:     "div.note",
		Style:            DeclarationPayload{Properties: []PropertyPayload{{Name: "color", Value: "blue"}}},
		IsUserAgent:      true,
		IsViaInspector:   true,
		ParentStyleSheet: &StyleSheetRef{Href: "https://example.test/site.css"},
	})

	assert.Equal(t, "div.note", r.SelectorText)
	assert.Same(t, r, r.Style.ParentRule)
	assert.True(t, r.Origin.Has(OriginUserAgent))
	assert.True(t, r.Origin.Has(OriginViaInspector))
	assert.False(t, r.Origin.Has(OriginUser))
	require.NotNil(t, r.ParentStyleSheet)
	assert.Equal(t, "https://example.test/site.css", r.ParentStyleSheet.Href)
}

func TestNewSnapshot(t *testing.T) {
	s := NewSnapshot(Bundle{
		Computed:        DeclarationPayload{Properties: []PropertyPayload{{Name: "display", Value: "block"}}},
		Inline:          DeclarationPayload{Properties: []PropertyPayload{{Name: "color", Value: "red"}}},
		AttributeStyles: map[string]DeclarationPayload{"style": {Properties: []PropertyPayload{{Name: "color", Value: "red"}}}},
		MatchedRules:    []RulePayload{{SelectorText: "p"}, {SelectorText: "body p"}},
	})

	assert.Equal(t, "block", s.Computed.PropertyValue("display"))
	assert.Equal(t, "red", s.Inline.PropertyValue("color"))
	require.Contains(t, s.AttributeStyles, "style")
	require.Len(t, s.MatchedRules, 2)
	assert.Equal(t, "body p", s.MatchedRules[1].SelectorText)
}
