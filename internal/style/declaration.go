// internal/style/declaration.go
package style

import (
	"strings"
)

// PropertyPayload is a single property as reported by the backend.
type PropertyPayload struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	Priority  string `json:"priority,omitempty"`
	Implicit  bool   `json:"implicit,omitempty"`
	Shorthand string `json:"shorthand,omitempty"`
}

// DeclarationPayload is the wire shape of a style declaration. Properties keeps
// the backend order; UniqueStyleProperties, when present, lists each property
// name once and drives the shorthand index.
type DeclarationPayload struct {
	ID                    string            `json:"id,omitempty"`
	Width                 string            `json:"width,omitempty"`
	Height                string            `json:"height,omitempty"`
	Properties            []PropertyPayload `json:"properties"`
	UniqueStyleProperties []string          `json:"uniqueStyleProperties,omitempty"`
	ShorthandValues       map[string]string `json:"shorthandValues,omitempty"`
}

// Declaration is an immutable, indexed view of a DeclarationPayload.
type Declaration struct {
	ID     string
	Width  string
	Height string

	// ParentRule is set when the declaration belongs to a matched rule.
	ParentRule *Rule

	names           []string
	properties      map[string]PropertyPayload
	longhands       map[string][]string
	shorthandValues map[string]string
}

// NewDeclaration indexes a payload. Later duplicates of a property name
// replace earlier ones in the lookup map but keep their position in Item order.
func NewDeclaration(p DeclarationPayload) *Declaration {
	d := &Declaration{
		ID:              p.ID,
		Width:           p.Width,
		Height:          p.Height,
		names:           make([]string, 0, len(p.Properties)),
		properties:      make(map[string]PropertyPayload, len(p.Properties)),
		longhands:       make(map[string][]string),
		shorthandValues: make(map[string]string, len(p.ShorthandValues)),
	}

	for _, prop := range p.Properties {
		d.names = append(d.names, prop.Name)
		d.properties[prop.Name] = prop
	}
	for k, v := range p.ShorthandValues {
		d.shorthandValues[k] = v
	}

	unique := p.UniqueStyleProperties
	if len(unique) == 0 {
		unique = uniqueNames(d.names)
	}

	// Index longhand properties under their shorthand.
	for _, name := range unique {
		prop, ok := d.properties[name]
		if !ok || prop.Shorthand == "" {
			continue
		}
		d.longhands[prop.Shorthand] = append(d.longhands[prop.Shorthand], name)
	}
	return d
}

func uniqueNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Len returns the number of properties in declaration order.
func (d *Declaration) Len() int { return len(d.names) }

// Item returns the property name at index i, or "" when out of range.
func (d *Declaration) Item(i int) string {
	if i < 0 || i >= len(d.names) {
		return ""
	}
	return d.names[i]
}

func (d *Declaration) PropertyValue(name string) string {
	return d.properties[name].Value
}

func (d *Declaration) PropertyPriority(name string) string {
	return d.properties[name].Priority
}

func (d *Declaration) PropertyShorthand(name string) string {
	return d.properties[name].Shorthand
}

func (d *Declaration) IsPropertyImplicit(name string) bool {
	return d.properties[name].Implicit
}

// HasProperty reports whether name is declared directly in this style.
func (d *Declaration) HasProperty(name string) bool {
	_, ok := d.properties[name]
	return ok
}

// LonghandProperties returns the longhands indexed under a shorthand, in
// declaration order. The returned slice must not be modified.
func (d *Declaration) LonghandProperties(shorthand string) []string {
	return d.longhands[shorthand]
}

// ShorthandValue returns the backend-computed value for a shorthand.
func (d *Declaration) ShorthandValue(shorthand string) string {
	return d.shorthandValues[shorthand]
}

// ShorthandPriority returns the shorthand's own priority if it has one,
// otherwise the priority of its first longhand.
func (d *Declaration) ShorthandPriority(shorthand string) string {
	if p := d.PropertyPriority(shorthand); p != "" {
		return p
	}
	longhands := d.longhands[shorthand]
	if len(longhands) == 0 {
		return ""
	}
	return d.PropertyPriority(longhands[0])
}

// resolvedShorthandValue prefers a directly declared shorthand and falls back
// to the value computed by the backend.
func (d *Declaration) resolvedShorthandValue(shorthand string) string {
	if prop, ok := d.properties[shorthand]; ok {
		return prop.Value
	}
	return d.shorthandValues[shorthand]
}

// TextWithShorthands serializes the declaration as "name: value[ !priority];"
// entries separated by a single space. Each shorthand or standalone property
// is emitted once, at the position of its first occurrence.
func (d *Declaration) TextWithShorthands() string {
	var b strings.Builder
	found := make(map[string]struct{}, len(d.names))

	for _, individual := range d.names {
		shorthand := d.PropertyShorthand(individual)
		name := individual
		if shorthand != "" {
			name = shorthand
		}
		if _, ok := found[name]; ok {
			continue
		}
		found[name] = struct{}{}

		var value, priority string
		if shorthand != "" {
			value = d.resolvedShorthandValue(shorthand)
			priority = d.ShorthandPriority(shorthand)
		} else {
			value = d.PropertyValue(individual)
			priority = d.PropertyPriority(individual)
		}

		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(value)
		if priority != "" {
			b.WriteString(" !")
			b.WriteString(priority)
		}
		b.WriteByte(';')
	}
	return b.String()
}
