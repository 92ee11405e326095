package models

import (
	"fmt"
	"strings"
)

// Granularity is a level of the corpus hierarchy. Values are bit flags so a
// set of levels can be carried in one value.
type Granularity uint8

const (
	GranularityDocument Granularity = 1 << iota
	GranularitySection
	GranularityParagraph
	GranularitySentence
)

// Granularities lists the single levels from coarsest to finest.
var Granularities = []Granularity{
	GranularityDocument,
	GranularitySection,
	GranularityParagraph,
	GranularitySentence,
}

var granularityNames = map[Granularity]string{
	GranularityDocument:  "Document",
	GranularitySection:   "Section",
	GranularityParagraph: "Paragraph",
	GranularitySentence:  "Sentence",
}

// String returns the level name, or names joined by "|" for a set.
func (g Granularity) String() string {
	if name, ok := granularityNames[g]; ok {
		return name
	}
	var parts []string
	for _, level := range Granularities {
		if g&level != 0 {
			parts = append(parts, granularityNames[level])
		}
	}
	if len(parts) == 0 {
		return "None"
	}
	return strings.Join(parts, "|")
}

// IsSingle reports whether g names exactly one level.
func (g Granularity) IsSingle() bool {
	_, ok := granularityNames[g]
	return ok
}

// Has reports whether every level of other is set in g.
func (g Granularity) Has(other Granularity) bool {
	return other != 0 && g&other == other
}

// Finest returns the finest level set in g, or 0 when g is empty.
func (g Granularity) Finest() Granularity {
	for i := len(Granularities) - 1; i >= 0; i-- {
		if g&Granularities[i] != 0 {
			return Granularities[i]
		}
	}
	return 0
}

// FinerThan reports whether single level g sits below other in the hierarchy.
func (g Granularity) FinerThan(other Granularity) bool {
	return g.Finest() > other.Finest()
}

// ParseGranularity parses a level name or a "|" / "," separated set of names.
func ParseGranularity(s string) (Granularity, error) {
	var g Granularity
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' }) {
		part = strings.TrimSpace(part)
		found := false
		for level, name := range granularityNames {
			if strings.EqualFold(part, name) {
				g |= level
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown granularity %q", part)
		}
	}
	if g == 0 {
		return 0, fmt.Errorf("empty granularity")
	}
	return g, nil
}

// MarshalText implements encoding.TextMarshaler.
func (g Granularity) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. "None" decodes to the
// empty set so that MarshalText output always round-trips.
func (g *Granularity) UnmarshalText(text []byte) error {
	if string(text) == "None" {
		*g = 0
		return nil
	}
	parsed, err := ParseGranularity(string(text))
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}
