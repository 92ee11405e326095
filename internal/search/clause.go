package search

import (
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
)

// ClauseKind tags the node types of a clause tree.
type ClauseKind int

const (
	ClauseTerm ClauseKind = iota
	ClauseText
	ClauseMatchAll
	ClauseBool
)

// Clause is a node of a compiled query tree. Term clauses match one exact
// value of a field, text clauses run a query string against the default
// field, boolean clauses combine children.
type Clause struct {
	Kind      ClauseKind
	Field     string
	Value     string
	Must      []*Clause
	Should    []*Clause
	MinShould int
	// Boost multiplies the clause score; zero leaves it unchanged.
	Boost float64
}

// Term matches records whose field holds value.
func Term(field, value string) *Clause {
	return &Clause{Kind: ClauseTerm, Field: field, Value: value}
}

// Text matches a query string; empty text matches everything.
func Text(queryString string) *Clause {
	if strings.TrimSpace(queryString) == "" {
		return MatchAll()
	}
	return &Clause{Kind: ClauseText, Value: queryString}
}

// MatchAll matches every record.
func MatchAll() *Clause {
	return &Clause{Kind: ClauseMatchAll}
}

// Bool returns an empty boolean clause.
func Bool() *Clause {
	return &Clause{Kind: ClauseBool}
}

// AddMust appends required children; nil children are skipped.
func (c *Clause) AddMust(children ...*Clause) *Clause {
	for _, child := range children {
		if child != nil {
			c.Must = append(c.Must, child)
		}
	}
	return c
}

// AddShould appends optional children; nil children are skipped.
func (c *Clause) AddShould(children ...*Clause) *Clause {
	for _, child := range children {
		if child != nil {
			c.Should = append(c.Should, child)
		}
	}
	return c
}

// Empty reports whether the clause can match nothing: a nil clause or a
// boolean clause without children.
func (c *Clause) Empty() bool {
	return c == nil || (c.Kind == ClauseBool && len(c.Must) == 0 && len(c.Should) == 0)
}

// Query converts the tree into a bleve query.
func (c *Clause) Query() query.Query {
	switch c.Kind {
	case ClauseTerm:
		q := bleve.NewTermQuery(c.Value)
		q.SetField(c.Field)
		if c.Boost != 0 {
			q.SetBoost(c.Boost)
		}
		return q
	case ClauseText:
		q := bleve.NewQueryStringQuery(requireAll(c.Value))
		if c.Boost != 0 {
			q.SetBoost(c.Boost)
		}
		return q
	case ClauseMatchAll:
		return bleve.NewMatchAllQuery()
	}

	q := bleve.NewBooleanQuery()
	for _, child := range c.Must {
		q.AddMust(child.Query())
	}
	for _, child := range c.Should {
		q.AddShould(child.Query())
	}
	if len(c.Should) > 0 && c.MinShould > 0 {
		q.SetMinShould(float64(c.MinShould))
	}
	if c.Boost != 0 {
		q.SetBoost(c.Boost)
	}
	return q
}

// requireAll makes every top-level term of a query string required, which
// gives the string AND semantics. Quoted phrases stay intact and terms that
// already carry a + or - operator are left alone.
func requireAll(s string) string {
	var out []string
	for _, tok := range splitQueryString(s) {
		if strings.HasPrefix(tok, "+") || strings.HasPrefix(tok, "-") {
			out = append(out, tok)
			continue
		}
		out = append(out, "+"+tok)
	}
	return strings.Join(out, " ")
}

// splitQueryString splits on whitespace outside double quotes.
func splitQueryString(s string) []string {
	var (
		out     []string
		current strings.Builder
		quoted  bool
		escaped bool
	)
	flush := func() {
		if current.Len() > 0 {
			out = append(out, current.String())
			current.Reset()
		}
	}
	for _, r := range s {
		switch {
		case escaped:
			escaped = false
			current.WriteRune(r)
		case r == '\\':
			escaped = true
			current.WriteRune(r)
		case r == '"':
			quoted = !quoted
			current.WriteRune(r)
		case !quoted && (r == ' ' || r == '\t' || r == '\n' || r == '\r'):
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return out
}
