package musepa

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/knakk/rdf"
)

// This file implements the small SPARQL subset the in-process graph backend
// needs to satisfy spec.md's worked scenarios: SELECT/ASK/CONSTRUCT over
// conjunctive triple patterns, a COUNT(*) projection, and INSERT
// DATA/DELETE DATA/DELETE WHERE updates. Full SPARQL parsing and query
// optimization are explicitly out of this broker's scope (spec.md §1
// Non-goals say as much for the broker as a whole); this is the minimum a
// Local backend needs to stand in for a real triplestore in tests and
// small deployments.

// term is a pattern-position value: a bound rdf.Term, or an unbound
// variable recognized by name.
type term struct {
	variable string // non-empty if this position is a variable
	bound    rdf.Term
}

func (t term) isVar() bool { return t.variable != "" }

type triplePattern struct {
	s, p, o term
}

type projection struct {
	star  bool
	vars  []string
	count *string // alias name, if this is a "(COUNT(*) AS ?alias)" projection
}

type parsedQuery struct {
	kind       string // "select", "ask", "construct"
	projection projection
	template   []triplePattern // CONSTRUCT template
	where      []triplePattern
}

type parsedUpdate struct {
	kind  string // "insert_data", "delete_data", "delete_where"
	graph []triplePattern
}

// tokenize splits SPARQL text into whitespace-separated tokens while
// keeping <...>, "..."-quoted literals and punctuation as atomic tokens.
func tokenize(text string) []string {
	var tokens []string
	var buf strings.Builder
	flush := func() {
		if buf.Len() > 0 {
			tokens = append(tokens, buf.String())
			buf.Reset()
		}
	}
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == '<':
			flush()
			j := i + 1
			for j < len(runes) && runes[j] != '>' {
				j++
			}
			tokens = append(tokens, string(runes[i:j+1]))
			i = j
		case c == '"' || c == '\'':
			flush()
			quote := c
			j := i + 1
			for j < len(runes) && runes[j] != quote {
				if runes[j] == '\\' {
					j++
				}
				j++
			}
			j++ // consume closing quote
			// absorb a trailing ^^<iri> or @lang datatype/lang tag
			for j < len(runes) && (runes[j] == '^' || isLangChar(runes[j])) {
				if runes[j] == '^' {
					j += 2 // skip ^^
					if j < len(runes) && runes[j] == '<' {
						k := j
						for k < len(runes) && runes[k] != '>' {
							k++
						}
						j = k + 1
					}
				} else {
					j++
				}
			}
			tokens = append(tokens, string(runes[i:j]))
			i = j - 1
		case c == '{' || c == '}' || c == '(' || c == ')' || c == '.':
			flush()
			tokens = append(tokens, string(c))
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			flush()
		default:
			buf.WriteRune(c)
		}
	}
	flush()
	return tokens
}

func isLangChar(c rune) bool {
	return c == '@' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-'
}

type tokenStream struct {
	tokens []string
	pos    int
}

func (ts *tokenStream) peek() string {
	if ts.pos >= len(ts.tokens) {
		return ""
	}
	return ts.tokens[ts.pos]
}

func (ts *tokenStream) peekUpper() string {
	return strings.ToUpper(ts.peek())
}

func (ts *tokenStream) next() string {
	t := ts.peek()
	ts.pos++
	return t
}

func (ts *tokenStream) expect(upper string) error {
	if ts.peekUpper() != upper {
		return fmt.Errorf("expected %q, got %q", upper, ts.peek())
	}
	ts.pos++
	return nil
}

// parsePrefixes consumes leading PREFIX declarations (both ones this
// registry knows about and any prepended by the caller) and returns a
// tag->IRI map, leaving ts positioned just after the last declaration.
func parsePrefixes(ts *tokenStream) (map[string]string, error) {
	prefixes := map[string]string{}
	for ts.peekUpper() == "PREFIX" {
		ts.next()
		tag := strings.TrimSuffix(ts.next(), ":")
		iriTok := ts.next()
		if !strings.HasPrefix(iriTok, "<") {
			return nil, fmt.Errorf("expected IRI after PREFIX %s:, got %q", tag, iriTok)
		}
		prefixes[tag] = strings.Trim(iriTok, "<>")
	}
	return prefixes, nil
}

func resolveTerm(tok string, prefixes map[string]string) (term, error) {
	switch {
	case tok == "":
		return term{}, fmt.Errorf("unexpected end of pattern")
	case strings.HasPrefix(tok, "?") || strings.HasPrefix(tok, "$"):
		return term{variable: tok[1:]}, nil
	case strings.HasPrefix(tok, "<"):
		iri, err := rdf.NewIRI(strings.Trim(tok, "<>"))
		if err != nil {
			return term{}, err
		}
		return term{bound: iri}, nil
	case strings.HasPrefix(tok, "_:"):
		b, err := rdf.NewBlank(strings.TrimPrefix(tok, "_:"))
		if err != nil {
			return term{}, err
		}
		return term{bound: b}, nil
	case strings.HasPrefix(tok, `"`) || strings.HasPrefix(tok, `'`):
		lit, err := parseLiteral(tok)
		if err != nil {
			return term{}, err
		}
		return term{bound: lit}, nil
	case strings.Contains(tok, ":"):
		parts := strings.SplitN(tok, ":", 2)
		ns, ok := prefixes[parts[0]]
		if !ok {
			return term{}, fmt.Errorf("unknown prefix %q", parts[0])
		}
		iri, err := rdf.NewIRI(ns + parts[1])
		if err != nil {
			return term{}, err
		}
		return term{bound: iri}, nil
	default:
		return term{}, fmt.Errorf("unrecognized term %q", tok)
	}
}

func parseLiteral(tok string) (rdf.Term, error) {
	quote := tok[0]
	end := strings.LastIndexByte(tok, byte(quote))
	value := tok[1:end]
	rest := tok[end+1:]
	switch {
	case strings.HasPrefix(rest, "^^"):
		iri, err := rdf.NewIRI(strings.Trim(rest[2:], "<>"))
		if err != nil {
			return nil, err
		}
		return rdf.NewTypedLiteral(value, iri), nil
	case strings.HasPrefix(rest, "@"):
		return rdf.NewLangLiteral(value, rest[1:])
	default:
		return rdf.NewTypedLiteral(value, xsdString), nil
	}
}

// xsdString is the implicit datatype of a plain (untyped, non-language
// tagged) literal, matching how the SPARQL-Results JSON vocabulary and
// knakk/rdf both treat untyped strings.
var xsdString = mustIRI("http://www.w3.org/2001/XMLSchema#string")

func mustIRI(s string) rdf.IRI {
	iri, err := rdf.NewIRI(s)
	if err != nil {
		panic(err)
	}
	return iri
}

// parseTriples parses a sequence of "s p o ." patterns up to (not
// including) the closing "}" already peeked by the caller.
func parseTriples(ts *tokenStream, prefixes map[string]string) ([]triplePattern, error) {
	var out []triplePattern
	for ts.peek() != "}" && ts.peek() != "" {
		sTok, pTok, oTok := ts.next(), ts.next(), ts.next()
		s, err := resolveTerm(sTok, prefixes)
		if err != nil {
			return nil, err
		}
		p, err := resolveTerm(pTok, prefixes)
		if err != nil {
			return nil, err
		}
		o, err := resolveTerm(oTok, prefixes)
		if err != nil {
			return nil, err
		}
		out = append(out, triplePattern{s: s, p: p, o: o})
		if ts.peek() == "." {
			ts.next()
		}
	}
	return out, nil
}

func parseBracedTriples(ts *tokenStream, prefixes map[string]string) ([]triplePattern, error) {
	if err := ts.expect("{"); err != nil {
		return nil, err
	}
	triples, err := parseTriples(ts, prefixes)
	if err != nil {
		return nil, err
	}
	if err := ts.expect("}"); err != nil {
		return nil, err
	}
	return triples, nil
}

// parseQuery parses a SELECT/ASK/CONSTRUCT query.
func parseQuery(sparql string) (*parsedQuery, error) {
	ts := &tokenStream{tokens: tokenize(sparql)}
	prefixes, err := parsePrefixes(ts)
	if err != nil {
		return nil, err
	}

	q := &parsedQuery{}
	switch ts.peekUpper() {
	case "SELECT":
		ts.next()
		q.kind = "select"
		if ts.peek() == "*" {
			ts.next()
			q.projection.star = true
		} else if ts.peek() == "(" {
			ts.next()
			if err := ts.expect("COUNT"); err != nil {
				return nil, err
			}
			if err := ts.expect("("); err != nil {
				return nil, err
			}
			ts.next() // '*' or a variable, COUNT(*) is all this engine supports
			if err := ts.expect(")"); err != nil {
				return nil, err
			}
			if err := ts.expect("AS"); err != nil {
				return nil, err
			}
			alias := strings.TrimPrefix(ts.next(), "?")
			if err := ts.expect(")"); err != nil {
				return nil, err
			}
			q.projection.count = &alias
		} else {
			for strings.HasPrefix(ts.peek(), "?") {
				q.projection.vars = append(q.projection.vars, strings.TrimPrefix(ts.next(), "?"))
			}
		}
		if err := ts.expect("WHERE"); err != nil {
			return nil, err
		}
		where, err := parseBracedTriples(ts, prefixes)
		if err != nil {
			return nil, err
		}
		q.where = where
	case "ASK":
		ts.next()
		if ts.peekUpper() == "WHERE" {
			ts.next()
		}
		where, err := parseBracedTriples(ts, prefixes)
		if err != nil {
			return nil, err
		}
		q.kind = "ask"
		q.where = where
	case "CONSTRUCT":
		ts.next()
		tmpl, err := parseBracedTriples(ts, prefixes)
		if err != nil {
			return nil, err
		}
		if err := ts.expect("WHERE"); err != nil {
			return nil, err
		}
		where, err := parseBracedTriples(ts, prefixes)
		if err != nil {
			return nil, err
		}
		q.kind = "construct"
		q.template = tmpl
		q.where = where
	default:
		return nil, fmt.Errorf("unsupported query form starting at %q", ts.peek())
	}
	return q, nil
}

// parseUpdate parses an INSERT DATA / DELETE DATA / DELETE WHERE request.
func parseUpdate(sparql string) (*parsedUpdate, error) {
	ts := &tokenStream{tokens: tokenize(sparql)}
	prefixes, err := parsePrefixes(ts)
	if err != nil {
		return nil, err
	}

	u := &parsedUpdate{}
	switch ts.peekUpper() {
	case "INSERT":
		ts.next()
		if err := ts.expect("DATA"); err != nil {
			return nil, err
		}
		triples, err := parseBracedTriples(ts, prefixes)
		if err != nil {
			return nil, err
		}
		u.kind = "insert_data"
		u.graph = triples
	case "DELETE":
		ts.next()
		if ts.peekUpper() == "DATA" {
			ts.next()
			triples, err := parseBracedTriples(ts, prefixes)
			if err != nil {
				return nil, err
			}
			u.kind = "delete_data"
			u.graph = triples
		} else if ts.peekUpper() == "WHERE" {
			ts.next()
			triples, err := parseBracedTriples(ts, prefixes)
			if err != nil {
				return nil, err
			}
			u.kind = "delete_where"
			u.graph = triples
		} else {
			return nil, fmt.Errorf("expected DATA or WHERE after DELETE, got %q", ts.peek())
		}
	default:
		return nil, fmt.Errorf("unsupported update form starting at %q", ts.peek())
	}
	return u, nil
}

// binding is one solution to a WHERE clause: variable name -> bound term.
type binding map[string]rdf.Term

// matchPatterns finds every binding that satisfies all patterns against
// triples, via naive nested-loop joins. Adequate for the small graphs this
// backend is meant for; real query optimization is out of scope.
func matchPatterns(triples []rdf.Triple, patterns []triplePattern) []binding {
	solutions := []binding{{}}
	for _, pat := range patterns {
		var next []binding
		for _, sol := range solutions {
			for _, tr := range triples {
				b, ok := extend(sol, pat, tr)
				if ok {
					next = append(next, b)
				}
			}
		}
		solutions = next
		if len(solutions) == 0 {
			return nil
		}
	}
	return solutions
}

func extend(sol binding, pat triplePattern, tr rdf.Triple) (binding, bool) {
	next := make(binding, len(sol)+3)
	for k, v := range sol {
		next[k] = v
	}
	if !unify(next, pat.s, tr.Subj) {
		return nil, false
	}
	if !unify(next, pat.p, tr.Pred) {
		return nil, false
	}
	if !unify(next, pat.o, tr.Obj) {
		return nil, false
	}
	return next, true
}

func unify(sol binding, t term, value rdf.Term) bool {
	if t.isVar() {
		if bound, ok := sol[t.variable]; ok {
			return bound.String() == value.String()
		}
		sol[t.variable] = value
		return true
	}
	return t.bound.String() == value.String()
}

// instantiate applies a binding to a triple pattern template, producing a
// concrete triple. Returns false if the template references a variable
// not present in the binding.
func instantiate(pat triplePattern, b binding) (rdf.Triple, bool) {
	s, ok := instantiateTerm(pat.s, b)
	if !ok {
		return rdf.Triple{}, false
	}
	p, ok := instantiateTerm(pat.p, b)
	if !ok {
		return rdf.Triple{}, false
	}
	o, ok := instantiateTerm(pat.o, b)
	if !ok {
		return rdf.Triple{}, false
	}
	return rdf.Triple{Subj: s.(rdf.SubjectNode), Pred: p.(rdf.Predicate), Obj: o}, true
}

func instantiateTerm(t term, b binding) (rdf.Term, bool) {
	if !t.isVar() {
		return t.bound, true
	}
	v, ok := b[t.variable]
	return v, ok
}

// serializeSelect renders SELECT solutions as SPARQL-Results JSON.
func serializeSelect(vars []string, solutions []binding) []byte {
	var sb strings.Builder
	sb.WriteString(`{"head":{"vars":[`)
	for i, v := range vars {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Quote(v))
	}
	sb.WriteString(`]},"results":{"bindings":[`)
	for i, sol := range solutions {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteByte('{')
		first := true
		for _, v := range vars {
			val, ok := sol[v]
			if !ok {
				continue
			}
			if !first {
				sb.WriteByte(',')
			}
			first = false
			sb.WriteString(strconv.Quote(v))
			sb.WriteByte(':')
			sb.WriteString(bindingJSON(val))
		}
		sb.WriteByte('}')
	}
	sb.WriteString(`]}}`)
	return []byte(sb.String())
}

func serializeAsk(result bool) []byte {
	if result {
		return []byte(`{"head":{},"boolean":true}`)
	}
	return []byte(`{"head":{},"boolean":false}`)
}

func bindingJSON(t rdf.Term) string {
	switch v := t.(type) {
	case rdf.IRI:
		return fmt.Sprintf(`{"type":"uri","value":%s}`, strconv.Quote(v.String()))
	case rdf.Blank:
		return fmt.Sprintf(`{"type":"bnode","value":%s}`, strconv.Quote(v.String()))
	case rdf.Literal:
		dt := v.DataType.String()
		// Literal.Val is typed interface{} in knakk/rdf (it holds the
		// lexical form as a plain string in practice, but isn't declared
		// as one) - render via fmt.Sprint before quoting.
		val := fmt.Sprint(v.Val)
		switch {
		case v.Lang != "":
			return fmt.Sprintf(`{"type":"literal","value":%s,"xml:lang":%s}`, strconv.Quote(val), strconv.Quote(v.Lang))
		case dt == xsdString.String() || dt == "":
			return fmt.Sprintf(`{"type":"literal","value":%s}`, strconv.Quote(val))
		default:
			return fmt.Sprintf(`{"type":"typed-literal","value":%s,"datatype":%s}`, strconv.Quote(val), strconv.Quote(dt))
		}
	default:
		return fmt.Sprintf(`{"type":"literal","value":%s}`, strconv.Quote(t.String()))
	}
}
