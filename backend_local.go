package musepa

import (
	"strconv"
	"strings"

	"github.com/knakk/rdf"
	"github.com/sirupsen/logrus"
)

// Local is an in-process RDF graph backend. Grounded on the original
// implementation's RDFLibEndpoint (a bare in-memory graph whose query/update
// calls are caught and turned into an (nil, false) failure pair), but built
// over knakk/rdf's term/triple types and the mini query engine in query.go
// instead of an external graph library.
//
// A Local backend is meant to be driven from a single goroutine (the
// server's event loop, per spec.md §5); it does no internal locking.
type Local struct {
	triples []rdf.Triple
	log     logrus.FieldLogger
}

// NewLocal constructs an empty in-process graph. No reachability check is
// needed or performed; there is nothing remote to reach.
func NewLocal(log logrus.FieldLogger) *Local {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Local{log: log}
}

func (l *Local) Query(sparql string) ([]byte, bool) {
	q, err := parseQuery(sparql)
	if err != nil {
		l.log.WithError(err).WithField("sparql", sparql).Error("local backend: query parse failed")
		return nil, false
	}

	switch q.kind {
	case "ask":
		sols := matchPatterns(l.triples, q.where)
		return serializeAsk(len(sols) > 0), true

	case "select":
		sols := matchPatterns(l.triples, q.where)
		if q.projection.count != nil {
			alias := *q.projection.count
			n := rdf.NewTypedLiteral(strconv.Itoa(len(sols)), xsdInteger)
			return serializeSelect([]string{alias}, []binding{{alias: n}}), true
		}
		vars := q.projection.vars
		if q.projection.star {
			vars = distinctVars(q.where)
		}
		return serializeSelect(vars, sols), true

	case "construct":
		sols := matchPatterns(l.triples, q.where)
		seen := map[string]bool{}
		var out []rdf.Triple
		for _, sol := range sols {
			for _, pat := range q.template {
				tr, ok := instantiate(pat, sol)
				if !ok {
					continue
				}
				key := tr.Subj.String() + " " + tr.Pred.String() + " " + tr.Obj.String()
				if seen[key] {
					continue
				}
				seen[key] = true
				out = append(out, tr)
			}
		}
		return serializeConstruct(out), true

	default:
		l.log.WithField("kind", q.kind).Error("local backend: unsupported query kind")
		return nil, false
	}
}

func (l *Local) Update(content string, format string) ([]byte, bool) {
	switch format {
	case FormatSparql:
		u, err := parseUpdate(content)
		if err != nil {
			l.log.WithError(err).Error("local backend: update parse failed")
			return nil, false
		}
		switch u.kind {
		case "insert_data":
			l.triples = append(l.triples, u.graph...)
		case "delete_data":
			l.removeMatching(u.graph, true)
		case "delete_where":
			l.removeMatching(u.graph, false)
		}
		return []byte("OK"), true

	case FormatTurtle, FormatN3:
		// knakk/rdf has no dedicated N3 decoder; Turtle's grammar is a
		// superset of the triples the original implementation's N3
		// payloads ever contained, so both formats are parsed the same
		// way here.
		dec := rdf.NewTripleDecoder(strings.NewReader(content), rdf.Turtle)
		triples, err := dec.DecodeAll()
		if err != nil {
			l.log.WithError(err).Error("local backend: RDF parse failed")
			return nil, false
		}
		l.triples = append(l.triples, triples...)
		return []byte("OK"), true

	default:
		l.log.WithField("format", format).Error("local backend: unknown format")
		return nil, false
	}
}

// removeMatching deletes every triple matching patterns. If literal is
// true, patterns are taken as ground triples (DELETE DATA); otherwise they
// are matched as a WHERE pattern against the current graph first and the
// resulting bound triples are removed (DELETE WHERE).
func (l *Local) removeMatching(patterns []triplePattern, literal bool) {
	var toRemove []rdf.Triple
	if literal {
		toRemove = patterns2triples(patterns)
	} else {
		for _, sol := range matchPatterns(l.triples, patterns) {
			for _, pat := range patterns {
				if tr, ok := instantiate(pat, sol); ok {
					toRemove = append(toRemove, tr)
				}
			}
		}
	}
	remove := make(map[string]bool, len(toRemove))
	for _, tr := range toRemove {
		remove[tr.Subj.String()+" "+tr.Pred.String()+" "+tr.Obj.String()] = true
	}
	var kept []rdf.Triple
	for _, tr := range l.triples {
		if remove[tr.Subj.String()+" "+tr.Pred.String()+" "+tr.Obj.String()] {
			continue
		}
		kept = append(kept, tr)
	}
	l.triples = kept
}

func patterns2triples(patterns []triplePattern) []rdf.Triple {
	var out []rdf.Triple
	for _, pat := range patterns {
		tr, ok := instantiate(pat, binding{})
		if ok {
			out = append(out, tr)
		}
	}
	return out
}

func distinctVars(patterns []triplePattern) []string {
	seen := map[string]bool{}
	var out []string
	add := func(t term) {
		if t.isVar() && !seen[t.variable] {
			seen[t.variable] = true
			out = append(out, t.variable)
		}
	}
	for _, p := range patterns {
		add(p.s)
		add(p.p)
		add(p.o)
	}
	return out
}

func serializeConstruct(triples []rdf.Triple) []byte {
	var sb strings.Builder
	sb.WriteString(`{"head":{"vars":["s","p","o"]},"results":{"bindings":[`)
	for i, tr := range triples {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteByte('{')
		sb.WriteString(`"s":`)
		sb.WriteString(bindingJSON(tr.Subj))
		sb.WriteString(`,"p":`)
		sb.WriteString(bindingJSON(tr.Pred))
		sb.WriteString(`,"o":`)
		sb.WriteString(bindingJSON(tr.Obj))
		sb.WriteByte('}')
	}
	sb.WriteString(`]}}`)
	return []byte(sb.String())
}

var xsdInteger = mustIRI("http://www.w3.org/2001/XMLSchema#integer")
