package musepa

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// prefixLineRE matches a single Turtle prefix declaration line, case
// insensitive on the @prefix/@PREFIX keyword. Grounded on the regex used by
// the original implementation's prefix file parser.
var prefixLineRE = regexp.MustCompile(`(?i)^@prefix[ \t]+([a-zA-Z][a-zA-Z0-9_-]*)[ \t]*:[ \t]*<([^>]+)>[ \t]*\.[ \t]*$`)

// PrefixRegistry holds the declared prefix->IRI bindings for a server and
// renders them into the two header forms (SPARQL PREFIX lines and Turtle
// @prefix lines) needed to prepend to inbound queries/updates. It also
// shortens outbound payloads by substituting each bound IRI back to its
// compact "tag:" form.
//
// A PrefixRegistry is safe for concurrent use; in the server's normal
// operation it is only ever touched from the owning event loop, but Add may
// be called from setup code running off that loop.
type PrefixRegistry struct {
	mu       sync.RWMutex
	bindings map[string]string // tag -> IRI
	order    []string          // insertion order, for stable rendering
	sparql   string
	turtle   string
	log      logrus.FieldLogger
}

// NewPrefixRegistry builds an empty registry.
func NewPrefixRegistry(log logrus.FieldLogger) *PrefixRegistry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PrefixRegistry{
		bindings: make(map[string]string),
		log:      log,
	}
}

// LoadPrefixFile builds a registry from a Turtle-formatted prefix file. A missing
// or unreadable file is an error; a present file containing no valid
// prefix lines is not — lines that don't match are logged and skipped.
func LoadPrefixFile(path string, log logrus.FieldLogger) (*PrefixRegistry, error) {
	p := NewPrefixRegistry(log)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("musepa: opening prefix file %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		m := prefixLineRE.FindStringSubmatch(line)
		if m == nil {
			p.log.WithField("line", line).Warn("prefix file: line does not match @prefix tag: <iri> . , skipping")
			continue
		}
		if err := p.Add(m[1], m[2]); err != nil {
			p.log.WithError(err).WithField("tag", m[1]).Warn("prefix file: skipping duplicate tag")
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("musepa: reading prefix file %s: %w", path, err)
	}
	return p, nil
}

// Add registers a new tag->IRI binding. Bindings are immutable once added:
// re-registering an existing tag fails with ErrDuplicatePrefix and leaves
// the registry unchanged.
func (p *PrefixRegistry) Add(tag, iri string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.bindings[tag]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePrefix, tag)
	}
	p.bindings[tag] = iri
	p.order = append(p.order, tag)
	p.sparql += fmt.Sprintf("PREFIX %s: <%s>\n", tag, iri)
	p.turtle += fmt.Sprintf("@prefix %s: <%s> .\n", tag, iri)
	return nil
}

// SparqlHeader returns the accumulated "PREFIX tag: <iri>\n" block.
func (p *PrefixRegistry) SparqlHeader() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sparql
}

// TurtleHeader returns the accumulated "@prefix tag: <iri> .\n" block.
func (p *PrefixRegistry) TurtleHeader() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.turtle
}

// Bindings returns a copy of the tag->IRI map, for inspection.
func (p *PrefixRegistry) Bindings() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]string, len(p.bindings))
	for k, v := range p.bindings {
		out[k] = v
	}
	return out
}

// PrependSparql returns text prefixed with the SPARQL header. Pure,
// side-effect free.
func (p *PrefixRegistry) PrependSparql(text string) string {
	return p.SparqlHeader() + text
}

// PrependFor returns text prefixed with the header associated with format.
// "sparql" and "ttl" get their respective headers; "n3" and any unknown
// format pass text through unchanged, since N-Triples/N3 have no prefix
// declaration syntax this registry renders.
func (p *PrefixRegistry) PrependFor(format, text string) string {
	switch strings.ToLower(format) {
	case "sparql":
		return p.PrependSparql(text)
	case "ttl":
		return p.TurtleHeader() + text
	default:
		return text
	}
}

// Shorten replaces every occurrence of a registered IRI with its "tag:"
// form in payload. Replacement order follows insertion order, which is
// stable across calls for a given registry state. This is pure substring
// substitution over UTF-8 bytes; it does no URI parsing.
func (p *PrefixRegistry) Shorten(payload []byte) []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := payload
	for _, tag := range p.order {
		iri := p.bindings[tag]
		if !strings.Contains(string(out), iri) {
			continue
		}
		out = []byte(strings.ReplaceAll(string(out), iri, tag+":"))
	}
	return out
}
