package musepa

import "fmt"

// Format names recognized on update requests. Anything else is passed
// through to the backend unchanged and fails there, matching the original
// implementation's behavior of accepting any format string and letting the
// backend reject it.
const (
	FormatSparql = "sparql"
	FormatTurtle = "ttl"
	FormatN3     = "n3"
)

// RdfBackend abstracts a pluggable RDF store. Implementations: the
// in-process graph (Local), and two HTTP triplestore shapes (RemoteA,
// RemoteB). query always returns canonical SPARQL-Results JSON bytes -
// that byte stream is the diff primitive subscriptions compare against.
// update returns a status token that callers should treat as opaque.
type RdfBackend interface {
	// Query executes a SPARQL SELECT/ASK/CONSTRUCT query and returns the
	// serialized SPARQL-Results JSON document. ok is false on any
	// parse/execution failure; in that case the returned bytes are nil
	// and the caller must not treat the query as having mutated anything.
	Query(sparql string) (result []byte, ok bool)

	// Update applies content to the store. format must be one of
	// FormatSparql, FormatTurtle, FormatN3. ok is false on any
	// parse/execution/transport failure.
	Update(content string, format string) (status []byte, ok bool)
}

// backendError renders a consistent message around a failed backend call.
// It carries only the operation and the client's own payload, no backend
// internals; writeError sends it to the client as the text payload of the
// 4.00 response.
func backendError(op, detail string) error {
	return fmt.Errorf("%w: %s: %s", ErrBackendError, op, detail)
}
