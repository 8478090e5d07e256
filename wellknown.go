package musepa

import (
	"bytes"
	"fmt"

	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/plgd-dev/go-coap/v2/message/codes"
	"github.com/plgd-dev/go-coap/v2/mux"
)

// staticResources is the fixed part of the resource tree, rendered into
// every .well-known/core response alongside the current set of live
// subscription fingerprints. Grounded on musepa.py's
// root.add_resource((".well-known", "core"), coap.WKCResource(root)),
// which discovers whatever is mounted on root at request time; go-coap/v2
// has no such discoverable resource tree, so the set is hand-maintained
// here instead of walked off a router.
var staticResources = []string{"info", "sparql/query", "sparql/update", "sparql/subscription"}

// handleWellKnown renders the CoRE Link Format (RFC 6690) document listing
// every static endpoint plus one entry per currently live subscription.
func (s *Server) handleWellKnown(w mux.ResponseWriter, r *mux.Message) {
	var buf bytes.Buffer
	for i, path := range staticResources {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, "</%s>", path)
	}
	for _, sub := range s.Subs.All() {
		buf.WriteByte(',')
		fmt.Fprintf(&buf, "</%s>;obs", sub.Fingerprint)
	}
	w.SetResponse(codes.Content, message.AppLinkFormat, bytes.NewReader(buf.Bytes()))
}
