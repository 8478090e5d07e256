package musepa

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/plgd-dev/go-coap/v2/message/codes"
	"github.com/plgd-dev/go-coap/v2/mux"
	"github.com/tidwall/sjson"
)

// optionFormat extracts the format=<X> string option from an update
// request, grounded on the original implementation's request.args.get
// ("format", "sparql") default. go-coap has no named-string-option
// convenience beyond GetString against a registered option ID, so the
// format selector travels as a Uri-Query pair instead: "format=ttl".
func optionFormat(r *mux.Message) string {
	queries, err := r.Options.Queries()
	if err != nil {
		return FormatSparql
	}
	for _, q := range queries {
		if v, ok := strings.CutPrefix(q, "format="); ok {
			return v
		}
	}
	return FormatSparql
}

func readBody(r *mux.Message) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	return io.ReadAll(r.Body)
}

func writeError(w mux.ResponseWriter, err error) {
	w.SetResponse(codeForError(err), message.TextPlain, bytes.NewBufferString(err.Error()))
}

// dispatch is the single entry point CoAP requests are dispatched
// through, run from the server's event-loop goroutine. Grounded on the
// teacher's CoAPHTTPHandler: a bare mux.HandlerFunc that pulls the
// Uri-Path option itself rather than relying on per-path mux
// registration, since the set of paths is partly dynamic (one per live
// subscription fingerprint).
func (s *Server) dispatch(w mux.ResponseWriter, r *mux.Message) {
	path, err := r.Options.Path()
	if err != nil {
		writeError(w, fmt.Errorf("%w: missing Uri-Path", ErrBadRequest))
		return
	}
	path = strings.Trim(path, "/")

	switch path {
	case "info":
		s.handleInfo(w, r)
	case "sparql/query":
		s.handleQuery(w, r)
	case "sparql/update":
		s.handleUpdate(w, r)
	case "sparql/subscription":
		s.handleSubscription(w, r)
	case ".well-known/core":
		s.handleWellKnown(w, r)
	default:
		s.handleFingerprint(w, r, path)
	}
}

func (s *Server) handleInfo(w mux.ResponseWriter, r *mux.Message) {
	w.SetResponse(codes.Content, message.TextPlain, bytes.NewReader(s.InfoDoc))
}

func (s *Server) handleQuery(w mux.ResponseWriter, r *mux.Message) {
	body, err := readBody(r)
	if err != nil || len(body) == 0 {
		writeError(w, ErrBadOption)
		return
	}
	prefixed := s.Prefixes.PrependSparql(string(body))
	result, ok := s.Backend.Query(prefixed)
	if !ok {
		writeError(w, backendError("query", string(body)))
		return
	}
	w.SetResponse(codes.Content, message.AppJSON, bytes.NewReader(s.Prefixes.Shorten(result)))
}

func (s *Server) handleUpdate(w mux.ResponseWriter, r *mux.Message) {
	body, err := readBody(r)
	if err != nil || len(body) == 0 {
		writeError(w, ErrBadOption)
		return
	}
	format := optionFormat(r)
	prefixed := s.Prefixes.PrependFor(format, string(body))

	_, ok := s.Backend.Update(prefixed, format)
	if !ok {
		writeError(w, backendError("update", string(body)))
		return
	}
	w.SetResponse(codes.Changed, message.TextPlain, nil)
	// Queue re-evaluation as a follow-up job rather than running it inline:
	// notification delivery can block on slow observers, and the updater's
	// response must go out first.
	s.work <- func() { s.scheduleReevaluation() }
}

func (s *Server) handleSubscription(w mux.ResponseWriter, r *mux.Message) {
	switch r.Code {
	case codes.POST:
		body, err := readBody(r)
		if err != nil || len(body) == 0 {
			writeError(w, ErrBadOption)
			return
		}
		raw := string(body)
		prefixed := s.Prefixes.PrependSparql(raw)
		sub, created := s.Subs.GetOrCreate(raw, prefixed)
		if created {
			result, ok := s.Backend.Query(prefixed)
			if ok {
				sub.lastResult = result
			}
		}
		w.SetResponse(codes.Created, message.TextPlain, bytes.NewBufferString(sub.Fingerprint))

	case codes.GET:
		body, err := readBody(r)
		if err != nil || len(body) == 0 {
			writeError(w, ErrNotFound)
			return
		}
		sub, ok := s.Subs.Get(string(body))
		if !ok {
			writeError(w, ErrBadRequest)
			return
		}
		doc, _ := sjson.SetBytes(nil, "sparql", sub.RawQuery)
		doc, _ = sjson.SetBytes(doc, "clients", sub.ObserverCount())
		w.SetResponse(codes.Content, message.AppJSON, bytes.NewReader(doc))

	default:
		// DELETE, and anything else: deprecated per spec, always rejected.
		writeError(w, fmt.Errorf("%w: DELETE on /sparql/subscription is deprecated, use GET Observe=1 on the subscription resource", ErrBadRequest))
	}
}

// handleFingerprint serves a per-subscription resource at its bare
// fingerprint path. Observe=0 registers the caller as an observer and
// replies with the cached result; Observe=1 deregisters, tearing the
// subscription down entirely once the last observer leaves.
func (s *Server) handleFingerprint(w mux.ResponseWriter, r *mux.Message, fingerprint string) {
	sub, ok := s.Subs.Get(fingerprint)
	if !ok {
		writeError(w, ErrNotFound)
		return
	}

	obs, err := r.Options.Observe()
	if err != nil {
		writeError(w, fmt.Errorf("%w: fingerprint resource requires an Observe option", ErrBadRequest))
		return
	}

	client := w.Client()
	token := r.Token

	switch obs {
	case 0: // register
		sub.AddObserver(client, token)
		w.SetResponse(codes.Content, message.AppJSON, bytes.NewReader(s.Prefixes.Shorten(sub.LastResult())))

	case 1: // deregister
		key := observerKey(client)
		if _, present := sub.observers[key]; !present {
			writeError(w, ErrForbidden)
			return
		}
		sub.RemoveObserver(client)
		if sub.ObserverCount() == 0 {
			s.Subs.Remove(fingerprint)
			w.SetResponse(codes.Deleted, message.TextPlain, nil)
			return
		}
		w.SetResponse(codes.Changed, message.TextPlain, nil)

	default:
		writeError(w, fmt.Errorf("%w: Observe value must be 0 or 1", ErrBadRequest))
	}
}
