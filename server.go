package musepa

import (
	"context"

	coap "github.com/plgd-dev/go-coap/v2"
	"github.com/plgd-dev/go-coap/v2/mux"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// job is a unit of work run on the server's single event-loop goroutine.
// All shared state (SubscriptionRegistry, PrefixRegistry, the backend
// handle) is touched only from jobs run through this loop, per the
// cooperative single-threaded model: the loop, not the registries' own
// mutexes, is what serializes access to it.
type job func()

// Server wires the CoAP resource tree to a pluggable RdfBackend. All
// request handling and subscription bookkeeping is funneled through a
// single work queue drained by Run, mirroring the one-event-loop design
// of the system this broker reimplements; go-coap itself dispatches each
// inbound datagram on its own goroutine, so handle() hands the request off
// to the loop and blocks for the result rather than touching shared state
// directly.
type Server struct {
	Backend  RdfBackend
	Prefixes *PrefixRegistry
	Subs     *SubscriptionRegistry
	InfoDoc  []byte

	log  logrus.FieldLogger
	seq  notifySeq
	work chan job
}

// NewServer builds a Server. infoDoc is served verbatim from GET /info.
func NewServer(backend RdfBackend, prefixes *PrefixRegistry, infoDoc []byte, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		Backend:  backend,
		Prefixes: prefixes,
		Subs:     NewSubscriptionRegistry(log),
		InfoDoc:  infoDoc,
		log:      log,
		work:     make(chan job, 64),
	}
}

// Run drains the work queue until ctx is cancelled. It must be started
// before the CoAP listener begins accepting requests.
func (s *Server) Run(ctx context.Context) {
	for {
		select {
		case j := <-s.work:
			j()
		case <-ctx.Done():
			return
		}
	}
}

// handle is the mux.HandlerFunc wired to the CoAP listener. It hands the
// request to the event loop and blocks until that job completes, so that
// by the time go-coap serializes and sends the response, every read of
// shared state has happened on the single owning goroutine.
func (s *Server) handle(w mux.ResponseWriter, r *mux.Message) {
	done := make(chan struct{})
	s.work <- func() {
		defer close(done)
		s.dispatch(w, r)
	}
	<-done
}

// Handler returns the mux.Handler to pass to a CoAP listener.
func (s *Server) Handler() mux.Handler {
	return mux.HandlerFunc(s.handle)
}

// scheduleReevaluation re-evaluates every live subscription against the
// current backend state and notifies observers of any whose result
// changed. It runs synchronously on the calling job (already on the loop)
// rather than forking background goroutines: per spec.md §5 the local
// backend's reads/writes must be serialized by the loop, and remote
// backend round-trips are assumed short enough not to warrant the added
// complexity of a detached pipeline. Ordering guarantee (updates to one
// subscription apply in the order they were triggered) then falls out for
// free from single-threaded execution.
//
// handleUpdate queues this as its own follow-up job rather than calling it
// directly, so the blocking observer writes inside notifyObservers happen
// after the updater's own response has been handed back to go-coap for
// transmission, per spec.md §4.6.
func (s *Server) scheduleReevaluation() {
	for _, sub := range s.Subs.All() {
		changed, result := s.Subs.Reevaluate(sub, s.Backend)
		if !changed {
			continue
		}
		s.log.WithFields(logrus.Fields{
			"fingerprint": sub.Fingerprint,
			"bindings":    gjson.GetBytes(result, "results.bindings.#").Int(),
		}).Debug("subscription changed, notifying observers")
		notifyObservers(sub, s.Prefixes.Shorten(result), &s.seq)
	}
}

// ListenAndServe binds network (ipv4/ipv6 per go-coap's convention: "udp"
// binds both, "udp4"/"udp6" restrict) at addr and serves CoAP requests
// until the listener errors or is closed. Callers should start Run in a
// separate goroutine first.
func (s *Server) ListenAndServe(network, addr string) error {
	return coap.ListenAndServe(network, addr, s.Handler())
}
