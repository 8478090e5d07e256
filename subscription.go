package musepa

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"sync"

	"github.com/plgd-dev/go-coap/v2/mux"
	"github.com/sirupsen/logrus"
)

// Fingerprint computes the subscription identifier for a SPARQL query: the
// lowercase hex MD5 digest of the raw payload bytes exactly as received,
// before prefix expansion. Grounded on the original implementation's
// hashlib.md5(query.encode()).hexdigest().
func Fingerprint(rawSparql []byte) string {
	sum := md5.Sum(rawSparql)
	return hex.EncodeToString(sum[:])
}

// observer is one client currently holding an Observe registration on a
// subscription's result resource.
type observer struct {
	client mux.Client
	token  []byte
}

// Subscription tracks one live query: its identity (fingerprint and the
// original/prefixed query text), its most recently delivered result, and
// the set of CoAP clients observing it. A Subscription is only ever
// touched from the owning server's event loop, including its
// re-evaluation query, per the single-threaded model described on Server.
type Subscription struct {
	Fingerprint  string
	RawQuery     string // as received, pre prefix-expansion - identity source
	PrefixedText string // with PREFIX headers prepended - what gets executed

	lastResult []byte
	observers  map[string]*observer // keyed by remote hostinfo (host:port)

	log logrus.FieldLogger
}

func newSubscription(raw, prefixed string, log logrus.FieldLogger) *Subscription {
	return &Subscription{
		Fingerprint:  Fingerprint([]byte(raw)),
		RawQuery:     raw,
		PrefixedText: prefixed,
		observers:    make(map[string]*observer),
		log:          log,
	}
}

// LastResult returns the most recently computed query result bytes, or nil
// if the subscription has never been evaluated.
func (s *Subscription) LastResult() []byte {
	return s.lastResult
}

// AddObserver registers a client as observing this subscription's result
// resource, keyed by its connection's remote hostinfo (host:port) alone,
// matching the original implementation's request.remote.hostinfo identity:
// a client re-registering with a fresh Observe token (RFC 7641 permits
// this) replaces its existing entry rather than creating a second one, so
// ObserverCount reflects distinct client identities, not distinct tokens.
func (s *Subscription) AddObserver(client mux.Client, token []byte) {
	s.observers[observerKey(client)] = &observer{client: client, token: token}
}

// RemoveObserver deregisters a client (a GET with Observe=1, or a
// connection that has gone away), regardless of which token it last
// registered with.
func (s *Subscription) RemoveObserver(client mux.Client) {
	delete(s.observers, observerKey(client))
}

// ObserverCount reports how many clients currently hold a live
// registration; a subscription with zero observers is eligible for
// garbage collection by the owning registry.
func (s *Subscription) ObserverCount() int {
	return len(s.observers)
}

func observerKey(client mux.Client) string {
	return client.RemoteAddr().String()
}

// SubscriptionRegistry owns the full set of live subscriptions, keyed by
// fingerprint. It is only ever mutated from the server's event loop.
type SubscriptionRegistry struct {
	mu   sync.Mutex
	subs map[string]*Subscription
	log  logrus.FieldLogger
}

// NewSubscriptionRegistry builds an empty registry.
func NewSubscriptionRegistry(log logrus.FieldLogger) *SubscriptionRegistry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SubscriptionRegistry{
		subs: make(map[string]*Subscription),
		log:  log,
	}
}

// GetOrCreate returns the existing subscription for this query text if one
// is already registered (identified by fingerprint over rawSparql), or
// creates and registers a new one. The second return value reports
// whether a new subscription was created.
func (r *SubscriptionRegistry) GetOrCreate(rawSparql, prefixedSparql string) (*Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fp := Fingerprint([]byte(rawSparql))
	if sub, ok := r.subs[fp]; ok {
		return sub, false
	}
	sub := newSubscription(rawSparql, prefixedSparql, r.log)
	r.subs[fp] = sub
	return sub, true
}

// Get looks up a subscription by fingerprint.
func (r *SubscriptionRegistry) Get(fingerprint string) (*Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[fingerprint]
	return sub, ok
}

// Remove drops a subscription from the registry entirely (used once its
// observer count has reached zero).
func (r *SubscriptionRegistry) Remove(fingerprint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, fingerprint)
}

// All returns a snapshot slice of every live subscription, for the
// re-evaluation sweep and for .well-known/core rendering.
func (r *SubscriptionRegistry) All() []*Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, sub)
	}
	return out
}

// Reevaluate runs sub's query against backend and reports whether the
// result changed since the last evaluation. On change it updates
// sub.lastResult and returns the new bytes; comparison is strict byte
// equality against the canonical SPARQL-Results JSON, per spec.md's
// mandate that the wire format itself is the diff primitive. A query
// failure leaves the previous result untouched and reports no change.
func (r *SubscriptionRegistry) Reevaluate(sub *Subscription, backend RdfBackend) (changed bool, result []byte) {
	result, ok := backend.Query(sub.PrefixedText)
	if !ok {
		r.log.WithField("fingerprint", sub.Fingerprint).Warn("subscription: re-evaluation query failed, keeping last result")
		return false, sub.lastResult
	}
	if bytes.Equal(result, sub.lastResult) {
		return false, sub.lastResult
	}
	sub.lastResult = result
	return true, result
}
