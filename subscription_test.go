package musepa

import "testing"

func TestFingerprintStability(t *testing.T) {
	payload := []byte("SELECT * WHERE { ?s ?p ?o }")
	a := Fingerprint(payload)
	b := Fingerprint(payload)
	if a != b {
		t.Fatalf("Fingerprint not stable: %s != %s", a, b)
	}
	if len(a) != 32 {
		t.Fatalf("Fingerprint length = %d, want 32", len(a))
	}
}

func TestFingerprintDiffersByPayload(t *testing.T) {
	a := Fingerprint([]byte("SELECT * WHERE { ?s ?p ?o }"))
	b := Fingerprint([]byte("ASK { ?s ?p ?o }"))
	if a == b {
		t.Fatal("distinct payloads must not collide")
	}
}

func TestGetOrCreateReusesExistingSubscription(t *testing.T) {
	reg := NewSubscriptionRegistry(discardLogger())
	raw := "SELECT * WHERE { ?s ?p ?o }"
	sub1, created1 := reg.GetOrCreate(raw, raw)
	if !created1 {
		t.Fatal("first GetOrCreate should report creation")
	}
	sub2, created2 := reg.GetOrCreate(raw, raw)
	if created2 {
		t.Fatal("second GetOrCreate with identical payload should not create")
	}
	if sub1 != sub2 {
		t.Fatal("GetOrCreate must return the same subscription for identical payload")
	}
}

func TestReevaluateDetectsChange(t *testing.T) {
	backend := NewLocal(discardLogger())
	reg := NewSubscriptionRegistry(discardLogger())
	raw := "SELECT (COUNT(*) AS ?n) WHERE { ?s ?p ?o }"
	sub, _ := reg.GetOrCreate(raw, raw)

	changed, result := reg.Reevaluate(sub, backend)
	if !changed {
		t.Fatal("first evaluation against an empty graph should count as a change from no prior result")
	}
	sub.lastResult = result

	changed, _ = reg.Reevaluate(sub, backend)
	if changed {
		t.Fatal("re-evaluating with no backend mutation must report no change")
	}

	stale := sub.lastResult
	backend.Update("INSERT DATA { <http://a> <http://b> <http://c> }", FormatSparql)
	changed, result = reg.Reevaluate(sub, backend)
	if !changed {
		t.Fatal("re-evaluating after a mutating update must report a change")
	}
	if string(result) == string(stale) {
		t.Fatal("Reevaluate must return the new result distinct from the stale one")
	}
}

func TestReevaluateKeepsStaleResultOnBackendFailure(t *testing.T) {
	backend := &failingBackend{}
	reg := NewSubscriptionRegistry(discardLogger())
	sub, _ := reg.GetOrCreate("SELECT * WHERE { ?s ?p ?o }", "SELECT * WHERE { ?s ?p ?o }")
	sub.lastResult = []byte(`{"cached":true}`)

	changed, result := reg.Reevaluate(sub, backend)
	if changed {
		t.Fatal("a failing backend query must never report a change")
	}
	if string(result) != `{"cached":true}` {
		t.Errorf("stale result must be preserved on failure, got %s", result)
	}
}

type failingBackend struct{}

func (f *failingBackend) Query(string) ([]byte, bool)          { return nil, false }
func (f *failingBackend) Update(string, string) ([]byte, bool) { return nil, false }

func TestNewSubscriptionHasNoObservers(t *testing.T) {
	sub := newSubscription("SELECT * WHERE { ?s ?p ?o }", "SELECT * WHERE { ?s ?p ?o }", discardLogger())
	if sub.ObserverCount() != 0 {
		t.Fatal("new subscription must start with no observers")
	}
}
