package musepa

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewRemoteAFailsWhenUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := NewRemoteA(srv.URL, discardLogger()); err == nil {
		t.Fatal("expected ErrBackendUnreachable when the probe GET does not return 200")
	}
}

func TestRemoteAQueryAndUpdate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			if r.URL.Query().Get("query") != "" {
				w.Write([]byte(`{"head":{"vars":[]},"results":{"bindings":[]}}`))
				return
			}
			w.WriteHeader(http.StatusOK)
		case http.MethodPost:
			// RemoteA's sparql-format update sends the update text as a
			// query parameter with no body.
			if r.URL.Query().Get("update") == "" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusOK)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	backend, err := NewRemoteA(srv.URL, discardLogger())
	if err != nil {
		t.Fatalf("NewRemoteA: %v", err)
	}

	result, ok := backend.Query("SELECT * WHERE { ?s ?p ?o }")
	if !ok {
		t.Fatal("Query failed")
	}
	if len(result) == 0 {
		t.Fatal("expected a non-empty query result")
	}

	if _, ok := backend.Update("INSERT DATA { <http://a> <http://b> <http://c> }", FormatSparql); !ok {
		t.Fatal("Update failed")
	}
}

func TestNewRemoteBRequiresEndpoint(t *testing.T) {
	if _, err := NewRemoteB("", discardLogger()); err == nil {
		t.Fatal("expected an error when the remote-B base URL is empty")
	}
}

func TestRemoteBQueryAndUpdate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/query", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"head":{"vars":[]},"results":{"bindings":[]}}`))
	})
	mux.HandleFunc("/update", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	backend, err := NewRemoteB(srv.URL, discardLogger())
	if err != nil {
		t.Fatalf("NewRemoteB: %v", err)
	}
	if _, ok := backend.Query("SELECT * WHERE { ?s ?p ?o }"); !ok {
		t.Fatal("Query failed")
	}
	if _, ok := backend.Update("INSERT DATA { <http://a> <http://b> <http://c> }", FormatSparql); !ok {
		t.Fatal("sparql Update failed")
	}
	if _, ok := backend.Update("@prefix : <http://t/>. :a :b :c .", FormatTurtle); !ok {
		t.Fatal("turtle Update failed")
	}
}
