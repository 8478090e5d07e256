package musepa

import (
	"strings"
	"testing"
)

func TestLocalInsertAndCount(t *testing.T) {
	l := NewLocal(discardLogger())
	if _, ok := l.Update("INSERT DATA { <http://a> <http://b> <http://c> }", FormatSparql); !ok {
		t.Fatal("INSERT DATA failed")
	}
	result, ok := l.Query("SELECT (COUNT(*) AS ?n) WHERE { ?s ?p ?o }")
	if !ok {
		t.Fatal("count query failed")
	}
	if !strings.Contains(string(result), `"value":"1"`) {
		t.Errorf("count result = %s, want it to contain a count of 1", result)
	}
}

func TestLocalSelectStar(t *testing.T) {
	l := NewLocal(discardLogger())
	l.Update("INSERT DATA { <http://a> <http://b> <http://c> }", FormatSparql)
	result, ok := l.Query("SELECT * WHERE { ?s ?p ?o }")
	if !ok {
		t.Fatal("select * failed")
	}
	if !strings.Contains(string(result), "http://a") {
		t.Errorf("select * result = %s, want it to contain the inserted subject", result)
	}
}

func TestLocalAsk(t *testing.T) {
	l := NewLocal(discardLogger())
	if result, ok := l.Query("ASK { ?s ?p ?o }"); !ok || !strings.Contains(string(result), "false") {
		t.Errorf("ASK over empty graph = %s, ok=%v, want boolean false", result, ok)
	}
	l.Update("INSERT DATA { <http://a> <http://b> <http://c> }", FormatSparql)
	if result, ok := l.Query("ASK { ?s ?p ?o }"); !ok || !strings.Contains(string(result), "true") {
		t.Errorf("ASK after insert = %s, ok=%v, want boolean true", result, ok)
	}
}

func TestLocalDeleteWhere(t *testing.T) {
	l := NewLocal(discardLogger())
	l.Update("INSERT DATA { <http://a> <http://b> <http://c> }", FormatSparql)
	if _, ok := l.Update("DELETE WHERE { ?a ?b ?c }", FormatSparql); !ok {
		t.Fatal("DELETE WHERE failed")
	}
	result, _ := l.Query("SELECT (COUNT(*) AS ?n) WHERE { ?s ?p ?o }")
	if !strings.Contains(string(result), `"value":"0"`) {
		t.Errorf("count after DELETE WHERE = %s, want 0", result)
	}
}

func TestLocalMalformedUpdateRejected(t *testing.T) {
	l := NewLocal(discardLogger())
	if _, ok := l.Update("DELETE ?a ?b ?c WHERE ?a ?b ?c", FormatSparql); ok {
		t.Fatal("malformed update must be rejected")
	}
}

func TestLocalTurtleUpdate(t *testing.T) {
	l := NewLocal(discardLogger())
	ttl := "@prefix : <http://t/>.\n:a :b :c .\n"
	if _, ok := l.Update(ttl, FormatTurtle); !ok {
		t.Fatal("turtle update failed")
	}
	result, _ := l.Query("SELECT (COUNT(*) AS ?n) WHERE { ?s ?p ?o }")
	if !strings.Contains(string(result), `"value":"1"`) {
		t.Errorf("count after turtle load = %s, want 1", result)
	}
}

func TestLocalConstruct(t *testing.T) {
	l := NewLocal(discardLogger())
	l.Update("INSERT DATA { <http://a> <http://b> <http://c> }", FormatSparql)
	result, ok := l.Query("CONSTRUCT { ?s ?p ?o } WHERE { ?s ?p ?o }")
	if !ok {
		t.Fatal("construct failed")
	}
	if !strings.Contains(string(result), "http://a") {
		t.Errorf("construct result = %s, want it to contain the subject", result)
	}
}
