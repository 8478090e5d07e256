package musepa

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func discardLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(new(devNullWriter))
	return log
}

type devNullWriter struct{}

func (devNullWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestPrefixRegistryAddAndHeaders(t *testing.T) {
	p := NewPrefixRegistry(discardLogger())
	if err := p.Add("ex", "http://example.org/"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got, want := p.SparqlHeader(), "PREFIX ex: <http://example.org/>\n"; got != want {
		t.Errorf("SparqlHeader() = %q, want %q", got, want)
	}
	if got, want := p.TurtleHeader(), "@prefix ex: <http://example.org/> .\n"; got != want {
		t.Errorf("TurtleHeader() = %q, want %q", got, want)
	}
}

func TestPrefixRegistryDuplicate(t *testing.T) {
	p := NewPrefixRegistry(discardLogger())
	if err := p.Add("ex", "http://example.org/"); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	err := p.Add("ex", "http://other.org/")
	if !errors.Is(err, ErrDuplicatePrefix) {
		t.Fatalf("second Add err = %v, want ErrDuplicatePrefix", err)
	}
	if got := p.Bindings()["ex"]; got != "http://example.org/" {
		t.Errorf("duplicate Add must not overwrite existing binding, got %q", got)
	}
}

func TestPrefixRegistryShorten(t *testing.T) {
	p := NewPrefixRegistry(discardLogger())
	_ = p.Add("ex", "http://example.org/")
	in := []byte(`{"value":"http://example.org/thing"}`)
	out := string(p.Shorten(in))
	if !strings.Contains(out, "ex:thing") {
		t.Errorf("Shorten() = %s, want it to contain ex:thing", out)
	}
}

func TestLoadPrefixFileSkipsBadLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prefixes.ttl")
	content := "@prefix ex: <http://example.org/> .\nnot a prefix line\n@prefix foo: <http://foo.org/> .\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	p, err := LoadPrefixFile(path, discardLogger())
	if err != nil {
		t.Fatalf("LoadPrefixFile: %v", err)
	}
	bindings := p.Bindings()
	if len(bindings) != 2 {
		t.Fatalf("Bindings() = %v, want 2 entries", bindings)
	}
	if bindings["ex"] != "http://example.org/" || bindings["foo"] != "http://foo.org/" {
		t.Errorf("unexpected bindings: %v", bindings)
	}
}

func TestLoadPrefixFileMissing(t *testing.T) {
	_, err := LoadPrefixFile(filepath.Join(t.TempDir(), "missing.ttl"), discardLogger())
	if err == nil {
		t.Fatal("expected an error for a missing prefix file")
	}
}
