package locale

import (
	"strings"
	"testing"
)

func TestLookupKnownLanguages(t *testing.T) {
	for _, name := range Supported() {
		p, ok := Lookup(name)
		if !ok {
			t.Fatalf("expected %q to be supported", name)
		}
		if p.Language != name {
			t.Fatalf("profile language %q does not match %q", p.Language, name)
		}
		if p.SystemPrompt == "" || p.Code == "" || p.Voice == "" {
			t.Fatalf("incomplete profile for %q: %+v", name, p)
		}
	}
}

func TestLookupNormalizesName(t *testing.T) {
	p, ok := Lookup("  Spanish ")
	if !ok || p.Code != "es-es" {
		t.Fatalf("expected normalized spanish lookup, got %+v ok=%v", p, ok)
	}
	if !strings.Contains(p.SystemPrompt, "español") {
		t.Fatalf("spanish prompt must pin the reply language: %q", p.SystemPrompt)
	}
}

func TestLookupUnknownFallsBackToEnglish(t *testing.T) {
	p, ok := Lookup("klingon")
	if ok {
		t.Fatal("unknown language must report ok=false")
	}
	if p.Language != "english" {
		t.Fatalf("expected english fallback, got %q", p.Language)
	}
}
