package search

import (
	"testing"

	"github.com/remembrance-run/remembrance-core/internal/core/pattern"
)

func TestParseIntentLanguageDirective(t *testing.T) {
	tests := []struct {
		query string
		lang  pattern.Language
		clean string
	}{
		{"debounce in javascript", pattern.LangJavaScript, "debounce"},
		{"debounce in js", pattern.LangJavaScript, "debounce"},
		{"parse dates in python", pattern.LangPython, "parse dates"},
		{"worker pool in go", pattern.LangGo, "worker pool"},
		{"linked list in c", pattern.LangC, "linked list"},
		{"no directive here", "", "no directive here"},
	}
	for _, tt := range tests {
		got := ParseIntent(tt.query)
		if got.Language != tt.lang {
			t.Errorf("ParseIntent(%q).Language = %q, want %q", tt.query, got.Language, tt.lang)
		}
		if got.CleanTerm != tt.clean {
			t.Errorf("ParseIntent(%q).CleanTerm = %q, want %q", tt.query, got.CleanTerm, tt.clean)
		}
	}
}

func TestParseIntentPrefersLongestDirective(t *testing.T) {
	got := ParseIntent("singleton in javascript")
	if got.Language != pattern.LangJavaScript {
		t.Errorf("language = %q, want javascript (not java)", got.Language)
	}
}

func TestParseIntentConstraints(t *testing.T) {
	got := ParseIntent("pure debounce without deps, tested")
	for _, want := range []string{"pure", "no-deps", "tested"} {
		if !got.Constraints[want] {
			t.Errorf("constraint %q not recognized in %v", want, got.Constraints)
		}
	}
	if got.CleanTerm != "debounce ," {
		// Residual punctuation is fine; the concept must survive.
		found := false
		for _, in := range got.Intents {
			if in.Name == "debounce" {
				found = true
			}
		}
		if !found {
			t.Errorf("debounce intent lost, clean term %q", got.CleanTerm)
		}
	}
}

func TestParseIntentVocabulary(t *testing.T) {
	got := ParseIntent("retry with backoff")
	var retry *Intent
	for i := range got.Intents {
		if got.Intents[i].Name == "retry" {
			retry = &got.Intents[i]
		}
	}
	if retry == nil {
		t.Fatal("retry intent not recognized")
	}
	if retry.Confidence <= 0.5 || retry.Confidence > 1 {
		t.Errorf("confidence = %.2f, want (0.5, 1]", retry.Confidence)
	}
}

func TestContainsPhraseBoundaries(t *testing.T) {
	if containsPhrase("singleton pattern", "in go") {
		t.Error("phrase matched inside a word")
	}
	if !containsPhrase("sort in go please", "in go") {
		t.Error("phrase with boundaries not matched")
	}
	if containsPhrase("working", "in") {
		t.Error("substring of a word matched")
	}
}
