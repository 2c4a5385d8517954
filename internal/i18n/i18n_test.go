package i18n

import "testing"

func TestT_KnownKeyEnglish(t *testing.T) {
	got := T("en", "llm_error")
	want := Catalog["en"]["llm_error"]
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestT_UnknownLanguageFallsBackToDefault(t *testing.T) {
	got := T("fr", "llm_error")
	want := Catalog[DefaultLanguage]["llm_error"]
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestT_UnknownKeyReturnsKeyItself(t *testing.T) {
	got := T("en", "no_such_key")
	if got != "no_such_key" {
		t.Fatalf("got %q", got)
	}
}

func TestT_FormatsArguments(t *testing.T) {
	got := T("en", "migration_progress", "42", 3, 1, 0)
	want := "Migration task 42: 3 completed, 1 failed, 0 skipped"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestAvailableLanguages_IncludesEnglish(t *testing.T) {
	found := false
	for _, lang := range AvailableLanguages() {
		if lang == "en" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected \"en\" among available languages")
	}
}
