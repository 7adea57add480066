package chatid

import (
	"slices"
	"testing"
)

func TestNormalize_PrivateVariantsShareCanonical(t *testing.T) {
	inputs := []string{
		"4915112345678@s.whatsapp.net",
		"4915112345678@c.us",
		"4915112345678@lid",
		"4915112345678:12@s.whatsapp.net",
		"4915112345678.0:3@s.whatsapp.net",
		"+4915112345678",
		"4915112345678",
	}
	for _, in := range inputs {
		got := Normalize(in)
		if got.Canonical != "4915112345678@s.whatsapp.net" {
			t.Fatalf("Normalize(%q).Canonical = %q", in, got.Canonical)
		}
		if got.Kind != KindPrivate {
			t.Fatalf("Normalize(%q).Kind = %q", in, got.Kind)
		}
		if got.Bare != "4915112345678" {
			t.Fatalf("Normalize(%q).Bare = %q", in, got.Bare)
		}
	}
}

func TestNormalize_Group(t *testing.T) {
	got := Normalize("120363025246125888@g.us")
	if got.Kind != KindGroup || got.Canonical != "120363025246125888@g.us" {
		t.Fatalf("unexpected group normalization: %+v", got)
	}
	if !slices.Contains(got.Alternates, "120363025246125888") {
		t.Fatalf("expected bare id in alternates: %v", got.Alternates)
	}
}

func TestNormalize_FallsBackToInput(t *testing.T) {
	tests := []string{"some-room", "abc@example.org", "status@broadcast"}
	for _, in := range tests {
		if got := Normalize(in).Canonical; got != in {
			t.Fatalf("Normalize(%q).Canonical = %q, want input", in, got)
		}
	}
	if got := Normalize("  "); got.Canonical != "" || got.Kind != KindUnknown {
		t.Fatalf("unexpected blank normalization: %+v", got)
	}
}

func TestNormalize_AlternatesCoverEverySuffix(t *testing.T) {
	got := Normalize("555@c.us")
	want := []string{"555@s.whatsapp.net", "555", "555@c.us", "555@lid"}
	for _, w := range want {
		if !slices.Contains(got.Alternates, w) {
			t.Fatalf("missing alternate %q in %v", w, got.Alternates)
		}
	}
}

func TestEquivalent(t *testing.T) {
	if !Equivalent("555@c.us", "555@s.whatsapp.net") {
		t.Fatal("expected legacy and new private ids to be equivalent")
	}
	if Equivalent("555@g.us", "555@s.whatsapp.net") {
		t.Fatal("group and private ids must not be equivalent")
	}
}

func TestKeys_IncludesNameKey(t *testing.T) {
	keys := Keys("555@c.us", "  Family Chat ")
	if !slices.Contains(keys, "name:family chat") {
		t.Fatalf("expected lowercase name key, got %v", keys)
	}
	if NameKey("") != "" {
		t.Fatal("expected empty name key for empty display name")
	}
}
