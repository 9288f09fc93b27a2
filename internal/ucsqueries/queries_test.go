package ucsqueries

import "testing"

func TestFormatRegistrationKeepsUSRegistrationsAsIs(t *testing.T) {
	got := FormatRegistration("N12345")
	if got != "N12345" {
		t.Fatalf("expected US registration unchanged, got %q", got)
	}
}

func TestFormatRegistrationKeepsAlreadyHyphenated(t *testing.T) {
	got := FormatRegistration("D-1234")
	if got != "D-1234" {
		t.Fatalf("expected already-hyphenated registration unchanged, got %q", got)
	}
}

func TestFormatRegistrationSplitsPrefixAndSuffix(t *testing.T) {
	got := FormatRegistration("D1234")
	if got != "D-1234" {
		t.Fatalf("expected D1234 to split to D-1234, got %q", got)
	}
}

func TestFormatRegistrationRemovesSpaces(t *testing.T) {
	got := FormatRegistration("D 1234")
	if got != "D-1234" {
		t.Fatalf("expected spaces stripped then split, got %q", got)
	}
}

func TestFormatRegistrationReturnsInputOnNoMatch(t *testing.T) {
	got := FormatRegistration("???")
	if got != "???" {
		t.Fatalf("expected unparseable input returned unchanged, got %q", got)
	}
}

func TestIsEmptyCommentPlaceholder(t *testing.T) {
	if !isEmptyCommentPlaceholder("- no Comment -") {
		t.Fatal("expected placeholder comment to be detected")
	}
	if isEmptyCommentPlaceholder("great flight today") {
		t.Fatal("expected real comment to not be flagged as placeholder")
	}
}

func TestRound1(t *testing.T) {
	if got := round1(123.456); got != 123.5 {
		t.Fatalf("expected 123.5, got %v", got)
	}
	if got := round1(1.0); got != 1.0 {
		t.Fatalf("expected 1.0, got %v", got)
	}
}
