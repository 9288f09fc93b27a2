package gliders

import "testing"

func TestMatchExactNameCaseInsensitive(t *testing.T) {
	got, dist := Match("ask 21")
	if got != "ASK 21" || dist != 0 {
		t.Fatalf("expected exact match ASK 21 dist 0, got %q dist %d", got, dist)
	}
}

func TestMatchClosestForTypo(t *testing.T) {
	got, dist := Match("LS8a")
	if got != "LS8" {
		t.Fatalf("expected closest match LS8, got %q", got)
	}
	if dist <= 0 {
		t.Fatalf("expected nonzero distance for a typo, got %d", dist)
	}
}
