package router

import "testing"

func TestToggleFlipsState(t *testing.T) {
	s := newSelections()

	if !s.Toggle(1, -10) {
		t.Fatal("first toggle must exclude")
	}
	if s.Toggle(1, -10) {
		t.Fatal("second toggle must include again")
	}
	if got := s.Excluded(1); len(got) != 0 {
		t.Fatalf("expected empty set, got %v", got)
	}
}

func TestExcludedReturnsCopy(t *testing.T) {
	s := newSelections()
	s.Toggle(1, -10)

	got := s.Excluded(1)
	got[-20] = true

	if len(s.Excluded(1)) != 1 {
		t.Fatal("mutating the returned map leaked into internal state")
	}
}

func TestSelectionsArePerChat(t *testing.T) {
	s := newSelections()
	s.Toggle(1, -10)

	if len(s.Excluded(2)) != 0 {
		t.Fatal("exclusion leaked across chats")
	}
	s.Reset(1)
	if len(s.Excluded(1)) != 0 {
		t.Fatal("reset did not clear the set")
	}
}
