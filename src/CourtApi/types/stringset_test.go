package types

import "testing"

func TestStringSetToggle(t *testing.T) {
	s := NewStringSet()
	if added := s.Toggle("u1"); !added {
		t.Fatal("first toggle should add")
	}
	if !s.Has("u1") || s.Len() != 1 {
		t.Fatalf("expected single member, got %v", s.Values())
	}
	if added := s.Toggle("u1"); added {
		t.Fatal("second toggle should remove")
	}
	if s.Has("u1") || s.Len() != 0 {
		t.Fatal("set should be empty after involutive toggle")
	}
}

func TestStringSetRoundTrip(t *testing.T) {
	s := NewStringSet("b", "a", "c")
	v, err := s.Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if v.(string) != `["a","b","c"]` {
		t.Fatalf("expected sorted JSON array, got %s", v)
	}

	var back StringSet
	if err := back.Scan(v); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if back.Len() != 3 || !back.Has("a") || !back.Has("b") || !back.Has("c") {
		t.Fatalf("round trip lost members: %v", back.Values())
	}
}

func TestStringSetScanNil(t *testing.T) {
	var s StringSet
	if err := s.Scan(nil); err != nil {
		t.Fatalf("scan nil: %v", err)
	}
	if s == nil || s.Len() != 0 {
		t.Fatal("nil column should scan to an empty set")
	}
}
