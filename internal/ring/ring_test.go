package ring

import (
	"testing"
)

func TestAppend_Bounded(t *testing.T) {
	var s []int
	for i := 1; i <= 6; i++ {
		s = Append(s, i, 4)
	}
	if len(s) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(s))
	}
	// Oldest evicted first.
	for i, want := range []int{3, 4, 5, 6} {
		if s[i] != want {
			t.Fatalf("unexpected contents: %v", s)
		}
	}
}

func TestAppend_Unbounded(t *testing.T) {
	var s []int
	for i := 0; i < 10; i++ {
		s = Append(s, i, 0)
	}
	if len(s) != 10 {
		t.Fatalf("max<=0 should be unbounded, got %d entries", len(s))
	}
}

func TestTrim(t *testing.T) {
	s := []string{"a", "b", "c", "d"}
	got := Trim(s, 2)
	if len(got) != 2 || got[0] != "c" || got[1] != "d" {
		t.Fatalf("unexpected trim result: %v", got)
	}
	// Already within bounds: unchanged.
	if out := Trim(s, 10); len(out) != 4 {
		t.Fatalf("expected unchanged slice, got %v", out)
	}
	if out := Trim(s, 0); len(out) != 4 {
		t.Fatalf("max<=0 should be unbounded, got %v", out)
	}
}
