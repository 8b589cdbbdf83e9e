package session

import "testing"

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	cfg := testConfig()

	a := New("a", nil, cfg, nil, nil, reg, nil)
	b := New("b", nil, cfg, nil, nil, reg, nil)
	reg.Register(a)
	reg.Register(b)

	if reg.Len() != 2 {
		t.Fatalf("Len = %d, want 2", reg.Len())
	}
	got, ok := reg.Lookup("a")
	if !ok || got != a {
		t.Fatal("Lookup(a) did not return the registered session")
	}
	if _, ok := reg.Lookup("missing"); ok {
		t.Error("Lookup on unknown id reported a hit")
	}

	reg.Remove("a")
	if _, ok := reg.Lookup("a"); ok {
		t.Error("session still present after Remove")
	}
	if list := reg.List(); len(list) != 1 || list[0] != b {
		t.Errorf("List = %v, want [b]", list)
	}

	// Removing twice is harmless.
	reg.Remove("a")
}
