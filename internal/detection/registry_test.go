package detection

import (
	"context"
	"testing"

	"vigil/internal/media"
)

type stubDetector struct {
	name    string
	kind    Kind
	healthy bool
	closed  bool
}

func (s *stubDetector) Name() string    { return s.name }
func (s *stubDetector) Kind() Kind      { return s.kind }
func (s *stubDetector) IsHealthy() bool { return s.healthy }
func (s *stubDetector) Detect(ctx context.Context, frame *media.Frame) ([]Detection, error) {
	return nil, nil
}
func (s *stubDetector) Close() error {
	s.closed = true
	return nil
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(&stubDetector{name: "weapon", kind: KindWeapon}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&stubDetector{name: "weapon"}); err == nil {
		t.Fatal("expected error on duplicate name")
	}
	if err := r.Register(&stubDetector{name: ""}); err == nil {
		t.Fatal("expected error on empty name")
	}
	if err := r.Register(nil); err == nil {
		t.Fatal("expected error on nil detector")
	}

	d, ok := r.Get("weapon")
	if !ok || d.Name() != "weapon" {
		t.Fatalf("Get(weapon) = %v, %v", d, ok)
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatal("Get(missing) reported ok")
	}
}

func TestRegistryOrderAndByNames(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"weapon", "generic", "aux"} {
		if err := r.Register(&stubDetector{name: name}); err != nil {
			t.Fatal(err)
		}
	}

	names := r.Names()
	want := []string{"weapon", "generic", "aux"}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Names() = %v, want %v", names, want)
		}
	}

	got := r.ByNames([]string{"aux", "missing", "weapon"})
	if len(got) != 2 || got[0].Name() != "aux" || got[1].Name() != "weapon" {
		t.Fatalf("ByNames kept wrong set: %v", got)
	}

	if n := len(r.All()); n != 3 {
		t.Fatalf("All() returned %d detectors, want 3", n)
	}
}

func TestRegistryClose(t *testing.T) {
	r := NewRegistry()
	a := &stubDetector{name: "a"}
	b := &stubDetector{name: "b"}
	r.Register(a)
	r.Register(b)

	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if !a.closed || !b.closed {
		t.Fatal("Close did not reach every detector")
	}
	if len(r.Names()) != 0 {
		t.Fatal("registry not empty after Close")
	}
}
