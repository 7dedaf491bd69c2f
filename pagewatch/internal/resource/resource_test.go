package resource

import (
	"reflect"
	"testing"
)

func TestSet_Order(t *testing.T) {
	// WHAT: Resources keep insertion order, root page first.
	// WHY: The fingerprint depends on this order.
	s := NewSet()
	s.Add(Resource{Name: PageName, Kind: KindPage, Text: "<html>"})
	s.Add(Resource{Name: "b.js", Kind: KindScript, Text: "b"})
	s.Add(Resource{Name: "a.js", Kind: KindScript, Text: "a"})

	want := []string{PageName, "b.js", "a.js"}
	if got := s.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("names: got %v, want %v", got, want)
	}
	if s.Len() != 3 {
		t.Fatalf("len: got %d", s.Len())
	}
}

func TestSet_NameCollision(t *testing.T) {
	// WHAT: A second resource with the same name overwrites the first's slot.
	// WHY: Logical names map to file names inside a version.
	s := NewSet()
	s.Add(Resource{Name: PageName, Text: "page"})
	if s.Add(Resource{Name: "app.js", URL: "https://a.example/app.js", Text: "first"}) {
		t.Fatal("first add should not report replacement")
	}
	s.Add(Resource{Name: "other.js", Text: "other"})
	if !s.Add(Resource{Name: "app.js", URL: "https://b.example/app.js", Text: "second"}) {
		t.Fatal("second add should report replacement")
	}

	rs := s.Resources()
	if len(rs) != 3 {
		t.Fatalf("len: got %d, want 3", len(rs))
	}
	if rs[1].Name != "app.js" || rs[1].Text != "second" {
		t.Fatalf("slot 1: got %+v", rs[1])
	}
	if rs[2].Name != "other.js" {
		t.Fatalf("slot 2: got %q", rs[2].Name)
	}
}

func TestSet_ResourcesIsCopy(t *testing.T) {
	s := NewSet()
	s.Add(Resource{Name: PageName, Text: "x"})
	rs := s.Resources()
	rs[0].Text = "mutated"
	if s.Resources()[0].Text != "x" {
		t.Fatal("Resources must return a copy")
	}
}

func TestKind_String(t *testing.T) {
	if KindPage.String() != "page" || KindScript.String() != "script" {
		t.Fatalf("got %q %q", KindPage, KindScript)
	}
}
