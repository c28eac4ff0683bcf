package notify

import "testing"

func TestEventKindString(t *testing.T) {
	cases := []struct {
		kind EventKind
		want string
	}{
		{KindAny(), "any"},
		{KindCreateFile(), "create(file)"},
		{KindRemoveFolder(), "remove(folder)"},
		{KindModifyData(DataContent), "modify(data:content)"},
		{KindModifyMetadata(MetaPermissions), "modify(metadata:permissions)"},
		{KindModifyName(RenameBoth), "modify(name:both)"},
		{KindAccessOpen(ModeRead), "access(open:read)"},
		{KindOther(), "other"},
	}
	for _, c := range cases {
		if got := c.kind.String(); got != c.want {
			t.Errorf("String() = %q, want %q", got, c.want)
		}
	}
}

func TestEventKindPredicates(t *testing.T) {
	if !KindCreateFile().IsCreate() {
		t.Error("CreateFile should be IsCreate")
	}
	if !KindModifyName(RenameFrom).IsRenameFrom() {
		t.Error("Modify(Name(From)) should be IsRenameFrom")
	}
	if !KindModifyName(RenameBoth).IsRenameBoth() {
		t.Error("Modify(Name(Both)) should be IsRenameBoth")
	}
	if KindModifyName(RenameTo).IsRenameFrom() {
		t.Error("Modify(Name(To)) should not be IsRenameFrom")
	}
}

func TestEventAttributesTracker(t *testing.T) {
	a := EventAttributes{}
	if a.HasTracker() {
		t.Fatal("zero-value attrs should have no tracker")
	}
	a = a.WithTracker(42)
	if !a.HasTracker() || *a.Tracker != 42 {
		t.Fatalf("WithTracker did not set tracker: %+v", a)
	}
}

func TestEventEqual(t *testing.T) {
	a := NewRenameBoth("/a", "/b", 7)
	b := NewRenameBoth("/a", "/b", 7)
	if !a.Equal(b) {
		t.Fatalf("expected equal events, got %v vs %v", a, b)
	}
	c := NewRenameBoth("/a", "/b", 8)
	if a.Equal(c) {
		t.Fatal("expected different tracker cookies to compare unequal")
	}
}

func TestEventString(t *testing.T) {
	e := NewEvent(KindCreateFile(), "/tmp/x")
	s := e.String()
	if s == "" {
		t.Fatal("String() returned empty string")
	}
}
