package notify

import (
	"encoding/json"
	"testing"
)

func TestEventKindJSONRoundTrip(t *testing.T) {
	cases := []EventKind{
		KindAny(),
		KindOther(),
		KindCreateFile(),
		KindCreateFolder(),
		KindRemoveFolder(),
		KindAccessOpen(ModeWrite),
		KindAccessClose(ModeRead),
		KindModifyData(DataSize),
		KindModifyMetadata(MetaOwnership),
		KindModifyName(RenameBoth),
	}
	for _, k := range cases {
		data, err := json.Marshal(k)
		if err != nil {
			t.Fatalf("Marshal(%v): %v", k, err)
		}
		var got EventKind
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("Unmarshal(%s): %v", data, err)
		}
		if got != k {
			t.Errorf("round trip mismatch: got %v, want %v (wire: %s)", got, k, data)
		}
	}
}

// TestEventKindCanonicalWireShape asserts against the literal canonical
// examples from the external-interfaces spec, not just round-trip equality.
func TestEventKindCanonicalWireShape(t *testing.T) {
	cases := []struct {
		kind EventKind
		want string
	}{
		{KindAny(), `"any"`},
		{KindOther(), `"other"`},
		{KindAccessOpen(ModeExecute), `{"access":{"kind":"open","mode":"execute"}}`},
		{KindCreateFile(), `{"create":{"kind":"file"}}`},
		{KindModifyData(DataContent), `{"modify":{"kind":"data","mode":"content"}}`},
		{KindModifyName(RenameFrom), `{"rename":{"mode":"from"}}`},
		{KindRemoveOther(), `{"remove":{"kind":"other"}}`},
	}
	for _, c := range cases {
		data, err := json.Marshal(c.kind)
		if err != nil {
			t.Fatalf("Marshal(%v): %v", c.kind, err)
		}
		if string(data) != c.want {
			t.Errorf("Marshal(%v) = %s, want %s", c.kind, data, c.want)
		}
	}
}

func TestEventJSONRoundTrip(t *testing.T) {
	orig := NewRenameBoth("/a/old", "/a/new", 99)
	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatal(err)
	}
	var got Event
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if !orig.Equal(got) {
		t.Errorf("round trip mismatch: got %+v, want %+v (wire: %s)", got, orig, data)
	}
}

// TestEventCanonicalWireShape matches the spec's worked example verbatim:
// Event{Remove(Other), ["/example"], info:"unmount"}.
func TestEventCanonicalWireShape(t *testing.T) {
	e := Event{
		Kind:  KindRemoveOther(),
		Paths: []string{"/example"},
		Attrs: EventAttributes{Info: "unmount"},
	}
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"type":{"remove":{"kind":"other"}},"paths":["/example"],"attrs":{"info":"unmount"}}`
	if string(data) != want {
		t.Errorf("Marshal(e) = %s, want %s", data, want)
	}
}

func TestEventAttrsOmitted(t *testing.T) {
	e := NewEvent(KindCreateFile(), "/tmp/x")
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	attrs, ok := raw["attrs"]
	if !ok {
		t.Fatal("expected an attrs field even when empty")
	}
	if string(attrs) != "{}" {
		t.Errorf("attrs = %s, want {} for a no-attribute event", attrs)
	}
}
