package notify

import (
	"os"
	"path/filepath"
	"testing"
)

// fakeArmer records arm/disarm calls instead of touching any real backend,
// so recursiveTree's walk/grow/evict logic can be tested without an OS
// watch primitive.
type fakeArmer struct {
	armed map[string]bool
	failOn map[string]bool
}

func newFakeArmer() *fakeArmer {
	return &fakeArmer{armed: make(map[string]bool), failOn: make(map[string]bool)}
}

func (a *fakeArmer) armPath(path string) error {
	if a.failOn[path] {
		return newError(ErrIO, nil, path)
	}
	a.armed[path] = true
	return nil
}

func (a *fakeArmer) disarmPath(path string) error {
	delete(a.armed, path)
	return nil
}

func TestRecursiveTreeWalkArmsEveryDir(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	armer := newFakeArmer()
	var events []Event
	tree := newRecursiveTree(armer, func(e Event) { events = append(events, e) }, func(error) {}, 0)

	if err := tree.AddRoot(root, Recursive); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{root, filepath.Join(root, "a"), sub} {
		if !armer.armed[want] {
			t.Errorf("expected %s to be armed, armed set: %v", want, armer.armed)
		}
	}
}

func TestRecursiveTreeNonRecursiveArmsOnlyRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "child"), 0o755); err != nil {
		t.Fatal(err)
	}
	armer := newFakeArmer()
	tree := newRecursiveTree(armer, func(Event) {}, func(error) {}, 0)

	if err := tree.AddRoot(root, NonRecursive); err != nil {
		t.Fatal(err)
	}
	if len(armer.armed) != 1 || !armer.armed[root] {
		t.Fatalf("expected only root armed, got %v", armer.armed)
	}
}

func TestRecursiveTreeHandleCreateArmsNewSubdir(t *testing.T) {
	root := t.TempDir()
	armer := newFakeArmer()
	tree := newRecursiveTree(armer, func(Event) {}, func(error) {}, 0)
	if err := tree.AddRoot(root, Recursive); err != nil {
		t.Fatal(err)
	}

	newDir := filepath.Join(root, "fresh")
	tree.HandleCreate(newDir, true)
	if !armer.armed[newDir] {
		t.Fatalf("expected new subdirectory to be armed after HandleCreate, got %v", armer.armed)
	}
}

func TestRecursiveTreeRemoveRootDisarmsAll(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "a"), 0o755); err != nil {
		t.Fatal(err)
	}
	armer := newFakeArmer()
	tree := newRecursiveTree(armer, func(Event) {}, func(error) {}, 0)
	if err := tree.AddRoot(root, Recursive); err != nil {
		t.Fatal(err)
	}
	if err := tree.RemoveRoot(root); err != nil {
		t.Fatal(err)
	}
	if len(armer.armed) != 0 {
		t.Fatalf("expected all watches disarmed, got %v", armer.armed)
	}
	if err := tree.RemoveRoot(root); err != ErrNonExistentWatch {
		t.Fatalf("expected ErrNonExistentWatch on double-remove, got %v", err)
	}
}

func TestRecursiveTreeEvictionEmitsRescan(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a", "b", "c"} {
		if err := os.MkdirAll(filepath.Join(root, name), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	armer := newFakeArmer()
	var events []Event
	tree := newRecursiveTree(armer, func(e Event) { events = append(events, e) }, func(error) {}, 2)

	if err := tree.AddRoot(root, Recursive); err != nil {
		t.Fatal(err)
	}
	// root has 4 directories total (root, a, b, c); bounded to 2 means
	// eviction must have happened and produced at least one Rescan event.
	foundRescan := false
	for _, e := range events {
		if e.Attrs.Flag == FlagRescan {
			foundRescan = true
		}
	}
	if !foundRescan {
		t.Fatalf("expected at least one Rescan event from LRU eviction, got %v", events)
	}
	if len(armer.armed) > 2 {
		t.Fatalf("expected at most 2 armed watches under MaxWatches=2, got %d: %v", len(armer.armed), armer.armed)
	}
}
