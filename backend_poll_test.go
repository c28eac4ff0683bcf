package notify

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// eventCollector is a small thread-safe sink for tests that don't care
// about ordering, only eventual presence of a particular kind/path.
type eventCollector struct {
	mu     sync.Mutex
	events []Event
}

func (c *eventCollector) handle(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *eventCollector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestPollBackendDetectsCreate(t *testing.T) {
	dir := t.TempDir()
	collector := &eventCollector{}
	w, err := NewPoll(collector.handle, func(error) {}, WithPollInterval(10*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := w.Watch(dir, NonRecursive); err != nil {
		t.Fatal(err)
	}

	target := filepath.Join(dir, "new-file.txt")
	if err := os.WriteFile(target, []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, time.Second, func() bool {
		for _, e := range collector.snapshot() {
			if e.Kind.IsCreate() && e.Path() == target {
				return true
			}
		}
		return false
	})
}

func TestPollBackendDetectsRemove(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "gone.txt")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	collector := &eventCollector{}
	w, err := NewPoll(collector.handle, func(error) {}, WithPollInterval(10*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := w.Watch(dir, NonRecursive); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(target); err != nil {
		t.Fatal(err)
	}

	waitFor(t, time.Second, func() bool {
		for _, e := range collector.snapshot() {
			if e.Kind.IsRemove() && e.Path() == target {
				return true
			}
		}
		return false
	})
}

func TestPollBackendUnwatch(t *testing.T) {
	dir := t.TempDir()
	w, err := NewPoll(func(Event) {}, func(error) {})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := w.Watch(dir, NonRecursive); err != nil {
		t.Fatal(err)
	}
	if err := w.Unwatch(dir); err != nil {
		t.Fatal(err)
	}
	if err := w.Unwatch(dir); err != ErrNonExistentWatch {
		t.Fatalf("expected ErrNonExistentWatch, got %v", err)
	}
}

func TestPollBackendWatchList(t *testing.T) {
	dir := t.TempDir()
	w, err := NewPoll(func(Event) {}, func(error) {})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := w.Watch(dir, Recursive); err != nil {
		t.Fatal(err)
	}
	list := w.WatchList()
	if mode, ok := list[dir]; !ok || mode != Recursive {
		t.Fatalf("WatchList() = %v, want %s => Recursive", list, dir)
	}
}

func TestPollBackendClosedReturnsErrClosed(t *testing.T) {
	w, err := NewPoll(func(Event) {}, func(error) {})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Watch(t.TempDir(), NonRecursive); err != ErrClosed {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
}

func TestPollBackendDetectsWriteTimeOnModification(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "touched.txt")
	if err := os.WriteFile(target, []byte("aaaa"), 0o644); err != nil {
		t.Fatal(err)
	}

	collector := &eventCollector{}
	w, err := NewPoll(collector.handle, func(error) {}, WithPollInterval(10*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := w.Watch(dir, NonRecursive); err != nil {
		t.Fatal(err)
	}

	time.Sleep(20 * time.Millisecond)
	if err := os.WriteFile(target, []byte("bbbb"), 0o644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, time.Second, func() bool {
		for _, e := range collector.snapshot() {
			if e.Path() == target && e.Kind.ModifyKind() == ModifyMetadata && e.Kind.MetadataKind() == MetaWriteTime {
				return true
			}
		}
		return false
	})
}

func TestPollBackendContentHashDetectsSameSizeModification(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "data.bin")
	if err := os.WriteFile(target, []byte("aaaa"), 0o644); err != nil {
		t.Fatal(err)
	}

	collector := &eventCollector{}
	w, err := NewPoll(collector.handle, func(error) {},
		WithPollInterval(10*time.Millisecond), WithCompareContents(true))
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := w.Watch(dir, NonRecursive); err != nil {
		t.Fatal(err)
	}

	// Same length, different bytes, and force a fresh mtime so this isn't
	// trivially caught by size comparison alone.
	time.Sleep(20 * time.Millisecond)
	if err := os.WriteFile(target, []byte("bbbb"), 0o644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, time.Second, func() bool {
		for _, e := range collector.snapshot() {
			if e.Kind.IsModify() && e.Kind.ModifyKind() == ModifyData && e.Path() == target {
				return true
			}
		}
		return false
	})
}
