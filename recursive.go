package notify

import (
	"os"
	"path/filepath"

	"github.com/golang/groupcache/lru"
)

// nativeArmer is the minimal per-backend primitive recursiveTree builds
// tree-emulated recursive watching on top of: arm or disarm a native watch
// on a single directory. Inotify and kqueue each implement this to reuse
// the walk/grow/evict logic below instead of duplicating it.
type nativeArmer interface {
	armPath(path string) error
	disarmPath(path string) error
}

// recursiveTree emulates recursive watching over a backend that can only
// arm one native watch per directory: it walks the tree under each
// recursive root at Watch time, arms one watch per directory found, and
// grows the set as Create events for new subdirectories arrive. It is not
// safe for concurrent use — callers must only touch it from the backend's
// single worker goroutine, matching the model's one-worker-thread-per-
// backend invariant.
type recursiveTree struct {
	armer   nativeArmer
	onEvent EventHandler
	onError ErrorHandler

	roots map[string]bool   // recursive watch roots
	dirs  map[string]string // armed directory -> owning root

	bounded *lru.Cache // nil unless MaxWatches > 0
}

// newRecursiveTree builds a recursiveTree. When maxWatches is 0 the tree is
// unbounded, matching the native backend's own behavior when no limit is
// configured.
func newRecursiveTree(armer nativeArmer, onEvent EventHandler, onError ErrorHandler, maxWatches int) *recursiveTree {
	t := &recursiveTree{
		armer:   armer,
		onEvent: onEvent,
		onError: onError,
		roots:   make(map[string]bool),
		dirs:    make(map[string]string),
	}
	if maxWatches > 0 {
		t.bounded = lru.New(maxWatches)
		t.bounded.OnEvicted = func(key lru.Key, _ interface{}) {
			t.onEvicted(key.(string))
		}
	}
	return t
}

// AddRoot walks root (if it's a directory) and arms one native watch per
// directory found, including root itself. A non-directory root is armed
// directly with no walk, matching NonRecursive semantics for a plain file.
func (t *recursiveTree) AddRoot(root string, mode RecursiveMode) error {
	info, err := os.Stat(root)
	if err != nil {
		return newError(ErrPathNotFound, err, root)
	}
	if mode == NonRecursive || !info.IsDir() {
		t.roots[root] = false
		return t.arm(root, root)
	}
	t.roots[root] = true
	return filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			// A descendant vanished or became unreadable mid-walk: per
			// the model this degrades to an error event, not a failed
			// Watch call, since the root itself was stat-able above.
			t.onError(newError(ErrIO, err, path))
			return nil
		}
		if !fi.IsDir() {
			return nil
		}
		return t.arm(path, root)
	})
}

// RemoveRoot disarms every directory watch that root's walk armed.
func (t *recursiveTree) RemoveRoot(root string) error {
	recursive, ok := t.roots[root]
	if !ok {
		return ErrNonExistentWatch
	}
	delete(t.roots, root)
	if !recursive {
		return t.disarm(root)
	}
	var firstErr error
	for dir, owner := range t.dirs {
		if owner != root {
			continue
		}
		if err := t.disarm(dir); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// OwnerOf reports which recursive root (if any) owns path, so a backend can
// attribute a raw native event to the right watch.
func (t *recursiveTree) OwnerOf(path string) (root string, ok bool) {
	root, ok = t.dirs[path]
	return
}

// IsRoot reports whether path was itself passed to Watch.
func (t *recursiveTree) IsRoot(path string) bool {
	_, ok := t.roots[path]
	return ok
}

// HandleCreate arms a new native watch when path is a freshly created
// directory under a recursive root, so later changes inside it are seen.
// Non-directory creations and creations under a non-recursive root are a
// no-op.
func (t *recursiveTree) HandleCreate(path string, isDir bool) {
	if !isDir {
		return
	}
	root, ok := t.dirs[filepath.Dir(path)]
	if !ok {
		return
	}
	if !t.roots[root] {
		return
	}
	if err := t.arm(path, root); err != nil {
		t.onError(newError(ErrIO, err, path))
	}
}

// HandleRemove disarms path's native watch, if any, when the directory
// itself was removed.
func (t *recursiveTree) HandleRemove(path string) {
	if _, ok := t.dirs[path]; ok {
		_ = t.disarm(path)
	}
}

func (t *recursiveTree) arm(path, root string) error {
	if err := t.armer.armPath(path); err != nil {
		return err
	}
	t.dirs[path] = root
	if t.bounded != nil {
		t.bounded.Add(path, root)
	}
	return nil
}

func (t *recursiveTree) disarm(path string) error {
	delete(t.dirs, path)
	if t.bounded != nil {
		t.bounded.Remove(path)
	}
	return t.armer.disarmPath(path)
}

// onEvicted is the LRU eviction callback: it drops path from t.dirs
// (lru.Cache has already removed its own entry), disarms the native watch
// and surfaces a Rescan event since the caller can no longer trust that
// this subtree's changes are being observed. lru.Cache also calls it from
// Remove; disarm deletes path from t.dirs before that call, so an explicit
// disarm returns early here and reports nothing.
func (t *recursiveTree) onEvicted(path string) {
	if _, armed := t.dirs[path]; !armed {
		return
	}
	delete(t.dirs, path)
	if err := t.armer.disarmPath(path); err != nil {
		t.onError(newError(ErrIO, err, path))
	}
	t.onEvent(Event{
		Kind:  KindOther(),
		Paths: []string{path},
		Attrs: EventAttributes{
			Flag:   FlagRescan,
			Info:   "watch-evicted",
			Source: "recursive",
		},
	})
}
