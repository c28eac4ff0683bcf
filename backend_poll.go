package notify

import (
	"hash/maphash"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// entrySnapshot is what the poll backend remembers about one path between
// ticks, enough to classify what changed without re-reading unless
// CompareContents is set.
type entrySnapshot struct {
	isDir   bool
	size    int64
	modTime time.Time
	mode    os.FileMode
	hash    uint64
	hashed  bool
}

// pollRoot is one path passed to Watch, plus everything under it the last
// time the backend walked it.
type pollRoot struct {
	path      string
	mode      RecursiveMode
	snapshots map[string]entrySnapshot
}

// pollBackend is the portable fallback Capability: a single goroutine that
// wakes on a ticker, re-walks every watched root, and diffs the new
// directory listing against the previous snapshot to synthesize events. It
// has no native notification primitive, so its only concurrency concern is
// the same single-worker-thread model as every other backend, here
// implemented with a plain ticker instead of a waker since there is no
// native fd to multiplex.
type pollBackend struct {
	onEvent EventHandler
	onError ErrorHandler
	cfg     Config

	control chan controlRequest
	done    chan struct{}

	seed  maphash.Seed
	roots map[string]*pollRoot
}

func newPollOnlyBackend(onEvent EventHandler, onError ErrorHandler, cfg Config) (Capability, error) {
	b := &pollBackend{
		onEvent: onEvent,
		onError: onError,
		cfg:     cfg,
		control: make(chan controlRequest),
		done:    make(chan struct{}),
		seed:    maphash.MakeSeed(),
		roots:   make(map[string]*pollRoot),
	}
	go b.run()
	return b, nil
}

func (b *pollBackend) interval() time.Duration {
	if b.cfg.PollInterval > 0 {
		return b.cfg.PollInterval
	}
	return 30 * time.Second
}

func (b *pollBackend) Watch(path string, mode RecursiveMode) error {
	return b.send(controlRequest{op: opWatch, path: path, mode: mode})
}

func (b *pollBackend) Unwatch(path string) error {
	return b.send(controlRequest{op: opUnwatch, path: path})
}

func (b *pollBackend) Configure(path string, mode RecursiveMode) error {
	return b.send(controlRequest{op: opConfigure, path: path, mode: mode})
}

func (b *pollBackend) Kind() WatcherKind { return KindPoll }

func (b *pollBackend) WatchList() map[string]RecursiveMode {
	req := controlRequest{op: opWatchList, listc: make(chan map[string]RecursiveMode, 1)}
	select {
	case b.control <- req:
	case <-b.done:
		return nil
	}
	select {
	case list := <-req.listc:
		return list
	case <-b.done:
		return nil
	}
}

func (b *pollBackend) Close() error {
	return b.send(controlRequest{op: opClose})
}

func (b *pollBackend) send(req controlRequest) error {
	req.errc = make(chan error, 1)
	select {
	case b.control <- req:
	case <-b.done:
		return ErrClosed
	}
	select {
	case err := <-req.errc:
		return err
	case <-b.done:
		return ErrClosed
	}
}

func (b *pollBackend) run() {
	defer close(b.done)
	ticker := time.NewTicker(b.interval())
	defer ticker.Stop()
	for {
		select {
		case req := <-b.control:
			if req.op == opClose {
				req.errc <- nil
				return
			}
			b.handle(req)
		case <-ticker.C:
			b.tick()
		}
	}
}

func (b *pollBackend) handle(req controlRequest) {
	switch req.op {
	case opWatch:
		req.errc <- b.addRoot(req.path, req.mode)
	case opUnwatch:
		if _, ok := b.roots[req.path]; !ok {
			req.errc <- ErrNonExistentWatch
			return
		}
		delete(b.roots, req.path)
		req.errc <- nil
	case opConfigure:
		if _, ok := b.roots[req.path]; !ok {
			req.errc <- ErrNonExistentWatch
			return
		}
		req.errc <- b.addRoot(req.path, req.mode)
	case opWatchList:
		list := make(map[string]RecursiveMode, len(b.roots))
		for p, r := range b.roots {
			list[p] = r.mode
		}
		req.listc <- list
	}
}

func (b *pollBackend) addRoot(path string, mode RecursiveMode) error {
	snap, err := b.walk(path, mode)
	if err != nil {
		return newError(ErrPathNotFound, err, path)
	}
	b.roots[path] = &pollRoot{path: path, mode: mode, snapshots: snap}
	return nil
}

// walk builds the snapshot set for one root. A NonRecursive directory
// still reports its immediate children — matching a native directory
// watch, which always sees entries appear and disappear directly inside
// it — but doesn't descend into grandchildren the way Recursive does.
func (b *pollBackend) walk(root string, mode RecursiveMode) (map[string]entrySnapshot, error) {
	out := make(map[string]entrySnapshot)
	info, err := os.Lstat(root)
	if err != nil {
		return nil, err
	}
	out[root] = b.snapshot(root, info)
	if !info.IsDir() {
		return out, nil
	}
	if mode == NonRecursive {
		entries, err := os.ReadDir(root)
		if err != nil {
			b.onError(newError(ErrIO, err, root))
			return out, nil
		}
		for _, entry := range entries {
			childPath := filepath.Join(root, entry.Name())
			fi, err := entry.Info()
			if err != nil {
				continue
			}
			out[childPath] = b.snapshot(childPath, fi)
		}
		return out, nil
	}
	err = filepath.Walk(root, func(path string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			b.onError(newError(ErrIO, walkErr, path))
			return nil
		}
		if path == root {
			return nil
		}
		out[path] = b.snapshot(path, fi)
		return nil
	})
	return out, err
}

func (b *pollBackend) snapshot(path string, info os.FileInfo) entrySnapshot {
	s := entrySnapshot{
		isDir:   info.IsDir(),
		size:    info.Size(),
		modTime: info.ModTime(),
		mode:    info.Mode(),
	}
	if b.cfg.CompareContents && !s.isDir {
		if h, err := b.hashContents(path); err == nil {
			s.hash = h
			s.hashed = true
		}
	}
	return s
}

// hashContents hashes a file's bytes with a per-process random seed, per
// the model's "content comparison must not leak a stable fingerprint
// across process restarts" requirement; it reads in 512-byte chunks to
// bound memory use on large files.
func (b *pollBackend) hashContents(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var h maphash.Hash
	h.SetSeed(b.seed)
	buf := make([]byte, 512)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
	}
	return h.Sum64(), nil
}

func (b *pollBackend) tick() {
	for _, root := range b.roots {
		next, err := b.walk(root.path, root.mode)
		if err != nil {
			b.onError(newError(ErrPathNotFound, err, root.path))
			continue
		}
		b.diff(root.snapshots, next)
		root.snapshots = next
	}
}

// diff compares old and next in sorted path order, so the events of one
// tick come out in a deterministic order. It does not detect renames: a
// moved path is reported as a Remove of the old path and a Create of the
// new one.
func (b *pollBackend) diff(old, next map[string]entrySnapshot) {
	paths := make([]string, 0, len(old)+len(next))
	seen := make(map[string]bool, len(old)+len(next))
	for p := range old {
		paths = append(paths, p)
		seen[p] = true
	}
	for p := range next {
		if !seen[p] {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	source := EventAttributes{Source: "poll"}
	for _, p := range paths {
		o, wasThere := old[p]
		n, isThere := next[p]
		switch {
		case !wasThere && isThere:
			kind := CreateFile
			if n.isDir {
				kind = CreateFolder
			}
			b.onEvent(Event{Kind: EventKind{major: Create, create: kind}, Paths: []string{p}, Attrs: source})
		case wasThere && !isThere:
			kind := RemoveFile
			if o.isDir {
				kind = RemoveFolder
			}
			b.onEvent(Event{Kind: EventKind{major: Remove, remove: kind}, Paths: []string{p}, Attrs: source})
		case wasThere && isThere:
			b.diffExisting(p, o, n, source)
		}
	}
}

// diffExisting classifies a path present in both snapshots, per the three
// rules this spec's poll backend mandates: an mtime change always reports
// as a metadata write-time event; a hash mismatch additionally reports as a
// data event, with its subkind depending on whether mtime also moved.
func (b *pollBackend) diffExisting(path string, o, n entrySnapshot, source EventAttributes) {
	if o.mode != n.mode {
		b.onEvent(Event{Kind: KindModifyMetadata(MetaPermissions), Paths: []string{path}, Attrs: source})
	}
	if n.isDir {
		return
	}

	mtimeChanged := !o.modTime.Equal(n.modTime)
	hashChanged := b.cfg.CompareContents && o.hashed && n.hashed && o.hash != n.hash

	if mtimeChanged {
		b.onEvent(Event{Kind: KindModifyMetadata(MetaWriteTime), Paths: []string{path}, Attrs: source})
		switch {
		case hashChanged:
			b.onEvent(Event{Kind: KindModifyData(DataContent), Paths: []string{path}, Attrs: source})
		case !b.cfg.CompareContents && o.size != n.size:
			b.onEvent(Event{Kind: KindModifyData(DataSize), Paths: []string{path}, Attrs: source})
		}
		return
	}

	if hashChanged {
		b.onEvent(Event{Kind: KindModifyData(DataAny), Paths: []string{path}, Attrs: source})
	}
}
