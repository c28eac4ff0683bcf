//go:build linux

package notify

import (
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/Wangsimg/untibunti/internal"
)

// pendingRename tracks the one in-flight MOVED_FROM half of a rename the
// backend is waiting to pair with a matching MOVED_TO before the pairing
// timer expires. Inotify cookies only pair a MOVED_FROM with the MOVED_TO
// immediately following it in program order, so a single slot (not a table
// keyed by cookie) is enough — mirroring the single rename_event slot the
// original implementation this backend is modeled on keeps, rather than a
// cookie-indexed map that could accumulate unrelated in-flight renames.
type pendingRename struct {
	cookie   uint32
	fromPath string
	deadline time.Time
}

// inotifyBackend is the Linux Capability implementation. It owns exactly
// one worker goroutine that multiplexes the inotify file descriptor and an
// in-band control channel through internal.Waker, so all mutation of
// wdToPath/pathToWd/tree/pending happens on a single goroutine without
// locking.
type inotifyBackend struct {
	fd      int
	waker   *internal.Waker
	onEvent EventHandler
	onError ErrorHandler
	cfg     Config

	control chan controlRequest
	done    chan struct{}

	wdToPath map[int32]string
	pathToWd map[string]int32
	tree     *recursiveTree
	pending  *pendingRename
}

func newBackend(onEvent EventHandler, onError ErrorHandler, cfg Config) (Capability, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return nil, newError(ErrIO, err)
	}
	w, err := internal.NewWaker(fd)
	if err != nil {
		unix.Close(fd)
		return nil, newError(ErrIO, err)
	}
	b := &inotifyBackend{
		fd:       fd,
		waker:    w,
		onEvent:  onEvent,
		onError:  onError,
		cfg:      cfg,
		control:  make(chan controlRequest, 1),
		done:     make(chan struct{}),
		wdToPath: make(map[int32]string),
		pathToWd: make(map[string]int32),
	}
	b.tree = newRecursiveTree(b, onEvent, onError, cfg.MaxWatches)
	go b.run()
	return b, nil
}

// armPath and disarmPath implement nativeArmer for use by recursiveTree.
func (b *inotifyBackend) armPath(path string) error {
	const mask = unix.IN_CREATE | unix.IN_DELETE | unix.IN_DELETE_SELF |
		unix.IN_MODIFY | unix.IN_ATTRIB | unix.IN_MOVED_FROM | unix.IN_MOVED_TO |
		unix.IN_MOVE_SELF | unix.IN_OPEN | unix.IN_CLOSE_WRITE | unix.IN_CLOSE_NOWRITE |
		unix.IN_ACCESS
	wd, err := unix.InotifyAddWatch(b.fd, path, mask)
	if err != nil {
		if err == unix.ENOSPC {
			return newError(ErrMaxFilesWatch, maxWatchesDiagnostic(err), path)
		}
		return newError(ErrIO, err, path)
	}
	b.wdToPath[int32(wd)] = path
	b.pathToWd[path] = int32(wd)
	return nil
}

// maxWatchesDiagnostic augments a bare ENOSPC from inotify_add_watch with
// whether the process holds CAP_SYS_RESOURCE, since fs.inotify.max_user_watches
// is otherwise a fixed per-user sysctl ceiling no amount of retrying gets past.
func maxWatchesDiagnostic(cause error) error {
	caps, err := internal.CapInit()
	if err != nil {
		return cause
	}
	hasCap, err := caps.IsSet(unix.CAP_SYS_RESOURCE, internal.CapEffective)
	if err != nil {
		return cause
	}
	if hasCap {
		return fmt.Errorf("%w (fs.inotify.max_user_watches exceeded despite CAP_SYS_RESOURCE)", cause)
	}
	return fmt.Errorf("%w (raise fs.inotify.max_user_watches; process lacks CAP_SYS_RESOURCE)", cause)
}

func (b *inotifyBackend) disarmPath(path string) error {
	wd, ok := b.pathToWd[path]
	if !ok {
		return nil
	}
	delete(b.pathToWd, path)
	delete(b.wdToPath, wd)
	_, err := unix.InotifyRmWatch(b.fd, uint32(wd))
	if err != nil && err != unix.EINVAL {
		return newError(ErrIO, err, path)
	}
	return nil
}

func (b *inotifyBackend) Watch(path string, mode RecursiveMode) error {
	return b.send(controlRequest{op: opWatch, path: path, mode: mode})
}

func (b *inotifyBackend) Unwatch(path string) error {
	return b.send(controlRequest{op: opUnwatch, path: path})
}

func (b *inotifyBackend) Configure(path string, mode RecursiveMode) error {
	return b.send(controlRequest{op: opConfigure, path: path, mode: mode})
}

func (b *inotifyBackend) Kind() WatcherKind { return KindInotify }

func (b *inotifyBackend) WatchList() map[string]RecursiveMode {
	req := controlRequest{op: opWatchList, listc: make(chan map[string]RecursiveMode, 1)}
	select {
	case b.control <- req:
	case <-b.done:
		return nil
	}
	b.waker.Wake()
	select {
	case list := <-req.listc:
		return list
	case <-b.done:
		return nil
	}
}

func (b *inotifyBackend) Close() error {
	return b.send(controlRequest{op: opClose})
}

func (b *inotifyBackend) send(req controlRequest) error {
	req.errc = make(chan error, 1)
	select {
	case b.control <- req:
	case <-b.done:
		return ErrClosed
	}
	b.waker.Wake()
	select {
	case err := <-req.errc:
		return err
	case <-b.done:
		return ErrClosed
	}
}

func (b *inotifyBackend) run() {
	defer close(b.done)
	for {
		timeout := b.nextTimeoutMs()
		fdReady, woken, err := b.waker.Wait(timeout)
		if err != nil {
			b.onError(newError(ErrIO, err))
			return
		}
		if fdReady {
			b.readEvents()
		}
		if woken {
			if b.drainControl() {
				return
			}
		}
		b.expireRenames()
	}
}

// drainControl processes every control request currently queued, returning
// true if it handled a Close (in which case run must stop).
func (b *inotifyBackend) drainControl() bool {
	for {
		select {
		case req := <-b.control:
			if req.op == opClose {
				b.handleClose(req)
				return true
			}
			b.handle(req)
		default:
			return false
		}
	}
}

func (b *inotifyBackend) handle(req controlRequest) {
	switch req.op {
	case opWatch:
		req.errc <- b.tree.AddRoot(req.path, req.mode)
	case opUnwatch:
		req.errc <- b.tree.RemoveRoot(req.path)
	case opConfigure:
		err := b.tree.RemoveRoot(req.path)
		if err != nil {
			req.errc <- err
			return
		}
		req.errc <- b.tree.AddRoot(req.path, req.mode)
	case opWatchList:
		list := make(map[string]RecursiveMode, len(b.tree.roots))
		for root, recursive := range b.tree.roots {
			if recursive {
				list[root] = Recursive
			} else {
				list[root] = NonRecursive
			}
		}
		req.listc <- list
	}
}

func (b *inotifyBackend) handleClose(req controlRequest) {
	for path := range b.tree.roots {
		_ = b.tree.RemoveRoot(path)
	}
	b.waker.Close()
	unix.Close(b.fd)
	req.errc <- nil
}

// nextTimeoutMs returns the milliseconds until the pending rename's
// deadline, or -1 (block indefinitely) if there is none.
func (b *inotifyBackend) nextTimeoutMs() int {
	if b.pending == nil {
		return -1
	}
	ms := int(time.Until(b.pending.deadline) / time.Millisecond)
	if ms < 0 {
		return 0
	}
	return ms
}

func (b *inotifyBackend) expireRenames() {
	if b.pending == nil || time.Now().Before(b.pending.deadline) {
		return
	}
	b.flushPendingRename()
}

// flushPendingRename emits the current pending MOVED_FROM, if any, as an
// orphaned Rename(From) and clears the slot. Called both on timeout and
// whenever a new MOVED_FROM or an unrelated MOVED_TO would otherwise
// overwrite or skip past a still-pending entry, so a second in-flight
// rename never silently drops the first one's From event.
func (b *inotifyBackend) flushPendingRename() {
	if b.pending == nil {
		return
	}
	p := b.pending
	b.pending = nil
	b.onEvent(Event{
		Kind:  KindModifyName(RenameFrom),
		Paths: []string{p.fromPath},
		Attrs: EventAttributes{Source: "inotify"}.WithTracker(p.cookie),
	})
}

const inotifyEventHeaderSize = unix.SizeofInotifyEvent

func (b *inotifyBackend) readEvents() {
	var buf [64 * 1024]byte
	for {
		n, err := unix.Read(b.fd, buf[:])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			b.onError(newError(ErrIO, err))
			return
		}
		if n <= 0 {
			return
		}
		offset := 0
		for offset+inotifyEventHeaderSize <= n {
			raw := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
			nameLen := int(raw.Len)
			var name string
			if nameLen > 0 {
				nameBytes := buf[offset+inotifyEventHeaderSize : offset+inotifyEventHeaderSize+nameLen]
				name = cstringFromBytes(nameBytes)
			}
			b.translate(raw, name)
			offset += inotifyEventHeaderSize + nameLen
		}
	}
}

func cstringFromBytes(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// translate converts one raw inotify_event into zero or more Events,
// updating rename-pairing and recursion-tree state as needed.
func (b *inotifyBackend) translate(raw *unix.InotifyEvent, name string) {
	wd := raw.Wd
	mask := raw.Mask
	// An overflow record carries wd -1, so it is handled before the
	// descriptor lookup below.
	if mask&unix.IN_Q_OVERFLOW != 0 {
		b.onError(ErrEventOverflow)
		b.onEvent(Event{Kind: KindOther(), Attrs: EventAttributes{Flag: FlagRescan, Source: "inotify"}})
		return
	}
	dir, known := b.wdToPath[wd]
	if !known {
		return
	}
	path := dir
	if name != "" {
		path = dir + "/" + name
	}
	if internal.DebugEnabled() {
		internal.Debug(path, mask)
	}
	isDir := mask&unix.IN_ISDIR != 0
	source := EventAttributes{Source: "inotify"}

	switch {
	case mask&unix.IN_IGNORED != 0:
		delete(b.wdToPath, wd)
		delete(b.pathToWd, dir)
		return

	case mask&unix.IN_CREATE != 0:
		b.tree.HandleCreate(path, isDir)
		kind := CreateFile
		if isDir {
			kind = CreateFolder
		}
		b.onEvent(Event{Kind: EventKind{major: Create, create: kind}, Paths: []string{path}, Attrs: source})

	case mask&(unix.IN_DELETE|unix.IN_DELETE_SELF) != 0:
		b.tree.HandleRemove(path)
		kind := RemoveFile
		if isDir {
			kind = RemoveFolder
		}
		b.onEvent(Event{Kind: EventKind{major: Remove, remove: kind}, Paths: []string{path}, Attrs: source})

	case mask&unix.IN_MOVE_SELF != 0:
		b.onEvent(Event{Kind: KindModifyName(RenameOther), Paths: []string{path}, Attrs: source})

	case mask&unix.IN_MOVED_FROM != 0:
		b.tree.HandleRemove(path)
		// A MOVED_FROM with no matching MOVED_TO yet for whatever's
		// currently pending means that earlier rename was abandoned
		// (e.g. interrupted by another rename before pairing); flush it
		// as an orphaned From rather than silently overwriting the slot.
		b.flushPendingRename()
		b.pending = &pendingRename{cookie: raw.Cookie, fromPath: path, deadline: time.Now().Add(b.renameTimeout())}

	case mask&unix.IN_MOVED_TO != 0:
		if b.pending != nil && b.pending.cookie == raw.Cookie {
			p := b.pending
			b.pending = nil
			b.tree.HandleCreate(path, isDir)
			tracked := EventAttributes{Source: "inotify"}.WithTracker(raw.Cookie)
			b.onEvent(Event{Kind: KindModifyName(RenameFrom), Paths: []string{p.fromPath}, Attrs: tracked})
			b.onEvent(Event{Kind: KindModifyName(RenameTo), Paths: []string{path}, Attrs: tracked})
			b.onEvent(Event{
				Kind:  KindModifyName(RenameBoth),
				Paths: []string{p.fromPath, path},
				Attrs: tracked,
			})
			return
		}
		// This MOVED_TO doesn't pair with whatever's pending (or
		// nothing is pending); flush any stale entry before reporting
		// the target as a Create.
		b.flushPendingRename()
		b.tree.HandleCreate(path, isDir)
		kind := CreateFile
		if isDir {
			kind = CreateFolder
		}
		b.onEvent(Event{Kind: EventKind{major: Create, create: kind}, Paths: []string{path}, Attrs: source})

	case mask&unix.IN_MODIFY != 0:
		b.onEvent(Event{Kind: KindModifyData(DataContent), Paths: []string{path}, Attrs: source})

	case mask&unix.IN_ATTRIB != 0:
		b.onEvent(Event{Kind: KindModifyMetadata(MetaAny), Paths: []string{path}, Attrs: source})

	case mask&unix.IN_OPEN != 0:
		b.onEvent(Event{Kind: KindAccessOpen(ModeAny), Paths: []string{path}, Attrs: source})

	case mask&(unix.IN_CLOSE_WRITE|unix.IN_CLOSE_NOWRITE) != 0:
		mode := ModeRead
		if mask&unix.IN_CLOSE_WRITE != 0 {
			mode = ModeWrite
		}
		b.onEvent(Event{Kind: KindAccessClose(mode), Paths: []string{path}, Attrs: source})

	case mask&unix.IN_ACCESS != 0:
		b.onEvent(Event{Kind: KindAccessRead(), Paths: []string{path}, Attrs: source})

	default:
		b.onEvent(Event{Kind: KindOther(), Paths: []string{path}, Attrs: EventAttributes{Source: "inotify", Info: fmt.Sprintf("mask=%#x", mask)}})
	}
}

func (b *inotifyBackend) renameTimeout() time.Duration {
	if b.cfg.RenameTimeout > 0 {
		return b.cfg.RenameTimeout
	}
	return 10 * time.Millisecond
}
