//go:build windows

package notify

import (
	"path/filepath"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

const windowsBufferSize = 64 * 1024

// winWatch is one armed ReadDirectoryChangesW watch: a directory handle
// kept open for the lifetime of the watch, with its own overlapped I/O
// buffer perpetually re-armed after each completion.
type winWatch struct {
	path      string
	mode      RecursiveMode
	handle    windows.Handle
	buf       [windowsBufferSize]byte
	overlapped windows.Overlapped
}

// winCompletionKey tags each IOCP completion packet so the server loop can
// find its winWatch; golang.org/x/sys/windows's GetQueuedCompletionStatus
// returns the key unchanged from what CreateIoCompletionPort associated
// with the handle.
type winCompletionKey = uintptr

// windowsBackend is the Windows Capability implementation. It locks its
// server loop to one OS thread because ReadDirectoryChangesW's overlapped
// completion must be picked up by GetQueuedCompletionStatus on a thread
// that won't be rescheduled mid-wait by the Go runtime, matching the
// single-worker-thread model every backend in this module follows.
type windowsBackend struct {
	port    windows.Handle
	onEvent EventHandler
	onError ErrorHandler
	cfg     Config

	control chan controlRequest
	done    chan struct{}

	mu      sync.Mutex // guards watches and byKey; all current access is from the worker goroutine
	watches map[string]*winWatch
	byKey   map[winCompletionKey]*winWatch
	nextKey winCompletionKey
}

func newBackend(onEvent EventHandler, onError ErrorHandler, cfg Config) (Capability, error) {
	port, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 1)
	if err != nil {
		return nil, newError(ErrIO, err)
	}
	b := &windowsBackend{
		port:    port,
		onEvent: onEvent,
		onError: onError,
		cfg:     cfg,
		control: make(chan controlRequest, 1),
		done:    make(chan struct{}),
		watches: make(map[string]*winWatch),
		byKey:   make(map[winCompletionKey]*winWatch),
	}
	go b.run()
	return b, nil
}

func (b *windowsBackend) Watch(path string, mode RecursiveMode) error {
	return b.send(controlRequest{op: opWatch, path: path, mode: mode})
}

func (b *windowsBackend) Unwatch(path string) error {
	return b.send(controlRequest{op: opUnwatch, path: path})
}

func (b *windowsBackend) Configure(path string, mode RecursiveMode) error {
	return b.send(controlRequest{op: opConfigure, path: path, mode: mode})
}

func (b *windowsBackend) Kind() WatcherKind { return KindWindows }

func (b *windowsBackend) WatchList() map[string]RecursiveMode {
	req := controlRequest{op: opWatchList, listc: make(chan map[string]RecursiveMode, 1)}
	select {
	case b.control <- req:
	case <-b.done:
		return nil
	}
	windows.PostQueuedCompletionStatus(b.port, 0, 0, nil)
	select {
	case list := <-req.listc:
		return list
	case <-b.done:
		return nil
	}
}

func (b *windowsBackend) Close() error {
	return b.send(controlRequest{op: opClose})
}

func (b *windowsBackend) send(req controlRequest) error {
	req.errc = make(chan error, 1)
	select {
	case b.control <- req:
	case <-b.done:
		return ErrClosed
	}
	// A zero-byte PostQueuedCompletionStatus wakes a blocked
	// GetQueuedCompletionStatus the same way the inotify backend's waker
	// wakes epoll_wait: it's the IOCP-native way to interrupt the wait.
	windows.PostQueuedCompletionStatus(b.port, 0, 0, nil)
	select {
	case err := <-req.errc:
		return err
	case <-b.done:
		return ErrClosed
	}
}

func (b *windowsBackend) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(b.done)

	for {
		var bytesTransferred uint32
		var key winCompletionKey
		var overlapped *windows.Overlapped
		err := windows.GetQueuedCompletionStatus(b.port, &bytesTransferred, &key, &overlapped, windows.INFINITE)

		if key == 0 && overlapped == nil {
			if b.drainControl() {
				return
			}
			continue
		}
		if err != nil {
			if w, ok := b.byKey[key]; ok {
				b.onError(newError(ErrIO, err, w.path))
			}
			continue
		}
		w, ok := b.byKey[key]
		if !ok {
			continue
		}
		b.handleNotification(w, bytesTransferred)
		b.rearm(w, key)

		if b.drainControl() {
			return
		}
	}
}

func (b *windowsBackend) drainControl() bool {
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

func (b *windowsBackend) handle(req controlRequest) {
	switch req.op {
	case opWatch:
		req.errc <- b.addWatch(req.path, req.mode)
	case opUnwatch:
		req.errc <- b.removeWatch(req.path)
	case opConfigure:
		if err := b.removeWatch(req.path); err != nil {
			req.errc <- err
			return
		}
		req.errc <- b.addWatch(req.path, req.mode)
	case opWatchList:
		b.mu.Lock()
		list := make(map[string]RecursiveMode, len(b.watches))
		for p, w := range b.watches {
			list[p] = w.mode
		}
		b.mu.Unlock()
		req.listc <- list
	}
}

func (b *windowsBackend) addWatch(path string, mode RecursiveMode) error {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return newError(ErrPathNotFound, err, path)
	}
	pathPtr, err := windows.UTF16PtrFromString(resolved)
	if err != nil {
		return newError(ErrInvalidConfig, err, path)
	}
	handle, err := windows.CreateFile(
		pathPtr,
		windows.FILE_LIST_DIRECTORY,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_FLAG_BACKUP_SEMANTICS|windows.FILE_FLAG_OVERLAPPED,
		0,
	)
	if err != nil {
		return newError(ErrPathNotFound, err, path)
	}

	b.nextKey++
	key := b.nextKey
	if _, err := windows.CreateIoCompletionPort(handle, b.port, key, 0); err != nil {
		windows.CloseHandle(handle)
		return newError(ErrIO, err, path)
	}

	w := &winWatch{path: resolved, mode: mode, handle: handle}
	b.mu.Lock()
	b.watches[path] = w
	b.byKey[key] = w
	b.mu.Unlock()

	if err := b.arm(w); err != nil {
		b.removeWatch(path)
		return err
	}
	return nil
}

func (b *windowsBackend) removeWatch(path string) error {
	b.mu.Lock()
	w, ok := b.watches[path]
	if ok {
		delete(b.watches, path)
		for key, ww := range b.byKey {
			if ww == w {
				delete(b.byKey, key)
				break
			}
		}
	}
	b.mu.Unlock()
	if !ok {
		return ErrNonExistentWatch
	}
	windows.CancelIo(w.handle)
	windows.CloseHandle(w.handle)
	return nil
}

const windowsNotifyFilter = windows.FILE_NOTIFY_CHANGE_FILE_NAME |
	windows.FILE_NOTIFY_CHANGE_DIR_NAME |
	windows.FILE_NOTIFY_CHANGE_ATTRIBUTES |
	windows.FILE_NOTIFY_CHANGE_SIZE |
	windows.FILE_NOTIFY_CHANGE_LAST_WRITE |
	windows.FILE_NOTIFY_CHANGE_CREATION |
	windows.FILE_NOTIFY_CHANGE_SECURITY

func (b *windowsBackend) arm(w *winWatch) error {
	watchSubtree := uint32(0)
	if w.mode == Recursive {
		watchSubtree = 1
	}
	var bytesReturned uint32
	return windows.ReadDirectoryChanges(
		w.handle,
		&w.buf[0],
		uint32(len(w.buf)),
		watchSubtree != 0,
		windowsNotifyFilter,
		&bytesReturned,
		&w.overlapped,
		0,
	)
}

func (b *windowsBackend) rearm(w *winWatch, key winCompletionKey) {
	if err := b.arm(w); err != nil {
		b.onError(newError(ErrIO, err, w.path))
	}
}

// fileNotifyInformation mirrors the Win32 FILE_NOTIFY_INFORMATION struct,
// which golang.org/x/sys/windows doesn't expose directly since its layout
// is variable-length (a trailing UTF-16 file name).
type fileNotifyInformation struct {
	NextEntryOffset uint32
	Action          uint32
	FileNameLength  uint32
}

const (
	finActionAdded         = 0x1
	finActionRemoved       = 0x2
	finActionModified      = 0x3
	finActionRenamedOld    = 0x4
	finActionRenamedNew    = 0x5
)

func (b *windowsBackend) handleNotification(w *winWatch, bytesTransferred uint32) {
	if bytesTransferred == 0 {
		// The kernel buffer overflowed between reads.
		b.onError(ErrEventOverflow)
		b.onEvent(Event{Kind: KindOther(), Paths: []string{w.path}, Attrs: EventAttributes{Flag: FlagRescan, Source: "windows"}})
		return
	}

	offset := uint32(0)
	var pendingRenameFrom string
	for {
		info := (*fileNotifyInformation)(unsafe.Pointer(&w.buf[offset]))
		nameUTF16 := unsafe.Slice((*uint16)(unsafe.Pointer(&w.buf[offset+12])), info.FileNameLength/2)
		name := windows.UTF16ToString(nameUTF16)
		path := filepath.Join(w.path, name)
		source := EventAttributes{Source: "windows"}

		switch info.Action {
		case finActionAdded:
			b.onEvent(Event{Kind: KindCreateAny(), Paths: []string{path}, Attrs: source})
		case finActionRemoved:
			b.onEvent(Event{Kind: KindRemoveAny(), Paths: []string{path}, Attrs: source})
		case finActionModified:
			b.onEvent(Event{Kind: KindModifyAny(), Paths: []string{path}, Attrs: source})
		case finActionRenamedOld:
			b.onEvent(Event{Kind: KindModifyName(RenameFrom), Paths: []string{path}, Attrs: source})
			pendingRenameFrom = path
		case finActionRenamedNew:
			b.onEvent(Event{Kind: KindModifyName(RenameTo), Paths: []string{path}, Attrs: source})
			if pendingRenameFrom != "" {
				b.onEvent(Event{Kind: KindModifyName(RenameBoth), Paths: []string{pendingRenameFrom, path}, Attrs: source})
				pendingRenameFrom = ""
			}
		}

		if info.NextEntryOffset == 0 {
			break
		}
		offset += info.NextEntryOffset
	}
}

func (b *windowsBackend) handleClose(req controlRequest) {
	b.mu.Lock()
	paths := make([]string, 0, len(b.watches))
	for p := range b.watches {
		paths = append(paths, p)
	}
	b.mu.Unlock()
	for _, p := range paths {
		_ = b.removeWatch(p)
	}
	windows.CloseHandle(b.port)
	req.errc <- nil
}
