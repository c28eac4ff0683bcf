//go:build darwin && !kqueue

package notify

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/mutagen-io/fsevents"
)

// fsCoalescingLatency bounds how long the FSEvents framework may batch
// changes before delivering them, mirroring the teacher pack's own
// latency choice for responsive-but-not-noisy delivery.
const fsCoalescingLatency = 10 * time.Millisecond

// fsRoot is one path passed to Watch: FSEvents streams are always
// recursive, so a NonRecursive root is emulated by filtering the stream's
// output down to paths that are direct children of root.
type fsRoot struct {
	path   string
	mode   RecursiveMode
	stream *fsevents.EventStream
}

// fsEventsBackend is the darwin Capability implementation. Each watched
// root gets its own EventStream (the framework's unit of registration);
// a single worker goroutine owns a fan-in channel all streams' forwarder
// goroutines feed into, so control-channel sequencing still holds even
// though FSEvents itself delivers asynchronously from CoreServices'
// own runloop thread.
type fsEventsBackend struct {
	onEvent EventHandler
	onError ErrorHandler
	cfg     Config

	control chan controlRequest
	done    chan struct{}
	raw     chan fsevents.Event

	roots map[string]*fsRoot
}

func newBackend(onEvent EventHandler, onError ErrorHandler, cfg Config) (Capability, error) {
	b := &fsEventsBackend{
		onEvent: onEvent,
		onError: onError,
		cfg:     cfg,
		control: make(chan controlRequest),
		done:    make(chan struct{}),
		raw:     make(chan fsevents.Event, 256),
		roots:   make(map[string]*fsRoot),
	}
	go b.run()
	return b, nil
}

func (b *fsEventsBackend) Watch(path string, mode RecursiveMode) error {
	return b.send(controlRequest{op: opWatch, path: path, mode: mode})
}

func (b *fsEventsBackend) Unwatch(path string) error {
	return b.send(controlRequest{op: opUnwatch, path: path})
}

func (b *fsEventsBackend) Configure(path string, mode RecursiveMode) error {
	return b.send(controlRequest{op: opConfigure, path: path, mode: mode})
}

func (b *fsEventsBackend) Kind() WatcherKind { return KindFSEvents }

func (b *fsEventsBackend) WatchList() map[string]RecursiveMode {
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

func (b *fsEventsBackend) Close() error {
	return b.send(controlRequest{op: opClose})
}

func (b *fsEventsBackend) send(req controlRequest) error {
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

func (b *fsEventsBackend) run() {
	defer close(b.done)
	for {
		select {
		case req := <-b.control:
			if req.op == opClose {
				b.handleClose(req)
				return
			}
			b.handle(req)
		case ev := <-b.raw:
			b.translate(ev)
		}
	}
}

func (b *fsEventsBackend) handle(req controlRequest) {
	switch req.op {
	case opWatch:
		req.errc <- b.addRoot(req.path, req.mode)
	case opUnwatch:
		req.errc <- b.removeRoot(req.path)
	case opConfigure:
		if err := b.removeRoot(req.path); err != nil {
			req.errc <- err
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

func (b *fsEventsBackend) addRoot(path string, mode RecursiveMode) error {
	if _, exists := b.roots[path]; exists {
		if err := b.removeRoot(path); err != nil {
			return err
		}
	}
	stream := &fsevents.EventStream{
		Paths:   []string{path},
		Latency: fsCoalescingLatency,
		Flags:   fsevents.FileEvents | fsevents.IgnoreSelf,
	}
	stream.Start()
	root := &fsRoot{path: path, mode: mode, stream: stream}
	b.roots[path] = root
	go b.forward(root)
	return nil
}

func (b *fsEventsBackend) removeRoot(path string) error {
	root, ok := b.roots[path]
	if !ok {
		return ErrNonExistentWatch
	}
	delete(b.roots, path)
	root.stream.Stop()
	return nil
}

// forward drains one stream's own delivery channel into the backend's fan-
// in channel until the stream is stopped and its channel is closed.
func (b *fsEventsBackend) forward(root *fsRoot) {
	for batch := range root.stream.Events {
		for _, ev := range batch {
			select {
			case b.raw <- ev:
			case <-b.done:
				return
			}
		}
	}
}

func (b *fsEventsBackend) translate(ev fsevents.Event) {
	root := b.ownerOf(ev.Path)
	if root == nil {
		return
	}
	if root.mode == NonRecursive && filepath.Dir(ev.Path) != filepath.Clean(root.path) && ev.Path != root.path {
		return
	}
	source := EventAttributes{Source: "fsevents"}
	flags := ev.Flags

	switch {
	case flags&fsevents.UserDropped != 0 || flags&fsevents.KernelDropped != 0:
		b.onError(ErrEventOverflow)
		b.onEvent(Event{Kind: KindOther(), Paths: []string{root.path}, Attrs: EventAttributes{Flag: FlagRescan, Source: "fsevents"}})
		return

	case flags&fsevents.ItemRemoved != 0:
		kind := RemoveFile
		if flags&fsevents.ItemIsDir != 0 {
			kind = RemoveFolder
		}
		b.onEvent(Event{Kind: EventKind{major: Remove, remove: kind}, Paths: []string{ev.Path}, Attrs: source})

	case flags&fsevents.ItemCreated != 0:
		kind := CreateFile
		if flags&fsevents.ItemIsDir != 0 {
			kind = CreateFolder
		}
		b.onEvent(Event{Kind: EventKind{major: Create, create: kind}, Paths: []string{ev.Path}, Attrs: source})

	case flags&fsevents.ItemRenamed != 0:
		b.onEvent(Event{Kind: KindModifyName(RenameAny), Paths: []string{ev.Path}, Attrs: source})

	case flags&(fsevents.ItemInodeMetaMod|fsevents.ItemChangeOwner|fsevents.ItemXattrMod|fsevents.ItemFinderInfoMod) != 0:
		b.onEvent(Event{Kind: KindModifyMetadata(MetaAny), Paths: []string{ev.Path}, Attrs: source})

	case flags&fsevents.ItemModified != 0:
		b.onEvent(Event{Kind: KindModifyData(DataContent), Paths: []string{ev.Path}, Attrs: source})

	default:
		b.onEvent(Event{Kind: KindOther(), Paths: []string{ev.Path}, Attrs: source})
	}
}

func (b *fsEventsBackend) ownerOf(path string) *fsRoot {
	for p, r := range b.roots {
		if path == p || strings.HasPrefix(path, p+"/") {
			return r
		}
	}
	return nil
}

func (b *fsEventsBackend) handleClose(req controlRequest) {
	for path := range b.roots {
		_ = b.removeRoot(path)
	}
	req.errc <- nil
}
