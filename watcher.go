package notify

// Capability is the operation set every backend implements: arm or disarm a
// watch on a path, change its mode, report what's currently watched, and
// shut down. All methods are synchronous — each sends a request over the
// backend's internal control channel and waits for the worker thread's
// acknowledgement, so a returned error reflects the actual backend state
// rather than a merely-enqueued intent.
type Capability interface {
	// Watch arms a watch on path with the given mode.
	Watch(path string, mode RecursiveMode) error
	// Unwatch disarms a previously armed watch. It returns
	// ErrNonExistentWatch if path isn't currently watched.
	Unwatch(path string) error
	// Configure changes the mode of an existing watch. It returns
	// ErrNonExistentWatch if path isn't currently watched. The native
	// backends disarm and then rearm the watch, so changes made in between
	// are not reported.
	Configure(path string, mode RecursiveMode) error
	// WatchList returns the paths currently watched and their mode.
	WatchList() map[string]RecursiveMode
	// Kind identifies which backend this is.
	Kind() WatcherKind
	// Close shuts down the worker thread and releases native resources.
	// Once Close has returned, Watch, Unwatch, Configure and Close return
	// ErrClosed and WatchList returns nil.
	Close() error
}

// EventHandler receives classified filesystem events. It's called from the
// backend's single worker goroutine, so it must not block indefinitely and
// must not call back into the same Watcher synchronously (doing so from the
// delivering goroutine would deadlock on the control channel).
type EventHandler func(Event)

// ErrorHandler receives errors the backend can't return synchronously:
// failures mid-stream (an event-queue overflow, an I/O error on a
// descendant during a recursive walk).
type ErrorHandler func(error)

// Watcher is a Capability bound to a pair of handlers, the unit most callers
// construct and hold. The Handlers are invoked from the backend's worker
// goroutine until Close returns.
type Watcher struct {
	Capability
}

// newBackend is implemented once per GOOS-tagged backend file and returns
// the concrete Capability for that platform.
//
// Each backend file defines:
//
//	func newBackend(onEvent EventHandler, onError ErrorHandler, cfg Config) (Capability, error)
//
// selected at compile time by Go's build-tag mechanism, mirroring the
// teacher's per-GOOS NewWatcher functions.

// New constructs a Watcher using the platform's native backend (inotify,
// FSEvents, kqueue or ReadDirectoryChangesW) or, on a GOOS with none of
// those, the portable polling backend.
func New(onEvent EventHandler, onError ErrorHandler, opts ...Option) (*Watcher, error) {
	cfg := applyOptions(opts...)
	if onEvent == nil {
		onEvent = func(Event) {}
	}
	if onError == nil {
		onError = func(error) {}
	}
	backend, err := newBackend(onEvent, onError, cfg)
	if err != nil {
		return nil, err
	}
	return &Watcher{Capability: backend}, nil
}

// NewPoll constructs a Watcher using the portable polling backend
// regardless of platform, for callers that need it explicitly (tests,
// network filesystems where native backends are unreliable).
func NewPoll(onEvent EventHandler, onError ErrorHandler, opts ...Option) (*Watcher, error) {
	cfg := applyOptions(opts...)
	if onEvent == nil {
		onEvent = func(Event) {}
	}
	if onError == nil {
		onError = func(error) {}
	}
	backend, err := newPollOnlyBackend(onEvent, onError, cfg)
	if err != nil {
		return nil, err
	}
	return &Watcher{Capability: backend}, nil
}
