package notify

import "time"

// RecursiveMode selects whether a Watch call should also observe a
// directory's descendants. Named after the notify crate's RecursiveMode
// rather than plain "Mode" since this package's Mode type already names
// the read/write/execute qualifier on Access events.
type RecursiveMode uint8

const (
	// NonRecursive watches exactly the given path.
	NonRecursive RecursiveMode = iota
	// Recursive watches the given path and, if it's a directory, every
	// directory beneath it, emulated on backends that have no native
	// recursive primitive.
	Recursive
)

func (m RecursiveMode) String() string {
	if m == Recursive {
		return "recursive"
	}
	return "non-recursive"
}

// WatcherKind identifies which backend produced a Watcher, e.g. for logging
// or for tests that assert the expected backend was selected.
type WatcherKind uint8

const (
	KindInotify WatcherKind = iota
	KindFSEvents
	KindKqueue
	KindWindows
	KindPoll
)

func (k WatcherKind) String() string {
	switch k {
	case KindInotify:
		return "inotify"
	case KindFSEvents:
		return "fsevents"
	case KindKqueue:
		return "kqueue"
	case KindWindows:
		return "windows"
	case KindPoll:
		return "poll"
	default:
		return "unknown"
	}
}

// Config holds the tunables shared across backends. Backends that don't use
// a given field simply ignore it; New does not validate the values.
type Config struct {
	// PollInterval is the tick period for the poll backend. Zero means
	// the backend's default (30s).
	PollInterval time.Duration
	// CompareContents makes the poll backend hash file contents instead
	// of trusting mtime alone when deciding whether data changed.
	CompareContents bool
	// MaxWatches bounds the number of native watch descriptors a backend
	// may hold open at once, with LRU eviction once exceeded. Zero means
	// unbounded.
	MaxWatches int
	// RenameTimeout is how long the inotify backend waits for a
	// MOVED_TO half of a rename before emitting the MOVED_FROM half
	// alone. Zero means the default (10ms).
	RenameTimeout time.Duration
}

// DefaultConfig returns the Config a backend uses when no Options are given.
func DefaultConfig() Config {
	return Config{
		PollInterval:  30 * time.Second,
		RenameTimeout: 10 * time.Millisecond,
	}
}

// Option configures a Watcher at construction time.
type Option func(*Config)

// WithPollInterval sets the poll backend's tick period.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) { c.PollInterval = d }
}

// WithCompareContents enables content hashing in the poll backend.
func WithCompareContents(enabled bool) Option {
	return func(c *Config) { c.CompareContents = enabled }
}

// WithMaxWatches bounds the number of native watch descriptors held open,
// evicting the least-recently-used one (emitting a Rescan event for it) once
// the limit is exceeded.
func WithMaxWatches(n int) Option {
	return func(c *Config) { c.MaxWatches = n }
}

// WithRenameTimeout overrides the inotify rename-pairing timer.
func WithRenameTimeout(d time.Duration) Option {
	return func(c *Config) { c.RenameTimeout = d }
}

// applyOptions folds opts onto DefaultConfig.
func applyOptions(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
