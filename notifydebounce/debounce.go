// Package notifydebounce coalesces the raw per-change events from a
// notify.Watcher into stable per-path summaries, collapsing any burst of
// activity on a path into a single Any event once it quiesces, and
// emitting Any with FlagOngoing on every tick for a path that keeps
// changing past the window.
package notifydebounce

import (
	"sync"
	"time"

	notify "github.com/Wangsimg/untibunti"
)

// Handler receives one tick's worth of debounced events.
type Handler func([]notify.Event)

// ErrorHandler receives one tick's worth of errors the wrapped Watcher
// reported, batched the same way events are.
type ErrorHandler func([]error)

type entry struct {
	insertTime time.Time
	updateTime time.Time
}

// Debouncer wraps a notify.Watcher, replacing its raw event stream with a
// coalesced one delivered on a fixed tick.
type Debouncer struct {
	watcher  *notify.Watcher
	window   time.Duration
	onBatch  Handler
	onErrors ErrorHandler

	mu    sync.Mutex
	table map[string]*entry
	errs  []error

	done chan struct{}
	stop sync.Once
}

// New builds a Debouncer with the given quiescence window, constructing its
// own underlying Watcher with opts. tick is the polling granularity the
// flush thread wakes at; a path that keeps changing for longer than window
// reports Any with FlagOngoing on every tick until it quiesces. tick must be
// no larger than window; zero defaults it to window itself.
func New(window, tick time.Duration, onBatch Handler, onErrors ErrorHandler, opts ...notify.Option) (*Debouncer, error) {
	if tick <= 0 {
		tick = window
	}
	d := &Debouncer{
		window: window,
		table:  make(map[string]*entry),
		done:   make(chan struct{}),
	}
	d.onBatch = onBatch
	d.onErrors = onErrors

	w, err := notify.New(d.handleEvent, d.handleError, opts...)
	if err != nil {
		return nil, err
	}
	d.watcher = w
	go d.run(tick)
	return d, nil
}

// Watch, Unwatch, Configure and WatchList proxy directly to the underlying
// Watcher; only its event stream is replaced.
func (d *Debouncer) Watch(path string, mode notify.RecursiveMode) error {
	return d.watcher.Watch(path, mode)
}

func (d *Debouncer) Unwatch(path string) error { return d.watcher.Unwatch(path) }

func (d *Debouncer) Configure(path string, mode notify.RecursiveMode) error {
	return d.watcher.Configure(path, mode)
}

func (d *Debouncer) WatchList() map[string]notify.RecursiveMode { return d.watcher.WatchList() }

// Close stops the tick goroutine and the underlying Watcher. Any events
// still pending quiescence are dropped, not flushed, since the caller is
// tearing down.
func (d *Debouncer) Close() error {
	d.stop.Do(func() { close(d.done) })
	return d.watcher.Close()
}

func (d *Debouncer) handleEvent(ev notify.Event) {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range ev.Paths {
		e, ok := d.table[p]
		if !ok {
			d.table[p] = &entry{insertTime: now, updateTime: now}
			continue
		}
		e.updateTime = now
	}
}

func (d *Debouncer) handleError(err error) {
	d.mu.Lock()
	d.errs = append(d.errs, err)
	d.mu.Unlock()
}

func (d *Debouncer) run(tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.flush()
		case <-d.done:
			return
		}
	}
}

// flush scans the table once: a path whose last update predates the
// window has quiesced and is reported as Any, then forgotten; a path still
// being updated but tracked since before the window started is reported as
// Any with FlagOngoing and stays in the table, so it reports again on every
// subsequent tick while it keeps changing.
func (d *Debouncer) flush() {
	now := time.Now()
	d.mu.Lock()
	var batch []notify.Event
	for p, e := range d.table {
		switch {
		case now.Sub(e.updateTime) >= d.window:
			batch = append(batch, notify.NewEvent(notify.KindAny(), p))
			delete(d.table, p)
		case now.Sub(e.insertTime) >= d.window:
			batch = append(batch, notify.Event{
				Kind:  notify.KindAny(),
				Paths: []string{p},
				Attrs: notify.EventAttributes{Flag: notify.FlagOngoing},
			})
		}
	}
	errs := d.errs
	d.errs = nil
	d.mu.Unlock()

	if len(batch) > 0 && d.onBatch != nil {
		d.onBatch(batch)
	}
	if len(errs) > 0 && d.onErrors != nil {
		d.onErrors(errs)
	}
}
