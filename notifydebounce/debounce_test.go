package notifydebounce

import (
	"testing"
	"time"

	notify "github.com/Wangsimg/untibunti"
)

func newTestDebouncer(window time.Duration) (*Debouncer, *[]notify.Event, *[]error) {
	var batches []notify.Event
	var errs []error
	d := &Debouncer{
		window: window,
		table:  make(map[string]*entry),
		done:   make(chan struct{}),
		onBatch: func(evs []notify.Event) {
			batches = append(batches, evs...)
		},
		onErrors: func(es []error) {
			errs = append(errs, es...)
		},
	}
	return d, &batches, &errs
}

func TestDebouncerQuiescedPathEmitsAny(t *testing.T) {
	d, batches, _ := newTestDebouncer(20 * time.Millisecond)
	d.handleEvent(notify.NewEvent(notify.KindModifyData(notify.DataContent), "/a"))

	// Pretend the quiescence window has already elapsed by backdating the
	// entry directly rather than sleeping in the test.
	d.mu.Lock()
	d.table["/a"].updateTime = time.Now().Add(-30 * time.Millisecond)
	d.mu.Unlock()

	d.flush()

	if len(*batches) != 1 {
		t.Fatalf("expected exactly one flushed event, got %v", *batches)
	}
	if (*batches)[0].Kind != notify.KindAny() {
		t.Errorf("expected KindAny, got %v", (*batches)[0].Kind)
	}
	d.mu.Lock()
	_, stillThere := d.table["/a"]
	d.mu.Unlock()
	if stillThere {
		t.Error("quiesced path should be removed from the table after flush")
	}
}

func TestDebouncerOngoingPathEmitsOngoingFlag(t *testing.T) {
	d, batches, _ := newTestDebouncer(20 * time.Millisecond)
	d.handleEvent(notify.NewEvent(notify.KindModifyData(notify.DataContent), "/busy"))

	// Simulate the path having been tracked since before the window
	// started, but still receiving fresh updates (updateTime == now).
	d.mu.Lock()
	d.table["/busy"].insertTime = time.Now().Add(-30 * time.Millisecond)
	d.mu.Unlock()

	d.flush()

	if len(*batches) != 1 {
		t.Fatalf("expected exactly one flushed event, got %v", *batches)
	}
	if (*batches)[0].Attrs.Flag != notify.FlagOngoing {
		t.Errorf("expected FlagOngoing, got %v", (*batches)[0].Attrs.Flag)
	}
	d.mu.Lock()
	_, stillThere := d.table["/busy"]
	d.mu.Unlock()
	if !stillThere {
		t.Error("a still-updating path must remain tracked after an ongoing flush")
	}
}

func TestDebouncerFreshPathDoesNotFlush(t *testing.T) {
	d, batches, _ := newTestDebouncer(time.Hour)
	d.handleEvent(notify.NewEvent(notify.KindCreateFile(), "/new"))
	d.flush()
	if len(*batches) != 0 {
		t.Fatalf("expected no events flushed for a fresh entry within the window, got %v", *batches)
	}
}

func TestDebouncerErrorsAreBatched(t *testing.T) {
	d, _, errs := newTestDebouncer(time.Hour)
	d.handleError(notify.ErrEventOverflow)
	d.handleError(notify.ErrNonExistentWatch)
	d.flush()
	if len(*errs) != 2 {
		t.Fatalf("expected 2 batched errors, got %v", *errs)
	}
}
