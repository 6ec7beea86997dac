package service

import (
	"sync"
	"time"

	"github.com/vbonduro/checklistsync/internal/checklist"
)

// debouncer holds rapid interactive edits and applies only the latest value
// of each section once edits have been quiet for delay. Nothing is saved:
// applied edits ride along with the next explicit save.
type debouncer struct {
	delay time.Duration
	apply func(id string, s *checklist.Section)

	// flushing is held for a whole flush, so a Flush returns only after
	// edits taken by a concurrent timer flush have been applied.
	flushing sync.Mutex

	mu     sync.Mutex
	staged map[string]*checklist.Section
	order  []string
	timer  *time.Timer
}

func newDebouncer(delay time.Duration, apply func(id string, s *checklist.Section)) *debouncer {
	return &debouncer{delay: delay, apply: apply, staged: make(map[string]*checklist.Section)}
}

func (d *debouncer) Stage(id string, s *checklist.Section) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.staged[id]; !ok {
		d.order = append(d.order, id)
	}
	d.staged[id] = s
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.Flush)
}

// Flush applies every staged edit now, in the order sections were first
// staged.
func (d *debouncer) Flush() {
	d.flushing.Lock()
	defer d.flushing.Unlock()

	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	staged, order := d.staged, d.order
	d.staged = make(map[string]*checklist.Section)
	d.order = nil
	d.mu.Unlock()

	for _, id := range order {
		d.apply(id, staged[id])
	}
}

func (d *debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.staged)
}

func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
