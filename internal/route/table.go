package route

import (
	"errors"
	"fmt"
	"sync"

	"firestige.xyz/strouter/internal/addr"
	"firestige.xyz/strouter/internal/eventbus"
	"firestige.xyz/strouter/internal/log"
	"firestige.xyz/strouter/internal/metrics"
)

var ErrIndexOutOfRange = errors.New("route index out of range")

// Change actions carried by table events.
const (
	ActionAdd     = "add"
	ActionRemove  = "remove"
	ActionReplace = "replace"
)

// TableEvent is published on eventbus.TopicRouteTable after every change.
type TableEvent struct {
	Action string `json:"action"`
	Index  int    `json:"index"`
	Entry  *Entry `json:"entry,omitempty"`
	Size   int    `json:"size"`
}

// Table is an ordered route list. Lookup is first match in list order, so
// an entry added later loses to an overlapping earlier one.
type Table struct {
	mu      sync.RWMutex
	entries []Entry
	events  eventbus.Publisher
	logger  log.Logger
}

// NewTable returns an empty table. events may be nil.
func NewTable(events eventbus.Publisher) *Table {
	return &Table{
		events: events,
		logger: log.ForComponent("route"),
	}
}

// Add drops any entry with the same destination and netmask, then appends e.
func (t *Table) Add(e Entry) {
	t.mu.Lock()
	kept := t.entries[:0]
	for _, old := range t.entries {
		if old.Destination != e.Destination || old.Netmask != e.Netmask {
			kept = append(kept, old)
		}
	}
	t.entries = append(kept, e)
	index, size := len(t.entries)-1, len(t.entries)
	t.mu.Unlock()

	t.changed(TableEvent{Action: ActionAdd, Index: index, Entry: &e, Size: size})
}

// Remove deletes the entry at index.
func (t *Table) Remove(index int) (Entry, error) {
	t.mu.Lock()
	if index < 0 || index >= len(t.entries) {
		n := len(t.entries)
		t.mu.Unlock()
		return Entry{}, fmt.Errorf("%w: %d (table has %d entries)", ErrIndexOutOfRange, index, n)
	}
	e := t.entries[index]
	t.entries = append(t.entries[:index], t.entries[index+1:]...)
	size := len(t.entries)
	t.mu.Unlock()

	t.changed(TableEvent{Action: ActionRemove, Index: index, Entry: &e, Size: size})
	return e, nil
}

// RemoveMatching deletes the entry with the given destination and netmask.
// The search and the removal happen under one lock.
func (t *Table) RemoveMatching(dest, mask addr.NetworkAddress) (Entry, bool) {
	t.mu.Lock()
	index := t.indexOf(dest, mask)
	if index < 0 {
		t.mu.Unlock()
		return Entry{}, false
	}
	e := t.entries[index]
	t.entries = append(t.entries[:index], t.entries[index+1:]...)
	size := len(t.entries)
	t.mu.Unlock()

	t.changed(TableEvent{Action: ActionRemove, Index: index, Entry: &e, Size: size})
	return e, true
}

func (t *Table) indexOf(dest, mask addr.NetworkAddress) int {
	for i, e := range t.entries {
		if e.Destination == dest && e.Netmask == mask {
			return i
		}
	}
	return -1
}

// Replace swaps the whole table, applying Add semantics to entries in order.
func (t *Table) Replace(entries []Entry) {
	next := make([]Entry, 0, len(entries))
	for _, e := range entries {
		kept := next[:0]
		for _, old := range next {
			if old.Destination != e.Destination || old.Netmask != e.Netmask {
				kept = append(kept, old)
			}
		}
		next = append(kept, e)
	}
	t.mu.Lock()
	t.entries = next
	size := len(next)
	t.mu.Unlock()

	t.changed(TableEvent{Action: ActionReplace, Index: -1, Size: size})
}

// FindMatch returns the first entry whose network contains dst.
func (t *Table) FindMatch(dst addr.NetworkAddress) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, e := range t.entries {
		if e.Matches(dst) {
			return e, true
		}
	}
	return Entry{}, false
}

// Entries returns a copy of the table in lookup order.
func (t *Table) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

func (t *Table) changed(ev TableEvent) {
	metrics.RouteEntries.Set(float64(ev.Size))
	if ev.Entry != nil {
		t.logger.Infof("route %s: %s", ev.Action, ev.Entry)
	} else {
		t.logger.Infof("route table %s: %d entries", ev.Action, ev.Size)
	}
	if t.events == nil {
		return
	}
	key := "table"
	if ev.Entry != nil {
		key = ev.Entry.Destination.String()
	}
	if err := t.events.Publish(&eventbus.Event{Topic: eventbus.TopicRouteTable, Key: key, Payload: ev}); err != nil {
		t.logger.WithError(err).Warn("failed to publish route event")
	}
}
