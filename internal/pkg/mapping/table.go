package mapping

import (
	"sort"
	"sync"

	"github.com/gethiox/midmx/internal/pkg/dmx"
)

// Table maps DMX channel index to the midi binding driving it, one binding per channel.
// Table does not persist itself, whoever mutates it is responsible for saving.
type Table struct {
	mutex   sync.RWMutex
	entries map[int]Binding
}

func NewTable() *Table {
	return &Table{entries: make(map[int]Binding)}
}

func (t *Table) Set(channel int, b Binding) error {
	if err := dmx.ValidChannel(channel); err != nil {
		return err
	}
	if err := b.Validate(); err != nil {
		return err
	}
	t.mutex.Lock()
	t.entries[channel] = b
	t.mutex.Unlock()
	return nil
}

func (t *Table) Get(channel int) (Binding, bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	b, ok := t.entries[channel]
	return b, ok
}

// Remove deletes binding of given channel, it reports whether there was one.
func (t *Table) Remove(channel int) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	_, ok := t.entries[channel]
	delete(t.entries, channel)
	return ok
}

func (t *Table) ClearOne(channel int) bool {
	return t.Remove(channel)
}

func (t *Table) Clear() {
	t.mutex.Lock()
	t.entries = make(map[int]Binding)
	t.mutex.Unlock()
}

func (t *Table) Len() int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return len(t.entries)
}

// Snapshot returns a copy of all entries.
func (t *Table) Snapshot() map[int]Binding {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	var c = make(map[int]Binding, len(t.entries))
	for k, v := range t.entries {
		c[k] = v
	}
	return c
}

// Replace swaps whole table content, entries failing validation are skipped and returned.
func (t *Table) Replace(entries map[int]Binding) (rejected []int) {
	var fresh = make(map[int]Binding, len(entries))
	for ch, b := range entries {
		if dmx.ValidChannel(ch) != nil || b.Validate() != nil {
			rejected = append(rejected, ch)
			continue
		}
		fresh[ch] = b
	}
	sort.Ints(rejected)

	t.mutex.Lock()
	t.entries = fresh
	t.mutex.Unlock()
	return rejected
}

// MatchControl returns every DMX channel bound to the given control, in ascending order.
// One control may drive many channels.
func (t *Table) MatchControl(channel, controller uint8) []int {
	t.mutex.RLock()
	var matches []int
	for ch, b := range t.entries {
		if b.MatchesControl(channel, controller) {
			matches = append(matches, ch)
		}
	}
	t.mutex.RUnlock()
	sort.Ints(matches)
	return matches
}
