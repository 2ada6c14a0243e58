package persistence

import (
	"slices"
	"sync"
)

type cacheEntry[E Entity] struct {
	entity E
	seq    uint64
}

// identityCache holds at most one live instance per id. It never evicts on
// its own: entries leave only through delete or the post-batch-save
// eviction.
type identityCache[E Entity] struct {
	mu      sync.Mutex
	entries map[string]cacheEntry[E]
	seq     uint64
}

func newIdentityCache[E Entity]() *identityCache[E] {
	return &identityCache[E]{entries: make(map[string]cacheEntry[E])}
}

func (c *identityCache[E]) get(id string) (E, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ent, ok := c.entries[id]
	return ent.entity, ok
}

// loadOrStore returns the live instance for id when one exists, otherwise it
// stores e.
func (c *identityCache[E]) loadOrStore(id string, e E) (E, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ent, ok := c.entries[id]; ok {
		return ent.entity, true
	}
	c.seq++
	c.entries[id] = cacheEntry[E]{entity: e, seq: c.seq}
	return e, false
}

// holds reports whether e itself (not merely its id) is the live instance.
func (c *identityCache[E]) holds(e E) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ent, ok := c.entries[e.record().id]
	return ok && ent.entity.record() == e.record()
}

// remove evicts e if it is the live instance for its id.
func (c *identityCache[E]) remove(e E) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := e.record().id
	ent, ok := c.entries[id]
	if !ok || ent.entity.record() != e.record() {
		return false
	}
	delete(c.entries, id)
	return true
}

func (c *identityCache[E]) removeID(id string) (E, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ent, ok := c.entries[id]
	if ok {
		delete(c.entries, id)
	}
	return ent.entity, ok
}

// clear empties the cache and returns what it held.
func (c *identityCache[E]) clear() []E {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]cacheEntry[E])
	c.mu.Unlock()
	return sortedEntities(entries, nil)
}

// snapshot returns live instances in insertion order, optionally filtered.
func (c *identityCache[E]) snapshot(keep func(E) bool) []E {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedEntities(c.entries, keep)
}

func (c *identityCache[E]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func sortedEntities[E Entity](entries map[string]cacheEntry[E], keep func(E) bool) []E {
	sel := make([]cacheEntry[E], 0, len(entries))
	for _, ent := range entries {
		if keep == nil || keep(ent.entity) {
			sel = append(sel, ent)
		}
	}
	slices.SortFunc(sel, func(a, b cacheEntry[E]) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	out := make([]E, len(sel))
	for i, ent := range sel {
		out[i] = ent.entity
	}
	return out
}
