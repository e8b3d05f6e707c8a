package state

import (
	"sync"
	"time"

	"syncdash/internal/model"
)

// Cache holds the last reconciled record per connection id. Writes are whole
// record replacements; readers always see either the previous record or the
// new one, never a mix.
type Cache struct {
	mu      sync.RWMutex
	records map[string]model.SourceConnectionState
}

func NewCache() *Cache {
	return &Cache{
		records: make(map[string]model.SourceConnectionState),
	}
}

func (c *Cache) Get(id string) (model.SourceConnectionState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st, ok := c.records[id]
	if !ok {
		return model.SourceConnectionState{}, false
	}

	return st.Clone(), true
}

func (c *Cache) Set(id string, st model.SourceConnectionState) {
	st.LastUpdated = time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[id] = st.Clone()
}

// Update applies fn to a copy of the current record (zero value if absent)
// and stores the result as a whole-record replacement, all under one lock so
// concurrent updaters cannot interleave read-modify-write cycles. If fn
// returns false the record is left untouched.
func (c *Cache) Update(id string, fn func(st *model.SourceConnectionState) bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.records[id].Clone()
	if !fn(&st) {
		return false
	}

	st.LastUpdated = time.Now()
	c.records[id] = st
	return true
}

func (c *Cache) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.records))
	for id := range c.records {
		ids = append(ids, id)
	}

	return ids
}
