// Package registry tracks low-rank adapters loaded into the shared pipeline
// and scans the local adapter cache.
package registry

import (
	"sort"
	"sync"
	"time"
)

// AdapterRecord describes one adapter whose weights are loaded in the pipeline.
type AdapterRecord struct {
	AdapterID string
	// SourceKey is the storage key the weights came from.
	SourceKey string
	// Name is the adapter name inside the pipeline (lora_{id}).
	Name      string
	LocalPath string
	Attached  bool
	LoadedAt  time.Time
	LastUsed  time.Time
}

// Adapters maps adapter id to record. An id is present iff its weights are
// loaded in the pipeline; Attached toggles without reloading. At most one set
// of adapters is attached at a time (SetActive replaces it). Reads return copies.
type Adapters struct {
	mu      sync.RWMutex
	records map[string]AdapterRecord
}

func NewAdapters() *Adapters {
	return &Adapters{records: make(map[string]AdapterRecord)}
}

func (a *Adapters) Get(id string) (AdapterRecord, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.records[id]
	return r, ok
}

func (a *Adapters) Contains(id string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.records[id]
	return ok
}

// Put inserts or replaces rec.
func (a *Adapters) Put(rec AdapterRecord) {
	a.mu.Lock()
	a.records[rec.AdapterID] = rec
	a.mu.Unlock()
}

// Remove drops id and reports whether it was present.
func (a *Adapters) Remove(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.records[id]
	delete(a.records, id)
	return ok
}

// Clear drops every record and returns what was removed.
func (a *Adapters) Clear() []AdapterRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]AdapterRecord, 0, len(a.records))
	for _, r := range a.records {
		out = append(out, r)
	}
	a.records = make(map[string]AdapterRecord)
	sortRecords(out)
	return out
}

// SetActive marks exactly ids as attached and every other record detached.
// Unknown ids are ignored.
func (a *Adapters) SetActive(ids ...string) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, r := range a.records {
		r.Attached = want[id]
		a.records[id] = r
	}
}

// Active returns the ids currently attached, sorted.
func (a *Adapters) Active() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []string
	for id, r := range a.records {
		if r.Attached {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// List returns all records sorted by id.
func (a *Adapters) List() []AdapterRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]AdapterRecord, 0, len(a.records))
	for _, r := range a.records {
		out = append(out, r)
	}
	sortRecords(out)
	return out
}

func (a *Adapters) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.records)
}

// Touch updates LastUsed for id.
func (a *Adapters) Touch(id string, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if r, ok := a.records[id]; ok {
		r.LastUsed = at
		a.records[id] = r
	}
}

// LRUInactive returns detached records, least recently used first. Ids in
// keep are never returned.
func (a *Adapters) LRUInactive(keep ...string) []AdapterRecord {
	skip := make(map[string]bool, len(keep))
	for _, id := range keep {
		skip[id] = true
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []AdapterRecord
	for id, r := range a.records {
		if r.Attached || skip[id] {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastUsed.Equal(out[j].LastUsed) {
			return out[i].AdapterID < out[j].AdapterID
		}
		return out[i].LastUsed.Before(out[j].LastUsed)
	})
	return out
}

func sortRecords(rs []AdapterRecord) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].AdapterID < rs[j].AdapterID })
}
