package main

import (
	"sync"
)

// Diff lists the SSIDs touched by one reconciliation pass.
type Diff struct {
	Added   []string
	Updated []string
	Removed []string
}

// Empty reports whether the pass created or destroyed nothing.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// Registry is the live set of access points. The engine loop is its only
// writer; readers get copies and always see a whole pass or none of it.
type Registry struct {
	mu      sync.RWMutex
	entries []*AccessPoint
	index   map[string]*AccessPoint
}

func NewRegistry() *Registry {
	return &Registry{index: make(map[string]*AccessPoint)}
}

// Reconcile replaces the registry contents with snapshot, which must already
// be deduplicated. Existing entries are updated in place, missing ones are
// dropped and new ones are appended in snapshot order.
func (r *Registry) Reconcile(snapshot []scanRecord) Diff {
	fresh := make(map[string]scanRecord, len(snapshot))
	for _, rec := range snapshot {
		fresh[rec.SSID] = rec
	}

	// Plan the pass against the current contents before taking the write
	// lock. Only the engine loop calls Reconcile, so entries cannot move
	// underneath us.
	r.mu.RLock()
	var diff Diff
	kept := make([]*AccessPoint, 0, len(snapshot))
	for _, ap := range r.entries {
		if _, ok := fresh[ap.SSID]; ok {
			kept = append(kept, ap)
			diff.Updated = append(diff.Updated, ap.SSID)
		} else {
			diff.Removed = append(diff.Removed, ap.SSID)
		}
	}
	var added []*AccessPoint
	for _, rec := range snapshot {
		if _, ok := r.index[rec.SSID]; ok {
			continue
		}
		if _, ok := fresh[rec.SSID]; !ok {
			// A repeated SSID whose entry was already created.
			continue
		}
		ap := fresh[rec.SSID].accessPoint()
		delete(fresh, rec.SSID)
		added = append(added, &ap)
		diff.Added = append(diff.Added, rec.SSID)
	}
	r.mu.RUnlock()

	entries := append(kept, added...)
	index := make(map[string]*AccessPoint, len(entries))
	for _, ap := range entries {
		index[ap.SSID] = ap
	}

	r.mu.Lock()
	for _, ap := range kept {
		*ap = fresh[ap.SSID].accessPoint()
	}
	r.entries = entries
	r.index = index
	r.mu.Unlock()

	return diff
}

// Snapshot returns a copy of every entry in registry order.
func (r *Registry) Snapshot() []AccessPoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AccessPoint, len(r.entries))
	for i, ap := range r.entries {
		out[i] = *ap
	}
	return out
}

// Lookup returns a copy of the entry for ssid.
func (r *Registry) Lookup(ssid string) (AccessPoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ap, ok := r.index[ssid]
	if !ok {
		return AccessPoint{}, false
	}
	return *ap, true
}

// Active returns the network currently associated with, if any.
func (r *Registry) Active() (AccessPoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ap := range r.entries {
		if ap.Active {
			return *ap, true
		}
	}
	return AccessPoint{}, false
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// handle exposes the owned entry for ssid. Tests use it to check identity
// across passes.
func (r *Registry) handle(ssid string) *AccessPoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.index[ssid]
}
