package tracking

import (
	"slices"
	"sync"

	"github.com/pkg/errors"
)

var ErrLoadFull = errors.New("too many tracking sessions for load")

// ActiveLoad is one row of the registry listing.
type ActiveLoad struct {
	LoadID       string   `json:"loadId"`
	SessionCount int      `json:"sessionCount"`
	CarrierIDs   []string `json:"carrierIds"`
}

// Registry holds the live sessions of this process grouped by load.
// The map lock is held only to find or drop an entry; session sets are
// guarded by the entry's own lock so unrelated loads never contend.
type Registry struct {
	mu         sync.RWMutex
	loads      map[string]*loadEntry
	maxPerLoad int
}

type loadEntry struct {
	mu       sync.Mutex
	sessions map[string]string // session id -> carrier id
	removed  bool
}

// NewRegistry returns an empty registry. maxPerLoad <= 0 means unlimited.
func NewRegistry(maxPerLoad int) *Registry {
	return &Registry{loads: map[string]*loadEntry{}, maxPerLoad: maxPerLoad}
}

func (r *Registry) entry(loadID string, create bool) *loadEntry {
	r.mu.RLock()
	e := r.loads[loadID]
	r.mu.RUnlock()
	if e != nil || !create {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e = r.loads[loadID]; e == nil {
		e = &loadEntry{sessions: map[string]string{}}
		r.loads[loadID] = e
	}
	return e
}

func (r *Registry) Add(loadID, sessionID, carrierID string) error {
	for {
		e := r.entry(loadID, true)
		e.mu.Lock()
		if e.removed {
			// lost to the last Remove of this load; pick up the new entry
			e.mu.Unlock()
			continue
		}
		if _, ok := e.sessions[sessionID]; !ok && r.maxPerLoad > 0 && len(e.sessions) >= r.maxPerLoad {
			e.mu.Unlock()
			return ErrLoadFull
		}
		e.sessions[sessionID] = carrierID
		e.mu.Unlock()
		return nil
	}
}

// Remove drops a session; the load's entry goes away with its last session.
func (r *Registry) Remove(loadID, sessionID string) {
	e := r.entry(loadID, false)
	if e == nil {
		return
	}
	e.mu.Lock()
	delete(e.sessions, sessionID)
	empty := len(e.sessions) == 0
	if empty {
		e.removed = true
	}
	e.mu.Unlock()
	if !empty {
		return
	}

	r.mu.Lock()
	if r.loads[loadID] == e {
		delete(r.loads, loadID)
	}
	r.mu.Unlock()
}

func (r *Registry) Count(loadID string) int {
	e := r.entry(loadID, false)
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// Snapshot lists loads with at least one session, ordered by load id.
func (r *Registry) Snapshot() []ActiveLoad {
	r.mu.RLock()
	ids := make([]string, 0, len(r.loads))
	entries := make(map[string]*loadEntry, len(r.loads))
	for id, e := range r.loads {
		ids = append(ids, id)
		entries[id] = e
	}
	r.mu.RUnlock()
	slices.Sort(ids)

	out := make([]ActiveLoad, 0, len(ids))
	for _, id := range ids {
		e := entries[id]
		e.mu.Lock()
		if e.removed || len(e.sessions) == 0 {
			e.mu.Unlock()
			continue
		}
		al := ActiveLoad{LoadID: id, SessionCount: len(e.sessions)}
		for _, c := range e.sessions {
			al.CarrierIDs = append(al.CarrierIDs, c)
		}
		e.mu.Unlock()

		slices.Sort(al.CarrierIDs)
		al.CarrierIDs = slices.Compact(al.CarrierIDs)
		out = append(out, al)
	}
	return out
}
