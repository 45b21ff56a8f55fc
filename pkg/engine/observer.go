package engine

import "sort"

// ObserverRegistry maps an unresolved dependency name to the entities
// blocked on it, and owns the work queue of entities due for re-evaluation.
type ObserverRegistry struct {
	waiting map[string]map[string]*Entity
	queue   []*Entity
	queued  map[string]bool
}

// NewObserverRegistry creates an empty registry.
func NewObserverRegistry() *ObserverRegistry {
	return &ObserverRegistry{
		waiting: make(map[string]map[string]*Entity),
		queued:  make(map[string]bool),
	}
}

// AddObserver records that ent is waiting on name.
func (r *ObserverRegistry) AddObserver(ent *Entity, name string) {
	set, ok := r.waiting[name]
	if !ok {
		set = make(map[string]*Entity)
		r.waiting[name] = set
	}
	set[ent.Key] = ent
}

// RemoveObserver removes ent from the waiting set of name, deleting the
// key once the set is empty.
func (r *ObserverRegistry) RemoveObserver(ent *Entity, name string) {
	set, ok := r.waiting[name]
	if !ok {
		return
	}
	delete(set, ent.Key)
	if len(set) == 0 {
		delete(r.waiting, name)
	}
}

// Sync aligns ent's registrations with its latest pass: it is added under
// every currently pending name and removed from names in previous that are
// no longer pending.
func (r *ObserverRegistry) Sync(ent *Entity, previous []string) {
	for _, name := range previous {
		if _, still := ent.Pending[name]; !still {
			r.RemoveObserver(ent, name)
		}
	}
	for name := range ent.Pending {
		r.AddObserver(ent, name)
	}
}

// Notify enqueues every entity waiting on name, in declaration order, and
// returns how many were newly queued.
func (r *ObserverRegistry) Notify(name string) int {
	count := 0
	for _, ent := range r.Waiting(name) {
		if r.queued[ent.Key] || ent.Evaluated() {
			continue
		}
		r.queued[ent.Key] = true
		r.queue = append(r.queue, ent)
		count++
	}
	return count
}

// Next pops the next queued entity.
func (r *ObserverRegistry) Next() (*Entity, bool) {
	if len(r.queue) == 0 {
		return nil, false
	}
	ent := r.queue[0]
	r.queue[0] = nil
	r.queue = r.queue[1:]
	delete(r.queued, ent.Key)
	return ent, true
}

// QueueLen returns the number of entities awaiting re-evaluation.
func (r *ObserverRegistry) QueueLen() int {
	return len(r.queue)
}

// Waiting returns the entities blocked on name, in declaration order.
func (r *ObserverRegistry) Waiting(name string) []*Entity {
	set := r.waiting[name]
	out := make([]*Entity, 0, len(set))
	for _, ent := range set {
		out = append(out, ent)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Names returns every name with at least one waiting entity, sorted.
func (r *ObserverRegistry) Names() []string {
	names := make([]string, 0, len(r.waiting))
	for name := range r.waiting {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Blocked returns the number of distinct entities waiting on anything.
func (r *ObserverRegistry) Blocked() int {
	seen := make(map[string]bool)
	for _, set := range r.waiting {
		for key := range set {
			seen[key] = true
		}
	}
	return len(seen)
}
