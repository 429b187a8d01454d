package keylock

// Registry is a derived index over the connection table: one map from
// key to the unique owning slot, and one map from key to the
// unordered set of waiter slots. It is updated on every transition the
// protocol handler performs and never makes a transition decision on
// its own — the connection table remains authoritative.
type Registry struct {
	owner   map[Key]int
	waiters map[Key]map[int]struct{}
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		owner:   make(map[Key]int),
		waiters: make(map[Key]map[int]struct{}),
	}
}

// OwnerExists reports whether some slot currently owns key, and if so
// which one.
func (r *Registry) OwnerExists(key Key) (int, bool) {
	idx, ok := r.owner[key]
	return idx, ok
}

// SetOwner records idx as the unique owner of key.
func (r *Registry) SetOwner(key Key, idx int) {
	r.owner[key] = idx
}

// ClearOwner removes key's owner entry, regardless of which slot held it.
func (r *Registry) ClearOwner(key Key) {
	delete(r.owner, key)
}

// AddWaiter enrolls idx as a waiter on key.
func (r *Registry) AddWaiter(key Key, idx int) {
	set, ok := r.waiters[key]
	if !ok {
		set = make(map[int]struct{})
		r.waiters[key] = set
	}
	set[idx] = struct{}{}
}

// RemoveWaiter withdraws idx from key's waiter set, e.g. when a waiting
// connection disconnects before being notified.
func (r *Registry) RemoveWaiter(key Key, idx int) {
	set, ok := r.waiters[key]
	if !ok {
		return
	}
	delete(set, idx)
	if len(set) == 0 {
		delete(r.waiters, key)
	}
}

// WaitersOf enumerates every slot currently waiting on key. Order is
// unspecified and callers must not rely on it.
func (r *Registry) WaitersOf(key Key) []int {
	set, ok := r.waiters[key]
	if !ok {
		return nil
	}
	out := make([]int, 0, len(set))
	for idx := range set {
		out = append(out, idx)
	}
	return out
}

// ClearWaiters drops key's entire waiter set, called once every waiter
// has been notified or dropped.
func (r *Registry) ClearWaiters(key Key) {
	delete(r.waiters, key)
}
