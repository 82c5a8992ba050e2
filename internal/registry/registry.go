// Package registry holds the set of views the engine knows how to compute,
// keyed by ViewID. It is read far more often (every refresh tick, every
// subscribe) than it is written (AddViews at startup or during a rolling
// deploy), so reads never take a lock: the live view map is an immutable
// snapshot swapped via atomic.Pointer.
package registry

import (
	"sync/atomic"

	"github.com/coachpo/viewhub/internal/schema"
	"github.com/coachpo/viewhub/internal/verrs"
)

// Registry is a lock-free-read store of Views keyed by ViewID.
type Registry[N comparable] struct {
	views atomic.Pointer[map[schema.ViewID]schema.View[N]]
}

// New constructs an empty registry.
func New[N comparable]() *Registry[N] {
	r := new(Registry[N])
	empty := map[schema.ViewID]schema.View[N]{}
	r.views.Store(&empty)
	return r
}

// Add registers the given views, replacing any existing view with the same
// ID. Add is safe for concurrent use and serializes with other Add calls via
// compare-and-swap retry rather than a mutex, consistent with the registry's
// read-mostly design.
func (r *Registry[N]) Add(views ...schema.View[N]) error {
	if len(views) == 0 {
		return nil
	}
	for _, v := range views {
		if v == nil {
			return verrs.New("registry/add", verrs.CodeInvalid, verrs.WithMessage("view must not be nil"))
		}
		if v.ID() == "" {
			return verrs.New("registry/add", verrs.CodeInvalid, verrs.WithMessage("view id must not be empty"))
		}
	}

	for {
		old := r.views.Load()
		next := make(map[schema.ViewID]schema.View[N], len(*old)+len(views))
		for id, v := range *old {
			next[id] = v
		}
		for _, v := range views {
			next[v.ID()] = v
		}
		if r.views.CompareAndSwap(old, &next) {
			return nil
		}
	}
}

// Get returns the view registered under id, or false if no such view
// exists.
func (r *Registry[N]) Get(id schema.ViewID) (schema.View[N], bool) {
	m := *r.views.Load()
	v, ok := m[id]
	return v, ok
}

// Len returns the number of registered views.
func (r *Registry[N]) Len() int {
	return len(*r.views.Load())
}
