package pipeline

import "sync/atomic"

// refCount is the bespoke intrusive atomic counter every pooled message and
// buffer embeds, per DESIGN NOTES §9: a general shared-ownership primitive
// (e.g. a GC finalizer or a third-party refcount type) isn't right here,
// because the count is followed by a variant-specific clear() that must
// not allocate and must return the cell to its own pool, not a generic one.
type refCount struct {
	n      int32
	onZero func()
}

// init (re-)arms a cell pulled fresh from a pool with a single reference.
func (r *refCount) init(onZero func()) {
	atomic.StoreInt32(&r.n, 1)
	r.onZero = onZero
}

// AddRef adds one reference. Callers must already hold a reference.
func (r *refCount) AddRef() {
	atomic.AddInt32(&r.n, 1)
}

// RemoveRef releases one reference, invoking onZero exactly once when the
// count reaches zero.
func (r *refCount) RemoveRef() {
	if atomic.AddInt32(&r.n, -1) == 0 {
		r.onZero()
	}
}

// refs reports the current reference count. For tests/diagnostics only.
func (r *refCount) refs() int32 {
	return atomic.LoadInt32(&r.n)
}
