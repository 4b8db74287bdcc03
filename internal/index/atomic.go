package index

import "sync/atomic"

// atomicSnapshot wraps the build-then-swap pointer so concurrent readers see
// either the old or the new snapshot, never a partially built one.
type atomicSnapshot struct {
	p atomic.Pointer[snapshot]
}

func (a *atomicSnapshot) load() *snapshot {
	return a.p.Load()
}

func (a *atomicSnapshot) store(s *snapshot) {
	a.p.Store(s)
}
