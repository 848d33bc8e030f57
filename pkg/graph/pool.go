package graph

import "github.com/orneryd/fraudgraph/pkg/store"

// rowPool pools the scratch []store.PayloadNumber slices FindConnected
// allocates once per BFS depth (the "ordered" and "nextFrontier" buffers).
// Adapted from pkg/pool.GetRowSlice/PutRowSlice's get-clear-put convention,
// narrowed to the one slice type this engine actually needs pooled.
type rowPool struct {
	maxSize int
	get_    chan []store.PayloadNumber
}

func newRowPool() *rowPool {
	p := &rowPool{maxSize: 1000, get_: make(chan []store.PayloadNumber, 64)}
	return p
}

// get returns a zero-length payload-number slice, reused from the pool
// when one is available.
func (p *rowPool) get() []store.PayloadNumber {
	select {
	case s := <-p.get_:
		return s[:0]
	default:
		return make([]store.PayloadNumber, 0, 16)
	}
}

// put returns s to the pool for reuse. Oversized slices are dropped so a
// single unusually wide BFS depth doesn't pin a large buffer forever.
func (p *rowPool) put(s []store.PayloadNumber) {
	if cap(s) > p.maxSize {
		return
	}
	select {
	case p.get_ <- s[:0]:
	default:
	}
}
