// SPDX-License-Identifier: MIT

package wire

import (
	"sync"
	"sync/atomic"
)

// bufScratchSize holds 128 point records (RecordSize bytes each) before a
// Put-back buffer needs to grow again.
const bufScratchSize = 8192

// bufPool is a type-safe wrapper around sync.Pool, specialized for
// managing *[]byte scratch buffers used by MarshalRecords.
//
// It reuses buffer memory across boundary sends and tracks statistics on
// allocations and active use for debugging and performance tuning.
type bufPool struct {
	sync.Pool

	totalAllocated atomic.Int64 // total number of buffers ever allocated
	currentLive    atomic.Int64 // number of buffers currently checked out
}

func newBufPool() *bufPool {
	p := &bufPool{}
	p.New = func() any {
		p.totalAllocated.Add(1)
		buf := make([]byte, 0, bufScratchSize)
		return &buf
	}
	return p
}

// Get retrieves a *[]byte from the pool, or allocates one if needed. The
// returned slice has length 0 and at least bufScratchSize capacity.
func (p *bufPool) Get() *[]byte {
	if p == nil {
		buf := make([]byte, 0, bufScratchSize)
		return &buf
	}
	p.currentLive.Add(1)
	buf := p.Pool.Get().(*[]byte)
	*buf = (*buf)[:0]
	return buf
}

// Put returns a buffer to the pool for reuse. If the pool is nil, the
// buffer is discarded.
func (p *bufPool) Put(buf *[]byte) {
	if p == nil {
		return
	}
	p.currentLive.Add(-1)
	p.Pool.Put(buf)
}

// Stats returns the number of currently live (checked-out) buffers and
// the total number of buffers ever allocated by this pool.
func (p *bufPool) Stats() (live int64, total int64) {
	if p == nil {
		return 0, 0
	}
	return p.currentLive.Load(), p.totalAllocated.Load()
}

// Pool is the package-level scratch buffer pool MarshalRecords draws
// from. Compression and decompression allocate their buffers directly.
var Pool = newBufPool()
