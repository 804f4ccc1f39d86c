// Package memsys provides slab-style buffer pooling for parcel-sized
// byte buffers, trimmed from the teacher's full scatter-gather-list
// memory manager down to what the send scheduler and parcel codec
// actually need: reusable, page-multiple buffers with no per-allocation
// garbage.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

import (
	"sync"

	"github.com/nxconn/nxconn/cmn/atomic"
	"github.com/nxconn/nxconn/cmn/cos"
)

const (
	PageSize       = 4 * cos.KiB
	DefaultBufSize = 32 * cos.KiB
	MaxPageSlabSize = 256 * cos.KiB // == spec's transmission-parcel-size upper bound

	// NumPageSlabs is the number of distinct pool buckets, one per
	// PageSize multiple up to MaxPageSlabSize.
	NumPageSlabs = MaxPageSlabSize / PageSize
)

type (
	// Slab is one fixed-size pool bucket.
	Slab struct {
		pool sync.Pool
		size int
		hits atomic.Int64
	}

	// MMSA ("memory manager, slab allocator") is a named collection of
	// slabs. One process-wide instance (PageMM) backs transport buffers;
	// tests may create private instances to keep pool state isolated.
	MMSA struct {
		Name  string
		slabs [NumPageSlabs]*Slab
		once  sync.Once
	}

	Stats struct {
		Hits [NumPageSlabs]int64
	}
)

func (s *Slab) Size() int  { return s.size }
func (s *Slab) Tag() string { return cos.ToSizeIEC(int64(s.size), 0) }

func (s *Slab) alloc() []byte {
	s.hits.Add(1)
	if v := s.pool.Get(); v != nil {
		b := v.([]byte)
		return b[:cap(b)]
	}
	return make([]byte, s.size)
}

func (s *Slab) free(b []byte) { s.pool.Put(b) } //nolint:staticcheck // pool of []byte, not *T

func (m *MMSA) init() {
	m.once.Do(func() {
		for i := range m.slabs {
			m.slabs[i] = &Slab{size: (i + 1) * PageSize}
		}
	})
}

// Init is a no-op kept for symmetry with the teacher's MMSA.Init(debug
// int) signature; slabs lazily initialize on first use.
func (m *MMSA) Init(int) { m.init() }

// slabFor returns the smallest slab whose size is >= requested size, or
// nil if size exceeds MaxPageSlabSize (caller must allocate directly).
func (m *MMSA) slabFor(size int) *Slab {
	m.init()
	idx := (size + PageSize - 1) / PageSize
	if idx < 1 {
		idx = 1
	}
	if idx > NumPageSlabs {
		return nil
	}
	return m.slabs[idx-1]
}

// Alloc returns a buffer of at least size bytes, reused from the
// matching slab's pool when possible.
func (m *MMSA) Alloc(size int) []byte {
	if slab := m.slabFor(size); slab != nil {
		return slab.alloc()[:size]
	}
	return make([]byte, size)
}

// Free returns b to its slab's pool. Buffers not originally sized to a
// slab boundary (cap(b) % PageSize != 0) are simply dropped.
func (m *MMSA) Free(b []byte) {
	if b == nil {
		return
	}
	c := cap(b)
	if c == 0 || c%PageSize != 0 {
		return
	}
	idx := c / PageSize
	if idx < 1 || idx > NumPageSlabs {
		return
	}
	m.init()
	m.slabs[idx-1].free(b[:c])
}

// GetSlab returns the slab that would serve an allocation of the given
// size, for diagnostics (matches the teacher's GetSlab(size) shape).
func (m *MMSA) GetSlab(size int64) (*Slab, error) {
	m.init()
	slab := m.slabFor(int(size))
	if slab == nil {
		return nil, cos.NewErrNotFound("slab for size %d", size)
	}
	return slab, nil
}

func (m *MMSA) GetStats() (st Stats) {
	m.init()
	for i, s := range m.slabs {
		st.Hits[i] = s.hits.Load()
	}
	return
}

var (
	pagemm     *MMSA
	pagemmOnce sync.Once
)

// PageMM returns the process-wide MMSA instance used by the send
// scheduler, the parcel codec, and the file aggregator for chunk
// buffers.
func PageMM() *MMSA {
	pagemmOnce.Do(func() { pagemm = &MMSA{Name: "page-mm"} })
	return pagemm
}
