// Cuckoo-filter-accelerated retired-object-id check (SPEC_FULL.md §2/
// §11): a fast-path negative-membership test in front of the exact
// retired-id set each Connection keeps (spec §3/§5). Cuckoo filters have
// no false negatives, so "definitely not retired" short-circuits the
// common case; a positive still falls through to the exact map, so
// correctness (spec invariant 4) never depends on the filter.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"encoding/binary"
	"sync"

	cuckoo "github.com/seiflotfy/cuckoofilter"
)

const cuckooCapacity = 1 << 16

type cuckooGuard struct {
	mu sync.Mutex
	f  *cuckoo.Filter
}

func newCuckooGuard() *cuckooGuard {
	return &cuckooGuard{f: cuckoo.NewFilter(cuckooCapacity)}
}

func idKey(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

func (g *cuckooGuard) insert(id uint64) {
	g.mu.Lock()
	g.f.Insert(idKey(id))
	g.mu.Unlock()
}

func (g *cuckooGuard) mightContain(id uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.f.Lookup(idKey(id))
}
