// Package memsys provides slab-style buffer pooling for parcel-sized
// byte buffers.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package memsys_test

import (
	"testing"

	"github.com/nxconn/nxconn/memsys"
)

func TestAllocFreeRoundTrip(t *testing.T) {
	mm := &memsys.MMSA{Name: "test"}
	mm.Init(0)

	b := mm.Alloc(memsys.DefaultBufSize)
	if len(b) != memsys.DefaultBufSize {
		t.Fatalf("got %d bytes, want %d", len(b), memsys.DefaultBufSize)
	}
	mm.Free(b)

	b2 := mm.Alloc(memsys.DefaultBufSize)
	if cap(b2) != cap(b) {
		t.Fatalf("expected pooled buffer reuse, got fresh cap %d vs %d", cap(b2), cap(b))
	}
}

func TestAllocOversize(t *testing.T) {
	mm := memsys.PageMM()
	b := mm.Alloc(memsys.MaxPageSlabSize + 1)
	if len(b) != memsys.MaxPageSlabSize+1 {
		t.Fatalf("got %d bytes", len(b))
	}
}

func TestGetSlabNotFound(t *testing.T) {
	mm := memsys.PageMM()
	if _, err := mm.GetSlab(int64(memsys.MaxPageSlabSize) + 1); err == nil {
		t.Fatal("expected error for oversized slab request")
	}
}
