// Package atomic provides typed atomic primitives with the method names
// (compare-and-swap spelled "CAS") that the rest of this module's
// packages are written against.
package atomic

import uatomic "go.uber.org/atomic"

type (
	Bool   struct{ v uatomic.Bool }
	Int32  struct{ v uatomic.Int32 }
	Int64  struct{ v uatomic.Int64 }
	Uint32 struct{ v uatomic.Uint32 }
	Uint64 struct{ v uatomic.Uint64 }
)

func (b *Bool) Load() bool          { return b.v.Load() }
func (b *Bool) Store(val bool)      { b.v.Store(val) }
func (b *Bool) Swap(val bool) bool  { return b.v.Swap(val) }
func (b *Bool) CAS(old, new bool) bool {
	return b.v.CompareAndSwap(old, new)
}

func (i *Int32) Load() int32         { return i.v.Load() }
func (i *Int32) Store(val int32)     { i.v.Store(val) }
func (i *Int32) Add(delta int32) int32 { return i.v.Add(delta) }
func (i *Int32) Swap(val int32) int32  { return i.v.Swap(val) }
func (i *Int32) CAS(old, new int32) bool {
	return i.v.CompareAndSwap(old, new)
}

func (i *Int64) Load() int64           { return i.v.Load() }
func (i *Int64) Store(val int64)       { i.v.Store(val) }
func (i *Int64) Add(delta int64) int64 { return i.v.Add(delta) }
func (i *Int64) Swap(val int64) int64  { return i.v.Swap(val) }
func (i *Int64) CAS(old, new int64) bool {
	return i.v.CompareAndSwap(old, new)
}

func (u *Uint32) Load() uint32           { return u.v.Load() }
func (u *Uint32) Store(val uint32)       { u.v.Store(val) }
func (u *Uint32) Add(delta uint32) uint32 { return u.v.Add(delta) }
func (u *Uint32) Swap(val uint32) uint32  { return u.v.Swap(val) }
func (u *Uint32) CAS(old, new uint32) bool {
	return u.v.CompareAndSwap(old, new)
}

func (u *Uint64) Load() uint64           { return u.v.Load() }
func (u *Uint64) Store(val uint64)       { u.v.Store(val) }
func (u *Uint64) Add(delta uint64) uint64 { return u.v.Add(delta) }
func (u *Uint64) Swap(val uint64) uint64  { return u.v.Swap(val) }
func (u *Uint64) CAS(old, new uint64) bool {
	return u.v.CompareAndSwap(old, new)
}
