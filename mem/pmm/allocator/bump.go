// Package allocator provides the bump and buddy frame allocators described
// in SPEC_FULL.md §4.2 and §4.3.
package allocator

import (
	"rmm/kernel"
	"rmm/mem"
	"rmm/mem/arch"
)

var (
	errBumpExhausted      = &kernel.Error{Module: "pmm/bump", Message: "current area cannot satisfy the requested run"}
	errBumpMultiFrame     = &kernel.Error{Module: "pmm/bump", Message: "bump allocator only supports single-frame allocations"}
	errBumpFreeUnsupported = &kernel.Error{Module: "pmm/bump", Message: "bump allocator does not support freeing"}
)

// BumpAllocator is a monotonic cursor across a static list of memory areas.
// It is the only allocator usable before any frame metadata exists, since
// it needs none of its own: it is used both to bootstrap BuddyAllocator and,
// optionally, as the frame source for the very first PageMapper so the
// initial linear-map pages live inside the regions they describe.
type BumpAllocator struct {
	arch   arch.Arch
	areas  []mem.MemoryArea
	offset uint64
}

// NewBumpAllocator keeps a reference to areas (the caller's boot-supplied,
// immutable region list) and sets the cursor to initialOffset.
func NewBumpAllocator(a arch.Arch, areas []mem.MemoryArea, initialOffset uint64) *BumpAllocator {
	return &BumpAllocator{arch: a, areas: areas, offset: initialOffset}
}

// Areas returns the region list this allocator was constructed over.
func (b *BumpAllocator) Areas() []mem.MemoryArea { return b.areas }

// Offset returns the current cursor position, the total number of bytes
// consumed across the concatenation of areas in list order.
func (b *BumpAllocator) Offset() uint64 { return b.offset }

func (b *BumpAllocator) totalSize() uint64 {
	var sum uint64
	for _, a := range b.areas {
		sum += a.Size
	}
	return sum
}

// Allocate finds the area the cursor currently points into and, if that
// area can satisfy count frames contiguously from the current position,
// zeroes and returns them. Only count == 1 is supported — original_source's
// bump.rs leaves multi-frame bump allocation unimplemented, and this
// allocator exists only to get the system far enough to build Buddy, which
// is the allocator SPEC_FULL.md's open question (a) names as the only path
// that supports runs.
func (b *BumpAllocator) Allocate(count mem.FrameCount) (mem.PhysicalAddress, *kernel.Error) {
	if count != 1 {
		return 0, errBumpMultiFrame
	}

	need := uint64(count) * mem.PageSize
	var cum uint64
	for _, area := range b.areas {
		if b.offset < cum+area.Size {
			areaOffset := b.offset - cum
			if areaOffset+need > area.Size {
				return 0, errBumpExhausted
			}

			base := area.Base.Add(areaOffset)
			v := b.arch.PhysToVirt(base)
			if err := b.arch.WriteBytes(v, 0, need); err != nil {
				return 0, err
			}

			b.offset += need
			return base, nil
		}
		cum += area.Size
	}

	return 0, errBumpExhausted
}

// Free is forbidden: the bump allocator keeps no metadata that would let it
// recognize a freed frame. Calling it is an invariant violation, not a
// recoverable error.
func (b *BumpAllocator) Free(mem.PhysicalAddress, mem.FrameCount) *kernel.Error {
	kernel.Panic(errBumpFreeUnsupported)
	return errBumpFreeUnsupported
}

// Usage is derived from the cursor and the total area size.
func (b *BumpAllocator) Usage() mem.FrameUsage {
	return mem.FrameUsage{
		Used:  mem.FrameCount(b.offset / mem.PageSize),
		Total: mem.FrameCount(b.totalSize() / mem.PageSize),
	}
}
