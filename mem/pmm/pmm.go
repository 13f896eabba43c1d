// Package pmm defines the physical frame allocator contract shared by the
// bump and buddy allocators in mem/pmm/allocator.
package pmm

import (
	"rmm/kernel"
	"rmm/mem"
)

// FrameAllocator hands out and reclaims physical page frames. Every
// implementation in this module is single-threaded; callers serialize their
// own access (SPEC_FULL.md §5).
type FrameAllocator interface {
	// Allocate returns the base address of count contiguous frames, or a
	// non-nil error paired with the zero address on exhaustion.
	Allocate(count mem.FrameCount) (mem.PhysicalAddress, *kernel.Error)
	// Free returns count frames starting at base to the allocator.
	Free(base mem.PhysicalAddress, count mem.FrameCount) *kernel.Error
	// Usage reports the allocator's current used/total frame counts.
	Usage() mem.FrameUsage
}

// AllocateOne and FreeOne are the count-of-one convenience wrappers every
// FrameAllocator gets for free, mirroring original_source's
// FrameAllocator::allocate_one/free_one default trait methods
// (src/allocator/frame/mod.rs) rather than making every implementation
// repeat the same one-line forwarding call.
func AllocateOne(a FrameAllocator) (mem.PhysicalAddress, *kernel.Error) {
	return a.Allocate(1)
}

// FreeOne returns exactly one frame.
func FreeOne(a FrameAllocator, base mem.PhysicalAddress) *kernel.Error {
	return a.Free(base, 1)
}
