package vmm

import (
	"rmm/mem"
	"rmm/mem/arch"
)

// Flusher is satisfied by every flush token this package returns, per
// original_source/src/page/flush.rs's Flusher trait: a caller batching
// several mapper calls can accept Flusher generically instead of the
// concrete token type. Go has no linear-type system to statically forbid
// discarding a token unflushed, so the discipline in SPEC_FULL.md §4.6 is
// enforced only by convention here: every PageMapper method that changes a
// live translation returns one of these, and callers are expected to call
// Flush (or explicitly opt out via NopFlusher, the blanket no-op the
// original crate gives its `()` impl).
type Flusher interface {
	Flush()
}

// PageFlush invalidates a single virtual address.
type PageFlush struct {
	arch arch.Arch
	v    mem.VirtualAddress
}

func (f PageFlush) Flush() { f.arch.Invalidate(f.v) }

// PageFlushAll invalidates the entire TLB.
type PageFlushAll struct {
	arch arch.Arch
}

func (f PageFlushAll) Flush() { f.arch.InvalidateAll() }

// NopFlusher discards a flush obligation, mirroring the blanket `()` impl
// of Flusher in original_source — the explicit "I accept a stale TLB"
// escape hatch of SPEC_FULL.md §4.6's `ignore()`.
type NopFlusher struct{}

func (NopFlusher) Flush() {}
