// Package vmm builds and walks multi-level page tables on top of an
// arch.Arch and a pmm.FrameAllocator: the encoded page-table entry, the
// typed flag builder, the table handle, flush tokens, and the mapper
// itself (SPEC_FULL.md §4.4-§4.6).
package vmm

import (
	"rmm/mem"
	"rmm/mem/arch"
)

// PageEntry is one raw page-table entry word: a physical address packed
// with architecture-specific flag bits.
type PageEntry struct {
	word uint64
}

// Pack builds an entry from a frame address and a flag word, shifting the
// frame address from its natural page-aligned bit position into a's
// entry-address field. On x86-64/aarch64 that field starts at bit
// PageShift, the same place a page-aligned address's nonzero bits already
// start, so this shift is a no-op; on RISC-V the field starts at bit 10,
// two bits below PageShift, so it isn't.
func Pack(a arch.Arch, addr mem.PhysicalAddress, flags uint64) PageEntry {
	g := a.Geometry()
	frame := (addr.Data() >> g.PageShift) << g.EntryAddressShift
	return PageEntry{word: frame | flags}
}

// Data returns the raw entry word.
func (e PageEntry) Data() uint64 { return e.word }

// Present reports whether a's present bit is set in this entry.
func (e PageEntry) Present(a arch.Arch) bool {
	return e.word&a.FlagPresent() != 0
}

// Address extracts the physical frame address, undoing Pack's shift.
func (e PageEntry) Address(a arch.Arch) mem.PhysicalAddress {
	g := a.Geometry()
	frame := (e.word & g.EntryAddressMask) >> g.EntryAddressShift
	return mem.PhysicalAddress(frame << g.PageShift)
}

// Flags extracts the flag bits, masked by a's entry flags field.
func (e PageEntry) Flags(a arch.Arch) uint64 {
	return e.word & a.Geometry().EntryFlagsMask
}
