// Package arch defines the architecture abstraction that parameterizes the
// rest of this module: a small set of page-table geometry constants plus the
// primitive operations (raw memory access, TLB control, active-table
// get/set) that every concrete backend must provide.
//
// Polymorphism here is a plain interface rather than anything reflection- or
// registry-based. Callers hold an Arch interface value, so every method on
// the hot path of a page-table walk is an interface (dynamically dispatched)
// call; nothing in this module specializes a walk to one backend.
package arch

import (
	"rmm/kernel"
	"rmm/mem"
)

// Geometry is the set of constants §3 calls "architecture parameters": the
// compile-time shape of one level of this architecture's page tables, plus
// the values derived from it.
type Geometry struct {
	PageShift         uint
	PageEntryShift    uint
	PageLevels        uint
	EntryAddressWidth uint
	EntryAddressShift uint
	EntryAddressMask  uint64
	EntryFlagsMask    uint64
	PageAddressMask   uint64
	PhysOffset        mem.VirtualAddress
}

// NewGeometry derives EntryAddressMask/EntryFlagsMask/PageAddressMask from
// the given shifts.
//
// The physical-frame field of an entry is entryAddressWidth bits wide,
// starting at bit entryAddressShift of the entry word; every flag bit lies
// outside that field. On x86-64 and aarch64 the frame field starts at bit
// pageShift, so a physical address's low page-shift bits (already zero,
// since frames are page-aligned) line up with the field directly. RISC-V's
// PTE format is not so accommodating: its PPN field starts at bit 10, not
// bit pageShift (12), so entryAddressShift must be carried distinctly from
// pageShift rather than assumed equal to it — see
// original_source/src/arch/riscv64/sv48.rs's ENTRY_ADDRESS_WIDTH/
// ENTRY_ADDRESS_SHIFT pair.
//
// PageAddressMask is the canonicalization mask of SPEC_FULL.md §4.4: the
// bits of a virtual address that the PAGE_LEVELS-deep table hierarchy can
// address, derived exactly as original_source/src/arch/mod.rs derives
// PAGE_ADDRESS_MASK from PAGE_LEVELS, PAGE_ENTRY_SHIFT and PAGE_SHIFT.
func NewGeometry(pageShift, pageEntryShift, pageLevels, entryAddressWidth, entryAddressShift uint, physOffset mem.VirtualAddress) Geometry {
	addrMask := ((uint64(1) << entryAddressWidth) - 1) << entryAddressShift
	pageAddressShift := pageLevels*pageEntryShift + pageShift
	pageAddressMask := (uint64(1) << pageAddressShift) - (uint64(1) << pageShift)
	return Geometry{
		PageShift:         pageShift,
		PageEntryShift:    pageEntryShift,
		PageLevels:        pageLevels,
		EntryAddressWidth: entryAddressWidth,
		EntryAddressShift: entryAddressShift,
		EntryAddressMask:  addrMask,
		EntryFlagsMask:    ^addrMask,
		PageAddressMask:   pageAddressMask,
		PhysOffset:        physOffset,
	}
}

// Arch is the architecture contract of SPEC_FULL.md §4.1. Every method is
// scoped to one concrete architecture and carries no per-call state beyond
// its receiver. The hardware backends are zero-size values; Emulate holds a
// pointer to its emulated machine.
type Arch interface {
	// Geometry returns this architecture's page-table constants.
	Geometry() Geometry

	// Flag bits, normalized by polarity per SPEC_FULL.md §6. An
	// architecture that does not have a distinct bit for one side of a
	// polarity pair (e.g. x86-64 has no READONLY bit, only the absence
	// of READWRITE) returns 0 for it; 0 is the identity flag value under
	// both set and clear, so callers never need to special-case this.
	FlagPresent() uint64
	FlagReadOnly() uint64
	FlagReadWrite() uint64
	FlagUser() uint64
	FlagNoExec() uint64
	FlagExec() uint64
	FlagDefaultPage() uint64
	FlagDefaultTable() uint64

	// Init performs one-time boot setup and returns the final physical
	// memory region list. It may only be called once per process.
	Init() ([]mem.MemoryArea, *kernel.Error)

	// ReadWord/WriteWord access one machine word through the active
	// translation; the word must not straddle a page boundary.
	ReadWord(v mem.VirtualAddress) (uint64, *kernel.Error)
	WriteWord(v mem.VirtualAddress, val uint64) *kernel.Error
	// WriteBytes memsets count bytes starting at v through the active
	// translation.
	WriteBytes(v mem.VirtualAddress, b byte, count uint64) *kernel.Error

	// PhysToVirt returns p's address under this architecture's linear
	// map (p + PHYS_OFFSET).
	PhysToVirt(p mem.PhysicalAddress) mem.VirtualAddress

	// Table/SetTable get and set the active root table for the given
	// half of the address space. SetTable implies a full TLB flush.
	Table(kind mem.TableKind) mem.PhysicalAddress
	SetTable(kind mem.TableKind, p mem.PhysicalAddress)

	// Invalidate flushes a single virtual address from the TLB.
	// Architectures without single-page invalidation may fall back to
	// a full flush.
	Invalidate(v mem.VirtualAddress)
	// InvalidateAll flushes the entire TLB.
	InvalidateAll()

	// VirtIsValid is this architecture's canonicality test.
	VirtIsValid(v mem.VirtualAddress) bool
}

// SignExtendedCanonical implements the sign-extension canonicality rule of
// SPEC_FULL.md §6: the bits at and above vaBits-1 must all equal the sign
// bit (bit vaBits-1). This is the rule every backend in this module uses,
// including the emulator — per design note §9(b), the emulator's own
// historical `i4 >= 256` check is not reproduced.
func SignExtendedCanonical(v mem.VirtualAddress, vaBits uint) bool {
	signBit := uint64(1) << (vaBits - 1)
	mask := ^uint64(0) << (vaBits - 1)
	top := v.Data() & mask
	if v.Data()&signBit != 0 {
		return top == mask
	}
	return top == 0
}

// notImplemented panics with a module-tagged message. Backends for
// architectures this module does not carry a real primitive-op
// implementation for (aarch64; see arch_arm64.go) call this from every
// primitive operation, mirroring original_source's own aarch64 stub, which
// implements every primitive as unimplemented!().
func notImplemented(module, op string) {
	kernel.Panic(&kernel.Error{Module: module, Message: op + " is not implemented for this architecture"})
}
