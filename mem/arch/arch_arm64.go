package arch

import (
	"rmm/kernel"
	"rmm/mem"
)

// aarch64EntryAddressWidth approximates the output-address field width for a
// 48-bit aarch64 configuration, starting at bit PageShift like x86-64. This
// backend's primitive operations are not ported (see below), so the exact
// value only needs to keep the constants-consistency property (§8)
// internally coherent, not match real hardware bit-for-bit.
const aarch64EntryAddressWidth = 36

const aarch64PhysOffset = mem.VirtualAddress(0xFFFF800000000000)

// AArch64 is the aarch64 realization of Arch. Per design note §9 and
// original_source/src/arch/aarch64.rs, this backend is a constants-only
// stub: every primitive operation panics rather than touching hardware,
// exactly as the original crate's aarch64 backend implements each primitive
// as unimplemented!(). Porting it is future work, not a gap in this module.
type AArch64 struct{}

func (AArch64) Geometry() Geometry {
	return NewGeometry(mem.PageShift, mem.PageEntryShift, 4, aarch64EntryAddressWidth, mem.PageShift, aarch64PhysOffset)
}

// FlagPresent combines the "valid" bit (0) with the table/page descriptor
// bit (1); aarch64 requires both set for an entry to be present at any
// level of the hierarchy.
func (AArch64) FlagPresent() uint64 { return (1 << 0) | (1 << 1) }

// FlagReadOnly is AP[2], the descriptor's read-only attribute bit.
func (AArch64) FlagReadOnly() uint64  { return 1 << 7 }
func (AArch64) FlagReadWrite() uint64 { return 0 }
func (AArch64) FlagUser() uint64      { return 1 << 6 }

// FlagNoExec sets both UXN and PXN; FlagExec clears them (identity value).
func (AArch64) FlagNoExec() uint64 { return (1 << 53) | (1 << 54) }
func (AArch64) FlagExec() uint64   { return 0 }

func (a AArch64) FlagDefaultPage() uint64  { return a.FlagPresent() }
func (a AArch64) FlagDefaultTable() uint64 { return a.FlagPresent() }

func (AArch64) Init() ([]mem.MemoryArea, *kernel.Error) {
	notImplemented("arch/aarch64", "Init")
	return nil, nil
}

func (AArch64) ReadWord(mem.VirtualAddress) (uint64, *kernel.Error) {
	notImplemented("arch/aarch64", "ReadWord")
	return 0, nil
}

func (AArch64) WriteWord(mem.VirtualAddress, uint64) *kernel.Error {
	notImplemented("arch/aarch64", "WriteWord")
	return nil
}

func (AArch64) WriteBytes(mem.VirtualAddress, byte, uint64) *kernel.Error {
	notImplemented("arch/aarch64", "WriteBytes")
	return nil
}

func (AArch64) PhysToVirt(p mem.PhysicalAddress) mem.VirtualAddress {
	return aarch64PhysOffset.Add(p.Data())
}

func (AArch64) Table(mem.TableKind) mem.PhysicalAddress {
	notImplemented("arch/aarch64", "Table")
	return 0
}

func (AArch64) SetTable(mem.TableKind, mem.PhysicalAddress) {
	notImplemented("arch/aarch64", "SetTable")
}

func (AArch64) Invalidate(mem.VirtualAddress) {
	notImplemented("arch/aarch64", "Invalidate")
}

func (AArch64) InvalidateAll() {
	notImplemented("arch/aarch64", "InvalidateAll")
}

func (AArch64) VirtIsValid(v mem.VirtualAddress) bool {
	return SignExtendedCanonical(v, 48)
}
