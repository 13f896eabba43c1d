package arch

import (
	"unsafe"

	"rmm/kernel"
	"rmm/mem"
)

// amd64EntryAddressWidth is the width, in bits, of the physical-frame field
// inside a page-table entry: bits 12..51 (0x000ffffffffff000), matching the
// constant the teacher codebase's vmm package derives for ptePhysPageMask.
// The field starts at bit PageShift, same as the address's own natural
// page-aligned bit position.
const amd64EntryAddressWidth = 40

// amd64PhysOffset is the kernel-half virtual base at which this module's
// linear map is built: the start of x86-64's canonical high half.
const amd64PhysOffset = mem.VirtualAddress(0xFFFF800000000000)

var (
	errAMD64AlreadyInit  = &kernel.Error{Module: "arch/amd64", Message: "Init called more than once"}
	errAMD64NotAligned   = &kernel.Error{Module: "arch/amd64", Message: "boot memory area is not page-aligned"}
	errAMD64NoBootAreas  = &kernel.Error{Module: "arch/amd64", Message: "no boot memory areas supplied before Init"}
	amd64Initialized     bool
	amd64BootAreas       []mem.MemoryArea
)

// AMD64 is the x86-64 realization of Arch. It carries no state of its own;
// every bit of mutable state (boot areas, active root) is process-global,
// matching the single core-wide CR3 register it wraps.
type AMD64 struct{}

// SetBootAreas is called once by the (out-of-scope) boot glue after it has
// parsed the boot loader's memory map, before Init is called.
func SetBootAreas(areas []mem.MemoryArea) {
	amd64BootAreas = areas
}

func (AMD64) Geometry() Geometry {
	return NewGeometry(mem.PageShift, mem.PageEntryShift, 4, amd64EntryAddressWidth, mem.PageShift, amd64PhysOffset)
}

func (AMD64) FlagPresent() uint64      { return 1 << 0 }
func (AMD64) FlagReadOnly() uint64     { return 0 }
func (AMD64) FlagReadWrite() uint64    { return 1 << 1 }
func (AMD64) FlagUser() uint64         { return 1 << 2 }
func (AMD64) FlagNoExec() uint64       { return 1 << 63 }
func (AMD64) FlagExec() uint64         { return 0 }
func (a AMD64) FlagDefaultPage() uint64  { return a.FlagPresent() }
func (a AMD64) FlagDefaultTable() uint64 { return a.FlagPresent() }

func (AMD64) Init() ([]mem.MemoryArea, *kernel.Error) {
	if amd64Initialized {
		return nil, errAMD64AlreadyInit
	}
	if len(amd64BootAreas) == 0 {
		return nil, errAMD64NoBootAreas
	}
	for _, a := range amd64BootAreas {
		if !a.Base.IsPageAligned() || a.Size%mem.PageSize != 0 {
			return nil, errAMD64NotAligned
		}
	}
	amd64Initialized = true
	return amd64BootAreas, nil
}

func (AMD64) ReadWord(v mem.VirtualAddress) (uint64, *kernel.Error) {
	return *(*uint64)(unsafe.Pointer(uintptr(v.Data()))), nil
}

func (AMD64) WriteWord(v mem.VirtualAddress, val uint64) *kernel.Error {
	*(*uint64)(unsafe.Pointer(uintptr(v.Data()))) = val
	return nil
}

func (AMD64) WriteBytes(v mem.VirtualAddress, b byte, count uint64) *kernel.Error {
	ptr := uintptr(v.Data())
	for i := uint64(0); i < count; i++ {
		*(*byte)(unsafe.Pointer(ptr + uintptr(i))) = b
	}
	return nil
}

func (AMD64) PhysToVirt(p mem.PhysicalAddress) mem.VirtualAddress {
	return amd64PhysOffset.Add(p.Data())
}

// Table/SetTable ignore kind: x86-64 has a single CR3 register covering both
// halves of the address space through one PML4, unlike architectures that
// expose split TTBR0/TTBR1-style registers.
func (AMD64) Table(_ mem.TableKind) mem.PhysicalAddress {
	return mem.PhysicalAddress(cr3Read())
}

func (AMD64) SetTable(_ mem.TableKind, p mem.PhysicalAddress) {
	cr3Write(p.Data())
}

func (AMD64) Invalidate(v mem.VirtualAddress) {
	invlpg(v.Data())
}

func (a AMD64) InvalidateAll() {
	cr3Write(cr3Read())
}

func (AMD64) VirtIsValid(v mem.VirtualAddress) bool {
	return SignExtendedCanonical(v, 48)
}

// cr3Read, cr3Write and invlpg are implemented in arch_amd64.s: reading/writing
// CR3 and executing INVLPG require privileged instructions with no Go
// source-level equivalent, exactly like the teacher's vmm/tlb.go primitives
// (flushTLBEntry, switchPDT, activePDT).
func cr3Read() uint64
func cr3Write(val uint64)
func invlpg(v uint64)
