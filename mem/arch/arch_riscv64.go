package arch

import (
	"unsafe"

	"rmm/kernel"
	"rmm/mem"
)

// RISC-V's satp CSR packs a mode field (top 4 bits), an ASID, and the root
// table's physical page number (PPN, the low 44 bits) into one word. mode
// values per the privileged spec: 8 = Sv39, 9 = Sv48.
const (
	riscvSatpModeSv39 = 8
	riscvSatpModeSv48 = 9
	riscvSatpModeShift = 60
	riscvSatpPPNMask   = (uint64(1) << 44) - 1
)

const riscvPhysOffset = mem.VirtualAddress(0xFFFFFFC000000000)

// A RISC-V PTE's PPN field is 44 bits wide starting at bit 10, not bit
// PageShift (12) the way x86-64/aarch64 lay it out — per
// original_source/src/arch/riscv64/sv48.rs's distinct ENTRY_ADDRESS_WIDTH
// and ENTRY_ADDRESS_SHIFT constants. Sv39 shares the same PTE layout as
// Sv48 (only PAGE_LEVELS differs, 3 vs 4), so both geometries below use the
// same pair.
const (
	riscvEntryAddressWidth = 44
	riscvEntryAddressShift = 10
)

// RISCVSv48 is the RISC-V Sv48 (4-level) realization of Arch.
type RISCVSv48 struct{}

func (RISCVSv48) Geometry() Geometry {
	return NewGeometry(mem.PageShift, mem.PageEntryShift, 4, riscvEntryAddressWidth, riscvEntryAddressShift, riscvPhysOffset)
}

// RISCVSv39 is the RISC-V Sv39 (3-level) realization of Arch.
type RISCVSv39 struct{}

func (RISCVSv39) Geometry() Geometry {
	return NewGeometry(mem.PageShift, mem.PageEntryShift, 3, riscvEntryAddressWidth, riscvEntryAddressShift, riscvPhysOffset)
}

// Flag bits are identical across Sv39/Sv48: the low 10 bits of a PTE are the
// same on both, only the table depth differs (carried in Geometry, not
// here). present: bit0 (V, valid). A non-leaf (table) PTE has R=W=X all
// clear; a leaf (page) PTE sets at least the read bit to distinguish itself
// from a table pointer, so FlagReadOnly is not the identity value the way it
// is on x86-64.
const (
	riscvFlagBitValid = 1 << 0
	riscvFlagBitRead  = 1 << 1
	riscvFlagBitWrite = 1 << 2
	riscvFlagBitExec  = 1 << 3
	riscvFlagBitUser  = 1 << 4
)

func riscvFlagPresent() uint64      { return riscvFlagBitValid }
func riscvFlagReadOnly() uint64     { return riscvFlagBitRead }
func riscvFlagReadWrite() uint64    { return riscvFlagBitRead | riscvFlagBitWrite }
func riscvFlagUser() uint64         { return riscvFlagBitUser }
func riscvFlagNoExec() uint64       { return 0 }
func riscvFlagExec() uint64         { return riscvFlagBitExec }
func riscvFlagDefaultPage() uint64  { return riscvFlagPresent() | riscvFlagBitRead }
func riscvFlagDefaultTable() uint64 { return riscvFlagPresent() }

func (RISCVSv48) FlagPresent() uint64      { return riscvFlagPresent() }
func (RISCVSv48) FlagReadOnly() uint64     { return riscvFlagReadOnly() }
func (RISCVSv48) FlagReadWrite() uint64    { return riscvFlagReadWrite() }
func (RISCVSv48) FlagUser() uint64         { return riscvFlagUser() }
func (RISCVSv48) FlagNoExec() uint64       { return riscvFlagNoExec() }
func (RISCVSv48) FlagExec() uint64         { return riscvFlagExec() }
func (RISCVSv48) FlagDefaultPage() uint64  { return riscvFlagDefaultPage() }
func (RISCVSv48) FlagDefaultTable() uint64 { return riscvFlagDefaultTable() }

func (RISCVSv39) FlagPresent() uint64      { return riscvFlagPresent() }
func (RISCVSv39) FlagReadOnly() uint64     { return riscvFlagReadOnly() }
func (RISCVSv39) FlagReadWrite() uint64    { return riscvFlagReadWrite() }
func (RISCVSv39) FlagUser() uint64         { return riscvFlagUser() }
func (RISCVSv39) FlagNoExec() uint64       { return riscvFlagNoExec() }
func (RISCVSv39) FlagExec() uint64         { return riscvFlagExec() }
func (RISCVSv39) FlagDefaultPage() uint64  { return riscvFlagDefaultPage() }
func (RISCVSv39) FlagDefaultTable() uint64 { return riscvFlagDefaultTable() }

var (
	errRISCVAlreadyInit = &kernel.Error{Module: "arch/riscv64", Message: "Init called more than once"}
	errRISCVNoBootAreas = &kernel.Error{Module: "arch/riscv64", Message: "no boot memory areas supplied before Init"}
	errRISCVNotAligned  = &kernel.Error{Module: "arch/riscv64", Message: "boot memory area is not page-aligned"}
	riscvInitialized    bool
	riscvBootAreas      []mem.MemoryArea
)

// SetRISCVBootAreas is called once by the boot glue before Init, same contract
// as arch.SetBootAreas for amd64.
func SetRISCVBootAreas(areas []mem.MemoryArea) {
	riscvBootAreas = areas
}

func riscvInit() ([]mem.MemoryArea, *kernel.Error) {
	if riscvInitialized {
		return nil, errRISCVAlreadyInit
	}
	if len(riscvBootAreas) == 0 {
		return nil, errRISCVNoBootAreas
	}
	for _, a := range riscvBootAreas {
		if !a.Base.IsPageAligned() || a.Size%mem.PageSize != 0 {
			return nil, errRISCVNotAligned
		}
	}
	riscvInitialized = true
	return riscvBootAreas, nil
}

func (RISCVSv48) Init() ([]mem.MemoryArea, *kernel.Error) { return riscvInit() }
func (RISCVSv39) Init() ([]mem.MemoryArea, *kernel.Error) { return riscvInit() }

func riscvReadWord(v mem.VirtualAddress) (uint64, *kernel.Error) {
	return *(*uint64)(unsafe.Pointer(uintptr(v.Data()))), nil
}

func riscvWriteWord(v mem.VirtualAddress, val uint64) *kernel.Error {
	*(*uint64)(unsafe.Pointer(uintptr(v.Data()))) = val
	return nil
}

func riscvWriteBytes(v mem.VirtualAddress, b byte, count uint64) *kernel.Error {
	ptr := uintptr(v.Data())
	for i := uint64(0); i < count; i++ {
		*(*byte)(unsafe.Pointer(ptr + uintptr(i))) = b
	}
	return nil
}

func (RISCVSv48) ReadWord(v mem.VirtualAddress) (uint64, *kernel.Error)  { return riscvReadWord(v) }
func (RISCVSv39) ReadWord(v mem.VirtualAddress) (uint64, *kernel.Error)  { return riscvReadWord(v) }
func (RISCVSv48) WriteWord(v mem.VirtualAddress, val uint64) *kernel.Error {
	return riscvWriteWord(v, val)
}
func (RISCVSv39) WriteWord(v mem.VirtualAddress, val uint64) *kernel.Error {
	return riscvWriteWord(v, val)
}
func (RISCVSv48) WriteBytes(v mem.VirtualAddress, b byte, count uint64) *kernel.Error {
	return riscvWriteBytes(v, b, count)
}
func (RISCVSv39) WriteBytes(v mem.VirtualAddress, b byte, count uint64) *kernel.Error {
	return riscvWriteBytes(v, b, count)
}

func (RISCVSv48) PhysToVirt(p mem.PhysicalAddress) mem.VirtualAddress { return riscvPhysOffset.Add(p.Data()) }
func (RISCVSv39) PhysToVirt(p mem.PhysicalAddress) mem.VirtualAddress { return riscvPhysOffset.Add(p.Data()) }

// Table/SetTable ignore kind: RISC-V's satp is a single register, like
// x86-64's CR3; there is no split root for user/kernel halves at this
// layer.
func (RISCVSv48) Table(_ mem.TableKind) mem.PhysicalAddress { return riscvTableFromSatp(satpRead()) }
func (RISCVSv39) Table(_ mem.TableKind) mem.PhysicalAddress { return riscvTableFromSatp(satpRead()) }

func (RISCVSv48) SetTable(_ mem.TableKind, p mem.PhysicalAddress) {
	satpWrite(riscvSatpValue(riscvSatpModeSv48, p))
}
func (RISCVSv39) SetTable(_ mem.TableKind, p mem.PhysicalAddress) {
	satpWrite(riscvSatpValue(riscvSatpModeSv39, p))
}

func riscvTableFromSatp(satp uint64) mem.PhysicalAddress {
	ppn := satp & riscvSatpPPNMask
	return mem.PhysicalAddress(ppn << mem.PageShift)
}

func riscvSatpValue(mode uint64, p mem.PhysicalAddress) uint64 {
	ppn := (p.Data() >> mem.PageShift) & riscvSatpPPNMask
	return (mode << riscvSatpModeShift) | ppn
}

func (RISCVSv48) Invalidate(v mem.VirtualAddress) { sfenceVMA(v.Data()) }
func (RISCVSv39) Invalidate(v mem.VirtualAddress) { sfenceVMA(v.Data()) }

func (RISCVSv48) InvalidateAll() { satpWrite(satpRead()) }
func (RISCVSv39) InvalidateAll() { satpWrite(satpRead()) }

func (RISCVSv48) VirtIsValid(v mem.VirtualAddress) bool { return SignExtendedCanonical(v, 48) }
func (RISCVSv39) VirtIsValid(v mem.VirtualAddress) bool { return SignExtendedCanonical(v, 39) }

// satpRead, satpWrite and sfenceVMA are implemented in arch_riscv64.s: the satp
// CSR and the sfence.vma instruction have no Go source-level equivalent.
func satpRead() uint64
func satpWrite(val uint64)
func sfenceVMA(v uint64)
