package arch

import (
	"rmm/kernel"
	"rmm/mem"
)

// EmulateRAMBase and EmulateRAMSize are the hosted machine's bootstrap
// parameters, matching original_source/src/arch/emulate.rs exactly: 64 MiB
// of physical RAM starting at the 1 MiB mark, the same layout real x86
// firmware typically leaves usable just above the legacy BIOS/option-ROM
// region.
const (
	EmulateRAMBase = mem.PhysicalAddress(0x00100000)
	EmulateRAMSize = uint64(64 << 20)
)

const emulateEntryAddressWidth = 40

var errEmulateOutOfTablePages = &kernel.Error{Module: "arch/emulate", Message: "identity-map bootstrap ran out of RAM for table pages"}
var errEmulateFault = &kernel.Error{Module: "arch/emulate", Message: "access to non-present or non-writable virtual address"}

// machine is the hosted backend's state: a byte slice standing in for
// physical RAM and a software TLB cache. Design note §9 flags the original
// crate's `static mut MACHINE` as a process-wide global that should be
// re-architected as an explicitly threaded handle; machine is exactly that
// handle, owned by one Emulate value rather than a package-level variable,
// so tests can run multiple independent machines without interfering with
// each other.
type machine struct {
	ramBase     mem.PhysicalAddress
	ram         []byte
	tlb         map[mem.VirtualAddress]uint64
	root        mem.PhysicalAddress
	bumpOffset  uint64
	initialized bool
}

// Emulate is the hosted, non-bare-metal realization of Arch: it exists
// solely so the rest of this module (allocators, page tables, the mapper)
// can be exercised by ordinary Go tests without real hardware.
type Emulate struct {
	m *machine
}

// NewEmulate constructs an uninitialized hosted machine. Call Init before
// using any other method.
func NewEmulate() Emulate {
	return Emulate{m: &machine{}}
}

func (Emulate) Geometry() Geometry {
	return NewGeometry(mem.PageShift, mem.PageEntryShift, 4, emulateEntryAddressWidth, mem.PageShift, mem.VirtualAddress(0))
}

func (Emulate) FlagPresent() uint64      { return 1 << 0 }
func (Emulate) FlagReadOnly() uint64     { return 0 }
func (Emulate) FlagReadWrite() uint64    { return 1 << 1 }
func (Emulate) FlagUser() uint64         { return 1 << 2 }
func (Emulate) FlagNoExec() uint64       { return 1 << 63 }
func (Emulate) FlagExec() uint64         { return 0 }
func (e Emulate) FlagDefaultPage() uint64  { return e.FlagPresent() }
func (e Emulate) FlagDefaultTable() uint64 { return e.FlagPresent() }

// Init carves the backing RAM slice, builds an identity-mapped 4-level
// hierarchy over the whole region (so code that dereferences a physical
// address directly, as bootstrap code on real hardware often does, keeps
// working), and returns the single memory area describing the RAM that
// follows the pages those tables occupy.
func (e Emulate) Init() ([]mem.MemoryArea, *kernel.Error) {
	if e.m.initialized {
		return nil, &kernel.Error{Module: "arch/emulate", Message: "Init called more than once"}
	}
	e.m.ram = make([]byte, EmulateRAMSize)
	e.m.ramBase = EmulateRAMBase
	e.m.tlb = make(map[mem.VirtualAddress]uint64)

	if _, err := e.buildIdentityMap(); err != nil {
		return nil, err
	}
	e.m.initialized = true
	e.rebuildTLB()

	return []mem.MemoryArea{{Base: EmulateRAMBase.Add(e.m.bumpOffset), Size: EmulateRAMSize - e.m.bumpOffset}}, nil
}

// allocTablePage carves the next zero-filled page off the front of RAM for
// use as a page-table page, bump-allocator style. The table pages end up
// identity-mapped like everything else once buildIdentityMap reaches them.
func (e Emulate) allocTablePage() (mem.PhysicalAddress, *kernel.Error) {
	if e.m.bumpOffset+mem.PageSize > EmulateRAMSize {
		return 0, errEmulateOutOfTablePages
	}
	p := e.m.ramBase.Add(e.m.bumpOffset)
	e.m.bumpOffset += mem.PageSize
	return p, nil
}

func (e Emulate) tableOffset(p mem.PhysicalAddress) uint64 {
	return p.Data() - e.m.ramBase.Data()
}

func (e Emulate) readEntry(table mem.PhysicalAddress, idx uint) uint64 {
	off := e.tableOffset(table) + uint64(idx)*mem.PageEntrySize
	return getWord(e.m.ram, off)
}

func (e Emulate) writeEntry(table mem.PhysicalAddress, idx uint, val uint64) {
	off := e.tableOffset(table) + uint64(idx)*mem.PageEntrySize
	putWord(e.m.ram, off, val)
}

func indexAtLevel(v mem.VirtualAddress, level uint) uint {
	return uint((v.Data() >> (mem.PageShift + mem.PageEntryShift*level)) & (mem.PageEntries - 1))
}

func (e Emulate) buildIdentityMap() (mem.PhysicalAddress, *kernel.Error) {
	root, err := e.allocTablePage()
	if err != nil {
		return 0, err
	}
	e.m.root = root

	leafFlags := e.FlagPresent() | e.FlagReadWrite()
	tableFlags := e.FlagPresent() | e.FlagReadWrite()

	frames := EmulateRAMSize / mem.PageSize
	for i := uint64(0); i < frames; i++ {
		frameAddr := e.m.ramBase.Add(i * mem.PageSize)
		v := mem.VirtualAddress(frameAddr.Data())

		table := e.m.root
		for level := uint(3); level >= 1; level-- {
			idx := indexAtLevel(v, level)
			entry := e.readEntry(table, idx)
			var child mem.PhysicalAddress
			if entry&e.FlagPresent() == 0 {
				child, err = e.allocTablePage()
				if err != nil {
					return 0, err
				}
				e.writeEntry(table, idx, child.Data()|tableFlags)
			} else {
				child = mem.PhysicalAddress(entry & e.Geometry().EntryAddressMask)
			}
			table = child
		}
		idx0 := indexAtLevel(v, 0)
		e.writeEntry(table, idx0, frameAddr.Data()|leafFlags)
	}

	return root, nil
}

// walk descends the real (authoritative) page-table hierarchy for v and
// reports the leaf entry word, or ok=false if any level is not present.
func (e Emulate) walk(v mem.VirtualAddress) (uint64, bool) {
	table := e.m.root
	for level := int(3); level >= 0; level-- {
		idx := indexAtLevel(v, uint(level))
		word := e.readEntry(table, idx)
		if word&e.FlagPresent() == 0 {
			return 0, false
		}
		if level == 0 {
			return word, true
		}
		table = mem.PhysicalAddress(word & e.Geometry().EntryAddressMask)
	}
	return 0, false
}

func pageOf(v mem.VirtualAddress) mem.VirtualAddress {
	return mem.VirtualAddress(v.Data() &^ (mem.PageSize - 1))
}

// rebuildTLB discards the whole software TLB and re-walks, from the active
// root, every candidate page: the identity-mapped RAM range plus every page
// the TLB held before. It does not enumerate the hierarchy itself, so a page
// mapped only at some other, not yet cached virtual address is not found
// here; it enters the TLB through Invalidate.
func (e Emulate) rebuildTLB() {
	// Candidate pages are the identity-mapped RAM range plus whatever
	// virtual pages were already known (e.g. linear-map pages the mapper
	// installed at a virtual address that does not coincide with its own
	// physical identity) — a full rebuild must not lose those.
	candidates := make(map[mem.VirtualAddress]struct{}, len(e.m.tlb))
	for v := range e.m.tlb {
		candidates[v] = struct{}{}
	}
	frames := EmulateRAMSize / mem.PageSize
	for i := uint64(0); i < frames; i++ {
		frameAddr := e.m.ramBase.Add(i * mem.PageSize)
		candidates[pageOf(mem.VirtualAddress(frameAddr.Data()))] = struct{}{}
	}

	e.m.tlb = make(map[mem.VirtualAddress]uint64, len(candidates))
	for v := range candidates {
		if word, ok := e.walk(v); ok {
			e.m.tlb[v] = word
		}
	}
}

func (e Emulate) ReadWord(v mem.VirtualAddress) (uint64, *kernel.Error) {
	page := pageOf(v)
	entry, ok := e.m.tlb[page]
	if !ok {
		kernel.Panic(errEmulateFault)
		return 0, nil
	}
	phys := (entry & e.Geometry().EntryAddressMask) + (v.Data() - page.Data())
	off := phys - e.m.ramBase.Data()
	return getWord(e.m.ram, off), nil
}

func (e Emulate) WriteWord(v mem.VirtualAddress, val uint64) *kernel.Error {
	page := pageOf(v)
	entry, ok := e.m.tlb[page]
	if !ok || entry&e.FlagReadWrite() == 0 {
		kernel.Panic(errEmulateFault)
		return nil
	}
	phys := (entry & e.Geometry().EntryAddressMask) + (v.Data() - page.Data())
	off := phys - e.m.ramBase.Data()
	putWord(e.m.ram, off, val)
	return nil
}

func (e Emulate) WriteBytes(v mem.VirtualAddress, b byte, count uint64) *kernel.Error {
	for i := uint64(0); i < count; i++ {
		cur := v.Add(i)
		page := pageOf(cur)
		entry, ok := e.m.tlb[page]
		if !ok || entry&e.FlagReadWrite() == 0 {
			kernel.Panic(errEmulateFault)
			return nil
		}
		phys := (entry & e.Geometry().EntryAddressMask) + (cur.Data() - page.Data())
		off := phys - e.m.ramBase.Data()
		e.m.ram[off] = b
	}
	return nil
}

func (Emulate) PhysToVirt(p mem.PhysicalAddress) mem.VirtualAddress {
	return mem.VirtualAddress(p.Data())
}

func (e Emulate) Table(_ mem.TableKind) mem.PhysicalAddress {
	return e.m.root
}

func (e Emulate) SetTable(_ mem.TableKind, p mem.PhysicalAddress) {
	e.m.root = p
	e.rebuildTLB()
}

// Invalidate re-walks the single page containing v and refreshes (or
// evicts) its cached TLB entry from the authoritative table, modeling
// INVLPG followed by the implicit hardware walk the next access to v would
// trigger on real silicon.
func (e Emulate) Invalidate(v mem.VirtualAddress) {
	page := pageOf(v)
	if word, ok := e.walk(page); ok {
		e.m.tlb[page] = word
	} else {
		delete(e.m.tlb, page)
	}
}

func (e Emulate) InvalidateAll() {
	e.rebuildTLB()
}

func (Emulate) VirtIsValid(v mem.VirtualAddress) bool {
	return SignExtendedCanonical(v, 48)
}

func putWord(buf []byte, off uint64, val uint64) {
	for i := 0; i < 8; i++ {
		buf[off+uint64(i)] = byte(val >> (8 * uint(i)))
	}
}

func getWord(buf []byte, off uint64) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(buf[off+uint64(i)]) << (8 * uint(i))
	}
	return v
}
