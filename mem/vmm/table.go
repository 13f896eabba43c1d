package vmm

import (
	"rmm/kernel"
	"rmm/mem"
	"rmm/mem/arch"
)

var errTableIndexOutOfRange = &kernel.Error{Module: "vmm/table", Message: "entry index out of range"}

// PageTable is a typed view of one page-table page at a known level and
// virtual base, per SPEC_FULL.md §4.4. level counts from 0 at the leaf
// table up to PAGE_LEVELS-1 at the root; base is the virtual address the
// table's first entry translates.
type PageTable struct {
	arch  arch.Arch
	base  mem.VirtualAddress
	phys  mem.PhysicalAddress
	level uint
}

// Top constructs the root handle for kind's currently active table.
func Top(a arch.Arch, kind mem.TableKind) PageTable {
	return PageTable{arch: a, base: 0, phys: a.Table(kind), level: a.Geometry().PageLevels - 1}
}

// TopOf constructs the root handle for an explicit root frame, without
// consulting the architecture's active-table register — used by
// PageMapper, which tracks its own root independently of whatever is
// currently active.
func TopOf(a arch.Arch, root mem.PhysicalAddress) PageTable {
	return PageTable{arch: a, base: 0, phys: root, level: a.Geometry().PageLevels - 1}
}

// Phys returns the physical frame holding this table.
func (t PageTable) Phys() mem.PhysicalAddress { return t.phys }

// Level returns this table's level.
func (t PageTable) Level() uint { return t.level }

func (t PageTable) entryStep() uint64 {
	g := t.arch.Geometry()
	return uint64(1) << (g.PageShift + g.PageEntryShift*t.level)
}

func (t PageTable) coverage() uint64 {
	return t.entryStep() * mem.PageEntries
}

// EntryBase returns the virtual base covered by child i.
func (t PageTable) EntryBase(i uint) mem.VirtualAddress {
	if i >= mem.PageEntries {
		kernel.Panic(errTableIndexOutOfRange)
		return 0
	}
	return t.base.Add(uint64(i) * t.entryStep())
}

func (t PageTable) entryVirt(i uint) mem.VirtualAddress {
	return t.arch.PhysToVirt(t.phys).Add(uint64(i) * mem.PageEntrySize)
}

// Entry reads entry i's raw word.
func (t PageTable) Entry(i uint) (PageEntry, *kernel.Error) {
	word, err := t.arch.ReadWord(t.entryVirt(i))
	if err != nil {
		return PageEntry{}, err
	}
	return PageEntry{word: word}, nil
}

// SetEntry writes entry i's raw word.
func (t PageTable) SetEntry(i uint, e PageEntry) *kernel.Error {
	return t.arch.WriteWord(t.entryVirt(i), e.Data())
}

// IndexOf returns the index into this table that v falls under, and false
// if v lies outside this table's coverage. v is canonicalized by masking
// with PageAddressMask first, exactly as
// original_source/src/page/table.rs's index_of does, so that a
// sign-extended high-half address (every PHYS_OFFSET linear-map address on
// amd64/riscv64) lands within the root table's [0, coverage) range instead
// of comparing as out-of-range against its unmasked bit pattern.
func (t PageTable) IndexOf(v mem.VirtualAddress) (uint, bool) {
	v = mem.VirtualAddress(v.Data() & t.arch.Geometry().PageAddressMask)
	if v.Data() < t.base.Data() || v.Data()-t.base.Data() >= t.coverage() {
		return 0, false
	}
	shift := t.arch.Geometry().PageShift + t.arch.Geometry().PageEntryShift*t.level
	return uint((v.Data() >> shift) & (mem.PageEntries - 1)), true
}

// Next descends to entry i's child table. It reports ok=false, with no
// error, when this is already a leaf table (level 0) or the entry is not
// present.
func (t PageTable) Next(i uint) (PageTable, bool, *kernel.Error) {
	if t.level == 0 {
		return PageTable{}, false, nil
	}
	e, err := t.Entry(i)
	if err != nil {
		return PageTable{}, false, err
	}
	if !e.Present(t.arch) {
		return PageTable{}, false, nil
	}
	return PageTable{
		arch:  t.arch,
		base:  t.EntryBase(i),
		phys:  e.Address(t.arch),
		level: t.level - 1,
	}, true, nil
}
