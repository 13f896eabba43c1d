package vmm

import (
	"rmm/kernel"
	"rmm/mem"
	"rmm/mem/arch"
	"rmm/mem/pmm"
)

var (
	errMapperOutOfRange = &kernel.Error{Module: "vmm/mapper", Message: "virtual address is outside the table hierarchy's coverage"}
	errMapperNotMapped  = &kernel.Error{Module: "vmm/mapper", Message: "virtual address has no mapping"}
)

// PageMapper is the page-table manipulator of SPEC_FULL.md §4.5: a root
// frame plus the frame allocator used to materialize intermediate tables
// and, for Map/Unmap, leaf data frames.
type PageMapper struct {
	arch  arch.Arch
	alloc pmm.FrameAllocator
	root  mem.PhysicalAddress
}

// Create allocates a fresh, zeroed root frame and wraps it.
func Create(a arch.Arch, alloc pmm.FrameAllocator) (*PageMapper, *kernel.Error) {
	root, err := pmm.AllocateOne(alloc)
	if err != nil {
		return nil, err
	}
	return &PageMapper{arch: a, alloc: alloc, root: root}, nil
}

// Current wraps the architecture's currently active root for kind, without
// allocating anything.
func Current(a arch.Arch, alloc pmm.FrameAllocator, kind mem.TableKind) *PageMapper {
	return &PageMapper{arch: a, alloc: alloc, root: a.Table(kind)}
}

// Root returns this mapper's root frame.
func (m *PageMapper) Root() mem.PhysicalAddress { return m.root }

// MakeCurrent installs this mapper's root as kind's active table. This
// implies a full TLB flush (arch.SetTable's contract) — the one escape
// hatch in SPEC_FULL.md §4.6 that discharges every outstanding flush
// obligation at once.
func (m *PageMapper) MakeCurrent(kind mem.TableKind) {
	m.arch.SetTable(kind, m.root)
}

// IsCurrent reports whether this mapper's root is kind's active table.
func (m *PageMapper) IsCurrent(kind mem.TableKind) bool {
	return m.arch.Table(kind) == m.root
}

func (m *PageMapper) top() PageTable {
	return TopOf(m.arch, m.root)
}

type tableStep struct {
	table PageTable
	idx   uint
}

// descend walks from root to the leaf table covering v, allocating and
// installing intermediate tables along the way when create is true.
// Returns the leaf table, v's index within it, and the path of
// (parent table, index) steps taken to get there (root first).
func (m *PageMapper) descend(v mem.VirtualAddress, create bool) (PageTable, uint, []tableStep, *kernel.Error) {
	table := m.top()
	var path []tableStep

	for table.level > 0 {
		idx, ok := table.IndexOf(v)
		if !ok {
			return PageTable{}, 0, nil, errMapperOutOfRange
		}
		path = append(path, tableStep{table: table, idx: idx})

		child, present, err := table.Next(idx)
		if err != nil {
			return PageTable{}, 0, nil, err
		}
		if !present {
			if !create {
				return PageTable{}, 0, nil, errMapperNotMapped
			}
			childPhys, err := pmm.AllocateOne(m.alloc)
			if err != nil {
				return PageTable{}, 0, nil, err
			}
			tableFlags := NewTableFlags(m.arch).Write(true)
			if mem.KindOf(v) == mem.KindUser {
				tableFlags = tableFlags.User(true)
			}
			if err := table.SetEntry(idx, Pack(m.arch, childPhys, tableFlags.Data())); err != nil {
				return PageTable{}, 0, nil, err
			}
			child = PageTable{arch: m.arch, base: table.EntryBase(idx), phys: childPhys, level: table.level - 1}
		}
		table = child
	}

	idx, ok := table.IndexOf(v)
	if !ok {
		return PageTable{}, 0, nil, errMapperOutOfRange
	}
	return table, idx, path, nil
}

// MapPhys installs p at v with flags, allocating any missing intermediate
// tables along the way.
func (m *PageMapper) MapPhys(v mem.VirtualAddress, p mem.PhysicalAddress, flags PageFlags) (PageFlush, *kernel.Error) {
	leaf, idx, _, err := m.descend(v, true)
	if err != nil {
		return PageFlush{}, err
	}
	if err := leaf.SetEntry(idx, Pack(m.arch, p, flags.Data())); err != nil {
		return PageFlush{}, err
	}
	return PageFlush{arch: m.arch, v: v}, nil
}

// Map allocates a fresh data frame and maps it at v.
func (m *PageMapper) Map(v mem.VirtualAddress, flags PageFlags) (PageFlush, *kernel.Error) {
	p, err := pmm.AllocateOne(m.alloc)
	if err != nil {
		return PageFlush{}, err
	}
	return m.MapPhys(v, p, flags)
}

// Remap replaces only the flag bits of an existing mapping. It fails
// (no-flush) if v is not currently mapped.
func (m *PageMapper) Remap(v mem.VirtualAddress, flags PageFlags) (PageFlush, *kernel.Error) {
	leaf, idx, _, err := m.descend(v, false)
	if err != nil {
		return PageFlush{}, err
	}
	entry, err := leaf.Entry(idx)
	if err != nil {
		return PageFlush{}, err
	}
	if !entry.Present(m.arch) {
		return PageFlush{}, errMapperNotMapped
	}
	if err := leaf.SetEntry(idx, Pack(m.arch, entry.Address(m.arch), flags.Data())); err != nil {
		return PageFlush{}, err
	}
	return PageFlush{arch: m.arch, v: v}, nil
}

// UnmapPhys zeroes the leaf entry for v and returns the frame address and
// flags it held. If unmapParents, every now-empty intermediate table on
// the path back to the root is freed and its parent entry zeroed too.
func (m *PageMapper) UnmapPhys(v mem.VirtualAddress, unmapParents bool) (mem.PhysicalAddress, uint64, PageFlush, *kernel.Error) {
	leaf, idx, path, err := m.descend(v, false)
	if err != nil {
		return 0, 0, PageFlush{}, err
	}
	entry, err := leaf.Entry(idx)
	if err != nil {
		return 0, 0, PageFlush{}, err
	}
	if !entry.Present(m.arch) {
		return 0, 0, PageFlush{}, errMapperNotMapped
	}
	phys := entry.Address(m.arch)
	flags := entry.Flags(m.arch)

	if err := leaf.SetEntry(idx, PageEntry{}); err != nil {
		return 0, 0, PageFlush{}, err
	}

	if unmapParents {
		for i := len(path) - 1; i >= 0; i-- {
			step := path[i]
			child, present, err := step.table.Next(step.idx)
			if err != nil {
				return 0, 0, PageFlush{}, err
			}
			if !present {
				break
			}
			empty, err := tableIsEmpty(child)
			if err != nil {
				return 0, 0, PageFlush{}, err
			}
			if !empty {
				break
			}
			if err := m.alloc.Free(child.phys, 1); err != nil {
				return 0, 0, PageFlush{}, err
			}
			if err := step.table.SetEntry(step.idx, PageEntry{}); err != nil {
				return 0, 0, PageFlush{}, err
			}
		}
	}

	return phys, flags, PageFlush{arch: m.arch, v: v}, nil
}

// Unmap is UnmapPhys followed by freeing the data frame it held.
func (m *PageMapper) Unmap(v mem.VirtualAddress, unmapParents bool) (PageFlush, *kernel.Error) {
	phys, _, flush, err := m.UnmapPhys(v, unmapParents)
	if err != nil {
		return PageFlush{}, err
	}
	if err := m.alloc.Free(phys, 1); err != nil {
		return PageFlush{}, err
	}
	return flush, nil
}

// MapLinearly maps p at its own linear-map address, phys_to_virt(p) — the
// operation that builds the kernel's direct physical-memory window.
func (m *PageMapper) MapLinearly(p mem.PhysicalAddress, flags PageFlags) (PageFlush, *kernel.Error) {
	return m.MapPhys(m.arch.PhysToVirt(p), p, flags)
}

// Translate reports the physical address and flags v currently maps to.
func (m *PageMapper) Translate(v mem.VirtualAddress) (mem.PhysicalAddress, uint64, bool, *kernel.Error) {
	leaf, idx, _, err := m.descend(v, false)
	if err == errMapperNotMapped || err == errMapperOutOfRange {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, err
	}
	entry, err := leaf.Entry(idx)
	if err != nil {
		return 0, 0, false, err
	}
	if !entry.Present(m.arch) {
		return 0, 0, false, nil
	}
	return entry.Address(m.arch), entry.Flags(m.arch), true, nil
}

func tableIsEmpty(t PageTable) (bool, *kernel.Error) {
	for i := uint(0); i < mem.PageEntries; i++ {
		e, err := t.Entry(i)
		if err != nil {
			return false, err
		}
		if e.Present(t.arch) {
			return false, nil
		}
	}
	return true, nil
}
