package allocator

import (
	"rmm/kernel"
	"rmm/mem"
	"rmm/mem/arch"
)

const (
	// buddyEntrySize is the width of one BuddyEntry{base, size, map} —
	// three machine words, laid out as ordinary fields rather than a
	// packed struct per design note §9 ("constrain BuddyEntry to three
	// machine-word fields with standard layout rather than packed").
	buddyEntrySize = 3 * mem.PageEntrySize
	buddyEntries   = mem.PageSize / buddyEntrySize

	// Each map page is PAGE_SIZE - sizeof(footer) bytes of bitmap
	// followed by a BuddyMapFooter{next}, one machine word.
	buddyMapBitmapBytes = mem.PageSize - mem.PageEntrySize
	buddyMapWords       = buddyMapBitmapBytes / mem.PageEntrySize
	buddyMapPageBits     = buddyMapWords * 64
)

var (
	errBuddyTableFull      = &kernel.Error{Module: "pmm/buddy", Message: "buddy table has no empty slot and no adjacent entry to coalesce into"}
	errBuddyExhausted      = &kernel.Error{Module: "pmm/buddy", Message: "no run of the requested length is free"}
	errBuddyNoRegion       = &kernel.Error{Module: "pmm/buddy", Message: "freed range is not contained in any known region"}
	errBuddyChainExhausted = &kernel.Error{Module: "pmm/buddy", Message: "map chain ended before covering the freed range"}
)

// buddyEntry is one row of the buddy table: a contiguous physical region
// after coalescing, plus the head of its bitmap chain. Map == 0 marks an
// empty slot.
type buddyEntry struct {
	Base mem.PhysicalAddress
	Size uint64
	Map  mem.PhysicalAddress
}

// bitPos names one bit of a region's logical bitstream: which map page
// holds it, its index within that page's bitmap, and the frame it covers.
// Allocate and Free both walk this same sequence (via iterateBits) instead
// of duplicating the chain-walk, per design note §9.
type bitPos struct {
	mapPage   mem.PhysicalAddress
	bitInPage uint64
	frame     mem.PhysicalAddress
}

// BuddyAllocator is the per-region bitmap free-frame allocator of
// SPEC_FULL.md §4.3. Its own metadata — one buddy-table page and a chain of
// map pages per region — is carved out of the regions it is about to manage
// by the BumpAllocator it is constructed from.
type BuddyAllocator struct {
	arch       arch.Arch
	tablePhys  mem.PhysicalAddress
	clearFrees bool

	totalFrames mem.FrameCount
	usedFrames  mem.FrameCount
}

// NewBuddyAllocator consumes bump: it carves the buddy table and every
// region's map-page chain from bump, then frees every frame bump has not
// yet handed out into the new allocator. bump must not be used again
// afterwards (SPEC_FULL.md §3 lifecycle: "Bump is then dropped").
func NewBuddyAllocator(a arch.Arch, bump *BumpAllocator, clearFrees bool) (*BuddyAllocator, *kernel.Error) {
	tablePhys, err := bump.Allocate(1)
	if err != nil {
		return nil, err
	}

	b := &BuddyAllocator{arch: a, tablePhys: tablePhys, clearFrees: clearFrees}

	for _, area := range bump.Areas() {
		if area.Size == 0 {
			continue
		}
		if err := b.insertArea(area); err != nil {
			return nil, err
		}
	}

	for i := 0; i < buddyEntries; i++ {
		entry, err := b.readEntry(i)
		if err != nil {
			return nil, err
		}
		if entry.Size == 0 {
			continue
		}

		pages := entry.Size / mem.PageSize
		b.totalFrames += mem.FrameCount(pages)
		mapPagesNeeded := (pages + buddyMapPageBits - 1) / buddyMapPageBits

		var head, tail mem.PhysicalAddress
		for k := uint64(0); k < mapPagesNeeded; k++ {
			mp, err := bump.Allocate(1)
			if err != nil {
				return nil, err
			}
			if head == 0 {
				head = mp
			} else {
				if err := b.writeFooter(tail, mp); err != nil {
					return nil, err
				}
			}
			tail = mp
		}
		if tail != 0 {
			if err := b.writeFooter(tail, 0); err != nil {
				return nil, err
			}
		}
		entry.Map = head
		if err := b.writeEntry(i, entry); err != nil {
			return nil, err
		}
	}

	// All frames are reserved (table + maps + whatever bump.Offset()
	// already covers) until we explicitly free what lies past the final
	// cursor.
	b.usedFrames = b.totalFrames

	if err := b.freePastOffset(bump); err != nil {
		return nil, err
	}

	return b, nil
}

// insertArea coalesces area into an adjacent existing entry, or inserts it
// into the first empty slot.
func (b *BuddyAllocator) insertArea(area mem.MemoryArea) *kernel.Error {
	for i := 0; i < buddyEntries; i++ {
		entry, err := b.readEntry(i)
		if err != nil {
			return err
		}
		if entry.Size == 0 {
			continue
		}
		if entry.Base.Add(entry.Size) == area.Base {
			entry.Size += area.Size
			return b.writeEntry(i, entry)
		}
		if area.Base.Add(area.Size) == entry.Base {
			entry.Base = area.Base
			entry.Size += area.Size
			return b.writeEntry(i, entry)
		}
	}

	for i := 0; i < buddyEntries; i++ {
		entry, err := b.readEntry(i)
		if err != nil {
			return err
		}
		if entry.Size == 0 {
			return b.writeEntry(i, buddyEntry{Base: area.Base, Size: area.Size})
		}
	}

	return errBuddyTableFull
}

// freePastOffset walks bump's areas in list order and frees every byte past
// bump's final cursor — the frames that were never handed to the buddy
// table or its map pages.
func (b *BuddyAllocator) freePastOffset(bump *BumpAllocator) *kernel.Error {
	offset := bump.Offset()
	var cum uint64
	for _, area := range bump.Areas() {
		areaStart, areaEnd := cum, cum+area.Size
		cum = areaEnd

		if offset >= areaEnd {
			continue
		}
		freeStart := area.Base
		if offset > areaStart {
			freeStart = area.Base.Add(offset - areaStart)
		}
		freeSize := areaEnd - max64(offset, areaStart)
		if freeSize == 0 {
			continue
		}
		if err := b.Free(freeStart, mem.FrameCount(freeSize/mem.PageSize)); err != nil {
			return err
		}
	}
	return nil
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func (b *BuddyAllocator) entryAddr(i int) mem.PhysicalAddress {
	return b.tablePhys.Add(uint64(i) * buddyEntrySize)
}

func (b *BuddyAllocator) readEntry(i int) (buddyEntry, *kernel.Error) {
	v := b.arch.PhysToVirt(b.entryAddr(i))
	base, err := b.arch.ReadWord(v)
	if err != nil {
		return buddyEntry{}, err
	}
	size, err := b.arch.ReadWord(v.Add(8))
	if err != nil {
		return buddyEntry{}, err
	}
	mapHead, err := b.arch.ReadWord(v.Add(16))
	if err != nil {
		return buddyEntry{}, err
	}
	return buddyEntry{Base: mem.PhysicalAddress(base), Size: size, Map: mem.PhysicalAddress(mapHead)}, nil
}

func (b *BuddyAllocator) writeEntry(i int, e buddyEntry) *kernel.Error {
	v := b.arch.PhysToVirt(b.entryAddr(i))
	if err := b.arch.WriteWord(v, e.Base.Data()); err != nil {
		return err
	}
	if err := b.arch.WriteWord(v.Add(8), e.Size); err != nil {
		return err
	}
	if err := b.arch.WriteWord(v.Add(16), e.Map.Data()); err != nil {
		return err
	}
	return nil
}

func (b *BuddyAllocator) readMapWord(mapPage mem.PhysicalAddress, wordIdx uint64) (uint64, *kernel.Error) {
	v := b.arch.PhysToVirt(mapPage.Add(wordIdx * 8))
	return b.arch.ReadWord(v)
}

func (b *BuddyAllocator) writeMapWord(mapPage mem.PhysicalAddress, wordIdx uint64, val uint64) *kernel.Error {
	v := b.arch.PhysToVirt(mapPage.Add(wordIdx * 8))
	return b.arch.WriteWord(v, val)
}

func (b *BuddyAllocator) readFooter(mapPage mem.PhysicalAddress) (mem.PhysicalAddress, *kernel.Error) {
	v := b.arch.PhysToVirt(mapPage.Add(buddyMapBitmapBytes))
	next, err := b.arch.ReadWord(v)
	return mem.PhysicalAddress(next), err
}

func (b *BuddyAllocator) writeFooter(mapPage mem.PhysicalAddress, next mem.PhysicalAddress) *kernel.Error {
	v := b.arch.PhysToVirt(mapPage.Add(buddyMapBitmapBytes))
	return b.arch.WriteWord(v, next.Data())
}

// bitValue reads bit bitInPage of mapPage's bitmap. Bits are addressed one
// 64-bit word at a time — an implementation detail of the word-oriented
// Arch primitives, not a change to the externally observable bit ordering
// spec §4.3 describes (bit i still corresponds to frame region.base + i ·
// PAGE_SIZE).
func (b *BuddyAllocator) bitValue(mapPage mem.PhysicalAddress, bitInPage uint64) (bool, *kernel.Error) {
	word, err := b.readMapWord(mapPage, bitInPage/64)
	if err != nil {
		return false, err
	}
	return word&(uint64(1)<<(bitInPage%64)) != 0, nil
}

func (b *BuddyAllocator) setBit(mapPage mem.PhysicalAddress, bitInPage uint64, val bool) *kernel.Error {
	wordIdx := bitInPage / 64
	word, err := b.readMapWord(mapPage, wordIdx)
	if err != nil {
		return err
	}
	bit := uint64(1) << (bitInPage % 64)
	if val {
		word |= bit
	} else {
		word &^= bit
	}
	return b.writeMapWord(mapPage, wordIdx, word)
}

// iterateBits walks entry's logical bitstream in ascending frame order,
// following the map-page chain from head to tail, calling visit for each
// bit until it returns stop=true or the chain runs out.
func (b *BuddyAllocator) iterateBits(entry buddyEntry, visit func(pos bitPos) (stop bool, err *kernel.Error)) *kernel.Error {
	totalFrames := entry.Size / mem.PageSize
	mapPage := entry.Map
	frameIdx := uint64(0)

	for mapPage != 0 && frameIdx < totalFrames {
		for bitInPage := uint64(0); bitInPage < buddyMapPageBits && frameIdx < totalFrames; bitInPage++ {
			pos := bitPos{mapPage: mapPage, bitInPage: bitInPage, frame: entry.Base.Add(frameIdx * mem.PageSize)}
			stop, err := visit(pos)
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
			frameIdx++
		}
		next, err := b.readFooter(mapPage)
		if err != nil {
			return err
		}
		mapPage = next
	}
	return nil
}

// Allocate scans buddy entries in order, first-fit, low-to-high, for a run
// of count consecutive free bits; see SPEC_FULL.md §4.3 for the exact
// numeric semantics (no best-fit, no cross-region coalescing, PAGE_SIZE
// alignment only).
func (b *BuddyAllocator) Allocate(count mem.FrameCount) (mem.PhysicalAddress, *kernel.Error) {
	if count == 0 {
		return 0, errBuddyExhausted
	}

	for i := 0; i < buddyEntries; i++ {
		entry, err := b.readEntry(i)
		if err != nil {
			return 0, err
		}
		if entry.Size == 0 {
			continue
		}

		found, err := b.findRun(entry, uint64(count))
		if err != nil {
			return 0, err
		}
		if found == nil {
			continue
		}

		if err := b.clearRun(entry, *found, uint64(count)); err != nil {
			return 0, err
		}
		b.usedFrames += count
		return found.frame, nil
	}

	return 0, errBuddyExhausted
}

func (b *BuddyAllocator) findRun(entry buddyEntry, count uint64) (*bitPos, *kernel.Error) {
	var runStart *bitPos
	var runLen uint64
	var found *bitPos

	err := b.iterateBits(entry, func(pos bitPos) (bool, *kernel.Error) {
		free, err := b.bitValue(pos.mapPage, pos.bitInPage)
		if err != nil {
			return false, err
		}
		if free {
			if runLen == 0 {
				p := pos
				runStart = &p
			}
			runLen++
			if runLen == count {
				found = runStart
				return true, nil
			}
		} else {
			runLen = 0
			runStart = nil
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (b *BuddyAllocator) clearRun(entry buddyEntry, start bitPos, count uint64) *kernel.Error {
	started := false
	var cleared uint64
	return b.iterateBits(entry, func(pos bitPos) (bool, *kernel.Error) {
		if !started {
			if pos.mapPage == start.mapPage && pos.bitInPage == start.bitInPage {
				started = true
			} else {
				return false, nil
			}
		}
		if err := b.setBit(pos.mapPage, pos.bitInPage, false); err != nil {
			return false, err
		}
		v := b.arch.PhysToVirt(pos.frame)
		if err := b.arch.WriteBytes(v, 0, mem.PageSize); err != nil {
			return false, err
		}
		cleared++
		return cleared == count, nil
	})
}

// Free returns count frames starting at base. The frames must lie entirely
// within a single buddy-table entry (no cross-region leak); finding a null
// next link before covering the whole range is an invariant violation per
// SPEC_FULL.md §7 and §9(c), not a recoverable error.
func (b *BuddyAllocator) Free(base mem.PhysicalAddress, count mem.FrameCount) *kernel.Error {
	size := uint64(count) * mem.PageSize

	for i := 0; i < buddyEntries; i++ {
		entry, err := b.readEntry(i)
		if err != nil {
			return err
		}
		if entry.Size == 0 || !entry.contains(base, size) {
			continue
		}

		startFrameIdx := (base.Data() - entry.Base.Data()) / mem.PageSize
		var freed uint64
		err = b.iterateBits(entry, func(pos bitPos) (bool, *kernel.Error) {
			idx := (pos.frame.Data() - entry.Base.Data()) / mem.PageSize
			if idx < startFrameIdx {
				return false, nil
			}
			if b.clearFrees {
				v := b.arch.PhysToVirt(pos.frame)
				if err := b.arch.WriteBytes(v, 0, mem.PageSize); err != nil {
					return false, err
				}
			}
			if err := b.setBit(pos.mapPage, pos.bitInPage, true); err != nil {
				return false, err
			}
			freed++
			return freed == uint64(count), nil
		})
		if err != nil {
			return err
		}
		if freed != uint64(count) {
			kernel.Panic(errBuddyChainExhausted)
			return errBuddyChainExhausted
		}
		b.usedFrames -= count
		return nil
	}

	kernel.Panic(errBuddyNoRegion)
	return errBuddyNoRegion
}

// Usage reports frame counts across every region.
func (b *BuddyAllocator) Usage() mem.FrameUsage {
	return mem.FrameUsage{Used: b.usedFrames, Total: b.totalFrames}
}

func (e buddyEntry) contains(base mem.PhysicalAddress, size uint64) bool {
	return mem.MemoryArea{Base: e.Base, Size: e.Size}.Contains(base, size)
}
