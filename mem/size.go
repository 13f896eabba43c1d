package mem

// Page geometry shared by every architecture this module targets. PAGE_SHIFT
// and PAGE_ENTRY_SHIFT are constant across x86-64, aarch64 and RISC-V
// Sv39/Sv48 (see the flag-semantics table in SPEC_FULL.md §6); only
// PAGE_LEVELS and the entry address field's width and position vary, and
// those live on the arch.Arch implementation instead.
const (
	PageShift      = 12
	PageSize       = 1 << PageShift
	PageEntryShift = 9
	PageEntries    = 1 << PageEntryShift
	// PageEntrySize is the width in bytes of one page-table entry (one
	// machine word on every architecture this module targets).
	PageEntrySize = 8
)

// FrameCount measures physical page frames, never bytes.
type FrameCount uint64

// FrameUsage reports how many of a total frame pool are currently handed
// out.
type FrameUsage struct {
	Used  FrameCount
	Total FrameCount
}

// Free returns the number of frames not currently allocated.
func (u FrameUsage) Free() FrameCount {
	return u.Total - u.Used
}
