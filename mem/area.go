package mem

// MemoryArea describes one contiguous, page-aligned run of physical memory
// that the boot environment has handed to the kernel. The boot-provided list
// of areas is immutable and lives for the lifetime of the process; areas do
// not overlap.
type MemoryArea struct {
	Base PhysicalAddress
	Size uint64
}

// End returns the address one past the last byte of the area.
func (a MemoryArea) End() PhysicalAddress {
	return a.Base.Add(a.Size)
}

// Pages returns the number of whole page frames the area covers.
func (a MemoryArea) Pages() FrameCount {
	return FrameCount(a.Size / PageSize)
}

// Contains reports whether the half-open range [base, base+size) lies
// entirely within the area.
func (a MemoryArea) Contains(base PhysicalAddress, size uint64) bool {
	if base.Data() < a.Base.Data() {
		return false
	}
	end := base.Add(size)
	return end.Data() <= a.End().Data() && end.Data() >= base.Data()
}
