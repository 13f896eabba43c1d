package mem

// PhysicalAddress is an opaque machine-word physical memory address. It is
// totally ordered via the built-in comparison operators once converted to
// its underlying type, and carries no notion of the translation that
// produced it.
type PhysicalAddress uint64

// Data returns the raw address value.
func (p PhysicalAddress) Data() uint64 { return uint64(p) }

// Add returns p offset by the given number of bytes.
func (p PhysicalAddress) Add(offset uint64) PhysicalAddress {
	return PhysicalAddress(uint64(p) + offset)
}

// IsPageAligned reports whether p is a multiple of PageSize.
func (p PhysicalAddress) IsPageAligned() bool {
	return uint64(p)&(PageSize-1) == 0
}

// VirtualAddress is an opaque machine-word virtual memory address.
type VirtualAddress uint64

// Data returns the raw address value.
func (v VirtualAddress) Data() uint64 { return uint64(v) }

// Add returns v offset by the given number of bytes.
func (v VirtualAddress) Add(offset uint64) VirtualAddress {
	return VirtualAddress(uint64(v) + offset)
}

// IsPageAligned reports whether v is a multiple of PageSize.
func (v VirtualAddress) IsPageAligned() bool {
	return uint64(v)&(PageSize-1) == 0
}

// IsNegative reports whether the word, read as signed, is negative — i.e.
// its top bit is set. This is the test TableKind uses to tell the high
// (kernel) half of the address space from the low (user) half on
// architectures that split address space by sign bit.
func (v VirtualAddress) IsNegative() bool {
	return int64(v) < 0
}
