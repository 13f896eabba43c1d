package vmm

import "rmm/mem/arch"

// PageFlags is the typed, architecture-parameterized flag builder of
// SPEC_FULL.md §3: it hides per-architecture flag polarity behind
// Write/Execute/User/Present toggles, each of which sets the bit for the
// affirmative side of the pair and clears the bit for the negative side
// (both as this architecture defines them — a polarity side this
// architecture has no distinct bit for is 0, the identity value under
// both set and clear, so toggling it is a no-op).
type PageFlags struct {
	arch arch.Arch
	bits uint64
}

// NewPageFlags returns the default flags for an ordinary data page:
// present, kernel, read-only, non-executable.
func NewPageFlags(a arch.Arch) PageFlags {
	return PageFlags{arch: a, bits: a.FlagDefaultPage()}.Execute(false)
}

// NewTableFlags returns the default flags for a table-pointer entry:
// present, kernel, read-only, non-executable, plus any arch-required
// TABLE marker folded into FlagDefaultTable.
func NewTableFlags(a arch.Arch) PageFlags {
	return PageFlags{arch: a, bits: a.FlagDefaultTable()}
}

// Data returns the raw flag word.
func (f PageFlags) Data() uint64 { return f.bits }

func (f PageFlags) Present(p bool) PageFlags {
	if p {
		f.bits |= f.arch.FlagPresent()
	} else {
		f.bits &^= f.arch.FlagPresent()
	}
	return f
}

// Write sets the writable side of the READONLY/READWRITE pair when w is
// true, the read-only side otherwise.
func (f PageFlags) Write(w bool) PageFlags {
	if w {
		f.bits = (f.bits &^ f.arch.FlagReadOnly()) | f.arch.FlagReadWrite()
	} else {
		f.bits = (f.bits &^ f.arch.FlagReadWrite()) | f.arch.FlagReadOnly()
	}
	return f
}

// Execute sets the executable side of the NOEXEC/EXEC pair when x is true,
// the non-executable side otherwise.
func (f PageFlags) Execute(x bool) PageFlags {
	if x {
		f.bits = (f.bits | f.arch.FlagExec()) &^ f.arch.FlagNoExec()
	} else {
		f.bits = (f.bits | f.arch.FlagNoExec()) &^ f.arch.FlagExec()
	}
	return f
}

// User sets or clears user-accessibility.
func (f PageFlags) User(u bool) PageFlags {
	if u {
		f.bits |= f.arch.FlagUser()
	} else {
		f.bits &^= f.arch.FlagUser()
	}
	return f
}
