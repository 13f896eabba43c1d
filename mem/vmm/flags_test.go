package vmm

import (
	"testing"

	"rmm/mem/arch"
)

func TestPageFlagsPolarityNormalization(t *testing.T) {
	e := arch.NewEmulate()
	if _, err := e.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	f := NewPageFlags(e)
	if f.Data()&e.FlagPresent() == 0 {
		t.Fatal("expected default page flags to be present")
	}
	if f.Data()&e.FlagReadWrite() != 0 {
		t.Fatal("expected default page flags to be read-only (no writable bit)")
	}

	writable := f.Write(true)
	if writable.Data()&e.FlagReadWrite() == 0 {
		t.Fatal("expected Write(true) to set the writable bit")
	}

	readOnlyAgain := writable.Write(false)
	if readOnlyAgain.Data()&e.FlagReadWrite() != 0 {
		t.Fatal("expected Write(false) to clear the writable bit")
	}

	userFlags := f.User(true)
	if userFlags.Data()&e.FlagUser() == 0 {
		t.Fatal("expected User(true) to set the user bit")
	}

	// Re-applying the default non-executable side clears FlagExec, the
	// polarity side this backend has no distinct bit for (FlagExec and
	// FlagReadOnly on Emulate are both 0); that must be a genuine no-op
	// rather than corrupt unrelated bits.
	before := f.Data()
	after := f.Execute(false).Data()
	if after&^e.FlagExec() != before {
		t.Fatalf("Execute(false) perturbed unrelated bits: before=%#x after=%#x", before, after)
	}
}

func TestPageEntryPackAndUnpack(t *testing.T) {
	e := arch.NewEmulate()
	if _, err := e.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	flags := NewPageFlags(e).Write(true).User(true)
	entry := Pack(e, arch.EmulateRAMBase, flags.Data())

	if !entry.Present(e) {
		t.Fatal("expected packed entry to read as present")
	}
	if got := entry.Address(e); got != arch.EmulateRAMBase {
		t.Fatalf("Address() = %#x, want %#x", got.Data(), arch.EmulateRAMBase.Data())
	}
	if got := entry.Flags(e); got != flags.Data() {
		t.Fatalf("Flags() = %#x, want %#x", got, flags.Data())
	}
}
