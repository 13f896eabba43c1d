package allocator

import (
	"testing"

	"rmm/mem"
	"rmm/mem/arch"
)

func newEmulatedArch(t *testing.T) arch.Emulate {
	t.Helper()
	e := arch.NewEmulate()
	if _, err := e.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return e
}

// TestBumpExhaustion is SPEC_FULL.md §8 scenario 2: a single 3-frame region
// yields exactly three single-frame allocations before failing.
func TestBumpExhaustion(t *testing.T) {
	e := newEmulatedArch(t)
	base := arch.EmulateRAMBase
	area := mem.MemoryArea{Base: base, Size: 3 * mem.PageSize}
	b := NewBumpAllocator(e, []mem.MemoryArea{area}, 0)

	for i := 0; i < 3; i++ {
		got, err := b.Allocate(1)
		if err != nil {
			t.Fatalf("allocation %d: unexpected error %v", i, err)
		}
		want := base.Add(uint64(i) * mem.PageSize)
		if got != want {
			t.Fatalf("allocation %d: got %#x, want %#x", i, got.Data(), want.Data())
		}
	}

	if _, err := b.Allocate(1); err == nil {
		t.Fatal("expected the fourth allocation to fail")
	}
}

func TestBumpUsage(t *testing.T) {
	e := newEmulatedArch(t)
	area := mem.MemoryArea{Base: arch.EmulateRAMBase, Size: 4 * mem.PageSize}
	b := NewBumpAllocator(e, []mem.MemoryArea{area}, 0)

	if u := b.Usage(); u.Used != 0 || u.Total != 4 {
		t.Fatalf("initial usage = %+v, want {0 4}", u)
	}

	if _, err := b.Allocate(1); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	if u := b.Usage(); u.Used != 1 || u.Free() != 3 {
		t.Fatalf("usage after one allocation = %+v", u)
	}
}

func TestBumpMultiFrameUnsupported(t *testing.T) {
	e := newEmulatedArch(t)
	area := mem.MemoryArea{Base: arch.EmulateRAMBase, Size: 4 * mem.PageSize}
	b := NewBumpAllocator(e, []mem.MemoryArea{area}, 0)

	if _, err := b.Allocate(2); err == nil {
		t.Fatal("expected multi-frame allocation to be rejected")
	}
}

// BumpAllocator.Free is not exercised here: it is a fatal path that calls
// kernel.Panic, which halts rather than unwinds (see kernel/panic_test.go,
// the one place in this module that exercises Panic, with haltFn mocked).
