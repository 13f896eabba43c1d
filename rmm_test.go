// Package rmm_test is a black-box, end-to-end exercise of the whole
// manager: boot an emulated machine, build a fresh linear-mapped table over
// it, activate it, hand the remainder to a buddy allocator, and round-trip
// a few physical addresses through the result. It mirrors the bootstrap
// sequence original_source/src/main.rs's new_tables/inner demonstrate
// against its own hosted emulator, adapted to this module's API instead of
// reproduced as a CLI (out of scope per SPEC_FULL.md §1).
package rmm_test

import (
	"testing"

	"rmm/mem"
	"rmm/mem/arch"
	"rmm/mem/pmm"
	"rmm/mem/pmm/allocator"
	"rmm/mem/vmm"
)

// TestEndToEndBoot walks SPEC_FULL.md §8's lifecycle end to end: Bump
// bootstraps a fresh PageMapper's linear map, the mapper is activated, and
// Buddy consumes whatever Bump has not yet handed out.
func TestEndToEndBoot(t *testing.T) {
	e := arch.NewEmulate()
	areas, err := e.Init()
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	bump := allocator.NewBumpAllocator(e, areas, 0)

	m, err := vmm.Create(e, bump)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	flags := vmm.NewPageFlags(e).Write(true)

	// Linearly map a representative sample of each area's frames rather
	// than all of them — enough to exercise every table level
	// without the test doing tens of thousands of redundant iterations.
	const framesPerArea = 8
	var sample []mem.PhysicalAddress
	for _, area := range areas {
		pages := area.Pages()
		for i := mem.FrameCount(0); i < framesPerArea && i < pages; i++ {
			phys := area.Base.Add(uint64(i) * mem.PageSize)
			flush, err := m.MapLinearly(phys, flags)
			if err != nil {
				t.Fatalf("MapLinearly(%#x): %v", phys.Data(), err)
			}
			flush.Flush()
			sample = append(sample, phys)
		}
	}

	m.MakeCurrent(mem.KindKernel)
	if !m.IsCurrent(mem.KindKernel) {
		t.Fatal("expected mapper to report current after MakeCurrent")
	}

	for _, phys := range sample {
		got, flagsGot, ok, err := m.Translate(e.PhysToVirt(phys))
		if err != nil {
			t.Fatalf("Translate(%#x): %v", phys.Data(), err)
		}
		if !ok {
			t.Fatalf("expected %#x to translate after activation", phys.Data())
		}
		if got != phys {
			t.Fatalf("Translate(%#x) address = %#x", phys.Data(), got.Data())
		}
		if flagsGot != flags.Data() {
			t.Fatalf("Translate(%#x) flags = %#x, want %#x", phys.Data(), flagsGot, flags.Data())
		}
	}

	// Scenario 1: read/write through the now-active linear map. The probe
	// frame is allocated fresh, after every sampled frame above and after
	// every intermediate table page the mapping loop needed — sample[0]
	// itself is not safe to use here, since bump hands out area[0]'s very
	// first frame to the mapper's own root table, and that frame now holds
	// page-table entries rather than zeroed data.
	probePhys, err := pmm.AllocateOne(bump)
	if err != nil {
		t.Fatalf("AllocateOne (probe frame): %v", err)
	}
	probeFlush, err := m.MapLinearly(probePhys, flags)
	if err != nil {
		t.Fatalf("MapLinearly (probe frame): %v", err)
	}
	probeFlush.Flush()

	v := e.PhysToVirt(probePhys)
	before, err := e.ReadWord(v)
	if err != nil {
		t.Fatalf("ReadWord: %v", err)
	}
	if before != 0 {
		t.Fatalf("expected a freshly mapped frame to read as zero, got %#x", before)
	}
	if err := e.WriteWord(v, 0x5A); err != nil {
		t.Fatalf("WriteWord: %v", err)
	}
	after, err := e.ReadWord(v)
	if err != nil {
		t.Fatalf("ReadWord after write: %v", err)
	}
	if after != 0x5A {
		t.Fatalf("ReadWord after write = %#x, want 0x5A", after)
	}

	// Buddy now consumes whatever frames Bump has not yet handed to the
	// linear-map bootstrap above (its root table and every intermediate
	// table the sampled MapLinearly calls required). clearFrees is false:
	// zeroing on free would write every frame past the bump cursor through
	// the active linear map, which covers only the sampled frames.
	buddy, err := allocator.NewBuddyAllocator(e, bump, false)
	if err != nil {
		t.Fatalf("NewBuddyAllocator: %v", err)
	}

	usage := buddy.Usage()
	if usage.Free() == 0 {
		t.Fatal("expected buddy to inherit some free frames from the remaining areas")
	}

	f, err := pmm.AllocateOne(buddy)
	if err != nil {
		t.Fatalf("AllocateOne: %v", err)
	}
	if !f.IsPageAligned() {
		t.Fatalf("allocated frame %#x is not page aligned", f.Data())
	}
	if err := pmm.FreeOne(buddy, f); err != nil {
		t.Fatalf("FreeOne: %v", err)
	}
	if buddy.Usage() != usage {
		t.Fatalf("Usage() after alloc/free round trip = %+v, want %+v", buddy.Usage(), usage)
	}
}
