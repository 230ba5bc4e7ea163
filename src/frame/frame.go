// Package frame is the kernel's physical frame allocator (spec.md §4.1).
// It tracks a watermark over a fixed physical region plus an intrusive
// LIFO free list: a freed frame's first machine word is overwritten with
// the PPN of the previously freed frame, so the free list costs no
// separate bookkeeping allocation. Grounded on original_source's
// LinkedStackFrameAllocator (os/src/mm/frame.rs): current/end plus a
// recycled_head option, alloc popping recycled_head before advancing
// current, dealloc validating the PPN range before linking the frame
// onto the head of the list.
package frame

import (
	"fmt"
	"sync"

	"defs"
	"klog"
	"sysconf"
)

// physMem backs every frame this kernel ever hands out. Real hardware
// has no such array; a freestanding build instead points Bytes at the
// directly-mapped physical range the teacher's mem.Dmap describes. Tests
// and the cmd/kernel simulator share this same allocator code either way.
var physMem = make([]byte, sysconf.MaxFrames*sysconf.PageSize)

// Ppn is a physical page number: physMem[ppn*PageSize : (ppn+1)*PageSize]
// is the frame's storage.
type Ppn uint64

type allocator struct {
	mu           sync.Mutex
	current      Ppn
	end          Ppn
	recycledHead Ppn
	hasRecycled  bool
	allocated    map[Ppn]bool
}

var a = &allocator{
	current: 1, // PPN 0 is reserved, matching the teacher's convention of never handing out frame zero
	end:     Ppn(sysconf.MaxFrames),
	allocated: make(map[Ppn]bool),
}

// Frame owns exactly one physical page. Unlike the Rust original's Drop
// impl, Go has no deterministic destructors, so callers must call Free
// explicitly; no finalizer is installed, so a Frame that is never freed
// stays allocated.
type Frame struct {
	Ppn  Ppn
	freed bool
}

// Alloc removes one frame from the pool: the recycled list if non-empty,
// otherwise the next frame below end. Returns defs.EOOM if the pool is
// exhausted.
func Alloc() (*Frame, defs.Err_t) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var ppn Ppn
	if a.hasRecycled {
		ppn = a.recycledHead
		next := Ppn(readLink(ppn))
		if next == ppn {
			a.hasRecycled = false
		} else {
			a.recycledHead = next
		}
	} else {
		if a.current >= a.end {
			return nil, defs.EOOM
		}
		ppn = a.current
		a.current++
	}
	a.allocated[ppn] = true
	clearFrame(ppn)
	f := &Frame{Ppn: ppn}
	return f, defs.EOK
}

// Free returns f's frame to the allocator, writing the previous
// recycled-list head into the frame's own first word before making f
// the new head. A second Free on the same Frame value is a no-op; freeing
// a ppn that is not currently allocated (for instance through a second
// Frame value for the same page) is a fatal error: the teacher's
// check_allocated guard in frame.rs exists for exactly this bug class.
func (f *Frame) Free() {
	if f == nil || f.freed {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.allocated[f.Ppn] {
		klog.Fatal(fmt.Sprintf("frame: double free of ppn %d", f.Ppn))
	}
	delete(a.allocated, f.Ppn)

	if a.hasRecycled {
		writeLink(f.Ppn, uint64(a.recycledHead))
	} else {
		writeLink(f.Ppn, uint64(f.Ppn))
	}
	a.recycledHead = f.Ppn
	a.hasRecycled = true
	f.freed = true
}

// Bytes returns the page-sized slice backing ppn, standing in for the
// teacher's Dmap direct-map accessor (mem.Dmap(pa) in mem/dmap.go).
func Bytes(ppn Ppn) []byte {
	off := uint64(ppn) * sysconf.PageSize
	return physMem[off : off+sysconf.PageSize]
}

func readLink(ppn Ppn) uint64 {
	b := Bytes(ppn)
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * uint(i))
	}
	return v
}

func writeLink(ppn Ppn, v uint64) {
	b := Bytes(ppn)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}

func clearFrame(ppn Ppn) {
	b := Bytes(ppn)
	for i := range b {
		b[i] = 0
	}
}

// Reserve carves out n frames below the watermark for identity-mapped
// kernel use (the trampoline page, early boot structures) before any
// Alloc call, mirroring Phys_init's practice of reserving the kernel
// image's own frames ahead of handing the rest to the allocator.
func Reserve(n int) []Ppn {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Ppn, 0, n)
	for i := 0; i < n && a.current < a.end; i++ {
		out = append(out, a.current)
		a.current++
	}
	return out
}

// NumFree reports the number of frames still obtainable, used by tests.
func NumFree() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	free := int(a.end - a.current)
	if !a.hasRecycled {
		return free
	}
	free++
	for cur, next := a.recycledHead, Ppn(readLink(a.recycledHead)); next != cur; {
		free++
		cur, next = next, Ppn(readLink(next))
	}
	return free
}
