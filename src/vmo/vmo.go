// Package vmo implements virtual memory objects (spec.md §4.2): the
// named owner of a sequence of backing pages that an address space's
// mappings point into. Physical wraps a static physical range (used for
// the trampoline and other identity regions, analogous to the teacher's
// mem.Physmem identity map); Paged owns a sequence of frame.Frame
// allocated from the frame package.
package vmo

import (
	"defs"
	"frame"
	"sysconf"
	"util"
)

// Vmo is satisfied by both variants.
type Vmo interface {
	PageCount() int
	GetPage(index int) (frame.Ppn, defs.Err_t)
	Read(offset int, buf []byte) int
	Write(offset int, buf []byte) int
}

// Physical covers a fixed run of physical pages this VMO does not own
// (no frame is ever freed on its behalf). FromRange builds one from a
// byte range.
type Physical struct {
	basePage int
	pages    int
}

// FromRange returns a shared Physical VMO covering [base, end), rounded
// out to whole pages (spec.md §4.2).
func FromRange(base, end uint64) *Physical {
	bp := int(base >> sysconf.PageShift)
	ep := int(util.Roundup(int(end), sysconf.PageSize) >> sysconf.PageShift)
	return &Physical{basePage: bp, pages: ep - bp}
}

func (p *Physical) PageCount() int { return p.pages }

func (p *Physical) GetPage(index int) (frame.Ppn, defs.Err_t) {
	if index < 0 || index >= p.pages {
		return 0, defs.EOUTOFRANGE
	}
	return frame.Ppn(p.basePage + index), defs.EOK
}

func (p *Physical) Read(offset int, buf []byte) int {
	return copyPages(p, offset, buf, false)
}

func (p *Physical) Write(offset int, buf []byte) int {
	return copyPages(p, offset, buf, true)
}

// Paged owns n zeroed frames, freed when the VMO itself is dropped (its
// Close method, since Go has no destructors).
type Paged struct {
	frames []*frame.Frame
}

// NewPaged allocates n zeroed frames, failing with defs.EOOM and
// releasing any frames already taken if the pool runs out partway
// through (spec.md §4.2's new_paged).
func NewPaged(n int) (*Paged, defs.Err_t) {
	pg := &Paged{frames: make([]*frame.Frame, 0, n)}
	for i := 0; i < n; i++ {
		f, err := frame.Alloc()
		if err != defs.EOK {
			pg.Close()
			return nil, err
		}
		pg.frames = append(pg.frames, f)
	}
	return pg, defs.EOK
}

func (p *Paged) PageCount() int { return len(p.frames) }

func (p *Paged) GetPage(index int) (frame.Ppn, defs.Err_t) {
	if index < 0 || index >= len(p.frames) {
		return 0, defs.EOUTOFRANGE
	}
	return p.frames[index].Ppn, defs.EOK
}

func (p *Paged) Read(offset int, buf []byte) int {
	return copyPages(p, offset, buf, false)
}

func (p *Paged) Write(offset int, buf []byte) int {
	return copyPages(p, offset, buf, true)
}

// Close frees every frame this VMO owns. Safe to call once a VMO has no
// more mappings referencing it; calling it twice is a no-op since
// frame.Frame.Free already tolerates nil/double-free defensively at the
// Frame level (frame.go still treats a true double free as fatal, but a
// Paged VMO only ever frees its own frames once).
func (p *Paged) Close() {
	for _, f := range p.frames {
		f.Free()
	}
	p.frames = nil
}

// copyPages implements the shared sequential copy spec.md §4.2
// describes: bounded by page_count*PAGE_SIZE-offset bytes, zero bytes
// transferred if offset is at or past that limit. write==true copies
// buf into the VMO; false copies the VMO into buf.
func copyPages(v Vmo, offset int, buf []byte, write bool) int {
	limit := v.PageCount() * sysconf.PageSize
	if offset < 0 || offset >= limit {
		return 0
	}
	n := len(buf)
	if offset+n > limit {
		n = limit - offset
	}
	done := 0
	for done < n {
		page := (offset + done) / sysconf.PageSize
		pageOff := (offset + done) % sysconf.PageSize
		ppn, err := v.GetPage(page)
		if err != defs.EOK {
			break
		}
		chunk := sysconf.PageSize - pageOff
		if chunk > n-done {
			chunk = n - done
		}
		b := frame.Bytes(ppn)
		if write {
			copy(b[pageOff:pageOff+chunk], buf[done:done+chunk])
		} else {
			copy(buf[done:done+chunk], b[pageOff:pageOff+chunk])
		}
		done += chunk
	}
	return done
}

// Trampoline is the singleton Physical VMO covering the linker-provided
// trampoline range, mapped R|X at a fixed high VPN in every address
// space (spec.md §4.2). A freestanding build sets this from the linker
// symbols strampoline/etrampoline at boot; InitTrampoline lets a test
// harness or the kernel entry point install the real range once known.
var Trampoline *Physical

// InitTrampoline installs the trampoline VMO, covering exactly one page
// in the common case of a single-page trampoline stub.
func InitTrampoline(base, end uint64) {
	Trampoline = FromRange(base, end)
}
