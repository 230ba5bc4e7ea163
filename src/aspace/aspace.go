// Package aspace implements an address space: a page table plus an
// ordered list of VMMappings from virtual-page range to (VMO, offset,
// permissions) (spec.md §4.4). Grounded on the teacher's vm.Vm_t
// (Lock_pmap/Unlock_pmap single-lock discipline, Page_insert/
// Page_remove naming) generalized from the teacher's per-page anon/file
// Vminfo_t list to this kernel's VMO-backed VMMapping list.
package aspace

import (
	"sync"

	"defs"
	"ptable"
	"sysconf"
	"vmo"
)

// VMMapping records one [BaseVpn, BaseVpn+PageCount) range backed by a
// shared VMO starting at VmoPageOffset (spec.md §3).
type VMMapping struct {
	BaseVpn       uint64
	PageCount     int
	VmoPageOffset int
	Vmo           vmo.Vmo
	Flags         ptable.Pte
}

func (m *VMMapping) end() uint64 { return m.BaseVpn + uint64(m.PageCount) }
func (m *VMMapping) overlaps(base uint64, count int) bool {
	return m.BaseVpn < base+uint64(count) && base < m.end()
}

// Aspace owns a page table and the mapping list describing it. The
// single lock covers both; the page-table lock discipline spec.md §5
// describes (aspace lock -> page-table lock -> frame allocator) falls
// out naturally from there being only one lock here.
type Aspace struct {
	mu       sync.Mutex
	table    *ptable.Table
	mappings []*VMMapping
}

// New creates an empty address space with a fresh page table.
func New() (*Aspace, defs.Err_t) {
	tbl, err := ptable.New()
	if err != defs.EOK {
		return nil, err
	}
	return &Aspace{table: tbl}, defs.EOK
}

// Map installs vmo[vmoOffset:vmoOffset+pageCount] at [baseVpn,
// baseVpn+pageCount) with the given flags. pageCount<=0 means "the rest
// of the VMO starting at vmoOffset" (spec.md §4.4). Fails with
// EOUTOFRANGE if the VMO doesn't cover that range, EOVERLAP if any
// existing mapping intersects the target range.
func (a *Aspace) Map(v vmo.Vmo, vmoOffset int, baseVpn uint64, pageCount int, flags ptable.Pte) defs.Err_t {
	a.mu.Lock()
	defer a.mu.Unlock()

	if pageCount <= 0 {
		pageCount = v.PageCount() - vmoOffset
	}
	if vmoOffset < 0 || pageCount <= 0 || vmoOffset+pageCount > v.PageCount() {
		return defs.EOUTOFRANGE
	}
	for _, m := range a.mappings {
		if m.overlaps(baseVpn, pageCount) {
			return defs.EOVERLAP
		}
	}

	for i := 0; i < pageCount; i++ {
		ppn, err := v.GetPage(vmoOffset + i)
		if err != defs.EOK {
			return err
		}
		if err := a.table.Map(baseVpn+uint64(i), ppn, flags); err != defs.EOK {
			for j := 0; j < i; j++ {
				a.table.Unmap(baseVpn + uint64(j))
			}
			return err
		}
	}

	a.mappings = append(a.mappings, &VMMapping{
		BaseVpn:       baseVpn,
		PageCount:     pageCount,
		VmoPageOffset: vmoOffset,
		Vmo:           v,
		Flags:         flags,
	})
	return defs.EOK
}

// Unmap removes the mapping covering exactly [baseVpn, baseVpn+pageCount)
// and clears the matching page-table entries. requireUser rejects
// unmapping a mapping that lacks PteU, guarding kernel-only ranges
// (such as a task's trap-context page) from a user-triggered munmap.
func (a *Aspace) Unmap(baseVpn uint64, pageCount int, requireUser bool) defs.Err_t {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, m := range a.mappings {
		if m.BaseVpn == baseVpn && m.PageCount == pageCount {
			if requireUser && m.Flags&ptable.PteU == 0 {
				return defs.EINVAL
			}
			for p := uint64(0); p < uint64(pageCount); p++ {
				a.table.Unmap(baseVpn + p)
			}
			a.mappings = append(a.mappings[:i], a.mappings[i+1:]...)
			return defs.EOK
		}
	}
	return defs.ENOTFOUND
}

func (a *Aspace) find(vaddr uint64) (*VMMapping, bool) {
	vpn := vaddr >> sysconf.PageShift
	for _, m := range a.mappings {
		if vpn >= m.BaseVpn && vpn < m.end() {
			return m, true
		}
	}
	return nil, false
}

// transfer walks vaddr forward across however many mappings are needed
// to move len(buf) bytes, honoring the requested permission bit and,
// when user is true, also requiring PteU. It stops at the first byte
// whose page has no matching mapping (spec.md §4.4).
func (a *Aspace) transfer(vaddr uint64, buf []byte, write bool, requirePerm ptable.Pte, user bool) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	done := 0
	for done < len(buf) {
		m, ok := a.find(vaddr + uint64(done))
		if !ok {
			break
		}
		if m.Flags&requirePerm == 0 || (user && m.Flags&ptable.PteU == 0) {
			break
		}
		pageOff := int((vaddr + uint64(done)) & sysconf.PageMask)
		vmoOff := (m.VmoPageOffset * sysconf.PageSize) + int((vaddr+uint64(done))>>sysconf.PageShift-m.BaseVpn)*sysconf.PageSize + pageOff
		chunk := len(buf) - done
		if max := sysconf.PageSize - pageOff; chunk > max {
			chunk = max
		}
		var n int
		if write {
			n = m.Vmo.Write(vmoOff, buf[done:done+chunk])
		} else {
			n = m.Vmo.Read(vmoOff, buf[done:done+chunk])
		}
		done += n
		if n < chunk {
			break
		}
	}
	return done
}

// Read copies into buf starting at vaddr, requiring PteR (and PteU if
// user is true) on every page touched.
func (a *Aspace) Read(vaddr uint64, buf []byte, user bool) int {
	return a.transfer(vaddr, buf, false, ptable.PteR, user)
}

// Write copies buf to vaddr, requiring PteW (and PteU if user is true).
func (a *Aspace) Write(vaddr uint64, buf []byte, user bool) int {
	return a.transfer(vaddr, buf, true, ptable.PteW, user)
}

// ForkFrom populates a (which must be empty) with a copy-on-write-free
// duplicate of other: every Paged mapping gets a fresh same-size Paged
// VMO whose contents are copied byte for byte; Physical mappings (the
// trampoline) are shared by reference (spec.md §4.4).
func (a *Aspace) ForkFrom(other *Aspace) defs.Err_t {
	other.mu.Lock()
	srcMappings := make([]*VMMapping, len(other.mappings))
	copy(srcMappings, other.mappings)
	other.mu.Unlock()

	for _, m := range srcMappings {
		switch src := m.Vmo.(type) {
		case *vmo.Paged:
			dst, err := vmo.NewPaged(m.PageCount)
			if err != defs.EOK {
				return err
			}
			buf := make([]byte, m.PageCount*sysconf.PageSize)
			src.Read(m.VmoPageOffset*sysconf.PageSize, buf)
			dst.Write(0, buf)
			if err := a.Map(dst, 0, m.BaseVpn, m.PageCount, m.Flags); err != defs.EOK {
				return err
			}
		default:
			if err := a.Map(m.Vmo, m.VmoPageOffset, m.BaseVpn, m.PageCount, m.Flags); err != defs.EOK {
				return err
			}
		}
	}
	return defs.EOK
}

// Token returns the satp activation value for this address space.
func (a *Aspace) Token() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.table.Token()
}

// Close tears down the page table and releases every Paged VMO this
// address space was the sole mapper of. Physical VMOs (shared, notably
// the trampoline) are left untouched.
func (a *Aspace) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, m := range a.mappings {
		if p, ok := m.Vmo.(*vmo.Paged); ok {
			p.Close()
		}
	}
	a.mappings = nil
	a.table.Close()
}
