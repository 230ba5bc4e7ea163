// Package ptable implements the three-level Sv39 radix page table
// (spec.md §4.3). Grounded on the teacher's mem.go Pmap_t/PTE_* constants
// (Pmap_t [512]Pa_t, PTE_P/W/U/G/PS/ADDR bit layout) generalized from x86's
// four 9-bit levels to Sv39's three, and on vm/as.go's Page_insert/
// Page_remove naming for the map/unmap operations.
package ptable

import (
	"fmt"

	"defs"
	"frame"
	"klog"
	"sysconf"
)

// Pte bit layout, matching the RISC-V Sv39 hardware format: bits 53:10
// are the PPN, bits 9:8 are reserved-for-software, bit 7 is D, 6 is A,
// 5 is G, 4 is U, 3 is X, 2 is W, 1 is R, 0 is V.
type Pte uint64

const (
	PteV Pte = 1 << 0
	PteR Pte = 1 << 1
	PteW Pte = 1 << 2
	PteX Pte = 1 << 3
	PteU Pte = 1 << 4
	PteG Pte = 1 << 5
	PteA Pte = 1 << 6
	PteD Pte = 1 << 7

	ppnShift = 10
)

func (e Pte) Valid() bool       { return e&PteV != 0 }
func (e Pte) Ppn() frame.Ppn    { return frame.Ppn(uint64(e) >> ppnShift) }
func (e Pte) Flags() Pte        { return e & 0xff }
func mkPte(ppn frame.Ppn, flags Pte) Pte { return Pte(uint64(ppn)<<ppnShift) | (flags | PteV) }

// FlagsFromPerm converts a defs permission bitmask (PermR/W/X/U) to the
// matching Pte bits.
func FlagsFromPerm(perm uint) Pte {
	var f Pte
	if perm&defs.PermR != 0 {
		f |= PteR
	}
	if perm&defs.PermW != 0 {
		f |= PteW
	}
	if perm&defs.PermX != 0 {
		f |= PteX
	}
	if perm&defs.PermU != 0 {
		f |= PteU
	}
	return f
}

// Table is one address space's page table: a root frame plus whatever
// interior frames find_pte allocates on demand. Leaf entries describe
// data pages owned by VMOs, never by the table itself (spec.md §3).
type Table struct {
	root  frame.Ppn
	owned []frame.Ppn // interior frames this table created; freed on Close
}

// New allocates a zeroed root frame and returns an empty table.
func New() (*Table, defs.Err_t) {
	f, err := frame.Alloc()
	if err != defs.EOK {
		return nil, err
	}
	return &Table{root: f.Ppn, owned: []frame.Ppn{f.Ppn}}, defs.EOK
}

func vpnIndex(vpn uint64, level int) uint64 {
	shift := uint(sysconf.VpnBits * (sysconf.PteLevels - 1 - level))
	return (vpn >> shift) & sysconf.VpnMask
}

func readEntry(tbl frame.Ppn, idx uint64) Pte {
	b := frame.Bytes(tbl)
	off := idx * 8
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[off+uint64(i)]) << (8 * uint(i))
	}
	return Pte(v)
}

func writeEntry(tbl frame.Ppn, idx uint64, e Pte) {
	b := frame.Bytes(tbl)
	off := idx * 8
	v := uint64(e)
	for i := 0; i < 8; i++ {
		b[off+uint64(i)] = byte(v >> (8 * uint(i)))
	}
}

// findPte walks levels 0..PteLevels-2, returning the table frame and
// index of the final (leaf) level entry. When create is true, missing
// interior entries are allocated as zeroed frames with V=1, RWX=0
// (spec.md §4.3).
func (t *Table) findPte(vpn uint64, create bool) (tbl frame.Ppn, idx uint64, err defs.Err_t) {
	cur := t.root
	for level := 0; level < sysconf.PteLevels-1; level++ {
		i := vpnIndex(vpn, level)
		e := readEntry(cur, i)
		if !e.Valid() {
			if !create {
				return 0, 0, defs.ENOTFOUND
			}
			f, ferr := frame.Alloc()
			if ferr != defs.EOK {
				return 0, 0, ferr
			}
			t.owned = append(t.owned, f.Ppn)
			writeEntry(cur, i, mkPte(f.Ppn, 0))
			cur = f.Ppn
		} else {
			cur = e.Ppn()
		}
	}
	return cur, vpnIndex(vpn, sysconf.PteLevels-1), defs.EOK
}

// Map installs ppn at vpn with the given flags. The leaf entry must be
// invalid beforehand: mapping an already-mapped vpn is a kernel-corruption
// condition, not something a caller recovers from (spec.md §7), so it is
// fatal rather than returning EOVERLAP. Callers that need a recoverable
// overlap check (e.g. a user-triggered mmap over an existing region) do
// that check themselves before ever calling down to Map (aspace.Map's own
// mappings-list scan).
func (t *Table) Map(vpn uint64, ppn frame.Ppn, flags Pte) defs.Err_t {
	tbl, idx, err := t.findPte(vpn, true)
	if err != defs.EOK {
		return err
	}
	if readEntry(tbl, idx).Valid() {
		klog.Fatal(fmt.Sprintf("ptable: mapping already-mapped vpn %#x", vpn))
	}
	writeEntry(tbl, idx, mkPte(ppn, flags))
	return defs.EOK
}

// Unmap clears vpn's leaf entry. It must currently be valid: unmapping a
// vpn that was never mapped is a kernel-corruption condition, not
// something a caller recovers from (spec.md §7), so it is fatal rather
// than returning ENOTFOUND. Callers needing a recoverable "is this
// mapped" check do it themselves before calling down to Unmap
// (aspace.Unmap's own mappings-list scan).
func (t *Table) Unmap(vpn uint64) {
	tbl, idx, err := t.findPte(vpn, false)
	if err != defs.EOK {
		klog.Fatal(fmt.Sprintf("ptable: unmapping never-mapped vpn %#x", vpn))
	}
	if !readEntry(tbl, idx).Valid() {
		klog.Fatal(fmt.Sprintf("ptable: unmapping already-unmapped vpn %#x", vpn))
	}
	writeEntry(tbl, idx, 0)
}

// Query returns a copy of vpn's leaf entry, or ok==false if no interior
// table reaches it or the leaf itself is invalid.
func (t *Table) Query(vpn uint64) (Pte, bool) {
	tbl, idx, err := t.findPte(vpn, false)
	if err != defs.EOK {
		return 0, false
	}
	e := readEntry(tbl, idx)
	if !e.Valid() {
		return 0, false
	}
	return e, true
}

// Token returns this table's activation value: mode field 8 (Sv39) in
// the top four bits, root PPN in the bottom 44 (spec.md §4.3).
func (t *Table) Token() uint64 {
	return uint64(sysconf.SatpModeSv39)<<60 | uint64(t.root)
}

// Close frees every interior frame this table allocated. Leaf (data)
// pages are never touched here; they belong to whichever VMO backs
// them (spec.md §4.3's drop note). Closing a table twice is a
// programming error.
func (t *Table) Close() {
	if t.owned == nil {
		klog.Fatal(fmt.Sprintf("ptable: double close of table rooted at ppn %d", t.root))
	}
	for _, ppn := range t.owned {
		(&frame.Frame{Ppn: ppn}).Free()
	}
	t.owned = nil
}
