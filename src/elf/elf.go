// Package elf loads an embedded ELF64 little-endian RISC-V executable
// into an address space (spec.md §4.10). Uses the standard library's
// debug/elf for header and program-header parsing, the same choice the
// pack's other loaders make (gokvm's machine.go and tinyrange-cc's
// internal/asm/{amd64,arm64}/elf.go both parse PT_LOAD segments via
// debug/elf rather than a third-party ELF decoder; no example in the
// pack reaches for anything else to parse ELF, so this kernel follows
// suit).
package elf

import (
	dbgelf "debug/elf"
	"bytes"

	"aspace"
	"defs"
	"ptable"
	"sysconf"
	"util"
	"vmo"
)

// Loaded is the result of loading one executable: where to set pc and
// sp before the first entry into user mode (spec.md §4.10).
type Loaded struct {
	Entry  uint64
	UserSp uint64
}

// permFlags converts an ELF program header's R/W/X bits (elf.PF_R etc.)
// to this kernel's ptable flags, always adding PteU since every loaded
// segment is user-visible.
func permFlags(f dbgelf.ProgFlag) ptable.Pte {
	var p ptable.Pte
	if f&dbgelf.PF_R != 0 {
		p |= ptable.PteR
	}
	if f&dbgelf.PF_W != 0 {
		p |= ptable.PteW
	}
	if f&dbgelf.PF_X != 0 {
		p |= ptable.PteX
	}
	return p | ptable.PteU
}

// Load parses data as an ELF64 LE RISC-V EXEC and populates as with its
// PT_LOAD segments plus a freshly mapped user stack one guard page
// above the highest loaded address.
func Load(as *aspace.Aspace, data []byte) (Loaded, defs.Err_t) {
	f, err := dbgelf.NewFile(bytes.NewReader(data))
	if err != nil {
		return Loaded{}, defs.EELFBAD
	}
	if f.Class != dbgelf.ELFCLASS64 || f.Data != dbgelf.ELFDATA2LSB || f.Machine != dbgelf.EM_RISCV {
		return Loaded{}, defs.EELFBAD
	}
	if f.Type != dbgelf.ET_EXEC {
		return Loaded{}, defs.EELFBAD
	}

	var highest uint64
	var stackFlags ptable.Pte = ptable.PteR | ptable.PteW | ptable.PteU

	for _, ph := range f.Progs {
		switch ph.Type {
		case dbgelf.PT_INTERP:
			return Loaded{}, defs.EUNSUP
		case dbgelf.PT_GNU_STACK:
			stackFlags = permFlags(ph.Flags) | ptable.PteU
		case dbgelf.PT_LOAD:
			if !sysconf.PageAligned(ph.Vaddr) {
				return Loaded{}, defs.EELFBAD
			}
			pageCount := util.Roundup(int(ph.Memsz), sysconf.PageSize) / sysconf.PageSize
			if pageCount == 0 {
				pageCount = 1
			}
			v, verr := vmo.NewPaged(pageCount)
			if verr != defs.EOK {
				return Loaded{}, verr
			}
			seg := make([]byte, ph.Filesz)
			if _, rerr := ph.ReadAt(seg, 0); rerr != nil {
				v.Close()
				return Loaded{}, defs.EELFBAD
			}
			v.Write(0, seg)

			baseVpn := ph.Vaddr >> sysconf.PageShift
			if merr := as.Map(v, 0, baseVpn, pageCount, permFlags(ph.Flags)); merr != defs.EOK {
				v.Close()
				return Loaded{}, merr
			}
			if end := ph.Vaddr + ph.Memsz; end > highest {
				highest = end
			}
		}
	}

	stackBase := util.Roundup(int(highest), sysconf.PageSize) + sysconf.PageSize // one guard page
	stackPages := sysconf.UserStackSize / sysconf.PageSize
	sv, verr := vmo.NewPaged(stackPages)
	if verr != defs.EOK {
		return Loaded{}, verr
	}
	stackBaseVpn := uint64(stackBase) >> sysconf.PageShift
	if merr := as.Map(sv, 0, stackBaseVpn, stackPages, stackFlags); merr != defs.EOK {
		sv.Close()
		return Loaded{}, merr
	}

	return Loaded{
		Entry:  f.Entry,
		UserSp: uint64(stackBase) + sysconf.UserStackSize,
	}, defs.EOK
}
