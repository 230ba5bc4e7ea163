// Package sysconf collects the compile-time tunables of the kernel: page
// geometry, Sv39 layout constants and the per-object size budgets. The
// teacher hardcodes values like this directly in mem.Phys_init and
// mem.go's PGSHIFT/PGSIZE/PGOFFSET consts; sysconf is the one place this
// kernel gathers the equivalent RISC-V/Sv39 numbers so every other
// package imports them from a single source of truth.
package sysconf

const (
	// PageShift/PageSize/PageMask describe the fixed 4 KiB page granule
	// used everywhere in this kernel (spec.md §3, Frame).
	PageShift = 12
	PageSize  = 1 << PageShift
	PageMask  = PageSize - 1

	// VpnBits is the width of one Sv39 page-table index (spec.md §4.3).
	VpnBits  = 9
	VpnMask  = (1 << VpnBits) - 1
	PteLevels = 3

	// SatpModeSv39 is the mode field value written into satp's top four
	// bits to select three-level Sv39 translation (spec.md §4.3).
	SatpModeSv39 = 8

	// TrampolineVPN is the fixed high virtual page number the
	// trampoline and, one page below it, the trap-context page are
	// mapped at in every address space (spec.md §4.5). It is the top
	// page of the 39-bit user/kernel shared region: VPN (1<<27)-1.
	TrampolineVPN = (1 << (VpnBits * PteLevels)) - 1
	TrapCxVPN     = TrampolineVPN - 1

	// KernelStackSize is the size, in bytes, of each task's kernel
	// stack (spec.md §4.6).
	KernelStackSize = 2 * PageSize

	// UserStackSize is the size mapped for a freshly loaded program's
	// initial user stack (spec.md §4.10).
	UserStackSize = 8 * PageSize

	// MaxFrames bounds the reserved physical region the frame
	// allocator hands frames out of; the teacher reserves a fixed pool
	// in Phys_init for the same reason (no dynamic discovery of RAM in
	// this teaching kernel).
	MaxFrames = 1 << 16

	// StrideMax is the MAX constant of the stride scheduler (spec.md
	// §4.7): a large power of two so MAX/priority never underflows for
	// any priority in [2, StrideMax].
	StrideMax = 1 << 32

	// TimeSliceMillis is the quantum SBI's timer is reprogrammed for on
	// every timer interrupt (spec.md §4.9).
	TimeSliceMillis = 10

	// MaxAppName bounds how many bytes sys_exec's NUL-terminated name
	// argument (spec.md §6) is read from user memory before giving up;
	// no embedded app name in this kernel's app table is remotely this
	// long, so a string still unterminated past it is a bad pointer,
	// not a legitimate long name.
	MaxAppName = 256
)

// PageAligned reports whether v is a multiple of PageSize.
func PageAligned(v uint64) bool {
	return v&PageMask == 0
}

// VPN returns the page number of a virtual (or physical) address.
func VPN(addr uint64) uint64 {
	return addr >> PageShift
}

// PageAddr returns the byte address of the start of virtual page vpn.
func PageAddr(vpn uint64) uint64 {
	return vpn << PageShift
}
