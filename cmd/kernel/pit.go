package main

import "kernelcore/arch/amd64"

// Legacy 8253/8254 PIT ports and the base oscillator frequency every
// divisor below is computed against, from the same generation of
// hardware knowledge trap/pic.go's port constants come from.
const (
	pitChannel0 = 0x40
	pitCommand  = 0x43
	pitBaseHz   = 1193182

	pitModeRateGen = 0x34 // channel 0, lobyte/hibyte, mode 2, binary
)

// armPIT programs channel 0 to fire sched.TimerHz times a second,
// matching the teacher's PIT-driven preemption tick.
func armPIT(hz int) {
	divisor := uint16(pitBaseHz / hz)
	amd64.Outb(pitCommand, pitModeRateGen)
	amd64.Outb(pitChannel0, byte(divisor))
	amd64.Outb(pitChannel0, byte(divisor>>8))
}

// Model-specific registers the SYSCALL/SYSRET fast path reads (Intel
// SDM vol 3, §6.8.8): IA32_EFER's SCE bit enables the instructions at
// all, IA32_STAR packs the segment selectors SYSCALL/SYSRET load, and
// IA32_LSTAR is the 64-bit entry RIP.
const (
	msrEFER  = 0xC0000080
	msrSTAR  = 0xC0000081
	msrLSTAR = 0xC0000082
	msrFMASK = 0xC0000084

	eferSCE = 1 << 0
)

// installSyscallMSR points SYSCALL at arch/amd64.SyscallEntry and
// SYSRET back at this kernel's user code/data selectors (spec.md
// §4.11).
func installSyscallMSR() {
	amd64.WrMSR(msrEFER, amd64.RdMSR(msrEFER)|eferSCE)
	amd64.WrMSR(msrLSTAR, funcAddr(amd64.SyscallEntry))
	amd64.WrMSR(msrFMASK, 0x200) // clear IF on entry
	star := uint64(selKCode)<<32 | uint64(selUData-8)<<48
	amd64.WrMSR(msrSTAR, star)
}
