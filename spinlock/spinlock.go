// Package spinlock implements the IRQ-safe spinlock guarding the
// ready queue, task list, and terminal (spec.md §5). The lock is not
// recursive; acquire disables interrupts and returns the previous
// interrupt-enable state so release can restore it exactly.
package spinlock

import (
	"sync"
	"sync/atomic"

	"kernelcore/arch/amd64"
)

// IRQLock_t is an interrupt-disabling spinlock. On a single-CPU
// kernel, mutual exclusion against other tasks is free (only one task
// runs at a time); the lock's job is purely to exclude interrupt
// handlers, which it does by disabling interrupts for its critical
// section. held records that the lock is taken, for Held and for
// Unlock's release check; since Lock takes mu before looking at held,
// a recursive Lock from the same flow of control blocks on mu rather
// than reaching the recursive-acquire panic.
type IRQLock_t struct {
	held int32
	mu   sync.Mutex
}

// Lock disables interrupts and acquires the lock, returning whether
// interrupts were enabled beforehand so Unlock can restore that state.
func (l *IRQLock_t) Lock() bool {
	wasEnabled := amd64.InterruptsEnabled()
	amd64.DisableInterrupts()
	l.mu.Lock()
	if !atomic.CompareAndSwapInt32(&l.held, 0, 1) {
		panic("spinlock: recursive acquire")
	}
	return wasEnabled
}

// Unlock releases the lock and restores the interrupt-enable state
// returned by the paired Lock call.
func (l *IRQLock_t) Unlock(wasEnabled bool) {
	if !atomic.CompareAndSwapInt32(&l.held, 1, 0) {
		panic("spinlock: release of unheld lock")
	}
	l.mu.Unlock()
	if wasEnabled {
		amd64.EnableInterrupts()
	}
}

// Held reports whether the lock is currently held, for use by
// Lockassert-style invariant checks elsewhere in the kernel.
func (l *IRQLock_t) Held() bool {
	return atomic.LoadInt32(&l.held) == 1
}
