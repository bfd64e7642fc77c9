// Package sched implements the round-robin scheduler of spec.md §4.7:
// a singly linked queue of every non-terminated task, a "start from
// current.next" selection policy, and the tick/yield/block/sleep entry
// points that drive it.
package sched

import (
	"kernelcore/arch/amd64"
	"kernelcore/spinlock"
	"kernelcore/task"
)

// TimerHz is the timer interrupt frequency sleep(ms) converts against.
const TimerHz = 100

var (
	lock spinlock.IRQLock_t
	head *task.Task_t
	tail *task.Task_t
	tick uint64
)

func init() {
	task.OnForked = Enqueue
	task.OnExit = Unlink
}

// Enqueue appends t to the scheduler's queue. Called once for every
// task task.NewKernelTask/NewUserTask/Fork create (wired through
// task.OnForked to avoid a sched→task→sched import cycle).
func Enqueue(t *task.Task_t) {
	en := lock.Lock()
	t.Next = nil
	if tail == nil {
		head, tail = t, t
	} else {
		tail.Next = t
		tail = t
	}
	lock.Unlock(en)
}

// Unlink removes t from the queue once it has terminated, preserving
// the Data Model invariant that the queue holds only non-terminated
// tasks (spec.md §3). Wired through task.OnExit.
func Unlink(t *task.Task_t) {
	en := lock.Lock()
	var prev *task.Task_t
	for n := head; n != nil; n = n.Next {
		if n == t {
			if prev == nil {
				head = n.Next
			} else {
				prev.Next = n.Next
			}
			if tail == n {
				tail = prev
			}
			n.Next = nil
			break
		}
		prev = n
	}
	lock.Unlock(en)
}

// Ticks returns the monotonic tick counter.
func Ticks() uint64 {
	en := lock.Lock()
	n := tick
	lock.Unlock(en)
	return n
}

// Tick is the timer IRQ handler's call into the scheduler (spec.md
// §4.10): advance the monotonic counter, then make a scheduling
// decision.
func Tick() {
	en := lock.Lock()
	tick++
	if cur := task.Current(); cur != nil {
		cur.Cycles++
	}
	lock.Unlock(en)
	Schedule()
}

// Snapshot returns every task currently in the scheduler's queue, for
// diag's profile sampling. The returned slice is a copy; the queue
// itself is not retained past the call.
func Snapshot() []*task.Task_t {
	en := lock.Lock()
	tasks := make([]*task.Task_t, 0, 8)
	for n := head; n != nil; n = n.Next {
		tasks = append(tasks, n)
	}
	lock.Unlock(en)
	return tasks
}

// promoteSleepersLocked implements spec.md §4.7 step 3: every Blocked
// task with a non-zero, elapsed WakeTick goes back to Ready and its
// WakeTick is cleared. Must be called with lock held.
func promoteSleepersLocked(now uint64) {
	for n := head; n != nil; n = n.Next {
		if n.State == task.Blocked && n.WakeTick != 0 && n.WakeTick <= now {
			n.State = task.Ready
			n.WakeTick = 0
		}
	}
}

// pickNextLocked implements spec.md §4.7 steps 1-2: starting at
// current.Next (or head if current is nil or not found), walk the
// queue once, wrapping, for the first Ready task. Must be called with
// lock held.
func pickNextLocked(current *task.Task_t) *task.Task_t {
	if head == nil {
		return nil
	}
	start := head
	if current != nil {
		for n := head; n != nil; n = n.Next {
			if n == current {
				if n.Next != nil {
					start = n.Next
				} else {
					start = head
				}
				break
			}
		}
	}
	n := start
	for {
		if n.State == task.Ready {
			return n
		}
		if n.Next != nil {
			n = n.Next
		} else {
			n = head
		}
		if n == start {
			return nil
		}
	}
}

// Schedule implements spec.md §4.7 step 4 and performs the actual
// switch: promote elapsed sleepers, pick the next runnable task, and
// either switch to it, keep running the current task if nothing else
// is runnable, or halt and retry. When it switches away, this call
// returns only once some later Schedule call switches back to whatever
// task called it.
func Schedule() {
	for {
		cur := task.Current()
		en := lock.Lock()
		promoteSleepersLocked(tick)
		next := pickNextLocked(cur)
		lock.Unlock(en)

		if next != nil {
			task.Switch(next)
			return
		}
		if cur != nil && cur.State == task.Running {
			return
		}
		amd64.EnableInterrupts()
		amd64.Halt()
	}
}

// Yield implements syscall 3: reschedule without changing state.
func Yield() {
	Schedule()
}

// Block implements the internal block() primitive: sets the current
// task's state to Blocked and reschedules.
func Block(t *task.Task_t) {
	en := lock.Lock()
	t.State = task.Blocked
	lock.Unlock(en)
	Schedule()
}

// Sleep implements syscall 4: computes a wake tick ms milliseconds out
// from the current monotonic tick, blocks the task, and reschedules.
func Sleep(t *task.Task_t, ms uint64) {
	en := lock.Lock()
	t.WakeTick = tick + (ms*TimerHz)/1000
	if t.WakeTick == tick {
		t.WakeTick = tick + 1 // always sleep at least one tick
	}
	t.State = task.Blocked
	lock.Unlock(en)
	Schedule()
}
