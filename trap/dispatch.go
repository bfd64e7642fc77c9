package trap

import (
	"fmt"

	"kernelcore/sched"
)

// Dispatch is the single entry point the common ISR stub in
// arch/amd64 calls for every vector with a Go-level handler above: it
// routes the already-built Frame_t to PageFault/DoubleFault/
// GeneralProtection for the three exceptions spec.md §4.10 names, and
// drives a scheduler tick for the timer vector. It never returns to an
// interrupted task directly; the ISR stub's own IRETQ does that.
func Dispatch(f *Frame_t) {
	switch f.Vector {
	case VecTimer:
		Timer()
		sched.Tick()
		return
	case VecPageFault:
		act(f, PageFault(f))
	case VecDoubleFault:
		act(f, DoubleFault(f))
	case VecGeneralProtection:
		act(f, GeneralProtection(f))
	default:
		Panic(f, fmt.Sprintf("unhandled vector %d", f.Vector))
	}
}

// act carries out the caller-side half of a Result the fault handlers
// above return (design note in fault.go): reschedule on a terminated
// task, escalate anything fatal, otherwise just resume.
func act(f *Frame_t, res Result) {
	switch res {
	case ResultTaskTerminated:
		sched.Schedule()
	case ResultFatal:
		Panic(f, fmt.Sprintf("fault, vector %d", f.Vector))
	}
}
