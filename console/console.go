// Package console implements the "character source delivering
// keystrokes" and console sink spec.md §1 calls out-of-scope as a
// device driver, but whose interface the kernel still needs: a
// keyboard ring buffer and a write sink installed as fd 0/1/2.
//
// spec.md's design notes (open question 7) flag that the original has
// two independent keyboard input paths — legacy PS/2 scancodes wake a
// single recorded waiter, USB HID reports push into an unsignaled ring
// — that never shared a wake mechanism. This package resolves that by
// giving both producers the same KeyRing.Push, backed by a Go channel:
// a channel already is a bounded, blocking queue, so "push" and
// "signal the reader" are the same operation instead of two.
package console

import (
	"kernelcore/arch/amd64"
	"kernelcore/trap"
)

// kbdDataPort is the PS/2 controller's scancode output port.
const kbdDataPort = 0x60

// ringSize matches KEYBOARD_BUFFER_SIZE in the legacy driver.
const ringSize = 256

// KeyRing_t is a byte queue shared by every keystroke producer
// (legacy PS/2 scancode decode, USB HID report decode). Reads block;
// writes never do — a full ring drops the new keystroke, matching
// buffer_put's "next_head == tail: drop" behavior.
type KeyRing_t struct {
	ch chan byte
}

// NewKeyRing allocates an empty ring.
func NewKeyRing() *KeyRing_t {
	return &KeyRing_t{ch: make(chan byte, ringSize)}
}

// Push enqueues a decoded character, dropping it silently if the ring
// is full.
func (r *KeyRing_t) Push(c byte) {
	select {
	case r.ch <- c:
	default:
	}
}

// Getchar blocks until a character is available and returns it.
func (r *KeyRing_t) Getchar() byte {
	return <-r.ch
}

// HasChar reports whether a character is currently queued, for
// keyboard_haschar-style polling.
func (r *KeyRing_t) HasChar() bool {
	return len(r.ch) > 0
}

// Stdin is the default keyboard ring every console stdin node reads
// from; HandleScancode and PushUSBKey push into it.
var Stdin = NewKeyRing()

// PS/2 scan set 1 make-codes to ASCII, unshifted and shifted, matching
// drivers/keyboard/keyboard.c's scancode_to_char tables. Index 0 is
// unused (no scancode 0).
var scancodeToChar = [128]byte{
	0, 0, '1', '2', '3', '4', '5', '6', '7', '8', '9', '0', '-', '=', '\b', '\t',
	'q', 'w', 'e', 'r', 't', 'y', 'u', 'i', 'o', 'p', '[', ']', '\n', 0, 'a', 's',
	'd', 'f', 'g', 'h', 'j', 'k', 'l', ';', '\'', '`', 0, '\\', 'z', 'x', 'c', 'v',
	'b', 'n', 'm', ',', '.', '/', 0, '*', 0, ' ',
}

var scancodeToCharShift = [128]byte{
	0, 0, '!', '@', '#', '$', '%', '^', '&', '*', '(', ')', '_', '+', '\b', '\t',
	'Q', 'W', 'E', 'R', 'T', 'Y', 'U', 'I', 'O', 'P', '{', '}', '\n', 0, 'A', 'S',
	'D', 'F', 'G', 'H', 'J', 'K', 'L', ':', '"', '~', 0, '|', 'Z', 'X', 'C', 'V',
	'B', 'N', 'M', '<', '>', '?', 0, '*', 0, ' ',
}

const (
	scLeftShiftMake  = 0x2A
	scRightShiftMake = 0x36
	scLeftShiftBrk   = 0xAA
	scRightShiftBrk  = 0xB6
)

var shiftHeld bool

// HandleScancode decodes one legacy PS/2 scancode and, if it produced
// a printable character, pushes it to Stdin; mirrors
// drivers/keyboard/keyboard.c's keyboard_handler, minus the
// IRQ-specific plumbing (reading port 0x60, acking the PIC), which
// isrKeyboardTarget and IRQ1Handler below do around this call.
func HandleScancode(code uint8) {
	switch code {
	case scLeftShiftMake, scRightShiftMake:
		shiftHeld = true
		return
	case scLeftShiftBrk, scRightShiftBrk:
		shiftHeld = false
		return
	}
	if code >= 0x80 {
		return // key-up, nothing else tracked
	}
	c := scancodeToChar[code]
	if shiftHeld {
		c = scancodeToCharShift[code]
	}
	if c != 0 {
		Stdin.Push(c)
	}
}

// PushUSBKey decodes one USB HID usage-ID keypress the way
// drivers/usb/keyboard.c's usb_keyboard_process_report does, routing
// it through the same Stdin ring the legacy path uses — the
// unification open question 7 calls for.
func PushUSBKey(usageID uint8, shift bool) {
	if usageID >= 128 {
		return
	}
	c := hidToASCIILower[usageID]
	if shift {
		c = hidToASCIIUpper[usageID]
	}
	if c != 0 {
		Stdin.Push(c)
	}
}

var hidToASCIILower = [128]byte{
	0, 0, 0, 0, 'a', 'b', 'c', 'd', 'e', 'f', 'g', 'h', 'i', 'j', 'k', 'l',
	'm', 'n', 'o', 'p', 'q', 'r', 's', 't', 'u', 'v', 'w', 'x', 'y', 'z',
	'1', '2', '3', '4', '5', '6', '7', '8', '9', '0',
	'\n', 0x1B, '\b', '\t', ' ', '-', '=', '[', ']', '\\', '#', ';', '\'', '`', ',', '.', '/',
}

var hidToASCIIUpper = [128]byte{
	0, 0, 0, 0, 'A', 'B', 'C', 'D', 'E', 'F', 'G', 'H', 'I', 'J', 'K', 'L',
	'M', 'N', 'O', 'P', 'Q', 'R', 'S', 'T', 'U', 'V', 'W', 'X', 'Y', 'Z',
	'!', '@', '#', '$', '%', '^', '&', '*', '(', ')',
	'\n', 0x1B, '\b', '\t', ' ', '_', '+', '{', '}', '|', '~', ':', '"', '~', '<', '>', '?',
}

// IRQ1Handler decodes a scancode that isrKeyboardTarget read off the
// keyboard controller's data port, then acknowledges the PIC.
func IRQ1Handler(scancode uint8) {
	HandleScancode(scancode)
	trap.EOI(1)
}

// isrKeyboardTarget is arch/amd64.ISRKeyboard's Go-level target: it
// owns vector trap.VecKeyboard directly (trap.Dispatch cannot import
// this package, which already imports trap for EOI above).
func isrKeyboardTarget() {
	IRQ1Handler(amd64.Inb(kbdDataPort))
}
