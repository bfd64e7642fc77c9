package console

import (
	"bytes"
	"errors"
	"testing"

	"kernelcore/vfs"
)

func TestKeyRingPushAndGetchar(t *testing.T) {
	r := NewKeyRing()
	r.Push('a')
	r.Push('b')
	if !r.HasChar() {
		t.Fatal("HasChar should report true after a push")
	}
	if got := r.Getchar(); got != 'a' {
		t.Fatalf("got %q, want 'a'", got)
	}
	if got := r.Getchar(); got != 'b' {
		t.Fatalf("got %q, want 'b'", got)
	}
	if r.HasChar() {
		t.Fatal("HasChar should report false once drained")
	}
}

func TestKeyRingDropsOnFull(t *testing.T) {
	r := NewKeyRing()
	for i := 0; i < ringSize; i++ {
		r.Push('x')
	}
	r.Push('y') // ring is full, must be dropped rather than block
	for i := 0; i < ringSize; i++ {
		if got := r.Getchar(); got != 'x' {
			t.Fatalf("slot %d = %q, want 'x'", i, got)
		}
	}
	if r.HasChar() {
		t.Fatal("the dropped 'y' must not have been queued")
	}
}

func TestHandleScancodeTracksShiftState(t *testing.T) {
	old := Stdin
	defer func() { Stdin = old }()
	Stdin = NewKeyRing()

	HandleScancode(0x1E) // 'a' make-code
	if got := Stdin.Getchar(); got != 'a' {
		t.Fatalf("unshifted 'a' scancode = %q, want 'a'", got)
	}

	HandleScancode(scLeftShiftMake)
	HandleScancode(0x1E)
	if got := Stdin.Getchar(); got != 'A' {
		t.Fatalf("shifted 'a' scancode = %q, want 'A'", got)
	}

	HandleScancode(scLeftShiftBrk)
	HandleScancode(0x1E)
	if got := Stdin.Getchar(); got != 'a' {
		t.Fatalf("post-release scancode = %q, want lowercase 'a' again", got)
	}
}

func TestHandleScancodeIgnoresKeyUp(t *testing.T) {
	old := Stdin
	defer func() { Stdin = old }()
	Stdin = NewKeyRing()

	HandleScancode(0x1E | 0x80) // break code for 'a'
	if Stdin.HasChar() {
		t.Fatal("a bare key-up scancode must not enqueue a character")
	}
}

func TestPushUSBKeyHonorsShift(t *testing.T) {
	old := Stdin
	defer func() { Stdin = old }()
	Stdin = NewKeyRing()

	PushUSBKey(7, false) // usage 7 is 'd' in the HID keyboard table
	if got := Stdin.Getchar(); got != 'd' {
		t.Fatalf("got %q, want 'd'", got)
	}
	PushUSBKey(7, true)
	if got := Stdin.Getchar(); got != 'D' {
		t.Fatalf("got %q, want 'D'", got)
	}
}

func TestStdinNodeReadStopsAtNewline(t *testing.T) {
	old := Stdin
	defer func() { Stdin = old }()
	Stdin = NewKeyRing()
	for _, c := range []byte("hi\nrest") {
		Stdin.Push(c)
	}

	n := NewStdinNode()
	buf := make([]byte, 32)
	got, err := n.Ops.Read(n, buf, 0)
	if err != 0 {
		t.Fatalf("read err = %v", err)
	}
	if string(buf[:got]) != "hi\n" {
		t.Fatalf("read %q, want %q", buf[:got], "hi\n")
	}
}

func TestStdinNodeReadStopsWhenBufferFull(t *testing.T) {
	old := Stdin
	defer func() { Stdin = old }()
	Stdin = NewKeyRing()
	for _, c := range []byte("abcdef") {
		Stdin.Push(c)
	}

	n := NewStdinNode()
	buf := make([]byte, 3)
	got, err := n.Ops.Read(n, buf, 0)
	if err != 0 {
		t.Fatalf("read err = %v", err)
	}
	if got != 3 || string(buf) != "abc" {
		t.Fatalf("read %q (%d bytes), want \"abc\" (3 bytes)", buf[:got], got)
	}
}

func TestStdoutNodeWritesToSink(t *testing.T) {
	old := Sink
	defer func() { Sink = old }()
	var buf bytes.Buffer
	Sink = &buf

	n := NewStdoutNode()
	got, err := n.Ops.Write(n, []byte("hello"), 0)
	if err != 0 {
		t.Fatalf("write err = %v", err)
	}
	if got != 5 {
		t.Fatalf("wrote %d bytes, want 5", got)
	}
	if buf.String() != "hello" {
		t.Fatalf("sink content = %q, want %q", buf.String(), "hello")
	}
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("no room")
}

func TestStdoutNodeReportsSinkFailure(t *testing.T) {
	old := Sink
	defer func() { Sink = old }()
	Sink = failingWriter{}

	n := NewStdoutNode()
	if _, err := n.Ops.Write(n, []byte("x"), 0); err == 0 {
		t.Fatal("a failing sink write must surface an error")
	}
}

func TestInstallStdioReservesFirstThreeSlots(t *testing.T) {
	fds := vfs.NewFdTable()
	InstallStdio(fds)

	old := Sink
	defer func() { Sink = old }()
	var buf bytes.Buffer
	Sink = &buf
	if _, err := fds.Write(1, []byte("hi")); err != 0 {
		t.Fatalf("write to fd 1: %v", err)
	}
	if buf.String() != "hi" {
		t.Fatalf("sink content = %q, want %q", buf.String(), "hi")
	}
}
