//go:build linux

package sigfd

import (
	"errors"
	"os"
	"runtime"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestCreateSignalFd(t *testing.T) {
	sfd, err := New(&SigSet{})
	if err != nil {
		t.Fatalf("Failed to create signalfd with an empty mask: %v", err)
	}
	defer sfd.Close()
	if sfd.Fd() < 0 {
		t.Fatalf("Expected a valid fd, got: %d", sfd.Fd())
	}
	if sfd.Flags() != SFD_NONE {
		t.Fatalf("Expected: %s, got: %s", SFD_NONE, sfd.Flags())
	}
}

func TestCreateSignalFdWithOpts(t *testing.T) {
	sfd, err := NewWithFlags(nil, SFD_CLOEXEC|SFD_NONBLOCK)
	if err != nil {
		t.Fatalf("Failed to create signalfd: %v", err)
	}
	defer sfd.Close()
	flags, err := unix.FcntlInt(uintptr(sfd.Fd()), unix.F_GETFL, 0)
	if err != nil {
		t.Fatalf("F_GETFL failed: %v", err)
	}
	if flags&unix.O_NONBLOCK == 0 {
		t.Fatalf("Expected O_NONBLOCK to be set")
	}
	fdFlags, err := unix.FcntlInt(uintptr(sfd.Fd()), unix.F_GETFD, 0)
	if err != nil {
		t.Fatalf("F_GETFD failed: %v", err)
	}
	if fdFlags&unix.FD_CLOEXEC == 0 {
		t.Fatalf("Expected FD_CLOEXEC to be set")
	}
}

func TestCreateSignalFdBadFlags(t *testing.T) {
	sfd, err := NewWithFlags(nil, SfdFlags(1))
	if err == nil {
		sfd.Close()
		t.Fatalf("Expected the kernel to reject unknown flags")
	}
	if !errors.Is(err, unix.EINVAL) {
		t.Fatalf("Expected: %v, got: %v", unix.EINVAL, err)
	}
}

func TestReadEmptySignalFd(t *testing.T) {
	sfd := createNonBlocking(t, &SigSet{})
	defer sfd.Close()

	info, err := sfd.ReadSignal()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if info != nil {
		t.Fatalf("Expected no record, got: %v", info)
	}
}

func TestSetMask(t *testing.T) {
	sfd := createNonBlocking(t, &SigSet{})
	defer sfd.Close()
	fd := sfd.Fd()

	for _, mask := range []*SigSet{NewSigSet(unix.SIGUSR1), NewSigSet(unix.SIGUSR1, unix.SIGUSR2, unix.SIGHUP), nil} {
		if err := sfd.SetMask(mask); err != nil {
			t.Fatalf("SetMask(%v) failed: %v", mask, err)
		}
		if sfd.Fd() != fd {
			t.Fatalf("SetMask should keep the fd, Expected: %d, got: %d", fd, sfd.Fd())
		}
		if _, err := sfd.ReadSignal(); err != nil {
			t.Fatalf("Handle should stay readable, got: %v", err)
		}
	}
}

func TestDoubleClose(t *testing.T) {
	sfd := createNonBlocking(t, &SigSet{})
	if err := sfd.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := sfd.Close(); err != nil {
		t.Fatalf("Second Close should be a noop, got: %v", err)
	}
	if sfd.Fd() != -1 {
		t.Fatalf("Expected: -1, got: %d", sfd.Fd())
	}
	if _, err := sfd.ReadSignal(); err != ERR_CLOSED {
		t.Fatalf("Expected: %v, got: %v", ERR_CLOSED, err)
	}
	if err := sfd.SetMask(NewSigSet(unix.SIGUSR1)); err != ERR_CLOSED {
		t.Fatalf("Expected: %v, got: %v", ERR_CLOSED, err)
	}
	for info := range sfd.Signals() {
		t.Fatalf("Closed handle yielded: %v", info)
	}
}

func TestReadRaisedSignal(t *testing.T) {
	mask, restore := lockAndBlock(t, unix.SIGUSR1)
	defer restore()
	sfd := createNonBlocking(t, mask)
	defer sfd.Close()

	raise(t, unix.SIGUSR1)
	info, err := sfd.ReadSignal()
	if err != nil {
		t.Fatalf("ReadSignal failed: %v", err)
	}
	if info == nil {
		t.Fatalf("Expected a record for SIGUSR1")
	}
	if info.Signal() != unix.SIGUSR1 {
		t.Fatalf("Expected: %d, got: %d", unix.SIGUSR1, info.Signo)
	}
	if int(info.Pid) != os.Getpid() {
		t.Fatalf("Expected pid: %d, got: %d", os.Getpid(), info.Pid)
	}
	if int(info.Uid) != os.Getuid() {
		t.Fatalf("Expected uid: %d, got: %d", os.Getuid(), info.Uid)
	}

	info, err = sfd.ReadSignal()
	if err != nil || info != nil {
		t.Fatalf("Expected no record and no error, got: %v, %v", info, err)
	}
}

func TestReadBlockingPending(t *testing.T) {
	mask, restore := lockAndBlock(t, unix.SIGUSR2)
	defer restore()
	sfd, err := New(mask)
	if err != nil {
		t.Fatalf("Failed to create signalfd: %v", err)
	}
	defer sfd.Close()

	raise(t, unix.SIGUSR2)
	// pending already, so a blocking read returns right away
	info, err := sfd.ReadSignal()
	if err != nil || info == nil {
		t.Fatalf("Expected a record, got: %v, %v", info, err)
	}
	if info.Signal() != unix.SIGUSR2 {
		t.Fatalf("Expected: %d, got: %d", unix.SIGUSR2, info.Signo)
	}
}

func TestSignalsEmpty(t *testing.T) {
	sfd := createNonBlocking(t, NewSigSet(unix.SIGUSR1))
	defer sfd.Close()

	done := make(chan int, 1)
	go func() {
		count := 0
		for range sfd.Signals() {
			count++
		}
		done <- count
	}()
	select {
	case count := <-done:
		if count != 0 {
			t.Fatalf("Expected: 0 records, got: %d", count)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Iteration should stop when nothing is pending")
	}
}

func TestSignalsRestart(t *testing.T) {
	mask, restore := lockAndBlock(t, unix.SIGUSR1, unix.SIGUSR2)
	defer restore()
	sfd := createNonBlocking(t, mask)
	defer sfd.Close()

	raise(t, unix.SIGUSR1)
	raise(t, unix.SIGUSR2)
	seen := NewSigSet()
	for info := range sfd.Signals() {
		seen.Add(info.Signal())
	}
	if !seen.Contains(unix.SIGUSR1) || !seen.Contains(unix.SIGUSR2) || len(seen.Signals()) != 2 {
		t.Fatalf("Expected: [SIGUSR1 SIGUSR2], got: %v", seen)
	}

	// a new pass picks up signals raised after the last one stopped
	raise(t, unix.SIGUSR1)
	count := 0
	for info := range sfd.Signals() {
		count++
		if info.Signal() != unix.SIGUSR1 {
			t.Fatalf("Expected: %d, got: %d", unix.SIGUSR1, info.Signo)
		}
	}
	if count != 1 {
		t.Fatalf("Expected: 1 record, got: %d", count)
	}
}

func TestSignalsBreak(t *testing.T) {
	mask, restore := lockAndBlock(t, unix.SIGUSR1, unix.SIGUSR2)
	defer restore()
	sfd := createNonBlocking(t, mask)
	defer sfd.Close()

	raise(t, unix.SIGUSR1)
	raise(t, unix.SIGUSR2)
	for range sfd.Signals() {
		break
	}
	list, err := sfd.Drain(0)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("Breaking out should leave 1 record pending, got: %d", len(list))
	}
}

func TestDrainLimit(t *testing.T) {
	mask, restore := lockAndBlock(t, unix.SIGUSR1, unix.SIGUSR2)
	defer restore()
	sfd := createNonBlocking(t, mask)
	defer sfd.Close()

	raise(t, unix.SIGUSR1)
	raise(t, unix.SIGUSR2)
	list, err := sfd.Drain(1)
	if err != nil || len(list) != 1 {
		t.Fatalf("Expected 1 record, got: %d, %v", len(list), err)
	}
	list, err = sfd.Drain(0)
	if err != nil || len(list) != 1 {
		t.Fatalf("Expected 1 record, got: %d, %v", len(list), err)
	}
	list, err = sfd.Drain(0)
	if err != nil || len(list) != 0 {
		t.Fatalf("Expected no records, got: %d, %v", len(list), err)
	}
}

func TestShortReadPoisons(t *testing.T) {
	sfd := createNonBlocking(t, &SigSet{})
	defer sfd.Close()
	sfd.broken = &ShortReadError{Fd: sfd.Fd(), Read: 64}

	for range 2 {
		info, err := sfd.ReadSignal()
		if info != nil {
			t.Fatalf("Expected no record, got: %v", info)
		}
		if !errors.Is(err, ERR_SHORT_READ) {
			t.Fatalf("Expected: %v, got: %v", ERR_SHORT_READ, err)
		}
		var sre *ShortReadError
		if !errors.As(err, &sre) || sre.Read != 64 {
			t.Fatalf("Expected a *ShortReadError for 64 bytes, got: %v", err)
		}
	}
	if _, err := sfd.Drain(0); !errors.Is(err, ERR_SHORT_READ) {
		t.Fatalf("Expected: %v, got: %v", ERR_SHORT_READ, err)
	}
	sfd.Close()
	if _, err := sfd.ReadSignal(); err != ERR_CLOSED {
		t.Fatalf("Expected: %v after Close, got: %v", ERR_CLOSED, err)
	}
}

func TestShortRead(t *testing.T) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		t.Fatalf("Failed to create pipe: %v", err)
	}
	defer unix.Close(p[0])
	if _, err := unix.Write(p[1], make([]byte, 64)); err != nil {
		unix.Close(p[1])
		t.Fatalf("Failed to write pipe: %v", err)
	}

	// half a record
	sfd := &SignalFd{fd: p[0]}
	info, err := sfd.ReadSignal()
	var sre *ShortReadError
	if info != nil || !errors.As(err, &sre) || sre.Read != 64 || sre.Fd != p[0] {
		t.Fatalf("Expected a *ShortReadError for 64 bytes, got: %v, %v", info, err)
	}
	if !errors.Is(err, ERR_SHORT_READ) {
		t.Fatalf("Expected: %v, got: %v", ERR_SHORT_READ, err)
	}
	for info := range sfd.Signals() {
		t.Fatalf("Poisoned handle yielded: %v", info)
	}

	// end of file is a zero length read
	unix.Close(p[1])
	sfd = &SignalFd{fd: p[0]}
	_, err = sfd.ReadSignal()
	if !errors.As(err, &sre) || sre.Read != 0 {
		t.Fatalf("Expected a *ShortReadError for 0 bytes, got: %v", err)
	}
	for info := range sfd.Signals() {
		t.Fatalf("Poisoned handle yielded: %v", info)
	}
}

func fdOpen(fd int) bool {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	return !errors.Is(err, unix.EBADF)
}

// Runs the garbage collector until check returns true or the attempts run out.
func collectUntil(check func() bool) bool {
	for range 20 {
		runtime.GC()
		if check() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func leakSignalFd(t *testing.T) int {
	sfd := createNonBlocking(t, &SigSet{})
	return sfd.Fd()
}

func TestCleanupClosesLeakedFd(t *testing.T) {
	fd := leakSignalFd(t)
	if !collectUntil(func() bool { return !fdOpen(fd) }) {
		t.Fatalf("Expected fd: %d to be closed once the SignalFd was collected", fd)
	}
}

func closedSignalFd(t *testing.T) int {
	sfd := createNonBlocking(t, &SigSet{})
	fd := sfd.Fd()
	sfd.Close()
	return fd
}

func TestCloseStopsCleanup(t *testing.T) {
	fd := closedSignalFd(t)

	// the lowest free number is handed out again, so the pipe most likely reuses fd
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		t.Fatalf("Failed to create pipe: %v", err)
	}
	defer unix.Close(p[0])
	defer unix.Close(p[1])
	if p[0] != fd && p[1] != fd {
		t.Logf("fd: %d was not reused, got: %v", fd, p)
	}

	collectUntil(func() bool { return false })
	for _, n := range p {
		if !fdOpen(n) {
			t.Fatalf("fd: %d was closed a second time by the cleanup", n)
		}
	}
}

func TestReadError(t *testing.T) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		t.Fatalf("Failed to create pipe: %v", err)
	}
	defer unix.Close(p[0])
	defer unix.Close(p[1])

	// reading the write end of a pipe fails with EBADF
	sfd := &SignalFd{fd: p[1]}
	_, err := sfd.ReadSignal()
	if !errors.Is(err, unix.EBADF) {
		t.Fatalf("Expected: %v, got: %v", unix.EBADF, err)
	}
	for info := range sfd.Signals() {
		t.Fatalf("Errors should end the sequence, got: %v", info)
	}
}

func TestSfdFlags(t *testing.T) {
	tests := []struct {
		flags SfdFlags
		want  string
	}{
		{SFD_NONE, "SFD_NONE"},
		{SFD_NONBLOCK, "SFD_NONBLOCK"},
		{SFD_CLOEXEC | SFD_NONBLOCK, "SFD_NONBLOCK|SFD_CLOEXEC"},
	}
	for _, tt := range tests {
		if got := tt.flags.String(); got != tt.want {
			t.Errorf("Expected: %s, got: %s", tt.want, got)
		}
	}
	f := SFD_NONBLOCK | SFD_CLOEXEC
	if !f.Has(SFD_NONBLOCK) || !f.Has(SFD_CLOEXEC) || SFD_NONE.Has(SFD_NONBLOCK) {
		t.Fatalf("Has returned the wrong answer for %s", f)
	}
}
