//go:build linux

package sigfd

import (
	"runtime"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// Locks the test goroutine to its thread and blocks sigs there.  The returned func drops anything
// still pending, restores the old thread mask and unlocks the thread, always defer it.
func lockAndBlock(t *testing.T, sigs ...unix.Signal) (mask *SigSet, restore func()) {
	t.Helper()
	runtime.LockOSThread()
	mask = NewSigSet(sigs...)
	old, err := mask.BlockThread()
	if err != nil {
		runtime.UnlockOSThread()
		t.Fatalf("Failed to block %v: %v", mask, err)
	}
	restore = func() {
		if sfd, err := NewWithFlags(mask, SFD_NONBLOCK); err == nil {
			sfd.Drain(0)
			sfd.Close()
		}
		old.SetThreadMask()
		runtime.UnlockOSThread()
	}
	return
}

func createNonBlocking(t *testing.T, mask *SigSet) *SignalFd {
	t.Helper()
	sfd, err := NewWithFlags(mask, SFD_NONBLOCK|SFD_CLOEXEC)
	if err != nil {
		// if this breaks.. ya no point in testing anyting else!
		panic(err)
	}
	return sfd
}

func createWatcher(t *testing.T, mask *SigSet) *Watcher {
	t.Helper()
	w, err := NewWatcher(mask)
	if err != nil {
		panic(err)
	}
	return w
}

func raise(t *testing.T, sig unix.Signal) {
	t.Helper()
	if err := RaiseThread(sig); err != nil {
		t.Fatalf("Failed to raise %d: %v", sig, err)
	}
}

// Runs the watcher on its own goroutine until it stops, fails the test if that takes longer than timeout.
func startWatcher(t *testing.T, w *Watcher, timeout time.Duration) {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		done <- w.Start()
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Event loop failed: %v", err)
		}
	case <-time.After(timeout):
		w.Stop()
		t.Fatal("Something went worng, the event loop did not stop!")
	}
}
