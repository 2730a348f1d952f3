//go:build linux

package sigfd

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Highest signal number the kernel accepts in a signalfd mask.
const MAX_SIGNAL = unix.Signal(64)

// A set of signal numbers handed to the kernel when a signalfd is created or updated.
// The zero value is the empty set.  The set is only borrowed by SignalFd calls, it is never retained.
type SigSet struct {
	set unix.Sigset_t
}

// Bits held in each word of unix.Sigset_t, 64 on most targets.
const sigsetWordBits = uint(unsafe.Sizeof(unix.Sigset_t{}.Val[0]) * 8)

// Creates a SigSet containing sigs.  Invalid signal numbers are skipped.
func NewSigSet(sigs ...unix.Signal) *SigSet {
	s := &SigSet{}
	for _, sig := range sigs {
		s.Add(sig)
	}
	return s
}

func validSignal(sig unix.Signal) bool {
	return sig > 0 && sig <= MAX_SIGNAL
}

// Signal numbers are 1-indexed, bit 0 corresponds to signal 1.
func position(sig unix.Signal) (word, bit uint) {
	n := uint(sig) - 1
	return n / sigsetWordBits, n % sigsetWordBits
}

// Adds sig to the set, returns false if sig is not a valid signal number.
func (s *SigSet) Add(sig unix.Signal) bool {
	if !validSignal(sig) {
		return false
	}
	word, bit := position(sig)
	s.set.Val[word] |= 1 << bit
	return true
}

// Removes sig from the set, returns false if sig is not a valid signal number.
func (s *SigSet) Del(sig unix.Signal) bool {
	if !validSignal(sig) {
		return false
	}
	word, bit := position(sig)
	s.set.Val[word] &^= 1 << bit
	return true
}

func (s *SigSet) Contains(sig unix.Signal) bool {
	if !validSignal(sig) {
		return false
	}
	word, bit := position(sig)
	return s.set.Val[word]&(1<<bit) != 0
}

// Returns true if no signal is in the set.
func (s *SigSet) Empty() bool {
	for _, w := range s.set.Val {
		if w != 0 {
			return false
		}
	}
	return true
}

// Returns the signals in ascending order.
func (s *SigSet) Signals() []unix.Signal {
	res := make([]unix.Signal, 0)
	for sig := unix.Signal(1); sig <= MAX_SIGNAL; sig++ {
		if s.Contains(sig) {
			res = append(res, sig)
		}
	}
	return res
}

// Returns a copy that can be changed without touching s.
func (s *SigSet) Clone() *SigSet {
	c := *s
	return &c
}

// Returns the underlying kernel mask.
func (s *SigSet) Sigset() *unix.Sigset_t {
	return &s.set
}

func (s *SigSet) String() string {
	return fmt.Sprintf("%v", s.Signals())
}

// Blocks the set on the calling OS thread and returns the previous thread mask.
// Signals are only queued for a signalfd while they are blocked, pair this with runtime.LockOSThread.
func (s *SigSet) BlockThread() (old *SigSet, err error) {
	old = &SigSet{}
	if err = unix.PthreadSigmask(unix.SIG_BLOCK, &s.set, &old.set); err != nil {
		return nil, fmt.Errorf("Failed to block signals %v, error was: %w", s, err)
	}
	return
}

// Unblocks the set on the calling OS thread.
func (s *SigSet) UnblockThread() error {
	if err := unix.PthreadSigmask(unix.SIG_UNBLOCK, &s.set, nil); err != nil {
		return fmt.Errorf("Failed to unblock signals %v, error was: %w", s, err)
	}
	return nil
}

// Replaces the calling thread mask with s.
func (s *SigSet) SetThreadMask() error {
	if err := unix.PthreadSigmask(unix.SIG_SETMASK, &s.set, nil); err != nil {
		return fmt.Errorf("Failed to set thread mask %v, error was: %w", s, err)
	}
	return nil
}
