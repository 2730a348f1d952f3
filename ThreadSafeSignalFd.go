//go:build linux

package sigfd

import (
	"iter"
	"sync"
)

// Serializes every call on a SignalFd, for handles shared between goroutines that may also
// Close or SetMask.  Records still go to whichever caller reads first.
type ThreadSafeSignalFd struct {
	sync.Mutex
	*SignalFd
}

func NewThreadSafeSignalFd(s *SignalFd) *ThreadSafeSignalFd {
	return &ThreadSafeSignalFd{SignalFd: s}
}

func (s *ThreadSafeSignalFd) Fd() int {
	s.Lock()
	defer s.Unlock()
	return s.SignalFd.Fd()
}

func (s *ThreadSafeSignalFd) SetMask(mask *SigSet) error {
	s.Lock()
	defer s.Unlock()
	return s.SignalFd.SetMask(mask)
}

// Holds the lock for the whole read, a blocking descriptor blocks every other caller too.
func (s *ThreadSafeSignalFd) ReadSignal() (*Siginfo, error) {
	s.Lock()
	defer s.Unlock()
	return s.SignalFd.ReadSignal()
}

func (s *ThreadSafeSignalFd) Signals() iter.Seq[*Siginfo] {
	return func(yield func(*Siginfo) bool) {
		for {
			info, err := s.ReadSignal()
			if err != nil || info == nil {
				return
			}
			if !yield(info) {
				return
			}
		}
	}
}

func (s *ThreadSafeSignalFd) Drain(limit int) ([]*Siginfo, error) {
	s.Lock()
	defer s.Unlock()
	return s.SignalFd.Drain(limit)
}

func (s *ThreadSafeSignalFd) Close() error {
	s.Lock()
	defer s.Unlock()
	return s.SignalFd.Close()
}
