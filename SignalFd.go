//go:build linux

package sigfd

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

// Passed as the fd argument to Signalfd to request a new descriptor.
const CREATE_NEW_FD = -1

var ERR_CLOSED = errors.New("SignalFd is closed")

// A read returned fewer than SIGINFO_SIZE bytes.  The record stream can no longer be trusted.
var ERR_SHORT_READ = errors.New("Partial read on signalfd")

// Returned by ReadSignal when the kernel handed back a partial record.
// This is unrecoverable, every later read on the same SignalFd returns the same error.
type ShortReadError struct {
	Fd   int
	Read int
}

func (e *ShortReadError) Error() string {
	return fmt.Sprintf("%s: %d, read %d of %d bytes", ERR_SHORT_READ.Error(), e.Fd, e.Read, SIGINFO_SIZE)
}

func (e *ShortReadError) Is(target error) bool {
	return target == ERR_SHORT_READ
}

// Thin wrapper around signalfd4(2).  Pass CREATE_NEW_FD as fd to create a new descriptor,
// or an existing signalfd to replace its mask.  A nil mask is the empty set.
func Signalfd(fd int, mask *SigSet, flags SfdFlags) (int, error) {
	if mask == nil {
		mask = &SigSet{}
	}
	nfd, err := unix.Signalfd(fd, mask.Sigset(), int(flags))
	if err != nil {
		return -1, os.NewSyscallError("signalfd", err)
	}
	return nfd, nil
}

// SignalFd owns exactly one signalfd descriptor.
//
// Reads are not locked internally, each ReadSignal call reads one whole record so concurrent
// readers each get complete records, but which reader gets which record is up to the kernel.
// Close must not race with other calls.
//
// A blocked ReadSignal can not be cancelled.  Create the descriptor with SFD_NONBLOCK and
// wait for readiness with epoll (see Watcher) when the read has to be interruptible.
type SignalFd struct {
	fd      int
	flags   SfdFlags
	broken  error
	cleanup runtime.Cleanup
}

// Creates a blocking signalfd for mask.
func New(mask *SigSet) (*SignalFd, error) {
	return NewWithFlags(mask, SFD_NONE)
}

// Creates a signalfd for mask using flags.  An empty or nil mask is legal, the descriptor
// just never becomes readable until SetMask is called.
func NewWithFlags(mask *SigSet, flags SfdFlags) (*SignalFd, error) {
	fd, err := Signalfd(CREATE_NEW_FD, mask, flags)
	if err != nil {
		return nil, fmt.Errorf("Failed to create signalfd for %v, error was: %w", mask, err)
	}
	s := &SignalFd{
		fd:    fd,
		flags: flags,
	}
	// the descriptor is released even if the caller forgets Close
	s.cleanup = runtime.AddCleanup(s, closeFd, fd)
	return s, nil
}

// Returns the descriptor, or -1 once closed.
func (s *SignalFd) Fd() int {
	return s.fd
}

// Returns the flags used at creation.
func (s *SignalFd) Flags() SfdFlags {
	return s.flags
}

// Replaces the set of signals delivered by this descriptor.  The descriptor stays the same.
func (s *SignalFd) SetMask(mask *SigSet) error {
	if s.fd == -1 {
		return ERR_CLOSED
	}
	_, err := Signalfd(s.fd, mask, SFD_NONE)
	runtime.KeepAlive(s)
	if err != nil {
		return fmt.Errorf("Failed to set mask %v on signalfd: %d, error was: %w", mask, s.fd, err)
	}
	return nil
}

// Reads a single record.
//
// Returns a nil *Siginfo and a nil error when the descriptor is non blocking and no signal is pending.
// Without SFD_NONBLOCK the call blocks until a signal arrives.  A partial read returns a *ShortReadError
// and poisons the SignalFd until it is closed, after which ERR_CLOSED is returned.
func (s *SignalFd) ReadSignal() (*Siginfo, error) {
	if s.fd == -1 {
		return nil, ERR_CLOSED
	}
	if s.broken != nil {
		return nil, s.broken
	}
	var buf [SIGINFO_SIZE]byte
	for {
		n, err := unix.Read(s.fd, buf[:])
		runtime.KeepAlive(s)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return nil, nil
		case err != nil:
			return nil, fmt.Errorf("Failed to read signalfd: %d, error was: %w", s.fd, os.NewSyscallError("read", err))
		case n != SIGINFO_SIZE:
			s.broken = &ShortReadError{Fd: s.fd, Read: n}
			return nil, s.broken
		}
		return DecodeSiginfo(buf[:])
	}
}

// Yields records until nothing is pending or a read fails.  Errors end the sequence silently,
// use ReadSignal when they matter.  Ranging again later starts a new pass.
//
//	for info := range sfd.Signals() {
//		fmt.Println(info)
//	}
func (s *SignalFd) Signals() iter.Seq[*Siginfo] {
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

// Reads records until nothing is pending, limit records were read, or a read fails.  A limit of 0 means
// no limit.  The records read before a failure are returned along with the error.
// Only use this on a SFD_NONBLOCK descriptor, otherwise the final read blocks.
func (s *SignalFd) Drain(limit int) (list []*Siginfo, err error) {
	for limit == 0 || len(list) < limit {
		var info *Siginfo
		if info, err = s.ReadSignal(); err != nil || info == nil {
			return
		}
		list = append(list, info)
	}
	return
}

// Closes the descriptor.  Close errors are not returned, the handle is gone either way.
// Safe to call more than once.
func (s *SignalFd) Close() error {
	if s.fd == -1 {
		return nil
	}
	fd := s.fd
	s.fd = -1
	s.cleanup.Stop()
	closeFd(fd)
	return nil
}

func closeFd(fd int) {
	if err := unix.Close(fd); err != nil {
		slog.Debug("Failed to close signalfd", "fd", fd, "error", err)
	}
}
