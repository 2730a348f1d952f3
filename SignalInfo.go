//go:build linux

package sigfd

import (
	"github.com/akalinux/sigfd/internal/sec"
	"golang.org/x/sys/unix"
)

// The generic signal information shape shared with the rest of the signal handling code.
type SignalInfo struct {
	Signo  int32
	Errno  int32
	Code   int32
	Pid    int
	Uid    int
	Status int32
}

// Projects the record onto SignalInfo.  Fields without a SignalInfo counterpart are dropped.
func (s *Siginfo) SignalInfo() SignalInfo {
	return SignalInfo{
		Signo:  int32(s.Signo),
		Errno:  s.Errno,
		Code:   s.Code,
		Pid:    int(s.Pid),
		Uid:    int(s.Uid),
		Status: s.Status,
	}
}

func (s SignalInfo) Signal() unix.Signal {
	return unix.Signal(s.Signo)
}

// Returns the shell style exit code of a terminated child, or -1 if this is not a SIGCHLD exit record.
func (s SignalInfo) ExitCode() int {
	if s.Signal() != unix.SIGCHLD {
		return -1
	}
	return sec.GetExitCode(s.Code, s.Status)
}
