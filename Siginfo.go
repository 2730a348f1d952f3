//go:build linux

package sigfd

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Layout of struct signalfd_siginfo, see signalfd(2).
const (
	// Bytes the kernel hands back for every signal read from a signalfd.
	SIGINFO_SIZE = 128

	// Trailing bytes of the kernel record that Siginfo does not map.
	SIGINFO_PADDING = 48
)

// Byte offset of each field inside the kernel record.
const (
	OFFSET_SIGNO   = 0
	OFFSET_ERRNO   = 4
	OFFSET_CODE    = 8
	OFFSET_PID     = 12
	OFFSET_UID     = 16
	OFFSET_FD      = 20
	OFFSET_TID     = 24
	OFFSET_BAND    = 28
	OFFSET_OVERRUN = 32
	OFFSET_TRAPNO  = 36
	OFFSET_STATUS  = 40
	OFFSET_INT     = 44
	OFFSET_PTR     = 48
	OFFSET_UTIME   = 56
	OFFSET_STIME   = 64
	OFFSET_ADDR    = 72
)

var ERR_BAD_SIZE = errors.New("Siginfo buffer is not SIGINFO_SIZE bytes")

// Siginfo is the decoded form of a record read from a signalfd.
type Siginfo struct {
	Signo   uint32 // signal number
	Errno   int32  // error number, generally unused
	Code    int32  // signal code
	Pid     uint32 // sender pid
	Uid     uint32 // sender real uid
	Fd      int32  // file descriptor, SIGIO
	Tid     uint32 // kernel timer id, POSIX timers
	Band    uint32 // band event, SIGIO
	Overrun uint32 // POSIX timer overrun count
	Trapno  uint32 // trap number that caused the signal
	Status  int32  // exit status or signal, SIGCHLD
	Int     int32  // integer sent by sigqueue(3)
	Ptr     uint64 // pointer sent by sigqueue(3)
	Utime   uint64 // user CPU time consumed, SIGCHLD
	Stime   uint64 // system CPU time consumed, SIGCHLD
	Addr    uint64 // address that generated the signal
}

// Fails to compile if Siginfo and SIGINFO_PADDING stop adding up to SIGINFO_SIZE.
var (
	_ [SIGINFO_SIZE - SIGINFO_PADDING - unsafe.Sizeof(Siginfo{})]struct{}
	_ [unsafe.Sizeof(Siginfo{}) + SIGINFO_PADDING - SIGINFO_SIZE]struct{}
	_ [unsafe.Sizeof(unix.SignalfdSiginfo{}) - SIGINFO_SIZE]struct{}
	_ [SIGINFO_SIZE - unsafe.Sizeof(unix.SignalfdSiginfo{})]struct{}
)

// Decodes a kernel record.  buf must be exactly SIGINFO_SIZE bytes.
func DecodeSiginfo(buf []byte) (*Siginfo, error) {
	info := &Siginfo{}
	if err := info.UnmarshalBinary(buf); err != nil {
		return nil, err
	}
	return info, nil
}

// Implements encoding.BinaryUnmarshaler using the host byte order.
func (s *Siginfo) UnmarshalBinary(buf []byte) error {
	if len(buf) != SIGINFO_SIZE {
		return fmt.Errorf("%w, got: %d", ERR_BAD_SIZE, len(buf))
	}
	ne := binary.NativeEndian
	s.Signo = ne.Uint32(buf[OFFSET_SIGNO:])
	s.Errno = int32(ne.Uint32(buf[OFFSET_ERRNO:]))
	s.Code = int32(ne.Uint32(buf[OFFSET_CODE:]))
	s.Pid = ne.Uint32(buf[OFFSET_PID:])
	s.Uid = ne.Uint32(buf[OFFSET_UID:])
	s.Fd = int32(ne.Uint32(buf[OFFSET_FD:]))
	s.Tid = ne.Uint32(buf[OFFSET_TID:])
	s.Band = ne.Uint32(buf[OFFSET_BAND:])
	s.Overrun = ne.Uint32(buf[OFFSET_OVERRUN:])
	s.Trapno = ne.Uint32(buf[OFFSET_TRAPNO:])
	s.Status = int32(ne.Uint32(buf[OFFSET_STATUS:]))
	s.Int = int32(ne.Uint32(buf[OFFSET_INT:]))
	s.Ptr = ne.Uint64(buf[OFFSET_PTR:])
	s.Utime = ne.Uint64(buf[OFFSET_UTIME:])
	s.Stime = ne.Uint64(buf[OFFSET_STIME:])
	s.Addr = ne.Uint64(buf[OFFSET_ADDR:])
	return nil
}

// Appends the SIGINFO_SIZE byte kernel form of s to b, the padding is zero filled.
func (s *Siginfo) AppendBinary(b []byte) ([]byte, error) {
	ne := binary.NativeEndian
	b = ne.AppendUint32(b, s.Signo)
	b = ne.AppendUint32(b, uint32(s.Errno))
	b = ne.AppendUint32(b, uint32(s.Code))
	b = ne.AppendUint32(b, s.Pid)
	b = ne.AppendUint32(b, s.Uid)
	b = ne.AppendUint32(b, uint32(s.Fd))
	b = ne.AppendUint32(b, s.Tid)
	b = ne.AppendUint32(b, s.Band)
	b = ne.AppendUint32(b, s.Overrun)
	b = ne.AppendUint32(b, s.Trapno)
	b = ne.AppendUint32(b, uint32(s.Status))
	b = ne.AppendUint32(b, uint32(s.Int))
	b = ne.AppendUint64(b, s.Ptr)
	b = ne.AppendUint64(b, s.Utime)
	b = ne.AppendUint64(b, s.Stime)
	b = ne.AppendUint64(b, s.Addr)
	return append(b, make([]byte, SIGINFO_PADDING)...), nil
}

// Implements encoding.BinaryMarshaler.
func (s *Siginfo) MarshalBinary() ([]byte, error) {
	return s.AppendBinary(make([]byte, 0, SIGINFO_SIZE))
}

func (s *Siginfo) Signal() unix.Signal {
	return unix.Signal(s.Signo)
}

func (s *Siginfo) String() string {
	return fmt.Sprintf("signal: %d (%s), code: %d, pid: %d, uid: %d", s.Signo, unix.SignalName(s.Signal()), s.Code, s.Pid, s.Uid)
}
