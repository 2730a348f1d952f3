//go:build linux

package sigfd

import (
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Options used when a signalfd is created.  Any combination is legal, the zero
// value creates a blocking descriptor that is inherited across exec.
type SfdFlags int

const (
	// Reads return right away when no signal is pending.
	SFD_NONBLOCK = SfdFlags(unix.SFD_NONBLOCK)

	// The descriptor is closed in the child on exec.
	SFD_CLOEXEC = SfdFlags(unix.SFD_CLOEXEC)

	// Blocking, inherited across exec.
	SFD_NONE = SfdFlags(0)
)

// Returns true if every bit in flag is set.
func (s SfdFlags) Has(flag SfdFlags) bool {
	return s&flag == flag
}

func (s SfdFlags) String() string {
	if s == SFD_NONE {
		return "SFD_NONE"
	}
	names := make([]string, 0, 3)
	if s.Has(SFD_NONBLOCK) {
		names = append(names, "SFD_NONBLOCK")
	}
	if s.Has(SFD_CLOEXEC) {
		names = append(names, "SFD_CLOEXEC")
	}
	if rest := s &^ (SFD_NONBLOCK | SFD_CLOEXEC); rest != 0 {
		names = append(names, "0x"+strconv.FormatInt(int64(rest), 16))
	}
	return strings.Join(names, "|")
}
