// Get Shell Exit code
package sec

// si_code values for SIGCHLD, from <asm-generic/siginfo.h>.
const (
	CLD_EXITED    = 1
	CLD_KILLED    = 2
	CLD_DUMPED    = 3
	CLD_TRAPPED   = 4
	CLD_STOPPED   = 5
	CLD_CONTINUED = 6
)

// Resolves the shell style exit code for a SIGCHLD code/status pair.
// Children killed by a signal map to 128 + the signal number (e.g. 137 for SIGKILL).
// Returns -1 when the code does not describe a terminated child.
func GetExitCode(code, status int32) int {
	switch code {
	case CLD_EXITED:
		// status is the actual exit(n) value
		return int(status)
	case CLD_KILLED, CLD_DUMPED:
		return 128 + int(status)
	default:
		return -1
	}
}
