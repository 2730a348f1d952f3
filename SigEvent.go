//go:build linux

package sigfd

import (
	"time"

	"golang.org/x/sys/unix"
)

// Handed to OnSignal callbacks, one per record read from the Watcher's signalfd.
type SigEvent struct {
	Info    *Siginfo
	Signal  unix.Signal
	now     time.Time
	handler *sigHandler
	watcher *Watcher
}

// Returns the generic form of the record.
func (s *SigEvent) SignalInfo() SignalInfo {
	return s.Info.SignalInfo()
}

// Returns the time the current event loop pass started.
func (s *SigEvent) GetNow() time.Time {
	return s.now
}

// Stops running this callback for later signals.  The signal stays in the descriptor mask,
// use Watcher.Ignore to drop it from the mask.
func (s *SigEvent) Release() {
	s.watcher.removeHandler(s.Signal, s.handler)
}

// Returns the Watcher that dispatched this event.
func (s *SigEvent) Watcher() *Watcher {
	return s.watcher
}

type sigHandler struct {
	cb func(*SigEvent)
}
