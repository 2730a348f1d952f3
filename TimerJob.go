//go:build linux

package sigfd

import (
	"time"

	"github.com/aptible/supercronic/cronexpr"
)

// A callback scheduled on a Watcher by SetTimeout, SetInterval or SetCron.
type TimerJob struct {
	id       int64
	watcher  *Watcher
	nextTs   int64
	interval int64
	expr     *cronexpr.Expression
	onEvent  func(*TimerEvent)
	released bool
}

// Returns the next time the job runs as a unix timestamp in milliseconds, or 0 once it is done.
func (s *TimerJob) NextTs() int64 {
	s.watcher.locker.RLock()
	defer s.watcher.locker.RUnlock()
	return s.nextTs
}

// Cancels the job.  Safe to call more than once, and from inside the callback.
func (s *TimerJob) Release() {
	s.watcher.removeTimer(s)
}

// Resolves the next deadline after the job ran at now.  Values less than 1 mean the job is done.
func (s *TimerJob) resolveNext(now time.Time, event *TimerEvent) int64 {
	switch {
	case event.released:
		return 0
	case event.timeout > 0:
		return now.UnixMilli() + event.timeout
	case s.expr != nil:
		next := s.expr.Next(now)
		if next.IsZero() {
			return 0
		}
		return next.UnixMilli()
	case s.interval > 0:
		return now.UnixMilli() + s.interval
	}
	return 0
}

// Handed to timer callbacks.
type TimerEvent struct {
	job      *TimerJob
	now      time.Time
	timeout  int64
	released bool
}

// Returns the time the current event loop pass started.
func (s *TimerEvent) GetNow() time.Time {
	return s.now
}

// Runs the job once more, timeout milliseconds from now.  Overrides the interval or cron schedule for one run.
func (s *TimerEvent) SetTimeout(timeout int64) {
	s.timeout = timeout
	s.released = false
}

// Stops the job once this callback returns.
func (s *TimerEvent) Release() {
	s.released = true
	s.timeout = 0
}

func (s *TimerEvent) Job() *TimerJob {
	return s.job
}
