//go:build linux

package sigfd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aptible/supercronic/cronexpr"
	"golang.org/x/sys/unix"
)

// Creates a timer that runs once executing the cb function provided. The timeout value is in milliseconds. You can terminate the timeout,
// by calling the *TimerJob.Release() method.
func (s *Watcher) SetTimeout(cb func(event *TimerEvent), timeout int64) (*TimerJob, error) {
	job := &TimerJob{
		onEvent: cb,
	}
	return s.addTimer(job, time.Now().UnixMilli()+timeout)
}

// Creates a timer that will continue to run at regular intervals until terminated.  The interval value is in milliseconds.  To terminate
// the timer call either the *TimerJob.Release() method or the *TimerEvent.Release() method.
func (s *Watcher) SetInterval(cb func(event *TimerEvent), interval int64) (*TimerJob, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("Interval must be greater than 0, got: %d", interval)
	}
	job := &TimerJob{
		onEvent:  cb,
		interval: interval,
	}
	return s.addTimer(job, time.Now().UnixMilli()+interval)
}

// Spawns a job that runs the given callback at the set cron interval.  This callback runs in the Watcher event loop.
func (s *Watcher) SetCron(cb func(event *TimerEvent), cron string) (*TimerJob, error) {
	expr, err := cronexpr.Parse(cron)
	if err != nil {
		return nil, err
	}
	next := expr.Next(time.Now())
	if next.IsZero() {
		return nil, fmt.Errorf("Cron expression: %q never fires", cron)
	}
	job := &TimerJob{
		onEvent: cb,
		expr:    expr,
	}
	return s.addTimer(job, next.UnixMilli())
}

// Resolves a signal from its name, with or without the SIG prefix, or its number.
//
//	ParseSignal("USR1")    // unix.SIGUSR1
//	ParseSignal("SIGHUP")  // unix.SIGHUP
//	ParseSignal("15")      // unix.SIGTERM
func ParseSignal(name string) (unix.Signal, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if n, err := strconv.Atoi(name); err == nil {
		sig := unix.Signal(n)
		if !validSignal(sig) {
			return 0, fmt.Errorf("Invalid signal number: %d", n)
		}
		return sig, nil
	}
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	if sig := unix.SignalNum(name); sig != 0 {
		return sig, nil
	}
	return 0, fmt.Errorf("Unknown signal: %s", name)
}

// Sends sig to the calling OS thread.  Use with runtime.LockOSThread, a blocked thread directed signal stays
// pending for that thread until a signalfd read on the same thread picks it up.
func RaiseThread(sig unix.Signal) error {
	if err := unix.Tgkill(unix.Getpid(), unix.Gettid(), sig); err != nil {
		return fmt.Errorf("Failed to raise signal: %d, error was: %w", sig, err)
	}
	return nil
}
